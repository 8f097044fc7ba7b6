// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

// CobsEncode applies Consistent Overhead Byte Stuffing.
// The result contains no zero bytes and does not include the delimiter.
func CobsEncode(data []byte) []byte {
	result := make([]byte, 1, len(data)+len(data)/254+2)
	codeIdx := 0
	code := byte(1)

	for _, b := range data {
		if b == 0 {
			result[codeIdx] = code
			codeIdx = len(result)
			result = append(result, 0)
			code = 1
			continue
		}
		result = append(result, b)
		code++
		if code == 0xFF {
			result[codeIdx] = code
			codeIdx = len(result)
			result = append(result, 0)
			code = 1
		}
	}
	result[codeIdx] = code

	return result
}

// CobsDecode reverses CobsEncode. The input must not contain the delimiter.
func CobsDecode(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))

	for i := 0; i < len(data); {
		code := data[i]
		if code == 0 {
			return nil, &FramingError{Reason: ReasonStuffing, Detail: "zero byte inside frame"}
		}
		i++
		end := i + int(code) - 1
		if end > len(data) {
			return nil, &FramingError{Reason: ReasonStuffing, Detail: "block code overruns frame"}
		}
		for _, b := range data[i:end] {
			if b == 0 {
				return nil, &FramingError{Reason: ReasonStuffing, Detail: "zero byte inside block"}
			}
		}
		result = append(result, data[i:end]...)
		i = end
		if code != 0xFF && i < len(data) {
			result = append(result, 0)
		}
	}

	return result, nil
}
