// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable string.
// The payload is decoded with codec when possible, hex-dumped otherwise.
func FormatFrame(f *Frame, codec MessageCodec) string {
	timestamp := f.timestamp.Format("15:04:05.000")

	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d crc=0x%02X\n",
		timestamp, f.msgType, uint8(f.msgType), f.Length(), f.checksum)

	if len(f.payload) == 0 {
		return result + "  (no payload)\n"
	}

	if codec != nil {
		var resp ResponseMessage
		if ok, err := f.Unmarshal(codec, &resp); ok && err == nil {
			return result + FormatResponse(&resp)
		}
	}

	return result + FormatHex(f.payload)
}

// FormatResponse formats a structured response message
func FormatResponse(m *ResponseMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  Status: %s\n", m.ResponseStatus())
	if m.Message != "" {
		fmt.Fprintf(&b, "  Message: %s\n", m.Message)
	}
	if m.Config != nil {
		fmt.Fprintf(&b, "  Config: %s\n", m.Config.Group())
	}
	if m.State != nil {
		fmt.Fprintf(&b, "  State: %s\n", m.State.Group())
	}
	if m.Target != nil {
		fmt.Fprintf(&b, "  Target: %s\n", m.Target.Group())
	}
	return b.String()
}

// FormatHex dumps bytes 16 per line
func FormatHex(data []byte) string {
	result := "  Payload: "
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			result += "\n           "
		}
		result += fmt.Sprintf("%02X ", b)
	}
	return result + "\n"
}

// String formats the present fields of c
func (c Config) String() string { return formatGroup(&c, configFields) }

// String formats the present fields of s
func (s State) String() string { return formatGroup(&s, stateFields) }

// String formats the present fields of t
func (t Target) String() string { return formatGroup(&t, targetFields) }

func formatGroup[G any](g *G, fields []field[G]) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if !f.present(g) {
			continue
		}
		value := f.format(g)
		if f.kind == KindErrorCode {
			value = (**f.code(g)).String()
		}
		parts = append(parts, f.name+"="+value)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
