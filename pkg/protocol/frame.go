// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"bytes"
	"fmt"
	"time"
)

// Frame represents a decoded binary frame:
// [TYPE] [LEN] [PAYLOAD...] [CRC8], COBS-stuffed and terminated by 0x00
type Frame struct {
	msgType   RequestType
	payload   []byte
	checksum  uint8
	timestamp time.Time
}

// NewFrame creates a frame with the given type and payload.
// The checksum is computed when the frame is encoded.
func NewFrame(msgType RequestType, payload []byte) *Frame {
	return &Frame{
		msgType:   msgType,
		payload:   payload,
		timestamp: time.Now(),
	}
}

// Type returns the frame's request type
func (f *Frame) Type() RequestType {
	return f.msgType
}

// Length returns the payload length
func (f *Frame) Length() uint8 {
	return uint8(len(f.payload))
}

// Payload returns the raw payload bytes (nil for empty frames)
func (f *Frame) Payload() []byte {
	return f.payload
}

// Checksum returns the checksum carried by a decoded frame
func (f *Frame) Checksum() uint8 {
	return f.checksum
}

// Timestamp returns the time the frame was decoded or created
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// Encode encodes the frame to wire format
func (f *Frame) Encode() ([]byte, error) {
	return EncodeFrame(f.msgType, f.payload)
}

// Unmarshal decodes the payload into msg using codec.
// Returns false without touching msg when the frame has no payload.
func (f *Frame) Unmarshal(codec MessageCodec, msg Message) (bool, error) {
	if len(f.payload) == 0 {
		return false, nil
	}
	if err := codec.Unmarshal(f.payload, msg); err != nil {
		return false, &FramingError{Reason: ReasonPayload, Detail: codec.Name(), Err: err}
	}
	return true, nil
}

// EncodeFrame creates a complete wire-formatted frame, delimiter included.
func EncodeFrame(msgType RequestType, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	data := make([]byte, 0, len(payload)+frameOverhead)
	data = append(data, byte(msgType), byte(len(payload)))
	data = append(data, payload...)
	data = append(data, CalculateCRC(data))

	encoded := CobsEncode(data)
	return append(encoded, FrameDelimiter), nil
}

// EncodeFrameMessage marshals msg with codec and frames it.
// A nil msg produces a frame with an empty payload.
func EncodeFrameMessage(msgType RequestType, codec MessageCodec, msg Message) ([]byte, error) {
	var payload []byte
	if msg != nil {
		var err error
		payload, err = codec.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", codec.Name(), err)
		}
	}
	return EncodeFrame(msgType, payload)
}

// DecodeFrame parses one wire-formatted frame. Trailing delimiters are ignored.
// Any corruption is reported as a *FramingError.
func DecodeFrame(raw []byte) (*Frame, error) {
	raw = bytes.TrimRight(raw, "\x00")
	if len(raw) == 0 {
		return nil, &FramingError{Reason: ReasonShort, Detail: "empty frame"}
	}

	data, err := CobsDecode(raw)
	if err != nil {
		return nil, err
	}

	if len(data) < frameOverhead {
		return nil, &FramingError{Reason: ReasonShort, Detail: fmt.Sprintf("%d bytes", len(data))}
	}

	body, received := data[:len(data)-1], data[len(data)-1]
	if calculated := CalculateCRC(body); calculated != received {
		return nil, &FramingError{
			Reason: ReasonChecksum,
			Detail: fmt.Sprintf("expected 0x%02X, got 0x%02X", calculated, received),
		}
	}

	length := int(body[1])
	if len(body) != 2+length {
		return nil, &FramingError{
			Reason: ReasonLength,
			Detail: fmt.Sprintf("declared %d, carried %d", length, len(body)-2),
		}
	}

	frame := &Frame{
		msgType:   RequestType(body[0]),
		checksum:  received,
		timestamp: time.Now(),
	}
	if length > 0 {
		frame.payload = append([]byte(nil), body[2:2+length]...)
	}
	return frame, nil
}

// Decode parses raw and hands a non-empty payload to parse.
// It returns the frame type; parse is not called for empty payloads.
func Decode(raw []byte, parse func(payload []byte) error) (RequestType, error) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		return 0, err
	}
	if len(frame.payload) > 0 && parse != nil {
		if err := parse(frame.payload); err != nil {
			return frame.msgType, &FramingError{Reason: ReasonPayload, Err: err}
		}
	}
	return frame.msgType, nil
}
