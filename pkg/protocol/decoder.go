// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import "fmt"

// Decoder states (internal)
const (
	stateCollect = iota
	stateDiscard
)

// Decoder implements the streaming frame decoder state machine.
// Bytes are accumulated until a delimiter; a corrupted frame is dropped and
// decoding restarts after the next delimiter.
type Decoder struct {
	state     int
	buffer    []byte
	rawBuffer []byte // Accumulate raw bytes including delimiter
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateCollect,
		buffer:    make([]byte, 0, MaxEncodedFrameSize),
		rawBuffer: make([]byte, 0, MaxEncodedFrameSize),
	}
}

// Reset discards any partial frame
func (d *Decoder) Reset() {
	d.state = stateCollect
	d.buffer = d.buffer[:0]
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the raw bytes accumulated since the last frame boundary
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// Pending reports whether a partial frame is buffered
func (d *Decoder) Pending() bool {
	return len(d.buffer) > 0 || d.state == stateDiscard
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error if the completed frame is corrupted.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	if len(d.rawBuffer) == 0 || d.rawBuffer[len(d.rawBuffer)-1] == FrameDelimiter {
		d.rawBuffer = d.rawBuffer[:0]
	}
	if len(d.rawBuffer) < cap(d.rawBuffer) {
		d.rawBuffer = append(d.rawBuffer, b)
	}

	if b == FrameDelimiter {
		switch d.state {
		case stateDiscard:
			d.state = stateCollect
			d.buffer = d.buffer[:0]
			return nil, nil
		default:
			if len(d.buffer) == 0 {
				// Back-to-back delimiters carry no frame
				return nil, nil
			}
			frame, err := DecodeFrame(d.buffer)
			d.buffer = d.buffer[:0]
			return frame, err
		}
	}

	switch d.state {
	case stateCollect:
		if len(d.buffer) >= MaxEncodedFrameSize-1 {
			d.state = stateDiscard
			d.buffer = d.buffer[:0]
			return nil, &FramingError{
				Reason: ReasonOverflow,
				Detail: fmt.Sprintf("no delimiter within %d bytes", MaxEncodedFrameSize),
			}
		}
		d.buffer = append(d.buffer, b)
	case stateDiscard:
		// Waiting for delimiter
	}
	return nil, nil
}

// Decode feeds a chunk of bytes and returns every completed frame along with
// the errors of frames that were dropped
func (d *Decoder) Decode(data []byte) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error
	for _, b := range data {
		frame, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames, errs
}
