// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedGroup indicates a line-format variable group could not be parsed.
	ErrMalformedGroup = errors.New("malformed variable group")
	// ErrPayloadTooLarge indicates a payload does not fit the length byte.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// FramingReason identifies why a frame was rejected
type FramingReason int

const (
	ReasonShort FramingReason = iota
	ReasonChecksum
	ReasonLength
	ReasonStuffing
	ReasonOverflow
	ReasonPayload
)

// String returns a short name for the reason
func (r FramingReason) String() string {
	switch r {
	case ReasonShort:
		return "short frame"
	case ReasonChecksum:
		return "checksum mismatch"
	case ReasonLength:
		return "length mismatch"
	case ReasonStuffing:
		return "malformed stuffing"
	case ReasonOverflow:
		return "frame overflow"
	case ReasonPayload:
		return "payload decode"
	default:
		return "unknown"
	}
}

// FramingError reports a corrupted or truncated frame.
// The frame must be dropped; recovery happens at the next delimiter.
type FramingError struct {
	Reason FramingReason
	Detail string
	Err    error
}

// Error implements the error interface
func (e *FramingError) Error() string {
	msg := "framing error: " + e.Reason.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error, if any
func (e *FramingError) Unwrap() error {
	return e.Err
}

// IsFramingError reports whether err is, or wraps, a FramingError
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

// malformed builds an ErrMalformedGroup error with context
func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedGroup, fmt.Sprintf(format, args...))
}
