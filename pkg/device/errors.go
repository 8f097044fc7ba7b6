// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/cartlink/pkg/protocol"
	"github.com/Thermoquad/cartlink/pkg/transport"
)

var (
	// ErrClosed is returned by every Session call after Close
	ErrClosed = errors.New("session closed")

	// ErrNotReady is returned by SetTarget before a successful Reset, or
	// while the session is faulted
	ErrNotReady = errors.New("device not ready, reset required")

	// ErrUnsupported is returned for request types a dialect cannot carry
	ErrUnsupported = errors.New("request not supported by dialect")
)

// ProtocolError is an explicit device error report, or a response that does
// not fit the outstanding request
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Message
}

// HomingTimeoutError is returned by Reset when the device error code does not
// clear within the homing timeout
type HomingTimeoutError struct {
	LastState protocol.State
	Timeout   time.Duration
}

func (e *HomingTimeoutError) Error() string {
	return fmt.Sprintf("device homing timeout after %s, last known state: %s", e.Timeout, e.LastState)
}

// retryable reports whether an error while awaiting a response may be
// followed by another read: timeouts, and frames dropped for corruption
func retryable(err error) bool {
	if transport.IsTimeout(err) {
		return true
	}
	var fe *protocol.FramingError
	return errors.As(err, &fe) && fe.Reason != protocol.ReasonPayload
}
