// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/gorilla/websocket"
)

var (
	// ErrClosed is returned by any operation on a closed Transport
	ErrClosed = errors.New("transport closed")

	// ErrTimeout marks a read or write that did not complete in time
	ErrTimeout = errors.New("timed out")

	// ErrNoModemControl is returned by HardReset on links without RTS/DTR lines
	ErrNoModemControl = errors.New("link has no modem control lines")
)

// TransportError wraps a failed I/O operation
type TransportError struct {
	Op  string // "open", "read", "write", "reset"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the operation failed because its deadline passed
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}

// IsTimeout reports whether err is a transport timeout
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Timeout()
}

// classify maps low-level I/O errors onto ErrTimeout and ErrClosed
func classify(op string, err error, closed bool) *TransportError {
	switch {
	case closed:
		return &TransportError{Op: op, Err: ErrClosed}
	case errors.Is(err, os.ErrDeadlineExceeded):
		return &TransportError{Op: op, Err: ErrTimeout}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
		return &TransportError{Op: op, Err: fmt.Errorf("%w: %v", ErrClosed, err)}
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return &TransportError{Op: op, Err: fmt.Errorf("%w: %v", ErrClosed, err)}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TransportError{Op: op, Err: ErrTimeout}
	}
	return &TransportError{Op: op, Err: err}
}
