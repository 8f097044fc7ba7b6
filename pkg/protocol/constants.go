// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package protocol implements the cart-pole controller wire protocol.
//
// Two wire representations exist. The line format exchanges variable groups
// as "key=value" tokens. The binary format wraps structured messages
// (protobuf or CBOR) in COBS-stuffed frames carrying a request type, a
// payload length and a CRC-8 checksum, or in varint length-prefixed streams.
// This package provides the encoders, decoders and value types shared by both.
package protocol

import "fmt"

// Frame delimiter and size limits
const (
	FrameDelimiter = 0x00

	MaxPayloadSize = 255 // single length byte
	frameOverhead  = 3   // type + length + checksum
	MaxFrameSize   = MaxPayloadSize + frameOverhead

	// MaxEncodedFrameSize bounds a stuffed frame including its delimiter
	MaxEncodedFrameSize = MaxFrameSize + MaxFrameSize/254 + 2
)

// CRC-8 configuration (CRC-8/SMBUS, a.k.a. CRC-8 CCITT in the firmware)
const (
	crcPolynomial = 0x07
	crcInitial    = 0x00
)

// RequestType selects the logical operation carried by a command or frame.
type RequestType uint8

// Request type values, matching the device schema
const (
	RequestGetState  RequestType = 0
	RequestSetTarget RequestType = 1
	RequestSetConfig RequestType = 2
	RequestGetTarget RequestType = 3
	RequestGetConfig RequestType = 4
	RequestReset     RequestType = 5

	// RequestTarget is the merged exchange: the request carries a Target and
	// the response carries the resulting State.
	RequestTarget RequestType = 6
)

// String returns the upper-case name of the request type
func (t RequestType) String() string {
	switch t {
	case RequestGetState:
		return "GET_STATE"
	case RequestSetTarget:
		return "SET_TARGET"
	case RequestSetConfig:
		return "SET_CONFIG"
	case RequestGetTarget:
		return "GET_TARGET"
	case RequestGetConfig:
		return "GET_CONFIG"
	case RequestReset:
		return "RESET"
	case RequestTarget:
		return "TARGET"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Valid reports whether t is a known request type
func (t RequestType) Valid() bool {
	return t <= RequestTarget
}

// ResponseStatus classifies a structured response.
type ResponseStatus int32

// Response status values
const (
	StatusOK         ResponseStatus = 0
	StatusError      ResponseStatus = 1
	StatusProcessing ResponseStatus = 2
	StatusDebug      ResponseStatus = 3
)

// String returns the upper-case name of the status
func (s ResponseStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	case StatusProcessing:
		return "PROCESSING"
	case StatusDebug:
		return "DEBUG"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(s))
	}
}

// ErrorCode is the device error reported in State.
// ErrorNone is the only value that means "no error".
type ErrorCode int32

// Error code values
const (
	ErrorNone                     ErrorCode = 0
	ErrorNeedReset                ErrorCode = 1
	ErrorCartPositionOverflow     ErrorCode = 2
	ErrorCartVelocityOverflow     ErrorCode = 3
	ErrorCartAccelerationOverflow ErrorCode = 4
	ErrorMotorStalled             ErrorCode = 5
	ErrorEndstopHit               ErrorCode = 6
	ErrorHardware                 ErrorCode = 7
)

// IsError reports whether the code signals an error
func (e ErrorCode) IsError() bool {
	return e != ErrorNone
}

// String returns the upper-case name of the error code
func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "NO_ERROR"
	case ErrorNeedReset:
		return "NEED_RESET"
	case ErrorCartPositionOverflow:
		return "CART_POSITION_OVERFLOW"
	case ErrorCartVelocityOverflow:
		return "CART_VELOCITY_OVERFLOW"
	case ErrorCartAccelerationOverflow:
		return "CART_ACCELERATION_OVERFLOW"
	case ErrorMotorStalled:
		return "MOTOR_STALLED"
	case ErrorEndstopHit:
		return "ENDSTOP_HIT"
	case ErrorHardware:
		return "HARDWARE"
	default:
		return fmt.Sprintf("ERROR(%d)", int32(e))
	}
}
