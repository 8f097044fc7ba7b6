// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

// Group names used as the protocol's group selector
const (
	GroupConfig = "config"
	GroupState  = "state"
	GroupTarget = "target"
)

// Group is a named, partially-populated set of typed fields.
// A nil field is absent: "not requested" on GET, "leave unchanged" on SET.
type Group interface {
	GroupName() string
	DictFormat() string
	ListFormat() string
}

// Config holds the device limits.
type Config struct {
	MaxPosition     *float64
	MaxVelocity     *float64
	MaxAcceleration *float64

	HardwareMaxPosition     *float64
	HardwareMaxVelocity     *float64
	HardwareMaxAcceleration *float64

	ClampPosition     *bool
	ClampVelocity     *bool
	ClampAcceleration *bool

	DebugLED *bool
}

// State is the sensor state reported by the device.
type State struct {
	Position            *float64
	Velocity            *float64
	Acceleration        *float64
	PoleAngle           *float64
	PoleAngularVelocity *float64
	ErrorCode           *ErrorCode

	// Device-specific telemetry
	AccelerometerValue *float64
	MotorAngle         *float64
	MotorVelocity      *float64
}

// Target is a motion target. Every field is independently optional.
type Target struct {
	Position     *float64
	Velocity     *float64
	Acceleration *float64
}

// GroupName implements Group
func (Config) GroupName() string { return GroupConfig }

// GroupName implements Group
func (State) GroupName() string { return GroupState }

// GroupName implements Group
func (Target) GroupName() string { return GroupTarget }

// Ptr returns a pointer to v, for populating optional fields
func Ptr[T any](v T) *T {
	return &v
}

// Default control limits applied on reset when no config is given
const (
	DefaultMaxPosition     = 0.25 // m
	DefaultMaxVelocity     = 2.0  // m/s
	DefaultMaxAcceleration = 3.5  // m/s^2
)

// DefaultConfig returns the default control limits
func DefaultConfig() Config {
	return Config{
		MaxPosition:     Ptr(DefaultMaxPosition),
		MaxVelocity:     Ptr(DefaultMaxVelocity),
		MaxAcceleration: Ptr(DefaultMaxAcceleration),
	}
}

// FullConfig returns a Config with every field present, used to select all
// fields in a GET request
func FullConfig() Config {
	var c Config
	fillGroup(&c, configFields)
	return c
}

// FullState returns a State with every field present
func FullState() State {
	var s State
	fillGroup(&s, stateFields)
	return s
}

// FullTarget returns a Target with every field present
func FullTarget() Target {
	var t Target
	fillGroup(&t, targetFields)
	return t
}

// Code returns the state's error code, ErrorNone when absent
func (s State) Code() ErrorCode {
	if s.ErrorCode == nil {
		return ErrorNone
	}
	return *s.ErrorCode
}

// Empty reports whether no field is present
func (t Target) Empty() bool {
	return t.Position == nil && t.Velocity == nil && t.Acceleration == nil
}

// Merge returns c with every field present in other overriding it
func (c Config) Merge(other Config) Config {
	mergeGroup(&c, &other, configFields)
	return c
}

// Merge returns t with every field present in other overriding it
func (t Target) Merge(other Target) Target {
	mergeGroup(&t, &other, targetFields)
	return t
}
