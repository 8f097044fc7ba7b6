// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import "strconv"

// floatPrecision is the number of decimals used for floats in the line format
const floatPrecision = 5

// FieldKind is the value type of a group field
type FieldKind int

// Field kinds
const (
	KindFloat FieldKind = iota
	KindBool
	KindErrorCode
)

// field describes one group field: its names and a typed accessor.
// Exactly one accessor is set, matching kind.
type field[G any] struct {
	name  string
	wire  string
	kind  FieldKind
	float func(*G) **float64
	flag  func(*G) **bool
	code  func(*G) **ErrorCode
}

func floatField[G any](name, wire string, ref func(*G) **float64) field[G] {
	return field[G]{name: name, wire: wire, kind: KindFloat, float: ref}
}

func boolField[G any](name, wire string, ref func(*G) **bool) field[G] {
	return field[G]{name: name, wire: wire, kind: KindBool, flag: ref}
}

func codeField[G any](name, wire string, ref func(*G) **ErrorCode) field[G] {
	return field[G]{name: name, wire: wire, kind: KindErrorCode, code: ref}
}

var configFields = []field[Config]{
	floatField("max_position", "max_x", func(c *Config) **float64 { return &c.MaxPosition }),
	floatField("max_velocity", "max_v", func(c *Config) **float64 { return &c.MaxVelocity }),
	floatField("max_acceleration", "max_a", func(c *Config) **float64 { return &c.MaxAcceleration }),
	floatField("hardware_max_position", "hw_max_x", func(c *Config) **float64 { return &c.HardwareMaxPosition }),
	floatField("hardware_max_velocity", "hw_max_v", func(c *Config) **float64 { return &c.HardwareMaxVelocity }),
	floatField("hardware_max_acceleration", "hw_max_a", func(c *Config) **float64 { return &c.HardwareMaxAcceleration }),
	boolField("clamp_position", "clamp_x", func(c *Config) **bool { return &c.ClampPosition }),
	boolField("clamp_velocity", "clamp_v", func(c *Config) **bool { return &c.ClampVelocity }),
	boolField("clamp_acceleration", "clamp_a", func(c *Config) **bool { return &c.ClampAcceleration }),
	boolField("debug_led", "debug_led", func(c *Config) **bool { return &c.DebugLED }),
}

var stateFields = []field[State]{
	floatField("position", "x", func(s *State) **float64 { return &s.Position }),
	floatField("velocity", "v", func(s *State) **float64 { return &s.Velocity }),
	floatField("acceleration", "a", func(s *State) **float64 { return &s.Acceleration }),
	floatField("pole_angle", "pole_x", func(s *State) **float64 { return &s.PoleAngle }),
	floatField("pole_angular_velocity", "pole_v", func(s *State) **float64 { return &s.PoleAngularVelocity }),
	codeField("error_code", "errcode", func(s *State) **ErrorCode { return &s.ErrorCode }),
	floatField("accelerometer_value", "imu_a", func(s *State) **float64 { return &s.AccelerometerValue }),
	floatField("motor_angle", "motor_x", func(s *State) **float64 { return &s.MotorAngle }),
	floatField("motor_velocity", "motor_v", func(s *State) **float64 { return &s.MotorVelocity }),
}

var targetFields = []field[Target]{
	floatField("position", "x", func(t *Target) **float64 { return &t.Position }),
	floatField("velocity", "v", func(t *Target) **float64 { return &t.Velocity }),
	floatField("acceleration", "a", func(t *Target) **float64 { return &t.Acceleration }),
}

func (f field[G]) present(g *G) bool {
	switch f.kind {
	case KindFloat:
		return *f.float(g) != nil
	case KindBool:
		return *f.flag(g) != nil
	default:
		return *f.code(g) != nil
	}
}

func (f field[G]) format(g *G) string {
	switch f.kind {
	case KindFloat:
		return strconv.FormatFloat(**f.float(g), 'f', floatPrecision, 64)
	case KindBool:
		if **f.flag(g) {
			return "true"
		}
		return "false"
	default:
		return strconv.FormatInt(int64(**f.code(g)), 10)
	}
}

func (f field[G]) parse(g *G, text string) error {
	switch f.kind {
	case KindFloat:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return malformed("%s: invalid float %q", f.wire, text)
		}
		*f.float(g) = &v
	case KindBool:
		var v bool
		switch text {
		case "true":
			v = true
		case "false":
			v = false
		default:
			return malformed("%s: invalid bool %q", f.wire, text)
		}
		*f.flag(g) = &v
	default:
		v, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return malformed("%s: invalid error code %q", f.wire, text)
		}
		code := ErrorCode(v)
		*f.code(g) = &code
	}
	return nil
}

// fill sets the field to a zero filler value
func (f field[G]) fill(g *G) {
	switch f.kind {
	case KindFloat:
		*f.float(g) = Ptr(0.0)
	case KindBool:
		*f.flag(g) = Ptr(false)
	default:
		*f.code(g) = Ptr(ErrorNone)
	}
}

// copyFrom copies the field from src to dst when present in src
func (f field[G]) copyFrom(dst, src *G) {
	if !f.present(src) {
		return
	}
	switch f.kind {
	case KindFloat:
		*f.float(dst) = Ptr(**f.float(src))
	case KindBool:
		*f.flag(dst) = Ptr(**f.flag(src))
	default:
		*f.code(dst) = Ptr(**f.code(src))
	}
}

func fillGroup[G any](g *G, fields []field[G]) {
	for _, f := range fields {
		f.fill(g)
	}
}

func mergeGroup[G any](dst, src *G, fields []field[G]) {
	for _, f := range fields {
		f.copyFrom(dst, src)
	}
}

// FieldInfo describes a group field for display
type FieldInfo struct {
	Name string
	Wire string
	Kind FieldKind
}

func fieldInfos[G any](fields []field[G]) []FieldInfo {
	infos := make([]FieldInfo, len(fields))
	for i, f := range fields {
		infos[i] = FieldInfo{Name: f.name, Wire: f.wire, Kind: f.kind}
	}
	return infos
}

// ConfigFields lists the Config field table
func ConfigFields() []FieldInfo { return fieldInfos(configFields) }

// StateFields lists the State field table
func StateFields() []FieldInfo { return fieldInfos(stateFields) }

// TargetFields lists the Target field table
func TargetFields() []FieldInfo { return fieldInfos(targetFields) }
