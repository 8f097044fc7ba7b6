// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"fmt"
	"math"
	"strings"
)

// ViolationType represents different kinds of limit violations
type ViolationType int

const (
	ViolationPositionLimit ViolationType = iota
	ViolationVelocityLimit
	ViolationAccelerationLimit
	ViolationNegativeMagnitude
	ViolationLimitOrder
)

// Violation describes a single failed check
type Violation struct {
	Type    ViolationType
	Message string
	Details map[string]interface{}
}

// ValidationError collects every violation found in a group
type ValidationError struct {
	Group      string
	Violations []Violation
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	msgs := make([]string, len(v.Violations))
	for i, violation := range v.Violations {
		msgs[i] = violation.Message
	}
	return fmt.Sprintf("invalid %s: %s", v.Group, strings.Join(msgs, "; "))
}

// ValidateTarget checks target against the control limits in limits.
// A bound is only checked when both the value and the limit are present.
// When position is given, velocity and acceleration act as magnitudes and
// must be non-negative; the same holds for acceleration given with velocity.
func ValidateTarget(target Target, limits Config) error {
	violations := []Violation{}

	violations = append(violations, checkMagnitude(ViolationPositionLimit, "position", target.Position, limits.MaxPosition)...)
	violations = append(violations, checkMagnitude(ViolationVelocityLimit, "velocity", target.Velocity, limits.MaxVelocity)...)
	violations = append(violations, checkMagnitude(ViolationAccelerationLimit, "acceleration", target.Acceleration, limits.MaxAcceleration)...)

	if target.Velocity != nil && target.Acceleration != nil && *target.Acceleration < 0 {
		violations = append(violations, negative("acceleration", *target.Acceleration, "velocity"))
	}

	if target.Position != nil {
		if target.Velocity != nil && *target.Velocity < 0 {
			violations = append(violations, negative("velocity", *target.Velocity, "position"))
		}
		if target.Acceleration != nil && *target.Acceleration < 0 && target.Velocity == nil {
			violations = append(violations, negative("acceleration", *target.Acceleration, "position"))
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Group: GroupTarget, Violations: violations}
	}
	return nil
}

// ValidateConfig checks that control limits are non-negative and do not
// exceed the hardware limits
func ValidateConfig(config Config) error {
	violations := []Violation{}

	pairs := []struct {
		name     string
		control  *float64
		hardware *float64
	}{
		{"position", config.MaxPosition, config.HardwareMaxPosition},
		{"velocity", config.MaxVelocity, config.HardwareMaxVelocity},
		{"acceleration", config.MaxAcceleration, config.HardwareMaxAcceleration},
	}

	for _, p := range pairs {
		if p.control != nil && *p.control < 0 {
			violations = append(violations, Violation{
				Type:    ViolationNegativeMagnitude,
				Message: fmt.Sprintf("max %s=%.5f is negative", p.name, *p.control),
				Details: map[string]interface{}{"field": p.name, "value": *p.control},
			})
		}
		if p.hardware != nil && *p.hardware < 0 {
			violations = append(violations, Violation{
				Type:    ViolationNegativeMagnitude,
				Message: fmt.Sprintf("hardware max %s=%.5f is negative", p.name, *p.hardware),
				Details: map[string]interface{}{"field": p.name, "value": *p.hardware},
			})
		}
		if p.control != nil && p.hardware != nil && *p.control > *p.hardware {
			violations = append(violations, Violation{
				Type:    ViolationLimitOrder,
				Message: fmt.Sprintf("max %s=%.5f exceeds hardware limit %.5f", p.name, *p.control, *p.hardware),
				Details: map[string]interface{}{"field": p.name, "value": *p.control, "max": *p.hardware},
			})
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Group: GroupConfig, Violations: violations}
	}
	return nil
}

func checkMagnitude(kind ViolationType, name string, value, limit *float64) []Violation {
	if value == nil || limit == nil {
		return nil
	}
	if math.IsNaN(*value) || math.Abs(*value) > *limit {
		return []Violation{{
			Type:    kind,
			Message: fmt.Sprintf("%s=%.5f exceeds limit %.5f", name, *value, *limit),
			Details: map[string]interface{}{"value": *value, "max": *limit},
		}}
	}
	return nil
}

func negative(name string, value float64, with string) Violation {
	return Violation{
		Type:    ViolationNegativeMagnitude,
		Message: fmt.Sprintf("%s=%.5f must be non-negative when %s is set", name, value, with),
		Details: map[string]interface{}{"field": name, "value": value, "with": with},
	}
}
