// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"errors"
	"math"
	"testing"
)

func violationTypes(err error) []ViolationType {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return nil
	}
	types := make([]ViolationType, len(verr.Violations))
	for i, v := range verr.Violations {
		types[i] = v.Type
	}
	return types
}

func TestValidateTarget(t *testing.T) {
	limits := DefaultConfig()

	tests := []struct {
		name       string
		target     Target
		violations []ViolationType
	}{
		{"empty", Target{}, nil},
		{"position in range", Target{Position: Ptr(0.2)}, nil},
		{"negative position in range", Target{Position: Ptr(-0.25)}, nil},
		{"position out of range", Target{Position: Ptr(0.3)}, []ViolationType{ViolationPositionLimit}},
		{"velocity out of range", Target{Velocity: Ptr(-2.5)}, []ViolationType{ViolationVelocityLimit}},
		{"acceleration out of range", Target{Acceleration: Ptr(4.0)}, []ViolationType{ViolationAccelerationLimit}},
		{"signed velocity alone", Target{Velocity: Ptr(-1.0)}, nil},
		{"signed acceleration alone", Target{Acceleration: Ptr(-1.0)}, nil},
		{"position with negative velocity", Target{Position: Ptr(0.1), Velocity: Ptr(-1.0)}, []ViolationType{ViolationNegativeMagnitude}},
		{"position with negative acceleration", Target{Position: Ptr(0.1), Acceleration: Ptr(-1.0)}, []ViolationType{ViolationNegativeMagnitude}},
		{"velocity with negative acceleration", Target{Velocity: Ptr(1.0), Acceleration: Ptr(-1.0)}, []ViolationType{ViolationNegativeMagnitude}},
		{"full valid", Target{Position: Ptr(0.1), Velocity: Ptr(1.0), Acceleration: Ptr(2.0)}, nil},
		{"nan position", Target{Position: Ptr(math.NaN())}, []ViolationType{ViolationPositionLimit}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTarget(tt.target, limits)
			if tt.violations == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			got := violationTypes(err)
			if len(got) != len(tt.violations) {
				t.Fatalf("violations = %v, want %v (err: %v)", got, tt.violations, err)
			}
			for i := range got {
				if got[i] != tt.violations[i] {
					t.Errorf("violation[%d] = %d, want %d", i, got[i], tt.violations[i])
				}
			}
		})
	}
}

func TestValidateTarget_MissingLimits(t *testing.T) {
	if err := ValidateTarget(Target{Position: Ptr(100.0)}, Config{}); err != nil {
		t.Errorf("without limits no bound applies, got %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name       string
		config     Config
		violations []ViolationType
	}{
		{"defaults", DefaultConfig(), nil},
		{"within hardware", Config{MaxVelocity: Ptr(1.0), HardwareMaxVelocity: Ptr(2.0)}, nil},
		{"equal to hardware", Config{MaxPosition: Ptr(0.3), HardwareMaxPosition: Ptr(0.3)}, nil},
		{"exceeds hardware", Config{MaxAcceleration: Ptr(5.0), HardwareMaxAcceleration: Ptr(4.0)}, []ViolationType{ViolationLimitOrder}},
		{"negative control", Config{MaxPosition: Ptr(-0.1)}, []ViolationType{ViolationNegativeMagnitude}},
		{"negative hardware", Config{HardwareMaxVelocity: Ptr(-1.0)}, []ViolationType{ViolationNegativeMagnitude}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.config)
			got := violationTypes(err)
			if tt.violations == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.violations) {
				t.Fatalf("violations = %v, want %v", got, tt.violations)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := ValidateTarget(Target{Position: Ptr(1.0)}, DefaultConfig())
	want := "invalid target: position=1.00000 exceeds limit 0.25000"
	if err == nil || err.Error() != want {
		t.Errorf("Error() = %v, want %q", err, want)
	}
}
