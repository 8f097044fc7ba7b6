// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"fmt"
	"sync"
	"time"
)

// Counters is a point-in-time copy of dispatcher statistics
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Exchange outcomes
	Exchanges    uint64
	Successes    uint64
	Failures     uint64
	DeviceErrors uint64

	// Units seen while awaiting responses
	Timeouts      uint64
	FramingErrors uint64
	Processing    uint64
	DebugMessages uint64
	UnknownUnits  uint64
	// Responses to earlier requests that were skipped
	StaleResponses uint64

	// Rates (calculated)
	ExchangeRate float64 // exchanges/sec
	ErrorRate    float64 // errors/sec
}

// Stats tracks exchange outcomes and error rates for a dispatcher.
// It is safe for concurrent use.
type Stats struct {
	mu sync.Mutex
	c  Counters
}

// NewStats creates a new statistics tracker
func NewStats() *Stats {
	now := time.Now()
	return &Stats{c: Counters{StartTime: now, LastUpdateTime: now}}
}

// event is something observed while awaiting a response
type event int

const (
	eventTimeout event = iota
	eventFraming
	eventProcessing
	eventDebug
	eventUnknown
	eventDeviceError
	eventStale
)

func (s *Stats) count(e event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e {
	case eventTimeout:
		s.c.Timeouts++
	case eventFraming:
		s.c.FramingErrors++
	case eventProcessing:
		s.c.Processing++
	case eventDebug:
		s.c.DebugMessages++
	case eventUnknown:
		s.c.UnknownUnits++
	case eventDeviceError:
		s.c.DeviceErrors++
	case eventStale:
		s.c.StaleResponses++
	}
	s.c.LastUpdateTime = time.Now()
}

// finish records the outcome of one exchange
func (s *Stats) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Exchanges++
	if err == nil {
		s.c.Successes++
	} else {
		s.c.Failures++
	}
	s.c.LastUpdateTime = time.Now()
}

// Snapshot returns a consistent copy with rates calculated
func (s *Stats) Snapshot() Counters {
	s.mu.Lock()
	snap := s.c
	s.mu.Unlock()

	if elapsed := time.Since(snap.StartTime).Seconds(); elapsed > 0 {
		snap.ExchangeRate = float64(snap.Exchanges) / elapsed
		snap.ErrorRate = float64(snap.Failures+snap.Timeouts+snap.FramingErrors) / elapsed
	}
	return snap
}

// String returns a formatted statistics summary
func (s *Stats) String() string {
	snap := s.Snapshot()

	var successPercent, failurePercent float64
	if snap.Exchanges > 0 {
		successPercent = float64(snap.Successes) * 100.0 / float64(snap.Exchanges)
		failurePercent = float64(snap.Failures) * 100.0 / float64(snap.Exchanges)
	}

	elapsed := time.Since(snap.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Exchanges:       %8d\n", snap.Exchanges)
	result += fmt.Sprintf("Successful:      %8d (%.1f%%)\n", snap.Successes, successPercent)

	if snap.Failures > 0 {
		result += fmt.Sprintf("Failed:          %8d (%.1f%%)\n", snap.Failures, failurePercent)
		if snap.DeviceErrors > 0 {
			result += fmt.Sprintf("  Device Errors:    %5d\n", snap.DeviceErrors)
		}
	}
	if snap.Timeouts > 0 {
		result += fmt.Sprintf("Read Timeouts:   %8d\n", snap.Timeouts)
	}
	if snap.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d\n", snap.FramingErrors)
	}
	if snap.StaleResponses > 0 {
		result += fmt.Sprintf("Stale Responses: %8d\n", snap.StaleResponses)
	}
	if snap.Processing+snap.DebugMessages+snap.UnknownUnits > 0 {
		result += fmt.Sprintf("Processing:      %8d\n", snap.Processing)
		result += fmt.Sprintf("Debug Messages:  %8d\n", snap.DebugMessages)
		if snap.UnknownUnits > 0 {
			result += fmt.Sprintf("  Unrecognized:     %5d\n", snap.UnknownUnits)
		}
	}

	result += fmt.Sprintf("Exchange Rate:   %8.1f req/sec\n", snap.ExchangeRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", snap.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.c = Counters{StartTime: now, LastUpdateTime: now}
}
