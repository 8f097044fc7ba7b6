// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/cartlink/pkg/protocol"
	"github.com/Thermoquad/cartlink/pkg/transport"
)

// Session defaults
const (
	DefaultHomingTimeout = 10 * time.Second
	DefaultPollInterval  = 10 * time.Millisecond
)

// Status is the session lifecycle state
type Status int

const (
	StatusUninitialized Status = iota
	StatusHoming
	StatusReady
	StatusFaulted
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "UNINITIALIZED"
	case StatusHoming:
		return "HOMING"
	case StatusReady:
		return "READY"
	case StatusFaulted:
		return "FAULTED"
	case StatusClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// SessionConfig configures a Session
type SessionConfig struct {
	HomingTimeout time.Duration
	PollInterval  time.Duration

	// UnwrapPoleAngle makes State.PoleAngle continuous across full turns
	UnwrapPoleAngle bool

	Logger zerolog.Logger
}

// Session is the device API. Calls block until their exchange completes and
// are safe for concurrent use; the transport orders them on the wire.
type Session struct {
	d      Dispatcher
	cfg    SessionConfig
	log    zerolog.Logger
	closed atomic.Bool

	mu     sync.Mutex
	status Status
	config protocol.Config
	fault  protocol.ErrorCode

	// pole angle unwrapping
	prevAngle float64
	rotations int
}

// NewSession wraps a dispatcher. The session starts uninitialized; call
// Reset before SetTarget.
func NewSession(d Dispatcher, cfg SessionConfig) *Session {
	if cfg.HomingTimeout <= 0 {
		cfg.HomingTimeout = DefaultHomingTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Session{
		d:   d,
		cfg: cfg,
		log: cfg.Logger,
	}
}

// Status returns the lifecycle state
func (s *Session) Status() Status {
	if s.closed.Load() {
		return StatusClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// DeviceError returns the sticky device error; ErrorNone until the device
// reports one, then unchanged until a successful Reset
func (s *Session) DeviceError() protocol.ErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}

// Limits returns the last known device config
func (s *Session) Limits() protocol.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Stats returns the dispatcher statistics
func (s *Session) Stats() *Stats {
	return s.d.Stats()
}

// Reset is ResetContext without cancellation
func (s *Session) Reset(config *protocol.Config) error {
	return s.ResetContext(context.Background(), config)
}

// ResetContext resets the device, applies config (DefaultConfig when nil)
// and waits for homing to finish: GET_STATE is polled until the error code
// clears, failing with *HomingTimeoutError once the homing timeout passes.
// The homing timeout bounds every exchange of the reset, including with an
// unlimited timeout budget.
func (s *Session) ResetContext(ctx context.Context, config *protocol.Config) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if config == nil {
		c := protocol.DefaultConfig()
		config = &c
	}
	if err := protocol.ValidateConfig(*config); err != nil {
		return err
	}

	s.setStatus(StatusHoming)
	s.log.Info().Msg("Resetting device")

	start := time.Now()
	deadline := start.Add(s.cfg.HomingTimeout)
	if _, err := s.do(Request{Type: protocol.RequestReset, Deadline: deadline}); err != nil {
		return s.failed(err)
	}
	resp, err := s.do(Request{Type: protocol.RequestSetConfig, Config: config, Deadline: deadline})
	if err != nil {
		return s.failed(err)
	}

	s.mu.Lock()
	s.config = s.config.Merge(*config)
	if resp.Config != nil {
		s.config = s.config.Merge(*resp.Config)
	}
	s.prevAngle, s.rotations = 0, 0
	s.mu.Unlock()

	return s.awaitHoming(ctx, start, deadline)
}

func (s *Session) awaitHoming(ctx context.Context, start, deadline time.Time) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var last protocol.State
	for {
		resp, err := s.do(Request{Type: protocol.RequestGetState, Deadline: deadline})
		switch {
		case err == nil && resp.State != nil:
			last = *resp.State
			if !last.Code().IsError() {
				s.mu.Lock()
				s.status = StatusReady
				s.fault = protocol.ErrorNone
				s.mu.Unlock()
				s.log.Info().Dur("elapsed", time.Since(start)).Msg("Homing complete")
				return nil
			}
		case err == nil:
			return s.failed(&ProtocolError{Message: "response carries no state"})
		case !transport.IsTimeout(err):
			return s.failed(err)
		}

		if !time.Now().Before(deadline) {
			herr := &HomingTimeoutError{LastState: last, Timeout: s.cfg.HomingTimeout}
			s.log.Error().Err(herr).Msg("Homing failed")
			return s.failed(herr)
		}

		select {
		case <-ctx.Done():
			return s.failed(ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetState reads the full device state
func (s *Session) GetState() (protocol.State, error) {
	if s.closed.Load() {
		return protocol.State{}, ErrClosed
	}
	resp, err := s.do(Request{Type: protocol.RequestGetState})
	if err != nil {
		return protocol.State{}, s.failed(err)
	}
	if resp.State == nil {
		return protocol.State{}, s.failed(&ProtocolError{Message: "response carries no state"})
	}
	return s.observe(*resp.State), nil
}

// GetTarget reads the current motion target
func (s *Session) GetTarget() (protocol.Target, error) {
	if s.closed.Load() {
		return protocol.Target{}, ErrClosed
	}
	resp, err := s.do(Request{Type: protocol.RequestGetTarget})
	if err != nil {
		return protocol.Target{}, s.failed(err)
	}
	if resp.Target == nil {
		return protocol.Target{}, s.failed(&ProtocolError{Message: "response carries no target"})
	}
	return *resp.Target, nil
}

// SetTarget validates target against the known limits and sends it.
// It returns the State carried by the response, or an empty State when the
// dialect returns none.
func (s *Session) SetTarget(target protocol.Target) (protocol.State, error) {
	if s.closed.Load() {
		return protocol.State{}, ErrClosed
	}

	s.mu.Lock()
	status, fault, limits := s.status, s.fault, s.config
	s.mu.Unlock()
	if status != StatusReady {
		if fault.IsError() {
			return protocol.State{}, fmt.Errorf("%w: device error %s", ErrNotReady, fault)
		}
		return protocol.State{}, fmt.Errorf("%w: session %s", ErrNotReady, status)
	}
	if err := protocol.ValidateTarget(target, limits); err != nil {
		return protocol.State{}, err
	}

	resp, err := s.do(Request{Type: protocol.RequestSetTarget, Target: &target})
	if err != nil {
		return protocol.State{}, s.failed(err)
	}
	if resp.State == nil {
		return protocol.State{}, nil
	}
	return s.observe(*resp.State), nil
}

// GetConfig reads the full device config
func (s *Session) GetConfig() (protocol.Config, error) {
	if s.closed.Load() {
		return protocol.Config{}, ErrClosed
	}
	resp, err := s.do(Request{Type: protocol.RequestGetConfig})
	if err != nil {
		return protocol.Config{}, s.failed(err)
	}
	if resp.Config == nil {
		return protocol.Config{}, s.failed(&ProtocolError{Message: "response carries no config"})
	}
	s.mu.Lock()
	s.config = s.config.Merge(*resp.Config)
	s.mu.Unlock()
	return *resp.Config, nil
}

// SetConfig applies the present fields of config and returns the values the
// device confirmed
func (s *Session) SetConfig(config protocol.Config) (protocol.Config, error) {
	if s.closed.Load() {
		return protocol.Config{}, ErrClosed
	}
	if err := protocol.ValidateConfig(s.Limits().Merge(config)); err != nil {
		return protocol.Config{}, err
	}

	resp, err := s.do(Request{Type: protocol.RequestSetConfig, Config: &config})
	if err != nil {
		return protocol.Config{}, s.failed(err)
	}
	confirmed := config
	if resp.Config != nil {
		confirmed = *resp.Config
	}
	s.mu.Lock()
	s.config = s.config.Merge(confirmed)
	s.mu.Unlock()
	return confirmed, nil
}

// Close releases the transport. Later calls fail with ErrClosed.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.setStatus(StatusClosed)
	return s.d.Close()
}

func (s *Session) do(req Request) (Response, error) {
	resp, err := s.d.Do(req)
	if errors.Is(err, transport.ErrClosed) && s.closed.Load() {
		return resp, ErrClosed
	}
	return resp, err
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// failed moves an initialized session to Faulted and passes err through
func (s *Session) failed(err error) error {
	if errors.Is(err, ErrClosed) {
		return err
	}
	s.mu.Lock()
	if s.status != StatusUninitialized {
		s.status = StatusFaulted
	}
	s.mu.Unlock()
	return err
}

// observe records a device error code and unwraps the pole angle
func (s *Session) observe(state protocol.State) protocol.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	// While homing the error code is expected to read NEED_RESET; the homing
	// loop decides the outcome
	if code := state.Code(); code.IsError() && s.status != StatusHoming {
		if !s.fault.IsError() {
			s.log.Warn().Stringer("error", code).Msg("Device reported error")
		}
		if s.status != StatusUninitialized {
			s.status = StatusFaulted
		}
		// The first error sticks until Reset
		if !s.fault.IsError() {
			s.fault = code
		}
	}

	if s.cfg.UnwrapPoleAngle && state.PoleAngle != nil {
		curr := *state.PoleAngle
		delta := curr - s.prevAngle
		if delta > math.Pi {
			s.rotations--
		} else if delta < -math.Pi {
			s.rotations++
		}
		s.prevAngle = curr
		state.PoleAngle = protocol.Ptr(2*math.Pi*float64(s.rotations) + curr)
	}
	return state
}
