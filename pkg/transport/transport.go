// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport carries raw bytes between the host and the cart-pole
// device over a serial port or a WebSocket bridge.
//
// All I/O happens inside Exchange, which holds the transport's mutex for one
// whole request/response so concurrent callers never interleave on the wire.
package transport

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/rs/zerolog"
)

// Defaults applied by New and Open for zero Config fields
const (
	DefaultBaudRate     = 500000
	DefaultReadTimeout  = 200 * time.Millisecond
	DefaultWriteTimeout = 200 * time.Millisecond
	DefaultResetDelay   = 300 * time.Millisecond
)

// maxVarintLen is the longest encoding of a uint64 varint
const maxVarintLen = 10

// Discard on links without an input flush reads whatever is already in
// flight, waiting at most drainWindow per read and giving up after
// maxDrainReads reads from a device that keeps talking
const (
	drainWindow   = 2 * time.Millisecond
	maxDrainReads = 64
)

// Conn is the byte stream under a Transport
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Optional Conn capabilities, detected at runtime
type (
	readDeadliner interface {
		SetReadDeadline(t time.Time) error
	}
	writeDeadliner interface {
		SetWriteDeadline(t time.Time) error
	}
	modemControl interface {
		SetDTR(dtr bool) error
		SetRTS(rts bool) error
	}
	inputFlusher interface {
		ResetInputBuffer() error
	}
)

// Config configures a Transport
type Config struct {
	// Port is the serial device path. Empty selects the only attached port.
	Port     string
	BaudRate int

	// ReadTimeout bounds each ReadUntil, ReadFull and ReadVarint call
	ReadTimeout time.Duration
	// WriteTimeout bounds each Write on links that support deadlines
	WriteTimeout time.Duration

	// Logger receives connection events; raw traffic is logged at trace
	// level. The zero value discards everything.
	Logger zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Link is the byte-level view of the transport during one exchange
type Link interface {
	// Write sends data in full
	Write(data []byte) error
	// ReadUntil returns bytes up to and including delim
	ReadUntil(delim byte) ([]byte, error)
	// ReadFull returns exactly n bytes
	ReadFull(n int) ([]byte, error)
	// ReadVarint reads a base-128 varint length prefix
	ReadVarint() (uint64, error)
	// Discard drops buffered and in-flight input, such as a late reply to
	// an exchange that already gave up
	Discard() error
}

// Transport serializes request/response exchanges over a Conn
type Transport struct {
	mu      sync.Mutex
	conn    Conn
	name    string
	cfg     Config
	log     zerolog.Logger
	closed  atomic.Bool
	pending []byte
	chunk   []byte
}

// New wraps an already-open Conn. name describes the link in logs.
func New(conn Conn, name string, cfg Config) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		conn:  conn,
		name:  name,
		cfg:   cfg,
		log:   cfg.Logger.With().Str("link", name).Logger(),
		chunk: make([]byte, 256),
	}
}

// String describes the link, e.g. "Serial: /dev/ttyACM0 @ 500000 baud"
func (t *Transport) String() string {
	return t.name
}

// Exchange runs fn with exclusive access to the link.
// Nothing else touches the wire until fn returns.
func (t *Transport) Exchange(fn func(Link) error) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return ErrClosed
	}
	return fn((*link)(t))
}

// HardReset pulses the modem control lines to reboot the device
// (RTS high and DTR low, wait, RTS low, wait), then drops stale input.
func (t *Transport) HardReset(delay time.Duration) error {
	mc, ok := t.conn.(modemControl)
	if !ok {
		return &TransportError{Op: "reset", Err: ErrNoModemControl}
	}
	if delay <= 0 {
		delay = DefaultResetDelay
	}

	return t.Exchange(func(Link) error {
		t.log.Info().Msg("Hard-resetting device")
		steps := []func() error{
			func() error { return mc.SetRTS(true) },
			func() error { return mc.SetDTR(false) },
			func() error { time.Sleep(delay); return mc.SetRTS(false) },
			func() error { time.Sleep(delay); return nil },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return classify("reset", err, t.closed.Load())
			}
		}
		return t.purge()
	})
}

// Close releases the link. Exchanges in flight fail with ErrClosed and later
// ones fail immediately.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.log.Debug().Msg("Closing link")
	return t.conn.Close()
}

// Closed reports whether Close has been called
func (t *Transport) Closed() bool {
	return t.closed.Load()
}

// purge drops buffered input; caller holds mu
func (t *Transport) purge() error {
	if len(t.pending) > 0 {
		t.log.Debug().Str("data", hex.EncodeToString(t.pending)).Msg("Purged buffered input")
	}
	t.pending = t.pending[:0]
	if f, ok := t.conn.(inputFlusher); ok {
		if err := f.ResetInputBuffer(); err != nil {
			return classify("reset", err, t.closed.Load())
		}
	}
	return nil
}

// drain reads and drops input until the link stays quiet for drainWindow;
// caller holds mu
func (t *Transport) drain(rd readDeadliner) (int, error) {
	dropped := 0
	for i := 0; i < maxDrainReads; i++ {
		_ = rd.SetReadDeadline(time.Now().Add(drainWindow))
		n, err := t.conn.Read(t.chunk)
		dropped += n
		if err != nil {
			if terr := classify("read", err, t.closed.Load()); !terr.Timeout() {
				return dropped, terr
			}
			return dropped, nil
		}
		if n == 0 {
			return dropped, nil
		}
	}
	return dropped, nil
}

// link implements Link on the transport while its mutex is held
type link Transport

func (l *link) Discard() error {
	t := (*Transport)(l)
	if err := t.purge(); err != nil {
		return err
	}
	if _, ok := t.conn.(inputFlusher); ok {
		return nil
	}
	rd, ok := t.conn.(readDeadliner)
	if !ok {
		return nil
	}
	dropped, err := t.drain(rd)
	if dropped > 0 {
		t.log.Debug().Int("bytes", dropped).Msg("Dropped stale input")
	}
	return err
}

func (l *link) Write(data []byte) error {
	t := (*Transport)(l)
	if wd, ok := t.conn.(writeDeadliner); ok {
		_ = wd.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	t.log.Trace().Str("tx", hex.EncodeToString(data)).Msg("SEND")
	for len(data) > 0 {
		n, err := t.conn.Write(data)
		if err != nil {
			return classify("write", err, t.closed.Load())
		}
		data = data[n:]
	}
	return nil
}

func (l *link) ReadUntil(delim byte) ([]byte, error) {
	t := (*Transport)(l)
	deadline := time.Now().Add(t.cfg.ReadTimeout)
	for {
		if i := bytes.IndexByte(t.pending, delim); i >= 0 {
			return t.take(i + 1), nil
		}
		if err := t.fill(deadline); err != nil {
			return nil, err
		}
	}
}

func (l *link) ReadFull(n int) ([]byte, error) {
	t := (*Transport)(l)
	deadline := time.Now().Add(t.cfg.ReadTimeout)
	for len(t.pending) < n {
		if err := t.fill(deadline); err != nil {
			return nil, err
		}
	}
	return t.take(n), nil
}

func (l *link) ReadVarint() (uint64, error) {
	t := (*Transport)(l)
	deadline := time.Now().Add(t.cfg.ReadTimeout)
	for {
		if x, n := proto.DecodeVarint(t.pending); n > 0 {
			t.take(n)
			return x, nil
		}
		if len(t.pending) >= maxVarintLen {
			return 0, &TransportError{Op: "read", Err: fmt.Errorf("malformed varint % X", t.pending[:maxVarintLen])}
		}
		if err := t.fill(deadline); err != nil {
			return 0, err
		}
	}
}

// take removes and returns the first n pending bytes
func (t *Transport) take(n int) []byte {
	out := make([]byte, n)
	copy(out, t.pending[:n])
	t.pending = append(t.pending[:0], t.pending[n:]...)
	return out
}

// fill reads at least one byte into pending or fails once deadline passes.
// Serial ports report their own read timeout as a zero-byte read.
func (t *Transport) fill(deadline time.Time) error {
	for {
		if rd, ok := t.conn.(readDeadliner); ok {
			_ = rd.SetReadDeadline(deadline)
		}
		n, err := t.conn.Read(t.chunk)
		if n > 0 {
			t.log.Trace().Str("rx", hex.EncodeToString(t.chunk[:n])).Msg("RECV")
			t.pending = append(t.pending, t.chunk[:n]...)
			return nil
		}
		if err != nil {
			return classify("read", err, t.closed.Load())
		}
		if t.closed.Load() {
			return &TransportError{Op: "read", Err: ErrClosed}
		}
		if !time.Now().Before(deadline) {
			return &TransportError{Op: "read", Err: ErrTimeout}
		}
	}
}
