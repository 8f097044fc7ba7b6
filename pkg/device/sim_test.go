// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"bytes"
	"encoding/binary"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/cartlink/pkg/protocol"
	"github.com/Thermoquad/cartlink/pkg/transport"
)

// newLink returns a transport whose far end is handed to a simulated device
func newLink(t *testing.T, cfg transport.Config) (*transport.Transport, net.Conn) {
	t.Helper()
	host, device := net.Pipe()
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 200 * time.Millisecond
	}
	tr := transport.New(host, "sim", cfg)
	t.Cleanup(func() {
		tr.Close()
		device.Close()
	})
	return tr, device
}

// lateFirstReply delays the reply to the first request by delay, long enough
// for the host to give up on it. sent closes once the late reply is about to
// be written.
func lateFirstReply[In, Out any](delay time.Duration, handle func(In) Out) (func(In) Out, <-chan struct{}) {
	sent := make(chan struct{})
	var once sync.Once
	return func(in In) Out {
		out := handle(in)
		once.Do(func() {
			time.Sleep(delay)
			close(sent)
		})
		return out
	}, sent
}

// lineDevice answers newline-terminated commands with handle. After each
// command it waits briefly and records any bytes that arrive before it
// replies, which would mean two exchanges overlapped.
type lineDevice struct {
	conn          net.Conn
	handle        func(cmd string) []string
	overlapWindow time.Duration

	mu          sync.Mutex
	commands    []string
	interleaved atomic.Bool
}

func startLineDevice(t *testing.T, cfg transport.Config, handle func(cmd string) []string) (*transport.Transport, *lineDevice) {
	return startWatchfulLineDevice(t, cfg, 0, handle)
}

func startWatchfulLineDevice(t *testing.T, cfg transport.Config, overlapWindow time.Duration, handle func(cmd string) []string) (*transport.Transport, *lineDevice) {
	tr, conn := newLink(t, cfg)
	d := &lineDevice{conn: conn, handle: handle, overlapWindow: overlapWindow}
	go d.run()
	return tr, d
}

func (d *lineDevice) run() {
	var buf []byte
	chunk := make([]byte, 256)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			n, err := d.conn.Read(chunk)
			if err != nil {
				return
			}
			buf = append(buf, chunk[:n]...)
			continue
		}
		cmd := string(buf[:i])
		buf = buf[i+1:]

		d.mu.Lock()
		d.commands = append(d.commands, cmd)
		d.mu.Unlock()

		if d.overlapWindow > 0 {
			if len(buf) > 0 {
				d.interleaved.Store(true)
			}
			d.conn.SetReadDeadline(time.Now().Add(d.overlapWindow))
			if n, _ := d.conn.Read(chunk); n > 0 {
				d.interleaved.Store(true)
				buf = append(buf, chunk[:n]...)
			}
			d.conn.SetReadDeadline(time.Time{})
		}

		for _, line := range d.handle(cmd) {
			if _, err := d.conn.Write([]byte(line + "\n")); err != nil {
				return
			}
		}
	}
}

func (d *lineDevice) received() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// frameDevice answers COBS frames with handle, which returns raw bytes to send
type frameDevice struct {
	conn   net.Conn
	handle func(f *protocol.Frame) [][]byte

	mu     sync.Mutex
	frames []*protocol.Frame
}

func startFrameDevice(t *testing.T, cfg transport.Config, handle func(f *protocol.Frame) [][]byte) (*transport.Transport, *frameDevice) {
	tr, conn := newLink(t, cfg)
	d := &frameDevice{conn: conn, handle: handle}
	go d.run()
	return tr, d
}

func (d *frameDevice) run() {
	decoder := protocol.NewDecoder()
	chunk := make([]byte, 512)
	for {
		n, err := d.conn.Read(chunk)
		if err != nil {
			return
		}
		frames, _ := decoder.Decode(chunk[:n])
		for _, f := range frames {
			d.mu.Lock()
			d.frames = append(d.frames, f)
			d.mu.Unlock()
			for _, out := range d.handle(f) {
				if _, err := d.conn.Write(out); err != nil {
					return
				}
			}
		}
	}
}

func (d *frameDevice) received() []*protocol.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*protocol.Frame(nil), d.frames...)
}

// responseFrame encodes a ResponseMessage frame
func responseFrame(t *testing.T, codec protocol.MessageCodec, msgType protocol.RequestType, resp *protocol.ResponseMessage) []byte {
	t.Helper()
	raw, err := protocol.EncodeFrameMessage(msgType, codec, resp)
	require.NoError(t, err)
	return raw
}

// framedCart answers GET_STATE and GET_CONFIG frames with a homed cart
func framedCart(t *testing.T, codec protocol.MessageCodec) func(f *protocol.Frame) [][]byte {
	return func(f *protocol.Frame) [][]byte {
		resp := &protocol.ResponseMessage{}
		switch f.Type() {
		case protocol.RequestGetState:
			resp.State = protocol.State{Position: protocol.Ptr(0.0), ErrorCode: protocol.Ptr(protocol.ErrorNone)}.Message()
		case protocol.RequestGetConfig:
			resp.Config = protocol.DefaultConfig().Message()
		}
		return [][]byte{responseFrame(t, codec, f.Type(), resp)}
	}
}

// streamDevice answers varint length-prefixed RequestMessages
type streamDevice struct {
	conn   net.Conn
	codec  protocol.MessageCodec
	handle func(req *protocol.RequestMessage) []*protocol.ResponseMessage

	mu       sync.Mutex
	requests []*protocol.RequestMessage
}

func startStreamDevice(t *testing.T, codec protocol.MessageCodec, handle func(req *protocol.RequestMessage) []*protocol.ResponseMessage) (*transport.Transport, *streamDevice) {
	tr, conn := newLink(t, transport.Config{})
	d := &streamDevice{conn: conn, codec: codec, handle: handle}
	go d.run()
	return tr, d
}

type connByteReader struct{ net.Conn }

func (r connByteReader) ReadByte() (byte, error) {
	var b [1]byte
	_, err := r.Read(b[:])
	return b[0], err
}

func (d *streamDevice) run() {
	r := connByteReader{d.conn}
	for {
		size, err := binary.ReadUvarint(r)
		if err != nil {
			return
		}
		body := make([]byte, size)
		for read := 0; read < len(body); {
			n, err := r.Read(body[read:])
			if err != nil {
				return
			}
			read += n
		}
		var req protocol.RequestMessage
		if err := d.codec.Unmarshal(body, &req); err != nil {
			return
		}
		d.mu.Lock()
		d.requests = append(d.requests, &req)
		d.mu.Unlock()

		for _, resp := range d.handle(&req) {
			payload, err := d.codec.Marshal(resp)
			if err != nil {
				return
			}
			if _, err := d.conn.Write(append(proto.EncodeVarint(uint64(len(payload))), payload...)); err != nil {
				return
			}
		}
	}
}

// cartSim is a stateful line-protocol cart-pole. After reset its error code
// reads NEED_RESET until homingPolls state reads have passed; a negative
// homingPolls never clears it.
type cartSim struct {
	mu          sync.Mutex
	config      protocol.Config
	target      protocol.Target
	errcode     protocol.ErrorCode
	homingPolls int
	polls       int
	poleAngles  []float64
	resetError  string
}

func newCartSim(homingPolls int) *cartSim {
	config := protocol.DefaultConfig().Merge(protocol.Config{
		HardwareMaxPosition:     protocol.Ptr(0.3),
		HardwareMaxVelocity:     protocol.Ptr(5.0),
		HardwareMaxAcceleration: protocol.Ptr(10.0),
		ClampPosition:           protocol.Ptr(true),
		ClampVelocity:           protocol.Ptr(true),
		ClampAcceleration:       protocol.Ptr(true),
		DebugLED:                protocol.Ptr(false),
	})
	return &cartSim{
		config:      config,
		target:      protocol.Target{Position: protocol.Ptr(0.0), Velocity: protocol.Ptr(0.0), Acceleration: protocol.Ptr(0.0)},
		errcode:     protocol.ErrorNeedReset,
		homingPolls: homingPolls,
	}
}

func (c *cartSim) setError(code protocol.ErrorCode) {
	c.mu.Lock()
	c.errcode = code
	c.mu.Unlock()
}

func (c *cartSim) handle(cmd string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := strings.SplitN(cmd, " ", 3)
	args := ""
	if len(parts) == 3 {
		args = parts[2]
	}

	switch {
	case parts[0] == protocol.VerbReset:
		if c.resetError != "" {
			return []string{"!" + c.resetError}
		}
		c.errcode = protocol.ErrorNeedReset
		c.polls = 0
		return []string{"~", "# homing started", "+"}
	case cmd == "get state" || strings.HasPrefix(cmd, "get state "):
		c.polls++
		if c.errcode == protocol.ErrorNeedReset && c.homingPolls >= 0 && c.polls > c.homingPolls {
			c.errcode = protocol.ErrorNone
		}
		state := protocol.State{
			Position:  protocol.Ptr(0.0),
			Velocity:  protocol.Ptr(0.0),
			ErrorCode: protocol.Ptr(c.errcode),
		}
		if len(c.poleAngles) > 0 {
			state.PoleAngle = protocol.Ptr(c.poleAngles[0])
			c.poleAngles = c.poleAngles[1:]
		}
		return []string{"+ " + state.DictFormat()}
	case strings.HasPrefix(cmd, "get config"):
		return []string{"+ " + c.config.DictFormat()}
	case strings.HasPrefix(cmd, "get target"):
		return []string{"+ " + c.target.DictFormat()}
	case strings.HasPrefix(cmd, "set config"):
		update, err := protocol.ParseConfig(args)
		if err != nil {
			return []string{"!" + err.Error()}
		}
		c.config = c.config.Merge(update)
		return []string{"+ " + update.DictFormat()}
	case strings.HasPrefix(cmd, "set target"):
		update, err := protocol.ParseTarget(args)
		if err != nil {
			return []string{"!" + err.Error()}
		}
		c.target = c.target.Merge(update)
		return []string{"+ " + c.target.DictFormat()}
	default:
		return []string{"!unknown command"}
	}
}
