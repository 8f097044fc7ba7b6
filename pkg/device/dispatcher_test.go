// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/cartlink/pkg/protocol"
	"github.com/Thermoquad/cartlink/pkg/transport"
)

// ============================================================
// Line dialect
// ============================================================

func TestLine_ClassifiesUnits(t *testing.T) {
	tr, dev := startLineDevice(t, transport.Config{}, func(cmd string) []string {
		return []string{"~", "# encoder calibrated", "garbage", "", "+ x=0.10000 errcode=0"}
	})
	d := NewLineDispatcher(tr, Options{})

	resp, err := d.Do(Request{Type: protocol.RequestGetState})
	require.NoError(t, err)
	require.NotNil(t, resp.State)
	require.Equal(t, 0.1, *resp.State.Position)
	require.Equal(t, protocol.ErrorNone, resp.State.Code())
	require.Nil(t, resp.State.Velocity, "fields the device did not return stay absent")
	require.Equal(t, protocol.RequestGetState, resp.Type)

	require.Equal(t, []string{"get state x v a pole_x pole_v errcode imu_a motor_x motor_v"}, dev.received())

	c := d.Stats().Snapshot()
	require.Equal(t, uint64(1), c.Processing)
	require.Equal(t, uint64(1), c.DebugMessages)
	require.Equal(t, uint64(2), c.UnknownUnits)
	require.Equal(t, uint64(1), c.Successes)
}

func TestLine_Commands(t *testing.T) {
	tr, dev := startLineDevice(t, transport.Config{}, func(cmd string) []string {
		return []string{"+"}
	})
	d := NewLineDispatcher(tr, Options{})

	requests := []Request{
		{Type: protocol.RequestReset},
		{Type: protocol.RequestSetTarget, Target: &protocol.Target{Position: protocol.Ptr(0.1)}},
		{Type: protocol.RequestGetTarget, Target: &protocol.Target{Velocity: protocol.Ptr(0.0)}},
		{Type: protocol.RequestSetConfig, Config: &protocol.Config{ClampVelocity: protocol.Ptr(false)}},
		{Type: protocol.RequestGetConfig},
	}
	for _, req := range requests {
		_, err := d.Do(req)
		require.NoError(t, err, req.Type.String())
	}

	require.Equal(t, []string{
		"reset",
		"set target x=0.10000",
		"get target v",
		"set config clamp_v=false",
		"get config max_x max_v max_a hw_max_x hw_max_v hw_max_a clamp_x clamp_v clamp_a debug_led",
	}, dev.received())
}

func TestLine_ErrorMarker(t *testing.T) {
	tr, _ := startLineDevice(t, transport.Config{}, func(cmd string) []string {
		return []string{"# starting", "!homing failed"}
	})
	d := NewLineDispatcher(tr, Options{})

	_, err := d.Do(Request{Type: protocol.RequestReset})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "homing failed", perr.Message)
	require.Equal(t, uint64(1), d.Stats().Snapshot().DeviceErrors)
}

func TestLine_MalformedSuccess(t *testing.T) {
	tr, _ := startLineDevice(t, transport.Config{}, func(cmd string) []string {
		return []string{"+ x=oops"}
	})
	d := NewLineDispatcher(tr, Options{})

	_, err := d.Do(Request{Type: protocol.RequestGetTarget})
	require.ErrorIs(t, err, protocol.ErrMalformedGroup)
}

func TestLine_BoundedTimeouts(t *testing.T) {
	tr, _ := startLineDevice(t, transport.Config{ReadTimeout: 20 * time.Millisecond}, func(cmd string) []string {
		return nil
	})
	d := NewLineDispatcher(tr, Options{MaxTimeouts: 2})

	start := time.Now()
	_, err := d.Do(Request{Type: protocol.RequestGetState})
	require.True(t, transport.IsTimeout(err), "expected timeout, got %v", err)
	require.Less(t, time.Since(start), time.Second)

	c := d.Stats().Snapshot()
	require.Equal(t, uint64(3), c.Timeouts)
	require.Equal(t, uint64(1), c.Failures)
}

func TestLine_SlowDeviceWithinBudget(t *testing.T) {
	tr, _ := startLineDevice(t, transport.Config{ReadTimeout: 20 * time.Millisecond}, func(cmd string) []string {
		time.Sleep(50 * time.Millisecond)
		return []string{"+ x=0.00000 v=0.00000 a=0.00000"}
	})
	d := NewLineDispatcher(tr, Options{MaxTimeouts: 10})

	resp, err := d.Do(Request{Type: protocol.RequestGetTarget})
	require.NoError(t, err)
	require.NotNil(t, resp.Target)
	require.Greater(t, d.Stats().Snapshot().Timeouts, uint64(0))
}

func TestLine_RecoversAfterTimedOutExchange(t *testing.T) {
	sim := newCartSim(0)
	handle, lateSent := lateFirstReply(150*time.Millisecond, sim.handle)
	tr, dev := startLineDevice(t, transport.Config{ReadTimeout: 30 * time.Millisecond}, handle)
	d := NewLineDispatcher(tr, Options{MaxTimeouts: 1})

	_, err := d.Do(Request{Type: protocol.RequestGetConfig})
	require.True(t, transport.IsTimeout(err), "expected timeout, got %v", err)
	<-lateSent
	time.Sleep(20 * time.Millisecond)

	// The late config reply must not answer the next request
	for i := 0; i < 3; i++ {
		resp, err := d.Do(Request{Type: protocol.RequestGetState})
		require.NoError(t, err)
		require.NotNil(t, resp.State)
		require.NotNil(t, resp.State.Position)
		require.Nil(t, resp.Config)

		resp, err = d.Do(Request{Type: protocol.RequestGetConfig})
		require.NoError(t, err)
		require.NotNil(t, resp.Config)
		require.Equal(t, protocol.DefaultMaxPosition, *resp.Config.MaxPosition)
	}
	require.Len(t, dev.received(), 7)
	require.Equal(t, uint64(6), d.Stats().Snapshot().Successes)
}

func TestLine_DeadlineBoundsUnlimitedBudget(t *testing.T) {
	tr, _ := startLineDevice(t, transport.Config{ReadTimeout: 20 * time.Millisecond}, func(cmd string) []string {
		return nil
	})
	d := NewLineDispatcher(tr, Options{MaxTimeouts: -1})

	start := time.Now()
	_, err := d.Do(Request{Type: protocol.RequestGetState, Deadline: start.Add(100 * time.Millisecond)})
	require.True(t, transport.IsTimeout(err), "expected timeout, got %v", err)
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	require.Less(t, time.Since(start), time.Second)
}

func TestLine_Unsupported(t *testing.T) {
	tr, _ := startLineDevice(t, transport.Config{}, func(string) []string { return nil })
	d := NewLineDispatcher(tr, Options{})

	_, err := d.Do(Request{Type: protocol.RequestTarget})
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = d.Do(Request{Type: protocol.RequestSetTarget})
	require.Error(t, err)
}

// ============================================================
// Framed dialect
// ============================================================

func TestFramed_SetTarget(t *testing.T) {
	codec := protocol.Protobuf
	tr, dev := startFrameDevice(t, transport.Config{}, func(f *protocol.Frame) [][]byte {
		var target protocol.TargetMessage
		if _, err := f.Unmarshal(codec, &target); err != nil {
			return nil
		}
		return [][]byte{
			responseFrame(t, codec, f.Type(), &protocol.ResponseMessage{Status: int32(protocol.StatusProcessing)}),
			responseFrame(t, codec, f.Type(), &protocol.ResponseMessage{Status: int32(protocol.StatusDebug), Message: "accel ramp"}),
			responseFrame(t, codec, f.Type(), &protocol.ResponseMessage{Target: target.Group().Message()}),
		}
	})
	d := NewFrameDispatcher(tr, Options{Codec: codec}, false)

	want := protocol.Target{Position: protocol.Ptr(1.0), Velocity: protocol.Ptr(2.0), Acceleration: protocol.Ptr(3.0)}
	resp, err := d.Do(Request{Type: protocol.RequestSetTarget, Target: &want})
	require.NoError(t, err)
	require.NotNil(t, resp.Target)
	require.Equal(t, want.String(), resp.Target.String())

	frames := dev.received()
	require.Len(t, frames, 1)
	require.Equal(t, protocol.RequestSetTarget, frames[0].Type())

	c := d.Stats().Snapshot()
	require.Equal(t, uint64(1), c.Processing)
	require.Equal(t, uint64(1), c.DebugMessages)
}

func TestFramed_EmptyRequests(t *testing.T) {
	codec := protocol.CBOR
	tr, dev := startFrameDevice(t, transport.Config{}, func(f *protocol.Frame) [][]byte {
		state := protocol.State{ErrorCode: protocol.Ptr(protocol.ErrorNone), PoleAngle: protocol.Ptr(0.5)}
		return [][]byte{responseFrame(t, codec, f.Type(), &protocol.ResponseMessage{State: state.Message()})}
	})
	d := NewFrameDispatcher(tr, Options{Codec: codec}, false)

	resp, err := d.Do(Request{Type: protocol.RequestGetState})
	require.NoError(t, err)
	require.NotNil(t, resp.State)
	require.Equal(t, 0.5, *resp.State.PoleAngle)

	frames := dev.received()
	require.Len(t, frames, 1)
	require.Equal(t, uint8(0), frames[0].Length(), "GET requests carry no payload")
}

func TestFramed_UnexpectedType(t *testing.T) {
	codec := protocol.Protobuf
	tr, _ := startFrameDevice(t, transport.Config{ReadTimeout: 20 * time.Millisecond}, func(f *protocol.Frame) [][]byte {
		return [][]byte{responseFrame(t, codec, protocol.RequestGetConfig, &protocol.ResponseMessage{})}
	})
	d := NewFrameDispatcher(tr, Options{MaxTimeouts: 1}, false)

	_, err := d.Do(Request{Type: protocol.RequestGetState})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "unexpected response type", perr.Message)

	c := d.Stats().Snapshot()
	require.Equal(t, uint64(1), c.StaleResponses)
	require.Equal(t, uint64(1), c.Timeouts)
}

func TestFramed_SkipsStaleResponse(t *testing.T) {
	codec := protocol.Protobuf
	cart := framedCart(t, codec)
	tr, _ := startFrameDevice(t, transport.Config{}, func(f *protocol.Frame) [][]byte {
		// A config reply to a request that already gave up arrives first
		stale := responseFrame(t, codec, protocol.RequestGetConfig, &protocol.ResponseMessage{
			Config: protocol.DefaultConfig().Message(),
		})
		return append([][]byte{stale}, cart(f)...)
	})
	d := NewFrameDispatcher(tr, Options{Codec: codec}, false)

	resp, err := d.Do(Request{Type: protocol.RequestGetState})
	require.NoError(t, err)
	require.NotNil(t, resp.State)
	require.Nil(t, resp.Config)
	require.Equal(t, uint64(1), d.Stats().Snapshot().StaleResponses)
}

func TestFramed_RecoversAfterTimedOutExchange(t *testing.T) {
	codec := protocol.Protobuf
	handle, lateSent := lateFirstReply(150*time.Millisecond, framedCart(t, codec))
	tr, dev := startFrameDevice(t, transport.Config{ReadTimeout: 30 * time.Millisecond}, handle)
	d := NewFrameDispatcher(tr, Options{Codec: codec, MaxTimeouts: 1}, false)

	_, err := d.Do(Request{Type: protocol.RequestGetConfig})
	require.True(t, transport.IsTimeout(err), "expected timeout, got %v", err)
	<-lateSent
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		resp, err := d.Do(Request{Type: protocol.RequestGetState})
		require.NoError(t, err)
		require.NotNil(t, resp.State)
		require.Equal(t, protocol.ErrorNone, resp.State.Code())

		resp, err = d.Do(Request{Type: protocol.RequestGetConfig})
		require.NoError(t, err)
		require.NotNil(t, resp.Config)
	}
	require.Len(t, dev.received(), 7)

	c := d.Stats().Snapshot()
	require.Equal(t, uint64(6), c.Successes)
	require.Equal(t, uint64(1), c.Failures)
}

func TestFramed_ErrorStatus(t *testing.T) {
	codec := protocol.Protobuf
	tr, _ := startFrameDevice(t, transport.Config{}, func(f *protocol.Frame) [][]byte {
		return [][]byte{responseFrame(t, codec, f.Type(), &protocol.ResponseMessage{
			Status:  int32(protocol.StatusError),
			Message: "homing failed",
		})}
	})
	d := NewFrameDispatcher(tr, Options{}, false)

	_, err := d.Do(Request{Type: protocol.RequestReset})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "homing failed", perr.Message)
}

func TestFramed_ResyncAfterCorruption(t *testing.T) {
	codec := protocol.Protobuf
	tr, _ := startFrameDevice(t, transport.Config{}, func(f *protocol.Frame) [][]byte {
		good := responseFrame(t, codec, f.Type(), &protocol.ResponseMessage{
			Config: protocol.DefaultConfig().Message(),
		})
		bad := append([]byte(nil), good...)
		bad[1] ^= 0x10
		return [][]byte{bad, good}
	})
	d := NewFrameDispatcher(tr, Options{}, false)

	resp, err := d.Do(Request{Type: protocol.RequestGetConfig})
	require.NoError(t, err)
	require.NotNil(t, resp.Config)
	require.Equal(t, float32(protocol.DefaultMaxVelocity), float32(*resp.Config.MaxVelocity))
	require.Equal(t, uint64(1), d.Stats().Snapshot().FramingErrors)
}

func TestFramed_CorruptionExhaustsBudget(t *testing.T) {
	tr, _ := startFrameDevice(t, transport.Config{}, func(f *protocol.Frame) [][]byte {
		return [][]byte{{0x09, 0x01, 0x00}, {0x09, 0x01, 0x00}}
	})
	d := NewFrameDispatcher(tr, Options{MaxTimeouts: 1}, false)

	_, err := d.Do(Request{Type: protocol.RequestGetConfig})
	require.True(t, protocol.IsFramingError(err), "expected framing error, got %v", err)
}

func TestMerged_TargetExchange(t *testing.T) {
	codec := protocol.Protobuf
	tr, dev := startFrameDevice(t, transport.Config{}, func(f *protocol.Frame) [][]byte {
		state := protocol.State{Position: protocol.Ptr(0.05), ErrorCode: protocol.Ptr(protocol.ErrorNone)}
		return [][]byte{responseFrame(t, codec, f.Type(), &protocol.ResponseMessage{State: state.Message()})}
	})
	d := NewFrameDispatcher(tr, Options{Codec: codec}, true)

	resp, err := d.Do(Request{Type: protocol.RequestGetState})
	require.NoError(t, err)
	require.NotNil(t, resp.State)

	target := protocol.Target{Position: protocol.Ptr(0.1)}
	resp, err = d.Do(Request{Type: protocol.RequestSetTarget, Target: &target})
	require.NoError(t, err)
	require.NotNil(t, resp.State)
	require.InDelta(t, 0.05, *resp.State.Position, 1e-6)

	frames := dev.received()
	require.Len(t, frames, 2)
	for _, f := range frames {
		require.Equal(t, protocol.RequestTarget, f.Type())
	}
	var sent protocol.TargetMessage
	_, err = frames[1].Unmarshal(codec, &sent)
	require.NoError(t, err)
	require.Equal(t, target.String(), sent.Group().String())

	_, err = d.Do(Request{Type: protocol.RequestGetTarget})
	require.ErrorIs(t, err, ErrUnsupported)
}

// ============================================================
// Stream dialect
// ============================================================

func TestStream_Exchange(t *testing.T) {
	for _, codec := range []protocol.MessageCodec{protocol.Protobuf, protocol.CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			tr, dev := startStreamDevice(t, codec, func(req *protocol.RequestMessage) []*protocol.ResponseMessage {
				switch protocol.RequestType(req.Type) {
				case protocol.RequestSetConfig:
					return []*protocol.ResponseMessage{
						{Status: int32(protocol.StatusProcessing)},
						{Config: req.Config},
					}
				case protocol.RequestReset:
					return []*protocol.ResponseMessage{{Status: int32(protocol.StatusError), Message: "motor stalled"}}
				default:
					return []*protocol.ResponseMessage{{State: protocol.FullState().Message()}}
				}
			})
			d := NewStreamDispatcher(tr, Options{Codec: codec})

			config := protocol.Config{MaxPosition: protocol.Ptr(0.2)}
			resp, err := d.Do(Request{Type: protocol.RequestSetConfig, Config: &config})
			require.NoError(t, err)
			require.NotNil(t, resp.Config)
			require.InDelta(t, 0.2, *resp.Config.MaxPosition, 1e-6)

			resp, err = d.Do(Request{Type: protocol.RequestGetState})
			require.NoError(t, err)
			require.NotNil(t, resp.State)

			_, err = d.Do(Request{Type: protocol.RequestReset})
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, "motor stalled", perr.Message)

			dev.mu.Lock()
			defer dev.mu.Unlock()
			require.Len(t, dev.requests, 3)
			require.Equal(t, int32(protocol.RequestSetConfig), dev.requests[0].Type)
			require.NotNil(t, dev.requests[0].Config)
		})
	}
}

func TestNewDispatcher(t *testing.T) {
	tr, _ := newLink(t, transport.Config{})
	for _, dialect := range []string{DialectLine, DialectFramed, DialectMerged, DialectStream} {
		d, err := NewDispatcher(dialect, tr, Options{})
		require.NoError(t, err)
		require.NotNil(t, d)
	}
	_, err := NewDispatcher("smoke-signals", tr, Options{})
	require.Error(t, err)
}
