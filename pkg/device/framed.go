// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"fmt"

	"github.com/Thermoquad/cartlink/pkg/protocol"
	"github.com/Thermoquad/cartlink/pkg/transport"
)

// FrameDispatcher speaks the COBS-framed binary protocol. Requests carry the
// bare group message (or nothing); responses carry a ResponseMessage.
//
// In merged mode target and state share one TARGET exchange: SetTarget sends
// the target and GetState sends an empty one, both receiving the State.
type FrameDispatcher struct {
	dispatcher
	merged bool
}

// NewFrameDispatcher creates a framed dispatcher over tr
func NewFrameDispatcher(tr *transport.Transport, opts Options, merged bool) *FrameDispatcher {
	dialect := DialectFramed
	if merged {
		dialect = DialectMerged
	}
	return &FrameDispatcher{
		dispatcher: newDispatcher(tr, opts, dialect),
		merged:     merged,
	}
}

// Do implements Dispatcher
func (d *FrameDispatcher) Do(req Request) (Response, error) {
	wireType, msg, err := d.requestFrame(req)
	if err != nil {
		return Response{}, err
	}
	encoded, err := protocol.EncodeFrameMessage(wireType, d.opts.Codec, msg)
	if err != nil {
		return Response{}, err
	}

	send := func(l transport.Link) error {
		return l.Write(encoded)
	}
	recv := func(l transport.Link) (unit, error) {
		raw, err := l.ReadUntil(protocol.FrameDelimiter)
		if err != nil {
			return unit{}, err
		}
		if len(raw) == 1 {
			// Bare delimiter between frames
			return unit{kind: unitProcessing}, nil
		}
		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			return unit{}, err
		}
		var resp protocol.ResponseMessage
		if _, err := frame.Unmarshal(d.opts.Codec, &resp); err != nil {
			return unit{}, err
		}
		return classifyMessage(&resp, frame.Type(), wireType)
	}
	return d.exchange(req, send, recv)
}

// requestFrame picks the frame type and payload for req
func (d *FrameDispatcher) requestFrame(req Request) (protocol.RequestType, protocol.Message, error) {
	if d.merged {
		switch req.Type {
		case protocol.RequestSetTarget:
			if req.Target == nil {
				return 0, nil, fmt.Errorf("%s without target", req.Type)
			}
			return protocol.RequestTarget, req.Target.Message(), nil
		case protocol.RequestGetState:
			return protocol.RequestTarget, protocol.Target{}.Message(), nil
		case protocol.RequestGetTarget:
			return 0, nil, fmt.Errorf("%w: %s over %s", ErrUnsupported, req.Type, DialectMerged)
		}
	}

	switch req.Type {
	case protocol.RequestReset, protocol.RequestGetState, protocol.RequestGetTarget, protocol.RequestGetConfig:
		return req.Type, nil, nil
	case protocol.RequestSetTarget:
		if req.Target == nil {
			return 0, nil, fmt.Errorf("%s without target", req.Type)
		}
		return req.Type, req.Target.Message(), nil
	case protocol.RequestSetConfig:
		if req.Config == nil {
			return 0, nil, fmt.Errorf("%s without config", req.Type)
		}
		return req.Type, req.Config.Message(), nil
	default:
		return 0, nil, fmt.Errorf("%w: %s", ErrUnsupported, req.Type)
	}
}

// classifyMessage sorts a structured response by status. A success of
// another type answers an earlier request that gave up and is stale.
func classifyMessage(m *protocol.ResponseMessage, got, want protocol.RequestType) (unit, error) {
	switch m.ResponseStatus() {
	case protocol.StatusProcessing:
		return unit{kind: unitProcessing}, nil
	case protocol.StatusDebug:
		return unit{kind: unitDebug, text: m.Message}, nil
	case protocol.StatusError:
		return unit{kind: unitError, text: m.Message}, nil
	case protocol.StatusOK:
		if got != want {
			return unit{kind: unitStale, text: fmt.Sprintf("%s response", got)}, nil
		}
		return unit{kind: unitAccept, resp: responseFromMessage(m)}, nil
	default:
		return unit{}, &ProtocolError{Message: fmt.Sprintf("unknown response status %d", m.Status)}
	}
}

func responseFromMessage(m *protocol.ResponseMessage) Response {
	var resp Response
	if m.Config != nil {
		c := m.Config.Group()
		resp.Config = &c
	}
	if m.State != nil {
		s := m.State.Group()
		resp.State = &s
	}
	if m.Target != nil {
		t := m.Target.Group()
		resp.Target = &t
	}
	return resp
}
