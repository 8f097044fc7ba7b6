// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"fmt"

	"github.com/golang/protobuf/proto"

	"github.com/Thermoquad/cartlink/pkg/protocol"
	"github.com/Thermoquad/cartlink/pkg/transport"
)

// maxStreamMessage bounds a length prefix so a corrupted one cannot stall the
// link waiting for bytes that never come
const maxStreamMessage = 4096

// StreamDispatcher exchanges varint length-prefixed RequestMessage and
// ResponseMessage envelopes without frame delimiters
type StreamDispatcher struct {
	dispatcher
}

// NewStreamDispatcher creates a length-prefixed dispatcher over tr
func NewStreamDispatcher(tr *transport.Transport, opts Options) *StreamDispatcher {
	return &StreamDispatcher{dispatcher: newDispatcher(tr, opts, DialectStream)}
}

// Do implements Dispatcher
func (d *StreamDispatcher) Do(req Request) (Response, error) {
	if req.Type == protocol.RequestTarget {
		return Response{}, fmt.Errorf("%w: %s over %s", ErrUnsupported, req.Type, DialectStream)
	}

	msg := &protocol.RequestMessage{Type: int32(req.Type)}
	if req.Config != nil {
		msg.Config = req.Config.Message()
	}
	if req.State != nil {
		msg.State = req.State.Message()
	}
	if req.Target != nil {
		msg.Target = req.Target.Message()
	}
	payload, err := d.opts.Codec.Marshal(msg)
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode %s request: %w", d.opts.Codec.Name(), err)
	}
	data := append(proto.EncodeVarint(uint64(len(payload))), payload...)

	send := func(l transport.Link) error {
		d.log.Trace().Int("size", len(payload)).Msg("TX payload")
		return l.Write(data)
	}
	recv := func(l transport.Link) (unit, error) {
		size, err := l.ReadVarint()
		if err != nil {
			return unit{}, err
		}
		if size > maxStreamMessage {
			return unit{}, &ProtocolError{Message: fmt.Sprintf("response length %d exceeds %d", size, maxStreamMessage)}
		}
		body, err := l.ReadFull(int(size))
		if err != nil {
			// A partial body leaves the stream out of sync; never retry it
			return unit{}, &ProtocolError{Message: fmt.Sprintf("truncated response (%v)", err)}
		}
		var resp protocol.ResponseMessage
		if err := d.opts.Codec.Unmarshal(body, &resp); err != nil {
			return unit{}, &protocol.FramingError{Reason: protocol.ReasonPayload, Detail: d.opts.Codec.Name(), Err: err}
		}
		// Envelopes carry no type; any success answers the request
		return classifyMessage(&resp, req.Type, req.Type)
	}
	return d.exchange(req, send, recv)
}
