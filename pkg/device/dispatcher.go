// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package device drives request/response exchanges with the cart-pole
// device and exposes them as a Session.
package device

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/cartlink/pkg/protocol"
	"github.com/Thermoquad/cartlink/pkg/transport"
)

// DefaultMaxTimeouts is the number of read timeouts tolerated while awaiting
// one response before the exchange fails
const DefaultMaxTimeouts = 3

// Dialect names accepted by NewDispatcher
const (
	DialectLine   = "line"
	DialectFramed = "framed"
	DialectMerged = "merged"
	DialectStream = "stream"
)

// Request is one logical operation. The group pointer matching Type carries
// the values to set, or selects the fields to get; nil selects every field.
type Request struct {
	Type   protocol.RequestType
	Config *protocol.Config
	State  *protocol.State
	Target *protocol.Target

	// Deadline, when set, ends the wait for the response once it passes,
	// whatever the timeout budget has left
	Deadline time.Time
}

// Response holds whatever groups the device returned
type Response struct {
	Type   protocol.RequestType
	Config *protocol.Config
	State  *protocol.State
	Target *protocol.Target
}

// Dispatcher performs one exchange per Do: it writes the request, then reads
// and classifies incoming units until the response or an error arrives.
type Dispatcher interface {
	Do(req Request) (Response, error)
	Stats() *Stats
	Close() error
}

// Options configures a dispatcher
type Options struct {
	// Codec encodes structured messages (framed and stream dialects).
	// Protobuf when nil.
	Codec protocol.MessageCodec

	// MaxTimeouts bounds consecutive read timeouts and dropped frames while
	// awaiting a response. Zero selects DefaultMaxTimeouts; a negative value
	// waits forever.
	MaxTimeouts int

	// Logger receives debug lines from the device and exchange events
	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Codec == nil {
		o.Codec = protocol.Protobuf
	}
	if o.MaxTimeouts == 0 {
		o.MaxTimeouts = DefaultMaxTimeouts
	}
	return o
}

// NewDispatcher builds the dispatcher for a dialect name
func NewDispatcher(dialect string, tr *transport.Transport, opts Options) (Dispatcher, error) {
	switch dialect {
	case DialectLine:
		return NewLineDispatcher(tr, opts), nil
	case DialectFramed:
		return NewFrameDispatcher(tr, opts, false), nil
	case DialectMerged:
		return NewFrameDispatcher(tr, opts, true), nil
	case DialectStream:
		return NewStreamDispatcher(tr, opts), nil
	default:
		return nil, fmt.Errorf("unknown dialect %q (use line, framed, merged or stream)", dialect)
	}
}

// unitKind classifies a received unit
type unitKind int

const (
	unitAccept unitKind = iota
	unitProcessing
	unitDebug
	unitError
	unitUnknown
	// unitStale is a success answering some earlier request
	unitStale
)

// unit is one received line or message
type unit struct {
	kind unitKind
	text string
	resp Response
}

// dispatcher holds what every dialect shares: the transport, the await loop
// and statistics
type dispatcher struct {
	tr    *transport.Transport
	opts  Options
	log   zerolog.Logger
	stats *Stats
}

func newDispatcher(tr *transport.Transport, opts Options, dialect string) dispatcher {
	opts = opts.withDefaults()
	return dispatcher{
		tr:    tr,
		opts:  opts,
		log:   opts.Logger.With().Str("dialect", dialect).Logger(),
		stats: NewStats(),
	}
}

func (d *dispatcher) Stats() *Stats {
	return d.stats
}

func (d *dispatcher) Close() error {
	return d.tr.Close()
}

// exchange writes one request with send and reads units with recv until one
// resolves it. Input left over from an earlier exchange is dropped first.
// Processing, debug and unknown units never consume the timeout budget;
// timeouts, dropped frames and stale responses do.
func (d *dispatcher) exchange(req Request, send func(transport.Link) error, recv func(transport.Link) (unit, error)) (Response, error) {
	var resp Response
	err := d.tr.Exchange(func(l transport.Link) error {
		expired := func() bool {
			return !req.Deadline.IsZero() && !time.Now().Before(req.Deadline)
		}
		if expired() {
			return &transport.TransportError{Op: "read", Err: transport.ErrTimeout}
		}
		if err := l.Discard(); err != nil {
			return err
		}
		d.log.Debug().Stringer("type", req.Type).Msg("Request")
		if err := send(l); err != nil {
			return err
		}

		misses := 0
		var stale error
		miss := func(err error) error {
			misses++
			if d.opts.MaxTimeouts >= 0 && misses > d.opts.MaxTimeouts {
				d.log.Error().Err(err).Stringer("type", req.Type).Msg("No response")
				if stale != nil {
					return stale
				}
				return err
			}
			d.log.Warn().Err(err).Stringer("type", req.Type).Int("attempt", misses).Msg("Awaiting response")
			return nil
		}

		for {
			if expired() {
				d.log.Error().Stringer("type", req.Type).Msg("No response before deadline")
				if stale != nil {
					return stale
				}
				return &transport.TransportError{Op: "read", Err: transport.ErrTimeout}
			}
			u, err := recv(l)
			if err != nil {
				if !retryable(err) {
					return err
				}
				if transport.IsTimeout(err) {
					d.stats.count(eventTimeout)
				} else {
					d.stats.count(eventFraming)
				}
				if err := miss(err); err != nil {
					return err
				}
				continue
			}

			switch u.kind {
			case unitProcessing:
				misses = 0
				d.stats.count(eventProcessing)
				d.log.Trace().Stringer("type", req.Type).Msg("Device processing")
			case unitDebug:
				misses = 0
				d.stats.count(eventDebug)
				d.log.Debug().Str("message", u.text).Msg("Device log")
			case unitUnknown:
				misses = 0
				d.stats.count(eventUnknown)
				d.log.Debug().Str("unit", u.text).Msg("Unrecognized response")
			case unitStale:
				d.stats.count(eventStale)
				stale = &ProtocolError{Message: "unexpected response type"}
				if err := miss(fmt.Errorf("skipped %s", u.text)); err != nil {
					return err
				}
			case unitError:
				d.stats.count(eventDeviceError)
				d.log.Error().Stringer("type", req.Type).Str("message", u.text).Msg("Device error")
				return &ProtocolError{Message: u.text}
			case unitAccept:
				resp = u.resp
				resp.Type = req.Type
				return nil
			}
		}
	})
	d.stats.finish(err)
	return resp, err
}
