// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/cartlink/pkg/protocol"
	"github.com/Thermoquad/cartlink/pkg/transport"
)

// LineDispatcher speaks the newline-terminated text protocol:
// "<verb> <group> <args>" out, marker-prefixed lines back.
type LineDispatcher struct {
	dispatcher
}

// NewLineDispatcher creates a text protocol dispatcher over tr
func NewLineDispatcher(tr *transport.Transport, opts Options) *LineDispatcher {
	return &LineDispatcher{dispatcher: newDispatcher(tr, opts, DialectLine)}
}

// Do implements Dispatcher
func (d *LineDispatcher) Do(req Request) (Response, error) {
	command, err := lineCommand(req)
	if err != nil {
		return Response{}, err
	}

	send := func(l transport.Link) error {
		return l.Write([]byte(command + "\n"))
	}
	recv := func(l transport.Link) (unit, error) {
		line, err := l.ReadUntil('\n')
		if err != nil {
			return unit{}, err
		}
		return classifyLine(req.Type, string(line))
	}
	return d.exchange(req, send, recv)
}

func lineCommand(req Request) (string, error) {
	switch req.Type {
	case protocol.RequestReset:
		return protocol.FormatCommand(protocol.VerbReset, "", ""), nil
	case protocol.RequestGetState:
		selector := protocol.FullState()
		if req.State != nil {
			selector = *req.State
		}
		return protocol.FormatCommand(protocol.VerbGet, protocol.GroupState, selector.ListFormat()), nil
	case protocol.RequestGetTarget:
		selector := protocol.FullTarget()
		if req.Target != nil {
			selector = *req.Target
		}
		return protocol.FormatCommand(protocol.VerbGet, protocol.GroupTarget, selector.ListFormat()), nil
	case protocol.RequestGetConfig:
		selector := protocol.FullConfig()
		if req.Config != nil {
			selector = *req.Config
		}
		return protocol.FormatCommand(protocol.VerbGet, protocol.GroupConfig, selector.ListFormat()), nil
	case protocol.RequestSetTarget:
		if req.Target == nil {
			return "", fmt.Errorf("%s without target", req.Type)
		}
		return protocol.FormatCommand(protocol.VerbSet, protocol.GroupTarget, req.Target.DictFormat()), nil
	case protocol.RequestSetConfig:
		if req.Config == nil {
			return "", fmt.Errorf("%s without config", req.Type)
		}
		return protocol.FormatCommand(protocol.VerbSet, protocol.GroupConfig, req.Config.DictFormat()), nil
	default:
		return "", fmt.Errorf("%w: %s over %s", ErrUnsupported, req.Type, DialectLine)
	}
}

// classifyLine sorts a response line by its marker and parses the group a
// success line carries for the outstanding request
func classifyLine(reqType protocol.RequestType, line string) (unit, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return unit{kind: unitUnknown}, nil
	}

	payload := strings.TrimSpace(line[1:])
	switch line[0] {
	case protocol.MarkerProcessing:
		return unit{kind: unitProcessing}, nil
	case protocol.MarkerDebug:
		return unit{kind: unitDebug, text: payload}, nil
	case protocol.MarkerError:
		return unit{kind: unitError, text: payload}, nil
	case protocol.MarkerSuccess:
		resp, err := parseLineResponse(reqType, payload)
		if err != nil {
			return unit{}, err
		}
		return unit{kind: unitAccept, resp: resp}, nil
	default:
		return unit{kind: unitUnknown, text: line}, nil
	}
}

func parseLineResponse(reqType protocol.RequestType, payload string) (Response, error) {
	var resp Response
	switch reqType {
	case protocol.RequestGetState:
		state, err := protocol.ParseState(payload)
		if err != nil {
			return resp, err
		}
		resp.State = &state
	case protocol.RequestGetTarget, protocol.RequestSetTarget:
		target, err := protocol.ParseTarget(payload)
		if err != nil {
			return resp, err
		}
		resp.Target = &target
	case protocol.RequestGetConfig, protocol.RequestSetConfig:
		config, err := protocol.ParseConfig(payload)
		if err != nil {
			return resp, err
		}
		resp.Config = &config
	}
	return resp, nil
}
