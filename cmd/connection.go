// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/cartlink/pkg/device"
	"github.com/Thermoquad/cartlink/pkg/protocol"
	"github.com/Thermoquad/cartlink/pkg/transport"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("CARTLINK_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

func transportConfig() transport.Config {
	return transport.Config{
		Port:         portName,
		BaudRate:     baudRate,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		Logger:       logger.With().Str("component", "transport").Logger(),
	}
}

// OpenTransport opens either a serial or WebSocket link based on flags
func OpenTransport() (*transport.Transport, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}
		return transport.OpenWebSocket(wsURL, wsUsername, password, wsNoSSLVerify, transportConfig())
	}

	tr, err := transport.Open(transportConfig())
	if err != nil {
		return nil, err
	}
	if hardReset {
		if err := tr.HardReset(transport.DefaultResetDelay); err != nil {
			tr.Close()
			return nil, err
		}
	}
	return tr, nil
}

// messageCodec resolves --encoding
func messageCodec() (protocol.MessageCodec, error) {
	return protocol.CodecByName(encoding)
}

// OpenDispatcher opens the link and wraps it in the --dialect dispatcher
func OpenDispatcher() (device.Dispatcher, *transport.Transport, error) {
	return openDispatcher(maxTimeouts)
}

// openDispatcher is OpenDispatcher with an explicit timeout budget
func openDispatcher(budget int) (device.Dispatcher, *transport.Transport, error) {
	codec, err := messageCodec()
	if err != nil {
		return nil, nil, err
	}
	tr, err := OpenTransport()
	if err != nil {
		return nil, nil, err
	}
	d, err := device.NewDispatcher(dialect, tr, device.Options{
		Codec:       codec,
		MaxTimeouts: budget,
		Logger:      logger.With().Str("component", "dispatcher").Logger(),
	})
	if err != nil {
		tr.Close()
		return nil, nil, err
	}
	return d, tr, nil
}

// OpenSession opens a device session over the configured link
func OpenSession(cfg device.SessionConfig) (*device.Session, string, error) {
	d, tr, err := OpenDispatcher()
	if err != nil {
		return nil, "", err
	}
	cfg.Logger = logger.With().Str("component", "session").Logger()
	return device.NewSession(d, cfg), tr.String(), nil
}
