// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cartlink/pkg/device"
	"github.com/Thermoquad/cartlink/pkg/protocol"
	"github.com/Thermoquad/cartlink/pkg/transport"
)

var (
	// Serial connection flags
	portName  string
	baudRate  int
	hardReset bool

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Protocol flags
	dialect      string
	encoding     string
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxTimeouts  int

	logLevel string
	logger   zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cartlink",
	Short: "Cart-pole device link",
	Long: `Cartlink - A CLI tool for driving a cart-pole controller over its wire protocol.

Provides commands for resetting and homing the device, reading state, setting
motion targets and limits, and watching the link for protocol errors.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 500000]
  WebSocket: --url ws://host/path [--username user]

With neither --port nor --url, the serial port is taken from SERIAL_PORT or
detected when exactly one is attached. SERIAL_SPEED overrides the default baud.

Dialects:
  line    text commands, marker-prefixed responses (default)
  framed  COBS frames with CRC-8, one request type per operation
  merged  framed, with target and state combined in one TARGET exchange
  stream  varint length-prefixed messages

For WebSocket authentication, the password is read from the CARTLINK_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", transport.DefaultBaudRate, "Baud rate (serial only)")
	rootCmd.PersistentFlags().BoolVar(&hardReset, "hard-reset", false, "Pulse RTS/DTR to reboot the device after opening (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Protocol flags
	rootCmd.PersistentFlags().StringVarP(&dialect, "dialect", "d", device.DialectLine, "Protocol dialect (line, framed, merged, stream)")
	rootCmd.PersistentFlags().StringVarP(&encoding, "encoding", "e", protocol.Protobuf.Name(), "Message encoding for binary dialects (protobuf, cbor)")
	rootCmd.PersistentFlags().DurationVar(&readTimeout, "read-timeout", transport.DefaultReadTimeout, "Read timeout per response attempt")
	rootCmd.PersistentFlags().DurationVar(&writeTimeout, "write-timeout", transport.DefaultWriteTimeout, "Write timeout")
	rootCmd.PersistentFlags().IntVar(&maxTimeouts, "max-timeouts", device.DefaultMaxTimeouts, "Read timeouts tolerated per exchange (negative waits forever)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error)")
}

// setup applies environment fallbacks and builds the logger
func setup(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		Level(level).
		With().
		Timestamp().
		Logger()

	if portName == "" && wsURL == "" {
		portName = os.Getenv("SERIAL_PORT")
	}
	if speed := os.Getenv("SERIAL_SPEED"); speed != "" && !cmd.Flags().Changed("baud") {
		if baudRate, err = strconv.Atoi(speed); err != nil {
			return fmt.Errorf("invalid SERIAL_SPEED %q: %w", speed, err)
		}
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
