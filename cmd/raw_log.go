// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cartlink/pkg/device"
	"github.com/Thermoquad/cartlink/pkg/protocol"
	"github.com/Thermoquad/cartlink/pkg/transport"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display received units in human-readable format",
	Long: `Continuously decode and display whatever the device sends, without
sending any requests.

Lines are printed as received in the line dialect. Frames are checked (COBS,
CRC-8, length) and their payload decoded with --encoding; corrupted frames are
reported and skipped. In the stream dialect each length-prefixed message is
decoded as a response.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	codec, err := messageCodec()
	if err != nil {
		return err
	}
	tr, err := OpenTransport()
	if err != nil {
		return err
	}
	defer tr.Close()

	read, err := unitReader(dialect, codec)
	if err != nil {
		return err
	}

	fmt.Printf("Cartlink - Raw Log\n")
	fmt.Printf("Connection: %s\n", tr)
	fmt.Printf("Dialect: %s\n", dialect)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		tr.Close()
	}()

	for {
		err := tr.Exchange(func(l transport.Link) error {
			text, err := read(l)
			if text != "" {
				fmt.Print(text)
			}
			return err
		})
		switch {
		case err == nil, transport.IsTimeout(err):
		case errors.Is(err, transport.ErrClosed):
			fmt.Printf("Connection closed\n")
			return nil
		default:
			fmt.Printf("[ERROR] %v\n", err)
		}
	}
}

// unitReader returns a function reading and formatting one unit of the
// dialect. Frames dropped for corruption come back as errors alongside the
// text of any valid frames read with them.
func unitReader(name string, codec protocol.MessageCodec) (func(transport.Link) (string, error), error) {
	switch name {
	case device.DialectLine:
		return func(l transport.Link) (string, error) {
			line, err := l.ReadUntil('\n')
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("[%s] %s\n", time.Now().Format("15:04:05.000"), strings.TrimRight(string(line), "\r\n")), nil
		}, nil

	case device.DialectFramed, device.DialectMerged:
		decoder := protocol.NewDecoder()
		return func(l transport.Link) (string, error) {
			raw, err := l.ReadUntil(protocol.FrameDelimiter)
			if err != nil {
				return "", err
			}
			frames, errs := decoder.Decode(raw)
			var b strings.Builder
			for _, f := range frames {
				b.WriteString(protocol.FormatFrame(f, codec))
			}
			return b.String(), errors.Join(errs...)
		}, nil

	case device.DialectStream:
		return func(l transport.Link) (string, error) {
			size, err := l.ReadVarint()
			if err != nil {
				return "", err
			}
			if size > protocol.MaxPayloadSize*16 {
				return "", fmt.Errorf("implausible message length %d", size)
			}
			body, err := l.ReadFull(int(size))
			if err != nil {
				return "", err
			}
			header := fmt.Sprintf("[%s] message len=%d\n", time.Now().Format("15:04:05.000"), size)
			var resp protocol.ResponseMessage
			if err := codec.Unmarshal(body, &resp); err != nil {
				return header + protocol.FormatHex(body), nil
			}
			return header + protocol.FormatResponse(&resp), nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown dialect %q", name)
	}
}
