// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cartlink/pkg/device"
	"github.com/Thermoquad/cartlink/pkg/protocol"
)

var (
	stateWatch  time.Duration
	stateUnwrap bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Read the device state",
	Long: `Read the full device state once, or repeatedly with --watch.

With --watch each sample is printed on one line until Ctrl+C, followed by the
exchange statistics. --unwrap makes the pole angle continuous across full turns.`,
	RunE: runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.Flags().DurationVar(&stateWatch, "watch", 0, "Poll interval (0 reads once)")
	stateCmd.Flags().BoolVar(&stateUnwrap, "unwrap", false, "Unwrap the pole angle")
}

func runState(cmd *cobra.Command, args []string) error {
	s, _, err := OpenSession(device.SessionConfig{UnwrapPoleAngle: stateUnwrap})
	if err != nil {
		return err
	}
	defer s.Close()

	if stateWatch <= 0 {
		state, err := s.GetState()
		if err != nil {
			return err
		}
		printFields(state.DictFormat())
		if code := state.Code(); code.IsError() {
			fmt.Printf("error: %s\n", code)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ticker := time.NewTicker(stateWatch)
	defer ticker.Stop()

	for {
		state, err := s.GetState()
		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] %v\n", time.Now().Format("15:04:05.000"), err)
		} else {
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), formatState(state))
		}

		select {
		case <-ctx.Done():
			fmt.Println()
			fmt.Print(s.Stats().String())
			return nil
		case <-ticker.C:
		}
	}
}

// formatState renders a State on one line, flagging a device error
func formatState(state protocol.State) string {
	line := state.DictFormat()
	if code := state.Code(); code.IsError() {
		line += " [" + code.String() + "]"
	}
	return line
}

// printFields prints "wire=value" tokens one per line
func printFields(dict string) {
	for _, token := range strings.Fields(dict) {
		name, value, _ := strings.Cut(token, "=")
		fmt.Printf("  %-10s %s\n", name, value)
	}
}
