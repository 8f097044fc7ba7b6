// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cartlink/pkg/device"
	"github.com/Thermoquad/cartlink/pkg/protocol"
)

var (
	resetLimits   configFlags
	homingTimeout time.Duration
	pollInterval  time.Duration
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the device and wait for homing",
	Long: `Reset the device, apply control limits and wait until homing finishes.

The device reports NEED_RESET until the cart has found its end stops. This
command polls the state until the error code clears or the homing timeout
passes. Limits not given on the command line take their default values:
  max_x=0.25 m, max_v=2.0 m/s, max_a=3.5 m/s^2

Exit codes:
  0 - Device homed and ready
  1 - Reset failed or homing timed out`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetLimits.register(resetCmd)
	addHomingFlags(resetCmd)
}

func addHomingFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&homingTimeout, "homing-timeout", device.DefaultHomingTimeout, "Maximum time to wait for homing")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", device.DefaultPollInterval, "State poll interval while homing")
}

func runReset(cmd *cobra.Command, args []string) error {
	s, connInfo, err := OpenSession(device.SessionConfig{HomingTimeout: homingTimeout, PollInterval: pollInterval})
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Cartlink - Reset\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	config := protocol.DefaultConfig().Merge(resetLimits.config(cmd))
	if err := resetSession(s, &config); err != nil {
		return err
	}

	limits, err := s.GetConfig()
	if err != nil {
		return err
	}
	fmt.Printf("Limits: %s\n", limits)
	return nil
}

// resetSession resets s with Ctrl+C cancelling the homing wait
func resetSession(s *device.Session, config *protocol.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Resetting device, waiting for homing (up to %s)...\n", homingTimeout)
	start := time.Now()
	if err := s.ResetContext(ctx, config); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	fmt.Printf("Device ready after %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
