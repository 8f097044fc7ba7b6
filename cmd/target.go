// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cartlink/pkg/device"
	"github.com/Thermoquad/cartlink/pkg/protocol"
)

var targetX, targetV, targetA float64

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Read or set the motion target",
}

var targetGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current motion target",
	RunE:  runTargetGet,
}

var targetSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Send a motion target",
	Long: `Send a motion target. Any of --x, --v and --a may be given.

Targets are checked against the device limits before they are sent. Each
invocation opens a fresh session, which accepts targets only after a reset,
so the device is reset and homed first. For continuous control use monitor.

Examples:
  cartlink target set --x 0.1
  cartlink target set --v 0.5 --a 1.0`,
	RunE: runTargetSet,
}

func init() {
	rootCmd.AddCommand(targetCmd)
	targetCmd.AddCommand(targetGetCmd, targetSetCmd)

	targetSetCmd.Flags().Float64Var(&targetX, "x", 0, "Target position (m)")
	targetSetCmd.Flags().Float64Var(&targetV, "v", 0, "Target velocity (m/s)")
	targetSetCmd.Flags().Float64Var(&targetA, "a", 0, "Target acceleration (m/s^2)")
	addHomingFlags(targetSetCmd)
}

func runTargetGet(cmd *cobra.Command, args []string) error {
	s, _, err := OpenSession(device.SessionConfig{})
	if err != nil {
		return err
	}
	defer s.Close()

	target, err := s.GetTarget()
	if err != nil {
		return err
	}
	printFields(target.DictFormat())
	return nil
}

func runTargetSet(cmd *cobra.Command, args []string) error {
	var target protocol.Target
	if cmd.Flags().Changed("x") {
		target.Position = protocol.Ptr(targetX)
	}
	if cmd.Flags().Changed("v") {
		target.Velocity = protocol.Ptr(targetV)
	}
	if cmd.Flags().Changed("a") {
		target.Acceleration = protocol.Ptr(targetA)
	}
	if target.Empty() {
		return errors.New("no target fields given (use --x, --v or --a)")
	}

	s, _, err := OpenSession(device.SessionConfig{HomingTimeout: homingTimeout, PollInterval: pollInterval})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := resetSession(s, nil); err != nil {
		return err
	}

	state, err := s.SetTarget(target)
	if err != nil {
		return err
	}
	fmt.Printf("Sent target %s\n", target)
	if state.Position != nil || state.ErrorCode != nil {
		fmt.Printf("State: %s\n", formatState(state))
	}
	return nil
}
