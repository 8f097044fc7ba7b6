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

// configFlags binds the settable Config fields. Only flags given on the
// command line become present fields.
type configFlags struct {
	maxX, maxV, maxA       float64
	clampX, clampV, clampA bool
	debugLED               bool
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.maxX, "max-x", protocol.DefaultMaxPosition, "Position limit (m)")
	cmd.Flags().Float64Var(&f.maxV, "max-v", protocol.DefaultMaxVelocity, "Velocity limit (m/s)")
	cmd.Flags().Float64Var(&f.maxA, "max-a", protocol.DefaultMaxAcceleration, "Acceleration limit (m/s^2)")
	cmd.Flags().BoolVar(&f.clampX, "clamp-x", false, "Clamp targets to the position limit instead of faulting")
	cmd.Flags().BoolVar(&f.clampV, "clamp-v", false, "Clamp targets to the velocity limit")
	cmd.Flags().BoolVar(&f.clampA, "clamp-a", false, "Clamp targets to the acceleration limit")
	cmd.Flags().BoolVar(&f.debugLED, "debug-led", false, "Drive the debug LED")
}

func (f *configFlags) config(cmd *cobra.Command) protocol.Config {
	var c protocol.Config
	changed := cmd.Flags().Changed
	if changed("max-x") {
		c.MaxPosition = protocol.Ptr(f.maxX)
	}
	if changed("max-v") {
		c.MaxVelocity = protocol.Ptr(f.maxV)
	}
	if changed("max-a") {
		c.MaxAcceleration = protocol.Ptr(f.maxA)
	}
	if changed("clamp-x") {
		c.ClampPosition = protocol.Ptr(f.clampX)
	}
	if changed("clamp-v") {
		c.ClampVelocity = protocol.Ptr(f.clampV)
	}
	if changed("clamp-a") {
		c.ClampAcceleration = protocol.Ptr(f.clampA)
	}
	if changed("debug-led") {
		c.DebugLED = protocol.Ptr(f.debugLED)
	}
	return c
}

var configSetFlags configFlags

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or change the device limits",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the full device config",
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change individual config fields",
	Long: `Send the given config fields; fields not named keep their device values.

Example:
  cartlink config set --max-v 1.5 --clamp-v`,
	RunE: runConfigSet,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd, configSetCmd)
	configSetFlags.register(configSetCmd)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	s, _, err := OpenSession(device.SessionConfig{})
	if err != nil {
		return err
	}
	defer s.Close()

	config, err := s.GetConfig()
	if err != nil {
		return err
	}
	printFields(config.DictFormat())
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	update := configSetFlags.config(cmd)
	if update.DictFormat() == "" {
		return errors.New("no config fields given")
	}

	s, _, err := OpenSession(device.SessionConfig{})
	if err != nil {
		return err
	}
	defer s.Close()

	// Refresh the limits first so the update is checked against hardware limits
	if _, err := s.GetConfig(); err != nil {
		return err
	}
	confirmed, err := s.SetConfig(update)
	if err != nil {
		return err
	}
	fmt.Printf("Confirmed: %s\n", confirmed)
	return nil
}
