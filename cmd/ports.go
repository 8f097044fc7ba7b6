// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cartlink/pkg/transport"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List attached serial ports",
	Long: `List the serial ports attached to this host with their USB details.

When exactly one port is listed, other commands use it without --port.`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := transport.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Printf("- %s\n", p)
	}
	return nil
}
