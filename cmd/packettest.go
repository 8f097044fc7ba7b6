// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cartlink/pkg/device"
	"github.com/Thermoquad/cartlink/pkg/protocol"
	"github.com/Thermoquad/cartlink/pkg/transport"
)

var packetTestTimeout int

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test the link with a single GET_STATE exchange",
	Long: `Send GET_STATE and wait for a valid response until timeout.

Corrupted frames, processing markers and debug output are skipped while
waiting; the exchange succeeds on the first response that decodes as a state.

Exit codes:
  0 - Valid response received before timeout
  1 - Timeout or invalid response
  2 - Connection error

Useful for checking the port, baud rate, dialect and encoding settings.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a response")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	// The --timeout deadline replaces the read timeout budget
	d, tr, err := openDispatcher(-1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer d.Close()

	fmt.Printf("Cartlink - Packet Test\n")
	fmt.Printf("Connection: %s\n", tr)
	fmt.Printf("Dialect: %s\n", dialect)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid response...\n\n")

	start := time.Now()
	resp, err := d.Do(device.Request{
		Type:     protocol.RequestGetState,
		Deadline: start.Add(time.Duration(packetTestTimeout) * time.Second),
	})
	if err == nil && resp.State == nil {
		err = errors.New("response carries no state")
	}
	switch {
	case transport.IsTimeout(err):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid response within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	case err != nil:
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("SUCCESS: Received valid response in %s\n", time.Since(start).Round(time.Microsecond))
	fmt.Printf("  State: %s\n", resp.State)
	fmt.Printf("  Error: %s\n", resp.State.Code())
	snap := d.Stats().Snapshot()
	if skipped := snap.FramingErrors + snap.UnknownUnits + snap.StaleResponses; skipped > 0 {
		fmt.Printf("  (skipped %d invalid units before the response)\n", skipped)
	}
	return nil
}
