// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cartlink/pkg/device"
	"github.com/Thermoquad/cartlink/pkg/protocol"
)

var (
	pingCount    int
	pingInterval time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure exchange round-trip time with GET_STATE requests",
	Long: `Send GET_STATE requests and report the round-trip time of each exchange.

Works over serial and WebSocket links. The WebSocket case is useful for
verifying:
  - WebSocket connection is established
  - HTTP Basic authentication works
  - The bridge forwards both directions

Exit codes:
  0 - All exchanges successful
  1 - One or more exchanges failed
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 3, "Number of requests to send")
	pingCmd.Flags().DurationVar(&pingInterval, "interval", 100*time.Millisecond, "Delay between requests")
}

func runPing(cmd *cobra.Command, args []string) error {
	d, tr, err := OpenDispatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer d.Close()

	fmt.Printf("Cartlink - Ping\n")
	fmt.Printf("Connection: %s\n", tr)
	fmt.Printf("Count: %d requests\n\n", pingCount)

	var rtts []time.Duration
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		start := time.Now()
		resp, err := d.Do(device.Request{Type: protocol.RequestGetState})
		rtt := time.Since(start)
		switch {
		case err != nil:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		case resp.State == nil:
			fmt.Printf("FAILED: response carries no state\n")
			failCount++
		default:
			fmt.Printf("state %s, rtt=%v\n", resp.State.Code(), rtt.Round(time.Microsecond))
			rtts = append(rtts, rtt)
		}

		if i < pingCount {
			time.Sleep(pingInterval)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d requests sent, %d responses received, %.0f%% loss\n",
		pingCount, len(rtts), float64(failCount)/float64(pingCount)*100)
	if len(rtts) > 0 {
		lo, hi, sum := rtts[0], rtts[0], time.Duration(0)
		for _, r := range rtts {
			lo, hi, sum = min(lo, r), max(hi, r), sum+r
		}
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n",
			lo.Round(time.Microsecond), (sum / time.Duration(len(rtts))).Round(time.Microsecond), hi.Round(time.Microsecond))
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
