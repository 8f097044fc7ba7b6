// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cartlink/pkg/device"
	"github.com/Thermoquad/cartlink/pkg/protocol"
	"github.com/Thermoquad/cartlink/pkg/transport"
)

var (
	monitorInterval time.Duration
	statsInterval   time.Duration
	showAll         bool
	useTUI          bool
	monitorReset    bool
	monitorUnwrap   bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll the device state and track link errors",
	Long: `Poll the device state continuously with statistics and an event log.

The terminal UI shows the latest state, the device limits and the exchange
statistics. Keys:
  r      reset the device and wait for homing
  tab    edit a target ("x=0.1 v=0.5"), enter sends it, esc cancels
  q      quit

In text mode (--tui=false) only device errors, failed exchanges and state
changes of the error code are printed unless --show-all is given, with a
statistics summary every --stats-interval.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 100*time.Millisecond, "State poll interval")
	monitorCmd.Flags().DurationVar(&statsInterval, "stats-interval", 10*time.Second, "Statistics summary interval (text mode)")
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Print every state sample (text mode)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
	monitorCmd.Flags().BoolVar(&monitorReset, "reset", false, "Reset and home the device before monitoring")
	monitorCmd.Flags().BoolVar(&monitorUnwrap, "unwrap", false, "Unwrap the pole angle")
	addHomingFlags(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	s, connInfo, err := OpenSession(device.SessionConfig{
		HomingTimeout:   homingTimeout,
		PollInterval:    pollInterval,
		UnwrapPoleAngle: monitorUnwrap,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if useTUI {
		p := tea.NewProgram(initialMonitorModel(s, connInfo, monitorInterval, monitorReset), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	}
	return runMonitorText(s, connInfo)
}

// runMonitorText polls in text mode until Ctrl+C
func runMonitorText(s *device.Session, connInfo string) error {
	fmt.Printf("Cartlink - Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Poll interval: %s, statistics every %s\n", monitorInterval, statsInterval)
	if showAll {
		fmt.Printf("Mode: All samples\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if monitorReset {
		if err := s.ResetContext(ctx, nil); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		fmt.Printf("[%s] Device ready\n\n", timestamp())
	}

	pollTicker := time.NewTicker(monitorInterval)
	defer pollTicker.Stop()
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	var lastCode protocol.ErrorCode
	first := true
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			fmt.Print(s.Stats().String())
			return nil

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(s.Stats().String())
			fmt.Println()

		case <-pollTicker.C:
			state, err := s.GetState()
			if err != nil {
				printExchangeError(err)
				if errors.Is(err, device.ErrClosed) || errors.Is(err, transport.ErrClosed) {
					return err
				}
				continue
			}
			code := state.Code()
			changed := first || code != lastCode
			switch {
			case changed && code.IsError():
				fmt.Printf("[%s] \033[1;31mDEVICE ERROR:\033[0m %s\n", timestamp(), code)
				fmt.Printf("  State: %s\n\n", state)
			case changed && lastCode.IsError():
				fmt.Printf("[%s] \033[1;32mERROR CLEARED\033[0m (sticky: %s)\n\n", timestamp(), s.DeviceError())
			case showAll:
				fmt.Printf("[%s] %s\n", timestamp(), formatState(state))
			}
			lastCode, first = code, false
		}
	}
}

// printExchangeError prints a failed exchange in highlighted format
func printExchangeError(err error) {
	var perr *device.ProtocolError
	switch {
	case transport.IsTimeout(err):
		fmt.Printf("[%s] \033[1;33mTIMEOUT:\033[0m %v\n", timestamp(), err)
	case protocol.IsFramingError(err):
		fmt.Printf("[%s] \033[1;31mFRAMING ERROR:\033[0m %v\n", timestamp(), err)
	case errors.As(err, &perr):
		fmt.Printf("[%s] \033[1;31mPROTOCOL ERROR:\033[0m %s\n", timestamp(), perr.Message)
	default:
		fmt.Printf("[%s] \033[1;31mERROR:\033[0m %v\n", timestamp(), err)
	}
}

func timestamp() string {
	return time.Now().Format("15:04:05.000")
}
