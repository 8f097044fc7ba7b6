// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Cartlink - Cart-pole device link
//
// A CLI tool for resetting, commanding and monitoring a cart-pole device
// over a serial port or a WebSocket bridge.

package main

import (
	"os"

	"github.com/Thermoquad/cartlink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
