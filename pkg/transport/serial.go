// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes an attached serial port
type PortInfo struct {
	Name        string
	Description string
	HardwareID  string
}

func (p PortInfo) String() string {
	s := p.Name
	if p.Description != "" {
		s += " : " + p.Description
	}
	if p.HardwareID != "" {
		s += " [" + p.HardwareID + "]"
	}
	return s
}

// ListPorts enumerates the serial ports attached to the host
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		// Fall back to bare names where USB details are unavailable
		names, nerr := serial.GetPortsList()
		if nerr != nil {
			return nil, fmt.Errorf("failed to list serial ports: %w", errors.Join(err, nerr))
		}
		ports := make([]PortInfo, len(names))
		for i, name := range names {
			ports[i] = PortInfo{Name: name}
		}
		return ports, nil
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{Name: d.Name, Description: d.Product}
		if d.IsUSB {
			info.HardwareID = fmt.Sprintf("USB VID:PID=%s:%s", d.VID, d.PID)
			if d.SerialNumber != "" {
				info.HardwareID += " SER=" + d.SerialNumber
			}
		}
		ports = append(ports, info)
	}
	return ports, nil
}

// DetectPort returns the only attached serial port. With none or several
// attached it fails, listing the candidates.
func DetectPort() (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	switch len(ports) {
	case 0:
		return "", errors.New("no serial ports detected")
	case 1:
		return ports[0].Name, nil
	}

	var b strings.Builder
	b.WriteString("too many serial ports, please select one via --port or SERIAL_PORT:")
	for _, p := range ports {
		b.WriteString("\n- " + p.String())
	}
	return "", errors.New(b.String())
}

// Open opens the serial port named by cfg (8N1), applies the read timeout
// and drops any stale input
func Open(cfg Config) (*Transport, error) {
	cfg = cfg.withDefaults()

	portName := cfg.Port
	if portName == "" {
		var err error
		if portName, err = DetectPort(); err != nil {
			return nil, &TransportError{Op: "open", Err: err}
		}
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, &TransportError{Op: "open", Err: fmt.Errorf("failed to open serial port %s: %w", portName, err)}
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, &TransportError{Op: "open", Err: fmt.Errorf("failed to set read timeout: %w", err)}
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, &TransportError{Op: "open", Err: fmt.Errorf("failed to flush input: %w", err)}
	}

	name := fmt.Sprintf("Serial: %s @ %d baud", portName, cfg.BaudRate)
	t := New(port, name, cfg)
	t.log.Info().Msg("Opened serial port")
	return t, nil
}
