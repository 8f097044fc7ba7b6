// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/cartlink/pkg/device"
	"github.com/Thermoquad/cartlink/pkg/protocol"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// TUI model
type monitorModel struct {
	session  *device.Session
	connInfo string
	interval time.Duration
	started  time.Time

	state        *protocol.State
	limits       protocol.Config
	resetOnStart bool
	pollLoop     bool
	homing       bool
	polling      bool
	lastPoll     time.Time

	spinner     spinner.Model
	targetInput textinput.Model

	eventLog      []logEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool

	// cancel aborts a running reset
	cancel context.CancelFunc
}

// Messages
type pollTickMsg time.Time

type stateMsg struct {
	state protocol.State
	err   error
}

type startResetMsg struct{}

type resetDoneMsg struct {
	err error
}

type configMsg struct {
	config protocol.Config
	err    error
}

type targetDoneMsg struct {
	target protocol.Target
	state  protocol.State
	err    error
}

// formatUptime formats a duration as "1 hour, 2 minutes and 3 seconds"
func formatUptime(d time.Duration) string {
	total := int64(d / time.Second)
	units := []struct {
		name string
		size int64
	}{
		{"day", 86400},
		{"hour", 3600},
		{"minute", 60},
		{"second", 1},
	}

	parts := []string{}
	for _, u := range units {
		n := total / u.size
		total %= u.size
		if n == 0 && !(u.size == 1 && len(parts) == 0) {
			continue
		}
		if n == 1 {
			parts = append(parts, "1 "+u.name)
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

func initialMonitorModel(s *device.Session, connInfo string, interval time.Duration, reset bool) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "x=0.10000 v=0.50000"
	ti.CharLimit = 64
	ti.Width = 40
	ti.Prompt = "target> "

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return monitorModel{
		session:       s,
		connInfo:      connInfo,
		interval:      interval,
		started:       time.Now(),
		limits:        s.Limits(),
		resetOnStart:  reset,
		pollLoop:      !reset,
		spinner:       sp,
		targetInput:   ti,
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.resetOnStart {
		// Started from Update, where the cancel func can be kept
		cmds = append(cmds, func() tea.Msg { return startResetMsg{} })
	} else {
		cmds = append(cmds, fetchConfigCmd(m.session), pollTickCmd(0))
	}
	return tea.Batch(cmds...)
}

func pollTickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return pollTickMsg(t)
	})
}

func pollCmd(s *device.Session) tea.Cmd {
	return func() tea.Msg {
		state, err := s.GetState()
		return stateMsg{state: state, err: err}
	}
}

func fetchConfigCmd(s *device.Session) tea.Cmd {
	return func() tea.Msg {
		config, err := s.GetConfig()
		return configMsg{config: config, err: err}
	}
}

func startResetCmd(ctx context.Context, s *device.Session) tea.Cmd {
	return func() tea.Msg {
		return resetDoneMsg{err: s.ResetContext(ctx, nil)}
	}
}

func setTargetCmd(s *device.Session, target protocol.Target) tea.Cmd {
	return func() tea.Msg {
		state, err := s.SetTarget(target)
		return targetDoneMsg{target: target, state: state, err: err}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case startResetMsg:
		return m.startReset()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pollTickMsg:
		// The session is polled by the homing loop while it runs
		if m.homing || m.polling {
			return m, pollTickCmd(m.interval)
		}
		m.polling = true
		return m, pollCmd(m.session)

	case stateMsg:
		m.polling = false
		m.lastPoll = time.Now()
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("GET_STATE failed: %v", msg.err), true)
		} else {
			prev := m.state
			m.state = &msg.state
			code := msg.state.Code()
			if code.IsError() && (prev == nil || prev.Code() != code) {
				m.addLogEntry(fmt.Sprintf("Device error: %s", code), true)
			}
		}
		return m, pollTickCmd(m.interval)

	case configMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("GET_CONFIG failed: %v", msg.err), true)
		} else {
			m.limits = m.session.Limits()
		}

	case resetDoneMsg:
		m.homing = false
		m.cancel = nil
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Reset failed: %v", msg.err), true)
		} else {
			m.addLogEntry("Device homed and ready", false)
		}
		cmds := []tea.Cmd{fetchConfigCmd(m.session)}
		if !m.pollLoop {
			m.pollLoop = true
			cmds = append(cmds, pollTickCmd(0))
		}
		return m, tea.Batch(cmds...)

	case targetDoneMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("SET_TARGET failed: %v", msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("Target sent %s", msg.target), false)
			if msg.state.Position != nil {
				m.state = &msg.state
			}
		}
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.targetInput.Focused() {
		switch msg.String() {
		case "ctrl+c":
			return m.quit()
		case "esc":
			m.targetInput.Blur()
			return m, nil
		case "enter":
			return m.submitTarget()
		}
		var cmd tea.Cmd
		m.targetInput, cmd = m.targetInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m.quit()

	case "r":
		return m.startReset()

	case "tab":
		return m, m.targetInput.Focus()
	}
	return m, nil
}

func (m monitorModel) startReset() (tea.Model, tea.Cmd) {
	if m.homing {
		return m, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.homing = true
	m.cancel = cancel
	m.addLogEntry("Resetting device", false)
	return m, startResetCmd(ctx, m.session)
}

func (m monitorModel) quit() (tea.Model, tea.Cmd) {
	if m.cancel != nil {
		m.cancel()
	}
	m.quitting = true
	return m, tea.Quit
}

// submitTarget parses the input in line format and sends it
func (m monitorModel) submitTarget() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.targetInput.Value())
	m.targetInput.Reset()
	m.targetInput.Blur()
	if text == "" {
		return m, nil
	}

	target, err := protocol.ParseTarget(text)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid target: %v", err), true)
		return m, nil
	}
	if target.Empty() {
		m.addLogEntry("Invalid target: no fields (use x=, v=, a=)", true)
		return m, nil
	}
	return m, setTargetCmd(m.session, target)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("CARTLINK MONITOR"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | up %s | q=quit r=reset tab=target",
		m.connInfo, formatUptime(time.Since(m.started)))))
	s.WriteString("\n\n")

	// Session status
	status := m.session.Status()
	switch {
	case m.homing:
		s.WriteString(warningStyle.Render(m.spinner.View() + " Homing..."))
	case status == device.StatusReady:
		s.WriteString(statsValueStyle.Render("✓ " + status.String()))
	case status == device.StatusFaulted:
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ %s (%s), press r to reset", status, m.session.DeviceError())))
	default:
		s.WriteString(warningStyle.Render(status.String() + ", press r to reset"))
	}
	s.WriteString("\n\n")

	// State
	stateContent := strings.Builder{}
	if m.state == nil {
		stateContent.WriteString(headerStyle.Render("(no state yet)"))
	} else {
		rows := [][2]string{}
		for _, token := range strings.Fields(m.state.DictFormat()) {
			name, value, _ := strings.Cut(token, "=")
			rows = append(rows, [2]string{name, value})
		}
		for i, row := range rows {
			value := statsValueStyle.Render(row[1])
			if row[0] == "errcode" && m.state.Code().IsError() {
				value = errorStyle.Render(m.state.Code().String())
			}
			stateContent.WriteString(fmt.Sprintf("%s %s", statsLabelStyle.Render(fmt.Sprintf("%-8s", row[0]+":")), value))
			if i%3 == 2 || i == len(rows)-1 {
				stateContent.WriteString("\n")
			} else {
				stateContent.WriteString("   ")
			}
		}
		stateContent.WriteString(headerStyle.Render(fmt.Sprintf("sampled %s", m.lastPoll.Format("15:04:05.000"))))
	}
	s.WriteString(statsLabelStyle.Render("State:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(stateContent.String()))
	s.WriteString("\n")

	// Limits
	s.WriteString(fmt.Sprintf("%s %s\n\n", statsLabelStyle.Render("Limits:"), headerStyle.Render(m.limits.String())))

	// Statistics
	snap := m.session.Stats().Snapshot()
	var successPercent float64
	if snap.Exchanges > 0 {
		successPercent = float64(snap.Successes) * 100.0 / float64(snap.Exchanges)
	}
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Exchanges:"), statsValueStyle.Render(fmt.Sprintf("%d", snap.Exchanges)),
		statsLabelStyle.Render("OK:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", snap.Successes, successPercent)),
		statsLabelStyle.Render("Failed:"), errorStyle.Render(fmt.Sprintf("%d", snap.Failures)),
	))
	if snap.Timeouts > 0 || snap.FramingErrors > 0 || snap.DeviceErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Timeouts:"), warningStyle.Render(fmt.Sprintf("%d", snap.Timeouts)),
			statsLabelStyle.Render("Framing:"), errorStyle.Render(fmt.Sprintf("%d", snap.FramingErrors)),
			statsLabelStyle.Render("Device:"), errorStyle.Render(fmt.Sprintf("%d", snap.DeviceErrors)),
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f req/s", snap.ExchangeRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if snap.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", snap.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", snap.ErrorRate))
		}(),
	))
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n")

	// Target input
	s.WriteString(m.targetInput.View())
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 22 // Reserve space for header, state and stats
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			ts := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(ts), errorStyle.Render("✗ "+entry.message)))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(ts), warningStyle.Render("ℹ "+entry.message)))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
