// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/monitor"
	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// TUI model
type monitorModel struct {
	ctx      context.Context
	mon      *monitor.Monitor
	tick     time.Duration
	table    table.Model
	width    int
	height   int
	quitting bool
	now      time.Time
}

// Messages
type tickMsg time.Time

var sensorColumns = []table.Column{
	{Title: "Sensor", Width: 10},
	{Title: "Supplier", Width: 12},
	{Title: "kPa", Width: 7},
	{Title: "PSI", Width: 6},
	{Title: "Temp", Width: 8},
	{Title: "Status", Width: 9},
	{Title: "Battery", Width: 7},
	{Title: "RSSI", Width: 5},
	{Title: "Last Seen", Width: 16},
}

// formatElapsed formats a duration as a human-friendly string
func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	parts := []string{}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	if len(parts) == 1 {
		return parts[0]
	}
	last := parts[len(parts)-1]
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + last
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func newMonitorModel(ctx context.Context, mon *monitor.Monitor, tick time.Duration) monitorModel {
	t := table.New(
		table.WithColumns(sensorColumns),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(s)

	return monitorModel{
		ctx:    ctx,
		mon:    mon,
		tick:   tick,
		table:  t,
		width:  80,
		height: 24,
		now:    time.Now(),
	}
}

func (m monitorModel) Init() tea.Cmd {
	return m.tickCmd()
}

func (m monitorModel) tickCmd() tea.Cmd {
	return tea.Tick(m.tick, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "s":
			// Failures surface through the status line and event log
			_ = m.mon.StartCapture(m.ctx)
			return m, nil
		case "x":
			m.mon.StopCapture()
			return m, nil
		case "e":
			// Refusals are written to the event log
			_ = m.mon.ExportNow()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(3, min(len(m.mon.Sensors())+1, m.height/2-4)))

	case tickMsg:
		m.now = time.Time(msg)
		m.mon.Poll(m.now)
		m.table.SetRows(sensorRows(m.mon.Sensors(), m.now))
		m.table.SetHeight(max(3, min(len(m.mon.Sensors())+1, m.height/2-4)))
		return m, m.tickCmd()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func sensorRows(readings []tpms.Reading, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(readings))
	for _, r := range readings {
		kpa, psi, temp, status := "-", "-", "-", "ID only"
		if r.HasTelemetry {
			kpa = fmt.Sprintf("%.1f", r.PressureKPa)
			psi = fmt.Sprintf("%.1f", r.PressurePSI())
			temp = fmt.Sprintf("%.0f°C", r.TemperatureC)
			status = r.Status().String()
		}
		battery := "OK"
		if r.BatteryLow {
			battery = "LOW"
		}
		rows = append(rows, table.Row{
			r.IDString(),
			r.Supplier.String(),
			kpa,
			psi,
			temp,
			status,
			battery,
			fmt.Sprintf("%d", r.RSSI),
			humanize.RelTime(r.Timestamp, now, "ago", "from now"),
		})
	}
	return rows
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Stopping capture...\n"
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
	s.WriteString(titleStyle.Render("TPMSCOPE - LIVE MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Mode: %s | Band: %s | s start  x stop  e export  q quit",
		cfg.Radio.Mode, cfg.CaptureConfig().Band())))
	s.WriteString("\n\n")

	// Capture status
	status := m.mon.Status()
	switch status {
	case monitor.StatusRunning:
		s.WriteString(statsValueStyle.Render("● " + status.String()))
	case monitor.StatusFaulted:
		s.WriteString(errorStyle.Render("✗ Faulted: " + m.mon.Fault()))
	case monitor.StatusStopped:
		s.WriteString(headerStyle.Render("○ " + status.String()))
	default:
		s.WriteString(warningStyle.Render("⏳ " + status.String() + "..."))
	}
	if sess := m.mon.Session(); sess != nil {
		elapsed := m.now.Sub(sess.StartedAt)
		if sess.Finalized() {
			elapsed = sess.EndedAt().Sub(sess.StartedAt)
		}
		s.WriteString(headerStyle.Render(fmt.Sprintf("  session %s, %s", sess.ID.String()[:8], formatElapsed(elapsed))))
	}
	s.WriteString("\n\n")

	// Statistics
	st := m.mon.Stats()
	decode := m.mon.Statistics()
	warnings := statsValueStyle.Render(fmt.Sprintf("%d", st.WarningCount))
	if st.WarningCount > 0 {
		warnings = errorStyle.Render(fmt.Sprintf("%d", st.WarningCount))
	}
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Packets:"), statsValueStyle.Render(fmt.Sprintf("%d", st.PacketCount)),
		statsLabelStyle.Render("Sensors:"), statsValueStyle.Render(fmt.Sprintf("%d", st.SensorCount)),
		statsLabelStyle.Render("Warnings:"), warnings,
		statsLabelStyle.Render("Decode Errors:"), warningStyle.Render(fmt.Sprintf("%d", st.DecodeErrors)),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Packet Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f pkts/s", decode.PacketRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if decode.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", decode.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", decode.ErrorRate))
		}(),
	))
	if out, ok := m.mon.LastExport(); ok {
		statsContent.WriteString("\n")
		if out.Err != nil {
			statsContent.WriteString(errorStyle.Render("Export failed: " + out.Err.Error()))
		} else if out.Paths.CSV != "" {
			statsContent.WriteString(headerStyle.Render("Last export: " + out.Paths.CSV))
		} else {
			statsContent.WriteString(headerStyle.Render("Last export: session " + out.SessionID + " archived"))
		}
	}
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Sensor table
	s.WriteString(statsLabelStyle.Render("Sensors:"))
	s.WriteString("\n")
	if len(m.mon.Sensors()) == 0 {
		s.WriteString(boxStyle.Render(headerStyle.Render("(no sensors heard yet)")))
	} else {
		s.WriteString(boxStyle.Render(m.table.View()))
	}
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 20 - m.table.Height()
	if logHeight < 3 {
		logHeight = 3
	}

	events := m.mon.Events()
	startIdx := len(events) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(events) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range events[startIdx:] {
			timestamp := headerStyle.Render(entry.Time.Format("15:04:05.000"))
			switch entry.Level {
			case monitor.LevelError:
				logContent.WriteString(timestamp + " " + errorStyle.Render("✗ "+entry.Message) + "\n")
			case monitor.LevelWarn:
				logContent.WriteString(timestamp + " " + warningStyle.Render("! "+entry.Message) + "\n")
			default:
				logContent.WriteString(timestamp + " " + statsValueStyle.Render("ℹ "+entry.Message) + "\n")
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
