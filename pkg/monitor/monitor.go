// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package monitor is the live view model. A single goroutine owns it and
// calls Poll on a fixed tick; capture stop and session export run on worker
// goroutines whose outcome a later Poll collects.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/capture"
	"github.com/Thermoquad/tpmscope/pkg/session"
	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/charmbracelet/log"
)

// Capture is the packet reader as seen by the monitor
type Capture interface {
	Start(ctx context.Context) error
	Stop() error
	State() capture.State
	Err() error
	Results() <-chan tpms.Result
}

// Sink receives every decoded reading, for example the live feed. Publish
// must not block.
type Sink interface {
	Publish(r tpms.Reading)
}

// Archive stores exported sessions
type Archive interface {
	SaveSession(ctx context.Context, s *session.Session) error
}

// Status is the capture status shown to the user
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusFaulted
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "Stopped"
	case StatusStarting:
		return "Starting"
	case StatusRunning:
		return "Running"
	case StatusStopping:
		return "Stopping"
	case StatusFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

func statusOf(s capture.State) Status {
	switch s {
	case capture.StateStarting:
		return StatusStarting
	case capture.StateRunning:
		return StatusRunning
	case capture.StateStopping:
		return StatusStopping
	case capture.StateFaulted:
		return StatusFaulted
	default:
		return StatusStopped
	}
}

// Stats are the headline counters of the current run
type Stats struct {
	PacketCount  int
	SensorCount  int
	WarningCount int
	DecodeErrors int
}

// Config holds the monitor options
type Config struct {
	// MaxPerTick bounds the results handled by one Poll
	MaxPerTick int
	// ExportDir receives session exports; empty disables file export
	ExportDir string
	Archive   Archive
	Sink      Sink
	// Now is the clock, time.Now when nil
	Now func() time.Time
}

// DefaultMaxPerTick is used when Config.MaxPerTick is zero
const DefaultMaxPerTick = 200

// ErrExportDisabled is returned by ExportNow without an export target
var ErrExportDisabled = errors.New("no export directory or archive configured")

// ErrNoSession is returned by ExportNow before the first capture
var ErrNoSession = errors.New("no session to export")

// ExportOutcome is the result of one export worker
type ExportOutcome struct {
	SessionID string
	Paths     session.ExportPaths
	Err       error
}

// Monitor holds the sensor table, counters and session of the live view.
// It is not safe for concurrent use.
type Monitor struct {
	cfg     Config
	capture Capture
	logger  *log.Logger

	sensors map[uint32]tpms.Reading
	stats   Stats
	decode  *tpms.Statistics
	status  Status
	fault   string

	session     *session.Session
	sessionOpen bool
	results     <-chan tpms.Result

	stopDone      chan error
	stopPending   bool
	exportDone    chan ExportOutcome
	exportPending int
	lastExport    *ExportOutcome

	events *eventLog
}

// New creates a stopped monitor around c
func New(c Capture, cfg Config, logger *log.Logger) *Monitor {
	if cfg.MaxPerTick <= 0 {
		cfg.MaxPerTick = DefaultMaxPerTick
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{
		cfg:        cfg,
		capture:    c,
		logger:     logger.WithPrefix("monitor"),
		sensors:    make(map[uint32]tpms.Reading),
		decode:     tpms.NewStatistics(),
		stopDone:   make(chan error, 1),
		exportDone: make(chan ExportOutcome, 8),
		events:     newEventLog(100),
	}
}

// StartCapture clears the sensor table, opens a new session and starts the
// capture process
func (m *Monitor) StartCapture(ctx context.Context) error {
	if m.capture.State().Active() {
		return capture.ErrAlreadyRunning
	}
	if m.sessionOpen {
		// Results of the previous run were not fully drained
		m.closeSession()
	}

	now := m.cfg.Now()
	m.sensors = make(map[uint32]tpms.Reading)
	m.stats = Stats{}
	m.decode.Reset()
	m.fault = ""
	m.session = session.New(now)
	m.sessionOpen = true

	err := m.capture.Start(ctx)
	m.results = m.capture.Results()
	if err != nil {
		m.status = StatusFaulted
		m.fault = err.Error()
		m.events.add(now, LevelError, "Capture failed to start: "+err.Error())
		m.logger.Error("capture failed to start", "err", err)
		return err
	}
	m.status = StatusStarting
	m.events.add(now, LevelInfo, fmt.Sprintf("Capture started, session %s", m.session.ID))
	m.logger.Info("capture started", "session", m.session.ID)
	return nil
}

// StopCapture asks the capture to stop without blocking the caller
func (m *Monitor) StopCapture() {
	if m.stopPending || !m.capture.State().Active() {
		if m.capture.State() == capture.StateFaulted {
			// Acknowledge the fault; this does not block
			m.capture.Stop()
		}
		return
	}
	m.stopPending = true
	m.status = StatusStopping
	m.events.add(m.cfg.Now(), LevelInfo, "Stopping capture")
	c := m.capture
	go func() {
		m.stopDone <- c.Stop()
	}()
}

// ExportNow exports a snapshot of the current session on a worker. A refused
// export is also recorded in the event log.
func (m *Monitor) ExportNow() error {
	err := ErrNoSession
	if m.session != nil {
		err = m.export(m.session.Snapshot())
	}
	if err != nil {
		m.events.add(m.cfg.Now(), LevelWarn, "Export skipped: "+err.Error())
		m.logger.Warn("export skipped", "err", err)
	}
	return err
}

func (m *Monitor) export(snap *session.Session) error {
	if m.cfg.ExportDir == "" && m.cfg.Archive == nil {
		return ErrExportDisabled
	}
	m.exportPending++
	dir := m.cfg.ExportDir
	archive := m.cfg.Archive
	go func() {
		res := ExportOutcome{SessionID: snap.ID.String()}
		if dir != "" {
			res.Paths, res.Err = snap.Export(dir)
		}
		if res.Err == nil && archive != nil {
			if err := archive.SaveSession(context.Background(), snap); err != nil {
				res.Err = fmt.Errorf("archiving session: %w", err)
			}
		}
		m.exportDone <- res
	}()
	return nil
}

// Poll drains at most MaxPerTick results without blocking, collects worker
// outcomes and samples the capture state. It returns the number of results
// handled.
func (m *Monitor) Poll(now time.Time) int {
	m.collectWorkers(now)

	n := 0
	for m.results != nil && n < m.cfg.MaxPerTick {
		select {
		case res, ok := <-m.results:
			if !ok {
				m.results = nil
				continue
			}
			m.handle(res)
			n++
			continue
		default:
		}
		break
	}

	m.sampleState(now)
	if n > 0 {
		m.decode.CalculateRates()
	}
	return n
}

func (m *Monitor) collectWorkers(now time.Time) {
	select {
	case err := <-m.stopDone:
		m.stopPending = false
		if err != nil {
			m.events.add(now, LevelError, "Stop: "+err.Error())
			m.logger.Error("stopping capture", "err", err)
		}
	default:
	}

	for m.exportPending > 0 {
		select {
		case res := <-m.exportDone:
			m.exportPending--
			m.lastExport = &res
			if res.Err != nil {
				m.events.add(now, LevelError, "Export failed: "+res.Err.Error())
				m.logger.Error("session export failed", "session", res.SessionID, "err", res.Err)
			} else {
				m.events.add(now, LevelInfo, "Session "+res.SessionID+" exported")
				m.logger.Info("session exported", "session", res.SessionID, "csv", res.Paths.CSV, "json", res.Paths.JSON)
			}
			continue
		default:
		}
		break
	}
}

func (m *Monitor) handle(res tpms.Result) {
	m.decode.Update(res)
	if res.Reading == nil {
		m.stats.DecodeErrors++
		m.logger.Debug("decode error", "err", res.Err, "raw", tpms.FormatHex(res.Record.Raw))
		return
	}

	r := *res.Reading
	m.sensors[r.SensorID] = r
	m.stats.PacketCount++
	m.stats.SensorCount = len(m.sensors)
	m.stats.WarningCount = 0
	for _, s := range m.sensors {
		if isAlert(s) {
			m.stats.WarningCount++
		}
	}

	if m.session != nil {
		if err := m.session.AddReading(r); err != nil {
			m.events.add(r.Timestamp, LevelWarn, "Reading not recorded: "+err.Error())
			m.logger.Warn("reading not recorded", "sensor", r.IDString(), "err", err)
		}
	}
	if m.cfg.Sink != nil {
		m.cfg.Sink.Publish(r)
	}
}

// isAlert marks the sensors counted by Stats.WarningCount
func isAlert(r tpms.Reading) bool {
	if r.BatteryLow {
		return true
	}
	switch r.Status() {
	case tpms.StatusCritical, tpms.StatusLow:
		return true
	}
	return false
}

func (m *Monitor) sampleState(now time.Time) {
	state := m.capture.State()
	status := statusOf(state)
	if m.stopPending && state.Active() {
		status = StatusStopping
	}

	if status == StatusFaulted && m.status != StatusFaulted {
		if err := m.capture.Err(); err != nil {
			m.fault = err.Error()
		}
		m.events.add(now, LevelError, "Capture faulted: "+m.fault)
		m.logger.Error("capture faulted", "err", m.fault)
	}
	if status == StatusRunning && m.status == StatusStarting {
		m.events.add(now, LevelInfo, "Capture running")
	}
	m.status = status

	if m.sessionOpen && !state.Active() && m.results == nil {
		m.closeSession()
	}
}

// closeSession finalizes the session of the finished run and exports it
func (m *Monitor) closeSession() {
	m.sessionOpen = false
	m.session.Finalize(m.cfg.Now())
	if m.session.Len() == 0 {
		return
	}
	if err := m.export(m.session.Snapshot()); err != nil && !errors.Is(err, ErrExportDisabled) {
		m.logger.Error("session export", "err", err)
	}
}

// Status returns the capture status
func (m *Monitor) Status() Status {
	return m.status
}

// Fault returns the text of the last capture fault, empty when none
func (m *Monitor) Fault() string {
	return m.fault
}

// Stats returns the headline counters
func (m *Monitor) Stats() Stats {
	return m.stats
}

// Statistics returns a copy of the decode statistics
func (m *Monitor) Statistics() tpms.Statistics {
	return *m.decode
}

// Session returns the current session, nil before the first start
func (m *Monitor) Session() *session.Session {
	return m.session
}

// Busy reports whether a stop or export worker is still running
func (m *Monitor) Busy() bool {
	return m.stopPending || m.exportPending > 0
}

// Settled reports whether the capture is down, the session of the last run
// is closed and no worker is pending
func (m *Monitor) Settled() bool {
	return !m.capture.State().Active() && !m.sessionOpen && !m.Busy()
}

// LastExport returns the outcome of the most recent export, if any
func (m *Monitor) LastExport() (ExportOutcome, bool) {
	if m.lastExport == nil {
		return ExportOutcome{}, false
	}
	return *m.lastExport, true
}

// Sensors returns the latest reading per sensor ordered by sensor ID
func (m *Monitor) Sensors() []tpms.Reading {
	out := make([]tpms.Reading, 0, len(m.sensors))
	for _, r := range m.sensors {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

// Events returns the recent event log, oldest first
func (m *Monitor) Events() []Event {
	return m.events.list()
}
