// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build unix

package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/charmbracelet/log"
)

// ============================================================
// Helper Process
// ============================================================

const helperEnv = "TPMSCOPE_CAPTURE_HELPER"

// TestHelperProcess is not a real test. It is the fake capture process,
// started by the tests below through the test binary itself.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 {
		os.Exit(2)
	}
	count, _ := strconv.Atoi(os.Getenv("HELPER_COUNT"))

	switch args[0] {
	case "stream":
		emitLines(count)
		time.Sleep(time.Hour)

	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		child := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$", "--", "sleep")
		child.Env = os.Environ()
		child.Stdout = os.Stdout
		if err := child.Start(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.WriteFile(os.Getenv("HELPER_PIDFILE"), []byte(strconv.Itoa(child.Process.Pid)), 0o644)
		emitLines(count)
		time.Sleep(time.Hour)

	case "orphan":
		child := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$", "--", "sleep")
		child.Env = os.Environ()
		child.Stdout = os.Stdout
		if err := child.Start(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.WriteFile(os.Getenv("HELPER_PIDFILE"), []byte(strconv.Itoa(child.Process.Pid)), 0o644)
		emitLines(count)
		os.Exit(3)

	case "sleep":
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(time.Hour)

	case "crash":
		emitLines(count)
		fmt.Fprintln(os.Stderr, "SPI init failed: /dev/spidev0.0 not found")
		os.Exit(3)

	case "garbage":
		fmt.Println("# capture started")
		fmt.Println("this is not a record")
		emitLines(count)
		time.Sleep(time.Hour)
	}
	os.Exit(2)
}

// emitLines prints Schrader records whose sensor IDs count up from 1
func emitLines(n int) {
	w := bufio.NewWriter(os.Stdout)
	for i := 1; i <= n; i++ {
		frame := []byte{0, 0, 0, byte(i), 0x00, 0x03, 0x20, 0x50, 0xAB}
		rec := tpms.RawPacketRecord{Timestamp: time.Now(), ModeID: 0x03, Raw: frame, RSSI: -60, LQI: 30}
		fmt.Fprintln(w, tpms.FormatRecordLine(rec, "-"))
	}
	w.Flush()
}

func helperConfig(t *testing.T, mode string, count int, extraEnv ...string) Config {
	env := append(os.Environ(), helperEnv+"=1", "HELPER_COUNT="+strconv.Itoa(count))
	return Config{
		Command:          []string{os.Args[0], "-test.run=^TestHelperProcess$", "--", mode},
		Env:              append(env, extraEnv...),
		StopTimeout:      500 * time.Millisecond,
		BackpressureWarn: 20 * time.Millisecond,
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// collect reads n results from the queue
func collect(t *testing.T, ch <-chan tpms.Result, n int) []tpms.Result {
	t.Helper()
	var out []tpms.Result
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case res, ok := <-ch:
			if !ok {
				t.Fatalf("Queue closed after %d of %d results", len(out), n)
			}
			out = append(out, res)
		case <-timeout:
			t.Fatalf("Timed out after %d of %d results", len(out), n)
		}
	}
	return out
}

// processAlive inspects the process table; zombies count as dead
func processAlive(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return syscall.Kill(pid, 0) == nil
	}
	fields := strings.Fields(string(data[strings.LastIndexByte(string(data), ')')+1:]))
	return len(fields) > 0 && fields[0] != "Z"
}

// stateRecorder collects OnStateChange transitions
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (s *stateRecorder) record(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *stateRecorder) get() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states...)
}

// ============================================================
// Reader Tests
// ============================================================

func TestReader_StreamsInOrderAndStops(t *testing.T) {
	r := NewReader(helperConfig(t, "stream", 20), tpms.NewDecoder(nil), quietLogger())
	rec := &stateRecorder{}
	r.OnStateChange = rec.record

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	results := collect(t, r.Results(), 20)
	for i, res := range results {
		if !res.OK() {
			t.Fatalf("Result %d failed: %v", i, res.Err)
		}
		if res.Reading.SensorID != uint32(i+1) {
			t.Fatalf("Result %d out of order: sensor %d", i, res.Reading.SensorID)
		}
	}
	if r.State() != StateRunning {
		t.Errorf("Expected Running, got %s", r.State())
	}

	pid := r.Pid()
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if r.State() != StateIdle {
		t.Errorf("Expected Idle, got %s", r.State())
	}
	if GroupAlive(pid) {
		t.Errorf("Process group %d still alive after Stop", pid)
	}

	want := []State{StateStarting, StateRunning, StateStopping, StateIdle}
	if got := rec.get(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected transitions %v, got %v", want, got)
	}
	if s := r.Stats(); s.Records != 20 || s.Dropped != 0 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestReader_ImmediateStopLeavesNoProcesses(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	cfg := helperConfig(t, "stubborn", 1, "HELPER_PIDFILE="+pidFile)
	r := NewReader(cfg, tpms.NewDecoder(nil), quietLogger())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "grandchild pid", 5*time.Second, func() bool {
		data, err := os.ReadFile(pidFile)
		return err == nil && len(data) > 0
	})
	data, _ := os.ReadFile(pidFile)
	childPid, _ := strconv.Atoi(string(data))
	pid := r.Pid()

	start := time.Now()
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Stop took %v for a process ignoring SIGTERM", elapsed)
	}
	if r.State() != StateIdle {
		t.Errorf("Expected Idle, got %s", r.State())
	}

	waitFor(t, "capture processes to exit", 2*time.Second, func() bool {
		return !processAlive(pid) && !processAlive(childPid)
	})
}

func TestReader_UnexpectedExitFaults(t *testing.T) {
	r := NewReader(helperConfig(t, "crash", 3), tpms.NewDecoder(nil), quietLogger())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	results := r.Results()

	waitFor(t, "Faulted state", 5*time.Second, func() bool {
		return r.State() == StateFaulted
	})

	err := r.Err()
	if !errors.Is(err, ErrExitedUnexpectedly) {
		t.Fatalf("Expected unexpected exit error, got %v", err)
	}
	var perr *ProcessError
	if !errors.As(err, &perr) || perr.ExitCode != 3 {
		t.Fatalf("Expected exit code 3, got %+v", perr)
	}
	if !strings.Contains(err.Error(), "SPI init failed") {
		t.Errorf("Error should carry stderr, got %q", err)
	}
	if !strings.Contains(err.Error(), "check privilege elevation / device") {
		t.Errorf("Error should carry the elevation hint, got %q", err)
	}

	// Records read before the exit are still delivered, then the queue closes
	got := collect(t, results, 3)
	if got[2].Reading.SensorID != 3 {
		t.Errorf("Expected last sensor 3, got %d", got[2].Reading.SensorID)
	}
	if _, ok := <-results; ok {
		t.Error("Queue should be closed after a fault")
	}

	// Stop acknowledges the fault without clearing the error
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if r.State() != StateIdle || r.Err() == nil {
		t.Errorf("Expected Idle with retained error, got %s %v", r.State(), r.Err())
	}
}

func TestReader_FaultKillsLeftoverGroupMembers(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("group sweep before reaping needs waitid")
	}
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	cfg := helperConfig(t, "orphan", 2, "HELPER_PIDFILE="+pidFile)
	r := NewReader(cfg, tpms.NewDecoder(nil), quietLogger())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	pid := r.Pid()

	// The grandchild holds stdout open, so the fault is only seen once the
	// group has been swept
	waitFor(t, "Faulted state", 5*time.Second, func() bool {
		return r.State() == StateFaulted
	})
	if !errors.Is(r.Err(), ErrExitedUnexpectedly) {
		t.Fatalf("Expected unexpected exit error, got %v", r.Err())
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("Reading grandchild pid: %v", err)
	}
	childPid, _ := strconv.Atoi(string(data))
	waitFor(t, "grandchild to exit", 2*time.Second, func() bool {
		return !processAlive(childPid)
	})
	if GroupAlive(pid) {
		t.Errorf("Process group %d still alive after the fault", pid)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestReader_SpawnFailure(t *testing.T) {
	cfg := Config{Command: []string{filepath.Join(t.TempDir(), "missing-capture")}}
	r := NewReader(cfg, nil, quietLogger())

	err := r.Start(context.Background())
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("Expected spawn failure, got %v", err)
	}
	if r.State() != StateFaulted {
		t.Errorf("Expected Faulted, got %s", r.State())
	}
	if _, ok := <-r.Results(); ok {
		t.Error("Queue of a failed spawn should be closed")
	}
}

func TestReader_StartTwiceFails(t *testing.T) {
	r := NewReader(helperConfig(t, "stream", 1), nil, quietLogger())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop()

	if err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestReader_RestartAfterFault(t *testing.T) {
	r := NewReader(helperConfig(t, "crash", 0), nil, quietLogger())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "Faulted state", 5*time.Second, func() bool {
		return r.State() == StateFaulted
	})

	firstPid := r.Pid()

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if r.Pid() == firstPid {
		t.Errorf("Restart reused pid %d", firstPid)
	}
	waitFor(t, "second fault", 5*time.Second, func() bool {
		return r.State() == StateFaulted
	})
}

func TestReader_BackpressureBlocksWithoutDropping(t *testing.T) {
	cfg := helperConfig(t, "stream", 8)
	cfg.QueueSize = 2
	r := NewReader(cfg, tpms.NewDecoder(nil), quietLogger())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop()

	waitFor(t, "backpressure warning", 5*time.Second, func() bool {
		return r.Stats().Backpressure > 0
	})

	results := collect(t, r.Results(), 8)
	for i, res := range results {
		if res.Reading.SensorID != uint32(i+1) {
			t.Fatalf("Result %d out of order: sensor %d", i, res.Reading.SensorID)
		}
	}
	if s := r.Stats(); s.Dropped != 0 {
		t.Errorf("Expected no drops, got %d", s.Dropped)
	}
}

func TestReader_StopCountsBlockedResultAsDropped(t *testing.T) {
	cfg := helperConfig(t, "stream", 4)
	cfg.QueueSize = 1
	r := NewReader(cfg, tpms.NewDecoder(nil), quietLogger())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "blocked producer", 5*time.Second, func() bool {
		return r.Stats().Backpressure > 0
	})
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s := r.Stats(); s.Dropped != 1 {
		t.Errorf("Expected 1 counted drop, got %+v", s)
	}
}

func TestReader_SkipsInfoAndGarbageLines(t *testing.T) {
	r := NewReader(helperConfig(t, "garbage", 2), tpms.NewDecoder(nil), quietLogger())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop()

	collect(t, r.Results(), 2)
	s := r.Stats()
	if s.InfoLines != 1 || s.ParseErrors != 1 || s.Records != 2 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestReader_ContextCancelStops(t *testing.T) {
	r := NewReader(helperConfig(t, "stream", 1), nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	collect(t, r.Results(), 1)
	pid := r.Pid()

	cancel()
	waitFor(t, "Idle after cancel", 5*time.Second, func() bool {
		return r.State() == StateIdle
	})
	if GroupAlive(pid) {
		t.Errorf("Process group %d alive after cancel", pid)
	}
}

// ============================================================
// Emitter Tests
// ============================================================

func TestEmitter_WritesStdoutAndCSV(t *testing.T) {
	dir := t.TempDir()
	var out strings.Builder
	started := time.Date(2025, 6, 1, 9, 5, 7, 0, time.UTC)

	e, err := NewEmitter(&out, dir, "tpms", started, tpms.NewDecoder(nil))
	if err != nil {
		t.Fatalf("NewEmitter failed: %v", err)
	}
	if filepath.Base(e.Path()) != "capture_TPMS_20250601_090507.csv" {
		t.Errorf("Unexpected file name %s", e.Path())
	}

	frame := []byte{0x12, 0x34, 0x56, 0x78, 0x00, 0x03, 0x20, 0x50, 0xAB}
	rec := tpms.RawPacketRecord{Timestamp: started, ModeID: 0x03, Raw: frame, RSSI: -58, LQI: 42}
	if err := e.Emit(rec, "crc=1"); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if err := e.Emit(tpms.RawPacketRecord{Timestamp: started, ModeID: 0x03, Raw: []byte{1}}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	e.Info("not in the file")
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 stdout lines, got %q", lines)
	}
	if !strings.Contains(lines[0], ",Schrader id=12345678 200.0kPa 40.0C NORMAL,") || !strings.HasSuffix(lines[0], ",crc=1") {
		t.Errorf("Unexpected decoded line %q", lines[0])
	}
	if !strings.Contains(lines[1], ",-,rssi=0,lqi=0,error=NoProtocolMatched") {
		t.Errorf("Unexpected undecoded line %q", lines[1])
	}

	data, err := os.ReadFile(e.Path())
	if err != nil {
		t.Fatalf("Reading CSV failed: %v", err)
	}
	csv := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(csv) != 3 || csv[0] != csvHeader || csv[1] != lines[0] || csv[2] != lines[1] {
		t.Errorf("CSV does not mirror stdout:\n%s", data)
	}

	parsed, err := tpms.ParseRecordLine(csv[1])
	if err != nil || parsed.RSSI != -58 || parsed.LQI != 42 {
		t.Errorf("CSV line does not parse back: %+v %v", parsed, err)
	}
	if e.Count() != 2 {
		t.Errorf("Expected count 2, got %d", e.Count())
	}
}
