// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture supervises the privileged capture process and streams its
// packet records, decoded, into a bounded queue.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/charmbracelet/log"
)

// Config describes the capture process and queue limits
type Config struct {
	// Command is the full argv, including any privilege wrapper
	Command []string
	// Env replaces the child environment when non-nil
	Env []string

	QueueSize        int
	StopTimeout      time.Duration
	BackpressureWarn time.Duration
	StderrLines      int
}

// Defaults applied to zero Config fields
const (
	DefaultQueueSize        = 256
	DefaultStopTimeout      = 3 * time.Second
	DefaultBackpressureWarn = 500 * time.Millisecond
	DefaultStderrLines      = 8
)

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.BackpressureWarn <= 0 {
		c.BackpressureWarn = DefaultBackpressureWarn
	}
	if c.StderrLines <= 0 {
		c.StderrLines = DefaultStderrLines
	}
	return c
}

// Stats are the reader counters
type Stats struct {
	Lines        uint64
	Records      uint64
	InfoLines    uint64
	ParseErrors  uint64
	DecodeErrors uint64
	Dropped      uint64
	Backpressure uint64
}

// run is the per-start state. A new run is created by every Start.
type run struct {
	cmd     *exec.Cmd
	pid     int
	results chan tpms.Result
	stdout  *os.File
	stderr  *tail

	stop     chan struct{} // closed when Stop begins
	stopOnce sync.Once
	exited   chan struct{} // closed after cmd.Wait returns
	done     chan struct{} // closed when the stdout reader returns
	waitErr  error

	stderrDone chan struct{}

	sigMu  sync.Mutex
	reaped bool // once set, pid may be reused and the group is off limits
}

// signal applies fn to the process group unless the leader has been reaped
func (r *run) signal(fn func(pid int) error) error {
	r.sigMu.Lock()
	defer r.sigMu.Unlock()
	if r.reaped {
		return nil
	}
	return fn(r.pid)
}

func (r *run) markReaped() {
	r.sigMu.Lock()
	r.reaped = true
	r.sigMu.Unlock()
}

func (r *run) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// Reader owns the capture process lifecycle:
//
//	Idle -> Starting -> Running -> Stopping -> Idle
//
// with Faulted reachable from Starting and Running.
type Reader struct {
	cfg     Config
	decoder *tpms.Decoder
	logger  *log.Logger

	mu    sync.Mutex
	state State
	err   error
	cur   *run

	lines        atomic.Uint64
	records      atomic.Uint64
	infoLines    atomic.Uint64
	parseErrors  atomic.Uint64
	decodeErrors atomic.Uint64
	dropped      atomic.Uint64
	backpressure atomic.Uint64

	// OnStateChange is called after every transition, outside the lock.
	// Set it before Start.
	OnStateChange func(State)
}

// NewReader creates an idle reader
func NewReader(cfg Config, decoder *tpms.Decoder, logger *log.Logger) *Reader {
	if logger == nil {
		logger = log.Default()
	}
	if decoder == nil {
		decoder = tpms.NewDecoder(nil)
	}
	return &Reader{
		cfg:     cfg.withDefaults(),
		decoder: decoder,
		logger:  logger.WithPrefix("reader"),
	}
}

// State returns the current state
func (r *Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the fault of the last run, if any
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Pid returns the process group id of the current or last capture process
func (r *Reader) Pid() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return 0
	}
	return r.cur.pid
}

// Results returns the result queue of the current run. It is closed when
// the run's reader goroutine exits; buffered results remain readable.
func (r *Reader) Results() <-chan tpms.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return nil
	}
	return r.cur.results
}

// Stats returns a snapshot of the counters
func (r *Reader) Stats() Stats {
	return Stats{
		Lines:        r.lines.Load(),
		Records:      r.records.Load(),
		InfoLines:    r.infoLines.Load(),
		ParseErrors:  r.parseErrors.Load(),
		DecodeErrors: r.decodeErrors.Load(),
		Dropped:      r.dropped.Load(),
		Backpressure: r.backpressure.Load(),
	}
}

func (r *Reader) notify(s State) {
	if r.OnStateChange != nil {
		r.OnStateChange(s)
	}
}

// transition moves run's state from one of from to to. It is a no-op when
// run is no longer current or the state does not match.
func (r *Reader) transition(cur *run, to State, err error, from ...State) bool {
	r.mu.Lock()
	if r.cur != cur {
		r.mu.Unlock()
		return false
	}
	ok := false
	for _, s := range from {
		if r.state == s {
			ok = true
			break
		}
	}
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.state = to
	if err != nil {
		r.err = err
	}
	r.mu.Unlock()

	r.logger.Debug("state change", "state", to)
	r.notify(to)
	return true
}

// Start spawns the capture process in its own process group. Cancelling
// ctx stops the capture. Start is allowed from Idle and Faulted.
func (r *Reader) Start(ctx context.Context) error {
	if len(r.cfg.Command) == 0 {
		return fmt.Errorf("no capture command configured")
	}

	r.mu.Lock()
	if r.state.Active() {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}

	cur, stderrR, err := r.spawn()
	r.cur = cur
	if err != nil {
		r.state = StateFaulted
		r.err = err
		r.mu.Unlock()
		r.logger.Error("capture process failed to start", "err", err)
		r.notify(StateFaulted)
		return err
	}
	r.err = nil
	r.state = StateStarting
	r.mu.Unlock()

	r.logger.Info("capture process started", "pid", cur.pid, "command", strings.Join(r.cfg.Command, " "))
	r.notify(StateStarting)

	go r.waitProcess(cur)
	go r.readStderr(cur, stderrR)
	go r.readStdout(cur)

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				r.stopRun(cur)
			case <-cur.done:
			}
		}()
	}
	return nil
}

// spawn starts the command with stdout and stderr on pipes owned by the
// reader. On failure the returned run is already closed.
func (r *Reader) spawn() (*run, *os.File, error) {
	cur := &run{
		results:    make(chan tpms.Result, r.cfg.QueueSize),
		stderr:     newTail(r.cfg.StderrLines),
		stop:       make(chan struct{}),
		exited:     make(chan struct{}),
		done:       make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
	fail := func(err error) (*run, *os.File, error) {
		close(cur.results)
		close(cur.done)
		close(cur.exited)
		close(cur.stderrDone)
		return cur, nil, &ProcessError{
			Kind:     SpawnFailed,
			Command:  strings.Join(r.cfg.Command, " "),
			ExitCode: -1,
			Err:      err,
		}
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fail(fmt.Errorf("creating stdout pipe: %w", err))
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return fail(fmt.Errorf("creating stderr pipe: %w", err))
	}

	cmd := exec.Command(r.cfg.Command[0], r.cfg.Command[1:]...)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if r.cfg.Env != nil {
		cmd.Env = r.cfg.Env
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return fail(err)
	}
	// The child holds its own copies of the write ends
	stdoutW.Close()
	stderrW.Close()

	cur.cmd = cmd
	cur.pid = cmd.Process.Pid
	cur.stdout = stdoutR
	return cur, stderrR, nil
}

// waitProcess reaps the leader. Where the platform can wait without reaping,
// leftover group members are killed first, while the leader's zombie still
// holds the group ID.
func (r *Reader) waitProcess(cur *run) {
	if awaitExit(cur.pid) == nil {
		if err := cur.signal(killGroup); err != nil {
			r.logger.Warn("killing leftover capture group", "pid", cur.pid, "err", err)
		}
		cur.markReaped()
	}
	cur.waitErr = cur.cmd.Wait()
	cur.markReaped()
	close(cur.exited)
}

func (r *Reader) readStderr(cur *run, f *os.File) {
	defer close(cur.stderrDone)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cur.stderr.add(line)
		r.logger.Warn("capture stderr", "line", line)
	}
}

func (r *Reader) readStdout(cur *run) {
	defer close(cur.done)
	defer close(cur.results)

	scanner := bufio.NewScanner(cur.stdout)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		r.lines.Add(1)
		if first {
			first = false
			if r.transition(cur, StateRunning, nil, StateStarting) {
				r.logger.Info("capture running", "pid", cur.pid)
			}
		}

		res, err := r.decoder.DecodeLine(line)
		if errors.Is(err, tpms.ErrInfoLine) {
			r.infoLines.Add(1)
			if line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "#")); line != "" {
				r.logger.Debug("capture", "info", line)
			}
			continue
		}
		if err != nil {
			r.parseErrors.Add(1)
			r.logger.Warn("unparseable capture line", "err", err, "line", line)
			continue
		}

		r.records.Add(1)
		if res.Err != nil {
			r.decodeErrors.Add(1)
			r.logger.Debug("decode failed", "err", res.Err, "len", len(res.Record.Raw))
		}
		if !r.push(cur, res) {
			break
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		r.logger.Warn("reading capture output", "err", err)
	}
	cur.stdout.Close()

	select {
	case <-cur.exited:
	case <-cur.stop:
		return
	}
	if cur.stopping() {
		return
	}

	// Give stderr a moment to deliver the process's last words
	select {
	case <-cur.stderrDone:
	case <-time.After(200 * time.Millisecond):
	}

	exitCode := -1
	if cur.cmd.ProcessState != nil {
		exitCode = cur.cmd.ProcessState.ExitCode()
	}
	perr := &ProcessError{
		Kind:     ExitedUnexpectedly,
		Command:  strings.Join(r.cfg.Command, " "),
		ExitCode: exitCode,
		Stderr:   cur.stderr.lines(),
		Err:      cur.waitErr,
	}
	if r.transition(cur, StateFaulted, perr, StateStarting, StateRunning) {
		r.logger.Error("capture faulted", "err", perr)
	}
}

// push blocks while the queue is full. Sustained blocking is logged and
// counted; the result is dropped, and counted, only if Stop interrupts.
func (r *Reader) push(cur *run, res tpms.Result) bool {
	select {
	case cur.results <- res:
		return true
	default:
	}

	start := time.Now()
	timer := time.NewTimer(r.cfg.BackpressureWarn)
	defer timer.Stop()
	for {
		select {
		case cur.results <- res:
			return true
		case <-timer.C:
			r.backpressure.Add(1)
			r.logger.Warn("result queue full, capture blocked",
				"blocked", time.Since(start).Round(time.Millisecond),
				"capacity", cap(cur.results))
			timer.Reset(r.cfg.BackpressureWarn)
		case <-cur.stop:
			n := r.dropped.Add(1)
			r.logger.Warn("result dropped on stop", "dropped", n)
			return false
		}
	}
}

// Stop terminates the capture process group: SIGTERM, a bounded wait, then
// SIGKILL. It joins the reader goroutine and leaves the reader Idle. Stop
// on a Faulted reader acknowledges the fault and returns to Idle.
func (r *Reader) Stop() error {
	r.mu.Lock()
	cur := r.cur
	state := r.state
	r.mu.Unlock()

	if state == StateFaulted {
		r.transition(cur, StateIdle, nil, StateFaulted)
		return nil
	}
	if cur == nil {
		return nil
	}
	return r.stopRun(cur)
}

func (r *Reader) stopRun(cur *run) error {
	if cur.cmd == nil {
		return nil
	}
	if !r.transition(cur, StateStopping, nil, StateStarting, StateRunning) {
		// Already stopping elsewhere; wait for it
		if r.State() == StateStopping {
			<-cur.done
			<-cur.exited
		}
		return nil
	}
	cur.stopOnce.Do(func() { close(cur.stop) })

	var stopErr error
	if err := cur.signal(terminateGroup); err != nil {
		r.logger.Warn("SIGTERM to capture group failed", "pid", cur.pid, "err", err)
	}

	select {
	case <-cur.exited:
	case <-time.After(r.cfg.StopTimeout):
		r.logger.Warn("capture process ignored SIGTERM, killing group", "pid", cur.pid, "timeout", r.cfg.StopTimeout)
		if err := cur.signal(killGroup); err != nil {
			stopErr = fmt.Errorf("killing capture group %d: %w", cur.pid, err)
		}
		select {
		case <-cur.exited:
		case <-time.After(r.cfg.StopTimeout):
			stopErr = fmt.Errorf("capture process %d did not exit after SIGKILL", cur.pid)
		}
	}
	select {
	case <-cur.done:
	case <-time.After(r.cfg.StopTimeout):
		cur.stdout.Close()
		<-cur.done
	}

	r.transition(cur, StateIdle, nil, StateStopping)
	r.logger.Info("capture stopped", "pid", cur.pid, "records", r.records.Load(), "dropped", r.dropped.Load())
	return stopErr
}

// tail keeps the last n lines written to the capture process stderr
type tail struct {
	mu  sync.Mutex
	n   int
	buf []string
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line)
	if len(t.buf) > t.n {
		t.buf = t.buf[len(t.buf)-t.n:]
	}
}

func (t *tail) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.buf...)
}
