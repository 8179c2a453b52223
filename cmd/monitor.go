// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/feed"
	"github.com/Thermoquad/tpmscope/pkg/monitor"
	"github.com/Thermoquad/tpmscope/pkg/session"
	"github.com/Thermoquad/tpmscope/pkg/tpms"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	monitorNoTUI     bool
	monitorStats     int
	monitorExportDir string
	monitorDB        string
	monitorListen    string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live sensor table from the supervised capture process",
	Long: `Run the capture process and show each sensor's latest reading live.

The capture process is started through the configured elevation wrapper
and stopped with its whole process group. Each run is a session; when the
capture stops its readings are exported to session_<timestamp>_<id>.csv and
.json in the export directory and, with --db, archived in SQLite.

Keys (interactive mode):
  s  start capture        x  stop capture
  e  export session now   q  quit

With --listen the readings are also served as a WebSocket feed on /feed
(CBOR, or JSON with ?format=json) and as a JSON snapshot on /sensors.

Without a terminal, or with --no-tui, readings are printed as text.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	addRadioFlags(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorNoTUI, "no-tui", false, "Print readings as text instead of the interactive view")
	monitorCmd.Flags().IntVar(&monitorStats, "stats-interval", 10, "Statistics interval in seconds (text mode)")
	monitorCmd.Flags().StringVar(&monitorExportDir, "export-dir", "", "Session export directory (default from config)")
	monitorCmd.Flags().StringVar(&monitorDB, "db", "", "SQLite session archive")
	monitorCmd.Flags().StringVar(&monitorListen, "listen", "", "Serve the live feed on this address, e.g. :8080")
}

// sinks fans readings out to several sinks
type sinks []monitor.Sink

func (s sinks) Publish(r tpms.Reading) {
	for _, sink := range s {
		sink.Publish(r)
	}
}

// printSink prints one line per reading
type printSink struct{}

func (printSink) Publish(r tpms.Reading) {
	fmt.Printf("%s %s\n", r.Timestamp.Format("15:04:05.000"), tpms.Summary(r))
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if err := applyRadioFlags(cmd); err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("export-dir") {
		cfg.Monitor.ExportDir = monitorExportDir
	}
	if flags.Changed("db") {
		cfg.Monitor.Database = monitorDB
	}
	if flags.Changed("listen") {
		cfg.Feed.Listen = monitorListen
	}

	interactive := !monitorNoTUI && term.IsTerminal(int(os.Stdout.Fd()))

	// The TUI owns the terminal, so logs go to a file
	l := logger
	if interactive {
		if err := os.MkdirAll(cfg.Capture.OutDir, 0o755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		logPath := filepath.Join(cfg.Capture.OutDir, "tpmscope.log")
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		if l, err = newLogger(f, cfg.LogLevel); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader, err := newCaptureReader(l)
	if err != nil {
		return err
	}

	monCfg := monitor.Config{
		MaxPerTick: cfg.Monitor.MaxPerTick,
		ExportDir:  cfg.Monitor.ExportDir,
	}

	var out sinks
	if !interactive {
		out = append(out, printSink{})
	}

	if cfg.Feed.Listen != "" {
		hub := feed.NewHub(feed.Config{Username: cfg.Feed.Username, Password: cfg.Feed.Password}, l)
		go func() {
			if err := hub.ListenAndServe(ctx, cfg.Feed.Listen); err != nil {
				l.Error("feed server stopped", "err", err)
			}
		}()
		out = append(out, hub)
	}
	if len(out) > 0 {
		monCfg.Sink = out
	}

	if cfg.Monitor.Database != "" {
		store := session.NewStore(cfg.Monitor.Database)
		defer store.Close()
		monCfg.Archive = store
	}

	mon := monitor.New(reader, monCfg, l)

	if interactive {
		err = runMonitorTUI(ctx, mon)
	} else {
		err = runMonitorText(ctx, mon)
	}

	shutdownMonitor(mon, cfg.Capture.StopTimeout.Std()+5*time.Second, l)
	return err
}

// shutdownMonitor stops the capture and keeps polling until the final
// session export has finished or the timeout passes
func shutdownMonitor(mon *monitor.Monitor, timeout time.Duration, l *log.Logger) {
	mon.StopCapture()
	deadline := time.Now().Add(timeout)
	for !mon.Settled() {
		if time.Now().After(deadline) {
			l.Warn("shutdown timed out before the session export finished")
			return
		}
		mon.Poll(time.Now())
		time.Sleep(20 * time.Millisecond)
	}
	if out, ok := mon.LastExport(); ok && out.Err == nil && out.Paths.CSV != "" {
		fmt.Fprintf(os.Stderr, "Session %s exported to %s\n", out.SessionID, out.Paths.CSV)
	}
}

func runMonitorTUI(ctx context.Context, mon *monitor.Monitor) error {
	// A start failure is shown as a fault in the view
	_ = mon.StartCapture(ctx)

	p := tea.NewProgram(newMonitorModel(ctx, mon, cfg.Monitor.Tick.Std()), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func runMonitorText(ctx context.Context, mon *monitor.Monitor) error {
	fmt.Printf("tpmscope - Live Monitor\n")
	fmt.Printf("Mode: %s | Band: %s | Press Ctrl+C to exit\n\n", cfg.Radio.Mode, cfg.CaptureConfig().Band())

	if err := mon.StartCapture(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.Monitor.Tick.Std())
	defer ticker.Stop()

	var statsC <-chan time.Time
	if monitorStats > 0 {
		statsTicker := time.NewTicker(time.Duration(monitorStats) * time.Second)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

	var lastStatus monitor.Status
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			printMonitorSummary(mon)
			return nil

		case now := <-ticker.C:
			mon.Poll(now)
			if st := mon.Status(); st != lastStatus {
				lastStatus = st
				fmt.Fprintf(os.Stderr, "Capture %s\n", st)
				if st == monitor.StatusFaulted {
					printMonitorSummary(mon)
					return fmt.Errorf("capture faulted: %s", mon.Fault())
				}
			}

		case <-statsC:
			stats := mon.Statistics()
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}

func printMonitorSummary(mon *monitor.Monitor) {
	st := mon.Stats()
	fmt.Printf("Packets: %d  Sensors: %d  Warnings: %d  Decode errors: %d\n",
		st.PacketCount, st.SensorCount, st.WarningCount, st.DecodeErrors)
	for _, r := range mon.Sensors() {
		fmt.Printf("  %s\n", tpms.Summary(r))
	}
}
