// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/Thermoquad/tpmscope/pkg/session"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	sessionsDB        string
	sessionsExportDir string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List, show and export archived sessions",
	Long: `Work with the SQLite session archive written by "monitor --db".

  tpmscope sessions                 list sessions, newest first
  tpmscope sessions show <id>       print a session summary
  tpmscope sessions export <id>     write session_<timestamp>_<id>.csv and .json`,
	Args: cobra.NoArgs,
	RunE: runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the summary of an archived session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export an archived session to CSV and JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsExport,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsShowCmd, sessionsExportCmd)
	sessionsCmd.PersistentFlags().StringVar(&sessionsDB, "db", "", "SQLite session archive (default from config)")
	sessionsExportCmd.Flags().StringVar(&sessionsExportDir, "dir", "", "Export directory (default from config)")
}

func openArchive(cmd *cobra.Command) (*session.Store, error) {
	path := cfg.Monitor.Database
	if cmd.Flags().Changed("db") {
		path = sessionsDB
	}
	if path == "" {
		return nil, errors.New("no session archive configured (use --db or monitor.database)")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("session archive: %w", err)
	}
	return session.NewStore(path), nil
}

func loadArchived(cmd *cobra.Command, arg string) (*session.Session, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", arg, err)
	}
	store, err := openArchive(cmd)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.LoadSession(context.Background(), id)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions(context.Background())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions archived")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tREADINGS\tSENSORS\tWARNINGS")
	for _, s := range sessions {
		duration := "open"
		if !s.EndedAt.IsZero() {
			duration = formatElapsed(s.EndedAt.Sub(s.StartedAt))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			s.ID, humanize.Time(s.StartedAt), duration, humanize.Comma(int64(s.Readings)), s.SensorCount, s.WarningCount)
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	sess, err := loadArchived(cmd, args[0])
	if err != nil {
		return err
	}
	sum := sess.Summary()

	fmt.Printf("Session %s\n", sess.ID)
	fmt.Printf("Started: %s (%s)\n", sess.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(sess.StartedAt))
	if sess.Finalized() {
		fmt.Printf("Duration: %s\n", formatElapsed(sess.EndedAt().Sub(sess.StartedAt)))
	}
	fmt.Printf("Readings: %d  Sensors: %d  Warnings: %d\n\n", sum.Readings, sum.SensorCount, sum.WarningCount)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SENSOR\tSUPPLIER\tREADINGS\tWARNINGS\tKPA MIN/AVG/MAX\tTEMP C MIN/AVG/MAX\tLAST SEEN")
	for _, s := range sum.Sensors {
		kpa, temp := "-", "-"
		if s.PressureKPa.Count > 0 {
			kpa = fmt.Sprintf("%.1f/%.1f/%.1f", s.PressureKPa.Min, s.PressureKPa.Avg, s.PressureKPa.Max)
		}
		if s.TemperatureC.Count > 0 {
			temp = fmt.Sprintf("%.0f/%.1f/%.0f", s.TemperatureC.Min, s.TemperatureC.Avg, s.TemperatureC.Max)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			s.SensorID, s.Supplier, s.Readings, s.Warnings, kpa, temp, humanize.Time(s.LastSeen))
	}
	return w.Flush()
}

func runSessionsExport(cmd *cobra.Command, args []string) error {
	sess, err := loadArchived(cmd, args[0])
	if err != nil {
		return err
	}
	dir := cfg.Monitor.ExportDir
	if sessionsExportDir != "" {
		dir = sessionsExportDir
	}
	paths, err := sess.Export(dir)
	if err != nil {
		return err
	}
	fmt.Printf("Session %s exported to %s and %s\n", sess.ID, paths.CSV, paths.JSON)
	return nil
}
