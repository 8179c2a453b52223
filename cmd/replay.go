// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/session"
	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/spf13/cobra"
)

var (
	replayPort      string
	replayBaud      int
	replayShowAll   bool
	replayStats     int
	replayExportDir string
)

var replayCmd = &cobra.Command{
	Use:   "replay [capture.csv|-]",
	Short: "Decode a capture file or a serial record stream offline",
	Long: `Decode packet log lines from a capture CSV file, stdin ("-") or a
serial-attached receiver (--port) and print each reading.

Undecodable records are counted; use --show-all to print them as well.
A statistics summary is printed at the end of a file, and every
--stats-interval seconds for a serial stream.

With --export-dir the decoded readings are written as a session export
(session_<timestamp>_<id>.csv and .json).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&replayPort, "port", "p", "", "Serial port (e.g., /dev/ttyUSB0)")
	replayCmd.Flags().IntVarP(&replayBaud, "baud", "b", 115200, "Baud rate")
	replayCmd.Flags().BoolVar(&replayShowAll, "show-all", false, "Also print records that did not decode")
	replayCmd.Flags().IntVar(&replayStats, "stats-interval", 10, "Statistics interval in seconds (serial)")
	replayCmd.Flags().StringVar(&replayExportDir, "export-dir", "", "Export decoded readings as a session to this directory")
}

// printDecodeError prints an undecoded record in highlighted format
func printDecodeError(res tpms.Result) {
	timestamp := res.Record.Timestamp.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, res.Err)
	fmt.Printf("  raw: %s\n\n", tpms.FormatHex(res.Record.Raw))
}

// printReading prints a reading, highlighting pressure warnings
func printReading(r tpms.Reading) {
	if r.IsWarning() {
		fmt.Printf("\033[1;33mWARNING\033[0m ")
	}
	fmt.Print(tpms.FormatReading(r))
	fmt.Println()
}

func runReplay(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	src, srcInfo, err := OpenRecordSource(path, replayPort, replayBaud)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("tpmscope - Replay\n")
	fmt.Printf("Source: %s\n", srcInfo)
	if replayPort != "" {
		fmt.Printf("Press Ctrl+C to exit\n")
	}
	fmt.Println()

	decoder := newDecoder()
	stats := tpms.NewStatistics()
	var sess *session.Session
	if replayExportDir != "" {
		sess = session.New(time.Now())
	}

	lines := make(chan string, 64)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(src)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	var statsC <-chan time.Time
	if replayPort != "" && replayStats > 0 {
		statsTicker := time.NewTicker(time.Duration(replayStats) * time.Second)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

	parseErrors := 0
loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			res, err := decoder.DecodeLine(line)
			if errors.Is(err, tpms.ErrInfoLine) {
				continue
			}
			if err != nil {
				parseErrors++
				logger.Debug("skipping malformed line", "err", err)
				continue
			}
			stats.Update(res)
			if res.OK() {
				printReading(*res.Reading)
				if sess != nil {
					if err := sess.AddReading(*res.Reading); err != nil {
						return err
					}
				}
			} else if replayShowAll {
				printDecodeError(res)
			}

		case <-statsC:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case <-ctx.Done():
			break loop
		}
	}

	select {
	case err := <-readErr:
		if err != nil {
			return fmt.Errorf("reading records: %w", err)
		}
	default:
	}

	fmt.Print(stats.String())
	if parseErrors > 0 {
		fmt.Printf("Malformed lines: %d\n", parseErrors)
	}

	if sess != nil {
		sess.Finalize(time.Now())
		if sess.Len() == 0 {
			fmt.Println("No readings decoded, nothing exported")
			return nil
		}
		paths, err := sess.Export(replayExportDir)
		if err != nil {
			return err
		}
		fmt.Printf("Session %s exported to %s and %s\n", sess.ID, paths.CSV, paths.JSON)
	}
	return nil
}
