// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/spf13/cobra"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display received records in human-readable format",
	Long: `Continuously decode and display packet records as they arrive from the
supervised capture process.

Each record is shown with its timestamp, mode, raw bytes and, when it
decodes, the sensor reading. Undecodable records show the decode error.`,
	Args: cobra.NoArgs,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	addRadioFlags(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	if err := applyRadioFlags(cmd); err != nil {
		return err
	}
	reader, err := newCaptureReader(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("tpmscope - Raw Packet Log\n")
	fmt.Printf("Mode: %s | Band: %s\n", cfg.Radio.Mode, cfg.CaptureConfig().Band())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if err := reader.Start(ctx); err != nil {
		return err
	}
	defer reader.Stop()

	for {
		select {
		case res, ok := <-reader.Results():
			if !ok {
				// Closed by Stop on Ctrl+C, or by an unexpected exit
				if err := reader.Err(); err != nil {
					return err
				}
				logger.Info("capture closed")
				return nil
			}
			if res.OK() {
				fmt.Printf("[%s] mode 0x%02X %d bytes: %s\n",
					res.Record.Timestamp.Format("15:04:05.000"), res.Record.ModeID, len(res.Record.Raw), tpms.FormatHex(res.Record.Raw))
			}
			fmt.Print(tpms.FormatResult(res))

		case <-ctx.Done():
			return nil
		}
	}
}
