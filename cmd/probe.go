// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/spf13/cobra"
)

var (
	probeTimeout int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the receive chain by waiting for a decoded reading",
	Long: `Start the capture process and wait for the first decoded sensor reading
until timeout.

Records that do not decode are counted and ignored. The capture process is
stopped before exiting.

Exit codes:
  0 - Reading received before timeout
  1 - Timeout reached without a decoded reading
  2 - Capture process error (elevation, SPI device or radio)

Useful for checking privilege elevation and radio wiring before a session.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	addRadioFlags(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 30, "Timeout in seconds to wait for a reading")
}

func runProbe(cmd *cobra.Command, args []string) error {
	if err := applyRadioFlags(cmd); err != nil {
		return err
	}
	reader, err := newCaptureReader(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Capture error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("tpmscope - Probe\n")
	fmt.Printf("Mode: %s | Band: %s\n", cfg.Radio.Mode, cfg.CaptureConfig().Band())
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for a decoded reading...\n\n")

	if err := reader.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Capture error: %v\n", err)
		os.Exit(2)
	}

	timeout := time.After(time.Duration(probeTimeout) * time.Second)
	undecoded := 0
	var reading *tpms.Reading
	var faultErr error

wait:
	for {
		select {
		case res, ok := <-reader.Results():
			if !ok {
				faultErr = reader.Err()
				if faultErr == nil {
					faultErr = fmt.Errorf("capture process ended without a reading")
				}
				break wait
			}
			if !res.OK() {
				undecoded++
				continue
			}
			reading = res.Reading
			break wait

		case <-timeout:
			break wait
		}
	}

	reader.Stop()

	switch {
	case reading != nil:
		if undecoded > 0 {
			fmt.Printf("(skipped %d undecoded records)\n", undecoded)
		}
		fmt.Printf("SUCCESS: Received sensor reading\n")
		fmt.Printf("  Sensor: %s (%s)\n", reading.IDString(), reading.Supplier)
		fmt.Printf("  Summary: %s\n", tpms.Summary(*reading))
		fmt.Printf("  RSSI: %d dBm, LQI: %d\n", reading.RSSI, reading.LQI)
		os.Exit(0)

	case faultErr != nil:
		fmt.Fprintf(os.Stderr, "Capture error: %v\n", faultErr)
		os.Exit(2)

	default:
		fmt.Fprintf(os.Stderr, "TIMEOUT: No decoded reading within %d seconds (%d undecoded records)\n", probeTimeout, undecoded)
		os.Exit(1)
	}

	return nil
}
