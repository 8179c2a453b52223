// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/capture"
	"github.com/Thermoquad/tpmscope/pkg/radio"
	"github.com/spf13/cobra"
)

var (
	captureInterval time.Duration
	captureCount    uint64
	captureSeed     int64
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Program the radio and write one line per received packet",
	Long: `Program the CC1101 with a radio profile and capture packets.

Each packet is written to stdout as one line and appended to
capture_<MODE>_<YYYYmmdd_HHMMSS>.csv in the --out directory:

  timestamp,mode_id,raw_len,raw_hex,decoded_summary,rssi=..,lqi=..,...

Lines starting with '#' are informational. Access to the SPI device
usually needs root; the monitor runs this command through the configured
elevation wrapper (sudo -n by default).

SIGINT or SIGTERM flushes the CSV file and puts the radio in IDLE.
If the radio cannot be initialized the error is printed to stderr and the
command exits non-zero.`,
	Args: cobra.NoArgs,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	addRadioFlags(captureCmd)
	captureCmd.Flags().DurationVar(&captureInterval, "interval", 250*time.Millisecond, "Packet interval when simulating, RX poll interval otherwise")
	captureCmd.Flags().Uint64Var(&captureCount, "count", 0, "Stop after this many packets (0 = unlimited)")
	captureCmd.Flags().Int64Var(&captureSeed, "seed", 0, "Simulator seed (0 = time based)")
}

var errCountReached = errors.New("packet count reached")

func runCapture(cmd *cobra.Command, args []string) error {
	if err := applyRadioFlags(cmd); err != nil {
		return err
	}
	cc := cfg.CaptureConfig()
	profile := cc.Profile()
	l := logger.WithPrefix("capture")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rx radio.Receiver
	if simulate {
		rx = radio.NewSimulator(cc, captureSeed)
		l.Info("simulating sensors", "mode", profile.Name, "interval", captureInterval)
	} else {
		dev, err := radio.OpenSPI(cfg.Radio.SPI, cfg.Radio.SPISpeed)
		if err != nil {
			return fmt.Errorf("SPI init failed: %w", err)
		}
		defer dev.Close()

		ctrl := radio.NewController(dev, logger)
		if err := ctrl.Apply(cc); err != nil {
			return fmt.Errorf("radio init failed: %w", err)
		}
		defer func() {
			if err := ctrl.Idle(); err != nil {
				l.Warn("failed to idle radio", "err", err)
			}
			if n := ctrl.Overflows(); n > 0 {
				l.Warn("RX FIFO overflows recovered", "count", n)
			}
		}()
		rx = ctrl
	}

	em, err := capture.NewEmitter(os.Stdout, cfg.Capture.OutDir, profile.Name, time.Now(), newDecoder())
	if err != nil {
		return err
	}
	defer func() {
		if err := em.Close(); err != nil {
			l.Error("closing capture file", "err", err)
		}
	}()

	em.Info("tpmscope capture mode=%s band=%s modulation=%s channel=%d addr=0x%02X",
		profile.Name, cc.Band(), profile.Modulation, cc.Channel, cc.NodeAddress)
	if em.Path() != "" {
		em.Info("writing %s", em.Path())
	}

	flushTicker := time.NewTicker(time.Second)
	defer flushTicker.Stop()

	err = rx.Receive(ctx, captureInterval, func(pkt *radio.Packet) error {
		var extra []string
		if !pkt.CRCOK {
			extra = append(extra, "crc=bad")
		}
		if err := em.Emit(radio.Record(pkt, cc.Mode), extra...); err != nil {
			return err
		}
		select {
		case <-flushTicker.C:
			if err := em.Flush(); err != nil {
				return fmt.Errorf("flushing capture file: %w", err)
			}
		default:
		}
		if captureCount > 0 && em.Count() >= captureCount {
			return errCountReached
		}
		return nil
	})

	switch {
	case errors.Is(err, errCountReached), errors.Is(err, context.Canceled):
		l.Info("capture finished", "packets", em.Count())
		return nil
	default:
		return err
	}
}
