// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/tpmscope/pkg/radio"
	"github.com/spf13/cobra"
)

var (
	registersLive bool
	registersList bool
)

var registersCmd = &cobra.Command{
	Use:   "registers",
	Short: "Print the CC1101 register image of a radio mode",
	Long: `Print the configuration register image derived from --mode, --freq,
--channel and --addr, one register per line.

With --live the image is written to the chip over SPI and read back,
and every register that differs is marked. Accessing the chip usually
needs root; the radio is left in IDLE.

With --list the available radio modes are printed.`,
	Args: cobra.NoArgs,
	RunE: runRegisters,
}

func init() {
	rootCmd.AddCommand(registersCmd)
	addRadioFlags(registersCmd)
	registersCmd.Flags().BoolVar(&registersLive, "live", false, "Write the image to the chip and read it back")
	registersCmd.Flags().BoolVar(&registersList, "list", false, "List radio modes")
}

func runRegisters(cmd *cobra.Command, args []string) error {
	if registersList {
		for _, p := range radio.Profiles() {
			fmt.Printf("0x%02X %-8s %s\n", p.ModeID, p.Name, p.Description)
		}
		return nil
	}

	if err := applyRadioFlags(cmd); err != nil {
		return err
	}
	cc := cfg.CaptureConfig()
	profile := cc.Profile()
	expected := cc.Registers()

	fmt.Printf("Profile: %s\n", profile)
	fmt.Printf("Carrier: %.3f MHz, channel %d, address 0x%02X\n\n", radio.FrequencyHz(expected)/1e6, cc.Channel, cc.NodeAddress)

	if !registersLive {
		for addr, v := range expected {
			fmt.Printf("0x%02X %-9s 0x%02X\n", addr, radio.RegisterName(byte(addr)), v)
		}
		return nil
	}

	dev, err := radio.OpenSPI(cfg.Radio.SPI, cfg.Radio.SPISpeed)
	if err != nil {
		return fmt.Errorf("SPI init failed: %w", err)
	}
	defer dev.Close()

	ctrl := radio.NewController(dev, logger)
	if err := ctrl.Apply(cc); err != nil {
		return fmt.Errorf("radio init failed: %w", err)
	}
	defer ctrl.Idle()

	live, err := ctrl.DumpRegisters()
	if err != nil {
		return fmt.Errorf("reading registers: %w", err)
	}
	mismatches := 0
	for addr, v := range live {
		mark := ""
		if addr < len(expected) && expected[addr] != v {
			mark = fmt.Sprintf("  (expected 0x%02X)", expected[addr])
			mismatches++
		}
		fmt.Printf("0x%02X %-9s 0x%02X%s\n", addr, radio.RegisterName(byte(addr)), v, mark)
	}
	fmt.Printf("\n%d of %d registers differ from the %s image\n", mismatches, len(live), profile.Name)
	return nil
}
