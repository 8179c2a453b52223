// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/Thermoquad/tpmscope/pkg/radio"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

var (
	discoveryNoIdentify bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find CC1101 receivers and serial ports",
	Long: `List the SPI ports of this host and check each one for a CC1101.

Each SPI port is reset and asked for its PARTNUM and VERSION. A CC1101
answers with a non-zero version; an unconnected port reads 0x00 or 0xFF.
Use --no-identify to only list the ports. Serial ports, usable with
"replay --port", are listed as well.

Examples:
  # Probe every SPI port (usually needs root)
  sudo tpmscope discovery

Exit codes:
  0 - Discovery successful (at least one CC1101 found)
  1 - Discovery failed (no CC1101 answered)
  2 - Host driver error`,
	Args: cobra.NoArgs,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().BoolVar(&discoveryNoIdentify, "no-identify", false, "List ports without probing them")
}

type discoveredRadio struct {
	port     string
	partnum  byte
	version  byte
	probeErr error
}

func identifyPort(name string, hz int64, l *log.Logger) discoveredRadio {
	d := discoveredRadio{port: name}
	dev, err := radio.OpenSPI(name, hz)
	if err != nil {
		d.probeErr = err
		return d
	}
	defer dev.Close()

	d.partnum, d.version, d.probeErr = radio.NewController(dev, l).Identify()
	return d
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	fmt.Printf("tpmscope - Device Discovery\n\n")

	ports, err := radio.SPIPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "SPI error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("SPI ports: %d\n", len(ports))
	found := 0
	for _, name := range ports {
		if discoveryNoIdentify {
			fmt.Printf("  %s\n", name)
			continue
		}
		d := identifyPort(name, cfg.Radio.SPISpeed, logger)
		if d.probeErr != nil {
			fmt.Printf("  %s: no CC1101 (%v)\n", d.port, d.probeErr)
			continue
		}
		found++
		fmt.Printf("  %s: CC1101 partnum 0x%02X version 0x%02X\n", d.port, d.partnum, d.version)
	}

	serialPorts, err := serial.GetPortsList()
	if err != nil {
		logger.Warn("listing serial ports", "err", err)
	}
	fmt.Printf("\nSerial ports: %d\n", len(serialPorts))
	for _, name := range serialPorts {
		fmt.Printf("  %s\n", name)
	}

	if discoveryNoIdentify {
		return nil
	}

	// Summary
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Receivers found: %d\n", found)
	if found == 0 {
		fmt.Printf("No CC1101 answered. Check wiring, power and SPI permissions.\n")
		os.Exit(1)
	}
	return nil
}
