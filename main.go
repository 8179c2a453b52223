// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// tpmscope - TPMS Capture and Decoder
//
// A CLI tool for capturing tire pressure sensor transmissions with a
// CC1101 receiver and decoding them live.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/tpmscope/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
