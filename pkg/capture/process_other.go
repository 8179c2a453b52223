// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !unix

package capture

import (
	"errors"
	"os"
	"os/exec"
)

var errNoProcessGroups = errors.New("process groups are not supported on this platform")

func setProcessGroup(cmd *exec.Cmd) {}

func terminateGroup(pid int) error {
	return killGroup(pid)
}

func killGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return errNoProcessGroups
	}
	return p.Kill()
}

// GroupAlive is not supported on this platform
func GroupAlive(pid int) bool {
	return false
}
