// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build unix

package capture

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcessGroup makes the child the leader of a new process group so the
// child and anything it spawns (sudo and the capture binary) can be
// signalled together
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalGroup sends sig to every process in the group led by pid. A group
// that no longer exists is not an error.
func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func terminateGroup(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

func killGroup(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

// GroupAlive reports whether any process remains in the group led by pid
func GroupAlive(pid int) bool {
	return syscall.Kill(-pid, 0) == nil
}
