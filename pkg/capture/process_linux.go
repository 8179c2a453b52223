// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux

package capture

import (
	"errors"

	"golang.org/x/sys/unix"
)

// awaitExit blocks until the process exits without reaping it. The zombie
// keeps pid reserved, so the group it led can still be signalled safely.
func awaitExit(pid int) error {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
