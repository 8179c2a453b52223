// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux

package capture

import "errors"

// awaitExit has no portable non-reaping wait here; callers fall back to
// skipping the group sweep once the leader is gone
func awaitExit(pid int) error {
	return errors.ErrUnsupported
}
