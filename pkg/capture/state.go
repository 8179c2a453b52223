// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

// State is the packet reader lifecycle state
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Active reports whether a capture process may be alive in this state
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}
