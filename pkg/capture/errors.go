// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"errors"
	"fmt"
	"strings"
)

// ProcessErrorKind distinguishes spawn failures from unexpected exits
type ProcessErrorKind int

const (
	SpawnFailed ProcessErrorKind = iota + 1
	ExitedUnexpectedly
)

// ProcessError reports a capture process that could not be started or
// that exited while running. The reader never restarts on its own.
type ProcessError struct {
	Kind     ProcessErrorKind
	Command  string
	ExitCode int      // -1 when killed by a signal or unknown
	Stderr   []string // last lines written to stderr
	Err      error
}

func (e *ProcessError) Error() string {
	var msg string
	switch e.Kind {
	case SpawnFailed:
		msg = fmt.Sprintf("failed to start capture process %q", e.Command)
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
	default:
		msg = fmt.Sprintf("capture process exited unexpectedly (check privilege elevation / device), exit code %d", e.ExitCode)
	}
	if len(e.Stderr) > 0 {
		msg += ": " + strings.Join(e.Stderr, " | ")
	}
	return msg
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is matches any ProcessError of the same kind
func (e *ProcessError) Is(target error) bool {
	t, ok := target.(*ProcessError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrSpawnFailed        = &ProcessError{Kind: SpawnFailed}
	ErrExitedUnexpectedly = &ProcessError{Kind: ExitedUnexpectedly}
)

// ErrAlreadyRunning is returned by Start when a capture process is active
var ErrAlreadyRunning = errors.New("capture already running")
