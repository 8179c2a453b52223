// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session records the readings of one capture run, summarises them
// and exports them to CSV, JSON and a SQLite archive.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/google/uuid"
)

// ErrFinalized is returned when a reading is added to a finalized session
var ErrFinalized = errors.New("session is finalized")

// Session is an append-only log of readings. Once finalized it is never
// mutated again.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time

	mu        sync.Mutex
	readings  []tpms.Reading
	finalized bool
	endedAt   time.Time
}

// New starts an empty session
func New(startedAt time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		StartedAt: startedAt,
	}
}

// restore rebuilds a session loaded from the archive
func restore(id uuid.UUID, startedAt, endedAt time.Time, readings []tpms.Reading) *Session {
	return &Session{
		ID:        id,
		StartedAt: startedAt,
		readings:  readings,
		finalized: !endedAt.IsZero(),
		endedAt:   endedAt,
	}
}

// AddReading appends r
func (s *Session) AddReading(r tpms.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return ErrFinalized
	}
	s.readings = append(s.readings, r)
	return nil
}

// Finalize closes the session at t. Finalizing twice keeps the first time.
func (s *Session) Finalize(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return
	}
	s.finalized = true
	s.endedAt = t
}

// Finalized reports whether Finalize has been called
func (s *Session) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// EndedAt returns the finalize time, zero while the session is open
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Len returns the number of readings
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

// Readings returns a copy of the readings in arrival order
func (s *Session) Readings() []tpms.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tpms.Reading(nil), s.readings...)
}

// Snapshot returns a deep copy that can be exported on another goroutine
// while the original keeps growing
func (s *Session) Snapshot() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Session{
		ID:        s.ID,
		StartedAt: s.StartedAt,
		readings:  append([]tpms.Reading(nil), s.readings...),
		finalized: s.finalized,
		endedAt:   s.endedAt,
	}
}

// Summary computes the session statistics
func (s *Session) Summary() Summary {
	return Summarize(s.Readings())
}
