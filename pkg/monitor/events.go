// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package monitor

import "time"

// Level is the severity of an Event
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// Event is one entry of the monitor's recent events list
type Event struct {
	Time    time.Time
	Level   Level
	Message string
}

// eventLog keeps the last max events
type eventLog struct {
	max     int
	entries []Event
}

func newEventLog(max int) *eventLog {
	return &eventLog{max: max}
}

func (l *eventLog) add(t time.Time, level Level, msg string) {
	l.entries = append(l.entries, Event{Time: t, Level: level, Message: msg})
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

func (l *eventLog) list() []Event {
	return append([]Event(nil), l.entries...)
}
