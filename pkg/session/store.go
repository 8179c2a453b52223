// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by LoadSession for an unknown session ID
var ErrNotFound = errors.New("session not found")

const initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT PRIMARY KEY,
    started_at    INTEGER NOT NULL,
    ended_at      INTEGER,
    reading_count INTEGER NOT NULL,
    sensor_count  INTEGER NOT NULL,
    warning_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS readings (
    session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    seq           INTEGER NOT NULL,
    timestamp     INTEGER NOT NULL,
    sensor_id     INTEGER NOT NULL,
    supplier      TEXT NOT NULL,
    transmission  TEXT NOT NULL,
    pressure_kpa  REAL NOT NULL,
    temperature_c REAL NOT NULL,
    battery_low   INTEGER NOT NULL,
    has_telemetry INTEGER NOT NULL,
    rssi          INTEGER NOT NULL,
    lqi           INTEGER NOT NULL,
    PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_readings_sensor ON readings(sensor_id);`

const (
	upsertSessionSQL = `
INSERT INTO sessions (
                      id,
                      started_at,
                      ended_at,
                      reading_count,
                      sensor_count,
                      warning_count)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    started_at    = excluded.started_at,
    ended_at      = excluded.ended_at,
    reading_count = excluded.reading_count,
    sensor_count  = excluded.sensor_count,
    warning_count = excluded.warning_count`

	deleteReadingsSQL = `DELETE FROM readings WHERE session_id = ?`

	insertReadingSQL = `
INSERT INTO readings (
    session_id,
    seq,
    timestamp,
    sensor_id,
    supplier,
    transmission,
    pressure_kpa,
    temperature_c,
    battery_low,
    has_telemetry,
    rssi,
    lqi
)
VALUES `

	selectSessionSQL = `
SELECT
    started_at,
    ended_at
FROM sessions
WHERE
    id = ?`

	selectReadingsSQL = `
SELECT
    timestamp,
    sensor_id,
    supplier,
    transmission,
    pressure_kpa,
    temperature_c,
    battery_low,
    has_telemetry,
    rssi,
    lqi
FROM readings
WHERE
    session_id = ?
ORDER BY seq`

	selectSessionsSQL = `
SELECT
    id,
    started_at,
    ended_at,
    reading_count,
    sensor_count,
    warning_count
FROM sessions
ORDER BY started_at DESC`
)

// readingsPerInsert bounds the rows of one batch insert below SQLite's
// host parameter limit
const readingsPerInsert = 64

// Info is one row of ListSessions
type Info struct {
	ID           uuid.UUID
	StartedAt    time.Time
	EndedAt      time.Time // zero while open
	Readings     int
	SensorCount  int
	WarningCount int
}

// Store archives sessions in a SQLite database
type Store struct {
	dbPath string

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewStore returns a store for dbPath. The database is opened and its
// schema created on first use.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func (s *Store) getDB() (*sql.DB, error) {
	s.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"))
		if err != nil {
			s.dbErr = fmt.Errorf("opening database: %w", err)
			return
		}
		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			s.dbErr = fmt.Errorf("initializing schema: %w", err)
			return
		}
		s.db = db
	})
	return s.db, s.dbErr
}

// SaveSession upserts the session row and replaces its readings in one
// transaction
func (s *Store) SaveSession(ctx context.Context, sess *Session) (err error) {
	db, err := s.getDB()
	if err != nil {
		return fmt.Errorf("getting connection: %w", err)
	}

	snap := sess.Snapshot()
	readings := snap.Readings()
	summary := Summarize(readings)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	var ended sql.NullInt64
	if t := snap.EndedAt(); !t.IsZero() {
		ended = sql.NullInt64{Int64: t.UnixNano(), Valid: true}
	}
	id := snap.ID.String()

	if _, err = tx.ExecContext(ctx, upsertSessionSQL,
		id,
		snap.StartedAt.UnixNano(),
		ended,
		summary.Readings,
		summary.SensorCount,
		summary.WarningCount,
	); err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	if _, err = tx.ExecContext(ctx, deleteReadingsSQL, id); err != nil {
		return fmt.Errorf("deleting readings: %w", err)
	}

	for start := 0; start < len(readings); start += readingsPerInsert {
		end := min(start+readingsPerInsert, len(readings))
		if err = insertReadings(ctx, tx, id, start, readings[start:end]); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertReadings(ctx context.Context, tx *sql.Tx, id string, seq int, readings []tpms.Reading) error {
	const valuesPlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

	values := make([]any, 0, len(readings)*12)
	var sb strings.Builder
	sb.WriteString(insertReadingSQL)

	for i, r := range readings {
		values = append(values,
			id,
			seq+i,
			r.Timestamp.UnixNano(),
			int64(r.SensorID),
			r.Supplier.String(),
			r.Transmission.String(),
			r.PressureKPa,
			r.TemperatureC,
			r.BatteryLow,
			r.HasTelemetry,
			r.RSSI,
			int(r.LQI),
		)
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(valuesPlaceholder)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), values...); err != nil {
		return fmt.Errorf("batch inserting readings: %w", err)
	}
	return nil
}

// LoadSession restores a session and its readings
func (s *Store) LoadSession(ctx context.Context, id uuid.UUID) (sess *Session, err error) {
	db, err := s.getDB()
	if err != nil {
		return nil, fmt.Errorf("getting connection: %w", err)
	}

	var started int64
	var ended sql.NullInt64
	err = db.QueryRowContext(ctx, selectSessionSQL, id.String()).Scan(&started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectReadingsSQL, id.String())
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer closeWithError(rows, &err)

	var readings []tpms.Reading
	for rows.Next() {
		var (
			ts           int64
			sensorID     int64
			supplier     string
			transmission string
			r            tpms.Reading
			lqi          int
		)
		if err = rows.Scan(&ts, &sensorID, &supplier, &transmission,
			&r.PressureKPa, &r.TemperatureC, &r.BatteryLow, &r.HasTelemetry, &r.RSSI, &lqi); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.SensorID = uint32(sensorID)
		r.Supplier = tpms.ParseSupplier(supplier)
		r.Transmission = tpms.ParseTransmission(transmission)
		r.LQI = uint8(lqi)
		readings = append(readings, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}

	var endedAt time.Time
	if ended.Valid {
		endedAt = time.Unix(0, ended.Int64).UTC()
	}
	return restore(id, time.Unix(0, started).UTC(), endedAt, readings), nil
}

// ListSessions returns the archived sessions, newest first
func (s *Store) ListSessions(ctx context.Context) (sessions []Info, err error) {
	db, err := s.getDB()
	if err != nil {
		return nil, fmt.Errorf("getting connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var (
			info    Info
			id      string
			started int64
			ended   sql.NullInt64
		)
		if err = rows.Scan(&id, &started, &ended, &info.Readings, &info.SensorCount, &info.WarningCount); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if info.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing session id %q: %w", id, err)
		}
		info.StartedAt = time.Unix(0, started).UTC()
		if ended.Valid {
			info.EndedAt = time.Unix(0, ended.Int64).UTC()
		}
		sessions = append(sessions, info)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Close closes the database
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.db != nil {
			s.closeErr = s.db.Close()
			s.db = nil
		}
	})
	return s.closeErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// rollbackWithError is a no-op after a successful commit
func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if rErr := rb.Rollback(); rErr != nil && !errors.Is(rErr, sql.ErrTxDone) && *err == nil {
		*err = rErr
	}
}
