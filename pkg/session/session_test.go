// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func reading(id uint32, kpa, tempC float64, rssi int, at time.Duration) tpms.Reading {
	return tpms.Reading{
		SensorID:     id,
		PressureKPa:  kpa,
		TemperatureC: tempC,
		Supplier:     tpms.SupplierSchrader,
		RSSI:         rssi,
		LQI:          40,
		Timestamp:    t0.Add(at),
		HasTelemetry: true,
	}
}

func sampleSession() *Session {
	s := New(t0)
	s.AddReading(reading(0xA1, 220, 20, -60, time.Second))   // NORMAL
	s.AddReading(reading(0xA1, 230, 24, -50, 2*time.Second)) // NORMAL
	s.AddReading(reading(0xB2, 170, 18, -70, 3*time.Second)) // CRITICAL

	low := reading(0xC3, 240, 22, -80, 4*time.Second)
	low.BatteryLow = true
	s.AddReading(low)

	s.AddReading(tpms.Reading{SensorID: 0xD4, RSSI: -90, Timestamp: t0.Add(5 * time.Second)})
	return s
}

// ============================================================
// Session Tests
// ============================================================

func TestSession_AddAfterFinalizeFails(t *testing.T) {
	s := New(t0)
	require.NoError(t, s.AddReading(reading(1, 220, 20, -60, 0)))

	s.Finalize(t0.Add(time.Minute))
	assert.True(t, s.Finalized())

	err := s.AddReading(reading(1, 220, 20, -60, time.Second))
	assert.ErrorIs(t, err, ErrFinalized)
	assert.Equal(t, 1, s.Len())

	s.Finalize(t0.Add(time.Hour))
	assert.Equal(t, t0.Add(time.Minute), s.EndedAt(), "second Finalize must not move the end time")
}

func TestSession_SnapshotIsIndependent(t *testing.T) {
	s := sampleSession()
	snap := s.Snapshot()

	require.NoError(t, s.AddReading(reading(0xEE, 220, 20, -60, time.Minute)))
	assert.Equal(t, 5, snap.Len())
	assert.Equal(t, 6, s.Len())
	assert.Equal(t, s.ID, snap.ID)

	snap.Finalize(t0)
	assert.False(t, s.Finalized())
}

func TestSession_ReadingsKeepArrivalOrder(t *testing.T) {
	s := sampleSession()
	ids := []uint32{}
	for _, r := range s.Readings() {
		ids = append(ids, r.SensorID)
	}
	assert.Equal(t, []uint32{0xA1, 0xA1, 0xB2, 0xC3, 0xD4}, ids)
}

// ============================================================
// Summary Tests
// ============================================================

func TestSummary(t *testing.T) {
	sum := sampleSession().Summary()

	assert.Equal(t, 5, sum.Readings)
	assert.Equal(t, 4, sum.SensorCount)
	assert.Equal(t, 2, sum.WarningCount, "CRITICAL and battery low")

	assert.Equal(t, 4, sum.PressureKPa.Count, "readings without telemetry are excluded")
	assert.Equal(t, 170.0, sum.PressureKPa.Min)
	assert.Equal(t, 240.0, sum.PressureKPa.Max)
	assert.InDelta(t, 215.0, sum.PressureKPa.Avg, 1e-9)
	assert.InDelta(t, tpms.ToPSI(170), sum.PressurePSI.Min, 1e-9)
	assert.Equal(t, 18.0, sum.TemperatureC.Min)
	assert.Equal(t, 24.0, sum.TemperatureC.Max)

	assert.Equal(t, 5, sum.RSSI.Count)
	assert.Equal(t, -90.0, sum.RSSI.Min)
	assert.Equal(t, -50.0, sum.RSSI.Max)
	assert.InDelta(t, -70.0, sum.RSSI.Avg, 1e-9)

	require.Len(t, sum.Sensors, 4)
	a1 := sum.Sensors[0]
	assert.Equal(t, "000000A1", a1.SensorID)
	assert.Equal(t, 2, a1.Readings)
	assert.InDelta(t, 225.0, a1.PressureKPa.Avg, 1e-9)
	assert.Equal(t, t0.Add(2*time.Second), a1.LastSeen)
	assert.Equal(t, 0, a1.Warnings)
	assert.Equal(t, 1, sum.Sensors[1].Warnings)
}

func TestSummary_HighPressureIsAWarning(t *testing.T) {
	sum := Summarize([]tpms.Reading{reading(1, tpms.ToKPa(45), 20, -60, 0)})
	assert.Equal(t, 1, sum.WarningCount)
}

func TestSummary_Empty(t *testing.T) {
	sum := Summarize(nil)
	assert.Zero(t, sum.Readings)
	assert.Zero(t, sum.SensorCount)
	assert.NotNil(t, sum.Sensors)
}

// ============================================================
// Export Tests
// ============================================================

func TestExport_WritesCSVAndJSON(t *testing.T) {
	dir := t.TempDir()
	s := sampleSession()
	s.Finalize(t0.Add(time.Minute))

	paths, err := s.Export(dir)
	require.NoError(t, err)
	base := "session_20250601_093000_" + s.ID.String()[:8]
	assert.Equal(t, filepath.Join(dir, base+".csv"), paths.CSV)
	assert.Equal(t, filepath.Join(dir, base+".json"), paths.JSON)

	csvData, err := os.ReadFile(paths.CSV)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, strings.Join(CSVColumns, ","), lines[0])
	assert.Equal(t, "2025-06-01T09:30:01.000Z,000000A1,Schrader,220.00,31.91,20.0,68.0,NORMAL,false,periodic,true,-60,40", lines[1])

	jsonData, err := os.ReadFile(paths.JSON)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(jsonData, &doc))
	assert.Equal(t, s.ID.String(), doc["session_id"])
	assert.Contains(t, doc, "started_at")
	assert.Contains(t, doc, "ended_at")
	assert.Len(t, doc["readings"], 5)

	first := doc["readings"].([]any)[0].(map[string]any)
	for _, key := range []string{"sensor_id", "pressure_kpa", "pressure_psi", "temperature_c",
		"temperature_f", "battery_low", "supplier", "transmission", "status", "rssi", "lqi", "timestamp"} {
		assert.Contains(t, first, key)
	}
	summary := doc["summary"].(map[string]any)
	assert.EqualValues(t, 4, summary["sensor_count"])
	assert.EqualValues(t, 2, summary["warning_count"])
}

func TestExport_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := sampleSession()

	paths, err := s.Export(dir)
	require.NoError(t, err)
	csv1, _ := os.ReadFile(paths.CSV)
	json1, _ := os.ReadFile(paths.JSON)

	_, err = s.Export(dir)
	require.NoError(t, err)
	csv2, _ := os.ReadFile(paths.CSV)
	json2, _ := os.ReadFile(paths.JSON)

	assert.Equal(t, csv1, csv2)
	assert.Equal(t, json1, json2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temporary files left behind")
}

func TestExport_SameSecondSessionsDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	a := New(t0.Add(100 * time.Millisecond))
	require.NoError(t, a.AddReading(reading(0xA1, 220, 20, -60, time.Second)))
	b := New(t0.Add(700 * time.Millisecond))
	require.NoError(t, b.AddReading(reading(0xB2, 230, 21, -61, time.Second)))

	pa, err := a.Export(dir)
	require.NoError(t, err)
	pb, err := b.Export(dir)
	require.NoError(t, err)
	assert.NotEqual(t, pa.CSV, pb.CSV)
	assert.NotEqual(t, pa.JSON, pb.JSON)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	data, err := os.ReadFile(pa.CSV)
	require.NoError(t, err)
	assert.Contains(t, string(data), "000000A1")
}

func TestExport_NamesUseUTC(t *testing.T) {
	s := New(t0)
	local := &Session{ID: s.ID, StartedAt: t0.In(time.FixedZone("CEST", 2*3600))}
	assert.Equal(t, s.ExportNames("out"), local.ExportNames("out"))
}

func TestExport_SnapshotMatchesOriginal(t *testing.T) {
	s := sampleSession()
	a, err := s.Export(filepath.Join(t.TempDir(), "a"))
	require.NoError(t, err)
	b, err := s.Snapshot().Export(filepath.Join(t.TempDir(), "b"))
	require.NoError(t, err)

	ja, _ := os.ReadFile(a.JSON)
	jb, _ := os.ReadFile(b.JSON)
	assert.Equal(t, ja, jb)
}

// ============================================================
// Store Tests
// ============================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	s := sampleSession()
	s.Finalize(t0.Add(time.Minute))
	require.NoError(t, store.SaveSession(ctx, s))

	loaded, err := store.LoadSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)
	assert.True(t, s.StartedAt.Equal(loaded.StartedAt))
	assert.True(t, loaded.Finalized())
	assert.True(t, s.EndedAt().Equal(loaded.EndedAt()))

	want := s.Readings()
	got := loaded.Readings()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
		want[i].Timestamp, got[i].Timestamp = time.Time{}, time.Time{}
		assert.Equal(t, want[i], got[i])
	}
	assert.Equal(t, s.Summary().WarningCount, loaded.Summary().WarningCount)
}

func TestStore_SaveReplacesReadings(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	s := New(t0)
	require.NoError(t, s.AddReading(reading(1, 220, 20, -60, 0)))
	require.NoError(t, store.SaveSession(ctx, s))

	for i := 1; i <= 100; i++ {
		require.NoError(t, s.AddReading(reading(uint32(i%7), 220, 20, -60, time.Duration(i)*time.Second)))
	}
	require.NoError(t, store.SaveSession(ctx, s))

	loaded, err := store.LoadSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 101, loaded.Len())
	assert.False(t, loaded.Finalized())

	list, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 101, list[0].Readings)
	assert.Equal(t, 7, list[0].SensorCount)
	assert.True(t, list[0].EndedAt.IsZero())
}

func TestStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	older := New(t0)
	newer := New(t0.Add(time.Hour))
	require.NoError(t, store.SaveSession(ctx, older))
	require.NoError(t, store.SaveSession(ctx, newer))

	list, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
}

func TestStore_LoadUnknown(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LoadSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
