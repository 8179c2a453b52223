// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
)

// ExportPaths are the files written by Export
type ExportPaths struct {
	CSV  string
	JSON string
}

// exportTimeLayout names export files after the session start
const exportTimeLayout = "20060102_150405"

// CSVColumns is the fixed column order of the session CSV
var CSVColumns = []string{
	"timestamp",
	"sensor_id",
	"supplier",
	"pressure_kpa",
	"pressure_psi",
	"temperature_c",
	"temperature_f",
	"status",
	"battery_low",
	"transmission",
	"has_telemetry",
	"rssi",
	"lqi",
}

// Document is the JSON export schema
type Document struct {
	SessionID string             `json:"session_id"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   *time.Time         `json:"ended_at,omitempty"`
	Readings  []tpms.ReadingView `json:"readings"`
	Summary   Summary            `json:"summary"`
}

// Document builds the JSON export form of the session
func (s *Session) Document() Document {
	readings := s.Readings()
	doc := Document{
		SessionID: s.ID.String(),
		StartedAt: s.StartedAt.UTC(),
		Readings:  make([]tpms.ReadingView, len(readings)),
		Summary:   Summarize(readings),
	}
	if ended := s.EndedAt(); !ended.IsZero() {
		ended = ended.UTC()
		doc.EndedAt = &ended
	}
	for i, r := range readings {
		doc.Readings[i] = r.View()
	}
	return doc
}

// ExportNames returns the file names Export writes in dir. The base name is
// the UTC start time followed by the first block of the session ID, so
// sessions started within the same second never share files.
func (s *Session) ExportNames(dir string) ExportPaths {
	base := "session_" + s.StartedAt.UTC().Format(exportTimeLayout) + "_" + s.ID.String()[:8]
	return ExportPaths{
		CSV:  filepath.Join(dir, base+".csv"),
		JSON: filepath.Join(dir, base+".json"),
	}
}

// Export writes session_<ts>_<id>.csv and session_<ts>_<id>.json into dir. Exporting
// the same session state again produces byte-identical files.
func (s *Session) Export(dir string) (ExportPaths, error) {
	paths := s.ExportNames(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExportPaths{}, fmt.Errorf("creating export directory: %w", err)
	}

	doc := s.Document()

	csvData, err := encodeCSV(doc.Readings)
	if err != nil {
		return ExportPaths{}, err
	}
	if err := writeFileAtomic(paths.CSV, csvData); err != nil {
		return ExportPaths{}, err
	}

	jsonData, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return ExportPaths{}, fmt.Errorf("encoding session JSON: %w", err)
	}
	if err := writeFileAtomic(paths.JSON, append(jsonData, '\n')); err != nil {
		return ExportPaths{}, err
	}
	return paths, nil
}

func encodeCSV(readings []tpms.ReadingView) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVColumns); err != nil {
		return nil, fmt.Errorf("writing CSV header: %w", err)
	}
	for _, v := range readings {
		row := []string{
			v.Timestamp.Format(tpms.RecordTimeLayout),
			v.SensorID,
			v.Supplier,
			formatFloat(v.PressureKPa, 2),
			formatFloat(v.PressurePSI, 2),
			formatFloat(v.TemperatureC, 1),
			formatFloat(v.TemperatureF, 1),
			v.Status,
			strconv.FormatBool(v.BatteryLow),
			v.Transmission,
			strconv.FormatBool(v.HasTelemetry),
			strconv.Itoa(v.RSSI),
			strconv.Itoa(int(v.LQI)),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("writing CSV: %w", err)
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// writeFileAtomic replaces path so readers never see a partial export
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
