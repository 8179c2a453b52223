// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tpms

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RawPacketRecord is one packet as received by the radio. Raw holds the
// on-air bytes; for Manchester profiles those are undecoded chips.
type RawPacketRecord struct {
	Timestamp time.Time
	ModeID    uint8
	Raw       []byte
	RSSI      int
	LQI       uint8
}

// RecordTimeLayout is the timestamp layout of packet log lines
const RecordTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrInfoLine is returned for comment lines, which carry no packet
var ErrInfoLine = errors.New("informational line")

// FormatRecordLine renders a record as a packet log line:
//
//	timestamp,mode_id(hex),raw_len,raw_hex,decoded_summary,field=value,...
//
// The summary must not contain commas; "-" marks an undecoded packet.
func FormatRecordLine(rec RawPacketRecord, summary string, fields ...string) string {
	if summary == "" {
		summary = "-"
	}
	summary = strings.ReplaceAll(summary, ",", ";")

	var b strings.Builder
	b.WriteString(rec.Timestamp.UTC().Format(RecordTimeLayout))
	fmt.Fprintf(&b, ",0x%02X,%d,%s,%s", rec.ModeID, len(rec.Raw), strings.ToUpper(hex.EncodeToString(rec.Raw)), summary)
	fmt.Fprintf(&b, ",rssi=%d,lqi=%d", rec.RSSI, rec.LQI)
	for _, f := range fields {
		b.WriteString(",")
		b.WriteString(f)
	}
	return b.String()
}

// ParseRecordLine parses a packet log line. Lines starting with '#' return
// ErrInfoLine. Unknown key=value fields are ignored.
func ParseRecordLine(line string) (RawPacketRecord, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return RawPacketRecord{}, ErrInfoLine
	}

	parts := strings.Split(line, ",")
	if len(parts) < 5 {
		return RawPacketRecord{}, fmt.Errorf("expected at least 5 fields, got %d", len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	var rec RawPacketRecord
	ts, err := time.Parse(RecordTimeLayout, parts[0])
	if err != nil {
		if ts, err = time.Parse(time.RFC3339Nano, parts[0]); err != nil {
			return RawPacketRecord{}, fmt.Errorf("invalid timestamp %q: %w", parts[0], err)
		}
	}
	rec.Timestamp = ts

	mode, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(parts[1]), "0x"), 16, 8)
	if err != nil {
		return RawPacketRecord{}, fmt.Errorf("invalid mode %q: %w", parts[1], err)
	}
	rec.ModeID = uint8(mode)

	rawLen, err := strconv.Atoi(parts[2])
	if err != nil {
		return RawPacketRecord{}, fmt.Errorf("invalid raw length %q: %w", parts[2], err)
	}
	raw, err := hex.DecodeString(parts[3])
	if err != nil {
		return RawPacketRecord{}, fmt.Errorf("invalid raw hex: %w", err)
	}
	if len(raw) != rawLen {
		return RawPacketRecord{}, fmt.Errorf("raw length mismatch: declared %d, got %d", rawLen, len(raw))
	}
	rec.Raw = raw

	for _, field := range parts[5:] {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "rssi":
			v, err := strconv.Atoi(value)
			if err != nil {
				return RawPacketRecord{}, fmt.Errorf("invalid rssi %q: %w", value, err)
			}
			rec.RSSI = v
		case "lqi":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return RawPacketRecord{}, fmt.Errorf("invalid lqi %q: %w", value, err)
			}
			rec.LQI = uint8(v)
		}
	}
	return rec, nil
}
