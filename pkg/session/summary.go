// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"sort"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
)

// Stat is the min/max/average of one quantity
type Stat struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`

	sum float64
}

func (s *Stat) add(v float64) {
	if s.Count == 0 || v < s.Min {
		s.Min = v
	}
	if s.Count == 0 || v > s.Max {
		s.Max = v
	}
	s.Count++
	s.sum += v
	s.Avg = s.sum / float64(s.Count)
}

// SensorSummary is the per-sensor part of a Summary
type SensorSummary struct {
	SensorID     string    `json:"sensor_id"`
	Supplier     string    `json:"supplier"`
	Readings     int       `json:"readings"`
	Warnings     int       `json:"warnings"`
	LastSeen     time.Time `json:"last_seen"`
	PressureKPa  Stat      `json:"pressure_kpa"`
	PressurePSI  Stat      `json:"pressure_psi"`
	TemperatureC Stat      `json:"temperature_c"`
	RSSI         Stat      `json:"rssi"`
}

// Summary holds the derived statistics of a session. Pressure and
// temperature only count readings that carry telemetry. WarningCount counts
// readings whose status is not NORMAL or whose battery is low.
type Summary struct {
	Readings     int             `json:"readings"`
	SensorCount  int             `json:"sensor_count"`
	WarningCount int             `json:"warning_count"`
	PressureKPa  Stat            `json:"pressure_kpa"`
	PressurePSI  Stat            `json:"pressure_psi"`
	TemperatureC Stat            `json:"temperature_c"`
	RSSI         Stat            `json:"rssi"`
	Sensors      []SensorSummary `json:"sensors"`
}

// Summarize computes a Summary. It is a pure function of readings.
func Summarize(readings []tpms.Reading) Summary {
	sum := Summary{Readings: len(readings), Sensors: []SensorSummary{}}
	bySensor := make(map[uint32]*SensorSummary)

	for _, r := range readings {
		ss, ok := bySensor[r.SensorID]
		if !ok {
			ss = &SensorSummary{SensorID: r.IDString()}
			bySensor[r.SensorID] = ss
		}
		ss.Readings++
		ss.Supplier = r.Supplier.String()
		if r.Timestamp.After(ss.LastSeen) {
			ss.LastSeen = r.Timestamp.UTC()
		}

		rssi := float64(r.RSSI)
		sum.RSSI.add(rssi)
		ss.RSSI.add(rssi)

		if r.HasTelemetry {
			psi := r.PressurePSI()
			sum.PressureKPa.add(r.PressureKPa)
			sum.PressurePSI.add(psi)
			sum.TemperatureC.add(r.TemperatureC)
			ss.PressureKPa.add(r.PressureKPa)
			ss.PressurePSI.add(psi)
			ss.TemperatureC.add(r.TemperatureC)
		}

		if r.IsWarning() {
			sum.WarningCount++
			ss.Warnings++
		}
	}

	ids := make([]uint32, 0, len(bySensor))
	for id := range bySensor {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		sum.Sensors = append(sum.Sensors, *bySensor[id])
	}
	sum.SensorCount = len(ids)
	return sum
}
