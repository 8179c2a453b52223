// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tpms decodes tire pressure sensor frames into readings.
package tpms

import (
	"encoding/json"
	"fmt"
	"time"
)

// Supplier identifies the sensor protocol family
type Supplier int

const (
	SupplierUnknown Supplier = iota
	SupplierSchrader
	SupplierSiemens
)

func (s Supplier) String() string {
	switch s {
	case SupplierSchrader:
		return "Schrader"
	case SupplierSiemens:
		return "Siemens/Continental"
	default:
		return "Unknown"
	}
}

// Transmission is the reason a sensor transmitted
type Transmission int

const (
	TransmissionPeriodic Transmission = iota
	TransmissionEvent
)

func (t Transmission) String() string {
	if t == TransmissionEvent {
		return "event"
	}
	return "periodic"
}

// Reading is one decoded sensor transmission. It is immutable once built.
type Reading struct {
	SensorID     uint32
	PressureKPa  float64
	TemperatureC float64
	BatteryLow   bool
	Supplier     Supplier
	Transmission Transmission
	RSSI         int
	LQI          uint8
	Timestamp    time.Time

	// HasTelemetry is false for frames only recognised by the generic
	// fallback, whose pressure and temperature are not meaningful.
	HasTelemetry bool
}

// PressurePSI is computed from the stored kPa value
func (r Reading) PressurePSI() float64 {
	return ToPSI(r.PressureKPa)
}

// TemperatureF is computed from the stored Celsius value
func (r Reading) TemperatureF() float64 {
	return ToFahrenheit(r.TemperatureC)
}

// Status classifies the reading pressure. Readings without telemetry are UNKNOWN.
func (r Reading) Status() PressureStatus {
	if !r.HasTelemetry {
		return StatusUnknown
	}
	return ClassifyPressure(r.PressurePSI())
}

// IsWarning reports whether the reading needs attention
func (r Reading) IsWarning() bool {
	if r.BatteryLow {
		return true
	}
	switch r.Status() {
	case StatusCritical, StatusLow, StatusHigh:
		return true
	}
	return false
}

// IDString formats the sensor ID as 8 hex digits
func (r Reading) IDString() string {
	return fmt.Sprintf("%08X", r.SensorID)
}

// ReadingView is a Reading with derived units materialised for export
type ReadingView struct {
	SensorID     string    `json:"sensor_id"`
	PressureKPa  float64   `json:"pressure_kpa"`
	PressurePSI  float64   `json:"pressure_psi"`
	TemperatureC float64   `json:"temperature_c"`
	TemperatureF float64   `json:"temperature_f"`
	BatteryLow   bool      `json:"battery_low"`
	Supplier     string    `json:"supplier"`
	Transmission string    `json:"transmission"`
	Status       string    `json:"status"`
	HasTelemetry bool      `json:"has_telemetry"`
	RSSI         int       `json:"rssi"`
	LQI          uint8     `json:"lqi"`
	Timestamp    time.Time `json:"timestamp"`
}

// View returns the flattened form used by JSON and CBOR exports
func (r Reading) View() ReadingView {
	return ReadingView{
		SensorID:     r.IDString(),
		PressureKPa:  r.PressureKPa,
		PressurePSI:  r.PressurePSI(),
		TemperatureC: r.TemperatureC,
		TemperatureF: r.TemperatureF(),
		BatteryLow:   r.BatteryLow,
		Supplier:     r.Supplier.String(),
		Transmission: r.Transmission.String(),
		Status:       r.Status().String(),
		HasTelemetry: r.HasTelemetry,
		RSSI:         r.RSSI,
		LQI:          r.LQI,
		Timestamp:    r.Timestamp.UTC(),
	}
}

// MarshalJSON includes the derived units and status
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.View())
}

// UnmarshalJSON restores a reading from its exported form
func (r *Reading) UnmarshalJSON(data []byte) error {
	var v ReadingView
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	var id uint32
	if _, err := fmt.Sscanf(v.SensorID, "%X", &id); err != nil {
		return fmt.Errorf("invalid sensor_id %q: %w", v.SensorID, err)
	}
	*r = Reading{
		SensorID:     id,
		PressureKPa:  v.PressureKPa,
		TemperatureC: v.TemperatureC,
		BatteryLow:   v.BatteryLow,
		Supplier:     ParseSupplier(v.Supplier),
		Transmission: ParseTransmission(v.Transmission),
		RSSI:         v.RSSI,
		LQI:          v.LQI,
		Timestamp:    v.Timestamp,
		HasTelemetry: v.HasTelemetry,
	}
	return nil
}

// ParseSupplier is the inverse of Supplier.String
func ParseSupplier(s string) Supplier {
	switch s {
	case "Schrader":
		return SupplierSchrader
	case "Siemens/Continental", "Siemens":
		return SupplierSiemens
	default:
		return SupplierUnknown
	}
}

// ParseTransmission is the inverse of Transmission.String
func ParseTransmission(s string) Transmission {
	if s == "event" {
		return TransmissionEvent
	}
	return TransmissionPeriodic
}
