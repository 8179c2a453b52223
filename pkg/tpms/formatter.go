// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tpms

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Summary is the one-line form used in the packet log's decoded_summary column
func Summary(r Reading) string {
	if !r.HasTelemetry {
		return fmt.Sprintf("%s id=%s", r.Supplier, r.IDString())
	}
	s := fmt.Sprintf("%s id=%s %.1fkPa %.1fC %s", r.Supplier, r.IDString(), r.PressureKPa, r.TemperatureC, r.Status())
	if r.BatteryLow {
		s += " BATT"
	}
	return s
}

// SummaryFields are the key=value fields appended to a decoded packet log line
func SummaryFields(r Reading) []string {
	fields := []string{
		"supplier=" + r.Supplier.String(),
		"id=" + r.IDString(),
	}
	if r.HasTelemetry {
		fields = append(fields,
			fmt.Sprintf("kpa=%.2f", r.PressureKPa),
			fmt.Sprintf("psi=%.2f", r.PressurePSI()),
			fmt.Sprintf("temp_c=%.1f", r.TemperatureC),
			fmt.Sprintf("battery_low=%t", r.BatteryLow),
			"tx="+r.Transmission.String(),
		)
	}
	return fields
}

// FormatReading formats a reading into a human-readable block
func FormatReading(r Reading) string {
	timestamp := r.Timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s sensor %s (RSSI %d dBm, LQI %d)\n", timestamp, r.Supplier, r.IDString(), r.RSSI, r.LQI)

	if !r.HasTelemetry {
		return result + "  (ID only, no telemetry)\n"
	}

	result += fmt.Sprintf("  Pressure: %.1f kPa / %.1f PSI [%s]\n", r.PressureKPa, r.PressurePSI(), r.Status())
	result += fmt.Sprintf("  Temperature: %.1f°C / %.1f°F\n", r.TemperatureC, r.TemperatureF())
	battery := "OK"
	if r.BatteryLow {
		battery = "LOW"
	}
	result += fmt.Sprintf("  Battery: %s, Transmission: %s\n", battery, r.Transmission)
	return result
}

// FormatResult formats a decode result, including failures
func FormatResult(res Result) string {
	if res.Reading != nil {
		return FormatReading(*res.Reading)
	}
	timestamp := res.Record.Timestamp.Format("15:04:05.000")
	return fmt.Sprintf("[%s] mode 0x%02X %d bytes: %v\n  raw: %s\n",
		timestamp, res.Record.ModeID, len(res.Record.Raw), res.Err, FormatHex(res.Record.Raw))
}

// FormatHex renders bytes as space separated upper case hex
func FormatHex(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, " ")
}
