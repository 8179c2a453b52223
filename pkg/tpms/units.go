// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tpms

// KPaToPSI is the kPa to psi conversion factor
const KPaToPSI = 0.145038

// Pressure classification thresholds (psi)
const (
	CriticalBelowPSI = 26.0
	LowBelowPSI      = 28.0
	HighAbovePSI     = 44.0
)

// PressureStatus is the tire pressure classification
type PressureStatus int

const (
	StatusUnknown PressureStatus = iota
	StatusCritical
	StatusLow
	StatusNormal
	StatusHigh
)

func (s PressureStatus) String() string {
	switch s {
	case StatusCritical:
		return "CRITICAL"
	case StatusLow:
		return "LOW"
	case StatusNormal:
		return "NORMAL"
	case StatusHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// ToPSI converts kPa to psi
func ToPSI(kpa float64) float64 {
	return kpa * KPaToPSI
}

// ToKPa converts psi to kPa
func ToKPa(psi float64) float64 {
	return psi / KPaToPSI
}

// ToFahrenheit converts Celsius to Fahrenheit
func ToFahrenheit(c float64) float64 {
	return c*9.0/5.0 + 32.0
}

// ClassifyPressure maps a psi value onto the status bands:
// below 26 CRITICAL, 26 up to 28 LOW, 28 through 44 NORMAL, above 44 HIGH.
func ClassifyPressure(psi float64) PressureStatus {
	switch {
	case psi < CriticalBelowPSI:
		return StatusCritical
	case psi < LowBelowPSI:
		return StatusLow
	case psi <= HighAbovePSI:
		return StatusNormal
	default:
		return StatusHigh
	}
}
