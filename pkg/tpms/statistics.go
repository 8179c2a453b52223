// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tpms

import (
	"fmt"
	"time"
)

// Statistics tracks decode outcomes and rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalRecords     uint64
	Readings         uint64
	ManchesterErrors uint64
	NoMatch          uint64
	ChecksumErrors   uint64
	Schrader         uint64
	Siemens          uint64
	Unknown          uint64
	Warnings         uint64

	// Rates (calculated)
	PacketRate float64 // records/sec
	ErrorRate  float64 // failed records/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one decode result
func (s *Statistics) Update(res Result) {
	s.TotalRecords++
	s.LastUpdateTime = time.Now()

	if res.Err != nil {
		switch KindOf(res.Err) {
		case ManchesterError:
			s.ManchesterErrors++
		case ChecksumMismatch:
			s.ChecksumErrors++
		default:
			s.NoMatch++
		}
		return
	}
	if res.Reading == nil {
		return
	}

	s.Readings++
	switch res.Reading.Supplier {
	case SupplierSchrader:
		s.Schrader++
	case SupplierSiemens:
		s.Siemens++
	default:
		s.Unknown++
	}
	if res.Reading.IsWarning() {
		s.Warnings++
	}
}

// Errors returns the number of records that produced no reading
func (s *Statistics) Errors() uint64 {
	return s.ManchesterErrors + s.NoMatch + s.ChecksumErrors
}

// CalculateRates calculates record and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalRecords) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent float64
	if s.TotalRecords > 0 {
		validPercent = float64(s.Readings) * 100.0 / float64(s.TotalRecords)
	}
	percent := func(n uint64) float64 {
		if s.TotalRecords == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalRecords)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Records:   %8d\n", s.TotalRecords)
	result += fmt.Sprintf("Readings:        %8d (%.1f%%)\n", s.Readings, validPercent)
	if s.Readings > 0 {
		result += fmt.Sprintf("  Schrader:         %5d\n", s.Schrader)
		result += fmt.Sprintf("  Siemens/VDO:      %5d\n", s.Siemens)
		result += fmt.Sprintf("  Unknown:          %5d\n", s.Unknown)
		result += fmt.Sprintf("  Warnings:         %5d\n", s.Warnings)
	}
	if s.ManchesterErrors > 0 {
		result += fmt.Sprintf("Manchester Errs: %8d (%.1f%%)\n", s.ManchesterErrors, percent(s.ManchesterErrors))
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errs:   %8d (%.1f%%)\n", s.ChecksumErrors, percent(s.ChecksumErrors))
	}
	if s.NoMatch > 0 {
		result += fmt.Sprintf("No Protocol:     %8d (%.1f%%)\n", s.NoMatch, percent(s.NoMatch))
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
