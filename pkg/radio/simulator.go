// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import (
	"context"
	"math/rand"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
)

// SimulatedSensor is one synthetic tire sensor
type SimulatedSensor struct {
	ID           uint32
	Supplier     tpms.Supplier
	PressureKPa  float64
	TemperatureC float64
	BatteryLow   bool
}

// Simulator produces packets from synthetic sensors as the configured
// profile would deliver them, without hardware
type Simulator struct {
	cfg     CaptureConfig
	sensors []SimulatedSensor
	rng     *rand.Rand

	// NoiseRate is the fraction of packets corrupted on air
	NoiseRate float64
}

// NewSimulator creates a simulator with four sensors. A zero seed uses the clock.
func NewSimulator(cfg CaptureConfig, seed int64) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	sensors := []SimulatedSensor{
		{ID: 0x1A2B3C01, Supplier: tpms.SupplierSchrader, PressureKPa: 230, TemperatureC: 22},
		{ID: 0x1A2B3C02, Supplier: tpms.SupplierSchrader, PressureKPa: 228, TemperatureC: 23},
		{ID: 0x7E0D4403, Supplier: tpms.SupplierSiemens, PressureKPa: 190, TemperatureC: 24},
		{ID: 0x7E0D4404, Supplier: tpms.SupplierSiemens, PressureKPa: 232, TemperatureC: 21, BatteryLow: true},
	}
	return &Simulator{cfg: cfg, sensors: sensors, rng: rng, NoiseRate: 0.05}
}

// Sensors returns the simulated sensor set
func (s *Simulator) Sensors() []SimulatedSensor {
	return append([]SimulatedSensor(nil), s.sensors...)
}

// Next returns the next synthetic packet
func (s *Simulator) Next() *Packet {
	i := s.rng.Intn(len(s.sensors))
	sensor := &s.sensors[i]
	sensor.PressureKPa = clamp(sensor.PressureKPa+(s.rng.Float64()-0.5)*2, 150, 320)
	sensor.TemperatureC = clamp(sensor.TemperatureC+float64(s.rng.Intn(3)-1), -20, 70)

	reading := tpms.Reading{
		SensorID:     sensor.ID,
		PressureKPa:  sensor.PressureKPa,
		TemperatureC: sensor.TemperatureC,
		BatteryLow:   sensor.BatteryLow,
	}
	if s.rng.Intn(10) == 0 {
		reading.Transmission = tpms.TransmissionEvent
	}

	var frame []byte
	if sensor.Supplier == tpms.SupplierSiemens {
		frame = tpms.EncodeSiemensVDO(reading)
	} else {
		frame = tpms.EncodeSchrader(reading)
	}

	profile := s.cfg.Profile()
	data := frame
	if profile.SoftwareManchester() {
		padded := make([]byte, profile.PacketLength()/2)
		copy(padded, frame)
		data = tpms.ManchesterEncode(padded)
	}
	if s.rng.Float64() < s.NoiseRate {
		data[s.rng.Intn(len(data))] ^= byte(1 + s.rng.Intn(255))
	}

	return &Packet{
		Data:      data,
		RSSI:      -50 - s.rng.Intn(40),
		LQI:       uint8(s.rng.Intn(48)),
		CRCOK:     true,
		Timestamp: time.Now(),
	}
}

// Receive emits one packet per interval until ctx ends or fn fails
func (s *Simulator) Receive(ctx context.Context, interval time.Duration, fn func(*Packet) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := fn(s.Next()); err != nil {
				return err
			}
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
