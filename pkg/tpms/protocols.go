// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tpms

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Protocol decodes one vendor frame layout
type Protocol interface {
	Name() string
	Decode(frame []byte) (Reading, error)
}

// errRejected means the frame does not look like this protocol at all
var errRejected = errors.New("frame rejected")

// Status byte bits shared by the Schrader and Siemens/VDO layouts
const (
	statusBatteryLow = 0x01
	statusEvent      = 0x02
	statusReserved   = 0xFC
)

func transmissionFromStatus(status byte) Transmission {
	if status&statusEvent != 0 {
		return TransmissionEvent
	}
	return TransmissionPeriodic
}

// ============================================================
// Schrader
// ============================================================

// Schrader layout, 9 or 10 bytes:
//
//	[0:4] sensor ID, big-endian
//	[4]   status (bit 0 battery low, bit 1 event, others reserved zero)
//	[5:7] pressure, big-endian, 0.25 kPa per count
//	[7]   temperature, degrees C + 40
//
// The layout carries no checksum, so the field ranges are all that separate
// it from the other layouts. Pressure is capped at schraderMaxKPa, the top of
// the passenger car sensor range.
type Schrader struct{}

const schraderMaxKPa = 450

func (Schrader) Name() string { return "Schrader" }

func (Schrader) Decode(frame []byte) (Reading, error) {
	if len(frame) < 9 || len(frame) > 10 {
		return Reading{}, errRejected
	}
	status := frame[4]
	if status&statusReserved != 0 {
		return Reading{}, errRejected
	}
	kpa := float64(binary.BigEndian.Uint16(frame[5:7])) / 4.0
	tempC := float64(frame[7]) - 40.0
	if kpa > schraderMaxKPa || tempC > 125 {
		return Reading{}, errRejected
	}
	return Reading{
		SensorID:     binary.BigEndian.Uint32(frame[0:4]),
		PressureKPa:  kpa,
		TemperatureC: tempC,
		BatteryLow:   status&statusBatteryLow != 0,
		Supplier:     SupplierSchrader,
		Transmission: transmissionFromStatus(status),
		HasTelemetry: true,
	}, nil
}

// EncodeSchrader builds a 9 byte Schrader frame. The trailing byte is zero.
func EncodeSchrader(r Reading) []byte {
	frame := make([]byte, 9)
	binary.BigEndian.PutUint32(frame[0:4], r.SensorID)
	frame[4] = encodeStatus(r)
	binary.BigEndian.PutUint16(frame[5:7], uint16(r.PressureKPa*4.0+0.5))
	frame[7] = byte(int(r.TemperatureC) + 40)
	return frame
}

// ============================================================
// Siemens/VDO
// ============================================================

// SiemensVDO layout, 8 to 10 bytes:
//
//	[0:4] sensor ID, big-endian
//	[4:6] pressure, big-endian, kPa = count/100 + 100
//	[6]   temperature, degrees C + 50
//	[7]   status (bit 0 battery low, bit 1 event)
//	[8]   optional XOR of bytes 0-7
//
// A tenth byte is receiver padding and ignored.
type SiemensVDO struct{}

func (SiemensVDO) Name() string { return "Siemens/VDO" }

func (SiemensVDO) Decode(frame []byte) (Reading, error) {
	if len(frame) < 8 || len(frame) > 10 {
		return Reading{}, errRejected
	}
	kpa := float64(binary.BigEndian.Uint16(frame[4:6]))/100.0 + 100.0
	tempC := float64(frame[6]) - 50.0
	if kpa > 700 || tempC > 125 {
		return Reading{}, errRejected
	}
	if len(frame) >= 9 {
		if sum := xorSum(frame[:8]); sum != frame[8] {
			return Reading{}, &DecodeError{
				Kind:     ChecksumMismatch,
				Protocol: "Siemens/VDO",
				Detail:   fmt.Sprintf("expected 0x%02X, got 0x%02X", sum, frame[8]),
			}
		}
	}
	status := frame[7]
	return Reading{
		SensorID:     binary.BigEndian.Uint32(frame[0:4]),
		PressureKPa:  kpa,
		TemperatureC: tempC,
		BatteryLow:   status&statusBatteryLow != 0,
		Supplier:     SupplierSiemens,
		Transmission: transmissionFromStatus(status),
		HasTelemetry: true,
	}, nil
}

// EncodeSiemensVDO builds a 9 byte Siemens/VDO frame with checksum
func EncodeSiemensVDO(r Reading) []byte {
	frame := make([]byte, 9)
	binary.BigEndian.PutUint32(frame[0:4], r.SensorID)
	raw := (r.PressureKPa - 100.0) * 100.0
	if raw < 0 {
		raw = 0
	}
	binary.BigEndian.PutUint16(frame[4:6], uint16(raw+0.5))
	frame[6] = byte(int(r.TemperatureC) + 50)
	frame[7] = encodeStatus(r)
	frame[8] = xorSum(frame[:8])
	return frame
}

func xorSum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

func encodeStatus(r Reading) byte {
	var status byte
	if r.BatteryLow {
		status |= statusBatteryLow
	}
	if r.Transmission == TransmissionEvent {
		status |= statusEvent
	}
	return status
}

// ============================================================
// Generic fallback
// ============================================================

// Generic extracts only a sensor ID from the first four bytes of frames
// between 6 and 16 bytes. Pressure and temperature are not meaningful.
type Generic struct{}

func (Generic) Name() string { return "Generic" }

func (Generic) Decode(frame []byte) (Reading, error) {
	if len(frame) < 6 || len(frame) > 16 {
		return Reading{}, errRejected
	}
	id := binary.BigEndian.Uint32(frame[0:4])
	if id == 0 || id == 0xFFFFFFFF {
		return Reading{}, errRejected
	}
	return Reading{
		SensorID: id,
		Supplier: SupplierUnknown,
	}, nil
}

// ============================================================
// Dispatch
// ============================================================

// DefaultProtocols is the fixed priority order. Generic must stay last.
var DefaultProtocols = []Protocol{Schrader{}, SiemensVDO{}, Generic{}}

// Dispatch tries each protocol once, in order, and returns the first
// reading. A checksum mismatch from a recognised layout stops the generic
// fallback from turning a corrupt frame into an unknown sensor.
func Dispatch(frame []byte) (Reading, error) {
	return dispatch(DefaultProtocols, frame)
}

func dispatch(protocols []Protocol, frame []byte) (Reading, error) {
	var checksumErr error
	for _, p := range protocols {
		if _, isGeneric := p.(Generic); isGeneric && checksumErr != nil {
			return Reading{}, checksumErr
		}
		r, err := p.Decode(frame)
		if err == nil {
			return r, nil
		}
		if errors.Is(err, ErrChecksumMismatch) && checksumErr == nil {
			checksumErr = err
		}
	}
	if checksumErr != nil {
		return Reading{}, checksumErr
	}
	return Reading{}, &DecodeError{
		Kind:   NoProtocolMatched,
		Detail: fmt.Sprintf("%d byte frame", len(frame)),
	}
}
