// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/fxamacker/cbor/v2"
)

// Message types of the CBOR envelope [msg_type, payload_map]
const (
	MsgReading uint8 = 0x01
)

// Format selects the frame encoding of a feed client
type Format int

const (
	FormatCBOR Format = iota
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "cbor"
}

// ParseFormat maps the ?format= query value; anything but "json" is CBOR
func ParseFormat(s string) Format {
	if s == "json" {
		return FormatJSON
	}
	return FormatCBOR
}

// readingPayload is the CBOR payload map of MsgReading. Integer keys keep
// frames small.
type readingPayload struct {
	SensorID     uint32  `cbor:"0,keyasint"`
	PressureKPa  float64 `cbor:"1,keyasint"`
	TemperatureC float64 `cbor:"2,keyasint"`
	BatteryLow   bool    `cbor:"3,keyasint"`
	Supplier     uint8   `cbor:"4,keyasint"`
	Transmission uint8   `cbor:"5,keyasint"`
	RSSI         int     `cbor:"6,keyasint"`
	LQI          uint8   `cbor:"7,keyasint"`
	TimestampMs  int64   `cbor:"8,keyasint"`
	HasTelemetry bool    `cbor:"9,keyasint"`
}

type envelope struct {
	_       struct{} `cbor:",toarray"`
	Type    uint8
	Payload cbor.RawMessage
}

// EncodeCBOR encodes a reading as a [MsgReading, payload] CBOR array
func EncodeCBOR(r tpms.Reading) ([]byte, error) {
	payload, err := cbor.Marshal(readingPayload{
		SensorID:     r.SensorID,
		PressureKPa:  r.PressureKPa,
		TemperatureC: r.TemperatureC,
		BatteryLow:   r.BatteryLow,
		Supplier:     uint8(r.Supplier),
		Transmission: uint8(r.Transmission),
		RSSI:         r.RSSI,
		LQI:          r.LQI,
		TimestampMs:  r.Timestamp.UnixMilli(),
		HasTelemetry: r.HasTelemetry,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding reading payload: %w", err)
	}
	return cbor.Marshal(envelope{Type: MsgReading, Payload: payload})
}

// DecodeCBOR is the inverse of EncodeCBOR. Timestamps keep millisecond
// precision.
func DecodeCBOR(data []byte) (tpms.Reading, error) {
	if len(data) == 0 {
		return tpms.Reading{}, fmt.Errorf("empty CBOR frame")
	}
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return tpms.Reading{}, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if env.Type != MsgReading {
		return tpms.Reading{}, fmt.Errorf("unexpected message type 0x%02X", env.Type)
	}
	var p readingPayload
	if err := cbor.Unmarshal(env.Payload, &p); err != nil {
		return tpms.Reading{}, fmt.Errorf("failed to decode reading payload: %w", err)
	}
	return tpms.Reading{
		SensorID:     p.SensorID,
		PressureKPa:  p.PressureKPa,
		TemperatureC: p.TemperatureC,
		BatteryLow:   p.BatteryLow,
		Supplier:     tpms.Supplier(p.Supplier),
		Transmission: tpms.Transmission(p.Transmission),
		RSSI:         p.RSSI,
		LQI:          p.LQI,
		Timestamp:    time.UnixMilli(p.TimestampMs).UTC(),
		HasTelemetry: p.HasTelemetry,
	}, nil
}

// Encode encodes r in format f
func Encode(r tpms.Reading, f Format) ([]byte, error) {
	if f == FormatJSON {
		return json.Marshal(r)
	}
	return EncodeCBOR(r)
}
