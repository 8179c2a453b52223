// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tpms

// Result is the outcome of decoding one record: exactly one of Reading or
// Err is set.
type Result struct {
	Record  RawPacketRecord
	Reading *Reading
	Err     error
}

// OK reports whether the record produced a reading
func (r Result) OK() bool {
	return r.Reading != nil
}

// Decoder turns raw packet records into readings. It holds no per-packet
// state, so Decode is a pure function of the record.
type Decoder struct {
	protocols  []Protocol
	manchester func(modeID uint8) bool
}

// NewDecoder creates a decoder. manchester reports which capture modes
// deliver Manchester chips; nil means none.
func NewDecoder(manchester func(modeID uint8) bool) *Decoder {
	if manchester == nil {
		manchester = func(uint8) bool { return false }
	}
	return &Decoder{
		protocols:  DefaultProtocols,
		manchester: manchester,
	}
}

// Frame returns the data bytes of a record, Manchester decoding them when
// the record mode requires it
func (d *Decoder) Frame(rec RawPacketRecord) ([]byte, error) {
	if d.manchester(rec.ModeID) {
		return ManchesterDecode(rec.Raw)
	}
	return rec.Raw, nil
}

// Decode runs both stages on a record
func (d *Decoder) Decode(rec RawPacketRecord) Result {
	frame, err := d.Frame(rec)
	if err != nil {
		return Result{Record: rec, Err: err}
	}
	reading, err := dispatch(d.protocols, frame)
	if err != nil {
		return Result{Record: rec, Err: err}
	}
	reading.RSSI = rec.RSSI
	reading.LQI = rec.LQI
	reading.Timestamp = rec.Timestamp
	return Result{Record: rec, Reading: &reading}
}

// DecodeLine parses a packet log line and decodes it
func (d *Decoder) DecodeLine(line string) (Result, error) {
	rec, err := ParseRecordLine(line)
	if err != nil {
		return Result{}, err
	}
	return d.Decode(rec), nil
}
