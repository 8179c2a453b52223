// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tpms

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}

func sameResult(a, b Result) bool {
	if (a.Reading == nil) != (b.Reading == nil) {
		return false
	}
	if a.Reading != nil {
		return *a.Reading == *b.Reading
	}
	return KindOf(a.Err) == KindOf(b.Err) && a.Err.Error() == b.Err.Error()
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

func TestFuzz_DecodeDeterministic(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	d := NewDecoder(manchesterModes)

	for i := 0; i < rounds; i++ {
		rec := RawPacketRecord{
			ModeID: uint8(rng.Intn(4) + 1),
			Raw:    randomBytes(rng, rng.Intn(25)),
			RSSI:   -rng.Intn(100),
			LQI:    uint8(rng.Intn(128)),
		}
		first := d.Decode(rec)
		second := d.Decode(rec)
		if !sameResult(first, second) {
			t.Fatalf("Round %d: decode of %X not deterministic: %+v vs %+v", i, rec.Raw, first, second)
		}
		if (first.Reading == nil) == (first.Err == nil) {
			t.Fatalf("Round %d: result must carry exactly one of reading or error: %+v", i, first)
		}
	}
}

func TestFuzz_ManchesterRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		data := randomBytes(rng, rng.Intn(16))
		got, err := ManchesterDecode(ManchesterEncode(data))
		if err != nil {
			t.Fatalf("Round %d: decode error %v", i, err)
		}
		if string(got) != string(data) {
			t.Fatalf("Round %d: %X != %X", i, got, data)
		}
	}
}

func TestFuzz_EncodedReadingsDecode(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		want := Reading{
			SensorID:     rng.Uint32()%0xFFFFFFFE + 1,
			PressureKPa:  float64(160+rng.Intn(200)) + 0.25*float64(rng.Intn(4)),
			TemperatureC: float64(rng.Intn(80) - 20),
			BatteryLow:   rng.Intn(2) == 1,
		}

		r, err := Dispatch(EncodeSchrader(want))
		if err != nil || r.Supplier != SupplierSchrader {
			t.Fatalf("Round %d: Schrader %+v decoded as %+v, %v", i, want, r, err)
		}
		if r.SensorID != want.SensorID || r.PressureKPa != want.PressureKPa || r.TemperatureC != want.TemperatureC || r.BatteryLow != want.BatteryLow {
			t.Fatalf("Round %d: Schrader mismatch %+v vs %+v", i, r, want)
		}

		r, err = Dispatch(EncodeSiemensVDO(want))
		if err != nil || r.Supplier != SupplierSiemens {
			t.Fatalf("Round %d: Siemens %+v decoded as %+v, %v", i, want, r, err)
		}
		if r.SensorID != want.SensorID || r.TemperatureC != want.TemperatureC || r.BatteryLow != want.BatteryLow {
			t.Fatalf("Round %d: Siemens mismatch %+v vs %+v", i, r, want)
		}
	}
}
