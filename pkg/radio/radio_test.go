// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/charmbracelet/log"
)

// ============================================================
// Fake CC1101
// ============================================================

// fakeChip emulates the CC1101 SPI register file closely enough for the
// controller: config registers, PATABLE, status registers, RX FIFO and
// command strobes.
type fakeChip struct {
	regs     [ConfigRegisterCount]byte
	patable  [8]byte
	partnum  byte
	version  byte
	fifo     []byte
	overflow bool
	strobes  []byte
	failTx   error
}

func newFakeChip() *fakeChip {
	return &fakeChip{partnum: 0x00, version: 0x14}
}

func (f *fakeChip) Tx(w, r []byte) error {
	if f.failTx != nil {
		return f.failTx
	}
	if len(w) == 0 {
		return nil
	}
	header := w[0]
	addr := header & 0x3F
	read := header&HeaderRead != 0
	burst := header&HeaderBurst != 0

	if len(w) == 1 && addr >= StrobeSRES && addr <= StrobeSNOP {
		f.strobe(addr)
		return nil
	}

	switch {
	case addr == AddrFIFO:
		if read {
			for i := 1; i < len(w); i++ {
				if len(f.fifo) > 0 {
					r[i] = f.fifo[0]
					f.fifo = f.fifo[1:]
				}
			}
		}
	case addr == AddrPATABLE:
		if !read {
			copy(f.patable[:], w[1:])
		}
	case read && burst && addr >= StatusPARTNUM:
		r[1] = f.status(addr)
	default:
		for i := 1; i < len(w); i++ {
			reg := int(addr) + i - 1
			if reg >= ConfigRegisterCount {
				break
			}
			if read {
				r[i] = f.regs[reg]
			} else {
				f.regs[reg] = w[i]
			}
			if !burst {
				break
			}
		}
	}
	return nil
}

func (f *fakeChip) strobe(cmd byte) {
	f.strobes = append(f.strobes, cmd)
	switch cmd {
	case StrobeSRES:
		f.regs = [ConfigRegisterCount]byte{}
	case StrobeSFRX:
		f.fifo = nil
		f.overflow = false
	}
}

func (f *fakeChip) status(addr byte) byte {
	switch addr {
	case StatusPARTNUM:
		return f.partnum
	case StatusVERSION:
		return f.version
	case StatusRXBYTES:
		v := byte(len(f.fifo)) & RXBytesCountMask
		if f.overflow {
			v |= RXBytesOverflow
		}
		return v
	case StatusMARCSTATE:
		return MarcStateRX
	}
	return 0
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// ============================================================
// Profile Table Tests
// ============================================================

func TestSelectProfile_KnownModes(t *testing.T) {
	tests := []struct {
		mode       uint8
		name       string
		band       Band
		modulation Modulation
	}{
		{ModeTPMS, "TPMS", Band433, ModFSKManchester},
		{ModeIoT, "IoT", Band433, ModGFSK},
		{ModeGFSK100, "GFSK100", Band433, ModGFSK},
		{ModeOOK, "OOK", Band433, ModOOK},
		{ModeOOK868, "OOK868", Band868, ModOOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := SelectProfile(tt.mode)
			if p.ModeID != tt.mode || p.Name != tt.name {
				t.Errorf("Expected %s (0x%02X), got %s (0x%02X)", tt.name, tt.mode, p.Name, p.ModeID)
			}
			if p.Band != tt.band {
				t.Errorf("Expected band %s, got %s", tt.band, p.Band)
			}
			if p.Modulation != tt.modulation {
				t.Errorf("Expected modulation %s, got %s", tt.modulation, p.Modulation)
			}
			if got := FrequencyHz(p.Registers()); abs(got-tt.band.CenterHz()) > 1000 {
				t.Errorf("Register carrier %.0f Hz does not match band %s", got, tt.band)
			}
		})
	}
}

func TestSelectProfile_UnknownFallsBackToDefault(t *testing.T) {
	for _, mode := range []uint8{0x00, 0x06, 0x42, 0xFF} {
		p := SelectProfile(mode)
		if p.ModeID != ModeGFSK100 {
			t.Errorf("Mode 0x%02X: expected GFSK100 fallback, got %s", mode, p.Name)
		}
	}
	if _, ok := LookupProfile(0x42); ok {
		t.Error("LookupProfile should not fall back")
	}
}

func TestProfileByName_CaseInsensitive(t *testing.T) {
	for _, name := range []string{"tpms", "TPMS", "iot", "Gfsk100", "ook", "OOK868"} {
		if _, ok := ProfileByName(name); !ok {
			t.Errorf("Expected profile for %q", name)
		}
	}
	if _, ok := ProfileByName("fm"); ok {
		t.Error("Unexpected profile for unknown name")
	}
}

func TestProfiles_OrderedByMode(t *testing.T) {
	profiles := Profiles()
	if len(profiles) != 5 {
		t.Fatalf("Expected 5 profiles, got %d", len(profiles))
	}
	for i := 1; i < len(profiles); i++ {
		if profiles[i-1].ModeID >= profiles[i].ModeID {
			t.Errorf("Profiles not ordered: 0x%02X before 0x%02X", profiles[i-1].ModeID, profiles[i].ModeID)
		}
	}
}

func TestProfile_RegistersIsCopy(t *testing.T) {
	p := SelectProfile(ModeTPMS)
	regs := p.Registers()
	regs[RegPKTLEN] = 0xEE
	if SelectProfile(ModeTPMS).Registers()[RegPKTLEN] == 0xEE {
		t.Error("Mutating a register copy changed the profile table")
	}
}

func TestProfile_TPMSCarriesManchesterChips(t *testing.T) {
	p := SelectProfile(ModeTPMS)
	if !p.SoftwareManchester() {
		t.Error("TPMS profile should leave Manchester decoding to software")
	}
	if !p.FixedLength() || p.PacketLength() != 20 {
		t.Errorf("Expected fixed 20 byte frames, got fixed=%v len=%d", p.FixedLength(), p.PacketLength())
	}
	if SelectProfile(ModeGFSK100).SoftwareManchester() {
		t.Error("GFSK100 profile should not be Manchester")
	}
}

func TestFrequencyWord_Bands(t *testing.T) {
	tests := []struct {
		band Band
		word uint32
	}{
		{Band315, 0x0C1D8A},
		{Band433, 0x10B071},
		{Band868, 0x21656A},
		{Band915, 0x23313B},
	}
	for _, tt := range tests {
		f2, f1, f0 := FrequencyWord(tt.band.CenterHz())
		got := uint32(f2)<<16 | uint32(f1)<<8 | uint32(f0)
		if got != tt.word {
			t.Errorf("%s: expected 0x%06X, got 0x%06X", tt.band, tt.word, got)
		}
	}
}

func TestCaptureConfig_Registers(t *testing.T) {
	cfg := CaptureConfig{Mode: ModeTPMS, FrequencySelect: 4, Channel: 3, NodeAddress: 0x5A}
	regs := cfg.Registers()
	if regs[RegFREQ2] != 0x23 || regs[RegFREQ1] != 0x31 || regs[RegFREQ0] != 0x3B {
		t.Errorf("Expected 915 MHz frequency word, got %02X %02X %02X", regs[RegFREQ2], regs[RegFREQ1], regs[RegFREQ0])
	}
	if regs[RegCHANNR] != 3 || regs[RegADDR] != 0x5A {
		t.Errorf("Expected CHANNR=3 ADDR=0x5A, got %d 0x%02X", regs[RegCHANNR], regs[RegADDR])
	}
	if cfg.Band() != Band915 {
		t.Errorf("Expected 915MHz band, got %s", cfg.Band())
	}

	base := SelectProfile(ModeTPMS).Registers()
	if regs[RegMDMCFG4] != base[RegMDMCFG4] || regs[RegPKTLEN] != base[RegPKTLEN] {
		t.Error("Modem registers should come from the profile unchanged")
	}
}

func TestCaptureConfig_Validate(t *testing.T) {
	for sel := 0; sel <= 4; sel++ {
		if err := (CaptureConfig{FrequencySelect: sel}).Validate(); err != nil {
			t.Errorf("Select %d: unexpected error %v", sel, err)
		}
	}
	for _, sel := range []int{-1, 5, 9} {
		if err := (CaptureConfig{FrequencySelect: sel}).Validate(); err == nil {
			t.Errorf("Select %d: expected error", sel)
		}
	}
}

// ============================================================
// Controller Tests
// ============================================================

func TestController_ApplyWritesImage(t *testing.T) {
	chip := newFakeChip()
	ctrl := NewController(chip, quietLogger())

	cfg := CaptureConfig{Mode: ModeTPMS, FrequencySelect: 1, Channel: 1}
	if err := ctrl.Apply(cfg); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if chip.regs != cfg.Registers() {
		t.Errorf("Chip registers differ from derived image:\n got %X\nwant %X", chip.regs, cfg.Registers())
	}
	if chip.patable != [8]byte{} {
		t.Errorf("PATABLE should be zeroed, got %X", chip.patable)
	}
	if chip.strobes[0] != StrobeSRES {
		t.Errorf("First strobe should be SRES, got 0x%02X", chip.strobes[0])
	}
	if last := chip.strobes[len(chip.strobes)-1]; last != StrobeSRX {
		t.Errorf("Last strobe should be SRX, got 0x%02X", last)
	}

	dump, err := ctrl.DumpRegisters()
	if err != nil {
		t.Fatalf("DumpRegisters failed: %v", err)
	}
	regs := cfg.Registers()
	if string(dump) != string(regs[:]) {
		t.Errorf("Dump differs from written image")
	}
}

func TestController_DeviceNotResponding(t *testing.T) {
	for _, version := range []byte{0x00, 0xFF} {
		chip := newFakeChip()
		chip.version = version
		ctrl := NewController(chip, quietLogger())

		err := ctrl.Apply(CaptureConfig{Mode: ModeTPMS})
		var radioErr *RadioError
		if !errors.As(err, &radioErr) {
			t.Fatalf("Expected RadioError, got %v", err)
		}
		if radioErr.Kind != DeviceNotResponding {
			t.Errorf("Expected DeviceNotResponding, got %s", radioErr.Kind)
		}
		if !errors.Is(err, ErrDeviceNotResponding) {
			t.Error("errors.Is should match ErrDeviceNotResponding")
		}
		if chip.regs != ([ConfigRegisterCount]byte{}) {
			t.Error("Registers should not be written when the chip does not respond")
		}
	}
}

func TestController_BusError(t *testing.T) {
	chip := newFakeChip()
	chip.failTx = errors.New("spidev: no such device")
	ctrl := NewController(chip, quietLogger())

	err := ctrl.Apply(CaptureConfig{Mode: ModeTPMS})
	var radioErr *RadioError
	if !errors.As(err, &radioErr) || radioErr.Kind != BusError {
		t.Fatalf("Expected BusError, got %v", err)
	}
}

func TestController_ReadPacketFixedLength(t *testing.T) {
	chip := newFakeChip()
	ctrl := NewController(chip, quietLogger())
	if err := ctrl.Apply(CaptureConfig{Mode: ModeTPMS}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Partial frame is not returned
	chip.fifo = make([]byte, 10)
	pkt, err := ctrl.ReadPacket()
	if err != nil || pkt != nil {
		t.Fatalf("Expected no packet for partial frame, got %v, %v", pkt, err)
	}

	frame := make([]byte, 20)
	for i := range frame {
		frame[i] = byte(0xA0 + i)
	}
	chip.fifo = append(append([]byte{}, frame...), 0x20, 0x80|0x2A)

	pkt, err = ctrl.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	if pkt == nil {
		t.Fatal("Expected packet")
	}
	if string(pkt.Data) != string(frame) {
		t.Errorf("Data mismatch: %X", pkt.Data)
	}
	if pkt.RSSI != 16-74 {
		t.Errorf("Expected RSSI -58, got %d", pkt.RSSI)
	}
	if pkt.LQI != 0x2A || !pkt.CRCOK {
		t.Errorf("Expected LQI 42 CRC ok, got %d %v", pkt.LQI, pkt.CRCOK)
	}
}

func TestController_ReadPacketVariableLength(t *testing.T) {
	chip := newFakeChip()
	ctrl := NewController(chip, quietLogger())
	if err := ctrl.Apply(CaptureConfig{Mode: ModeGFSK100}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Length byte arrives first, payload later
	chip.fifo = []byte{4, 0x01}
	pkt, err := ctrl.ReadPacket()
	if err != nil || pkt != nil {
		t.Fatalf("Expected pending packet, got %v, %v", pkt, err)
	}
	chip.fifo = append(chip.fifo, 0x02, 0x03, 0x04, 0xF0, 0x10)
	pkt, err = ctrl.ReadPacket()
	if err != nil || pkt == nil {
		t.Fatalf("Expected packet, got %v, %v", pkt, err)
	}
	if string(pkt.Data) != "\x01\x02\x03\x04" {
		t.Errorf("Data mismatch: %X", pkt.Data)
	}
	if pkt.CRCOK {
		t.Error("CRC bit was clear")
	}
	if pkt.RSSI != -8-74 {
		t.Errorf("Expected RSSI -82, got %d", pkt.RSSI)
	}
}

func TestController_OverflowFlushes(t *testing.T) {
	chip := newFakeChip()
	ctrl := NewController(chip, quietLogger())
	if err := ctrl.Apply(CaptureConfig{Mode: ModeTPMS}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	chip.strobes = nil
	chip.fifo = make([]byte, 64)
	chip.overflow = true

	pkt, err := ctrl.ReadPacket()
	if err != nil || pkt != nil {
		t.Fatalf("Expected nil packet after overflow, got %v, %v", pkt, err)
	}
	if len(chip.fifo) != 0 || chip.overflow {
		t.Error("FIFO should be flushed")
	}
	want := []byte{StrobeSIDLE, StrobeSFRX, StrobeSRX}
	if string(chip.strobes) != string(want) {
		t.Errorf("Expected strobes %X, got %X", want, chip.strobes)
	}
	if ctrl.Overflows() != 1 {
		t.Errorf("Expected 1 overflow, got %d", ctrl.Overflows())
	}
}

func TestController_ReceiveStopsOnCancel(t *testing.T) {
	chip := newFakeChip()
	ctrl := NewController(chip, quietLogger())
	if err := ctrl.Apply(CaptureConfig{Mode: ModeTPMS}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	chip.fifo = make([]byte, 22)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	count := 0
	err := ctrl.Receive(ctx, 5*time.Millisecond, func(p *Packet) error {
		count++
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 packet, got %d", count)
	}
}

func TestRegisterName(t *testing.T) {
	if got := RegisterName(RegIOCFG2); got != "IOCFG2" {
		t.Errorf("RegisterName(IOCFG2) = %s", got)
	}
	if got := RegisterName(RegMDMCFG2); got != "MDMCFG2" {
		t.Errorf("RegisterName(MDMCFG2) = %s", got)
	}
	if got := RegisterName(RegTEST0); got != "TEST0" {
		t.Errorf("RegisterName(TEST0) = %s", got)
	}
	if got := RegisterName(StatusPARTNUM); got != "0x30" {
		t.Errorf("RegisterName(0x30) = %s", got)
	}
}

func TestRSSIToDBm(t *testing.T) {
	tests := []struct {
		raw  byte
		want int
	}{
		{0x00, -74},
		{0x20, -58},
		{0x7F, -11},
		{0x80, -138},
		{0xF0, -82},
	}
	for _, tt := range tests {
		if got := RSSIToDBm(tt.raw); got != tt.want {
			t.Errorf("RSSIToDBm(0x%02X) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ============================================================
// Simulator Tests
// ============================================================

func TestSimulator_PacketsDecode(t *testing.T) {
	for _, mode := range []uint8{ModeTPMS, ModeGFSK100} {
		sim := NewSimulator(CaptureConfig{Mode: mode}, 42)
		sim.NoiseRate = 0
		decoder := tpms.NewDecoder(UsesManchester)

		known := map[uint32]bool{}
		for _, s := range sim.Sensors() {
			known[s.ID] = true
		}

		for i := 0; i < 200; i++ {
			pkt := sim.Next()
			if mode == ModeTPMS && len(pkt.Data) != SelectProfile(ModeTPMS).PacketLength() {
				t.Fatalf("Expected %d chip bytes, got %d", SelectProfile(ModeTPMS).PacketLength(), len(pkt.Data))
			}
			res := decoder.Decode(Record(pkt, mode))
			if !res.OK() {
				t.Fatalf("Mode 0x%02X packet %d: %v", mode, i, res.Err)
			}
			if !known[res.Reading.SensorID] {
				t.Fatalf("Unexpected sensor %s", res.Reading.IDString())
			}
			if res.Reading.Supplier == tpms.SupplierUnknown {
				t.Fatalf("Simulated sensor decoded without a supplier")
			}
		}
	}
}

func TestSimulator_ReceiveStopsOnCancel(t *testing.T) {
	sim := NewSimulator(CaptureConfig{Mode: ModeTPMS}, 1)
	ctx, cancel := context.WithCancel(context.Background())

	count := 0
	err := sim.Receive(ctx, time.Millisecond, func(p *Packet) error {
		count++
		if count == 5 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if count != 5 {
		t.Errorf("Expected 5 packets, got %d", count)
	}
}

func TestUsesManchester(t *testing.T) {
	if !UsesManchester(ModeTPMS) {
		t.Error("TPMS mode should use Manchester")
	}
	for _, mode := range []uint8{ModeIoT, ModeGFSK100, ModeOOK, ModeOOK868, 0x99} {
		if UsesManchester(mode) {
			t.Errorf("Mode 0x%02X should not use Manchester", mode)
		}
	}
}
