// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package radio holds the CC1101 register profiles used for TPMS capture and
// the controller that programs them into the transceiver over SPI.
package radio

import (
	"fmt"
	"sort"
	"strings"
)

// Mode identifiers. These values are written to every packet record.
const (
	ModeTPMS    uint8 = 0x01
	ModeIoT     uint8 = 0x02
	ModeGFSK100 uint8 = 0x03
	ModeOOK     uint8 = 0x04
	ModeOOK868  uint8 = 0x05

	DefaultMode = ModeGFSK100
)

// Band is a sub-1GHz ISM band supported by the receiver
type Band int

const (
	Band315 Band = iota + 1
	Band433
	Band868
	Band915
)

// CenterHz returns the carrier frequency used for the band
func (b Band) CenterHz() float64 {
	switch b {
	case Band315:
		return 315000000
	case Band433:
		return 433920000
	case Band868:
		return 868300000
	case Band915:
		return 915000000
	default:
		return 0
	}
}

func (b Band) String() string {
	switch b {
	case Band315:
		return "315MHz"
	case Band433:
		return "433MHz"
	case Band868:
		return "868MHz"
	case Band915:
		return "915MHz"
	default:
		return fmt.Sprintf("Band(%d)", int(b))
	}
}

// BandFromSelect maps the capture CLI frequency selector (1-4) to a band
func BandFromSelect(sel int) (Band, error) {
	if sel < int(Band315) || sel > int(Band915) {
		return 0, fmt.Errorf("invalid frequency select %d (1=315, 2=433, 3=868, 4=915 MHz)", sel)
	}
	return Band(sel), nil
}

// Modulation is the modem format of a profile
type Modulation int

const (
	ModFSKManchester Modulation = iota + 1
	ModOOK
	ModGFSK
)

func (m Modulation) String() string {
	switch m {
	case ModFSKManchester:
		return "2-FSK/Manchester"
	case ModOOK:
		return "ASK/OOK"
	case ModGFSK:
		return "GFSK"
	default:
		return fmt.Sprintf("Modulation(%d)", int(m))
	}
}

// Profile is an immutable CC1101 register configuration
type Profile struct {
	ModeID      uint8
	Name        string
	Description string
	Band        Band
	Modulation  Modulation
	registers   [ConfigRegisterCount]byte
}

// Registers returns a copy of the profile register image
func (p Profile) Registers() [ConfigRegisterCount]byte {
	return p.registers
}

// FixedLength reports whether the profile uses fixed packet length mode
func (p Profile) FixedLength() bool {
	return p.registers[RegPKTCTRL0]&0x03 == 0
}

// PacketLength is PKTLEN: the fixed length, or the maximum in variable mode
func (p Profile) PacketLength() int {
	return int(p.registers[RegPKTLEN])
}

// PATable is the power table written after the config registers. The
// receiver never transmits, so all entries are zero.
func (p Profile) PATable() [8]byte {
	return [8]byte{}
}

// SoftwareManchester reports whether records captured with this profile
// carry undecoded Manchester chips
func (p Profile) SoftwareManchester() bool {
	return p.Modulation == ModFSKManchester && p.registers[RegMDMCFG2]&0x08 == 0
}

func (p Profile) String() string {
	return fmt.Sprintf("%s (mode 0x%02X, %s, %s)", p.Name, p.ModeID, p.Band, p.Modulation)
}

// Register images for configuration registers 0x00-0x2E, 26 MHz crystal.
// The order is the CC1101 register map order; keep byte-for-byte.
var profileTable = map[uint8]Profile{
	ModeTPMS: {
		ModeID:      ModeTPMS,
		Name:        "TPMS",
		Description: "433.92 MHz 2-FSK 19.2 kchip/s, fixed 20 chip-byte frames, software Manchester",
		Band:        Band433,
		Modulation:  ModFSKManchester,
		registers: [ConfigRegisterCount]byte{
			0x29, 0x2E, 0x06, 0x47, 0x55, 0x56, 0x14, 0x04, // IOCFG2..PKTCTRL1
			0x00, 0x00, 0x00, 0x06, 0x00, 0x10, 0xB0, 0x71, // PKTCTRL0..FREQ0
			0x69, 0x83, 0x02, 0x22, 0xF8, 0x41, 0x07, 0x3C, // MDMCFG4..MCSM1
			0x18, 0x16, 0x6C, 0x43, 0x40, 0x91, 0x87, 0x6B, // MCSM0..WOREVT0
			0xFB, 0x56, 0x10, 0xE9, 0x2A, 0x00, 0x1F, 0x41, // WORCTRL..RCCTRL1
			0x00, 0x59, 0x7F, 0x3F, 0x81, 0x35, 0x09, //       RCCTRL0..TEST0
		},
	},
	ModeIoT: {
		ModeID:      ModeIoT,
		Name:        "IoT",
		Description: "433.92 MHz 2-FSK 38.4 kBaud, variable length, CRC",
		Band:        Band433,
		Modulation:  ModGFSK,
		registers: [ConfigRegisterCount]byte{
			0x29, 0x2E, 0x06, 0x47, 0xD3, 0x91, 0x3D, 0x04,
			0x05, 0x00, 0x00, 0x06, 0x00, 0x10, 0xB0, 0x71,
			0xCA, 0x83, 0x03, 0x22, 0xF8, 0x35, 0x07, 0x3C,
			0x18, 0x16, 0x6C, 0x43, 0x40, 0x91, 0x87, 0x6B,
			0xFB, 0x56, 0x10, 0xE9, 0x2A, 0x00, 0x1F, 0x41,
			0x00, 0x59, 0x7F, 0x3F, 0x81, 0x35, 0x09,
		},
	},
	ModeGFSK100: {
		ModeID:      ModeGFSK100,
		Name:        "GFSK100",
		Description: "433.92 MHz GFSK 100 kBaud, variable length, CRC",
		Band:        Band433,
		Modulation:  ModGFSK,
		registers: [ConfigRegisterCount]byte{
			0x29, 0x2E, 0x06, 0x47, 0xD3, 0x91, 0x3D, 0x04,
			0x05, 0x00, 0x00, 0x08, 0x00, 0x10, 0xB0, 0x71,
			0x5B, 0xF8, 0x13, 0x22, 0xF8, 0x47, 0x07, 0x3C,
			0x18, 0x1D, 0x1C, 0xC7, 0x00, 0xB2, 0x87, 0x6B,
			0xFB, 0xB6, 0x10, 0xEA, 0x2A, 0x00, 0x1F, 0x41,
			0x00, 0x59, 0x7F, 0x3F, 0x88, 0x31, 0x09,
		},
	},
	ModeOOK: {
		ModeID:      ModeOOK,
		Name:        "OOK",
		Description: "433.92 MHz ASK/OOK 4.8 kBaud, carrier sense, fixed 32 bytes",
		Band:        Band433,
		Modulation:  ModOOK,
		registers: [ConfigRegisterCount]byte{
			0x29, 0x2E, 0x06, 0x47, 0xD3, 0x91, 0x20, 0x04,
			0x00, 0x00, 0x00, 0x06, 0x00, 0x10, 0xB0, 0x71,
			0x87, 0x83, 0x34, 0x22, 0xF8, 0x15, 0x07, 0x3C,
			0x18, 0x16, 0x6C, 0x03, 0x00, 0x91, 0x87, 0x6B,
			0xFB, 0x56, 0x11, 0xE9, 0x2A, 0x00, 0x1F, 0x41,
			0x00, 0x59, 0x7F, 0x3F, 0x81, 0x35, 0x09,
		},
	},
	ModeOOK868: {
		ModeID:      ModeOOK868,
		Name:        "OOK868",
		Description: "868.3 MHz ASK/OOK 4.8 kBaud, carrier sense, fixed 32 bytes",
		Band:        Band868,
		Modulation:  ModOOK,
		registers: [ConfigRegisterCount]byte{
			0x29, 0x2E, 0x06, 0x47, 0xD3, 0x91, 0x20, 0x04,
			0x00, 0x00, 0x00, 0x06, 0x00, 0x21, 0x65, 0x6A,
			0x87, 0x83, 0x34, 0x22, 0xF8, 0x15, 0x07, 0x3C,
			0x18, 0x16, 0x6C, 0x03, 0x00, 0x91, 0x87, 0x6B,
			0xFB, 0x56, 0x11, 0xE9, 0x2A, 0x00, 0x1F, 0x41,
			0x00, 0x59, 0x7F, 0x3F, 0x81, 0x35, 0x09,
		},
	},
}

// SelectProfile returns the profile for a mode. Unknown modes fall back to
// the GFSK 100 kBaud default profile.
func SelectProfile(modeID uint8) Profile {
	if p, ok := profileTable[modeID]; ok {
		return p
	}
	return profileTable[DefaultMode]
}

// LookupProfile returns the profile for a mode without the default fallback
func LookupProfile(modeID uint8) (Profile, bool) {
	p, ok := profileTable[modeID]
	return p, ok
}

// ProfileByName resolves a capture CLI mode name (case-insensitive)
func ProfileByName(name string) (Profile, bool) {
	for _, p := range profileTable {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Profile{}, false
}

// Profiles returns all profiles ordered by mode ID
func Profiles() []Profile {
	profiles := make([]Profile, 0, len(profileTable))
	for _, p := range profileTable {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].ModeID < profiles[j].ModeID
	})
	return profiles
}

// ProfileNames returns the CLI names of all profiles in mode order
func ProfileNames() []string {
	names := []string{}
	for _, p := range Profiles() {
		names = append(names, p.Name)
	}
	return names
}

// FrequencyWord computes the 24-bit FREQ2/FREQ1/FREQ0 value for a carrier
func FrequencyWord(hz float64) (freq2, freq1, freq0 uint8) {
	word := uint32(hz*65536.0/CrystalHz + 0.5)
	return uint8(word >> 16), uint8(word >> 8), uint8(word)
}

// FrequencyHz decodes the carrier frequency from a register image
func FrequencyHz(regs [ConfigRegisterCount]byte) float64 {
	word := uint32(regs[RegFREQ2])<<16 | uint32(regs[RegFREQ1])<<8 | uint32(regs[RegFREQ0])
	return float64(word) * CrystalHz / 65536.0
}

// CaptureConfig is the complete, immutable receiver configuration for one
// capture run. It is built once from flags and passed by value.
type CaptureConfig struct {
	Mode            uint8
	FrequencySelect int // 0 keeps the profile band, 1-4 selects 315/433/868/915 MHz
	Channel         uint8
	NodeAddress     uint8
}

// Validate checks the frequency selector
func (c CaptureConfig) Validate() error {
	if c.FrequencySelect == 0 {
		return nil
	}
	_, err := BandFromSelect(c.FrequencySelect)
	return err
}

// Profile returns the profile selected by Mode
func (c CaptureConfig) Profile() Profile {
	return SelectProfile(c.Mode)
}

// Band returns the effective band
func (c CaptureConfig) Band() Band {
	if band, err := BandFromSelect(c.FrequencySelect); err == nil {
		return band
	}
	return c.Profile().Band
}

// Registers derives the final register image: the profile image with the
// selected carrier, channel number and node address applied.
func (c CaptureConfig) Registers() [ConfigRegisterCount]byte {
	regs := c.Profile().Registers()
	if c.FrequencySelect != 0 {
		if band, err := BandFromSelect(c.FrequencySelect); err == nil {
			regs[RegFREQ2], regs[RegFREQ1], regs[RegFREQ0] = FrequencyWord(band.CenterHz())
		}
	}
	regs[RegCHANNR] = c.Channel
	regs[RegADDR] = c.NodeAddress
	return regs
}
