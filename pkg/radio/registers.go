// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import "fmt"

// CC1101 configuration registers (read/write, 0x00-0x2E)
const (
	RegIOCFG2   = 0x00
	RegIOCFG1   = 0x01
	RegIOCFG0   = 0x02
	RegFIFOTHR  = 0x03
	RegSYNC1    = 0x04
	RegSYNC0    = 0x05
	RegPKTLEN   = 0x06
	RegPKTCTRL1 = 0x07
	RegPKTCTRL0 = 0x08
	RegADDR     = 0x09
	RegCHANNR   = 0x0A
	RegFSCTRL1  = 0x0B
	RegFSCTRL0  = 0x0C
	RegFREQ2    = 0x0D
	RegFREQ1    = 0x0E
	RegFREQ0    = 0x0F
	RegMDMCFG4  = 0x10
	RegMDMCFG3  = 0x11
	RegMDMCFG2  = 0x12
	RegMDMCFG1  = 0x13
	RegMDMCFG0  = 0x14
	RegDEVIATN  = 0x15
	RegMCSM2    = 0x16
	RegMCSM1    = 0x17
	RegMCSM0    = 0x18
	RegFOCCFG   = 0x19
	RegBSCFG    = 0x1A
	RegAGCCTRL2 = 0x1B
	RegAGCCTRL1 = 0x1C
	RegAGCCTRL0 = 0x1D
	RegWOREVT1  = 0x1E
	RegWOREVT0  = 0x1F
	RegWORCTRL  = 0x20
	RegFREND1   = 0x21
	RegFREND0   = 0x22
	RegFSCAL3   = 0x23
	RegFSCAL2   = 0x24
	RegFSCAL1   = 0x25
	RegFSCAL0   = 0x26
	RegRCCTRL1  = 0x27
	RegRCCTRL0  = 0x28
	RegFSTEST   = 0x29
	RegPTEST    = 0x2A
	RegAGCTEST  = 0x2B
	RegTEST2    = 0x2C
	RegTEST1    = 0x2D
	RegTEST0    = 0x2E
)

// ConfigRegisterCount is the length of a profile register image
const ConfigRegisterCount = 0x2F

var registerNames = [ConfigRegisterCount]string{
	"IOCFG2", "IOCFG1", "IOCFG0", "FIFOTHR", "SYNC1", "SYNC0", "PKTLEN", "PKTCTRL1",
	"PKTCTRL0", "ADDR", "CHANNR", "FSCTRL1", "FSCTRL0", "FREQ2", "FREQ1", "FREQ0",
	"MDMCFG4", "MDMCFG3", "MDMCFG2", "MDMCFG1", "MDMCFG0", "DEVIATN", "MCSM2", "MCSM1",
	"MCSM0", "FOCCFG", "BSCFG", "AGCCTRL2", "AGCCTRL1", "AGCCTRL0", "WOREVT1", "WOREVT0",
	"WORCTRL", "FREND1", "FREND0", "FSCAL3", "FSCAL2", "FSCAL1", "FSCAL0", "RCCTRL1",
	"RCCTRL0", "FSTEST", "PTEST", "AGCTEST", "TEST2", "TEST1", "TEST0",
}

// RegisterName returns the datasheet name of a configuration register
func RegisterName(addr byte) string {
	if int(addr) < len(registerNames) {
		return registerNames[addr]
	}
	return fmt.Sprintf("0x%02X", addr)
}

// Command strobes (header byte with no data)
const (
	StrobeSRES    = 0x30
	StrobeSFSTXON = 0x31
	StrobeSXOFF   = 0x32
	StrobeSCAL    = 0x33
	StrobeSRX     = 0x34
	StrobeSTX     = 0x35
	StrobeSIDLE   = 0x36
	StrobeSWOR    = 0x38
	StrobeSPWD    = 0x39
	StrobeSFRX    = 0x3A
	StrobeSFTX    = 0x3B
	StrobeSWORRST = 0x3C
	StrobeSNOP    = 0x3D
)

// Status registers (read-only, must be accessed with the burst bit set)
const (
	StatusPARTNUM   = 0x30
	StatusVERSION   = 0x31
	StatusFREQEST   = 0x32
	StatusLQI       = 0x33
	StatusRSSI      = 0x34
	StatusMARCSTATE = 0x35
	StatusPKTSTATUS = 0x38
	StatusVCOVCDAC  = 0x39
	StatusTXBYTES   = 0x3A
	StatusRXBYTES   = 0x3B
)

// Multi-byte access addresses
const (
	AddrPATABLE = 0x3E
	AddrFIFO    = 0x3F
)

// SPI header bits
const (
	HeaderRead  = 0x80
	HeaderBurst = 0x40
)

// RX FIFO helpers
const (
	RXFIFOSize       = 64
	RXBytesOverflow  = 0x80
	RXBytesCountMask = 0x7F
	LQICRCOK         = 0x80
	LQIMask          = 0x7F
	PKTCTRL0Variable = 0x01
)

// MARCSTATE values of interest
const (
	MarcStateIdle       = 0x01
	MarcStateRX         = 0x0D
	MarcStateRXOverflow = 0x11
)

// CrystalHz is the reference crystal of common CC1101 modules
const CrystalHz = 26000000.0

// RSSIOffset is the CC1101 RSSI offset for 433/868 MHz operation
const RSSIOffset = 74
