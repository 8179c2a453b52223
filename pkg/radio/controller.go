// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// Bus is a full-duplex SPI transfer. periph.io spi.Conn satisfies it.
type Bus interface {
	Tx(w, r []byte) error
}

// Packet is one frame read from the RX FIFO with its appended status bytes
type Packet struct {
	Data      []byte
	RSSI      int // dBm
	LQI       uint8
	CRCOK     bool
	Timestamp time.Time
}

// resetDelay is the settle time after SRES before the chip answers reads
var resetDelay = time.Millisecond

// Controller programs and reads a CC1101 transceiver
type Controller struct {
	bus    Bus
	logger *log.Logger

	profile    Profile
	configured bool
	pending    int // length byte already popped in variable length mode, -1 if none
	overflows  uint64
}

// NewController creates a controller on an SPI bus
func NewController(bus Bus, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		bus:     bus,
		logger:  logger.WithPrefix("cc1101"),
		pending: -1,
	}
}

func (c *Controller) tx(w []byte) ([]byte, error) {
	r := make([]byte, len(w))
	if err := c.bus.Tx(w, r); err != nil {
		return nil, &RadioError{Kind: BusError, Err: err}
	}
	return r, nil
}

// Strobe issues a command strobe
func (c *Controller) Strobe(cmd byte) error {
	_, err := c.tx([]byte{cmd})
	return err
}

// ReadRegister reads one configuration register
func (c *Controller) ReadRegister(addr byte) (byte, error) {
	r, err := c.tx([]byte{addr | HeaderRead, 0})
	if err != nil {
		return 0, err
	}
	return r[1], nil
}

// ReadStatus reads one status register (burst bit set)
func (c *Controller) ReadStatus(addr byte) (byte, error) {
	r, err := c.tx([]byte{addr | HeaderRead | HeaderBurst, 0})
	if err != nil {
		return 0, err
	}
	return r[1], nil
}

// WriteRegister writes one configuration register
func (c *Controller) WriteRegister(addr, value byte) error {
	_, err := c.tx([]byte{addr, value})
	return err
}

// WriteBurst writes consecutive registers starting at addr
func (c *Controller) WriteBurst(addr byte, data []byte) error {
	w := make([]byte, len(data)+1)
	w[0] = addr | HeaderBurst
	copy(w[1:], data)
	_, err := c.tx(w)
	return err
}

// ReadBurst reads n consecutive registers starting at addr
func (c *Controller) ReadBurst(addr byte, n int) ([]byte, error) {
	w := make([]byte, n+1)
	w[0] = addr | HeaderRead | HeaderBurst
	r, err := c.tx(w)
	if err != nil {
		return nil, err
	}
	return r[1:], nil
}

// Identify resets the chip and returns PARTNUM and VERSION
func (c *Controller) Identify() (partnum, version byte, err error) {
	if err = c.Strobe(StrobeSRES); err != nil {
		return 0, 0, err
	}
	time.Sleep(resetDelay)

	if partnum, err = c.ReadStatus(StatusPARTNUM); err != nil {
		return 0, 0, err
	}
	if version, err = c.ReadStatus(StatusVERSION); err != nil {
		return 0, 0, err
	}
	if version == 0x00 || version == 0xFF {
		return partnum, version, &RadioError{Kind: DeviceNotResponding, Version: version}
	}
	return partnum, version, nil
}

// Apply resets the chip, verifies it responds, writes the derived register
// image and enters RX
func (c *Controller) Apply(cfg CaptureConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	profile := cfg.Profile()
	partnum, version, err := c.Identify()
	if err != nil {
		return err
	}
	c.logger.Info("CC1101 detected", "partnum", fmt.Sprintf("0x%02X", partnum), "version", fmt.Sprintf("0x%02X", version))

	regs := cfg.Registers()
	if err := c.WriteBurst(RegIOCFG2, regs[:]); err != nil {
		return fmt.Errorf("writing config registers: %w", err)
	}
	pa := profile.PATable()
	if err := c.WriteBurst(AddrPATABLE, pa[:]); err != nil {
		return fmt.Errorf("writing PATABLE: %w", err)
	}

	c.profile = profile
	c.configured = true
	c.pending = -1

	if err := c.flushRX(); err != nil {
		return err
	}
	c.logger.Info("profile applied",
		"mode", profile.Name,
		"freq_mhz", fmt.Sprintf("%.3f", FrequencyHz(regs)/1e6),
		"channel", cfg.Channel,
		"addr", fmt.Sprintf("0x%02X", cfg.NodeAddress))
	return nil
}

// ApplyProfile applies a profile with its default band, channel 0 and address 0
func (c *Controller) ApplyProfile(p Profile) error {
	return c.Apply(CaptureConfig{Mode: p.ModeID})
}

// DumpRegisters burst-reads the configuration registers
func (c *Controller) DumpRegisters() ([]byte, error) {
	return c.ReadBurst(RegIOCFG2, ConfigRegisterCount)
}

// Idle puts the radio in IDLE and flushes the RX FIFO
func (c *Controller) Idle() error {
	if err := c.Strobe(StrobeSIDLE); err != nil {
		return err
	}
	c.pending = -1
	return c.Strobe(StrobeSFRX)
}

// Overflows returns how many RX FIFO overflows were recovered
func (c *Controller) Overflows() uint64 {
	return c.overflows
}

func (c *Controller) flushRX() error {
	for _, s := range []byte{StrobeSIDLE, StrobeSFRX, StrobeSRX} {
		if err := c.Strobe(s); err != nil {
			return err
		}
	}
	return nil
}

// rxBytes reads RXBYTES until two consecutive reads agree
func (c *Controller) rxBytes() (byte, error) {
	last, err := c.ReadStatus(StatusRXBYTES)
	if err != nil {
		return 0, err
	}
	for i := 0; i < 4; i++ {
		v, err := c.ReadStatus(StatusRXBYTES)
		if err != nil {
			return 0, err
		}
		if v == last {
			return v, nil
		}
		last = v
	}
	return last, nil
}

// ReadPacket polls the RX FIFO once. It returns nil without error when no
// complete packet is buffered yet. An overflowed FIFO is flushed and RX is
// re-entered.
func (c *Controller) ReadPacket() (*Packet, error) {
	if !c.configured {
		return nil, fmt.Errorf("radio not configured")
	}

	status, err := c.rxBytes()
	if err != nil {
		return nil, err
	}
	if status&RXBytesOverflow != 0 {
		c.overflows++
		c.pending = -1
		c.logger.Warn("RX FIFO overflow, flushing", "count", c.overflows)
		return nil, c.flushRX()
	}
	available := int(status & RXBytesCountMask)

	length := c.profile.PacketLength()
	if !c.profile.FixedLength() {
		if c.pending < 0 {
			if available < 1 {
				return nil, nil
			}
			b, err := c.ReadBurst(AddrFIFO, 1)
			if err != nil {
				return nil, err
			}
			available--
			c.pending = int(b[0])
			if c.pending == 0 || c.pending > RXFIFOSize-3 {
				c.logger.Debug("invalid length byte, flushing", "length", c.pending)
				c.pending = -1
				return nil, c.flushRX()
			}
		}
		length = c.pending
	}

	if available < length+2 {
		return nil, nil
	}
	buf, err := c.ReadBurst(AddrFIFO, length+2)
	if err != nil {
		return nil, err
	}
	c.pending = -1

	lqi := buf[length+1]
	return &Packet{
		Data:      buf[:length],
		RSSI:      RSSIToDBm(buf[length]),
		LQI:       lqi & LQIMask,
		CRCOK:     lqi&LQICRCOK != 0,
		Timestamp: time.Now(),
	}, nil
}

// Receive polls for packets until the context is cancelled or fn fails
func (c *Controller) Receive(ctx context.Context, interval time.Duration, fn func(*Packet) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for {
			pkt, err := c.ReadPacket()
			if err != nil {
				return err
			}
			if pkt == nil {
				break
			}
			if err := fn(pkt); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RSSIToDBm converts the CC1101 RSSI status byte to dBm
func RSSIToDBm(raw byte) int {
	return int(int8(raw))/2 - RSSIOffset
}
