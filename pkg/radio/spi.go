// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// DefaultSPIHz is the SCLK rate used for the CC1101 (datasheet max 6.5 MHz burst)
const DefaultSPIHz = 4000000

// SPIDevice is an open SPI port and its connection
type SPIDevice struct {
	port spi.PortCloser
	conn spi.Conn
}

// OpenSPI opens an SPI port by name ("" selects the first available, e.g.
// "/dev/spidev0.0" or "SPI0.0")
func OpenSPI(name string, hz int64) (*SPIDevice, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initializing host drivers: %w", err)
	}
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening SPI port %q: %w", name, err)
	}
	if hz <= 0 {
		hz = DefaultSPIHz
	}
	conn, err := port.Connect(physic.Frequency(hz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("configuring SPI port %q: %w", name, err)
	}
	return &SPIDevice{port: port, conn: conn}, nil
}

// Tx implements Bus
func (d *SPIDevice) Tx(w, r []byte) error {
	return d.conn.Tx(w, r)
}

// Close releases the port
func (d *SPIDevice) Close() error {
	return d.port.Close()
}

// SPIPorts lists the SPI ports registered by the host drivers
func SPIPorts() ([]string, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initializing host drivers: %w", err)
	}
	var names []string
	for _, ref := range spireg.All() {
		names = append(names, ref.Name)
	}
	return names, nil
}
