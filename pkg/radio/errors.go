// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import "fmt"

// RadioErrorKind classifies transceiver failures
type RadioErrorKind int

const (
	DeviceNotResponding RadioErrorKind = iota + 1
	BusError
	FIFOOverflow
)

func (k RadioErrorKind) String() string {
	switch k {
	case DeviceNotResponding:
		return "DeviceNotResponding"
	case BusError:
		return "BusError"
	case FIFOOverflow:
		return "FIFOOverflow"
	default:
		return fmt.Sprintf("RadioErrorKind(%d)", int(k))
	}
}

// RadioError is returned when the CC1101 cannot be reached or programmed
type RadioError struct {
	Kind    RadioErrorKind
	Version byte
	Err     error
}

func (e *RadioError) Error() string {
	switch e.Kind {
	case DeviceNotResponding:
		return fmt.Sprintf("CC1101 not responding (VERSION=0x%02X): check wiring and that the SPI bus is enabled", e.Version)
	case BusError:
		return fmt.Sprintf("SPI transfer failed: %v", e.Err)
	case FIFOOverflow:
		return "RX FIFO overflow"
	default:
		return fmt.Sprintf("radio error: %v", e.Err)
	}
}

func (e *RadioError) Unwrap() error {
	return e.Err
}

// Is matches any RadioError of the same kind
func (e *RadioError) Is(target error) bool {
	t, ok := target.(*RadioError)
	return ok && t.Kind == e.Kind
}

// ErrDeviceNotResponding matches DeviceNotResponding errors with errors.Is
var ErrDeviceNotResponding = &RadioError{Kind: DeviceNotResponding}
