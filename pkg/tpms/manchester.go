// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tpms

import "fmt"

// ManchesterDecode recovers data bits from chip pairs, MSB first. A "10"
// pair is a 0 bit and "01" is a 1 bit; "00" and "11" are violations and no
// partial output is returned. Trailing bits that do not fill a byte are
// dropped.
func ManchesterDecode(chips []byte) ([]byte, error) {
	out := make([]byte, 0, len(chips)/2)
	var cur byte
	nbits := 0

	for i, c := range chips {
		for shift := 6; shift >= 0; shift -= 2 {
			pair := (c >> uint(shift)) & 0x03
			var bit byte
			switch pair {
			case 0x02:
				bit = 0
			case 0x01:
				bit = 1
			default:
				return nil, &DecodeError{
					Kind:   ManchesterError,
					Offset: i*4 + (6-shift)/2,
					Detail: fmt.Sprintf("pair %02b at byte %d", pair, i),
				}
			}
			cur = cur<<1 | bit
			nbits++
			if nbits == 8 {
				out = append(out, cur)
				cur = 0
				nbits = 0
			}
		}
	}
	return out, nil
}

// ManchesterEncode expands each bit into a chip pair, MSB first
func ManchesterEncode(data []byte) []byte {
	out := make([]byte, 0, len(data)*2)
	for _, b := range data {
		var word uint16
		for bit := 7; bit >= 0; bit-- {
			word <<= 2
			if b&(1<<uint(bit)) != 0 {
				word |= 0x01
			} else {
				word |= 0x02
			}
		}
		out = append(out, byte(word>>8), byte(word))
	}
	return out
}
