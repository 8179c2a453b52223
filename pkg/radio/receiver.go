// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import (
	"context"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
)

// Receiver delivers received packets to fn until ctx ends or fn fails.
// Controller and Simulator implement it.
type Receiver interface {
	Receive(ctx context.Context, interval time.Duration, fn func(*Packet) error) error
}

// UsesManchester reports whether records captured in a mode carry
// Manchester chips that need software decoding
func UsesManchester(modeID uint8) bool {
	return SelectProfile(modeID).SoftwareManchester()
}

// Record converts a received packet to a packet record for the given mode
func Record(pkt *Packet, modeID uint8) tpms.RawPacketRecord {
	return tpms.RawPacketRecord{
		Timestamp: pkt.Timestamp,
		ModeID:    modeID,
		Raw:       append([]byte(nil), pkt.Data...),
		RSSI:      pkt.RSSI,
		LQI:       pkt.LQI,
	}
}
