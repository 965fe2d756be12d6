// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package messaging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSnapshotFromWire(t *testing.T) {
	wire := map[string]map[string]string{
		"ops": {
			"alice":  "alice@example.com/laptop",
			"broken": "not-an-address",
		},
		"lounge": {
			"bob": "bob@example.com",
		},
	}

	snap := SnapshotFromWire(wire, zerolog.Nop())

	if len(snap) != 2 {
		t.Fatalf("got %d rooms, want 2", len(snap))
	}
	ops, ok := snap.RoomOccupants("ops")
	if !ok {
		t.Fatal("ops room missing")
	}
	if len(ops) != 1 {
		t.Errorf("ops occupants = %d, want 1 (invalid address skipped)", len(ops))
	}
	if ops["alice"].Bare() != "alice@example.com" {
		t.Errorf("alice address = %q", ops["alice"].Bare())
	}
}

func TestSnapshotFromWireEmpty(t *testing.T) {
	snap := SnapshotFromWire(nil, zerolog.Nop())
	if snap == nil {
		t.Fatal("snapshot should never be nil")
	}
	if len(snap) != 0 {
		t.Errorf("got %d rooms, want 0", len(snap))
	}
}
