// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

// Package presence tracks who is currently visible to the chat transport.
//
// The bot process observes room occupants and pushes full-state snapshots;
// the delivery queue consumes the latest snapshot through the Oracle
// interface without ever touching the transport itself.
package presence

import (
	"strings"

	"github.com/notedrop/notedrop/internal/jid"
)

// Snapshot maps room identifiers to their current occupants, nickname to
// full address. Snapshots are immutable values; a new one replaces the old
// wholesale.
type Snapshot map[string]map[string]jid.JID

// Oracle supplies the latest presence snapshot.
type Oracle interface {
	Snapshot() Snapshot
}

// RoomOccupants returns the occupant map for a room, looked up by short
// identifier. Room keys that are full addresses match on their local part.
func (s Snapshot) RoomOccupants(short string) (map[string]jid.JID, bool) {
	if occupants, ok := s[short]; ok {
		return occupants, true
	}
	for key, occupants := range s {
		if ShortRoom(key) == short {
			return occupants, true
		}
	}
	return nil, false
}

// BareAddressSet returns the union of all visible bare addresses across
// every room in the snapshot.
func (s Snapshot) BareAddressSet() map[string]struct{} {
	union := make(map[string]struct{})
	for _, occupants := range s {
		for _, addr := range occupants {
			union[addr.Bare()] = struct{}{}
		}
	}
	return union
}

// ShortRoom extracts the short identifier from a room name, which may be a
// plain name or a full address like "ops@conference.example.com".
func ShortRoom(room string) string {
	if at := strings.IndexByte(room, '@'); at >= 0 {
		return room[:at]
	}
	return room
}

// BareAddress strips the resource from an address, tolerating plain names
// that do not parse as a full JID.
func BareAddress(addr string) string {
	if j, err := jid.Parse(addr); err == nil {
		return j.Bare()
	}
	return addr
}
