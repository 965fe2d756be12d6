// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

// Package notes implements the deferred note delivery queue: a durable store
// of pending notes plus an in-memory cache of the near-due window, matched
// against presence snapshots and delivered at most once per note.
package notes

import (
	"errors"
	"time"
)

// Timing constants governing the queue lifecycle.
const (
	// DeliveryFrame is the maximum age past a note's due time after which
	// it is discarded unsent.
	DeliveryFrame = 30 * 24 * time.Hour

	// Horizon bounds which notes are kept in the in-memory cache. Notes
	// due further out are picked up by a later reconciliation.
	Horizon = 14 * time.Hour

	// ReconcileInterval is the maximum time between rebuilds of the
	// in-memory cache from the store.
	ReconcileInterval = 12 * time.Hour
)

// Sentinel errors for the notes package.
var (
	// ErrNotFound indicates the requested note does not exist.
	ErrNotFound = errors.New("note not found")

	// ErrEmptyMessage indicates a note with no message body.
	ErrEmptyMessage = errors.New("note message is empty")

	// ErrEmptyReceiver indicates a note with no receiver.
	ErrEmptyReceiver = errors.New("note receiver is empty")
)

// MessageType distinguishes private notes from room broadcasts.
type MessageType string

const (
	// TypeChat is a private message to a single user.
	TypeChat MessageType = "chat"

	// TypeGroupchat is a broadcast into a room once the receiver nickname
	// is seen there.
	TypeGroupchat MessageType = "groupchat"
)

// Valid reports whether mt is a known message type.
func (mt MessageType) Valid() bool {
	return mt == TypeChat || mt == TypeGroupchat
}

// Note is a single pending deferred message. Notes are immutable once
// created; there are no update operations.
type Note struct {
	// ID is assigned exactly once, at persistence time.
	ID int64 `json:"note_id"`

	// Receiver is a user address for private notes, or a nickname for
	// room-addressed notes.
	Receiver string `json:"receiver"`

	// Room is the target room for broadcasts. Empty means private.
	Room string `json:"room,omitempty"`

	// Data is the message text body.
	Data string `json:"data"`

	// OffsetTime is the UTC timestamp after which delivery may occur.
	OffsetTime time.Time `json:"offset_time"`

	// Type is chat for private notes, groupchat for room broadcasts.
	Type MessageType `json:"message_type"`
}

// Validate checks the note for well-formedness at the producer boundary.
func (n *Note) Validate() error {
	if n.Receiver == "" {
		return ErrEmptyReceiver
	}
	if n.Data == "" {
		return ErrEmptyMessage
	}
	if !n.Type.Valid() {
		return errors.New("unknown message type")
	}
	if n.Type == TypeGroupchat && n.Room == "" {
		return errors.New("groupchat note requires a room")
	}
	if n.Type == TypeChat && n.Room != "" {
		return errors.New("chat note must not carry a room")
	}
	return nil
}

// Expired reports whether the note is past the delivery frame at the given
// time and must be discarded unsent.
func (n *Note) Expired(now time.Time) bool {
	return now.Sub(n.OffsetTime) > DeliveryFrame
}

// OutboundMessage is a matched note converted for hand-off to the external
// chat transport.
type OutboundMessage struct {
	// Target is the receiver address for private messages, or the room
	// identifier for broadcasts.
	Target string `json:"target"`

	// Text is the message body.
	Text string `json:"text"`

	// Type selects the delivery mode on the transport side.
	Type MessageType `json:"message_type"`
}
