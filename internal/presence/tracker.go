// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package presence

import (
	"sync"
	"time"

	"github.com/notedrop/notedrop/internal/metrics"
)

// Tracker holds the latest presence snapshot pushed by the transport feed.
// It implements Oracle for the delivery loop.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	updated time.Time
	nowFunc func() time.Time
}

// NewTracker creates a tracker with an empty snapshot.
func NewTracker() *Tracker {
	return &Tracker{
		snap:    Snapshot{},
		nowFunc: time.Now,
	}
}

// Snapshot returns the latest snapshot. The returned value must be treated
// as immutable.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Replace swaps in a new full-state snapshot.
func (t *Tracker) Replace(snap Snapshot) {
	if snap == nil {
		snap = Snapshot{}
	}
	t.mu.Lock()
	t.snap = snap
	t.updated = t.nowFunc()
	t.mu.Unlock()
	metrics.PresenceSnapshotAge.Set(0)
}

// UpdatedAt returns when the snapshot was last replaced, zero if never.
func (t *Tracker) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updated
}
