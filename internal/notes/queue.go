// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package notes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/notedrop/notedrop/internal/logging"
	"github.com/notedrop/notedrop/internal/metrics"
	"github.com/notedrop/notedrop/internal/presence"
)

// Queue is the in-memory cache of near-due notes, kept sorted ascending by
// OffsetTime and periodically reconciled against the store.
//
// The queue owns its state exclusively; construct one per application and
// share the handle between producer and consumer call sites.
type Queue struct {
	store  Store
	logger zerolog.Logger

	mu            sync.Mutex
	entries       []*Note
	nextReconcile time.Time
}

// NewQueue creates a delivery queue backed by the given store. The first
// Reconcile or FetchDue call populates the in-memory window.
func NewQueue(store Store) *Queue {
	return &Queue{
		store:  store,
		logger: logging.With().Str("component", "queue").Logger(),
	}
}

// Add persists the note and, if due within the horizon, inserts it into the
// in-memory cache at its sorted position. Returns the assigned note id.
func (q *Queue) Add(ctx context.Context, note *Note, now time.Time) (int64, error) {
	if err := note.Validate(); err != nil {
		return 0, err
	}
	note.OffsetTime = note.OffsetTime.UTC()

	if err := q.store.Add(ctx, note); err != nil {
		return 0, err
	}
	metrics.NotesAdded.WithLabelValues(string(note.Type)).Inc()

	q.mu.Lock()
	defer q.mu.Unlock()

	if !note.OffsetTime.After(now.Add(Horizon)) {
		q.insertSorted(note)
		metrics.QueueDepth.Set(float64(len(q.entries)))
	}

	q.logger.Debug().
		Int64("note_id", note.ID).
		Str("type", string(note.Type)).
		Time("due", note.OffsetTime).
		Msg("Note added")

	return note.ID, nil
}

// insertSorted inserts at the correct position, preserving ascending order
// by OffsetTime. Caller holds q.mu.
func (q *Queue) insertSorted(note *Note) {
	i := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].OffsetTime.After(note.OffsetTime)
	})
	q.entries = append(q.entries, nil)
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = note
}

// Reconcile rebuilds the in-memory cache from the store when the
// reconciliation deadline has passed. Notes past the delivery frame are
// batch-deleted from the store without ever being delivered; the rest
// replace the cached window. A store failure leaves the previous in-memory
// state untouched.
func (q *Queue) Reconcile(ctx context.Context, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.reconcileLocked(ctx, now)
}

func (q *Queue) reconcileLocked(ctx context.Context, now time.Time) error {
	if now.Before(q.nextReconcile) {
		return nil
	}

	due, err := q.store.SelectDue(ctx, now, Horizon)
	if err != nil {
		metrics.QueueReconciles.WithLabelValues("failure").Inc()
		return fmt.Errorf("reconcile: %w", err)
	}

	var (
		live    []*Note
		expired []int64
	)
	for _, note := range due {
		if note.Expired(now) {
			expired = append(expired, note.ID)
			continue
		}
		live = append(live, note)
	}

	if len(expired) > 0 {
		if err := q.store.DeleteBatch(ctx, expired); err != nil {
			metrics.QueueReconciles.WithLabelValues("failure").Inc()
			return fmt.Errorf("reconcile: delete expired: %w", err)
		}
		metrics.NotesExpired.Add(float64(len(expired)))
		q.logger.Info().
			Int("count", len(expired)).
			Msg("Expired notes dropped")
	}

	// SelectDue returns rows ordered ascending, so live is already sorted.
	q.entries = live
	q.nextReconcile = now.Add(ReconcileInterval)
	metrics.QueueDepth.Set(float64(len(q.entries)))
	metrics.QueueReconciles.WithLabelValues("success").Inc()

	q.logger.Debug().
		Int("live", len(live)).
		Int("expired", len(expired)).
		Time("next_reconcile", q.nextReconcile).
		Msg("Queue reconciled")

	return nil
}

// FetchDue reconciles if due, then matches every due note against the
// presence snapshot. Matched notes are deleted from the store in one
// transaction and removed from memory only after the commit succeeds, so a
// note is never handed off twice. Unmatched due notes stay queued for the
// next call.
func (q *Queue) FetchDue(ctx context.Context, snap presence.Snapshot, now time.Time) ([]OutboundMessage, error) {
	start := time.Now()
	defer func() {
		metrics.FetchDueDuration.Observe(time.Since(start).Seconds())
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.reconcileLocked(ctx, now); err != nil {
		return nil, err
	}

	m := newMatcher(snap)
	var (
		matched    []*Note
		matchedIDs []int64
	)
	// Due entries form a contiguous prefix of the sorted slice.
	for _, note := range q.entries {
		if note.OffsetTime.After(now) {
			break
		}
		if m.matches(note) {
			matched = append(matched, note)
			matchedIDs = append(matchedIDs, note.ID)
		}
	}

	if len(matched) == 0 {
		return nil, nil
	}

	// Commit point. On failure the in-memory queue is left untouched and
	// the next cycle retries.
	if err := q.store.DeleteBatch(ctx, matchedIDs); err != nil {
		return nil, fmt.Errorf("fetch due: delete delivered: %w", err)
	}

	q.removeLocked(matchedIDs)
	metrics.QueueDepth.Set(float64(len(q.entries)))

	msgs := make([]OutboundMessage, 0, len(matched))
	for _, note := range matched {
		target := note.Receiver
		if note.Type == TypeGroupchat {
			target = note.Room
		}
		msgs = append(msgs, OutboundMessage{
			Target: target,
			Text:   note.Data,
			Type:   note.Type,
		})
		metrics.NotesDelivered.WithLabelValues(string(note.Type)).Inc()
	}

	q.logger.Info().
		Int("delivered", len(msgs)).
		Msg("Due notes matched")

	return msgs, nil
}

// removeLocked drops the given note ids from the in-memory slice, keeping
// the remaining entries in order. Caller holds q.mu.
func (q *Queue) removeLocked(ids []int64) {
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := q.entries[:0]
	for _, note := range q.entries {
		if _, ok := drop[note.ID]; !ok {
			kept = append(kept, note)
		}
	}
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = kept
}

// Cancel deletes a note from the store and drops it from the in-memory
// cache, so an admin-cancelled note can no longer be delivered. Returns
// ErrNotFound if the store does not know the id.
func (q *Queue) Cancel(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Delete(ctx, id); err != nil {
		return err
	}
	q.removeLocked([]int64{id})
	metrics.QueueDepth.Set(float64(len(q.entries)))

	q.logger.Info().Int64("note_id", id).Msg("Note cancelled")
	return nil
}

// Len returns the current number of cached entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending returns a copy of the cached entries, for the admin API.
func (q *Queue) Pending() []*Note {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Note, len(q.entries))
	copy(out, q.entries)
	return out
}

// matcher evaluates note deliverability against one presence snapshot.
// The global address union and per-room short-name sets are computed lazily
// and cached for the duration of a single FetchDue call, so many notes
// targeting the same room cost one roster scan instead of one each.
type matcher struct {
	snap  presence.Snapshot
	union map[string]struct{}
	rooms map[string]map[string]struct{}
}

func newMatcher(snap presence.Snapshot) *matcher {
	return &matcher{snap: snap}
}

func (m *matcher) matches(note *Note) bool {
	if note.Room == "" {
		return m.privateVisible(note.Receiver)
	}
	return m.roomVisible(note.Room, note.Receiver)
}

// privateVisible reports whether the receiver address is visible in any
// room, comparing bare addresses.
func (m *matcher) privateVisible(receiver string) bool {
	if m.union == nil {
		m.union = m.snap.BareAddressSet()
	}
	_, ok := m.union[presence.BareAddress(receiver)]
	return ok
}

// roomVisible reports whether the receiver matches a nickname or the local
// part of a visible address in the given room. An unknown room is simply
// not deliverable this round.
func (m *matcher) roomVisible(room, receiver string) bool {
	short := presence.ShortRoom(room)
	occupants, ok := m.snap.RoomOccupants(short)
	if !ok {
		return false
	}

	if m.rooms == nil {
		m.rooms = make(map[string]map[string]struct{})
	}
	set, cached := m.rooms[short]
	if !cached {
		set = make(map[string]struct{}, 2*len(occupants))
		for nick, addr := range occupants {
			set[nick] = struct{}{}
			if local := addr.Local(); local != "" {
				set[local] = struct{}{}
			}
		}
		m.rooms[short] = set
	}

	_, ok = set[receiver]
	return ok
}
