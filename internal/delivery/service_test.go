// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package delivery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/notedrop/notedrop/internal/jid"
	"github.com/notedrop/notedrop/internal/notes"
	"github.com/notedrop/notedrop/internal/presence"
)

// memStore is a minimal in-memory notes.Store for delivery tests.
type memStore struct {
	mu     sync.Mutex
	notes  map[int64]*notes.Note
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{notes: make(map[int64]*notes.Note)}
}

func (m *memStore) Add(_ context.Context, n *notes.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = m.nextID
	cp := *n
	m.notes[n.ID] = &cp
	return nil
}

func (m *memStore) SelectDue(_ context.Context, now time.Time, horizon time.Duration) ([]*notes.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*notes.Note
	for _, n := range m.notes {
		if !n.OffsetTime.After(now.Add(horizon)) {
			cp := *n
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].OffsetTime.Before(due[j].OffsetTime) })
	return due, nil
}

func (m *memStore) DeleteBatch(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.notes, id)
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[id]; !ok {
		return notes.ErrNotFound
	}
	delete(m.notes, id)
	return nil
}

func (m *memStore) List(_ context.Context, _, _ int) ([]*notes.Note, error) { return nil, nil }

func (m *memStore) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.notes)), nil
}

// captureTransport records published messages and can inject failures.
type captureTransport struct {
	mu   sync.Mutex
	msgs []notes.OutboundMessage
	err  error
}

func (c *captureTransport) Publish(_ context.Context, msg notes.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureTransport) published() []notes.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notes.OutboundMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// staticOracle returns a fixed snapshot.
type staticOracle struct{ snap presence.Snapshot }

func (o *staticOracle) Snapshot() presence.Snapshot { return o.snap }

func aliceSnapshot() presence.Snapshot {
	return presence.Snapshot{
		"ops": {"alice": jid.MustParse("alice@example.com/laptop")},
	}
}

func TestTickPublishesDueNotes(t *testing.T) {
	store := newMemStore()
	q := notes.NewQueue(store)
	now := time.Now().UTC()

	_, err := q.Add(context.Background(), &notes.Note{
		Receiver:   "alice@example.com",
		Data:       "hello",
		OffsetTime: now.Add(-time.Minute),
		Type:       notes.TypeChat,
	}, now)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	transport := &captureTransport{}
	svc := NewService(q, &staticOracle{snap: aliceSnapshot()}, transport, DefaultConfig())

	svc.tick(context.Background())

	msgs := transport.published()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].Target != "alice@example.com" || msgs[0].Text != "hello" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}

	// Note is consumed; a second tick publishes nothing.
	svc.tick(context.Background())
	if len(transport.published()) != 1 {
		t.Error("note published twice")
	}
}

func TestTickSkippedWhileBreakerOpen(t *testing.T) {
	store := newMemStore()
	q := notes.NewQueue(store)
	now := time.Now().UTC()

	_, err := q.Add(context.Background(), &notes.Note{
		Receiver:   "alice@example.com",
		Data:       "hold",
		OffsetTime: now.Add(-time.Minute),
		Type:       notes.TypeChat,
	}, now)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	transport := &captureTransport{err: errors.New("nats down")}
	cfg := DefaultConfig()
	cfg.BreakerMaxFailures = 1
	svc := NewService(q, &staticOracle{snap: aliceSnapshot()}, transport, cfg)

	// First tick consumes the note and fails the publish, opening the
	// breaker after one consecutive failure.
	svc.tick(context.Background())
	if svc.BreakerState() != "open" {
		t.Fatalf("breaker state = %q, want open", svc.BreakerState())
	}

	// A new due note must not be consumed while the breaker is open.
	id2, err := q.Add(context.Background(), &notes.Note{
		Receiver:   "alice@example.com",
		Data:       "safe",
		OffsetTime: now.Add(-time.Minute),
		Type:       notes.TypeChat,
	}, now)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	svc.tick(context.Background())

	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("store count = %d, want 1 (note %d preserved during open breaker)", count, id2)
	}
}

func TestStartStop(t *testing.T) {
	store := newMemStore()
	q := notes.NewQueue(store)
	transport := &captureTransport{}

	cfg := DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	svc := NewService(q, &staticOracle{snap: presence.Snapshot{}}, transport, cfg)

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	time.Sleep(30 * time.Millisecond)

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Stop is idempotent.
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
