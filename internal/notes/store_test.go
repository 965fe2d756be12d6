// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package notes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notedrop/notedrop/internal/config"
	"github.com/notedrop/notedrop/internal/database"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "256MB"})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db.Conn())
}

func TestSQLStoreAddAssignsSequentialIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	n1 := &Note{Receiver: "alice@example.com", Data: "one", OffsetTime: now, Type: TypeChat}
	n2 := &Note{Receiver: "bob", Room: "ops", Data: "two", OffsetTime: now, Type: TypeGroupchat}

	if err := store.Add(ctx, n1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Add(ctx, n2); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n1.ID == 0 || n2.ID == 0 {
		t.Fatal("ids should be assigned")
	}
	if n1.ID == n2.ID {
		t.Error("ids should be unique")
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestSQLStoreSelectDueOrderingAndWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	// Inserted out of order; one beyond the horizon.
	inputs := []*Note{
		{Receiver: "a@x.y", Data: "late", OffsetTime: now.Add(2 * time.Hour), Type: TypeChat},
		{Receiver: "a@x.y", Data: "early", OffsetTime: now.Add(-time.Hour), Type: TypeChat},
		{Receiver: "a@x.y", Data: "far", OffsetTime: now.Add(20 * time.Hour), Type: TypeChat},
	}
	for _, n := range inputs {
		if err := store.Add(ctx, n); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	due, err := store.SelectDue(ctx, now, Horizon)
	if err != nil {
		t.Fatalf("SelectDue: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due notes, want 2", len(due))
	}
	if due[0].Data != "early" || due[1].Data != "late" {
		t.Errorf("wrong order: %q, %q", due[0].Data, due[1].Data)
	}
}

func TestSQLStoreRoomRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	n := &Note{Receiver: "bob", Room: "ops", Data: "x", OffsetTime: now, Type: TypeGroupchat}
	if err := store.Add(ctx, n); err != nil {
		t.Fatalf("Add: %v", err)
	}
	p := &Note{Receiver: "alice@example.com", Data: "y", OffsetTime: now, Type: TypeChat}
	if err := store.Add(ctx, p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	due, err := store.SelectDue(ctx, now, Horizon)
	if err != nil {
		t.Fatalf("SelectDue: %v", err)
	}
	byID := make(map[int64]*Note, len(due))
	for _, d := range due {
		byID[d.ID] = d
	}
	if got := byID[n.ID]; got == nil || got.Room != "ops" {
		t.Errorf("room note round trip failed: %+v", got)
	}
	if got := byID[p.ID]; got == nil || got.Room != "" {
		t.Errorf("private note should have empty room: %+v", got)
	}
}

func TestSQLStoreDeleteBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	var ids []int64
	for i := 0; i < 3; i++ {
		n := &Note{Receiver: "a@x.y", Data: "x", OffsetTime: now, Type: TypeChat}
		if err := store.Add(ctx, n); err != nil {
			t.Fatalf("Add: %v", err)
		}
		ids = append(ids, n.ID)
	}

	if err := store.DeleteBatch(ctx, ids[:2]); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	// Empty set is a no-op.
	if err := store.DeleteBatch(ctx, nil); err != nil {
		t.Errorf("empty DeleteBatch: %v", err)
	}
}

func TestSQLStoreDeleteNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Delete(ctx, 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete missing = %v, want ErrNotFound", err)
	}
}

func TestSQLStoreListPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		n := &Note{
			Receiver:   "a@x.y",
			Data:       "x",
			OffsetTime: now.Add(time.Duration(i) * time.Minute),
			Type:       TypeChat,
		}
		if err := store.Add(ctx, n); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	page, err := store.List(ctx, 2, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d notes, want 2", len(page))
	}
	if !page[0].OffsetTime.Equal(now.Add(2 * time.Minute)) {
		t.Errorf("pagination offset wrong: %s", page[0].OffsetTime)
	}
}
