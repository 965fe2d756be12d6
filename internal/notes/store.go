// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package notes

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/notedrop/notedrop/internal/metrics"
)

// Store provides durable persistence for notes.
//
// Implementations must propagate failures to the caller; a note is never
// silently lost once persisted.
type Store interface {
	// Add persists the note and assigns its ID exactly once.
	Add(ctx context.Context, note *Note) error

	// SelectDue returns all notes with offset_time <= now+horizon, ordered
	// ascending by offset_time.
	SelectDue(ctx context.Context, now time.Time, horizon time.Duration) ([]*Note, error)

	// DeleteBatch removes the given notes in a single transaction. Used
	// for both delivered and expired notes.
	DeleteBatch(ctx context.Context, ids []int64) error

	// Delete removes a single note. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id int64) error

	// List returns notes ordered ascending by offset_time, paginated.
	List(ctx context.Context, limit, offset int) ([]*Note, error)

	// Count returns the total number of pending notes.
	Count(ctx context.Context) (int64, error)
}

// SQLStore is the DuckDB-backed Store.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a Store on top of an initialized database connection.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Add persists a new note and assigns its ID from the notes sequence.
func (s *SQLStore) Add(ctx context.Context, note *Note) error {
	start := time.Now()

	// Room is nullable in the schema; empty string means private.
	var room sql.NullString
	if note.Room != "" {
		room = sql.NullString{String: note.Room, Valid: true}
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO notes (receiver, room, data, offset_time, message_type)
		 VALUES (?, ?, ?, ?, ?)
		 RETURNING note_id`,
		note.Receiver, room, note.Data, note.OffsetTime.UTC(), string(note.Type),
	).Scan(&note.ID)
	metrics.RecordDBQuery("add", start, err)
	if err != nil {
		return fmt.Errorf("failed to insert note: %w", err)
	}
	return nil
}

// SelectDue returns all notes due within the horizon, ordered ascending.
func (s *SQLStore) SelectDue(ctx context.Context, now time.Time, horizon time.Duration) ([]*Note, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT note_id, receiver, room, data, offset_time, message_type
		 FROM notes
		 WHERE offset_time <= ?
		 ORDER BY offset_time ASC`,
		now.UTC().Add(horizon),
	)
	metrics.RecordDBQuery("select_due", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to select due notes: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

// DeleteBatch removes the given notes in one transaction. A nil or empty id
// set is a no-op.
func (s *SQLStore) DeleteBatch(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	start := time.Now()
	err := s.deleteBatchTx(ctx, ids)
	metrics.RecordDBQuery("delete_batch", start, err)
	return err
}

func (s *SQLStore) deleteBatchTx(ctx context.Context, ids []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf(`DELETE FROM notes WHERE note_id IN (%s)`, placeholders)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete notes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// Delete removes a single note by id.
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE note_id = ?`, id)
	metrics.RecordDBQuery("delete", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete note %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns pending notes ordered by due time, paginated for the API.
func (s *SQLStore) List(ctx context.Context, limit, offset int) ([]*Note, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT note_id, receiver, room, data, offset_time, message_type
		 FROM notes
		 ORDER BY offset_time ASC
		 LIMIT ? OFFSET ?`,
		limit, offset,
	)
	metrics.RecordDBQuery("list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

// Count returns the number of pending notes.
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	start := time.Now()
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&count)
	metrics.RecordDBQuery("count", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return count, nil
}

// scanNotes reads note rows into a slice, normalizing nullable rooms and
// forcing timestamps to UTC.
func scanNotes(rows *sql.Rows) ([]*Note, error) {
	var result []*Note
	for rows.Next() {
		var (
			note Note
			room sql.NullString
			mt   string
		)
		if err := rows.Scan(&note.ID, &note.Receiver, &room, &note.Data, &note.OffsetTime, &mt); err != nil {
			return nil, fmt.Errorf("failed to scan note row: %w", err)
		}
		if room.Valid {
			note.Room = room.String
		}
		note.Type = MessageType(mt)
		note.OffsetTime = note.OffsetTime.UTC()
		result = append(result, &note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("note row iteration failed: %w", err)
	}
	return result, nil
}
