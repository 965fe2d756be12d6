// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/notedrop/notedrop/internal/auth"
	"github.com/notedrop/notedrop/internal/messaging"
	"github.com/notedrop/notedrop/internal/notes"
)

// createNoteRequest is the producer-facing note payload. Exactly one of
// offset_time and delay_seconds must be set.
type createNoteRequest struct {
	Receiver     string `json:"receiver" validate:"required"`
	Room         string `json:"room"`
	Data         string `json:"data" validate:"required"`
	OffsetTime   string `json:"offset_time,omitempty"`
	DelaySeconds int64  `json:"delay_seconds,omitempty" validate:"gte=0"`
	MessageType  string `json:"message_type" validate:"required,oneof=chat groupchat"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (rt *Router) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (rt *Router) writeError(w http.ResponseWriter, status int, msg string) {
	rt.writeJSON(w, status, map[string]string{"error": msg})
}

// handleCreateNote persists a new note and enqueues it for delivery.
func (rt *Router) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req createNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rt.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := rt.validate.Struct(&req); err != nil {
		rt.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	due := now
	switch {
	case req.OffsetTime != "" && req.DelaySeconds > 0:
		rt.writeError(w, http.StatusBadRequest, "offset_time and delay_seconds are mutually exclusive")
		return
	case req.OffsetTime != "":
		t, err := time.Parse(time.RFC3339, req.OffsetTime)
		if err != nil {
			rt.writeError(w, http.StatusBadRequest, "offset_time must be RFC3339")
			return
		}
		due = t.UTC()
	case req.DelaySeconds > 0:
		due = now.Add(time.Duration(req.DelaySeconds) * time.Second)
	}

	note := &notes.Note{
		Receiver:   req.Receiver,
		Room:       req.Room,
		Data:       req.Data,
		OffsetTime: due,
		Type:       notes.MessageType(req.MessageType),
	}

	if err := note.Validate(); err != nil {
		rt.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := rt.queue.Add(r.Context(), note, now)
	if err != nil {
		rt.logger.Error().Err(err).Msg("Failed to add note")
		rt.writeError(w, http.StatusInternalServerError, "failed to store note")
		return
	}

	rt.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"note_id":     id,
		"offset_time": due.Format(time.RFC3339),
	})
}

// handleListNotes returns pending notes ordered by due time.
func (rt *Router) handleListNotes(w http.ResponseWriter, r *http.Request) {
	limit := rt.cfg.API.DefaultPageSize
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > rt.cfg.API.MaxPageSize {
		limit = rt.cfg.API.MaxPageSize
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	list, err := rt.store.List(r.Context(), limit, offset)
	if err != nil {
		rt.logger.Error().Err(err).Msg("Failed to list notes")
		rt.writeError(w, http.StatusInternalServerError, "failed to list notes")
		return
	}
	if list == nil {
		list = []*notes.Note{}
	}

	rt.writeJSON(w, http.StatusOK, map[string]interface{}{
		"notes":  list,
		"limit":  limit,
		"offset": offset,
	})
}

// handleNoteStats reports store and queue counters.
func (rt *Router) handleNoteStats(w http.ResponseWriter, r *http.Request) {
	count, err := rt.store.Count(r.Context())
	if err != nil {
		rt.logger.Error().Err(err).Msg("Failed to count notes")
		rt.writeError(w, http.StatusInternalServerError, "failed to count notes")
		return
	}

	stats := map[string]interface{}{
		"stored": count,
		"queued": rt.queue.Len(),
	}
	if updated := rt.tracker.UpdatedAt(); !updated.IsZero() {
		stats["presence_updated_at"] = updated.Format(time.RFC3339)
	}

	rt.writeJSON(w, http.StatusOK, stats)
}

// handleDeleteNote cancels a pending note.
func (rt *Router) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rt.writeError(w, http.StatusBadRequest, "invalid note id")
		return
	}

	if err := rt.queue.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, notes.ErrNotFound) {
			rt.writeError(w, http.StatusNotFound, "note not found")
			return
		}
		rt.logger.Error().Err(err).Int64("note_id", id).Msg("Failed to cancel note")
		rt.writeError(w, http.StatusInternalServerError, "failed to cancel note")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handlePutPresence replaces the presence snapshot. This is the HTTP
// fallback for deployments without the NATS feed.
func (rt *Router) handlePutPresence(w http.ResponseWriter, r *http.Request) {
	var wire map[string]map[string]string
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		rt.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rt.tracker.Replace(messaging.SnapshotFromWire(wire, rt.logger))
	w.WriteHeader(http.StatusNoContent)
}

// handleGetPresence renders the current snapshot.
func (rt *Router) handleGetPresence(w http.ResponseWriter, _ *http.Request) {
	snap := rt.tracker.Snapshot()
	wire := make(map[string]map[string]string, len(snap))
	for room, occupants := range snap {
		converted := make(map[string]string, len(occupants))
		for nick, addr := range occupants {
			converted[nick] = addr.String()
		}
		wire[room] = converted
	}
	rt.writeJSON(w, http.StatusOK, wire)
}

// handleLogin exchanges admin credentials for a JWT.
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if rt.creds == nil || rt.jwt == nil {
		rt.writeError(w, http.StatusServiceUnavailable, "authentication not configured")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rt.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := rt.validate.Struct(&req); err != nil {
		rt.writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if err := rt.creds.Check(req.Username, req.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			rt.writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		rt.writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	token, err := rt.jwt.GenerateToken(req.Username, "admin")
	if err != nil {
		rt.logger.Error().Err(err).Msg("Failed to generate token")
		rt.writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	rt.writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_in": int64(rt.cfg.Security.SessionTimeout.Seconds()),
	})
}

// handleHealthLive reports process liveness.
func (rt *Router) handleHealthLive(w http.ResponseWriter, _ *http.Request) {
	rt.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealthReady reports readiness, checking the database.
func (rt *Router) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if rt.db != nil {
		if err := rt.db.Ping(r.Context()); err != nil {
			rt.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "database unreachable",
			})
			return
		}
	}
	rt.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
