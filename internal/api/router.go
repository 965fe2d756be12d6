// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

// Package api exposes the HTTP surface: note CRUD for producers, the
// presence feed fallback, auth, health and metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/notedrop/notedrop/internal/auth"
	"github.com/notedrop/notedrop/internal/config"
	"github.com/notedrop/notedrop/internal/database"
	"github.com/notedrop/notedrop/internal/logging"
	"github.com/notedrop/notedrop/internal/notes"
	"github.com/notedrop/notedrop/internal/presence"
)

// Router holds the dependencies for the HTTP handlers.
type Router struct {
	cfg      *config.Config
	store    notes.Store
	queue    *notes.Queue
	tracker  *presence.Tracker
	db       *database.DB
	jwt      *auth.JWTManager
	creds    *auth.CredentialChecker
	validate *validator.Validate
	logger   zerolog.Logger
}

// New creates a router. jwtManager and creds may be nil when auth is
// disabled in the configuration.
func New(
	cfg *config.Config,
	store notes.Store,
	queue *notes.Queue,
	tracker *presence.Tracker,
	db *database.DB,
	jwtManager *auth.JWTManager,
	creds *auth.CredentialChecker,
) *Router {
	return &Router{
		cfg:      cfg,
		store:    store,
		queue:    queue,
		tracker:  tracker,
		db:       db,
		jwt:      jwtManager,
		creds:    creds,
		validate: validator.New(),
		logger:   logging.With().Str("component", "api").Logger(),
	}
}

// Routes assembles the chi handler tree.
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(rt.requestLogging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, rt.cfg.Security.RateLimitWindow))
		r.Get("/live", rt.handleHealthLive)
		r.Get("/ready", rt.handleHealthReady)
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		// Tight limit on login attempts.
		r.Use(httprate.LimitByIP(10, rt.cfg.Security.RateLimitWindow))
		r.Post("/login", rt.handleLogin)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rt.cfg.Security.RateLimitReqs, rt.cfg.Security.RateLimitWindow))
		r.Use(rt.metricsMiddleware)
		r.Use(rt.authenticate)

		r.Post("/notes", rt.handleCreateNote)
		r.Get("/notes", rt.handleListNotes)
		r.Get("/notes/stats", rt.handleNoteStats)
		r.Delete("/notes/{id}", rt.handleDeleteNote)

		r.Put("/presence", rt.handlePutPresence)
		r.Get("/presence", rt.handleGetPresence)
	})

	return r
}
