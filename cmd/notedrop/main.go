// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

// Package main is the entry point for the Notedrop service.
//
// Notedrop holds deferred notes for chat users and delivers them when two
// conditions line up: the note's due time has passed and the recipient is
// visible in the latest presence snapshot. Delivery is at-most-once; a note
// leaves the store before its outbound message is handed to the transport.
//
// # Application Architecture
//
// The service initializes components in the following order:
//
//  1. Configuration: layered load from defaults, config file and environment (Koanf v2)
//  2. Database: DuckDB note store with a due-time index
//  3. Queue: in-memory delivery window reconciled against the store
//  4. Presence tracker: latest room/occupant snapshot, replaced wholesale
//  5. NATS (optional): embedded or external broker for the presence feed
//     and the outbound message hand-off
//  6. Delivery loop: periodic matching of due notes against presence
//  7. Authentication: JWT admin auth, or disabled for development
//  8. HTTP server: note CRUD, presence fallback, health and metrics
//
// All long-running components run under a suture supervisor tree with two
// layers: messaging (presence feed, delivery loop) and API (HTTP server).
//
// # Configuration
//
// Configuration precedence is ENV > config file > built-in defaults. Common
// variables:
//
//	export JWT_SECRET=$(openssl rand -base64 32)
//	export ADMIN_USERNAME=admin
//	export ADMIN_PASSWORD_HASH='$2a$10$...'   # bcrypt hash
//	export DUCKDB_PATH=/data/notedrop.duckdb
//	export NATS_ENABLED=true                  # embedded broker by default
//	./notedrop
//
// For development without auth:
//
//	export AUTH_DISABLED=true
//	./notedrop
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests, the delivery loop finishes its tick, and the database
// is closed last.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/notedrop/notedrop/internal/api"
	"github.com/notedrop/notedrop/internal/auth"
	"github.com/notedrop/notedrop/internal/config"
	"github.com/notedrop/notedrop/internal/database"
	"github.com/notedrop/notedrop/internal/delivery"
	"github.com/notedrop/notedrop/internal/logging"
	"github.com/notedrop/notedrop/internal/messaging"
	"github.com/notedrop/notedrop/internal/notes"
	"github.com/notedrop/notedrop/internal/presence"
	"github.com/notedrop/notedrop/internal/supervisor"
	"github.com/notedrop/notedrop/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		// Default logger, config not yet available.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Bool("auth_disabled", cfg.Security.AuthDisabled).
		Msg("Configuration loaded")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	store := notes.NewSQLStore(db.Conn())
	queue := notes.NewQueue(store)
	tracker := presence.NewTracker()

	var jwtManager *auth.JWTManager
	var creds *auth.CredentialChecker
	if cfg.Security.AuthDisabled {
		logging.Warn().Msg("Authentication is DISABLED (AUTH_DISABLED=true)")
		logging.Warn().Msg("All endpoints are publicly accessible. Never run this way on a public network.")
	} else {
		jwtManager, err = auth.NewJWTManager(&cfg.Security)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
		}
		creds, err = auth.NewCredentialChecker(&cfg.Security)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize credential checker")
		}
		logging.Info().Msg("JWT authentication enabled")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Bridge zerolog to slog for sutureslog.
	tree := supervisor.NewTree(slog.New(logging.NewSlogHandler()), supervisor.DefaultTreeConfig())

	if cfg.NATS.Enabled {
		natsURL := cfg.NATS.URL
		if cfg.NATS.EmbeddedServer {
			embedded, err := messaging.NewEmbeddedServer(&messaging.ServerConfig{
				Host:     "127.0.0.1",
				Port:     -1, // random free port, clients use ClientURL
				StoreDir: cfg.NATS.StoreDir,
			})
			if err != nil {
				logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
			}
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if err := embedded.Shutdown(shutdownCtx); err != nil {
					logging.Error().Err(err).Msg("Error shutting down embedded NATS server")
				}
			}()
			natsURL = embedded.ClientURL()
			logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
		}

		wmLogger := messaging.NewWatermillLogger(logging.Logger())

		transport, err := messaging.NewNATSTransport(messaging.PublisherConfig{
			URL:         natsURL,
			TopicPrefix: cfg.NATS.OutboundTopicPrefix,
		}, wmLogger)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create outbound transport")
		}
		defer func() {
			if err := transport.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing outbound transport")
			}
		}()

		subscriber, err := messaging.NewPresenceSubscriber(messaging.SubscriberConfig{
			URL:        natsURL,
			Topic:      cfg.NATS.PresenceTopic,
			QueueGroup: cfg.NATS.QueueGroup,
		}, tracker, wmLogger)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create presence subscriber")
		}
		defer func() {
			if err := subscriber.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing presence subscriber")
			}
		}()

		deliverySvc := delivery.NewService(queue, tracker, transport, delivery.Config{
			TickInterval:       cfg.Delivery.TickInterval,
			PublishRate:        cfg.Delivery.PublishRate,
			PublishBurst:       cfg.Delivery.PublishBurst,
			BreakerMaxFailures: cfg.Delivery.BreakerMaxFailures,
			BreakerTimeout:     cfg.Delivery.BreakerTimeout,
		})

		tree.AddMessagingService(services.NewPresenceFeedService(subscriber))
		tree.AddMessagingService(services.NewDeliveryLoopService(deliverySvc))
		logging.Info().
			Str("presence_topic", cfg.NATS.PresenceTopic).
			Str("outbound_prefix", cfg.NATS.OutboundTopicPrefix).
			Msg("Presence feed and delivery loop added to supervisor tree")
	} else {
		// API-only mode: notes accrue in the store, presence comes in via
		// PUT /api/v1/presence, nothing is delivered until NATS is enabled.
		logging.Warn().Msg("NATS disabled, outbound delivery is inactive (NATS_ENABLED=false)")
	}

	router := api.New(cfg, store, queue, tracker, db, jwtManager, creds)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Routes(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	logging.Info().Msg("Starting supervisor tree")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	logging.Info().Msg("Application stopped gracefully")
}
