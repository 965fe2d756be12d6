// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

// Package delivery runs the periodic loop that matches due notes against the
// latest presence snapshot and publishes the resulting outbound messages.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/notedrop/notedrop/internal/logging"
	"github.com/notedrop/notedrop/internal/metrics"
	"github.com/notedrop/notedrop/internal/notes"
	"github.com/notedrop/notedrop/internal/presence"
)

// Config holds configuration for the delivery loop.
type Config struct {
	// TickInterval is how often due notes are fetched (default: 15s).
	TickInterval time.Duration

	// PublishRate caps outbound messages per second.
	PublishRate float64

	// PublishBurst is the rate limiter burst size.
	PublishBurst int

	// BreakerMaxFailures is the consecutive failure count that opens the
	// transport circuit breaker.
	BreakerMaxFailures uint32

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
}

// DefaultConfig returns the default delivery configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval:       15 * time.Second,
		PublishRate:        5,
		PublishBurst:       10,
		BreakerMaxFailures: 5,
		BreakerTimeout:     time.Minute,
	}
}

// Service drives the delivery loop.
type Service struct {
	queue     *notes.Queue
	oracle    presence.Oracle
	transport Transport
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[interface{}]
	logger    zerolog.Logger
	config    Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewService creates a delivery service. The oracle supplies the presence
// snapshot consulted on each tick.
func NewService(queue *notes.Queue, oracle presence.Oracle, transport Transport, config Config) *Service {
	if config.TickInterval <= 0 {
		config.TickInterval = 15 * time.Second
	}
	if config.PublishRate <= 0 {
		config.PublishRate = 5
	}
	if config.PublishBurst <= 0 {
		config.PublishBurst = 10
	}
	if config.BreakerMaxFailures == 0 {
		config.BreakerMaxFailures = 5
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = time.Minute
	}

	breaker := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:    "delivery-transport",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RecordBreakerTransition(name, from.String(), to.String())
		},
	})

	return &Service{
		queue:     queue,
		oracle:    oracle,
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(config.PublishRate), config.PublishBurst),
		breaker:   breaker,
		logger:    logging.With().Str("component", "delivery").Logger(),
		config:    config,
	}
}

// Start begins the delivery loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("delivery service already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info().
		Dur("tick_interval", s.config.TickInterval).
		Float64("publish_rate", s.config.PublishRate).
		Msg("Starting delivery loop")

	go s.run(ctx)
	return nil
}

// Stop stops the delivery loop and waits for it to complete.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info().Msg("Delivery loop stopped")
	return nil
}

// run is the main delivery loop.
func (s *Service) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	// Run immediately on start.
	s.tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick fetches due notes and publishes them. While the transport breaker is
// open the whole tick is skipped, so notes are not consumed from the store
// while the transport is known to be down.
func (s *Service) tick(ctx context.Context) {
	if s.breaker.State() == gobreaker.StateOpen {
		metrics.DeliveryTicksSkipped.Inc()
		s.logger.Debug().Msg("Transport breaker open, skipping tick")
		return
	}

	now := time.Now().UTC()
	snap := s.oracle.Snapshot()

	msgs, err := s.queue.FetchDue(ctx, snap, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to fetch due notes")
		return
	}
	if len(msgs) == 0 {
		return
	}

	for _, msg := range msgs {
		if err := s.publish(ctx, msg); err != nil {
			// The store delete already committed; the note is gone.
			metrics.DeliveryPublishFailures.Inc()
			s.logger.Error().
				Err(err).
				Str("target", msg.Target).
				Str("type", string(msg.Type)).
				Msg("Outbound publish failed after commit")
		}
	}
}

// publish sends one message through the rate limiter and circuit breaker.
func (s *Service) publish(ctx context.Context, msg notes.OutboundMessage) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.transport.Publish(ctx, msg)
	})
	return err
}

// BreakerState reports the current transport breaker state for health checks.
func (s *Service) BreakerState() string {
	return s.breaker.State().String()
}
