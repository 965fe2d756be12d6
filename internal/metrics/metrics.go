// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Note queue depth and reconcile activity
// - Delivery outcomes (delivered, expired, publish failures)
// - DuckDB store query performance
// - API endpoint latency and throughput
// - NATS messaging

var (
	// Queue Metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notedrop_queue_depth",
			Help: "Current number of notes held in the in-memory delivery queue",
		},
	)

	QueueReconciles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notedrop_queue_reconciles_total",
			Help: "Total number of queue reconciliations against the store",
		},
		[]string{"result"}, // "success", "failure"
	)

	NotesAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notedrop_notes_added_total",
			Help: "Total number of notes accepted into the store",
		},
		[]string{"type"}, // "chat", "groupchat"
	)

	NotesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notedrop_notes_delivered_total",
			Help: "Total number of notes handed off for delivery",
		},
		[]string{"type"},
	)

	NotesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notedrop_notes_expired_total",
			Help: "Total number of notes dropped after exceeding the delivery frame",
		},
	)

	FetchDueDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notedrop_fetch_due_duration_seconds",
			Help:    "Duration of due-note fetch cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Delivery Metrics
	DeliveryPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notedrop_delivery_publish_failures_total",
			Help: "Total number of outbound publish failures after store commit",
		},
	)

	DeliveryTicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notedrop_delivery_ticks_skipped_total",
			Help: "Total number of delivery ticks skipped while the transport breaker was open",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// NATS Messaging Metrics
	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_published_total",
			Help: "Total number of messages published to NATS",
		},
		[]string{"topic"},
	)

	NATSMessagesConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_messages_consumed_total",
			Help: "Total number of messages consumed from NATS",
		},
	)

	NATSMessagesParseFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_messages_parse_failed_total",
			Help: "Total number of messages that failed to parse",
		},
	)

	PresenceSnapshotAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notedrop_presence_snapshot_age_seconds",
			Help: "Seconds since the last presence snapshot was received",
		},
	)
)

// RecordDBQuery records the duration and outcome of a store query.
func RecordDBQuery(operation string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAPIRequest records a completed API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordBreakerTransition records a circuit breaker state change and updates
// the state gauge.
func RecordBreakerTransition(name, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
