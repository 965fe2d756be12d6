// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/notedrop/notedrop/internal/metrics"
	"github.com/notedrop/notedrop/internal/notes"
)

// PublisherConfig configures the outbound NATS publisher.
type PublisherConfig struct {
	URL string

	// TopicPrefix prefixes the per-type outbound topics, e.g.
	// "notes.outbound" publishes to notes.outbound.chat and
	// notes.outbound.groupchat.
	TopicPrefix string

	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSTransport publishes outbound messages to NATS for the external chat
// process. It implements delivery.Transport.
type NATSTransport struct {
	publisher   message.Publisher
	topicPrefix string

	mu     sync.RWMutex
	closed bool
}

// NewNATSTransport creates a watermill NATS publisher over core NATS.
func NewNATSTransport(cfg PublisherConfig, logger watermill.LoggerAdapter) (*NATSTransport, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = time.Second
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true, // core NATS, the bot consumes live
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return &NATSTransport{
		publisher:   pub,
		topicPrefix: cfg.TopicPrefix,
	}, nil
}

// Publish sends one outbound message to the per-type topic.
func (t *NATSTransport) Publish(_ context.Context, msg notes.OutboundMessage) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return fmt.Errorf("transport is closed")
	}
	t.mu.RUnlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	topic := fmt.Sprintf("%s.%s", t.topicPrefix, msg.Type)
	wmMsg := message.NewMessage(uuid.NewString(), payload)

	if err := t.publisher.Publish(topic, wmMsg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	metrics.NATSMessagesPublished.WithLabelValues(topic).Inc()
	return nil
}

// Close shuts the publisher down. Publish calls after Close fail.
func (t *NATSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	return t.publisher.Close()
}
