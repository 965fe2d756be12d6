// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/notedrop/notedrop/internal/jid"
	"github.com/notedrop/notedrop/internal/logging"
	"github.com/notedrop/notedrop/internal/metrics"
	"github.com/notedrop/notedrop/internal/presence"
)

// SubscriberConfig configures the presence feed subscriber.
type SubscriberConfig struct {
	URL string

	// Topic carries full-state presence snapshots from the bot.
	Topic string

	// QueueGroup load-balances across instances; usually a single
	// Notedrop instance consumes the feed.
	QueueGroup string

	MaxReconnects int
	ReconnectWait time.Duration
}

// wireSnapshot is the JSON shape the bot publishes: room -> nick -> full
// address string.
type wireSnapshot map[string]map[string]string

// PresenceSubscriber consumes presence snapshots from NATS and replaces the
// tracker state wholesale on each message.
type PresenceSubscriber struct {
	subscriber message.Subscriber
	tracker    *presence.Tracker
	topic      string
	logger     zerolog.Logger
}

// NewPresenceSubscriber creates a core-NATS watermill subscriber for the
// presence topic.
func NewPresenceSubscriber(cfg SubscriberConfig, tracker *presence.Tracker, logger watermill.LoggerAdapter) (*PresenceSubscriber, error) {
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
				logger.Error("Presence feed disconnected", err, nil)
			}
		}),
	}

	wmConfig := wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true, // only the latest snapshot matters, no replay
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	return &PresenceSubscriber{
		subscriber: sub,
		tracker:    tracker,
		topic:      cfg.Topic,
		logger:     logging.With().Str("component", "presence-feed").Logger(),
	}, nil
}

// Run consumes the presence topic until the context is canceled.
func (p *PresenceSubscriber) Run(ctx context.Context) error {
	msgs, err := p.subscriber.Subscribe(ctx, p.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", p.topic, err)
	}

	p.logger.Info().Str("topic", p.topic).Msg("Presence feed started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			p.handle(msg)
		}
	}
}

// handle parses one snapshot message and replaces the tracker state. A
// malformed message is acked and dropped so the feed cannot wedge.
func (p *PresenceSubscriber) handle(msg *message.Message) {
	defer msg.Ack()
	metrics.NATSMessagesConsumed.Inc()

	var wire wireSnapshot
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		metrics.NATSMessagesParseFailed.Inc()
		p.logger.Warn().Err(err).Str("uuid", msg.UUID).Msg("Malformed presence snapshot dropped")
		return
	}

	p.tracker.Replace(SnapshotFromWire(wire, p.logger))
}

// SnapshotFromWire converts the wire shape to a presence.Snapshot, skipping
// occupants whose address fails to parse.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func SnapshotFromWire(wire map[string]map[string]string, logger zerolog.Logger) presence.Snapshot {
	snap := make(presence.Snapshot, len(wire))
	for room, occupants := range wire {
		converted := make(map[string]jid.JID, len(occupants))
		for nick, addr := range occupants {
			j, err := jid.Parse(addr)
			if err != nil {
				logger.Warn().
					Str("room", room).
					Str("nick", nick).
					Str("addr", addr).
					Msg("Invalid occupant address skipped")
				continue
			}
			converted[nick] = j
		}
		snap[room] = converted
	}
	return snap
}

// Close shuts the subscriber down.
func (p *PresenceSubscriber) Close() error {
	return p.subscriber.Close()
}
