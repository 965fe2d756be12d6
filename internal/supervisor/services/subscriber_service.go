// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package services

import (
	"context"
	"errors"
	"fmt"
)

// SubscriberRunner matches the presence feed lifecycle. Satisfied by
// *messaging.PresenceSubscriber.
type SubscriberRunner interface {
	Run(ctx context.Context) error
	Close() error
}

// PresenceFeedService runs the presence subscriber under supervision. Run
// blocks until the context is canceled; any other return is a failure and
// suture restarts the feed.
type PresenceFeedService struct {
	runner SubscriberRunner
	name   string
}

// NewPresenceFeedService creates a presence feed service wrapper.
func NewPresenceFeedService(runner SubscriberRunner) *PresenceFeedService {
	return &PresenceFeedService{
		runner: runner,
		name:   "presence-feed",
	}
}

// Serve implements suture.Service.
func (s *PresenceFeedService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("presence feed failed: %w", err)
	}
	return err
}

// String implements fmt.Stringer for suture log messages.
func (s *PresenceFeedService) String() string {
	return s.name
}
