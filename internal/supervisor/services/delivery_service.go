// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package services

import (
	"context"
	"fmt"
)

// DeliveryManager matches the delivery loop lifecycle. Satisfied by
// *delivery.Service.
type DeliveryManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// DeliveryLoopService adapts the delivery loop's Start/Stop lifecycle to
// suture's Serve pattern.
type DeliveryLoopService struct {
	manager DeliveryManager
	name    string
}

// NewDeliveryLoopService creates a delivery loop service wrapper.
func NewDeliveryLoopService(manager DeliveryManager) *DeliveryLoopService {
	return &DeliveryLoopService{
		manager: manager,
		name:    "delivery-loop",
	}
}

// Serve implements suture.Service. If Start fails the error is returned
// immediately, letting suture restart the service with backoff.
func (s *DeliveryLoopService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("delivery loop start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("delivery loop stop failed: %w", err)
	}

	return ctx.Err()
}

// String implements fmt.Stringer for suture log messages.
func (s *DeliveryLoopService) String() string {
	return s.name
}
