// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package delivery

import (
	"context"

	"github.com/notedrop/notedrop/internal/notes"
)

// Transport hands matched notes off to the external chat process. The store
// delete is the commit point for at-most-once delivery; transport failures
// after commit are logged and counted, not retried here.
type Transport interface {
	Publish(ctx context.Context, msg notes.OutboundMessage) error
}
