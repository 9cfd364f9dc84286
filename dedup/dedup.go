// Package dedup rejects webhook deliveries that were already processed.
//
// Markers live in a shared key-value store with expiry so that multiple
// gateway instances agree on what has been seen. A marker is written only
// after the event is enqueued; the queue's deterministic job ID closes the
// resulting race window (see package queue).
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/hookline/triage/event"
)

// DefaultTTL is how long a dedup marker persists.
const DefaultTTL = time.Hour

// Store is the shared marker store. Implemented by the memory and redis
// backends.
type Store interface {
	// ExistsMarker reports whether a marker is present and unexpired.
	ExistsMarker(ctx context.Context, key string) (bool, error)

	// SetMarker writes a marker with the given TTL.
	SetMarker(ctx context.Context, key string, ttl time.Duration) error
}

// Key builds the dedup key for one delivery:
// "webhook:{type}:{entityId}:{timestamp}".
func Key(entityType, entityID string, timestamp int64) string {
	return fmt.Sprintf("webhook:%s:%s:%d", entityType, entityID, timestamp)
}

// EventKey builds the dedup key for a parsed webhook event.
func EventKey(evt *event.WebhookEvent) string {
	return Key(evt.EntityType, evt.EntityID(), evt.WebhookTimestamp)
}

// Deduplicator checks and records webhook deliveries.
type Deduplicator struct {
	store Store
	ttl   time.Duration
}

// New creates a Deduplicator. A ttl of 0 selects DefaultTTL.
func New(store Store, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Deduplicator{store: store, ttl: ttl}
}

// Seen reports whether this delivery was already processed within the TTL.
// Called before enqueue.
func (d *Deduplicator) Seen(ctx context.Context, evt *event.WebhookEvent) (bool, error) {
	return d.store.ExistsMarker(ctx, EventKey(evt))
}

// Mark records this delivery as processed. Called after a successful
// enqueue, not before, so that a failed enqueue never leaves a marker
// behind.
func (d *Deduplicator) Mark(ctx context.Context, evt *event.WebhookEvent) error {
	return d.store.SetMarker(ctx, EventKey(evt), d.ttl)
}
