// Package redis is the Redis store backend, for deployments where multiple
// gateway instances share dedup markers and the job queue.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	triagestore "github.com/hookline/triage/store"
)

// compile-time interface check
var _ triagestore.Store = (*Store)(nil)

// Store implements store.Store using Redis via Grove KV.
type Store struct {
	kv  *kv.Store
	rdb goredis.UniversalClient
}

// New creates a Redis store backed by Grove KV.
func New(store *kv.Store) *Store {
	return &Store{
		kv:  store,
		rdb: redisdriver.UnwrapClient(store),
	}
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

// Close closes the KV store.
func (s *Store) Close() error {
	return s.kv.Close()
}

// ──────────────────────────────────────────────────
// Dedup markers
// ──────────────────────────────────────────────────

// ExistsMarker implements dedup.Store.
func (s *Store) ExistsMarker(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, entityKey(prefixMarker, key)).Result()
	if err != nil {
		return false, fmt.Errorf("triage/redis: marker exists: %w", err)
	}
	return n > 0, nil
}

// SetMarker implements dedup.Store. Redis owns the expiry.
func (s *Store) SetMarker(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, entityKey(prefixMarker, key), "1", ttl).Err(); err != nil {
		return fmt.Errorf("triage/redis: set marker: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Shared helpers
// ──────────────────────────────────────────────────

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// scoreFromTime converts a time.Time to a sorted set score (unix seconds as float64).
func scoreFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// isNotFound checks if an error is a KV not-found sentinel.
func isNotFound(err error) bool {
	return errors.Is(err, kv.ErrNotFound)
}

// getEntity retrieves and decodes a JSON entity from a KV key.
func (s *Store) getEntity(ctx context.Context, key string, dest any) error {
	raw, err := s.kv.GetRaw(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// setEntity encodes and stores a JSON entity under a KV key.
func (s *Store) setEntity(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("triage/redis: marshal entity: %w", err)
	}
	return s.kv.SetRaw(ctx, key, raw)
}

// applyPagination applies offset and limit to a slice.
func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) {
		return nil
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
