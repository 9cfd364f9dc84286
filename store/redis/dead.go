package redis

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookline/triage/deadletter"
	"github.com/hookline/triage/id"
)

// PushDeadEntry implements deadletter.Store.
func (s *Store) PushDeadEntry(ctx context.Context, e *deadletter.Entry) error {
	key := entityKey(prefixDead, e.ID.String())
	if err := s.setEntity(ctx, key, e); err != nil {
		return fmt.Errorf("triage/redis: push dead entry: %w", err)
	}

	err := s.rdb.ZAdd(ctx, zDeadAll, goredis.Z{
		Score:  scoreFromTime(e.FailedAt),
		Member: e.ID.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("triage/redis: push dead entry index: %w", err)
	}
	return nil
}

// GetDeadEntry implements deadletter.Store.
func (s *Store) GetDeadEntry(ctx context.Context, entryID id.ID) (*deadletter.Entry, error) {
	var e deadletter.Entry
	if err := s.getEntity(ctx, entityKey(prefixDead, entryID.String()), &e); err != nil {
		if isNotFound(err) {
			return nil, deadletter.ErrEntryNotFound
		}
		return nil, fmt.Errorf("triage/redis: get dead entry: %w", err)
	}
	return &e, nil
}

// ListDeadEntries implements deadletter.Store, newest first.
func (s *Store) ListDeadEntries(ctx context.Context, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	lo := math.Inf(-1)
	hi := math.Inf(1)
	if opts.From != nil {
		lo = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		hi = scoreFromTime(*opts.To)
	}

	ids, err := s.rdb.ZRevRangeByScore(ctx, zDeadAll, &goredis.ZRangeBy{
		Min: formatScore(lo, "-inf"),
		Max: formatScore(hi, "+inf"),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("triage/redis: list dead entries: %w", err)
	}

	result := make([]*deadletter.Entry, 0, len(ids))
	for _, entryID := range ids {
		var e deadletter.Entry
		if err := s.getEntity(ctx, entityKey(prefixDead, entryID), &e); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("triage/redis: list dead entries get: %w", err)
		}
		result = append(result, &e)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// MarkReplayed implements deadletter.Store.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.ID) error {
	e, err := s.GetDeadEntry(ctx, entryID)
	if err != nil {
		return err
	}

	replayedAt := now()
	e.ReplayedAt = &replayedAt
	e.Touch()

	if err := s.setEntity(ctx, entityKey(prefixDead, entryID.String()), e); err != nil {
		return fmt.Errorf("triage/redis: mark replayed: %w", err)
	}
	return nil
}

// PurgeDeadEntries implements deadletter.Store.
func (s *Store) PurgeDeadEntries(ctx context.Context, before time.Time) (int64, error) {
	cutoff := formatScore(scoreFromTime(before), "-inf")

	ids, err := s.rdb.ZRangeByScore(ctx, zDeadAll, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("triage/redis: purge dead entries: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.rdb.Pipeline()
	for _, entryID := range ids {
		pipe.Del(ctx, entityKey(prefixDead, entryID))
		pipe.ZRem(ctx, zDeadAll, entryID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("triage/redis: purge dead entries exec: %w", err)
	}
	return int64(len(ids)), nil
}

// CountDeadEntries implements deadletter.Store.
func (s *Store) CountDeadEntries(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zDeadAll).Result()
	if err != nil {
		return 0, fmt.Errorf("triage/redis: count dead entries: %w", err)
	}
	return count, nil
}

func formatScore(v float64, inf string) string {
	if math.IsInf(v, -1) || math.IsInf(v, 1) {
		return inf
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
