// Package memory is the in-process store backend, used by tests and
// single-node deployments where durability across restarts is not needed.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hookline/triage/deadletter"
	"github.com/hookline/triage/id"
	"github.com/hookline/triage/queue"
	triagestore "github.com/hookline/triage/store"
)

var _ triagestore.Store = (*Store)(nil)

// Store implements the composite store in memory.
type Store struct {
	mu sync.RWMutex

	markers map[string]time.Time // dedup key -> expiry
	jobs    map[string]*queue.Job
	dead    map[string]*deadletter.Entry // id.String() -> entry
	deadSeq []string                     // push order, oldest first

	completed int64
	failed    int64

	closed bool
}

// New creates an empty memory store.
func New() *Store {
	return &Store{
		markers: make(map[string]time.Time),
		jobs:    make(map[string]*queue.Job),
		dead:    make(map[string]*deadletter.Entry),
	}
}

// ──────────────────────────────────────────────────
// Dedup markers
// ──────────────────────────────────────────────────

// ExistsMarker implements dedup.Store.
func (s *Store) ExistsMarker(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.markers[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(s.markers, key)
		return false, nil
	}
	return true, nil
}

// SetMarker implements dedup.Store.
func (s *Store) SetMarker(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[key] = time.Now().Add(ttl)
	return nil
}

// ──────────────────────────────────────────────────
// Queue jobs
// ──────────────────────────────────────────────────

// Enqueue implements queue.Store. Known job IDs are a no-op.
func (s *Store) Enqueue(_ context.Context, j *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; exists {
		return nil
	}
	clone := *j
	s.jobs[j.ID] = &clone
	return nil
}

// Dequeue implements queue.Store: eligible pending jobs, highest priority
// first, then earliest eligibility, claimed into the active state.
func (s *Store) Dequeue(_ context.Context, now time.Time, limit int) ([]*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*queue.Job
	for _, j := range s.jobs {
		if j.State == queue.StatePending && !j.NextAttemptAt.After(now) {
			eligible = append(eligible, j)
		}
	}

	sort.Slice(eligible, func(i, k int) bool {
		if eligible[i].Priority != eligible[k].Priority {
			return eligible[i].Priority > eligible[k].Priority
		}
		return eligible[i].NextAttemptAt.Before(eligible[k].NextAttemptAt)
	})

	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]*queue.Job, 0, len(eligible))
	for _, j := range eligible {
		j.State = queue.StateActive
		j.Touch()
		clone := *j
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

// UpdateJob implements queue.Store.
func (s *Store) UpdateJob(_ context.Context, j *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; !ok {
		return queue.ErrJobNotFound
	}
	clone := *j
	clone.Touch()
	s.jobs[j.ID] = &clone
	return nil
}

// CompleteJob implements queue.Store.
func (s *Store) CompleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return queue.ErrJobNotFound
	}
	delete(s.jobs, jobID)
	s.completed++
	return nil
}

// MarkDead implements queue.Store.
func (s *Store) MarkDead(_ context.Context, j *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; !ok {
		return queue.ErrJobNotFound
	}
	delete(s.jobs, j.ID)
	s.failed++
	return nil
}

// QueueStats implements queue.Store.
func (s *Store) QueueStats(_ context.Context) (queue.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := queue.Stats{Completed: s.completed, Failed: s.failed}
	for _, j := range s.jobs {
		switch j.State {
		case queue.StateActive:
			stats.Active++
		default:
			stats.Waiting++
		}
	}
	return stats, nil
}

// ──────────────────────────────────────────────────
// Dead letters
// ──────────────────────────────────────────────────

// PushDeadEntry implements deadletter.Store.
func (s *Store) PushDeadEntry(_ context.Context, e *deadletter.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := e.ID.String()
	clone := *e
	s.dead[key] = &clone
	s.deadSeq = append(s.deadSeq, key)
	return nil
}

// GetDeadEntry implements deadletter.Store.
func (s *Store) GetDeadEntry(_ context.Context, entryID id.ID) (*deadletter.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dead[entryID.String()]
	if !ok {
		return nil, deadletter.ErrEntryNotFound
	}
	clone := *e
	return &clone, nil
}

// ListDeadEntries implements deadletter.Store, newest first.
func (s *Store) ListDeadEntries(_ context.Context, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*deadletter.Entry
	for i := len(s.deadSeq) - 1; i >= 0; i-- {
		e, ok := s.dead[s.deadSeq[i]]
		if !ok {
			continue
		}
		if opts.From != nil && e.FailedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && e.FailedAt.After(*opts.To) {
			continue
		}
		clone := *e
		out = append(out, &clone)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// MarkReplayed implements deadletter.Store.
func (s *Store) MarkReplayed(_ context.Context, entryID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dead[entryID.String()]
	if !ok {
		return deadletter.ErrEntryNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	e.Touch()
	return nil
}

// PurgeDeadEntries implements deadletter.Store.
func (s *Store) PurgeDeadEntries(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	kept := s.deadSeq[:0]
	for _, key := range s.deadSeq {
		e, ok := s.dead[key]
		if !ok {
			continue
		}
		if e.FailedAt.Before(before) {
			delete(s.dead, key)
			purged++
			continue
		}
		kept = append(kept, key)
	}
	s.deadSeq = kept
	return purged, nil
}

// CountDeadEntries implements deadletter.Store.
func (s *Store) CountDeadEntries(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.dead)), nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Ping implements store.Store.
func (s *Store) Ping(_ context.Context) error {
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
