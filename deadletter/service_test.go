package deadletter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hookline/triage/event"
	"github.com/hookline/triage/id"
	"github.com/hookline/triage/queue"
)

// mapStore is a minimal in-package Store for service tests.
type mapStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
}

func newMapStore() *mapStore {
	return &mapStore{entries: make(map[string]*Entry)}
}

func (s *mapStore) PushDeadEntry(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *e
	s.entries[e.ID.String()] = &clone
	s.order = append(s.order, e.ID.String())
	return nil
}

func (s *mapStore) GetDeadEntry(_ context.Context, entryID id.ID) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID.String()]
	if !ok {
		return nil, ErrEntryNotFound
	}
	clone := *e
	return &clone, nil
}

func (s *mapStore) ListDeadEntries(_ context.Context, opts ListOpts) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Entry
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.entries[s.order[i]]
		if opts.From != nil && e.FailedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && e.FailedAt.After(*opts.To) {
			continue
		}
		clone := *e
		out = append(out, &clone)
	}
	return out, nil
}

func (s *mapStore) MarkReplayed(_ context.Context, entryID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID.String()]
	if !ok {
		return ErrEntryNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

func (s *mapStore) PurgeDeadEntries(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	kept := s.order[:0]
	for _, key := range s.order {
		if s.entries[key].FailedAt.Before(before) {
			delete(s.entries, key)
			purged++
			continue
		}
		kept = append(kept, key)
	}
	s.order = kept
	return purged, nil
}

func (s *mapStore) CountDeadEntries(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

// jobStore records enqueued jobs.
type jobStore struct {
	queue.Store
	mu   sync.Mutex
	jobs []*queue.Job
}

func (s *jobStore) Enqueue(_ context.Context, j *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
	return nil
}

func deadTestEvent(webhookID string) *event.WebhookEvent {
	return &event.WebhookEvent{
		Action:           event.ActionUpdate,
		EntityType:       event.TypeIssue,
		Data:             []byte(`{"id":"i1"}`),
		OrganizationID:   "org1",
		WebhookTimestamp: 1700000000,
		WebhookID:        webhookID,
	}
}

func TestPushDeadBuildsEntry(t *testing.T) {
	store := newMapStore()
	svc := NewService(store, &jobStore{}, nil)
	ctx := context.Background()

	j := queue.NewJob(deadTestEvent("w1"), 8, 3)
	j.Attempts = 3
	if err := svc.PushDead(ctx, j, "handler exploded"); err != nil {
		t.Fatal(err)
	}

	entries, err := svc.List(ctx, ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.JobID != j.ID || e.Error != "handler exploded" || e.Attempts != 3 {
		t.Fatalf("entry = %+v", e)
	}
	if e.ID.Prefix() != id.PrefixDead {
		t.Fatalf("entry ID prefix = %q", e.ID.Prefix())
	}
}

func TestReplayReenqueuesWithFreshBudget(t *testing.T) {
	store := newMapStore()
	jobs := &jobStore{}
	svc := NewService(store, jobs, nil)
	ctx := context.Background()

	j := queue.NewJob(deadTestEvent("w1"), 8, 3)
	j.Attempts = 3
	if err := svc.PushDead(ctx, j, "boom"); err != nil {
		t.Fatal(err)
	}

	entries, _ := svc.List(ctx, ListOpts{})
	if err := svc.Replay(ctx, entries[0].ID); err != nil {
		t.Fatal(err)
	}

	if len(jobs.jobs) != 1 {
		t.Fatalf("enqueued jobs = %d, want 1", len(jobs.jobs))
	}
	replayed := jobs.jobs[0]
	if replayed.Attempts != 0 {
		t.Fatalf("replayed attempts = %d, want 0", replayed.Attempts)
	}
	if replayed.ID != j.ID {
		t.Fatalf("replayed job ID = %s, want %s (deterministic)", replayed.ID, j.ID)
	}

	got, err := svc.Get(ctx, entries[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReplayedAt == nil {
		t.Fatal("entry not stamped as replayed")
	}
}

func TestReplayBulkSkipsReplayed(t *testing.T) {
	store := newMapStore()
	jobs := &jobStore{}
	svc := NewService(store, jobs, nil)
	ctx := context.Background()

	for _, whID := range []string{"w1", "w2"} {
		if err := svc.PushDead(ctx, queue.NewJob(deadTestEvent(whID), 1, 3), "x"); err != nil {
			t.Fatal(err)
		}
	}

	entries, _ := svc.List(ctx, ListOpts{})
	if err := svc.Replay(ctx, entries[0].ID); err != nil {
		t.Fatal(err)
	}

	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)
	count, err := svc.ReplayBulk(ctx, from, to)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("bulk replayed = %d, want 1 (one already replayed)", count)
	}
	if len(jobs.jobs) != 2 {
		t.Fatalf("total enqueued = %d, want 2", len(jobs.jobs))
	}
}
