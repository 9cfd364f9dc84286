package deadletter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hookline/triage/id"
	"github.com/hookline/triage/internal/entity"
	"github.com/hookline/triage/queue"
)

// Service manages the dead letter queue.
type Service struct {
	store  Store
	jobs   queue.Store
	logger *slog.Logger
}

// NewService creates a new dead-letter service. jobs is used for replays.
func NewService(store Store, jobs queue.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		jobs:   jobs,
		logger: logger,
	}
}

// PushDead creates a dead-letter entry from a dead job.
// Implements queue.DeadPusher.
func (svc *Service) PushDead(ctx context.Context, j *queue.Job, lastError string) error {
	entry := &Entry{
		Entity:   entity.New(),
		ID:       id.NewDeadID(),
		JobID:    j.ID,
		Event:    j.Event,
		Error:    lastError,
		Attempts: j.Attempts,
		FailedAt: time.Now().UTC(),
	}

	return svc.store.PushDeadEntry(ctx, entry)
}

// List returns dead-letter entries matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDeadEntries(ctx, opts)
}

// Get returns a dead-letter entry by ID.
func (svc *Service) Get(ctx context.Context, entryID id.ID) (*Entry, error) {
	return svc.store.GetDeadEntry(ctx, entryID)
}

// Replay re-enqueues a single entry's job with a fresh attempt budget and
// stamps the entry as replayed. The job keeps its deterministic ID, so a
// replay while the job is somehow still queued is a no-op enqueue.
func (svc *Service) Replay(ctx context.Context, entryID id.ID) error {
	entry, err := svc.store.GetDeadEntry(ctx, entryID)
	if err != nil {
		return err
	}

	j := queue.NewJob(entry.Event, queue.PriorityFor(entry.Event), 0)
	if err := svc.jobs.Enqueue(ctx, j); err != nil {
		return fmt.Errorf("deadletter: replay enqueue: %w", err)
	}

	if err := svc.store.MarkReplayed(ctx, entryID); err != nil {
		return err
	}

	svc.logger.InfoContext(ctx, "dead entry replayed", "entry_id", entryID, "job_id", j.ID)
	return nil
}

// ReplayBulk re-enqueues every unreplayed entry within a time range and
// returns the number replayed.
func (svc *Service) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	entries, err := svc.store.ListDeadEntries(ctx, ListOpts{From: &from, To: &to})
	if err != nil {
		return 0, err
	}

	var replayed int64
	for _, entry := range entries {
		if entry.ReplayedAt != nil {
			continue
		}
		if err := svc.Replay(ctx, entry.ID); err != nil {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

// Purge removes entries that failed before the cutoff.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.PurgeDeadEntries(ctx, before)
}

// Count returns the total number of dead-letter entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountDeadEntries(ctx)
}
