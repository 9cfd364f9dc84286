package queue

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned by store operations on an unknown job ID.
var ErrJobNotFound = errors.New("queue: job not found")

// Stats is the queue's bookkeeping snapshot, surfaced on the health
// endpoint.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Store is the persistence contract for queue jobs. Implemented by the
// memory and redis backends.
type Store interface {
	// Enqueue persists a pending job. Idempotent by job ID: resubmitting
	// an ID that is already known (in any state) is a no-op.
	Enqueue(ctx context.Context, j *Job) error

	// Dequeue claims up to limit eligible jobs (pending, next attempt due),
	// highest priority first, then earliest eligibility. Claimed jobs move
	// to the active state.
	Dequeue(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// UpdateJob persists job mutations. A job returned to the pending
	// state becomes eligible again at its NextAttemptAt.
	UpdateJob(ctx context.Context, j *Job) error

	// CompleteJob removes a finished job and counts it as completed.
	CompleteJob(ctx context.Context, jobID string) error

	// MarkDead removes the job from rotation and counts it as failed.
	// The dead-letter entry itself is pushed separately.
	MarkDead(ctx context.Context, j *Job) error

	// QueueStats returns the current bookkeeping counters.
	QueueStats(ctx context.Context) (Stats, error)
}
