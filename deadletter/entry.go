// Package deadletter stores queue jobs that exhausted their retry budget.
//
// Dead jobs are never retried automatically; they surface through the
// failed queue stats and the admin API, and can be replayed manually.
package deadletter

import (
	"time"

	"github.com/hookline/triage/event"
	"github.com/hookline/triage/id"
	"github.com/hookline/triage/internal/entity"
)

// Entry represents one dead job.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this entry.
	ID id.ID `json:"id"`

	// JobID is the deterministic ID of the job that died.
	JobID string `json:"job_id"`

	// Event is the webhook event the job carried.
	Event *event.WebhookEvent `json:"event"`

	// Error is the message from the final attempt.
	Error string `json:"error"`

	// Attempts is the total number of attempts made.
	Attempts int `json:"attempts"`

	// FailedAt is when the job went dead.
	FailedAt time.Time `json:"failed_at"`

	// ReplayedAt is set when the entry has been replayed.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
}

// ListOpts configures filtering and pagination for dead-letter listing.
type ListOpts struct {
	Offset int
	Limit  int
	From   *time.Time
	To     *time.Time
}
