// Package queue is the durable, retrying, priority-ordered job queue that
// decouples webhook ingestion from processing.
package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hookline/triage/event"
	"github.com/hookline/triage/internal/entity"
)

// State represents the current state of a queue job.
type State string

const (
	// StatePending indicates the job is awaiting a worker.
	StatePending State = "pending"

	// StateActive indicates a worker has claimed the job.
	StateActive State = "active"

	// StateDead indicates the job exhausted its retry budget.
	StateDead State = "dead"
)

// Priority values assigned at enqueue time. Never re-evaluated afterwards.
const (
	PriorityIssueCreate = 10
	PriorityAssignment  = 8
	PriorityComment     = 7
	PriorityProject     = 3
	PriorityDefault     = 1
)

// DefaultMaxAttempts is the retry budget before a job goes dead.
const DefaultMaxAttempts = 3

// Job is one unit of webhook processing work.
type Job struct {
	entity.Entity

	// ID is deterministic from the delivery (see JobID), guaranteeing
	// at-most-once execution even if enqueue is retried.
	ID string `json:"id"`

	// Event is the webhook event payload, owned by the queue until
	// the job completes.
	Event *event.WebhookEvent `json:"event"`

	// Priority orders dequeue among eligible jobs; higher first.
	Priority int `json:"priority"`

	// Attempts is the number of delivery attempts made so far.
	Attempts int `json:"attempts"`

	// MaxAttempts is the retry budget.
	MaxAttempts int `json:"max_attempts"`

	// NextAttemptAt is when the job next becomes eligible.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// State is the current job state.
	State State `json:"state"`

	// LastError is the error message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`
}

// JobID derives the deterministic job identity for a delivery:
// sha256 over "{type}|{webhookId}|{timestamp}", truncated.
func JobID(entityType, webhookID string, timestamp int64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", entityType, webhookID, timestamp))
	return "job_" + hex.EncodeToString(sum[:12])
}

// NewJob builds a pending job for the given event, eligible immediately.
func NewJob(evt *event.WebhookEvent, priority, maxAttempts int) *Job {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Job{
		Entity:        entity.New(),
		ID:            JobID(evt.EntityType, evt.WebhookID, evt.WebhookTimestamp),
		Event:         evt,
		Priority:      priority,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: time.Now().UTC(),
		State:         StatePending,
	}
}

// PriorityFor computes the static enqueue-time priority for an event.
func PriorityFor(evt *event.WebhookEvent) int {
	switch evt.EntityType {
	case event.TypeIssue:
		if evt.Action == event.ActionCreate {
			return PriorityIssueCreate
		}
		if evt.Action == event.ActionUpdate && assigneeChanged(evt) {
			return PriorityAssignment
		}
		return PriorityDefault
	case event.TypeComment:
		return PriorityComment
	case event.TypeProject:
		return PriorityProject
	default:
		return PriorityDefault
	}
}

// assigneeChanged reports whether updatedFrom carries a prior assignee.
func assigneeChanged(evt *event.WebhookEvent) bool {
	if len(evt.UpdatedFrom) == 0 {
		return false
	}
	var delta event.IssueDelta
	if err := json.Unmarshal(evt.UpdatedFrom, &delta); err != nil {
		return false
	}
	return delta.AssigneeID != nil
}
