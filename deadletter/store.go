package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/hookline/triage/id"
)

// ErrEntryNotFound is returned by store operations on an unknown entry ID.
var ErrEntryNotFound = errors.New("deadletter: entry not found")

// Store defines the persistence contract for dead-letter entries.
type Store interface {
	// PushDeadEntry persists a new entry.
	PushDeadEntry(ctx context.Context, e *Entry) error

	// GetDeadEntry returns an entry by ID.
	GetDeadEntry(ctx context.Context, entryID id.ID) (*Entry, error)

	// ListDeadEntries returns entries, newest first.
	ListDeadEntries(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// MarkReplayed stamps an entry's ReplayedAt.
	MarkReplayed(ctx context.Context, entryID id.ID) error

	// PurgeDeadEntries removes entries that failed before the cutoff.
	PurgeDeadEntries(ctx context.Context, before time.Time) (int64, error)

	// CountDeadEntries returns the total number of entries.
	CountDeadEntries(ctx context.Context) (int64, error)
}
