// Package store defines the composite persistence contract for triage.
//
// Each subsystem owns its own narrow interface; Store is their union plus
// lifecycle. Backends live in the memory and redis subpackages.
package store

import (
	"context"

	"github.com/hookline/triage/deadletter"
	"github.com/hookline/triage/dedup"
	"github.com/hookline/triage/queue"
)

// Store is the full persistence surface a backend must provide.
type Store interface {
	dedup.Store
	queue.Store
	deadletter.Store

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
