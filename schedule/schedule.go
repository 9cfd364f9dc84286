// Package schedule runs delayed callbacks keyed by issue, rule, and action.
//
// Keys are "{issueID}-{ruleID}-{actionType}". Scheduling on an existing key
// replaces the pending timer, so repeated triggers collapse into the latest
// one, and CancelAll drops everything pending for an issue when its state
// makes the scheduled work moot.
package schedule

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Scheduler holds pending timers. The zero value is not usable; use New.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	logger *slog.Logger
	closed bool
}

// New creates a scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		logger: logger,
	}
}

// Key builds the canonical timer key for an issue, rule, and action type.
func Key(issueID, ruleID, actionType string) string {
	return fmt.Sprintf("%s-%s-%s", issueID, ruleID, actionType)
}

// Schedule runs fn after delay under the given key. A pending timer for the
// same key is replaced. The key is removed before fn is invoked, so a fired
// callback never blocks its own rescheduling.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if old, ok := s.timers[key]; ok {
		old.Stop()
		s.logger.Debug("scheduled action replaced", "key", key)
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		// Only fire if this timer still owns the key; a replacement or
		// cancellation that raced the timer wins.
		current, ok := s.timers[key]
		if !ok || current != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()

		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("scheduled action panicked", "key", key, "panic", rec)
			}
		}()
		fn()
	})
	s.timers[key] = timer
}

// Cancel stops the pending timer for key and reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.timers, key)
	return true
}

// CancelAll stops every pending timer for the given issue and returns the
// number cancelled.
func (s *Scheduler) CancelAll(issueID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := issueID + "-"
	var cancelled int
	for key, timer := range s.timers {
		if strings.HasPrefix(key, prefix) {
			timer.Stop()
			delete(s.timers, key)
			cancelled++
		}
	}

	if cancelled > 0 {
		s.logger.Debug("scheduled actions cancelled", "issue_id", issueID, "count", cancelled)
	}
	return cancelled
}

// ActiveKeys returns the keys with pending timers, in no particular order.
func (s *Scheduler) ActiveKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.timers))
	for key := range s.timers {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Cleanup cancels every pending timer and marks the scheduler closed; later
// Schedule calls are no-ops.
func (s *Scheduler) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
	s.closed = true
}
