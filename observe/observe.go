// Package observe publishes typed observations to registered subscribers.
//
// Observations are the gateway between triage and external logging,
// alerting, and notification collaborators: each significant occurrence is
// published under a fixed Kind and fans out synchronously to every
// subscriber of that kind. Subscribers return nothing; a panicking
// subscriber is isolated and never affects processing or its siblings.
package observe

import (
	"log/slog"
	"sync"
	"time"
)

// Kind names an observation category.
type Kind string

// Observation categories published by triage.
const (
	KindSecurityViolation      Kind = "security-violation"
	KindDuplicateEvent         Kind = "duplicate-event"
	KindEventReceived          Kind = "event-received"
	KindEventProcessed         Kind = "event-processed"
	KindEventFailed            Kind = "event-failed"
	KindRateLimitUpdate        Kind = "rate-limit-update"
	KindIssueAssigned          Kind = "issue-assigned"
	KindIssueStatusChanged     Kind = "issue-status-changed"
	KindNotificationTriggered  Kind = "notification-triggered"
	KindEscalationTriggered    Kind = "escalation-triggered"
	KindBranchCreationRequest  Kind = "branch-creation-requested"
	KindWorkflowTriggered      Kind = "workflow-triggered"
	KindReviewerAssigned       Kind = "reviewer-assigned"
	KindRuleAdded              Kind = "rule-added"
	KindRuleUpdated            Kind = "rule-updated"
	KindRuleRemoved            Kind = "rule-removed"
	KindRuleFailed             Kind = "rule-failed"
	KindActionSkipped          Kind = "action-skipped"
)

// Observation is one published occurrence.
type Observation struct {
	Kind   Kind           `json:"kind"`
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields,omitempty"`
}

// New builds an Observation stamped with the current UTC time.
func New(kind Kind, fields map[string]any) Observation {
	return Observation{Kind: kind, Time: time.Now().UTC(), Fields: fields}
}

// Handler receives published observations. Handlers must not block for long;
// publishing is synchronous.
type Handler func(Observation)

// Bus is the observation fan-out. The zero value is not usable; use NewBus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind][]Handler
	all    []Handler
	logger *slog.Logger
}

// NewBus creates an observation bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[Kind][]Handler),
		logger: logger,
	}
}

// Subscribe registers a handler for one observation kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], h)
}

// SubscribeAll registers a handler for every observation kind.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers an observation to all matching subscribers, in
// registration order. Each subscriber is isolated: a panic is recovered and
// logged without affecting the others.
func (b *Bus) Publish(obs Observation) {
	if obs.Time.IsZero() {
		obs.Time = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[obs.Kind])+len(b.all))
	handlers = append(handlers, b.subs[obs.Kind]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, obs)
	}
}

// Emit is shorthand for Publish(New(kind, fields)).
func (b *Bus) Emit(kind Kind, fields map[string]any) {
	b.Publish(New(kind, fields))
}

func (b *Bus) invoke(h Handler, obs Observation) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("observation subscriber panicked",
				"kind", obs.Kind, "panic", rec)
		}
	}()
	h(obs)
}
