package triage

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hookline/triage/api"
	"github.com/hookline/triage/deadletter"
	"github.com/hookline/triage/dedup"
	"github.com/hookline/triage/event"
	"github.com/hookline/triage/gateway"
	"github.com/hookline/triage/observability"
	"github.com/hookline/triage/observe"
	"github.com/hookline/triage/queue"
	"github.com/hookline/triage/rules"
	"github.com/hookline/triage/schedule"
	"github.com/hookline/triage/store"
	"github.com/hookline/triage/upstream"
)

// Triage is the root webhook ingestion and assignment automation engine.
type Triage struct {
	config  Config
	store   store.Store
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	bus       *observe.Bus
	dedup     *dedup.Deduplicator
	engine    *queue.Engine
	deadSvc   *deadletter.Service
	client    *upstream.Client
	registry  *rules.Registry
	rulesEng  *rules.Engine
	scheduler *schedule.Scheduler
	gw        *gateway.Handler
	admin     *api.Handler

	resolver rules.ReviewerResolver
}

// New creates a Triage instance with the given options. A store and a
// signing secret are required.
func New(opts ...Option) (*Triage, error) {
	t := &Triage{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	if t.store == nil {
		return nil, ErrNoStore
	}
	if t.config.SigningSecret == "" {
		return nil, ErrNoSigningSecret
	}
	if err := t.wireServices(); err != nil {
		return nil, err
	}
	return t, nil
}

// wireServices initializes the internal services after options have been
// applied.
func (t *Triage) wireServices() error {
	t.bus = observe.NewBus(t.logger)
	t.dedup = dedup.New(t.store, t.config.DedupTTL)
	t.deadSvc = deadletter.NewService(t.store, t.store, t.logger)
	t.scheduler = schedule.New(t.logger)

	t.engine = queue.NewEngine(t.store, t.deadSvc, t.bus, queue.EngineConfig{
		Concurrency:  t.config.Concurrency,
		PollInterval: t.config.PollInterval,
		BatchSize:    t.config.BatchSize,
		BackoffBase:  t.config.BackoffBase,
		Metrics:      t.metrics,
		Tracer:       t.tracer,
	}, t.logger)

	// The tracker client is optional; without it, rules that need tracker
	// calls fail and surface through rule-failed observations.
	var tracker rules.Tracker
	if t.config.Upstream.BaseURL != "" {
		t.client = upstream.NewClient(t.config.Upstream, t.bus, t.metrics, t.logger)
		tracker = t.client
	}

	t.registry = rules.NewRegistry(t.bus, t.logger)
	if t.config.SeedDefaultRules {
		for _, rule := range rules.DefaultRules() {
			if err := t.registry.Add(rule); err != nil {
				return err
			}
		}
	}

	t.rulesEng = rules.NewEngine(t.registry, tracker, t.scheduler, t.bus, t.logger)
	if t.resolver != nil {
		t.rulesEng.SetResolver(t.resolver)
	}

	t.engine.RegisterHandler(event.TypeIssue, t.handleIssue)
	t.engine.RegisterHandler(event.TypeComment, t.handleComment)
	t.engine.RegisterHandler(event.TypeProject, t.handleProject)

	gwCfg := t.config.Gateway
	if gwCfg.MaxAttempts == 0 {
		gwCfg.MaxAttempts = t.config.MaxAttempts
	}
	verifier := t.newVerifier()
	t.gw = gateway.NewHandler(gwCfg, verifier, t.dedup, t.store, t.engine, t.bus, t.metrics, t.logger)

	t.admin = api.NewHandler(t.registry, t.deadSvc, t.store, t.engine, t.scheduler, t.logger)
	return nil
}

// Start begins the queue engine.
func (t *Triage) Start(ctx context.Context) {
	t.engine.Start(ctx)
	t.logger.InfoContext(ctx, "triage started",
		"concurrency", t.config.Concurrency, "rules", t.registry.Len())
}

// Stop drains in-flight jobs, cancels scheduled actions, and releases the
// tracker client.
func (t *Triage) Stop(ctx context.Context) {
	t.engine.Stop(ctx)
	t.scheduler.Cleanup()
	if t.client != nil {
		t.client.Close()
	}
	t.logger.InfoContext(ctx, "triage stopped")
}

// ──────────────────────────────────────────────────
// Queue handlers
// ──────────────────────────────────────────────────

// handleIssue processes Issue events: derive assignment changes, run the
// rule engine, and keep the scheduler consistent with status transitions.
func (t *Triage) handleIssue(ctx context.Context, evt *event.WebhookEvent) error {
	if evt.Action == event.ActionDelete {
		if n := t.scheduler.CancelAll(evt.EntityID()); n > 0 {
			t.logger.DebugContext(ctx, "cancelled scheduled actions for deleted issue",
				"issue_id", evt.EntityID(), "count", n)
		}
		return nil
	}

	if prev, curr, ok := event.StatusChange(evt); ok {
		t.bus.Emit(observe.KindIssueStatusChanged, map[string]any{
			"issue_id": evt.EntityID(),
			"from":     prev.Type,
			"to":       curr.Type,
		})
		// Scheduled follow-ups are moot once the issue reaches a terminal
		// state.
		if curr.Type == "completed" || curr.Type == "canceled" {
			t.scheduler.CancelAll(evt.EntityID())
		}
	}

	assignment, ok, err := event.DeriveAssignment(evt)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	t.bus.Emit(observe.KindIssueAssigned, map[string]any{
		"issue_id":          assignment.IssueID,
		"issue_identifier":  assignment.IssueIdentifier,
		"previous_assignee": assignment.PreviousAssignee,
		"new_assignee":      assignment.NewAssignee,
	})

	return t.rulesEng.HandleAssignment(ctx, assignment)
}

// handleComment validates and acknowledges Comment events. Comment-driven
// automations subscribe to the bus.
func (t *Triage) handleComment(ctx context.Context, evt *event.WebhookEvent) error {
	payload, err := evt.Decode()
	if err != nil {
		return queue.Permanent(err)
	}
	cp, ok := payload.(event.CommentPayload)
	if !ok {
		return queue.Permanent(event.ErrInvalidPayload)
	}

	t.logger.DebugContext(ctx, "comment event processed",
		"comment_id", cp.Comment.ID, "issue_id", cp.Comment.IssueID)
	return nil
}

// handleProject validates and acknowledges Project events.
func (t *Triage) handleProject(ctx context.Context, evt *event.WebhookEvent) error {
	payload, err := evt.Decode()
	if err != nil {
		return queue.Permanent(err)
	}
	pp, ok := payload.(event.ProjectPayload)
	if !ok {
		return queue.Permanent(event.ErrInvalidPayload)
	}

	t.logger.DebugContext(ctx, "project event processed",
		"project_id", pp.Project.ID, "state", pp.Project.State)
	return nil
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Gateway returns the inbound webhook HTTP handler.
func (t *Triage) Gateway() http.Handler {
	return t.gw.Routes()
}

// Admin returns the admin API HTTP handler.
func (t *Triage) Admin() http.Handler {
	return t.admin
}

// Rules returns the rule registry.
func (t *Triage) Rules() *rules.Registry {
	return t.registry
}

// Upstream returns the tracker API client, or nil when not configured.
func (t *Triage) Upstream() *upstream.Client {
	return t.client
}

// Scheduler returns the delayed-action scheduler.
func (t *Triage) Scheduler() *schedule.Scheduler {
	return t.scheduler
}

// Bus returns the observation bus.
func (t *Triage) Bus() *observe.Bus {
	return t.bus
}

// DeadLetters returns the dead-letter service.
func (t *Triage) DeadLetters() *deadletter.Service {
	return t.deadSvc
}

// Store returns the underlying store.
func (t *Triage) Store() store.Store {
	return t.store
}

// Stats returns processing counters since startup.
func (t *Triage) Stats() queue.EngineStats {
	return t.engine.Stats()
}
