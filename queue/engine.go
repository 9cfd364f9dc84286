package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hookline/triage/event"
	"github.com/hookline/triage/observability"
	"github.com/hookline/triage/observe"
)

// Handler processes one webhook event. A nil return completes the job; a
// Permanent error completes it without retry; any other error triggers the
// retry/backoff cycle.
type Handler func(ctx context.Context, evt *event.WebhookEvent) error

// DeadPusher records a job that exhausted its retry budget.
type DeadPusher interface {
	PushDead(ctx context.Context, j *Job, lastError string) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency  int
	PollInterval time.Duration
	BatchSize    int
	BackoffBase  time.Duration
	Metrics      *observability.Metrics
	Tracer       *observability.Tracer
}

// Engine is the worker pool that dequeues and processes queue jobs.
type Engine struct {
	store    Store
	dead     DeadPusher
	retrier  *Retrier
	bus      *observe.Bus
	config   EngineConfig
	logger   *slog.Logger
	handlers map[string]Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// processing stats for the health endpoint
	total       atomic.Int64
	successful  atomic.Int64
	failed      atomic.Int64
	latencySum  atomic.Int64 // milliseconds
}

// EngineStats summarizes processing since startup.
type EngineStats struct {
	TotalEvents             int64   `json:"totalEvents"`
	SuccessfulEvents        int64   `json:"successfulEvents"`
	FailedEvents            int64   `json:"failedEvents"`
	AverageProcessingTimeMs float64 `json:"averageProcessingTimeMs"`
}

// NewEngine creates a queue engine.
func NewEngine(store Store, dead DeadPusher, bus *observe.Bus, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		dead:     dead,
		retrier:  NewRetrier(cfg.BackoffBase),
		bus:      bus,
		config:   cfg,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler installs the handler for one entity type. Not safe to
// call after Start.
func (e *Engine) RegisterHandler(entityType string, h Handler) {
	e.handlers[entityType] = h
}

// Start begins the poll loop and workers.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight jobs to complete.
func (e *Engine) Stop(_ context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Stats returns processing counters since startup.
func (e *Engine) Stats() EngineStats {
	total := e.total.Load()
	stats := EngineStats{
		TotalEvents:      total,
		SuccessfulEvents: e.successful.Load(),
		FailedEvents:     e.failed.Load(),
	}
	if total > 0 {
		stats.AverageProcessingTimeMs = float64(e.latencySum.Load()) / float64(total)
	}
	return stats
}

// pollLoop periodically dequeues eligible jobs and dispatches them to
// workers through a bounded semaphore.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := e.store.Dequeue(ctx, time.Now().UTC(), e.config.BatchSize)
			if err != nil {
				e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
				continue
			}

			for _, j := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				e.wg.Add(1)
				go func(job *Job) {
					defer e.wg.Done()
					defer func() { <-sem }()
					e.process(ctx, job)
				}(j)
			}
		}
	}
}

// process handles one job attempt: dispatch to the typed handler, decide,
// persist the outcome.
func (e *Engine) process(ctx context.Context, j *Job) {
	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartJobSpan(ctx, j.ID, j.Event.EntityType, j.Attempts+1)
	}

	j.Attempts++

	start := time.Now()
	err := e.dispatch(ctx, j)
	latencyMs := time.Since(start).Milliseconds()
	latencySeconds := float64(latencyMs) / 1000.0

	if err != nil {
		j.LastError = err.Error()
	}

	decision := e.retrier.Decide(err, j)

	switch decision {
	case Complete:
		if completeErr := e.store.CompleteJob(ctx, j.ID); completeErr != nil {
			e.logger.ErrorContext(ctx, "complete job failed", "job_id", j.ID, "error", completeErr)
		}
		e.total.Add(1)
		e.latencySum.Add(latencyMs)
		if err == nil {
			e.successful.Add(1)
			if e.config.Metrics != nil {
				e.config.Metrics.RecordJob("completed", latencySeconds)
				e.config.Metrics.PendingJobs.Dec()
			}
			e.bus.Emit(observe.KindEventProcessed, map[string]any{
				"job_id":     j.ID,
				"type":       j.Event.EntityType,
				"latency_ms": latencyMs,
			})
			e.logger.DebugContext(ctx, "job completed",
				"job_id", j.ID, "type", j.Event.EntityType, "latency_ms", latencyMs)
		} else {
			// Permanent failure: done, but not a success.
			e.failed.Add(1)
			if e.config.Metrics != nil {
				e.config.Metrics.RecordJob("permanent_failure", latencySeconds)
				e.config.Metrics.PendingJobs.Dec()
			}
			e.bus.Emit(observe.KindEventFailed, map[string]any{
				"job_id":    j.ID,
				"type":      j.Event.EntityType,
				"error":     err.Error(),
				"permanent": true,
			})
			e.logger.WarnContext(ctx, "job failed permanently, not retrying",
				"job_id", j.ID, "type", j.Event.EntityType, "error", err)
		}

	case Retry:
		j.State = StatePending
		j.NextAttemptAt = time.Now().UTC().Add(e.retrier.Backoff(j.Attempts))
		if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
			e.logger.ErrorContext(ctx, "reschedule job failed", "job_id", j.ID, "error", updateErr)
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordJob("retried", latencySeconds)
		}
		e.logger.DebugContext(ctx, "retry scheduled",
			"job_id", j.ID, "attempt", j.Attempts, "next_at", j.NextAttemptAt)

	case Dead:
		j.State = StateDead
		if deadErr := e.store.MarkDead(ctx, j); deadErr != nil {
			e.logger.ErrorContext(ctx, "mark job dead failed", "job_id", j.ID, "error", deadErr)
		}
		if e.dead != nil {
			if pushErr := e.dead.PushDead(ctx, j, j.LastError); pushErr != nil {
				e.logger.ErrorContext(ctx, "push to dead letters failed", "job_id", j.ID, "error", pushErr)
			}
		}
		e.total.Add(1)
		e.latencySum.Add(latencyMs)
		e.failed.Add(1)
		if e.config.Metrics != nil {
			e.config.Metrics.RecordJob("dead", latencySeconds)
			e.config.Metrics.PendingJobs.Dec()
			e.config.Metrics.DeadLetterSize.Inc()
		}
		e.bus.Emit(observe.KindEventFailed, map[string]any{
			"job_id":   j.ID,
			"type":     j.Event.EntityType,
			"error":    j.LastError,
			"attempts": j.Attempts,
		})
		e.logger.WarnContext(ctx, "job dead after exhausting retries",
			"job_id", j.ID, "type", j.Event.EntityType, "attempts", j.Attempts, "error", j.LastError)
	}

	if span != nil {
		e.config.Tracer.EndJobSpan(span, int(latencyMs), j.LastError)
	}
}

// dispatch routes the job to its entity-type handler. Unknown types are a
// permanent condition; a panicking handler is captured as a retryable error.
func (e *Engine) dispatch(ctx context.Context, j *Job) (err error) {
	handler, ok := e.handlers[j.Event.EntityType]
	if !ok {
		return Permanent(fmt.Errorf("no handler for entity type %q", j.Event.EntityType))
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	return handler(ctx, j.Event)
}
