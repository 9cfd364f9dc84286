// Package gateway is the inbound HTTP surface: it verifies, parses,
// deduplicates, and enqueues webhook deliveries, and serves the health
// endpoint.
//
// The ingest path never processes an event inline; everything past the
// 200 response happens in the queue engine's workers.
package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hookline/triage/dedup"
	"github.com/hookline/triage/event"
	"github.com/hookline/triage/observability"
	"github.com/hookline/triage/observe"
	"github.com/hookline/triage/queue"
	"github.com/hookline/triage/signature"
)

// Defaults for gateway configuration.
const (
	DefaultWebhookPath     = "/webhook"
	DefaultHealthPath      = "/health"
	DefaultSignatureHeader = "X-Webhook-Signature"
	DefaultTimestampHeader = "X-Webhook-Timestamp"
	DefaultMaxBodyBytes    = 1 << 20 // 1 MiB
)

// Config holds gateway configuration. Zero fields select the defaults.
type Config struct {
	WebhookPath     string
	HealthPath      string
	SignatureHeader string
	TimestampHeader string
	MaxBodyBytes    int64
	MaxAttempts     int

	// IngressRate limits webhook posts per client IP, tokens per second.
	// Zero disables limiting.
	IngressRate  float64
	IngressBurst int
}

func (c Config) withDefaults() Config {
	if c.WebhookPath == "" {
		c.WebhookPath = DefaultWebhookPath
	}
	if c.HealthPath == "" {
		c.HealthPath = DefaultHealthPath
	}
	if c.SignatureHeader == "" {
		c.SignatureHeader = DefaultSignatureHeader
	}
	if c.TimestampHeader == "" {
		c.TimestampHeader = DefaultTimestampHeader
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}

// Handler is the webhook ingestion handler.
type Handler struct {
	config   Config
	verifier *signature.Verifier
	dedup    *dedup.Deduplicator
	jobs     queue.Store
	engine   *queue.Engine
	limiter  *Limiter
	bus      *observe.Bus
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewHandler creates the gateway handler.
func NewHandler(cfg Config, verifier *signature.Verifier, dd *dedup.Deduplicator, jobs queue.Store, engine *queue.Engine, bus *observe.Bus, metrics *observability.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &Handler{
		config:   cfg,
		verifier: verifier,
		dedup:    dd,
		jobs:     jobs,
		engine:   engine,
		limiter:  NewLimiter(cfg.IngressRate, cfg.IngressBurst),
		bus:      bus,
		metrics:  metrics,
		logger:   logger,
	}
}

// Routes returns the gateway's HTTP handler with middleware applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+h.config.WebhookPath, h.handleWebhook)
	mux.HandleFunc("GET "+h.config.HealthPath, h.handleHealth)

	return withRecovery(h.logger, withLogging(h.logger, mux))
}

// handleWebhook is the ingest path: limit, verify, parse, dedup, enqueue.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.limiter.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	sig := r.Header.Get(h.config.SignatureHeader)
	ts := r.Header.Get(h.config.TimestampHeader)
	if !h.verifier.Verify(body, ts, sig) {
		h.emit(observe.KindSecurityViolation, map[string]any{
			"remote": clientIP(r),
			"reason": "signature verification failed",
		})
		h.logger.WarnContext(ctx, "webhook signature rejected", "remote", clientIP(r))
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	evt, err := event.ParseWebhook(body, time.Now().UTC())
	if err != nil {
		h.logger.WarnContext(ctx, "webhook payload rejected", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	// Dedup lookups fail open: a marker-store outage must not drop
	// deliveries, and the queue's deterministic job ID still absorbs
	// duplicates.
	seen, err := h.dedup.Seen(ctx, evt)
	if err != nil {
		h.logger.ErrorContext(ctx, "dedup lookup failed", "error", err)
	}
	if seen {
		h.emit(observe.KindDuplicateEvent, map[string]any{
			"type":       evt.EntityType,
			"webhook_id": evt.WebhookID,
		})
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "duplicate",
			"message": "Event already processed",
		})
		return
	}

	j := queue.NewJob(evt, queue.PriorityFor(evt), h.config.MaxAttempts)
	if err := h.jobs.Enqueue(ctx, j); err != nil {
		h.logger.ErrorContext(ctx, "enqueue failed", "job_id", j.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Marker written only after the enqueue landed.
	if err := h.dedup.Mark(ctx, evt); err != nil {
		h.logger.ErrorContext(ctx, "dedup mark failed", "error", err)
	}

	if h.metrics != nil {
		h.metrics.EventsReceivedTotal.Inc()
		h.metrics.PendingJobs.Inc()
	}
	h.emit(observe.KindEventReceived, map[string]any{
		"type":       evt.EntityType,
		"action":     string(evt.Action),
		"webhook_id": evt.WebhookID,
		"priority":   j.Priority,
	})

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "accepted",
		"eventId": evt.WebhookID,
	})
}

// handleHealth reports processing and queue counters.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.engine != nil {
		resp["stats"] = h.engine.Stats()
	}
	if stats, err := h.jobs.QueueStats(r.Context()); err == nil {
		resp["queueStats"] = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) emit(kind observe.Kind, fields map[string]any) {
	if h.bus != nil {
		h.bus.Emit(kind, fields)
	}
}
