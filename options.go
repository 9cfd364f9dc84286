package triage

import (
	"log/slog"
	"time"

	"github.com/hookline/triage/gateway"
	"github.com/hookline/triage/observability"
	"github.com/hookline/triage/rules"
	"github.com/hookline/triage/signature"
	"github.com/hookline/triage/store"
	"github.com/hookline/triage/upstream"
)

// Option configures a Triage instance.
type Option func(*Triage) error

// WithStore sets the persistence backend for the Triage instance.
func WithStore(s store.Store) Option {
	return func(t *Triage) error {
		t.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Triage instance.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Triage) error {
		t.logger = logger
		return nil
	}
}

// WithSigningSecret sets the shared secret for inbound webhook signatures.
func WithSigningSecret(secret string) Option {
	return func(t *Triage) error {
		t.config.SigningSecret = secret
		return nil
	}
}

// WithReplayWindow sets the maximum accepted signature timestamp skew.
func WithReplayWindow(d time.Duration) Option {
	return func(t *Triage) error {
		t.config.ReplayWindow = d
		return nil
	}
}

// WithDedupTTL sets how long duplicate-delivery markers persist.
func WithDedupTTL(d time.Duration) Option {
	return func(t *Triage) error {
		t.config.DedupTTL = d
		return nil
	}
}

// WithConcurrency sets the number of queue worker goroutines.
func WithConcurrency(n int) Option {
	return func(t *Triage) error {
		t.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the queue engine checks for eligible jobs.
func WithPollInterval(d time.Duration) Option {
	return func(t *Triage) error {
		t.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of jobs dequeued per poll cycle.
func WithBatchSize(n int) Option {
	return func(t *Triage) error {
		t.config.BatchSize = n
		return nil
	}
}

// WithMaxAttempts sets the per-job retry budget before dead-lettering.
func WithMaxAttempts(n int) Option {
	return func(t *Triage) error {
		t.config.MaxAttempts = n
		return nil
	}
}

// WithBackoffBase sets the base of the exponential retry backoff.
func WithBackoffBase(d time.Duration) Option {
	return func(t *Triage) error {
		t.config.BackoffBase = d
		return nil
	}
}

// WithMetrics sets the metric instruments for the Triage instance.
func WithMetrics(m *observability.Metrics) Option {
	return func(t *Triage) error {
		t.metrics = m
		return nil
	}
}

// WithTracing enables OpenTelemetry spans around job processing.
func WithTracing() Option {
	return func(t *Triage) error {
		t.tracer = observability.NewTracer()
		return nil
	}
}

// WithUpstream configures the tracker API client.
func WithUpstream(cfg upstream.Config) Option {
	return func(t *Triage) error {
		t.config.Upstream = cfg
		return nil
	}
}

// WithGatewayConfig configures the inbound HTTP surface.
func WithGatewayConfig(cfg gateway.Config) Option {
	return func(t *Triage) error {
		t.config.Gateway = cfg
		return nil
	}
}

// WithoutDefaultRules starts with an empty rule registry.
func WithoutDefaultRules() Option {
	return func(t *Triage) error {
		t.config.SeedDefaultRules = false
		return nil
	}
}

// WithReviewerResolver sets the resolver used by assign_reviewer actions.
func WithReviewerResolver(r rules.ReviewerResolver) Option {
	return func(t *Triage) error {
		t.resolver = r
		return nil
	}
}

// newVerifier builds the signature verifier from the active config.
func (t *Triage) newVerifier() *signature.Verifier {
	return signature.NewVerifier(t.config.SigningSecret, t.config.ReplayWindow)
}
