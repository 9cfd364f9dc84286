package triage

import (
	"time"

	"github.com/hookline/triage/gateway"
	"github.com/hookline/triage/upstream"
)

// Config holds the configuration for a Triage instance.
type Config struct {
	// SigningSecret is the shared secret for inbound webhook signatures.
	SigningSecret string

	// ReplayWindow is the maximum accepted skew between the signed
	// timestamp and the server clock.
	ReplayWindow time.Duration

	// DedupTTL is how long duplicate-delivery markers persist.
	DedupTTL time.Duration

	// Concurrency is the number of queue worker goroutines.
	Concurrency int

	// PollInterval is how often the queue engine checks for eligible jobs.
	PollInterval time.Duration

	// BatchSize is the maximum number of jobs dequeued per poll cycle.
	BatchSize int

	// MaxAttempts is the per-job retry budget before dead-lettering.
	MaxAttempts int

	// BackoffBase is the base of the exponential retry backoff.
	BackoffBase time.Duration

	// ShutdownTimeout bounds the wait for in-flight jobs on Stop.
	ShutdownTimeout time.Duration

	// SeedDefaultRules controls whether the built-in rule set is loaded
	// into a fresh registry.
	SeedDefaultRules bool

	// Gateway configures the inbound HTTP surface.
	Gateway gateway.Config

	// Upstream configures the tracker API client. An empty BaseURL leaves
	// the client disabled; rules that need tracker calls will fail.
	Upstream upstream.Config
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReplayWindow:     300 * time.Second,
		DedupTTL:         time.Hour,
		Concurrency:      10,
		PollInterval:     1 * time.Second,
		BatchSize:        50,
		MaxAttempts:      3,
		BackoffBase:      2 * time.Second,
		ShutdownTimeout:  30 * time.Second,
		SeedDefaultRules: true,
	}
}
