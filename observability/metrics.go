// Package observability provides metric and tracing instruments for triage.
package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for triage, backed by any go-utils
// MetricFactory.
type Metrics struct {
	EventsReceivedTotal gu.Counter
	JobsTotal           gu.Counter
	JobLatency          gu.Histogram
	DeadLetterSize      gu.Gauge
	PendingJobs         gu.Gauge
	UpstreamCallsTotal  gu.Counter
	UpstreamRemaining   gu.Gauge
}

// NewMetrics creates triage metric instruments using the supplied factory.
// Pass metrics.NewMetricsCollector() for standalone usage.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsReceivedTotal: factory.Counter("triage_events_received_total"),
		JobsTotal:           factory.Counter("triage_jobs_total"),
		JobLatency:          factory.Histogram("triage_job_latency_seconds"),
		DeadLetterSize:      factory.Gauge("triage_dead_letter_size"),
		PendingJobs:         factory.Gauge("triage_pending_jobs"),
		UpstreamCallsTotal:  factory.Counter("triage_upstream_calls_total"),
		UpstreamRemaining:   factory.Gauge("triage_upstream_quota_remaining"),
	}
}

// RecordJob records a job attempt outcome with the given status and latency.
func (m *Metrics) RecordJob(status string, latencySeconds float64) {
	m.JobsTotal.WithLabels(map[string]string{"status": status}).Inc()
	m.JobLatency.Observe(latencySeconds)
}

// RecordUpstreamCall records an upstream API call outcome.
func (m *Metrics) RecordUpstreamCall(status string) {
	m.UpstreamCallsTotal.WithLabels(map[string]string{"status": status}).Inc()
}
