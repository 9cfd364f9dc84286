package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hookline/triage"

// Tracer provides OpenTelemetry tracing for triage.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new triage tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartJobSpan starts a new span for a queue job attempt.
func (t *Tracer) StartJobSpan(ctx context.Context, jobID, entityType string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "triage.job",
		trace.WithAttributes(
			attribute.String("triage.job_id", jobID),
			attribute.String("triage.entity_type", entityType),
			attribute.Int("triage.attempt", attempt),
		),
	)
}

// EndJobSpan ends a job span with result attributes.
func (t *Tracer) EndJobSpan(span trace.Span, latencyMs int, err string) {
	span.SetAttributes(attribute.Int("triage.latency_ms", latencyMs))
	if err != "" {
		span.SetAttributes(attribute.String("triage.error", err))
	}
	span.End()
}
