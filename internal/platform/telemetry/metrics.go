package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the service's instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// AIDuration, AIRequests and AIErrors carry provider and operation
	// attributes; AIRequests adds status.
	AIDuration metric.Float64Histogram
	AIRequests metric.Int64Counter
	AIErrors   metric.Int64Counter

	ActiveSessions   metric.Int64UpDownCounter
	SegmentsIngested metric.Int64Counter
	DraftNoteEvents  metric.Int64Counter
	CodeSuggestions  metric.Int64Counter
	ComplianceIssues metric.Int64Counter
	BillingBlocked   metric.Int64Counter
	PreferenceEvents metric.Int64Counter

	HTTPRequestDuration metric.Float64Histogram
}

var aiBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(instrumentationName)
	var err error
	met := &Metrics{}

	if met.AIDuration, err = m.Float64Histogram("chiro.ai.duration",
		metric.WithDescription("Latency of AI provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(aiBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AIRequests, err = m.Int64Counter("chiro.ai.requests",
		metric.WithDescription("AI provider calls by provider, operation and status."),
	); err != nil {
		return nil, err
	}
	if met.AIErrors, err = m.Int64Counter("chiro.ai.errors",
		metric.WithDescription("Failed AI provider calls."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("chiro.transcription.active_sessions",
		metric.WithDescription("Transcription sessions currently recording or paused."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsIngested, err = m.Int64Counter("chiro.transcription.segments",
		metric.WithDescription("Transcript segments appended, by speaker."),
	); err != nil {
		return nil, err
	}
	if met.DraftNoteEvents, err = m.Int64Counter("chiro.draft_note.events",
		metric.WithDescription("Draft note lifecycle transitions."),
	); err != nil {
		return nil, err
	}
	if met.CodeSuggestions, err = m.Int64Counter("chiro.coding.suggestions",
		metric.WithDescription("Billing code suggestions produced, by code type and audit risk."),
	); err != nil {
		return nil, err
	}
	if met.ComplianceIssues, err = m.Int64Counter("chiro.compliance.issues",
		metric.WithDescription("Compliance issues emitted, by type and severity."),
	); err != nil {
		return nil, err
	}
	if met.BillingBlocked, err = m.Int64Counter("chiro.compliance.billing_blocked",
		metric.WithDescription("Compliance runs whose billing gate blocked the claim."),
	); err != nil {
		return nil, err
	}
	if met.PreferenceEvents, err = m.Int64Counter("chiro.preference.events",
		metric.WithDescription("Preference observations and feedback, by category and event."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("chiro.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Noop returns instruments that discard every measurement.
func Noop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// RecordAICall records latency, outcome and errors for one provider call.
func (m *Metrics) RecordAICall(ctx context.Context, provider, operation string, d time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.AIErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	m.AIDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	m.AIRequests.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("status", status))...))
}

// Count adds one to counter with string attributes given as key/value pairs.
func Count(ctx context.Context, counter metric.Int64Counter, kv ...string) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
