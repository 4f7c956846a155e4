// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing helpers, and HTTP middleware tying them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed via
// a Prometheus exporter bridge ([InitProvider]) on the standard /metrics
// endpoint. A package-level default [Metrics] instance ([DefaultMetrics]) is
// provided for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all intake metrics.
const meterName = "github.com/vocaline/intake"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TurnDuration tracks one dialogue turn (prompt spoken to answer heard).
	TurnDuration metric.Float64Histogram

	// FieldRetries counts failed field collection rounds. Attributes:
	//   attribute.String("field", ...)
	FieldRetries metric.Int64Counter

	// CandidateMerges counts utterances merged into an existing candidate.
	// Attributes:
	//   attribute.String("field", ...)
	CandidateMerges metric.Int64Counter

	// Escalations counts fields abandoned at the retry ceiling. Attributes:
	//   attribute.String("field", ...)
	Escalations metric.Int64Counter

	// BookingOutcomes counts booking submissions. Attributes:
	//   attribute.String("outcome", ...) — confirmed, conflict, failed
	BookingOutcomes metric.Int64Counter

	// ActiveSessions tracks the number of live calls.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// conversational turn latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("intake.turn.duration",
		metric.WithDescription("Latency of one dialogue turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FieldRetries, err = m.Int64Counter("intake.field.retries",
		metric.WithDescription("Failed field collection rounds by field."),
	); err != nil {
		return nil, err
	}
	if met.CandidateMerges, err = m.Int64Counter("intake.field.merges",
		metric.WithDescription("Utterances merged into an existing name candidate."),
	); err != nil {
		return nil, err
	}
	if met.Escalations, err = m.Int64Counter("intake.field.escalations",
		metric.WithDescription("Fields abandoned at the retry ceiling by field."),
	); err != nil {
		return nil, err
	}
	if met.BookingOutcomes, err = m.Int64Counter("intake.booking.outcomes",
		metric.WithDescription("Booking submissions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("intake.active_sessions",
		metric.WithDescription("Number of live calls."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("intake.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn records one dialogue turn's latency.
func (m *Metrics) RecordTurn(ctx context.Context, seconds float64) {
	m.TurnDuration.Record(ctx, seconds)
}

// RecordFieldRetry counts a failed collection round for a field.
func (m *Metrics) RecordFieldRetry(ctx context.Context, field string) {
	m.FieldRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
}

// RecordCandidateMerge counts an utterance merged into an existing candidate.
func (m *Metrics) RecordCandidateMerge(ctx context.Context, field string) {
	m.CandidateMerges.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
}

// RecordEscalation counts a field abandoned at the retry ceiling.
func (m *Metrics) RecordEscalation(ctx context.Context, field string) {
	m.Escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
}

// RecordBookingOutcome counts one booking submission by outcome.
func (m *Metrics) RecordBookingOutcome(ctx context.Context, outcome string) {
	m.BookingOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
