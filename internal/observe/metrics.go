// Package observe provides application-wide observability primitives for
// voxident: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxident metrics.
const meterName = "github.com/MrWong99/voxident"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscribeDuration tracks diarized transcription latency.
	TranscribeDuration metric.Float64Histogram

	// ConvertDuration tracks audio normalisation latency.
	ConvertDuration metric.Float64Histogram

	// AnalyzeDuration tracks per-speaker stitching + embedding latency.
	AnalyzeDuration metric.Float64Histogram

	// MatchDuration tracks vector query + assignment latency for one meeting.
	MatchDuration metric.Float64Histogram

	// SummaryDuration tracks LLM summary generation latency.
	SummaryDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// MatchOutcomes counts per-speaker match results. Use with attribute:
	//   attribute.String("confidence", "high"|"medium"|"low"|"unknown")
	MatchOutcomes metric.Int64Counter

	// Enrollments counts voiceprint registrations and updates. Use with
	// attributes:
	//   attribute.String("source", "direct"|"meeting"), attribute.String("op", "create"|"update")
	Enrollments metric.Int64Counter

	// IdentifyJobs counts identification runs. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"canceled"|"empty")
	IdentifyJobs metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live meeting sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveJobs tracks the number of identification jobs in flight.
	ActiveJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Wide
// enough for batch transcription, which routinely takes tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscribeDuration, err = m.Float64Histogram("voxident.transcribe.duration",
		metric.WithDescription("Latency of diarized transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConvertDuration, err = m.Float64Histogram("voxident.convert.duration",
		metric.WithDescription("Latency of audio normalisation to 16 kHz mono WAV."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalyzeDuration, err = m.Float64Histogram("voxident.analyze.duration",
		metric.WithDescription("Latency of per-speaker segment stitching and embedding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatchDuration, err = m.Float64Histogram("voxident.match.duration",
		metric.WithDescription("Latency of voiceprint query and competitive assignment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SummaryDuration, err = m.Float64Histogram("voxident.summary.duration",
		metric.WithDescription("Latency of LLM meeting summary generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("voxident.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.MatchOutcomes, err = m.Int64Counter("voxident.match.outcomes",
		metric.WithDescription("Total per-speaker match results by confidence tier."),
	); err != nil {
		return nil, err
	}
	if met.Enrollments, err = m.Int64Counter("voxident.enrollments",
		metric.WithDescription("Total voiceprint registrations and updates by source and op."),
	); err != nil {
		return nil, err
	}
	if met.IdentifyJobs, err = m.Int64Counter("voxident.identify.jobs",
		metric.WithDescription("Total identification runs by final status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voxident.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxident.active_sessions",
		metric.WithDescription("Number of live meeting sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveJobs, err = m.Int64UpDownCounter("voxident.active_jobs",
		metric.WithDescription("Number of identification jobs in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxident.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordMatchOutcome is a convenience method that records one per-speaker
// match result by confidence tier.
func (m *Metrics) RecordMatchOutcome(ctx context.Context, confidence string) {
	m.MatchOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("confidence", confidence)),
	)
}

// RecordEnrollment is a convenience method that records one voiceprint
// registration or update.
func (m *Metrics) RecordEnrollment(ctx context.Context, source, op string) {
	m.Enrollments.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("op", op),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
