// Package observe provides application-wide observability primitives for
// diarizerd: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all diarizerd metrics.
const meterName = "github.com/huddlesync/diarizerd"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// DiarizeDuration tracks end-to-end diarization request latency, from
	// normalized clip to labeled segments.
	DiarizeDuration metric.Float64Histogram

	// BackboneDuration tracks the diarization backbone inference latency.
	BackboneDuration metric.Float64Histogram

	// EmbedDuration tracks per-span voice-embedding extraction latency.
	EmbedDuration metric.Float64Histogram

	// NormalizeDuration tracks audio decode/resample latency.
	NormalizeDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsLabeled counts processed speaker turns. Use with attribute:
	//   attribute.String("outcome", "matched"|"unknown"|"fallback")
	TurnsLabeled metric.Int64Counter

	// Enrollments counts enrollment operations. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	Enrollments metric.Int64Counter

	// --- Error counters ---

	// ExtractionErrors counts per-turn embedding extraction failures that
	// were downgraded to fallback labels.
	ExtractionErrors metric.Int64Counter

	// --- Gauges ---

	// EnrolledSpeakers tracks the size of the enrolled-speaker registry.
	EnrolledSpeakers metric.Int64UpDownCounter

	// ActiveRequests tracks in-flight diarization and enrollment requests.
	ActiveRequests metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for offline-inference latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DiarizeDuration, err = m.Float64Histogram("diarizerd.diarize.duration",
		metric.WithDescription("End-to-end latency of a diarization request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackboneDuration, err = m.Float64Histogram("diarizerd.backbone.duration",
		metric.WithDescription("Latency of diarization backbone inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbedDuration, err = m.Float64Histogram("diarizerd.embed.duration",
		metric.WithDescription("Latency of per-span voice embedding extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.NormalizeDuration, err = m.Float64Histogram("diarizerd.normalize.duration",
		metric.WithDescription("Latency of audio decode and resampling."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TurnsLabeled, err = m.Int64Counter("diarizerd.turns.labeled",
		metric.WithDescription("Total speaker turns processed, by labeling outcome."),
	); err != nil {
		return nil, err
	}
	if met.Enrollments, err = m.Int64Counter("diarizerd.enrollments",
		metric.WithDescription("Total enrollment operations by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ExtractionErrors, err = m.Int64Counter("diarizerd.extraction.errors",
		metric.WithDescription("Total per-turn embedding extraction failures downgraded to fallback labels."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.EnrolledSpeakers, err = m.Int64UpDownCounter("diarizerd.enrolled_speakers",
		metric.WithDescription("Number of speakers in the enrollment registry."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRequests, err = m.Int64UpDownCounter("diarizerd.active_requests",
		metric.WithDescription("Number of in-flight diarization and enrollment requests."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("diarizerd.http.request.duration",
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

// RecordTurn records a processed speaker turn with its labeling outcome
// ("matched", "unknown", or "fallback").
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.TurnsLabeled.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordEnrollment records an enrollment operation by status ("ok" or
// "error").
func (m *Metrics) RecordEnrollment(ctx context.Context, status string) {
	m.Enrollments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordExtractionError records a per-turn embedding extraction failure.
func (m *Metrics) RecordExtractionError(ctx context.Context) {
	m.ExtractionErrors.Add(ctx, 1)
}
