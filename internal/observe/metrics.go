// Package observe provides application-wide observability primitives for
// Jarvis: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Jarvis metrics.
const meterName = "github.com/MrWong99/jarvis"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per turn stage ---

	// CaptureDuration tracks how long utterance capture took.
	CaptureDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis plus playback time.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end turn latency from activation to reset.
	TurnDuration metric.Float64Histogram

	// ScoreDuration tracks per-frame wake-word scoring latency. It must stay
	// well below the 80ms frame period.
	ScoreDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Turns counts completed turns. Use with attribute:
	//   attribute.String("outcome", ...)
	Turns metric.Int64Counter

	// Detections counts wake-word detections. Use with attributes:
	//   attribute.String("label", ...), attribute.Bool("accepted", ...)
	Detections metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ScoreErrors counts failed wake-word scoring calls.
	ScoreErrors metric.Int64Counter

	// FramesDropped counts audio frames skipped because wake-word scoring
	// fell behind the capture stream.
	FramesDropped metric.Int64Counter

	// StatusDropped counts status events dropped for slow subscribers.
	StatusDropped metric.Int64Counter

	// --- Gauges ---

	// ActiveTurns is 1 while a turn is running, 0 otherwise.
	ActiveTurns metric.Int64UpDownCounter

	// StatusSubscribers tracks connected status observers.
	StatusSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// scoreBuckets covers per-frame scoring, which is bounded by the frame period.
var scoreBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.08, 0.16,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	histograms := []struct {
		dst     *metric.Float64Histogram
		name    string
		desc    string
		buckets []float64
	}{
		{&met.CaptureDuration, "jarvis.capture.duration", "Duration of utterance capture.", latencyBuckets},
		{&met.STTDuration, "jarvis.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets},
		{&met.LLMDuration, "jarvis.llm.duration", "Latency of LLM inference.", latencyBuckets},
		{&met.TTSDuration, "jarvis.tts.duration", "Latency of speech synthesis including playback.", latencyBuckets},
		{&met.TurnDuration, "jarvis.turn.duration", "End-to-end duration of a conversational turn.", latencyBuckets},
		{&met.ScoreDuration, "jarvis.wakeword.score.duration", "Latency of scoring one audio frame.", scoreBuckets},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(h.buckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("jarvis.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("jarvis.turns",
		metric.WithDescription("Total conversational turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("jarvis.wakeword.detections",
		metric.WithDescription("Wake-word detections by label and whether they started a turn."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("jarvis.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ScoreErrors, err = m.Int64Counter("jarvis.wakeword.score.errors",
		metric.WithDescription("Total failed wake-word scoring calls."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("jarvis.wakeword.frames.dropped",
		metric.WithDescription("Audio frames skipped because wake-word scoring fell behind."),
	); err != nil {
		return nil, err
	}
	if met.StatusDropped, err = m.Int64Counter("jarvis.status.dropped",
		metric.WithDescription("Status events dropped because a subscriber was too slow."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTurns, err = m.Int64UpDownCounter("jarvis.active_turns",
		metric.WithDescription("Number of turns currently running (0 or 1)."),
	); err != nil {
		return nil, err
	}
	if met.StatusSubscribers, err = m.Int64UpDownCounter("jarvis.status.subscribers",
		metric.WithDescription("Number of connected status observers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("jarvis.http.request.duration",
		metric.WithDescription("Status server request latency by method and route pattern."),
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

// RecordProviderRequest counts one attempt against a provider. status is
// "ok", "error", "circuit_open" or "cancelled".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn records a finished turn and its duration.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordDetection records a wake-word detection. accepted is false when the
// detection arrived while a turn was already running.
func (m *Metrics) RecordDetection(ctx context.Context, label string, accepted bool) {
	m.Detections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("label", label),
			attribute.Bool("accepted", accepted),
		),
	)
}
