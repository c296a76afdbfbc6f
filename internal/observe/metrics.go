// Package observe provides application-wide observability primitives for
// VoiceFlow: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. [Metrics] implements
// [transcribe.Metrics] and is handed to the client with
// [transcribe.WithMetrics]. A package-level default instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voiceflow-pro/voiceflow/pkg/audio"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe"
)

// meterName is the instrumentation scope name used for all VoiceFlow metrics.
const meterName = "github.com/voiceflow-pro/voiceflow"

var _ transcribe.Metrics = (*Metrics)(nil)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Connection lifecycle ---

	// ConnectDuration tracks how long each dial takes. Use with attribute:
	//   attribute.String("result", "ok"|"error")
	ConnectDuration metric.Float64Histogram

	// ConnectAttempts counts dials by result.
	ConnectAttempts metric.Int64Counter

	// ReconnectsScheduled counts scheduled reconnects by attempt number.
	ReconnectsScheduled metric.Int64Counter

	// ReconnectDelay records the backoff delay of each scheduled reconnect.
	ReconnectDelay metric.Float64Histogram

	// Disconnects counts closed connections. Use with attribute:
	//   attribute.Int("code", ...)
	Disconnects metric.Int64Counter

	// --- Protocol ---

	// MessagesSent counts outbound messages by type.
	MessagesSent metric.Int64Counter

	// MessagesReceived counts decoded inbound messages by type.
	MessagesReceived metric.Int64Counter

	// DecodeErrors counts inbound payloads that could not be decoded.
	DecodeErrors metric.Int64Counter

	// Transcripts counts transcript results. Use with attribute:
	//   attribute.Bool("final", ...)
	Transcripts metric.Int64Counter

	// TranscriptConfidence records the confidence of each transcript.
	TranscriptConfidence metric.Float64Histogram

	// --- Audio ---

	// AudioDropped counts audio frames dropped before reaching the socket.
	// Use with attribute:
	//   attribute.String("reason", "inbox_full"|"queue_full")
	AudioDropped metric.Int64Counter

	// AudioLevel records per-frame input levels in dBFS. Use with attribute:
	//   attribute.String("measure", "rms"|"peak")
	AudioLevel metric.Float64Histogram

	// ClippedFrames counts frames containing at least one clipped sample.
	ClippedFrames metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of open service connections.
	ActiveConnections metric.Int64UpDownCounter

	// ActiveStreams tracks the number of audio streams being sent.
	ActiveStreams metric.Int64UpDownCounter

	// --- Errors ---

	// HandlerPanics counts recovered event subscriber panics by event kind.
	HandlerPanics metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for dial
// and request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// delayBuckets covers the exponential reconnect schedule.
var delayBuckets = []float64{1, 2, 4, 8, 16, 32, 64, 128}

// confidenceBuckets splits the [0, 1] confidence range.
var confidenceBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1}

// levelBuckets spans typical speech levels in dBFS.
var levelBuckets = []float64{-90, -60, -50, -40, -30, -20, -12, -6, -3, 0}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("voiceflow.connect.duration",
		metric.WithDescription("Latency of opening the transcription connection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReconnectDelay, err = m.Float64Histogram("voiceflow.reconnect.delay",
		metric.WithDescription("Backoff delay before each reconnect attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(delayBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptConfidence, err = m.Float64Histogram("voiceflow.transcript.confidence",
		metric.WithDescription("Confidence reported for transcript results."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioLevel, err = m.Float64Histogram("voiceflow.audio.level",
		metric.WithDescription("Input audio level per frame by measure."),
		metric.WithUnit("dBFS"),
		metric.WithExplicitBucketBoundaries(levelBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ConnectAttempts, err = m.Int64Counter("voiceflow.connect.attempts",
		metric.WithDescription("Total connection attempts by result."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectsScheduled, err = m.Int64Counter("voiceflow.reconnects",
		metric.WithDescription("Total reconnects scheduled by attempt number."),
	); err != nil {
		return nil, err
	}
	if met.Disconnects, err = m.Int64Counter("voiceflow.disconnects",
		metric.WithDescription("Total closed connections by close code."),
	); err != nil {
		return nil, err
	}
	if met.MessagesSent, err = m.Int64Counter("voiceflow.messages.sent",
		metric.WithDescription("Total outbound protocol messages by type."),
	); err != nil {
		return nil, err
	}
	if met.MessagesReceived, err = m.Int64Counter("voiceflow.messages.received",
		metric.WithDescription("Total inbound protocol messages by type."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("voiceflow.transcripts",
		metric.WithDescription("Total transcript results by finality."),
	); err != nil {
		return nil, err
	}
	if met.ClippedFrames, err = m.Int64Counter("voiceflow.audio.clipped_frames",
		metric.WithDescription("Total audio frames containing clipped samples."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.DecodeErrors, err = m.Int64Counter("voiceflow.decode.errors",
		metric.WithDescription("Total inbound payloads that failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.AudioDropped, err = m.Int64Counter("voiceflow.audio.dropped",
		metric.WithDescription("Total audio frames dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.HandlerPanics, err = m.Int64Counter("voiceflow.handler.panics",
		metric.WithDescription("Total recovered event handler panics by event kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("voiceflow.active_connections",
		metric.WithDescription("Number of open transcription connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("voiceflow.active_streams",
		metric.WithDescription("Number of active audio streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voiceflow.http.request.duration",
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

// RecordConnectAttempt records one dial with its result and duration.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, result string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.ConnectAttempts.Add(ctx, 1, attrs)
	m.ConnectDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordReconnectScheduled records a scheduled reconnect and its delay.
func (m *Metrics) RecordReconnectScheduled(ctx context.Context, attempt int, delay time.Duration) {
	m.ReconnectsScheduled.Add(ctx, 1,
		metric.WithAttributes(attribute.String("attempt", strconv.Itoa(attempt))),
	)
	m.ReconnectDelay.Record(ctx, delay.Seconds())
}

// RecordDisconnect records a closed connection with its close code.
func (m *Metrics) RecordDisconnect(ctx context.Context, code int) {
	m.Disconnects.Add(ctx, 1, metric.WithAttributes(attribute.Int("code", code)))
}

func (m *Metrics) AddActiveConnections(ctx context.Context, delta int64) {
	m.ActiveConnections.Add(ctx, delta)
}

func (m *Metrics) AddActiveStreams(ctx context.Context, delta int64) {
	m.ActiveStreams.Add(ctx, delta)
}

func (m *Metrics) RecordMessageSent(ctx context.Context, msgType string) {
	m.MessagesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}

func (m *Metrics) RecordMessageReceived(ctx context.Context, msgType string) {
	m.MessagesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}

func (m *Metrics) RecordDecodeError(ctx context.Context) {
	m.DecodeErrors.Add(ctx, 1)
}

func (m *Metrics) RecordAudioDropped(ctx context.Context, reason string) {
	m.AudioDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTranscript counts a transcript result and records its confidence.
func (m *Metrics) RecordTranscript(ctx context.Context, final bool, confidence float64) {
	attrs := metric.WithAttributes(attribute.Bool("final", final))
	m.Transcripts.Add(ctx, 1, attrs)
	m.TranscriptConfidence.Record(ctx, confidence, attrs)
}

// RecordAudioLevel records the RMS and peak level of one frame, given as
// linear amplitudes in [0, 1], converted to dBFS. Silence is recorded as
// -120 dBFS.
func (m *Metrics) RecordAudioLevel(ctx context.Context, rms, peak float64, clipped bool) {
	m.AudioLevel.Record(ctx, toDBFS(rms), metric.WithAttributes(attribute.String("measure", "rms")))
	m.AudioLevel.Record(ctx, toDBFS(peak), metric.WithAttributes(attribute.String("measure", "peak")))
	if clipped {
		m.ClippedFrames.Add(ctx, 1)
	}
}

func (m *Metrics) RecordHandlerPanic(ctx context.Context, kind string) {
	m.HandlerPanics.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// silenceDBFS stands in for -inf so histograms stay finite.
const silenceDBFS = -120

func toDBFS(amplitude float64) float64 {
	return math.Max(audio.DBFS(amplitude), silenceDBFS)
}
