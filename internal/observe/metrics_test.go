package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the value of the data point of a sum metric whose
// attribute key equals value, or -1.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.Emit() == value {
			return dp.Value
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordConnectAttempt(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordConnectAttempt(ctx, "ok", 120*time.Millisecond)
	m.RecordConnectAttempt(ctx, "error", 2*time.Second)
	m.RecordConnectAttempt(ctx, "ok", 80*time.Millisecond)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "voiceflow.connect.attempts", "result", "ok"); got != 2 {
		t.Errorf("ok attempts = %d, want 2", got)
	}
	if got := sumValue(t, rm, "voiceflow.connect.attempts", "result", "error"); got != 1 {
		t.Errorf("error attempts = %d, want 1", got)
	}

	met := findMetric(rm, "voiceflow.connect.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration metric is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("duration samples = %d, want 3", total)
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordReconnectScheduled(ctx, 1, 2*time.Second)
	m.RecordReconnectScheduled(ctx, 2, 4*time.Second)
	m.RecordDisconnect(ctx, 1006)
	m.RecordDisconnect(ctx, 1006)
	m.RecordDisconnect(ctx, 1000)
	m.RecordMessageSent(ctx, "audio_chunk")
	m.RecordMessageSent(ctx, "audio_chunk")
	m.RecordMessageReceived(ctx, "transcript")
	m.RecordDecodeError(ctx)
	m.RecordAudioDropped(ctx, "queue_full")
	m.RecordHandlerPanic(ctx, "transcript")

	rm := collect(t, reader)

	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"voiceflow.reconnects", "attempt", "2", 1},
		{"voiceflow.disconnects", "code", "1006", 2},
		{"voiceflow.disconnects", "code", "1000", 1},
		{"voiceflow.messages.sent", "type", "audio_chunk", 2},
		{"voiceflow.messages.received", "type", "transcript", 1},
		{"voiceflow.decode.errors", "", "", 1},
		{"voiceflow.audio.dropped", "reason", "queue_full", 1},
		{"voiceflow.handler.panics", "kind", "transcript", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name+"/"+tc.value, func(t *testing.T) {
			if got := sumValue(t, rm, tc.name, tc.key, tc.value); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRecordTranscript(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscript(ctx, false, 0.6)
	m.RecordTranscript(ctx, true, 0.95)
	m.RecordTranscript(ctx, true, 0.9)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "voiceflow.transcripts", "final", "true"); got != 2 {
		t.Errorf("final transcripts = %d, want 2", got)
	}
	if got := sumValue(t, rm, "voiceflow.transcripts", "final", "false"); got != 1 {
		t.Errorf("interim transcripts = %d, want 1", got)
	}
	if findMetric(rm, "voiceflow.transcript.confidence") == nil {
		t.Error("confidence histogram not found")
	}
}

func TestRecordAudioLevel(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAudioLevel(ctx, 0.5, 1, true)
	m.RecordAudioLevel(ctx, 0, 0, false)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "voiceflow.audio.clipped_frames", "", ""); got != 1 {
		t.Errorf("clipped frames = %d, want 1", got)
	}

	met := findMetric(rm, "voiceflow.audio.level")
	if met == nil {
		t.Fatal("level metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	for _, dp := range hist.DataPoints {
		if dp.Count != 2 {
			t.Errorf("samples for %v = %d, want 2", dp.Attributes.ToSlice(), dp.Count)
		}
		if lo, ok := dp.Min.Value(); ok && lo < silenceDBFS {
			t.Errorf("silence recorded below %d dBFS: %v", silenceDBFS, lo)
		}
		if hi, ok := dp.Max.Value(); ok && hi > 0 {
			t.Errorf("level above full scale: %v", hi)
		}
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.AddActiveConnections(ctx, 1)
	m.AddActiveConnections(ctx, 1)
	m.AddActiveConnections(ctx, -1)
	m.AddActiveStreams(ctx, 1)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "voiceflow.active_connections", "", ""); got != 1 {
		t.Errorf("active connections = %d, want 1", got)
	}
	if got := sumValue(t, rm, "voiceflow.active_streams", "", ""); got != 1 {
		t.Errorf("active streams = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "voiceflow.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
