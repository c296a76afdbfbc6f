package transcribe

import (
	"context"
	"time"
)

// Metrics receives client telemetry. internal/observe provides the
// OpenTelemetry implementation; the zero configuration discards everything.
// Implementations must be safe for concurrent use.
type Metrics interface {
	RecordConnectAttempt(ctx context.Context, result string, d time.Duration)
	RecordReconnectScheduled(ctx context.Context, attempt int, delay time.Duration)
	RecordDisconnect(ctx context.Context, code int)
	AddActiveConnections(ctx context.Context, delta int64)
	AddActiveStreams(ctx context.Context, delta int64)
	RecordMessageSent(ctx context.Context, msgType string)
	RecordMessageReceived(ctx context.Context, msgType string)
	RecordDecodeError(ctx context.Context)
	RecordAudioDropped(ctx context.Context, reason string)
	RecordTranscript(ctx context.Context, final bool, confidence float64)
	RecordAudioLevel(ctx context.Context, rms, peak float64, clipped bool)
	RecordHandlerPanic(ctx context.Context, kind string)
}

type nopMetrics struct{}

func (nopMetrics) RecordConnectAttempt(context.Context, string, time.Duration) {}
func (nopMetrics) RecordReconnectScheduled(context.Context, int, time.Duration) {}
func (nopMetrics) RecordDisconnect(context.Context, int) {}
func (nopMetrics) AddActiveConnections(context.Context, int64) {}
func (nopMetrics) AddActiveStreams(context.Context, int64) {}
func (nopMetrics) RecordMessageSent(context.Context, string) {}
func (nopMetrics) RecordMessageReceived(context.Context, string) {}
func (nopMetrics) RecordDecodeError(context.Context) {}
func (nopMetrics) RecordAudioDropped(context.Context, string) {}
func (nopMetrics) RecordTranscript(context.Context, bool, float64) {}
func (nopMetrics) RecordAudioLevel(context.Context, float64, float64, bool) {}
func (nopMetrics) RecordHandlerPanic(context.Context, string) {}
