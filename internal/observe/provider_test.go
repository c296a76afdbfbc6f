package observe

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

// restoreGlobals puts the global OTel providers back after a test that calls
// InitProvider.
func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp, prop := otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestInitProvider_BridgesMetricsToRegisterer(t *testing.T) {
	restoreGlobals(t)
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	shutdown, err := InitProvider(ctx, ProviderConfig{
		ServiceName:    "voiceflow-test",
		ServiceVersion: "0.0.1",
		Registerer:     reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordConnectAttempt(ctx, "ok", 120*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "voiceflow_connect_attempts") {
			found = true
		}
	}
	if !found {
		names := make([]string, 0, len(families))
		for _, f := range families {
			names = append(names, f.GetName())
		}
		t.Errorf("voiceflow_connect_attempts not gathered; got %v", names)
	}
}

func TestInitProvider_InstallsTracer(t *testing.T) {
	restoreGlobals(t)
	ctx := context.Background()

	shutdown, err := InitProvider(ctx, ProviderConfig{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer shutdown(ctx)

	spanCtx, span := StartSpan(ctx, "client.connect")
	defer span.End()
	if CorrelationID(spanCtx) == "" {
		t.Error("span started after InitProvider has no trace ID")
	}
}
