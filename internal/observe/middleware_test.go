package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

type middlewareFixture struct {
	reader *sdkmetric.ManualReader
	spans  *tracetest.InMemoryExporter
	h      http.Handler
}

// newMiddlewareFixture wraps a handler answering with status in Middleware,
// with in-memory metrics and a recording global tracer. The handler stores
// the correlation ID it observed in *cid when cid is non-nil.
func newMiddlewareFixture(t *testing.T, status int, cid *string) *middlewareFixture {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	tp, exp := newRecorder(t)
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cid != nil {
			*cid = CorrelationID(r.Context())
		}
		w.WriteHeader(status)
	}))
	return &middlewareFixture{reader: reader, spans: exp, h: h}
}

func (f *middlewareFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestMiddleware_CorrelationID(t *testing.T) {
	t.Run("generated", func(t *testing.T) {
		var cid string
		f := newMiddlewareFixture(t, http.StatusOK, &cid)
		rec := f.do(httptest.NewRequest(http.MethodGet, "/status", nil))

		if len(cid) != 32 {
			t.Fatalf("correlation ID = %q, want 32 hex characters", cid)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != cid {
			t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
		}
		if rec.Header().Get("traceparent") == "" {
			t.Error("response has no traceparent header")
		}
	})

	t.Run("from traceparent", func(t *testing.T) {
		const traceID = "0af7651916cd43dd8448eb211c80319c"
		var cid string
		f := newMiddlewareFixture(t, http.StatusOK, &cid)

		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("traceparent", "00-"+traceID+"-b7ad6b7169203331-01")
		rec := f.do(req)

		if cid != traceID {
			t.Errorf("correlation ID = %q, want %q", cid, traceID)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
			t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
		}
	})
}

func TestMiddleware_Span(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantError bool
	}{
		{"ok", http.StatusOK, false},
		{"not found", http.StatusNotFound, false},
		{"unavailable", http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMiddlewareFixture(t, tt.status, nil)
			rec := f.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}

			spans := f.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			s := spans[0]
			if s.Name != "HTTP GET /readyz" {
				t.Errorf("span name = %q, want %q", s.Name, "HTTP GET /readyz")
			}
			var code int64
			for _, a := range s.Attributes {
				if a.Key == "http.response.status_code" {
					code = a.Value.AsInt64()
				}
			}
			if code != int64(tt.status) {
				t.Errorf("http.response.status_code = %d, want %d", code, tt.status)
			}
			if got := s.Status.Code == codes.Error; got != tt.wantError {
				t.Errorf("span error = %v, want %v", got, tt.wantError)
			}
		})
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	f := newMiddlewareFixture(t, http.StatusOK, nil)
	f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voiceflow.http.request.duration")
	if met == nil {
		t.Fatal("voiceflow.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("unexpected histogram data: %#v", met.Data)
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("count = %d, want 2", dp.Count)
	}
	if v, _ := dp.Attributes.Value("path"); v.AsString() != "/metrics" {
		t.Errorf("path attribute = %q, want /metrics", v.AsString())
	}
	if v, _ := dp.Attributes.Value("method"); v.AsString() != http.MethodGet {
		t.Errorf("method attribute = %q, want GET", v.AsString())
	}
}

func TestMiddleware_ScrapedPathsLogAtDebug(t *testing.T) {
	f := newMiddlewareFixture(t, http.StatusOK, nil)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Errorf("health check logged at info level: %s", buf.String())
	}

	f.do(httptest.NewRequest(http.MethodGet, "/status", nil))
	if !bytes.Contains(buf.Bytes(), []byte("path=/status")) {
		t.Errorf("request not logged: %s", buf.String())
	}
}
