// Package health provides HTTP health, readiness and status handlers for the
// transcription client.
//
// The package exposes three endpoints:
//
//   - /healthz is the liveness check and always returns 200 OK.
//   - /readyz is the readiness check. It returns 200 only when all registered
//     [Checker] functions pass.
//   - /status reports the connection status and whether audio is streaming.
//
// Responses are JSON objects with a top-level "status" field and, for
// /readyz, a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voiceflow-pro/voiceflow/pkg/transcribe"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g.
	// "transcription"). It appears as a key in the JSON response.
	Name string

	// Check tests the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Connection is the view of a transcription client the handlers need.
// *transcribe.Client satisfies it.
type Connection interface {
	Status() string
	IsStreaming() bool
}

// ConnectedStatus is the public status reported by an open connection.
const ConnectedStatus = transcribe.StatusConnected

// ConnectionCheck returns a [Checker] that passes while conn reports
// [ConnectedStatus].
func ConnectionCheck(name string, conn Connection) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if s := conn.Status(); s != ConnectedStatus {
				return fmt.Errorf("connection is %s", s)
			}
			return nil
		},
	}
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// statusBody is the JSON response body for /status.
type statusBody struct {
	Connection string `json:"connection"`
	Streaming  bool   `json:"streaming"`
}

// Handler serves the health endpoints. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	conn     Connection
}

// Option configures a [Handler].
type Option func(*Handler)

// WithConnection enables the /status endpoint for conn.
func WithConnection(conn Connection) Option {
	return func(h *Handler) { h.conn = conn }
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: append([]Checker(nil), checkers...)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is a liveness check that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness check that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Status reports the connection status. Without a connection it answers 404.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	if h.conn == nil {
		writeJSON(w, http.StatusNotFound, result{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, statusBody{
		Connection: h.conn.Status(),
		Streaming:  h.conn.IsStreaming(),
	})
}

// Register adds the /healthz, /readyz and /status routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /status", h.Status)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
