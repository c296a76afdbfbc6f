// Package app wires the VoiceFlow subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the transcription
// client and the HTTP server, Run connects and streams until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock drivers through the [config.Registry] passed in
// [Deps].
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voiceflow-pro/voiceflow/internal/config"
	"github.com/voiceflow-pro/voiceflow/internal/health"
	"github.com/voiceflow-pro/voiceflow/internal/observe"
	"github.com/voiceflow-pro/voiceflow/pkg/audio"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/events"
)

// ErrServiceUnreachable is returned by [App.Run] when the client gave up
// reconnecting.
var ErrServiceUnreachable = errors.New("app: transcription service unreachable")

// errInputFinished ends the Run group when the audio source ran out.
var errInputFinished = errors.New("app: audio input finished")

// shutdownTimeout bounds how long the HTTP server waits for in-flight
// requests when Run returns.
const shutdownTimeout = 5 * time.Second

// Deps holds the collaborators New does not build itself.
type Deps struct {
	// Registry resolves the configured transport and audio source. Required.
	Registry *config.Registry

	// Metrics records client and HTTP metrics. Nil uses
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Gatherer backs the /metrics endpoint. Nil uses the Prometheus default
	// registry.
	Gatherer prometheus.Gatherer

	// Listener, when set, is served instead of listening on
	// server.listen_addr.
	Listener net.Listener

	// Output receives printed transcripts. Nil means stdout.
	Output io.Writer

	// Level is the level of the default logger; config reloads adjust it.
	Level *slog.LevelVar

	// Clock drives the client's timers. Nil uses the wall clock.
	Clock clock.Clock
}

// App owns all subsystem lifetimes.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	deps     Deps
	shared   *transcribe.Shared
	client   *transcribe.Client
	sessions *SessionManager
	printer  *Printer
	server   *http.Server

	connected chan struct{}
	exhausted chan struct{}

	// reconfigs tracks reconnects started by config changes. closing is
	// guarded by mu.
	reconfigs sync.WaitGroup
	closing   bool

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It does not touch
// the network; [App.Run] connects.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*App, error) {
	if deps.Registry == nil {
		return nil, errors.New("app: registry is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Output == nil {
		deps.Output = os.Stdout
	}

	a := &App{
		cfg:       cfg,
		deps:      deps,
		connected: make(chan struct{}, 1),
		exhausted: make(chan struct{}, 1),
	}

	// ── 1. Transcription client ──────────────────────────────────────────
	if err := a.initClient(ctx); err != nil {
		return nil, err
	}

	// ── 2. Sessions + transcript output ──────────────────────────────────
	a.sessions = NewSessionManager(a.client, a.sourceFactory(cfg.Audio), deps.Clock)
	interims := cfg.Transcription.InterimResults == nil || *cfg.Transcription.InterimResults
	a.printer = NewPrinter(deps.Output, interims)
	a.printer.SetSpeakers(cfg.Transcription.Diarize)
	a.subscribe()

	// ── 3. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initClient resolves the transport and builds the shared client.
func (a *App) initClient(ctx context.Context) error {
	cfg := a.cfg
	dialer, err := a.deps.Registry.CreateTransport(cfg.Transcription)
	if err != nil {
		return fmt.Errorf("app: create transport: %w", err)
	}

	opts := []transcribe.Option{
		transcribe.WithMetrics(a.deps.Metrics),
		transcribe.WithLogger(observe.Logger(ctx)),
		transcribe.WithReconnectPolicy(cfg.ReconnectPolicy()),
		transcribe.WithKeepalive(cfg.Keepalive.Interval),
		transcribe.WithDialTimeout(cfg.Transcription.DialTimeout),
		transcribe.WithWriteTimeout(cfg.Transcription.WriteTimeout),
		transcribe.WithFrameSize(cfg.Audio.FrameSize, cfg.Audio.PoolSize),
	}
	if a.deps.Clock != nil {
		opts = append(opts, transcribe.WithClock(a.deps.Clock))
	}

	endpoint := cfg.Transcription.Endpoint
	a.shared = transcribe.NewShared(func(token string) *transcribe.Client {
		return transcribe.New(endpoint, token, dialer, opts...)
	})
	client, err := a.shared.Get(cfg.Transcription.Token)
	if err != nil {
		if errors.Is(err, transcribe.ErrNotInitialized) {
			return fmt.Errorf("app: no token configured (set transcription.token or %s): %w", config.TokenEnv, err)
		}
		return fmt.Errorf("app: create client: %w", err)
	}
	a.client = client
	a.closers = append(a.closers, a.shared.Close)
	return nil
}

// sourceFactory opens the audio source described by cfg. Audio changes need
// a restart, so the factory keeps the startup settings.
func (a *App) sourceFactory(cfg config.AudioConfig) func() (audio.Source, error) {
	return func() (audio.Source, error) {
		return a.deps.Registry.CreateSource(cfg)
	}
}

// subscribe registers the client event handlers.
func (a *App) subscribe() {
	ev := a.client.Events()
	ev.OnConnected(func(events.Connected) {
		signal(a.connected)
	})
	ev.OnDisconnected(func(d events.Disconnected) {
		slog.Info("transcription disconnected", "code", d.Code, "reason", d.Reason)
	})
	ev.OnTranscript(func(t events.Transcript) {
		a.sessions.CountTranscript(t.IsFinal)
		a.printer.Print(t)
	})
	ev.OnError(func(e events.Error) {
		slog.Warn("transcription error", "err", e.Err)
	})
	ev.OnStatus(func(s events.Status) {
		switch s.Status {
		case events.StatusReconnecting:
			slog.Info("transcription reconnecting", "attempt", s.Attempt, "delay", s.Delay)
		case events.StatusReconnectExhausted:
			signal(a.exhausted)
		}
	})
}

// initServer builds the health and metrics server. It is skipped when there
// is neither a listen address nor an injected listener.
func (a *App) initServer() {
	if a.cfg.Server.ListenAddr == "" && a.deps.Listener == nil {
		return
	}
	mux := http.NewServeMux()
	health.New(
		[]health.Checker{health.ConnectionCheck("transcription", a.client)},
		health.WithConnection(a.client),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.deps.Gatherer, promhttp.HandlerOpts{}))

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.deps.Metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Client returns the transcription client.
func (a *App) Client() *transcribe.Client { return a.client }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

func (a *App) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run connects, starts streaming and serves HTTP until ctx is cancelled.
// When ctx is done, Run returns context.Canceled (or the underlying cause).
// It returns [ErrServiceUnreachable] when the client gives up reconnecting.
// When a source that ends by itself (a WAV file) runs out, the session is
// stopped and Run returns nil, or the source's error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(a.serve)
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	g.Go(func() error { return a.stream(gctx) })

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-a.exhausted:
			return ErrServiceUnreachable
		case err := <-a.sessions.Ended():
			if err != nil {
				return fmt.Errorf("app: audio source: %w", err)
			}
			return errInputFinished
		}
	})

	slog.Info("app running", "endpoint", a.config().Transcription.Endpoint)
	if err := g.Wait(); err != nil {
		if errors.Is(err, errInputFinished) {
			slog.Info("audio input finished")
			return nil
		}
		return err
	}
	return ctx.Err()
}

// serve runs the HTTP server until it is shut down.
func (a *App) serve() error {
	var err error
	if a.deps.Listener != nil {
		slog.Info("http server listening", "addr", a.deps.Listener.Addr().String())
		err = a.server.Serve(a.deps.Listener)
	} else {
		slog.Info("http server listening", "addr", a.server.Addr)
		err = a.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("app: http server: %w", err)
}

// stream connects and starts the streaming session. A failed first connect
// is left to the client's reconnect loop.
func (a *App) stream(ctx context.Context) error {
	for {
		err := a.client.Connect(ctx, a.config().StreamingOptions())
		if err == nil {
			break
		}
		if ctx.Err() != nil || errors.Is(err, transcribe.ErrClosed) {
			return nil
		}
		slog.Warn("initial connect failed, waiting for reconnect", "err", err)
		select {
		case <-ctx.Done():
			return nil
		case <-a.connected:
		}
	}

	if err := a.sessions.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// ─── Config reload ───────────────────────────────────────────────────────────

// OnConfigChange applies a reloaded configuration. Log level changes take
// effect immediately; changed streaming options reconnect the client in the
// background. Everything else needs a restart and is only logged.
func (a *App) OnConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	a.mu.Lock()
	a.cfg = new
	restream := d.StreamingChanged && !a.closing
	if restream {
		a.reconfigs.Add(1)
	}
	a.mu.Unlock()

	if d.LogLevelChanged && a.deps.Level != nil {
		a.deps.Level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.StreamingChanged {
		a.printer.SetSpeakers(new.Transcription.Diarize)
	}
	if d.ReconnectChanged {
		slog.Warn("reconnect settings change on restart")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "fields", d.RestartRequired)
	}

	if restream {
		go func() {
			defer a.reconfigs.Done()
			ctx, cancel := context.WithTimeout(context.Background(), new.Transcription.DialTimeout+shutdownTimeout)
			defer cancel()
			if err := a.restream(ctx, new.StreamingOptions()); err != nil {
				slog.Error("reconnect with new options failed", "err", err)
			}
		}()
	}
}

// restream reconnects with opts and resumes the session if one was active.
func (a *App) restream(ctx context.Context, opts transcribe.StreamingOptions) error {
	ctx, span := observe.StartSpan(ctx, "app.restream")
	defer span.End()

	wasActive := a.sessions.IsActive()
	if wasActive {
		if err := a.sessions.Stop(ctx); err != nil {
			return err
		}
	}
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("app: disconnect: %w", err)
	}
	if err := a.client.Connect(ctx, opts); err != nil {
		return fmt.Errorf("app: connect: %w", err)
	}
	observe.Logger(ctx).Info("reconnected with new streaming options", "language", opts.Language, "model", opts.Model)
	if wasActive {
		return a.sessions.Start(ctx)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops streaming, disconnects and runs the closers. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closing = true
		a.mu.Unlock()
		a.reconfigs.Wait()
		slog.Info("shutting down", "closers", len(a.closers))

		if a.sessions.IsActive() {
			if err := a.sessions.Stop(ctx); err != nil {
				slog.Warn("stop session error", "err", err)
			}
		}
		if err := a.client.Disconnect(ctx); err != nil {
			slog.Warn("disconnect error", "err", err)
		}
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// signal does a non-blocking send on a one-slot channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
