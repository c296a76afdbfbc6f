package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/voiceflow-pro/voiceflow/internal/app"
	"github.com/voiceflow-pro/voiceflow/internal/config"
	"github.com/voiceflow-pro/voiceflow/internal/observe"
	"github.com/voiceflow-pro/voiceflow/pkg/audio"
	"github.com/voiceflow-pro/voiceflow/pkg/audio/portaudio"
	"github.com/voiceflow-pro/voiceflow/pkg/audio/wavfile"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/transport"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/transport/coderws"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/transport/gorillaws"
)

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

// streamFlags are the command-line overrides of the config file.
type streamFlags struct {
	configPath string
	watch      bool
	token      string
	endpoint   string
	language   string
	source     string
	file       string
}

// overrides turns the flags that were set into a config override.
func (f *streamFlags) overrides(cmd *cobra.Command) config.Override {
	changed := cmd.Flags().Changed
	return func(c *config.Config) {
		if changed("token") {
			c.Transcription.Token = f.token
		}
		if changed("endpoint") {
			c.Transcription.Endpoint = f.endpoint
		}
		if changed("language") {
			c.Transcription.Language = f.language
		}
		if changed("source") {
			c.Audio.Source = config.SourceName(f.source)
		}
		if changed("file") {
			c.Audio.File = f.file
			if !changed("source") {
				c.Audio.Source = config.SourceWAV
			}
		}
	}
}

func newStreamCommand(version string) *cobra.Command {
	flags := &streamFlags{}
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream audio and print transcripts",
		Long: `Connect to the transcription service, stream audio from the configured
source and print transcripts until interrupted.

The token is read from transcription.token, the --token flag or the
VOICEFLOW_TOKEN environment variable.`,
		Example: `  voiceflow stream --config config.yaml
  voiceflow stream --file meeting.wav --language de-DE
  VOICEFLOW_TOKEN=... voiceflow stream --endpoint wss://stt.example.com/v1/listen`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStream(cmd, flags, version)
		},
	}

	flags.register(cmd)
	return cmd
}

func (f *streamFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	fs.BoolVar(&f.watch, "watch", false, "reload the configuration file when it changes")
	fs.StringVar(&f.token, "token", "", "transcription service token")
	fs.StringVar(&f.endpoint, "endpoint", "", "transcription service websocket URL")
	fs.StringVarP(&f.language, "language", "l", "", "language tag, e.g. en-US")
	fs.StringVar(&f.source, "source", "", "audio source: portaudio or wav")
	fs.StringVarP(&f.file, "file", "f", "", "WAV file to stream (implies --source wav)")
}

func runStream(cmd *cobra.Command, flags *streamFlags, version string) error {
	override := flags.overrides(cmd)

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(flags.configPath, override)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", flags.configPath)
		}
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voiceflow starting",
		"config", flags.configPath,
		"endpoint", cfg.Transcription.Endpoint,
		"transport", cfg.Transcription.Transport,
		"source", cfg.Audio.Source,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Registerer:     prometheus.DefaultRegisterer,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, app.Deps{
		Registry: newRegistry(),
		Metrics:  observe.DefaultMetrics(),
		Gatherer: prometheus.DefaultGatherer,
		Output:   cmd.OutOrStdout(),
		Level:    level,
	})
	if err != nil {
		return err
	}

	if flags.watch {
		w, err := config.NewWatcher(flags.configPath, application.OnConfigChange, config.WithOverrides(override))
		if err != nil {
			return err
		}
		defer w.Stop()
		slog.Info("watching config file for changes", "path", flags.configPath)
	}

	slog.Info("streaming; press Ctrl+C to stop")
	runErr := application.Run(ctx)
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// newRegistry wires the built-in transports and audio sources.
func newRegistry() *config.Registry {
	reg := config.NewRegistry()

	// ── Transports ────────────────────────────────────────────────────────────
	reg.RegisterTransport(config.TransportCoder, func(config.TranscriptionConfig) (transport.Dialer, error) {
		return coderws.New(), nil
	})
	reg.RegisterTransport(config.TransportGorilla, func(t config.TranscriptionConfig) (transport.Dialer, error) {
		return gorillaws.New(gorillaws.WithWriteWait(t.WriteTimeout)), nil
	})

	// ── Audio sources ─────────────────────────────────────────────────────────
	reg.RegisterSource(config.SourcePortAudio, func(a config.AudioConfig) (audio.Source, error) {
		var opts []portaudio.Option
		if a.Device != "" {
			opts = append(opts, portaudio.WithDevice(a.Device))
		}
		return portaudio.New(a.Format(), opts...), nil
	})
	reg.RegisterSource(config.SourceWAV, func(a config.AudioConfig) (audio.Source, error) {
		realtime := a.Realtime == nil || *a.Realtime
		s, err := wavfile.Open(a.File, wavfile.WithRealtime(realtime))
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	return reg
}
