// Package config provides the configuration schema, loader, watcher and
// driver registry for the VoiceFlow transcription client.
package config

import (
	"log/slog"
	"time"

	"github.com/voiceflow-pro/voiceflow/pkg/audio"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the slog level. Unknown and empty values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// TransportName selects the websocket driver.
type TransportName string

const (
	// TransportCoder uses github.com/coder/websocket.
	TransportCoder TransportName = "coder"

	// TransportGorilla uses github.com/gorilla/websocket and honours proxy
	// environment variables.
	TransportGorilla TransportName = "gorilla"
)

// IsValid reports whether t is a recognised transport driver.
func (t TransportName) IsValid() bool {
	return t == TransportCoder || t == TransportGorilla
}

// SourceName selects where audio comes from.
type SourceName string

const (
	// SourcePortAudio captures from a microphone.
	SourcePortAudio SourceName = "portaudio"

	// SourceWAV plays a WAV file.
	SourceWAV SourceName = "wav"
)

// IsValid reports whether s is a recognised audio source.
func (s SourceName) IsValid() bool {
	return s == SourcePortAudio || s == SourceWAV
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Reconnect     ReconnectConfig     `yaml:"reconnect"`
	Keepalive     KeepaliveConfig     `yaml:"keepalive"`
	Audio         AudioConfig         `yaml:"audio"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the HTTP listener for health and metrics, and logging
// settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health and metrics server
	// (e.g., ":9464"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// TranscriptionConfig describes the transcription service and the streaming
// options sent when connecting.
type TranscriptionConfig struct {
	// Endpoint is the ws:// or wss:// URL of the streaming endpoint.
	Endpoint string `yaml:"endpoint"`

	// Token authenticates the client. The VOICEFLOW_TOKEN environment
	// variable is used when empty.
	Token string `yaml:"token"`

	// Transport selects the websocket driver. Default: coder.
	Transport TransportName `yaml:"transport"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	Language       string `yaml:"language"`
	Model          string `yaml:"model"`
	Punctuate      *bool  `yaml:"punctuate"`
	Diarize        bool   `yaml:"diarize"`
	InterimResults *bool  `yaml:"interim_results"`
}

// ReconnectConfig tunes automatic reconnection.
type ReconnectConfig struct {
	// MaxAttempts bounds consecutive reconnects. 0 means the default of 5;
	// a negative value disables reconnection.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the delay before the first reconnect; each further
	// attempt doubles it. Default: 2s.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the delay. Zero means uncapped.
	MaxDelay time.Duration `yaml:"max_delay"`
}

// KeepaliveConfig tunes the ping loop.
type KeepaliveConfig struct {
	// Interval between pings. Default: 30s; negative disables pings.
	Interval time.Duration `yaml:"interval"`
}

// AudioConfig describes the audio source and frame sizing.
type AudioConfig struct {
	// Source selects the audio source. Default: portaudio.
	Source SourceName `yaml:"source"`

	// Device selects a PortAudio input device by name substring. Empty
	// selects the default input device.
	Device string `yaml:"device"`

	// File is the WAV file played when Source is "wav".
	File string `yaml:"file"`

	// SampleRate and Channels describe the capture format. The audio is
	// converted to 16 kHz mono before it is sent.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// FrameSize is the number of samples per frame sent to the service.
	FrameSize int `yaml:"frame_size"`

	// PoolSize is the number of idle frame buffers kept for reuse.
	PoolSize int `yaml:"pool_size"`

	// Realtime paces WAV playback at the file's sample rate.
	Realtime *bool `yaml:"realtime"`
}

// Format returns the configured capture format.
func (a AudioConfig) Format() audio.Format {
	return audio.Format{SampleRate: a.SampleRate, Channels: a.Channels}
}

// ObservabilityConfig names the service in telemetry.
type ObservabilityConfig struct {
	ServiceName string `yaml:"service_name"`
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	t := &c.Transcription
	if t.Transport == "" {
		t.Transport = TransportCoder
	}
	if t.DialTimeout == 0 {
		t.DialTimeout = transcribe.DefaultDialTimeout
	}
	if t.WriteTimeout == 0 {
		t.WriteTimeout = transcribe.DefaultWriteTimeout
	}
	if t.Language == "" {
		t.Language = transcribe.DefaultLanguage
	}
	if t.Model == "" {
		t.Model = transcribe.DefaultModel
	}
	if t.Punctuate == nil {
		t.Punctuate = transcribe.Bool(true)
	}
	if t.InterimResults == nil {
		t.InterimResults = transcribe.Bool(true)
	}
	if c.Keepalive.Interval == 0 {
		c.Keepalive.Interval = transcribe.DefaultKeepalive
	}
	a := &c.Audio
	if a.Source == "" {
		a.Source = SourcePortAudio
	}
	if a.SampleRate == 0 {
		a.SampleRate = transcribe.DefaultTargetFormat.SampleRate
	}
	if a.Channels == 0 {
		a.Channels = transcribe.DefaultTargetFormat.Channels
	}
	if a.FrameSize == 0 {
		a.FrameSize = transcribe.DefaultFrameSize
	}
	if a.PoolSize == 0 {
		a.PoolSize = transcribe.DefaultPoolSize
	}
	if a.Realtime == nil {
		a.Realtime = transcribe.Bool(true)
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "voiceflow"
	}
}

// StreamingOptions returns the options sent when connecting.
func (c *Config) StreamingOptions() transcribe.StreamingOptions {
	t := c.Transcription
	return transcribe.StreamingOptions{
		Language:       t.Language,
		Model:          t.Model,
		Punctuate:      t.Punctuate,
		Diarize:        t.Diarize,
		InterimResults: t.InterimResults,
	}
}

// ReconnectPolicy returns the client's reconnect policy.
func (c *Config) ReconnectPolicy() transcribe.ReconnectPolicy {
	return transcribe.ReconnectPolicy{
		MaxAttempts: c.Reconnect.MaxAttempts,
		BaseDelay:   c.Reconnect.BaseDelay,
		MaxDelay:    c.Reconnect.MaxDelay,
	}
}
