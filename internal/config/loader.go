package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TokenEnv is the environment variable consulted when no token is configured.
const TokenEnv = "VOICEFLOW_TOKEN"

// Language is a language tag accepted by the transcription service.
type Language struct {
	Code string
	Name string
}

// SupportedLanguages lists the language tags the service is known to accept.
// [Validate] warns about tags that are not listed; the service has the final
// word.
var SupportedLanguages = []Language{
	{"en-US", "English (US)"},
	{"en-GB", "English (UK)"},
	{"es-ES", "Spanish (Spain)"},
	{"es-MX", "Spanish (Mexico)"},
	{"fr-FR", "French"},
	{"de-DE", "German"},
	{"it-IT", "Italian"},
	{"pt-PT", "Portuguese (Portugal)"},
	{"pt-BR", "Portuguese (Brazil)"},
	{"zh-CN", "Chinese (Simplified)"},
	{"zh-TW", "Chinese (Traditional)"},
	{"ja-JP", "Japanese"},
	{"ko-KR", "Korean"},
	{"ar-SA", "Arabic"},
	{"hi-IN", "Hindi"},
	{"ru-RU", "Russian"},
	{"nl-NL", "Dutch"},
	{"sv-SE", "Swedish"},
}

// IsSupportedLanguage reports whether tag is listed in [SupportedLanguages],
// either exactly or as a bare primary subtag such as "en".
func IsSupportedLanguage(tag string) bool {
	for _, l := range SupportedLanguages {
		if strings.EqualFold(l.Code, tag) {
			return true
		}
		primary, _, _ := strings.Cut(l.Code, "-")
		if strings.EqualFold(primary, tag) {
			return true
		}
	}
	return false
}

// Override adjusts a decoded config before it is validated, typically with
// command-line flags.
type Override func(*Config)

// Load reads the YAML configuration file at path and returns a validated [Config].
// The overrides run after defaults and the environment are applied.
func Load(path string, overrides ...Override) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := load(f, overrides)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment, and validates the result. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	return load(r, nil)
}

func load(r io.Reader, overrides []Override) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	cfg.ApplyEnv(os.Getenv)
	for _, o := range overrides {
		o(cfg)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseBytes is [Load] over an in-memory document.
func parseBytes(data []byte, overrides []Override) (*Config, error) {
	return load(bytes.NewReader(data), overrides)
}

// ApplyEnv fills values that may come from the environment. getenv is
// usually [os.Getenv].
func (c *Config) ApplyEnv(getenv func(string) string) {
	if c.Transcription.Token == "" {
		c.Transcription.Token = getenv(TokenEnv)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Transcription
	t := cfg.Transcription
	if t.Endpoint == "" {
		errs = append(errs, errors.New("transcription.endpoint is required"))
	} else if u, err := url.Parse(t.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("transcription.endpoint %q is not a URL: %w", t.Endpoint, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("transcription.endpoint %q must use the ws or wss scheme", t.Endpoint))
	} else if u.Scheme == "ws" {
		slog.Warn("transcription.endpoint is not encrypted; the token is sent in clear text", "endpoint", t.Endpoint)
	}
	if t.Transport != "" && !t.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("transcription.transport %q is invalid; valid values: coder, gorilla", t.Transport))
	}
	if t.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.dial_timeout %s must not be negative", t.DialTimeout))
	}
	if t.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.write_timeout %s must not be negative", t.WriteTimeout))
	}
	if t.Token == "" {
		slog.Warn("no transcription token configured; set transcription.token or " + TokenEnv)
	}
	if t.Language != "" && !IsSupportedLanguage(t.Language) {
		slog.Warn("transcription.language is not in the supported list; it may be a typo or a new language",
			"language", t.Language,
		)
	}

	// Reconnect
	if cfg.Reconnect.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("reconnect.base_delay %s must not be negative", cfg.Reconnect.BaseDelay))
	}
	if cfg.Reconnect.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_delay %s must not be negative", cfg.Reconnect.MaxDelay))
	}

	// Audio
	a := cfg.Audio
	if a.Source != "" && !a.Source.IsValid() {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: portaudio, wav", a.Source))
	}
	if a.Source == SourceWAV && a.File == "" {
		errs = append(errs, errors.New("audio.file is required when source is wav"))
	}
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	}
	if a.Channels < 0 || a.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", a.Channels))
	}
	if a.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", a.FrameSize))
	}
	if a.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("audio.pool_size %d must be positive", a.PoolSize))
	}

	return errors.Join(errs...)
}
