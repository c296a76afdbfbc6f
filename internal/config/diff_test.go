package config_test

import (
	"slices"
	"testing"

	"github.com/voiceflow-pro/voiceflow/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(load(t, sampleYAML), load(t, sampleYAML))
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, cur := load(t, minimalYAML), load(t, minimalYAML)
	cur.Server.LogLevel = config.LogWarn

	d := config.Diff(old, cur)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("got %+v, want log level change to warn", d)
	}
	if d.StreamingChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unrelated changes reported: %+v", d)
	}
}

func TestDiff_StreamingChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"language", func(c *config.Config) { c.Transcription.Language = "fr-FR" }},
		{"model", func(c *config.Config) { c.Transcription.Model = "base" }},
		{"punctuate", func(c *config.Config) { f := false; c.Transcription.Punctuate = &f }},
		{"diarize", func(c *config.Config) { c.Transcription.Diarize = true }},
		{"interim", func(c *config.Config) { f := false; c.Transcription.InterimResults = &f }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, cur := load(t, minimalYAML), load(t, minimalYAML)
			tt.mutate(cur)
			if d := config.Diff(old, cur); !d.StreamingChanged {
				t.Errorf("streaming change not detected: %+v", d)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, cur := load(t, minimalYAML), load(t, minimalYAML)
	cur.Transcription.Endpoint = "wss://other.example.com"
	cur.Audio.Device = "USB"
	cur.Reconnect.MaxAttempts = 3

	d := config.Diff(old, cur)
	for _, want := range []string{"transcription.endpoint", "audio"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
	if !d.ReconnectChanged {
		t.Error("reconnect change not detected")
	}
	if d.StreamingChanged || d.LogLevelChanged {
		t.Errorf("unexpected changes: %+v", d)
	}
}

func TestDiff_RealtimePointerCompare(t *testing.T) {
	t.Parallel()
	old, cur := load(t, minimalYAML), load(t, minimalYAML)
	// Equal values behind distinct pointers are not a change.
	v := *old.Audio.Realtime
	cur.Audio.Realtime = &v
	if d := config.Diff(old, cur); !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}
