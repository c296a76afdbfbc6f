package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without restarting are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// StreamingChanged is true when any option sent on connect changed
	// (language, model, punctuate, diarize, interim_results). Applying it
	// requires a reconnect.
	StreamingChanged bool

	// ReconnectChanged is true when the reconnect policy changed. It takes
	// effect for clients created afterwards.
	ReconnectChanged bool

	// RestartRequired lists changed settings that are only read at startup,
	// by their YAML path.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.StreamingChanged && !d.ReconnectChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !old.StreamingOptions().Equal(new.StreamingOptions()) {
		d.StreamingChanged = true
	}

	if old.Reconnect != new.Reconnect {
		d.ReconnectChanged = true
	}

	restart := []struct {
		path    string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"transcription.endpoint", old.Transcription.Endpoint != new.Transcription.Endpoint},
		{"transcription.token", old.Transcription.Token != new.Transcription.Token},
		{"transcription.transport", old.Transcription.Transport != new.Transcription.Transport},
		{"keepalive.interval", old.Keepalive != new.Keepalive},
		{"audio", !audioEqual(old.Audio, new.Audio)},
		{"observability.service_name", old.Observability != new.Observability},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.path)
		}
	}

	return d
}

func audioEqual(a, b AudioConfig) bool {
	ra, rb := a.Realtime, b.Realtime
	a.Realtime, b.Realtime = nil, nil
	if a != b {
		return false
	}
	if (ra == nil) != (rb == nil) {
		return false
	}
	return ra == nil || *ra == *rb
}
