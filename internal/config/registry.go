package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/voiceflow-pro/voiceflow/pkg/audio"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/transport"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: driver not registered")

// Registry maps transport and audio source names to their constructor
// functions. The command registers the concrete drivers; tests register
// mocks. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transports map[TransportName]func(TranscriptionConfig) (transport.Dialer, error)
	sources    map[SourceName]func(AudioConfig) (audio.Source, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transports: make(map[TransportName]func(TranscriptionConfig) (transport.Dialer, error)),
		sources:    make(map[SourceName]func(AudioConfig) (audio.Source, error)),
	}
}

// RegisterTransport registers a websocket driver factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTransport(name TransportName, factory func(TranscriptionConfig) (transport.Dialer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[name] = factory
}

// RegisterSource registers an audio source factory under name.
func (r *Registry) RegisterSource(name SourceName, factory func(AudioConfig) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = factory
}

// CreateTransport instantiates the dialer registered under cfg.Transport.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateTransport(cfg TranscriptionConfig) (transport.Dialer, error) {
	r.mu.RLock()
	factory, ok := r.transports[cfg.Transport]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transport/%q", ErrNotRegistered, cfg.Transport)
	}
	return factory(cfg)
}

// CreateSource instantiates the audio source registered under cfg.Source.
func (r *Registry) CreateSource(cfg AudioConfig) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrNotRegistered, cfg.Source)
	}
	return factory(cfg)
}

// Transports returns the registered transport names in sorted order.
func (r *Registry) Transports() []TransportName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]TransportName, 0, len(r.transports))
	for n := range r.transports {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
