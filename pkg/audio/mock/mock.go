// Package mock provides an in-memory implementation of [audio.Source] for use
// in unit tests.
//
// The mock is safe for concurrent use. It records Start and Stop calls and
// lets the test push sample blocks into the registered sink on demand:
//
//	src := &mock.Source{SourceFormat: audio.Format{SampleRate: 16000, Channels: 1}}
//	_ = pipeline.Start(ctx, deliver) // pipeline built around src
//	src.Push(make([]float32, 1024))
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voiceflow-pro/voiceflow/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// ErrNotStarted is returned by [Source.Push] when no sink is registered.
var ErrNotStarted = errors.New("mock source: not started")

// Source is a mock [audio.Source]. Set the exported fields before use;
// inspect the CallCount fields afterwards.
type Source struct {
	mu sync.Mutex

	// SourceFormat is returned by Format. Zero means 16 kHz mono.
	SourceFormat audio.Format

	// StartErr is returned by Start when non-nil.
	StartErr error

	// StopErr is returned by Stop when non-nil.
	StopErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	sink    func([]float32)
	running bool
	done    chan struct{}
	err     error
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SourceFormat == (audio.Format{}) {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return s.SourceFormat
}

// Start implements [audio.Source]. It registers sink for later [Source.Push]
// calls.
func (s *Source) Start(_ context.Context, sink func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartErr != nil {
		return s.StartErr
	}
	if s.running {
		return errors.New("mock source: already running")
	}
	s.sink = sink
	s.running = true
	s.done = make(chan struct{})
	s.err = nil
	return nil
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.endLocked(nil)
	return s.StopErr
}

// Finish ends capture on its own, as a file source does when it runs out of
// data. err is reported by [Source.Err].
func (s *Source) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err)
}

// Done returns a channel closed when the current capture ends, either by
// Stop or Finish. It returns nil before the first Start.
func (s *Source) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the error passed to the Finish call that ended capture.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Source) endLocked(err error) {
	s.sink = nil
	if !s.running {
		return
	}
	s.running = false
	s.err = err
	close(s.done)
}

// Running reports whether Start succeeded and Stop has not been called since.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Push delivers samples to the registered sink on the caller's goroutine.
func (s *Source) Push(samples []float32) error {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return ErrNotStarted
	}
	sink(samples)
	return nil
}
