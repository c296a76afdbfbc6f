// Package wavfile implements [audio.Source] for PCM WAV files. It is used to
// replay recordings through the streaming pipeline, either as fast as the
// consumer accepts them or paced at the file's real-time rate.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/voiceflow-pro/voiceflow/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// ErrInvalidFile is returned by [Open] when the file is not a PCM WAV file.
var ErrInvalidFile = errors.New("wavfile: not a valid PCM wav file")

// Option configures a [Source].
type Option func(*Source)

// WithRealtime paces playback so each block is delivered after the audio it
// contains would have been captured live.
func WithRealtime(on bool) Option {
	return func(s *Source) { s.realtime = on }
}

// WithBlockFrames sets how many sample frames are delivered per sink call.
func WithBlockFrames(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.blockFrames = n
		}
	}
}

// WithClock replaces the clock used for pacing. Intended for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Source) { s.clock = c }
}

// Source replays a WAV file.
type Source struct {
	path        string
	format      audio.Format
	bitDepth    int
	realtime    bool
	blockFrames int
	clock       clock.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Open validates the WAV header at path and returns a source for it. The file
// is re-opened on every Start.
func Open(path string, opts ...Option) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wavfile: %q: %w", path, ErrInvalidFile)
	}

	s := &Source{
		path: path,
		format: audio.Format{
			SampleRate: int(dec.SampleRate),
			Channels:   int(dec.NumChans),
		},
		bitDepth:    int(dec.BitDepth),
		blockFrames: 1024,
		clock:       clock.New(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// BitDepth returns the bit depth stored in the file header.
func (s *Source) BitDepth() int { return s.bitDepth }

// Start implements [audio.Source]. Playback runs on a new goroutine until the
// file is exhausted, ctx is cancelled or Stop is called.
func (s *Source) Start(ctx context.Context, sink func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("wavfile: source already running")
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("wavfile: open %q: %w", s.path, err)
	}
	dec := wav.NewDecoder(f)
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return fmt.Errorf("wavfile: seek to pcm data: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.err = nil

	go s.play(ctx, f, dec, sink, s.done)
	return nil
}

// Stop implements [audio.Source]. It waits for the playback goroutine to exit.
func (s *Source) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Done returns a channel closed when the current playback finishes. It
// returns nil before the first Start.
func (s *Source) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the decode error that ended the last playback, if any.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Source) play(ctx context.Context, f io.Closer, dec *wav.Decoder, sink func([]float32), done chan struct{}) {
	defer close(done)
	defer f.Close()

	channels := max(s.format.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: s.format.SampleRate},
		Data:   make([]int, s.blockFrames*channels),
	}
	out := make([]float32, len(buf.Data))

	var ticker *clock.Ticker
	if s.realtime && s.format.SampleRate > 0 {
		interval := time.Duration(s.blockFrames) * time.Second / time.Duration(s.format.SampleRate)
		ticker = s.clock.Ticker(interval)
		defer ticker.Stop()
	}

	var delivered int
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := dec.PCMBuffer(buf)
		eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !eof {
			s.mu.Lock()
			s.err = fmt.Errorf("wavfile: decode: %w", err)
			s.mu.Unlock()
			slog.Warn("wavfile: decode failed", "path", s.path, "err", err)
			return
		}
		if n == 0 {
			slog.Debug("wavfile: playback finished", "path", s.path, "samples", delivered)
			return
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}

		s.normalize(buf.Data[:n], out[:n])
		sink(out[:n])
		delivered += n
		if eof {
			slog.Debug("wavfile: playback finished", "path", s.path, "samples", delivered)
			return
		}
	}
}

// normalize scales integer PCM to float32 in [-1, 1). 8-bit WAV data is
// unsigned and is re-centred first.
func (s *Source) normalize(in []int, out []float32) {
	depth := s.bitDepth
	if depth <= 0 {
		depth = 16
	}
	scale := float32(int64(1) << (depth - 1))
	for i, v := range in {
		if depth == 8 {
			v -= 128
		}
		out[i] = float32(v) / scale
	}
}
