// Package audio captures sample blocks from a [Source], re-chunks them into
// fixed-size pooled [Frame] values and encodes them as 16-bit PCM for the
// transcription service.
//
// Concrete sources live in sub-packages: portaudio for microphones and
// wavfile for recorded files.
package audio

import (
	"context"
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Frame is a fixed-size block of interleaved float32 samples produced by a
// [Pipeline]. Samples is borrowed from a [BufferPool]; the consumer must call
// Release exactly once when it no longer needs the data.
type Frame struct {
	// Samples holds interleaved samples in [-1, 1].
	Samples []float32

	// Format of the samples.
	Format Format

	// Timestamp marks the position of the first sample relative to the start
	// of the capture.
	Timestamp time.Duration

	pool *BufferPool
}

// Release hands the sample buffer back to the pool it was borrowed from.
// Frames built without a pool are left to the garbage collector.
func (f Frame) Release() {
	if f.pool != nil {
		f.pool.Put(f.Samples)
	}
}

// Source produces raw float32 sample blocks, for example from a microphone or
// an audio file. Block sizes are arbitrary; a [Pipeline] re-chunks them into
// fixed-size frames.
//
// Implementations must be safe for a Start/Stop call from one goroutine while
// the sink runs on another.
type Source interface {
	// Format reports the format of the blocks passed to the sink.
	Format() Format

	// Start begins capture and returns once the source is running. The sink is
	// invoked on a source-owned goroutine and must not retain samples after it
	// returns. Calling Start on a running source returns an error.
	Start(ctx context.Context, sink func(samples []float32)) error

	// Stop halts capture and releases the underlying device or file. Calling
	// Stop on a stopped source is a no-op.
	Stop() error
}
