package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPipelineRunning is returned by [Pipeline.Start] when the pipeline is
// already attached to its source.
var ErrPipelineRunning = errors.New("audio: pipeline already running")

// Pipeline attaches a [Chunker] to a [Source] so that consumers receive
// fixed-size pooled frames regardless of the block size the source uses.
type Pipeline struct {
	src  Source
	pool *BufferPool

	mu      sync.Mutex
	chunker *Chunker
	running bool

	sinkMu sync.Mutex // guards chunker writes against Reset in Stop
}

// NewPipeline returns a pipeline reading from src and borrowing frame buffers
// from pool.
func NewPipeline(src Source, pool *BufferPool) *Pipeline {
	return &Pipeline{src: src, pool: pool}
}

// Source returns the source the pipeline reads from.
func (p *Pipeline) Source() Source { return p.src }

// Start attaches to the source. deliver receives every complete frame on the
// source's goroutine and owns it from then on.
func (p *Pipeline) Start(ctx context.Context, deliver func(Frame)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrPipelineRunning
	}

	ch := NewChunker(p.pool, p.src.Format())
	sink := func(samples []float32) {
		p.sinkMu.Lock()
		defer p.sinkMu.Unlock()
		ch.Write(samples, deliver)
	}
	if err := p.src.Start(ctx, sink); err != nil {
		return fmt.Errorf("audio: start source: %w", err)
	}
	p.chunker = ch
	p.running = true
	return nil
}

// Stop detaches from the source and drops any partially filled frame.
// Calling Stop on a stopped pipeline is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	p.running = false
	err := p.src.Stop()
	p.sinkMu.Lock()
	p.chunker.Reset()
	p.sinkMu.Unlock()
	p.chunker = nil
	if err != nil {
		return fmt.Errorf("audio: stop source: %w", err)
	}
	return nil
}
