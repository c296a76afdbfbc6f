package audio

import "time"

// Chunker re-slices arbitrarily sized sample blocks into frames of exactly
// pool.Size() samples. Partial data is held until enough samples arrive.
// A Chunker is not safe for concurrent use; sources call the sink from a
// single goroutine.
type Chunker struct {
	pool   *BufferPool
	format Format

	cur     []float32
	fill    int
	emitted int64 // samples handed out so far, across all channels
}

// NewChunker returns a Chunker producing frames of the given format.
func NewChunker(pool *BufferPool, format Format) *Chunker {
	return &Chunker{pool: pool, format: format}
}

// Write appends samples and calls deliver for every frame that becomes full.
// Ownership of each delivered frame passes to deliver.
func (c *Chunker) Write(samples []float32, deliver func(Frame)) {
	for len(samples) > 0 {
		if c.cur == nil {
			c.cur = c.pool.Get()
			c.fill = 0
		}
		n := copy(c.cur[c.fill:], samples)
		c.fill += n
		samples = samples[n:]

		if c.fill == len(c.cur) {
			f := Frame{
				Samples:   c.cur,
				Format:    c.format,
				Timestamp: c.offset(),
				pool:      c.pool,
			}
			c.emitted += int64(c.fill)
			c.cur = nil
			c.fill = 0
			deliver(f)
		}
	}
}

// Reset discards any partial frame and restarts timestamps at zero.
func (c *Chunker) Reset() {
	if c.cur != nil {
		c.pool.Put(c.cur)
	}
	c.cur = nil
	c.fill = 0
	c.emitted = 0
}

// Pending reports how many samples are buffered in the partial frame.
func (c *Chunker) Pending() int { return c.fill }

func (c *Chunker) offset() time.Duration {
	if c.format.SampleRate <= 0 || c.format.Channels <= 0 {
		return 0
	}
	frames := c.emitted / int64(c.format.Channels)
	return time.Duration(frames) * time.Second / time.Duration(c.format.SampleRate)
}
