package audio

import "sync"

// BufferPool is a bounded free list of fixed-size sample buffers. Buffers are
// borrowed with Get and returned with Put (usually via [Frame.Release]). At
// most maxFree buffers are retained; anything beyond that is dropped so an
// occasional burst does not pin memory forever.
//
// BufferPool is safe for concurrent use: frames are borrowed on the capture
// goroutine and released wherever they are consumed.
type BufferPool struct {
	size    int
	maxFree int

	mu        sync.Mutex
	free      [][]float32
	allocated int
}

// NewBufferPool returns a pool handing out buffers of exactly size samples and
// retaining at most maxFree returned buffers. Non-positive arguments are
// replaced with 4096 samples and 8 buffers respectively.
func NewBufferPool(size, maxFree int) *BufferPool {
	if size <= 0 {
		size = 4096
	}
	if maxFree <= 0 {
		maxFree = 8
	}
	return &BufferPool{
		size:    size,
		maxFree: maxFree,
		free:    make([][]float32, 0, maxFree),
	}
}

// Size returns the length of every buffer handed out by the pool.
func (p *BufferPool) Size() int { return p.size }

// Get borrows a buffer of length Size. Its contents are unspecified.
func (p *BufferPool) Get() []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		buf := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		return buf
	}
	p.allocated++
	return make([]float32, p.size)
}

// Put returns buf to the pool. Buffers of the wrong capacity and buffers
// beyond the free-list cap are discarded.
func (p *BufferPool) Put(buf []float32) {
	if cap(buf) != p.size {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= p.maxFree {
		return
	}
	p.free = append(p.free, buf[:p.size])
}

// Free reports how many buffers are currently idle in the pool.
func (p *BufferPool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Allocated reports how many buffers the pool has allocated in total.
func (p *BufferPool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}
