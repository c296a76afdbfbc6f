package audio_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/voiceflow-pro/voiceflow/pkg/audio"
	"github.com/voiceflow-pro/voiceflow/pkg/audio/mock"
)

func TestBufferPool(t *testing.T) {
	t.Parallel()

	t.Run("reuses returned buffers", func(t *testing.T) {
		t.Parallel()
		p := audio.NewBufferPool(4, 2)
		a := p.Get()
		p.Put(a)
		b := p.Get()
		if &a[0] != &b[0] {
			t.Error("expected the returned buffer to be reused")
		}
		if p.Allocated() != 1 {
			t.Errorf("Allocated = %d, want 1", p.Allocated())
		}
	})

	t.Run("caps the free list", func(t *testing.T) {
		t.Parallel()
		p := audio.NewBufferPool(4, 2)
		bufs := [][]float32{p.Get(), p.Get(), p.Get()}
		for _, b := range bufs {
			p.Put(b)
		}
		if p.Free() != 2 {
			t.Errorf("Free = %d, want 2", p.Free())
		}
	})

	t.Run("rejects foreign buffers", func(t *testing.T) {
		t.Parallel()
		p := audio.NewBufferPool(4, 2)
		p.Put(make([]float32, 8))
		if p.Free() != 0 {
			t.Errorf("Free = %d, want 0", p.Free())
		}
	})

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		p := audio.NewBufferPool(0, 0)
		if p.Size() != 4096 {
			t.Errorf("Size = %d, want 4096", p.Size())
		}
	})
}

func TestChunker_FixedSizeFrames(t *testing.T) {
	t.Parallel()

	pool := audio.NewBufferPool(4, 4)
	format := audio.Format{SampleRate: 4, Channels: 1}
	c := audio.NewChunker(pool, format)

	var frames []audio.Frame
	deliver := func(f audio.Frame) { frames = append(frames, f) }

	c.Write([]float32{1, 2, 3}, deliver)
	if len(frames) != 0 {
		t.Fatalf("got %d frames before the first one was full", len(frames))
	}
	c.Write([]float32{4, 5, 6, 7, 8, 9}, deliver)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", c.Pending())
	}

	want := [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}}
	for i, f := range frames {
		if len(f.Samples) != 4 {
			t.Fatalf("frame %d has %d samples", i, len(f.Samples))
		}
		for j := range want[i] {
			if f.Samples[j] != want[i][j] {
				t.Errorf("frame %d sample %d = %v, want %v", i, j, f.Samples[j], want[i][j])
			}
		}
		if f.Timestamp != time.Duration(i)*time.Second {
			t.Errorf("frame %d timestamp = %v, want %v", i, f.Timestamp, time.Duration(i)*time.Second)
		}
		f.Release()
	}
	if pool.Free() != 2 {
		t.Errorf("Free after release = %d, want 2", pool.Free())
	}

	c.Reset()
	if c.Pending() != 0 {
		t.Errorf("Pending after reset = %d, want 0", c.Pending())
	}
}

func TestPipeline_StartStop(t *testing.T) {
	t.Parallel()

	src := &mock.Source{SourceFormat: audio.Format{SampleRate: 16000, Channels: 1}}
	pool := audio.NewBufferPool(8, 4)
	p := audio.NewPipeline(src, pool)

	var mu sync.Mutex
	var got []audio.Frame
	err := p.Start(context.Background(), func(f audio.Frame) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, f)
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background(), func(audio.Frame) {}); !errors.Is(err, audio.ErrPipelineRunning) {
		t.Errorf("second Start error = %v, want ErrPipelineRunning", err)
	}

	if err := src.Push(make([]float32, 20)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	mu.Lock()
	n := len(got)
	mu.Unlock()
	if n != 2 {
		t.Errorf("frames = %d, want 2", n)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if src.Running() {
		t.Error("source still running after Stop")
	}
	if err := p.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if src.CallCountStop != 1 {
		t.Errorf("CallCountStop = %d, want 1", src.CallCountStop)
	}
}

func TestPipeline_StartError(t *testing.T) {
	t.Parallel()

	boom := errors.New("no device")
	src := &mock.Source{StartErr: boom}
	p := audio.NewPipeline(src, audio.NewBufferPool(8, 1))
	if err := p.Start(context.Background(), func(audio.Frame) {}); !errors.Is(err, boom) {
		t.Fatalf("Start error = %v, want %v", err, boom)
	}
}

func TestLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      []float32
		rms     float64
		peak    float64
		clipped bool
	}{
		{"empty", nil, 0, 0, false},
		{"silence", []float32{0, 0, 0}, 0, 0, false},
		{"square wave", []float32{0.5, -0.5, 0.5, -0.5}, 0.5, 0.5, false},
		{"clipped", []float32{0, 1}, math.Sqrt(0.5), 1, true},
		{"out of range counts as full scale", []float32{4}, 1, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.Level(tt.in)
			if math.Abs(got.RMS-tt.rms) > 1e-6 {
				t.Errorf("RMS = %v, want %v", got.RMS, tt.rms)
			}
			if math.Abs(got.Peak-tt.peak) > 1e-6 {
				t.Errorf("Peak = %v, want %v", got.Peak, tt.peak)
			}
			if got.Clipped != tt.clipped {
				t.Errorf("Clipped = %v, want %v", got.Clipped, tt.clipped)
			}
		})
	}
}

func TestDBFS(t *testing.T) {
	t.Parallel()

	if got := audio.DBFS(1); got != 0 {
		t.Errorf("DBFS(1) = %v, want 0", got)
	}
	if got := audio.DBFS(0); !math.IsInf(got, -1) {
		t.Errorf("DBFS(0) = %v, want -Inf", got)
	}
}
