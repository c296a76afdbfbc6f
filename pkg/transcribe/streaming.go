package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/voiceflow-pro/voiceflow/pkg/audio"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/events"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/wire"
)

type streamState struct {
	gen      uint64
	pipeline *audio.Pipeline
	encoder  *audio.Encoder
}

// StartStreaming attaches src and streams its audio while the connection is
// open. It returns an error wrapping [ErrInvalidState] unless the client is
// connected, and is a no-op if already streaming. Capture continues across
// reconnects; frames produced while disconnected are dropped.
func (c *Client) StartStreaming(ctx context.Context, src audio.Source) error {
	if src == nil {
		return errors.New("transcribe: start streaming: nil source")
	}
	return c.do(ctx, func() error { return c.startStreaming(src) })
}

// StopStreaming sends stop_listening and stops the audio source. It is a
// no-op when not streaming.
func (c *Client) StopStreaming(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.stopStreaming()
		return nil
	})
}

func (c *Client) startStreaming(src audio.Source) error {
	if st := c.State(); st != StateOpen {
		return fmt.Errorf("transcribe: start streaming while %s: %w", st, ErrInvalidState)
	}
	if c.loop.stream != nil {
		c.log.Warn("transcribe: start streaming: already streaming")
		return nil
	}

	c.loop.streamGen++
	gen := c.loop.streamGen
	st := &streamState{
		gen:      gen,
		pipeline: audio.NewPipeline(src, c.loop.pool),
		encoder:  &audio.Encoder{Target: c.target},
	}
	c.loop.stream = st
	c.streaming.Store(true)
	c.sendControl(wire.StartListening{Timestamp: wire.Millis(c.clock.Now())})

	err := st.pipeline.Start(c.ctx, func(f audio.Frame) { c.deliverFrame(gen, f) })
	if err != nil {
		c.loop.stream = nil
		c.streaming.Store(false)
		c.sendControl(wire.StopListening{Timestamp: wire.Millis(c.clock.Now())})
		return fmt.Errorf("transcribe: start streaming: %w", err)
	}

	c.metrics.AddActiveStreams(c.ctx, 1)
	c.log.Info("transcribe: streaming started", "format", src.Format().String())
	c.emit(events.Status{Status: events.StatusStreaming, At: c.clock.Now()})
	return nil
}

func (c *Client) stopStreaming() {
	st := c.loop.stream
	if st == nil {
		return
	}
	c.loop.stream = nil
	c.streaming.Store(false)
	if c.State() == StateOpen {
		c.sendControl(wire.StopListening{Timestamp: wire.Millis(c.clock.Now())})
	}
	if err := st.pipeline.Stop(); err != nil {
		c.log.Warn("transcribe: stop audio source", "err", err)
	}
	c.metrics.AddActiveStreams(c.ctx, -1)
	c.log.Info("transcribe: streaming stopped")
	c.emit(events.Status{Status: events.StatusStopped, At: c.clock.Now()})
}

// deliverFrame runs on the capture goroutine. It never blocks: when the loop
// is behind, the frame is dropped.
func (c *Client) deliverFrame(gen uint64, f audio.Frame) {
	select {
	case c.frames <- frameMsg{gen: gen, frame: f}:
	default:
		f.Release()
		c.metrics.RecordAudioDropped(c.ctx, "inbox_full")
	}
}

func (c *Client) handleFrame(fm frameMsg) {
	defer fm.frame.Release()
	st := c.loop.stream
	if st == nil || fm.gen != st.gen || c.State() != StateOpen {
		return
	}
	lv := audio.Level(fm.frame.Samples)
	c.metrics.RecordAudioLevel(c.ctx, lv.RMS, lv.Peak, lv.Clipped)
	c.sendAudio(wire.AudioChunk{
		Data:      st.encoder.Base64(fm.frame),
		Timestamp: wire.Millis(c.clock.Now()),
	})
}
