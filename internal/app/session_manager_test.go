package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/voiceflow-pro/voiceflow/internal/app"
	"github.com/voiceflow-pro/voiceflow/pkg/audio"
	audiomock "github.com/voiceflow-pro/voiceflow/pkg/audio/mock"
)

// fakeStreamer records StartStreaming and StopStreaming calls.
type fakeStreamer struct {
	mu        sync.Mutex
	streaming bool
	startErr  error
	starts    int
	stops     int
	src       audio.Source
}

func (f *fakeStreamer) StartStreaming(ctx context.Context, src audio.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	if err := src.Start(ctx, func([]float32) {}); err != nil {
		return err
	}
	f.src = src
	f.streaming = true
	return nil
}

func (f *fakeStreamer) StopStreaming(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.streaming = false
	if f.src != nil {
		_ = f.src.Stop()
		f.src = nil
	}
	return nil
}

func (f *fakeStreamer) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeStreamer) IsStreaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming
}

func newManager(s *fakeStreamer, mc *clock.Mock) *app.SessionManager {
	sm, _ := newManagerWithSource(s, mc)
	return sm
}

func newManagerWithSource(s *fakeStreamer, mc *clock.Mock) (*app.SessionManager, *audiomock.Source) {
	src := &audiomock.Source{SourceFormat: audio.Format{SampleRate: 48000, Channels: 2}}
	return app.NewSessionManager(s, func() (audio.Source, error) { return src, nil }, mc), src
}

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()
	mc := clock.NewMock()
	mc.Set(time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC))
	s := &fakeStreamer{}
	sm := newManager(s, mc)

	if sm.IsActive() {
		t.Fatal("new manager should be inactive")
	}
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sm.IsActive() {
		t.Fatal("session should be active after Start")
	}

	info := sm.Info()
	if !strings.HasPrefix(info.SessionID, "session-20260301T1230Z-") {
		t.Errorf("SessionID = %q", info.SessionID)
	}
	if info.Format != (audio.Format{SampleRate: 48000, Channels: 2}) {
		t.Errorf("Format = %v", info.Format)
	}
	if !info.StartedAt.Equal(mc.Now()) {
		t.Errorf("StartedAt = %v, want %v", info.StartedAt, mc.Now())
	}

	if err := sm.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sm.IsActive() || sm.Info().SessionID != "" {
		t.Error("session should be cleared after Stop")
	}
	if s.starts != 1 || s.stops != 1 {
		t.Errorf("starts=%d stops=%d, want 1/1", s.starts, s.stops)
	}
}

func TestSessionManager_AlreadyActive(t *testing.T) {
	t.Parallel()
	sm := newManager(&fakeStreamer{}, clock.NewMock())
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := sm.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already active") {
		t.Errorf("second Start = %v, want already active error", err)
	}
}

func TestSessionManager_StopWithoutSession(t *testing.T) {
	t.Parallel()
	sm := newManager(&fakeStreamer{}, clock.NewMock())
	if err := sm.Stop(context.Background()); err == nil {
		t.Error("expected error stopping without a session")
	}
}

func TestSessionManager_Errors(t *testing.T) {
	t.Parallel()

	t.Run("source", func(t *testing.T) {
		t.Parallel()
		wantErr := errors.New("no device")
		sm := app.NewSessionManager(&fakeStreamer{}, func() (audio.Source, error) { return nil, wantErr }, nil)
		if err := sm.Start(context.Background()); !errors.Is(err, wantErr) {
			t.Errorf("Start = %v, want %v", err, wantErr)
		}
		if sm.IsActive() {
			t.Error("failed start left the session active")
		}
	})

	t.Run("streamer", func(t *testing.T) {
		t.Parallel()
		wantErr := errors.New("not connected")
		sm := newManager(&fakeStreamer{startErr: wantErr}, clock.NewMock())
		if err := sm.Start(context.Background()); !errors.Is(err, wantErr) {
			t.Errorf("Start = %v, want %v", err, wantErr)
		}
	})
}

func TestSessionManager_EndedByClient(t *testing.T) {
	t.Parallel()
	s := &fakeStreamer{}
	sm := newManager(s, clock.NewMock())
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The client stops streaming on its own, e.g. on Disconnect.
	_ = s.StopStreaming(context.Background())
	if sm.IsActive() {
		t.Fatal("session should be inactive once the client stopped streaming")
	}
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("restart after client stop: %v", err)
	}
}

func TestSessionManager_CountTranscript(t *testing.T) {
	t.Parallel()
	sm := newManager(&fakeStreamer{}, clock.NewMock())

	sm.CountTranscript(true) // ignored without a session
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sm.CountTranscript(true)
	sm.CountTranscript(false)
	sm.CountTranscript(false)

	info := sm.Info()
	if info.Finals != 1 || info.Interims != 2 {
		t.Errorf("finals=%d interims=%d, want 1/2", info.Finals, info.Interims)
	}
}

func TestSessionManager_SourceFinished(t *testing.T) {
	t.Parallel()

	t.Run("end of input", func(t *testing.T) {
		t.Parallel()
		s := &fakeStreamer{}
		sm, src := newManagerWithSource(s, clock.NewMock())
		if err := sm.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}

		src.Finish(nil)
		select {
		case err := <-sm.Ended():
			if err != nil {
				t.Errorf("Ended = %v, want nil", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("finished source did not end the session")
		}
		if sm.IsActive() {
			t.Error("session still active after its source finished")
		}
		if got := s.stopCount(); got != 1 {
			t.Errorf("StopStreaming calls = %d, want 1", got)
		}
	})

	t.Run("source error", func(t *testing.T) {
		t.Parallel()
		sm, src := newManagerWithSource(&fakeStreamer{}, clock.NewMock())
		if err := sm.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}

		wantErr := errors.New("truncated data chunk")
		src.Finish(wantErr)
		select {
		case err := <-sm.Ended():
			if !errors.Is(err, wantErr) {
				t.Errorf("Ended = %v, want %v", err, wantErr)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("finished source did not end the session")
		}
	})

	t.Run("explicit stop is not reported", func(t *testing.T) {
		t.Parallel()
		sm, _ := newManagerWithSource(&fakeStreamer{}, clock.NewMock())
		if err := sm.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := sm.Stop(context.Background()); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		select {
		case err := <-sm.Ended():
			t.Errorf("Ended delivered %v after an explicit Stop", err)
		case <-time.After(50 * time.Millisecond):
		}
	})
}
