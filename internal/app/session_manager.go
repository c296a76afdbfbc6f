package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/voiceflow-pro/voiceflow/pkg/audio"
)

// Streamer is the part of the transcription client a [SessionManager] drives.
// *transcribe.Client satisfies it.
type Streamer interface {
	StartStreaming(ctx context.Context, src audio.Source) error
	StopStreaming(ctx context.Context) error
	IsStreaming() bool
}

// SessionInfo holds metadata about an active streaming session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// Format is the capture format of the audio source.
	Format audio.Format

	// StartedAt is when the session was started.
	StartedAt time.Time

	// Finals and Interims count the transcripts received during the session.
	Finals   int
	Interims int
}

// finisher is implemented by sources that end on their own, such as a WAV
// file reaching its end.
type finisher interface {
	Done() <-chan struct{}
}

// sourceStopTimeout bounds StopStreaming after a source finished by itself.
const sourceStopTimeout = 5 * time.Second

// SessionManager manages the lifecycle of streaming sessions. A session is
// one attached audio source; only one can be active at a time. All exported
// methods are safe for concurrent use.
type SessionManager struct {
	mu      sync.Mutex
	active  bool
	info    SessionInfo
	stopped chan struct{}

	streamer  Streamer
	newSource func() (audio.Source, error)
	clock     clock.Clock
	ended     chan error
}

// NewSessionManager creates a SessionManager that streams through s, opening
// a fresh source with newSource for every session.
func NewSessionManager(s Streamer, newSource func() (audio.Source, error), clk clock.Clock) *SessionManager {
	if clk == nil {
		clk = clock.New()
	}
	return &SessionManager{
		streamer:  s,
		newSource: newSource,
		clock:     clk,
		ended:     make(chan error, 1),
	}
}

// Ended delivers one value each time a session ends because its source
// finished: nil for a clean end of input, otherwise the source's error.
// Sessions ended by [SessionManager.Stop] or by the client are not reported.
func (sm *SessionManager) Ended() <-chan error { return sm.ended }

// Start opens the audio source and starts streaming it.
//
// Returns an error if a session is already active.
func (sm *SessionManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.activeLocked() {
		return fmt.Errorf("session: a session is already active (id=%s)", sm.info.SessionID)
	}

	src, err := sm.newSource()
	if err != nil {
		return fmt.Errorf("session: open audio source: %w", err)
	}
	if err := sm.streamer.StartStreaming(ctx, src); err != nil {
		return fmt.Errorf("session: start streaming: %w", err)
	}

	now := sm.clock.Now().UTC()
	sm.active = true
	sm.info = SessionInfo{
		SessionID: newSessionID(now),
		Format:    src.Format(),
		StartedAt: now,
	}

	if sm.stopped != nil {
		close(sm.stopped)
	}
	sm.stopped = make(chan struct{})
	if f, ok := src.(finisher); ok {
		go sm.watch(sm.info.SessionID, src, f.Done(), sm.stopped)
	}

	slog.Info("session started",
		"session_id", sm.info.SessionID,
		"format", sm.info.Format.String(),
	)
	return nil
}

// watch ends the session once its source finishes by itself.
func (sm *SessionManager) watch(id string, src audio.Source, done <-chan struct{}, stopped <-chan struct{}) {
	select {
	case <-stopped:
		return
	case <-done:
	}

	var srcErr error
	if e, ok := src.(interface{ Err() error }); ok {
		srcErr = e.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), sourceStopTimeout)
	defer cancel()

	sm.mu.Lock()
	if !sm.activeLocked() || sm.info.SessionID != id {
		sm.mu.Unlock()
		return
	}
	slog.Info("audio source finished", "session_id", id, "err", srcErr)
	if err := sm.stopLocked(ctx); err != nil {
		slog.Warn("stop finished session", "session_id", id, "err", err)
	}
	sm.mu.Unlock()

	select {
	case sm.ended <- srcErr:
	default:
	}
}

// Stop ends the active session and stops the audio source.
//
// Returns an error if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.active {
		return fmt.Errorf("session: no active session to stop")
	}
	return sm.stopLocked(ctx)
}

func (sm *SessionManager) stopLocked(ctx context.Context) error {
	info := sm.info
	if sm.stopped != nil {
		close(sm.stopped)
		sm.stopped = nil
	}
	if err := sm.streamer.StopStreaming(ctx); err != nil {
		return fmt.Errorf("session: stop streaming: %w", err)
	}

	sm.active = false
	sm.info = SessionInfo{}

	slog.Info("session stopped",
		"session_id", info.SessionID,
		"duration", sm.clock.Since(info.StartedAt),
		"finals", info.Finals,
		"interims", info.Interims,
	)
	return nil
}

// IsActive reports whether a session is currently streaming. A session ended
// by the client itself, for example on Disconnect, counts as inactive.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.activeLocked()
}

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.activeLocked() {
		return SessionInfo{}
	}
	return sm.info
}

// CountTranscript adds a transcript to the active session's tally.
func (sm *SessionManager) CountTranscript(final bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.active {
		return
	}
	if final {
		sm.info.Finals++
	} else {
		sm.info.Interims++
	}
}

func (sm *SessionManager) activeLocked() bool {
	return sm.active && sm.streamer.IsStreaming()
}

// newSessionID builds an identifier such as
// "session-20260102T1504Z-1b4e28ba".
func newSessionID(now time.Time) string {
	short, _, _ := strings.Cut(uuid.NewString(), "-")
	return fmt.Sprintf("session-%s-%s", now.Format("20060102T1504Z"), short)
}
