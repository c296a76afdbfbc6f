// Package transport defines the message-oriented socket abstraction the
// transcription client runs on. Concrete drivers live in sub-packages:
// coderws (github.com/coder/websocket) and gorillaws
// (github.com/gorilla/websocket). The mock sub-package provides a scripted
// in-memory implementation for tests.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Close codes used by the client. Values follow RFC 6455.
const (
	StatusNormalClosure   = 1000
	StatusGoingAway       = 1001
	StatusNoStatus        = 1005
	StatusAbnormalClosure = 1006
	StatusPolicyViolation = 1008
	StatusInternalError   = 1011
)

// Dialer opens connections to the transcription service.
type Dialer interface {
	// Dial connects to url, sending header with the handshake. It returns once
	// the connection is open or ctx is done.
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// DialerFunc adapts a function to the [Dialer] interface.
type DialerFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// Dial implements [Dialer].
func (f DialerFunc) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	return f(ctx, url, header)
}

// Conn is an open text-message connection.
//
// Read is called from a single goroutine, Write from a single (possibly
// different) goroutine; Close may be called concurrently with both and must
// unblock them.
type Conn interface {
	// Read blocks until the next text message arrives. When the peer closes
	// the connection, Read returns a *CloseError carrying the close code.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one text message.
	Write(ctx context.Context, msg []byte) error

	// Close starts the closing handshake with the given code and reason.
	Close(code int, reason string) error
}

// CloseError reports the code and reason with which a connection was closed.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transport: connection closed with status %d", e.Code)
	}
	return fmt.Sprintf("transport: connection closed with status %d: %s", e.Code, e.Reason)
}

// CloseStatus extracts the close code and reason from err. Errors that carry
// no close frame map to [StatusAbnormalClosure].
func CloseStatus(err error) (int, string) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	if err == nil {
		return StatusNormalClosure, ""
	}
	return StatusAbnormalClosure, err.Error()
}
