// Package coderws implements [transport.Dialer] with github.com/coder/websocket.
// It is the default driver.
package coderws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/transport"
)

var _ transport.Dialer = (*Dialer)(nil)

// Option configures a [Dialer].
type Option func(*Dialer)

// WithReadLimit sets the maximum size of an inbound message in bytes.
func WithReadLimit(n int64) Option {
	return func(d *Dialer) { d.readLimit = n }
}

// WithHTTPClient sets the HTTP client used for the opening handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.client = c }
}

// Dialer dials websocket connections.
type Dialer struct {
	readLimit int64
	client    *http.Client
}

// New returns a Dialer. The default read limit is 1 MiB.
func New(opts ...Option) *Dialer {
	d := &Dialer{readLimit: 1 << 20}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (transport.Conn, error) {
	c, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: d.client,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("coderws: dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("coderws: dial: %w", err)
	}
	if d.readLimit > 0 {
		c.SetReadLimit(d.readLimit)
	}
	return &conn{c: c}, nil
}

type conn struct {
	c    *websocket.Conn
	sent atomic.Pointer[transport.CloseError]
}

func (c *conn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, msg, err := c.c.Read(ctx)
		if err != nil {
			return nil, c.readErr(err)
		}
		if typ == websocket.MessageText {
			return msg, nil
		}
		// Binary frames carry nothing the client understands.
	}
}

func (c *conn) Write(ctx context.Context, msg []byte) error {
	if err := c.c.Write(ctx, websocket.MessageText, msg); err != nil {
		return convertErr(err)
	}
	return nil
}

// readErr reports our own close frame when the socket was torn down by Close
// before the peer's echo could be read.
func (c *conn) readErr(err error) error {
	err = convertErr(err)
	var ce *transport.CloseError
	if sent := c.sent.Load(); sent != nil && !errors.As(err, &ce) {
		return sent
	}
	return err
}

func (c *conn) Close(code int, reason string) error {
	c.sent.CompareAndSwap(nil, &transport.CloseError{Code: code, Reason: reason})
	err := c.c.Close(websocket.StatusCode(code), reason)
	if err == nil {
		return nil
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return nil
	}
	return fmt.Errorf("coderws: close: %w", err)
}

func convertErr(err error) error {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return &transport.CloseError{Code: int(ce.Code), Reason: ce.Reason}
	}
	return err
}
