// Package gorillaws implements [transport.Dialer] with
// github.com/gorilla/websocket. It honours HTTP(S)_PROXY from the
// environment, which makes it the driver of choice behind corporate proxies.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/transport"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteWait        = 10 * time.Second
	closeGrace              = 2 * time.Second
	maxMessageSize          = 1 << 20
)

var _ transport.Dialer = (*Dialer)(nil)

// Dialer dials websocket connections.
type Dialer struct {
	d         *websocket.Dialer
	writeWait time.Duration
}

// Option configures a [Dialer].
type Option func(*Dialer)

// WithWriteWait bounds every write when the caller's context has no deadline.
func WithWriteWait(d time.Duration) Option {
	return func(dl *Dialer) {
		if d > 0 {
			dl.writeWait = d
		}
	}
}

// New returns a Dialer using the proxy settings from the environment.
func New(opts ...Option) *Dialer {
	d := &Dialer{
		d: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		writeWait: defaultWriteWait,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (transport.Conn, error) {
	ws, resp, err := d.d.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("gorillaws: dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("gorillaws: dial: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)
	return &conn{ws: ws, writeWait: d.writeWait}, nil
}

type conn struct {
	ws        *websocket.Conn
	writeWait time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	sent      atomic.Pointer[transport.CloseError]
}

func (c *conn) Read(ctx context.Context) ([]byte, error) {
	// gorilla has no context support; a past read deadline unblocks ReadMessage.
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			err = convertErr(err)
			var ce *transport.CloseError
			if sent := c.sent.Load(); sent != nil && !errors.As(err, &ce) {
				return nil, sent
			}
			return nil, err
		}
		if typ == websocket.TextMessage {
			return msg, nil
		}
	}
}

func (c *conn) Write(ctx context.Context, msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.writeWait)
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return convertErr(err)
	}
	return nil
}

// Close sends a close frame and gives the peer closeGrace to echo it before
// the underlying connection is torn down.
func (c *conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.sent.Store(&transport.CloseError{Code: code, Reason: reason})
		frame := websocket.FormatCloseMessage(code, reason)
		werr := c.ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(closeGrace))
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			err = fmt.Errorf("gorillaws: close: %w", werr)
			_ = c.ws.Close()
			return
		}
		time.AfterFunc(closeGrace, func() { _ = c.ws.Close() })
	})
	return err
}

func convertErr(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &transport.CloseError{Code: ce.Code, Reason: ce.Text}
	}
	return err
}
