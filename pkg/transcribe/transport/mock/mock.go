// Package mock provides scripted in-memory implementations of
// [transport.Dialer] and [transport.Conn] for use in unit tests.
//
// All mocks are safe for concurrent use and record every call so tests can
// assert on call counts and arguments:
//
//	d := mock.NewDialer()
//	c := transcribe.New("wss://example.test/stream", "token", d)
//	_ = c.Connect(ctx, transcribe.StreamingOptions{})
//	conn := d.Conn(0)
//	_ = conn.Deliver(ctx, []byte(`{"type":"transcript","text":"hi"}`))
//	conn.CloseRemote(1006, "network lost")
package mock

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/transport"
)

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

// DialCall records the arguments of one Dial call.
type DialCall struct {
	URL    string
	Header http.Header
}

// Dialer is a mock [transport.Dialer]. Each successful Dial creates a new
// [Conn]. Errors queued with FailNext are returned by the next dials in
// order.
type Dialer struct {
	mu      sync.Mutex
	calls   []DialCall
	conns   []*Conn
	failing []error
	gate    chan struct{}
	dialed  chan *Conn
}

// NewDialer returns a dialer that succeeds immediately unless scripted
// otherwise.
func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Conn, 64)}
}

// FailNext queues err to be returned by the next Dial that has no earlier
// queued error.
func (d *Dialer) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing = append(d.failing, err)
}

// Hold makes subsequent Dial calls block until Release is called or their
// context ends.
func (d *Dialer) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate == nil {
		d.gate = make(chan struct{})
	}
}

// Release unblocks every Dial waiting because of Hold.
func (d *Dialer) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (transport.Conn, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{URL: url, Header: header.Clone()})
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	if len(d.failing) > 0 {
		err := d.failing[0]
		d.failing = d.failing[1:]
		d.mu.Unlock()
		return nil, err
	}
	c := NewConn()
	d.conns = append(d.conns, c)
	d.mu.Unlock()

	select {
	case d.dialed <- c:
	default:
	}
	return c, nil
}

// Dialed returns a channel receiving every connection the dialer creates.
func (d *Dialer) Dialed() <-chan *Conn { return d.dialed }

// CallCount returns how many times Dial was called.
func (d *Dialer) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// Calls returns a copy of every recorded Dial call.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.calls...)
}

// Conn returns the i-th connection created by the dialer, or nil.
func (d *Dialer) Conn(i int) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// CloseCall records the arguments of one Close call.
type CloseCall struct {
	Code   int
	Reason string
}

// Conn is a mock [transport.Conn]. Inbound messages are injected with
// Deliver; outbound messages are recorded and also published on Written.
type Conn struct {
	inbox   chan []byte
	done    chan struct{}
	written chan []byte

	mu         sync.Mutex
	closeErr   *transport.CloseError
	writes     [][]byte
	closeCalls []CloseCall

	// WriteErr, when set, is returned by every Write.
	WriteErr error
}

// NewConn returns an open connection.
func NewConn() *Conn {
	return &Conn{
		inbox:   make(chan []byte),
		done:    make(chan struct{}),
		written: make(chan []byte, 1024),
	}
}

// Read implements [transport.Conn].
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.closeErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write implements [transport.Conn].
func (c *Conn) Write(_ context.Context, msg []byte) error {
	c.mu.Lock()
	if c.closeErr != nil {
		err := c.closeErr
		c.mu.Unlock()
		return err
	}
	if c.WriteErr != nil {
		err := c.WriteErr
		c.mu.Unlock()
		return err
	}
	cp := append([]byte(nil), msg...)
	c.writes = append(c.writes, cp)
	c.mu.Unlock()

	select {
	case c.written <- cp:
	default:
	}
	return nil
}

// Close implements [transport.Conn]. The peer is simulated to echo the close
// frame, so a pending Read returns a *transport.CloseError with code.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closeCalls = append(c.closeCalls, CloseCall{Code: code, Reason: reason})
	c.mu.Unlock()
	c.CloseRemote(code, reason)
	return nil
}

// CloseRemote simulates the peer closing the connection. Only the first call
// has an effect.
func (c *Conn) CloseRemote(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return
	}
	c.closeErr = &transport.CloseError{Code: code, Reason: reason}
	close(c.done)
}

// ErrConnClosed is returned by Deliver on a closed connection.
var ErrConnClosed = errors.New("mock conn: closed")

// Deliver hands msg to the next Read, blocking until it is consumed, the
// connection closes or ctx ends.
func (c *Conn) Deliver(ctx context.Context, msg []byte) error {
	select {
	case c.inbox <- msg:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Written publishes every successful write in order.
func (c *Conn) Written() <-chan []byte { return c.written }

// Writes returns a copy of every recorded write.
func (c *Conn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// CloseCalls returns a copy of every recorded Close call.
func (c *Conn) CloseCalls() []CloseCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CloseCall(nil), c.closeCalls...)
}

// Closed reports whether the connection has been closed by either side.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
