// Package transcribe implements a resilient client for a streaming
// speech-to-text service.
//
// A [Client] owns one socket to the service. It authenticates on every open,
// keeps the connection alive with periodic pings, reconnects with exponential
// backoff after abnormal closes, streams PCM16 audio from an [audio.Source]
// and publishes decoded transcripts and lifecycle changes as [events.Event]s.
//
// All connection state is owned by a single control-loop goroutine. Public
// methods, transport callbacks and timers talk to it by message passing, so
// the client is safe for concurrent use and stale callbacks from a torn-down
// connection cannot act on its successor. Events are delivered in order on a
// separate goroutine, which lets subscribers call back into the client.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voiceflow-pro/voiceflow/pkg/audio"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/events"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/transport"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/wire"
)

const tracerName = "github.com/voiceflow-pro/voiceflow/pkg/transcribe"

// Defaults for [Client] options.
const (
	DefaultKeepalive    = 30 * time.Second
	DefaultDialTimeout  = 10 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultFrameSize    = 4096
	DefaultPoolSize     = 8

	inboxSize        = 64
	frameInboxSize   = 32
	controlQueueSize = 16
	audioQueueSize   = 64
)

// DefaultTargetFormat is the wire audio format: 16 kHz mono PCM16.
var DefaultTargetFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Option configures a [Client].
type Option func(*Client)

// WithClock replaces the clock driving keepalive and reconnect timers.
func WithClock(c clock.Clock) Option { return func(cl *Client) { cl.clock = c } }

// WithMetrics sets the telemetry sink.
func WithMetrics(m Metrics) Option { return func(cl *Client) { cl.metrics = m } }

// WithReconnectPolicy overrides the reconnect policy.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(cl *Client) { cl.policy = p.withDefaults() }
}

// WithKeepalive sets the ping interval. A negative interval disables pings.
func WithKeepalive(d time.Duration) Option {
	return func(cl *Client) {
		if d != 0 {
			cl.keepalive = d
		}
	}
}

// WithDialTimeout bounds each dial attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds each socket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.writeTimeout = d
		}
	}
}

// WithFrameSize sets the number of samples per audio frame and how many idle
// frame buffers are retained.
func WithFrameSize(samples, poolSize int) Option {
	return func(cl *Client) {
		if samples > 0 {
			cl.frameSize = samples
		}
		if poolSize > 0 {
			cl.poolSize = poolSize
		}
	}
}

// WithTargetFormat sets the audio format sent on the wire. Captured audio in
// another format is converted.
func WithTargetFormat(f audio.Format) Option {
	return func(cl *Client) { cl.target = f }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option { return func(cl *Client) { cl.log = l } }

// WithDispatcher publishes events on d instead of a private dispatcher.
func WithDispatcher(d *events.Dispatcher) Option { return func(cl *Client) { cl.events = d } }

// WithHeader adds HTTP headers to the opening handshake.
func WithHeader(h http.Header) Option { return func(cl *Client) { cl.header = h.Clone() } }

// Client is a streaming transcription client. Create one with [New] and
// release it with [Client.Close].
type Client struct {
	endpoint     string
	token        string
	dialer       transport.Dialer
	clock        clock.Clock
	log          *slog.Logger
	metrics      Metrics
	events       *events.Dispatcher
	tracer       trace.Tracer
	header       http.Header
	policy       ReconnectPolicy
	keepalive    time.Duration
	dialTimeout  time.Duration
	writeTimeout time.Duration
	frameSize    int
	poolSize     int
	target       audio.Format

	inbox    chan any
	frames   chan frameMsg
	quit     chan struct{}
	loopDone chan struct{}
	pump     *eventPump

	ctx       context.Context // cancelled by Close; parent of capture and dials
	cancel    context.CancelFunc
	closeOnce sync.Once

	state     atomic.Int32
	streaming atomic.Bool

	// Owned by the control loop.
	loop loopState
}

type loopState struct {
	opts           StreamingOptions
	conn           *connection
	dialID         uint64
	dialCancel     context.CancelFunc
	waiters        []chan error
	attempts       int
	exhausted      bool
	closing        bool
	ticker         *clock.Ticker
	reconnectTimer *clock.Timer
	reconnectSeq   uint64

	stream    *streamState
	streamGen uint64
	pool      *audio.BufferPool
}

// New returns a client for endpoint authenticating with token. The client is
// idle until [Client.Connect] is called.
func New(endpoint, token string, dialer transport.Dialer, opts ...Option) *Client {
	c := &Client{
		endpoint:     endpoint,
		token:        token,
		dialer:       dialer,
		clock:        clock.New(),
		log:          slog.Default(),
		metrics:      nopMetrics{},
		tracer:       otel.Tracer(tracerName),
		policy:       DefaultReconnectPolicy(),
		keepalive:    DefaultKeepalive,
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
		frameSize:    DefaultFrameSize,
		poolSize:     DefaultPoolSize,
		target:       DefaultTargetFormat,
		inbox:        make(chan any, inboxSize),
		frames:       make(chan frameMsg, frameInboxSize),
		quit:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.events == nil {
		c.events = events.NewDispatcher(
			events.WithLogger(c.log),
			events.WithPanicHook(func(k events.Kind, _ any) {
				c.metrics.RecordHandlerPanic(context.Background(), k.String())
			}),
		)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.loop.pool = audio.NewBufferPool(c.frameSize, c.poolSize)
	c.pump = newEventPump(c.events)
	c.state.Store(int32(StateIdle))

	go c.pump.run()
	go c.run()
	return c
}

// Events returns the dispatcher on which the client publishes.
func (c *Client) Events() *events.Dispatcher { return c.events }

// On subscribes h to events of kind. See [events.Dispatcher.On].
func (c *Client) On(kind events.Kind, h events.Handler) events.Subscription {
	return c.events.On(kind, h)
}

// Off cancels a subscription. See [events.Dispatcher.Off].
func (c *Client) Off(s events.Subscription) { c.events.Off(s) }

// State returns the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// Status returns the coarse public status: "disconnected", "connecting",
// "connected", "closing" or "unknown".
func (c *Client) Status() string { return c.State().PublicStatus() }

// IsConnected reports whether the transport is open.
func (c *Client) IsConnected() bool { return c.State() == StateOpen }

// IsStreaming reports whether audio streaming is active.
func (c *Client) IsStreaming() bool { return c.streaming.Load() }

// Connect opens the connection with opts and returns once it is open. It is a
// no-op when already open; concurrent calls while a dial is in flight share
// that dial. ctx bounds only the caller's wait: an abandoned attempt carries
// on in the background.
func (c *Client) Connect(ctx context.Context, opts StreamingOptions) error {
	if _, err := opts.BuildURL(c.endpoint); err != nil {
		return err
	}
	res := make(chan error, 1)
	if err := c.send(ctx, connectReq{opts: opts, res: res}); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.loopDone:
		return ErrClosed
	}
}

// Disconnect stops streaming, cancels keepalive and any pending reconnect,
// and closes the transport with the normal-closure code so that no reconnect
// follows. It is idempotent. The Disconnected event is published once the
// transport acknowledges the close.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.disconnect()
		return nil
	})
}

// Close disconnects and stops the client's goroutines. It waits up to 5s
// for the closing handshake, so subscribers receive the final Disconnected
// event. Every later call returns [ErrClosed]. Close must not be called from
// an event handler.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		closed := make(chan struct{})
		var once sync.Once
		sub := c.events.OnDisconnected(func(events.Disconnected) {
			once.Do(func() { close(closed) })
		})
		_ = c.Disconnect(ctx)
		if c.State() == StateClosing {
			select {
			case <-closed:
			case <-ctx.Done():
				c.log.Warn("transcribe: close handshake timed out")
			}
		}
		sub.Unsubscribe()

		close(c.quit)
		<-c.loopDone
		c.cancel()
		c.pump.stop()
	})
	return nil
}

// ---- control loop ----

type connectReq struct {
	opts StreamingOptions
	res  chan error
}

type call struct {
	fn  func() error
	res chan error
}

type dialDone struct {
	id     uint64
	connID string
	conn   transport.Conn
	err    error
	took   time.Duration
}

type received struct {
	cn   *connection
	data []byte
}

type closed struct {
	cn     *connection
	code   int
	reason string
}

type writeFailed struct {
	cn  *connection
	err error
}

type reconnectDue struct {
	seq uint64
}

type frameMsg struct {
	gen   uint64
	frame audio.Frame
}

// send enqueues an API request for the loop.
func (c *Client) send(ctx context.Context, msg any) error {
	select {
	case <-c.quit:
		return ErrClosed
	default:
	}
	select {
	case c.inbox <- msg:
		return nil
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues a message from a client-owned goroutine. It gives up once
// the loop has stopped.
func (c *Client) post(msg any) bool {
	select {
	case c.inbox <- msg:
		return true
	case <-c.quit:
		return false
	}
}

// do runs fn on the loop and returns its result.
func (c *Client) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if err := c.send(ctx, call{fn: fn, res: res}); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-c.loopDone:
		return ErrClosed
	}
}

func (c *Client) run() {
	defer close(c.loopDone)
	defer c.shutdownLoop()

	for {
		var tick <-chan time.Time
		if c.loop.ticker != nil {
			tick = c.loop.ticker.C
		}

		select {
		case <-c.quit:
			return
		case msg := <-c.inbox:
			c.handle(msg)
		case fm := <-c.frames:
			c.handleFrame(fm)
		case <-tick:
			c.handleKeepalive()
		}
	}
}

func (c *Client) handle(msg any) {
	switch m := msg.(type) {
	case call:
		m.res <- m.fn()
	case connectReq:
		c.handleConnect(m)
	case dialDone:
		c.handleDialDone(m)
	case received:
		c.handleReceived(m)
	case closed:
		c.handleClosed(m)
	case writeFailed:
		c.handleWriteFailed(m)
	case reconnectDue:
		c.handleReconnectDue(m)
	default:
		c.log.Error("transcribe: unexpected loop message", "type", fmt.Sprintf("%T", msg))
	}
}

func (c *Client) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.log.Debug("transcribe: state change", "from", prev.String(), "to", s.String())
	}
}

func (c *Client) emit(ev events.Event) { c.pump.push(ev) }

func (c *Client) handleConnect(req connectReq) {
	switch c.State() {
	case StateOpen:
		req.res <- nil
		return
	case StateConnecting:
		c.loop.waiters = append(c.loop.waiters, req.res)
		return
	}
	if c.loop.conn != nil {
		// Still closing: stop waiting for the acknowledgement.
		c.detachConn()
		c.emit(events.Disconnected{Code: transport.StatusNormalClosure, Reason: "client disconnect"})
	}
	c.stopReconnectTimer()
	c.loop.opts = req.opts
	c.loop.attempts = 0
	c.loop.exhausted = false
	c.loop.waiters = append(c.loop.waiters, req.res)
	c.startDial()
}

// startDial moves to Connecting and dials in the background. The result comes
// back as a dialDone tagged with the dial ID so superseded dials are ignored.
func (c *Client) startDial() {
	u, err := c.loop.opts.BuildURL(c.endpoint)
	if err != nil {
		c.rejectWaiters(err)
		c.setState(StateClosed)
		return
	}

	c.loop.dialID++
	id := c.loop.dialID
	connID := uuid.NewString()
	ctx, cancel := context.WithTimeout(c.ctx, c.dialTimeout)
	c.loop.dialCancel = cancel
	c.loop.closing = false
	c.setState(StateConnecting)

	attempt := c.loop.attempts
	header := c.header.Clone()
	c.log.Info("transcribe: connecting", "conn_id", connID, "attempt", attempt)

	go func() {
		ctx, span := c.tracer.Start(ctx, "transcribe.dial",
			trace.WithAttributes(
				attribute.String("conn_id", connID),
				attribute.Int("attempt", attempt),
			),
		)
		start := time.Now()
		conn, err := c.dialer.Dial(ctx, u, header)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if !c.post(dialDone{id: id, connID: connID, conn: conn, err: err, took: time.Since(start)}) && conn != nil {
			_ = conn.Close(transport.StatusGoingAway, "client closed")
		}
	}()
}

func (c *Client) handleDialDone(m dialDone) {
	if m.id != c.loop.dialID || c.State() != StateConnecting {
		// Superseded by Disconnect or a newer dial.
		if m.conn != nil {
			go func() { _ = m.conn.Close(transport.StatusNormalClosure, "superseded") }()
		}
		return
	}
	if c.loop.dialCancel != nil {
		c.loop.dialCancel()
		c.loop.dialCancel = nil
	}

	if m.err != nil {
		c.metrics.RecordConnectAttempt(c.ctx, "error", m.took)
		err := fmt.Errorf("transcribe: dial: %w", m.err)
		c.log.Warn("transcribe: connect failed", "conn_id", m.connID, "attempt", c.loop.attempts, "err", m.err)
		c.emit(events.Error{Err: err})
		c.rejectWaiters(err)
		// A failed dial is reported like a socket that errors and then closes.
		c.onClosed(transport.StatusAbnormalClosure, m.err.Error())
		return
	}

	c.metrics.RecordConnectAttempt(c.ctx, "ok", m.took)
	c.metrics.AddActiveConnections(c.ctx, 1)
	c.loop.conn = c.startConnection(m.connID, m.conn)
	c.setState(StateOpen)
	c.loop.attempts = 0
	c.loop.exhausted = false

	c.sendControl(wire.Auth{Token: c.token})
	c.startKeepalive()
	c.log.Info("transcribe: connected", "conn_id", m.connID)
	c.emit(events.Connected{At: c.clock.Now()})
	c.resolveWaiters()

	if c.loop.stream != nil {
		// Resume the audio stream the previous connection was carrying.
		c.sendControl(wire.StartListening{Timestamp: wire.Millis(c.clock.Now())})
	}
}

func (c *Client) handleReceived(m received) {
	if m.cn != c.loop.conn {
		return
	}
	msg, err := wire.Decode(m.data)
	if err != nil {
		c.metrics.RecordDecodeError(c.ctx)
		c.log.Debug("transcribe: dropping malformed message", "conn_id", m.cn.id, "err", err)
		return
	}
	c.metrics.RecordMessageReceived(c.ctx, msg.Type)

	ev, ok := msg.Event()
	if !ok {
		if msg.Type != wire.TypePong {
			c.log.Debug("transcribe: ignoring message", "conn_id", m.cn.id, "type", msg.Type)
		}
		return
	}
	switch e := ev.(type) {
	case events.Transcript:
		c.metrics.RecordTranscript(c.ctx, e.IsFinal, e.Confidence)
	case events.Error:
		c.log.Warn("transcribe: server error", "conn_id", m.cn.id, "err", e.Err)
	}
	c.emit(ev)
}

func (c *Client) handleClosed(m closed) {
	if m.cn != c.loop.conn {
		return
	}
	c.detachConn()
	c.log.Info("transcribe: connection closed", "conn_id", m.cn.id, "code", m.code, "reason", m.reason)
	c.onClosed(m.code, m.reason)
}

func (c *Client) detachConn() {
	c.loop.conn.stop()
	c.loop.conn = nil
	c.metrics.AddActiveConnections(context.Background(), -1)
}

// onClosed runs the close transition shared by transport closes and failed
// dials.
func (c *Client) onClosed(code int, reason string) {
	c.stopKeepalive()
	c.setState(StateClosed)
	c.metrics.RecordDisconnect(c.ctx, code)
	c.emit(events.Disconnected{Code: code, Reason: reason})

	if c.loop.closing {
		c.loop.closing = false
		return
	}
	if code == transport.StatusNormalClosure {
		return
	}
	if !c.policy.Allow(c.loop.attempts) {
		if !c.loop.exhausted && c.policy.MaxAttempts > 0 {
			c.loop.exhausted = true
			c.log.Warn("transcribe: giving up reconnecting", "attempts", c.loop.attempts)
			c.emit(events.Status{Status: events.StatusReconnectExhausted, Attempt: c.loop.attempts, At: c.clock.Now()})
		}
		return
	}
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.stopReconnectTimer()
	c.loop.attempts++
	attempt := c.loop.attempts
	delay := c.policy.Delay(attempt)

	c.loop.reconnectSeq++
	seq := c.loop.reconnectSeq
	c.loop.reconnectTimer = c.clock.AfterFunc(delay, func() {
		c.post(reconnectDue{seq: seq})
	})
	c.setState(StateReconnecting)
	c.metrics.RecordReconnectScheduled(c.ctx, attempt, delay)
	c.log.Info("transcribe: reconnect scheduled", "attempt", attempt, "delay", delay)
	c.emit(events.Status{Status: events.StatusReconnecting, Attempt: attempt, Delay: delay, At: c.clock.Now()})
}

func (c *Client) handleReconnectDue(m reconnectDue) {
	if m.seq != c.loop.reconnectSeq || c.State() != StateReconnecting {
		return
	}
	c.loop.reconnectTimer = nil
	c.startDial()
}

func (c *Client) stopReconnectTimer() {
	if c.loop.reconnectTimer != nil {
		c.loop.reconnectTimer.Stop()
		c.loop.reconnectTimer = nil
	}
	// Invalidate a timer that already fired but whose message is queued.
	c.loop.reconnectSeq++
}

func (c *Client) handleWriteFailed(m writeFailed) {
	if m.cn != c.loop.conn {
		return
	}
	c.log.Warn("transcribe: write failed", "conn_id", m.cn.id, "err", m.err)
	c.emit(events.Error{Err: fmt.Errorf("transcribe: write: %w", m.err)})
}

func (c *Client) startKeepalive() {
	c.stopKeepalive()
	if c.keepalive > 0 {
		c.loop.ticker = c.clock.Ticker(c.keepalive)
	}
}

func (c *Client) stopKeepalive() {
	if c.loop.ticker != nil {
		c.loop.ticker.Stop()
		c.loop.ticker = nil
	}
}

func (c *Client) handleKeepalive() {
	if c.State() != StateOpen || c.loop.conn == nil {
		return
	}
	c.sendControl(wire.Ping{})
}

// disconnect implements Disconnect on the loop.
func (c *Client) disconnect() {
	c.stopStreaming()
	c.stopKeepalive()
	c.stopReconnectTimer()
	c.loop.attempts = 0
	c.loop.exhausted = false

	switch c.State() {
	case StateConnecting:
		if c.loop.dialCancel != nil {
			c.loop.dialCancel()
			c.loop.dialCancel = nil
		}
		c.loop.dialID++
		c.rejectWaiters(ErrDisconnected)
		c.setState(StateClosed)
	case StateReconnecting:
		c.setState(StateClosed)
	case StateOpen:
		c.loop.closing = true
		c.setState(StateClosing)
		c.loop.conn.close(transport.StatusNormalClosure, "client disconnect")
	}
}

func (c *Client) rejectWaiters(err error) {
	for _, w := range c.loop.waiters {
		w <- err
	}
	c.loop.waiters = nil
}

func (c *Client) resolveWaiters() { c.rejectWaiters(nil) }

// shutdownLoop releases everything the loop owns after quit.
func (c *Client) shutdownLoop() {
	c.stopStreaming()
	c.stopKeepalive()
	c.stopReconnectTimer()
	if c.loop.dialCancel != nil {
		c.loop.dialCancel()
		c.loop.dialCancel = nil
	}
	c.rejectWaiters(ErrClosed)
	if c.loop.conn != nil {
		c.loop.conn.close(transport.StatusNormalClosure, "client closed")
		c.detachConn()
	}
	for {
		select {
		case fm := <-c.frames:
			fm.frame.Release()
		default:
			c.setState(StateClosed)
			return
		}
	}
}
