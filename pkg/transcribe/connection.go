package transcribe

import (
	"context"
	"sync"

	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/transport"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/wire"
)

// outbound is one item on a connection's control queue. A non-nil close asks
// the writer to close the transport after everything queued before it.
type outbound struct {
	data  []byte
	close *transport.CloseError
}

// connection is one open transport plus the goroutines pumping it. The loop
// compares connection pointers to discard callbacks from a replaced
// connection.
type connection struct {
	id      string
	conn    transport.Conn
	control chan outbound
	audio   chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *Client) startConnection(id string, tc transport.Conn) *connection {
	ctx, cancel := context.WithCancel(c.ctx)
	cn := &connection{
		id:      id,
		conn:    tc,
		control: make(chan outbound, controlQueueSize),
		audio:   make(chan []byte, audioQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.readLoop(cn)
	go c.writeLoop(cn)
	return cn
}

// close requests a closing handshake after the queued control messages.
func (cn *connection) close(code int, reason string) {
	cn.closeOnce.Do(func() {
		req := outbound{close: &transport.CloseError{Code: code, Reason: reason}}
		select {
		case cn.control <- req:
		default:
			go func() { _ = cn.conn.Close(code, reason) }()
		}
	})
}

// stop tears down the reader and writer.
func (cn *connection) stop() { cn.cancel() }

func (c *Client) readLoop(cn *connection) {
	for {
		data, err := cn.conn.Read(cn.ctx)
		if err != nil {
			code, reason := transport.CloseStatus(err)
			c.post(closed{cn: cn, code: code, reason: reason})
			return
		}
		if !c.post(received{cn: cn, data: data}) {
			return
		}
	}
}

func (c *Client) writeLoop(cn *connection) {
	failed := false
	write := func(msg []byte) {
		ctx, cancel := context.WithTimeout(cn.ctx, c.writeTimeout)
		err := cn.conn.Write(ctx, msg)
		cancel()
		if err != nil && !failed && cn.ctx.Err() == nil {
			// Report once; the read side sees the close that usually follows.
			failed = true
			c.post(writeFailed{cn: cn, err: err})
		}
	}
	handle := func(o outbound) bool {
		if o.close != nil {
			if err := cn.conn.Close(o.close.Code, o.close.Reason); err != nil {
				c.log.Debug("transcribe: close transport", "conn_id", cn.id, "err", err)
			}
			return false
		}
		write(o.data)
		return true
	}

	// finish honours a queued close request once the connection is torn down.
	finish := func() {
		for {
			select {
			case o := <-cn.control:
				if o.close != nil {
					handle(o)
					return
				}
			default:
				return
			}
		}
	}

	for {
		// Control messages take priority over audio.
		select {
		case o := <-cn.control:
			if !handle(o) {
				return
			}
			continue
		case <-cn.ctx.Done():
			finish()
			return
		default:
		}

		select {
		case o := <-cn.control:
			if !handle(o) {
				return
			}
		case msg := <-cn.audio:
			write(msg)
		case <-cn.ctx.Done():
			finish()
			return
		}
	}
}

// sendControl queues a control message on the open connection.
func (c *Client) sendControl(m wire.Outbound) {
	cn := c.loop.conn
	if cn == nil {
		return
	}
	b, err := wire.Encode(m)
	if err != nil {
		c.log.Error("transcribe: encode message", "type", m.Type(), "err", err)
		return
	}
	select {
	case cn.control <- outbound{data: b}:
		c.metrics.RecordMessageSent(c.ctx, m.Type())
	default:
		c.log.Warn("transcribe: control queue full, dropping message", "conn_id", cn.id, "type", m.Type())
	}
}

// sendAudio queues an audio chunk, dropping it when the socket cannot keep up.
func (c *Client) sendAudio(m wire.AudioChunk) {
	cn := c.loop.conn
	if cn == nil {
		return
	}
	b, err := wire.Encode(m)
	if err != nil {
		c.log.Error("transcribe: encode audio chunk", "err", err)
		return
	}
	select {
	case cn.audio <- b:
		c.metrics.RecordMessageSent(c.ctx, m.Type())
	default:
		c.metrics.RecordAudioDropped(c.ctx, "queue_full")
	}
}
