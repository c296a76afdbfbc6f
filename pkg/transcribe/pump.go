package transcribe

import (
	"sync"

	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/events"
)

// eventPump delivers events to a dispatcher in order on its own goroutine,
// so the control loop never runs subscriber code.
type eventPump struct {
	d *events.Dispatcher

	mu    sync.Mutex
	queue []events.Event

	wake     chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func newEventPump(d *events.Dispatcher) *eventPump {
	return &eventPump{
		d:       d,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (p *eventPump) push(ev events.Event) {
	p.mu.Lock()
	p.queue = append(p.queue, ev)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *eventPump) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.wake:
			p.drain()
		case <-p.done:
			p.drain()
			return
		}
	}
}

func (p *eventPump) drain() {
	for {
		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			p.d.Emit(ev)
		}
	}
}

// stop delivers what is queued and waits for the pump goroutine to exit.
func (p *eventPump) stop() {
	p.stopOnce.Do(func() { close(p.done) })
	<-p.stopped
}
