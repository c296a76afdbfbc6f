package events

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Handler receives events of the kind it was registered for.
type Handler func(Event)

// Subscription identifies one registration made with [Dispatcher.On]. The
// zero value is a valid no-op subscription.
type Subscription struct {
	d    *Dispatcher
	kind Kind
	id   uint64
}

// Unsubscribe removes the registration. It is safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.d != nil {
		s.d.Off(s)
	}
}

// Active reports whether On accepted the registration. It stays true after
// Unsubscribe.
func (s Subscription) Active() bool { return s.d != nil }

type entry struct {
	id uint64
	fn Handler
}

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithPanicHook registers fn to be called after a subscriber panic has been
// recovered.
func WithPanicHook(fn func(kind Kind, recovered any)) DispatcherOption {
	return func(d *Dispatcher) { d.onPanic = fn }
}

// WithLogger sets the logger used to report subscriber panics.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

// Dispatcher fans events out to subscribers. It is safe for concurrent use.
type Dispatcher struct {
	mu     sync.Mutex
	subs   [numKinds][]entry
	nextID uint64

	onPanic func(Kind, any)
	log     *slog.Logger
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{log: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// On registers h for events of kind. Unknown kinds and nil handlers are
// ignored and yield the zero Subscription.
func (d *Dispatcher) On(kind Kind, h Handler) Subscription {
	if !kind.Valid() || h == nil {
		return Subscription{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.subs[kind] = append(d.subs[kind], entry{id: d.nextID, fn: h})
	return Subscription{d: d, kind: kind, id: d.nextID}
}

// Off removes a registration. Unknown or already removed subscriptions are
// ignored.
func (d *Dispatcher) Off(s Subscription) {
	if s.d != d || !s.kind.Valid() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.subs[s.kind]
	for i, e := range list {
		if e.id == s.id {
			// Copy so snapshots taken by a concurrent Emit stay intact.
			next := make([]entry, 0, len(list)-1)
			next = append(next, list[:i]...)
			d.subs[s.kind] = append(next, list[i+1:]...)
			return
		}
	}
}

// Count returns the number of subscribers registered for kind.
func (d *Dispatcher) Count(kind Kind) int {
	if !kind.Valid() {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs[kind])
}

// Emit delivers ev synchronously to every subscriber of its kind, in
// registration order. Subscribers registered or removed during Emit take
// effect from the next call. A panicking subscriber is recovered and logged
// and does not stop delivery to the others.
func (d *Dispatcher) Emit(ev Event) {
	if ev == nil || !ev.Kind().Valid() {
		return
	}
	d.mu.Lock()
	snapshot := d.subs[ev.Kind()]
	d.mu.Unlock()

	for _, e := range snapshot {
		d.invoke(ev, e.fn)
	}
}

func (d *Dispatcher) invoke(ev Event, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("events: subscriber panicked",
				"kind", ev.Kind().String(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			if d.onPanic != nil {
				d.onPanic(ev.Kind(), r)
			}
		}
	}()
	fn(ev)
}

// OnConnected registers a typed handler for [Connected] events.
func (d *Dispatcher) OnConnected(fn func(Connected)) Subscription {
	return d.On(KindConnected, func(ev Event) {
		if e, ok := ev.(Connected); ok {
			fn(e)
		}
	})
}

// OnDisconnected registers a typed handler for [Disconnected] events.
func (d *Dispatcher) OnDisconnected(fn func(Disconnected)) Subscription {
	return d.On(KindDisconnected, func(ev Event) {
		if e, ok := ev.(Disconnected); ok {
			fn(e)
		}
	})
}

// OnTranscript registers a typed handler for [Transcript] events.
func (d *Dispatcher) OnTranscript(fn func(Transcript)) Subscription {
	return d.On(KindTranscript, func(ev Event) {
		if e, ok := ev.(Transcript); ok {
			fn(e)
		}
	})
}

// OnError registers a typed handler for [Error] events.
func (d *Dispatcher) OnError(fn func(Error)) Subscription {
	return d.On(KindError, func(ev Event) {
		if e, ok := ev.(Error); ok {
			fn(e)
		}
	})
}

// OnStatus registers a typed handler for [Status] events.
func (d *Dispatcher) OnStatus(fn func(Status)) Subscription {
	return d.On(KindStatus, func(ev Event) {
		if e, ok := ev.(Status); ok {
			fn(e)
		}
	})
}
