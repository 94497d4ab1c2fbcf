// Package events delivers client-facing callback payloads (SUCCESS,
// FAILURE, ABORT) without holding any stream or engine mutex across the
// delivery, replacing the C++ "drop the stream mutex around the callback"
// pattern documented in spec.md §5/§9. Publish only enqueues, so a stream
// can post while holding its own mutex and the handlers run later on the
// bus goroutine; there is no "awaiting client" sub-state.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Kind identifies which of the three client-visible callback payloads an
// Event carries (spec.md §6 "Callback payloads").
type Kind string

const (
	KindSuccess Kind = "SUCCESS"
	KindFailure Kind = "FAILURE"
	KindAbort   Kind = "ABORT"
)

// Event is one client callback delivery.
type Event struct {
	StreamID string
	Kind     Kind
	Payload  interface{}
	// Done, if non-nil, is closed once every handler has run, or at once
	// if the event is dropped. Streams set it but do not wait on it.
	Done chan struct{}
}

// Handler receives delivered events. Handlers run on the bus's own
// goroutine, never on the caller of Publish, and a panicking handler is
// recovered and logged rather than taking down the process.
type Handler func(Event)

// Bus is a small buffered, panic-safe pub/sub used to decouple a stream's
// state transitions from the client's callback function.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler // keyed by StreamID; "" means global

	buffer chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBus creates a bus with the given buffer depth and starts its
// delivery goroutine.
func NewBus(bufferSize int) *Bus {
	b := &Bus{
		handlers: make(map[string][]Handler),
		buffer:   make(chan Event, bufferSize),
		stopCh:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Subscribe registers cb to receive events for a specific stream id, or
// every event if streamID is empty.
func (b *Bus) Subscribe(streamID string, cb Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[streamID] = append(b.handlers[streamID], cb)
}

// Unsubscribe drops all handlers registered for a stream id. Called on
// stream teardown (unload).
func (b *Bus) Unsubscribe(streamID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, streamID)
}

// Publish enqueues an event for delivery. It never blocks: if the buffer
// is full the event is dropped and logged, mirroring
// feedback.EventBus.Publish's drop-on-full behavior.
func (b *Bus) Publish(ev Event) {
	select {
	case b.buffer <- ev:
	default:
		logrus.WithFields(logrus.Fields{
			"stream_id": ev.StreamID,
			"kind":      ev.Kind,
		}).Warn("client event dropped, buffer full")
		if ev.Done != nil {
			close(ev.Done)
		}
	}
}

func (b *Bus) run() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.buffer:
			b.deliver(ev)
		case <-b.stopCh:
			for {
				select {
				case ev := <-b.buffer:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	targeted := append([]Handler{}, b.handlers[ev.StreamID]...)
	global := append([]Handler{}, b.handlers[""]...)
	b.mu.RUnlock()

	for _, h := range append(targeted, global...) {
		b.invoke(h, ev)
	}
	if ev.Done != nil {
		close(ev.Done)
	}
}

func (b *Bus) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"stream_id": ev.StreamID,
				"kind":      ev.Kind,
				"panic":     r,
			}).Error("client event handler panicked")
		}
	}()
	h(ev)
}

// Stop drains pending events and shuts the delivery goroutine down.
func (b *Bus) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}
