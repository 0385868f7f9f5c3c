// Package bus provides the process-wide notification channel that ties the
// state machine, the guarantor and the resolver together.
package bus

import (
	"log"
	"sync"
	"time"
)

// Handler consumes a single event. Handlers run synchronously on the
// dispatching goroutine, in registration order.
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus is a typed publish/subscribe channel. Delivery is at-most-once and
// synchronous; consumers that cannot afford a missed event must poll as a
// second line of defense.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[EventType][]subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[EventType][]subscription)}
}

// Subscribe registers a handler for an event type and returns a function that
// removes the registration.
func (b *Bus) Subscribe(t EventType, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, s := range subs {
			if s.id == id {
				b.subs[t] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Dispatch delivers an event to every subscriber of its type. Handlers are
// invoked outside the bus lock so they may subscribe, unsubscribe, or dispatch
// further events.
func (b *Bus) Dispatch(t EventType, payload any, source string) {
	ev := Event{
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}

	b.mu.Lock()
	subs := make([]subscription, len(b.subs[t]))
	copy(subs, b.subs[t])
	b.mu.Unlock()

	for _, s := range subs {
		safeInvoke(s.handler, ev)
	}
}

// safeInvoke keeps one panicking subscriber from taking down the dispatcher
// and every subscriber registered after it.
func safeInvoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bus: handler for %s panicked: %v", ev.Type, r)
		}
	}()
	h(ev)
}
