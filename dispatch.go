package zulip

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

// AllEvents subscribes a callback to every event type.
const AllEvents = "*"

// EventCallback receives dispatched events.
type EventCallback func(event Event)

// subscription represents an active event callback.
type subscription struct {
	id        uint64
	eventType string
	callback  EventCallback
	active    atomic.Bool
}

// Dispatcher routes events to callbacks registered per event type.
// Callbacks run synchronously in registration order, type-specific
// callbacks before AllEvents ones.
//
// Once its unsubscribe function has returned, a callback is skipped by
// every later Dispatch and by the rest of a Dispatch running on the same
// goroutine. A Dispatch already in progress on another goroutine may still
// invoke it once. Callbacks may unsubscribe themselves.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription // eventType -> subscriptions in registration order
	nextID atomic.Uint64
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subs: make(map[string][]*subscription),
	}
}

// Subscribe registers callback for events of eventType, or for every
// event when eventType is AllEvents. Returns an unsubscribe function that
// is safe to call multiple times.
func (d *Dispatcher) Subscribe(eventType string, callback EventCallback) func() {
	sub := &subscription{
		id:        d.nextID.Add(1),
		eventType: eventType,
		callback:  callback,
	}
	sub.active.Store(true)

	d.mu.Lock()
	d.subs[eventType] = append(d.subs[eventType], sub)
	d.mu.Unlock()

	return func() {
		d.unsubscribe(sub)
	}
}

func (d *Dispatcher) unsubscribe(sub *subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub.active.Store(false) // Mark inactive before removing
	subs := slices.DeleteFunc(d.subs[sub.eventType], func(s *subscription) bool {
		return s.id == sub.id
	})
	if len(subs) == 0 {
		delete(d.subs, sub.eventType)
	} else {
		d.subs[sub.eventType] = subs
	}
}

// Dispatch calls every callback registered for the event's type and then
// every AllEvents callback. It returns the number of callbacks invoked.
func (d *Dispatcher) Dispatch(event Event) int {
	d.mu.RLock()
	subs := make([]*subscription, 0, len(d.subs[event.Type])+len(d.subs[AllEvents]))
	subs = append(subs, d.subs[event.Type]...)
	if event.Type != AllEvents {
		subs = append(subs, d.subs[AllEvents]...)
	}
	d.mu.RUnlock()

	n := 0
	for _, sub := range subs {
		if sub.active.Load() {
			sub.callback(event)
			n++
		}
	}
	return n
}

// Len returns the number of registered callbacks.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, subs := range d.subs {
		n += len(subs)
	}
	return n
}

// Clear removes all subscriptions.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, subs := range d.subs {
		for _, sub := range subs {
			sub.active.Store(false)
		}
	}
	d.subs = make(map[string][]*subscription)
}

// Handler adapts the dispatcher for CallOnEachEvent.
func (d *Dispatcher) Handler() EventHandler {
	return func(_ context.Context, event Event) error {
		d.Dispatch(event)
		return nil
	}
}
