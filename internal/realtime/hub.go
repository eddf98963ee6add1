package realtime

import (
	"sync"
)

// Hub fans change events out to matching subscribers.
//
// Delivery is synchronous on the publisher's goroutine, in subscription
// order. Handlers must not block; a Subscription only rearms a timer or
// runs a re-fetch.
//
// Thread-safety: Publish and Subscribe may be called from any goroutine.
// Handlers run without the hub lock held, so a handler may subscribe or
// cancel.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   []hubSub
	closed bool
}

type hubSub struct {
	id     int
	filter Filter
	fn     func(ChangeEvent)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe registers fn for events matching filter.
func (h *Hub) Subscribe(filter Filter, fn func(ChangeEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, hubSub{id: id, filter: filter, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

// Publish delivers ev to every matching subscriber and returns how many
// handlers ran.
func (h *Hub) Publish(ev ChangeEvent) int {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0
	}
	targets := make([]func(ChangeEvent), 0, len(h.subs))
	for _, s := range h.subs {
		if s.filter.Matches(ev) {
			targets = append(targets, s.fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range targets {
		fn(ev)
	}
	return len(targets)
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every subscription; later publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subs = nil
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return
		}
	}
}
