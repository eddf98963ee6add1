// Package bus is a minimal in-process publish/subscribe utility. It
// decouples the notification subsystem from whatever renders toasts and
// opens deep-linked screens.
package bus

import (
	"log/slog"
	"sync"
)

// Message is one published event.
type Message struct {
	Topic   string
	Payload any
}

// Handler receives messages for a topic.
type Handler func(Message)

type subscriber struct {
	id int
	fn Handler
}

// Bus delivers messages to topic subscribers.
//
// Delivery is synchronous and FIFO: messages are handed out in publish
// order, and a message published from inside a handler is queued behind
// the one being delivered instead of jumping ahead of it. A panicking
// handler is logged and does not stop delivery to the others.
//
// Thread-safety: All methods are safe for concurrent use. Handlers run
// without the bus lock held.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	subs     map[string][]subscriber
	queue    []Message
	draining bool
	closed   bool
	logger   *slog.Logger
}

// New creates an empty bus. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]subscriber),
		queue:  make([]Message, 0, 16),
		logger: logger,
	}
}

// Subscribe registers fn for topic and returns its id. The returned
// function unsubscribes and may be called more than once.
func (b *Bus) Subscribe(topic string, fn Handler) (id int, unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, func() {}
	}
	b.nextID++
	id = b.nextID
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, fn: fn})
	return id, func() { b.Unsubscribe(topic, id) }
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Publish queues a message and delivers everything queued. Returns false
// once the bus is closed.
func (b *Bus) Publish(topic string, payload any) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, Message{Topic: topic, Payload: payload})
	if b.draining {
		// The goroutine already draining will pick it up.
		b.mu.Unlock()
		return true
	}
	b.draining = true
	b.mu.Unlock()

	b.drain()
	return true
}

// Len returns the number of subscriptions for topic.
func (b *Bus) Len(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Close drops every subscription and pending message; later publishes are
// rejected.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]subscriber)
	b.queue = nil
}

func (b *Bus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 || b.closed {
			b.draining = false
			b.mu.Unlock()
			return
		}
		msg := b.queue[0]
		b.queue[0] = Message{}
		b.queue = b.queue[1:]
		subs := b.subs[msg.Topic]
		handlers := make([]Handler, len(subs))
		for i, s := range subs {
			handlers[i] = s.fn
		}
		b.mu.Unlock()

		for _, h := range handlers {
			b.deliver(h, msg)
		}
	}
}

func (b *Bus) deliver(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked", "topic", msg.Topic, "panic", r)
		}
	}()
	h(msg)
}
