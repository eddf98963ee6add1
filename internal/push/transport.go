package push

import (
	"context"
	"log/slog"
	"sync"
)

// Report summarizes one Send.
type Report struct {
	Sent         int
	Failed       int
	FailedTokens []string
}

// Transport delivers push messages.
type Transport interface {
	Send(ctx context.Context, msgs []Message) (Report, error)
}

// LogTransport logs every message and reports it sent.
type LogTransport struct {
	Logger *slog.Logger
}

// Send implements Transport.
func (t LogTransport) Send(_ context.Context, msgs []Message) (Report, error) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, m := range msgs {
		logger.Info("push", "token", m.Token, "title", m.Title, "type", m.Data[KeyType])
	}
	return Report{Sent: len(msgs)}, nil
}

// Outbox keeps sent messages in memory.
//
// Thread-safety: safe for concurrent use.
type Outbox struct {
	mu   sync.Mutex
	msgs []Message
}

// Send implements Transport.
func (o *Outbox) Send(_ context.Context, msgs []Message) (Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msgs...)
	return Report{Sent: len(msgs)}, nil
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.msgs...)
}
