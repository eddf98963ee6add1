package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultPublishBuffer is how many local events may wait for the
// connection before new ones are dropped.
const DefaultPublishBuffer = 256

// pgExecer is the subset of *pgx.Conn the publisher uses.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGPublisher sends this process's change events to Postgres with
// pg_notify, so the PGListeners of other processes sharing the database
// file re-fetch after local writes. Relayed events (non-empty Origin) are
// never sent back.
//
// Hub handlers must not block, so events are queued and sent by Run.
//
// Thread-safety: Close may be called from any goroutine; Run from one.
type PGPublisher struct {
	URL        string
	Channel    string
	Origin     string
	Logger     *slog.Logger
	RetryDelay time.Duration

	mu     sync.Mutex
	queue  chan ChangeEvent
	closed bool
	cancel func()
}

// NewPGPublisher subscribes to every event of hub. Events published
// before Run starts are queued.
func NewPGPublisher(url, channel, origin string, hub *Hub, logger *slog.Logger) *PGPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &PGPublisher{
		URL:     url,
		Channel: channel,
		Origin:  origin,
		Logger:  logger,
		queue:   make(chan ChangeEvent, DefaultPublishBuffer),
	}
	p.cancel = hub.Subscribe(Filter{}, p.enqueue)
	return p
}

func (p *PGPublisher) enqueue(ev ChangeEvent) {
	if ev.Origin != "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.Logger.Warn("change publisher queue full, dropping event", "table", ev.Table, "row_id", ev.RowID)
	}
}

// Close stops queueing new events. Run returns once the queued ones are
// sent. Idempotent.
func (p *PGPublisher) Close() {
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

// Run sends queued events until Close drains the queue or ctx is
// cancelled. Dropped connections are retried after RetryDelay; the event
// in flight when a connection drops is lost.
func (p *PGPublisher) Run(ctx context.Context) error {
	delay := p.RetryDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	for {
		err := p.runOnce(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.Logger.Error("change publisher disconnected; reconnecting", "channel", p.channel(), "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (p *PGPublisher) channel() string {
	if p.Channel == "" {
		return DefaultPGChannel
	}
	return p.Channel
}

func (p *PGPublisher) runOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, p.URL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())
	return p.send(ctx, conn)
}

// send drains the queue into db. It returns nil once the queue is closed
// and empty.
func (p *PGPublisher) send(ctx context.Context, db pgExecer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-p.queue:
			if !ok {
				return nil
			}
			payload, err := EncodeNotification(ev, p.Origin)
			if err != nil {
				p.Logger.Warn("dropping unencodable change event", "table", ev.Table, "error", err)
				continue
			}
			if _, err := db.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel(), payload); err != nil {
				return fmt.Errorf("notify %s: %w", ev.Table, err)
			}
		}
	}
}

// EncodeNotification renders ev as a NOTIFY payload stamped with origin.
func EncodeNotification(ev ChangeEvent, origin string) (string, error) {
	ev.Origin = origin
	b, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode change payload: %w", err)
	}
	return string(b), nil
}
