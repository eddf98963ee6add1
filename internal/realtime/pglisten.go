package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// DefaultPGChannel is the NOTIFY channel the database triggers publish on.
const DefaultPGChannel = "valetsync_changes"

// OriginPostgres marks relayed events whose payload named no origin, such
// as those sent by a row trigger.
const OriginPostgres = "postgres"

// PGListener relays change notifications from Postgres into a Hub. The
// payloads come from a PGPublisher in another process sharing the
// database file, or from row triggers running pg_notify(channel, json):
//
//	{"table":"room_stays","op":"UPDATE","row_id":"...","origin":"..."}
type PGListener struct {
	URL     string
	Channel string
	Hub     *Hub
	Logger  *slog.Logger

	// Origin is this process's publisher id. Notifications carrying it are
	// echoes of local writes and are dropped.
	Origin string

	// RetryDelay is the pause before reconnecting after a dropped connection.
	RetryDelay time.Duration
}

// Listen blocks, forwarding notifications until ctx is cancelled.
// Dropped connections are retried after RetryDelay.
func (l *PGListener) Listen(ctx context.Context) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := l.RetryDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	for {
		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("change feed listener disconnected; reconnecting", "channel", l.channel(), "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (l *PGListener) channel() string {
	if l.Channel == "" {
		return DefaultPGChannel
	}
	return l.Channel
}

func (l *PGListener) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.URL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel()}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		l.forward(n.Payload, time.Now())
	}
}

// forward publishes one notification payload to the hub and reports
// whether it was delivered. Malformed payloads and this process's own
// echoes are dropped.
func (l *PGListener) forward(payload string, at time.Time) bool {
	ev, err := ParseNotification(payload, at)
	if err != nil {
		if l.Logger != nil {
			l.Logger.Warn("dropping malformed change notification", "payload", payload, "error", err)
		}
		return false
	}
	if l.Origin != "" && ev.Origin == l.Origin {
		return false
	}
	if ev.Origin == "" {
		ev.Origin = OriginPostgres
	}
	l.Hub.Publish(ev)
	return true
}

// ParseNotification decodes a NOTIFY payload. at stamps events whose
// payload carries no timestamp.
func ParseNotification(payload string, at time.Time) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change payload: %w", err)
	}
	if ev.Table == "" {
		return ChangeEvent{}, errors.New("change payload has no table")
	}
	switch ev.Op {
	case OpInsert, OpUpdate, OpDelete:
	case "":
		ev.Op = OpUpdate
	default:
		return ChangeEvent{}, fmt.Errorf("unknown change op %q", ev.Op)
	}
	if ev.At.IsZero() {
		ev.At = at
	}
	return ev, nil
}
