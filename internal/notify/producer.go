package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/valetsync/internal/clock"
	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/metrics"
	"github.com/roach88/valetsync/internal/push"
)

// Outlet is where the producer writes. *store.Store implements it.
type Outlet interface {
	ListEmployees(ctx context.Context, role domain.Role) ([]domain.Employee, error)
	InsertNotification(ctx context.Context, n domain.Notification) error
	PushTokens(ctx context.Context, userIDs ...string) ([]string, error)
}

// Producer creates notification rows and their pushes.
type Producer struct {
	Outlet    Outlet
	Transport push.Transport // optional; nil sends nothing
	IDs       domain.IDGenerator
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Notify inserts one notification per user and pushes it to the user's
// devices. Push failures are logged, not returned.
func (p *Producer) Notify(ctx context.Context, userIDs []string, title, message string, payload domain.NotificationPayload) ([]domain.Notification, error) {
	if payload.Type == "" {
		payload.Type = domain.BizGeneral
	}
	var out []domain.Notification
	var errs []error
	for _, uid := range userIDs {
		n := domain.Notification{
			ID:        p.IDs.NewID(),
			UserID:    uid,
			Title:     title,
			Message:   message,
			Payload:   payload,
			CreatedAt: p.now(),
		}
		if err := p.Outlet.InsertNotification(ctx, n); err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, n)
		p.push(ctx, n)
	}
	return out, errors.Join(errs...)
}

// Announce notifies every employee with role. Implements action.Announcer.
func (p *Producer) Announce(ctx context.Context, role domain.Role, title, message string, payload domain.NotificationPayload) error {
	emps, err := p.Outlet.ListEmployees(ctx, role)
	if err != nil {
		return fmt.Errorf("list %s employees: %w", role, err)
	}
	ids := make([]string, len(emps))
	for i, e := range emps {
		ids[i] = e.ID
	}
	_, err = p.Notify(ctx, ids, title, message, payload)
	return err
}

func (p *Producer) push(ctx context.Context, n domain.Notification) {
	if p.Transport == nil {
		return
	}
	tokens, err := p.Outlet.PushTokens(ctx, n.UserID)
	if err != nil {
		p.logger().Warn("load push tokens failed", "user_id", n.UserID, "error", err)
		return
	}
	msgs := push.BuildMessages(tokens, n)
	if len(msgs) == 0 {
		return
	}
	rep, err := p.Transport.Send(ctx, msgs)
	p.Metrics.ObservePush(rep.Sent, rep.Failed)
	if err != nil {
		p.logger().Warn("push send failed", "notification_id", n.ID, "error", err)
	}
}

func (p *Producer) now() time.Time {
	if p.Clock == nil {
		return time.Now()
	}
	return p.Clock.Now()
}

func (p *Producer) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
