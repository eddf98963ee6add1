package notify

import (
	"context"
	"log/slog"

	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/realtime"
)

// ChannelNotifications names the per-user notifications channel in the
// registry.
const ChannelNotifications = "notifications"

// NotificationSource loads a notification row.
type NotificationSource interface {
	GetNotification(ctx context.Context, id string) (domain.Notification, error)
}

// Listener feeds the signed-in user's notification rows to the router.
// At most one feed subscription exists per registry, tied to one user.
type Listener struct {
	Feed     realtime.Feed
	Registry *realtime.Registry
	Source   NotificationSource
	Router   *Router
	Logger   *slog.Logger
}

// Ensure subscribes to userID's notifications, replacing a subscription
// left from another user. Repeated calls for the same user do nothing.
func (l *Listener) Ensure(ctx context.Context, userID string) error {
	replaced, err := l.Registry.Ensure(ChannelNotifications, userID, func() (func(), error) {
		filter := realtime.Filter{Tables: []string{realtime.TableNotifications}, UserID: userID}
		return l.Feed.Subscribe(filter, func(ev realtime.ChangeEvent) {
			l.handle(ctx, ev)
		}), nil
	})
	if replaced {
		l.logger().Info("notifications channel switched user", "user_id", userID)
	}
	return err
}

// Release drops the subscription.
func (l *Listener) Release() {
	l.Registry.Release(ChannelNotifications)
}

func (l *Listener) handle(ctx context.Context, ev realtime.ChangeEvent) {
	if ev.Op != realtime.OpInsert {
		return
	}
	n, err := l.Source.GetNotification(ctx, ev.RowID)
	if err != nil {
		l.logger().Error("load notification failed", "notification_id", ev.RowID, "error", err)
		return
	}
	d := l.Router.HandleRealtime(ctx, n)
	l.logger().Debug("notification routed", "notification_id", n.ID, "type", n.Payload.Type, "decision", d)
}

func (l *Listener) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}
