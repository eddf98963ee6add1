package notify

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/valetsync/internal/bus"
	"github.com/roach88/valetsync/internal/dedup"
	"github.com/roach88/valetsync/internal/domain"
)

// Decision is what the router did with an inbound event.
type Decision string

const (
	// DecisionToast: realtime event shown in-app with sound.
	DecisionToast Decision = "TOAST"
	// DecisionDisplay: push handed to the OS for display.
	DecisionDisplay Decision = "DISPLAY"
	// DecisionSuppressed: duplicate within the dedup window.
	DecisionSuppressed Decision = "SUPPRESSED"
	// DecisionBackground: realtime event ignored while backgrounded.
	DecisionBackground Decision = "BACKGROUND"
)

// Options configures a Router.
type Options struct {
	Cache  *dedup.Cache // required
	Toasts *ToastStack  // required
	Device Device       // optional
	Bus    *bus.Bus     // optional, receives TopicDeepLink
	Logger *slog.Logger
}

// Router decides whether and how an inbound notification reaches the
// valet. It starts in the foreground.
type Router struct {
	opts       Options
	foreground atomic.Bool
	links      DeepLinkTracker
}

// NewRouter creates a foreground router.
func NewRouter(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Router{opts: opts}
	r.foreground.Store(true)
	return r
}

// SetForeground records whether the app is visible.
func (r *Router) SetForeground(fg bool) {
	r.foreground.Store(fg)
}

// Foreground reports whether the app is visible.
func (r *Router) Foreground() bool {
	return r.foreground.Load()
}

// HandleRealtime routes a notification row from the change feed.
func (r *Router) HandleRealtime(ctx context.Context, n domain.Notification) Decision {
	if !r.Foreground() {
		r.opts.Logger.Debug("realtime notification ignored in background", "notification_id", n.ID)
		return DecisionBackground
	}
	key := dedup.Key(n.Payload.Type, dedup.IdentifiersOf(n))
	if !r.opts.Cache.Allow(ctx, key, dedup.ChannelRealtime) {
		r.opts.Logger.Debug("duplicate notification suppressed", "key", key, "channel", dedup.ChannelRealtime)
		return DecisionSuppressed
	}

	r.opts.Toasts.Push(n)
	r.alert(ctx)
	return DecisionToast
}

// HandlePush routes a push received by the app. A suppressed push must
// not be displayed by the OS.
func (r *Router) HandlePush(ctx context.Context, n domain.Notification) Decision {
	key := dedup.Key(n.Payload.Type, dedup.IdentifiersOf(n))
	if !r.opts.Cache.Allow(ctx, key, dedup.ChannelPush) {
		r.opts.Logger.Debug("duplicate notification suppressed", "key", key, "channel", dedup.ChannelPush)
		return DecisionSuppressed
	}
	return DecisionDisplay
}

// Tap resolves a tapped notification. opened is false when the link has
// no target or repeats the last one processed.
func (r *Router) Tap(n domain.Notification) (link DeepLink, opened bool) {
	link, ok := Resolve(n.Payload)
	if !ok || r.links.Seen(link) {
		return link, false
	}
	if r.opts.Bus != nil {
		r.opts.Bus.Publish(TopicDeepLink, link)
	}
	return link, true
}

// LinkDone lets the same link open again.
func (r *Router) LinkDone() {
	r.links.Forget()
}

// alert vibrates and plays the notification sound. Failures are logged.
func (r *Router) alert(ctx context.Context) {
	d := r.opts.Device
	if d == nil {
		return
	}
	if err := d.Vibrate(ctx); err != nil {
		r.opts.Logger.Warn("vibrate failed", "error", err)
	}
	handle, err := d.PresentSilent(ctx)
	if err != nil {
		r.opts.Logger.Warn("silent notification failed", "error", err)
		return
	}
	if err := d.Retract(ctx, handle); err != nil {
		r.opts.Logger.Warn("retract silent notification failed", "handle", handle, "error", err)
	}
}
