package notify

import (
	"sync"
	"time"

	"github.com/roach88/valetsync/internal/bus"
	"github.com/roach88/valetsync/internal/clock"
	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/metrics"
)

// Toast defaults.
const (
	DefaultMaxToasts    = 3
	DefaultToastTimeout = 5 * time.Second
)

// Bus topics published by the toast stack and the router.
const (
	TopicToastShown     = "toast.shown"
	TopicToastDismissed = "toast.dismissed"
	TopicDeepLink       = "deeplink.open"
)

// Toast is an in-app banner.
type Toast struct {
	ID        string                     `json:"id"`
	Title     string                     `json:"title"`
	Message   string                     `json:"message"`
	Payload   domain.NotificationPayload `json:"payload"`
	ShownAt   time.Time                  `json:"shown_at"`
	ExpiresAt time.Time                  `json:"expires_at"`
}

// ToastOptions configures a ToastStack.
type ToastOptions struct {
	Max     int           // defaults to DefaultMaxToasts
	Timeout time.Duration // defaults to DefaultToastTimeout
	Clock   clock.Clock
	IDs     domain.IDGenerator
	Bus     *bus.Bus // optional
	Metrics *metrics.Metrics
}

// ToastStack holds the visible toasts, newest last. Pushing onto a full
// stack evicts the oldest. Each toast leaves on its own timeout, when
// dismissed, or when tapped.
//
// Thread-safety: All methods are safe for concurrent use. Bus messages
// are published without the lock held.
type ToastStack struct {
	opts ToastOptions

	mu     sync.Mutex
	toasts []Toast
	timers map[string]clock.Timer
}

// NewToastStack creates an empty stack.
func NewToastStack(opts ToastOptions) *ToastStack {
	if opts.Max <= 0 {
		opts.Max = DefaultMaxToasts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultToastTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.IDs == nil {
		opts.IDs = domain.UUIDv7Generator{}
	}
	return &ToastStack{opts: opts, timers: make(map[string]clock.Timer)}
}

// Push shows a toast for n.
func (s *ToastStack) Push(n domain.Notification) Toast {
	now := s.opts.Clock.Now()
	t := Toast{
		ID:        s.opts.IDs.NewID(),
		Title:     n.Title,
		Message:   n.Message,
		Payload:   n.Payload,
		ShownAt:   now,
		ExpiresAt: now.Add(s.opts.Timeout),
	}

	s.mu.Lock()
	var evicted []Toast
	for len(s.toasts) >= s.opts.Max {
		evicted = append(evicted, s.removeLocked(s.toasts[0].ID))
	}
	s.toasts = append(s.toasts, t)
	id := t.ID
	s.timers[id] = s.opts.Clock.AfterFunc(s.opts.Timeout, func() { s.Dismiss(id) })
	s.mu.Unlock()

	for _, e := range evicted {
		s.publish(TopicToastDismissed, e)
	}
	s.opts.Metrics.ObserveToast()
	s.publish(TopicToastShown, t)
	return t
}

// Dismiss removes a toast. Returns false if it was already gone.
func (s *ToastStack) Dismiss(id string) bool {
	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return false
	}
	t := s.removeLocked(id)
	s.mu.Unlock()

	s.publish(TopicToastDismissed, t)
	return true
}

// Tap dismisses a toast and returns it.
func (s *ToastStack) Tap(id string) (Toast, bool) {
	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return Toast{}, false
	}
	t := s.removeLocked(id)
	s.mu.Unlock()

	s.publish(TopicToastDismissed, t)
	return t, true
}

// Tick dismisses every toast whose timeout has passed and returns how
// many left. Hosts whose timers may be suspended call it on resume.
func (s *ToastStack) Tick() int {
	now := s.opts.Clock.Now()
	s.mu.Lock()
	var expired []Toast
	for _, t := range append([]Toast(nil), s.toasts...) {
		if !now.Before(t.ExpiresAt) {
			expired = append(expired, s.removeLocked(t.ID))
		}
	}
	s.mu.Unlock()

	for _, t := range expired {
		s.publish(TopicToastDismissed, t)
	}
	return len(expired)
}

// Active returns the visible toasts, oldest first.
func (s *ToastStack) Active() []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Toast(nil), s.toasts...)
}

// Clear drops every toast without publishing.
func (s *ToastStack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tm := range s.timers {
		tm.Stop()
		delete(s.timers, id)
	}
	s.toasts = nil
}

func (s *ToastStack) indexLocked(id string) int {
	for i, t := range s.toasts {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// removeLocked drops the toast with id, which must be present.
func (s *ToastStack) removeLocked(id string) Toast {
	i := s.indexLocked(id)
	t := s.toasts[i]
	s.toasts = append(s.toasts[:i], s.toasts[i+1:]...)
	if tm, ok := s.timers[id]; ok {
		tm.Stop()
		delete(s.timers, id)
	}
	return t
}

func (s *ToastStack) publish(topic string, t Toast) {
	if s.opts.Bus != nil {
		s.opts.Bus.Publish(topic, t)
	}
}
