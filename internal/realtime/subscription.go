package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/valetsync/internal/clock"
	"github.com/roach88/valetsync/internal/metrics"
)

// Domain names a screen whose derived view is re-fetched on change.
type Domain string

const (
	DomainDashboard Domain = "dashboard"
	DomainRooms     Domain = "rooms"
	DomainServices  Domain = "services"
)

// DefaultRoomsDebounce is the debounce window of the rooms view. Other
// domains re-fetch immediately.
const DefaultRoomsDebounce = 1000 * time.Millisecond

// DefaultTables returns the tables whose rows affect a domain's view.
func DefaultTables(d Domain) []string {
	switch d {
	case DomainDashboard:
		return []string{TableRoomStays, TableRooms, TableSalesOrders, TablePayments}
	case DomainRooms:
		return []string{TableRoomStays, TableRooms, TableSalesOrders, TableItems, TablePayments}
	case DomainServices:
		return []string{TableItems, TableSalesOrders}
	}
	return nil
}

// DefaultDebounce returns the debounce window of a domain.
func DefaultDebounce(d Domain) time.Duration {
	if d == DomainRooms {
		return DefaultRoomsDebounce
	}
	return 0
}

// ErrNoRefetch is returned by Start when the subscription has no re-fetch callback.
var ErrNoRefetch = errors.New("realtime: subscription has no refetch callback")

// SubscriptionOptions configures a Subscription.
type SubscriptionOptions struct {
	Domain Domain

	// Filter selects events. Empty Tables defaults to DefaultTables(Domain).
	Filter Filter

	// Debounce is the quiet window before a re-fetch. Zero or negative
	// re-fetches on every event.
	Debounce time.Duration

	// Refetch loads the full view again. Required.
	Refetch func(ctx context.Context) error

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Subscription is one screen's logical channel: it listens to the feed and
// turns change events into debounced re-fetches.
//
// Thread-safety: Start, Stop and event delivery may race; all state is
// guarded by an internal mutex and the re-fetch runs without it.
type Subscription struct {
	feed Feed
	opts SubscriptionOptions

	mu      sync.Mutex
	ctx     context.Context
	cancel  func()
	timer   clock.Timer
	active  bool
	epoch   int
	arm     int // bumped on every rearm; a timer fires only if still current
	fetches int
	events  int
}

// NewSubscription creates a stopped subscription on feed.
func NewSubscription(feed Feed, opts SubscriptionOptions) *Subscription {
	if len(opts.Filter.Tables) == 0 {
		opts.Filter.Tables = DefaultTables(opts.Domain)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Subscription{feed: feed, opts: opts}
}

// Start opens the feed subscription. Calling Start on a running
// subscription is a no-op, so remount races cannot create duplicates.
func (s *Subscription) Start(ctx context.Context) error {
	if s.opts.Refetch == nil {
		return ErrNoRefetch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil
	}
	s.active = true
	s.epoch++
	s.ctx = ctx
	epoch := s.epoch
	s.cancel = s.feed.Subscribe(s.opts.Filter, func(ev ChangeEvent) {
		s.handle(epoch, ev)
	})
	s.opts.Logger.Debug("subscription started", "domain", s.opts.Domain, "tables", s.opts.Filter.Tables)
	return nil
}

// Stop closes the feed subscription and cancels a pending debounce timer.
// A re-fetch already running is left to finish. Safe to call repeatedly.
func (s *Subscription) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.opts.Logger.Debug("subscription stopped", "domain", s.opts.Domain)
}

// Active reports whether the subscription is started.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Fetches returns the number of re-fetches triggered so far.
func (s *Subscription) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// Events returns the number of change events received so far.
func (s *Subscription) Events() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Domain returns the screen domain.
func (s *Subscription) Domain() Domain {
	return s.opts.Domain
}

func (s *Subscription) handle(epoch int, ev ChangeEvent) {
	s.mu.Lock()
	if !s.active || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.events++

	if s.opts.Debounce <= 0 {
		s.mu.Unlock()
		s.fire(epoch, 0)
		return
	}

	// Rearm: the last event of a burst decides when the fetch happens. A
	// timer that already fired but has not taken the lock yet sees a newer
	// arm and gives way.
	if s.timer != nil {
		s.timer.Stop()
	}
	s.arm++
	arm := s.arm
	s.timer = s.opts.Clock.AfterFunc(s.opts.Debounce, func() { s.fire(epoch, arm) })
	s.mu.Unlock()
}

// fire runs a re-fetch. arm is zero for undebounced domains.
func (s *Subscription) fire(epoch, arm int) {
	s.mu.Lock()
	if !s.active || s.epoch != epoch || (arm != 0 && arm != s.arm) {
		s.mu.Unlock()
		return
	}
	if arm != 0 {
		s.timer = nil
	}
	s.fetches++
	ctx := s.ctx
	s.mu.Unlock()

	err := s.opts.Refetch(ctx)
	s.opts.Metrics.ObserveRefetch(string(s.opts.Domain), err)
	if err != nil {
		s.opts.Logger.Error("refetch failed; keeping last view", "domain", s.opts.Domain, "error", err)
	}
}
