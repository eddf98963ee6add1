package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/valetsync/internal/action"
	"github.com/roach88/valetsync/internal/bus"
	"github.com/roach88/valetsync/internal/clock"
	"github.com/roach88/valetsync/internal/config"
	"github.com/roach88/valetsync/internal/dedup"
	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/metrics"
	"github.com/roach88/valetsync/internal/notify"
	"github.com/roach88/valetsync/internal/realtime"
	"github.com/roach88/valetsync/internal/store"
	"github.com/roach88/valetsync/internal/view"
)

// Deps are the process-wide collaborators shared by every session.
type Deps struct {
	Store    *store.Store      // required
	Cache    *dedup.Cache      // required, one per signed-in device
	Registry *realtime.Registry // required, process-wide
	Config   config.Config

	Bus       *bus.Bus         // defaults to a private bus
	Announcer action.Announcer // optional
	Device    notify.Device    // optional
	Clock     clock.Clock
	IDs       domain.IDGenerator
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Session is one valet's device.
type Session struct {
	Employee      domain.Employee
	Views         *view.Set
	Actions       *action.Service
	Router        *notify.Router
	Toasts        *notify.ToastStack
	Confirmations *action.Recorder
	Bus           *bus.Bus
	Loop          *Loop

	deps     Deps
	ctx      context.Context
	listener *notify.Listener
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[realtime.Domain]*realtime.Subscription
	closed bool
}

// Open signs employeeID in: loads every view, mounts the three screen
// subscriptions and subscribes to the employee's notifications. ctx
// bounds the whole session.
func Open(ctx context.Context, deps Deps, employeeID string) (*Session, error) {
	if deps.Store == nil || deps.Cache == nil || deps.Registry == nil {
		return nil, errors.New("session: store, cache and registry are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.IDs == nil {
		deps.IDs = domain.UUIDv7Generator{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Bus == nil {
		deps.Bus = bus.New(deps.Logger)
	}

	emp, err := deps.Store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("sign in %s: %w", employeeID, err)
	}
	logger := deps.Logger.With("employee_id", emp.ID)

	s := &Session{
		Employee:      emp,
		Views:         view.NewSet(deps.Store, emp.ID),
		Confirmations: &action.Recorder{},
		Bus:           deps.Bus,
		Loop:          NewLoop(deps.Config.Development(), logger),
		deps:          deps,
		ctx:           ctx,
		logger:        logger,
		subs:          make(map[realtime.Domain]*realtime.Subscription),
	}
	if err := s.Views.Load(ctx); err != nil {
		return nil, err
	}

	s.Toasts = notify.NewToastStack(notify.ToastOptions{
		Max:     deps.Config.Toasts.Max,
		Timeout: deps.Config.Toasts.Timeout,
		Clock:   deps.Clock,
		IDs:     deps.IDs,
		Bus:     deps.Bus,
		Metrics: deps.Metrics,
	})
	s.Router = notify.NewRouter(notify.Options{
		Cache:  deps.Cache,
		Toasts: s.Toasts,
		Device: deps.Device,
		Bus:    deps.Bus,
		Logger: logger,
	})
	s.Actions = &action.Service{
		Actor: emp,
		Store: deps.Store,
		Runner: &action.Runner{
			Confirmer: action.ConfirmerFunc(s.confirm),
			Refetcher: s.Views,
			Logger:    logger,
			Metrics:   deps.Metrics,
		},
		IDs:       deps.IDs,
		Clock:     deps.Clock,
		Overlay:   s.Views,
		Announcer: deps.Announcer,
		Logger:    logger,
	}

	s.listener = &notify.Listener{
		Feed:     deps.Store,
		Registry: deps.Registry,
		Source:   deps.Store,
		Router:   s.Router,
		Logger:   logger,
	}
	if err := s.listener.Ensure(ctx, emp.ID); err != nil {
		return nil, err
	}

	for _, d := range []realtime.Domain{realtime.DomainDashboard, realtime.DomainRooms, realtime.DomainServices} {
		if err := s.Mount(d); err != nil {
			s.Close()
			return nil, err
		}
	}
	logger.Info("session opened", "role", emp.Role)
	return s, nil
}

func (s *Session) confirm(c action.Confirmation) {
	s.Confirmations.Confirm(c)
	s.Bus.Publish(action.TopicConfirmation, c)
}

// Mount starts the subscription of screen d. Mounting a mounted screen
// does nothing.
func (s *Session) Mount(d realtime.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session: closed")
	}
	sub, ok := s.subs[d]
	if !ok {
		sub = realtime.NewSubscription(s.deps.Store, realtime.SubscriptionOptions{
			Domain:   d,
			Debounce: s.deps.Config.DebounceFor(d),
			Refetch:  s.Views.RefetchFunc(d),
			Clock:    s.deps.Clock,
			Logger:   s.logger,
			Metrics:  s.deps.Metrics,
		})
		s.subs[d] = sub
	}
	return sub.Start(s.ctx)
}

// Unmount stops the subscription of screen d and cancels its pending
// debounce.
func (s *Session) Unmount(d realtime.Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[d]; ok {
		sub.Stop()
	}
}

// Subscription returns the subscription of screen d, if mounted once.
func (s *Session) Subscription(d realtime.Domain) (*realtime.Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[d]
	return sub, ok
}

// SetForeground forwards app visibility to the router. Returning to the
// foreground also clears toasts whose time ran out while suspended.
func (s *Session) SetForeground(fg bool) {
	s.Router.SetForeground(fg)
	if fg {
		s.Toasts.Tick()
	}
}

// Tap opens the deep link of a tapped notification on the loop.
func (s *Session) Tap(n domain.Notification) bool {
	return s.Loop.Post(func(context.Context) error {
		link, opened := s.Router.Tap(n)
		if opened {
			s.logger.Info("deep link opened", "screen", link.Screen, "action", link.Action, "target_id", link.TargetID)
		}
		return nil
	})
}

// RegisterPushToken records the device token in the background. The
// returned channel yields the result once; callers may ignore it.
func (s *Session) RegisterPushToken(token, platform string) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := s.deps.Store.UpsertPushToken(s.ctx, s.Employee.ID, token, platform)
		if err != nil {
			s.logger.Warn("push token registration failed", "error", err)
		}
		done <- err
	}()
	return done
}

// Guard runs fn inside the crash boundary.
func (s *Session) Guard(fn func() error) error {
	return Recover(s.deps.Config.Development(), fn)
}

// Close unmounts every screen, drops view state and releases the
// notifications channel. Safe to call repeatedly.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, sub := range s.subs {
		sub.Stop()
	}
	s.mu.Unlock()

	if key, ok := s.deps.Registry.Key(notify.ChannelNotifications); ok && key == s.Employee.ID {
		s.listener.Release()
	}
	s.Views.Close()
	s.Toasts.Clear()
	s.Loop.Stop()
	s.logger.Info("session closed")
}
