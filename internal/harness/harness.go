package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/valetsync/internal/action"
	"github.com/roach88/valetsync/internal/bus"
	"github.com/roach88/valetsync/internal/config"
	"github.com/roach88/valetsync/internal/dedup"
	"github.com/roach88/valetsync/internal/notify"
	"github.com/roach88/valetsync/internal/push"
	"github.com/roach88/valetsync/internal/realtime"
	"github.com/roach88/valetsync/internal/session"
	"github.com/roach88/valetsync/internal/store"
	"github.com/roach88/valetsync/internal/testutil"
)

// Start is the instant every scenario begins at.
var Start = time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

// Harness executes one scenario. It owns a fresh store and one device per
// signed-in employee; each device has its own dedup cache and channel
// registry, as separate app processes would.
type Harness struct {
	store  *store.Store
	clock  *testutil.ManualClock
	ids    *testutil.SequenceGenerator
	bus    *bus.Bus
	outbox *push.Outbox
	logger *slog.Logger

	sessions map[string]*session.Session
	devices  map[string]*device
}

type device struct {
	alerts   *countingDevice
	cache    *dedup.Cache
	registry *realtime.Registry
}

// Run executes a scenario on a fresh in-memory store seeded with the demo
// fixture and returns the result.
//
// Execution flow:
// 1. Open the store and the process-wide services
// 2. Sign in every listed employee
// 3. Execute flow steps, checking expect clauses
// 4. Evaluate assertions against the trace and the store
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with the sessions logging to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	ctx := context.Background()
	h, err := newHarness(ctx, logger)
	if err != nil {
		return nil, err
	}
	defer h.close()

	for _, id := range scenario.Sessions {
		if err := h.signIn(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to sign in %s: %w", id, err)
		}
	}

	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{Store: h.store, Ctx: ctx, Toasts: h.toastCount}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, logger *slog.Logger) (*Harness, error) {
	clk := testutil.NewManualClock(Start)
	st, err := store.Open(":memory:", store.WithClock(clk))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	if err := st.Seed(ctx, store.DemoFixture(Start)); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to seed store: %w", err)
	}

	return &Harness{
		store:    st,
		clock:    clk,
		ids:      testutil.NewSequenceGenerator("id"),
		bus:      bus.New(logger),
		outbox:   &push.Outbox{},
		logger:   logger,
		sessions: make(map[string]*session.Session),
		devices:  make(map[string]*device),
	}, nil
}

func (h *Harness) signIn(ctx context.Context, employeeID string) error {
	dev := &device{
		alerts:   &countingDevice{},
		cache:    dedup.New(dedup.Options{Clock: h.clock, Logger: h.logger}),
		registry: realtime.NewRegistry(),
	}
	producer := &notify.Producer{
		Outlet:    h.store,
		Transport: h.outbox,
		IDs:       h.ids,
		Clock:     h.clock,
		Logger:    h.logger,
	}
	s, err := session.Open(ctx, session.Deps{
		Store:     h.store,
		Cache:     dev.cache,
		Registry:  dev.registry,
		Config:    config.Default(),
		Bus:       h.bus,
		Announcer: producer,
		Device:    dev.alerts,
		Clock:     h.clock,
		IDs:       h.ids,
		Logger:    h.logger,
	}, employeeID)
	if err != nil {
		dev.cache.Dispose()
		return err
	}
	h.sessions[employeeID] = s
	h.devices[employeeID] = dev
	return nil
}

func (h *Harness) close() {
	for id, s := range h.sessions {
		s.Close()
		h.devices[id].registry.Close()
		h.devices[id].cache.Dispose()
	}
	h.bus.Close()
	h.store.Close()
}

func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		ev, err := h.executeStep(ctx, step)
		if err != nil {
			return fmt.Errorf("flow[%d] %s: %w", i, step.Do, err)
		}
		ev = result.AddEvent(ev)
		if step.Expect != nil {
			for _, msg := range checkExpect(i, step, ev) {
				result.AddError(msg)
			}
		}
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, step FlowStep) (TraceEvent, error) {
	a := args(step.Args)
	if step.As != "" {
		return h.runAction(ctx, step, a)
	}

	ev := TraceEvent{Kind: step.Do, Args: step.Args}
	switch step.Do {
	case StepAdvance:
		d, err := time.ParseDuration(a.str("by"))
		if err != nil {
			return ev, err
		}
		ev.Kind = KindAdvance
		h.clock.Advance(d)
		return ev, nil

	case StepBackground, StepForeground:
		s, err := h.session(a.str("user"))
		if err != nil {
			return ev, err
		}
		ev.Kind = KindApp
		ev.Action = step.Do
		s.SetForeground(step.Do == StepForeground)
		ev.Toasts = len(s.Toasts.Active())
		return ev, nil

	case StepNotify:
		s, err := h.session(a.str("user"))
		if err != nil {
			return ev, err
		}
		dev := h.devices[a.str("user")].alerts
		before := dev.alerts()
		n := a.notification(h.ids.NewID())
		if err := h.store.InsertNotification(ctx, n); err != nil {
			return ev, err
		}
		switch {
		case !s.Router.Foreground():
			ev.Decision = string(notify.DecisionBackground)
		case dev.alerts() > before:
			ev.Decision = string(notify.DecisionToast)
		default:
			ev.Decision = string(notify.DecisionSuppressed)
		}
		ev.Toasts = len(s.Toasts.Active())
		return ev, nil

	case StepPush:
		s, err := h.session(a.str("user"))
		if err != nil {
			return ev, err
		}
		ev.Decision = string(s.Router.HandlePush(ctx, a.notification(h.ids.NewID())))
		return ev, nil

	case StepTap:
		s, err := h.session(a.str("user"))
		if err != nil {
			return ev, err
		}
		link, opened := s.Router.Tap(a.notification(""))
		ev.Decision = "IGNORED"
		if opened {
			ev.Decision = "OPENED"
		}
		ev.Message = fmt.Sprintf("%s/%s/%s", link.Screen, link.Action, link.TargetID)
		return ev, nil
	}
	return ev, fmt.Errorf("unknown step %q", step.Do)
}

func (h *Harness) runAction(ctx context.Context, step FlowStep, a args) (TraceEvent, error) {
	s, err := h.session(step.As)
	if err != nil {
		return TraceEvent{}, err
	}
	fn, ok := actions[step.Do]
	if !ok {
		return TraceEvent{}, fmt.Errorf("unknown action %q", step.Do)
	}
	out, err := fn(ctx, s, a)
	if err != nil {
		return TraceEvent{}, err
	}

	ev := TraceEvent{
		Kind:     KindAction,
		Actor:    step.As,
		Action:   step.Do,
		Args:     step.Args,
		State:    string(out.State),
		Affected: out.Affected,
		Level:    string(out.Confirmation.Level),
		Title:    out.Confirmation.Title,
		Message:  out.Confirmation.Message,
	}
	var actErr *action.Error
	if errors.As(out.Err, &actErr) {
		ev.Error = string(actErr.Kind)
	}
	return ev, nil
}

func (h *Harness) session(id string) (*session.Session, error) {
	s, ok := h.sessions[id]
	if !ok {
		return nil, fmt.Errorf("no session for %q", id)
	}
	return s, nil
}

func (h *Harness) toastCount(user string) (int, bool) {
	s, ok := h.sessions[user]
	if !ok {
		return 0, false
	}
	return len(s.Toasts.Active()), true
}

func checkExpect(index int, step FlowStep, ev TraceEvent) []string {
	e := step.Expect
	var errs []string
	check := func(field, want, got string) {
		if want != "" && want != got {
			errs = append(errs, fmt.Sprintf("flow[%d] %s: expected %s %q, got %q", index, step.Do, field, want, got))
		}
	}
	check("state", e.State, ev.State)
	check("level", e.Level, ev.Level)
	check("title", e.Title, ev.Title)
	check("message", e.Message, ev.Message)
	check("error", e.Error, ev.Error)
	check("decision", e.Decision, ev.Decision)
	if e.Affected != nil && *e.Affected != ev.Affected {
		errs = append(errs, fmt.Sprintf("flow[%d] %s: expected affected %d, got %d", index, step.Do, *e.Affected, ev.Affected))
	}
	return errs
}

// countingDevice counts alerts so the trace can tell a toast from a
// suppressed event.
type countingDevice struct {
	mu sync.Mutex
	n  int
}

func (d *countingDevice) Vibrate(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
	return nil
}

func (d *countingDevice) PresentSilent(context.Context) (string, error) { return "silent", nil }

func (d *countingDevice) Retract(context.Context, string) error { return nil }

func (d *countingDevice) alerts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}
