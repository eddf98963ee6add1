package action

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/valetsync/internal/metrics"
	"github.com/roach88/valetsync/internal/realtime"
)

// Refetcher reloads the derived view of a domain from the store.
type Refetcher interface {
	Refetch(ctx context.Context, d realtime.Domain) error
}

// RefetcherFunc adapts a function to Refetcher.
type RefetcherFunc func(ctx context.Context, d realtime.Domain) error

func (f RefetcherFunc) Refetch(ctx context.Context, d realtime.Domain) error { return f(ctx, d) }

// Step is one user action expressed for the Runner.
type Step struct {
	Name   string
	Domain realtime.Domain // view re-fetched afterwards

	// Validate checks local input. A non-nil error rejects the step before
	// anything else runs.
	Validate func() error

	// Optimistic applies a local overlay to the view and reports whether
	// anything changed. Optional.
	Optimistic func() bool

	// Remote performs the store mutation and returns the success
	// confirmation and rows affected.
	Remote func(ctx context.Context) (Confirmation, int, error)
}

// Runner executes Steps under a fixed contract:
//
//  1. validate; on failure stop silently (REJECTED)
//  2. apply the optimistic overlay, if any
//  3. run the remote mutation
//  4. confirm success or failure to the user
//  5. re-fetch on success, and on failure when an overlay was applied or
//     some writes landed
//
// The re-fetch result, not a local undo, rolls an overlay back.
type Runner struct {
	Confirmer Confirmer
	Refetcher Refetcher
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Run executes step and returns its outcome. Errors are reported through
// the outcome and the confirmation; Run itself never fails.
func (r *Runner) Run(ctx context.Context, step Step) Outcome {
	logger := r.logger()
	o := newOutcome(step.Name)

	if step.Validate != nil {
		if err := step.Validate(); err != nil {
			o.transition(StateRejected)
			o.Err = err
			logger.Debug("action rejected", "action", step.Name, "error", err)
			r.Metrics.ObserveAction(step.Name, string(o.State))
			return *o
		}
	}

	if step.Optimistic != nil {
		o.Optimistic = step.Optimistic()
	}

	confirmation, affected, err := step.Remote(ctx)
	o.Affected = affected

	if err == nil {
		o.transition(StateCommitted)
		o.Confirmation = confirmation
		logger.Info("action committed", "action", step.Name, "affected", affected)
	} else {
		o.transition(StateRolledBack)
		o.Err = err
		o.Confirmation = failureConfirmation(err)
		level := slog.LevelError
		if IsConflict(err) {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "action failed", "action", step.Name, "kind", string(kindOf(err)), "error", err)
	}

	if r.Confirmer != nil {
		r.Confirmer.Confirm(o.Confirmation)
	}

	if o.State == StateCommitted || o.Optimistic || IsPartial(err) {
		r.refetch(ctx, step.Domain, o)
	}

	r.Metrics.ObserveAction(step.Name, string(o.State))
	return *o
}

func (r *Runner) refetch(ctx context.Context, d realtime.Domain, o *Outcome) {
	if r.Refetcher == nil || d == "" {
		return
	}
	if err := r.Refetcher.Refetch(ctx, d); err != nil {
		r.logger().Warn("reconciling refetch failed", "action", o.Action, "domain", string(d), "error", err)
		return
	}
	o.Refetched = true
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// failureConfirmation maps an action error to what the user sees.
func failureConfirmation(err error) Confirmation {
	var e *Error
	if !errors.As(err, &e) {
		return Confirmation{Level: LevelError, Title: "Error", Message: err.Error()}
	}
	switch e.Kind {
	case KindConflict:
		return Confirmation{Level: LevelWarning, Title: "Already assigned", Message: e.Message}
	case KindPartial:
		msg := "The action was only partially saved. Check the room and correct it manually."
		if e.Err != nil {
			msg += " (" + e.Err.Error() + ")"
		}
		return Confirmation{Level: LevelError, Title: "Incomplete", Message: msg}
	default:
		msg := e.Message
		if e.Err != nil {
			msg = e.Err.Error()
		}
		return Confirmation{Level: LevelError, Title: "Error", Message: msg}
	}
}
