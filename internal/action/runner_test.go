package action

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/valetsync/internal/metrics"
	"github.com/roach88/valetsync/internal/realtime"
)

func TestRun_OrderingOnSuccess(t *testing.T) {
	var trace []string
	r := &Runner{
		Confirmer: ConfirmerFunc(func(c Confirmation) { trace = append(trace, "confirm:"+string(c.Level)) }),
		Refetcher: RefetcherFunc(func(_ context.Context, d realtime.Domain) error {
			trace = append(trace, "refetch:"+string(d))
			return nil
		}),
	}

	o := r.Run(context.Background(), Step{
		Name:       "test",
		Domain:     realtime.DomainRooms,
		Validate:   func() error { trace = append(trace, "validate"); return nil },
		Optimistic: func() bool { trace = append(trace, "optimistic"); return true },
		Remote: func(context.Context) (Confirmation, int, error) {
			trace = append(trace, "remote")
			return success("ok", ""), 1, nil
		},
	})

	assert.Equal(t, []string{"validate", "optimistic", "remote", "confirm:success", "refetch:rooms"}, trace)
	assert.Equal(t, StateCommitted, o.State)
	assert.True(t, o.OK())
	assert.True(t, o.Optimistic)
	assert.True(t, o.Refetched)
	assert.Equal(t, 1, o.Affected)
}

func TestRun_RejectedDoesNothing(t *testing.T) {
	confirmed, remoteCalled, refetched := false, false, false
	r := &Runner{
		Confirmer: ConfirmerFunc(func(Confirmation) { confirmed = true }),
		Refetcher: RefetcherFunc(func(context.Context, realtime.Domain) error { refetched = true; return nil }),
	}

	o := r.Run(context.Background(), Step{
		Name:     "test",
		Domain:   realtime.DomainRooms,
		Validate: func() error { return validation("test", "plate is required") },
		Remote: func(context.Context) (Confirmation, int, error) {
			remoteCalled = true
			return Confirmation{}, 0, nil
		},
	})

	assert.Equal(t, StateRejected, o.State)
	assert.True(t, IsValidation(o.Err))
	assert.False(t, confirmed, "validation failures are silent")
	assert.False(t, remoteCalled)
	assert.False(t, refetched)
	assert.Equal(t, Confirmation{}, o.Confirmation)
}

func TestRun_FailureRefetchOnlyWithOverlay(t *testing.T) {
	tests := []struct {
		name       string
		optimistic bool
		err        error
		refetch    bool
		level      Level
	}{
		{"remote error without overlay", false, remote("test", errors.New("timeout")), false, LevelError},
		{"remote error with overlay", true, remote("test", errors.New("timeout")), true, LevelError},
		{"conflict with overlay", true, conflict("test", "taken"), true, LevelWarning},
		{"partial always refetches", false, partial("test", errors.New("insert failed")), true, LevelError},
		{"plain error", false, errors.New("boom"), false, LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Recorder{}
			refetched := 0
			r := &Runner{
				Confirmer: rec,
				Refetcher: RefetcherFunc(func(context.Context, realtime.Domain) error { refetched++; return nil }),
			}
			o := r.Run(context.Background(), Step{
				Name:       "test",
				Domain:     realtime.DomainServices,
				Optimistic: func() bool { return tt.optimistic },
				Remote: func(context.Context) (Confirmation, int, error) {
					return Confirmation{}, 0, tt.err
				},
			})

			assert.Equal(t, StateRolledBack, o.State)
			assert.Equal(t, tt.refetch, o.Refetched)
			assert.Equal(t, tt.refetch, refetched == 1)
			last, ok := rec.Last()
			require.True(t, ok, "every failure is acknowledged")
			assert.Equal(t, tt.level, last.Level)
		})
	}
}

func TestRun_ConflictConfirmation(t *testing.T) {
	rec := &Recorder{}
	r := &Runner{Confirmer: rec}
	r.Run(context.Background(), Step{
		Name: "test",
		Remote: func(context.Context) (Confirmation, int, error) {
			return Confirmation{}, 0, conflict("test", "This entry is already assigned to another valet.")
		},
	})
	last, _ := rec.Last()
	assert.Equal(t, Confirmation{Level: LevelWarning, Title: "Already assigned", Message: "This entry is already assigned to another valet."}, last)
}

func TestRun_RefetchFailureKeepsOutcome(t *testing.T) {
	r := &Runner{
		Refetcher: RefetcherFunc(func(context.Context, realtime.Domain) error { return errors.New("offline") }),
	}
	o := r.Run(context.Background(), Step{
		Name:   "test",
		Domain: realtime.DomainRooms,
		Remote: func(context.Context) (Confirmation, int, error) { return success("ok", ""), 1, nil },
	})
	assert.Equal(t, StateCommitted, o.State)
	assert.False(t, o.Refetched)
}

func TestRun_Metrics(t *testing.T) {
	m := metrics.New()
	r := &Runner{Metrics: m}
	r.Run(context.Background(), Step{
		Name:   "accept_entry",
		Remote: func(context.Context) (Confirmation, int, error) { return success("ok", ""), 1, nil },
	})
	r.Run(context.Background(), Step{
		Name:   "accept_entry",
		Remote: func(context.Context) (Confirmation, int, error) { return Confirmation{}, 0, conflict("accept_entry", "x") },
	})

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	found := 0
	for _, f := range families {
		if f.GetName() == "valetsync_action_outcomes_total" {
			found = len(f.GetMetric())
		}
	}
	assert.Equal(t, 2, found, "one series per state")
}

func TestOutcome_TransitionOutOfFinalPanics(t *testing.T) {
	o := newOutcome("x")
	o.transition(StateCommitted)
	assert.Panics(t, func() { o.transition(StateRolledBack) })
	assert.True(t, o.State.IsFinal())
}

func TestErrorHelpers(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), conflict("a", "b"))
	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsPartial(wrapped))
	assert.True(t, IsRemote(errors.New("unknown errors are remote")))
	assert.False(t, IsConflict(nil))
	assert.Contains(t, partial("x", errors.New("y")).Error(), "PARTIAL")
}
