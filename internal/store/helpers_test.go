package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/valetsync/internal/realtime"
	"github.com/roach88/valetsync/internal/testutil"
)

var t0 = time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

// setupStore opens a store seeded with DemoFixture on a manual clock.
func setupStore(t *testing.T) (*Store, *testutil.ManualClock) {
	t.Helper()
	clk := testutil.NewManualClock(t0)
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Seed(context.Background(), DemoFixture(t0)))
	return s, clk
}

// eventRecorder collects change events published by the store.
type eventRecorder struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func record(s *Store, filter realtime.Filter) *eventRecorder {
	r := &eventRecorder{}
	s.Subscribe(filter, func(ev realtime.ChangeEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	})
	return r
}

func (r *eventRecorder) all() []realtime.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]realtime.ChangeEvent(nil), r.events...)
}
