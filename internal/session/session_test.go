package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/valetsync/internal/config"
	"github.com/roach88/valetsync/internal/dedup"
	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/notify"
	"github.com/roach88/valetsync/internal/realtime"
	"github.com/roach88/valetsync/internal/store"
	"github.com/roach88/valetsync/internal/testutil"
	"github.com/roach88/valetsync/internal/view"
)

var t0 = time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

type harness struct {
	deps  Deps
	clock *testutil.ManualClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := testutil.NewManualClock(t0)
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Seed(context.Background(), store.DemoFixture(t0)))

	cache := dedup.New(dedup.Options{Clock: clk})
	t.Cleanup(func() { cache.Dispose() })

	return &harness{
		clock: clk,
		deps: Deps{
			Store:    s,
			Cache:    cache,
			Registry: realtime.NewRegistry(),
			Config:   config.Default(),
			Clock:    clk,
			IDs:      testutil.NewSequenceGenerator("id"),
		},
	}
}

func (h *harness) open(t *testing.T, employeeID string) *Session {
	t.Helper()
	s, err := Open(context.Background(), h.deps, employeeID)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestOpen_LoadsViewsAndMountsScreens(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "valet-x")

	assert.Equal(t, domain.RoleValet, s.Employee.Role)
	dash, ok := s.Views.Dashboard.Get()
	require.True(t, ok)
	assert.Equal(t, 1, dash.Unassigned)
	assert.Equal(t, 2, dash.Mine)

	for _, d := range []realtime.Domain{realtime.DomainDashboard, realtime.DomainRooms, realtime.DomainServices} {
		sub, ok := s.Subscription(d)
		require.True(t, ok, d)
		assert.True(t, sub.Active(), d)
	}
	key, ok := h.deps.Registry.Key(notify.ChannelNotifications)
	require.True(t, ok)
	assert.Equal(t, "valet-x", key)
}

func TestOpen_UnknownEmployee(t *testing.T) {
	h := newHarness(t)
	_, err := Open(context.Background(), h.deps, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOpen_MissingDeps(t *testing.T) {
	_, err := Open(context.Background(), Deps{}, "valet-x")
	assert.Error(t, err)
}

func TestSession_RemoteChangeRespectsDebounce(t *testing.T) {
	h := newHarness(t)
	x := h.open(t, "valet-x")
	y := h.open(t, "valet-y")

	out := x.Actions.AcceptEntry(context.Background(), "stay-101")
	require.True(t, out.OK(), out.Err)

	dashSub, _ := y.Subscription(realtime.DomainDashboard)
	roomsSub, _ := y.Subscription(realtime.DomainRooms)
	assert.Equal(t, 1, dashSub.Fetches(), "dashboard re-fetches without delay")
	assert.Equal(t, 0, roomsSub.Fetches(), "rooms waits for its quiet window")

	h.clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 0, roomsSub.Fetches())
	h.clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 1, roomsSub.Fetches())

	rooms, _ := y.Views.Rooms.Get()
	room, ok := view.FindStay(rooms, "stay-101")
	require.True(t, ok)
	assert.Equal(t, "valet-x", room.Stay.EntryValetID)
}

func TestSession_UnmountCancelsPendingRefetch(t *testing.T) {
	h := newHarness(t)
	x := h.open(t, "valet-x")
	y := h.open(t, "valet-y")

	require.True(t, x.Actions.AcceptEntry(context.Background(), "stay-101").OK())
	y.Unmount(realtime.DomainRooms)
	h.clock.Advance(2 * time.Second)

	roomsSub, _ := y.Subscription(realtime.DomainRooms)
	assert.Equal(t, 0, roomsSub.Fetches())
	assert.False(t, roomsSub.Active())

	require.NoError(t, y.Mount(realtime.DomainRooms))
	require.NoError(t, y.Mount(realtime.DomainRooms))
	assert.True(t, roomsSub.Active())
}

func TestSession_ActionConfirmsOnBus(t *testing.T) {
	h := newHarness(t)
	x := h.open(t, "valet-x")

	out := x.Actions.AcceptEntry(context.Background(), "stay-101")
	require.True(t, out.OK())

	last, ok := x.Confirmations.Last()
	require.True(t, ok)
	assert.NotEmpty(t, last.Title)
}

func TestSession_NotificationBecomesToast(t *testing.T) {
	h := newHarness(t)
	y := h.open(t, "valet-y")

	n := domain.Notification{
		ID:      "n-1",
		UserID:  "valet-y",
		Title:   "Vehicle requested",
		Message: "Room 201 needs its car.",
		Payload: domain.NotificationPayload{Type: domain.BizVehicleRequest, StayID: "stay-201", RoomNumber: "201"},
	}
	require.NoError(t, h.deps.Store.InsertNotification(context.Background(), n))

	toasts := y.Toasts.Active()
	require.Len(t, toasts, 1)
	assert.Equal(t, "Vehicle requested", toasts[0].Title)

	y.SetForeground(false)
	n.ID = "n-2"
	n.Payload.Type = domain.BizCheckoutRequest
	require.NoError(t, h.deps.Store.InsertNotification(context.Background(), n))
	assert.Len(t, y.Toasts.Active(), 1, "background rows are left to push")

	h.clock.Advance(notify.DefaultToastTimeout)
	y.SetForeground(true)
	assert.Empty(t, y.Toasts.Active())
}

func TestSession_TapRunsOnLoop(t *testing.T) {
	h := newHarness(t)
	y := h.open(t, "valet-y")

	n := domain.Notification{Payload: domain.NotificationPayload{Type: domain.BizCheckoutRequest, StayID: "stay-102"}}
	require.True(t, y.Tap(n))
	require.True(t, y.Tap(n))
	assert.Equal(t, 2, y.Loop.Drain(context.Background()))

	// The second tap repeats the open link; only LinkDone lets it through again.
	link, opened := y.Router.Tap(n)
	assert.False(t, opened)
	assert.Equal(t, notify.LinkCheckout, link.Action)
}

func TestSession_SecondUserTakesNotificationChannel(t *testing.T) {
	h := newHarness(t)
	x := h.open(t, "valet-x")
	h.open(t, "valet-y")

	key, _ := h.deps.Registry.Key(notify.ChannelNotifications)
	assert.Equal(t, "valet-y", key)

	x.Close()
	key, ok := h.deps.Registry.Key(notify.ChannelNotifications)
	require.True(t, ok, "closing a stale session keeps the current user's channel")
	assert.Equal(t, "valet-y", key)
}

func TestSession_RegisterPushToken(t *testing.T) {
	h := newHarness(t)
	x := h.open(t, "valet-x")

	select {
	case err := <-x.RegisterPushToken("tok-x", "android"):
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("registration never finished")
	}
	tokens, err := h.deps.Store.PushTokens(context.Background(), "valet-x")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-x"}, tokens)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	x := h.open(t, "valet-x")
	x.Close()
	x.Close()

	assert.True(t, x.Views.Rooms.Closed())
	_, ok := h.deps.Registry.Key(notify.ChannelNotifications)
	assert.False(t, ok)
	assert.Error(t, x.Mount(realtime.DomainRooms))
}

func TestSession_GuardTurnsPanicIntoCrash(t *testing.T) {
	h := newHarness(t)
	x := h.open(t, "valet-x")
	err := x.Guard(func() error { panic("render failed") })
	_, ok := AsCrash(err)
	assert.True(t, ok)
	assert.Equal(t, ReloadHint, err.Error())
}
