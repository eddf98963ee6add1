package notify

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/valetsync/internal/bus"
	"github.com/roach88/valetsync/internal/clock"
	"github.com/roach88/valetsync/internal/dedup"
	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/push"
	"github.com/roach88/valetsync/internal/realtime"
	"github.com/roach88/valetsync/internal/store"
	"github.com/roach88/valetsync/internal/testutil"
)

var t0 = time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

type fakeDevice struct {
	vibrations int
	presented  int
	retracted  []string
	failVibe   bool
}

func (d *fakeDevice) Vibrate(context.Context) error {
	d.vibrations++
	if d.failVibe {
		return errors.New("no motor")
	}
	return nil
}

func (d *fakeDevice) PresentSilent(context.Context) (string, error) {
	d.presented++
	return "h-1", nil
}

func (d *fakeDevice) Retract(_ context.Context, h string) error {
	d.retracted = append(d.retracted, h)
	return nil
}

type routerFixture struct {
	router *Router
	toasts *ToastStack
	device *fakeDevice
	clock  *testutil.ManualClock
	bus    *bus.Bus
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	clk := testutil.NewManualClock(t0)
	b := bus.New(nil)
	cache := dedup.New(dedup.Options{Clock: clk})
	t.Cleanup(func() { cache.Dispose() })
	toasts := NewToastStack(ToastOptions{Clock: clk, IDs: testutil.NewSequenceGenerator("toast"), Bus: b, Timeout: time.Hour})
	dev := &fakeDevice{}
	return routerFixture{
		router: NewRouter(Options{Cache: cache, Toasts: toasts, Device: dev, Bus: b}),
		toasts: toasts,
		device: dev,
		clock:  clk,
		bus:    b,
	}
}

func vehicleRequest(id string) domain.Notification {
	return domain.Notification{
		ID: id, UserID: "valet-x", Title: "Vehicle requested", Message: "Room 102",
		Payload: domain.NotificationPayload{Type: domain.BizVehicleRequest, StayID: "stay-102", RoomNumber: "102"},
	}
}

func TestRouter_DuplicateWithinWindowIsSuppressed(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	assert.Equal(t, DecisionToast, f.router.HandleRealtime(ctx, vehicleRequest("n-1")))
	f.clock.Advance(5 * time.Second)
	assert.Equal(t, DecisionSuppressed, f.router.HandleRealtime(ctx, vehicleRequest("n-2")))

	assert.Len(t, f.toasts.Active(), 1)
	assert.Equal(t, 1, f.device.vibrations, "no sound for the duplicate")
	assert.Equal(t, 1, f.device.presented)
	assert.Equal(t, []string{"h-1"}, f.device.retracted)

	f.clock.Advance(15 * time.Second)
	assert.Equal(t, DecisionToast, f.router.HandleRealtime(ctx, vehicleRequest("n-3")), "20s after the first")
}

func TestRouter_DedupSpansChannels(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	assert.Equal(t, DecisionDisplay, f.router.HandlePush(ctx, vehicleRequest("n-1")))
	assert.Equal(t, DecisionSuppressed, f.router.HandleRealtime(ctx, vehicleRequest("n-1")))
	assert.Empty(t, f.toasts.Active())
	assert.Zero(t, f.device.vibrations)
}

func TestRouter_BackgroundLeavesPushAsOnlyPath(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	f.router.SetForeground(false)
	assert.False(t, f.router.Foreground())

	assert.Equal(t, DecisionBackground, f.router.HandleRealtime(ctx, vehicleRequest("n-1")))
	assert.Equal(t, DecisionDisplay, f.router.HandlePush(ctx, vehicleRequest("n-1")), "background realtime did not claim the key")
	assert.Empty(t, f.toasts.Active())

	f.router.SetForeground(true)
	assert.Equal(t, DecisionSuppressed, f.router.HandleRealtime(ctx, vehicleRequest("n-1")))
}

func TestRouter_DifferentKeysPass(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	checkout := vehicleRequest("n-2")
	checkout.Payload.Type = domain.BizCheckoutRequest
	other := vehicleRequest("n-3")
	other.Payload.StayID = "stay-201"

	assert.Equal(t, DecisionToast, f.router.HandleRealtime(ctx, vehicleRequest("n-1")))
	assert.Equal(t, DecisionToast, f.router.HandleRealtime(ctx, checkout))
	assert.Equal(t, DecisionToast, f.router.HandleRealtime(ctx, other))
}

func TestRouter_DeviceFailureStillToasts(t *testing.T) {
	f := newRouterFixture(t)
	f.device.failVibe = true
	assert.Equal(t, DecisionToast, f.router.HandleRealtime(context.Background(), vehicleRequest("n-1")))
	assert.Equal(t, 1, f.device.presented)
}

func TestRouter_TapIsIdempotent(t *testing.T) {
	f := newRouterFixture(t)
	var opened []DeepLink
	f.bus.Subscribe(TopicDeepLink, func(m bus.Message) { opened = append(opened, m.Payload.(DeepLink)) })

	link, ok := f.router.Tap(vehicleRequest("n-1"))
	require.True(t, ok)
	assert.Equal(t, DeepLink{Screen: ScreenRooms, Action: LinkCheckout, TargetID: "stay-102"}, link)

	_, ok = f.router.Tap(vehicleRequest("n-1"))
	assert.False(t, ok, "re-render must not reopen the modal")
	assert.Len(t, opened, 1)

	f.router.LinkDone()
	_, ok = f.router.Tap(vehicleRequest("n-1"))
	assert.True(t, ok)

	_, ok = f.router.Tap(domain.Notification{Payload: domain.NotificationPayload{Type: domain.BizGeneral}})
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	p := func(typ domain.BusinessType) domain.NotificationPayload {
		return domain.NotificationPayload{Type: typ, StayID: "stay-1", ConsumptionID: "item-1"}
	}
	tests := []struct {
		typ  domain.BusinessType
		want DeepLink
	}{
		{domain.BizVehicleRequest, DeepLink{ScreenRooms, LinkCheckout, "stay-1"}},
		{domain.BizCheckoutRequest, DeepLink{ScreenRooms, LinkCheckout, "stay-1"}},
		{domain.BizNewEntry, DeepLink{ScreenRooms, LinkEntry, "stay-1"}},
		{domain.BizConsumption, DeepLink{ScreenServices, LinkNone, "item-1"}},
		{domain.BizExtraHour, DeepLink{ScreenRooms, LinkVerify, "item-1"}},
		{domain.BizExtraPerson, DeepLink{ScreenRooms, LinkVerify, "item-1"}},
		{domain.BizDamage, DeepLink{ScreenRooms, LinkVerify, "item-1"}},
		{domain.BizPromo, DeepLink{ScreenRooms, LinkVerify, "item-1"}},
		{domain.BizRenewal, DeepLink{ScreenRooms, LinkVerify, "item-1"}},
		{domain.BizRoomChange, DeepLink{ScreenRooms, LinkVerifyRoomChange, "item-1"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			got, ok := Resolve(p(tt.typ))
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := Resolve(domain.NotificationPayload{Type: domain.BizNewEntry})
	assert.False(t, ok, "no stay id")
	got, ok := Resolve(domain.NotificationPayload{Type: domain.BizCheckoutProposed, StayID: "stay-1"})
	assert.False(t, ok)
	assert.Equal(t, ScreenDashboard, got.Screen)
}

func TestDeepLinkTracker(t *testing.T) {
	var tr DeepLinkTracker
	a := DeepLink{ScreenRooms, LinkEntry, "stay-1"}
	b := DeepLink{ScreenRooms, LinkCheckout, "stay-1"}

	assert.False(t, tr.Seen(a))
	assert.True(t, tr.Seen(a))
	assert.False(t, tr.Seen(b))
	assert.False(t, tr.Seen(a), "only the last link counts")
}

func TestToastStack_MaxThreeEvictsOldest(t *testing.T) {
	clk := testutil.NewManualClock(t0)
	b := bus.New(nil)
	var dismissed []string
	b.Subscribe(TopicToastDismissed, func(m bus.Message) { dismissed = append(dismissed, m.Payload.(Toast).ID) })
	s := NewToastStack(ToastOptions{Clock: clk, IDs: testutil.NewSequenceGenerator("toast"), Bus: b})

	for i := 0; i < 4; i++ {
		s.Push(vehicleRequest("n"))
	}
	ids := func() []string {
		var out []string
		for _, t := range s.Active() {
			out = append(out, t.ID)
		}
		return out
	}
	assert.Equal(t, []string{"toast-2", "toast-3", "toast-4"}, ids())
	assert.Equal(t, []string{"toast-1"}, dismissed)
	assert.Equal(t, 3, clk.Pending(), "the evicted toast's timer was stopped")
}

func TestToastStack_EachToastHasItsOwnTimeout(t *testing.T) {
	clk := testutil.NewManualClock(t0)
	s := NewToastStack(ToastOptions{Clock: clk, IDs: testutil.NewSequenceGenerator("toast")})

	s.Push(vehicleRequest("n"))
	clk.Advance(2 * time.Second)
	s.Push(vehicleRequest("n"))

	clk.Advance(3 * time.Second)
	require.Len(t, s.Active(), 1)
	assert.Equal(t, "toast-2", s.Active()[0].ID)

	clk.Advance(2 * time.Second)
	assert.Empty(t, s.Active())
}

func TestToastStack_DismissAndTap(t *testing.T) {
	clk := testutil.NewManualClock(t0)
	s := NewToastStack(ToastOptions{Clock: clk, IDs: testutil.NewSequenceGenerator("toast")})
	a := s.Push(vehicleRequest("n"))
	b := s.Push(vehicleRequest("n"))

	assert.True(t, s.Dismiss(a.ID))
	assert.False(t, s.Dismiss(a.ID))

	got, ok := s.Tap(b.ID)
	require.True(t, ok)
	assert.Equal(t, "stay-102", got.Payload.StayID)
	_, ok = s.Tap(b.ID)
	assert.False(t, ok)
	assert.Zero(t, clk.Pending())
}

// stalledClock never fires timers, like a suspended host.
type stalledClock struct{ now time.Time }

type noTimer struct{}

func (noTimer) Stop() bool { return true }

func (c *stalledClock) Now() time.Time                             { return c.now }
func (c *stalledClock) AfterFunc(time.Duration, func()) clock.Timer { return noTimer{} }

func TestToastStack_Tick(t *testing.T) {
	clk := &stalledClock{now: t0}
	s := NewToastStack(ToastOptions{Clock: clk, Timeout: 5 * time.Second, IDs: testutil.NewSequenceGenerator("toast")})
	s.Push(vehicleRequest("n"))
	clk.now = t0.Add(3 * time.Second)
	s.Push(vehicleRequest("n"))

	assert.Zero(t, s.Tick())
	clk.now = t0.Add(5 * time.Second)
	assert.Equal(t, 1, s.Tick())
	clk.now = t0.Add(time.Minute)
	assert.Equal(t, 1, s.Tick())
	assert.Empty(t, s.Active())
}

func seededStore(t *testing.T, clk clock.Clock) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "notify.db"), store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Seed(context.Background(), store.DemoFixture(t0)))
	return s
}

func TestListener_OnePerUser(t *testing.T) {
	f := newRouterFixture(t)
	s := seededStore(t, f.clock)
	ctx := context.Background()
	l := &Listener{Feed: s, Registry: realtime.NewRegistry(), Source: s, Router: f.router}

	require.NoError(t, l.Ensure(ctx, "valet-x"))
	require.NoError(t, l.Ensure(ctx, "valet-x"))
	before := s.Hub().Len()

	require.NoError(t, s.InsertNotification(ctx, vehicleRequest("n-1")))
	assert.Len(t, f.toasts.Active(), 1)

	other := vehicleRequest("n-2")
	other.UserID = "valet-y"
	other.Payload.StayID = "stay-201"
	require.NoError(t, s.InsertNotification(ctx, other))
	assert.Len(t, f.toasts.Active(), 1, "filtered by user")

	require.NoError(t, l.Ensure(ctx, "valet-y"))
	assert.Equal(t, before, s.Hub().Len(), "stale channel replaced, not duplicated")
	key, _ := l.Registry.Key(ChannelNotifications)
	assert.Equal(t, "valet-y", key)

	third := vehicleRequest("n-3")
	third.UserID = "valet-y"
	third.Payload.StayID = "stay-203"
	require.NoError(t, s.InsertNotification(ctx, third))
	assert.Len(t, f.toasts.Active(), 2)

	l.Release()
	assert.Equal(t, before-1, s.Hub().Len())
}

func TestProducer_AnnounceToReception(t *testing.T) {
	clk := testutil.NewManualClock(t0)
	s := seededStore(t, clk)
	ctx := context.Background()
	require.NoError(t, s.UpsertPushToken(ctx, "reception-1", "tok-r", "android"))

	outbox := &push.Outbox{}
	p := &Producer{Outlet: s, Transport: outbox, IDs: testutil.NewSequenceGenerator("n"), Clock: clk}
	err := p.Announce(ctx, domain.RoleReception, "Damage reported", "Room 203: broken lamp",
		domain.NotificationPayload{Type: domain.BizDamage, StayID: "stay-203", ConsumptionID: "item-9"})
	require.NoError(t, err)

	list, err := s.ListNotifications(ctx, "reception-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "n-1", list[0].ID)
	assert.Equal(t, domain.BizDamage, list[0].Payload.Type)

	msgs := outbox.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tok-r", msgs[0].Token)
	assert.Equal(t, "stay-203", msgs[0].Data[push.KeyStayID])
	assert.Equal(t, "n-1", msgs[0].Data[push.KeyNotificationID])
}

func TestProducer_NotifyDefaultsType(t *testing.T) {
	clk := testutil.NewManualClock(t0)
	s := seededStore(t, clk)
	p := &Producer{Outlet: s, IDs: testutil.NewSequenceGenerator("n"), Clock: clk}

	out, err := p.Notify(context.Background(), []string{"valet-x", "valet-y"}, "Hello", "", domain.NotificationPayload{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, domain.BizGeneral, out[0].Payload.Type)
}
