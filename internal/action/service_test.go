package action

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/realtime"
	"github.com/roach88/valetsync/internal/store"
	"github.com/roach88/valetsync/internal/testutil"
)

var t0 = time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

type fixture struct {
	store     *store.Store
	clock     *testutil.ManualClock
	ids       *testutil.SequenceGenerator
	refetches map[realtime.Domain]int
	mu        sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := testutil.NewManualClock(t0)
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Seed(context.Background(), store.DemoFixture(t0)))
	return &fixture{store: s, clock: clk, ids: testutil.NewSequenceGenerator("id"), refetches: map[realtime.Domain]int{}}
}

// service builds a Service for valetID with its own confirmation recorder.
func (f *fixture) service(valetID string) (*Service, *Recorder) {
	rec := &Recorder{}
	return &Service{
		Actor: domain.Employee{ID: valetID, Role: domain.RoleValet},
		Store: f.store,
		Runner: &Runner{
			Confirmer: rec,
			Refetcher: RefetcherFunc(func(_ context.Context, d realtime.Domain) error {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.refetches[d]++
				return nil
			}),
		},
		IDs:   f.ids,
		Clock: f.clock,
	}, rec
}

func (f *fixture) refetchCount(d realtime.Domain) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refetches[d]
}

// claimOverlay is an in-memory stand-in for the rooms list.
type claimOverlay struct {
	entry map[string]string
	items map[string]domain.DeliveryStatus
}

func newClaimOverlay() *claimOverlay {
	return &claimOverlay{entry: map[string]string{}, items: map[string]domain.DeliveryStatus{}}
}

func (o *claimOverlay) ClaimEntry(stayID, valetID string) bool {
	o.entry[stayID] = valetID
	return true
}

func (o *claimOverlay) MarkItems(ids []string, status domain.DeliveryStatus, _ string, _ time.Time) bool {
	for _, id := range ids {
		o.items[id] = status
	}
	return len(ids) > 0
}

type announcement struct {
	role    domain.Role
	title   string
	payload domain.NotificationPayload
}

type fakeAnnouncer struct{ got []announcement }

func (a *fakeAnnouncer) Announce(_ context.Context, role domain.Role, title, _ string, p domain.NotificationPayload) error {
	a.got = append(a.got, announcement{role: role, title: title, payload: p})
	return nil
}

func TestAcceptEntry_FirstValetWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, recX := f.service("valet-x")
	y, recY := f.service("valet-y")

	o := x.AcceptEntry(ctx, "stay-101")
	require.Equal(t, StateCommitted, o.State)
	assert.Equal(t, 1, o.Affected)
	assert.True(t, o.Refetched)
	last, _ := recX.Last()
	assert.Equal(t, LevelSuccess, last.Level)

	stay, err := f.store.GetStay(ctx, "stay-101")
	require.NoError(t, err)
	assert.Equal(t, "valet-x", stay.EntryValetID)

	f.clock.Advance(50 * time.Millisecond)
	o = y.AcceptEntry(ctx, "stay-101")
	assert.Equal(t, StateRolledBack, o.State)
	assert.True(t, IsConflict(o.Err), "race loss is a conflict, not a generic error")
	assert.Equal(t, 0, o.Affected)
	last, _ = recY.Last()
	assert.Equal(t, LevelWarning, last.Level)
	assert.Equal(t, "Already assigned", last.Title)

	stay, err = f.store.GetStay(ctx, "stay-101")
	require.NoError(t, err)
	assert.Equal(t, "valet-x", stay.EntryValetID, "no state change")
}

func TestAcceptEntry_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, _ := f.service("valet-x")
	y, _ := f.service("valet-y")

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i, svc := range []*Service{x, y} {
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			outcomes[i] = svc.AcceptEntry(ctx, "stay-101")
		}(i, svc)
	}
	wg.Wait()

	committed, conflicts := 0, 0
	for _, o := range outcomes {
		switch {
		case o.State == StateCommitted:
			committed++
		case IsConflict(o.Err):
			conflicts++
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, conflicts)
}

func TestAcceptEntry_FailedOverlayConvergesAfterRefetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, _ := f.service("valet-x")
	require.True(t, x.AcceptEntry(ctx, "stay-101").OK())

	overlay := newClaimOverlay()
	y, _ := f.service("valet-y")
	y.Overlay = overlay
	y.Runner.Refetcher = RefetcherFunc(func(ctx context.Context, _ realtime.Domain) error {
		stay, err := f.store.GetStay(ctx, "stay-101")
		if err != nil {
			return err
		}
		overlay.entry["stay-101"] = stay.EntryValetID
		return nil
	})

	o := y.AcceptEntry(ctx, "stay-101")
	assert.True(t, o.Optimistic)
	assert.True(t, o.Refetched)
	assert.Equal(t, "valet-x", overlay.entry["stay-101"], "ground truth replaces the optimistic claim")
}

func TestAcceptEntry_Rejected(t *testing.T) {
	f := newFixture(t)
	x, rec := f.service("valet-x")

	o := x.AcceptEntry(context.Background(), " ")
	assert.Equal(t, StateRejected, o.State)
	assert.Empty(t, rec.All())
	assert.Zero(t, f.refetchCount(realtime.DomainRooms))

	anon, _ := f.service("")
	assert.Equal(t, StateRejected, anon.AcceptEntry(context.Background(), "stay-101").State)
}

func TestRegisterVehicle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, _ := f.service("valet-x")
	y, _ := f.service("valet-y")

	assert.Equal(t, StateRejected, x.RegisterVehicle(ctx, VehicleInput{StayID: "stay-101"}).State, "plate required")
	assert.Equal(t, StateRejected, x.RegisterVehicle(ctx, VehicleInput{
		StayID: "stay-101", Plate: "AAA111",
		Payments: []domain.PaymentEntry{{Amount: decimal.NewFromInt(500), Method: domain.MethodCard}},
	}).State, "card needs a terminal")

	require.True(t, x.AcceptEntry(ctx, "stay-101").OK())
	o := y.RegisterVehicle(ctx, VehicleInput{StayID: "stay-101", Plate: "BBB222"})
	assert.True(t, IsConflict(o.Err))

	o = x.RegisterVehicle(ctx, VehicleInput{
		StayID: "stay-101", Plate: "aaa 111", Brand: "Mazda", Model: "3",
		Payments: []domain.PaymentEntry{{Amount: decimal.NewFromInt(500), Method: domain.MethodCash}},
	})
	require.Equal(t, StateCommitted, o.State, "%v", o.Err)
	assert.Contains(t, o.Confirmation.Message, "500.00")

	stay, err := f.store.GetStay(ctx, "stay-101")
	require.NoError(t, err)
	assert.Equal(t, "AAA111", stay.VehiclePlate)
	require.NotNil(t, stay.Order)
	require.Len(t, stay.Order.Payments, 1)
	p := stay.Order.Payments[0]
	assert.Equal(t, domain.ConceptStay, p.Concept)
	assert.Equal(t, domain.PaymentCollected, p.Status)
	assert.Equal(t, "valet-x", p.CollectedBy)
	assert.True(t, stay.Order.RemainingAmount.IsZero())
}

func TestCheckoutFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, _ := f.service("valet-x")
	y, _ := f.service("valet-y")
	ann := &fakeAnnouncer{}
	x.Announcer = ann

	o := x.ConfirmCheckout(ctx, CheckoutInput{StayID: "stay-101"})
	assert.True(t, IsConflict(o.Err), "no vehicle, no checkout")

	require.True(t, x.ProposeCheckout(ctx, "stay-102").OK())
	require.Len(t, ann.got, 1)
	assert.Equal(t, domain.RoleReception, ann.got[0].role)
	assert.Equal(t, domain.BizCheckoutProposed, ann.got[0].payload.Type)
	assert.Equal(t, "102", ann.got[0].payload.RoomNumber)

	assert.True(t, IsConflict(y.ConfirmCheckout(ctx, CheckoutInput{StayID: "stay-102"}).Err))
	require.True(t, x.ConfirmCheckout(ctx, CheckoutInput{StayID: "stay-102"}).OK())

	stay, err := f.store.GetStay(ctx, "stay-102")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCheckoutConfirmed, domain.PhaseOf(stay))
}

func TestAcceptConsumptions_Batch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, rec := f.service("valet-x")
	overlay := newClaimOverlay()
	x.Overlay = overlay

	ids := []string{"item-203-a", "item-203-b", "item-203-c"}
	o := x.AcceptConsumptions(ctx, ids)

	require.Equal(t, StateCommitted, o.State)
	assert.Equal(t, 3, o.Affected)
	require.Len(t, rec.All(), 1, "one confirmation for the batch")
	assert.Equal(t, "3 items accepted.", rec.All()[0].Message)
	assert.Equal(t, 1, f.refetchCount(realtime.DomainServices))
	for _, id := range ids {
		assert.Equal(t, domain.DeliveryAccepted, overlay.items[id])
	}

	items, err := f.store.ListServiceItems(ctx)
	require.NoError(t, err)
	for _, it := range items {
		assert.Equal(t, domain.DeliveryAccepted, it.DeliveryStatus)
		assert.Equal(t, "valet-x", it.AcceptedBy)
		require.NotNil(t, it.AcceptedAt)
		assert.True(t, it.AcceptedAt.Equal(t0))
	}

	o = x.AcceptConsumptions(ctx, ids)
	assert.True(t, IsConflict(o.Err), "retry moves nothing")
}

func TestDeliveryMonotonicity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, _ := f.service("valet-x")

	require.True(t, x.AcceptConsumption(ctx, "item-203-a").OK())
	require.True(t, x.MarkInTransit(ctx, "item-203-a").OK())
	require.True(t, x.DeliverConsumption(ctx, "item-203-a").OK())

	for _, o := range []Outcome{
		x.AcceptConsumption(ctx, "item-203-a"),
		x.MarkInTransit(ctx, "item-203-a"),
		x.DeliverConsumption(ctx, "item-203-a"),
		x.CancelConsumption(ctx, "item-203-a", "late"),
	} {
		assert.True(t, IsConflict(o.Err), o.Action)
		assert.Contains(t, o.Confirmation.Message, "already delivered")
	}

	require.True(t, x.CancelConsumption(ctx, "item-203-b", "out of stock").OK())
	assert.True(t, IsConflict(x.AcceptConsumption(ctx, "item-203-b").Err))

	a, err := f.store.GetItem(ctx, "item-203-a")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDelivered, a.DeliveryStatus)
	b, err := f.store.GetItem(ctx, "item-203-b")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCancelled, b.DeliveryStatus)
}

func TestAcceptConsumption_TakenByOther(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, _ := f.service("valet-x")
	y, _ := f.service("valet-y")

	require.True(t, x.AcceptConsumption(ctx, "item-203-a").OK())
	o := y.AcceptConsumption(ctx, "item-203-a")
	assert.True(t, IsConflict(o.Err))
	assert.Equal(t, "This item is already assigned to another valet.", o.Confirmation.Message)
}

func TestDeliverConsumptions_PartialBatchStillCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, _ := f.service("valet-x")

	require.True(t, x.AcceptConsumptions(ctx, []string{"item-203-a", "item-203-b"}).OK())
	o := x.DeliverConsumptions(ctx, []string{"item-203-a", "item-203-b", "item-203-c"})
	require.Equal(t, StateCommitted, o.State)
	assert.Equal(t, 2, o.Affected, "the pending line cannot skip ACCEPTED")
}

func TestRegisterExtraHour(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, _ := f.service("valet-x")
	ann := &fakeAnnouncer{}
	x.Announcer = ann

	o := x.RegisterExtraHour(ctx, ChargeInput{StayID: "stay-102", Quantity: 2})
	require.Equal(t, StateCommitted, o.State, "%v", o.Err)

	stay, err := f.store.GetStay(ctx, "stay-102")
	require.NoError(t, err)
	var extra *domain.SalesOrderItem
	for i := range stay.Order.Items {
		if stay.Order.Items[i].Concept == domain.ConceptExtraHour {
			extra = &stay.Order.Items[i]
		}
	}
	require.NotNil(t, extra)
	assert.Equal(t, "240", extra.Total.String())
	assert.Equal(t, "2 extra hours", extra.Description)
	assert.Equal(t, "740", stay.Order.RemainingAmount.String())

	require.Len(t, ann.got, 1)
	assert.Equal(t, domain.BizExtraHour, ann.got[0].payload.Type)
	assert.Equal(t, extra.ID, ann.got[0].payload.ConsumptionID)
}

func TestRegisterExtraPerson_WithPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, _ := f.service("valet-x")

	o := x.RegisterExtraPerson(ctx, ChargeInput{
		StayID:   "stay-101",
		Payments: []domain.PaymentEntry{{Amount: decimal.NewFromInt(150), Method: domain.MethodCash}},
	})
	require.Equal(t, StateCommitted, o.State, "%v", o.Err)

	stay, err := f.store.GetStay(ctx, "stay-101")
	require.NoError(t, err)
	assert.Equal(t, 3, stay.CurrentPeople)
	require.Len(t, stay.Order.Payments, 1)
	p := stay.Order.Payments[0]
	assert.Equal(t, domain.ConceptExtraPerson, p.Concept)
	assert.NotEmpty(t, p.ItemID)
	assert.Empty(t, p.ParentID)
}

func TestReportDamage_Validation(t *testing.T) {
	f := newFixture(t)
	x, _ := f.service("valet-x")

	assert.Equal(t, StateRejected, x.ReportDamage(context.Background(), ChargeInput{StayID: "stay-101", Description: "scratch"}).State)
	assert.Equal(t, StateRejected, x.ReportDamage(context.Background(), ChargeInput{StayID: "stay-101", Amount: decimal.NewFromInt(10)}).State)
}

// failingPayments breaks the second payment insert.
type failingPayments struct {
	*store.Store
	inserts int
}

func (s *failingPayments) InsertPayment(ctx context.Context, p domain.Payment) error {
	s.inserts++
	if s.inserts == 2 {
		return errors.New("connection reset")
	}
	return s.Store.InsertPayment(ctx, p)
}

func TestReportDamage_PartialPaymentFailureIsSurfaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, rec := f.service("valet-x")
	x.Store = &failingPayments{Store: f.store}

	o := x.ReportDamage(ctx, ChargeInput{
		StayID: "stay-101", Amount: decimal.NewFromInt(300), Description: "Broken lamp",
		Payments: []domain.PaymentEntry{
			{Amount: decimal.NewFromInt(100), Method: domain.MethodCash},
			{Amount: decimal.NewFromInt(200), Method: domain.MethodCash},
		},
	})

	assert.Equal(t, StateRolledBack, o.State)
	assert.True(t, IsPartial(o.Err))
	assert.True(t, o.Refetched, "re-fetch exposes the partial state")
	last, _ := rec.Last()
	assert.Equal(t, LevelError, last.Level)

	stay, err := f.store.GetStay(ctx, "stay-101")
	require.NoError(t, err)
	assert.Len(t, stay.Order.Items, 2, "damage line stays")
	assert.Len(t, stay.Order.Payments, 1, "first payment stays, nothing compensated")
}

func TestVerifyRoomChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.InsertItem(ctx, domain.SalesOrderItem{
		ID: "item-rc", OrderID: "order-102", Concept: domain.ConceptRoomChangeAdjustment,
		Description: "Upgrade to suite", Quantity: 1,
		UnitPrice: decimal.NewFromInt(200), Total: decimal.NewFromInt(200), CreatedAt: t0,
	}))
	x, _ := f.service("valet-x")

	assert.Error(t, x.VerifyRoomChange(ctx, "item-102-stay", nil).Err, "wrong concept")

	o := x.VerifyRoomChange(ctx, "item-rc", []domain.PaymentEntry{
		{Amount: decimal.NewFromInt(200), Method: domain.MethodCard, Terminal: "BBVA", CardLast4: "1234"},
	})
	require.Equal(t, StateCommitted, o.State, "%v", o.Err)

	it, err := f.store.GetItem(ctx, "item-rc")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCompleted, it.DeliveryStatus)

	payments, err := f.store.PaymentsByOrder(ctx, "order-102")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "item-rc", payments[0].ItemID)
	assert.Equal(t, "BBVA", payments[0].Terminal)

	assert.True(t, IsConflict(x.VerifyRoomChange(ctx, "item-rc", nil).Err), "verified once")
}
