package payment

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/store"
	"github.com/roach88/valetsync/internal/testutil"
)

// flakyWriter fails the insert with the given index (0-based across inserts).
type flakyWriter struct {
	failAt   int
	inserts  int
	written  []string
	collectN int64
}

func (w *flakyWriter) CollectPayment(_ context.Context, p domain.Payment) (int64, error) {
	if w.collectN > 0 {
		w.written = append(w.written, p.ID)
	}
	return w.collectN, nil
}

func (w *flakyWriter) InsertPayment(_ context.Context, p domain.Payment) error {
	defer func() { w.inserts++ }()
	if w.inserts == w.failAt {
		return errors.New("network down")
	}
	w.written = append(w.written, p.ID)
	return nil
}

func TestApply_PartialFailureIsSurfaced(t *testing.T) {
	req := Request{OrderID: "order-1", Concept: domain.ConceptExtraHour, Entries: []domain.PaymentEntry{cash(100), cash(100), cash(100)}, At: t0}
	plan, err := BuildPlan(req, nil, testutil.NewSequenceGenerator("pay"))
	require.NoError(t, err)

	w := &flakyWriter{failAt: 1}
	applied, err := Apply(context.Background(), w, plan)

	require.Error(t, err)
	assert.True(t, IsPartial(err))
	var pe *PartialError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []string{"pay-1"}, pe.Applied)
	assert.Equal(t, "pay-2", pe.Failed)
	assert.Equal(t, []string{"pay-1"}, applied)
	assert.Equal(t, []string{"pay-1"}, w.written, "written rows stay, no compensation")
}

func TestApply_FirstWriteFailureIsNotPartial(t *testing.T) {
	req := Request{OrderID: "order-1", Concept: domain.ConceptExtraHour, Entries: []domain.PaymentEntry{cash(100)}, At: t0}
	plan, err := BuildPlan(req, nil, testutil.NewSequenceGenerator("pay"))
	require.NoError(t, err)

	_, err = Apply(context.Background(), &flakyWriter{failAt: 0}, plan)
	require.Error(t, err)
	assert.False(t, IsPartial(err))
}

func TestApply_MainNoLongerPending(t *testing.T) {
	req := Request{OrderID: "order-1", Concept: domain.ConceptStay, Entries: []domain.PaymentEntry{cash(100)}, At: t0}
	plan, err := BuildPlan(req, []domain.Payment{mainCharge(100)}, testutil.NewSequenceGenerator("pay"))
	require.NoError(t, err)

	_, err = Apply(context.Background(), &flakyWriter{failAt: -1, collectN: 0}, plan)
	assert.ErrorIs(t, err, ErrMainNotPending)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithClock(testutil.NewManualClock(t0)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Seed(context.Background(), store.DemoFixture(t0)))
	return s
}

func TestCollect_SplitAgainstPendingStayCharge(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	c := &Collector{Store: s, IDs: testutil.NewSequenceGenerator("pay")}

	res, err := c.Collect(ctx, Request{
		OrderID:     "order-201",
		Concept:     domain.ConceptStay,
		Entries:     []domain.PaymentEntry{cash(300), card(200, "BBVA")},
		CollectorID: "valet-y",
		At:          t0,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pay-201-main", "pay-1"}, res.Applied)
	assert.True(t, res.Remaining.IsZero())

	payments, err := s.PaymentsByOrder(ctx, "order-201")
	require.NoError(t, err)
	require.Len(t, payments, 2)

	byID := map[string]domain.Payment{}
	for _, p := range payments {
		byID[p.ID] = p
	}
	main := byID["pay-201-main"]
	assert.Equal(t, "300", main.Amount.String())
	assert.Equal(t, domain.MethodCash, main.Method)
	assert.Equal(t, domain.PaymentCollected, main.Status)
	assert.Equal(t, "valet-y", main.CollectedBy)

	linked := byID["pay-1"]
	assert.Equal(t, "200", linked.Amount.String())
	assert.Equal(t, domain.MethodCard, linked.Method)
	assert.Equal(t, "BBVA", linked.Terminal)
	assert.Equal(t, "pay-201-main", linked.ParentID)
	assert.True(t, linked.Partial)
}

func TestCollect_StampsOpenShift(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.StartShift(ctx, "shift-1", "valet-y", t0)
	require.NoError(t, err)
	c := &Collector{Store: s, IDs: testutil.NewSequenceGenerator("pay")}

	_, err = c.Collect(ctx, Request{OrderID: "order-201", Concept: domain.ConceptStay, Entries: []domain.PaymentEntry{cash(500)}, CollectorID: "valet-y", At: t0})
	require.NoError(t, err)

	payments, err := s.PaymentsByShift(ctx, "shift-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "pay-201-main", payments[0].ID)
}

func TestCollect_NoShiftIsNotAnError(t *testing.T) {
	s := openStore(t)
	c := &Collector{Store: s, IDs: testutil.NewSequenceGenerator("pay")}

	res, err := c.Collect(context.Background(), Request{OrderID: "order-201", Concept: domain.ConceptStay, Entries: []domain.PaymentEntry{cash(100)}, CollectorID: "valet-x", At: t0})
	require.NoError(t, err)
	assert.Equal(t, "400", res.Remaining.String(), "under-payment is accepted and leaves a remainder")
}

func TestSummarize(t *testing.T) {
	target := decimal.NewFromInt(500)
	tests := []struct {
		name      string
		entries   []domain.PaymentEntry
		remaining string
		change    string
		settled   bool
	}{
		{"exact", []domain.PaymentEntry{cash(300), card(200, "BBVA")}, "0", "0", true},
		{"under payment allowed", []domain.PaymentEntry{cash(300)}, "200", "0", false},
		{"over payment allowed", []domain.PaymentEntry{cash(1000)}, "0", "500", false},
		{"nothing tendered", nil, "500", "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(target, tt.entries)
			assert.Equal(t, tt.remaining, s.Remaining.String())
			assert.Equal(t, tt.change, s.ChangeDue.String())
			assert.Equal(t, tt.settled, s.Settled())
		})
	}
}
