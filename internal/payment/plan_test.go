package payment

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/testutil"
)

var t0 = time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

func cash(n int64) domain.PaymentEntry {
	return domain.PaymentEntry{Amount: decimal.NewFromInt(n), Method: domain.MethodCash}
}

func card(n int64, terminal string) domain.PaymentEntry {
	return domain.PaymentEntry{Amount: decimal.NewFromInt(n), Method: domain.MethodCard, Terminal: terminal, CardLast4: "4242", CardType: "VISA"}
}

func mainCharge(amount int64) domain.Payment {
	return domain.Payment{
		ID: "main", OrderID: "order-1", Amount: decimal.NewFromInt(amount),
		Concept: domain.ConceptStay, Status: domain.PaymentPending, CreatedAt: t0.Add(-time.Hour),
	}
}

func TestBuildPlan_SplitsAgainstMainCharge(t *testing.T) {
	tests := []struct {
		name    string
		entries []domain.PaymentEntry
	}{
		{"single entry", []domain.PaymentEntry{cash(500)}},
		{"two entries", []domain.PaymentEntry{cash(300), card(200, "BBVA")}},
		{"three entries", []domain.PaymentEntry{cash(100), cash(100), card(300, "BANORTE")}},
		{"under the charge", []domain.PaymentEntry{cash(100), cash(50)}},
		{"over the charge", []domain.PaymentEntry{cash(400), card(400, "BBVA")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{OrderID: "order-1", Concept: domain.ConceptStay, Entries: tt.entries, CollectorID: "valet-x", At: t0}
			plan, err := BuildPlan(req, []domain.Payment{mainCharge(500)}, testutil.NewSequenceGenerator("pay"))
			require.NoError(t, err)

			require.Len(t, plan.Ops, len(tt.entries))
			assert.Equal(t, "main", plan.MainID)

			first := plan.Ops[0]
			assert.Equal(t, OpUpdate, first.Kind)
			assert.Equal(t, "main", first.Payment.ID)
			assert.True(t, tt.entries[0].Amount.Equal(first.Payment.Amount))
			assert.False(t, first.Payment.Partial)

			for i, op := range plan.Ops[1:] {
				assert.Equal(t, OpInsert, op.Kind)
				assert.Equal(t, "main", op.Payment.ParentID)
				assert.True(t, op.Payment.Partial)
				assert.True(t, tt.entries[i+1].Amount.Equal(op.Payment.Amount))
			}

			for _, op := range plan.Ops {
				assert.Equal(t, domain.PaymentCollected, op.Payment.Status)
				assert.Equal(t, "valet-x", op.Payment.CollectedBy)
			}

			// The plan total always equals what was tendered, whatever the
			// main charge was. Over and under payment are allowed.
			assert.True(t, domain.SumEntries(tt.entries).Equal(plan.Total()))
		})
	}
}

func TestBuildPlan_StandaloneWithoutPendingCharge(t *testing.T) {
	req := Request{
		OrderID: "order-1", Concept: domain.ConceptDamageCharge, ItemID: "item-dmg",
		Entries: []domain.PaymentEntry{cash(100), card(50, "BBVA")}, CollectorID: "valet-x",
		ShiftSessionID: "shift-1", At: t0,
	}
	plan, err := BuildPlan(req, nil, testutil.NewSequenceGenerator("pay"))
	require.NoError(t, err)

	assert.Empty(t, plan.MainID)
	require.Len(t, plan.Ops, 2)
	for i, op := range plan.Ops {
		assert.Equal(t, OpInsert, op.Kind)
		assert.Empty(t, op.Payment.ParentID)
		assert.False(t, op.Payment.Partial)
		assert.Equal(t, "item-dmg", op.Payment.ItemID)
		assert.Equal(t, domain.ConceptDamageCharge, op.Payment.Concept)
		assert.Equal(t, "shift-1", op.Payment.ShiftSessionID)
		assert.Equal(t, "pay-"+string(rune('1'+i)), op.Payment.ID)
	}
}

func TestBuildPlan_AmbiguousPendingFallsBackToStandalone(t *testing.T) {
	second := mainCharge(200)
	second.ID = "main-2"
	req := Request{OrderID: "order-1", Concept: domain.ConceptStay, Entries: []domain.PaymentEntry{cash(100)}, At: t0}

	plan, err := BuildPlan(req, []domain.Payment{mainCharge(500), second}, testutil.NewSequenceGenerator("pay"))
	require.NoError(t, err)
	assert.Empty(t, plan.MainID)
	assert.Equal(t, OpInsert, plan.Ops[0].Kind)
}

func TestBuildPlan_StandaloneFlagIgnoresPending(t *testing.T) {
	req := Request{OrderID: "order-1", Concept: domain.ConceptStay, Entries: []domain.PaymentEntry{cash(100)}, At: t0, Standalone: true}

	plan, err := BuildPlan(req, []domain.Payment{mainCharge(500)}, testutil.NewSequenceGenerator("pay"))
	require.NoError(t, err)
	assert.Equal(t, OpInsert, plan.Ops[0].Kind)
}

func TestBuildPlan_CardFieldsOnlyForCard(t *testing.T) {
	cashWithNoise := cash(100)
	cashWithNoise.Terminal = "BBVA"
	cashWithNoise.CardLast4 = "1111"
	req := Request{OrderID: "order-1", Concept: domain.ConceptStay, Entries: []domain.PaymentEntry{cashWithNoise, card(50, "BBVA")}, At: t0}

	plan, err := BuildPlan(req, []domain.Payment{mainCharge(150)}, testutil.NewSequenceGenerator("pay"))
	require.NoError(t, err)

	assert.Empty(t, plan.Ops[0].Payment.Terminal)
	assert.Empty(t, plan.Ops[0].Payment.CardLast4)
	assert.Equal(t, "BBVA", plan.Ops[1].Payment.Terminal)
	assert.Equal(t, "VISA", plan.Ops[1].Payment.CardBrand)
	assert.Equal(t, "4242", plan.Ops[1].Payment.CardLast4)
}

func TestBuildPlan_Validation(t *testing.T) {
	ids := testutil.NewSequenceGenerator("pay")
	tests := []struct {
		name string
		req  Request
	}{
		{"no order", Request{Entries: []domain.PaymentEntry{cash(1)}}},
		{"no entries", Request{OrderID: "o"}},
		{"zero amount", Request{OrderID: "o", Entries: []domain.PaymentEntry{cash(0)}}},
		{"negative amount", Request{OrderID: "o", Entries: []domain.PaymentEntry{cash(-5)}}},
		{"bad method", Request{OrderID: "o", Entries: []domain.PaymentEntry{{Amount: decimal.NewFromInt(1), Method: "CHEQUE"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildPlan(tt.req, nil, ids)
			assert.Error(t, err)
		})
	}
}
