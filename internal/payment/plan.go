package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/valetsync/internal/domain"
)

// ErrNoEntries is returned when a request carries no tender lines.
var ErrNoEntries = errors.New("payment: no entries")

// OpKind says how a planned record reaches the store.
type OpKind string

const (
	OpUpdate OpKind = "UPDATE" // fill in the pending main charge
	OpInsert OpKind = "INSERT"
)

// Op is one planned write.
type Op struct {
	Kind    OpKind
	Payment domain.Payment
}

// Plan is the ordered list of writes for one collection.
type Plan struct {
	Ops    []Op
	MainID string // id of the pending main charge, empty for standalone plans
}

// Request describes one collection.
type Request struct {
	OrderID string
	Concept domain.Concept
	ItemID  string // line the payments settle; set for ad-hoc charges
	Entries []domain.PaymentEntry

	CollectorID    string
	ShiftSessionID string // empty when the collector has no open shift
	At             time.Time

	// Standalone skips the main-charge lookup, for charges created by the
	// same action.
	Standalone bool
}

// Validate checks the tender lines.
func (r Request) Validate() error {
	if r.OrderID == "" {
		return errors.New("payment: missing order")
	}
	if len(r.Entries) == 0 {
		return ErrNoEntries
	}
	for i, e := range r.Entries {
		if !e.Amount.IsPositive() {
			return fmt.Errorf("payment: entry %d amount must be positive", i+1)
		}
		if !e.Method.Valid() {
			return fmt.Errorf("payment: entry %d has unknown method %q", i+1, e.Method)
		}
	}
	return nil
}

// BuildPlan maps the request onto the order's pending payments for the
// concept. It performs no I/O; ids are minted by ids.
func BuildPlan(req Request, pending []domain.Payment, ids domain.IDGenerator) (Plan, error) {
	if err := req.Validate(); err != nil {
		return Plan{}, err
	}

	if len(pending) == 1 && !req.Standalone {
		main := pending[0]
		plan := Plan{MainID: main.ID, Ops: make([]Op, 0, len(req.Entries))}

		first := collected(req, req.Entries[0])
		first.ID = main.ID
		first.ItemID = main.ItemID
		first.Concept = main.Concept
		first.CreatedAt = main.CreatedAt
		plan.Ops = append(plan.Ops, Op{Kind: OpUpdate, Payment: first})

		for _, e := range req.Entries[1:] {
			p := collected(req, e)
			p.ID = ids.NewID()
			p.ParentID = main.ID
			p.Partial = true
			p.CreatedAt = req.At
			plan.Ops = append(plan.Ops, Op{Kind: OpInsert, Payment: p})
		}
		return plan, nil
	}

	plan := Plan{Ops: make([]Op, 0, len(req.Entries))}
	for _, e := range req.Entries {
		p := collected(req, e)
		p.ID = ids.NewID()
		p.ItemID = req.ItemID
		p.CreatedAt = req.At
		plan.Ops = append(plan.Ops, Op{Kind: OpInsert, Payment: p})
	}
	return plan, nil
}

// collected builds the collected-state record of one tender line.
func collected(req Request, e domain.PaymentEntry) domain.Payment {
	at := req.At
	p := domain.Payment{
		OrderID:        req.OrderID,
		Amount:         e.Amount,
		Method:         e.Method,
		Reference:      e.Reference,
		Concept:        req.Concept,
		Status:         domain.PaymentCollected,
		CollectedBy:    req.CollectorID,
		CollectedAt:    &at,
		ShiftSessionID: req.ShiftSessionID,
	}
	if e.Method == domain.MethodCard {
		p.Terminal = e.Terminal
		p.CardBrand = e.CardType
		p.CardLast4 = e.CardLast4
	}
	return p
}

// Total sums the amounts of the planned records.
func (p Plan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, op := range p.Ops {
		total = total.Add(op.Payment.Amount)
	}
	return total
}
