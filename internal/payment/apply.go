package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/store"
)

// ErrMainNotPending is returned when the main charge stopped being PENDING
// between planning and applying, e.g. another valet collected it.
var ErrMainNotPending = errors.New("payment: main charge is no longer pending")

// Writer is the store surface Apply needs.
type Writer interface {
	CollectPayment(ctx context.Context, p domain.Payment) (int64, error)
	InsertPayment(ctx context.Context, p domain.Payment) error
}

// PartialError reports a plan that failed after some writes landed. The
// applied rows are not rolled back; a re-fetch shows them.
type PartialError struct {
	Applied []string // payment ids written before the failure
	Failed  string   // payment id whose write failed
	Err     error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("payment partially applied (%d written, failed at %s): %v", len(e.Applied), e.Failed, e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// IsPartial reports whether err is a PartialError.
// Uses errors.As to handle wrapped errors.
func IsPartial(err error) bool {
	var pe *PartialError
	return errors.As(err, &pe)
}

// Apply writes the plan in order and returns the ids written. A failure
// after at least one write returns a *PartialError.
func Apply(ctx context.Context, w Writer, plan Plan) ([]string, error) {
	applied := make([]string, 0, len(plan.Ops))
	for _, op := range plan.Ops {
		err := applyOp(ctx, w, op)
		if err != nil {
			if len(applied) == 0 {
				return applied, err
			}
			return applied, &PartialError{Applied: applied, Failed: op.Payment.ID, Err: err}
		}
		applied = append(applied, op.Payment.ID)
	}
	return applied, nil
}

func applyOp(ctx context.Context, w Writer, op Op) error {
	switch op.Kind {
	case OpUpdate:
		n, err := w.CollectPayment(ctx, op.Payment)
		if err != nil {
			return fmt.Errorf("collect payment %s: %w", op.Payment.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("collect payment %s: %w", op.Payment.ID, ErrMainNotPending)
		}
		return nil
	case OpInsert:
		if err := w.InsertPayment(ctx, op.Payment); err != nil {
			return fmt.Errorf("insert payment %s: %w", op.Payment.ID, err)
		}
		return nil
	}
	return fmt.Errorf("unknown payment op %q", op.Kind)
}

// Store is everything Collector needs from the remote store.
type Store interface {
	Writer
	PendingPayments(ctx context.Context, orderID string, concept domain.Concept) ([]domain.Payment, error)
	ActiveShift(ctx context.Context, employeeID string) (domain.ShiftSession, error)
	RecomputeRemaining(ctx context.Context, orderID string) (decimal.Decimal, error)
}

// Result is the outcome of a collection.
type Result struct {
	Plan      Plan
	Applied   []string
	Remaining decimal.Decimal
}

// Collector plans and applies collections against a store.
type Collector struct {
	Store  Store
	IDs    domain.IDGenerator
	Logger *slog.Logger
}

// Collect resolves the collector's shift, plans the records against the
// order's pending charge and writes them. The order's remaining amount is
// recomputed even when the write failed partway.
func (c *Collector) Collect(ctx context.Context, req Request) (Result, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if req.At.IsZero() {
		req.At = time.Now()
	}
	if req.ShiftSessionID == "" {
		req.ShiftSessionID = ResolveShift(ctx, c.Store, req.CollectorID, logger)
	}

	var pending []domain.Payment
	if !req.Standalone {
		var err error
		pending, err = c.Store.PendingPayments(ctx, req.OrderID, req.Concept)
		if err != nil {
			return Result{}, fmt.Errorf("load pending payments: %w", err)
		}
	}

	plan, err := BuildPlan(req, pending, c.IDs)
	if err != nil {
		return Result{}, err
	}

	applied, applyErr := Apply(ctx, c.Store, plan)
	res := Result{Plan: plan, Applied: applied}
	if len(applied) > 0 {
		remaining, err := c.Store.RecomputeRemaining(ctx, req.OrderID)
		if err != nil {
			logger.Warn("recompute remaining failed", "order_id", req.OrderID, "error", err)
		}
		res.Remaining = remaining
	}
	return res, applyErr
}

// ActiveShiftLookup finds an employee's open shift.
type ActiveShiftLookup interface {
	ActiveShift(ctx context.Context, employeeID string) (domain.ShiftSession, error)
}

// ResolveShift returns the open shift id of an employee, or "" when there
// is none or the lookup fails. The shift id is an audit field; a missing
// one never blocks a collection.
func ResolveShift(ctx context.Context, lookup ActiveShiftLookup, employeeID string, logger *slog.Logger) string {
	if employeeID == "" {
		return ""
	}
	sess, err := lookup.ActiveShift(ctx, employeeID)
	if errors.Is(err, store.ErrNotFound) {
		return ""
	}
	if err != nil {
		if logger != nil {
			logger.Warn("active shift lookup failed", "employee_id", employeeID, "error", err)
		}
		return ""
	}
	return sess.ID
}
