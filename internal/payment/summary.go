package payment

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/valetsync/internal/domain"
)

// Summary compares the tendered lines with the amount due.
type Summary struct {
	Target    decimal.Decimal
	Tendered  decimal.Decimal
	Remaining decimal.Decimal // still owed, zero when fully tendered
	ChangeDue decimal.Decimal // to hand back, zero when under-tendered
}

// Summarize reports how far the entries are from target. Neither side is
// an error.
func Summarize(target decimal.Decimal, entries []domain.PaymentEntry) Summary {
	tendered := domain.SumEntries(entries)
	s := Summary{Target: target, Tendered: tendered, Remaining: decimal.Zero, ChangeDue: decimal.Zero}
	diff := target.Sub(tendered)
	switch {
	case diff.IsPositive():
		s.Remaining = diff
	case diff.IsNegative():
		s.ChangeDue = diff.Neg()
	}
	return s
}

// Settled reports whether the entries cover the target exactly.
func (s Summary) Settled() bool {
	return s.Remaining.IsZero() && s.ChangeDue.IsZero()
}
