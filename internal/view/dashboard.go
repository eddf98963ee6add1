package view

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/valetsync/internal/domain"
)

// Dashboard is the valet's summary screen.
type Dashboard struct {
	Rooms          int             `json:"rooms"`
	Occupied       int             `json:"occupied"`
	Unassigned     int             `json:"unassigned"`
	Mine           int             `json:"mine"`
	Urgent         int             `json:"urgent"`
	AwaitingReview int             `json:"awaiting_review"` // checkout proposed, not yet confirmed
	Outstanding    decimal.Decimal `json:"outstanding"`
}

// Summarize derives the dashboard of valetID from the room list.
func Summarize(rooms []domain.Room, valetID string) Dashboard {
	d := Dashboard{Rooms: len(rooms), Outstanding: decimal.Zero}
	for _, r := range rooms {
		if r.Stay == nil {
			continue
		}
		st := *r.Stay
		d.Occupied++
		if st.EntryValetID == valetID || st.CheckoutValetID == valetID {
			d.Mine++
		}
		switch domain.PhaseOf(st) {
		case domain.PhaseUnassignedEntry:
			d.Unassigned++
		case domain.PhaseUrgentCheckout:
			d.Urgent++
		case domain.PhaseCheckoutProposed:
			d.AwaitingReview++
		}
		if st.Order != nil {
			d.Outstanding = d.Outstanding.Add(st.Order.RemainingAmount)
		}
	}
	return d
}
