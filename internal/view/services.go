package view

import (
	"slices"
	"time"

	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/store"
)

// markItems returns items with every listed line moved to status, where
// the move is legal. All moved lines share one stamp.
func markItems(items []store.ServiceItem, ids []string, status domain.DeliveryStatus, by string, at time.Time) ([]store.ServiceItem, bool) {
	var out []store.ServiceItem
	for i, it := range items {
		if !slices.Contains(ids, it.ID) || !domain.CanTransition(it.DeliveryStatus, status) {
			continue
		}
		if out == nil {
			out = slices.Clone(items)
		}
		next := it
		next.DeliveryStatus = status
		switch status {
		case domain.DeliveryAccepted:
			stamp := at
			next.AcceptedBy = by
			next.AcceptedAt = &stamp
		case domain.DeliveryDelivered, domain.DeliveryCancelled:
			stamp := at
			next.CompletedAt = &stamp
			if next.AcceptedBy == "" {
				next.AcceptedBy = by
			}
		}
		out[i] = next
	}
	if out == nil {
		return items, false
	}
	return out, true
}

// ItemsByRoom groups open service lines by room number, keeping list
// order inside each group.
func ItemsByRoom(items []store.ServiceItem) map[string][]store.ServiceItem {
	out := make(map[string][]store.ServiceItem)
	for _, it := range items {
		if it.DeliveryStatus.IsTerminal() {
			continue
		}
		out[it.RoomNumber] = append(out[it.RoomNumber], it)
	}
	return out
}
