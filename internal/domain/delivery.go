package domain

// DeliveryStatus is the delivery lifecycle of an order item.
// The empty value means the item is waiting for a valet (PENDING_VALET).
type DeliveryStatus string

const (
	DeliveryNone         DeliveryStatus = ""
	DeliveryPendingValet DeliveryStatus = "PENDING_VALET"
	DeliveryAccepted     DeliveryStatus = "ACCEPTED"
	DeliveryInTransit    DeliveryStatus = "IN_TRANSIT"
	DeliveryDelivered    DeliveryStatus = "DELIVERED"
	DeliveryCancelled    DeliveryStatus = "CANCELLED"
	DeliveryCompleted    DeliveryStatus = "COMPLETED"
)

// Normalize maps the empty status to PENDING_VALET.
func (s DeliveryStatus) Normalize() DeliveryStatus {
	if s == DeliveryNone {
		return DeliveryPendingValet
	}
	return s
}

// IsTerminal reports whether no further delivery action may touch the item.
func (s DeliveryStatus) IsTerminal() bool {
	switch s.Normalize() {
	case DeliveryDelivered, DeliveryCancelled, DeliveryCompleted:
		return true
	}
	return false
}

// forward lists the forward-only transitions of the delivery lifecycle.
var forward = map[DeliveryStatus][]DeliveryStatus{
	DeliveryPendingValet: {DeliveryAccepted, DeliveryCancelled},
	DeliveryAccepted:     {DeliveryInTransit, DeliveryDelivered, DeliveryCancelled},
	DeliveryInTransit:    {DeliveryDelivered, DeliveryCancelled},
}

// CanTransition reports whether an item may move from one status to another.
// Moving to the current status is not a transition and returns false; callers
// that need idempotent retries check AlreadyAt first.
func CanTransition(from, to DeliveryStatus) bool {
	for _, next := range forward[from.Normalize()] {
		if next == to.Normalize() {
			return true
		}
	}
	return false
}

// AlreadyAt reports whether the item is already at the target status, i.e.
// a retried assignment would be a no-op.
func AlreadyAt(current, target DeliveryStatus) bool {
	return current.Normalize() == target.Normalize()
}

// SourcesFor returns every status from which target is reachable in one step.
// The store uses it to build conditional updates.
func SourcesFor(target DeliveryStatus) []DeliveryStatus {
	var out []DeliveryStatus
	for _, from := range []DeliveryStatus{DeliveryPendingValet, DeliveryAccepted, DeliveryInTransit} {
		if CanTransition(from, target) {
			out = append(out, from)
		}
	}
	return out
}
