package domain

// Phase is the valet-facing lifecycle position of a stay.
//
//	UNASSIGNED_ENTRY -> ASSIGNED_ENTRY -> VEHICLE_REGISTERED
//	  -> {URGENT_CHECKOUT_REQUESTED | VEHICLE_REGISTERED}
//	  -> CHECKOUT_PROPOSED -> CHECKOUT_CONFIRMED
type Phase string

const (
	PhaseUnassignedEntry   Phase = "UNASSIGNED_ENTRY"
	PhaseAssignedEntry     Phase = "ASSIGNED_ENTRY"
	PhaseVehicleRegistered Phase = "VEHICLE_REGISTERED"
	PhaseUrgentCheckout    Phase = "URGENT_CHECKOUT_REQUESTED"
	PhaseCheckoutProposed  Phase = "CHECKOUT_PROPOSED"
	PhaseCheckoutConfirmed Phase = "CHECKOUT_CONFIRMED"
)

// PhaseOf derives the phase of a stay from its columns.
func PhaseOf(s RoomStay) Phase {
	switch {
	case s.CheckoutConfirmedAt != nil:
		return PhaseCheckoutConfirmed
	case s.CheckoutProposedAt != nil:
		return PhaseCheckoutProposed
	case s.HasVehicle() && (s.CheckoutRequestedAt != nil || s.VehicleRequestedAt != nil):
		return PhaseUrgentCheckout
	case s.HasVehicle():
		return PhaseVehicleRegistered
	case s.EntryValetID != "":
		return PhaseAssignedEntry
	default:
		return PhaseUnassignedEntry
	}
}

// IsUrgent reports whether the guest is waiting on a valet.
func (s RoomStay) IsUrgent() bool {
	return s.VehicleRequestedAt != nil || s.CheckoutRequestedAt != nil
}

// CanAcceptEntry reports whether valet may claim the entry of s: nobody holds
// it, or valet already does (idempotent re-assignment).
func CanAcceptEntry(s RoomStay, valetID string) bool {
	if s.HasVehicle() {
		return false
	}
	return s.EntryValetID == "" || s.EntryValetID == valetID
}

// CanRegisterVehicle reports whether valet may register the vehicle of s.
func CanRegisterVehicle(s RoomStay, valetID string) bool {
	return s.EntryValetID == "" || s.EntryValetID == valetID
}

// CanProposeCheckout reports whether valet may propose the checkout of s.
func CanProposeCheckout(s RoomStay, valetID string) bool {
	if !s.HasVehicle() || s.CheckoutConfirmedAt != nil {
		return false
	}
	return s.CheckoutValetID == "" || s.CheckoutValetID == valetID
}

// CanConfirmCheckout reports whether valet may confirm the checkout of s.
// A stay without a vehicle can never be confirmed.
func CanConfirmCheckout(s RoomStay, valetID string) bool {
	if !s.HasVehicle() || s.CheckoutConfirmedAt != nil {
		return false
	}
	return s.CheckoutValetID == "" || s.CheckoutValetID == valetID
}
