// Package domain defines the records shared between valet devices, the
// reception application and the remote store: rooms, stays, sales orders,
// order items, payments, shifts and notifications.
//
// It also holds the two guarded state machines the coordination layer
// relies on:
//
//   - the valet-facing stay lifecycle (Phase / CanAcceptEntry / CanConfirmCheckout)
//   - the order item delivery lifecycle (CanTransition)
//
// Records here are plain values. The store owns them; devices only hold
// read-through copies plus short-lived optimistic overlays.
package domain
