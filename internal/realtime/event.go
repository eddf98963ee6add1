package realtime

import (
	"slices"
	"time"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Table names emitted by the store.
const (
	TableRooms         = "rooms"
	TableRoomStays     = "room_stays"
	TableSalesOrders   = "sales_orders"
	TableItems         = "sales_order_items"
	TablePayments      = "payments"
	TableNotifications = "notifications"
	TableShiftSessions = "shift_sessions"
)

// ChangeEvent describes one committed row change.
type ChangeEvent struct {
	Table  string    `json:"table"`
	Op     Op        `json:"op"`
	RowID  string    `json:"row_id"`
	UserID string    `json:"user_id,omitempty"` // target user, set for notifications
	At     time.Time `json:"at"`

	// Origin is empty for changes made by this process. Events relayed
	// from Postgres carry the publishing process id, or OriginPostgres
	// when a database trigger sent them.
	Origin string `json:"origin,omitempty"`
}

// Filter selects change events. An empty Tables matches every table; an
// empty UserID matches every user.
type Filter struct {
	Tables []string
	UserID string
}

// Matches reports whether ev passes the filter.
func (f Filter) Matches(ev ChangeEvent) bool {
	if len(f.Tables) > 0 && !slices.Contains(f.Tables, ev.Table) {
		return false
	}
	if f.UserID != "" && ev.UserID != f.UserID {
		return false
	}
	return true
}

// Feed is a change-feed subscription API. The returned function cancels the
// subscription and is safe to call more than once.
type Feed interface {
	Subscribe(filter Filter, fn func(ChangeEvent)) (cancel func())
}
