package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/realtime"
)

// ErrConflict is returned when a write violates a uniqueness rule, e.g.
// opening a second shift for an employee.
var ErrConflict = errors.New("store: conflict")

// VehicleRegistration is the input of RegisterVehicle.
type VehicleRegistration struct {
	StayID  string
	ValetID string
	Plate   string
	Brand   string
	Model   string
}

// DeliveryUpdate moves one order item to a new delivery status.
type DeliveryUpdate struct {
	ItemID string
	To     domain.DeliveryStatus
	By     string
	At     time.Time
	Notes  string
}

// AssignEntryValet claims the entry of an active stay that has no vehicle
// yet. The claim only succeeds when nobody holds the entry or valetID
// already does. Returns rows affected.
func (s *Store) AssignEntryValet(ctx context.Context, stayID, valetID string) (int64, error) {
	return s.execConditional(ctx, realtime.TableRoomStays, stayID, `
		UPDATE room_stays SET entry_valet_id = ?
		WHERE id = ? AND status = ? AND vehicle_plate IS NULL
		  AND (entry_valet_id IS NULL OR entry_valet_id = ?)
	`, valetID, stayID, string(domain.StayActive), valetID)
}

// RegisterVehicle records the guest's vehicle under the same assignee guard
// as AssignEntryValet and makes the caller the entry valet.
func (s *Store) RegisterVehicle(ctx context.Context, reg VehicleRegistration) (int64, error) {
	return s.execConditional(ctx, realtime.TableRoomStays, reg.StayID, `
		UPDATE room_stays
		SET vehicle_plate = ?, vehicle_brand = ?, vehicle_model = ?, entry_valet_id = ?
		WHERE id = ? AND status = ?
		  AND (entry_valet_id IS NULL OR entry_valet_id = ?)
	`, domain.NormalizePlate(reg.Plate), nullString(reg.Brand), nullString(reg.Model), reg.ValetID,
		reg.StayID, string(domain.StayActive), reg.ValetID)
}

// ProposeCheckout marks that valetID inspected the room and proposes the
// checkout to reception.
func (s *Store) ProposeCheckout(ctx context.Context, stayID, valetID string, at time.Time) (int64, error) {
	return s.execConditional(ctx, realtime.TableRoomStays, stayID, `
		UPDATE room_stays SET checkout_valet_id = ?, checkout_proposed_at = ?
		WHERE id = ? AND status = ? AND vehicle_plate IS NOT NULL
		  AND checkout_confirmed_at IS NULL
		  AND (checkout_valet_id IS NULL OR checkout_valet_id = ?)
	`, valetID, at.UTC(), stayID, string(domain.StayActive), valetID)
}

// ConfirmCheckout records that the vehicle left. Requires a registered
// vehicle and an unconfirmed checkout.
func (s *Store) ConfirmCheckout(ctx context.Context, stayID, valetID string, at time.Time) (int64, error) {
	return s.execConditional(ctx, realtime.TableRoomStays, stayID, `
		UPDATE room_stays SET checkout_valet_id = ?, checkout_confirmed_at = ?
		WHERE id = ? AND status = ? AND vehicle_plate IS NOT NULL
		  AND checkout_confirmed_at IS NULL
		  AND (checkout_valet_id IS NULL OR checkout_valet_id = ?)
	`, valetID, at.UTC(), stayID, string(domain.StayActive), valetID)
}

// RequestVehicle stamps a guest's request for their vehicle (reception side).
func (s *Store) RequestVehicle(ctx context.Context, stayID string, at time.Time) (int64, error) {
	return s.execConditional(ctx, realtime.TableRoomStays, stayID, `
		UPDATE room_stays SET vehicle_requested_at = ?
		WHERE id = ? AND status = ?
	`, at.UTC(), stayID, string(domain.StayActive))
}

// RequestCheckout stamps a guest's checkout request (reception side).
func (s *Store) RequestCheckout(ctx context.Context, stayID string, at time.Time) (int64, error) {
	return s.execConditional(ctx, realtime.TableRoomStays, stayID, `
		UPDATE room_stays SET checkout_requested_at = ?
		WHERE id = ? AND status = ?
	`, at.UTC(), stayID, string(domain.StayActive))
}

// AddPeople increases the occupant counts of an active stay.
func (s *Store) AddPeople(ctx context.Context, stayID string, n int) (int64, error) {
	return s.execConditional(ctx, realtime.TableRoomStays, stayID, `
		UPDATE room_stays
		SET current_people = current_people + ?, total_people = total_people + ?
		WHERE id = ? AND status = ?
	`, n, n, stayID, string(domain.StayActive))
}

// SetDeliveryStatus moves an item forward. The update only matches when the
// item currently sits in a status from which u.To is reachable, so terminal
// items and retries affect zero rows.
func (s *Store) SetDeliveryStatus(ctx context.Context, u DeliveryUpdate) (int64, error) {
	query, args, err := deliveryStatement(u)
	if err != nil {
		return 0, err
	}
	return s.execConditional(ctx, realtime.TableItems, u.ItemID, query, args...)
}

// SetDeliveryStatusBatch applies updates in one transaction and returns the
// rows affected per update, in input order. Change events are published
// after commit.
func (s *Store) SetDeliveryStatusBatch(ctx context.Context, updates []DeliveryUpdate) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	counts := make([]int64, len(updates))
	for i, u := range updates {
		query, args, err := deliveryStatement(u)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("update item %s: %w", u.ItemID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		counts[i] = n
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	for i, u := range updates {
		if counts[i] > 0 {
			s.emit(realtime.TableItems, realtime.OpUpdate, u.ItemID)
		}
	}
	return counts, nil
}

func deliveryStatement(u DeliveryUpdate) (string, []any, error) {
	sources := domain.SourcesFor(u.To)
	if len(sources) == 0 {
		return "", nil, fmt.Errorf("no delivery transition leads to %q", u.To)
	}
	at := u.At.UTC()

	var set string
	var args []any
	switch u.To.Normalize() {
	case domain.DeliveryAccepted:
		set = `delivery_status = ?, accepted_by = ?, accepted_at = ?`
		args = append(args, string(u.To), u.By, at)
	case domain.DeliveryDelivered, domain.DeliveryCancelled:
		set = `delivery_status = ?, completed_at = ?, accepted_by = COALESCE(accepted_by, ?)`
		args = append(args, string(u.To), at, nullString(u.By))
	default:
		set = `delivery_status = ?`
		args = append(args, string(u.To))
	}
	set += `, notes = CASE WHEN ? = '' THEN notes ELSE ? END`
	args = append(args, u.Notes, u.Notes, u.ItemID)
	for _, src := range sources {
		args = append(args, string(src))
	}

	query := `UPDATE sales_order_items SET ` + set + `
		WHERE id = ? AND COALESCE(delivery_status, 'PENDING_VALET') IN (` + placeholders(len(sources)) + `)`
	return query, args, nil
}

// CompleteItem marks a charge line as verified by a valet. Lines already
// delivered, cancelled or completed are left untouched.
func (s *Store) CompleteItem(ctx context.Context, itemID, by string, at time.Time, notes string) (int64, error) {
	terminal := []any{string(domain.DeliveryDelivered), string(domain.DeliveryCancelled), string(domain.DeliveryCompleted)}
	args := []any{string(domain.DeliveryCompleted), at.UTC(), by, notes, notes, itemID}
	args = append(args, terminal...)
	return s.execConditional(ctx, realtime.TableItems, itemID, `
		UPDATE sales_order_items
		SET delivery_status = ?, completed_at = ?, accepted_by = COALESCE(accepted_by, ?),
		    notes = CASE WHEN ? = '' THEN notes ELSE ? END
		WHERE id = ? AND COALESCE(delivery_status, 'PENDING_VALET') NOT IN (?, ?, ?)
	`, args...)
}

// InsertItem adds a line to an order.
func (s *Store) InsertItem(ctx context.Context, it domain.SalesOrderItem) error {
	created := it.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	qty := it.Quantity
	if qty <= 0 {
		qty = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales_order_items (
			id, order_id, concept, description, quantity, unit_price, total,
			is_paid, delivery_status, accepted_by, accepted_at, completed_at,
			notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, it.ID, it.OrderID, string(it.Concept), it.Description, qty, it.UnitPrice, it.Total,
		it.IsPaid, nullString(string(it.DeliveryStatus)), nullString(it.AcceptedBy),
		nullTime(it.AcceptedAt), nullTime(it.CompletedAt), it.Notes, created.UTC())
	if err != nil {
		return fmt.Errorf("insert item %s: %w", it.ID, err)
	}
	s.emit(realtime.TableItems, realtime.OpInsert, it.ID)
	return nil
}

// InsertPayment writes a new payment row.
func (s *Store) InsertPayment(ctx context.Context, p domain.Payment) error {
	created := p.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	status := p.Status
	if status == "" {
		status = domain.PaymentPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, order_id, item_id, amount, method, terminal, card_brand,
			card_last4, reference, concept, status, collected_by, collected_at,
			shift_session_id, parent_id, partial, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.OrderID, nullString(p.ItemID), p.Amount, nullString(string(p.Method)),
		nullString(p.Terminal), nullString(p.CardBrand), nullString(p.CardLast4),
		nullString(p.Reference), string(p.Concept), string(status), nullString(p.CollectedBy),
		nullTime(p.CollectedAt), nullString(p.ShiftSessionID), nullString(p.ParentID),
		p.Partial, created.UTC())
	if err != nil {
		return fmt.Errorf("insert payment %s: %w", p.ID, err)
	}
	s.emit(realtime.TablePayments, realtime.OpInsert, p.ID)
	return nil
}

// CollectPayment fills in a PENDING payment with the tendered values and
// moves it to COLLECTED_BY_FIELD_STAFF. Returns rows affected; zero means
// the payment was no longer pending.
func (s *Store) CollectPayment(ctx context.Context, p domain.Payment) (int64, error) {
	return s.execConditional(ctx, realtime.TablePayments, p.ID, `
		UPDATE payments
		SET amount = ?, method = ?, terminal = ?, card_brand = ?, card_last4 = ?,
		    reference = ?, status = ?, collected_by = ?, collected_at = ?,
		    shift_session_id = ?
		WHERE id = ? AND status = ?
	`, p.Amount, nullString(string(p.Method)), nullString(p.Terminal), nullString(p.CardBrand),
		nullString(p.CardLast4), nullString(p.Reference), string(domain.PaymentCollected),
		nullString(p.CollectedBy), nullTime(p.CollectedAt), nullString(p.ShiftSessionID),
		p.ID, string(domain.PaymentPending))
}

// RecomputeRemaining sets an order's remaining amount to the item totals
// minus collected and paid payments, floored at zero, and returns it.
func (s *Store) RecomputeRemaining(ctx context.Context, orderID string) (decimal.Decimal, error) {
	orders, err := s.loadOrders(ctx, []string{orderID})
	if err != nil {
		return decimal.Zero, err
	}
	o, ok := orders[orderID]
	if !ok {
		return decimal.Zero, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}

	due := decimal.Zero
	for _, it := range o.Items {
		if it.DeliveryStatus.Normalize() == domain.DeliveryCancelled {
			continue
		}
		due = due.Add(it.Total)
	}
	for _, p := range o.Payments {
		if p.Status == domain.PaymentCollected || p.Status == domain.PaymentPaid {
			due = due.Sub(p.Amount)
		}
	}
	if due.IsNegative() {
		due = decimal.Zero
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE sales_orders SET remaining_amount = ? WHERE id = ?`, due, orderID); err != nil {
		return decimal.Zero, fmt.Errorf("update remaining amount: %w", err)
	}
	s.emit(realtime.TableSalesOrders, realtime.OpUpdate, orderID)
	return due, nil
}

// InsertNotification stores a notification. The change event carries the
// target user so per-user feeds can filter on it.
func (s *Store) InsertNotification(ctx context.Context, n domain.Notification) error {
	created := n.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, user_id, title, message, type, stay_id, sales_order_id,
			consumption_id, room_number, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.UserID, n.Title, n.Message, string(n.Payload.Type), nullString(n.Payload.StayID),
		nullString(n.Payload.SalesOrderID), nullString(n.Payload.ConsumptionID),
		nullString(n.Payload.RoomNumber), created.UTC())
	if err != nil {
		return fmt.Errorf("insert notification %s: %w", n.ID, err)
	}
	s.hub.Publish(realtime.ChangeEvent{
		Table:  realtime.TableNotifications,
		Op:     realtime.OpInsert,
		RowID:  n.ID,
		UserID: n.UserID,
		At:     s.now(),
	})
	return nil
}

// UpsertPushToken registers a device token for a user. A token moves to the
// latest user that registered it.
func (s *Store) UpsertPushToken(ctx context.Context, userID, token, platform string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("empty push token")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_tokens (token, user_id, platform, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			user_id = excluded.user_id,
			platform = excluded.platform,
			updated_at = excluded.updated_at
	`, token, userID, platform, s.now().UTC())
	if err != nil {
		return fmt.Errorf("upsert push token: %w", err)
	}
	return nil
}

// StartShift opens a shift session. Returns ErrConflict if the employee
// already has one open.
func (s *Store) StartShift(ctx context.Context, id, employeeID string, at time.Time) (domain.ShiftSession, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shift_sessions (id, employee_id, started_at) VALUES (?, ?, ?)
	`, id, employeeID, at.UTC())
	if isConstraint(err) {
		return domain.ShiftSession{}, fmt.Errorf("open shift for %s: %w", employeeID, ErrConflict)
	}
	if err != nil {
		return domain.ShiftSession{}, fmt.Errorf("insert shift: %w", err)
	}
	s.emit(realtime.TableShiftSessions, realtime.OpInsert, id)
	return domain.ShiftSession{ID: id, EmployeeID: employeeID, StartedAt: at.UTC()}, nil
}

// EndShift closes an open shift session.
func (s *Store) EndShift(ctx context.Context, id string, at time.Time) (int64, error) {
	return s.execConditional(ctx, realtime.TableShiftSessions, id, `
		UPDATE shift_sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL
	`, at.UTC(), id)
}

// execConditional runs an UPDATE and publishes a change event when it
// touched at least one row.
func (s *Store) execConditional(ctx context.Context, table, rowID, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s %s: %w", table, rowID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		s.emit(table, realtime.OpUpdate, rowID)
	}
	return n, nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
