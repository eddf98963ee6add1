package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/valetsync/internal/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const stayColumns = `
	s.id, s.room_id, r.number, s.status,
	s.vehicle_plate, s.vehicle_brand, s.vehicle_model,
	s.entry_valet_id, s.checkout_valet_id,
	s.vehicle_requested_at, s.checkout_requested_at,
	s.checkout_proposed_at, s.checkout_confirmed_at,
	s.current_people, s.total_people, s.check_in_at, s.sales_order_id`

const itemColumns = `
	i.id, i.order_id, i.concept, i.description, i.quantity, i.unit_price,
	i.total, i.is_paid, i.delivery_status, i.accepted_by, i.accepted_at,
	i.completed_at, i.notes, i.created_at`

const paymentColumns = `
	p.id, p.order_id, p.item_id, p.amount, p.method, p.terminal,
	p.card_brand, p.card_last4, p.reference, p.concept, p.status,
	p.collected_by, p.collected_at, p.shift_session_id, p.parent_id,
	p.partial, p.created_at`

// ServiceItem is a consumption line joined with the room it belongs to.
type ServiceItem struct {
	domain.SalesOrderItem
	RoomNumber string
	StayID     string
}

// ListActiveRooms returns every room ordered by number, each with its
// active stay (if any) and the stay's order, items and payments.
func (s *Store) ListActiveRooms(ctx context.Context) ([]domain.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.number, t.id, t.name, t.base_price, t.extra_person_price, t.extra_hour_price
		FROM rooms r
		JOIN room_types t ON t.id = r.room_type_id
		ORDER BY r.number ASC, r.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []domain.Room
	index := make(map[string]int)
	for rows.Next() {
		var room domain.Room
		if err := rows.Scan(&room.ID, &room.Number, &room.Type.ID, &room.Type.Name,
			&room.Type.BasePrice, &room.Type.ExtraPersonPrice, &room.Type.ExtraHourPrice); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		index[room.ID] = len(rooms)
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	rows.Close()

	stays, err := s.queryStays(ctx, `WHERE s.status = ?`, string(domain.StayActive))
	if err != nil {
		return nil, err
	}
	if err := s.attachOrders(ctx, stays); err != nil {
		return nil, err
	}
	for i := range stays {
		if idx, ok := index[stays[i].RoomID]; ok {
			stay := stays[i]
			rooms[idx].Stay = &stay
		}
	}

	if rooms == nil {
		return []domain.Room{}, nil
	}
	return rooms, nil
}

// GetStay returns a stay with its order loaded.
// Returns ErrNotFound if no stay has the id.
func (s *Store) GetStay(ctx context.Context, id string) (domain.RoomStay, error) {
	stays, err := s.queryStays(ctx, `WHERE s.id = ?`, id)
	if err != nil {
		return domain.RoomStay{}, err
	}
	if len(stays) == 0 {
		return domain.RoomStay{}, fmt.Errorf("stay %s: %w", id, ErrNotFound)
	}
	if err := s.attachOrders(ctx, stays); err != nil {
		return domain.RoomStay{}, err
	}
	return stays[0], nil
}

// ActiveStayByRoom returns the active stay of the room with the given number.
func (s *Store) ActiveStayByRoom(ctx context.Context, number string) (domain.RoomStay, error) {
	stays, err := s.queryStays(ctx, `WHERE r.number = ? AND s.status = ?`, number, string(domain.StayActive))
	if err != nil {
		return domain.RoomStay{}, err
	}
	if len(stays) == 0 {
		return domain.RoomStay{}, fmt.Errorf("active stay in room %s: %w", number, ErrNotFound)
	}
	if err := s.attachOrders(ctx, stays[:1]); err != nil {
		return domain.RoomStay{}, err
	}
	return stays[0], nil
}

// RoomTypeForStay returns the tariff of the room a stay occupies.
func (s *Store) RoomTypeForStay(ctx context.Context, stayID string) (domain.RoomType, error) {
	var t domain.RoomType
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.name, t.base_price, t.extra_person_price, t.extra_hour_price
		FROM room_stays s
		JOIN rooms r ON r.id = s.room_id
		JOIN room_types t ON t.id = r.room_type_id
		WHERE s.id = ?
	`, stayID).Scan(&t.ID, &t.Name, &t.BasePrice, &t.ExtraPersonPrice, &t.ExtraHourPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RoomType{}, fmt.Errorf("room type for stay %s: %w", stayID, ErrNotFound)
	}
	if err != nil {
		return domain.RoomType{}, fmt.Errorf("query room type: %w", err)
	}
	return t, nil
}

// GetItem returns one sales order item.
func (s *Store) GetItem(ctx context.Context, id string) (domain.SalesOrderItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM sales_order_items i WHERE i.id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SalesOrderItem{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.SalesOrderItem{}, fmt.Errorf("query item: %w", err)
	}
	return item, nil
}

// ListServiceItems returns the consumption lines of every active stay,
// oldest first.
func (s *Store) ListServiceItems(ctx context.Context) ([]ServiceItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`, r.number, s.id
		FROM sales_order_items i
		JOIN room_stays s ON s.sales_order_id = i.order_id
		JOIN rooms r ON r.id = s.room_id
		WHERE s.status = ? AND i.concept = ?
		ORDER BY i.created_at ASC, i.id ASC
	`, string(domain.StayActive), string(domain.ConceptConsumption))
	if err != nil {
		return nil, fmt.Errorf("query service items: %w", err)
	}
	defer rows.Close()

	items := []ServiceItem{}
	for rows.Next() {
		var si ServiceItem
		item, err := scanItem(rows, &si.RoomNumber, &si.StayID)
		if err != nil {
			return nil, fmt.Errorf("scan service item: %w", err)
		}
		si.SalesOrderItem = item
		items = append(items, si)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate service items: %w", err)
	}
	return items, nil
}

// PendingPayments returns the PENDING payments of an order for a concept,
// oldest first.
func (s *Store) PendingPayments(ctx context.Context, orderID string, concept domain.Concept) ([]domain.Payment, error) {
	return s.queryPayments(ctx, `WHERE p.order_id = ? AND p.concept = ? AND p.status = ?`,
		orderID, string(concept), string(domain.PaymentPending))
}

// PaymentsByOrder returns every payment of an order.
func (s *Store) PaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	return s.queryPayments(ctx, `WHERE p.order_id = ?`, orderID)
}

// PaymentsByShift returns the payments collected during a shift session.
func (s *Store) PaymentsByShift(ctx context.Context, shiftID string) ([]domain.Payment, error) {
	return s.queryPayments(ctx, `WHERE p.shift_session_id = ?`, shiftID)
}

// ActiveShift returns the open shift session of an employee.
// Returns ErrNotFound when the employee is off shift.
func (s *Store) ActiveShift(ctx context.Context, employeeID string) (domain.ShiftSession, error) {
	var sess domain.ShiftSession
	var ended sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, started_at, ended_at
		FROM shift_sessions
		WHERE employee_id = ? AND ended_at IS NULL
	`, employeeID).Scan(&sess.ID, &sess.EmployeeID, &sess.StartedAt, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ShiftSession{}, fmt.Errorf("open shift for %s: %w", employeeID, ErrNotFound)
	}
	if err != nil {
		return domain.ShiftSession{}, fmt.Errorf("query shift: %w", err)
	}
	sess.EndedAt = timePtr(ended)
	return sess, nil
}

// GetShift returns a shift session by id.
func (s *Store) GetShift(ctx context.Context, id string) (domain.ShiftSession, error) {
	var sess domain.ShiftSession
	var ended sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, started_at, ended_at FROM shift_sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.EmployeeID, &sess.StartedAt, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ShiftSession{}, fmt.Errorf("shift %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.ShiftSession{}, fmt.Errorf("query shift: %w", err)
	}
	sess.EndedAt = timePtr(ended)
	return sess, nil
}

// GetEmployee returns an employee by id.
func (s *Store) GetEmployee(ctx context.Context, id string) (domain.Employee, error) {
	var e domain.Employee
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, role FROM employees WHERE id = ?`, id).
		Scan(&e.ID, &e.Name, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Employee{}, fmt.Errorf("employee %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Employee{}, fmt.Errorf("query employee: %w", err)
	}
	e.Role = domain.Role(role)
	return e, nil
}

// ListEmployees returns employees with the given role, ordered by id.
// An empty role lists everyone.
func (s *Store) ListEmployees(ctx context.Context, role domain.Role) ([]domain.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, role FROM employees
		WHERE ? = '' OR role = ?
		ORDER BY id ASC
	`, string(role), string(role))
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	out := []domain.Employee{}
	for rows.Next() {
		var e domain.Employee
		var r string
		if err := rows.Scan(&e.ID, &e.Name, &r); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		e.Role = domain.Role(r)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return out, nil
}

// GetNotification returns one notification.
func (s *Store) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, message, type, stay_id, sales_order_id,
		       consumption_id, room_number, created_at
		FROM notifications WHERE id = ?
	`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Notification{}, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Notification{}, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns the newest notifications of a user, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, message, type, stay_id, sales_order_id,
		       consumption_id, room_number, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := []domain.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// PushTokens returns the registered device tokens of the given users.
func (s *Store) PushTokens(ctx context.Context, userIDs ...string) ([]string, error) {
	if len(userIDs) == 0 {
		return []string{}, nil
	}
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT token FROM push_tokens
		WHERE user_id IN (`+placeholders(len(userIDs))+`)
		ORDER BY token ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query push tokens: %w", err)
	}
	defer rows.Close()

	tokens := []string{}
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate push tokens: %w", err)
	}
	return tokens, nil
}

func (s *Store) queryStays(ctx context.Context, where string, args ...any) ([]domain.RoomStay, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stayColumns+`
		FROM room_stays s
		JOIN rooms r ON r.id = s.room_id
		`+where+`
		ORDER BY r.number ASC, s.check_in_at ASC, s.id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query stays: %w", err)
	}
	defer rows.Close()

	stays := []domain.RoomStay{}
	for rows.Next() {
		stay, err := scanStay(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stay: %w", err)
		}
		stays = append(stays, stay)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stays: %w", err)
	}
	return stays, nil
}

// attachOrders loads the orders referenced by stays, with items and payments.
func (s *Store) attachOrders(ctx context.Context, stays []domain.RoomStay) error {
	var ids []string
	for _, st := range stays {
		if st.SalesOrderID != "" {
			ids = append(ids, st.SalesOrderID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	orders, err := s.loadOrders(ctx, ids)
	if err != nil {
		return err
	}
	for i := range stays {
		if o, ok := orders[stays[i].SalesOrderID]; ok {
			stays[i].Order = o
		}
	}
	return nil
}

func (s *Store) loadOrders(ctx context.Context, ids []string) (map[string]*domain.SalesOrder, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	in := placeholders(len(ids))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stay_id, remaining_amount FROM sales_orders WHERE id IN (`+in+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	orders := make(map[string]*domain.SalesOrder, len(ids))
	for rows.Next() {
		o := &domain.SalesOrder{Items: []domain.SalesOrderItem{}, Payments: []domain.Payment{}}
		var stayID sql.NullString
		if err := rows.Scan(&o.ID, &stayID, &o.RemainingAmount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.StayID = stayID.String
		orders[o.ID] = o
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM sales_order_items i
		WHERE i.order_id IN (`+in+`)
		ORDER BY i.created_at ASC, i.id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	for itemRows.Next() {
		item, err := scanItem(itemRows)
		if err != nil {
			itemRows.Close()
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if o, ok := orders[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		itemRows.Close()
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	itemRows.Close()

	where := `WHERE p.order_id IN (` + in + `)`
	payments, err := s.queryPayments(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		if o, ok := orders[p.OrderID]; ok {
			o.Payments = append(o.Payments, p)
		}
	}
	return orders, nil
}

func (s *Store) queryPayments(ctx context.Context, where string, args ...any) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments p
		`+where+`
		ORDER BY p.created_at ASC, p.id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	out := []domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

func scanStay(sc rowScanner) (domain.RoomStay, error) {
	var st domain.RoomStay
	var status string
	var plate, brand, model, entryValet, checkoutValet, orderID sql.NullString
	var vehicleReq, checkoutReq, proposed, confirmed sql.NullTime
	err := sc.Scan(&st.ID, &st.RoomID, &st.RoomNumber, &status,
		&plate, &brand, &model, &entryValet, &checkoutValet,
		&vehicleReq, &checkoutReq, &proposed, &confirmed,
		&st.CurrentPeople, &st.TotalPeople, &st.CheckInAt, &orderID)
	if err != nil {
		return domain.RoomStay{}, err
	}
	st.Status = domain.StayStatus(status)
	st.VehiclePlate = plate.String
	st.VehicleBrand = brand.String
	st.VehicleModel = model.String
	st.EntryValetID = entryValet.String
	st.CheckoutValetID = checkoutValet.String
	st.VehicleRequestedAt = timePtr(vehicleReq)
	st.CheckoutRequestedAt = timePtr(checkoutReq)
	st.CheckoutProposedAt = timePtr(proposed)
	st.CheckoutConfirmedAt = timePtr(confirmed)
	st.SalesOrderID = orderID.String
	return st, nil
}

// scanItem scans itemColumns followed by any extra destinations.
func scanItem(sc rowScanner, extra ...any) (domain.SalesOrderItem, error) {
	var it domain.SalesOrderItem
	var concept string
	var status, acceptedBy sql.NullString
	var acceptedAt, completedAt sql.NullTime
	dest := []any{&it.ID, &it.OrderID, &concept, &it.Description, &it.Quantity,
		&it.UnitPrice, &it.Total, &it.IsPaid, &status, &acceptedBy, &acceptedAt,
		&completedAt, &it.Notes, &it.CreatedAt}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		return domain.SalesOrderItem{}, err
	}
	it.Concept = domain.Concept(concept)
	it.DeliveryStatus = domain.DeliveryStatus(status.String)
	it.AcceptedBy = acceptedBy.String
	it.AcceptedAt = timePtr(acceptedAt)
	it.CompletedAt = timePtr(completedAt)
	return it, nil
}

func scanPayment(sc rowScanner) (domain.Payment, error) {
	var p domain.Payment
	var itemID, method, terminal, brand, last4, ref, collectedBy, shiftID, parentID sql.NullString
	var concept, status string
	var collectedAt sql.NullTime
	err := sc.Scan(&p.ID, &p.OrderID, &itemID, &p.Amount, &method, &terminal,
		&brand, &last4, &ref, &concept, &status, &collectedBy, &collectedAt,
		&shiftID, &parentID, &p.Partial, &p.CreatedAt)
	if err != nil {
		return domain.Payment{}, err
	}
	p.ItemID = itemID.String
	p.Method = domain.PaymentMethod(method.String)
	p.Terminal = terminal.String
	p.CardBrand = brand.String
	p.CardLast4 = last4.String
	p.Reference = ref.String
	p.Concept = domain.Concept(concept)
	p.Status = domain.PaymentStatus(status)
	p.CollectedBy = collectedBy.String
	p.CollectedAt = timePtr(collectedAt)
	p.ShiftSessionID = shiftID.String
	p.ParentID = parentID.String
	return p, nil
}

func scanNotification(sc rowScanner) (domain.Notification, error) {
	var n domain.Notification
	var typ string
	var stayID, orderID, consumptionID, roomNumber sql.NullString
	err := sc.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &typ,
		&stayID, &orderID, &consumptionID, &roomNumber, &n.CreatedAt)
	if err != nil {
		return domain.Notification{}, err
	}
	n.Payload = domain.NotificationPayload{
		Type:          domain.BusinessType(typ),
		StayID:        stayID.String,
		SalesOrderID:  orderID.String,
		ConsumptionID: consumptionID.String,
		RoomNumber:    roomNumber.String,
	}
	return n, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
