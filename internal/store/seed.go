package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/realtime"
)

// Fixture is a set of rows loaded by Seed.
type Fixture struct {
	RoomTypes []domain.RoomType
	Rooms     []domain.Room // Type.ID references RoomTypes
	Employees []domain.Employee
	Stays     []domain.RoomStay // Order, if set, is inserted with its items and payments
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Seed inserts a fixture in one transaction. Existing rows with the same
// ids cause an error.
func (s *Store) Seed(ctx context.Context, f Fixture) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range f.RoomTypes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO room_types (id, name, base_price, extra_person_price, extra_hour_price)
			VALUES (?, ?, ?, ?, ?)
		`, t.ID, t.Name, t.BasePrice, t.ExtraPersonPrice, t.ExtraHourPrice); err != nil {
			return fmt.Errorf("insert room type %s: %w", t.ID, err)
		}
	}
	for _, r := range f.Rooms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rooms (id, number, room_type_id) VALUES (?, ?, ?)
		`, r.ID, r.Number, r.Type.ID); err != nil {
			return fmt.Errorf("insert room %s: %w", r.Number, err)
		}
	}
	for _, e := range f.Employees {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO employees (id, name, role) VALUES (?, ?, ?)
		`, e.ID, e.Name, string(e.Role)); err != nil {
			return fmt.Errorf("insert employee %s: %w", e.ID, err)
		}
	}
	for _, st := range f.Stays {
		if err := insertStay(ctx, tx, st); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	for _, st := range f.Stays {
		s.emit(realtime.TableRoomStays, realtime.OpInsert, st.ID)
	}
	return nil
}

func insertStay(ctx context.Context, db execer, st domain.RoomStay) error {
	if st.Order != nil {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO sales_orders (id, stay_id, remaining_amount) VALUES (?, ?, ?)
		`, st.Order.ID, st.ID, st.Order.RemainingAmount); err != nil {
			return fmt.Errorf("insert order %s: %w", st.Order.ID, err)
		}
		st.SalesOrderID = st.Order.ID
	}

	status := st.Status
	if status == "" {
		status = domain.StayActive
	}
	people, total := st.CurrentPeople, st.TotalPeople
	if people == 0 {
		people = 2
	}
	if total == 0 {
		total = people
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO room_stays (
			id, room_id, status, vehicle_plate, vehicle_brand, vehicle_model,
			entry_valet_id, checkout_valet_id, vehicle_requested_at,
			checkout_requested_at, checkout_proposed_at, checkout_confirmed_at,
			current_people, total_people, check_in_at, sales_order_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, st.ID, st.RoomID, string(status), nullString(domain.NormalizePlate(st.VehiclePlate)),
		nullString(st.VehicleBrand), nullString(st.VehicleModel), nullString(st.EntryValetID),
		nullString(st.CheckoutValetID), nullTime(st.VehicleRequestedAt),
		nullTime(st.CheckoutRequestedAt), nullTime(st.CheckoutProposedAt),
		nullTime(st.CheckoutConfirmedAt), people, total, st.CheckInAt.UTC(),
		nullString(st.SalesOrderID)); err != nil {
		return fmt.Errorf("insert stay %s: %w", st.ID, err)
	}

	if st.Order == nil {
		return nil
	}
	for _, it := range st.Order.Items {
		it.OrderID = st.Order.ID
		if _, err := db.ExecContext(ctx, `
			INSERT INTO sales_order_items (
				id, order_id, concept, description, quantity, unit_price, total,
				is_paid, delivery_status, accepted_by, notes, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, it.ID, it.OrderID, string(it.Concept), it.Description, max(it.Quantity, 1),
			it.UnitPrice, it.Total, it.IsPaid, nullString(string(it.DeliveryStatus)),
			nullString(it.AcceptedBy), it.Notes, it.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
	}
	for _, p := range st.Order.Payments {
		status := p.Status
		if status == "" {
			status = domain.PaymentPending
		}
		if _, err := db.ExecContext(ctx, `
			INSERT INTO payments (id, order_id, amount, method, concept, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, p.ID, st.Order.ID, p.Amount, nullString(string(p.Method)), string(p.Concept),
			string(status), p.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert payment %s: %w", p.ID, err)
		}
	}
	return nil
}

// DemoFixture returns a small hotel used by the CLI seed command and tests:
//
//	101  occupied, no vehicle, nobody assigned
//	102  vehicle registered, guest requested checkout
//	201  vehicle registered, PENDING stay charge of 500
//	203  three consumption lines waiting for a valet
//	204  vacant
func DemoFixture(now time.Time) Fixture {
	now = now.UTC()
	std := domain.RoomType{
		ID:               "rt-std",
		Name:             "Standard",
		BasePrice:        decimal.NewFromInt(500),
		ExtraPersonPrice: decimal.NewFromInt(150),
		ExtraHourPrice:   decimal.NewFromInt(120),
	}
	room := func(id, number string) domain.Room {
		return domain.Room{ID: id, Number: number, Type: std}
	}
	stayCharge := func(id string) domain.SalesOrderItem {
		return domain.SalesOrderItem{
			ID: id, Concept: domain.ConceptStay, Description: "Estancia",
			Quantity: 1, UnitPrice: std.BasePrice, Total: std.BasePrice, CreatedAt: now,
		}
	}
	consumption := func(id, desc string, price int64, at time.Time) domain.SalesOrderItem {
		return domain.SalesOrderItem{
			ID: id, Concept: domain.ConceptConsumption, Description: desc, Quantity: 1,
			UnitPrice: decimal.NewFromInt(price), Total: decimal.NewFromInt(price),
			DeliveryStatus: domain.DeliveryPendingValet, CreatedAt: at,
		}
	}
	requested := now.Add(-2 * time.Minute)

	return Fixture{
		RoomTypes: []domain.RoomType{std},
		Rooms: []domain.Room{
			room("room-101", "101"),
			room("room-102", "102"),
			room("room-201", "201"),
			room("room-203", "203"),
			room("room-204", "204"),
		},
		Employees: []domain.Employee{
			{ID: "valet-x", Name: "Valet X", Role: domain.RoleValet},
			{ID: "valet-y", Name: "Valet Y", Role: domain.RoleValet},
			{ID: "reception-1", Name: "Reception", Role: domain.RoleReception},
		},
		Stays: []domain.RoomStay{
			{
				ID: "stay-101", RoomID: "room-101", CheckInAt: now,
				Order: &domain.SalesOrder{ID: "order-101", RemainingAmount: std.BasePrice,
					Items: []domain.SalesOrderItem{stayCharge("item-101-stay")}},
			},
			{
				ID: "stay-102", RoomID: "room-102", CheckInAt: now.Add(-3 * time.Hour),
				VehiclePlate: "ABC-123", VehicleBrand: "Nissan", VehicleModel: "Versa",
				EntryValetID: "valet-x", CheckoutRequestedAt: &requested,
				Order: &domain.SalesOrder{ID: "order-102", RemainingAmount: std.BasePrice,
					Items: []domain.SalesOrderItem{stayCharge("item-102-stay")}},
			},
			{
				ID: "stay-201", RoomID: "room-201", CheckInAt: now.Add(-time.Hour),
				VehiclePlate: "XYZ-987", VehicleBrand: "Toyota", VehicleModel: "Corolla",
				EntryValetID: "valet-y",
				Order: &domain.SalesOrder{ID: "order-201", RemainingAmount: std.BasePrice,
					Items: []domain.SalesOrderItem{stayCharge("item-201-stay")},
					Payments: []domain.Payment{{
						ID: "pay-201-main", Amount: std.BasePrice,
						Concept: domain.ConceptStay, Status: domain.PaymentPending, CreatedAt: now,
					}}},
			},
			{
				ID: "stay-203", RoomID: "room-203", CheckInAt: now.Add(-30 * time.Minute),
				VehiclePlate: "JKL-456", EntryValetID: "valet-x",
				Order: &domain.SalesOrder{ID: "order-203", RemainingAmount: decimal.NewFromInt(655),
					Items: []domain.SalesOrderItem{
						stayCharge("item-203-stay"),
						consumption("item-203-a", "Cerveza", 60, now.Add(-3*time.Minute)),
						consumption("item-203-b", "Refresco", 35, now.Add(-2*time.Minute)),
						consumption("item-203-c", "Botana", 60, now.Add(-time.Minute)),
					}},
			},
		},
	}
}
