package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/valetsync/internal/clock"
	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/payment"
	"github.com/roach88/valetsync/internal/realtime"
	"github.com/roach88/valetsync/internal/store"
)

// Store is the remote surface the actions use. *store.Store implements it.
type Store interface {
	payment.Store

	GetStay(ctx context.Context, id string) (domain.RoomStay, error)
	GetItem(ctx context.Context, id string) (domain.SalesOrderItem, error)
	RoomTypeForStay(ctx context.Context, stayID string) (domain.RoomType, error)

	AssignEntryValet(ctx context.Context, stayID, valetID string) (int64, error)
	RegisterVehicle(ctx context.Context, reg store.VehicleRegistration) (int64, error)
	ProposeCheckout(ctx context.Context, stayID, valetID string, at time.Time) (int64, error)
	ConfirmCheckout(ctx context.Context, stayID, valetID string, at time.Time) (int64, error)
	AddPeople(ctx context.Context, stayID string, n int) (int64, error)

	SetDeliveryStatus(ctx context.Context, u store.DeliveryUpdate) (int64, error)
	SetDeliveryStatusBatch(ctx context.Context, updates []store.DeliveryUpdate) ([]int64, error)
	CompleteItem(ctx context.Context, itemID, by string, at time.Time, notes string) (int64, error)
	InsertItem(ctx context.Context, it domain.SalesOrderItem) error
}

// Overlay applies optimistic changes to in-memory view lists. Each method
// reports whether it changed anything.
type Overlay interface {
	ClaimEntry(stayID, valetID string) bool
	MarkItems(itemIDs []string, status domain.DeliveryStatus, by string, at time.Time) bool
}

// Announcer tells other staff about something a valet did. Best effort.
type Announcer interface {
	Announce(ctx context.Context, role domain.Role, title, message string, payload domain.NotificationPayload) error
}

// Service runs the actions of one logged-in employee.
type Service struct {
	Actor     domain.Employee
	Store     Store
	Runner    *Runner
	IDs       domain.IDGenerator
	Clock     clock.Clock
	Overlay   Overlay   // optional
	Announcer Announcer // optional
	Logger    *slog.Logger
}

// Action names, used for logs and metrics.
const (
	NameAcceptEntry         = "accept_entry"
	NameRegisterVehicle     = "register_vehicle"
	NameProposeCheckout     = "propose_checkout"
	NameConfirmCheckout     = "confirm_checkout"
	NameAcceptConsumption   = "accept_consumption"
	NameAcceptConsumptions  = "accept_consumptions"
	NameMarkInTransit       = "mark_in_transit"
	NameDeliverConsumption  = "deliver_consumption"
	NameDeliverConsumptions = "deliver_consumptions"
	NameCancelConsumption   = "cancel_consumption"
	NameReportDamage        = "report_damage"
	NameExtraHour           = "register_extra_hour"
	NameExtraPerson         = "register_extra_person"
	NameVerifyRoomChange    = "verify_room_change"
	NameVerifyCharge        = "verify_charge"
)

// AcceptEntry claims the entry of a stay for the actor.
func (s *Service) AcceptEntry(ctx context.Context, stayID string) Outcome {
	return s.Runner.Run(ctx, Step{
		Name:     NameAcceptEntry,
		Domain:   realtime.DomainRooms,
		Validate: s.requireIDs(NameAcceptEntry, stayID),
		Optimistic: s.overlay(func(o Overlay) bool {
			return o.ClaimEntry(stayID, s.Actor.ID)
		}),
		Remote: func(ctx context.Context) (Confirmation, int, error) {
			n, err := s.Store.AssignEntryValet(ctx, stayID, s.Actor.ID)
			if err != nil {
				return Confirmation{}, 0, remote(NameAcceptEntry, err)
			}
			if n == 0 {
				return Confirmation{}, 0, conflict(NameAcceptEntry, "This entry is already assigned to another valet.")
			}
			return success("Entry accepted", "You are now in charge of this entry."), int(n), nil
		},
	})
}

// VehicleInput is the input of RegisterVehicle.
type VehicleInput struct {
	StayID   string
	Plate    string
	Brand    string
	Model    string
	Payments []domain.PaymentEntry // optional collection of the stay charge
}

// RegisterVehicle records the guest's vehicle and, if tender lines are
// given, collects the stay charge.
func (s *Service) RegisterVehicle(ctx context.Context, in VehicleInput) Outcome {
	return s.Runner.Run(ctx, Step{
		Name:   NameRegisterVehicle,
		Domain: realtime.DomainRooms,
		Validate: func() error {
			if err := s.requireIDs(NameRegisterVehicle, in.StayID)(); err != nil {
				return err
			}
			if !domain.ValidPlate(in.Plate) {
				return validation(NameRegisterVehicle, "plate is required")
			}
			return validEntries(NameRegisterVehicle, in.Payments)
		},
		Remote: func(ctx context.Context) (Confirmation, int, error) {
			n, err := s.Store.RegisterVehicle(ctx, store.VehicleRegistration{
				StayID: in.StayID, ValetID: s.Actor.ID,
				Plate: in.Plate, Brand: in.Brand, Model: in.Model,
			})
			if err != nil {
				return Confirmation{}, 0, remote(NameRegisterVehicle, err)
			}
			if n == 0 {
				return Confirmation{}, 0, conflict(NameRegisterVehicle, "This entry is already assigned to another valet.")
			}
			if len(in.Payments) == 0 {
				return success("Vehicle registered", domain.NormalizePlate(in.Plate)+" registered."), int(n), nil
			}

			stay, err := s.Store.GetStay(ctx, in.StayID)
			if err != nil {
				return Confirmation{}, int(n), partial(NameRegisterVehicle, err)
			}
			if _, err := s.collect(ctx, stay.SalesOrderID, domain.ConceptStay, "", in.Payments, false); err != nil {
				return Confirmation{}, int(n), partial(NameRegisterVehicle, err)
			}
			return success("Vehicle registered", fmt.Sprintf("%s registered, %s collected.",
				domain.NormalizePlate(in.Plate), domain.SumEntries(in.Payments).StringFixed(2))), int(n), nil
		},
	})
}

// ProposeCheckout tells reception the room was inspected and may be
// checked out.
func (s *Service) ProposeCheckout(ctx context.Context, stayID string) Outcome {
	return s.Runner.Run(ctx, Step{
		Name:     NameProposeCheckout,
		Domain:   realtime.DomainRooms,
		Validate: s.requireIDs(NameProposeCheckout, stayID),
		Remote: func(ctx context.Context) (Confirmation, int, error) {
			n, err := s.Store.ProposeCheckout(ctx, stayID, s.Actor.ID, s.now())
			if err != nil {
				return Confirmation{}, 0, remote(NameProposeCheckout, err)
			}
			if n == 0 {
				return Confirmation{}, 0, conflict(NameProposeCheckout, "This checkout is already handled by another valet or the stay has no vehicle.")
			}
			s.announceStay(ctx, stayID, domain.BizCheckoutProposed, "Checkout proposed", "A valet proposed the checkout of room %s.")
			return success("Checkout proposed", "Reception has been notified."), int(n), nil
		},
	})
}

// CheckoutInput is the input of ConfirmCheckout.
type CheckoutInput struct {
	StayID   string
	Payments []domain.PaymentEntry // optional final collection
}

// ConfirmCheckout records that the guest left with the vehicle. A stay
// without a vehicle cannot be confirmed.
func (s *Service) ConfirmCheckout(ctx context.Context, in CheckoutInput) Outcome {
	return s.Runner.Run(ctx, Step{
		Name:   NameConfirmCheckout,
		Domain: realtime.DomainRooms,
		Validate: func() error {
			if err := s.requireIDs(NameConfirmCheckout, in.StayID)(); err != nil {
				return err
			}
			return validEntries(NameConfirmCheckout, in.Payments)
		},
		Remote: func(ctx context.Context) (Confirmation, int, error) {
			n, err := s.Store.ConfirmCheckout(ctx, in.StayID, s.Actor.ID, s.now())
			if err != nil {
				return Confirmation{}, 0, remote(NameConfirmCheckout, err)
			}
			if n == 0 {
				return Confirmation{}, 0, conflict(NameConfirmCheckout, "This checkout is already handled by another valet or the stay has no vehicle.")
			}
			if len(in.Payments) > 0 {
				stay, err := s.Store.GetStay(ctx, in.StayID)
				if err != nil {
					return Confirmation{}, int(n), partial(NameConfirmCheckout, err)
				}
				if _, err := s.collect(ctx, stay.SalesOrderID, domain.ConceptStay, "", in.Payments, false); err != nil {
					return Confirmation{}, int(n), partial(NameConfirmCheckout, err)
				}
			}
			return success("Checkout confirmed", "The vehicle was handed over."), int(n), nil
		},
	})
}

// AcceptConsumption takes one consumption line for delivery.
func (s *Service) AcceptConsumption(ctx context.Context, itemID string) Outcome {
	return s.moveItems(ctx, NameAcceptConsumption, []string{itemID}, domain.DeliveryAccepted, "", true)
}

// AcceptConsumptions takes a batch of lines sharing a room. All accepted
// lines share one acceptedBy/acceptedAt stamp.
func (s *Service) AcceptConsumptions(ctx context.Context, itemIDs []string) Outcome {
	return s.moveItems(ctx, NameAcceptConsumptions, itemIDs, domain.DeliveryAccepted, "", true)
}

// MarkInTransit marks an accepted line as on its way.
func (s *Service) MarkInTransit(ctx context.Context, itemID string) Outcome {
	return s.moveItems(ctx, NameMarkInTransit, []string{itemID}, domain.DeliveryInTransit, "", false)
}

// DeliverConsumption marks one line delivered.
func (s *Service) DeliverConsumption(ctx context.Context, itemID string) Outcome {
	return s.moveItems(ctx, NameDeliverConsumption, []string{itemID}, domain.DeliveryDelivered, "", false)
}

// DeliverConsumptions marks a batch of lines delivered.
func (s *Service) DeliverConsumptions(ctx context.Context, itemIDs []string) Outcome {
	return s.moveItems(ctx, NameDeliverConsumptions, itemIDs, domain.DeliveryDelivered, "", false)
}

// CancelConsumption cancels a line that was not delivered yet.
func (s *Service) CancelConsumption(ctx context.Context, itemID, reason string) Outcome {
	return s.moveItems(ctx, NameCancelConsumption, []string{itemID}, domain.DeliveryCancelled, reason, false)
}

// moveItems applies one delivery transition to itemIDs. Lines that are
// already past the target, or terminal, are left untouched; the step only
// fails when no line moved.
func (s *Service) moveItems(ctx context.Context, name string, itemIDs []string, to domain.DeliveryStatus, notes string, optimistic bool) Outcome {
	ids := dedupe(itemIDs)
	at := s.now()
	step := Step{
		Name:   name,
		Domain: realtime.DomainServices,
		Validate: func() error {
			if len(ids) == 0 {
				return validation(name, "no items selected")
			}
			return s.requireIDs(name, ids...)()
		},
		Remote: func(ctx context.Context) (Confirmation, int, error) {
			updates := make([]store.DeliveryUpdate, len(ids))
			for i, id := range ids {
				updates[i] = store.DeliveryUpdate{ItemID: id, To: to, By: s.Actor.ID, At: at, Notes: notes}
			}

			var counts []int64
			var err error
			if len(updates) == 1 {
				var n int64
				n, err = s.Store.SetDeliveryStatus(ctx, updates[0])
				counts = []int64{n}
			} else {
				counts, err = s.Store.SetDeliveryStatusBatch(ctx, updates)
			}
			if err != nil {
				return Confirmation{}, 0, remote(name, err)
			}

			moved := 0
			for _, n := range counts {
				moved += int(n)
			}
			if moved == 0 {
				return Confirmation{}, 0, conflict(name, s.explainStuck(ctx, ids[0], to))
			}
			return success(deliveryTitle(to), deliveryMessage(to, moved)), moved, nil
		},
	}
	if optimistic {
		step.Optimistic = s.overlay(func(o Overlay) bool {
			return o.MarkItems(ids, to, s.Actor.ID, at)
		})
	}
	return s.Runner.Run(ctx, step)
}

// explainStuck says why a line did not move.
func (s *Service) explainStuck(ctx context.Context, itemID string, to domain.DeliveryStatus) string {
	it, err := s.Store.GetItem(ctx, itemID)
	if err != nil {
		return "The item is no longer available."
	}
	cur := it.DeliveryStatus.Normalize()
	switch {
	case cur.IsTerminal():
		return fmt.Sprintf("The item is already %s.", strings.ToLower(string(cur)))
	case domain.AlreadyAt(cur, to) && it.AcceptedBy != "" && it.AcceptedBy != s.Actor.ID:
		return "This item is already assigned to another valet."
	case domain.AlreadyAt(cur, to):
		return fmt.Sprintf("The item is already %s.", strings.ToLower(string(cur)))
	default:
		return fmt.Sprintf("The item cannot move from %s to %s.", strings.ToLower(string(cur)), strings.ToLower(string(to)))
	}
}

// ChargeInput is the input of the ad-hoc charge actions.
type ChargeInput struct {
	StayID      string
	Quantity    int             // hours or people; defaults to 1
	Amount      decimal.Decimal // damage amount; tariff-based charges ignore it
	Description string
	Payments    []domain.PaymentEntry // optional immediate collection
}

// ReportDamage adds a damage charge to the stay's order and tells
// reception.
func (s *Service) ReportDamage(ctx context.Context, in ChargeInput) Outcome {
	in.Quantity = 1
	return s.charge(ctx, NameReportDamage, in, domain.ConceptDamageCharge, domain.BizDamage,
		func() error {
			if !in.Amount.IsPositive() {
				return validation(NameReportDamage, "damage amount must be positive")
			}
			if strings.TrimSpace(in.Description) == "" {
				return validation(NameReportDamage, "damage description is required")
			}
			return nil
		}, nil)
}

// RegisterExtraHour charges extra hours at the room's tariff.
func (s *Service) RegisterExtraHour(ctx context.Context, in ChargeInput) Outcome {
	return s.charge(ctx, NameExtraHour, in, domain.ConceptExtraHour, domain.BizExtraHour, nil,
		func(rt domain.RoomType) decimal.Decimal { return rt.ExtraHourPrice })
}

// RegisterExtraPerson charges extra occupants at the room's tariff and
// raises the stay's people counts.
func (s *Service) RegisterExtraPerson(ctx context.Context, in ChargeInput) Outcome {
	return s.charge(ctx, NameExtraPerson, in, domain.ConceptExtraPerson, domain.BizExtraPerson, nil,
		func(rt domain.RoomType) decimal.Decimal { return rt.ExtraPersonPrice })
}

// charge creates an ad-hoc line, optionally collects it, and announces it.
// A nil tariff prices the line at in.Amount.
func (s *Service) charge(ctx context.Context, name string, in ChargeInput, concept domain.Concept, biz domain.BusinessType,
	check func() error, tariff func(domain.RoomType) decimal.Decimal) Outcome {
	qty := in.Quantity
	if qty <= 0 {
		qty = 1
	}

	return s.Runner.Run(ctx, Step{
		Name:   name,
		Domain: realtime.DomainRooms,
		Validate: func() error {
			if err := s.requireIDs(name, in.StayID)(); err != nil {
				return err
			}
			if check != nil {
				if err := check(); err != nil {
					return err
				}
			}
			return validEntries(name, in.Payments)
		},
		Remote: func(ctx context.Context) (Confirmation, int, error) {
			stay, err := s.Store.GetStay(ctx, in.StayID)
			if err != nil {
				return Confirmation{}, 0, remote(name, err)
			}
			if stay.SalesOrderID == "" {
				return Confirmation{}, 0, remote(name, fmt.Errorf("stay %s has no sales order", stay.ID))
			}

			price := in.Amount
			if tariff != nil {
				rt, err := s.Store.RoomTypeForStay(ctx, in.StayID)
				if err != nil {
					return Confirmation{}, 0, remote(name, err)
				}
				price = tariff(rt)
			}
			total := price.Mul(decimal.NewFromInt(int64(qty)))

			item := domain.SalesOrderItem{
				ID:          s.IDs.NewID(),
				OrderID:     stay.SalesOrderID,
				Concept:     concept,
				Description: chargeDescription(concept, in.Description, qty),
				Quantity:    qty,
				UnitPrice:   price,
				Total:       total,
				CreatedAt:   s.now(),
			}
			if err := s.Store.InsertItem(ctx, item); err != nil {
				return Confirmation{}, 0, remote(name, err)
			}

			if concept == domain.ConceptExtraPerson {
				if _, err := s.Store.AddPeople(ctx, in.StayID, qty); err != nil {
					return Confirmation{}, 1, partial(name, err)
				}
			}

			if len(in.Payments) > 0 {
				if _, err := s.collect(ctx, stay.SalesOrderID, concept, item.ID, in.Payments, true); err != nil {
					return Confirmation{}, 1, partial(name, err)
				}
			} else if _, err := s.Store.RecomputeRemaining(ctx, stay.SalesOrderID); err != nil {
				s.logger().Warn("recompute remaining failed", "order_id", stay.SalesOrderID, "error", err)
			}

			s.announce(ctx, biz, chargeTitle(concept), fmt.Sprintf("Room %s: %s (%s).", stay.RoomNumber, item.Description, total.StringFixed(2)),
				domain.NotificationPayload{StayID: stay.ID, SalesOrderID: stay.SalesOrderID, ConsumptionID: item.ID, RoomNumber: stay.RoomNumber})
			return success(chargeTitle(concept), fmt.Sprintf("%s added to room %s.", total.StringFixed(2), stay.RoomNumber)), 1, nil
		},
	})
}

// VerifyRoomChange confirms a room-change adjustment line, collecting it
// if tender lines are given.
func (s *Service) VerifyRoomChange(ctx context.Context, itemID string, payments []domain.PaymentEntry) Outcome {
	return s.verify(ctx, NameVerifyRoomChange, itemID, payments, domain.ConceptRoomChangeAdjustment)
}

// VerifyCharge confirms an extra, damage, promo or renewal line.
func (s *Service) VerifyCharge(ctx context.Context, itemID string, payments []domain.PaymentEntry) Outcome {
	return s.verify(ctx, NameVerifyCharge, itemID, payments, "")
}

func (s *Service) verify(ctx context.Context, name, itemID string, payments []domain.PaymentEntry, want domain.Concept) Outcome {
	return s.Runner.Run(ctx, Step{
		Name:   name,
		Domain: realtime.DomainRooms,
		Validate: func() error {
			if err := s.requireIDs(name, itemID)(); err != nil {
				return err
			}
			return validEntries(name, payments)
		},
		Remote: func(ctx context.Context) (Confirmation, int, error) {
			item, err := s.Store.GetItem(ctx, itemID)
			if err != nil {
				return Confirmation{}, 0, remote(name, err)
			}
			if want != "" && item.Concept != want {
				return Confirmation{}, 0, remote(name, fmt.Errorf("item %s is a %s line", itemID, item.Concept))
			}
			n, err := s.Store.CompleteItem(ctx, itemID, s.Actor.ID, s.now(), "")
			if err != nil {
				return Confirmation{}, 0, remote(name, err)
			}
			if n == 0 {
				return Confirmation{}, 0, conflict(name, "This charge was already verified.")
			}
			if len(payments) > 0 {
				if _, err := s.collect(ctx, item.OrderID, item.Concept, item.ID, payments, true); err != nil {
					return Confirmation{}, int(n), partial(name, err)
				}
			}
			return success("Verified", item.Description+" verified."), int(n), nil
		},
	})
}

func (s *Service) collect(ctx context.Context, orderID string, concept domain.Concept, itemID string, entries []domain.PaymentEntry, standalone bool) (payment.Result, error) {
	if orderID == "" {
		return payment.Result{}, errors.New("stay has no sales order")
	}
	c := &payment.Collector{Store: s.Store, IDs: s.IDs, Logger: s.logger()}
	return c.Collect(ctx, payment.Request{
		OrderID:     orderID,
		Concept:     concept,
		ItemID:      itemID,
		Entries:     entries,
		CollectorID: s.Actor.ID,
		At:          s.now(),
		Standalone:  standalone,
	})
}

func (s *Service) announceStay(ctx context.Context, stayID string, biz domain.BusinessType, title, format string) {
	stay, err := s.Store.GetStay(ctx, stayID)
	if err != nil {
		s.logger().Warn("announce: stay lookup failed", "stay_id", stayID, "error", err)
		return
	}
	s.announce(ctx, biz, title, fmt.Sprintf(format, stay.RoomNumber), domain.NotificationPayload{
		StayID: stay.ID, SalesOrderID: stay.SalesOrderID, RoomNumber: stay.RoomNumber,
	})
}

func (s *Service) announce(ctx context.Context, biz domain.BusinessType, title, message string, payload domain.NotificationPayload) {
	if s.Announcer == nil {
		return
	}
	payload.Type = biz
	if err := s.Announcer.Announce(ctx, domain.RoleReception, title, message, payload); err != nil {
		s.logger().Warn("announce failed", "type", string(biz), "stay_id", payload.StayID, "error", err)
	}
}

func (s *Service) requireIDs(name string, ids ...string) func() error {
	return func() error {
		if s.Actor.ID == "" {
			return validation(name, "no employee logged in")
		}
		for _, id := range ids {
			if strings.TrimSpace(id) == "" {
				return validation(name, "missing target id")
			}
		}
		return nil
	}
}

func (s *Service) overlay(apply func(Overlay) bool) func() bool {
	return func() bool {
		if s.Overlay == nil {
			return false
		}
		return apply(s.Overlay)
	}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func validEntries(name string, entries []domain.PaymentEntry) error {
	for _, e := range entries {
		if !e.Amount.IsPositive() {
			return validation(name, "payment amounts must be positive")
		}
		if !e.Method.Valid() {
			return validation(name, "payment method is required")
		}
		if e.Method == domain.MethodCard && strings.TrimSpace(e.Terminal) == "" {
			return validation(name, "card payments need a terminal")
		}
	}
	return nil
}

func success(title, message string) Confirmation {
	return Confirmation{Level: LevelSuccess, Title: title, Message: message}
}

func deliveryTitle(to domain.DeliveryStatus) string {
	switch to {
	case domain.DeliveryAccepted:
		return "Accepted"
	case domain.DeliveryInTransit:
		return "On the way"
	case domain.DeliveryDelivered:
		return "Delivered"
	case domain.DeliveryCancelled:
		return "Cancelled"
	}
	return "Updated"
}

func deliveryMessage(to domain.DeliveryStatus, n int) string {
	noun := "item"
	if n != 1 {
		noun = "items"
	}
	return fmt.Sprintf("%d %s %s.", n, noun, strings.ToLower(deliveryTitle(to)))
}

func chargeTitle(c domain.Concept) string {
	switch c {
	case domain.ConceptDamageCharge:
		return "Damage reported"
	case domain.ConceptExtraHour:
		return "Extra hour registered"
	case domain.ConceptExtraPerson:
		return "Extra person registered"
	}
	return "Charge registered"
}

func chargeDescription(c domain.Concept, desc string, qty int) string {
	if desc = strings.TrimSpace(desc); desc != "" {
		return desc
	}
	switch c {
	case domain.ConceptExtraHour:
		if qty == 1 {
			return "Extra hour"
		}
		return fmt.Sprintf("%d extra hours", qty)
	case domain.ConceptExtraPerson:
		if qty == 1 {
			return "Extra person"
		}
		return fmt.Sprintf("%d extra people", qty)
	}
	return string(c)
}

// dedupe drops repeated ids, keeping first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
