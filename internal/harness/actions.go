package harness

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/roach88/valetsync/internal/action"
	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/session"
)

type actionFunc func(ctx context.Context, s *session.Session, args args) (action.Outcome, error)

// actions maps scenario step names to session actions.
var actions = map[string]actionFunc{
	"accept_entry": func(ctx context.Context, s *session.Session, a args) (action.Outcome, error) {
		return s.Actions.AcceptEntry(ctx, a.str("stay_id")), nil
	},
	"register_vehicle": func(ctx context.Context, s *session.Session, a args) (action.Outcome, error) {
		payments, err := a.payments()
		if err != nil {
			return action.Outcome{}, err
		}
		return s.Actions.RegisterVehicle(ctx, action.VehicleInput{
			StayID: a.str("stay_id"), Plate: a.str("plate"),
			Brand: a.str("brand"), Model: a.str("model"),
			Payments: payments,
		}), nil
	},
	"propose_checkout": func(ctx context.Context, s *session.Session, a args) (action.Outcome, error) {
		return s.Actions.ProposeCheckout(ctx, a.str("stay_id")), nil
	},
	"confirm_checkout": func(ctx context.Context, s *session.Session, a args) (action.Outcome, error) {
		payments, err := a.payments()
		if err != nil {
			return action.Outcome{}, err
		}
		return s.Actions.ConfirmCheckout(ctx, action.CheckoutInput{StayID: a.str("stay_id"), Payments: payments}), nil
	},
	"accept_item": func(ctx context.Context, s *session.Session, a args) (action.Outcome, error) {
		return s.Actions.AcceptConsumption(ctx, a.str("item_id")), nil
	},
	"accept_items": func(ctx context.Context, s *session.Session, a args) (action.Outcome, error) {
		return s.Actions.AcceptConsumptions(ctx, a.strs("item_ids")), nil
	},
	"mark_in_transit": func(ctx context.Context, s *session.Session, a args) (action.Outcome, error) {
		return s.Actions.MarkInTransit(ctx, a.str("item_id")), nil
	},
	"deliver_item": func(ctx context.Context, s *session.Session, a args) (action.Outcome, error) {
		return s.Actions.DeliverConsumption(ctx, a.str("item_id")), nil
	},
	"deliver_items": func(ctx context.Context, s *session.Session, a args) (action.Outcome, error) {
		return s.Actions.DeliverConsumptions(ctx, a.strs("item_ids")), nil
	},
	"cancel_item": func(ctx context.Context, s *session.Session, a args) (action.Outcome, error) {
		return s.Actions.CancelConsumption(ctx, a.str("item_id"), a.str("reason")), nil
	},
	"report_damage": func(ctx context.Context, s *session.Session, a args) (action.Outcome, error) {
		in, err := a.charge()
		if err != nil {
			return action.Outcome{}, err
		}
		return s.Actions.ReportDamage(ctx, in), nil
	},
	"extra_hour": func(ctx context.Context, s *session.Session, a args) (action.Outcome, error) {
		in, err := a.charge()
		if err != nil {
			return action.Outcome{}, err
		}
		return s.Actions.RegisterExtraHour(ctx, in), nil
	},
	"extra_person": func(ctx context.Context, s *session.Session, a args) (action.Outcome, error) {
		in, err := a.charge()
		if err != nil {
			return action.Outcome{}, err
		}
		return s.Actions.RegisterExtraPerson(ctx, in), nil
	},
	"verify_room_change": func(ctx context.Context, s *session.Session, a args) (action.Outcome, error) {
		payments, err := a.payments()
		if err != nil {
			return action.Outcome{}, err
		}
		return s.Actions.VerifyRoomChange(ctx, a.str("item_id"), payments), nil
	},
}

// args reads loosely typed YAML step arguments.
type args map[string]any

func (a args) str(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (a args) strs(key string) []string {
	raw, ok := a[key].([]any)
	if !ok {
		if s := a.str(key); s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

func (a args) number(key string) (int, error) {
	s := a.str(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func (a args) amount(key string) (decimal.Decimal, error) {
	s := a.str(key)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func (a args) charge() (action.ChargeInput, error) {
	qty, err := a.number("quantity")
	if err != nil {
		return action.ChargeInput{}, err
	}
	amount, err := a.amount("amount")
	if err != nil {
		return action.ChargeInput{}, err
	}
	payments, err := a.payments()
	if err != nil {
		return action.ChargeInput{}, err
	}
	return action.ChargeInput{
		StayID:      a.str("stay_id"),
		Quantity:    qty,
		Amount:      amount,
		Description: a.str("description"),
		Payments:    payments,
	}, nil
}

// payments reads the optional "payments" list of tender lines.
func (a args) payments() ([]domain.PaymentEntry, error) {
	raw, ok := a["payments"].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]domain.PaymentEntry, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("payments[%d]: expected a mapping", i)
		}
		line := args(m)
		amount, err := line.amount("amount")
		if err != nil {
			return nil, fmt.Errorf("payments[%d]: %w", i, err)
		}
		out = append(out, domain.PaymentEntry{
			ID:        line.str("id"),
			Amount:    amount,
			Method:    domain.PaymentMethod(line.str("method")),
			Terminal:  line.str("terminal"),
			Reference: line.str("reference"),
			CardLast4: line.str("card_last4"),
			CardType:  line.str("card_type"),
		})
	}
	return out, nil
}

func (a args) notification(id string) domain.Notification {
	if v := a.str("id"); v != "" {
		id = v
	}
	typ := domain.BusinessType(a.str("type"))
	if typ == "" {
		typ = domain.BizGeneral
	}
	title := a.str("title")
	if title == "" {
		title = string(typ)
	}
	return domain.Notification{
		ID:      id,
		UserID:  a.str("user"),
		Title:   title,
		Message: a.str("message"),
		Payload: domain.NotificationPayload{
			Type:          typ,
			StayID:        a.str("stay_id"),
			SalesOrderID:  a.str("sales_order_id"),
			ConsumptionID: a.str("consumption_id"),
			RoomNumber:    a.str("room_number"),
		},
	}
}
