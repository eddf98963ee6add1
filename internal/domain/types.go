package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StayStatus is the lifecycle status of a RoomStay. Only ACTIVE stays are loaded.
type StayStatus string

const (
	StayActive   StayStatus = "ACTIVE"
	StayFinished StayStatus = "FINISHED"
)

// Concept classifies a billable line or a payment.
type Concept string

const (
	ConceptStay                 Concept = "ESTANCIA"
	ConceptConsumption          Concept = "CONSUMPTION"
	ConceptExtraPerson          Concept = "EXTRA_PERSON"
	ConceptExtraHour            Concept = "EXTRA_HOUR"
	ConceptRenewal              Concept = "RENEWAL"
	ConceptPromo4H              Concept = "PROMO_4H"
	ConceptDamageCharge         Concept = "DAMAGE_CHARGE"
	ConceptRoomChangeAdjustment Concept = "ROOM_CHANGE_ADJUSTMENT"
)

// PaymentMethod is the tender type of a payment.
type PaymentMethod string

const (
	MethodCash PaymentMethod = "CASH"
	MethodCard PaymentMethod = "CARD"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	return m == MethodCash || m == MethodCard
}

// PaymentStatus tracks reconciliation of a payment. This system only ever
// moves a payment from PENDING to COLLECTED_BY_FIELD_STAFF; PAID is set by
// back-office reconciliation.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCollected PaymentStatus = "COLLECTED_BY_FIELD_STAFF"
	PaymentPaid      PaymentStatus = "PAID"
)

// RoomType carries the tariff of a room.
type RoomType struct {
	ID               string
	Name             string
	BasePrice        decimal.Decimal
	ExtraPersonPrice decimal.Decimal
	ExtraHourPrice   decimal.Decimal
}

// Room is a physical room identified by its number.
type Room struct {
	ID     string
	Number string
	Type   RoomType
	Stay   *RoomStay // active stay, nil when vacant
}

// RoomStay is one guest occupancy cycle.
//
// Empty strings stand for NULL columns: an empty VehiclePlate means no
// vehicle has been registered, an empty EntryValetID means nobody has
// claimed the entry.
type RoomStay struct {
	ID                  string
	RoomID              string
	RoomNumber          string
	Status              StayStatus
	VehiclePlate        string
	VehicleBrand        string
	VehicleModel        string
	EntryValetID        string
	CheckoutValetID     string
	VehicleRequestedAt  *time.Time
	CheckoutRequestedAt *time.Time
	CheckoutProposedAt  *time.Time
	CheckoutConfirmedAt *time.Time
	CurrentPeople       int
	TotalPeople         int
	CheckInAt           time.Time
	SalesOrderID        string
	Order               *SalesOrder
}

// HasVehicle reports whether a vehicle has been registered for the stay.
func (s RoomStay) HasVehicle() bool {
	return s.VehiclePlate != ""
}

// SalesOrder aggregates billing for a stay.
type SalesOrder struct {
	ID              string
	StayID          string
	RemainingAmount decimal.Decimal
	Items           []SalesOrderItem
	Payments        []Payment
}

// SalesOrderItem is a billable line of an order.
type SalesOrderItem struct {
	ID             string
	OrderID        string
	Concept        Concept
	Description    string
	Quantity       int
	UnitPrice      decimal.Decimal
	Total          decimal.Decimal
	IsPaid         bool
	DeliveryStatus DeliveryStatus
	AcceptedBy     string
	AcceptedAt     *time.Time
	CompletedAt    *time.Time
	Notes          string
	CreatedAt      time.Time
}

// Payment is one tender instance against an order.
type Payment struct {
	ID             string
	OrderID        string
	ItemID         string
	Amount         decimal.Decimal
	Method         PaymentMethod
	Terminal       string
	CardBrand      string
	CardLast4      string
	Reference      string
	Concept        Concept
	Status         PaymentStatus
	CollectedBy    string
	CollectedAt    *time.Time
	ShiftSessionID string
	ParentID       string
	Partial        bool
	CreatedAt      time.Time
}

// PaymentEntry is a draft tender line edited by the valet before submission.
type PaymentEntry struct {
	ID        string
	Amount    decimal.Decimal
	Method    PaymentMethod
	Terminal  string
	Reference string
	CardLast4 string
	CardType  string
}

// Role of an employee.
type Role string

const (
	RoleValet     Role = "VALET"
	RoleReception Role = "RECEPTION"
	RoleManager   Role = "MANAGER"
)

// Employee is a staff member.
type Employee struct {
	ID   string
	Name string
	Role Role
}

// ShiftSession is a work shift. An employee has at most one open session.
type ShiftSession struct {
	ID         string
	EmployeeID string
	StartedAt  time.Time
	EndedAt    *time.Time
}

// Notification is a system event targeted at one user. Never mutated here.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Payload   NotificationPayload
	CreatedAt time.Time
}

// NotificationPayload is the business part of a notification, shared with
// push payloads.
type NotificationPayload struct {
	Type          BusinessType `json:"type"`
	StayID        string       `json:"stayId,omitempty"`
	SalesOrderID  string       `json:"salesOrderId,omitempty"`
	ConsumptionID string       `json:"consumptionId,omitempty"`
	RoomNumber    string       `json:"roomNumber,omitempty"`
}

// BusinessType tags the business meaning of a notification.
type BusinessType string

const (
	BizVehicleRequest   BusinessType = "VEHICLE_REQUEST"
	BizCheckoutRequest  BusinessType = "CHECKOUT_REQUEST"
	BizNewEntry         BusinessType = "NEW_ENTRY"
	BizConsumption      BusinessType = "CONSUMPTION_REQUEST"
	BizExtraHour        BusinessType = "EXTRA_HOUR"
	BizExtraPerson      BusinessType = "EXTRA_PERSON"
	BizDamage           BusinessType = "DAMAGE_REPORT"
	BizPromo            BusinessType = "PROMO_4H"
	BizRenewal          BusinessType = "RENEWAL"
	BizRoomChange       BusinessType = "ROOM_CHANGE"
	BizCheckoutProposed BusinessType = "CHECKOUT_PROPOSED"
	BizGeneral          BusinessType = "GENERAL"
)
