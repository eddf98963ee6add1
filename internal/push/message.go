package push

import (
	"strings"

	"github.com/roach88/valetsync/internal/domain"
)

// Data keys of a push payload.
const (
	KeyType           = "type"
	KeyStayID         = "stayId"
	KeySalesOrderID   = "salesOrderId"
	KeyConsumptionID  = "consumptionId"
	KeyRoomNumber     = "roomNumber"
	KeyNotificationID = "notificationId"
)

// Message is one push addressed to one device token.
type Message struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Data encodes a notification as a flat push data map. Empty ids are
// left out.
func Data(n domain.Notification) map[string]string {
	out := map[string]string{KeyType: string(n.Payload.Type)}
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put(KeyStayID, n.Payload.StayID)
	put(KeySalesOrderID, n.Payload.SalesOrderID)
	put(KeyConsumptionID, n.Payload.ConsumptionID)
	put(KeyRoomNumber, n.Payload.RoomNumber)
	put(KeyNotificationID, n.ID)
	if out[KeyType] == "" {
		out[KeyType] = string(domain.BizGeneral)
	}
	return out
}

// ParseData decodes a push data map back into a notification. Unknown
// keys are ignored.
func ParseData(title, body string, data map[string]string) domain.Notification {
	typ := domain.BusinessType(strings.TrimSpace(data[KeyType]))
	if typ == "" {
		typ = domain.BizGeneral
	}
	return domain.Notification{
		ID:      data[KeyNotificationID],
		Title:   title,
		Message: body,
		Payload: domain.NotificationPayload{
			Type:          typ,
			StayID:        data[KeyStayID],
			SalesOrderID:  data[KeySalesOrderID],
			ConsumptionID: data[KeyConsumptionID],
			RoomNumber:    data[KeyRoomNumber],
		},
	}
}

// BuildMessages addresses n to every token. Blank and repeated tokens
// are skipped.
func BuildMessages(tokens []string, n domain.Notification) []Message {
	seen := make(map[string]bool, len(tokens))
	out := make([]Message, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, Message{Token: tok, Title: n.Title, Body: n.Message, Data: Data(n)})
	}
	return out
}
