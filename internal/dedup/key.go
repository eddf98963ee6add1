package dedup

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/valetsync/internal/domain"
)

// Identifiers are the candidate ids of a business event, in priority order.
type Identifiers struct {
	StayID         string
	SalesOrderID   string
	ConsumptionID  string
	NotificationID string
}

// IdentifiersOf extracts the ids of a notification.
func IdentifiersOf(n domain.Notification) Identifiers {
	return Identifiers{
		StayID:         n.Payload.StayID,
		SalesOrderID:   n.Payload.SalesOrderID,
		ConsumptionID:  n.Payload.ConsumptionID,
		NotificationID: n.ID,
	}
}

// Key builds the dedup key of an event. Returns "" when no id is present;
// such events cannot be deduplicated and are always allowed.
func Key(typ domain.BusinessType, ids Identifiers) string {
	id := firstNonEmpty(ids.StayID, ids.SalesOrderID, ids.ConsumptionID, ids.NotificationID)
	if id == "" {
		return ""
	}
	t := normalize(string(typ))
	if t == "" {
		t = string(domain.BizGeneral)
	}
	return strings.ToUpper(t) + ":" + strings.ToLower(id)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = normalize(v); v != "" {
			return v
		}
	}
	return ""
}

func normalize(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}
