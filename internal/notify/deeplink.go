package notify

import (
	"sync"

	"github.com/roach88/valetsync/internal/domain"
)

// Screen is a top-level screen of the valet app.
type Screen string

const (
	ScreenDashboard Screen = "dashboard"
	ScreenRooms     Screen = "rooms"
	ScreenServices  Screen = "services"
)

// LinkAction is the flow a deep link opens on its screen.
type LinkAction string

const (
	LinkNone             LinkAction = ""
	LinkCheckout         LinkAction = "checkout"
	LinkEntry            LinkAction = "entry"
	LinkVerify           LinkAction = "verify"
	LinkVerifyRoomChange LinkAction = "verifyRoomChange"
)

// DeepLink is where a tapped notification leads.
type DeepLink struct {
	Screen   Screen     `json:"screen"`
	Action   LinkAction `json:"action,omitempty"`
	TargetID string     `json:"targetId,omitempty"`
}

// Key identifies the link for repeat detection.
func (l DeepLink) Key() string {
	return string(l.Screen) + "|" + string(l.Action) + "|" + l.TargetID
}

// Resolve maps a notification payload to its deep link. ok is false when
// the payload has no target and the app should just open the dashboard.
func Resolve(p domain.NotificationPayload) (DeepLink, bool) {
	switch p.Type {
	case domain.BizVehicleRequest, domain.BizCheckoutRequest:
		return stayLink(LinkCheckout, p)
	case domain.BizNewEntry:
		return stayLink(LinkEntry, p)
	case domain.BizConsumption:
		target := p.ConsumptionID
		if target == "" {
			target = p.StayID
		}
		if target == "" {
			return DeepLink{Screen: ScreenServices}, false
		}
		return DeepLink{Screen: ScreenServices, TargetID: target}, true
	case domain.BizExtraHour, domain.BizExtraPerson, domain.BizDamage, domain.BizPromo, domain.BizRenewal:
		return itemLink(LinkVerify, p)
	case domain.BizRoomChange:
		return itemLink(LinkVerifyRoomChange, p)
	}
	return DeepLink{Screen: ScreenDashboard}, false
}

func stayLink(a LinkAction, p domain.NotificationPayload) (DeepLink, bool) {
	if p.StayID == "" {
		return DeepLink{Screen: ScreenRooms}, false
	}
	return DeepLink{Screen: ScreenRooms, Action: a, TargetID: p.StayID}, true
}

func itemLink(a LinkAction, p domain.NotificationPayload) (DeepLink, bool) {
	if p.ConsumptionID == "" {
		return DeepLink{Screen: ScreenRooms}, false
	}
	return DeepLink{Screen: ScreenRooms, Action: a, TargetID: p.ConsumptionID}, true
}

// DeepLinkTracker remembers the last link a screen processed.
//
// Thread-safety: safe for concurrent use.
type DeepLinkTracker struct {
	mu   sync.Mutex
	last string
}

// Seen reports whether l was the last link processed. If not, l becomes
// the last one and the caller should open it.
func (t *DeepLinkTracker) Seen(l DeepLink) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := l.Key()
	if k == t.last {
		return true
	}
	t.last = k
	return false
}

// Forget clears the tracker, e.g. after the opened modal was closed.
func (t *DeepLinkTracker) Forget() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = ""
}
