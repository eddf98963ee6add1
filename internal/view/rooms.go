package view

import (
	"slices"

	"github.com/roach88/valetsync/internal/domain"
)

// claimEntry returns rooms with stayID claimed by valetID. Rooms the
// valet may not claim are left alone.
func claimEntry(rooms []domain.Room, stayID, valetID string) ([]domain.Room, bool) {
	for i, r := range rooms {
		if r.Stay == nil || r.Stay.ID != stayID {
			continue
		}
		if !domain.CanAcceptEntry(*r.Stay, valetID) || r.Stay.EntryValetID == valetID {
			return rooms, false
		}
		out := slices.Clone(rooms)
		st := *r.Stay
		st.EntryValetID = valetID
		out[i].Stay = &st
		return out, true
	}
	return rooms, false
}

// FindStay returns the room holding stayID.
func FindStay(rooms []domain.Room, stayID string) (domain.Room, bool) {
	for _, r := range rooms {
		if r.Stay != nil && r.Stay.ID == stayID {
			return r, true
		}
	}
	return domain.Room{}, false
}

// RoomsByPhase groups occupied rooms by the phase of their stay, keeping
// list order inside each group.
func RoomsByPhase(rooms []domain.Room) map[domain.Phase][]domain.Room {
	out := make(map[domain.Phase][]domain.Room)
	for _, r := range rooms {
		if r.Stay == nil {
			continue
		}
		p := domain.PhaseOf(*r.Stay)
		out[p] = append(out[p], r)
	}
	return out
}
