package view

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/realtime"
	"github.com/roach88/valetsync/internal/store"
)

// Source runs the full view queries. *store.Store implements it.
type Source interface {
	ListActiveRooms(ctx context.Context) ([]domain.Room, error)
	ListServiceItems(ctx context.Context) ([]store.ServiceItem, error)
}

// Set is the view state of one session: one holder per screen domain.
// It is the action layer's overlay and refetcher.
type Set struct {
	Dashboard *Holder[Dashboard]
	Rooms     *Holder[[]domain.Room]
	Services  *Holder[[]store.ServiceItem]
}

// NewSet wires the three views of valetID to src.
func NewSet(src Source, valetID string) *Set {
	return &Set{
		Dashboard: NewHolder(func(ctx context.Context) (Dashboard, error) {
			rooms, err := src.ListActiveRooms(ctx)
			if err != nil {
				return Dashboard{}, err
			}
			return Summarize(rooms, valetID), nil
		}),
		Rooms:    NewHolder(src.ListActiveRooms),
		Services: NewHolder(src.ListServiceItems),
	}
}

// Load runs the first full load of every view.
func (s *Set) Load(ctx context.Context) error {
	for _, d := range []realtime.Domain{realtime.DomainDashboard, realtime.DomainRooms, realtime.DomainServices} {
		if err := s.Refetch(ctx, d); err != nil {
			return fmt.Errorf("load %s: %w", d, err)
		}
	}
	return nil
}

// Refetch reloads the view of d.
func (s *Set) Refetch(ctx context.Context, d realtime.Domain) error {
	switch d {
	case realtime.DomainDashboard:
		return s.Dashboard.Refetch(ctx)
	case realtime.DomainRooms:
		return s.Rooms.Refetch(ctx)
	case realtime.DomainServices:
		return s.Services.Refetch(ctx)
	}
	return fmt.Errorf("view: unknown domain %q", d)
}

// RefetchFunc adapts one domain to realtime.SubscriptionOptions.Refetch.
func (s *Set) RefetchFunc(d realtime.Domain) func(context.Context) error {
	return func(ctx context.Context) error { return s.Refetch(ctx, d) }
}

// ClaimEntry marks stayID as taken by valetID in the rooms list.
func (s *Set) ClaimEntry(stayID, valetID string) bool {
	return s.Rooms.Mutate(func(rooms []domain.Room) ([]domain.Room, bool) {
		return claimEntry(rooms, stayID, valetID)
	})
}

// MarkItems moves service lines to status in the services list.
func (s *Set) MarkItems(ids []string, status domain.DeliveryStatus, by string, at time.Time) bool {
	return s.Services.Mutate(func(items []store.ServiceItem) ([]store.ServiceItem, bool) {
		return markItems(items, ids, status, by, at)
	})
}

// Close drops every view. Later re-fetch results are discarded.
func (s *Set) Close() {
	s.Dashboard.Close()
	s.Rooms.Close()
	s.Services.Close()
}
