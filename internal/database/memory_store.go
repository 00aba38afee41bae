package database

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/smarttransit/busticket-backend/internal/models"
)

var nonDigits = regexp.MustCompile(`\D`)

// MemoryStore is a process-local Store. Every read returns copies and Apply
// holds the write lock for the whole change set.
type MemoryStore struct {
	mu       sync.RWMutex
	buses    map[string]models.Bus
	routes   map[string]models.Route
	trips    map[string]models.Trip
	bookings map[string]models.Booking
	payments []models.Payment
	users    map[string]models.User
	roles    map[string]models.Role
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buses:    make(map[string]models.Bus),
		routes:   make(map[string]models.Route),
		trips:    make(map[string]models.Trip),
		bookings: make(map[string]models.Booking),
		users:    make(map[string]models.User),
		roles:    make(map[string]models.Role),
	}
}

func (s *MemoryStore) CreateBus(_ context.Context, bus *models.Bus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.buses[bus.ID]; exists {
		return fmt.Errorf("failed to create bus: duplicate id %s", bus.ID)
	}
	now := time.Now()
	bus.CreatedAt, bus.UpdatedAt = now, now
	s.buses[bus.ID] = *bus
	return nil
}

func (s *MemoryStore) GetBus(_ context.Context, id string) (*models.Bus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bus, ok := s.buses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &bus, nil
}

func (s *MemoryStore) ListBuses(_ context.Context) ([]models.Bus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buses := make([]models.Bus, 0, len(s.buses))
	for _, b := range s.buses {
		buses = append(buses, b)
	}
	sort.Slice(buses, func(i, j int) bool { return buses[i].Plate < buses[j].Plate })
	return buses, nil
}

func (s *MemoryStore) CreateRoute(_ context.Context, route *models.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.routes[route.ID]; exists {
		return fmt.Errorf("failed to create route: duplicate id %s", route.ID)
	}
	s.routes[route.ID] = *route
	return nil
}

func (s *MemoryStore) ListRoutes(_ context.Context) ([]models.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	routes := make([]models.Route, 0, len(s.routes))
	for _, r := range s.routes {
		routes = append(routes, r)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Name < routes[j].Name })
	return routes, nil
}

func (s *MemoryStore) CreateTrip(_ context.Context, trip *models.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.trips[trip.ID]; exists {
		return fmt.Errorf("failed to create trip: duplicate id %s", trip.ID)
	}
	now := time.Now()
	trip.CreatedAt, trip.UpdatedAt = now, now
	if trip.Version == 0 {
		trip.Version = 1
	}
	s.trips[trip.ID] = trip.Clone()
	return nil
}

func (s *MemoryStore) GetTrip(_ context.Context, id string) (*models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trip, ok := s.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := trip.Clone()
	return &out, nil
}

func (s *MemoryStore) GetTrips(_ context.Context, ids []string) ([]models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trips := make([]models.Trip, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if trip, ok := s.trips[id]; ok {
			trips = append(trips, trip.Clone())
		}
	}
	sortTrips(trips)
	return trips, nil
}

func (s *MemoryStore) ListTrips(_ context.Context, filter TripFilter) ([]models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trips := make([]models.Trip, 0, len(s.trips))
	for _, trip := range s.trips {
		if filter.Matches(&trip) {
			trips = append(trips, trip.Clone())
		}
	}
	sortTrips(trips)
	return trips, nil
}

func sortTrips(trips []models.Trip) {
	sort.Slice(trips, func(i, j int) bool {
		if !trips[i].DepartureTime.Equal(trips[j].DepartureTime) {
			return trips[i].DepartureTime.Before(trips[j].DepartureTime)
		}
		return trips[i].ID < trips[j].ID
	})
}

func (s *MemoryStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	booking, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := booking.Clone()
	return &out, nil
}

func (s *MemoryStore) ListBookings(_ context.Context) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectBookings(func(*models.Booking) bool { return true }), nil
}

func (s *MemoryStore) ListActiveBookingsForTrips(_ context.Context, tripIDs []string) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]bool, len(tripIDs))
	for _, id := range tripIDs {
		wanted[id] = true
	}
	return s.collectBookings(func(b *models.Booking) bool {
		if !b.IsActive() {
			return false
		}
		for _, item := range b.Items {
			if wanted[item.TripID] {
				return true
			}
		}
		return false
	}), nil
}

func (s *MemoryStore) FindBookings(_ context.Context, lookup BookingLookup) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := s.collectBookings(func(b *models.Booking) bool {
		if lookup.Code != "" && b.Code() == strings.ToUpper(lookup.Code) {
			return true
		}
		if lookup.ID != "" && b.ID == lookup.ID {
			return true
		}
		return lookup.Phone != "" && nonDigits.ReplaceAllString(b.Passenger.Phone, "") == lookup.Phone
	})
	// newest first, as the SQL lookup orders
	for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
		found[i], found[j] = found[j], found[i]
	}
	return found, nil
}

// collectBookings must be called with the lock held
func (s *MemoryStore) collectBookings(keep func(*models.Booking) bool) []models.Booking {
	out := make([]models.Booking, 0)
	for _, b := range s.bookings {
		if keep(&b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) ListPayments(_ context.Context) ([]models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Payment{}, s.payments...), nil
}

func (s *MemoryStore) ListPaymentsByBooking(_ context.Context, bookingID string) ([]models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Payment{}
	for _, p := range s.payments {
		if p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	return out, nil
}

// PutUser stores a staff account
func (s *MemoryStore) PutUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Username] = user
}

// PutRole stores a role
func (s *MemoryStore) PutRole(role models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[role.Name] = role
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (s *MemoryStore) GetRole(_ context.Context, name string) (*models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &role, nil
}

func (s *MemoryStore) UpdateLastLogin(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, user := range s.users {
		if user.ID.String() == userID {
			now := time.Now()
			user.LastLoginAt = &now
			user.UpdatedAt = now
			s.users[name] = user
			return nil
		}
	}
	return ErrNotFound
}

// Apply checks every trip version and booking patch before writing anything
func (s *MemoryStore) Apply(_ context.Context, changes *models.ChangeSet) error {
	if changes == nil || changes.IsEmpty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, update := range changes.TripSeats {
		trip, ok := s.trips[update.TripID]
		if !ok || trip.Version != update.ExpectedVersion {
			return fmt.Errorf("trip %s: %w", update.TripID, ErrVersionConflict)
		}
	}
	for _, patch := range changes.PatchBookings {
		b, ok := s.bookings[patch.BookingID]
		if !ok || !b.UpdatedAt.Equal(patch.ExpectedUpdatedAt) {
			return fmt.Errorf("booking %s: %w", patch.BookingID, ErrVersionConflict)
		}
	}

	now := time.Now()
	for _, update := range changes.TripSeats {
		trip := s.trips[update.TripID]
		trip.Seats = append(models.SeatList(nil), update.Seats...)
		trip.Version++
		trip.UpdatedAt = now
		s.trips[update.TripID] = trip
	}

	for _, id := range changes.DeleteBookingIDs {
		delete(s.bookings, id)
	}
	for _, b := range changes.UpsertBookings {
		s.bookings[b.ID] = b.Clone()
	}
	for _, patch := range changes.PatchBookings {
		b := s.bookings[patch.BookingID]
		b.TotalPrice = patch.TotalPrice
		b.Payment = patch.Payment
		b.UpdatedAt = patch.UpdatedAt
		s.bookings[patch.BookingID] = b
	}

	if len(changes.DeletePaymentIDs) > 0 {
		drop := make(map[string]bool, len(changes.DeletePaymentIDs))
		for _, id := range changes.DeletePaymentIDs {
			drop[id] = true
		}
		kept := s.payments[:0]
		for _, p := range s.payments {
			if !drop[p.ID] {
				kept = append(kept, p)
			}
		}
		s.payments = kept
	}
	s.payments = append(s.payments, changes.InsertPayments...)

	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
