package database

import (
	"context"
	"errors"
	"time"

	"github.com/smarttransit/busticket-backend/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned by Apply when a trip was rewritten after it was read
	ErrVersionConflict = errors.New("trip was modified concurrently")
)

// TripFilter narrows ListTrips. Zero values match everything.
type TripFilter struct {
	From  time.Time
	To    time.Time
	Route string
}

// Matches reports whether the trip passes the filter
func (f TripFilter) Matches(t *models.Trip) bool {
	if !f.From.IsZero() && t.DepartureTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.DepartureTime.Before(f.To) {
		return false
	}
	if f.Route != "" && t.Route != f.Route {
		return false
	}
	return true
}

// BookingLookup is an already normalized booking search. A booking matches when
// any non-empty field matches.
type BookingLookup struct {
	Code  string
	ID    string
	Phone string
}

// Store is the persistence boundary of the seat sales engine
type Store interface {
	CreateBus(ctx context.Context, bus *models.Bus) error
	GetBus(ctx context.Context, id string) (*models.Bus, error)
	ListBuses(ctx context.Context) ([]models.Bus, error)

	CreateRoute(ctx context.Context, route *models.Route) error
	ListRoutes(ctx context.Context) ([]models.Route, error)

	CreateTrip(ctx context.Context, trip *models.Trip) error
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	GetTrips(ctx context.Context, ids []string) ([]models.Trip, error)
	ListTrips(ctx context.Context, filter TripFilter) ([]models.Trip, error)

	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookings(ctx context.Context) ([]models.Booking, error)
	ListActiveBookingsForTrips(ctx context.Context, tripIDs []string) ([]models.Booking, error)
	FindBookings(ctx context.Context, lookup BookingLookup) ([]models.Booking, error)

	ListPayments(ctx context.Context) ([]models.Payment, error)
	ListPaymentsByBooking(ctx context.Context, bookingID string) ([]models.Payment, error)

	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetRole(ctx context.Context, name string) (*models.Role, error)
	UpdateLastLogin(ctx context.Context, userID string) error

	// Apply writes the change set atomically. Trip seat updates carry the version
	// they were computed from; a stale version fails the whole set with
	// ErrVersionConflict.
	Apply(ctx context.Context, changes *models.ChangeSet) error

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
