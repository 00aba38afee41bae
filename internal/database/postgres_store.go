package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/busticket-backend/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store on top of the sqlx repositories
type PostgresStore struct {
	db       *sqlx.DB
	buses    *BusRepository
	trips    *TripRepository
	bookings *BookingRepository
	payments *PaymentRepository
	users    *UserRepository
}

// NewPostgresStore wires the repositories over one pool
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db:       db,
		buses:    NewBusRepository(db),
		trips:    NewTripRepository(db),
		bookings: NewBookingRepository(db),
		payments: NewPaymentRepository(db),
		users:    NewUserRepository(db),
	}
}

// Migrate creates the tables when they do not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateBus(ctx context.Context, bus *models.Bus) error {
	return s.buses.Create(ctx, bus)
}

func (s *PostgresStore) GetBus(ctx context.Context, id string) (*models.Bus, error) {
	return s.buses.GetByID(ctx, id)
}

func (s *PostgresStore) ListBuses(ctx context.Context) ([]models.Bus, error) {
	return s.buses.List(ctx)
}

func (s *PostgresStore) CreateRoute(ctx context.Context, route *models.Route) error {
	return s.buses.CreateRoute(ctx, route)
}

func (s *PostgresStore) ListRoutes(ctx context.Context) ([]models.Route, error) {
	return s.buses.ListRoutes(ctx)
}

func (s *PostgresStore) CreateTrip(ctx context.Context, trip *models.Trip) error {
	return s.trips.Create(ctx, trip)
}

func (s *PostgresStore) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	return s.trips.GetByID(ctx, id)
}

func (s *PostgresStore) GetTrips(ctx context.Context, ids []string) ([]models.Trip, error) {
	return s.trips.GetByIDs(ctx, ids)
}

func (s *PostgresStore) ListTrips(ctx context.Context, filter TripFilter) ([]models.Trip, error) {
	return s.trips.List(ctx, filter)
}

func (s *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

func (s *PostgresStore) ListBookings(ctx context.Context) ([]models.Booking, error) {
	return s.bookings.List(ctx)
}

func (s *PostgresStore) ListActiveBookingsForTrips(ctx context.Context, tripIDs []string) ([]models.Booking, error) {
	return s.bookings.ListActiveForTrips(ctx, tripIDs)
}

func (s *PostgresStore) FindBookings(ctx context.Context, lookup BookingLookup) ([]models.Booking, error) {
	return s.bookings.Find(ctx, lookup)
}

func (s *PostgresStore) ListPayments(ctx context.Context) ([]models.Payment, error) {
	return s.payments.List(ctx)
}

func (s *PostgresStore) ListPaymentsByBooking(ctx context.Context, bookingID string) ([]models.Payment, error) {
	return s.payments.ListByBooking(ctx, bookingID)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.users.GetByUsername(ctx, username)
}

func (s *PostgresStore) GetRole(ctx context.Context, name string) (*models.Role, error) {
	return s.users.GetRole(ctx, name)
}

func (s *PostgresStore) UpdateLastLogin(ctx context.Context, userID string) error {
	return s.users.UpdateLastLogin(ctx, userID)
}

// Apply writes the change set in one transaction. Trip rows are written first
// so a stale version aborts before any booking or ledger row is touched. A
// booking patch that finds the row changed aborts the same way.
func (s *PostgresStore) Apply(ctx context.Context, changes *models.ChangeSet) error {
	if changes == nil || changes.IsEmpty() {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, update := range changes.TripSeats {
		if err := s.trips.updateSeats(ctx, tx, update); err != nil {
			return err
		}
	}

	if len(changes.DeleteBookingIDs) > 0 {
		if err := s.bookings.deleteByIDs(ctx, tx, changes.DeleteBookingIDs); err != nil {
			return err
		}
	}

	for _, booking := range changes.UpsertBookings {
		if err := s.bookings.upsert(ctx, tx, booking); err != nil {
			return err
		}
	}

	for _, patch := range changes.PatchBookings {
		if err := s.bookings.patch(ctx, tx, patch); err != nil {
			return err
		}
	}

	if len(changes.DeletePaymentIDs) > 0 {
		if err := s.payments.deleteByIDs(ctx, tx, changes.DeletePaymentIDs); err != nil {
			return err
		}
	}

	for _, payment := range changes.InsertPayments {
		if err := s.payments.insert(ctx, tx, payment); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
