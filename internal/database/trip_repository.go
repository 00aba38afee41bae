package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/smarttransit/busticket-backend/internal/models"
)

// TripRepository handles database operations for trips and their seat maps
type TripRepository struct {
	db *sqlx.DB
}

// NewTripRepository creates a new TripRepository
func NewTripRepository(db *sqlx.DB) *TripRepository {
	return &TripRepository{db: db}
}

const tripColumns = `id, route, departure_time, license_plate, bus_id, type, seats, version, created_at, updated_at`

// Create inserts a trip with its generated seats
func (r *TripRepository) Create(ctx context.Context, trip *models.Trip) error {
	now := time.Now()
	trip.CreatedAt = now
	trip.UpdatedAt = now
	if trip.Version == 0 {
		trip.Version = 1
	}

	query := `
		INSERT INTO trips (` + tripColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		trip.ID, trip.Route, trip.DepartureTime, trip.LicensePlate, trip.BusID,
		trip.Type, trip.Seats, trip.Version, trip.CreatedAt, trip.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create trip: %w", err)
	}
	return nil
}

// GetByID retrieves a trip by ID
func (r *TripRepository) GetByID(ctx context.Context, id string) (*models.Trip, error) {
	var trip models.Trip
	err := r.db.GetContext(ctx, &trip, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	return &trip, nil
}

// GetByIDs retrieves the trips with the given ids. Missing ids are skipped.
func (r *TripRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Trip, error) {
	trips := []models.Trip{}
	if len(ids) == 0 {
		return trips, nil
	}
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = ANY($1) ORDER BY departure_time, id`
	if err := r.db.SelectContext(ctx, &trips, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to get trips: %w", err)
	}
	return trips, nil
}

// List returns trips matching the filter ordered by departure
func (r *TripRepository) List(ctx context.Context, filter TripFilter) ([]models.Trip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE ($1::timestamptz IS NULL OR departure_time >= $1)
		  AND ($2::timestamptz IS NULL OR departure_time < $2)
		  AND ($3 = '' OR route = $3)
		ORDER BY departure_time, id
	`
	trips := []models.Trip{}
	err := r.db.SelectContext(ctx, &trips, query, nullTime(filter.From), nullTime(filter.To), filter.Route)
	if err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}
	return trips, nil
}

// updateSeats rewrites a trip's seats inside tx when its version still matches
func (r *TripRepository) updateSeats(ctx context.Context, tx *sqlx.Tx, update models.TripSeatUpdate) error {
	query := `
		UPDATE trips
		SET seats = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4
	`
	result, err := tx.ExecContext(ctx, query, update.Seats, time.Now(), update.TripID, update.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update trip seats: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("trip %s: %w", update.TripID, ErrVersionConflict)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
