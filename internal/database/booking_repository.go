package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/smarttransit/busticket-backend/internal/models"
)

// BookingRepository handles database operations for bookings
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `id, passenger, status, items, payment, total_price, created_at, updated_at`

// GetByID retrieves a booking by ID
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// List returns every booking, cancelled ones included
func (r *BookingRepository) List(ctx context.Context) ([]models.Booking, error) {
	bookings := []models.Booking{}
	query := `SELECT ` + bookingColumns + ` FROM bookings ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &bookings, query); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// ListActiveForTrips returns non-cancelled bookings with an item on any of the trips
func (r *BookingRepository) ListActiveForTrips(ctx context.Context, tripIDs []string) ([]models.Booking, error) {
	bookings := []models.Booking{}
	if len(tripIDs) == 0 {
		return bookings, nil
	}
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings b
		WHERE b.status <> 'cancelled'
		  AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(b.items) AS item
			WHERE item->>'tripId' = ANY($1)
		  )
		ORDER BY b.created_at, b.id
	`
	if err := r.db.SelectContext(ctx, &bookings, query, pq.Array(tripIDs)); err != nil {
		return nil, fmt.Errorf("failed to list bookings for trips: %w", err)
	}
	return bookings, nil
}

// Find matches bookings by order code, full id or normalized passenger phone
func (r *BookingRepository) Find(ctx context.Context, lookup BookingLookup) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE ($1 <> '' AND upper(right(id, 6)) = $1)
		   OR ($2 <> '' AND id = $2)
		   OR ($3 <> '' AND regexp_replace(passenger->>'phone', '\D', '', 'g') = $3)
		ORDER BY created_at DESC
		LIMIT 50
	`
	bookings := []models.Booking{}
	if err := r.db.SelectContext(ctx, &bookings, query, lookup.Code, lookup.ID, lookup.Phone); err != nil {
		return nil, fmt.Errorf("failed to find bookings: %w", err)
	}
	return bookings, nil
}

func (r *BookingRepository) upsert(ctx context.Context, tx *sqlx.Tx, b models.Booking) error {
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			passenger = EXCLUDED.passenger,
			status = EXCLUDED.status,
			items = EXCLUDED.items,
			payment = EXCLUDED.payment,
			total_price = EXCLUDED.total_price,
			updated_at = EXCLUDED.updated_at
	`
	_, err := tx.ExecContext(ctx, query,
		b.ID, b.Passenger, b.Status, b.Items, b.Payment, b.TotalPrice, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save booking %s: %w", b.ID, err)
	}
	return nil
}

// patch rewrites a booking's money fields inside tx when it was not saved since
// the caller read it
func (r *BookingRepository) patch(ctx context.Context, tx *sqlx.Tx, p models.BookingPatch) error {
	query := `
		UPDATE bookings
		SET total_price = $1, payment = $2, updated_at = $3
		WHERE id = $4 AND updated_at = $5
	`
	result, err := tx.ExecContext(ctx, query, p.TotalPrice, p.Payment, p.UpdatedAt, p.BookingID, p.ExpectedUpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to patch booking %s: %w", p.BookingID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("booking %s: %w", p.BookingID, ErrVersionConflict)
	}
	return nil
}

func (r *BookingRepository) deleteByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to delete bookings: %w", err)
	}
	return nil
}
