package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/busticket-backend/internal/models"
)

// BusRepository handles database operations for buses and routes
type BusRepository struct {
	db *sqlx.DB
}

// NewBusRepository creates a new BusRepository
func NewBusRepository(db *sqlx.DB) *BusRepository {
	return &BusRepository{db: db}
}

const busColumns = `id, plate, type, layout_config, created_at, updated_at`

// Create inserts a bus
func (r *BusRepository) Create(ctx context.Context, bus *models.Bus) error {
	now := time.Now()
	bus.CreatedAt = now
	bus.UpdatedAt = now

	query := `
		INSERT INTO buses (` + busColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		bus.ID, bus.Plate, bus.Type, bus.LayoutConfig, bus.CreatedAt, bus.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create bus: %w", err)
	}
	return nil
}

// GetByID retrieves a bus by ID
func (r *BusRepository) GetByID(ctx context.Context, id string) (*models.Bus, error) {
	var bus models.Bus
	err := r.db.GetContext(ctx, &bus, `SELECT `+busColumns+` FROM buses WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bus: %w", err)
	}
	return &bus, nil
}

// List returns all buses ordered by plate
func (r *BusRepository) List(ctx context.Context) ([]models.Bus, error) {
	buses := []models.Bus{}
	if err := r.db.SelectContext(ctx, &buses, `SELECT `+busColumns+` FROM buses ORDER BY plate`); err != nil {
		return nil, fmt.Errorf("failed to list buses: %w", err)
	}
	return buses, nil
}

// CreateRoute inserts a route
func (r *BusRepository) CreateRoute(ctx context.Context, route *models.Route) error {
	query := `
		INSERT INTO routes (id, name, origin, destination, price)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, route.ID, route.Name, route.Origin, route.Destination, route.Price)
	if err != nil {
		return fmt.Errorf("failed to create route: %w", err)
	}
	return nil
}

// ListRoutes returns all routes ordered by name
func (r *BusRepository) ListRoutes(ctx context.Context) ([]models.Route, error) {
	routes := []models.Route{}
	query := `SELECT id, name, origin, destination, price FROM routes ORDER BY name`
	if err := r.db.SelectContext(ctx, &routes, query); err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	return routes, nil
}
