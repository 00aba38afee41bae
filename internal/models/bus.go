package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// BusType represents the seat shape of a bus
type BusType string

const (
	BusTypeCabin   BusType = "CABIN"
	BusTypeSleeper BusType = "SLEEPER"
)

// IsValid reports whether the bus type is one we can generate seats for
func (t BusType) IsValid() bool {
	return t == BusTypeCabin || t == BusTypeSleeper
}

// MaxBenchSeats is the number of seats a rear bench can hold
const MaxBenchSeats = 5

// FloorSeatGroup describes the extra mattress seats laid on the aisle of one floor
type FloorSeatGroup struct {
	Floor int `json:"floor"`
	Count int `json:"count"`
}

// LayoutConfig describes the physical seat grid of a bus.
// ActiveSeats holds "{floor}-{row}-{col}" keys of the cells that are real seats.
type LayoutConfig struct {
	Floors         int               `json:"floors"`
	Rows           int               `json:"rows"`
	Cols           int               `json:"cols"`
	ActiveSeats    []string          `json:"activeSeats"`
	SeatLabels     map[string]string `json:"seatLabels,omitempty"`
	BenchFloors    []int             `json:"benchFloors,omitempty"`
	BenchSeatCount int               `json:"benchSeatCount,omitempty"`
	FloorSeats     []FloorSeatGroup  `json:"floorSeats,omitempty"`
}

// Value implements the driver.Valuer interface
// Returns JSON as string for compatibility with pgx simple protocol mode
func (l LayoutConfig) Value() (driver.Value, error) {
	bytes, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (l *LayoutConfig) Scan(value interface{}) error {
	*l = LayoutConfig{}
	return scanJSON(value, l)
}

// Validate checks the grid dimensions
func (l LayoutConfig) Validate() error {
	if l.Floors < 1 || l.Floors > 2 {
		return errors.New("floors must be 1 or 2")
	}
	if l.Rows <= 0 || l.Cols <= 0 {
		return errors.New("rows and cols must be greater than 0")
	}
	if len(l.ActiveSeats) == 0 {
		return errors.New("layout has no active seats")
	}
	return nil
}

// Bus represents a vehicle and its seat layout
type Bus struct {
	ID           string       `json:"id" db:"id"`
	Plate        string       `json:"plate" db:"plate"`
	Type         BusType      `json:"type" db:"type"`
	LayoutConfig LayoutConfig `json:"layoutConfig" db:"layout_config"`
	CreatedAt    time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time    `json:"updatedAt" db:"updated_at"`
}

// Route represents a sellable origin-destination pair
type Route struct {
	ID          string  `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	Origin      string  `json:"origin" db:"origin"`
	Destination string  `json:"destination" db:"destination"`
	Price       float64 `json:"price" db:"price"`
}

// CreateBusRequest represents the request to register a bus
type CreateBusRequest struct {
	Plate        string       `json:"plate" binding:"required"`
	Type         string       `json:"type" binding:"required"`
	LayoutConfig LayoutConfig `json:"layoutConfig" binding:"required"`
}

// Validate validates the CreateBusRequest
func (req *CreateBusRequest) Validate() error {
	if !BusType(req.Type).IsValid() {
		return fmt.Errorf("invalid bus type %q: must be CABIN or SLEEPER", req.Type)
	}
	return req.LayoutConfig.Validate()
}

// scanJSON decodes a JSONB column into dest, leaving dest untouched on NULL
func scanJSON(value interface{}, dest interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
