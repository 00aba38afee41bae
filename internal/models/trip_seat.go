package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// SeatStatus is the status cached on a persisted trip seat
type SeatStatus string

const (
	SeatStatusAvailable SeatStatus = "available"
	SeatStatusBooked    SeatStatus = "booked"
	SeatStatusHeld      SeatStatus = "held"
	SeatStatusSold      SeatStatus = "sold"
)

// IsOccupied reports whether the cached status claims an occupant
func (s SeatStatus) IsOccupied() bool {
	return s == SeatStatusBooked || s == SeatStatusHeld || s == SeatStatusSold
}

// SeatDisplayStatus is the status a seat map renders. It is always derived,
// never stored.
type SeatDisplayStatus string

const (
	DisplayAvailable SeatDisplayStatus = "available"
	DisplaySelected  SeatDisplayStatus = "selected"
	DisplayBooked    SeatDisplayStatus = "booked"
	DisplayHeld      SeatDisplayStatus = "held"
	DisplaySold      SeatDisplayStatus = "sold"
	DisplayGhost     SeatDisplayStatus = "ghost"
)

// OrphanRow is the first row used for seats that match no grid cell
const OrphanRow = 99

// Seat is one generated seat of a trip
type Seat struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Floor       int        `json:"floor"`
	Row         int        `json:"row"`
	Col         int        `json:"col"`
	IsFloorSeat bool       `json:"isFloorSeat,omitempty"`
	IsBench     bool       `json:"isBench,omitempty"`
	Price       float64    `json:"price"`
	Status      SeatStatus `json:"status"`
}

// IsOrphan reports whether the seat sits in the overflow row
func (s Seat) IsOrphan() bool {
	return s.Row >= OrphanRow
}

// SeatList is the JSONB seats column of a trip
type SeatList []Seat

// Value implements the driver.Valuer interface
func (l SeatList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	bytes, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (l *SeatList) Scan(value interface{}) error {
	*l = nil
	return scanJSON(value, (*[]Seat)(l))
}

// Trip represents one departure of a bus on a route
type Trip struct {
	ID            string    `json:"id" db:"id"`
	Route         string    `json:"route" db:"route"`
	DepartureTime time.Time `json:"departureTime" db:"departure_time"`
	LicensePlate  string    `json:"licensePlate" db:"license_plate"`
	BusID         string    `json:"busId" db:"bus_id"`
	Type          BusType   `json:"type" db:"type"`
	Seats         SeatList  `json:"seats" db:"seats"`
	Version       int       `json:"version" db:"version"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

// SeatByID returns the seat with the given id
func (t *Trip) SeatByID(seatID string) (*Seat, bool) {
	for i := range t.Seats {
		if t.Seats[i].ID == seatID {
			return &t.Seats[i], true
		}
	}
	return nil, false
}

// DateLabel formats the departure for operator-facing logs
func (t *Trip) DateLabel() string {
	return t.DepartureTime.Format("02/01/2006 15:04")
}

// Clone returns a deep copy of the trip
func (t Trip) Clone() Trip {
	out := t
	out.Seats = append(SeatList(nil), t.Seats...)
	return out
}

// TripSeatSummary provides a quick overview of seat availability for a trip
type TripSeatSummary struct {
	TripID         string `json:"tripId"`
	TotalSeats     int    `json:"totalSeats"`
	AvailableSeats int    `json:"availableSeats"`
	BookedSeats    int    `json:"bookedSeats"`
	HeldSeats      int    `json:"heldSeats"`
	SelectedSeats  int    `json:"selectedSeats"`
	GhostSeats     int    `json:"ghostSeats"`
	SoldSeats      int    `json:"soldSeats"`
	OrphanSeats    int    `json:"orphanSeats"`
}

// CreateTripRequest schedules a departure for a bus
type CreateTripRequest struct {
	Route         string    `json:"route" binding:"required"`
	DepartureTime time.Time `json:"departureTime" binding:"required"`
	BusID         string    `json:"busId" binding:"required"`
	BasePrice     float64   `json:"basePrice" binding:"gte=0"`
}

// SeatView is a seat annotated with its derived status and occupant
type SeatView struct {
	Seat
	Display       SeatDisplayStatus `json:"display"`
	BookingID     string            `json:"bookingId,omitempty"`
	BookingCode   string            `json:"bookingCode,omitempty"`
	PassengerName string            `json:"passengerName,omitempty"`
	Phone         string            `json:"phone,omitempty"`
}

// SeatMap is a trip's seats as a sales terminal renders them
type SeatMap struct {
	Trip    Trip            `json:"trip"`
	Seats   []SeatView      `json:"seats"`
	Summary TripSeatSummary `json:"summary"`
}

// CreateRouteRequest registers a sellable route
type CreateRouteRequest struct {
	Name        string  `json:"name" binding:"required"`
	Origin      string  `json:"origin" binding:"required"`
	Destination string  `json:"destination" binding:"required"`
	Price       float64 `json:"price" binding:"gte=0"`
}
