package models

import "time"

// TripSeatUpdate replaces the seats field of one trip. The write only succeeds
// while the stored version still equals ExpectedVersion.
type TripSeatUpdate struct {
	TripID          string   `json:"tripId"`
	Seats           SeatList `json:"seats"`
	ExpectedVersion int      `json:"expectedVersion"`
}

// BookingPatch rewrites the money fields of one booking. The write only
// succeeds while the stored booking was last updated at ExpectedUpdatedAt.
type BookingPatch struct {
	BookingID         string
	TotalPrice        float64
	Payment           PaymentSplit
	ExpectedUpdatedAt time.Time
	UpdatedAt         time.Time
}

// ChangeSet is everything one mutation writes. A store applies it all or nothing.
type ChangeSet struct {
	UpsertBookings   []Booking
	PatchBookings    []BookingPatch
	DeleteBookingIDs []string
	TripSeats        []TripSeatUpdate
	InsertPayments   []Payment
	DeletePaymentIDs []string
}

// IsEmpty reports whether the change set writes nothing
func (c *ChangeSet) IsEmpty() bool {
	return len(c.UpsertBookings) == 0 && len(c.PatchBookings) == 0 && len(c.DeleteBookingIDs) == 0 &&
		len(c.TripSeats) == 0 && len(c.InsertPayments) == 0 && len(c.DeletePaymentIDs) == 0
}
