package models

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"
)

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusBooking   BookingStatus = "booking"
	BookingStatusHold      BookingStatus = "hold"
	BookingStatusPayment   BookingStatus = "payment"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// IsValid reports whether s is a known booking status
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusBooking, BookingStatusHold, BookingStatusPayment, BookingStatusCancelled:
		return true
	}
	return false
}

// CarriesMoney reports whether tickets in this status record a price
func (s BookingStatus) CarriesMoney() bool {
	return s == BookingStatusPayment
}

// TransitionNote is appended to the passenger note when a booking changes status
func (s BookingStatus) TransitionNote() string {
	switch s {
	case BookingStatusBooking:
		return "(Chuyển sang Đặt vé)"
	case BookingStatusHold:
		return "(Chuyển sang Giữ vé)"
	case BookingStatusPayment:
		return "(Chuyển sang Mua vé)"
	case BookingStatusCancelled:
		return "(Đã hủy)"
	}
	return ""
}

// Passenger holds the contact details of whoever placed the order
type Passenger struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	PickupPoint  string `json:"pickupPoint,omitempty"`
	DropoffPoint string `json:"dropoffPoint,omitempty"`
	Note         string `json:"note,omitempty"`
}

// Value implements the driver.Valuer interface
func (p Passenger) Value() (driver.Value, error) {
	bytes, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (p *Passenger) Scan(value interface{}) error {
	*p = Passenger{}
	return scanJSON(value, p)
}

// PaymentSplit is the money collected on a booking, by method
type PaymentSplit struct {
	PaidCash     float64 `json:"paidCash"`
	PaidTransfer float64 `json:"paidTransfer"`
}

// Total returns cash plus transfer
func (p PaymentSplit) Total() float64 {
	return p.PaidCash + p.PaidTransfer
}

// Add returns the element-wise sum of two splits
func (p PaymentSplit) Add(o PaymentSplit) PaymentSplit {
	return PaymentSplit{PaidCash: p.PaidCash + o.PaidCash, PaidTransfer: p.PaidTransfer + o.PaidTransfer}
}

// Sub returns the element-wise difference of two splits
func (p PaymentSplit) Sub(o PaymentSplit) PaymentSplit {
	return PaymentSplit{PaidCash: p.PaidCash - o.PaidCash, PaidTransfer: p.PaidTransfer - o.PaidTransfer}
}

// IsZero reports whether nothing was collected
func (p PaymentSplit) IsZero() bool {
	return p.PaidCash == 0 && p.PaidTransfer == 0
}

// Value implements the driver.Valuer interface
func (p PaymentSplit) Value() (driver.Value, error) {
	bytes, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (p *PaymentSplit) Scan(value interface{}) error {
	*p = PaymentSplit{}
	return scanJSON(value, p)
}

// Ticket is one seat of a booking item
type Ticket struct {
	SeatID   string        `json:"seatId"`
	Price    float64       `json:"price"`
	Status   BookingStatus `json:"status,omitempty"`
	Pickup   string        `json:"pickup,omitempty"`
	Dropoff  string        `json:"dropoff,omitempty"`
	Name     string        `json:"name,omitempty"`
	Phone    string        `json:"phone,omitempty"`
	Note     string        `json:"note,omitempty"`
	ExactBed bool          `json:"exactBed,omitempty"`
}

// BookingItem groups the tickets a booking holds on one trip.
// SeatIDs and Tickets are kept in lockstep.
type BookingItem struct {
	TripID       string   `json:"tripId"`
	Route        string   `json:"route,omitempty"`
	TripDate     string   `json:"tripDate,omitempty"`
	LicensePlate string   `json:"licensePlate,omitempty"`
	BusType      BusType  `json:"busType,omitempty"`
	SeatIDs      []string `json:"seatIds"`
	Tickets      []Ticket `json:"tickets"`
}

// HasSeat reports whether the item holds seatID
func (it *BookingItem) HasSeat(seatID string) bool {
	for _, id := range it.SeatIDs {
		if id == seatID {
			return true
		}
	}
	return false
}

// Ticket returns the ticket for seatID
func (it *BookingItem) Ticket(seatID string) (*Ticket, bool) {
	for i := range it.Tickets {
		if it.Tickets[i].SeatID == seatID {
			return &it.Tickets[i], true
		}
	}
	return nil, false
}

// RemoveSeat drops the seat id and its ticket, returning the removed ticket
func (it *BookingItem) RemoveSeat(seatID string) (Ticket, bool) {
	var removed Ticket
	found := false
	tickets := it.Tickets[:0]
	for _, t := range it.Tickets {
		if t.SeatID == seatID && !found {
			removed = t
			found = true
			continue
		}
		tickets = append(tickets, t)
	}
	it.Tickets = tickets
	ids := it.SeatIDs[:0]
	for _, id := range it.SeatIDs {
		if id != seatID {
			ids = append(ids, id)
		}
	}
	it.SeatIDs = ids
	return removed, found
}

// AddTicket appends a ticket and its seat id
func (it *BookingItem) AddTicket(t Ticket) {
	it.SeatIDs = append(it.SeatIDs, t.SeatID)
	it.Tickets = append(it.Tickets, t)
}

// SyncSeatIDs rebuilds SeatIDs from the tickets
func (it *BookingItem) SyncSeatIDs() {
	ids := make([]string, 0, len(it.Tickets))
	for _, t := range it.Tickets {
		ids = append(ids, t.SeatID)
	}
	it.SeatIDs = ids
}

// BookingItems is the JSONB items column of a booking
type BookingItems []BookingItem

// Value implements the driver.Valuer interface
func (b BookingItems) Value() (driver.Value, error) {
	if b == nil {
		return "[]", nil
	}
	bytes, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (b *BookingItems) Scan(value interface{}) error {
	*b = nil
	return scanJSON(value, (*[]BookingItem)(b))
}

// Booking is an order: a passenger, their seats across trips and the money paid
type Booking struct {
	ID         string        `json:"id" db:"id"`
	Passenger  Passenger     `json:"passenger" db:"passenger"`
	Status     BookingStatus `json:"status" db:"status"`
	Items      BookingItems  `json:"items" db:"items"`
	Payment    PaymentSplit  `json:"payment" db:"payment"`
	TotalPrice float64       `json:"totalPrice" db:"total_price"`
	CreatedAt  time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time     `json:"updatedAt" db:"updated_at"`
}

// Code returns the human-facing order code: last six characters, uppercased
func (b *Booking) Code() string {
	return OrderCode(b.ID)
}

// OrderCode derives the order code from a booking id
func OrderCode(id string) string {
	if len(id) > 6 {
		id = id[len(id)-6:]
	}
	return strings.ToUpper(id)
}

// IsActive reports whether the booking still claims seats
func (b *Booking) IsActive() bool {
	return b.Status != BookingStatusCancelled
}

// ItemForTrip returns the item for tripID
func (b *Booking) ItemForTrip(tripID string) (*BookingItem, bool) {
	for i := range b.Items {
		if b.Items[i].TripID == tripID {
			return &b.Items[i], true
		}
	}
	return nil, false
}

// HoldsSeat reports whether the booking's item for tripID contains seatID
func (b *Booking) HoldsSeat(tripID, seatID string) bool {
	item, ok := b.ItemForTrip(tripID)
	return ok && item.HasSeat(seatID)
}

// EffectiveStatus returns the ticket status, falling back to the booking status
func (b *Booking) EffectiveStatus(t Ticket) BookingStatus {
	if t.Status != "" {
		return t.Status
	}
	return b.Status
}

// ExpectedTotal is the sum of ticket prices whose effective status is payment
func (b *Booking) ExpectedTotal() float64 {
	var total float64
	for _, item := range b.Items {
		for _, t := range item.Tickets {
			if b.EffectiveStatus(t) == BookingStatusPayment {
				total += t.Price
			}
		}
	}
	return total
}

// TicketCount returns the number of tickets across all items
func (b *Booking) TicketCount() int {
	n := 0
	for _, item := range b.Items {
		n += len(item.Tickets)
	}
	return n
}

// DropEmptyItems removes items without tickets
func (b *Booking) DropEmptyItems() {
	items := b.Items[:0]
	for _, item := range b.Items {
		if len(item.Tickets) > 0 {
			items = append(items, item)
		}
	}
	b.Items = items
}

// TripIDs returns the ids of the trips the booking touches
func (b *Booking) TripIDs() []string {
	ids := make([]string, 0, len(b.Items))
	for _, item := range b.Items {
		ids = append(ids, item.TripID)
	}
	return ids
}

// Clone returns a deep copy of the booking
func (b Booking) Clone() Booking {
	out := b
	out.Items = make(BookingItems, len(b.Items))
	for i, item := range b.Items {
		cp := item
		cp.SeatIDs = append([]string(nil), item.SeatIDs...)
		cp.Tickets = append([]Ticket(nil), item.Tickets...)
		out.Items[i] = cp
	}
	return out
}

// AppendNote appends a suffix to the passenger note
func (b *Booking) AppendNote(suffix string) {
	if suffix == "" {
		return
	}
	if b.Passenger.Note == "" {
		b.Passenger.Note = suffix
		return
	}
	b.Passenger.Note = b.Passenger.Note + " " + suffix
}

// BookingItemRequest is one trip's part of a create/update request
type BookingItemRequest struct {
	TripID  string          `json:"tripId" binding:"required"`
	SeatIDs []string        `json:"seatIds"`
	Tickets []TicketRequest `json:"tickets,omitempty"`
}

// TicketRequest carries optional per-seat details for a create/update request
type TicketRequest struct {
	SeatID   string   `json:"seatId"`
	Price    *float64 `json:"price,omitempty"`
	Pickup   string   `json:"pickup,omitempty"`
	Dropoff  string   `json:"dropoff,omitempty"`
	Name     string   `json:"name,omitempty"`
	Phone    string   `json:"phone,omitempty"`
	Note     string   `json:"note,omitempty"`
	ExactBed bool     `json:"exactBed,omitempty"`
}

// CreateBookingRequest is the body of a create call
type CreateBookingRequest struct {
	Items     []BookingItemRequest `json:"items" binding:"required,min=1"`
	Passenger Passenger            `json:"passenger"`
	Payment   PaymentSplit         `json:"payment"`
	Status    BookingStatus        `json:"status" binding:"required"`
}

// UpdateBookingRequest is the body of an update call. LoadedTripIDs lists the
// trips the caller had loaded; items on other trips are preserved.
type UpdateBookingRequest struct {
	Items         []BookingItemRequest `json:"items"`
	Passenger     Passenger            `json:"passenger"`
	Payment       PaymentSplit         `json:"payment"`
	Status        BookingStatus        `json:"status" binding:"required"`
	LoadedTripIDs []string             `json:"loadedTripIds"`
}

// TicketAction is a money action on a single seat
type TicketAction string

const (
	TicketActionPay    TicketAction = "PAY"
	TicketActionRefund TicketAction = "REFUND"
)

// UpdateTicketRequest edits or settles a single ticket. Nil fields are left as is.
type UpdateTicketRequest struct {
	TripID   string        `json:"tripId,omitempty"`
	Pickup   *string       `json:"pickup,omitempty"`
	Dropoff  *string       `json:"dropoff,omitempty"`
	Note     *string       `json:"note,omitempty"`
	Phone    *string       `json:"phone,omitempty"`
	Name     *string       `json:"name,omitempty"`
	ExactBed *bool         `json:"exactBed,omitempty"`
	Action   TicketAction  `json:"action,omitempty"`
	Payment  *PaymentSplit `json:"payment,omitempty"`
}

// SwapSeatsRequest exchanges the occupants of two seats
type SwapSeatsRequest struct {
	TripA string `json:"tripA" binding:"required"`
	SeatA string `json:"seatA" binding:"required"`
	TripB string `json:"tripB" binding:"required"`
	SeatB string `json:"seatB" binding:"required"`
}

// SeatMove is one staged transfer
type SeatMove struct {
	SourceTripID string `json:"sourceTripId" binding:"required"`
	SourceSeatID string `json:"sourceSeatId" binding:"required"`
	TargetTripID string `json:"targetTripId" binding:"required"`
	TargetSeatID string `json:"targetSeatId" binding:"required"`
}

// BulkTransferRequest is the body of a bulk transfer call
type BulkTransferRequest struct {
	Moves []SeatMove `json:"moves" binding:"required,min=1"`
}

// CancelBookingRequest cancels a booking
type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// BookingResult is what a booking mutation hands back: the booking it wrote,
// every live booking on the trips it touched, and those trips' new seat state
type BookingResult struct {
	Booking      *Booking  `json:"booking,omitempty"`
	Bookings     []Booking `json:"bookings"`
	UpdatedTrips []Trip    `json:"updatedTrips"`
}
