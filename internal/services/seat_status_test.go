package services

import (
	"testing"

	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func seatBooking(id string, status models.BookingStatus, tickets ...models.Ticket) models.Booking {
	item := models.BookingItem{TripID: "trip-1"}
	for _, t := range tickets {
		item.SeatIDs = append(item.SeatIDs, t.SeatID)
		item.Tickets = append(item.Tickets, t)
	}
	return models.Booking{ID: id, Status: status, Items: models.BookingItems{item}}
}

func TestResolveSeatStatus(t *testing.T) {
	bookings := []models.Booking{
		seatBooking("b-cancelled", models.BookingStatusCancelled, models.Ticket{SeatID: "A5"}),
		seatBooking("b-booking", models.BookingStatusBooking,
			models.Ticket{SeatID: "A1"},
			models.Ticket{SeatID: "A2", Status: models.BookingStatusPayment},
		),
		seatBooking("b-hold", models.BookingStatusHold, models.Ticket{SeatID: "A3"}),
		seatBooking("b-paid", models.BookingStatusPayment, models.Ticket{SeatID: "A4"}),
	}

	tests := []struct {
		name string
		seat string
		edit *EditContext
		want models.SeatDisplayStatus
	}{
		{"free seat", "A9", nil, models.DisplayAvailable},
		{"booking status", "A1", nil, models.DisplayBooked},
		{"ticket status overrides booking", "A2", nil, models.DisplaySold},
		{"hold", "A3", nil, models.DisplayHeld},
		{"payment", "A4", nil, models.DisplaySold},
		{"cancelled booking frees the seat", "A5", nil, models.DisplayAvailable},
		{"selection wins over holder", "A4", &EditContext{Selected: []string{"A4"}}, models.DisplaySelected},
		{"selection of a free seat", "A9", &EditContext{Selected: []string{"A9"}}, models.DisplaySelected},
		{"deselected seat of edited booking", "A1",
			&EditContext{EditingBookingID: "b-booking", Deselected: []string{"A1"}}, models.DisplayGhost},
		{"deselection only applies to the edited booking", "A3",
			&EditContext{EditingBookingID: "b-booking", Deselected: []string{"A3"}}, models.DisplayHeld},
		{"selection beats ghost", "A1",
			&EditContext{Selected: []string{"A1"}, EditingBookingID: "b-booking", Deselected: []string{"A1"}}, models.DisplaySelected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveSeatStatus(tt.seat, "trip-1", bookings, tt.edit))
		})
	}

	assert.Equal(t, models.DisplayAvailable, ResolveSeatStatus("A1", "trip-2", bookings, nil), "other trip")
}

func TestRecomputeSeats(t *testing.T) {
	trip := &models.Trip{ID: "trip-1", Seats: models.SeatList{
		{ID: "A1", Status: models.SeatStatusAvailable},
		{ID: "A2", Status: models.SeatStatusSold},
		{ID: "A3", Status: models.SeatStatusHeld},
	}}
	bookings := []models.Booking{
		seatBooking("b1", models.BookingStatusBooking, models.Ticket{SeatID: "A1"}),
		seatBooking("b2", models.BookingStatusHold, models.Ticket{SeatID: "A3"}),
	}

	seats, changed := RecomputeSeats(trip, bookings)
	assert.True(t, changed)
	assert.Equal(t, models.SeatStatusBooked, seats[0].Status)
	assert.Equal(t, models.SeatStatusAvailable, seats[1].Status)
	assert.Equal(t, models.SeatStatusHeld, seats[2].Status)
	assert.Equal(t, models.SeatStatusSold, trip.Seats[1].Status, "input is not mutated")

	trip.Seats = seats
	_, changed = RecomputeSeats(trip, bookings)
	assert.False(t, changed)
}

func TestSummarize(t *testing.T) {
	views := []models.SeatView{
		{Seat: models.Seat{ID: "1"}, Display: models.DisplayAvailable},
		{Seat: models.Seat{ID: "2"}, Display: models.DisplaySold},
		{Seat: models.Seat{ID: "3"}, Display: models.DisplayGhost},
		{Seat: models.Seat{ID: "x", Row: models.OrphanRow}, Display: models.DisplayBooked},
	}
	summary := Summarize("trip-1", views)
	assert.Equal(t, 4, summary.TotalSeats)
	assert.Equal(t, 1, summary.AvailableSeats)
	assert.Equal(t, 1, summary.SoldSeats)
	assert.Equal(t, 1, summary.GhostSeats)
	assert.Equal(t, 1, summary.BookedSeats)
	assert.Equal(t, 1, summary.OrphanSeats)
}
