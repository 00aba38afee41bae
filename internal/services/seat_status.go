package services

import (
	"github.com/smarttransit/busticket-backend/internal/models"
)

// EditContext is what the caller is doing on a trip right now: seats clicked
// but not saved, and the booking open for editing with the seats toggled off.
type EditContext struct {
	Selected         []string
	EditingBookingID string
	Deselected       []string
}

func (e *EditContext) isSelected(seatID string) bool {
	return e != nil && containsString(e.Selected, seatID)
}

func (e *EditContext) isDeselected(bookingID, seatID string) bool {
	return e != nil && e.EditingBookingID != "" && e.EditingBookingID == bookingID &&
		containsString(e.Deselected, seatID)
}

// ResolveSeatStatus derives the display status of one seat. The first match wins:
// a local selection, then the ghost of a seat being removed from the booking
// under edit, then the holder's ticket status, then the holder's booking status.
func ResolveSeatStatus(seatID, tripID string, bookings []models.Booking, edit *EditContext) models.SeatDisplayStatus {
	status, _ := resolveSeat(seatID, tripID, bookings, edit)
	return status
}

// resolveSeat also returns the booking that holds the seat
func resolveSeat(seatID, tripID string, bookings []models.Booking, edit *EditContext) (models.SeatDisplayStatus, *models.Booking) {
	if edit.isSelected(seatID) {
		return models.DisplaySelected, nil
	}

	holder, ticket := findHolder(seatID, tripID, bookings)
	if holder == nil {
		return models.DisplayAvailable, nil
	}

	if edit.isDeselected(holder.ID, seatID) {
		return models.DisplayGhost, holder
	}

	status := holder.Status
	if ticket != nil {
		status = holder.EffectiveStatus(*ticket)
	}
	return displayFor(status), holder
}

func findHolder(seatID, tripID string, bookings []models.Booking) (*models.Booking, *models.Ticket) {
	for i := range bookings {
		b := &bookings[i]
		if !b.IsActive() {
			continue
		}
		item, ok := b.ItemForTrip(tripID)
		if !ok || !item.HasSeat(seatID) {
			continue
		}
		ticket, _ := item.Ticket(seatID)
		return b, ticket
	}
	return nil, nil
}

func displayFor(status models.BookingStatus) models.SeatDisplayStatus {
	switch status {
	case models.BookingStatusPayment:
		return models.DisplaySold
	case models.BookingStatusHold:
		return models.DisplayHeld
	default:
		return models.DisplayBooked
	}
}

// StatusForCache maps a derived status onto the status persisted on the trip
func StatusForCache(display models.SeatDisplayStatus) models.SeatStatus {
	switch display {
	case models.DisplaySold:
		return models.SeatStatusSold
	case models.DisplayHeld:
		return models.SeatStatusHeld
	case models.DisplayBooked:
		return models.SeatStatusBooked
	default:
		return models.SeatStatusAvailable
	}
}

// RecomputeSeats returns the trip's seats with cached statuses derived from the
// bookings, and whether any status changed
func RecomputeSeats(trip *models.Trip, bookings []models.Booking) (models.SeatList, bool) {
	seats := make(models.SeatList, len(trip.Seats))
	changed := false
	for i, seat := range trip.Seats {
		seat.Status = StatusForCache(ResolveSeatStatus(seat.ID, trip.ID, bookings, nil))
		if seat.Status != trip.Seats[i].Status {
			changed = true
		}
		seats[i] = seat
	}
	return seats, changed
}

// Summarize counts seats per derived status
func Summarize(tripID string, seats []models.SeatView) models.TripSeatSummary {
	summary := models.TripSeatSummary{TripID: tripID, TotalSeats: len(seats)}
	for _, s := range seats {
		if s.IsOrphan() {
			summary.OrphanSeats++
		}
		switch s.Display {
		case models.DisplayAvailable:
			summary.AvailableSeats++
		case models.DisplaySelected:
			summary.SelectedSeats++
		case models.DisplayBooked:
			summary.BookedSeats++
		case models.DisplayHeld:
			summary.HeldSeats++
		case models.DisplaySold:
			summary.SoldSeats++
		case models.DisplayGhost:
			summary.GhostSeats++
		}
	}
	return summary
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
