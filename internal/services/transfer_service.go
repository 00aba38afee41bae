package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/pkg/events"
)

// SwapSeats exchanges the occupants of two seats. Tickets move with their
// occupant. One side may be empty, which makes it a move.
func (s *BookingService) SwapSeats(ctx context.Context, req *models.SwapSeatsRequest) (*models.BookingResult, error) {
	ctx, span := tracer.Start(ctx, "BookingService.SwapSeats")
	defer span.End()

	if err := requirePermission(ctx, models.PermissionBookTicket); err != nil {
		return nil, err
	}
	return s.swap(ctx, req, true)
}

func (s *BookingService) swap(ctx context.Context, req *models.SwapSeatsRequest, recordUndo bool) (*models.BookingResult, error) {
	if req.TripA == req.TripB && req.SeatA == req.SeatB {
		return nil, invalidf("cannot swap a seat with itself")
	}

	w, err := loadWorkset(ctx, s.store, []string{req.TripA, req.TripB})
	if err != nil {
		return nil, err
	}
	tripA, _ := w.trip(req.TripA)
	tripB, _ := w.trip(req.TripB)
	if tripA.Type != tripB.Type {
		return nil, invalidf("cannot swap between a %s bus and a %s bus", tripA.Type, tripB.Type)
	}
	seatA, err := w.seat(tripA.ID, req.SeatA)
	if err != nil {
		return nil, err
	}
	seatB, err := w.seat(tripB.ID, req.SeatB)
	if err != nil {
		return nil, err
	}

	holderA := w.holder(tripA.ID, seatA.ID, "")
	holderB := w.holder(tripB.ID, seatB.ID, "")
	if holderA == nil && holderB == nil {
		return nil, invalidf("both seats are empty")
	}

	var ticketA, ticketB models.Ticket
	if holderA != nil {
		ticketA = takeTicket(holderA, tripA.ID, seatA.ID)
	}
	if holderB != nil {
		ticketB = takeTicket(holderB, tripB.ID, seatB.ID)
	}
	if holderA != nil {
		placeTicket(holderA, tripB, seatB.ID, ticketA)
	}
	if holderB != nil {
		placeTicket(holderB, tripA, seatA.ID, ticketB)
	}
	for _, b := range []*models.Booking{holderA, holderB} {
		if b != nil {
			b.DropEmptyItems()
			w.track(b)
		}
	}

	now := s.now()
	trips, err := commitWorkset(ctx, s.store, w, now)
	if err != nil {
		return nil, err
	}

	if recordUndo {
		swap := *req
		s.undo.Push(SessionFrom(ctx).UserID(), UndoAction{Kind: UndoSwappedSeats, Swap: &swap, CreatedAt: now})
	}
	s.publish(ctx, events.SeatsSwapped, req)

	s.logger.WithFields(logrus.Fields{
		"trip_a": tripA.ID,
		"seat_a": seatA.Label,
		"trip_b": tripB.ID,
		"seat_b": seatB.Label,
	}).Info("Seats swapped")

	return &models.BookingResult{Bookings: w.activeBookings(), UpdatedTrips: trips}, nil
}

// BulkTransfer applies staged seat moves in one change set. A target must be
// free or vacated by another move of the same batch.
func (s *BookingService) BulkTransfer(ctx context.Context, req *models.BulkTransferRequest) (*models.BookingResult, error) {
	ctx, span := tracer.Start(ctx, "BookingService.BulkTransfer")
	defer span.End()

	if err := requirePermission(ctx, models.PermissionBookTicket); err != nil {
		return nil, err
	}
	if len(req.Moves) == 0 {
		return nil, invalidf("no seats to transfer")
	}

	sources := make(map[string]bool, len(req.Moves))
	targets := make(map[string]bool, len(req.Moves))
	tripIDs := make([]string, 0, len(req.Moves)*2)
	for _, m := range req.Moves {
		if m.SourceTripID == "" || m.SourceSeatID == "" || m.TargetTripID == "" || m.TargetSeatID == "" {
			return nil, invalidf("every move needs a source and a target seat")
		}
		src := m.SourceTripID + "/" + m.SourceSeatID
		dst := m.TargetTripID + "/" + m.TargetSeatID
		if src == dst {
			return nil, invalidf("seat %s is moved onto itself", m.SourceSeatID)
		}
		if sources[src] {
			return nil, invalidf("seat %s is moved twice", m.SourceSeatID)
		}
		if targets[dst] {
			return nil, invalidf("seat %s is targeted twice", m.TargetSeatID)
		}
		sources[src] = true
		targets[dst] = true
		tripIDs = append(tripIDs, m.SourceTripID, m.TargetTripID)
	}

	w, err := loadWorkset(ctx, s.store, tripIDs)
	if err != nil {
		return nil, err
	}

	type staged struct {
		move   models.SeatMove
		holder *models.Booking
		ticket models.Ticket
	}
	moves := make([]staged, 0, len(req.Moves))
	for _, m := range req.Moves {
		trip, _ := w.trip(m.SourceTripID)
		seat, err := w.seat(trip.ID, m.SourceSeatID)
		if err != nil {
			return nil, err
		}
		holder := w.holder(trip.ID, seat.ID, "")
		if holder == nil {
			return nil, invalidf("seat %s on %s has no passenger to move", seat.Label, trip.Route)
		}
		moves = append(moves, staged{move: m, holder: holder, ticket: takeTicket(holder, trip.ID, seat.ID)})
	}

	touched := make(map[string]*models.Booking)
	for _, st := range moves {
		trip, _ := w.trip(st.move.TargetTripID)
		seat, err := w.seat(trip.ID, st.move.TargetSeatID)
		if err != nil {
			return nil, err
		}
		if holder := w.holder(trip.ID, seat.ID, ""); holder != nil {
			return nil, seatTaken(trip, seat, holder)
		}
		placeTicket(st.holder, trip, seat.ID, st.ticket)
		touched[st.holder.ID] = st.holder
	}
	for _, b := range touched {
		b.DropEmptyItems()
		w.track(b)
	}

	trips, err := commitWorkset(ctx, s.store, w, s.now())
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.SeatsTransferred, req.Moves)
	s.notifier.Notify(NotifySuccess, "Chuyển vé", fmt.Sprintf("Đã chuyển %d vé của %d đơn", len(moves), len(touched)))

	s.logger.WithFields(logrus.Fields{
		"moves":    len(moves),
		"bookings": len(touched),
		"trips":    len(trips),
	}).Info("Seats transferred")

	return &models.BookingResult{Bookings: w.activeBookings(), UpdatedTrips: trips}, nil
}

// takeTicket removes the seat from the booking and returns its ticket
func takeTicket(b *models.Booking, tripID, seatID string) models.Ticket {
	item, ok := b.ItemForTrip(tripID)
	if !ok {
		return models.Ticket{SeatID: seatID}
	}
	ticket, found := item.RemoveSeat(seatID)
	if !found {
		ticket = models.Ticket{SeatID: seatID}
	}
	return ticket
}

// placeTicket puts the ticket on seatID of trip, creating the booking's item
// for the trip when it has none
func placeTicket(b *models.Booking, trip *models.Trip, seatID string, ticket models.Ticket) {
	ticket.SeatID = seatID
	item, ok := b.ItemForTrip(trip.ID)
	if !ok {
		b.Items = append(b.Items, newItem(trip))
		item = &b.Items[len(b.Items)-1]
	}
	item.AddTicket(ticket)
}
