package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/pkg/events"
)

// UpdateTicket edits the details of one seat of a booking and optionally
// settles it: PAY collects money for the seat, REFUND releases it.
func (s *BookingService) UpdateTicket(ctx context.Context, bookingID, seatID string, req *models.UpdateTicketRequest) (*models.BookingResult, error) {
	ctx, span := tracer.Start(ctx, "BookingService.UpdateTicket")
	defer span.End()

	permission := models.PermissionBookTicket
	switch req.Action {
	case "", models.TicketActionPay:
	case models.TicketActionRefund:
		permission = models.PermissionCancelTicket
	default:
		return nil, invalidf("unknown ticket action %q", req.Action)
	}
	if err := requirePermission(ctx, permission); err != nil {
		return nil, err
	}

	existing, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeError(err, "booking", bookingID)
	}
	if !existing.IsActive() {
		return nil, invalidf("booking %s is cancelled", existing.Code())
	}

	tripID := req.TripID
	if tripID == "" {
		for _, item := range existing.Items {
			if item.HasSeat(seatID) {
				tripID = item.TripID
				break
			}
		}
	}
	if tripID == "" || !existing.HoldsSeat(tripID, seatID) {
		return nil, &NotFoundError{Resource: "ticket", ID: seatID}
	}

	w, err := loadWorkset(ctx, s.store, []string{tripID})
	if err != nil {
		return nil, err
	}
	var payments []models.Payment
	if req.Action == models.TicketActionRefund {
		if payments, err = s.store.ListPaymentsByBooking(ctx, bookingID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	booking := w.adopt(existing)
	trip, _ := w.trip(tripID)
	item, _ := booking.ItemForTrip(tripID)
	ticket, _ := item.Ticket(seatID)

	if err := s.editTicket(ticket, req); err != nil {
		return nil, err
	}

	label := seatID
	listPrice := ticket.Price
	if seat, ok := trip.SeatByID(seatID); ok {
		label = seat.Label
		listPrice = seat.Price
	}
	details := models.PaymentDetails{
		TripID:  trip.ID,
		Route:   trip.Route,
		SeatIDs: []string{seatID},
		Labels:  []string{label},
	}

	eventType := events.BookingUpdated
	switch req.Action {
	case models.TicketActionPay:
		if booking.EffectiveStatus(*ticket) == models.BookingStatusPayment {
			return nil, invalidf("seat %s is already paid", label)
		}
		var paid models.PaymentSplit
		if req.Payment != nil {
			paid = *req.Payment
		}
		if paid.PaidCash < 0 || paid.PaidTransfer < 0 {
			return nil, invalidf("payment amounts cannot be negative")
		}

		ticket.Status = models.BookingStatusPayment
		ticket.Price = paid.Total()
		if ticket.Price == 0 {
			ticket.Price = listPrice
		}
		booking.Payment = booking.Payment.Add(paid)
		if !paid.IsZero() {
			details.Source = "pay"
			w.addPayment(ledgerRow(booking.ID, paid, fmt.Sprintf("Thanh toán vé %s", label), details, now))
		}
		// a hold carries no money, so a paid seat moves the booking out of it
		next := booking.Status
		switch {
		case allPaid(booking):
			next = models.BookingStatusPayment
		case booking.Status == models.BookingStatusHold:
			next = models.BookingStatusBooking
		}
		if next != booking.Status {
			booking.Status = next
			booking.AppendNote(next.TransitionNote())
		}
		booking.TotalPrice = booking.ExpectedTotal()
		eventType = events.TicketPaid

	case models.TicketActionRefund:
		status := booking.EffectiveStatus(*ticket)
		refund := 0.0
		if status == models.BookingStatusPayment {
			refund = ticket.Price
		}
		if collected := booking.Payment.Total(); refund > collected {
			refund = collected
		}
		item.RemoveSeat(seatID)
		booking.DropEmptyItems()

		if booking.TicketCount() == 0 {
			cancelBooking(booking, fmt.Sprintf("Hoàn vé %s", label))
			for _, p := range payments {
				w.deletePayments = append(w.deletePayments, p.ID)
			}
		} else {
			if refund > 0 {
				split := refundSplit(booking.Payment, refund)
				booking.Payment = booking.Payment.Sub(split)
				details.Source = "refund"
				w.addPayment(ledgerRow(booking.ID, models.PaymentSplit{}.Sub(split),
					fmt.Sprintf("Hoàn vé %s", label), details, now))
			}
			booking.TotalPrice = booking.ExpectedTotal()
		}
		eventType = events.TicketRefunded
	}

	w.track(booking)
	trips, err := commitWorkset(ctx, s.store, w, now)
	if err != nil {
		return nil, err
	}

	updated := w.get(booking.ID)
	s.publish(ctx, eventType, updated)

	s.logger.WithFields(logrus.Fields{
		"booking_id": updated.ID,
		"code":       updated.Code(),
		"trip_id":    tripID,
		"seat":       label,
		"action":     req.Action,
		"status":     updated.Status,
	}).Info("Ticket updated")

	return &models.BookingResult{Booking: updated, Bookings: w.activeBookings(), UpdatedTrips: trips}, nil
}

func (s *BookingService) editTicket(t *models.Ticket, req *models.UpdateTicketRequest) error {
	if req.Pickup != nil {
		t.Pickup = strings.TrimSpace(*req.Pickup)
	}
	if req.Dropoff != nil {
		t.Dropoff = strings.TrimSpace(*req.Dropoff)
	}
	if req.Note != nil {
		t.Note = strings.TrimSpace(*req.Note)
	}
	if req.Name != nil {
		t.Name = strings.TrimSpace(*req.Name)
	}
	if req.ExactBed != nil {
		t.ExactBed = *req.ExactBed
	}
	if req.Phone != nil {
		t.Phone = ""
		if *req.Phone != "" {
			phone, err := s.phone.Validate(*req.Phone)
			if err != nil {
				return invalidf("invalid phone number: %v", err)
			}
			t.Phone = phone
		}
	}
	return nil
}

// allPaid reports whether every ticket of b is in payment status
func allPaid(b *models.Booking) bool {
	for _, item := range b.Items {
		for _, t := range item.Tickets {
			if b.EffectiveStatus(t) != models.BookingStatusPayment {
				return false
			}
		}
	}
	return b.TicketCount() > 0
}

// refundSplit takes amount out of what was paid, cash first. Neither part
// goes past what was collected by that method.
func refundSplit(paid models.PaymentSplit, amount float64) models.PaymentSplit {
	cash := clamp(amount, paid.PaidCash)
	transfer := clamp(amount-cash, paid.PaidTransfer)
	return models.PaymentSplit{PaidCash: cash, PaidTransfer: transfer}
}

func clamp(v, limit float64) float64 {
	if v > limit {
		v = limit
	}
	if v < 0 {
		v = 0
	}
	return v
}
