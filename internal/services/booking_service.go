package services

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/database"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/pkg/events"
	"github.com/smarttransit/busticket-backend/pkg/validator"
)

// BookingService applies booking mutations. Each call reads the trips it
// touches, builds one change set and commits it against the trip versions it
// read, so a concurrent writer makes it fail with a ConflictError.
type BookingService struct {
	store    database.Store
	undo     *UndoStack
	events   events.Publisher
	notifier Notifier
	phone    *validator.PhoneValidator
	logger   *logrus.Logger
	now      func() time.Time
}

// NewBookingService creates a new booking service
func NewBookingService(
	store database.Store,
	undo *UndoStack,
	publisher events.Publisher,
	notifier Notifier,
	logger *logrus.Logger,
) *BookingService {
	if undo == nil {
		undo = NewUndoStack(20)
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &BookingService{
		store:    store,
		undo:     undo,
		events:   publisher,
		notifier: notifier,
		phone:    validator.NewPhoneValidator(),
		logger:   logger,
		now:      time.Now,
	}
}

// CreateBooking books seats on one or more trips
func (s *BookingService) CreateBooking(ctx context.Context, req *models.CreateBookingRequest) (*models.BookingResult, error) {
	ctx, span := tracer.Start(ctx, "BookingService.CreateBooking")
	defer span.End()

	if err := requirePermission(ctx, models.PermissionBookTicket); err != nil {
		return nil, err
	}
	if err := validateStatus(req.Status); err != nil {
		return nil, err
	}
	passenger, err := s.normalizePassenger(req.Passenger)
	if err != nil {
		return nil, err
	}
	items, err := normalizeItems(req.Items)
	if err != nil {
		return nil, err
	}
	payment, err := paymentFor(req.Status, req.Payment)
	if err != nil {
		return nil, err
	}

	w, err := loadWorkset(ctx, s.store, itemTripIDs(items))
	if err != nil {
		return nil, err
	}

	now := s.now()
	booking := &models.Booking{
		ID:        uuid.NewString(),
		Passenger: passenger,
		Status:    req.Status,
		Items:     models.BookingItems{},
		CreatedAt: now,
	}

	for _, ir := range items {
		trip, err := w.trip(ir.TripID)
		if err != nil {
			return nil, err
		}
		item := newItem(trip)
		for _, seatID := range ir.SeatIDs {
			seat, err := w.seat(trip.ID, seatID)
			if err != nil {
				return nil, err
			}
			if holder := w.holder(trip.ID, seatID, ""); holder != nil {
				return nil, seatTaken(trip, seat, holder)
			}
			ticket, err := s.newTicket(seat, req.Status, ticketRequest(ir, seatID))
			if err != nil {
				return nil, err
			}
			item.AddTicket(ticket)
		}
		booking.Items = append(booking.Items, item)
	}

	booking.Payment = payment
	booking.TotalPrice = booking.ExpectedTotal()
	w.track(booking)
	if !payment.IsZero() {
		w.addPayment(ledgerRow(booking.ID, payment, "Thanh toán khi đặt vé", w.details(booking, "create"), now))
	}

	trips, err := commitWorkset(ctx, s.store, w, now)
	if err != nil {
		return nil, err
	}

	created := w.get(booking.ID)
	s.undo.Push(SessionFrom(ctx).UserID(), UndoAction{Kind: UndoCreatedBooking, BookingID: created.ID, CreatedAt: now})
	s.publish(ctx, events.BookingCreated, created)

	s.logger.WithFields(logrus.Fields{
		"booking_id": created.ID,
		"code":       created.Code(),
		"status":     created.Status,
		"seats":      created.TicketCount(),
		"paid":       created.Payment.Total(),
	}).Info("Booking created")

	return &models.BookingResult{Booking: created, Bookings: w.activeBookings(), UpdatedTrips: trips}, nil
}

// UpdateBooking replaces a booking's seats, passenger, payment and status.
// Trips the booking holds that are neither in the request nor in
// LoadedTripIDs are left as they are.
func (s *BookingService) UpdateBooking(ctx context.Context, id string, req *models.UpdateBookingRequest) (*models.BookingResult, error) {
	ctx, span := tracer.Start(ctx, "BookingService.UpdateBooking")
	defer span.End()

	if err := requirePermission(ctx, models.PermissionBookTicket); err != nil {
		return nil, err
	}
	if err := validateStatus(req.Status); err != nil {
		return nil, err
	}
	passenger, err := s.normalizePassenger(req.Passenger)
	if err != nil {
		return nil, err
	}
	items, err := normalizeItems(req.Items)
	if err != nil {
		return nil, err
	}
	payment, err := paymentFor(req.Status, req.Payment)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, storeError(err, "booking", id)
	}
	if !existing.IsActive() {
		return nil, invalidf("booking %s is cancelled and cannot be edited", existing.Code())
	}

	requested := make(map[string]models.BookingItemRequest, len(items))
	for _, ir := range items {
		requested[ir.TripID] = ir
	}
	loaded := make(map[string]bool, len(req.LoadedTripIDs))
	for _, tripID := range req.LoadedTripIDs {
		loaded[tripID] = true
	}

	tripIDs := itemTripIDs(items)
	for _, item := range existing.Items {
		if loaded[item.TripID] {
			tripIDs = append(tripIDs, item.TripID)
		}
	}
	w, err := loadWorkset(ctx, s.store, tripIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	booking := w.adopt(existing)
	oldStatus := booking.Status
	oldPayment := booking.Payment
	statusChanged := req.Status != oldStatus

	merged := make(models.BookingItems, 0, len(items)+len(booking.Items))
	handled := make(map[string]bool, len(items))
	for _, old := range booking.Items {
		ir, ok := requested[old.TripID]
		switch {
		case ok:
			item, err := s.mergeItem(w, booking, old, ir, req.Status, statusChanged)
			if err != nil {
				return nil, err
			}
			merged = append(merged, item)
			handled[old.TripID] = true
		case loaded[old.TripID]:
			// caller saw the trip and dropped every seat on it
		default:
			// a hold carries no money, so paid seats must be seen to be dropped
			if req.Status == models.BookingStatusHold && hasPaidTicket(booking, old) {
				return nil, invalidf("trip %s has paid seats, load it before putting the booking on hold", old.Route)
			}
			merged = append(merged, pinStatus(booking, old))
		}
	}
	for _, ir := range items {
		if handled[ir.TripID] {
			continue
		}
		item, err := s.mergeItem(w, booking, models.BookingItem{TripID: ir.TripID}, ir, req.Status, statusChanged)
		if err != nil {
			return nil, err
		}
		merged = append(merged, item)
	}

	booking.Items = merged
	booking.DropEmptyItems()
	if booking.TicketCount() == 0 {
		return nil, invalidf("booking must keep at least one seat, cancel it instead")
	}

	booking.Passenger = passenger
	booking.Status = req.Status
	if statusChanged {
		booking.AppendNote(req.Status.TransitionNote())
	}

	if delta := payment.Sub(oldPayment); !delta.IsZero() {
		w.addPayment(ledgerRow(booking.ID, delta, "Cập nhật thanh toán", w.details(booking, "update"), now))
	}
	booking.Payment = payment
	booking.TotalPrice = booking.ExpectedTotal()
	w.track(booking)

	trips, err := commitWorkset(ctx, s.store, w, now)
	if err != nil {
		return nil, err
	}

	updated := w.get(booking.ID)
	s.publish(ctx, events.BookingUpdated, updated)

	s.logger.WithFields(logrus.Fields{
		"booking_id": updated.ID,
		"code":       updated.Code(),
		"from":       oldStatus,
		"to":         updated.Status,
		"seats":      updated.TicketCount(),
	}).Info("Booking updated")

	return &models.BookingResult{Booking: updated, Bookings: w.activeBookings(), UpdatedTrips: trips}, nil
}

// mergeItem builds the new item for one requested trip from the old one:
// kept seats keep their ticket, added seats must be free, the rest are dropped
func (s *BookingService) mergeItem(
	w *workset,
	booking *models.Booking,
	old models.BookingItem,
	ir models.BookingItemRequest,
	status models.BookingStatus,
	statusChanged bool,
) (models.BookingItem, error) {
	trip, err := w.trip(ir.TripID)
	if err != nil {
		return models.BookingItem{}, err
	}
	item := newItem(trip)

	for _, seatID := range ir.SeatIDs {
		tr := ticketRequest(ir, seatID)

		if existing, ok := old.Ticket(seatID); ok {
			t := *existing
			if err := s.applyTicketDetails(&t, tr); err != nil {
				return models.BookingItem{}, err
			}
			list := t.Price
			if seat, ok := trip.SeatByID(seatID); ok {
				list = seat.Price
			}
			switch {
			case statusChanged:
				t.Status = status
				t.Price = ticketPrice(status, tr, t.Price, list)
			case tr != nil && tr.Price != nil && booking.EffectiveStatus(t).CarriesMoney():
				t.Price = *tr.Price
			}
			item.AddTicket(t)
			continue
		}

		seat, err := w.seat(trip.ID, seatID)
		if err != nil {
			return models.BookingItem{}, err
		}
		if holder := w.holder(trip.ID, seatID, booking.ID); holder != nil {
			return models.BookingItem{}, seatTaken(trip, seat, holder)
		}
		t, err := s.newTicket(seat, status, tr)
		if err != nil {
			return models.BookingItem{}, err
		}
		item.AddTicket(t)
	}
	return item, nil
}

// pinStatus fixes the ticket statuses of an item the caller did not load, so
// a booking-level status change does not alter seats nobody looked at
func pinStatus(booking *models.Booking, item models.BookingItem) models.BookingItem {
	for i := range item.Tickets {
		item.Tickets[i].Status = booking.EffectiveStatus(item.Tickets[i])
	}
	return item
}

func hasPaidTicket(booking *models.Booking, item models.BookingItem) bool {
	for _, t := range item.Tickets {
		if booking.EffectiveStatus(t) == models.BookingStatusPayment {
			return true
		}
	}
	return false
}

// CancelBooking soft cancels a booking, releases its seats and removes its
// ledger rows
func (s *BookingService) CancelBooking(ctx context.Context, id, reason string) (*models.BookingResult, error) {
	ctx, span := tracer.Start(ctx, "BookingService.CancelBooking")
	defer span.End()

	if err := requirePermission(ctx, models.PermissionCancelTicket); err != nil {
		return nil, err
	}

	existing, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, storeError(err, "booking", id)
	}
	if !existing.IsActive() {
		return nil, invalidf("booking %s is already cancelled", existing.Code())
	}
	payments, err := s.store.ListPaymentsByBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	w, err := loadWorkset(ctx, s.store, existing.TripIDs())
	if err != nil {
		return nil, err
	}

	now := s.now()
	booking := w.adopt(existing)
	refunded := booking.Payment.Total()
	cancelBooking(booking, reason)
	w.track(booking)
	for _, p := range payments {
		w.deletePayments = append(w.deletePayments, p.ID)
	}

	trips, err := commitWorkset(ctx, s.store, w, now)
	if err != nil {
		return nil, err
	}

	cancelled := w.get(booking.ID)
	s.publish(ctx, events.BookingCancelled, cancelled)

	s.logger.WithFields(logrus.Fields{
		"booking_id": cancelled.ID,
		"code":       cancelled.Code(),
		"refunded":   refunded,
		"reason":     reason,
	}).Info("Booking cancelled")

	return &models.BookingResult{Booking: cancelled, Bookings: w.activeBookings(), UpdatedTrips: trips}, nil
}

// cancelBooking marks b cancelled and clears its money
func cancelBooking(b *models.Booking, reason string) {
	b.Status = models.BookingStatusCancelled
	b.Payment = models.PaymentSplit{}
	b.TotalPrice = 0
	note := models.BookingStatusCancelled.TransitionNote()
	if reason = strings.TrimSpace(reason); reason != "" {
		note += " " + reason
	}
	b.AppendNote(note)
}

// GetBooking returns a booking by id
func (s *BookingService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, storeError(err, "booking", id)
	}
	return booking, nil
}

// ListBookings returns every booking
func (s *BookingService) ListBookings(ctx context.Context) ([]models.Booking, error) {
	if err := requirePermission(ctx, models.PermissionViewSales); err != nil {
		return nil, err
	}
	return s.store.ListBookings(ctx)
}

// FindBookings looks a booking up by order code, full id or phone number
func (s *BookingService) FindBookings(ctx context.Context, term string) ([]models.Booking, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, invalidf("search term is required")
	}

	lookup := database.BookingLookup{ID: term}
	if len(term) == 6 {
		lookup.Code = strings.ToUpper(term)
	}
	if countDigits(term) >= 9 {
		lookup.Phone = validator.Normalize(term)
	}
	return s.store.FindBookings(ctx, lookup)
}

// ListPayments returns the ledger rows of a booking
func (s *BookingService) ListPayments(ctx context.Context, bookingID string) ([]models.Payment, error) {
	if err := requirePermission(ctx, models.PermissionViewSales); err != nil {
		return nil, err
	}
	if _, err := s.store.GetBooking(ctx, bookingID); err != nil {
		return nil, storeError(err, "booking", bookingID)
	}
	return s.store.ListPaymentsByBooking(ctx, bookingID)
}

func (s *BookingService) normalizePassenger(p models.Passenger) (models.Passenger, error) {
	p.Name = strings.TrimSpace(p.Name)
	phone, err := s.phone.Validate(p.Phone)
	if err != nil {
		return p, invalidf("invalid phone number: %v", err)
	}
	p.Phone = phone
	p.PickupPoint = strings.TrimSpace(p.PickupPoint)
	p.DropoffPoint = strings.TrimSpace(p.DropoffPoint)
	return p, nil
}

func (s *BookingService) newTicket(seat *models.Seat, status models.BookingStatus, tr *models.TicketRequest) (models.Ticket, error) {
	t := models.Ticket{SeatID: seat.ID, Status: status}
	if err := s.applyTicketDetails(&t, tr); err != nil {
		return t, err
	}
	t.Price = ticketPrice(status, tr, 0, seat.Price)
	return t, nil
}

func (s *BookingService) applyTicketDetails(t *models.Ticket, tr *models.TicketRequest) error {
	if tr == nil {
		return nil
	}
	if tr.Price != nil && *tr.Price < 0 {
		return invalidf("ticket price for seat %s cannot be negative", t.SeatID)
	}
	t.Pickup = strings.TrimSpace(tr.Pickup)
	t.Dropoff = strings.TrimSpace(tr.Dropoff)
	t.Name = strings.TrimSpace(tr.Name)
	t.Note = strings.TrimSpace(tr.Note)
	t.ExactBed = tr.ExactBed
	t.Phone = ""
	if tr.Phone != "" {
		phone, err := s.phone.Validate(tr.Phone)
		if err != nil {
			return invalidf("invalid phone number for seat %s: %v", t.SeatID, err)
		}
		t.Phone = phone
	}
	return nil
}

// ticketPrice is 0 unless the status records money; then the requested price,
// the current price or the seat's list price, in that order
func ticketPrice(status models.BookingStatus, tr *models.TicketRequest, current, list float64) float64 {
	if !status.CarriesMoney() {
		return 0
	}
	if tr != nil && tr.Price != nil {
		return *tr.Price
	}
	if current > 0 {
		return current
	}
	return list
}

// paymentFor returns the money a booking in status may carry. Holds carry none.
func paymentFor(status models.BookingStatus, requested models.PaymentSplit) (models.PaymentSplit, error) {
	if requested.PaidCash < 0 || requested.PaidTransfer < 0 {
		return models.PaymentSplit{}, invalidf("payment amounts cannot be negative")
	}
	if status == models.BookingStatusHold {
		return models.PaymentSplit{}, nil
	}
	return requested, nil
}

func validateStatus(status models.BookingStatus) error {
	if !status.IsValid() {
		return invalidf("invalid booking status %q", status)
	}
	if status == models.BookingStatusCancelled {
		return invalidf("use cancel to cancel a booking")
	}
	return nil
}

// normalizeItems merges items per trip, takes seat ids from ticket details
// when none are listed and drops duplicate seats
func normalizeItems(in []models.BookingItemRequest) ([]models.BookingItemRequest, error) {
	index := make(map[string]int, len(in))
	out := make([]models.BookingItemRequest, 0, len(in))
	total := 0

	for _, ir := range in {
		if ir.TripID == "" {
			return nil, invalidf("trip id is required")
		}
		seatIDs := ir.SeatIDs
		if len(seatIDs) == 0 {
			for _, tr := range ir.Tickets {
				seatIDs = append(seatIDs, tr.SeatID)
			}
		}

		i, ok := index[ir.TripID]
		if !ok {
			i = len(out)
			index[ir.TripID] = i
			out = append(out, models.BookingItemRequest{TripID: ir.TripID, SeatIDs: []string{}})
		}
		for _, seatID := range seatIDs {
			if seatID == "" || containsString(out[i].SeatIDs, seatID) {
				continue
			}
			out[i].SeatIDs = append(out[i].SeatIDs, seatID)
			total++
		}
		out[i].Tickets = append(out[i].Tickets, ir.Tickets...)
	}

	if total == 0 {
		return nil, invalidf("select at least one seat")
	}
	return out, nil
}

func ticketRequest(ir models.BookingItemRequest, seatID string) *models.TicketRequest {
	for i := range ir.Tickets {
		if ir.Tickets[i].SeatID == seatID {
			return &ir.Tickets[i]
		}
	}
	return nil
}

func itemTripIDs(items []models.BookingItemRequest) []string {
	ids := make([]string, 0, len(items))
	for _, ir := range items {
		ids = append(ids, ir.TripID)
	}
	return ids
}

func seatTaken(trip *models.Trip, seat *models.Seat, holder *models.Booking) error {
	return conflictf("seat %s on %s %s is already taken by order %s",
		seat.Label, trip.Route, trip.DateLabel(), holder.Code())
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func (s *BookingService) publish(ctx context.Context, eventType string, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, SessionFrom(ctx).Username(), payload); err != nil {
		s.logger.WithError(err).WithField("event", eventType).Warn("Failed to publish event")
	}
}
