package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/busticket-backend/internal/database"
	"github.com/smarttransit/busticket-backend/internal/models"
)

// workset is the part of the ledger one mutation reads and writes: the trips
// it touches and every live booking on them. Changes accumulate in memory and
// are written as one change set.
type workset struct {
	trips          map[string]*models.Trip
	tripOrder      []string
	byID           map[string]*models.Booking
	order          []string
	dirty          map[string]bool
	deleted        map[string]bool
	payments       []models.Payment
	deletePayments []string
}

func loadWorkset(ctx context.Context, store database.Store, tripIDs []string) (*workset, error) {
	ids := uniqueStrings(tripIDs)
	w := &workset{
		trips:   make(map[string]*models.Trip, len(ids)),
		byID:    make(map[string]*models.Booking),
		dirty:   make(map[string]bool),
		deleted: make(map[string]bool),
	}
	if len(ids) == 0 {
		return w, nil
	}

	trips, err := store.GetTrips(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range trips {
		trip := trips[i]
		w.trips[trip.ID] = &trip
	}
	for _, id := range ids {
		if _, ok := w.trips[id]; !ok {
			return nil, &NotFoundError{Resource: "trip", ID: id}
		}
		w.tripOrder = append(w.tripOrder, id)
	}

	bookings, err := store.ListActiveBookingsForTrips(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range bookings {
		w.adopt(&bookings[i])
	}
	return w, nil
}

func (w *workset) trip(id string) (*models.Trip, error) {
	trip, ok := w.trips[id]
	if !ok {
		return nil, &NotFoundError{Resource: "trip", ID: id}
	}
	return trip, nil
}

func (w *workset) seat(tripID, seatID string) (*models.Seat, error) {
	trip, err := w.trip(tripID)
	if err != nil {
		return nil, err
	}
	seat, ok := trip.SeatByID(seatID)
	if !ok {
		return nil, invalidf("seat %s does not exist on trip %s", seatID, trip.Route)
	}
	return seat, nil
}

// adopt returns the workset's copy of b, adding b when it is new
func (w *workset) adopt(b *models.Booking) *models.Booking {
	if existing, ok := w.byID[b.ID]; ok {
		return existing
	}
	clone := b.Clone()
	w.byID[b.ID] = &clone
	w.order = append(w.order, b.ID)
	return &clone
}

// get returns a copy of the booking as it will be written
func (w *workset) get(id string) *models.Booking {
	b, ok := w.byID[id]
	if !ok {
		return nil
	}
	clone := b.Clone()
	return &clone
}

// track marks b to be written
func (w *workset) track(b *models.Booking) {
	b = w.adopt(b)
	w.dirty[b.ID] = true
}

// drop marks the booking to be hard deleted
func (w *workset) drop(id string) {
	w.deleted[id] = true
	delete(w.dirty, id)
}

func (w *workset) live(b *models.Booking) bool {
	return b.IsActive() && !w.deleted[b.ID]
}

// holder returns the first live booking other than excludeID that holds the seat
func (w *workset) holder(tripID, seatID, excludeID string) *models.Booking {
	for _, b := range w.sorted() {
		if b.ID == excludeID || !w.live(b) {
			continue
		}
		if b.HoldsSeat(tripID, seatID) {
			return b
		}
	}
	return nil
}

// details describes the seats of b on the loaded trips for a ledger row
func (w *workset) details(b *models.Booking, source string) models.PaymentDetails {
	d := models.PaymentDetails{Source: source}
	var routes []string
	for _, item := range b.Items {
		if d.TripID == "" {
			d.TripID = item.TripID
		}
		if !containsString(routes, item.Route) {
			routes = append(routes, item.Route)
		}
		trip := w.trips[item.TripID]
		for _, seatID := range item.SeatIDs {
			d.SeatIDs = append(d.SeatIDs, seatID)
			label := seatID
			if trip != nil {
				if seat, ok := trip.SeatByID(seatID); ok {
					label = seat.Label
				}
			}
			d.Labels = append(d.Labels, label)
		}
	}
	if len(b.Items) > 1 {
		d.TripID = ""
	}
	d.Route = strings.Join(routes, ", ")
	return d
}

func (w *workset) addPayment(p models.Payment) {
	w.payments = append(w.payments, p)
}

// sorted returns the bookings oldest first
func (w *workset) sorted() []*models.Booking {
	out := make([]*models.Booking, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// activeBookings returns copies of the live bookings
func (w *workset) activeBookings() []models.Booking {
	out := []models.Booking{}
	for _, b := range w.sorted() {
		if w.live(b) {
			out = append(out, b.Clone())
		}
	}
	return out
}

// changeSet recomputes every loaded trip's cached seat statuses and collects
// all pending writes. Every loaded trip is rewritten so a concurrent writer on
// any of them fails the version check.
func (w *workset) changeSet(now time.Time) (*models.ChangeSet, []models.Trip) {
	cs := &models.ChangeSet{}
	active := w.activeBookings()
	trips := make([]models.Trip, 0, len(w.tripOrder))

	for _, id := range w.tripOrder {
		trip := w.trips[id]
		seats, _ := RecomputeSeats(trip, active)
		cs.TripSeats = append(cs.TripSeats, models.TripSeatUpdate{
			TripID:          id,
			Seats:           seats,
			ExpectedVersion: trip.Version,
		})
		updated := trip.Clone()
		updated.Seats = seats
		updated.Version = trip.Version + 1
		updated.UpdatedAt = now
		trips = append(trips, updated)
	}

	for _, id := range w.order {
		if w.deleted[id] {
			cs.DeleteBookingIDs = append(cs.DeleteBookingIDs, id)
			continue
		}
		if w.dirty[id] {
			b := w.byID[id]
			b.UpdatedAt = now
			cs.UpsertBookings = append(cs.UpsertBookings, b.Clone())
		}
	}

	cs.InsertPayments = append(cs.InsertPayments, w.payments...)
	cs.DeletePaymentIDs = append(cs.DeletePaymentIDs, w.deletePayments...)
	return cs, trips
}

// commit writes the workset and returns the trips as stored
func commitWorkset(ctx context.Context, store database.Store, w *workset, now time.Time) ([]models.Trip, error) {
	cs, trips := w.changeSet(now)
	if err := store.Apply(ctx, cs); err != nil {
		return nil, storeError(err, "trip", "")
	}
	return trips, nil
}

// newItem starts a booking item carrying the trip's display metadata
func newItem(trip *models.Trip) models.BookingItem {
	return models.BookingItem{
		TripID:       trip.ID,
		Route:        trip.Route,
		TripDate:     trip.DateLabel(),
		LicensePlate: trip.LicensePlate,
		BusType:      trip.Type,
		SeatIDs:      []string{},
		Tickets:      []models.Ticket{},
	}
}

// ledgerRow records a signed money movement on a booking
func ledgerRow(bookingID string, delta models.PaymentSplit, note string, details models.PaymentDetails, now time.Time) models.Payment {
	kind := models.PaymentTypePayment
	switch {
	case delta.Total() < 0:
		kind = models.PaymentTypeRefund
	case delta.Total() == 0:
		kind = models.PaymentTypeAdjustment
	}
	return models.Payment{
		ID:             uuid.NewString(),
		BookingID:      bookingID,
		TotalAmount:    delta.Total(),
		CashAmount:     delta.PaidCash,
		TransferAmount: delta.PaidTransfer,
		Type:           kind,
		Note:           note,
		Details:        details,
		CreatedAt:      now,
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
