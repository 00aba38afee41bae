package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/database"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seatPrice = 250000

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fixture struct {
	ctx      context.Context
	store    *database.MemoryStore
	undo     *UndoStack
	notifier *RecordingNotifier
	bookings *BookingService
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      WithSession(context.Background(), StaticSession{ID: "u-1", Name: "cashier", Permissions: permissionNames(models.AllPermissions)}),
		store:    database.NewMemoryStore(),
		undo:     NewUndoStack(5),
		notifier: &RecordingNotifier{},
		clock:    time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	f.bookings = NewBookingService(f.store, f.undo, nil, f.notifier, quietLogger())
	f.bookings.now = f.tick
	return f
}

// tick returns a strictly increasing clock so bookings order deterministically
func (f *fixture) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func permissionNames(perms []models.Permission) []string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return names
}

// addTrip stores a trip with seats A1..An, all available
func (f *fixture) addTrip(t *testing.T, id string, busType models.BusType, seats int) *models.Trip {
	t.Helper()
	trip := &models.Trip{
		ID:            id,
		Route:         "Hà Nội - Lào Cai",
		DepartureTime: time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC),
		LicensePlate:  "29B-123.45",
		BusID:         "bus-" + id,
		Type:          busType,
	}
	for i := 1; i <= seats; i++ {
		label := "A" + string(rune('0'+i))
		trip.Seats = append(trip.Seats, models.Seat{
			ID:     label,
			Label:  label,
			Floor:  1,
			Row:    i - 1,
			Price:  seatPrice,
			Status: models.SeatStatusAvailable,
		})
	}
	require.NoError(t, f.store.CreateTrip(context.Background(), trip))
	return trip
}

func (f *fixture) create(t *testing.T, status models.BookingStatus, payment models.PaymentSplit, items ...models.BookingItemRequest) *models.Booking {
	t.Helper()
	result, err := f.bookings.CreateBooking(f.ctx, &models.CreateBookingRequest{
		Items:     items,
		Passenger: models.Passenger{Name: "Nguyễn Văn A", Phone: "0912345678"},
		Payment:   payment,
		Status:    status,
	})
	require.NoError(t, err)
	return result.Booking
}

func item(tripID string, seats ...string) models.BookingItemRequest {
	return models.BookingItemRequest{TripID: tripID, SeatIDs: seats}
}

func (f *fixture) seatStatus(t *testing.T, tripID, seatID string) models.SeatStatus {
	t.Helper()
	trip, err := f.store.GetTrip(context.Background(), tripID)
	require.NoError(t, err)
	seat, ok := trip.SeatByID(seatID)
	require.True(t, ok, "seat %s missing", seatID)
	return seat.Status
}

func (f *fixture) booking(t *testing.T, id string) *models.Booking {
	t.Helper()
	b, err := f.store.GetBooking(context.Background(), id)
	require.NoError(t, err)
	return b
}

// assertLedger checks that every booking's recorded payment equals the sum of
// its ledger rows
func assertLedger(t *testing.T, store database.Store) {
	t.Helper()
	ctx := context.Background()
	bookings, err := store.ListBookings(ctx)
	require.NoError(t, err)
	for _, b := range bookings {
		rows, err := store.ListPaymentsByBooking(ctx, b.ID)
		require.NoError(t, err)
		var sum float64
		for _, p := range rows {
			sum += p.TotalAmount
		}
		assert.InDelta(t, b.Payment.Total(), sum, 0.01, "ledger of booking %s", b.Code())
	}
}

// racingStore bumps a trip's version right before the first Apply, as if
// another cashier saved in between
type racingStore struct {
	database.Store
	tripID string
	raced  bool
}

func (r *racingStore) Apply(ctx context.Context, changes *models.ChangeSet) error {
	if !r.raced {
		r.raced = true
		trip, err := r.Store.GetTrip(ctx, r.tripID)
		if err != nil {
			return err
		}
		if err := r.Store.Apply(ctx, &models.ChangeSet{TripSeats: []models.TripSeatUpdate{{
			TripID: trip.ID, Seats: trip.Seats, ExpectedVersion: trip.Version,
		}}}); err != nil {
			return err
		}
	}
	return r.Store.Apply(ctx, changes)
}
