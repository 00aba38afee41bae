package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTrip(t *testing.T, store *MemoryStore, id string, departure time.Time) models.Trip {
	t.Helper()
	trip := models.Trip{
		ID:            id,
		Route:         "Hà Nội - Sapa",
		DepartureTime: departure,
		Type:          models.BusTypeSleeper,
		Seats:         models.SeatList{{ID: "1-0-0", Label: "1", Status: models.SeatStatusAvailable}},
	}
	require.NoError(t, store.CreateTrip(context.Background(), &trip))
	return trip
}

func TestMemoryStore_TripVersioning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	trip := seedTrip(t, store, "trip-1", time.Now())
	assert.Equal(t, 1, trip.Version)

	seats := models.SeatList{{ID: "1-0-0", Label: "1", Status: models.SeatStatusBooked}}
	err := store.Apply(ctx, &models.ChangeSet{
		TripSeats: []models.TripSeatUpdate{{TripID: "trip-1", Seats: seats, ExpectedVersion: 1}},
	})
	require.NoError(t, err)

	stored, err := store.GetTrip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
	assert.Equal(t, models.SeatStatusBooked, stored.Seats[0].Status)

	// a writer still holding version 1 loses
	err = store.Apply(ctx, &models.ChangeSet{
		TripSeats:      []models.TripSeatUpdate{{TripID: "trip-1", Seats: models.SeatList{}, ExpectedVersion: 1}},
		UpsertBookings: []models.Booking{{ID: "bk-1"}},
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	_, err = store.GetBooking(ctx, "bk-1")
	assert.ErrorIs(t, err, ErrNotFound, "conflicting change set must not write bookings")
}

func TestMemoryStore_ReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTrip(t, store, "trip-1", time.Now())

	trip, err := store.GetTrip(ctx, "trip-1")
	require.NoError(t, err)
	trip.Seats[0].Status = models.SeatStatusSold

	again, err := store.GetTrip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, models.SeatStatusAvailable, again.Seats[0].Status)
}

func TestMemoryStore_ListTrips(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)
	seedTrip(t, store, "late", base.Add(24*time.Hour))
	seedTrip(t, store, "early", base)

	trips, err := store.ListTrips(ctx, TripFilter{})
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.Equal(t, "early", trips[0].ID)

	trips, err = store.ListTrips(ctx, TripFilter{From: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "late", trips[0].ID)

	trips, err = store.GetTrips(ctx, []string{"late", "missing", "late"})
	require.NoError(t, err)
	assert.Len(t, trips, 1)
}

func TestMemoryStore_BookingQueries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	active := models.Booking{
		ID:        "0f8c2a9e-41d7-4c11-9a55-7b1e3d5abc12",
		Passenger: models.Passenger{Name: "An", Phone: "0912 345 678"},
		Status:    models.BookingStatusBooking,
		Items:     models.BookingItems{{TripID: "trip-1", SeatIDs: []string{"1-0-0"}, Tickets: []models.Ticket{{SeatID: "1-0-0"}}}},
		CreatedAt: now,
	}
	cancelled := models.Booking{
		ID:        "bk-cancelled",
		Status:    models.BookingStatusCancelled,
		Items:     models.BookingItems{{TripID: "trip-1", SeatIDs: []string{"1-0-1"}}},
		CreatedAt: now.Add(time.Second),
	}
	require.NoError(t, store.Apply(ctx, &models.ChangeSet{UpsertBookings: []models.Booking{active, cancelled}}))

	bookings, err := store.ListActiveBookingsForTrips(ctx, []string{"trip-1"})
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, active.ID, bookings[0].ID)

	all, err := store.ListBookings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byCode, err := store.FindBookings(ctx, BookingLookup{Code: "ABC12"})
	require.NoError(t, err)
	assert.Empty(t, byCode)

	byCode, err = store.FindBookings(ctx, BookingLookup{Code: "5ABC12"})
	require.NoError(t, err)
	require.Len(t, byCode, 1)

	byPhone, err := store.FindBookings(ctx, BookingLookup{Phone: "0912345678"})
	require.NoError(t, err)
	require.Len(t, byPhone, 1)
	assert.Equal(t, active.ID, byPhone[0].ID)

	byID, err := store.FindBookings(ctx, BookingLookup{ID: "bk-cancelled"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
}

func TestMemoryStore_PaymentLedger(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Apply(ctx, &models.ChangeSet{InsertPayments: []models.Payment{
		{ID: "p1", BookingID: "bk-1", TotalAmount: 100},
		{ID: "p2", BookingID: "bk-2", TotalAmount: 200},
		{ID: "p3", BookingID: "bk-1", TotalAmount: -50},
	}}))

	forBooking, err := store.ListPaymentsByBooking(ctx, "bk-1")
	require.NoError(t, err)
	assert.Len(t, forBooking, 2)

	require.NoError(t, store.Apply(ctx, &models.ChangeSet{DeletePaymentIDs: []string{"p1", "p3"}}))

	all, err := store.ListPayments(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "p2", all[0].ID)
}

func TestMemoryStore_BookingPatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	read := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.Apply(ctx, &models.ChangeSet{
		UpsertBookings: []models.Booking{{ID: "bk-1", Status: models.BookingStatusBooking, TotalPrice: 999, UpdatedAt: read}},
		InsertPayments: []models.Payment{{ID: "p1", BookingID: "bk-1", TotalAmount: 100}},
	}))

	patch := models.BookingPatch{BookingID: "bk-1", ExpectedUpdatedAt: read, UpdatedAt: read.Add(time.Minute)}
	require.NoError(t, store.Apply(ctx, &models.ChangeSet{PatchBookings: []models.BookingPatch{patch}}))

	stored, err := store.GetBooking(ctx, "bk-1")
	require.NoError(t, err)
	assert.Zero(t, stored.TotalPrice)
	assert.Equal(t, models.BookingStatusBooking, stored.Status, "a patch only touches money fields")
	assert.True(t, stored.UpdatedAt.Equal(read.Add(time.Minute)))

	// a second patch from the same read is stale
	patch.TotalPrice = 500
	err = store.Apply(ctx, &models.ChangeSet{
		PatchBookings:    []models.BookingPatch{patch},
		DeletePaymentIDs: []string{"p1"},
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	rows, err := store.ListPaymentsByBooking(ctx, "bk-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "conflicting change set must not delete payments")

	err = store.Apply(ctx, &models.ChangeSet{PatchBookings: []models.BookingPatch{{BookingID: "missing"}}})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestMemoryStore_Users(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	user := models.User{ID: uuid.New(), Username: "quay1", Role: "seller", Status: "active"}
	store.PutUser(user)
	store.PutRole(models.Role{Name: "seller", Permissions: []string{"VIEW_SALES"}})

	got, err := store.GetUserByUsername(ctx, "quay1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	require.NoError(t, store.UpdateLastLogin(ctx, user.ID.String()))
	got, err = store.GetUserByUsername(ctx, "quay1")
	require.NoError(t, err)
	assert.NotNil(t, got.LastLoginAt)

	role, err := store.GetRole(ctx, "seller")
	require.NoError(t, err)
	assert.Equal(t, "seller", role.Name)

	_, err = store.GetRole(ctx, "admin")
	assert.ErrorIs(t, err, ErrNotFound)
}
