package services

import (
	"context"
	"testing"

	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking_BookingStatusForcesZeroPrice(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 4)

	result, err := f.bookings.CreateBooking(f.ctx, &models.CreateBookingRequest{
		Items: []models.BookingItemRequest{{
			TripID:  "trip-1",
			SeatIDs: []string{"A1", "A2"},
			Tickets: []models.TicketRequest{{SeatID: "A1", Price: floatPtr(300000), Name: "Bà Hoa"}},
		}},
		Passenger: models.Passenger{Name: "Nguyễn Văn A", Phone: "0912 345 678"},
		Status:    models.BookingStatusBooking,
	})
	require.NoError(t, err)

	b := result.Booking
	require.Len(t, b.Items, 1)
	for _, ticket := range b.Items[0].Tickets {
		assert.Zero(t, ticket.Price, "seat %s", ticket.SeatID)
	}
	assert.Equal(t, "Bà Hoa", b.Items[0].Tickets[0].Name)
	assert.Equal(t, "0912345678", b.Passenger.Phone)
	assert.Zero(t, b.TotalPrice)
	assert.Equal(t, "Hà Nội - Lào Cai", b.Items[0].Route)

	require.Len(t, result.UpdatedTrips, 1)
	assert.Equal(t, 2, result.UpdatedTrips[0].Version)
	assert.Len(t, result.Bookings, 1)

	assert.Equal(t, models.SeatStatusBooked, f.seatStatus(t, "trip-1", "A1"))
	assert.Equal(t, models.SeatStatusBooked, f.seatStatus(t, "trip-1", "A2"))
	assert.Equal(t, models.SeatStatusAvailable, f.seatStatus(t, "trip-1", "A3"))
	assertLedger(t, f.store)
}

func TestCreateBooking_PaymentWritesLedgerRow(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 4)

	b := f.create(t, models.BookingStatusPayment, models.PaymentSplit{PaidCash: 300000, PaidTransfer: 200000},
		item("trip-1", "A1", "A2"))

	assert.Equal(t, float64(2*seatPrice), b.TotalPrice)
	assert.Equal(t, models.SeatStatusSold, f.seatStatus(t, "trip-1", "A1"))

	rows, err := f.store.ListPaymentsByBooking(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.PaymentTypePayment, rows[0].Type)
	assert.Equal(t, float64(500000), rows[0].TotalAmount)
	assert.Equal(t, []string{"A1", "A2"}, rows[0].Details.Labels)
	assertLedger(t, f.store)
}

func TestCreateBooking_HoldCarriesNoPayment(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)

	b := f.create(t, models.BookingStatusHold, models.PaymentSplit{PaidCash: 100000}, item("trip-1", "A1"))

	assert.True(t, b.Payment.IsZero())
	assert.Equal(t, models.SeatStatusHeld, f.seatStatus(t, "trip-1", "A1"))
	rows, err := f.store.ListPayments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreateBooking_Rejections(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	taken := f.create(t, models.BookingStatusBooking, models.PaymentSplit{}, item("trip-1", "A1"))

	tests := []struct {
		name    string
		req     models.CreateBookingRequest
		wantErr interface{}
	}{
		{
			name:    "seat held by another booking",
			req:     models.CreateBookingRequest{Items: []models.BookingItemRequest{item("trip-1", "A1")}, Passenger: models.Passenger{Phone: "0987654321"}, Status: models.BookingStatusBooking},
			wantErr: &ConflictError{},
		},
		{
			name:    "unknown seat",
			req:     models.CreateBookingRequest{Items: []models.BookingItemRequest{item("trip-1", "Z9")}, Passenger: models.Passenger{Phone: "0987654321"}, Status: models.BookingStatusBooking},
			wantErr: &ValidationError{},
		},
		{
			name:    "no seats",
			req:     models.CreateBookingRequest{Items: []models.BookingItemRequest{item("trip-1")}, Passenger: models.Passenger{Phone: "0987654321"}, Status: models.BookingStatusBooking},
			wantErr: &ValidationError{},
		},
		{
			name:    "bad phone",
			req:     models.CreateBookingRequest{Items: []models.BookingItemRequest{item("trip-1", "A2")}, Passenger: models.Passenger{Phone: "12345"}, Status: models.BookingStatusBooking},
			wantErr: &ValidationError{},
		},
		{
			name:    "cancelled status",
			req:     models.CreateBookingRequest{Items: []models.BookingItemRequest{item("trip-1", "A2")}, Passenger: models.Passenger{Phone: "0987654321"}, Status: models.BookingStatusCancelled},
			wantErr: &ValidationError{},
		},
		{
			name:    "unknown trip",
			req:     models.CreateBookingRequest{Items: []models.BookingItemRequest{item("trip-x", "A2")}, Passenger: models.Passenger{Phone: "0987654321"}, Status: models.BookingStatusBooking},
			wantErr: &NotFoundError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bookings.CreateBooking(f.ctx, &tt.req)
			require.Error(t, err)
			assert.IsType(t, tt.wantErr, err)
		})
	}

	var conflict *ConflictError
	_, err := f.bookings.CreateBooking(f.ctx, &tests[0].req)
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Message, taken.Code())
}

func TestCreateBooking_RequiresPermission(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	ctx := WithSession(context.Background(), StaticSession{ID: "u-2", Permissions: []string{string(models.PermissionViewSales)}})

	_, err := f.bookings.CreateBooking(ctx, &models.CreateBookingRequest{
		Items:     []models.BookingItemRequest{item("trip-1", "A1")},
		Passenger: models.Passenger{Phone: "0912345678"},
		Status:    models.BookingStatusBooking,
	})
	var perr *PermissionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, string(models.PermissionBookTicket), perr.Permission)
}

func TestCreateBooking_StaleTripVersionConflicts(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	f.bookings.store = &racingStore{Store: f.store, tripID: "trip-1"}

	_, err := f.bookings.CreateBooking(f.ctx, &models.CreateBookingRequest{
		Items:     []models.BookingItemRequest{item("trip-1", "A1")},
		Passenger: models.Passenger{Phone: "0912345678"},
		Status:    models.BookingStatusBooking,
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	bookings, err := f.store.ListBookings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestUpdateBooking_MovesSeatFromAToB(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 3)
	b := f.create(t, models.BookingStatusBooking, models.PaymentSplit{}, item("trip-1", "A1"))

	result, err := f.bookings.UpdateBooking(f.ctx, b.ID, &models.UpdateBookingRequest{
		Items:         []models.BookingItemRequest{item("trip-1", "A2")},
		Passenger:     b.Passenger,
		Status:        models.BookingStatusBooking,
		LoadedTripIDs: []string{"trip-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"A2"}, result.Booking.Items[0].SeatIDs)
	assert.Equal(t, models.SeatStatusAvailable, f.seatStatus(t, "trip-1", "A1"))
	assert.Equal(t, models.SeatStatusBooked, f.seatStatus(t, "trip-1", "A2"))
	assert.Equal(t, 3, result.UpdatedTrips[0].Version)
}

func TestUpdateBooking_PreservesTripsNotLoaded(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	f.addTrip(t, "trip-2", models.BusTypeSleeper, 2)
	b := f.create(t, models.BookingStatusBooking, models.PaymentSplit{}, item("trip-1", "A1"), item("trip-2", "A1"))

	_, err := f.bookings.UpdateBooking(f.ctx, b.ID, &models.UpdateBookingRequest{
		Items:         []models.BookingItemRequest{item("trip-1", "A1", "A2")},
		Passenger:     b.Passenger,
		Status:        models.BookingStatusBooking,
		LoadedTripIDs: []string{"trip-1"},
	})
	require.NoError(t, err)

	stored := f.booking(t, b.ID)
	assert.True(t, stored.HoldsSeat("trip-2", "A1"), "trip the caller never loaded must be kept")
	assert.True(t, stored.HoldsSeat("trip-1", "A2"))
	assert.Equal(t, models.SeatStatusBooked, f.seatStatus(t, "trip-2", "A1"))

	// once trip-2 is loaded and left out, its seats go
	_, err = f.bookings.UpdateBooking(f.ctx, b.ID, &models.UpdateBookingRequest{
		Items:         []models.BookingItemRequest{item("trip-1", "A1", "A2")},
		Passenger:     b.Passenger,
		Status:        models.BookingStatusBooking,
		LoadedTripIDs: []string{"trip-1", "trip-2"},
	})
	require.NoError(t, err)
	stored = f.booking(t, b.ID)
	assert.False(t, stored.HoldsSeat("trip-2", "A1"))
	assert.Equal(t, models.SeatStatusAvailable, f.seatStatus(t, "trip-2", "A1"))
}

func TestUpdateBooking_HoldRefusesPaidTripsNotLoaded(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	f.addTrip(t, "trip-2", models.BusTypeSleeper, 2)
	b := f.create(t, models.BookingStatusPayment, models.PaymentSplit{PaidCash: 2 * seatPrice},
		item("trip-1", "A1"), item("trip-2", "A1"))

	req := &models.UpdateBookingRequest{
		Items:         []models.BookingItemRequest{item("trip-1", "A1")},
		Passenger:     b.Passenger,
		Status:        models.BookingStatusHold,
		LoadedTripIDs: []string{"trip-1"},
	}
	_, err := f.bookings.UpdateBooking(f.ctx, b.ID, req)
	assert.IsType(t, &ValidationError{}, err)

	stored := f.booking(t, b.ID)
	assert.Equal(t, models.BookingStatusPayment, stored.Status)
	assert.Equal(t, models.PaymentSplit{PaidCash: 2 * seatPrice}, stored.Payment)
	assert.Equal(t, models.SeatStatusSold, f.seatStatus(t, "trip-2", "A1"))

	// with both trips in view the paid seats are released into the hold
	req.Items = append(req.Items, item("trip-2", "A1"))
	req.LoadedTripIDs = []string{"trip-1", "trip-2"}
	result, err := f.bookings.UpdateBooking(f.ctx, b.ID, req)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusHold, result.Booking.Status)
	assert.True(t, result.Booking.Payment.IsZero())
	assert.Zero(t, result.Booking.TotalPrice)
	assert.Equal(t, models.SeatStatusHeld, f.seatStatus(t, "trip-2", "A1"))
	assertLedger(t, f.store)
}

func TestUpdateBooking_StatusChangeRepricesAndRecordsDelta(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	b := f.create(t, models.BookingStatusBooking, models.PaymentSplit{}, item("trip-1", "A1", "A2"))

	result, err := f.bookings.UpdateBooking(f.ctx, b.ID, &models.UpdateBookingRequest{
		Items:     []models.BookingItemRequest{item("trip-1", "A1", "A2")},
		Passenger: models.Passenger{Name: "Nguyễn Văn A", Phone: "0912345678", Note: "gọi trước"},
		Payment:   models.PaymentSplit{PaidCash: 500000},
		Status:    models.BookingStatusPayment,
	})
	require.NoError(t, err)

	updated := result.Booking
	assert.Equal(t, models.BookingStatusPayment, updated.Status)
	assert.Equal(t, "gọi trước (Chuyển sang Mua vé)", updated.Passenger.Note)
	assert.Equal(t, float64(2*seatPrice), updated.TotalPrice)
	assert.Equal(t, models.SeatStatusSold, f.seatStatus(t, "trip-1", "A1"))

	// partial refund back to booking
	_, err = f.bookings.UpdateBooking(f.ctx, b.ID, &models.UpdateBookingRequest{
		Items:     []models.BookingItemRequest{item("trip-1", "A1", "A2")},
		Passenger: updated.Passenger,
		Payment:   models.PaymentSplit{PaidCash: 100000},
		Status:    models.BookingStatusBooking,
	})
	require.NoError(t, err)

	rows, err := f.store.ListPaymentsByBooking(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.PaymentTypeRefund, rows[1].Type)
	assert.Equal(t, float64(-400000), rows[1].TotalAmount)
	assert.Zero(t, f.booking(t, b.ID).TotalPrice)
	assertLedger(t, f.store)
}

func TestUpdateBooking_Rejections(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 3)
	b := f.create(t, models.BookingStatusBooking, models.PaymentSplit{}, item("trip-1", "A1"))
	other := f.create(t, models.BookingStatusBooking, models.PaymentSplit{}, item("trip-1", "A3"))

	_, err := f.bookings.UpdateBooking(f.ctx, b.ID, &models.UpdateBookingRequest{
		Items:     []models.BookingItemRequest{item("trip-1", "A1", "A3")},
		Passenger: b.Passenger,
		Status:    models.BookingStatusBooking,
	})
	assert.IsType(t, &ConflictError{}, err, "A3 belongs to another booking")

	_, err = f.bookings.UpdateBooking(f.ctx, b.ID, &models.UpdateBookingRequest{
		Items:         []models.BookingItemRequest{item("trip-1")},
		Passenger:     b.Passenger,
		Status:        models.BookingStatusBooking,
		LoadedTripIDs: []string{"trip-1"},
	})
	assert.IsType(t, &ValidationError{}, err)

	_, err = f.bookings.CancelBooking(f.ctx, other.ID, "")
	require.NoError(t, err)
	_, err = f.bookings.UpdateBooking(f.ctx, other.ID, &models.UpdateBookingRequest{
		Items:     []models.BookingItemRequest{item("trip-1", "A3")},
		Passenger: other.Passenger,
		Status:    models.BookingStatusBooking,
	})
	assert.IsType(t, &ValidationError{}, err)

	_, err = f.bookings.UpdateBooking(f.ctx, "missing", &models.UpdateBookingRequest{
		Items:     []models.BookingItemRequest{item("trip-1", "A2")},
		Passenger: b.Passenger,
		Status:    models.BookingStatusBooking,
	})
	assert.IsType(t, &NotFoundError{}, err)
}

func TestCancelBooking_ReleasesSeatsAndClearsLedger(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	b := f.create(t, models.BookingStatusPayment, models.PaymentSplit{PaidTransfer: seatPrice}, item("trip-1", "A1"))

	result, err := f.bookings.CancelBooking(f.ctx, b.ID, "khách đổi ngày")
	require.NoError(t, err)

	assert.Equal(t, models.BookingStatusCancelled, result.Booking.Status)
	assert.True(t, result.Booking.Payment.IsZero())
	assert.Contains(t, result.Booking.Passenger.Note, "(Đã hủy) khách đổi ngày")
	assert.Empty(t, result.Bookings)
	assert.Equal(t, models.SeatStatusAvailable, f.seatStatus(t, "trip-1", "A1"))

	rows, err := f.store.ListPaymentsByBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = f.bookings.CancelBooking(f.ctx, b.ID, "")
	assert.IsType(t, &ValidationError{}, err)
}

func TestFindBookings(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	b := f.create(t, models.BookingStatusBooking, models.PaymentSplit{}, item("trip-1", "A1"))

	byCode, err := f.bookings.FindBookings(f.ctx, models.OrderCode(b.ID))
	require.NoError(t, err)
	require.Len(t, byCode, 1)
	assert.Equal(t, b.ID, byCode[0].ID)

	byPhone, err := f.bookings.FindBookings(f.ctx, "912 345 678")
	require.NoError(t, err)
	require.Len(t, byPhone, 1)

	byID, err := f.bookings.FindBookings(f.ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, byID, 1)

	_, err = f.bookings.FindBookings(f.ctx, "  ")
	assert.IsType(t, &ValidationError{}, err)
}

func TestNormalizeItems(t *testing.T) {
	items, err := normalizeItems([]models.BookingItemRequest{
		{TripID: "t1", SeatIDs: []string{"A1", "A1"}},
		{TripID: "t2", Tickets: []models.TicketRequest{{SeatID: "B1"}}},
		{TripID: "t1", SeatIDs: []string{"A2"}},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []string{"A1", "A2"}, items[0].SeatIDs)
	assert.Equal(t, []string{"B1"}, items[1].SeatIDs)
}

func floatPtr(v float64) *float64 {
	return &v
}
