package services

import (
	"context"
	"testing"
	"time"

	"github.com/smarttransit/busticket-backend/internal/database"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) maintenance(policy TieBreakPolicy) *MaintenanceService {
	svc := NewMaintenanceService(f.store, policy, nil, f.notifier, quietLogger())
	svc.now = f.tick
	return svc
}

// corruptSeat overwrites a cached seat status without touching bookings
func (f *fixture) corruptSeat(t *testing.T, tripID, seatID string, status models.SeatStatus) {
	t.Helper()
	trip, err := f.store.GetTrip(context.Background(), tripID)
	require.NoError(t, err)
	for i := range trip.Seats {
		if trip.Seats[i].ID == seatID {
			trip.Seats[i].Status = status
		}
	}
	require.NoError(t, f.store.Apply(context.Background(), &models.ChangeSet{TripSeats: []models.TripSeatUpdate{{
		TripID: tripID, Seats: trip.Seats, ExpectedVersion: trip.Version,
	}}}))
}

// doubleBook writes a paid copy of b that claims the same seats, created an
// hour later, bypassing the booking service
func (f *fixture) doubleBook(t *testing.T, b *models.Booking, id string) models.Booking {
	t.Helper()
	dup := b.Clone()
	dup.ID = id
	dup.CreatedAt = b.CreatedAt.Add(time.Hour)
	dup.Status = models.BookingStatusPayment
	for i := range dup.Items {
		for j := range dup.Items[i].Tickets {
			dup.Items[i].Tickets[j].Price = seatPrice
			dup.Items[i].Tickets[j].Status = ""
		}
	}
	dup.TotalPrice = dup.ExpectedTotal()
	dup.Payment = models.PaymentSplit{PaidCash: dup.TotalPrice}
	row := ledgerRow(dup.ID, dup.Payment, "Mua vé", models.PaymentDetails{Source: "test"}, dup.CreatedAt)
	require.NoError(t, f.store.Apply(context.Background(), &models.ChangeSet{
		UpsertBookings: []models.Booking{dup},
		InsertPayments: []models.Payment{row},
	}))
	return dup
}

func actions(logs []models.MaintenanceLog) []models.MaintenanceAction {
	out := make([]models.MaintenanceAction, len(logs))
	for i, l := range logs {
		out[i] = l.Action
	}
	return out
}

func TestFixSeats_ReleasesGhostSeat(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 3)
	f.create(t, models.BookingStatusBooking, models.PaymentSplit{}, item("trip-1", "A1"))
	f.corruptSeat(t, "trip-1", "A3", models.SeatStatusSold)

	result, err := f.maintenance(PreferHigherPayment).FixSeats(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FixedCount)
	assert.Equal(t, 0, result.SyncCount)
	require.Len(t, result.Logs, 1)
	assert.Equal(t, models.ActionGhostReleased, result.Logs[0].Action)
	assert.Equal(t, "A3", result.Logs[0].SeatLabel)
	assert.Equal(t, models.SeatStatusAvailable, f.seatStatus(t, "trip-1", "A3"))
	assert.Equal(t, models.SeatStatusBooked, f.seatStatus(t, "trip-1", "A1"))

	again, err := f.maintenance(PreferHigherPayment).FixSeats(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Logs, "second run has nothing to do")
}

func TestFixSeats_SyncsStaleStatus(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	f.create(t, models.BookingStatusPayment, models.PaymentSplit{PaidCash: seatPrice}, item("trip-1", "A1"))
	f.corruptSeat(t, "trip-1", "A1", models.SeatStatusHeld)

	result, err := f.maintenance(PreferHigherPayment).FixSeats(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, result.FixedCount)
	assert.Equal(t, 1, result.SyncCount)
	assert.Equal(t, []models.MaintenanceAction{models.ActionStatusSynced}, actions(result.Logs))
	assert.Equal(t, models.SeatStatusSold, f.seatStatus(t, "trip-1", "A1"))
}

func TestFixSeats_HigherPaymentKeepsDuplicateSeat(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	first := f.create(t, models.BookingStatusBooking, models.PaymentSplit{}, item("trip-1", "A1"))
	dup := f.doubleBook(t, first, "dup-booking")

	result, err := f.maintenance(PreferHigherPayment).FixSeats(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FixedCount)
	assert.Contains(t, actions(result.Logs), models.ActionDuplicateKept)
	assert.Contains(t, actions(result.Logs), models.ActionDuplicateFreed)
	assert.Contains(t, actions(result.Logs), models.ActionBookingCanceled)
	assert.Equal(t, dup.Code(), result.Logs[0].BookingCode)

	_, err = f.store.GetBooking(context.Background(), first.ID)
	assert.ErrorIs(t, err, database.ErrNotFound, "unpaid loser without seats is deleted")
	assert.True(t, f.booking(t, dup.ID).HoldsSeat("trip-1", "A1"))
	assert.Equal(t, models.SeatStatusSold, f.seatStatus(t, "trip-1", "A1"))
	assertLedger(t, f.store)
}

func TestFixSeats_EarliestKeepsDuplicateSeat(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	first := f.create(t, models.BookingStatusBooking, models.PaymentSplit{}, item("trip-1", "A1"))
	dup := f.doubleBook(t, first, "dup-booking")

	result, err := f.maintenance(PreferEarliest).FixSeats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Code(), result.Logs[0].BookingCode)

	assert.True(t, f.booking(t, first.ID).HoldsSeat("trip-1", "A1"))
	loser := f.booking(t, dup.ID)
	assert.Equal(t, models.BookingStatusCancelled, loser.Status, "paid loser is cancelled, not deleted")
	assert.Zero(t, loser.TicketCount())
	assert.Equal(t, models.SeatStatusBooked, f.seatStatus(t, "trip-1", "A1"))

	rows, err := f.store.ListPaymentsByBooking(context.Background(), dup.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assertLedger(t, f.store)
}

func TestFixSeats_LoserKeepsOtherSeats(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 3)
	first := f.create(t, models.BookingStatusBooking, models.PaymentSplit{}, item("trip-1", "A1", "A2"))
	dup := first.Clone()
	dup.ID = "dup-booking"
	dup.CreatedAt = first.CreatedAt.Add(time.Hour)
	dup.Items[0].SeatIDs = []string{"A2", "A3"}
	dup.Items[0].Tickets = []models.Ticket{{SeatID: "A2"}, {SeatID: "A3"}}
	require.NoError(t, f.store.Apply(context.Background(), &models.ChangeSet{UpsertBookings: []models.Booking{dup}}))

	result, err := f.maintenance(PreferHigherPayment).FixSeats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FixedCount)

	kept := f.booking(t, dup.ID)
	assert.Equal(t, models.BookingStatusBooking, kept.Status)
	assert.Equal(t, []string{"A3"}, kept.Items[0].SeatIDs)
	assert.True(t, f.booking(t, first.ID).HoldsSeat("trip-1", "A2"))
	assert.Equal(t, models.SeatStatusBooked, f.seatStatus(t, "trip-1", "A3"))
}

func TestFixSeats_ConcurrentWriteIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	f.corruptSeat(t, "trip-1", "A2", models.SeatStatusBooked)

	racing := &racingStore{Store: f.store, tripID: "trip-1"}
	svc := NewMaintenanceService(racing, PreferHigherPayment, nil, f.notifier, quietLogger())

	result, err := svc.FixSeats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ConflictCount)
	assert.Equal(t, 0, result.FixedCount)
	assert.Equal(t, []models.MaintenanceAction{models.ActionWriteConflict}, actions(result.Logs))
	assert.Equal(t, models.SeatStatusBooked, f.seatStatus(t, "trip-1", "A2"))

	last, ok := f.notifier.Last()
	require.True(t, ok)
	assert.Equal(t, NotifyWarning, last.Level)

	result, err = svc.FixSeats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FixedCount)
	assert.Equal(t, models.SeatStatusAvailable, f.seatStatus(t, "trip-1", "A2"))
}

func TestFixSeats_RequiresSettingsPermission(t *testing.T) {
	f := newFixture(t)
	ctx := WithSession(context.Background(), StaticSession{ID: "u-2", Permissions: []string{string(models.PermissionViewSales)}})
	_, err := f.maintenance(PreferHigherPayment).FixSeats(ctx)
	assert.IsType(t, &PermissionError{}, err)
}

func TestFixPayments_ReconcilesLedger(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 5)
	ctx := context.Background()

	paid := f.create(t, models.BookingStatusPayment, models.PaymentSplit{PaidCash: seatPrice}, item("trip-1", "A1"))
	hold := f.create(t, models.BookingStatusHold, models.PaymentSplit{}, item("trip-1", "A2"))
	cancelled := f.create(t, models.BookingStatusBooking, models.PaymentSplit{}, item("trip-1", "A3"))
	_, err := f.bookings.CancelBooking(f.ctx, cancelled.ID, "khách đổi ý")
	require.NoError(t, err)
	drifted := f.create(t, models.BookingStatusBooking, models.PaymentSplit{}, item("trip-1", "A4"))
	over := f.create(t, models.BookingStatusPayment, models.PaymentSplit{PaidTransfer: seatPrice}, item("trip-1", "A5"))

	holdCopy := f.booking(t, hold.ID)
	holdCopy.Payment = models.PaymentSplit{PaidCash: 50000}
	driftCopy := f.booking(t, drifted.ID)
	driftCopy.TotalPrice = 999000
	overCopy := f.booking(t, over.ID)
	overCopy.Payment = models.PaymentSplit{PaidTransfer: seatPrice + 50000}
	now := time.Now()
	require.NoError(t, f.store.Apply(ctx, &models.ChangeSet{
		UpsertBookings: []models.Booking{*holdCopy, *driftCopy, *overCopy},
		InsertPayments: []models.Payment{
			ledgerRow("missing-booking", models.PaymentSplit{PaidCash: 10000}, "", models.PaymentDetails{}, now),
			ledgerRow(hold.ID, models.PaymentSplit{PaidCash: 50000}, "", models.PaymentDetails{}, now),
			ledgerRow(cancelled.ID, models.PaymentSplit{PaidCash: 20000}, "", models.PaymentDetails{}, now),
			ledgerRow(over.ID, models.PaymentSplit{PaidTransfer: 50000}, "", models.PaymentDetails{}, now),
		},
	}))

	result, err := f.maintenance(PreferHigherPayment).FixPayments(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, result.DeletedCount)
	assert.Equal(t, 2, result.FixedCount)
	assert.Equal(t, 1, result.MismatchCount)
	assert.Zero(t, result.ConflictCount)
	assertLedger(t, f.store)

	var mismatch models.MaintenanceLog
	for _, l := range result.Logs {
		if l.Action == models.ActionMismatch {
			mismatch = l
		}
	}
	assert.Equal(t, over.Code(), mismatch.BookingCode)
	assert.Equal(t, float64(-50000), mismatch.Delta)
	assert.Contains(t, mismatch.Detail, "chênh lệch")

	assert.True(t, f.booking(t, hold.ID).Payment.IsZero())
	assert.Zero(t, f.booking(t, drifted.ID).TotalPrice)
	assert.Equal(t, float64(seatPrice), f.booking(t, paid.ID).TotalPrice)

	for _, id := range []string{"missing-booking", hold.ID, cancelled.ID} {
		rows, err := f.store.ListPaymentsByBooking(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, rows, "rows of %s", id)
	}

	again, err := f.maintenance(PreferHigherPayment).FixPayments(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, again.DeletedCount)
	assert.Zero(t, again.FixedCount)
	assert.Equal(t, 1, again.MismatchCount, "mismatches are reported, not rewritten")

	// an operator settles the overpayment and the report clears
	_, err = f.maintenance(PreferHigherPayment).CreateCompensatingPayment(f.ctx, over.ID,
		&models.CompensatingPaymentRequest{Amount: -50000, Method: "transfer"})
	require.NoError(t, err)
	settled, err := f.maintenance(PreferHigherPayment).FixPayments(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, settled.MismatchCount)
	assertLedger(t, f.store)
}

// bookingRacer saves the booking as another cashier would right before the
// first change set that patches it
type bookingRacer struct {
	database.Store
	bookingID string
	raced     bool
}

func (r *bookingRacer) Apply(ctx context.Context, changes *models.ChangeSet) error {
	if !r.raced && len(changes.PatchBookings) > 0 {
		r.raced = true
		b, err := r.Store.GetBooking(ctx, r.bookingID)
		if err != nil {
			return err
		}
		b.Passenger.Note = "đã gọi lại"
		b.UpdatedAt = b.UpdatedAt.Add(time.Second)
		if err := r.Store.Apply(ctx, &models.ChangeSet{UpsertBookings: []models.Booking{*b}}); err != nil {
			return err
		}
	}
	return r.Store.Apply(ctx, changes)
}

func TestFixPayments_SkipsBookingSavedMeanwhile(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	b := f.create(t, models.BookingStatusBooking, models.PaymentSplit{}, item("trip-1", "A1"))
	ctx := context.Background()

	drifted := f.booking(t, b.ID)
	drifted.TotalPrice = 999000
	require.NoError(t, f.store.Apply(ctx, &models.ChangeSet{UpsertBookings: []models.Booking{*drifted}}))

	svc := NewMaintenanceService(&bookingRacer{Store: f.store, bookingID: b.ID}, PreferHigherPayment, nil, f.notifier, quietLogger())
	svc.now = f.tick
	result, err := svc.FixPayments(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.ConflictCount)
	assert.Zero(t, result.FixedCount)
	assert.Contains(t, actions(result.Logs), models.ActionWriteConflict)

	stored := f.booking(t, b.ID)
	assert.Equal(t, "đã gọi lại", stored.Passenger.Note, "the cashier's save must survive")
	assert.Equal(t, float64(999000), stored.TotalPrice)

	again, err := f.maintenance(PreferHigherPayment).FixPayments(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.FixedCount)
	assert.Zero(t, f.booking(t, b.ID).TotalPrice)
	assert.Equal(t, "đã gọi lại", f.booking(t, b.ID).Passenger.Note)
}

func TestCreateCompensatingPayment_ConflictsWithConcurrentSave(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	b := f.create(t, models.BookingStatusPayment, models.PaymentSplit{PaidCash: seatPrice}, item("trip-1", "A1"))

	svc := NewMaintenanceService(&bookingRacer{Store: f.store, bookingID: b.ID}, PreferHigherPayment, nil, f.notifier, quietLogger())
	svc.now = f.tick
	_, err := svc.CreateCompensatingPayment(f.ctx, b.ID, &models.CompensatingPaymentRequest{Amount: 10000})
	assert.IsType(t, &ConflictError{}, err)

	stored := f.booking(t, b.ID)
	assert.Equal(t, "đã gọi lại", stored.Passenger.Note)
	assert.Equal(t, models.PaymentSplit{PaidCash: seatPrice}, stored.Payment)
	assertLedger(t, f.store)
}

func TestCreateCompensatingPayment(t *testing.T) {
	f := newFixture(t)
	f.addTrip(t, "trip-1", models.BusTypeSleeper, 2)
	b := f.create(t, models.BookingStatusPayment, models.PaymentSplit{PaidCash: 200000}, item("trip-1", "A1"))
	hold := f.create(t, models.BookingStatusHold, models.PaymentSplit{}, item("trip-1", "A2"))
	svc := f.maintenance(PreferHigherPayment)

	payment, err := svc.CreateCompensatingPayment(f.ctx, b.ID, &models.CompensatingPaymentRequest{Amount: 50000, Method: "transfer"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentTypeAdjustment, payment.Type)
	assert.Equal(t, float64(50000), payment.TransferAmount)
	assert.Equal(t, models.PaymentSplit{PaidCash: 200000, PaidTransfer: 50000}, f.booking(t, b.ID).Payment)
	assertLedger(t, f.store)

	tests := []struct {
		name      string
		bookingID string
		req       models.CompensatingPaymentRequest
		want      error
	}{
		{"zero amount", b.ID, models.CompensatingPaymentRequest{Amount: 0}, &ValidationError{}},
		{"unknown method", b.ID, models.CompensatingPaymentRequest{Amount: 10, Method: "card"}, &ValidationError{}},
		{"refund more than cash", b.ID, models.CompensatingPaymentRequest{Amount: -300000}, &ValidationError{}},
		{"hold booking", hold.ID, models.CompensatingPaymentRequest{Amount: 10}, &ValidationError{}},
		{"missing booking", "nope", models.CompensatingPaymentRequest{Amount: 10}, &NotFoundError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateCompensatingPayment(f.ctx, tt.bookingID, &tt.req)
			assert.IsType(t, tt.want, err)
		})
	}
}

func TestParseTieBreakPolicy(t *testing.T) {
	p, err := ParseTieBreakPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PreferHigherPayment, p)

	p, err = ParseTieBreakPolicy(" PREFER_EARLIEST ")
	require.NoError(t, err)
	assert.Equal(t, PreferEarliest, p)

	_, err = ParseTieBreakPolicy("random")
	assert.Error(t, err)
}
