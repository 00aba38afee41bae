package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/database"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/pkg/events"
)

// TieBreakPolicy decides which booking keeps a seat claimed by several
type TieBreakPolicy string

const (
	// PreferHigherPayment keeps the booking that paid more, then the earliest
	PreferHigherPayment TieBreakPolicy = "prefer_higher_payment"
	// PreferEarliest keeps the booking created first
	PreferEarliest TieBreakPolicy = "prefer_earliest"
)

// ParseTieBreakPolicy maps a config value onto a policy
func ParseTieBreakPolicy(value string) (TieBreakPolicy, error) {
	switch TieBreakPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PreferHigherPayment:
		return PreferHigherPayment, nil
	case PreferEarliest:
		return PreferEarliest, nil
	}
	return "", fmt.Errorf("unknown tie-break policy %q", value)
}

// MaintenanceService reconciles trip seat caches and the payment ledger with
// the bookings
type MaintenanceService struct {
	store    database.Store
	policy   TieBreakPolicy
	events   events.Publisher
	notifier Notifier
	logger   *logrus.Logger
	now      func() time.Time
}

// NewMaintenanceService creates a new maintenance service
func NewMaintenanceService(
	store database.Store,
	policy TieBreakPolicy,
	publisher events.Publisher,
	notifier Notifier,
	logger *logrus.Logger,
) *MaintenanceService {
	if policy == "" {
		policy = PreferHigherPayment
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &MaintenanceService{
		store:    store,
		policy:   policy,
		events:   publisher,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// FixSeats walks every trip, resolves double-booked seats, releases ghost
// seats and resyncs cached statuses. Each trip is committed on its own; a trip
// rewritten concurrently is logged and skipped.
func (s *MaintenanceService) FixSeats(ctx context.Context) (*models.FixSeatsResult, error) {
	ctx, span := tracer.Start(ctx, "MaintenanceService.FixSeats")
	defer span.End()

	if err := requirePermission(ctx, models.PermissionManageSettings); err != nil {
		return nil, err
	}

	trips, err := s.store.ListTrips(ctx, database.TripFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}

	result := &models.FixSeatsResult{Logs: []models.MaintenanceLog{}}
	for _, trip := range trips {
		run, err := s.fixTrip(ctx, trip.ID)
		if err != nil {
			var conflict *ConflictError
			if !errors.As(err, &conflict) {
				return nil, err
			}
			result.ConflictCount++
			result.Logs = append(result.Logs, models.MaintenanceLog{
				TripID: trip.ID,
				Route:  trip.Route,
				Date:   trip.DateLabel(),
				Action: models.ActionWriteConflict,
				Detail: "Chuyến vừa được cập nhật, bỏ qua lần này",
			})
			s.logger.WithField("trip_id", trip.ID).Warn("Trip changed during seat repair, skipped")
			continue
		}
		result.Logs = append(result.Logs, run.Logs...)
		result.FixedCount += run.FixedCount
		result.SyncCount += run.SyncCount
	}

	s.logger.WithFields(logrus.Fields{
		"trips":     len(trips),
		"fixed":     result.FixedCount,
		"synced":    result.SyncCount,
		"conflicts": result.ConflictCount,
	}).Info("Seat repair completed")

	level := NotifySuccess
	if result.ConflictCount > 0 {
		level = NotifyWarning
	}
	s.notifier.Notify(level, "Sửa ghế", fmt.Sprintf("Đã sửa %d ghế, đồng bộ %d ghế, %d chuyến bị bỏ qua",
		result.FixedCount, result.SyncCount, result.ConflictCount))
	s.publish(ctx, "fix_seats", result)
	return result, nil
}

// fixTrip repairs one trip and commits it against the version it read
func (s *MaintenanceService) fixTrip(ctx context.Context, tripID string) (*models.FixSeatsResult, error) {
	w, err := loadWorkset(ctx, s.store, []string{tripID})
	if err != nil {
		return nil, err
	}
	trip := w.trips[tripID]
	run := &models.FixSeatsResult{}
	now := s.now()

	claims := make(map[string][]*models.Booking)
	for _, b := range w.sorted() {
		if !w.live(b) {
			continue
		}
		item, ok := b.ItemForTrip(tripID)
		if !ok {
			continue
		}
		seen := make(map[string]bool, len(item.SeatIDs))
		for _, seatID := range item.SeatIDs {
			if seen[seatID] {
				continue
			}
			seen[seatID] = true
			claims[seatID] = append(claims[seatID], b)
		}
	}

	entry := func(b *models.Booking, seatID string, action models.MaintenanceAction, detail string) models.MaintenanceLog {
		log := models.MaintenanceLog{
			TripID: tripID,
			Route:  trip.Route,
			Date:   trip.DateLabel(),
			SeatID: seatID,
			Action: action,
			Detail: detail,
		}
		if seat, ok := trip.SeatByID(seatID); ok {
			log.SeatLabel = seat.Label
		} else {
			log.SeatLabel = seatID
		}
		if b != nil {
			log.BookingID = b.ID
			log.BookingCode = b.Code()
		}
		return log
	}

	for _, seatID := range sortedKeys(claims) {
		holders := claims[seatID]
		if len(holders) < 2 {
			continue
		}
		winner, reason := s.pickWinner(holders)
		run.Logs = append(run.Logs, entry(winner, seatID, models.ActionDuplicateKept,
			fmt.Sprintf("Ghế bị %d đơn giữ, giữ lại đơn %s (%s)", len(holders), winner.Code(), reason)))

		for _, loser := range holders {
			if loser.ID == winner.ID {
				continue
			}
			takeTicket(loser, tripID, seatID)
			loser.DropEmptyItems()
			run.FixedCount++
			run.Logs = append(run.Logs, entry(loser, seatID, models.ActionDuplicateFreed,
				fmt.Sprintf("Gỡ ghế khỏi đơn %s, ghế thuộc đơn %s", loser.Code(), winner.Code())))

			if loser.TicketCount() > 0 {
				loser.TotalPrice = loser.ExpectedTotal()
				w.track(loser)
				continue
			}
			if err := s.retireEmpty(ctx, w, loser); err != nil {
				return nil, err
			}
			run.Logs = append(run.Logs, entry(loser, seatID, models.ActionBookingCanceled,
				fmt.Sprintf("Đơn %s không còn ghế nào", loser.Code())))
		}
	}

	seats, _ := RecomputeSeats(trip, w.activeBookings())
	for i, seat := range seats {
		cached := trip.Seats[i].Status
		if cached == seat.Status {
			continue
		}
		if cached.IsOccupied() && seat.Status == models.SeatStatusAvailable && len(claims[seat.ID]) == 0 {
			run.FixedCount++
			run.Logs = append(run.Logs, entry(nil, seat.ID, models.ActionGhostReleased,
				fmt.Sprintf("Ghế ma: đang %s nhưng không có đơn nào giữ", cached)))
			continue
		}
		run.SyncCount++
		run.Logs = append(run.Logs, entry(nil, seat.ID, models.ActionStatusSynced,
			fmt.Sprintf("Đồng bộ trạng thái %s → %s", cached, seat.Status)))
	}

	if len(run.Logs) == 0 {
		return run, nil
	}
	if _, err := commitWorkset(ctx, s.store, w, now); err != nil {
		return nil, err
	}
	return run, nil
}

// retireEmpty removes a booking left without seats: deleted outright when no
// money was recorded, cancelled otherwise
func (s *MaintenanceService) retireEmpty(ctx context.Context, w *workset, b *models.Booking) error {
	payments, err := s.store.ListPaymentsByBooking(ctx, b.ID)
	if err != nil {
		return err
	}
	if len(payments) == 0 && b.Payment.IsZero() {
		w.drop(b.ID)
		return nil
	}
	cancelBooking(b, "Trùng ghế")
	for _, p := range payments {
		w.deletePayments = append(w.deletePayments, p.ID)
	}
	w.track(b)
	return nil
}

// pickWinner orders the claimants by the policy and returns the first
func (s *MaintenanceService) pickWinner(holders []*models.Booking) (*models.Booking, string) {
	ranked := append([]*models.Booking(nil), holders...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if s.policy == PreferHigherPayment && a.Payment.Total() != b.Payment.Total() {
			return a.Payment.Total() > b.Payment.Total()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	winner, runnerUp := ranked[0], ranked[1]
	switch {
	case s.policy == PreferHigherPayment && winner.Payment.Total() != runnerUp.Payment.Total():
		return winner, "đã thanh toán nhiều hơn"
	case !winner.CreatedAt.Equal(runnerUp.CreatedAt):
		return winner, "đặt sớm hơn"
	default:
		return winner, "mã đơn nhỏ hơn"
	}
}

// FixPayments reconciles the ledger with the bookings. Orphaned ledger rows
// and rows on holds are deleted, drifted totals are rewritten, and bookings
// whose ledger disagrees with their ticket prices are reported. Each booking
// is written on its own against the version that was read, so a booking a
// cashier saved in the meantime is skipped.
func (s *MaintenanceService) FixPayments(ctx context.Context) (*models.FixPaymentsResult, error) {
	ctx, span := tracer.Start(ctx, "MaintenanceService.FixPayments")
	defer span.End()

	if err := requirePermission(ctx, models.PermissionManageSettings); err != nil {
		return nil, err
	}

	bookings, err := s.store.ListBookings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	payments, err := s.store.ListPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	byID := make(map[string]*models.Booking, len(bookings))
	for i := range bookings {
		byID[bookings[i].ID] = &bookings[i]
	}

	result := &models.FixPaymentsResult{Logs: []models.MaintenanceLog{}}
	paid := make(map[string]float64)
	stale := make(map[string][]models.Payment)
	var orphans []models.Payment

	for _, p := range payments {
		b, ok := byID[p.BookingID]
		switch {
		case !ok:
			orphans = append(orphans, p)
		case !b.IsActive(), b.Status == models.BookingStatusHold:
			stale[b.ID] = append(stale[b.ID], p)
		default:
			paid[p.BookingID] += p.TotalAmount
		}
	}

	// rows of bookings that no longer exist have nothing to race with
	if len(orphans) > 0 {
		cs := &models.ChangeSet{}
		logs := make([]models.MaintenanceLog, 0, len(orphans))
		for _, p := range orphans {
			cs.DeletePaymentIDs = append(cs.DeletePaymentIDs, p.ID)
			logs = append(logs, paymentDeletedLog(nil, p, "Đơn không tồn tại"))
		}
		if err := s.store.Apply(ctx, cs); err != nil {
			return nil, storeError(err, "payment", "")
		}
		result.DeletedCount += len(orphans)
		result.Logs = append(result.Logs, logs...)
	}

	for i := range bookings {
		b := &bookings[i]
		run := repairBookingMoney(b, stale[b.ID])
		if run.changed {
			patch := models.BookingPatch{
				BookingID:         b.ID,
				TotalPrice:        run.totalPrice,
				Payment:           run.payment,
				ExpectedUpdatedAt: b.UpdatedAt,
				UpdatedAt:         s.now(),
			}
			cs := &models.ChangeSet{PatchBookings: []models.BookingPatch{patch}}
			for _, p := range stale[b.ID] {
				cs.DeletePaymentIDs = append(cs.DeletePaymentIDs, p.ID)
			}
			if err := s.store.Apply(ctx, cs); err != nil {
				if !errors.Is(err, database.ErrVersionConflict) {
					return nil, storeError(err, "booking", b.ID)
				}
				result.ConflictCount++
				result.Logs = append(result.Logs, bookingLog(b, models.ActionWriteConflict,
					"Đơn vừa được cập nhật, bỏ qua lần này"))
				s.logger.WithField("booking_id", b.ID).Warn("Booking changed during payment repair, skipped")
				continue
			}
			result.DeletedCount += len(stale[b.ID])
			result.FixedCount += run.fixed
			result.Logs = append(result.Logs, run.logs...)
		}

		if !b.IsActive() || b.Status == models.BookingStatusHold {
			continue
		}
		expected := run.totalPrice
		if sum := paid[b.ID]; !moneyEqual(sum, expected) {
			result.MismatchCount++
			log := bookingLog(b, models.ActionMismatch,
				fmt.Sprintf("chênh lệch: đã thu %s, giá vé %s", formatMoney(sum), formatMoney(expected)))
			log.Delta = expected - sum
			result.Logs = append(result.Logs, log)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"deleted":    result.DeletedCount,
		"fixed":      result.FixedCount,
		"mismatches": result.MismatchCount,
		"conflicts":  result.ConflictCount,
	}).Info("Payment repair completed")

	level := NotifySuccess
	if result.MismatchCount > 0 || result.ConflictCount > 0 {
		level = NotifyWarning
	}
	s.notifier.Notify(level, "Sửa thanh toán", fmt.Sprintf("Xóa %d, sửa %d, %d đơn chênh lệch, %d đơn bị bỏ qua",
		result.DeletedCount, result.FixedCount, result.MismatchCount, result.ConflictCount))
	s.publish(ctx, "fix_payments", result)
	return result, nil
}

// moneyRepair is what the payment job would write for one booking
type moneyRepair struct {
	totalPrice float64
	payment    models.PaymentSplit
	fixed      int
	changed    bool
	logs       []models.MaintenanceLog
}

// repairBookingMoney plans the fixes for one booking: its stale ledger rows go,
// a hold drops its money and the total is recomputed from the ticket prices
func repairBookingMoney(b *models.Booking, stale []models.Payment) moneyRepair {
	run := moneyRepair{totalPrice: b.TotalPrice, payment: b.Payment, changed: len(stale) > 0}
	reason := "Đơn đã hủy"
	if b.IsActive() {
		reason = "Đơn giữ chỗ không được có thanh toán"
	}
	for _, p := range stale {
		run.logs = append(run.logs, paymentDeletedLog(b, p, reason))
	}
	if !b.IsActive() {
		return run
	}

	if b.Status == models.BookingStatusHold && !b.Payment.IsZero() {
		run.fixed++
		run.logs = append(run.logs, bookingLog(b, models.ActionTotalFixed,
			fmt.Sprintf("Xóa số tiền %s trên đơn giữ chỗ", formatMoney(b.Payment.Total()))))
		run.payment = models.PaymentSplit{}
		run.changed = true
	}

	expected := b.ExpectedTotal()
	if !moneyEqual(b.TotalPrice, expected) {
		run.fixed++
		log := bookingLog(b, models.ActionTotalFixed,
			fmt.Sprintf("Tổng tiền %s → %s", formatMoney(b.TotalPrice), formatMoney(expected)))
		log.Delta = expected - b.TotalPrice
		run.logs = append(run.logs, log)
		run.changed = true
	}
	run.totalPrice = expected
	return run
}

func paymentDeletedLog(b *models.Booking, p models.Payment, reason string) models.MaintenanceLog {
	log := bookingLog(b, models.ActionPaymentDeleted, fmt.Sprintf("Xóa thanh toán %s: %s", formatMoney(p.TotalAmount), reason))
	log.BookingID = p.BookingID
	log.BookingCode = models.OrderCode(p.BookingID)
	log.Delta = -p.TotalAmount
	return log
}

// CreateCompensatingPayment records a manual correction on a booking. A
// positive amount collects a shortfall, a negative one refunds an overpayment.
func (s *MaintenanceService) CreateCompensatingPayment(ctx context.Context, bookingID string, req *models.CompensatingPaymentRequest) (*models.Payment, error) {
	ctx, span := tracer.Start(ctx, "MaintenanceService.CreateCompensatingPayment")
	defer span.End()

	if err := requirePermission(ctx, models.PermissionManageSettings); err != nil {
		return nil, err
	}
	if req.Amount == 0 {
		return nil, invalidf("amount must not be zero")
	}

	var split models.PaymentSplit
	switch strings.ToLower(strings.TrimSpace(req.Method)) {
	case "", "cash":
		split.PaidCash = req.Amount
	case "transfer":
		split.PaidTransfer = req.Amount
	default:
		return nil, invalidf("payment method must be cash or transfer")
	}

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeError(err, "booking", bookingID)
	}
	if !booking.IsActive() {
		return nil, invalidf("booking %s is cancelled", booking.Code())
	}
	if booking.Status == models.BookingStatusHold {
		return nil, invalidf("booking %s is on hold and cannot carry money", booking.Code())
	}

	total := booking.Payment.Add(split)
	if total.PaidCash < 0 || total.PaidTransfer < 0 {
		return nil, invalidf("refund exceeds what was collected")
	}

	now := s.now()
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "Điều chỉnh thanh toán"
	}
	payment := models.Payment{
		ID:             uuid.NewString(),
		BookingID:      booking.ID,
		TotalAmount:    split.Total(),
		CashAmount:     split.PaidCash,
		TransferAmount: split.PaidTransfer,
		Type:           models.PaymentTypeAdjustment,
		Note:           note,
		Details:        models.PaymentDetails{Source: "compensation"},
		CreatedAt:      now,
	}
	cs := &models.ChangeSet{
		PatchBookings: []models.BookingPatch{{
			BookingID:         booking.ID,
			TotalPrice:        booking.TotalPrice,
			Payment:           total,
			ExpectedUpdatedAt: booking.UpdatedAt,
			UpdatedAt:         now,
		}},
		InsertPayments: []models.Payment{payment},
	}
	if err := s.store.Apply(ctx, cs); err != nil {
		return nil, storeError(err, "booking", bookingID)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"code":       booking.Code(),
		"amount":     req.Amount,
		"method":     req.Method,
	}).Info("Compensating payment recorded")
	return &payment, nil
}

func (s *MaintenanceService) publish(ctx context.Context, job string, payload interface{}) {
	if s.events == nil {
		return
	}
	body := map[string]interface{}{"job": job, "result": payload}
	if err := s.events.Publish(ctx, events.MaintenanceRun, SessionFrom(ctx).Username(), body); err != nil {
		s.logger.WithError(err).WithField("job", job).Warn("Failed to publish event")
	}
}

func bookingLog(b *models.Booking, action models.MaintenanceAction, detail string) models.MaintenanceLog {
	log := models.MaintenanceLog{Action: action, Detail: detail}
	if b == nil {
		return log
	}
	log.BookingID = b.ID
	log.BookingCode = b.Code()
	if len(b.Items) > 0 {
		log.TripID = b.Items[0].TripID
		log.Route = b.Items[0].Route
		log.Date = b.Items[0].TripDate
	}
	return log
}

func sortedKeys(m map[string][]*models.Booking) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func moneyEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.5
}

func formatMoney(v float64) string {
	return fmt.Sprintf("%.0fđ", v)
}
