package services

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/database"
	"github.com/smarttransit/busticket-backend/internal/models"
)

// SalesDeskService keeps one EditBuffer per signed-in cashier and turns it
// into booking calls on confirm
type SalesDeskService struct {
	store    database.Store
	bookings *BookingService
	logger   *logrus.Logger

	mu      sync.Mutex
	buffers map[string]*EditBuffer
}

// NewSalesDeskService creates a new sales desk service
func NewSalesDeskService(store database.Store, bookings *BookingService, logger *logrus.Logger) *SalesDeskService {
	return &SalesDeskService{
		store:    store,
		bookings: bookings,
		logger:   logger,
		buffers:  make(map[string]*EditBuffer),
	}
}

// Buffer returns the caller's buffer, creating it on first use
func (s *SalesDeskService) Buffer(ctx context.Context) *EditBuffer {
	userID := SessionFrom(ctx).UserID()
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[userID]
	if !ok {
		buf = NewEditBuffer()
		s.buffers[userID] = buf
	}
	return buf
}

// Refresh reloads the given trips into the caller's buffer. With no trip ids
// the trips already loaded are reloaded.
func (s *SalesDeskService) Refresh(ctx context.Context, tripIDs []string) (*ServerSnapshot, error) {
	ctx, span := tracer.Start(ctx, "SalesDeskService.Refresh")
	defer span.End()

	if err := requirePermission(ctx, models.PermissionViewSales); err != nil {
		return nil, err
	}
	buf := s.Buffer(ctx)
	if len(tripIDs) == 0 {
		if snap := buf.Snapshot(); snap != nil {
			tripIDs = snap.TripIDs()
		}
	}
	if len(tripIDs) == 0 {
		return nil, invalidf("select at least one trip")
	}

	snapshot, err := LoadSnapshot(ctx, s.store, tripIDs)
	if err != nil {
		return nil, err
	}
	buf.Refresh(snapshot)
	return snapshot, nil
}

// Confirm saves the caller's picked seats: an update when a booking is open
// for editing, a new booking otherwise. The buffer is cleared and reloaded on
// success.
func (s *SalesDeskService) Confirm(ctx context.Context, passenger models.Passenger, payment models.PaymentSplit, status models.BookingStatus) (*models.BookingResult, error) {
	ctx, span := tracer.Start(ctx, "SalesDeskService.Confirm")
	defer span.End()

	buf := s.Buffer(ctx)
	var (
		result *models.BookingResult
		err    error
	)
	if buf.EditingBookingID() != "" {
		id, req, buildErr := buf.UpdateRequest(passenger, payment, status)
		if buildErr != nil {
			return nil, buildErr
		}
		result, err = s.bookings.UpdateBooking(ctx, id, req)
	} else {
		req, buildErr := buf.CreateRequest(passenger, payment, status)
		if buildErr != nil {
			return nil, buildErr
		}
		result, err = s.bookings.CreateBooking(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	buf.StopEditing()
	s.reload(ctx, buf)
	return result, nil
}

// ConfirmTransfers sends the caller's staged moves as one bulk transfer
func (s *SalesDeskService) ConfirmTransfers(ctx context.Context) (*models.BookingResult, error) {
	ctx, span := tracer.Start(ctx, "SalesDeskService.ConfirmTransfers")
	defer span.End()

	buf := s.Buffer(ctx)
	req, err := buf.TransferRequest()
	if err != nil {
		return nil, err
	}
	result, err := s.bookings.BulkTransfer(ctx, req)
	if err != nil {
		return nil, err
	}
	buf.ClearMoves()
	s.reload(ctx, buf)
	return result, nil
}

// Discard forgets the caller's buffer
func (s *SalesDeskService) Discard(ctx context.Context) {
	userID := SessionFrom(ctx).UserID()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, userID)
}

func (s *SalesDeskService) reload(ctx context.Context, buf *EditBuffer) {
	snap := buf.Snapshot()
	if snap == nil {
		return
	}
	fresh, err := LoadSnapshot(ctx, s.store, snap.TripIDs())
	if err != nil {
		s.logger.WithError(err).Warn("Failed to reload trips after save")
		return
	}
	buf.Refresh(fresh)
}
