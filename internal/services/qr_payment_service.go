package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/pkg/qrpay"
)

// QRPaymentService opens bank-transfer QR sessions and watches them until the
// transfer lands, then marks the paid seats through UpdateTicket
type QRPaymentService struct {
	gateway       qrpay.Gateway
	bookings      *BookingService
	notifier      Notifier
	logger        *logrus.Logger
	interval      time.Duration
	bankCode      string
	accountNumber string

	mu      sync.Mutex
	watches map[string]*qrWatch
}

type qrWatch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// QRPaymentConfig holds the receiving account and the polling interval
type QRPaymentConfig struct {
	Interval      time.Duration
	BankCode      string
	AccountNumber string
}

// NewQRPaymentService creates a new QR payment service
func NewQRPaymentService(
	gateway qrpay.Gateway,
	bookings *BookingService,
	notifier Notifier,
	cfg QRPaymentConfig,
	logger *logrus.Logger,
) *QRPaymentService {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &QRPaymentService{
		gateway:       gateway,
		bookings:      bookings,
		notifier:      notifier,
		logger:        logger,
		interval:      cfg.Interval,
		bankCode:      cfg.BankCode,
		accountNumber: cfg.AccountNumber,
		watches:       make(map[string]*qrWatch),
	}
}

// Start opens a QR session for some seats of a booking and starts watching
// it. Starting again for the same booking replaces the previous session.
func (s *QRPaymentService) Start(ctx context.Context, bookingID string, req *models.QRPaymentRequest) (*qrpay.Session, error) {
	ctx, span := tracer.Start(ctx, "QRPaymentService.Start")
	defer span.End()

	if err := requirePermission(ctx, models.PermissionBookTicket); err != nil {
		return nil, err
	}
	if len(req.Lines) == 0 {
		return nil, invalidf("select at least one seat to pay")
	}

	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.IsActive() {
		return nil, invalidf("booking %s is cancelled", booking.Code())
	}

	payload := qrpay.Payload{
		BookingID:     booking.ID,
		BankCode:      s.bankCode,
		AccountNumber: s.accountNumber,
	}
	for _, line := range req.Lines {
		if !booking.HoldsSeat(line.TripID, line.SeatID) {
			return nil, invalidf("seat %s is not part of booking %s", line.SeatID, booking.Code())
		}
		if line.Amount <= 0 {
			return nil, invalidf("amount for seat %s must be positive", line.SeatID)
		}
		payload.Amount += line.Amount
		payload.Lines = append(payload.Lines, qrpay.Line{TripID: line.TripID, SeatID: line.SeatID, Amount: line.Amount})
	}

	session, err := s.gateway.Create(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create qr session: %w", err)
	}
	s.watch(booking.ID, SessionFrom(ctx))

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"amount":     session.Amount,
		"seats":      len(session.Lines),
	}).Info("QR payment started")
	return session, nil
}

// Status returns the stored session
func (s *QRPaymentService) Status(ctx context.Context, bookingID string) (*qrpay.Session, error) {
	if err := requirePermission(ctx, models.PermissionViewSales); err != nil {
		return nil, err
	}
	session, err := s.gateway.Get(ctx, bookingID)
	if err != nil {
		return nil, qrError(err, bookingID)
	}
	return session, nil
}

// Cancel stops watching and deletes the session
func (s *QRPaymentService) Cancel(ctx context.Context, bookingID string) error {
	if err := requirePermission(ctx, models.PermissionBookTicket); err != nil {
		return err
	}
	s.stopWatch(bookingID)
	if err := s.gateway.Delete(ctx, bookingID); err != nil {
		return fmt.Errorf("failed to delete qr session: %w", err)
	}
	return nil
}

// SimulateSuccess marks the session paid as if the bank had confirmed it
func (s *QRPaymentService) SimulateSuccess(ctx context.Context, bookingID string) (*qrpay.Session, error) {
	if err := requirePermission(ctx, models.PermissionManageSettings); err != nil {
		return nil, err
	}
	session, err := s.gateway.SimulateSuccess(ctx, bookingID)
	if err != nil {
		return nil, qrError(err, bookingID)
	}
	return session, nil
}

// Watching reports whether a watch is running for the booking
func (s *QRPaymentService) Watching(bookingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watches[bookingID]
	return ok
}

// Stop cancels every watch and waits for them to exit
func (s *QRPaymentService) Stop() {
	s.mu.Lock()
	watches := make([]*qrWatch, 0, len(s.watches))
	for id, w := range s.watches {
		w.cancel()
		watches = append(watches, w)
		delete(s.watches, id)
	}
	s.mu.Unlock()

	for _, w := range watches {
		<-w.done
	}
}

func (s *QRPaymentService) watch(bookingID string, session AuthSession) {
	ctx, cancel := context.WithCancel(WithSession(context.Background(), session))
	w := &qrWatch{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if old, ok := s.watches[bookingID]; ok {
		old.cancel()
	}
	s.watches[bookingID] = w
	s.mu.Unlock()

	go s.poll(ctx, bookingID, w)
}

func (s *QRPaymentService) stopWatch(bookingID string) {
	s.mu.Lock()
	w, ok := s.watches[bookingID]
	delete(s.watches, bookingID)
	s.mu.Unlock()
	if ok {
		w.cancel()
	}
}

func (s *QRPaymentService) forget(bookingID string, w *qrWatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watches[bookingID] == w {
		delete(s.watches, bookingID)
	}
}

func (s *QRPaymentService) poll(ctx context.Context, bookingID string, w *qrWatch) {
	defer close(w.done)
	defer s.forget(bookingID, w)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger := s.logger.WithField("booking_id", bookingID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		session, err := s.gateway.Get(ctx, bookingID)
		if errors.Is(err, qrpay.ErrSessionNotFound) {
			logger.Debug("QR session gone, watch stopped")
			return
		}
		if err != nil {
			logger.WithError(err).Warn("Failed to poll QR session")
			continue
		}
		if session.Status != qrpay.StatusSuccess {
			continue
		}

		if err := s.settle(ctx, session); err != nil {
			logger.WithError(err).Error("QR payment received but seats could not be marked paid")
			s.notifier.Notify(NotifyError, "Thanh toán QR",
				fmt.Sprintf("Đã nhận %s cho đơn %s nhưng chưa cập nhật được vé: %v",
					formatMoney(session.Amount), models.OrderCode(bookingID), err))
			return
		}
		logger.WithField("amount", session.Amount).Info("QR payment settled")
		s.notifier.Notify(NotifySuccess, "Thanh toán QR",
			fmt.Sprintf("Đơn %s đã thanh toán %s", models.OrderCode(bookingID), formatMoney(session.Amount)))
		return
	}
}

// settle pays every line of the session and removes it. A line lost to a
// concurrent writer is retried on fresh state.
func (s *QRPaymentService) settle(ctx context.Context, session *qrpay.Session) error {
	for _, line := range session.Lines {
		req := &models.UpdateTicketRequest{
			TripID:  line.TripID,
			Action:  models.TicketActionPay,
			Payment: &models.PaymentSplit{PaidTransfer: line.Amount},
		}
		var err error
		for attempt := 0; attempt < 3; attempt++ {
			_, err = s.bookings.UpdateTicket(ctx, session.BookingID, line.SeatID, req)
			var conflict *ConflictError
			if !errors.As(err, &conflict) {
				break
			}
		}
		if err != nil {
			return fmt.Errorf("seat %s: %w", line.SeatID, err)
		}
	}
	return s.gateway.Delete(ctx, session.BookingID)
}

func qrError(err error, bookingID string) error {
	if errors.Is(err, qrpay.ErrSessionNotFound) {
		return &NotFoundError{Resource: "qr payment", ID: bookingID}
	}
	return err
}
