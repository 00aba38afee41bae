package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/pkg/events"
)

// UndoKind names a reversible action
type UndoKind string

const (
	UndoCreatedBooking UndoKind = "CREATED_BOOKING"
	UndoSwappedSeats   UndoKind = "SWAPPED_SEATS"
)

// UndoAction is one entry on a user's undo stack
type UndoAction struct {
	Kind      UndoKind                 `json:"kind"`
	BookingID string                   `json:"bookingId,omitempty"`
	Swap      *models.SwapSeatsRequest `json:"swap,omitempty"`
	CreatedAt time.Time                `json:"createdAt"`
}

// UndoResult reports what an undo reverted
type UndoResult struct {
	Action UndoAction            `json:"action"`
	Result *models.BookingResult `json:"result"`
}

// UndoStack keeps a bounded stack of actions per user. The oldest entry is
// dropped once the depth is reached.
type UndoStack struct {
	mu     sync.Mutex
	depth  int
	stacks map[string][]UndoAction
}

// NewUndoStack creates a stack holding at most depth actions per user
func NewUndoStack(depth int) *UndoStack {
	if depth <= 0 {
		depth = 1
	}
	return &UndoStack{depth: depth, stacks: make(map[string][]UndoAction)}
}

// Push records an action for userID
func (u *UndoStack) Push(userID string, action UndoAction) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}
	stack := append(u.stacks[userID], action)
	if len(stack) > u.depth {
		stack = stack[len(stack)-u.depth:]
	}
	u.stacks[userID] = stack
}

// Pop removes and returns the most recent action for userID
func (u *UndoStack) Pop(userID string) (UndoAction, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	stack := u.stacks[userID]
	if len(stack) == 0 {
		return UndoAction{}, false
	}
	action := stack[len(stack)-1]
	u.stacks[userID] = stack[:len(stack)-1]
	return action, true
}

// Peek returns the most recent action without removing it
func (u *UndoStack) Peek(userID string) (UndoAction, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	stack := u.stacks[userID]
	if len(stack) == 0 {
		return UndoAction{}, false
	}
	return stack[len(stack)-1], true
}

// Len returns the number of actions recorded for userID
func (u *UndoStack) Len(userID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.stacks[userID])
}

// Undo reverts the caller's most recent reversible action. It is a best-effort
// compensation: if the seats were touched since, the result reflects the
// current state rather than the state before the action.
func (s *BookingService) Undo(ctx context.Context) (*UndoResult, error) {
	ctx, span := tracer.Start(ctx, "BookingService.Undo")
	defer span.End()

	if err := requirePermission(ctx, models.PermissionBookTicket); err != nil {
		return nil, err
	}

	userID := SessionFrom(ctx).UserID()
	action, ok := s.undo.Pop(userID)
	if !ok {
		return nil, invalidf("nothing to undo")
	}

	var (
		result *models.BookingResult
		err    error
	)
	switch action.Kind {
	case UndoCreatedBooking:
		result, err = s.undoCreate(ctx, action.BookingID)
	case UndoSwappedSeats:
		if action.Swap == nil {
			return nil, invalidf("undo entry has no swap")
		}
		result, err = s.swap(ctx, action.Swap, false)
	default:
		return nil, invalidf("unknown undo action %s", action.Kind)
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"kind":    action.Kind,
	}).Info("Action undone")
	return &UndoResult{Action: action, Result: result}, nil
}

// undoCreate hard deletes a booking and its ledger rows
func (s *BookingService) undoCreate(ctx context.Context, bookingID string) (*models.BookingResult, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeError(err, "booking", bookingID)
	}
	payments, err := s.store.ListPaymentsByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	w, err := loadWorkset(ctx, s.store, booking.TripIDs())
	if err != nil {
		return nil, err
	}
	w.adopt(booking)
	w.drop(booking.ID)
	for _, p := range payments {
		w.deletePayments = append(w.deletePayments, p.ID)
	}

	trips, err := commitWorkset(ctx, s.store, w, s.now())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.BookingDeleted, booking)
	return &models.BookingResult{Bookings: w.activeBookings(), UpdatedTrips: trips}, nil
}
