package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smarttransit/busticket-backend/internal/database"
	"github.com/smarttransit/busticket-backend/internal/models"
)

// ServerSnapshot is the trips and live bookings as last fetched from the store.
// It is only ever replaced as a whole.
type ServerSnapshot struct {
	Trips     []models.Trip    `json:"trips"`
	Bookings  []models.Booking `json:"bookings"`
	FetchedAt time.Time        `json:"fetchedAt"`
}

// LoadSnapshot reads the given trips and every live booking on them
func LoadSnapshot(ctx context.Context, store database.Store, tripIDs []string) (*ServerSnapshot, error) {
	ids := uniqueStrings(tripIDs)
	trips, err := store.GetTrips(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(trips) != len(ids) {
		found := make(map[string]bool, len(trips))
		for _, t := range trips {
			found[t.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return nil, &NotFoundError{Resource: "trip", ID: id}
			}
		}
	}
	bookings, err := store.ListActiveBookingsForTrips(ctx, ids)
	if err != nil {
		return nil, err
	}
	return &ServerSnapshot{Trips: trips, Bookings: bookings, FetchedAt: time.Now()}, nil
}

func (s *ServerSnapshot) trip(id string) (*models.Trip, bool) {
	for i := range s.Trips {
		if s.Trips[i].ID == id {
			return &s.Trips[i], true
		}
	}
	return nil, false
}

func (s *ServerSnapshot) booking(id string) (*models.Booking, bool) {
	for i := range s.Bookings {
		if s.Bookings[i].ID == id {
			return &s.Bookings[i], true
		}
	}
	return nil, false
}

func (s *ServerSnapshot) holder(tripID, seatID string) *models.Booking {
	holder, _ := findHolder(seatID, tripID, s.Bookings)
	return holder
}

// TripIDs returns the ids of the snapshot's trips
func (s *ServerSnapshot) TripIDs() []string {
	ids := make([]string, 0, len(s.Trips))
	for _, t := range s.Trips {
		ids = append(ids, t.ID)
	}
	return ids
}

type seatKey struct {
	tripID string
	seatID string
}

// EditBuffer is a cashier's unsaved work on top of a ServerSnapshot: seats
// picked for a new booking, the booking open for editing and the seats toggled
// off it, and staged transfers. It is diffed against the snapshot only when a
// request is built.
type EditBuffer struct {
	mu         sync.Mutex
	snapshot   *ServerSnapshot
	selected   []seatKey
	editingID  string
	deselected []seatKey
	moves      []models.SeatMove
}

// NewEditBuffer creates an empty buffer
func NewEditBuffer() *EditBuffer {
	return &EditBuffer{}
}

// Refresh replaces the snapshot. Picked seats that someone else took in the
// meantime are dropped, and editing stops if the booking is no longer live.
func (e *EditBuffer) Refresh(snapshot *ServerSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot = snapshot

	selected := e.selected[:0]
	for _, k := range e.selected {
		if _, ok := snapshot.trip(k.tripID); ok && snapshot.holder(k.tripID, k.seatID) == nil {
			selected = append(selected, k)
		}
	}
	e.selected = selected

	if e.editingID != "" {
		if _, ok := snapshot.booking(e.editingID); !ok {
			e.editingID = ""
			e.deselected = nil
		}
	}

	moves := e.moves[:0]
	for _, m := range e.moves {
		if snapshot.holder(m.SourceTripID, m.SourceSeatID) != nil {
			moves = append(moves, m)
		}
	}
	e.moves = moves
}

// Snapshot returns the current snapshot
func (e *EditBuffer) Snapshot() *ServerSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// EditingBookingID returns the booking open for editing, if any
func (e *EditBuffer) EditingBookingID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.editingID
}

// StartEditing opens a booking from the snapshot for editing
func (e *EditBuffer) StartEditing(bookingID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot == nil {
		return invalidf("load the trips before editing")
	}
	if _, ok := e.snapshot.booking(bookingID); !ok {
		return &NotFoundError{Resource: "booking", ID: bookingID}
	}
	e.editingID = bookingID
	e.selected = nil
	e.deselected = nil
	return nil
}

// StopEditing closes the booking and forgets picked seats
func (e *EditBuffer) StopEditing() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.editingID = ""
	e.selected = nil
	e.deselected = nil
}

// ToggleSeat picks or unpicks a seat. A seat of the booking under edit is
// toggled off and back on instead.
func (e *EditBuffer) ToggleSeat(tripID, seatID string) (models.SeatDisplayStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot == nil {
		return "", invalidf("load the trips before picking seats")
	}
	trip, ok := e.snapshot.trip(tripID)
	if !ok {
		return "", &NotFoundError{Resource: "trip", ID: tripID}
	}
	seat, ok := trip.SeatByID(seatID)
	if !ok {
		return "", invalidf("seat %s does not exist on trip %s", seatID, trip.Route)
	}

	key := seatKey{tripID: tripID, seatID: seatID}
	if holder := e.snapshot.holder(tripID, seatID); holder != nil {
		if holder.ID != e.editingID {
			return "", seatTaken(trip, seat, holder)
		}
		var removed bool
		e.deselected, removed = toggleKey(e.deselected, key)
		if removed {
			return e.resolveLocked(tripID, seatID), nil
		}
		return models.DisplayGhost, nil
	}

	var removed bool
	e.selected, removed = toggleKey(e.selected, key)
	if removed {
		return models.DisplayAvailable, nil
	}
	return models.DisplaySelected, nil
}

// StageMove records a transfer to send later. The target must be free or
// vacated by another staged move.
func (e *EditBuffer) StageMove(move models.SeatMove) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot == nil {
		return invalidf("load the trips before moving seats")
	}
	if move.SourceTripID == move.TargetTripID && move.SourceSeatID == move.TargetSeatID {
		return invalidf("seat %s is moved onto itself", move.SourceSeatID)
	}
	if e.snapshot.holder(move.SourceTripID, move.SourceSeatID) == nil {
		return invalidf("seat %s has no passenger to move", move.SourceSeatID)
	}
	target, ok := e.snapshot.trip(move.TargetTripID)
	if !ok {
		return &NotFoundError{Resource: "trip", ID: move.TargetTripID}
	}
	seat, ok := target.SeatByID(move.TargetSeatID)
	if !ok {
		return invalidf("seat %s does not exist on trip %s", move.TargetSeatID, target.Route)
	}

	for _, m := range e.moves {
		if m.SourceTripID == move.SourceTripID && m.SourceSeatID == move.SourceSeatID {
			return invalidf("seat %s is already being moved", move.SourceSeatID)
		}
		if m.TargetTripID == move.TargetTripID && m.TargetSeatID == move.TargetSeatID {
			return invalidf("seat %s is already a target", move.TargetSeatID)
		}
	}
	if holder := e.snapshot.holder(move.TargetTripID, move.TargetSeatID); holder != nil && !e.vacatedLocked(move.TargetTripID, move.TargetSeatID) {
		return seatTaken(target, seat, holder)
	}

	e.moves = append(e.moves, move)
	return nil
}

// UnstageMove drops the staged move of a source seat
func (e *EditBuffer) UnstageMove(tripID, seatID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	moves := e.moves[:0]
	for _, m := range e.moves {
		if m.SourceTripID != tripID || m.SourceSeatID != seatID {
			moves = append(moves, m)
		}
	}
	e.moves = moves
}

// Moves returns the staged moves
func (e *EditBuffer) Moves() []models.SeatMove {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.SeatMove(nil), e.moves...)
}

// ClearMoves drops every staged move
func (e *EditBuffer) ClearMoves() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.moves = nil
}

// EditContext returns the buffer's state for one trip, for the seat resolver
func (e *EditBuffer) EditContext(tripID string) *EditContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.editContextLocked(tripID)
}

// ResolveSeat returns what a seat looks like from this buffer
func (e *EditBuffer) ResolveSeat(tripID, seatID string) models.SeatDisplayStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolveLocked(tripID, seatID)
}

// CreateRequest builds a create call from the picked seats
func (e *EditBuffer) CreateRequest(passenger models.Passenger, payment models.PaymentSplit, status models.BookingStatus) (*models.CreateBookingRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.editingID != "" {
		return nil, invalidf("a booking is open for editing")
	}
	if len(e.selected) == 0 {
		return nil, invalidf("select at least one seat")
	}
	return &models.CreateBookingRequest{
		Items:     groupKeys(e.selected),
		Passenger: passenger,
		Payment:   payment,
		Status:    status,
	}, nil
}

// UpdateRequest builds an update call for the booking under edit: its seats on
// the loaded trips, minus the ones toggled off, plus the picked ones
func (e *EditBuffer) UpdateRequest(passenger models.Passenger, payment models.PaymentSplit, status models.BookingStatus) (string, *models.UpdateBookingRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.editingID == "" {
		return "", nil, invalidf("no booking is open for editing")
	}
	booking, ok := e.snapshot.booking(e.editingID)
	if !ok {
		return "", nil, &NotFoundError{Resource: "booking", ID: e.editingID}
	}

	var keys []seatKey
	loaded := e.snapshot.TripIDs()
	for _, item := range booking.Items {
		if !containsString(loaded, item.TripID) {
			continue
		}
		for _, seatID := range item.SeatIDs {
			k := seatKey{tripID: item.TripID, seatID: seatID}
			if !hasKey(e.deselected, k) {
				keys = append(keys, k)
			}
		}
	}
	keys = append(keys, e.selected...)

	items := groupKeys(keys)
	for i := range items {
		if item, ok := booking.ItemForTrip(items[i].TripID); ok {
			for _, seatID := range items[i].SeatIDs {
				if t, ok := item.Ticket(seatID); ok {
					items[i].Tickets = append(items[i].Tickets, models.TicketRequest{
						SeatID:   t.SeatID,
						Pickup:   t.Pickup,
						Dropoff:  t.Dropoff,
						Name:     t.Name,
						Phone:    t.Phone,
						Note:     t.Note,
						ExactBed: t.ExactBed,
					})
				}
			}
		}
	}

	return booking.ID, &models.UpdateBookingRequest{
		Items:         items,
		Passenger:     passenger,
		Payment:       payment,
		Status:        status,
		LoadedTripIDs: loaded,
	}, nil
}

// TransferRequest builds a bulk transfer from the staged moves
func (e *EditBuffer) TransferRequest() (*models.BulkTransferRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.moves) == 0 {
		return nil, invalidf("no seats to transfer")
	}
	return &models.BulkTransferRequest{Moves: append([]models.SeatMove(nil), e.moves...)}, nil
}

// View summarizes the buffer for a client
func (e *EditBuffer) View() *BufferView {
	e.mu.Lock()
	defer e.mu.Unlock()
	view := &BufferView{
		EditingBookingID: e.editingID,
		Selected:         groupKeys(e.selected),
		Deselected:       groupKeys(e.deselected),
		Moves:            append([]models.SeatMove{}, e.moves...),
	}
	if e.snapshot != nil {
		view.FetchedAt = e.snapshot.FetchedAt
		view.TripIDs = e.snapshot.TripIDs()
	}
	return view
}

// BufferView is the JSON form of an EditBuffer
type BufferView struct {
	TripIDs          []string                    `json:"tripIds"`
	FetchedAt        time.Time                   `json:"fetchedAt"`
	EditingBookingID string                      `json:"editingBookingId,omitempty"`
	Selected         []models.BookingItemRequest `json:"selected"`
	Deselected       []models.BookingItemRequest `json:"deselected"`
	Moves            []models.SeatMove           `json:"moves"`
}

func (e *EditBuffer) editContextLocked(tripID string) *EditContext {
	ctx := &EditContext{EditingBookingID: e.editingID}
	for _, k := range e.selected {
		if k.tripID == tripID {
			ctx.Selected = append(ctx.Selected, k.seatID)
		}
	}
	for _, k := range e.deselected {
		if k.tripID == tripID {
			ctx.Deselected = append(ctx.Deselected, k.seatID)
		}
	}
	return ctx
}

func (e *EditBuffer) resolveLocked(tripID, seatID string) models.SeatDisplayStatus {
	if e.snapshot == nil {
		return models.DisplayAvailable
	}
	return ResolveSeatStatus(seatID, tripID, e.snapshot.Bookings, e.editContextLocked(tripID))
}

func (e *EditBuffer) vacatedLocked(tripID, seatID string) bool {
	for _, m := range e.moves {
		if m.SourceTripID == tripID && m.SourceSeatID == seatID {
			return true
		}
	}
	return false
}

func toggleKey(keys []seatKey, k seatKey) ([]seatKey, bool) {
	for i, existing := range keys {
		if existing == k {
			return append(keys[:i], keys[i+1:]...), true
		}
	}
	return append(keys, k), false
}

func hasKey(keys []seatKey, k seatKey) bool {
	for _, existing := range keys {
		if existing == k {
			return true
		}
	}
	return false
}

// groupKeys turns seat keys into items, trips in first-seen order
func groupKeys(keys []seatKey) []models.BookingItemRequest {
	index := make(map[string]int)
	items := []models.BookingItemRequest{}
	for _, k := range keys {
		i, ok := index[k.tripID]
		if !ok {
			i = len(items)
			index[k.tripID] = i
			items = append(items, models.BookingItemRequest{TripID: k.tripID})
		}
		if !containsString(items[i].SeatIDs, k.seatID) {
			items[i].SeatIDs = append(items[i].SeatIDs, k.seatID)
		}
	}
	for i := range items {
		sort.Strings(items[i].SeatIDs)
	}
	return items
}
