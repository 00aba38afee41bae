package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/database"
	"github.com/smarttransit/busticket-backend/internal/models"
)

// GenerateSeats lays out the seats of a bus. Per floor the grid comes first in
// row then column order, then the rear bench, then the aisle floor seats. The
// output depends only on its inputs.
func GenerateSeats(layout models.LayoutConfig, basePrice float64, busType models.BusType) []models.Seat {
	active := make(map[string]bool, len(layout.ActiveSeats))
	for _, key := range layout.ActiveSeats {
		active[key] = true
	}

	seats := make([]models.Seat, 0, len(layout.ActiveSeats))
	sequence := 0

	for floor := 1; floor <= layout.Floors; floor++ {
		for row := 0; row < layout.Rows; row++ {
			for col := 0; col < layout.Cols; col++ {
				key := fmt.Sprintf("%d-%d-%d", floor, row, col)
				if !active[key] {
					continue
				}
				sequence++
				seats = append(seats, models.Seat{
					ID:     key,
					Label:  gridLabel(layout, busType, key, floor, row, col, sequence),
					Floor:  floor,
					Row:    row,
					Col:    col,
					Price:  basePrice,
					Status: models.SeatStatusAvailable,
				})
			}
		}

		if busType != models.BusTypeCabin && containsInt(layout.BenchFloors, floor) {
			count := layout.BenchSeatCount
			if count > models.MaxBenchSeats {
				count = models.MaxBenchSeats
			}
			for i := 0; i < count; i++ {
				key := fmt.Sprintf("%d-bench-%d", floor, i)
				seats = append(seats, models.Seat{
					ID:      key,
					Label:   extraLabel(layout, key, floor, "Băng", i),
					Floor:   floor,
					Row:     layout.Rows,
					Col:     i,
					IsBench: true,
					Price:   basePrice,
					Status:  models.SeatStatusAvailable,
				})
			}
		}

		for _, group := range layout.FloorSeats {
			if group.Floor != floor {
				continue
			}
			for i := 0; i < group.Count; i++ {
				key := fmt.Sprintf("%d-floor-%d", floor, i)
				seats = append(seats, models.Seat{
					ID:          key,
					Label:       extraLabel(layout, key, floor, "Sàn", i),
					Floor:       floor,
					Row:         layout.Rows + 1,
					Col:         i,
					IsFloorSeat: true,
					Price:       basePrice,
					Status:      models.SeatStatusAvailable,
				})
			}
		}
	}

	return seats
}

func gridLabel(layout models.LayoutConfig, busType models.BusType, key string, floor, row, col, sequence int) string {
	if label := layout.SeatLabels[key]; label != "" {
		return label
	}
	switch busType {
	case models.BusTypeCabin:
		number := strconv.Itoa(row*2 + floor)
		switch col {
		case 0:
			return "B" + number
		case 1:
			return "A" + number
		}
	case models.BusTypeSleeper:
		return strconv.Itoa(sequence)
	}
	return key
}

func extraLabel(layout models.LayoutConfig, key string, floor int, name string, index int) string {
	if label := layout.SeatLabels[key]; label != "" {
		return label
	}
	label := fmt.Sprintf("%s %d", name, index+1)
	if floor == 2 {
		label = "T2 " + label
	}
	return label
}

// AppendOrphanSeats adds placeholder seats for occupied ids that match nothing
// in the layout, so a booking on a removed cell stays visible
func AppendOrphanSeats(seats []models.Seat, occupiedIDs []string, price float64) []models.Seat {
	known := make(map[string]bool, len(seats))
	for _, s := range seats {
		known[s.ID] = true
	}

	col := 0
	for _, id := range occupiedIDs {
		if known[id] {
			continue
		}
		known[id] = true
		seats = append(seats, models.Seat{
			ID:     id,
			Label:  id,
			Floor:  floorOfKey(id),
			Row:    models.OrphanRow,
			Col:    col,
			Price:  price,
			Status: models.SeatStatusBooked,
		})
		col++
	}
	return seats
}

func floorOfKey(key string) int {
	head, _, _ := strings.Cut(key, "-")
	if floor, err := strconv.Atoi(head); err == nil && floor >= 1 {
		return floor
	}
	return 1
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// SeatLayoutService manages buses, routes and trips and renders seat maps
type SeatLayoutService struct {
	store  database.Store
	logger *logrus.Logger
}

// NewSeatLayoutService creates a new seat layout service
func NewSeatLayoutService(store database.Store, logger *logrus.Logger) *SeatLayoutService {
	return &SeatLayoutService{store: store, logger: logger}
}

// CreateBus registers a bus with its layout
func (s *SeatLayoutService) CreateBus(ctx context.Context, req *models.CreateBusRequest) (*models.Bus, error) {
	if err := requirePermission(ctx, models.PermissionManageTrips); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	bus := &models.Bus{
		ID:           uuid.NewString(),
		Plate:        strings.ToUpper(strings.TrimSpace(req.Plate)),
		Type:         models.BusType(req.Type),
		LayoutConfig: req.LayoutConfig,
	}
	if err := s.store.CreateBus(ctx, bus); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"bus_id": bus.ID,
		"plate":  bus.Plate,
		"seats":  len(GenerateSeats(bus.LayoutConfig, 0, bus.Type)),
	}).Info("Bus registered")
	return bus, nil
}

// ListBuses returns all buses
func (s *SeatLayoutService) ListBuses(ctx context.Context) ([]models.Bus, error) {
	return s.store.ListBuses(ctx)
}

// CreateRoute registers a route
func (s *SeatLayoutService) CreateRoute(ctx context.Context, req *models.CreateRouteRequest) (*models.Route, error) {
	if err := requirePermission(ctx, models.PermissionManageTrips); err != nil {
		return nil, err
	}
	route := &models.Route{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Origin:      strings.TrimSpace(req.Origin),
		Destination: strings.TrimSpace(req.Destination),
		Price:       req.Price,
	}
	if route.Name == "" {
		return nil, invalidf("route name is required")
	}
	if err := s.store.CreateRoute(ctx, route); err != nil {
		return nil, err
	}
	return route, nil
}

// ListRoutes returns all routes
func (s *SeatLayoutService) ListRoutes(ctx context.Context) ([]models.Route, error) {
	return s.store.ListRoutes(ctx)
}

// CreateTrip schedules a departure and snapshots the generated seats
func (s *SeatLayoutService) CreateTrip(ctx context.Context, req *models.CreateTripRequest) (*models.Trip, error) {
	if err := requirePermission(ctx, models.PermissionManageTrips); err != nil {
		return nil, err
	}

	bus, err := s.store.GetBus(ctx, req.BusID)
	if err != nil {
		return nil, storeError(err, "bus", req.BusID)
	}

	price := req.BasePrice
	if price == 0 {
		price = s.routePrice(ctx, req.Route)
	}

	trip := &models.Trip{
		ID:            uuid.NewString(),
		Route:         strings.TrimSpace(req.Route),
		DepartureTime: req.DepartureTime,
		LicensePlate:  bus.Plate,
		BusID:         bus.ID,
		Type:          bus.Type,
		Seats:         GenerateSeats(bus.LayoutConfig, price, bus.Type),
	}
	if len(trip.Seats) == 0 {
		return nil, invalidf("bus %s has no seats", bus.Plate)
	}
	if err := s.store.CreateTrip(ctx, trip); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"trip_id":   trip.ID,
		"route":     trip.Route,
		"departure": trip.DateLabel(),
		"seats":     len(trip.Seats),
	}).Info("Trip scheduled")
	return trip, nil
}

func (s *SeatLayoutService) routePrice(ctx context.Context, name string) float64 {
	routes, err := s.store.ListRoutes(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to load routes for trip price")
		return 0
	}
	for _, r := range routes {
		if r.Name == name {
			return r.Price
		}
	}
	return 0
}

// ListTrips returns trips departing in [from, to)
func (s *SeatLayoutService) ListTrips(ctx context.Context, from, to time.Time, route string) ([]models.Trip, error) {
	return s.store.ListTrips(ctx, database.TripFilter{From: from, To: to, Route: route})
}

// GetSeatMap regenerates the trip's seats from its bus layout and annotates
// each with the status derived from the live bookings
func (s *SeatLayoutService) GetSeatMap(ctx context.Context, tripID string, edit *EditContext) (*models.SeatMap, error) {
	ctx, span := tracer.Start(ctx, "SeatLayoutService.GetSeatMap")
	defer span.End()

	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, storeError(err, "trip", tripID)
	}
	bookings, err := s.store.ListActiveBookingsForTrips(ctx, []string{tripID})
	if err != nil {
		return nil, err
	}

	seats := s.currentSeats(ctx, trip)

	var occupied []string
	for _, b := range bookings {
		if item, ok := b.ItemForTrip(tripID); ok {
			occupied = append(occupied, item.SeatIDs...)
		}
	}
	seats = AppendOrphanSeats(seats, occupied, defaultPrice(trip))

	return buildSeatMap(*trip, seats, bookings, edit), nil
}

// currentSeats regenerates seats from the bus layout, keeping the prices
// snapshotted on the trip. Falls back to the stored seats when the bus is gone.
func (s *SeatLayoutService) currentSeats(ctx context.Context, trip *models.Trip) []models.Seat {
	bus, err := s.store.GetBus(ctx, trip.BusID)
	if err != nil {
		s.logger.WithError(err).WithField("trip_id", trip.ID).Warn("Bus layout unavailable, using stored seats")
		return append([]models.Seat(nil), trip.Seats...)
	}

	seats := GenerateSeats(bus.LayoutConfig, defaultPrice(trip), bus.Type)
	for i := range seats {
		if stored, ok := trip.SeatByID(seats[i].ID); ok {
			seats[i].Price = stored.Price
		}
	}
	return seats
}

func defaultPrice(trip *models.Trip) float64 {
	if len(trip.Seats) > 0 {
		return trip.Seats[0].Price
	}
	return 0
}

func buildSeatMap(trip models.Trip, seats []models.Seat, bookings []models.Booking, edit *EditContext) *models.SeatMap {
	views := make([]models.SeatView, 0, len(seats))
	for _, seat := range seats {
		display, holder := resolveSeat(seat.ID, trip.ID, bookings, edit)
		view := models.SeatView{Seat: seat, Display: display}
		view.Status = StatusForCache(display)
		if holder != nil {
			view.BookingID = holder.ID
			view.BookingCode = holder.Code()
			view.PassengerName = holder.Passenger.Name
			view.Phone = holder.Passenger.Phone
			if item, ok := holder.ItemForTrip(trip.ID); ok {
				if t, ok := item.Ticket(seat.ID); ok {
					if t.Name != "" {
						view.PassengerName = t.Name
					}
					if t.Phone != "" {
						view.Phone = t.Phone
					}
				}
			}
		}
		views = append(views, view)
	}
	trip.Seats = seats
	return &models.SeatMap{Trip: trip, Seats: views, Summary: Summarize(trip.ID, views)}
}
