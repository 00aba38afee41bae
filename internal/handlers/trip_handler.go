package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/internal/services"
)

// TripHandler handles buses, routes, trips and seat maps
type TripHandler struct {
	layout *services.SeatLayoutService
	desk   *services.SalesDeskService
	logger *logrus.Logger
}

// NewTripHandler creates a new TripHandler
func NewTripHandler(layout *services.SeatLayoutService, desk *services.SalesDeskService, logger *logrus.Logger) *TripHandler {
	return &TripHandler{layout: layout, desk: desk, logger: logger}
}

// ListBuses handles GET /api/v1/buses
func (h *TripHandler) ListBuses(c *gin.Context) {
	buses, err := h.layout.ListBuses(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"buses": buses})
}

// CreateBus handles POST /api/v1/buses
func (h *TripHandler) CreateBus(c *gin.Context) {
	var req models.CreateBusRequest
	if !bindJSON(c, &req) {
		return
	}
	bus, err := h.layout.CreateBus(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, bus)
}

// ListRoutes handles GET /api/v1/routes
func (h *TripHandler) ListRoutes(c *gin.Context) {
	routes, err := h.layout.ListRoutes(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"routes": routes})
}

// CreateRoute handles POST /api/v1/routes
func (h *TripHandler) CreateRoute(c *gin.Context) {
	var req models.CreateRouteRequest
	if !bindJSON(c, &req) {
		return
	}
	route, err := h.layout.CreateRoute(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, route)
}

// ListTrips handles GET /api/v1/trips?date=2006-01-02&days=1&route=...
// Without a date the trips departing today are listed.
func (h *TripHandler) ListTrips(c *gin.Context) {
	now := time.Now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	if date := c.Query("date"); date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", date, time.Local)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_date", Message: "date must be YYYY-MM-DD"})
			return
		}
		from = parsed
	}
	days := 1
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_days", Message: "days must be a positive number"})
			return
		}
		days = n
	}

	trips, err := h.layout.ListTrips(c.Request.Context(), from, from.AddDate(0, 0, days), c.Query("route"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trips": trips, "count": len(trips)})
}

// CreateTrip handles POST /api/v1/trips
func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req models.CreateTripRequest
	if !bindJSON(c, &req) {
		return
	}
	trip, err := h.layout.CreateTrip(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, trip)
}

// GetSeatMap returns the trip's seats as the caller sees them, including the
// seats picked in their sales desk buffer
// GET /api/v1/trips/:tripId/seats
func (h *TripHandler) GetSeatMap(c *gin.Context) {
	tripID := c.Param("tripId")
	ctx := c.Request.Context()

	seatMap, err := h.layout.GetSeatMap(ctx, tripID, h.desk.Buffer(ctx).EditContext(tripID))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, seatMap)
}
