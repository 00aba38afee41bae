package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/internal/services"
)

// SalesDeskHandler exposes the caller's edit buffer: loaded trips, picked
// seats, the booking open for editing and staged transfers
type SalesDeskHandler struct {
	desk   *services.SalesDeskService
	logger *logrus.Logger
}

// NewSalesDeskHandler creates a new SalesDeskHandler
func NewSalesDeskHandler(desk *services.SalesDeskService, logger *logrus.Logger) *SalesDeskHandler {
	return &SalesDeskHandler{desk: desk, logger: logger}
}

// RefreshRequest names the trips to load. Empty reloads the current ones.
type RefreshRequest struct {
	TripIDs []string `json:"tripIds"`
}

// SeatRequest points at one seat of a trip
type SeatRequest struct {
	TripID string `json:"tripId" binding:"required"`
	SeatID string `json:"seatId" binding:"required"`
}

// EditRequest opens a booking for editing
type EditRequest struct {
	BookingID string `json:"bookingId" binding:"required"`
}

// ConfirmRequest carries what the cashier typed next to the picked seats
type ConfirmRequest struct {
	Passenger models.Passenger     `json:"passenger"`
	Payment   models.PaymentSplit  `json:"payment"`
	Status    models.BookingStatus `json:"status" binding:"required"`
}

// View handles GET /api/v1/desk
func (h *SalesDeskHandler) View(c *gin.Context) {
	c.JSON(http.StatusOK, h.desk.Buffer(c.Request.Context()).View())
}

// Refresh handles POST /api/v1/desk/refresh
func (h *SalesDeskHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	snapshot, err := h.desk.Refresh(ctx, req.TripIDs)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshot": snapshot,
		"buffer":   h.desk.Buffer(ctx).View(),
	})
}

// ToggleSeat handles POST /api/v1/desk/seats/toggle
func (h *SalesDeskHandler) ToggleSeat(c *gin.Context) {
	var req SeatRequest
	if !bindJSON(c, &req) {
		return
	}
	display, err := h.desk.Buffer(c.Request.Context()).ToggleSeat(req.TripID, req.SeatID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tripId":  req.TripID,
		"seatId":  req.SeatID,
		"display": display,
	})
}

// StartEditing handles POST /api/v1/desk/editing
func (h *SalesDeskHandler) StartEditing(c *gin.Context) {
	var req EditRequest
	if !bindJSON(c, &req) {
		return
	}
	buf := h.desk.Buffer(c.Request.Context())
	if err := buf.StartEditing(req.BookingID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, buf.View())
}

// StopEditing handles DELETE /api/v1/desk/editing
func (h *SalesDeskHandler) StopEditing(c *gin.Context) {
	buf := h.desk.Buffer(c.Request.Context())
	buf.StopEditing()
	c.JSON(http.StatusOK, buf.View())
}

// StageMove handles POST /api/v1/desk/moves
func (h *SalesDeskHandler) StageMove(c *gin.Context) {
	var req models.SeatMove
	if !bindJSON(c, &req) {
		return
	}
	buf := h.desk.Buffer(c.Request.Context())
	if err := buf.StageMove(req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, buf.View())
}

// UnstageMove handles DELETE /api/v1/desk/moves?tripId=&seatId=
func (h *SalesDeskHandler) UnstageMove(c *gin.Context) {
	tripID, seatID := c.Query("tripId"), c.Query("seatId")
	if tripID == "" || seatID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "tripId and seatId are required"})
		return
	}
	buf := h.desk.Buffer(c.Request.Context())
	buf.UnstageMove(tripID, seatID)
	c.JSON(http.StatusOK, buf.View())
}

// Confirm handles POST /api/v1/desk/confirm
func (h *SalesDeskHandler) Confirm(c *gin.Context) {
	var req ConfirmRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.desk.Confirm(c.Request.Context(), req.Passenger, req.Payment, req.Status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ConfirmTransfers handles POST /api/v1/desk/moves/confirm
func (h *SalesDeskHandler) ConfirmTransfers(c *gin.Context) {
	result, err := h.desk.ConfirmTransfers(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Discard handles DELETE /api/v1/desk
func (h *SalesDeskHandler) Discard(c *gin.Context) {
	h.desk.Discard(c.Request.Context())
	c.Status(http.StatusNoContent)
}
