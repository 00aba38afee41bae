package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/internal/services"
)

// BookingHandler handles booking, ticket and transfer endpoints
type BookingHandler struct {
	bookings *services.BookingService
	logger   *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings *services.BookingService, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, logger: logger}
}

// ===========================================================================
// BOOKINGS
// ===========================================================================

// ListBookings handles GET /api/v1/bookings
func (h *BookingHandler) ListBookings(c *gin.Context) {
	bookings, err := h.bookings.ListBookings(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}

// SearchBookings handles GET /api/v1/bookings/search?q=
// q may be an order code, a booking id or a phone number.
func (h *BookingHandler) SearchBookings(c *gin.Context) {
	bookings, err := h.bookings.FindBookings(c.Request.Context(), c.Query("q"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}

// GetBooking handles GET /api/v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	booking, err := h.bookings.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// CreateBooking handles POST /api/v1/bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req models.CreateBookingRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.bookings.CreateBooking(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// UpdateBooking handles PUT /api/v1/bookings/:id
func (h *BookingHandler) UpdateBooking(c *gin.Context) {
	var req models.UpdateBookingRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.bookings.UpdateBooking(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CancelBooking handles POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	var req models.CancelBookingRequest
	// the reason is optional, so an empty body is fine
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	result, err := h.bookings.CancelBooking(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListPayments handles GET /api/v1/bookings/:id/payments
func (h *BookingHandler) ListPayments(c *gin.Context) {
	payments, err := h.bookings.ListPayments(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	var total float64
	for _, p := range payments {
		total += p.TotalAmount
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments, "total": total})
}

// ===========================================================================
// TICKETS AND TRANSFERS
// ===========================================================================

// UpdateTicket handles PATCH /api/v1/bookings/:id/tickets/:seatId
func (h *BookingHandler) UpdateTicket(c *gin.Context) {
	var req models.UpdateTicketRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.bookings.UpdateTicket(c.Request.Context(), c.Param("id"), c.Param("seatId"), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SwapSeats handles POST /api/v1/bookings/swap
func (h *BookingHandler) SwapSeats(c *gin.Context) {
	var req models.SwapSeatsRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.bookings.SwapSeats(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// BulkTransfer handles POST /api/v1/bookings/transfer
func (h *BookingHandler) BulkTransfer(c *gin.Context) {
	var req models.BulkTransferRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.bookings.BulkTransfer(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Undo handles POST /api/v1/bookings/undo
func (h *BookingHandler) Undo(c *gin.Context) {
	result, err := h.bookings.Undo(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
