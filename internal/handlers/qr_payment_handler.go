package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/internal/services"
)

// QRPaymentHandler handles bank-transfer QR sessions of a booking
type QRPaymentHandler struct {
	qr     *services.QRPaymentService
	logger *logrus.Logger
}

// NewQRPaymentHandler creates a new QRPaymentHandler
func NewQRPaymentHandler(qr *services.QRPaymentService, logger *logrus.Logger) *QRPaymentHandler {
	return &QRPaymentHandler{qr: qr, logger: logger}
}

// Start handles POST /api/v1/bookings/:id/qr
func (h *QRPaymentHandler) Start(c *gin.Context) {
	var req models.QRPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.qr.Start(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// Status handles GET /api/v1/bookings/:id/qr
func (h *QRPaymentHandler) Status(c *gin.Context) {
	id := c.Param("id")
	session, err := h.qr.Status(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "watching": h.qr.Watching(id)})
}

// Cancel handles DELETE /api/v1/bookings/:id/qr
func (h *QRPaymentHandler) Cancel(c *gin.Context) {
	if err := h.qr.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SimulateSuccess handles POST /api/v1/bookings/:id/qr/simulate
// Marks the pending transfer as received, for test setups without a bank feed.
func (h *QRPaymentHandler) SimulateSuccess(c *gin.Context) {
	session, err := h.qr.SimulateSuccess(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}
