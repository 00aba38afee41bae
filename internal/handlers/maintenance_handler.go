package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/internal/services"
)

// MaintenanceHandler runs the seat and payment reconciliation jobs
type MaintenanceHandler struct {
	maintenance *services.MaintenanceService
	reports     *services.ReportService
	cron        *services.CronService
	logger      *logrus.Logger
}

// NewMaintenanceHandler creates a new MaintenanceHandler
func NewMaintenanceHandler(
	maintenance *services.MaintenanceService,
	reports *services.ReportService,
	cron *services.CronService,
	logger *logrus.Logger,
) *MaintenanceHandler {
	return &MaintenanceHandler{
		maintenance: maintenance,
		reports:     reports,
		cron:        cron,
		logger:      logger,
	}
}

// FixSeats handles POST /api/v1/maintenance/fix-seats
// With ?format=pdf the log is returned as a PDF report.
func (h *MaintenanceHandler) FixSeats(c *gin.Context) {
	result, err := h.maintenance.FixSeats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if c.Query("format") == "pdf" {
		h.sendPDF(c, "fix-seats", func() ([]byte, error) { return h.reports.SeatReport(result) })
		return
	}
	c.JSON(http.StatusOK, result)
}

// FixPayments handles POST /api/v1/maintenance/fix-payments
func (h *MaintenanceHandler) FixPayments(c *gin.Context) {
	result, err := h.maintenance.FixPayments(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if c.Query("format") == "pdf" {
		h.sendPDF(c, "fix-payments", func() ([]byte, error) { return h.reports.PaymentReport(result) })
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateCompensatingPayment handles POST /api/v1/bookings/:id/payments/compensate
func (h *MaintenanceHandler) CreateCompensatingPayment(c *gin.Context) {
	var req models.CompensatingPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	payment, err := h.maintenance.CreateCompensatingPayment(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// GetJobStatus handles GET /api/v1/maintenance/jobs
func (h *MaintenanceHandler) GetJobStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.cron.GetJobStatus())
}

// RunJob handles POST /api/v1/maintenance/jobs/:name/run
func (h *MaintenanceHandler) RunJob(c *gin.Context) {
	name := c.Param("name")
	run, err := h.cron.RunNow(name)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job":     name,
		"user_id": c.GetString("user_id"),
		"summary": run.Summary,
	}).Info("Maintenance job triggered manually")

	c.JSON(http.StatusOK, gin.H{"job": name, "run": run})
}

func (h *MaintenanceHandler) sendPDF(c *gin.Context, name string, render func() ([]byte, error)) {
	pdf, err := render()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	filename := fmt.Sprintf("%s-%s.pdf", name, time.Now().Format("20060102-150405"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}
