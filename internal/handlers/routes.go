package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/smarttransit/busticket-backend/internal/middleware"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/pkg/jwt"
)

// Handlers groups every handler mounted under /api/v1
type Handlers struct {
	Auth        *AuthHandler
	Trips       *TripHandler
	Bookings    *BookingHandler
	Desk        *SalesDeskHandler
	Maintenance *MaintenanceHandler
	QR          *QRPaymentHandler
}

// RegisterRoutes mounts the API on api. Everything except login and refresh
// needs a valid access token; route groups also check the permission their
// services check, so a missing permission fails before any work is done.
func RegisterRoutes(api *gin.RouterGroup, jwtService *jwt.Service, h Handlers) {
	auth := api.Group("/auth")
	{
		auth.POST("/login", h.Auth.Login)
		auth.POST("/refresh", h.Auth.RefreshToken)
	}

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(jwtService))

	viewSales := middleware.RequirePermission(models.PermissionViewSales)
	manageTrips := middleware.RequirePermission(models.PermissionManageTrips)
	manageSettings := middleware.RequirePermission(models.PermissionManageSettings)

	// Buses, routes, trips
	protected.GET("/buses", viewSales, h.Trips.ListBuses)
	protected.POST("/buses", manageTrips, h.Trips.CreateBus)
	protected.GET("/routes", viewSales, h.Trips.ListRoutes)
	protected.POST("/routes", manageTrips, h.Trips.CreateRoute)
	protected.GET("/trips", viewSales, h.Trips.ListTrips)
	protected.POST("/trips", manageTrips, h.Trips.CreateTrip)
	protected.GET("/trips/:tripId/seats", viewSales, h.Trips.GetSeatMap)

	bookings := protected.Group("/bookings")
	{
		bookings.GET("", viewSales, h.Bookings.ListBookings)
		bookings.GET("/search", viewSales, h.Bookings.SearchBookings)
		bookings.POST("", h.Bookings.CreateBooking)
		bookings.POST("/swap", h.Bookings.SwapSeats)
		bookings.POST("/transfer", h.Bookings.BulkTransfer)
		bookings.POST("/undo", h.Bookings.Undo)

		bookings.GET("/:id", viewSales, h.Bookings.GetBooking)
		bookings.PUT("/:id", h.Bookings.UpdateBooking)
		bookings.POST("/:id/cancel", h.Bookings.CancelBooking)
		bookings.PATCH("/:id/tickets/:seatId", h.Bookings.UpdateTicket)
		bookings.GET("/:id/payments", viewSales, h.Bookings.ListPayments)
		bookings.POST("/:id/payments/compensate", manageSettings, h.Maintenance.CreateCompensatingPayment)

		bookings.POST("/:id/qr", h.QR.Start)
		bookings.GET("/:id/qr", viewSales, h.QR.Status)
		bookings.DELETE("/:id/qr", h.QR.Cancel)
		bookings.POST("/:id/qr/simulate", manageSettings, h.QR.SimulateSuccess)
	}

	desk := protected.Group("/desk")
	desk.Use(viewSales)
	{
		desk.GET("", h.Desk.View)
		desk.DELETE("", h.Desk.Discard)
		desk.POST("/refresh", h.Desk.Refresh)
		desk.POST("/seats/toggle", h.Desk.ToggleSeat)
		desk.POST("/editing", h.Desk.StartEditing)
		desk.DELETE("/editing", h.Desk.StopEditing)
		desk.POST("/moves", h.Desk.StageMove)
		desk.DELETE("/moves", h.Desk.UnstageMove)
		desk.POST("/moves/confirm", h.Desk.ConfirmTransfers)
		desk.POST("/confirm", h.Desk.Confirm)
	}

	maintenance := protected.Group("/maintenance")
	maintenance.Use(manageSettings)
	{
		maintenance.POST("/fix-seats", h.Maintenance.FixSeats)
		maintenance.POST("/fix-payments", h.Maintenance.FixPayments)
		maintenance.GET("/jobs", h.Maintenance.GetJobStatus)
		maintenance.POST("/jobs/:name/run", h.Maintenance.RunJob)
	}
}
