package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/config"
	"github.com/smarttransit/busticket-backend/internal/database"
	"github.com/smarttransit/busticket-backend/internal/handlers"
	"github.com/smarttransit/busticket-backend/internal/middleware"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/internal/services"
	"github.com/smarttransit/busticket-backend/internal/telemetry"
	"github.com/smarttransit/busticket-backend/pkg/events"
	"github.com/smarttransit/busticket-backend/pkg/jwt"
	"github.com/smarttransit/busticket-backend/pkg/qrpay"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting SmartTransit Bus Ticket Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	shutdownTracing := telemetry.Setup(cfg.Telemetry, logger)

	// Initialize store
	logger.WithField("driver", cfg.Database.Driver).Info("Opening store...")
	store, err := database.NewStore(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	switch s := store.(type) {
	case *database.PostgresStore:
		if err := s.Migrate(context.Background()); err != nil {
			logger.Fatalf("Failed to apply schema: %v", err)
		}
		logger.Info("Database schema up to date")
	case *database.MemoryStore:
		seedAdmin(s, cfg.Security, logger)
	}

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(
		cfg.JWT.Secret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessTokenExpiry,
		cfg.JWT.RefreshTokenExpiry,
	)

	publisher := newPublisher(cfg.RabbitMQ, logger)
	defer publisher.Close()

	notifier := services.NewLogNotifier(logger)
	bookingService := services.NewBookingService(
		store,
		services.NewUndoStack(cfg.Booking.UndoDepth),
		publisher,
		notifier,
		logger,
	)
	salesDeskService := services.NewSalesDeskService(store, bookingService, logger)
	seatLayoutService := services.NewSeatLayoutService(store, logger)
	authService := services.NewAuthService(store, jwtService, logger)

	policy, err := services.ParseTieBreakPolicy(cfg.Maintenance.TieBreakPolicy)
	if err != nil {
		logger.Fatalf("Invalid tie-break policy: %v", err)
	}
	maintenanceService := services.NewMaintenanceService(store, policy, publisher, notifier, logger)
	reportService := services.NewReportService(cfg.Maintenance.ReportDir, logger)

	cronService := services.NewCronService(maintenanceService, reportService, services.CronSchedule{
		FixSeats:    cfg.Maintenance.FixSeatsCron,
		FixPayments: cfg.Maintenance.FixPaymentsCron,
	}, logger)
	if cfg.Maintenance.Enabled {
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
	} else {
		logger.Info("Scheduled maintenance disabled")
	}

	qrService := services.NewQRPaymentService(
		newQRGateway(cfg.Redis, logger),
		bookingService,
		notifier,
		services.QRPaymentConfig{
			Interval:      cfg.Booking.QRPollInterval,
			BankCode:      cfg.Booking.QRBankCode,
			AccountNumber: cfg.Booking.QRAccountNumber,
		},
		logger,
	)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	if cfg.Security.EnableRequestLog {
		router.Use(middleware.RequestLogger(logger))
	}

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(store))

	handlers.RegisterRoutes(router.Group("/api/v1"), jwtService, handlers.Handlers{
		Auth:        handlers.NewAuthHandler(authService, logger),
		Trips:       handlers.NewTripHandler(seatLayoutService, salesDeskService, logger),
		Bookings:    handlers.NewBookingHandler(bookingService, logger),
		Desk:        handlers.NewSalesDeskHandler(salesDeskService, logger),
		Maintenance: handlers.NewMaintenanceHandler(maintenanceService, reportService, cronService, logger),
		QR:          handlers.NewQRPaymentHandler(qrService, logger),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, cfg.Telemetry.ServiceName),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	logger.Info("Stopping background jobs...")
	cronService.Stop()
	qrService.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}

	logger.Info("Server exited successfully")
}

// newPublisher connects to RabbitMQ when enabled and falls back to logging
// events otherwise
func newPublisher(cfg config.RabbitMQConfig, logger *logrus.Logger) events.Publisher {
	if !cfg.Enabled {
		return events.NewLogPublisher(logger)
	}
	publisher, err := events.NewAMQPPublisher(cfg.URL, cfg.Exchange, logger)
	if err != nil {
		logger.WithError(err).Warn("RabbitMQ unavailable, logging booking events instead")
		return events.NewLogPublisher(logger)
	}
	logger.WithField("exchange", cfg.Exchange).Info("Publishing booking events to RabbitMQ")
	return publisher
}

// newQRGateway keeps QR sessions in Redis, or in process memory when Redis
// cannot be reached
func newQRGateway(cfg config.RedisConfig, logger *logrus.Logger) qrpay.Gateway {
	if cfg.Addr == "" {
		return qrpay.NewMemoryGateway()
	}
	client, err := qrpay.NewRedisClient(cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, QR sessions kept in memory")
		return qrpay.NewMemoryGateway()
	}
	logger.WithField("addr", cfg.Addr).Info("QR sessions stored in Redis")
	return qrpay.NewRedisGateway(client, cfg.SessionTTL)
}

// seedAdmin creates the bootstrap admin account of an in-memory store
func seedAdmin(store *database.MemoryStore, cfg config.SecurityConfig, logger *logrus.Logger) {
	if cfg.AdminPassword == "" {
		logger.Warn("ADMIN_PASSWORD not set, in-memory store has no accounts")
		return
	}
	hash, err := services.HashPassword(cfg.AdminPassword, cfg.BcryptCost)
	if err != nil {
		logger.Fatalf("Failed to hash admin password: %v", err)
	}
	now := time.Now()
	store.PutUser(models.User{
		ID:           uuid.New(),
		Username:     cfg.AdminUsername,
		PasswordHash: hash,
		Role:         "admin",
		Status:       "active",
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	logger.WithField("username", cfg.AdminUsername).Info("Seeded admin account")
}

func healthCheckHandler(store database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		// Check store connection
		dbStatus := "healthy"
		if err := store.Ping(ctx); err != nil {
			dbStatus = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": dbStatus,
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  dbStatus,
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
