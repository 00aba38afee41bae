package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/database"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/internal/services"
	"github.com/smarttransit/busticket-backend/pkg/jwt"
	"github.com/smarttransit/busticket-backend/pkg/qrpay"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testAPI struct {
	router *gin.Engine
	store  *database.MemoryStore
	jwt    *jwt.Service
	qr     *services.QRPaymentService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := database.NewMemoryStore()
	jwtService := jwt.NewService("test-access-secret", "test-refresh-secret", time.Hour, 24*time.Hour)
	notifier := &services.RecordingNotifier{}

	bookings := services.NewBookingService(store, services.NewUndoStack(10), nil, notifier, logger)
	desk := services.NewSalesDeskService(store, bookings, logger)
	maintenance := services.NewMaintenanceService(store, services.PreferHigherPayment, nil, notifier, logger)
	reports := services.NewReportService("", logger)
	cron := services.NewCronService(maintenance, reports, services.CronSchedule{}, logger)
	qr := services.NewQRPaymentService(qrpay.NewMemoryGateway(), bookings, notifier, services.QRPaymentConfig{
		Interval: 10 * time.Millisecond,
		BankCode: "VCB",
	}, logger)
	t.Cleanup(qr.Stop)

	router := gin.New()
	RegisterRoutes(router.Group("/api/v1"), jwtService, Handlers{
		Auth:        NewAuthHandler(services.NewAuthService(store, jwtService, logger), logger),
		Trips:       NewTripHandler(services.NewSeatLayoutService(store, logger), desk, logger),
		Bookings:    NewBookingHandler(bookings, logger),
		Desk:        NewSalesDeskHandler(desk, logger),
		Maintenance: NewMaintenanceHandler(maintenance, reports, cron, logger),
		QR:          NewQRPaymentHandler(qr, logger),
	})

	return &testAPI{router: router, store: store, jwt: jwtService, qr: qr}
}

// token issues an access token for a staff member with the given permissions
func (a *testAPI) token(t *testing.T, permissions ...models.Permission) string {
	t.Helper()
	names := make([]string, len(permissions))
	for i, p := range permissions {
		names[i] = string(p)
	}
	token, _, err := a.jwt.GenerateAccessToken(uuid.New(), "thu.ngan", "cashier", names)
	require.NoError(t, err)
	return token
}

func (a *testAPI) admin(t *testing.T) string {
	return a.token(t, models.AllPermissions...)
}

func (a *testAPI) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

// addUser stores an account with password "secret123"
func (a *testAPI) addUser(t *testing.T, username, role, status string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	a.store.PutUser(models.User{ID: uuid.New(), Username: username, PasswordHash: string(hash), Role: role, Status: status})
}

// scheduleTrip registers a three-seat sleeper and schedules a trip on it
// through the API, returning the trip
func (a *testAPI) scheduleTrip(t *testing.T) models.Trip {
	t.Helper()
	token := a.admin(t)

	w := a.do(http.MethodPost, "/api/v1/buses", token, models.CreateBusRequest{
		Plate: "29b-123.45",
		Type:  string(models.BusTypeSleeper),
		LayoutConfig: models.LayoutConfig{
			Floors: 1, Rows: 1, Cols: 3,
			ActiveSeats: []string{"1-0-0", "1-0-1", "1-0-2"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var bus models.Bus
	decode(t, w, &bus)

	w = a.do(http.MethodPost, "/api/v1/trips", token, models.CreateTripRequest{
		Route:         "Hà Nội - Sapa",
		DepartureTime: time.Date(2026, 3, 10, 21, 0, 0, 0, time.Local),
		BusID:         bus.ID,
		BasePrice:     300000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var trip models.Trip
	decode(t, w, &trip)
	return trip
}

func (a *testAPI) book(t *testing.T, tripID string, seats ...string) *models.Booking {
	t.Helper()
	w := a.do(http.MethodPost, "/api/v1/bookings", a.admin(t), models.CreateBookingRequest{
		Items:     []models.BookingItemRequest{{TripID: tripID, SeatIDs: seats}},
		Passenger: models.Passenger{Name: "Trần Thị B", Phone: "0987654321"},
		Status:    models.BookingStatusBooking,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var result models.BookingResult
	decode(t, w, &result)
	require.NotNil(t, result.Booking)
	return result.Booking
}

func (a *testAPI) tripSeat(t *testing.T, tripID, seatID string) models.Seat {
	t.Helper()
	trip, err := a.store.GetTrip(context.Background(), tripID)
	require.NoError(t, err)
	seat, ok := trip.SeatByID(seatID)
	require.True(t, ok)
	return *seat
}
