package handlers

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripHandler_ScheduleAndList(t *testing.T) {
	api := newTestAPI(t)
	trip := api.scheduleTrip(t)
	token := api.token(t, models.PermissionViewSales)

	assert.Equal(t, "29B-123.45", trip.LicensePlate)
	require.Len(t, trip.Seats, 3)
	assert.Equal(t, float64(300000), trip.Seats[0].Price)

	w := api.do(http.MethodGet, "/api/v1/trips?date=2026-03-10", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Trips []models.Trip `json:"trips"`
		Count int           `json:"count"`
	}
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)

	w = api.do(http.MethodGet, "/api/v1/trips?date=2026-03-11&days=3", token, nil)
	decode(t, w, &list)
	assert.Equal(t, 0, list.Count)

	w = api.do(http.MethodGet, "/api/v1/trips?date=2026-03-09&days=2&route="+url.QueryEscape("Hà Nội - Sapa"), token, nil)
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)

	for _, query := range []string{"date=10/03/2026", "days=0", "days=x"} {
		w = api.do(http.MethodGet, "/api/v1/trips?"+query, token, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestTripHandler_SeatMap(t *testing.T) {
	api := newTestAPI(t)
	trip := api.scheduleTrip(t)
	booking := api.book(t, trip.ID, "1-0-2")
	token := api.token(t, models.PermissionViewSales)

	w := api.do(http.MethodGet, "/api/v1/trips/"+trip.ID+"/seats", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var seatMap models.SeatMap
	decode(t, w, &seatMap)
	require.Len(t, seatMap.Seats, 3)

	byID := make(map[string]models.SeatView)
	for _, s := range seatMap.Seats {
		byID[s.ID] = s
	}
	assert.Equal(t, models.DisplayBooked, byID["1-0-2"].Display)
	assert.Equal(t, booking.Code(), byID["1-0-2"].BookingCode)
	assert.Equal(t, models.DisplayAvailable, byID["1-0-0"].Display)

	w = api.do(http.MethodGet, "/api/v1/trips/missing/seats", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTripHandler_ManageTripsRequired(t *testing.T) {
	api := newTestAPI(t)
	seller := api.token(t, models.PermissionViewSales, models.PermissionBookTicket)

	w := api.do(http.MethodPost, "/api/v1/routes", seller, models.CreateRouteRequest{
		Name: "Hà Nội - Sapa", Origin: "Hà Nội", Destination: "Sapa", Price: 350000,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodPost, "/api/v1/routes", api.admin(t), models.CreateRouteRequest{
		Name: "Hà Nội - Sapa", Origin: "Hà Nội", Destination: "Sapa", Price: 350000,
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = api.do(http.MethodGet, "/api/v1/routes", seller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Sapa")

	w = api.do(http.MethodPost, "/api/v1/buses", api.admin(t), gin.H{
		"plate": "29B-999.99", "type": "MINIVAN",
		"layoutConfig": gin.H{"floors": 1, "rows": 1, "cols": 1, "activeSeats": []string{"1-0-0"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "MINIVAN")
}
