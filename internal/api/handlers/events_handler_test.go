package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/ticketing/internal/models"
	"example.com/backstage/services/ticketing/internal/storetest"
)

func newEventsTestRouter(t *testing.T) (*gin.Engine, *storetest.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storetest.NewMemoryStore()
	router := gin.New()
	NewEventsHandler(store, nil).RegisterRoutes(router)
	return router, store
}

func TestAvailabilityEndpoint(t *testing.T) {
	router, store := newEventsTestRouter(t)
	event := &models.Event{
		ID:               uuid.New(),
		Name:             "Open Air",
		Currency:         "CHF",
		Capacity:         50,
		TicketsIssued:    10,
		TicketsRemaining: 40,
		PricingTiers: []models.PricingTier{
			{Name: "Early Bird", UnitPrice: 4500, Quantity: 20, Remaining: 5},
		},
	}
	require.NoError(t, store.Events().Create(context.Background(), event))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/"+event.ID.String()+"/availability", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var response AvailabilityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Equal(t, event.ID, response.EventID)
	require.Equal(t, 40, response.TicketsRemaining)
	require.Len(t, response.Tiers, 1)
	require.Equal(t, 5, response.Tiers[0].Remaining)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/"+uuid.NewString()+"/availability", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/not-a-uuid/availability", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMyTicketsEndpoint(t *testing.T) {
	router, store := newEventsTestRouter(t)
	owner := uuid.New()
	require.NoError(t, store.Tickets().Create(context.Background(), &models.Ticket{
		ID:            uuid.New(),
		EventID:       uuid.New(),
		OwnerID:       owner,
		PurchasePrice: 5000,
		Currency:      "CHF",
		State:         models.TicketStateIssued,
	}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tickets", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/tickets", nil)
	req.Header.Set("X-User-ID", owner.String())
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Tickets []models.Ticket `json:"tickets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response.Tickets, 1)
}
