package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/ticketing/internal/clock"
	"example.com/backstage/services/ticketing/internal/gateway"
	"example.com/backstage/services/ticketing/internal/models"
	"example.com/backstage/services/ticketing/internal/services"
	"example.com/backstage/services/ticketing/internal/storetest"
	"example.com/backstage/services/ticketing/internal/tracing"
)

const testWebhookSecret = "whsec_test"

func newWebhookTestRouter(t *testing.T) (*gin.Engine, *storetest.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storetest.NewMemoryStore()
	clk := clock.NewFixed(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	ledger := services.NewLedgerService(store)
	reservations := services.NewReservationService(store, clk)
	settlements := services.NewSettlementService(store, ledger, reservations, nil, nil, nil, clk, tracing.NewNoop())

	router := gin.New()
	NewWebhookHandler(settlements, testWebhookSecret, tracing.NewNoop()).RegisterRoutes(router)
	return router, store
}

func postWebhook(router *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(body))
	req.Header.Set(signatureHeader, signature)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	router, _ := newWebhookTestRouter(t)
	body := []byte(`{"type":"payment.succeeded","data":{"transaction_id":"txn_1"}}`)

	w := postWebhook(router, body, "deadbeef")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = postWebhook(router, body, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookRejectsUnknownEventType(t *testing.T) {
	router, _ := newWebhookTestRouter(t)
	body := []byte(`{"type":"payment.exploded","data":{"transaction_id":"txn_1"}}`)

	w := postWebhook(router, body, gateway.SignPayload(body, testWebhookSecret))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookAsksForRedeliveryOnUnknownTransaction(t *testing.T) {
	router, _ := newWebhookTestRouter(t)
	body := []byte(`{"type":"payment.succeeded","data":{"transaction_id":"txn_missing"}}`)

	w := postWebhook(router, body, gateway.SignPayload(body, testWebhookSecret))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWebhookAppliesSucceededNotification(t *testing.T) {
	router, store := newWebhookTestRouter(t)

	buyer := uuid.New()
	event := &models.Event{
		ID:               uuid.New(),
		Name:             "Open Air",
		Currency:         "CHF",
		Capacity:         10,
		TicketsRemaining: 10,
	}
	require.NoError(t, store.Events().Create(context.Background(), event))
	require.NoError(t, store.Payments().Create(context.Background(), &models.PaymentRecord{
		ID:       "txn_ok",
		Type:     models.PaymentTypePrimary,
		BuyerID:  buyer,
		EventID:  event.ID,
		Quantity: 1,
		Amount:   5000,
		Currency: "CHF",
		Status:   models.PaymentStatusPending,
	}))

	body := []byte(`{"type":"payment.succeeded","data":{"transaction_id":"txn_ok"}}`)
	w := postWebhook(router, body, gateway.SignPayload(body, testWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code)

	record, err := store.Payments().GetByID(context.Background(), "txn_ok")
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusSucceeded, record.Status)

	tickets, err := store.Tickets().FindByOwner(context.Background(), buyer)
	require.NoError(t, err)
	require.Len(t, tickets, 1)

	// Redelivery is acknowledged without double-applying.
	w = postWebhook(router, body, gateway.SignPayload(body, testWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code)
	tickets, err = store.Tickets().FindByOwner(context.Background(), buyer)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
}
