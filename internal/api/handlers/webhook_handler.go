package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/ticketing/internal/gateway"
	"example.com/backstage/services/ticketing/internal/services"
	"example.com/backstage/services/ticketing/internal/tracing"
)

// signatureHeader carries the gateway's HMAC over the raw request body.
const signatureHeader = "X-Gateway-Signature"

// WebhookHandler receives payment gateway notifications. Responses
// drive the gateway's redelivery: 2xx acknowledges after the outcome is
// durably applied, 4xx rejects a bad signature permanently, and 5xx
// asks for redelivery.
type WebhookHandler struct {
	settlements   *services.SettlementService
	webhookSecret string
	tracer        tracing.Tracer
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(settlements *services.SettlementService, webhookSecret string, tracer tracing.Tracer) *WebhookHandler {
	return &WebhookHandler{settlements: settlements, webhookSecret: webhookSecret, tracer: tracer}
}

// HandleGatewayNotification verifies, parses and applies one
// notification. The signature is checked against the raw body before
// anything is decoded.
func (h *WebhookHandler) HandleGatewayNotification(c *gin.Context) {
	txn := h.tracer.StartTransaction("gateway-webhook")
	defer h.tracer.EndTransaction(txn)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "unreadable body", Code: "INVALID_ARGUMENT"})
		return
	}

	if err := gateway.VerifySignature(body, c.GetHeader(signatureHeader), h.webhookSecret); err != nil {
		log.Warn().Str("client_ip", c.ClientIP()).Msg("Rejected webhook with bad signature")
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid signature", Code: "UNAUTHENTICATED"})
		return
	}

	notification, err := gateway.ParseNotification(body)
	if err != nil {
		log.Warn().Err(err).Msg("Rejected malformed webhook payload")
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: "INVALID_ARGUMENT"})
		return
	}

	if err := h.settlements.HandleNotification(c.Request.Context(), notification); err != nil {
		h.tracer.RecordError(txn, err)
		// An unknown transaction usually means the notification raced the
		// intent creation; a 5xx makes the gateway redeliver later.
		if errors.Is(err, services.ErrUnknownTransaction) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Message: err.Error(), Code: "UNAVAILABLE"})
			return
		}
		log.Error().Err(err).Msg("Failed to apply gateway notification")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "settlement failed", Code: "INTERNAL"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterRoutes registers the handler's routes
func (h *WebhookHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/webhooks/gateway", h.HandleGatewayNotification)
}
