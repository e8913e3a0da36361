package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/backstage/services/ticketing/internal/services"
	"example.com/backstage/services/ticketing/internal/tracing"
)

// PurchaseHandler exposes the purchase and listing surface consumed by
// the client apps.
type PurchaseHandler struct {
	intents  *services.IntentService
	listings *services.ListingService
	tracer   tracing.Tracer
}

// NewPurchaseHandler creates a new purchase handler
func NewPurchaseHandler(intents *services.IntentService, listings *services.ListingService, tracer tracing.Tracer) *PurchaseHandler {
	return &PurchaseHandler{intents: intents, listings: listings, tracer: tracer}
}

// PrimaryPurchaseRequest is the body of a primary purchase call.
type PrimaryPurchaseRequest struct {
	EventID  uuid.UUID  `json:"event_id" binding:"required"`
	TierID   *uuid.UUID `json:"tier_id"`
	Quantity int        `json:"quantity" binding:"required"`
	Amount   int64      `json:"amount" binding:"required"`
}

// MarketplacePurchaseRequest is the body of a marketplace purchase call.
// The amount is never client-supplied; the listing price rules.
type MarketplacePurchaseRequest struct {
	TicketID uuid.UUID `json:"ticket_id" binding:"required"`
}

// ListTicketRequest is the body of a resale listing call.
type ListTicketRequest struct {
	Price int64 `json:"price" binding:"required"`
}

// HandlePrimaryPurchase creates a payment intent against event inventory.
func (h *PurchaseHandler) HandlePrimaryPurchase(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-primary-purchase")
	defer h.tracer.EndTransaction(txn)

	var req PrimaryPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: "INVALID_ARGUMENT"})
		return
	}

	result, err := h.intents.CreatePrimaryIntent(c.Request.Context(), services.PrimaryIntentInput{
		BuyerID:  currentUser(c),
		EventID:  req.EventID,
		TierID:   req.TierID,
		Quantity: req.Quantity,
		Amount:   req.Amount,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// HandleMarketplacePurchase reserves the ticket and creates a payment
// intent for its listing price.
func (h *PurchaseHandler) HandleMarketplacePurchase(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-marketplace-purchase")
	defer h.tracer.EndTransaction(txn)

	var req MarketplacePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: "INVALID_ARGUMENT"})
		return
	}

	result, err := h.intents.CreateMarketplaceIntent(c.Request.Context(), currentUser(c), req.TicketID)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// HandleCancelReservation drops the caller's hold on a listed ticket.
func (h *PurchaseHandler) HandleCancelReservation(c *gin.Context) {
	ticketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid ticket id", Code: "INVALID_ARGUMENT"})
		return
	}

	if err := h.intents.CancelReservation(c.Request.Context(), currentUser(c), ticketID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

// HandleListTicket puts the caller's ticket on the marketplace.
func (h *PurchaseHandler) HandleListTicket(c *gin.Context) {
	ticketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid ticket id", Code: "INVALID_ARGUMENT"})
		return
	}

	var req ListTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: "INVALID_ARGUMENT"})
		return
	}

	ticket, err := h.listings.ListForResale(c.Request.Context(), ticketID, currentUser(c), req.Price)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// HandleDelistTicket takes the caller's ticket off the marketplace.
func (h *PurchaseHandler) HandleDelistTicket(c *gin.Context) {
	ticketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid ticket id", Code: "INVALID_ARGUMENT"})
		return
	}

	ticket, err := h.listings.Delist(c.Request.Context(), ticketID, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// RegisterRoutes registers the handler's routes
func (h *PurchaseHandler) RegisterRoutes(router gin.IRouter) {
	authed := router.Group("/", RequireUser())
	authed.POST("/purchases/primary", h.HandlePrimaryPurchase)
	authed.POST("/purchases/marketplace", h.HandleMarketplacePurchase)
	authed.POST("/tickets/:id/cancel-reservation", h.HandleCancelReservation)
	authed.POST("/tickets/:id/list", h.HandleListTicket)
	authed.POST("/tickets/:id/delist", h.HandleDelistTicket)
}
