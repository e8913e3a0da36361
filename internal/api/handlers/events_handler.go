package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/ticketing/internal/cache"
	"example.com/backstage/services/ticketing/internal/models"
	"example.com/backstage/services/ticketing/internal/repositories"
	"example.com/backstage/services/ticketing/internal/services"
)

const availabilityCacheTTL = 10 * time.Second

// EventsHandler serves event availability and the caller's tickets.
type EventsHandler struct {
	store repositories.Store
	cache *cache.RedisCache
}

// NewEventsHandler creates a new events handler. The cache may be nil.
func NewEventsHandler(store repositories.Store, cacheClient *cache.RedisCache) *EventsHandler {
	return &EventsHandler{store: store, cache: cacheClient}
}

// AvailabilityResponse is the public availability view of an event.
type AvailabilityResponse struct {
	EventID          uuid.UUID          `json:"event_id"`
	Currency         string             `json:"currency"`
	TicketsRemaining int                `json:"tickets_remaining"`
	Tiers            []TierAvailability `json:"tiers,omitempty"`
}

// TierAvailability is the availability view of one pricing tier.
type TierAvailability struct {
	TierID    uuid.UUID `json:"tier_id"`
	UnitPrice int64     `json:"unit_price"`
	Remaining int       `json:"remaining"`
}

// HandleAvailability returns the remaining inventory of an event. The
// snapshot is cached briefly; settlement invalidates it on every
// inventory mutation, so staleness is bounded by the TTL either way.
func (h *EventsHandler) HandleAvailability(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid event id", Code: "INVALID_ARGUMENT"})
		return
	}

	cacheKey := cache.AvailabilityCacheKey(eventID)
	if h.cache != nil {
		var cached AvailabilityResponse
		if err := h.cache.Get(c.Request.Context(), cacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	event, err := h.store.Events().GetByID(c.Request.Context(), eventID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(c, services.ErrEventNotFound)
			return
		}
		respondError(c, err)
		return
	}

	response := AvailabilityResponse{
		EventID:          event.ID,
		Currency:         event.Currency,
		TicketsRemaining: event.TicketsRemaining,
	}
	for _, tier := range event.PricingTiers {
		response.Tiers = append(response.Tiers, TierAvailability{
			TierID:    tier.ID,
			UnitPrice: tier.UnitPrice,
			Remaining: tier.Remaining,
		})
	}

	if h.cache != nil {
		if err := h.cache.Set(c.Request.Context(), cacheKey, response, availabilityCacheTTL); err != nil {
			log.Warn().Err(err).Str("event_id", eventID.String()).Msg("Failed to cache availability")
		}
	}

	c.JSON(http.StatusOK, response)
}

// HandleMyTickets returns every ticket currently owned by the caller.
func (h *EventsHandler) HandleMyTickets(c *gin.Context) {
	tickets, err := h.store.Tickets().FindByOwner(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if tickets == nil {
		tickets = []*models.Ticket{}
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

// RegisterRoutes registers the handler's routes
func (h *EventsHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/events/:id/availability", h.HandleAvailability)
	router.GET("/tickets", RequireUser(), h.HandleMyTickets)
}
