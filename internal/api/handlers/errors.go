package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/ticketing/internal/services"
)

// ErrorResponse defines the structure of an error response
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// respondError maps domain errors onto the HTTP failure taxonomy:
// invalid argument, not found, failed precondition, unauthenticated,
// internal. Validation errors surface before any external side effect,
// so a 4xx here means nothing was charged.
func respondError(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	c.JSON(status, ErrorResponse{Message: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidQuantity),
		errors.Is(err, services.ErrInvalidListingPrice):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, services.ErrEventNotFound),
		errors.Is(err, services.ErrTierNotFound),
		errors.Is(err, services.ErrTicketNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, services.ErrSoldOut),
		errors.Is(err, services.ErrTierSoldOut),
		errors.Is(err, services.ErrNotListed),
		errors.Is(err, services.ErrNotListable),
		errors.Is(err, services.ErrAlreadyReserved),
		errors.Is(err, services.ErrSelfPurchase),
		errors.Is(err, services.ErrNotOwner):
		return http.StatusConflict, "FAILED_PRECONDITION"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
