package services

import "errors"

// Domain errors surfaced to callers. The API layer maps these onto the
// HTTP failure taxonomy (invalid argument, not found, failed
// precondition); anything else is internal.
var (
	ErrEventNotFound  = errors.New("event not found")
	ErrTierNotFound   = errors.New("pricing tier not found")
	ErrTicketNotFound = errors.New("ticket not found")

	ErrSoldOut     = errors.New("event is sold out")
	ErrTierSoldOut = errors.New("pricing tier is sold out")

	ErrNotListed           = errors.New("ticket is not listed for resale")
	ErrNotListable         = errors.New("ticket cannot be listed in its current state")
	ErrInvalidListingPrice = errors.New("listing price must be positive")
	ErrSelfPurchase        = errors.New("cannot purchase own ticket")
	ErrAlreadyReserved     = errors.New("ticket is reserved by another buyer")
	ErrNotOwner            = errors.New("ticket is owned by another user")

	ErrInvalidAmount   = errors.New("amount is outside the accepted bounds")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)
