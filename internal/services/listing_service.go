package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/ticketing/internal/clock"
	"example.com/backstage/services/ticketing/internal/models"
	"example.com/backstage/services/ticketing/internal/repositories"
)

// ListingService lets an owner offer a ticket on the marketplace and
// take it off again. Listing a ticket is what makes it reservable.
type ListingService struct {
	store repositories.Store
	clock clock.Clock
}

// NewListingService creates a new listing service
func NewListingService(store repositories.Store, clk clock.Clock) *ListingService {
	return &ListingService{store: store, clock: clk}
}

// ListForResale puts the owner's ticket in LISTED state at the given
// price. Re-listing an already listed ticket adjusts the price, but
// never underneath a live hold.
func (s *ListingService) ListForResale(ctx context.Context, ticketID, ownerID uuid.UUID, price int64) (*models.Ticket, error) {
	if price <= 0 {
		return nil, ErrInvalidListingPrice
	}

	now := s.clock.Now()
	var listed *models.Ticket

	err := s.store.Atomically(ctx, func(tx repositories.Store) error {
		ticket, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrTicketNotFound
			}
			return err
		}

		if ticket.OwnerID != ownerID {
			return ErrNotOwner
		}
		switch ticket.State {
		case models.TicketStateIssued, models.TicketStateTransferred:
		case models.TicketStateListed:
			if ticket.ReservedBy != nil && !ticket.ReservationExpired(now) {
				return ErrAlreadyReserved
			}
		default:
			return ErrNotListable
		}

		ticket.State = models.TicketStateListed
		ticket.ListingPrice = &price
		ticket.ClearReservation()
		ticket.Version++
		if err := tx.Tickets().Save(ctx, ticket); err != nil {
			return err
		}
		listed = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("ticket_id", ticketID.String()).
		Str("owner_id", ownerID.String()).
		Int64("listing_price", price).
		Msg("Ticket listed for resale")
	return listed, nil
}

// Delist takes a listed ticket off the marketplace, restoring ISSUED or
// TRANSFERRED depending on its history. A live hold by a buyer blocks
// the delisting until it expires.
func (s *ListingService) Delist(ctx context.Context, ticketID, ownerID uuid.UUID) (*models.Ticket, error) {
	now := s.clock.Now()
	var delisted *models.Ticket

	err := s.store.Atomically(ctx, func(tx repositories.Store) error {
		ticket, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrTicketNotFound
			}
			return err
		}

		if ticket.OwnerID != ownerID {
			return ErrNotOwner
		}
		if ticket.State != models.TicketStateListed {
			return ErrNotListed
		}
		if ticket.ReservedBy != nil && !ticket.ReservationExpired(now) {
			return ErrAlreadyReserved
		}

		if ticket.PreviousOwnerID != nil {
			ticket.State = models.TicketStateTransferred
		} else {
			ticket.State = models.TicketStateIssued
		}
		ticket.ListingPrice = nil
		ticket.ClearReservation()
		ticket.Version++
		if err := tx.Tickets().Save(ctx, ticket); err != nil {
			return err
		}
		delisted = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("ticket_id", ticketID.String()).
		Str("owner_id", ownerID.String()).
		Msg("Ticket delisted")
	return delisted, nil
}
