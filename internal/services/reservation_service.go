package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/ticketing/internal/clock"
	"example.com/backstage/services/ticketing/internal/models"
	"example.com/backstage/services/ticketing/internal/repositories"
)

// ReservationTTL is how long a buyer's hold on a listed ticket lasts.
// Expiry is enforced lazily at the next reservation attempt; there is
// no background sweep.
const ReservationTTL = 5 * time.Minute

// ReservationSnapshot is what the payment intent orchestrator needs
// after a successful hold: who sells, what it costs, when the hold ends.
type ReservationSnapshot struct {
	TicketID      uuid.UUID
	EventID       uuid.UUID
	SellerID      uuid.UUID
	ListingPrice  int64
	Currency      string
	ReservedUntil time.Time
}

// ReservationService places and releases time-boxed holds on listed
// tickets so a resale can never settle for two buyers at once.
type ReservationService struct {
	store repositories.Store
	clock clock.Clock
}

// NewReservationService creates a new reservation service
func NewReservationService(store repositories.Store, clk clock.Clock) *ReservationService {
	return &ReservationService{store: store, clock: clk}
}

// Reserve places a hold for the buyer as a single atomic
// read-modify-write on the ticket row. A prior hold by a different
// buyer blocks the reservation only while it has not expired.
func (s *ReservationService) Reserve(ctx context.Context, ticketID, buyerID uuid.UUID) (*ReservationSnapshot, error) {
	now := s.clock.Now()
	var snapshot *ReservationSnapshot

	err := s.store.Atomically(ctx, func(tx repositories.Store) error {
		ticket, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrTicketNotFound
			}
			return err
		}

		if ticket.State != models.TicketStateListed {
			return ErrNotListed
		}
		if ticket.ListingPrice == nil || *ticket.ListingPrice <= 0 {
			return ErrInvalidListingPrice
		}
		if ticket.OwnerID == buyerID {
			return ErrSelfPurchase
		}
		if ticket.ReservedBy != nil && *ticket.ReservedBy != buyerID && !ticket.ReservationExpired(now) {
			return ErrAlreadyReserved
		}

		until := now.Add(ReservationTTL)
		ticket.ReservedBy = &buyerID
		ticket.ReservedUntil = &until
		ticket.Version++

		if err := tx.Tickets().Save(ctx, ticket); err != nil {
			return err
		}

		snapshot = &ReservationSnapshot{
			TicketID:      ticket.ID,
			EventID:       ticket.EventID,
			SellerID:      ticket.OwnerID,
			ListingPrice:  *ticket.ListingPrice,
			Currency:      ticket.Currency,
			ReservedUntil: until,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("ticket_id", ticketID.String()).
		Str("buyer_id", buyerID.String()).
		Time("reserved_until", snapshot.ReservedUntil).
		Msg("Ticket reserved")

	return snapshot, nil
}

// Release clears the buyer's hold. It is idempotent: if the ticket is
// gone, unreserved, or held by a different buyer it is a silent no-op,
// so a late or duplicate release never evicts a newer buyer's hold.
func (s *ReservationService) Release(ctx context.Context, ticketID, buyerID uuid.UUID) error {
	return s.store.Atomically(ctx, func(tx repositories.Store) error {
		return s.ReleaseIn(ctx, tx, ticketID, buyerID)
	})
}

// ReleaseIn performs the release inside the caller's transaction. The
// settlement processor uses it so that releasing a reservation and
// marking the payment record terminal commit together.
func (s *ReservationService) ReleaseIn(ctx context.Context, tx repositories.Store, ticketID, buyerID uuid.UUID) error {
	ticket, err := tx.Tickets().GetForUpdate(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil
		}
		return err
	}

	if ticket.ReservedBy == nil || *ticket.ReservedBy != buyerID {
		return nil
	}

	ticket.ClearReservation()
	ticket.Version++
	if err := tx.Tickets().Save(ctx, ticket); err != nil {
		return err
	}

	log.Info().
		Str("ticket_id", ticketID.String()).
		Str("buyer_id", buyerID.String()).
		Msg("Reservation released")
	return nil
}
