package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"example.com/backstage/services/ticketing/internal/models"
	"example.com/backstage/services/ticketing/internal/repositories"
)

// LedgerSnapshot is the availability view returned by the pre-payment
// check.
type LedgerSnapshot struct {
	EventID          uuid.UUID
	Currency         string
	TicketsRemaining int
	TierID           *uuid.UUID
	TierUnitPrice    *int64
	TierRemaining    *int
}

// LedgerService owns the event inventory counters. It is the only
// component that writes TicketsIssued, TicketsRemaining and tier
// Remaining, and always writes them together in one transaction.
type LedgerService struct {
	store repositories.Store
}

// NewLedgerService creates a new ledger service
func NewLedgerService(store repositories.Store) *LedgerService {
	return &LedgerService{store: store}
}

// CheckPrimaryAvailability validates that the requested quantity is
// available. It is a read-only pre-check before payment intent
// creation; nothing is decremented here. The authoritative re-check
// and decrement happen at settlement time via IssuePrimary, so a race
// between concurrent buyers is resolved by whichever payment settles
// first.
func (s *LedgerService) CheckPrimaryAvailability(ctx context.Context, eventID uuid.UUID, tierID *uuid.UUID, quantity int) (*LedgerSnapshot, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	event, err := s.store.Events().GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}

	snapshot := &LedgerSnapshot{
		EventID:          event.ID,
		Currency:         event.Currency,
		TicketsRemaining: event.TicketsRemaining,
	}

	if tierID != nil {
		var tier *models.PricingTier
		for i := range event.PricingTiers {
			if event.PricingTiers[i].ID == *tierID {
				tier = &event.PricingTiers[i]
				break
			}
		}
		if tier == nil {
			return nil, ErrTierNotFound
		}
		snapshot.TierID = &tier.ID
		snapshot.TierUnitPrice = &tier.UnitPrice
		snapshot.TierRemaining = &tier.Remaining
		if tier.Remaining < quantity {
			return nil, ErrTierSoldOut
		}
	}

	if event.TicketsRemaining < quantity {
		return nil, ErrSoldOut
	}

	return snapshot, nil
}

// IssuePrimary re-validates availability under row locks and issues the
// purchased tickets inside the caller's settlement transaction: creates
// the ticket rows, increments TicketsIssued and decrements
// TicketsRemaining plus the tier counter, all together. Returns
// ErrSoldOut or ErrTierSoldOut when the inventory was taken by an
// earlier settlement; the caller flags the payment for reconciliation.
func (s *LedgerService) IssuePrimary(ctx context.Context, tx repositories.Store, record *models.PaymentRecord) ([]*models.Ticket, error) {
	event, err := tx.Events().GetForUpdate(ctx, record.EventID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}

	if event.TicketsRemaining < record.Quantity {
		return nil, ErrSoldOut
	}

	var tier *models.PricingTier
	if record.TierID != nil {
		tier, err = tx.Events().GetTierForUpdate(ctx, *record.TierID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, ErrTierNotFound
			}
			return nil, err
		}
		if tier.Remaining < record.Quantity {
			return nil, ErrTierSoldOut
		}
	}

	unitPrice := record.Amount / int64(record.Quantity)
	tickets := make([]*models.Ticket, 0, record.Quantity)
	for i := 0; i < record.Quantity; i++ {
		tickets = append(tickets, &models.Ticket{
			ID:            uuid.New(),
			EventID:       event.ID,
			OwnerID:       record.BuyerID,
			TierID:        record.TierID,
			PurchasePrice: unitPrice,
			Currency:      record.Currency,
			State:         models.TicketStateIssued,
			ExpiresAt:     event.EndsAt,
		})
	}
	if err := tx.Tickets().CreateBatch(ctx, tickets); err != nil {
		return nil, err
	}

	event.TicketsIssued += record.Quantity
	event.TicketsRemaining -= record.Quantity
	if err := tx.Events().SaveCounts(ctx, event); err != nil {
		return nil, err
	}

	if tier != nil {
		tier.Remaining -= record.Quantity
		if err := tx.Events().SaveTier(ctx, tier); err != nil {
			return nil, err
		}
	}

	return tickets, nil
}
