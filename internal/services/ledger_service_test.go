package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/ticketing/internal/models"
	"example.com/backstage/services/ticketing/internal/repositories"
)

func TestCheckPrimaryAvailability(t *testing.T) {
	env := newTestEnv(t)
	event := env.seedEvent(t, 10, models.PricingTier{
		Name:      "Early Bird",
		UnitPrice: 4500,
		Quantity:  4,
		Remaining: 4,
	})
	tierID := env.event(t, event.ID).PricingTiers[0].ID

	snapshot, err := env.ledger.CheckPrimaryAvailability(context.Background(), event.ID, nil, 3)
	require.NoError(t, err)
	require.Equal(t, 10, snapshot.TicketsRemaining)
	require.Equal(t, "CHF", snapshot.Currency)

	snapshot, err = env.ledger.CheckPrimaryAvailability(context.Background(), event.ID, &tierID, 4)
	require.NoError(t, err)
	require.NotNil(t, snapshot.TierUnitPrice)
	require.Equal(t, int64(4500), *snapshot.TierUnitPrice)

	_, err = env.ledger.CheckPrimaryAvailability(context.Background(), event.ID, &tierID, 5)
	require.ErrorIs(t, err, ErrTierSoldOut)

	_, err = env.ledger.CheckPrimaryAvailability(context.Background(), event.ID, nil, 11)
	require.ErrorIs(t, err, ErrSoldOut)

	_, err = env.ledger.CheckPrimaryAvailability(context.Background(), event.ID, nil, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	unknownTier := uuid.New()
	_, err = env.ledger.CheckPrimaryAvailability(context.Background(), event.ID, &unknownTier, 1)
	require.ErrorIs(t, err, ErrTierNotFound)

	_, err = env.ledger.CheckPrimaryAvailability(context.Background(), uuid.New(), nil, 1)
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestIssuePrimaryMovesCountersTogether(t *testing.T) {
	env := newTestEnv(t)
	buyer := uuid.New()
	event := env.seedEvent(t, 10)

	record := &models.PaymentRecord{
		ID:       "txn_issue",
		Type:     models.PaymentTypePrimary,
		BuyerID:  buyer,
		EventID:  event.ID,
		Quantity: 3,
		Amount:   15000,
		Currency: "CHF",
		Status:   models.PaymentStatusPending,
	}

	var issued []*models.Ticket
	err := env.store.Atomically(context.Background(), func(tx repositories.Store) error {
		tickets, err := env.ledger.IssuePrimary(context.Background(), tx, record)
		issued = tickets
		return err
	})
	require.NoError(t, err)
	require.Len(t, issued, 3)

	stored := env.event(t, event.ID)
	require.Equal(t, 3, stored.TicketsIssued)
	require.Equal(t, 7, stored.TicketsRemaining)
	require.NoError(t, stored.CheckCounts())

	owned, err := env.store.Tickets().FindByOwner(context.Background(), buyer)
	require.NoError(t, err)
	require.Len(t, owned, 3)
	for _, ticket := range owned {
		require.Equal(t, models.TicketStateIssued, ticket.State)
		require.Equal(t, int64(5000), ticket.PurchasePrice)
	}
}

func TestIssuePrimaryRefusesOverselling(t *testing.T) {
	env := newTestEnv(t)
	event := env.seedEvent(t, 2)

	record := &models.PaymentRecord{
		ID:       "txn_oversell",
		Type:     models.PaymentTypePrimary,
		BuyerID:  uuid.New(),
		EventID:  event.ID,
		Quantity: 3,
		Amount:   15000,
		Currency: "CHF",
	}

	err := env.store.Atomically(context.Background(), func(tx repositories.Store) error {
		_, err := env.ledger.IssuePrimary(context.Background(), tx, record)
		return err
	})
	require.ErrorIs(t, err, ErrSoldOut)

	stored := env.event(t, event.ID)
	require.Equal(t, 0, stored.TicketsIssued)
	require.Equal(t, 2, stored.TicketsRemaining)
}
