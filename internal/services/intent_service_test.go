package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/ticketing/internal/models"
)

func TestCreatePrimaryIntent(t *testing.T) {
	env := newTestEnv(t)
	buyer := uuid.New()
	event := env.seedEvent(t, 10)

	result, err := env.intents.CreatePrimaryIntent(context.Background(), PrimaryIntentInput{
		BuyerID:  buyer,
		EventID:  event.ID,
		Quantity: 2,
		Amount:   10000,
	})
	require.NoError(t, err)
	require.Equal(t, "txn_1", result.TransactionID)
	require.Equal(t, "CHF", result.Currency)
	require.NotEmpty(t, result.ClientSecret)

	// The gateway transaction carries self-describing metadata.
	require.Len(t, env.gateway.payments, 1)
	sent := env.gateway.payments[0]
	require.Equal(t, int64(10000), sent.Amount)
	require.Equal(t, models.PaymentTypePrimary, sent.Metadata[MetadataType])
	require.Equal(t, buyer.String(), sent.Metadata[MetadataBuyerID])
	require.Equal(t, "2", sent.Metadata[MetadataQuantity])

	// A pending record exists, but no inventory moved yet.
	record := env.payment(t, result.TransactionID)
	require.Equal(t, models.PaymentStatusPending, record.Status)
	require.Equal(t, 2, record.Quantity)
	require.Equal(t, 10, env.event(t, event.ID).TicketsRemaining)
}

func TestCreatePrimaryIntentValidation(t *testing.T) {
	env := newTestEnv(t)
	buyer := uuid.New()
	event := env.seedEvent(t, 10)

	_, err := env.intents.CreatePrimaryIntent(context.Background(), PrimaryIntentInput{
		BuyerID: buyer, EventID: event.ID, Quantity: 0, Amount: 10000,
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = env.intents.CreatePrimaryIntent(context.Background(), PrimaryIntentInput{
		BuyerID: buyer, EventID: event.ID, Quantity: 1, Amount: 50,
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.intents.CreatePrimaryIntent(context.Background(), PrimaryIntentInput{
		BuyerID: buyer, EventID: event.ID, Quantity: 1, Amount: 6000000,
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.intents.CreatePrimaryIntent(context.Background(), PrimaryIntentInput{
		BuyerID: buyer, EventID: event.ID, Quantity: 11, Amount: 10000,
	})
	require.ErrorIs(t, err, ErrSoldOut)

	// Nothing reached the gateway.
	require.Empty(t, env.gateway.payments)
}

func TestPrimaryIntentReusesPayerAccount(t *testing.T) {
	env := newTestEnv(t)
	buyer := uuid.New()
	event := env.seedEvent(t, 10)

	first, err := env.intents.CreatePrimaryIntent(context.Background(), PrimaryIntentInput{
		BuyerID: buyer, EventID: event.ID, Quantity: 1, Amount: 5000,
	})
	require.NoError(t, err)

	second, err := env.intents.CreatePrimaryIntent(context.Background(), PrimaryIntentInput{
		BuyerID: buyer, EventID: event.ID, Quantity: 1, Amount: 5000,
	})
	require.NoError(t, err)

	require.Equal(t, 1, env.gateway.accountsCreated)
	require.Equal(t, first.PayerRef, second.PayerRef)
}

func TestCreateMarketplaceIntentUsesListingPrice(t *testing.T) {
	env := newTestEnv(t)
	seller := uuid.New()
	buyer := uuid.New()
	event := env.seedEvent(t, 100)
	ticket := env.seedListedTicket(t, event.ID, seller, 7500)

	result, err := env.intents.CreateMarketplaceIntent(context.Background(), buyer, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, int64(7500), result.Amount)
	require.NotNil(t, result.Ticket)
	require.Equal(t, seller, result.Ticket.SellerID)

	// The ticket is now held for the buyer.
	stored := env.ticket(t, ticket.ID)
	require.NotNil(t, stored.ReservedBy)
	require.Equal(t, buyer, *stored.ReservedBy)

	record := env.payment(t, result.TransactionID)
	require.Equal(t, models.PaymentTypeMarketplace, record.Type)
	require.Equal(t, int64(7500), record.Amount)
	require.Equal(t, ticket.ID, *record.TicketID)
	require.Equal(t, seller, *record.SellerID)

	sent := env.gateway.payments[0]
	require.Equal(t, models.PaymentTypeMarketplace, sent.Metadata[MetadataType])
	require.Equal(t, ticket.ID.String(), sent.Metadata[MetadataTicketID])
	require.Equal(t, seller.String(), sent.Metadata[MetadataSellerID])
}

func TestCreateMarketplaceIntentReleasesHoldOnBadAmount(t *testing.T) {
	env := newTestEnv(t)
	event := env.seedEvent(t, 100)
	ticket := env.seedListedTicket(t, event.ID, uuid.New(), 10)
	buyer := uuid.New()

	_, err := env.intents.CreateMarketplaceIntent(context.Background(), buyer, ticket.ID)
	require.ErrorIs(t, err, ErrInvalidAmount)

	require.Nil(t, env.ticket(t, ticket.ID).ReservedBy)
	require.Empty(t, env.gateway.payments)
}

func TestCreateMarketplaceIntentLeavesHoldOnGatewayFailure(t *testing.T) {
	env := newTestEnv(t)
	event := env.seedEvent(t, 100)
	ticket := env.seedListedTicket(t, event.ID, uuid.New(), 7500)
	buyer := uuid.New()
	env.gateway.failCreate = true

	_, err := env.intents.CreateMarketplaceIntent(context.Background(), buyer, ticket.ID)
	require.Error(t, err)

	// The hold stays and simply expires; no record was written.
	stored := env.ticket(t, ticket.ID)
	require.NotNil(t, stored.ReservedBy)
	require.Equal(t, buyer, *stored.ReservedBy)
}

func TestCancelReservation(t *testing.T) {
	env := newTestEnv(t)
	event := env.seedEvent(t, 100)
	ticket := env.seedListedTicket(t, event.ID, uuid.New(), 7500)
	buyer := uuid.New()

	_, err := env.reservations.Reserve(context.Background(), ticket.ID, buyer)
	require.NoError(t, err)

	require.NoError(t, env.intents.CancelReservation(context.Background(), buyer, ticket.ID))
	require.Nil(t, env.ticket(t, ticket.ID).ReservedBy)
}
