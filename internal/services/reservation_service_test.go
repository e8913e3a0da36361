package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/ticketing/internal/models"
)

func TestReserveHoldsTicketForBuyer(t *testing.T) {
	env := newTestEnv(t)
	seller := uuid.New()
	buyer := uuid.New()
	event := env.seedEvent(t, 100)
	ticket := env.seedListedTicket(t, event.ID, seller, 8000)

	snapshot, err := env.reservations.Reserve(context.Background(), ticket.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, ticket.ID, snapshot.TicketID)
	require.Equal(t, seller, snapshot.SellerID)
	require.Equal(t, int64(8000), snapshot.ListingPrice)
	require.Equal(t, env.clock.Now().Add(ReservationTTL), snapshot.ReservedUntil)

	stored := env.ticket(t, ticket.ID)
	require.NotNil(t, stored.ReservedBy)
	require.Equal(t, buyer, *stored.ReservedBy)
	require.Equal(t, models.TicketStateListed, stored.State)
}

func TestReserveBlocksSecondBuyerWhileHoldLives(t *testing.T) {
	env := newTestEnv(t)
	event := env.seedEvent(t, 100)
	ticket := env.seedListedTicket(t, event.ID, uuid.New(), 8000)
	first := uuid.New()
	second := uuid.New()

	_, err := env.reservations.Reserve(context.Background(), ticket.ID, first)
	require.NoError(t, err)

	_, err = env.reservations.Reserve(context.Background(), ticket.ID, second)
	require.ErrorIs(t, err, ErrAlreadyReserved)

	// The original hold is untouched.
	stored := env.ticket(t, ticket.ID)
	require.Equal(t, first, *stored.ReservedBy)
}

func TestReserveSupersedesExpiredHold(t *testing.T) {
	env := newTestEnv(t)
	event := env.seedEvent(t, 100)
	ticket := env.seedListedTicket(t, event.ID, uuid.New(), 8000)
	first := uuid.New()
	second := uuid.New()

	_, err := env.reservations.Reserve(context.Background(), ticket.ID, first)
	require.NoError(t, err)

	env.clock.Advance(ReservationTTL + time.Second)

	snapshot, err := env.reservations.Reserve(context.Background(), ticket.ID, second)
	require.NoError(t, err)
	require.Equal(t, env.clock.Now().Add(ReservationTTL), snapshot.ReservedUntil)

	stored := env.ticket(t, ticket.ID)
	require.Equal(t, second, *stored.ReservedBy)
}

func TestReserveSameBuyerRefreshesHold(t *testing.T) {
	env := newTestEnv(t)
	event := env.seedEvent(t, 100)
	ticket := env.seedListedTicket(t, event.ID, uuid.New(), 8000)
	buyer := uuid.New()

	_, err := env.reservations.Reserve(context.Background(), ticket.ID, buyer)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)

	snapshot, err := env.reservations.Reserve(context.Background(), ticket.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, env.clock.Now().Add(ReservationTTL), snapshot.ReservedUntil)
}

func TestReserveRejectsOwnTicket(t *testing.T) {
	env := newTestEnv(t)
	seller := uuid.New()
	event := env.seedEvent(t, 100)
	ticket := env.seedListedTicket(t, event.ID, seller, 8000)

	_, err := env.reservations.Reserve(context.Background(), ticket.ID, seller)
	require.ErrorIs(t, err, ErrSelfPurchase)
}

func TestReserveRejectsUnlistedTicket(t *testing.T) {
	env := newTestEnv(t)
	event := env.seedEvent(t, 100)
	ticket := env.seedTicket(t, event.ID, uuid.New(), models.TicketStateIssued)

	_, err := env.reservations.Reserve(context.Background(), ticket.ID, uuid.New())
	require.ErrorIs(t, err, ErrNotListed)
}

func TestReserveRejectsUnknownTicket(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.reservations.Reserve(context.Background(), uuid.New(), uuid.New())
	require.ErrorIs(t, err, ErrTicketNotFound)
}

func TestReleaseClearsOwnHoldOnly(t *testing.T) {
	env := newTestEnv(t)
	event := env.seedEvent(t, 100)
	ticket := env.seedListedTicket(t, event.ID, uuid.New(), 8000)
	buyer := uuid.New()
	other := uuid.New()

	_, err := env.reservations.Reserve(context.Background(), ticket.ID, buyer)
	require.NoError(t, err)

	// A different buyer's release never evicts the hold.
	require.NoError(t, env.reservations.Release(context.Background(), ticket.ID, other))
	require.NotNil(t, env.ticket(t, ticket.ID).ReservedBy)

	require.NoError(t, env.reservations.Release(context.Background(), ticket.ID, buyer))
	require.Nil(t, env.ticket(t, ticket.ID).ReservedBy)

	// Releasing again is a no-op, as is releasing a vanished ticket.
	require.NoError(t, env.reservations.Release(context.Background(), ticket.ID, buyer))
	require.NoError(t, env.reservations.Release(context.Background(), uuid.New(), buyer))
}
