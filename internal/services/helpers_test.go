package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/ticketing/config"
	"example.com/backstage/services/ticketing/internal/clock"
	"example.com/backstage/services/ticketing/internal/gateway"
	"example.com/backstage/services/ticketing/internal/models"
	"example.com/backstage/services/ticketing/internal/storetest"
	"example.com/backstage/services/ticketing/internal/tracing"
)

// fakeGateway records outgoing gateway calls and serves configured
// transaction statuses for polling.
type fakeGateway struct {
	payments        []gateway.CreatePaymentRequest
	accountsCreated int
	nextPaymentID   int
	statuses        map[string]string
	failCreate      bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]string)}
}

func (f *fakeGateway) CreatePayerAccount(ctx context.Context, req gateway.CreatePayerAccountRequest) (*gateway.PayerAccount, error) {
	f.accountsCreated++
	return &gateway.PayerAccount{
		Ref:    fmt.Sprintf("acct_%d", f.accountsCreated),
		Email:  req.Email,
		Name:   req.Name,
		Status: "active",
	}, nil
}

func (f *fakeGateway) CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest) (*gateway.Payment, error) {
	if f.failCreate {
		return nil, errors.New("gateway unavailable")
	}
	f.nextPaymentID++
	f.payments = append(f.payments, req)
	id := fmt.Sprintf("txn_%d", f.nextPaymentID)
	f.statuses[id] = gateway.StatusPending
	return &gateway.Payment{ID: id, ClientSecret: id + "_secret", Status: gateway.StatusPending}, nil
}

func (f *fakeGateway) GetPayment(ctx context.Context, id string) (*gateway.Payment, error) {
	status, ok := f.statuses[id]
	if !ok {
		return nil, errors.Errorf("no such payment %s", id)
	}
	return &gateway.Payment{ID: id, Status: status}, nil
}

var _ gateway.Client = (*fakeGateway)(nil)

type testEnv struct {
	store        *storetest.MemoryStore
	clock        *clock.Fixed
	gateway      *fakeGateway
	ledger       *LedgerService
	reservations *ReservationService
	listings     *ListingService
	intents      *IntentService
	settlements  *SettlementService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storetest.NewMemoryStore()
	clk := clock.NewFixed(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	gw := newFakeGateway()
	tracer := tracing.NewNoop()

	ledger := NewLedgerService(store)
	reservations := NewReservationService(store, clk)
	listings := NewListingService(store, clk)
	intents := NewIntentService(store, gw, ledger, reservations, clk, tracer, config.PaymentsConfig{
		MinAmount: 100,
		MaxAmount: 5000000,
	})
	settlements := NewSettlementService(store, ledger, reservations, gw, nil, nil, clk, tracer)

	return &testEnv{
		store:        store,
		clock:        clk,
		gateway:      gw,
		ledger:       ledger,
		reservations: reservations,
		listings:     listings,
		intents:      intents,
		settlements:  settlements,
	}
}

func (e *testEnv) seedEvent(t *testing.T, capacity int, tiers ...models.PricingTier) *models.Event {
	t.Helper()
	event := &models.Event{
		ID:               uuid.New(),
		Name:             "Open Air",
		Currency:         "CHF",
		Capacity:         capacity,
		TicketsRemaining: capacity,
		PricingTiers:     tiers,
	}
	require.NoError(t, e.store.Events().Create(context.Background(), event))
	return event
}

func (e *testEnv) seedTicket(t *testing.T, eventID, ownerID uuid.UUID, state string) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{
		ID:            uuid.New(),
		EventID:       eventID,
		OwnerID:       ownerID,
		PurchasePrice: 5000,
		Currency:      "CHF",
		State:         state,
	}
	require.NoError(t, e.store.Tickets().Create(context.Background(), ticket))
	return ticket
}

func (e *testEnv) seedListedTicket(t *testing.T, eventID, ownerID uuid.UUID, price int64) *models.Ticket {
	t.Helper()
	ticket := e.seedTicket(t, eventID, ownerID, models.TicketStateListed)
	ticket.ListingPrice = &price
	require.NoError(t, e.store.Tickets().Save(context.Background(), ticket))
	return ticket
}

func (e *testEnv) ticket(t *testing.T, id uuid.UUID) *models.Ticket {
	t.Helper()
	ticket, err := e.store.Tickets().GetByID(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func (e *testEnv) event(t *testing.T, id uuid.UUID) *models.Event {
	t.Helper()
	event, err := e.store.Events().GetByID(context.Background(), id)
	require.NoError(t, err)
	return event
}

func (e *testEnv) payment(t *testing.T, id string) *models.PaymentRecord {
	t.Helper()
	record, err := e.store.Payments().GetByID(context.Background(), id)
	require.NoError(t, err)
	return record
}
