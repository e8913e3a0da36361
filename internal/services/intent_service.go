package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/ticketing/config"
	"example.com/backstage/services/ticketing/internal/clock"
	"example.com/backstage/services/ticketing/internal/gateway"
	"example.com/backstage/services/ticketing/internal/models"
	"example.com/backstage/services/ticketing/internal/repositories"
	"example.com/backstage/services/ticketing/internal/tracing"
)

// Metadata keys attached to every gateway transaction. Settlement acts
// on the stored PaymentRecord, but the metadata makes the transaction
// self-describing on the gateway side for reconciliation.
const (
	MetadataType     = "type"
	MetadataBuyerID  = "buyer_id"
	MetadataSellerID = "seller_id"
	MetadataEventID  = "event_id"
	MetadataTicketID = "ticket_id"
	MetadataTierID   = "tier_id"
	MetadataQuantity = "quantity"
)

// PrimaryIntentInput is a request to buy quantity tickets straight from
// event inventory.
type PrimaryIntentInput struct {
	BuyerID  uuid.UUID
	EventID  uuid.UUID
	TierID   *uuid.UUID
	Quantity int
	Amount   int64
}

// TicketSummary describes the reserved ticket returned with a
// marketplace intent.
type TicketSummary struct {
	TicketID      uuid.UUID `json:"ticket_id"`
	EventID       uuid.UUID `json:"event_id"`
	SellerID      uuid.UUID `json:"seller_id"`
	Price         int64     `json:"price"`
	Currency      string    `json:"currency"`
	ReservedUntil time.Time `json:"reserved_until"`
}

// IntentResult carries what the client needs to complete the payment
// out-of-band.
type IntentResult struct {
	TransactionID string         `json:"transaction_id"`
	ClientSecret  string         `json:"client_secret"`
	PayerRef      string         `json:"payer_ref"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	Ticket        *TicketSummary `json:"ticket,omitempty"`
}

// IntentService validates purchase requests, resolves payer accounts
// and opens gateway transactions with the metadata settlement needs.
type IntentService struct {
	store        repositories.Store
	gateway      gateway.Client
	ledger       *LedgerService
	reservations *ReservationService
	clock        clock.Clock
	tracer       tracing.Tracer
	minAmount    int64
	maxAmount    int64
}

// NewIntentService creates a new intent service
func NewIntentService(
	store repositories.Store,
	gw gateway.Client,
	ledger *LedgerService,
	reservations *ReservationService,
	clk clock.Clock,
	tracer tracing.Tracer,
	cfg config.PaymentsConfig,
) *IntentService {
	return &IntentService{
		store:        store,
		gateway:      gw,
		ledger:       ledger,
		reservations: reservations,
		clock:        clk,
		tracer:       tracer,
		minAmount:    cfg.MinAmount,
		maxAmount:    cfg.MaxAmount,
	}
}

// CreatePrimaryIntent checks availability, opens a gateway transaction
// for a primary purchase and persists the pending PaymentRecord. The
// availability check is advisory only; inventory is decremented at
// settlement.
func (s *IntentService) CreatePrimaryIntent(ctx context.Context, in PrimaryIntentInput) (*IntentResult, error) {
	txn := s.tracer.StartTransaction("create-primary-intent")
	defer s.tracer.EndTransaction(txn)
	s.tracer.AddAttribute(txn, "event_id", in.EventID.String())
	s.tracer.AddAttribute(txn, "quantity", in.Quantity)

	if in.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if err := s.checkAmount(in.Amount); err != nil {
		return nil, err
	}

	snapshot, err := s.ledger.CheckPrimaryAvailability(ctx, in.EventID, in.TierID, in.Quantity)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	payerRef, err := s.resolvePayer(ctx, in.BuyerID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	metadata := map[string]string{
		MetadataType:     models.PaymentTypePrimary,
		MetadataBuyerID:  in.BuyerID.String(),
		MetadataEventID:  in.EventID.String(),
		MetadataQuantity: strconv.Itoa(in.Quantity),
	}
	if in.TierID != nil {
		metadata[MetadataTierID] = in.TierID.String()
	}

	payment, err := s.gateway.CreatePayment(ctx, gateway.CreatePaymentRequest{
		Amount:   in.Amount,
		Currency: snapshot.Currency,
		PayerRef: payerRef,
		Metadata: metadata,
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to create gateway payment")
	}

	// The gateway transaction exists before this row; a crash in
	// between is recoverable because the transaction id can be
	// recovered from the gateway itself.
	record := &models.PaymentRecord{
		ID:       payment.ID,
		Type:     models.PaymentTypePrimary,
		BuyerID:  in.BuyerID,
		EventID:  in.EventID,
		TierID:   in.TierID,
		Quantity: in.Quantity,
		Amount:   in.Amount,
		Currency: snapshot.Currency,
		Status:   models.PaymentStatusPending,
	}
	if err := s.store.Payments().Create(ctx, record); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to persist payment record")
	}

	log.Info().
		Str("transaction_id", payment.ID).
		Str("buyer_id", in.BuyerID.String()).
		Str("event_id", in.EventID.String()).
		Int("quantity", in.Quantity).
		Int64("amount", in.Amount).
		Msg("Primary payment intent created")

	return &IntentResult{
		TransactionID: payment.ID,
		ClientSecret:  payment.ClientSecret,
		PayerRef:      payerRef,
		Amount:        in.Amount,
		Currency:      snapshot.Currency,
	}, nil
}

// CreateMarketplaceIntent reserves the listed ticket first, then opens
// a gateway transaction for its listing price. The listing price from
// the reservation snapshot is authoritative; no client-supplied amount
// is accepted for marketplace purchases.
func (s *IntentService) CreateMarketplaceIntent(ctx context.Context, buyerID, ticketID uuid.UUID) (*IntentResult, error) {
	txn := s.tracer.StartTransaction("create-marketplace-intent")
	defer s.tracer.EndTransaction(txn)
	s.tracer.AddAttribute(txn, "ticket_id", ticketID.String())

	// The reservation commits on its own before the gateway call. If
	// anything after this fails, the hold simply expires; no
	// half-applied mutation is possible.
	snapshot, err := s.reservations.Reserve(ctx, ticketID, buyerID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if err := s.checkAmount(snapshot.ListingPrice); err != nil {
		if releaseErr := s.reservations.Release(ctx, ticketID, buyerID); releaseErr != nil {
			log.Warn().Err(releaseErr).Str("ticket_id", ticketID.String()).Msg("Failed to release reservation after amount rejection")
		}
		return nil, err
	}

	payerRef, err := s.resolvePayer(ctx, buyerID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	payment, err := s.gateway.CreatePayment(ctx, gateway.CreatePaymentRequest{
		Amount:   snapshot.ListingPrice,
		Currency: snapshot.Currency,
		PayerRef: payerRef,
		Metadata: map[string]string{
			MetadataType:     models.PaymentTypeMarketplace,
			MetadataBuyerID:  buyerID.String(),
			MetadataSellerID: snapshot.SellerID.String(),
			MetadataEventID:  snapshot.EventID.String(),
			MetadataTicketID: ticketID.String(),
		},
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to create gateway payment")
	}

	sellerID := snapshot.SellerID
	record := &models.PaymentRecord{
		ID:       payment.ID,
		Type:     models.PaymentTypeMarketplace,
		BuyerID:  buyerID,
		EventID:  snapshot.EventID,
		TicketID: &snapshot.TicketID,
		SellerID: &sellerID,
		Quantity: 1,
		Amount:   snapshot.ListingPrice,
		Currency: snapshot.Currency,
		Status:   models.PaymentStatusPending,
	}
	if err := s.store.Payments().Create(ctx, record); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to persist payment record")
	}

	log.Info().
		Str("transaction_id", payment.ID).
		Str("buyer_id", buyerID.String()).
		Str("ticket_id", ticketID.String()).
		Int64("amount", snapshot.ListingPrice).
		Msg("Marketplace payment intent created")

	return &IntentResult{
		TransactionID: payment.ID,
		ClientSecret:  payment.ClientSecret,
		PayerRef:      payerRef,
		Amount:        snapshot.ListingPrice,
		Currency:      snapshot.Currency,
		Ticket: &TicketSummary{
			TicketID:      snapshot.TicketID,
			EventID:       snapshot.EventID,
			SellerID:      snapshot.SellerID,
			Price:         snapshot.ListingPrice,
			Currency:      snapshot.Currency,
			ReservedUntil: snapshot.ReservedUntil,
		},
	}, nil
}

// CancelReservation drops the buyer's hold on a listed ticket.
func (s *IntentService) CancelReservation(ctx context.Context, buyerID, ticketID uuid.UUID) error {
	return s.reservations.Release(ctx, ticketID, buyerID)
}

func (s *IntentService) checkAmount(amount int64) error {
	if amount < s.minAmount || amount > s.maxAmount {
		return ErrInvalidAmount
	}
	return nil
}

// resolvePayer returns the stored gateway account reference for the
// buyer, creating one on first use. Buyers without a profile get
// best-effort defaults rather than a failed purchase.
func (s *IntentService) resolvePayer(ctx context.Context, buyerID uuid.UUID) (string, error) {
	account, err := s.store.Payers().GetByUserID(ctx, buyerID)
	if err == nil {
		return account.GatewayAccountRef, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return "", errors.Wrap(err, "failed to look up payer account")
	}

	created, err := s.gateway.CreatePayerAccount(ctx, gateway.CreatePayerAccountRequest{
		Name: fmt.Sprintf("customer-%s", buyerID.String()[:8]),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to create payer account")
	}

	persisted := &models.PayerAccount{
		UserID:            buyerID,
		GatewayAccountRef: created.Ref,
		Email:             created.Email,
		Name:              created.Name,
		Status:            created.Status,
	}
	if err := s.store.Payers().Create(ctx, persisted); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			// A concurrent purchase won the race; reuse its reference.
			existing, lookupErr := s.store.Payers().GetByUserID(ctx, buyerID)
			if lookupErr == nil {
				return existing.GatewayAccountRef, nil
			}
		}
		return "", errors.Wrap(err, "failed to persist payer account")
	}

	log.Info().
		Str("buyer_id", buyerID.String()).
		Str("payer_ref", created.Ref).
		Msg("Payer account created")
	return created.Ref, nil
}
