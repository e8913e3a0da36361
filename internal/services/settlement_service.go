package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/ticketing/internal/cache"
	"example.com/backstage/services/ticketing/internal/clock"
	"example.com/backstage/services/ticketing/internal/gateway"
	"example.com/backstage/services/ticketing/internal/models"
	"example.com/backstage/services/ticketing/internal/repositories"
	"example.com/backstage/services/ticketing/internal/search"
	"example.com/backstage/services/ticketing/internal/tracing"
)

// ErrUnknownTransaction is returned when a notification references a
// transaction with no PaymentRecord. The webhook responds with an error
// so the gateway redelivers once the record exists.
var ErrUnknownTransaction = errors.New("unknown gateway transaction")

// SettlementService applies terminal payment outcomes to inventory and
// ownership. Each notification is processed in one database
// transaction, keyed and serialized by the gateway transaction id, and
// is safe under duplicate and out-of-order delivery.
type SettlementService struct {
	store        repositories.Store
	ledger       *LedgerService
	reservations *ReservationService
	gateway      gateway.Client
	searchClient *search.ElasticClient
	cacheClient  *cache.RedisCache
	clock        clock.Clock
	tracer       tracing.Tracer
}

// NewSettlementService creates a new settlement service. The search and
// cache clients may be nil; both are best-effort.
func NewSettlementService(
	store repositories.Store,
	ledger *LedgerService,
	reservations *ReservationService,
	gw gateway.Client,
	searchClient *search.ElasticClient,
	cacheClient *cache.RedisCache,
	clk clock.Clock,
	tracer tracing.Tracer,
) *SettlementService {
	return &SettlementService{
		store:        store,
		ledger:       ledger,
		reservations: reservations,
		gateway:      gw,
		searchClient: searchClient,
		cacheClient:  cacheClient,
		clock:        clk,
		tracer:       tracer,
	}
}

// HandleNotification dispatches a verified gateway notification to the
// matching settlement path, one per lifecycle variant.
func (s *SettlementService) HandleNotification(ctx context.Context, n gateway.Notification) error {
	txn := s.tracer.StartTransaction("settle-notification")
	defer s.tracer.EndTransaction(txn)

	switch n := n.(type) {
	case gateway.PaymentSucceeded:
		return s.applySucceeded(ctx, n.TransactionID)
	case gateway.PaymentFailed:
		return s.applyFailedOrCanceled(ctx, n.TransactionID, models.PaymentStatusFailed, n.Reason)
	case gateway.PaymentCanceled:
		return s.applyFailedOrCanceled(ctx, n.TransactionID, models.PaymentStatusCanceled, "")
	case gateway.PaymentRefunded:
		return s.applyRefunded(ctx, n.TransactionID)
	case gateway.AccountUpdated:
		return s.applyAccountUpdated(ctx, n)
	default:
		return errors.Errorf("unhandled notification type %T", n)
	}
}

// applySucceeded commits the purchase: primary records issue tickets
// and decrement inventory, marketplace records transfer ownership. When
// the authoritative re-check fails the money has already moved, so the
// record is marked succeeded with a persisted reconciliation flag
// instead of being dropped.
func (s *SettlementService) applySucceeded(ctx context.Context, transactionID string) error {
	var issued []*models.Ticket
	var transfer *models.TransferRecord
	var flagged *models.PaymentRecord
	var eventID uuid.UUID

	err := s.store.Atomically(ctx, func(tx repositories.Store) error {
		record, err := s.lockRecord(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if record.Status == models.PaymentStatusSucceeded {
			log.Info().Str("transaction_id", transactionID).Msg("Replayed succeeded notification ignored")
			return nil
		}
		if record.Terminal() {
			log.Warn().
				Str("transaction_id", transactionID).
				Str("status", record.Status).
				Msg("Succeeded notification for terminal record ignored")
			return nil
		}
		eventID = record.EventID

		switch record.Type {
		case models.PaymentTypePrimary:
			tickets, err := s.ledger.IssuePrimary(ctx, tx, record)
			switch {
			case errors.Is(err, ErrSoldOut), errors.Is(err, ErrTierSoldOut), errors.Is(err, ErrEventNotFound), errors.Is(err, ErrTierNotFound):
				s.flag(record, fmt.Sprintf("paid but unfulfilled: %v", err))
				flagged = record
			case err != nil:
				return err
			default:
				issued = tickets
			}
		case models.PaymentTypeMarketplace:
			transfer, err = s.applyTransfer(ctx, tx, record)
			if err != nil {
				return err
			}
			if transfer == nil {
				flagged = record
			}
		default:
			return errors.Errorf("payment record %s has unknown type %q", record.ID, record.Type)
		}

		record.Status = models.PaymentStatusSucceeded
		return tx.Payments().Save(ctx, record)
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("transaction_id", transactionID).
		Int("tickets_issued", len(issued)).
		Bool("transferred", transfer != nil).
		Bool("needs_reconciliation", flagged != nil).
		Msg("Succeeded notification applied")

	s.invalidateAvailability(ctx, eventID)
	if transfer != nil && s.searchClient != nil {
		if err := s.searchClient.IndexTransfer(ctx, transfer); err != nil {
			log.Warn().Err(err).Str("transaction_id", transactionID).Msg("Failed to index transfer")
		}
	}
	if flagged != nil && s.searchClient != nil {
		if err := s.searchClient.IndexReconciliation(ctx, flagged); err != nil {
			log.Warn().Err(err).Str("transaction_id", transactionID).Msg("Failed to index reconciliation record")
		}
	}
	return nil
}

// applyTransfer moves ownership of a resold ticket to the buyer. A nil
// transfer with nil error means the record was flagged for manual
// reconciliation instead of applied.
func (s *SettlementService) applyTransfer(ctx context.Context, tx repositories.Store, record *models.PaymentRecord) (*models.TransferRecord, error) {
	if record.TicketID == nil || record.SellerID == nil {
		s.flag(record, "marketplace record without ticket or seller reference")
		return nil, nil
	}

	ticket, err := tx.Tickets().GetForUpdate(ctx, *record.TicketID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			s.flag(record, "paid but ticket no longer exists")
			return nil, nil
		}
		return nil, err
	}

	// The ticket must still be listed by the recorded seller and either
	// reserved by this buyer or unreserved (a same-buyer retry after the
	// hold lapsed). Anything else means money arrived for a transfer
	// that can no longer be applied.
	switch {
	case ticket.State != models.TicketStateListed:
		s.flag(record, fmt.Sprintf("paid but ticket state is %s", ticket.State))
		return nil, nil
	case ticket.OwnerID != *record.SellerID:
		s.flag(record, "paid but ticket changed owner")
		return nil, nil
	case ticket.ReservedBy != nil && *ticket.ReservedBy != record.BuyerID:
		s.flag(record, "paid but ticket is reserved by another buyer")
		return nil, nil
	}

	seller := ticket.OwnerID
	ticket.OwnerID = record.BuyerID
	ticket.State = models.TicketStateTransferred
	ticket.PreviousOwnerID = &seller
	ticket.TransferPrice = &record.Amount
	ticket.ListingPrice = nil
	ticket.ClearReservation()
	ticket.Version++
	if err := tx.Tickets().Save(ctx, ticket); err != nil {
		return nil, err
	}

	transfer := &models.TransferRecord{
		ID:                 uuid.New(),
		TicketID:           ticket.ID,
		EventID:            ticket.EventID,
		FromUserID:         seller,
		ToUserID:           record.BuyerID,
		Amount:             record.Amount,
		PaymentReferenceID: record.ID,
	}
	if err := tx.Transfers().Create(ctx, transfer); err != nil {
		return nil, err
	}
	return transfer, nil
}

// applyFailedOrCanceled marks the record terminal and, for marketplace
// purchases, releases the buyer's reservation in the same transaction.
// This is the only automatic cleanup path; the reservation TTL covers
// clients that never reach a terminal notification.
func (s *SettlementService) applyFailedOrCanceled(ctx context.Context, transactionID, status, reason string) error {
	err := s.store.Atomically(ctx, func(tx repositories.Store) error {
		record, err := s.lockRecord(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if record.Status == status {
			log.Info().Str("transaction_id", transactionID).Str("status", status).Msg("Replayed terminal notification ignored")
			return nil
		}
		if record.Terminal() {
			log.Warn().
				Str("transaction_id", transactionID).
				Str("status", record.Status).
				Str("incoming", status).
				Msg("Terminal notification for terminal record ignored")
			return nil
		}

		record.Status = status
		if err := tx.Payments().Save(ctx, record); err != nil {
			return err
		}

		if record.Type == models.PaymentTypeMarketplace && record.TicketID != nil {
			if err := s.reservations.ReleaseIn(ctx, tx, *record.TicketID, record.BuyerID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("transaction_id", transactionID).
		Str("status", status).
		Str("reason", reason).
		Msg("Terminal notification applied")
	return nil
}

// applyRefunded revokes the buyer's tickets. Inventory counters are
// deliberately left untouched: putting revoked seats back on sale is a
// manual decision, not an automatic restock.
func (s *SettlementService) applyRefunded(ctx context.Context, transactionID string) error {
	var revoked int
	err := s.store.Atomically(ctx, func(tx repositories.Store) error {
		record, err := s.lockRecord(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if record.Status == models.PaymentStatusRefunded {
			log.Info().Str("transaction_id", transactionID).Msg("Replayed refunded notification ignored")
			return nil
		}
		// A refund legitimately follows a succeeded settlement; only
		// failed/canceled records cannot be refunded.
		if record.Status == models.PaymentStatusFailed || record.Status == models.PaymentStatusCanceled {
			log.Warn().
				Str("transaction_id", transactionID).
				Str("status", record.Status).
				Msg("Refunded notification for non-refundable record ignored")
			return nil
		}

		switch record.Type {
		case models.PaymentTypePrimary:
			tickets, err := tx.Tickets().FindRevocable(ctx, record.BuyerID, record.EventID)
			if err != nil {
				return err
			}
			for _, ticket := range tickets {
				revokeTicket(ticket)
				if err := tx.Tickets().Save(ctx, ticket); err != nil {
					return err
				}
			}
			revoked = len(tickets)
		case models.PaymentTypeMarketplace:
			if record.TicketID != nil {
				ticket, err := tx.Tickets().GetForUpdate(ctx, *record.TicketID)
				if err != nil && !errors.Is(err, repositories.ErrNotFound) {
					return err
				}
				if err == nil && ticket.State != models.TicketStateRevoked {
					revokeTicket(ticket)
					if err := tx.Tickets().Save(ctx, ticket); err != nil {
						return err
					}
					revoked = 1
				}
			}
		}

		record.Status = models.PaymentStatusRefunded
		return tx.Payments().Save(ctx, record)
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("transaction_id", transactionID).
		Int("tickets_revoked", revoked).
		Msg("Refunded notification applied")
	return nil
}

// applyAccountUpdated mirrors the gateway-side account status onto the
// stored payer reference. Unknown references are ignored.
func (s *SettlementService) applyAccountUpdated(ctx context.Context, n gateway.AccountUpdated) error {
	account, err := s.store.Payers().GetByAccountRef(ctx, n.AccountRef)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			log.Warn().Str("account_ref", n.AccountRef).Msg("Account update for unknown payer ignored")
			return nil
		}
		return err
	}
	account.Status = n.Status
	return s.store.Payers().Save(ctx, account)
}

// ProcessStalePending polls the gateway for payments that have been
// pending longer than the given age and applies whatever terminal
// status the gateway reports. This recovers from webhook deliveries
// that never arrived.
func (s *SettlementService) ProcessStalePending(ctx context.Context, olderThan time.Duration, limit int) error {
	records, err := s.store.Payments().FindStalePending(ctx, s.clock.Now().Add(-olderThan), limit)
	if err != nil {
		return errors.Wrap(err, "failed to list stale pending payments")
	}
	if len(records) == 0 {
		return nil
	}

	log.Info().Int("count", len(records)).Msg("Resolving stale pending payments against the gateway")

	for _, record := range records {
		payment, err := s.gateway.GetPayment(ctx, record.ID)
		if err != nil {
			log.Warn().Err(err).Str("transaction_id", record.ID).Msg("Failed to poll gateway for stale payment")
			continue
		}
		n, ok := gateway.NotificationForStatus(record.ID, payment.Status)
		if !ok {
			continue
		}
		if err := s.HandleNotification(ctx, n); err != nil {
			log.Error().Err(err).Str("transaction_id", record.ID).Msg("Failed to settle polled payment")
		}
	}
	return nil
}

// ReportUnreconciled surfaces flagged payment records to the log and
// the audit index. It never mutates them; resolving a paid-but-
// unfulfilled purchase is a human decision.
func (s *SettlementService) ReportUnreconciled(ctx context.Context, limit int) error {
	records, err := s.store.Payments().FindNeedsReconciliation(ctx, limit)
	if err != nil {
		return errors.Wrap(err, "failed to list payments needing reconciliation")
	}

	for _, record := range records {
		note := ""
		if record.ReconciliationNote != nil {
			note = *record.ReconciliationNote
		}
		log.Error().
			Str("transaction_id", record.ID).
			Str("type", record.Type).
			Int64("amount", record.Amount).
			Str("note", note).
			Msg("Payment needs manual reconciliation")

		if s.searchClient != nil {
			if err := s.searchClient.IndexReconciliation(ctx, record); err != nil {
				log.Warn().Err(err).Str("transaction_id", record.ID).Msg("Failed to index reconciliation record")
			}
		}
	}
	return nil
}

func (s *SettlementService) lockRecord(ctx context.Context, tx repositories.Store, transactionID string) (*models.PaymentRecord, error) {
	record, err := tx.Payments().GetForUpdate(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, errors.Wrapf(ErrUnknownTransaction, "transaction %s", transactionID)
		}
		return nil, err
	}
	return record, nil
}

func (s *SettlementService) flag(record *models.PaymentRecord, note string) {
	record.NeedsReconciliation = true
	record.ReconciliationNote = &note
	log.Error().
		Str("transaction_id", record.ID).
		Str("note", note).
		Msg("Payment flagged for manual reconciliation")
}

func (s *SettlementService) invalidateAvailability(ctx context.Context, eventID uuid.UUID) {
	if s.cacheClient == nil || eventID == uuid.Nil {
		return
	}
	if err := s.cacheClient.Delete(ctx, cache.AvailabilityCacheKey(eventID)); err != nil {
		log.Warn().Err(err).Str("event_id", eventID.String()).Msg("Failed to invalidate availability cache")
	}
}

func revokeTicket(ticket *models.Ticket) {
	ticket.State = models.TicketStateRevoked
	ticket.ListingPrice = nil
	ticket.ClearReservation()
	ticket.Version++
}
