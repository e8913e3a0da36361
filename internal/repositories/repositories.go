package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"example.com/backstage/services/ticketing/internal/models"
)

// Store aggregates the repositories backing the ticketing engine.
// Atomically runs the given function against a transaction-bound Store;
// every mutating business operation goes through it so that inventory,
// ticket and payment writes commit or roll back together.
type Store interface {
	Atomically(ctx context.Context, fn func(tx Store) error) error
	Events() EventRepository
	Tickets() TicketRepository
	Payments() PaymentRepository
	Transfers() TransferRepository
	Payers() PayerRepository
}

// EventRepository provides access to event aggregates and their tiers.
type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	// GetForUpdate locks the event row. Only valid inside Atomically.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Event, error)
	SaveCounts(ctx context.Context, event *models.Event) error
	GetTierForUpdate(ctx context.Context, tierID uuid.UUID) (*models.PricingTier, error)
	SaveTier(ctx context.Context, tier *models.PricingTier) error
}

// TicketRepository provides access to ticket records.
type TicketRepository interface {
	Create(ctx context.Context, ticket *models.Ticket) error
	CreateBatch(ctx context.Context, tickets []*models.Ticket) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	// GetForUpdate locks the ticket row. Only valid inside Atomically.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	Save(ctx context.Context, ticket *models.Ticket) error
	// FindRevocable returns the owner's tickets for an event that are
	// not already revoked.
	FindRevocable(ctx context.Context, ownerID, eventID uuid.UUID) ([]*models.Ticket, error)
	FindByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Ticket, error)
}

// PaymentRepository provides access to payment records keyed by the
// gateway transaction id.
type PaymentRepository interface {
	Create(ctx context.Context, record *models.PaymentRecord) error
	GetByID(ctx context.Context, id string) (*models.PaymentRecord, error)
	// GetForUpdate locks the payment row, serializing webhook replays
	// for the same transaction. Only valid inside Atomically.
	GetForUpdate(ctx context.Context, id string) (*models.PaymentRecord, error)
	Save(ctx context.Context, record *models.PaymentRecord) error
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*models.PaymentRecord, error)
	FindNeedsReconciliation(ctx context.Context, limit int) ([]*models.PaymentRecord, error)
}

// TransferRepository appends to the transfer audit trail.
type TransferRepository interface {
	Create(ctx context.Context, record *models.TransferRecord) error
}

// PayerRepository provides access to stored gateway payer references.
type PayerRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.PayerAccount, error)
	GetByAccountRef(ctx context.Context, ref string) (*models.PayerAccount, error)
	Create(ctx context.Context, account *models.PayerAccount) error
	Save(ctx context.Context, account *models.PayerAccount) error
}
