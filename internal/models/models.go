package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Ticket lifecycle states
const (
	TicketStateIssued      = "ISSUED"
	TicketStateListed      = "LISTED"
	TicketStateTransferred = "TRANSFERRED"
	TicketStateRevoked     = "REVOKED"
)

// Payment record types
const (
	PaymentTypePrimary     = "PRIMARY"
	PaymentTypeMarketplace = "MARKETPLACE"
)

// Payment record statuses, mirroring the gateway transaction lifecycle
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusCanceled  = "canceled"
	PaymentStatusRefunded  = "refunded"
)

// Event represents an admission event with a finite ticket inventory.
// TicketsRemaining and TicketsIssued are always mutated together with
// the tier counters in a single transaction.
type Event struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
	OrganizationID   *uuid.UUID     `gorm:"type:uuid" json:"organization_id"`
	Name             string         `gorm:"not null" json:"name"`
	Currency         string         `gorm:"not null;default:'CHF'" json:"currency"`
	Capacity         int            `gorm:"not null" json:"capacity"`
	TicketsIssued    int            `gorm:"not null;default:0" json:"tickets_issued"`
	TicketsRemaining int            `gorm:"not null" json:"tickets_remaining"`
	StartsAt         *time.Time     `json:"starts_at"`
	EndsAt           *time.Time     `json:"ends_at"`
	PricingTiers     []PricingTier  `gorm:"foreignKey:EventID" json:"pricing_tiers"`
	Tickets          []Ticket       `gorm:"foreignKey:EventID" json:"-"`
}

// CheckCounts verifies the ledger invariants on the aggregate counters.
func (e *Event) CheckCounts() error {
	if e.TicketsRemaining != e.Capacity-e.TicketsIssued {
		return errors.Errorf("event %s: remaining %d != capacity %d - issued %d",
			e.ID, e.TicketsRemaining, e.Capacity, e.TicketsIssued)
	}
	tierRemaining := 0
	for _, tier := range e.PricingTiers {
		tierRemaining += tier.Remaining
	}
	if tierRemaining > e.TicketsRemaining {
		return errors.Errorf("event %s: tier remaining %d exceeds tickets remaining %d",
			e.ID, tierRemaining, e.TicketsRemaining)
	}
	return nil
}

// PricingTier is a named price band within an event's inventory.
type PricingTier struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	EventID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"event_id"`
	Name      string         `gorm:"not null" json:"name"`
	UnitPrice int64          `gorm:"not null" json:"unit_price"`
	Quantity  int            `gorm:"not null" json:"quantity"`
	Remaining int            `gorm:"not null" json:"remaining"`
}

// Ticket is a single admission right. A reservation is a property of a
// LISTED ticket (ReservedBy/ReservedUntil), not a separate state.
type Ticket struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	EventID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"event_id"`
	OwnerID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	TierID          *uuid.UUID     `gorm:"type:uuid" json:"tier_id"`
	PurchasePrice   int64          `gorm:"not null" json:"purchase_price"`
	Currency        string         `gorm:"not null;default:'CHF'" json:"currency"`
	State           string         `gorm:"not null;index" json:"state"`
	ListingPrice    *int64         `json:"listing_price"`
	ReservedBy      *uuid.UUID     `gorm:"type:uuid" json:"reserved_by"`
	ReservedUntil   *time.Time     `json:"reserved_until"`
	PreviousOwnerID *uuid.UUID     `gorm:"type:uuid" json:"previous_owner_id"`
	TransferPrice   *int64         `json:"transfer_price"`
	ExpiresAt       *time.Time     `json:"expires_at"`
	Version         int64          `gorm:"not null;default:0" json:"version"`
}

// ReservedFor reports whether the ticket currently holds a live
// reservation for the given buyer.
func (t *Ticket) ReservedFor(buyerID uuid.UUID, now time.Time) bool {
	return t.ReservedBy != nil && *t.ReservedBy == buyerID &&
		t.ReservedUntil != nil && t.ReservedUntil.After(now)
}

// ReservationExpired reports whether a hold exists but has lapsed.
// Expiry is enforced lazily at the next reservation attempt.
func (t *Ticket) ReservationExpired(now time.Time) bool {
	return t.ReservedBy != nil &&
		(t.ReservedUntil == nil || !t.ReservedUntil.After(now))
}

// ClearReservation drops the hold fields without touching state.
func (t *Ticket) ClearReservation() {
	t.ReservedBy = nil
	t.ReservedUntil = nil
}

// PaymentRecord tracks one gateway transaction. Its ID equals the
// gateway transaction id and doubles as the webhook idempotency key.
type PaymentRecord struct {
	ID                  string     `gorm:"primaryKey" json:"id"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	Type                string     `gorm:"not null" json:"type"`
	BuyerID             uuid.UUID  `gorm:"type:uuid;not null;index" json:"buyer_id"`
	EventID             uuid.UUID  `gorm:"type:uuid;not null;index" json:"event_id"`
	TicketID            *uuid.UUID `gorm:"type:uuid" json:"ticket_id"`
	SellerID            *uuid.UUID `gorm:"type:uuid" json:"seller_id"`
	TierID              *uuid.UUID `gorm:"type:uuid" json:"tier_id"`
	Quantity            int        `gorm:"not null;default:1" json:"quantity"`
	Amount              int64      `gorm:"not null" json:"amount"`
	Currency            string     `gorm:"not null" json:"currency"`
	Status              string     `gorm:"not null;index" json:"status"`
	NeedsReconciliation bool       `gorm:"not null;default:false;index" json:"needs_reconciliation"`
	ReconciliationNote  *string    `json:"reconciliation_note"`
}

// Terminal reports whether the record has reached a final status.
// Transitions out of a terminal status never happen.
func (p *PaymentRecord) Terminal() bool {
	switch p.Status {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCanceled, PaymentStatusRefunded:
		return true
	}
	return false
}

// TransferRecord is the append-only audit trail of marketplace
// settlements. Rows are created once and never updated.
type TransferRecord struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	TicketID           uuid.UUID `gorm:"type:uuid;not null;index" json:"ticket_id"`
	EventID            uuid.UUID `gorm:"type:uuid;not null;index" json:"event_id"`
	FromUserID         uuid.UUID `gorm:"type:uuid;not null" json:"from_user_id"`
	ToUserID           uuid.UUID `gorm:"type:uuid;not null" json:"to_user_id"`
	Amount             int64     `gorm:"not null" json:"amount"`
	PaymentReferenceID string    `gorm:"not null" json:"payment_reference_id"`
}

// PayerAccount stores the gateway payer reference for a user so
// subsequent purchases reuse it instead of creating a new account.
type PayerAccount struct {
	UserID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	GatewayAccountRef string    `gorm:"not null;uniqueIndex" json:"gateway_account_ref"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	Status            string    `json:"status"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Event{},
		&PricingTier{},
		&Ticket{},
		&PaymentRecord{},
		&TransferRecord{},
		&PayerAccount{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}
	return nil
}
