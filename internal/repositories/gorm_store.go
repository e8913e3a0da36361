package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/ticketing/internal/models"
)

// GormStore implements Store against Postgres through GORM. It carries
// a write handle and a read-only handle; reads outside a transaction go
// to the read-only database, everything inside Atomically uses the
// transaction handle for both.
type GormStore struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
	inTx       bool
}

// NewGormStore creates a store over the given write and read-only
// database handles.
func NewGormStore(db, readOnlyDB *gorm.DB) *GormStore {
	return &GormStore{db: db, readOnlyDB: readOnlyDB}
}

// Atomically runs fn inside a single database transaction.
func (s *GormStore) Atomically(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, readOnlyDB: tx, inTx: true})
	})
}

func (s *GormStore) Events() EventRepository       { return &gormEventRepository{s} }
func (s *GormStore) Tickets() TicketRepository     { return &gormTicketRepository{s} }
func (s *GormStore) Payments() PaymentRepository   { return &gormPaymentRepository{s} }
func (s *GormStore) Transfers() TransferRepository { return &gormTransferRepository{s} }
func (s *GormStore) Payers() PayerRepository       { return &gormPayerRepository{s} }

func (s *GormStore) reader() *gorm.DB {
	if s.inTx {
		return s.db
	}
	return s.readOnlyDB
}

func translateError(err error, wrap string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	return errors.Wrap(err, wrap)
}

type gormEventRepository struct{ store *GormStore }

func (r *gormEventRepository) Create(ctx context.Context, event *models.Event) error {
	return translateError(r.store.db.WithContext(ctx).Create(event).Error, "failed to create event")
}

func (r *gormEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := r.store.reader().WithContext(ctx).
		Preload("PricingTiers").
		First(&event, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err, "failed to get event")
	}
	return &event, nil
}

func (r *gormEventRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := r.store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&event, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err, "failed to lock event")
	}
	return &event, nil
}

func (r *gormEventRepository) SaveCounts(ctx context.Context, event *models.Event) error {
	err := r.store.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"tickets_issued":    event.TicketsIssued,
			"tickets_remaining": event.TicketsRemaining,
		}).Error
	return translateError(err, "failed to save event counts")
}

func (r *gormEventRepository) GetTierForUpdate(ctx context.Context, tierID uuid.UUID) (*models.PricingTier, error) {
	var tier models.PricingTier
	err := r.store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&tier, "id = ?", tierID).Error
	if err != nil {
		return nil, translateError(err, "failed to lock pricing tier")
	}
	return &tier, nil
}

func (r *gormEventRepository) SaveTier(ctx context.Context, tier *models.PricingTier) error {
	err := r.store.db.WithContext(ctx).
		Model(&models.PricingTier{}).
		Where("id = ?", tier.ID).
		Update("remaining", tier.Remaining).Error
	return translateError(err, "failed to save pricing tier")
}

type gormTicketRepository struct{ store *GormStore }

func (r *gormTicketRepository) Create(ctx context.Context, ticket *models.Ticket) error {
	return translateError(r.store.db.WithContext(ctx).Create(ticket).Error, "failed to create ticket")
}

func (r *gormTicketRepository) CreateBatch(ctx context.Context, tickets []*models.Ticket) error {
	return translateError(r.store.db.WithContext(ctx).Create(tickets).Error, "failed to create tickets")
}

func (r *gormTicketRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	var ticket models.Ticket
	err := r.store.reader().WithContext(ctx).First(&ticket, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err, "failed to get ticket")
	}
	return &ticket, nil
}

func (r *gormTicketRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	var ticket models.Ticket
	err := r.store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&ticket, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err, "failed to lock ticket")
	}
	return &ticket, nil
}

func (r *gormTicketRepository) Save(ctx context.Context, ticket *models.Ticket) error {
	return translateError(r.store.db.WithContext(ctx).Save(ticket).Error, "failed to save ticket")
}

func (r *gormTicketRepository) FindRevocable(ctx context.Context, ownerID, eventID uuid.UUID) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	err := r.store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ? AND event_id = ? AND state <> ?", ownerID, eventID, models.TicketStateRevoked).
		Find(&tickets).Error
	if err != nil {
		return nil, translateError(err, "failed to find revocable tickets")
	}
	return tickets, nil
}

func (r *gormTicketRepository) FindByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	err := r.store.reader().WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at").
		Find(&tickets).Error
	if err != nil {
		return nil, translateError(err, "failed to find tickets by owner")
	}
	return tickets, nil
}

type gormPaymentRepository struct{ store *GormStore }

func (r *gormPaymentRepository) Create(ctx context.Context, record *models.PaymentRecord) error {
	return translateError(r.store.db.WithContext(ctx).Create(record).Error, "failed to create payment record")
}

func (r *gormPaymentRepository) GetByID(ctx context.Context, id string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	err := r.store.reader().WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err, "failed to get payment record")
	}
	return &record, nil
}

func (r *gormPaymentRepository) GetForUpdate(ctx context.Context, id string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	err := r.store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&record, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err, "failed to lock payment record")
	}
	return &record, nil
}

func (r *gormPaymentRepository) Save(ctx context.Context, record *models.PaymentRecord) error {
	return translateError(r.store.db.WithContext(ctx).Save(record).Error, "failed to save payment record")
}

func (r *gormPaymentRepository) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*models.PaymentRecord, error) {
	var records []*models.PaymentRecord
	err := r.store.reader().WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentStatusPending, olderThan).
		Order("created_at").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, translateError(err, "failed to find stale pending payments")
	}
	return records, nil
}

func (r *gormPaymentRepository) FindNeedsReconciliation(ctx context.Context, limit int) ([]*models.PaymentRecord, error) {
	var records []*models.PaymentRecord
	err := r.store.reader().WithContext(ctx).
		Where("needs_reconciliation = ?", true).
		Order("created_at").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, translateError(err, "failed to find payments needing reconciliation")
	}
	return records, nil
}

type gormTransferRepository struct{ store *GormStore }

func (r *gormTransferRepository) Create(ctx context.Context, record *models.TransferRecord) error {
	return translateError(r.store.db.WithContext(ctx).Create(record).Error, "failed to create transfer record")
}

type gormPayerRepository struct{ store *GormStore }

func (r *gormPayerRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.PayerAccount, error) {
	var account models.PayerAccount
	err := r.store.reader().WithContext(ctx).First(&account, "user_id = ?", userID).Error
	if err != nil {
		return nil, translateError(err, "failed to get payer account")
	}
	return &account, nil
}

func (r *gormPayerRepository) GetByAccountRef(ctx context.Context, ref string) (*models.PayerAccount, error) {
	var account models.PayerAccount
	err := r.store.reader().WithContext(ctx).First(&account, "gateway_account_ref = ?", ref).Error
	if err != nil {
		return nil, translateError(err, "failed to get payer account by reference")
	}
	return &account, nil
}

func (r *gormPayerRepository) Create(ctx context.Context, account *models.PayerAccount) error {
	return translateError(r.store.db.WithContext(ctx).Create(account).Error, "failed to create payer account")
}

func (r *gormPayerRepository) Save(ctx context.Context, account *models.PayerAccount) error {
	return translateError(r.store.db.WithContext(ctx).Save(account).Error, "failed to save payer account")
}
