// Package storetest provides an in-memory Store for service tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/backstage/services/ticketing/internal/models"
	"example.com/backstage/services/ticketing/internal/repositories"
)

type memData struct {
	events    map[uuid.UUID]*models.Event
	tiers     map[uuid.UUID]*models.PricingTier
	tickets   map[uuid.UUID]*models.Ticket
	payments  map[string]*models.PaymentRecord
	transfers []*models.TransferRecord
	payers    map[uuid.UUID]*models.PayerAccount
}

// MemoryStore implements repositories.Store with maps. Atomically
// serializes transactions under one mutex and rolls back on error by
// restoring a snapshot, which is enough fidelity for service tests.
type MemoryStore struct {
	mu   *sync.Mutex
	data *memData
	inTx bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		data: &memData{
			events:   make(map[uuid.UUID]*models.Event),
			tiers:    make(map[uuid.UUID]*models.PricingTier),
			tickets:  make(map[uuid.UUID]*models.Ticket),
			payments: make(map[string]*models.PaymentRecord),
			payers:   make(map[uuid.UUID]*models.PayerAccount),
		},
	}
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Atomically runs fn against a transaction-bound view and restores the
// pre-transaction snapshot when fn fails.
func (s *MemoryStore) Atomically(ctx context.Context, fn func(tx repositories.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&MemoryStore{mu: s.mu, data: s.data, inTx: true}); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) Events() repositories.EventRepository       { return &memEvents{s} }
func (s *MemoryStore) Tickets() repositories.TicketRepository     { return &memTickets{s} }
func (s *MemoryStore) Payments() repositories.PaymentRepository   { return &memPayments{s} }
func (s *MemoryStore) Transfers() repositories.TransferRepository { return &memTransfers{s} }
func (s *MemoryStore) Payers() repositories.PayerRepository       { return &memPayers{s} }

// TransferCount reports how many transfer records have been appended.
func (s *MemoryStore) TransferCount() int {
	defer s.lock()()
	return len(s.data.transfers)
}

// LastTransfer returns the most recently appended transfer record.
func (s *MemoryStore) LastTransfer() *models.TransferRecord {
	defer s.lock()()
	if len(s.data.transfers) == 0 {
		return nil
	}
	copied := *s.data.transfers[len(s.data.transfers)-1]
	return &copied
}

func (d *memData) clone() *memData {
	out := &memData{
		events:    make(map[uuid.UUID]*models.Event, len(d.events)),
		tiers:     make(map[uuid.UUID]*models.PricingTier, len(d.tiers)),
		tickets:   make(map[uuid.UUID]*models.Ticket, len(d.tickets)),
		payments:  make(map[string]*models.PaymentRecord, len(d.payments)),
		transfers: append([]*models.TransferRecord(nil), d.transfers...),
		payers:    make(map[uuid.UUID]*models.PayerAccount, len(d.payers)),
	}
	for k, v := range d.events {
		copied := *v
		out.events[k] = &copied
	}
	for k, v := range d.tiers {
		copied := *v
		out.tiers[k] = &copied
	}
	for k, v := range d.tickets {
		copied := *v
		out.tickets[k] = &copied
	}
	for k, v := range d.payments {
		copied := *v
		out.payments[k] = &copied
	}
	for k, v := range d.payers {
		copied := *v
		out.payers[k] = &copied
	}
	return out
}

type memEvents struct{ store *MemoryStore }

func (r *memEvents) Create(ctx context.Context, event *models.Event) error {
	defer r.store.lock()()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	copied := *event
	copied.PricingTiers = nil
	r.store.data.events[event.ID] = &copied
	for i := range event.PricingTiers {
		tier := event.PricingTiers[i]
		if tier.ID == uuid.Nil {
			tier.ID = uuid.New()
			event.PricingTiers[i].ID = tier.ID
		}
		tier.EventID = event.ID
		r.store.data.tiers[tier.ID] = &tier
	}
	return nil
}

func (r *memEvents) get(id uuid.UUID, withTiers bool) (*models.Event, error) {
	stored, ok := r.store.data.events[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *stored
	if withTiers {
		for _, tier := range r.store.data.tiers {
			if tier.EventID == id {
				copied.PricingTiers = append(copied.PricingTiers, *tier)
			}
		}
		sort.Slice(copied.PricingTiers, func(i, j int) bool {
			return copied.PricingTiers[i].UnitPrice < copied.PricingTiers[j].UnitPrice
		})
	}
	return &copied, nil
}

func (r *memEvents) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	defer r.store.lock()()
	return r.get(id, true)
}

func (r *memEvents) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	defer r.store.lock()()
	return r.get(id, false)
}

func (r *memEvents) SaveCounts(ctx context.Context, event *models.Event) error {
	defer r.store.lock()()
	stored, ok := r.store.data.events[event.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	stored.TicketsIssued = event.TicketsIssued
	stored.TicketsRemaining = event.TicketsRemaining
	return nil
}

func (r *memEvents) GetTierForUpdate(ctx context.Context, tierID uuid.UUID) (*models.PricingTier, error) {
	defer r.store.lock()()
	stored, ok := r.store.data.tiers[tierID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *memEvents) SaveTier(ctx context.Context, tier *models.PricingTier) error {
	defer r.store.lock()()
	stored, ok := r.store.data.tiers[tier.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	stored.Remaining = tier.Remaining
	return nil
}

type memTickets struct{ store *MemoryStore }

func (r *memTickets) Create(ctx context.Context, ticket *models.Ticket) error {
	defer r.store.lock()()
	if ticket.ID == uuid.Nil {
		ticket.ID = uuid.New()
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now()
	}
	copied := *ticket
	r.store.data.tickets[ticket.ID] = &copied
	return nil
}

func (r *memTickets) CreateBatch(ctx context.Context, tickets []*models.Ticket) error {
	for _, ticket := range tickets {
		if err := r.Create(ctx, ticket); err != nil {
			return err
		}
	}
	return nil
}

func (r *memTickets) GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	defer r.store.lock()()
	stored, ok := r.store.data.tickets[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *memTickets) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	return r.GetByID(ctx, id)
}

func (r *memTickets) Save(ctx context.Context, ticket *models.Ticket) error {
	defer r.store.lock()()
	copied := *ticket
	r.store.data.tickets[ticket.ID] = &copied
	return nil
}

func (r *memTickets) FindRevocable(ctx context.Context, ownerID, eventID uuid.UUID) ([]*models.Ticket, error) {
	defer r.store.lock()()
	var out []*models.Ticket
	for _, ticket := range r.store.data.tickets {
		if ticket.OwnerID == ownerID && ticket.EventID == eventID && ticket.State != models.TicketStateRevoked {
			copied := *ticket
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memTickets) FindByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Ticket, error) {
	defer r.store.lock()()
	var out []*models.Ticket
	for _, ticket := range r.store.data.tickets {
		if ticket.OwnerID == ownerID {
			copied := *ticket
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memPayments struct{ store *MemoryStore }

func (r *memPayments) Create(ctx context.Context, record *models.PaymentRecord) error {
	defer r.store.lock()()
	if _, ok := r.store.data.payments[record.ID]; ok {
		return repositories.ErrDuplicateKey
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	copied := *record
	r.store.data.payments[record.ID] = &copied
	return nil
}

func (r *memPayments) GetByID(ctx context.Context, id string) (*models.PaymentRecord, error) {
	defer r.store.lock()()
	stored, ok := r.store.data.payments[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *memPayments) GetForUpdate(ctx context.Context, id string) (*models.PaymentRecord, error) {
	return r.GetByID(ctx, id)
}

func (r *memPayments) Save(ctx context.Context, record *models.PaymentRecord) error {
	defer r.store.lock()()
	copied := *record
	r.store.data.payments[record.ID] = &copied
	return nil
}

func (r *memPayments) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*models.PaymentRecord, error) {
	defer r.store.lock()()
	var out []*models.PaymentRecord
	for _, record := range r.store.data.payments {
		if record.Status == models.PaymentStatusPending && record.CreatedAt.Before(olderThan) {
			copied := *record
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPayments) FindNeedsReconciliation(ctx context.Context, limit int) ([]*models.PaymentRecord, error) {
	defer r.store.lock()()
	var out []*models.PaymentRecord
	for _, record := range r.store.data.payments {
		if record.NeedsReconciliation {
			copied := *record
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTransfers struct{ store *MemoryStore }

func (r *memTransfers) Create(ctx context.Context, record *models.TransferRecord) error {
	defer r.store.lock()()
	copied := *record
	r.store.data.transfers = append(r.store.data.transfers, &copied)
	return nil
}

type memPayers struct{ store *MemoryStore }

func (r *memPayers) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.PayerAccount, error) {
	defer r.store.lock()()
	stored, ok := r.store.data.payers[userID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *memPayers) GetByAccountRef(ctx context.Context, ref string) (*models.PayerAccount, error) {
	defer r.store.lock()()
	for _, account := range r.store.data.payers {
		if account.GatewayAccountRef == ref {
			copied := *account
			return &copied, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *memPayers) Create(ctx context.Context, account *models.PayerAccount) error {
	defer r.store.lock()()
	if _, ok := r.store.data.payers[account.UserID]; ok {
		return repositories.ErrDuplicateKey
	}
	copied := *account
	r.store.data.payers[account.UserID] = &copied
	return nil
}

func (r *memPayers) Save(ctx context.Context, account *models.PayerAccount) error {
	defer r.store.lock()()
	copied := *account
	r.store.data.payers[account.UserID] = &copied
	return nil
}
