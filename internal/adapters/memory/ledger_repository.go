// Package memory provides an in-memory ledger repository. It backs service
// tests and local development without postgres: conditional updates and
// webhook claims behave like the SQL adapter, but each method is atomic on
// its own and there is no isolation across a database transaction.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// LedgerRepository keeps transactions in a map guarded by a single mutex.
// Every method hands out deep copies so callers can never mutate stored
// state except through Update.
type LedgerRepository struct {
	mu   sync.RWMutex
	byID map[string]*domain.Transaction
}

// NewLedgerRepository creates an empty in-memory ledger.
func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{byID: make(map[string]*domain.Transaction)}
}

// Create inserts a new transaction at version 1. Duplicate IDs and duplicate
// idempotency keys are rejected the way the SQL unique indexes would.
func (r *LedgerRepository) Create(ctx context.Context, _ ports.DBTX, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[txn.ID]; ok {
		return domain.NewDomainError(domain.ErrorCodeDatabaseError, "duplicate transaction id").
			WithDetail("transaction_id", txn.ID)
	}
	if txn.IdempotencyKey != "" {
		for _, existing := range r.byID {
			if existing.IdempotencyKey == txn.IdempotencyKey {
				return domain.NewDomainError(domain.ErrorCodeDatabaseError, "duplicate idempotency key").
					WithDetail("idempotency_key", txn.IdempotencyKey)
			}
		}
	}

	cp := cloneTransaction(txn)
	cp.Version = 1
	r.byID[cp.ID] = cp
	txn.Version = 1
	return nil
}

// GetByID retrieves a transaction by its ID.
func (r *LedgerRepository) GetByID(ctx context.Context, _ ports.DBTX, id string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	txn, ok := r.byID[id]
	if !ok {
		return nil, notFound(id)
	}
	return cloneTransaction(txn), nil
}

// GetByPaymentIntentID retrieves the transaction holding a provider intent.
func (r *LedgerRepository) GetByPaymentIntentID(ctx context.Context, _ ports.DBTX, paymentIntentID string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, txn := range r.byID {
		if txn.Gateway.PaymentIntentID == paymentIntentID {
			return cloneTransaction(txn), nil
		}
	}
	return nil, domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found").
		WithDetail("payment_intent_id", paymentIntentID)
}

// GetByIdempotencyKey retrieves a transaction by key, or (nil, nil) when no
// transaction carries it.
func (r *LedgerRepository) GetByIdempotencyKey(ctx context.Context, _ ports.DBTX, key string) (*domain.Transaction, error) {
	if key == "" {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, txn := range r.byID {
		if txn.IdempotencyKey == key {
			return cloneTransaction(txn), nil
		}
	}
	return nil, nil
}

// Update replaces the stored transaction if and only if its version still
// equals expectedVersion. A concurrent writer that got there first surfaces
// as a version conflict and the store is left untouched.
func (r *LedgerRepository) Update(ctx context.Context, _ ports.DBTX, txn *domain.Transaction, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[txn.ID]
	if !ok {
		return notFound(txn.ID)
	}
	if cur.Version != expectedVersion {
		return domain.NewDomainError(domain.ErrorCodeVersionConflict, "transaction was modified concurrently").
			WithDetail("transaction_id", txn.ID).
			WithDetail("expected_version", expectedVersion).
			WithDetail("actual_version", cur.Version)
	}

	cp := cloneTransaction(txn)
	cp.Version = expectedVersion + 1
	r.byID[cp.ID] = cp
	txn.Version = cp.Version
	return nil
}

// ClaimWebhookEvent stamps eventID as the transaction's webhook marker
// unless that exact event is already recorded. The marker holds the latest
// claimed event; replays of it report false so the caller skips processing.
func (r *LedgerRepository) ClaimWebhookEvent(ctx context.Context, _ ports.DBTX, transactionID, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[transactionID]
	if !ok {
		return false, notFound(transactionID)
	}
	if cur.Webhook != nil && cur.Webhook.EventID == eventID {
		return false, nil
	}

	cur.Webhook = &domain.WebhookRecord{
		EventID:    eventID,
		ReceivedAt: timeutil.Now(),
	}
	return true, nil
}

// List returns matching transactions ordered by creation time descending,
// plus the total match count ignoring pagination.
func (r *LedgerRepository) List(ctx context.Context, _ ports.DBTX, filter ports.ListTransactionsFilter) ([]*domain.Transaction, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*domain.Transaction, 0, len(r.byID))
	for _, txn := range r.byID {
		if !matches(txn, filter) {
			continue
		}
		matched = append(matched, txn)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	if int(offset) >= len(matched) {
		return []*domain.Transaction{}, total, nil
	}
	end := int(offset) + int(limit)
	if end > len(matched) {
		end = len(matched)
	}

	page := make([]*domain.Transaction, 0, end-int(offset))
	for _, txn := range matched[offset:end] {
		page = append(page, cloneTransaction(txn))
	}
	return page, total, nil
}

// Len reports how many transactions the ledger holds.
func (r *LedgerRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func matches(txn *domain.Transaction, filter ports.ListTransactionsFilter) bool {
	if filter.OrganizationID != "" && txn.OrganizationID != filter.OrganizationID {
		return false
	}
	if filter.CustomerID != "" && txn.CustomerID != filter.CustomerID {
		return false
	}
	if filter.ReferenceID != "" && txn.ReferenceID != filter.ReferenceID {
		return false
	}
	if filter.Status != "" && txn.Status != filter.Status {
		return false
	}
	if filter.Type != "" && txn.Type != filter.Type {
		return false
	}
	return true
}

func notFound(id string) error {
	return domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found").
		WithDetail("transaction_id", id)
}

func cloneTransaction(t *domain.Transaction) *domain.Transaction {
	cp := *t
	cp.Metadata = cloneStringMap(t.Metadata)
	cp.Gateway.VerificationData = cloneAnyMap(t.Gateway.VerificationData)
	cp.RefundedAt = cloneTime(t.RefundedAt)
	cp.VerifiedAt = cloneTime(t.VerifiedAt)

	cp.Hold.HeldAt = cloneTime(t.Hold.HeldAt)
	cp.Hold.ClosedAt = cloneTime(t.Hold.ClosedAt)
	if t.Hold.Releases != nil {
		cp.Hold.Releases = append([]domain.ReleaseRecord(nil), t.Hold.Releases...)
	}

	if t.Splits != nil {
		cp.Splits = make([]domain.Split, len(t.Splits))
		copy(cp.Splits, t.Splits)
		for i := range cp.Splits {
			cp.Splits[i].PaidAt = cloneTime(t.Splits[i].PaidAt)
		}
	}

	if t.Webhook != nil {
		w := *t.Webhook
		w.ProcessedAt = cloneTime(t.Webhook.ProcessedAt)
		cp.Webhook = &w
	}
	return &cp
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func cloneAnyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	cp := make(map[string]interface{}, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
