package ports

import (
	"context"

	"github.com/kevin07696/escrow-service/internal/domain"
)

// ListTransactionsFilter narrows a ledger listing. Zero-value fields are not
// applied. Limit defaults to 50 and is capped by the repository.
type ListTransactionsFilter struct {
	OrganizationID string
	CustomerID     string
	ReferenceID    string
	Status         domain.TransactionStatus
	Type           domain.TransactionType
	Limit          int32
	Offset         int32
}

// LedgerRepository persists ledger transactions. Every method takes the
// executor explicitly so reads and conditional writes can share one database
// transaction under the service's control.
type LedgerRepository interface {
	// Create inserts a new transaction row at version 1.
	Create(ctx context.Context, tx DBTX, txn *domain.Transaction) error

	// GetByID retrieves a transaction by its ID. Returns a
	// NOT_FOUND_TRANSACTION error when no row matches.
	GetByID(ctx context.Context, db DBTX, id string) (*domain.Transaction, error)

	// GetByPaymentIntentID retrieves the transaction a provider intent maps
	// to. Verification and webhook handling arrive with only the provider's
	// identifiers; the row's gateway details name the provider afterwards.
	// Returns a NOT_FOUND_TRANSACTION error when no row matches.
	GetByPaymentIntentID(ctx context.Context, db DBTX, paymentIntentID string) (*domain.Transaction, error)

	// GetByIdempotencyKey retrieves a transaction by its idempotency key.
	// Returns (nil, nil) when no row matches so callers can branch on the
	// common first-attempt case without unwrapping errors.
	GetByIdempotencyKey(ctx context.Context, db DBTX, key string) (*domain.Transaction, error)

	// Update persists the full mutable state of txn conditioned on
	// expectedVersion. On success txn.Version is bumped to
	// expectedVersion+1; when another writer got there first it returns
	// domain.ErrVersionConflict and writes nothing.
	Update(ctx context.Context, tx DBTX, txn *domain.Transaction, expectedVersion int64) error

	// ClaimWebhookEvent atomically stamps eventID on the transaction unless
	// that exact event id is already recorded. Returns false without error
	// when the event was claimed before; the caller treats that as an
	// idempotent duplicate.
	ClaimWebhookEvent(ctx context.Context, tx DBTX, transactionID, eventID string) (bool, error)

	// List returns transactions matching the filter, newest first, plus the
	// total count ignoring pagination.
	List(ctx context.Context, db DBTX, filter ListTransactionsFilter) ([]*domain.Transaction, int64, error)
}
