package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// pgUniqueViolation is the postgres error code for unique constraint violations
const pgUniqueViolation = "23505"

// selectColumns is the column list every read shares. webhook_event_id is
// excluded: it mirrors webhook->>'event_id' and exists only for the claim
// predicate and its index.
const selectColumns = `
	id, organization_id, customer_id, reference_id, reference_model,
	amount, currency, type, status,
	gateway, refunded_amount, refunded_at, verified_at, verified_by,
	hold, splits, webhook,
	idempotency_key, failure_reason, metadata,
	version, created_at, updated_at`

// LedgerRepository implements ports.LedgerRepository on raw pgx. Money
// columns are NUMERIC, structured sub-documents (gateway, hold, splits,
// webhook, metadata) are JSONB, and every write is conditioned so concurrent
// writers surface as domain errors instead of lost updates.
type LedgerRepository struct {
	db ports.DBTX
}

// NewLedgerRepository creates a postgres-backed ledger repository.
func NewLedgerRepository(db ports.DBPort) *LedgerRepository {
	return &LedgerRepository{db: db.GetDB()}
}

// executor returns the explicit transaction when one is passed, otherwise
// the pool.
func (r *LedgerRepository) executor(db ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return r.db
}

// Create inserts a new transaction row at version 1. Duplicate IDs and
// duplicate idempotency keys surface the unique index violations as domain
// database errors.
func (r *LedgerRepository) Create(ctx context.Context, tx ports.DBTX, txn *domain.Transaction) error {
	q := r.executor(tx)

	fields, err := encodeTransaction(txn)
	if err != nil {
		return err
	}

	const insertSQL = `
		INSERT INTO transactions (
			id, organization_id, customer_id, reference_id, reference_model,
			amount, currency, type, status,
			gateway, refunded_amount, refunded_at, verified_at, verified_by,
			hold, splits, webhook, webhook_event_id,
			idempotency_key, failure_reason, metadata,
			version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18,
			$19, $20, $21,
			1, $22, $23
		)`

	_, err = q.Exec(ctx, insertSQL,
		txn.ID, txn.OrganizationID, nullText(txn.CustomerID), nullText(txn.ReferenceID), nullText(txn.ReferenceModel),
		fields.amount, txn.Currency, string(txn.Type), string(txn.Status),
		fields.gateway, fields.refundedAmount, nullTime(txn.RefundedAt), nullTime(txn.VerifiedAt), nullText(txn.VerifiedBy),
		fields.hold, fields.splits, fields.webhook, fields.webhookEventID,
		nullText(txn.IdempotencyKey), nullText(txn.FailureReason), fields.metadata,
		txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			switch pgErr.ConstraintName {
			case "transactions_pkey":
				return domain.NewDomainError(domain.ErrorCodeDatabaseError, "duplicate transaction id").
					WithDetail("transaction_id", txn.ID)
			case "transactions_idempotency_key_uq":
				return domain.NewDomainError(domain.ErrorCodeDatabaseError, "duplicate idempotency key").
					WithDetail("idempotency_key", txn.IdempotencyKey)
			}
		}
		return fmt.Errorf("create transaction: %w", err)
	}

	txn.Version = 1
	return nil
}

// GetByID retrieves a transaction by its ID.
func (r *LedgerRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Transaction, error) {
	q := r.executor(db)

	row := q.QueryRow(ctx, `SELECT`+selectColumns+` FROM transactions WHERE id = $1`, id)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return txn, nil
}

// GetByPaymentIntentID retrieves the transaction holding a provider intent.
func (r *LedgerRepository) GetByPaymentIntentID(ctx context.Context, db ports.DBTX, paymentIntentID string) (*domain.Transaction, error) {
	if paymentIntentID == "" {
		return nil, intentNotFound(paymentIntentID)
	}
	q := r.executor(db)

	row := q.QueryRow(ctx, `SELECT`+selectColumns+` FROM transactions WHERE gateway->>'payment_intent_id' = $1`, paymentIntentID)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, intentNotFound(paymentIntentID)
		}
		return nil, fmt.Errorf("get transaction by payment intent id: %w", err)
	}
	return txn, nil
}

// GetByIdempotencyKey retrieves a transaction by key, or (nil, nil) when no
// row carries it.
func (r *LedgerRepository) GetByIdempotencyKey(ctx context.Context, db ports.DBTX, key string) (*domain.Transaction, error) {
	if key == "" {
		return nil, nil
	}
	q := r.executor(db)

	row := q.QueryRow(ctx, `SELECT`+selectColumns+` FROM transactions WHERE idempotency_key = $1`, key)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction by idempotency key: %w", err)
	}
	return txn, nil
}

// Update persists the full mutable state of txn conditioned on
// expectedVersion. RowsAffected zero means either the row vanished or a
// concurrent writer bumped the version first; the follow-up read tells the
// two apart.
func (r *LedgerRepository) Update(ctx context.Context, tx ports.DBTX, txn *domain.Transaction, expectedVersion int64) error {
	q := r.executor(tx)

	fields, err := encodeTransaction(txn)
	if err != nil {
		return err
	}

	const updateSQL = `
		UPDATE transactions SET
			organization_id = $2,
			customer_id = $3,
			reference_id = $4,
			reference_model = $5,
			amount = $6,
			currency = $7,
			type = $8,
			status = $9,
			gateway = $10,
			refunded_amount = $11,
			refunded_at = $12,
			verified_at = $13,
			verified_by = $14,
			hold = $15,
			splits = $16,
			webhook = $17,
			webhook_event_id = $18,
			idempotency_key = $19,
			failure_reason = $20,
			metadata = $21,
			updated_at = $22,
			version = version + 1
		WHERE id = $1 AND version = $23`

	tag, err := q.Exec(ctx, updateSQL,
		txn.ID, txn.OrganizationID, nullText(txn.CustomerID), nullText(txn.ReferenceID), nullText(txn.ReferenceModel),
		fields.amount, txn.Currency, string(txn.Type), string(txn.Status),
		fields.gateway, fields.refundedAmount, nullTime(txn.RefundedAt), nullTime(txn.VerifiedAt), nullText(txn.VerifiedBy),
		fields.hold, fields.splits, fields.webhook, fields.webhookEventID,
		nullText(txn.IdempotencyKey), nullText(txn.FailureReason), fields.metadata,
		txn.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var actual int64
		err := q.QueryRow(ctx, `SELECT version FROM transactions WHERE id = $1`, txn.ID).Scan(&actual)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(txn.ID)
		}
		if err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		return domain.NewDomainError(domain.ErrorCodeVersionConflict, "transaction was modified concurrently").
			WithDetail("transaction_id", txn.ID).
			WithDetail("expected_version", expectedVersion).
			WithDetail("actual_version", actual)
	}

	txn.Version = expectedVersion + 1
	return nil
}

// ClaimWebhookEvent stamps eventID as the transaction's webhook marker
// unless that exact event is already recorded. The conditional UPDATE makes
// the claim atomic; replays of a claimed event affect zero rows.
func (r *LedgerRepository) ClaimWebhookEvent(ctx context.Context, tx ports.DBTX, transactionID, eventID string) (bool, error) {
	q := r.executor(tx)

	marker, err := json.Marshal(&domain.WebhookRecord{
		EventID:    eventID,
		ReceivedAt: timeutil.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("marshal webhook marker: %w", err)
	}

	const claimSQL = `
		UPDATE transactions
		SET webhook_event_id = $2, webhook = $3
		WHERE id = $1 AND (webhook_event_id IS NULL OR webhook_event_id <> $2)`

	tag, err := q.Exec(ctx, claimSQL, transactionID, eventID, marker)
	if err != nil {
		return false, fmt.Errorf("claim webhook event: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)`, transactionID).Scan(&exists); err != nil {
			return false, fmt.Errorf("claim webhook event: %w", err)
		}
		if !exists {
			return false, notFound(transactionID)
		}
		return false, nil
	}

	return true, nil
}

// List returns matching transactions ordered by creation time descending,
// plus the total match count ignoring pagination.
func (r *LedgerRepository) List(ctx context.Context, db ports.DBTX, filter ports.ListTransactionsFilter) ([]*domain.Transaction, int64, error) {
	q := r.executor(db)

	var (
		conds []string
		args  []interface{}
	)
	add := func(format string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}

	if filter.OrganizationID != "" {
		add("organization_id = $%d", filter.OrganizationID)
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if filter.ReferenceID != "" {
		add("reference_id = $%d", filter.ReferenceID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := q.QueryRow(ctx, `SELECT count(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

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

	args = append(args, limit, offset)
	pageSQL := fmt.Sprintf(`SELECT%s FROM transactions%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		selectColumns, where, len(args)-1, len(args))

	rows, err := q.Query(ctx, pageSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]*domain.Transaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}

	return transactions, total, nil
}

// encodedFields holds the column values that need conversion before they can
// be bound as query arguments.
type encodedFields struct {
	amount         pgtype.Numeric
	refundedAmount pgtype.Numeric
	gateway        []byte
	hold           []byte
	splits         []byte
	webhook        []byte
	webhookEventID pgtype.Text
	metadata       []byte
}

func encodeTransaction(txn *domain.Transaction) (*encodedFields, error) {
	var fields encodedFields
	var err error

	if fields.amount, err = decimalToNumeric(txn.Amount); err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}
	if fields.refundedAmount, err = decimalToNumeric(txn.RefundedAmount); err != nil {
		return nil, fmt.Errorf("convert refunded amount: %w", err)
	}

	if fields.gateway, err = json.Marshal(txn.Gateway); err != nil {
		return nil, fmt.Errorf("marshal gateway: %w", err)
	}
	if fields.hold, err = json.Marshal(txn.Hold); err != nil {
		return nil, fmt.Errorf("marshal hold: %w", err)
	}

	if txn.Splits != nil {
		if fields.splits, err = json.Marshal(txn.Splits); err != nil {
			return nil, fmt.Errorf("marshal splits: %w", err)
		}
	}
	if txn.Webhook != nil {
		if fields.webhook, err = json.Marshal(txn.Webhook); err != nil {
			return nil, fmt.Errorf("marshal webhook: %w", err)
		}
		fields.webhookEventID = nullText(txn.Webhook.EventID)
	}

	if txn.Metadata != nil {
		if fields.metadata, err = json.Marshal(txn.Metadata); err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
	} else {
		fields.metadata = []byte("{}")
	}

	return &fields, nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var (
		txn domain.Transaction

		customerID, referenceID, referenceModel pgtype.Text
		verifiedBy, failureReason, idemKey      pgtype.Text
		txnType, status                         string
		amount, refundedAmount                  pgtype.Numeric
		refundedAt, verifiedAt                  pgtype.Timestamptz

		gatewayBytes, holdBytes, splitsBytes, webhookBytes, metadataBytes []byte
	)

	err := row.Scan(
		&txn.ID, &txn.OrganizationID, &customerID, &referenceID, &referenceModel,
		&amount, &txn.Currency, &txnType, &status,
		&gatewayBytes, &refundedAmount, &refundedAt, &verifiedAt, &verifiedBy,
		&holdBytes, &splitsBytes, &webhookBytes,
		&idemKey, &failureReason, &metadataBytes,
		&txn.Version, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.CustomerID = customerID.String
	txn.ReferenceID = referenceID.String
	txn.ReferenceModel = referenceModel.String
	txn.VerifiedBy = verifiedBy.String
	txn.FailureReason = failureReason.String
	txn.IdempotencyKey = idemKey.String
	txn.Type = domain.TransactionType(txnType)
	txn.Status = domain.TransactionStatus(status)
	txn.RefundedAt = timePtr(refundedAt)
	txn.VerifiedAt = timePtr(verifiedAt)

	if txn.Amount, err = pgNumericToDecimal(amount); err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}
	if txn.RefundedAmount, err = pgNumericToDecimal(refundedAmount); err != nil {
		return nil, fmt.Errorf("convert refunded amount: %w", err)
	}

	if len(gatewayBytes) > 0 {
		if err := json.Unmarshal(gatewayBytes, &txn.Gateway); err != nil {
			return nil, fmt.Errorf("unmarshal gateway: %w", err)
		}
	}
	if len(holdBytes) > 0 {
		if err := json.Unmarshal(holdBytes, &txn.Hold); err != nil {
			return nil, fmt.Errorf("unmarshal hold: %w", err)
		}
	}
	if len(splitsBytes) > 0 {
		if err := json.Unmarshal(splitsBytes, &txn.Splits); err != nil {
			return nil, fmt.Errorf("unmarshal splits: %w", err)
		}
	}
	if len(webhookBytes) > 0 {
		txn.Webhook = &domain.WebhookRecord{}
		if err := json.Unmarshal(webhookBytes, txn.Webhook); err != nil {
			return nil, fmt.Errorf("unmarshal webhook: %w", err)
		}
	}
	if len(metadataBytes) > 0 {
		var metadata map[string]string
		if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		if len(metadata) > 0 {
			txn.Metadata = metadata
		}
	}

	return &txn, nil
}

func notFound(id string) error {
	return domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found").
		WithDetail("transaction_id", id)
}

func intentNotFound(paymentIntentID string) error {
	return domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found").
		WithDetail("payment_intent_id", paymentIntentID)
}
