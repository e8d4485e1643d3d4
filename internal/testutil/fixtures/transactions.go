// Package fixtures provides test data builders for ledger entities.
package fixtures

import (
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// TransactionBuilder provides a fluent API for building test transactions.
type TransactionBuilder struct {
	txn *domain.Transaction
}

// NewTransaction creates a builder with sensible defaults: a pending USD
// income payment of 100.00 routed through the sandbox provider.
func NewTransaction() *TransactionBuilder {
	now := timeutil.Now()
	return &TransactionBuilder{
		txn: &domain.Transaction{
			ID:             uuid.New().String(),
			OrganizationID: "org_test",
			Amount:         decimal.RequireFromString("100.00"),
			Currency:       "USD",
			Type:           domain.TypeIncome,
			Status:         domain.StatusPending,
			Gateway: domain.GatewayDetails{
				Type:            "sandbox",
				PaymentIntentID: "pi_" + uuid.New().String(),
			},
			RefundedAmount: decimal.Zero,
			Hold:           domain.NewHoldDetails(),
			Metadata:       map[string]string{},
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}
}

func (b *TransactionBuilder) WithID(id string) *TransactionBuilder {
	b.txn.ID = id
	return b
}

func (b *TransactionBuilder) WithOrganizationID(orgID string) *TransactionBuilder {
	b.txn.OrganizationID = orgID
	return b
}

func (b *TransactionBuilder) WithCustomerID(customerID string) *TransactionBuilder {
	b.txn.CustomerID = customerID
	return b
}

func (b *TransactionBuilder) WithReference(referenceID, referenceModel string) *TransactionBuilder {
	b.txn.ReferenceID = referenceID
	b.txn.ReferenceModel = referenceModel
	return b
}

func (b *TransactionBuilder) WithAmount(amount string) *TransactionBuilder {
	b.txn.Amount = decimal.RequireFromString(amount)
	return b
}

func (b *TransactionBuilder) WithCurrency(currency string) *TransactionBuilder {
	b.txn.Currency = currency
	return b
}

func (b *TransactionBuilder) Income() *TransactionBuilder {
	b.txn.Type = domain.TypeIncome
	return b
}

func (b *TransactionBuilder) Expense() *TransactionBuilder {
	b.txn.Type = domain.TypeExpense
	return b
}

func (b *TransactionBuilder) WithStatus(status domain.TransactionStatus) *TransactionBuilder {
	b.txn.Status = status
	return b
}

func (b *TransactionBuilder) Pending() *TransactionBuilder {
	b.txn.Status = domain.StatusPending
	return b
}

func (b *TransactionBuilder) PaymentInitiated() *TransactionBuilder {
	b.txn.Status = domain.StatusPaymentInitiated
	return b
}

// Verified sets the status only. Tests asserting on audit stamps should use
// VerifiedBy or drive the entity through MarkVerified instead.
func (b *TransactionBuilder) Verified() *TransactionBuilder {
	b.txn.Status = domain.StatusVerified
	return b
}

// VerifiedBy sets verified status together with the audit fields.
func (b *TransactionBuilder) VerifiedBy(verifier string) *TransactionBuilder {
	now := timeutil.Now()
	b.txn.Status = domain.StatusVerified
	b.txn.VerifiedAt = &now
	b.txn.VerifiedBy = verifier
	return b
}

func (b *TransactionBuilder) Completed() *TransactionBuilder {
	b.txn.Status = domain.StatusCompleted
	return b
}

func (b *TransactionBuilder) Failed(reason string) *TransactionBuilder {
	b.txn.Status = domain.StatusFailed
	b.txn.FailureReason = reason
	return b
}

func (b *TransactionBuilder) WithGateway(gatewayType, paymentIntentID, sessionID string) *TransactionBuilder {
	b.txn.Gateway = domain.GatewayDetails{
		Type:            gatewayType,
		PaymentIntentID: paymentIntentID,
		SessionID:       sessionID,
	}
	return b
}

func (b *TransactionBuilder) WithPaymentIntentID(paymentIntentID string) *TransactionBuilder {
	b.txn.Gateway.PaymentIntentID = paymentIntentID
	return b
}

func (b *TransactionBuilder) WithIdempotencyKey(key string) *TransactionBuilder {
	b.txn.IdempotencyKey = key
	return b
}

func (b *TransactionBuilder) WithMetadata(key, value string) *TransactionBuilder {
	b.txn.SetMetadata(key, value)
	return b
}

func (b *TransactionBuilder) WithRefundedAmount(total string) *TransactionBuilder {
	now := timeutil.Now()
	b.txn.RefundedAmount = decimal.RequireFromString(total)
	b.txn.RefundedAt = &now
	return b
}

// Held places the full current amount under escrow. Call after the amount is
// final.
func (b *TransactionBuilder) Held(reason string) *TransactionBuilder {
	now := timeutil.Now()
	b.txn.Status = domain.StatusVerified
	b.txn.Hold = domain.HoldDetails{
		Status:         domain.HoldStatusHeld,
		HeldAmount:     b.txn.Amount,
		ReleasedAmount: decimal.Zero,
		HeldAt:         &now,
		Reason:         reason,
	}
	return b
}

func (b *TransactionBuilder) WithSplits(splits []domain.Split) *TransactionBuilder {
	b.txn.Splits = splits
	return b
}

// WithProcessedWebhook stamps the webhook idempotency marker as applied.
func (b *TransactionBuilder) WithProcessedWebhook(eventID, eventType string) *TransactionBuilder {
	b.txn.RecordWebhook(eventID, eventType, timeutil.Now())
	return b
}

func (b *TransactionBuilder) WithVersion(version int64) *TransactionBuilder {
	b.txn.Version = version
	return b
}

func (b *TransactionBuilder) WithTimestamps(t time.Time) *TransactionBuilder {
	b.txn.CreatedAt = t
	b.txn.UpdatedAt = t
	return b
}

func (b *TransactionBuilder) Build() *domain.Transaction {
	return b.txn
}

// Convenience constructors for common scenarios

// PendingIncome creates a pending income payment awaiting verification.
func PendingIncome(orgID, amount string) *domain.Transaction {
	return NewTransaction().
		WithOrganizationID(orgID).
		WithAmount(amount).
		Pending().
		Build()
}

// VerifiedIncome creates a verified income payment ready to hold or refund.
func VerifiedIncome(orgID, amount string) *domain.Transaction {
	return NewTransaction().
		WithOrganizationID(orgID).
		WithAmount(amount).
		Verified().
		Build()
}

// HeldIncome creates a verified payment with its full amount under escrow.
func HeldIncome(orgID, amount string) *domain.Transaction {
	return NewTransaction().
		WithOrganizationID(orgID).
		WithAmount(amount).
		Held("").
		Build()
}
