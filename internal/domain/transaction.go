package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kevin07696/escrow-service/pkg/timeutil"
)

// TransactionStatus represents the lifecycle state of a ledger transaction.
// Transitions are monotonic along the graph below; a transaction never
// returns to pending once verification has been attempted.
type TransactionStatus string

const (
	StatusPending           TransactionStatus = "pending"
	StatusPaymentInitiated  TransactionStatus = "payment_initiated"
	StatusVerified          TransactionStatus = "verified"
	StatusCompleted         TransactionStatus = "completed"
	StatusFailed            TransactionStatus = "failed"
	StatusRefunded          TransactionStatus = "refunded"
	StatusPartiallyRefunded TransactionStatus = "partially_refunded"
	StatusCancelled         TransactionStatus = "cancelled"
)

// statusTransitions is the allowed transition graph. Terminal states map to
// an empty set.
var statusTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:           {StatusPaymentInitiated, StatusVerified, StatusFailed, StatusCancelled},
	StatusPaymentInitiated:  {StatusVerified, StatusFailed, StatusCancelled},
	StatusVerified:          {StatusCompleted, StatusRefunded, StatusPartiallyRefunded, StatusCancelled},
	StatusCompleted:         {StatusRefunded, StatusPartiallyRefunded},
	StatusPartiallyRefunded: {StatusRefunded, StatusPartiallyRefunded},
	StatusFailed:            {},
	StatusRefunded:          {},
	StatusCancelled:         {},
}

// CanTransitionTo reports whether moving from s to target is allowed.
func (s TransactionStatus) CanTransitionTo(target TransactionStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from s.
func (s TransactionStatus) IsTerminal() bool {
	return len(statusTransitions[s]) == 0
}

// TransactionType classifies the direction of money movement.
type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

// GatewayDetails records which provider processed the payment and the
// identifiers it handed back.
type GatewayDetails struct {
	Type             string                 `json:"type"`
	PaymentIntentID  string                 `json:"payment_intent_id"`
	SessionID        string                 `json:"session_id,omitempty"`
	VerificationData map[string]interface{} `json:"verification_data,omitempty"`
}

// WebhookRecord is the idempotency marker for provider notifications. A
// webhook event id is applied to a transaction at most once; ProcessedAt set
// means the event's side effects have been committed.
type WebhookRecord struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Transaction is the ledger record every settlement operation reads and
// writes. Derived money movements (refunds, split payouts, releases) are
// separate Transaction rows referencing the origin via Metadata; the origin
// row's Amount is never edited after creation.
type Transaction struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	CustomerID     string `json:"customer_id,omitempty"`

	// ReferenceID/ReferenceModel link the transaction to the business entity
	// that caused it (order, subscription, invoice).
	ReferenceID    string `json:"reference_id,omitempty"`
	ReferenceModel string `json:"reference_model,omitempty"`

	Amount   decimal.Decimal   `json:"amount"`
	Currency string            `json:"currency"`
	Type     TransactionType   `json:"type"`
	Status   TransactionStatus `json:"status"`

	Gateway GatewayDetails `json:"gateway"`

	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty"`

	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	VerifiedBy string     `json:"verified_by,omitempty"`

	Hold   HoldDetails `json:"hold"`
	Splits []Split     `json:"splits,omitempty"`

	Webhook *WebhookRecord `json:"webhook,omitempty"`

	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	// Version increments on every persisted mutation; conditional updates use
	// it to reject concurrent writers.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Metadata keys linking derived rows back to their origin.
const (
	MetaOriginalTransactionID = "original_transaction_id"
	MetaHeldTransactionID     = "held_transaction_id"
	MetaOperation             = "operation"
	MetaRecipientID           = "recipient_id"
	MetaRecipientType         = "recipient_type"
	MetaReason                = "reason"
	MetaSplitType             = "split_type"
	MetaProviderRefundID      = "provider_refund_id"
)

// IsVerified reports whether the payment has passed verification, including
// the post-release completed state.
func (t *Transaction) IsVerified() bool {
	return t.Status == StatusVerified || t.Status == StatusCompleted
}

// CanRefund reports whether a refund may be attempted. Held and
// partially-released funds are under escrow distribution and must be
// cancelled or released before the payment can be refunded.
func (t *Transaction) CanRefund() bool {
	if t.Status != StatusVerified && t.Status != StatusCompleted && t.Status != StatusPartiallyRefunded {
		return false
	}
	if t.Hold.Status == HoldStatusHeld || t.Hold.Status == HoldStatusPartiallyReleased {
		return false
	}
	return t.RefundableAmount().IsPositive()
}

// RefundableAmount returns the amount still available to refund.
func (t *Transaction) RefundableAmount() decimal.Decimal {
	return t.Amount.Sub(t.RefundedAmount)
}

// MarkPaymentInitiated records the provider handle for a freshly opened
// payment and moves the transaction out of pending.
func (t *Transaction) MarkPaymentInitiated(paymentIntentID, sessionID string) error {
	if !t.Status.CanTransitionTo(StatusPaymentInitiated) {
		return NewIllegalStateError(string(t.Status), string(StatusPaymentInitiated))
	}
	if paymentIntentID == "" {
		return NewMissingFieldError("payment_intent_id")
	}
	t.Status = StatusPaymentInitiated
	t.Gateway.PaymentIntentID = paymentIntentID
	t.Gateway.SessionID = sessionID
	t.UpdatedAt = timeutil.Now()
	return nil
}

// MarkVerified transitions the transaction to verified and stamps the audit
// fields. Fails with IllegalState when the current status does not allow it.
func (t *Transaction) MarkVerified(verifiedBy string) error {
	if !t.Status.CanTransitionTo(StatusVerified) {
		return NewIllegalStateError(string(t.Status), string(StatusVerified))
	}
	now := timeutil.Now()
	t.Status = StatusVerified
	t.VerifiedAt = &now
	t.VerifiedBy = verifiedBy
	t.UpdatedAt = now
	return nil
}

// MarkFailed transitions the transaction to failed, recording why.
func (t *Transaction) MarkFailed(reason string) error {
	if !t.Status.CanTransitionTo(StatusFailed) {
		return NewIllegalStateError(string(t.Status), string(StatusFailed))
	}
	t.Status = StatusFailed
	t.FailureReason = reason
	t.UpdatedAt = timeutil.Now()
	return nil
}

// ApplyRefund accumulates a refund and moves the status to refunded or
// partially_refunded. Callers validate the amount against RefundableAmount
// first; the guard re-checks 0 <= RefundedAmount <= Amount so a bug upstream
// cannot corrupt the ledger.
func (t *Transaction) ApplyRefund(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewAmountError("amount", amount.String(), "refund amount must be positive")
	}
	newTotal := t.RefundedAmount.Add(amount)
	if newTotal.GreaterThan(t.Amount) {
		return NewAmountError("amount", amount.String(), "refund exceeds refundable amount")
	}

	target := StatusPartiallyRefunded
	if newTotal.Equal(t.Amount) {
		target = StatusRefunded
	}
	if !t.Status.CanTransitionTo(target) {
		return NewIllegalStateError(string(t.Status), string(target))
	}

	now := timeutil.Now()
	t.RefundedAmount = newTotal
	t.RefundedAt = &now
	t.Status = target
	t.UpdatedAt = now
	return nil
}

// HasProcessedWebhookEvent reports whether the given provider event id has
// already been applied to this transaction.
func (t *Transaction) HasProcessedWebhookEvent(eventID string) bool {
	return t.Webhook != nil && t.Webhook.EventID == eventID && t.Webhook.ProcessedAt != nil
}

// RecordWebhook stamps the idempotency marker after an event's side effects
// have been applied.
func (t *Transaction) RecordWebhook(eventID, eventType string, receivedAt time.Time) {
	now := timeutil.Now()
	t.Webhook = &WebhookRecord{
		EventID:     eventID,
		EventType:   eventType,
		ReceivedAt:  receivedAt,
		ProcessedAt: &now,
	}
	t.UpdatedAt = now
}

// GetMetadata safely reads a metadata value.
func (t *Transaction) GetMetadata(key string) string {
	if t.Metadata == nil {
		return ""
	}
	return t.Metadata[key]
}

// SetMetadata writes a metadata value, allocating the map on first use.
func (t *Transaction) SetMetadata(key, value string) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}
