package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Domain events published after a mutation commits. Handlers observe state
// that is already durable; a failed handler never rolls the ledger back.

type PaymentVerifiedEvent struct {
	TransactionID  string          `json:"transaction_id"`
	OrganizationID string          `json:"organization_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Provider       string          `json:"provider"`
	VerifiedBy     string          `json:"verified_by,omitempty"`
	At             time.Time       `json:"at"`
}

func (PaymentVerifiedEvent) Name() string { return "payment.verified" }

type PaymentFailedEvent struct {
	TransactionID  string    `json:"transaction_id"`
	OrganizationID string    `json:"organization_id"`
	Provider       string    `json:"provider"`
	Reason         string    `json:"reason"`
	At             time.Time `json:"at"`
}

func (PaymentFailedEvent) Name() string { return "payment.failed" }

type PaymentRefundedEvent struct {
	TransactionID       string          `json:"transaction_id"`
	RefundTransactionID string          `json:"refund_transaction_id"`
	OrganizationID      string          `json:"organization_id"`
	Amount              decimal.Decimal `json:"amount"`
	TotalRefunded       decimal.Decimal `json:"total_refunded"`
	Partial             bool            `json:"partial"`
	At                  time.Time       `json:"at"`
}

func (PaymentRefundedEvent) Name() string { return "payment.refunded" }

type WebhookProcessedEvent struct {
	TransactionID string    `json:"transaction_id"`
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	NewStatus     string    `json:"new_status"`
	At            time.Time `json:"at"`
}

func (WebhookProcessedEvent) Name() string { return "webhook.processed" }

type EscrowHeldEvent struct {
	TransactionID  string          `json:"transaction_id"`
	OrganizationID string          `json:"organization_id"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason,omitempty"`
	At             time.Time       `json:"at"`
}

func (EscrowHeldEvent) Name() string { return "escrow.held" }

type EscrowReleasedEvent struct {
	TransactionID        string          `json:"transaction_id"`
	ReleaseTransactionID string          `json:"release_transaction_id"`
	RecipientID          string          `json:"recipient_id"`
	RecipientType        string          `json:"recipient_type"`
	Amount               decimal.Decimal `json:"amount"`
	RemainingBalance     decimal.Decimal `json:"remaining_balance"`
	Final                bool            `json:"final"`
	At                   time.Time       `json:"at"`
}

func (EscrowReleasedEvent) Name() string { return "escrow.released" }

type EscrowSplitEvent struct {
	TransactionID    string          `json:"transaction_id"`
	Recipients       int             `json:"recipients"`
	TotalReleased    decimal.Decimal `json:"total_released"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	At               time.Time       `json:"at"`
}

func (EscrowSplitEvent) Name() string { return "escrow.split" }

type EscrowCancelledEvent struct {
	TransactionID    string          `json:"transaction_id"`
	OrganizationID   string          `json:"organization_id"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	Reason           string          `json:"reason,omitempty"`
	At               time.Time       `json:"at"`
}

func (EscrowCancelledEvent) Name() string { return "escrow.cancelled" }
