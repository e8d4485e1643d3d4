package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kevin07696/escrow-service/pkg/timeutil"
)

// HoldStatus is the escrow sub-state carried by a transaction. It moves
// independently of TransactionStatus except at the edges: a full release
// completes the transaction and a hold cancellation cancels it.
type HoldStatus string

const (
	HoldStatusNone              HoldStatus = "none"
	HoldStatusHeld              HoldStatus = "held"
	HoldStatusPartiallyReleased HoldStatus = "partially_released"
	HoldStatusReleased          HoldStatus = "released"
	HoldStatusCancelled         HoldStatus = "cancelled"
)

// ReleaseRecord is one disbursement out of a hold. Each release also exists
// as its own expense Transaction row; TransactionID points at it.
type ReleaseRecord struct {
	TransactionID string          `json:"transaction_id"`
	RecipientID   string          `json:"recipient_id"`
	RecipientType string          `json:"recipient_type"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason,omitempty"`
	ReleasedAt    time.Time       `json:"released_at"`
}

// HoldDetails tracks funds held in escrow against a verified transaction.
// Invariant: ReleasedAmount never exceeds HeldAmount, and each release is
// bounded by the remaining balance at the time it is applied.
type HoldDetails struct {
	Status         HoldStatus      `json:"status"`
	HeldAmount     decimal.Decimal `json:"held_amount"`
	ReleasedAmount decimal.Decimal `json:"released_amount"`
	Releases       []ReleaseRecord `json:"releases,omitempty"`
	HeldAt         *time.Time      `json:"held_at,omitempty"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

// NewHoldDetails returns the zero-value hold state for a fresh transaction.
func NewHoldDetails() HoldDetails {
	return HoldDetails{
		Status:         HoldStatusNone,
		HeldAmount:     decimal.Zero,
		ReleasedAmount: decimal.Zero,
	}
}

// RemainingBalance returns the held funds not yet released.
func (h *HoldDetails) RemainingBalance() decimal.Decimal {
	return h.HeldAmount.Sub(h.ReleasedAmount)
}

// IsActive reports whether funds are currently under escrow.
func (h *HoldDetails) IsActive() bool {
	return h.Status == HoldStatusHeld || h.Status == HoldStatusPartiallyReleased
}

// CanHold reports whether a new hold may be placed on the transaction. Only
// verified payments with no prior hold qualify.
func (t *Transaction) CanHold() bool {
	return t.Status == StatusVerified && t.Hold.Status == HoldStatusNone
}

// BeginHold places the full transaction amount in escrow.
func (t *Transaction) BeginHold(reason string) error {
	if t.Status != StatusVerified {
		return NewIllegalStateError(string(t.Status), string(StatusVerified))
	}
	if t.Hold.Status != HoldStatusNone {
		return NewDomainError(ErrorCodeIllegalState, "transaction already has a hold").
			WithDetail("hold_status", string(t.Hold.Status))
	}
	now := timeutil.Now()
	t.Hold = HoldDetails{
		Status:         HoldStatusHeld,
		HeldAmount:     t.Amount,
		ReleasedAmount: decimal.Zero,
		HeldAt:         &now,
		Reason:         reason,
	}
	t.UpdatedAt = now
	return nil
}

// AppendRelease applies one disbursement to the hold. The record's amount
// must be positive and no greater than the remaining balance. Releasing the
// final balance closes the hold and completes the transaction.
func (t *Transaction) AppendRelease(rec ReleaseRecord) error {
	if !t.Hold.IsActive() {
		return NewDomainError(ErrorCodeIllegalState, "no active hold to release from").
			WithDetail("hold_status", string(t.Hold.Status))
	}
	if !rec.Amount.IsPositive() {
		return NewAmountError("amount", rec.Amount.String(), "release amount must be positive")
	}
	remaining := t.Hold.RemainingBalance()
	if rec.Amount.GreaterThan(remaining) {
		return NewAmountError("amount", rec.Amount.String(), "release exceeds remaining held balance").
			WithDetail("remaining_balance", remaining.String())
	}

	now := timeutil.Now()
	t.Hold.ReleasedAmount = t.Hold.ReleasedAmount.Add(rec.Amount)
	t.Hold.Releases = append(t.Hold.Releases, rec)

	if t.Hold.RemainingBalance().IsZero() {
		t.Hold.Status = HoldStatusReleased
		t.Hold.ClosedAt = &now
		if t.Status.CanTransitionTo(StatusCompleted) {
			t.Status = StatusCompleted
		}
	} else {
		t.Hold.Status = HoldStatusPartiallyReleased
	}
	t.UpdatedAt = now
	return nil
}

// CancelHold voids a hold before any disbursement and cancels the
// transaction. Once a partial release has gone out the hold can only be
// driven forward; no release rows are created on cancel, and returning the
// funds to their source happens elsewhere.
func (t *Transaction) CancelHold(reason string) error {
	if t.Hold.Status != HoldStatusHeld {
		return NewDomainError(ErrorCodeIllegalState, "only a fully held escrow can be cancelled").
			WithDetail("hold_status", string(t.Hold.Status))
	}
	if !t.Status.CanTransitionTo(StatusCancelled) {
		return NewIllegalStateError(string(t.Status), string(StatusCancelled))
	}
	now := timeutil.Now()
	t.Hold.Status = HoldStatusCancelled
	t.Hold.ClosedAt = &now
	if reason != "" {
		t.Hold.Reason = reason
	}
	t.Status = StatusCancelled
	t.UpdatedAt = now
	return nil
}
