package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kevin07696/escrow-service/internal/money"
)

// SplitType identifies which party a commission split belongs to.
type SplitType string

const (
	SplitTypePlatform  SplitType = "platform"
	SplitTypeAffiliate SplitType = "affiliate"
	SplitTypePartner   SplitType = "partner"
)

// SplitStatus tracks whether a computed split has been paid out.
type SplitStatus string

const (
	SplitStatusPending SplitStatus = "pending"
	SplitStatusPaid    SplitStatus = "paid"
	SplitStatusWaived  SplitStatus = "waived"
)

// RecipientType classifies who receives money from a release or payout.
const (
	RecipientTypeOrganization = "organization"
	RecipientTypePlatform     = "platform"
	RecipientTypeAffiliate    = "affiliate"
	RecipientTypePartner      = "partner"
)

// SplitRule declares one beneficiary's cut as a fraction of the gross
// amount. Rates are validated into [0, 1]; the rule set as a whole must not
// claim more than the full amount.
type SplitRule struct {
	Type        SplitType       `json:"type"`
	RecipientID string          `json:"recipient_id"`
	Rate        decimal.Decimal `json:"rate"`
}

// Validate checks a single rule in isolation.
func (r SplitRule) Validate() error {
	if r.Type == "" {
		return NewMissingFieldError("type")
	}
	if !money.RateInUnitInterval(r.Rate) {
		return NewRateError("rate", r.Rate.String(), "rate must be between 0 and 1")
	}
	return nil
}

// ValidateSplitRules checks each rule and the aggregate rate ceiling.
func ValidateSplitRules(rules []SplitRule) error {
	total := decimal.Zero
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		total = total.Add(r.Rate)
	}
	if total.GreaterThan(decimal.NewFromInt(1)) {
		return NewValidationError("rules", total.String(), "combined split rates exceed 100%")
	}
	return nil
}

// Split is a computed commission line stored on the origin transaction.
// GrossAmount is the rule's cut of the transaction amount; NetAmount is what
// remains after the gateway fee deduction applied to this split.
type Split struct {
	Type              SplitType       `json:"type"`
	RecipientID       string          `json:"recipient_id"`
	RecipientType     string          `json:"recipient_type"`
	Rate              decimal.Decimal `json:"rate"`
	GrossAmount       decimal.Decimal `json:"gross_amount"`
	GatewayFeeAmount  decimal.Decimal `json:"gateway_fee_amount"`
	NetAmount         decimal.Decimal `json:"net_amount"`
	Status            SplitStatus     `json:"status"`
	PaidTransactionID string          `json:"paid_transaction_id,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
}

// TotalNet sums the net amounts across splits.
func TotalNet(splits []Split) decimal.Decimal {
	total := decimal.Zero
	for _, s := range splits {
		total = total.Add(s.NetAmount)
	}
	return total
}

// TotalGross sums the gross amounts across splits.
func TotalGross(splits []Split) decimal.Decimal {
	total := decimal.Zero
	for _, s := range splits {
		total = total.Add(s.GrossAmount)
	}
	return total
}
