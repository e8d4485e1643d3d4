// Package splits computes multi-party commission allocations for a single
// incoming payment. All functions are pure: they never touch persistence and
// never mutate their inputs.
package splits

import (
	"github.com/shopspring/decimal"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/money"
)

// recipientTypeFor maps a split type to the recipient classification stored
// on payout rows.
func recipientTypeFor(t domain.SplitType) string {
	switch t {
	case domain.SplitTypePlatform:
		return domain.RecipientTypePlatform
	case domain.SplitTypeAffiliate:
		return domain.RecipientTypeAffiliate
	case domain.SplitTypePartner:
		return domain.RecipientTypePartner
	default:
		return string(t)
	}
}

// Calculate computes one split line per rule. Gross is the rule's share of
// amount, rounded half-up to cents; when per-line rounding pushes the
// combined gross above amount the excess is shaved off the later lines, so
// the lines together never claim more than the amount itself. The whole
// gateway fee is attributed to the first rule in the supplied order; net is
// gross minus that line's fee, floored at zero. Downward rounding drift is
// accepted and the organization payout absorbs it.
func Calculate(amount decimal.Decimal, rules []domain.SplitRule, gatewayFeeRate decimal.Decimal) ([]domain.Split, error) {
	if amount.IsNegative() {
		return nil, domain.NewAmountError("amount", amount.String(), "amount must not be negative")
	}
	if !money.RateInUnitInterval(gatewayFeeRate) {
		return nil, domain.NewRateError("gateway_fee_rate", gatewayFeeRate.String(), "rate must be between 0 and 1")
	}
	if err := domain.ValidateSplitRules(rules); err != nil {
		return nil, err
	}

	gatewayFee := money.ApplyRate(amount, gatewayFeeRate)

	grosses := make([]decimal.Decimal, len(rules))
	total := decimal.Zero
	for i, rule := range rules {
		grosses[i] = money.ApplyRate(amount, rule.Rate)
		total = total.Add(grosses[i])
	}

	// Half-up rounding on every line can over-allocate cent-scale amounts.
	excess := total.Sub(amount)
	for i := len(grosses) - 1; i >= 0 && excess.IsPositive(); i-- {
		take := decimal.Min(excess, grosses[i])
		grosses[i] = grosses[i].Sub(take)
		excess = excess.Sub(take)
	}

	result := make([]domain.Split, 0, len(rules))
	for i, rule := range rules {
		fee := decimal.Zero
		if i == 0 {
			fee = gatewayFee
		}

		net := money.ClampToZero(money.Round2(grosses[i].Sub(fee)))

		result = append(result, domain.Split{
			Type:             rule.Type,
			RecipientID:      rule.RecipientID,
			RecipientType:    recipientTypeFor(rule.Type),
			Rate:             rule.Rate,
			GrossAmount:      grosses[i],
			GatewayFeeAmount: fee,
			NetAmount:        net,
			Status:           domain.SplitStatusPending,
		})
	}
	return result, nil
}

// OrganizationPayout is what remains for the receiving organization after
// all split lines take their gross share. Never negative.
func OrganizationPayout(amount decimal.Decimal, computed []domain.Split) decimal.Decimal {
	return money.ClampToZero(amount.Sub(domain.TotalGross(computed)))
}

// Reverse proportionally scales every split line by refundAmount over
// originalAmount and marks the scaled lines waived. A full refund reproduces
// the original allocations within rounding tolerance; a zero refund yields
// all-zero lines. Reversing payout transactions that already went out is the
// caller's concern.
func Reverse(computed []domain.Split, originalAmount, refundAmount decimal.Decimal) ([]domain.Split, error) {
	if !originalAmount.IsPositive() {
		return nil, domain.NewAmountError("original_amount", originalAmount.String(), "original amount must be positive")
	}
	if refundAmount.IsNegative() {
		return nil, domain.NewAmountError("refund_amount", refundAmount.String(), "refund amount must not be negative")
	}
	if refundAmount.GreaterThan(originalAmount) {
		return nil, domain.NewAmountError("refund_amount", refundAmount.String(), "refund amount exceeds original amount")
	}

	ratio := refundAmount.Div(originalAmount)

	reversed := make([]domain.Split, 0, len(computed))
	for _, s := range computed {
		reversed = append(reversed, domain.Split{
			Type:             s.Type,
			RecipientID:      s.RecipientID,
			RecipientType:    s.RecipientType,
			Rate:             s.Rate,
			GrossAmount:      money.Round2(s.GrossAmount.Mul(ratio)),
			GatewayFeeAmount: money.Round2(s.GatewayFeeAmount.Mul(ratio)),
			NetAmount:        money.Round2(s.NetAmount.Mul(ratio)),
			Status:           domain.SplitStatusWaived,
		})
	}
	return reversed, nil
}
