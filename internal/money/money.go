// Package money provides fixed-point amount helpers shared by the settlement
// core. All monetary values are shopspring decimals rounded to two decimal
// places; rounding is half-up, matching how gateway statements report amounts.
package money

import (
	"github.com/shopspring/decimal"
)

var (
	// Zero is the canonical zero amount.
	Zero = decimal.Zero

	oneHundred = decimal.NewFromInt(100)
)

// Round2 rounds an amount half-up to two decimal places.
// Amounts in this system are non-negative, so half-up and
// half-away-from-zero coincide.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ApplyRate multiplies amount by rate and rounds half-up to two decimal
// places. rate is a fraction in [0,1], not a percentage.
func ApplyRate(amount, rate decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(rate))
}

// FromMinorUnits converts an integer minor-unit amount (e.g. cents) to a
// two-decimal major-unit decimal.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(oneHundred)
}

// ToMinorUnits converts a major-unit amount to integer minor units,
// rounding half-up.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(oneHundred).Round(0).IntPart()
}

// IsNegative reports whether the amount is strictly below zero.
func IsNegative(amount decimal.Decimal) bool {
	return amount.Sign() < 0
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ClampToZero returns zero when amount is negative, otherwise the amount
// unchanged. Used where rounding drift could push a net payout below zero.
func ClampToZero(amount decimal.Decimal) decimal.Decimal {
	if amount.Sign() < 0 {
		return decimal.Zero
	}
	return amount
}

// RateInUnitInterval reports whether rate lies in [0,1].
func RateInUnitInterval(rate decimal.Decimal) bool {
	return rate.Sign() >= 0 && rate.LessThanOrEqual(decimal.NewFromInt(1))
}
