// Package pricing holds the pure temporal and numeric rules shared by the
// coupon ledger, the quota tracker, and the checkout coordinator. Every
// function here is total over well-typed input and has no side effects.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/savorly/commerce-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// WithinWindow reports whether now falls inside [validFrom, validUntil].
// Both bounds are inclusive.
func WithinWindow(now, validFrom, validUntil time.Time) bool {
	return !now.Before(validFrom) && !now.After(validUntil)
}

// Discount computes the discount amount for the given kind and value against
// a cart subtotal, rounded to two decimal places. The result is clamped to
// [0, subtotal] so a fixed discount larger than the cart never produces a
// negative total. Callers must ensure value and subtotal are non-negative;
// the ledger rejects corrupt records before reaching this function.
func Discount(kind model.CouponKind, value, subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch kind {
	case model.KindPercentage:
		amount = subtotal.Mul(value).Div(hundred)
	case model.KindFixedAmount:
		amount = value
	default:
		return decimal.Zero
	}

	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	return amount.Round(2)
}

// FinalTotal returns max(0, subtotal - discount).
func FinalTotal(subtotal, discount decimal.Decimal) decimal.Decimal {
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// PercentUsed returns used/limit as a percentage. An unlimited plan
// (nil or non-positive limit) reports 0. This is a derived value for
// warning thresholds, never gating logic.
func PercentUsed(used int, limit *int) float64 {
	if limit == nil || *limit <= 0 {
		return 0
	}
	return float64(used) / float64(*limit) * 100
}
