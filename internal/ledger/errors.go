package ledger

import "errors"

var (
	// ErrCouponNotFound is returned when no active coupon matches the code
	// for the tenant. Inactive and missing coupons are deliberately
	// indistinguishable so callers cannot probe which codes exist.
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrOutOfWindow is returned when the coupon is outside its validity window.
	ErrOutOfWindow = errors.New("coupon not valid at this time")

	// ErrUsageExhausted is returned when the coupon's usage limit has been
	// reached, either at validation time or when the redemption commit loses
	// a race for the last remaining slot.
	ErrUsageExhausted = errors.New("coupon usage limit reached")

	// ErrBelowMinimum is returned when the cart subtotal does not meet the
	// coupon's minimum cart total.
	ErrBelowMinimum = errors.New("cart total below coupon minimum")

	// ErrCodeTaken is returned when creating or renaming a coupon would
	// collide with an existing code for the same tenant.
	ErrCodeTaken = errors.New("coupon code already exists")

	// ErrCorruptCoupon signals a stored record that violates invariants
	// (negative value, inverted validity window). This is an upstream bug,
	// never a user-facing validation failure.
	ErrCorruptCoupon = errors.New("coupon record violates invariants")
)

// IsValidationError reports whether err is one of the expected, user-facing
// coupon validation failures (as opposed to infrastructure or invariant
// errors).
func IsValidationError(err error) bool {
	return errors.Is(err, ErrCouponNotFound) ||
		errors.Is(err, ErrOutOfWindow) ||
		errors.Is(err, ErrUsageExhausted) ||
		errors.Is(err, ErrBelowMinimum)
}
