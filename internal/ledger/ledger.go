// Package ledger owns coupon records and the atomic redemption counter.
// Validation is side-effect free; the usage counter moves only through
// CommitRedemption, which applies an optimistic compare-and-swap so that
// concurrent checkouts racing for the last slot serialize correctly.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/savorly/commerce-engine/internal/model"
	"github.com/savorly/commerce-engine/internal/pricing"
)

// CouponStore defines the coupon persistence operations the ledger needs.
// IncrementUsage must be atomic: it applies only when the stored usage count
// still equals expectedUsageCount and remains under the usage limit, and
// returns ErrUsageExhausted otherwise.
type CouponStore interface {
	FindByCode(ctx context.Context, tenantID uuid.UUID, code string) (*model.Coupon, error)
	IncrementUsage(ctx context.Context, tenantID, couponID uuid.UUID, expectedUsageCount int) error
	DecrementUsage(ctx context.Context, tenantID, couponID uuid.UUID) error
}

// Validated is the outcome of a successful coupon validation.
type Validated struct {
	Coupon   model.Coupon
	Discount decimal.Decimal
	// GuardUsageCount is the usage count observed during validation. It is
	// the compare-and-swap guard a subsequent CommitRedemption must present.
	GuardUsageCount int
}

// Ledger validates coupon codes against cart totals and commits redemptions.
type Ledger struct {
	store CouponStore
}

// NewLedger creates a Ledger backed by the given store.
func NewLedger(store CouponStore) *Ledger {
	return &Ledger{store: store}
}

// Validate checks code against the tenant's coupons and the cart subtotal
// at the given instant. It has no side effects and never reserves usage, so
// browsing and preview do not consume quota.
//
// Failure order: ErrCouponNotFound (missing or inactive), ErrOutOfWindow,
// ErrUsageExhausted, ErrBelowMinimum.
func (l *Ledger) Validate(ctx context.Context, tenantID uuid.UUID, code string, cartSubtotal decimal.Decimal, now time.Time) (*Validated, error) {
	c, err := l.store.FindByCode(ctx, tenantID, model.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("find coupon: %w", err)
	}
	if c == nil || !c.Active {
		return nil, ErrCouponNotFound
	}

	// Records that violate invariants indicate an upstream bug in the CRUD
	// layer; refuse to proceed rather than silently clamp.
	if c.Value.IsNegative() || c.ValidFrom.After(c.ValidUntil) {
		return nil, fmt.Errorf("%w: coupon %s", ErrCorruptCoupon, c.ID)
	}

	if !pricing.WithinWindow(now, c.ValidFrom, c.ValidUntil) {
		return nil, ErrOutOfWindow
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return nil, ErrUsageExhausted
	}
	if c.MinimumCartTotal != nil && cartSubtotal.LessThan(*c.MinimumCartTotal) {
		return nil, ErrBelowMinimum
	}

	return &Validated{
		Coupon:          *c,
		Discount:        pricing.Discount(c.Kind, c.Value, cartSubtotal),
		GuardUsageCount: c.UsageCount,
	}, nil
}

// CommitRedemption consumes one unit of the coupon's usage allowance.
// The increment applies only if the stored usage count still equals
// expectedUsageCount (the guard captured by Validate) and the limit is not
// exhausted; both conditions are re-checked atomically at commit time.
// Returns ErrUsageExhausted when the guard fails, signaling the caller to
// re-validate and retry or abort the checkout.
func (l *Ledger) CommitRedemption(ctx context.Context, tenantID, couponID uuid.UUID, expectedUsageCount int) error {
	if err := l.store.IncrementUsage(ctx, tenantID, couponID, expectedUsageCount); err != nil {
		if errors.Is(err, ErrUsageExhausted) {
			return ErrUsageExhausted
		}
		return fmt.Errorf("commit redemption: %w", err)
	}
	return nil
}

// ReleaseRedemption returns one previously committed usage unit. It exists
// solely as the compensation path for a checkout whose later commits failed
// after the redemption had already been applied; nothing else may decrement
// the counter.
func (l *Ledger) ReleaseRedemption(ctx context.Context, tenantID, couponID uuid.UUID) error {
	if err := l.store.DecrementUsage(ctx, tenantID, couponID); err != nil {
		return fmt.Errorf("release redemption: %w", err)
	}
	return nil
}
