// Package checkout orchestrates a single checkout attempt: quota check,
// coupon validation, order creation, and the all-or-nothing commit of the
// coupon and quota counters. Order creation is the transaction boundary;
// counters move only after it succeeds, and any later failure compensates
// the created order so no partial effects survive.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/savorly/commerce-engine/internal/ledger"
	"github.com/savorly/commerce-engine/internal/model"
	"github.com/savorly/commerce-engine/internal/pricing"
	"github.com/savorly/commerce-engine/internal/quota"
)

// State is the lifecycle of one checkout attempt.
type State int

const (
	StateCollecting State = iota
	StateValidating
	StateCommitting
	StateCompleted
	StateRejected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateValidating:
		return "validating"
	case StateCommitting:
		return "committing"
	case StateCompleted:
		return "completed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

var (
	// ErrIndeterminate is returned when the order-creation call timed out or
	// was cancelled before responding. No counters were committed; the
	// caller should poll for the order by idempotency key before retrying
	// to avoid a duplicate.
	ErrIndeterminate = errors.New("order creation outcome unknown")

	// ErrCartInvalid signals a malformed cart snapshot reaching the
	// coordinator, which indicates an upstream bug.
	ErrCartInvalid = errors.New("invalid cart snapshot")

	// ErrCouponChanged is returned when a coupon's terms were edited
	// between validation and the commit retry, so the created order's
	// totals no longer match. The order is compensated; the caller may
	// simply retry the checkout.
	ErrCouponChanged = errors.New("coupon terms changed during checkout")
)

// CouponLedger is the slice of the coupon ledger the coordinator uses.
type CouponLedger interface {
	Validate(ctx context.Context, tenantID uuid.UUID, code string, cartSubtotal decimal.Decimal, now time.Time) (*ledger.Validated, error)
	CommitRedemption(ctx context.Context, tenantID, couponID uuid.UUID, expectedUsageCount int) error
	ReleaseRedemption(ctx context.Context, tenantID, couponID uuid.UUID) error
}

// QuotaTracker is the slice of the quota tracker the coordinator uses.
type QuotaTracker interface {
	CheckOrderQuota(ctx context.Context, tenantID uuid.UUID) (*quota.Snapshot, error)
	CommitOrderUsage(ctx context.Context, tenantID uuid.UUID, expectedUsedOrders int) error
}

// OrderCreator is the downstream order collaborator. CreateOrder must be
// idempotent under the supplied idempotency key so a retry after
// ErrIndeterminate cannot create a duplicate order.
type OrderCreator interface {
	CreateOrder(ctx context.Context, order model.NewOrder) (uuid.UUID, error)
	CancelOrder(ctx context.Context, tenantID, orderID uuid.UUID) error
}

// Attempt is one checkout request. The cart collaborator has already
// validated the snapshot; the tenant collaborator has already authorized
// the tenant id.
type Attempt struct {
	TenantID     uuid.UUID
	CartSubtotal decimal.Decimal
	Items        []model.CartItem
	CouponCode   string
	// CouponOptional lets checkout proceed without the discount when the
	// coupon fails validation, instead of rejecting the attempt.
	CouponOptional bool
	// IdempotencyKey deduplicates retries; generated when left zero.
	IdempotencyKey uuid.UUID
}

// Result is the outcome of a completed checkout.
type Result struct {
	State          State
	OrderID        uuid.UUID
	Discount       decimal.Decimal
	FinalTotal     decimal.Decimal
	AppliedCoupon  string // normalized code, empty when no coupon applied
	IdempotencyKey uuid.UUID
}

// Coordinator drives checkout attempts against the ledger, the tracker,
// and the order collaborator. It owns no background work; every method is
// request/response.
type Coordinator struct {
	ledger CouponLedger
	quota  QuotaTracker
	orders OrderCreator
	now    func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(l CouponLedger, q QuotaTracker, o OrderCreator) *Coordinator {
	return &Coordinator{ledger: l, quota: q, orders: o, now: time.Now}
}

// Checkout runs one attempt to completion. On success every required
// counter commit has been applied; on any error no effects remain (a
// created order is cancelled, an applied redemption released). The single
// exception is ErrIndeterminate, where the order-creation outcome itself
// is unknown and the caller must reconcile via the idempotency key.
func (c *Coordinator) Checkout(ctx context.Context, att Attempt) (*Result, error) {
	if att.CartSubtotal.IsNegative() {
		return nil, fmt.Errorf("%w: negative cart subtotal", ErrCartInvalid)
	}
	if att.IdempotencyKey == uuid.Nil {
		att.IdempotencyKey = uuid.New()
	}

	state := StateValidating
	logState(att, state)

	snap, err := c.quota.CheckOrderQuota(ctx, att.TenantID)
	if err != nil {
		return c.reject(att, err)
	}

	var applied *ledger.Validated
	if att.CouponCode != "" {
		v, err := c.ledger.Validate(ctx, att.TenantID, att.CouponCode, att.CartSubtotal, c.now())
		switch {
		case err == nil:
			applied = v
		case att.CouponOptional && ledger.IsValidationError(err):
			log.Debug().
				Stringer("tenant_id", att.TenantID).
				Err(err).
				Msg("proceeding without best-effort coupon")
		default:
			return c.reject(att, err)
		}
	}

	discount := decimal.Zero
	code := ""
	if applied != nil {
		discount = applied.Discount
		code = applied.Coupon.Code
	}
	total := pricing.FinalTotal(att.CartSubtotal, discount)

	state = StateCommitting
	logState(att, state)

	orderID, err := c.orders.CreateOrder(ctx, model.NewOrder{
		TenantID:       att.TenantID,
		IdempotencyKey: att.IdempotencyKey,
		Items:          att.Items,
		Subtotal:       att.CartSubtotal,
		Discount:       discount,
		Total:          total,
		CouponCode:     code,
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// Fail closed: no counters were touched. Surfaced distinctly so
			// the caller can poll for the order before retrying.
			return nil, fmt.Errorf("%w (idempotency key %s)", ErrIndeterminate, att.IdempotencyKey)
		}
		return c.reject(att, fmt.Errorf("create order: %w", err))
	}

	committed, err := c.commitCoupon(ctx, att, applied)
	if err != nil {
		c.compensate(ctx, att.TenantID, orderID, uuid.Nil)
		return c.reject(att, err)
	}
	if err := c.commitQuota(ctx, att, snap); err != nil {
		var redeemed uuid.UUID
		if committed != nil {
			redeemed = committed.Coupon.ID
		}
		c.compensate(ctx, att.TenantID, orderID, redeemed)
		return c.reject(att, err)
	}

	log.Info().
		Stringer("tenant_id", att.TenantID).
		Stringer("order_id", orderID).
		Str("coupon", code).
		Str("final_total", total.String()).
		Msg("checkout completed")

	return &Result{
		State:          StateCompleted,
		OrderID:        orderID,
		Discount:       discount,
		FinalTotal:     total,
		AppliedCoupon:  code,
		IdempotencyKey: att.IdempotencyKey,
	}, nil
}

// commitCoupon applies the redemption with the guard captured at validation
// time. On a lost race it re-validates once against fresh counters and
// retries; a second loss or a failed re-validation escalates to the
// matching validation error, and a diverged discount aborts with
// ErrCouponChanged since the created order carries the original totals.
// Returns the validation whose guard was committed, or nil when no coupon
// applies; on error nothing has been committed.
func (c *Coordinator) commitCoupon(ctx context.Context, att Attempt, applied *ledger.Validated) (*ledger.Validated, error) {
	if applied == nil {
		return nil, nil
	}

	err := c.ledger.CommitRedemption(ctx, att.TenantID, applied.Coupon.ID, applied.GuardUsageCount)
	if err == nil {
		return applied, nil
	}
	if !errors.Is(err, ledger.ErrUsageExhausted) {
		return nil, err
	}

	log.Debug().
		Stringer("tenant_id", att.TenantID).
		Stringer("coupon_id", applied.Coupon.ID).
		Msg("redemption commit lost race, re-validating")

	fresh, err := c.ledger.Validate(ctx, att.TenantID, att.CouponCode, att.CartSubtotal, c.now())
	if err != nil {
		return nil, err
	}
	if !fresh.Discount.Equal(applied.Discount) {
		return nil, ErrCouponChanged
	}
	if err := c.ledger.CommitRedemption(ctx, att.TenantID, fresh.Coupon.ID, fresh.GuardUsageCount); err != nil {
		return nil, err
	}
	return fresh, nil
}

// commitQuota applies the order-usage increment with the guard from the
// initial quota check, retrying once with a fresh read on a lost race.
func (c *Coordinator) commitQuota(ctx context.Context, att Attempt, snap *quota.Snapshot) error {
	err := c.quota.CommitOrderUsage(ctx, att.TenantID, snap.UsedOrders)
	if err == nil {
		return nil
	}
	if !errors.Is(err, quota.ErrOrderLimitReached) {
		return err
	}

	log.Debug().
		Stringer("tenant_id", att.TenantID).
		Msg("order usage commit lost race, re-checking quota")

	fresh, err := c.quota.CheckOrderQuota(ctx, att.TenantID)
	if err != nil {
		return err
	}
	return c.quota.CommitOrderUsage(ctx, att.TenantID, fresh.UsedOrders)
}

// compensate undoes partial effects after a failed commit phase: the
// created order is cancelled and, when a redemption had already been
// applied, its usage unit is released. Runs detached from the request
// context so a caller cancellation cannot strand the partial state.
func (c *Coordinator) compensate(ctx context.Context, tenantID, orderID, redeemedCouponID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)

	if redeemedCouponID != uuid.Nil {
		if err := c.ledger.ReleaseRedemption(ctx, tenantID, redeemedCouponID); err != nil {
			log.Error().
				Err(err).
				Stringer("tenant_id", tenantID).
				Stringer("coupon_id", redeemedCouponID).
				Msg("failed to release redemption during compensation")
		}
	}
	if err := c.orders.CancelOrder(ctx, tenantID, orderID); err != nil {
		log.Error().
			Err(err).
			Stringer("tenant_id", tenantID).
			Stringer("order_id", orderID).
			Msg("failed to cancel order during compensation")
	}
}

func (c *Coordinator) reject(att Attempt, err error) (*Result, error) {
	logState(att, StateRejected)
	return nil, err
}

func logState(att Attempt, s State) {
	log.Debug().
		Stringer("tenant_id", att.TenantID).
		Stringer("idempotency_key", att.IdempotencyKey).
		Stringer("state", s).
		Msg("checkout state")
}
