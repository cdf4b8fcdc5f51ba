// Package quota tracks per-tenant subscription usage: orders issued this
// billing period and active product count. Checks are side-effect-free
// reads; the order counter moves only through CommitOrderUsage, which uses
// the same compare-and-swap discipline as the coupon ledger.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/savorly/commerce-engine/internal/model"
	"github.com/savorly/commerce-engine/internal/pricing"
)

var (
	// ErrOrderLimitReached is returned when the tenant's plan order limit is
	// exhausted, at check time or when the usage commit loses a race for the
	// last remaining slot.
	ErrOrderLimitReached = errors.New("plan order limit reached")

	// ErrProductLimitReached is returned when the tenant's plan product
	// limit is exhausted.
	ErrProductLimitReached = errors.New("plan product limit reached")

	// ErrQuotaNotFound is returned when a tenant has no quota record.
	// Checkout fails closed rather than treating a missing subscription as
	// unlimited.
	ErrQuotaNotFound = errors.New("subscription quota not found")
)

// approachingThreshold is the percent-used level at which the usage report
// raises its warning flag.
const approachingThreshold = 80.0

// QuotaStore defines the persistence operations the tracker needs.
// IncrementUsedOrders must be atomic with the same contract as the coupon
// store: apply only when the stored count still equals expectedUsedOrders
// and remains under the plan limit, returning ErrOrderLimitReached otherwise.
type QuotaStore interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*model.SubscriptionQuota, error)
	IncrementUsedOrders(ctx context.Context, tenantID uuid.UUID, expectedUsedOrders int) error
}

// Snapshot is the result of a successful quota check. UsedOrders is the
// compare-and-swap guard a subsequent CommitOrderUsage must present.
type Snapshot struct {
	UsedOrders        int
	PlanLimitOrders   *int
	UsedProducts      int
	PlanLimitProducts *int
}

// Tracker answers "is there room" questions and commits order usage.
type Tracker struct {
	store QuotaStore
}

// NewTracker creates a Tracker backed by the given store.
func NewTracker(store QuotaStore) *Tracker {
	return &Tracker{store: store}
}

// CheckOrderQuota reports whether the tenant may place one more order.
// It fails with ErrOrderLimitReached when the plan limit is set and already
// reached; an unlimited plan always passes. No side effects.
func (t *Tracker) CheckOrderQuota(ctx context.Context, tenantID uuid.UUID) (*Snapshot, error) {
	q, err := t.get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if q.PlanLimitOrders != nil && q.UsedOrders >= *q.PlanLimitOrders {
		return nil, ErrOrderLimitReached
	}
	return snapshot(q), nil
}

// CheckProductQuota reports whether the tenant may activate one more
// product. Shares storage and semantics with the order check; called by the
// product-creation flow, not by checkout.
func (t *Tracker) CheckProductQuota(ctx context.Context, tenantID uuid.UUID) (*Snapshot, error) {
	q, err := t.get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if q.PlanLimitProducts != nil && q.UsedProducts >= *q.PlanLimitProducts {
		return nil, ErrProductLimitReached
	}
	return snapshot(q), nil
}

// CommitOrderUsage consumes one order slot. The increment applies only if
// the stored count still equals expectedUsedOrders (the guard captured by
// CheckOrderQuota) and the limit is not exceeded, both re-checked atomically
// at commit time. Returns ErrOrderLimitReached when the guard fails.
func (t *Tracker) CommitOrderUsage(ctx context.Context, tenantID uuid.UUID, expectedUsedOrders int) error {
	if err := t.store.IncrementUsedOrders(ctx, tenantID, expectedUsedOrders); err != nil {
		if errors.Is(err, ErrOrderLimitReached) {
			return ErrOrderLimitReached
		}
		return fmt.Errorf("commit order usage: %w", err)
	}
	return nil
}

// Usage returns the tenant's quota report with derived percent-used values.
// The ApproachingLimit flag trips at 80% on either counter; it feeds
// warning banners, never gating logic.
func (t *Tracker) Usage(ctx context.Context, tenantID uuid.UUID) (*model.QuotaResponse, error) {
	q, err := t.get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	ordersPct := pricing.PercentUsed(q.UsedOrders, q.PlanLimitOrders)
	productsPct := pricing.PercentUsed(q.UsedProducts, q.PlanLimitProducts)

	return &model.QuotaResponse{
		TenantID:            q.TenantID,
		PlanLimitOrders:     q.PlanLimitOrders,
		PlanLimitProducts:   q.PlanLimitProducts,
		UsedOrders:          q.UsedOrders,
		UsedProducts:        q.UsedProducts,
		OrdersPercentUsed:   ordersPct,
		ProductsPercentUsed: productsPct,
		ApproachingLimit:    ordersPct >= approachingThreshold || productsPct >= approachingThreshold,
	}, nil
}

func (t *Tracker) get(ctx context.Context, tenantID uuid.UUID) (*model.SubscriptionQuota, error) {
	q, err := t.store.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}
	if q == nil {
		return nil, ErrQuotaNotFound
	}
	return q, nil
}

func snapshot(q *model.SubscriptionQuota) *Snapshot {
	return &Snapshot{
		UsedOrders:        q.UsedOrders,
		PlanLimitOrders:   q.PlanLimitOrders,
		UsedProducts:      q.UsedProducts,
		PlanLimitProducts: q.PlanLimitProducts,
	}
}
