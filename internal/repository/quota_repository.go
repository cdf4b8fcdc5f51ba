package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/savorly/commerce-engine/internal/model"
	"github.com/savorly/commerce-engine/internal/quota"
)

// QuotaRepository provides data access for subscription quotas using pgx.
type QuotaRepository struct {
	pool PoolInterface
}

// NewQuotaRepository creates a new QuotaRepository with the given pool.
func NewQuotaRepository(pool *pgxpool.Pool) *QuotaRepository {
	return &QuotaRepository{pool: pool}
}

// NewQuotaRepositoryWithPool creates a new QuotaRepository with a custom
// pool interface. This is primarily used for testing.
func NewQuotaRepositoryWithPool(pool PoolInterface) *QuotaRepository {
	return &QuotaRepository{pool: pool}
}

// Get retrieves a tenant's quota record.
// Returns nil, nil if the tenant has none (the tracker handles this).
func (r *QuotaRepository) Get(ctx context.Context, tenantID uuid.UUID) (*model.SubscriptionQuota, error) {
	query := `SELECT tenant_id, plan_limit_orders, plan_limit_products, used_orders, used_products, updated_at
		FROM subscription_quotas WHERE tenant_id = $1`

	var q model.SubscriptionQuota
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&q.TenantID,
		&q.PlanLimitOrders,
		&q.PlanLimitProducts,
		&q.UsedOrders,
		&q.UsedProducts,
		&q.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get quota for tenant %s: %w", tenantID, err)
	}
	return &q, nil
}

// Upsert creates or replaces a tenant's plan limits, preserving current
// usage counters on conflict. Called when a tenant subscribes or changes plan.
func (r *QuotaRepository) Upsert(ctx context.Context, tenantID uuid.UUID, planLimitOrders, planLimitProducts *int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO subscription_quotas (tenant_id, plan_limit_orders, plan_limit_products)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id) DO UPDATE
		 SET plan_limit_orders = EXCLUDED.plan_limit_orders,
		     plan_limit_products = EXCLUDED.plan_limit_products,
		     updated_at = now()`,
		tenantID, planLimitOrders, planLimitProducts)
	if err != nil {
		return fmt.Errorf("upsert quota for tenant %s: %w", tenantID, err)
	}
	return nil
}

// IncrementUsedOrders atomically consumes one order slot with the same
// conditional-UPDATE compare-and-swap discipline as the coupon counter.
// Zero rows affected means the guard failed or the plan limit is exhausted.
func (r *QuotaRepository) IncrementUsedOrders(ctx context.Context, tenantID uuid.UUID, expectedUsedOrders int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE subscription_quotas SET used_orders = used_orders + 1, updated_at = now()
		 WHERE tenant_id = $1 AND used_orders = $2
		   AND (plan_limit_orders IS NULL OR used_orders < plan_limit_orders)`,
		tenantID, expectedUsedOrders)
	if err != nil {
		return fmt.Errorf("increment used orders for tenant %s: %w", tenantID, err)
	}
	if tag.RowsAffected() == 0 {
		return quota.ErrOrderLimitReached
	}
	return nil
}

// SetUsedProducts pins the active-product counter to the catalog's current
// count. Unlike order usage the product counter is not monotonic, so this is
// a plain write driven by the product collaborator.
func (r *QuotaRepository) SetUsedProducts(ctx context.Context, tenantID uuid.UUID, usedProducts int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE subscription_quotas SET used_products = $2, updated_at = now() WHERE tenant_id = $1`,
		tenantID, usedProducts)
	if err != nil {
		return fmt.Errorf("set used products for tenant %s: %w", tenantID, err)
	}
	return nil
}

// ResetUsedOrders zeroes the order counter at billing-period rollover.
// Driven by the billing collaborator, never by checkout.
func (r *QuotaRepository) ResetUsedOrders(ctx context.Context, tenantID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE subscription_quotas SET used_orders = 0, updated_at = now() WHERE tenant_id = $1`,
		tenantID)
	if err != nil {
		return fmt.Errorf("reset used orders for tenant %s: %w", tenantID, err)
	}
	return nil
}
