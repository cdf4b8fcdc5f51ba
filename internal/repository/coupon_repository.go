// Package repository provides the Postgres-backed stores for coupons,
// quotas, and orders using pgx. The counter mutations are single conditional
// UPDATEs, which gives the compare-and-swap atomicity the engine's commit
// operations require without explicit locking.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/savorly/commerce-engine/internal/ledger"
	"github.com/savorly/commerce-engine/internal/model"
)

// pgUniqueViolation is the Postgres error code for unique constraint violations.
const pgUniqueViolation = "23505"

// PoolInterface defines the database operations needed by repositories.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CouponRepository provides data access for coupons using pgx.
type CouponRepository struct {
	pool PoolInterface
}

// NewCouponRepository creates a new CouponRepository with the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// NewCouponRepositoryWithPool creates a new CouponRepository with a custom
// pool interface. This is primarily used for testing.
func NewCouponRepositoryWithPool(pool PoolInterface) *CouponRepository {
	return &CouponRepository{pool: pool}
}

const couponColumns = `id, tenant_id, code, kind, value, minimum_cart_total,
	valid_from, valid_until, usage_limit, usage_count, active, created_at, updated_at`

// FindByCode retrieves a coupon by (tenant, normalized code), active or not.
// Returns nil, nil if no coupon matches (the ledger handles this).
func (r *CouponRepository) FindByCode(ctx context.Context, tenantID uuid.UUID, code string) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE tenant_id = $1 AND code = $2`

	c, err := scanCoupon(r.pool.QueryRow(ctx, query, tenantID, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find coupon by code %s: %w", code, err)
	}
	return c, nil
}

// FindByID retrieves a coupon by id within a tenant.
// Returns nil, nil if no coupon matches.
func (r *CouponRepository) FindByID(ctx context.Context, tenantID, couponID uuid.UUID) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE tenant_id = $1 AND id = $2`

	c, err := scanCoupon(r.pool.QueryRow(ctx, query, tenantID, couponID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find coupon %s: %w", couponID, err)
	}
	return c, nil
}

// Insert creates a new coupon with a zero usage count.
// Returns ledger.ErrCodeTaken if the normalized code already exists for the tenant.
func (r *CouponRepository) Insert(ctx context.Context, c *model.Coupon) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO coupons (id, tenant_id, code, kind, value, minimum_cart_total,
			valid_from, valid_until, usage_limit, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.TenantID, c.Code, c.Kind, c.Value, c.MinimumCartTotal,
		c.ValidFrom, c.ValidUntil, c.UsageLimit, c.Active)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ledger.ErrCodeTaken
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// Update rewrites every admin-mutable field of a coupon. The usage counter
// is deliberately absent from the SET list; only IncrementUsage may move it.
// Returns ledger.ErrCouponNotFound if no row matches, ledger.ErrCodeTaken on
// a code collision.
func (r *CouponRepository) Update(ctx context.Context, c *model.Coupon) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE coupons SET code = $3, kind = $4, value = $5, minimum_cart_total = $6,
			valid_from = $7, valid_until = $8, usage_limit = $9, active = $10, updated_at = now()
		 WHERE tenant_id = $1 AND id = $2`,
		c.TenantID, c.ID, c.Code, c.Kind, c.Value, c.MinimumCartTotal,
		c.ValidFrom, c.ValidUntil, c.UsageLimit, c.Active)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ledger.ErrCodeTaken
		}
		return fmt.Errorf("update coupon %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrCouponNotFound
	}
	return nil
}

// Deactivate soft-deletes a coupon. A deactivated coupon never validates,
// regardless of its date window.
func (r *CouponRepository) Deactivate(ctx context.Context, tenantID, couponID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE coupons SET active = false, updated_at = now() WHERE tenant_id = $1 AND id = $2`,
		tenantID, couponID)
	if err != nil {
		return fmt.Errorf("deactivate coupon %s: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrCouponNotFound
	}
	return nil
}

// IncrementUsage atomically consumes one usage unit. The single conditional
// UPDATE is the compare-and-swap: it applies only while the stored count
// still equals expectedUsageCount and remains under the limit. Zero rows
// affected means the guard failed and the caller must re-validate.
func (r *CouponRepository) IncrementUsage(ctx context.Context, tenantID, couponID uuid.UUID, expectedUsageCount int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE coupons SET usage_count = usage_count + 1, updated_at = now()
		 WHERE tenant_id = $1 AND id = $2 AND usage_count = $3
		   AND (usage_limit IS NULL OR usage_count < usage_limit)`,
		tenantID, couponID, expectedUsageCount)
	if err != nil {
		return fmt.Errorf("increment usage for coupon %s: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrUsageExhausted
	}
	return nil
}

// DecrementUsage returns one usage unit, flooring at zero. Compensation
// path only.
func (r *CouponRepository) DecrementUsage(ctx context.Context, tenantID, couponID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE coupons SET usage_count = usage_count - 1, updated_at = now()
		 WHERE tenant_id = $1 AND id = $2 AND usage_count > 0`,
		tenantID, couponID)
	if err != nil {
		return fmt.Errorf("decrement usage for coupon %s: %w", couponID, err)
	}
	return nil
}

// ListByTenant returns all of a tenant's coupons ordered by creation time.
func (r *CouponRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE tenant_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list coupons for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	coupons := []model.Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon row: %w", err)
		}
		coupons = append(coupons, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coupon rows: %w", err)
	}
	return coupons, nil
}

func scanCoupon(row pgx.Row) (*model.Coupon, error) {
	var c model.Coupon
	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Code,
		&c.Kind,
		&c.Value,
		&c.MinimumCartTotal,
		&c.ValidFrom,
		&c.ValidUntil,
		&c.UsageLimit,
		&c.UsageCount,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
