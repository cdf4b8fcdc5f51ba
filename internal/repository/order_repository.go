package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/savorly/commerce-engine/internal/model"
)

// ErrOrderNotFound is returned when no order matches the lookup.
var ErrOrderNotFound = errors.New("order not found")

// OrderRepository persists confirmed orders. It implements the checkout
// coordinator's OrderCreator contract: creation is idempotent under the
// (tenant_id, idempotency_key) unique constraint, so a retry after an
// indeterminate outcome returns the already-created order instead of a
// duplicate.
type OrderRepository struct {
	pool PoolInterface
}

// NewOrderRepository creates a new OrderRepository with the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// NewOrderRepositoryWithPool creates a new OrderRepository with a custom
// pool interface. This is primarily used for testing.
func NewOrderRepositoryWithPool(pool PoolInterface) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateOrder inserts a confirmed order and returns its id. When the
// idempotency key has already been used, the existing order's id is
// returned and nothing is written.
func (r *OrderRepository) CreateOrder(ctx context.Context, order model.NewOrder) (uuid.UUID, error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal order items: %w", err)
	}

	id := uuid.New()
	var couponCode *string
	if order.CouponCode != "" {
		couponCode = &order.CouponCode
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO orders (id, tenant_id, idempotency_key, items, subtotal, discount, total, coupon_code, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
		 RETURNING id`,
		id, order.TenantID, order.IdempotencyKey, items,
		order.Subtotal, order.Discount, order.Total, couponCode, model.StatusConfirmed,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("insert order: %w", err)
	}

	// Conflict on the idempotency key: hand back the original order.
	existing, err := r.FindByIdempotencyKey(ctx, order.TenantID, order.IdempotencyKey)
	if err != nil {
		return uuid.Nil, err
	}
	return existing.ID, nil
}

// CancelOrder marks an order cancelled. Compensation path for checkouts
// whose counter commits could not complete.
func (r *OrderRepository) CancelOrder(ctx context.Context, tenantID, orderID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, orderID, model.StatusCancelled)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// FindByIdempotencyKey retrieves an order by its idempotency key, letting
// callers reconcile an indeterminate checkout before retrying.
// Returns ErrOrderNotFound when the key was never used.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, tenantID, key uuid.UUID) (*model.Order, error) {
	query := `SELECT id, tenant_id, idempotency_key, items, subtotal, discount, total, coupon_code, status, created_at
		FROM orders WHERE tenant_id = $1 AND idempotency_key = $2`

	var (
		o          model.Order
		itemsJSON  []byte
		couponCode *string
	)
	err := r.pool.QueryRow(ctx, query, tenantID, key).Scan(
		&o.ID,
		&o.TenantID,
		&o.IdempotencyKey,
		&itemsJSON,
		&o.Subtotal,
		&o.Discount,
		&o.Total,
		&couponCode,
		&o.Status,
		&o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("find order by idempotency key %s: %w", key, err)
	}

	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, fmt.Errorf("unmarshal order items: %w", err)
		}
	}
	if couponCode != nil {
		o.CouponCode = *couponCode
	}
	return &o, nil
}
