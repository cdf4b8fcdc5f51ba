package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savorly/commerce-engine/internal/ledger"
	"github.com/savorly/commerce-engine/internal/model"
	"github.com/savorly/commerce-engine/internal/quota"
)

// mockPool is a mock implementation of PoolInterface.
type mockPool struct {
	execFn     func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

	lastSQL  string
	lastArgs []any
}

func (m *mockPool) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	m.lastSQL = sql
	m.lastArgs = arguments
	if m.execFn != nil {
		return m.execFn(ctx, sql, arguments...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (m *mockPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.lastSQL = sql
	m.lastArgs = args
	if m.queryRowFn != nil {
		return m.queryRowFn(ctx, sql, args...)
	}
	return &mockRow{err: pgx.ErrNoRows}
}

func (m *mockPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	m.lastSQL = sql
	m.lastArgs = args
	if m.queryFn != nil {
		return m.queryFn(ctx, sql, args...)
	}
	return nil, errors.New("query not mocked")
}

// mockRow is a mock pgx.Row.
type mockRow struct {
	scanFn func(dest ...any) error
	err    error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return nil
}

var testTenant = uuid.MustParse("6f1c7a52-0d6e-4a37-9a86-2f86f30aa1c4")

func uniqueViolation() error {
	return &pgconn.PgError{Code: pgUniqueViolation}
}

func TestCouponRepository_FindByCode_NotFound(t *testing.T) {
	repo := NewCouponRepositoryWithPool(&mockPool{})

	c, err := repo.FindByCode(context.Background(), testTenant, "missing")

	require.NoError(t, err, "no rows is not an error, the ledger decides")
	assert.Nil(t, c)
}

func TestCouponRepository_Insert_CodeCollision(t *testing.T) {
	pool := &mockPool{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, uniqueViolation()
		},
	}
	repo := NewCouponRepositoryWithPool(pool)

	err := repo.Insert(context.Background(), &model.Coupon{
		ID:       uuid.New(),
		TenantID: testTenant,
		Code:     "save10",
		Kind:     model.KindPercentage,
		Value:    decimal.NewFromInt(10),
	})

	assert.ErrorIs(t, err, ledger.ErrCodeTaken)
}

func TestCouponRepository_Update_NeverTouchesUsageCount(t *testing.T) {
	pool := &mockPool{}
	repo := NewCouponRepositoryWithPool(pool)

	err := repo.Update(context.Background(), &model.Coupon{
		ID:       uuid.New(),
		TenantID: testTenant,
		Code:     "save10",
		Kind:     model.KindPercentage,
		Value:    decimal.NewFromInt(10),
	})

	require.NoError(t, err)
	assert.NotContains(t, pool.lastSQL, "usage_count",
		"admin updates must never write the usage counter")
}

func TestCouponRepository_Update_NotFound(t *testing.T) {
	pool := &mockPool{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	repo := NewCouponRepositoryWithPool(pool)

	err := repo.Update(context.Background(), &model.Coupon{ID: uuid.New(), TenantID: testTenant})

	assert.ErrorIs(t, err, ledger.ErrCouponNotFound)
}

func TestCouponRepository_IncrementUsage_CASGuardInSQL(t *testing.T) {
	pool := &mockPool{}
	repo := NewCouponRepositoryWithPool(pool)

	err := repo.IncrementUsage(context.Background(), testTenant, uuid.New(), 7)

	require.NoError(t, err)
	assert.Contains(t, pool.lastSQL, "usage_count = $3",
		"the conditional UPDATE must carry the expected-count guard")
	assert.Contains(t, pool.lastSQL, "usage_limit IS NULL OR usage_count < usage_limit",
		"the limit must be re-checked at commit time")
	assert.Equal(t, 7, pool.lastArgs[2])
}

func TestCouponRepository_IncrementUsage_GuardFailure(t *testing.T) {
	pool := &mockPool{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	repo := NewCouponRepositoryWithPool(pool)

	err := repo.IncrementUsage(context.Background(), testTenant, uuid.New(), 7)

	assert.ErrorIs(t, err, ledger.ErrUsageExhausted,
		"zero rows affected means the CAS guard failed")
}

func TestCouponRepository_DecrementUsage_FloorsAtZero(t *testing.T) {
	pool := &mockPool{}
	repo := NewCouponRepositoryWithPool(pool)

	err := repo.DecrementUsage(context.Background(), testTenant, uuid.New())

	require.NoError(t, err)
	assert.Contains(t, pool.lastSQL, "usage_count > 0")
}

func TestQuotaRepository_Get_NotFound(t *testing.T) {
	repo := NewQuotaRepositoryWithPool(&mockPool{})

	q, err := repo.Get(context.Background(), testTenant)

	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestQuotaRepository_IncrementUsedOrders_CASGuardInSQL(t *testing.T) {
	pool := &mockPool{}
	repo := NewQuotaRepositoryWithPool(pool)

	err := repo.IncrementUsedOrders(context.Background(), testTenant, 42)

	require.NoError(t, err)
	assert.Contains(t, pool.lastSQL, "used_orders = $2")
	assert.Contains(t, pool.lastSQL, "plan_limit_orders IS NULL OR used_orders < plan_limit_orders")
	assert.Equal(t, 42, pool.lastArgs[1])
}

func TestQuotaRepository_IncrementUsedOrders_GuardFailure(t *testing.T) {
	pool := &mockPool{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	repo := NewQuotaRepositoryWithPool(pool)

	err := repo.IncrementUsedOrders(context.Background(), testTenant, 42)

	assert.ErrorIs(t, err, quota.ErrOrderLimitReached)
}

func TestQuotaRepository_SetUsedProducts_UnconditionalWrite(t *testing.T) {
	pool := &mockPool{}
	repo := NewQuotaRepositoryWithPool(pool)

	err := repo.SetUsedProducts(context.Background(), testTenant, 17)

	require.NoError(t, err)
	assert.Contains(t, pool.lastSQL, "used_products = $2",
		"catalog sync overwrites the product count, no CAS guard")
	assert.Equal(t, 17, pool.lastArgs[1])
}

func TestQuotaRepository_ResetUsedOrders_ZeroesCounter(t *testing.T) {
	pool := &mockPool{}
	repo := NewQuotaRepositoryWithPool(pool)

	err := repo.ResetUsedOrders(context.Background(), testTenant)

	require.NoError(t, err)
	assert.Contains(t, pool.lastSQL, "used_orders = 0")
	assert.Equal(t, testTenant, pool.lastArgs[0])
}

func TestOrderRepository_CancelOrder_NotFound(t *testing.T) {
	pool := &mockPool{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	repo := NewOrderRepositoryWithPool(pool)

	err := repo.CancelOrder(context.Background(), testTenant, uuid.New())

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderRepository_FindByIdempotencyKey_NotFound(t *testing.T) {
	repo := NewOrderRepositoryWithPool(&mockPool{})

	_, err := repo.FindByIdempotencyKey(context.Background(), testTenant, uuid.New())

	assert.ErrorIs(t, err, ErrOrderNotFound)
}
