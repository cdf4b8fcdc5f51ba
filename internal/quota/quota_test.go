package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savorly/commerce-engine/internal/model"
)

// mockQuotaStore is a mock implementation of QuotaStore.
type mockQuotaStore struct {
	getFn                 func(ctx context.Context, tenantID uuid.UUID) (*model.SubscriptionQuota, error)
	incrementUsedOrdersFn func(ctx context.Context, tenantID uuid.UUID, expectedUsedOrders int) error

	incrementCalls int
}

func (m *mockQuotaStore) Get(ctx context.Context, tenantID uuid.UUID) (*model.SubscriptionQuota, error) {
	if m.getFn != nil {
		return m.getFn(ctx, tenantID)
	}
	return nil, nil
}

func (m *mockQuotaStore) IncrementUsedOrders(ctx context.Context, tenantID uuid.UUID, expectedUsedOrders int) error {
	m.incrementCalls++
	if m.incrementUsedOrdersFn != nil {
		return m.incrementUsedOrdersFn(ctx, tenantID, expectedUsedOrders)
	}
	return nil
}

func intPtr(i int) *int { return &i }

var testTenant = uuid.MustParse("6f1c7a52-0d6e-4a37-9a86-2f86f30aa1c4")

func storeWith(q *model.SubscriptionQuota) *mockQuotaStore {
	return &mockQuotaStore{
		getFn: func(ctx context.Context, tenantID uuid.UUID) (*model.SubscriptionQuota, error) {
			return q, nil
		},
	}
}

func TestCheckOrderQuota_RoomAvailable(t *testing.T) {
	store := storeWith(&model.SubscriptionQuota{
		TenantID:        testTenant,
		PlanLimitOrders: intPtr(100),
		UsedOrders:      42,
	})

	snap, err := NewTracker(store).CheckOrderQuota(context.Background(), testTenant)

	require.NoError(t, err)
	assert.Equal(t, 42, snap.UsedOrders, "snapshot carries the CAS guard")
	assert.Equal(t, 0, store.incrementCalls, "check must not mutate")
}

func TestCheckOrderQuota_LimitReached(t *testing.T) {
	store := storeWith(&model.SubscriptionQuota{
		TenantID:        testTenant,
		PlanLimitOrders: intPtr(100),
		UsedOrders:      100,
	})

	_, err := NewTracker(store).CheckOrderQuota(context.Background(), testTenant)

	assert.ErrorIs(t, err, ErrOrderLimitReached)
}

func TestCheckOrderQuota_UnlimitedPlanAlwaysPasses(t *testing.T) {
	store := storeWith(&model.SubscriptionQuota{
		TenantID:   testTenant,
		UsedOrders: 1000000,
	})

	snap, err := NewTracker(store).CheckOrderQuota(context.Background(), testTenant)

	require.NoError(t, err)
	assert.Nil(t, snap.PlanLimitOrders)
}

func TestCheckOrderQuota_MissingRecordFailsClosed(t *testing.T) {
	_, err := NewTracker(&mockQuotaStore{}).CheckOrderQuota(context.Background(), testTenant)

	assert.ErrorIs(t, err, ErrQuotaNotFound)
}

func TestCheckProductQuota(t *testing.T) {
	store := storeWith(&model.SubscriptionQuota{
		TenantID:          testTenant,
		PlanLimitProducts: intPtr(20),
		UsedProducts:      20,
	})
	tracker := NewTracker(store)

	_, err := tracker.CheckProductQuota(context.Background(), testTenant)
	assert.ErrorIs(t, err, ErrProductLimitReached)

	store = storeWith(&model.SubscriptionQuota{
		TenantID:          testTenant,
		PlanLimitProducts: intPtr(20),
		UsedProducts:      19,
	})
	snap, err := NewTracker(store).CheckProductQuota(context.Background(), testTenant)
	require.NoError(t, err)
	assert.Equal(t, 19, snap.UsedProducts)
}

func TestCommitOrderUsage_PassesGuardThrough(t *testing.T) {
	var gotExpected int
	store := &mockQuotaStore{
		incrementUsedOrdersFn: func(ctx context.Context, tenantID uuid.UUID, expectedUsedOrders int) error {
			gotExpected = expectedUsedOrders
			return nil
		},
	}

	err := NewTracker(store).CommitOrderUsage(context.Background(), testTenant, 42)

	require.NoError(t, err)
	assert.Equal(t, 42, gotExpected)
}

func TestCommitOrderUsage_GuardFailure(t *testing.T) {
	store := &mockQuotaStore{
		incrementUsedOrdersFn: func(ctx context.Context, tenantID uuid.UUID, expectedUsedOrders int) error {
			return ErrOrderLimitReached
		},
	}

	err := NewTracker(store).CommitOrderUsage(context.Background(), testTenant, 99)

	assert.ErrorIs(t, err, ErrOrderLimitReached)
}

func TestCommitOrderUsage_StoreError(t *testing.T) {
	storeErr := errors.New("connection reset")
	store := &mockQuotaStore{
		incrementUsedOrdersFn: func(ctx context.Context, tenantID uuid.UUID, expectedUsedOrders int) error {
			return storeErr
		},
	}

	err := NewTracker(store).CommitOrderUsage(context.Background(), testTenant, 0)

	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, ErrOrderLimitReached)
}

func TestUsage_Report(t *testing.T) {
	store := storeWith(&model.SubscriptionQuota{
		TenantID:          testTenant,
		PlanLimitOrders:   intPtr(100),
		PlanLimitProducts: intPtr(50),
		UsedOrders:        80,
		UsedProducts:      10,
	})

	report, err := NewTracker(store).Usage(context.Background(), testTenant)

	require.NoError(t, err)
	assert.Equal(t, float64(80), report.OrdersPercentUsed)
	assert.Equal(t, float64(20), report.ProductsPercentUsed)
	assert.True(t, report.ApproachingLimit, "80%% used trips the warning flag")
}

func TestUsage_UnlimitedPlanReportsZeroPercent(t *testing.T) {
	store := storeWith(&model.SubscriptionQuota{
		TenantID:   testTenant,
		UsedOrders: 5000,
	})

	report, err := NewTracker(store).Usage(context.Background(), testTenant)

	require.NoError(t, err)
	assert.Equal(t, float64(0), report.OrdersPercentUsed)
	assert.False(t, report.ApproachingLimit)
}
