//go:build stress

package stress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/savorly/commerce-engine/internal/checkout"
	"github.com/savorly/commerce-engine/internal/ledger"
	"github.com/savorly/commerce-engine/internal/model"
	"github.com/savorly/commerce-engine/internal/quota"
)

// TestFlashSale_NeverOversells launches many concurrent checkouts against a
// coupon with a small usage limit. The hard invariant is that the committed
// usage never exceeds the limit and every successful checkout accounts for
// exactly one usage unit and one confirmed order. Attempts that lose the
// swap twice surface a coupon error and leave no partial effects behind.
func TestFlashSale_NeverOversells(t *testing.T) {
	cleanupTables(t)

	const (
		usageLimit         = 5
		concurrentRequests = 50
		timeout            = 60 * time.Second
	)

	tenantID := uuid.New()
	couponID := seedCoupon(t, tenantID, "flash_test", intPtr(usageLimit))
	seedQuota(t, tenantID, nil)

	coord := newCoordinator()
	startTime := time.Now()

	var wg sync.WaitGroup
	results := make(chan error, concurrentRequests)

	for i := 0; i < concurrentRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.Checkout(context.Background(), checkout.Attempt{
				TenantID:     tenantID,
				CartSubtotal: money("200"),
				CouponCode:   "flash_test",
			})
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	var successes, raceRejections, otherErrors int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case ledger.IsValidationError(err),
			errors.Is(err, checkout.ErrCouponChanged),
			errors.Is(err, quota.ErrOrderLimitReached):
			// Lost the swap after the retry; the attempt was compensated.
			raceRejections++
		default:
			otherErrors++
			t.Logf("Unexpected error: %v", err)
		}
	}

	executionTime := time.Since(startTime)
	t.Logf("Results - Successes: %d, RaceRejections: %d, Other: %d", successes, raceRejections, otherErrors)
	t.Logf("Execution time: %v", executionTime)

	usage := couponUsage(t, couponID)
	confirmed := countOrdersByStatus(t, tenantID, model.StatusConfirmed)

	// The invariant that matters: no overselling, and every success is
	// backed by exactly one usage unit, one quota unit, one confirmed order.
	assert.LessOrEqual(t, usage, usageLimit, "usage count must never exceed the limit")
	assert.Equal(t, successes, usage, "usage count must equal successful checkouts")
	assert.Equal(t, successes, confirmed, "confirmed orders must equal successful checkouts")
	assert.Equal(t, successes, usedOrders(t, tenantID), "order usage must equal successful checkouts")
	assert.Positive(t, successes, "at least one checkout should win")
	assert.Equal(t, 0, otherErrors, "no infrastructure errors should occur")

	assert.Less(t, executionTime, timeout)
}

// TestFlashSale_QuotaCeiling runs the same pattern against the plan order
// limit instead of a coupon.
func TestFlashSale_QuotaCeiling(t *testing.T) {
	cleanupTables(t)

	const (
		planLimit          = 8
		concurrentRequests = 40
	)

	tenantID := uuid.New()
	seedQuota(t, tenantID, intPtr(planLimit))

	coord := newCoordinator()

	var wg sync.WaitGroup
	results := make(chan error, concurrentRequests)

	for i := 0; i < concurrentRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.Checkout(context.Background(), checkout.Attempt{
				TenantID:     tenantID,
				CartSubtotal: money("30"),
			})
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	var successes int
	for err := range results {
		if err == nil {
			successes++
		}
	}

	used := usedOrders(t, tenantID)
	confirmed := countOrdersByStatus(t, tenantID, model.StatusConfirmed)

	assert.LessOrEqual(t, used, planLimit, "used orders must never exceed the plan limit")
	assert.Equal(t, successes, used)
	assert.Equal(t, successes, confirmed)
	assert.Positive(t, successes)
}
