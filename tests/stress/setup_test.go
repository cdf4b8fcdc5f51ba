//go:build stress

// Package stress contains high-concurrency tests for the checkout commit
// path. They drive the full coordinator stack against a real Postgres
// instance started via dockertest.
//
// Usage:
//
//	go test -v -race -tags stress ./tests/stress/...
package stress

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/shopspring/decimal"

	"github.com/savorly/commerce-engine/db"
	"github.com/savorly/commerce-engine/internal/checkout"
	"github.com/savorly/commerce-engine/internal/ledger"
	"github.com/savorly/commerce-engine/internal/model"
	"github.com/savorly/commerce-engine/internal/quota"
	"github.com/savorly/commerce-engine/internal/repository"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("Could not construct pool: %s", err)
	}

	err = pool.Client.Ping()
	if err != nil {
		log.Fatalf("Could not connect to Docker: %s", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15-alpine",
		Env: []string{
			"POSTGRES_PASSWORD=testpass",
			"POSTGRES_USER=testuser",
			"POSTGRES_DB=testdb",
			"listen_addresses='*'",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start resource: %s", err)
	}

	hostAndPort := resource.GetHostPort("5432/tcp")
	databaseURL := fmt.Sprintf("postgres://testuser:testpass@%s/testdb?sslmode=disable", hostAndPort)

	log.Println("Connecting to database on url:", databaseURL)

	_ = resource.Expire(180)

	pool.MaxWait = 120 * time.Second
	if err = pool.Retry(func() error {
		var err error
		testPool, err = pgxpool.New(context.Background(), databaseURL)
		if err != nil {
			return err
		}
		return testPool.Ping(context.Background())
	}); err != nil {
		log.Fatalf("Could not connect to database: %s", err)
	}

	if _, err := testPool.Exec(context.Background(), db.Schema); err != nil {
		log.Fatalf("Could not run migrations: %s", err)
	}

	code := m.Run()

	if err := pool.Purge(resource); err != nil {
		log.Fatalf("Could not purge resource: %s", err)
	}

	os.Exit(code)
}

func cleanupTables(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), "TRUNCATE TABLE orders, coupons, subscription_quotas CASCADE")
	if err != nil {
		t.Fatalf("Failed to cleanup tables: %v", err)
	}
}

func newCoordinator() *checkout.Coordinator {
	return checkout.NewCoordinator(
		ledger.NewLedger(repository.NewCouponRepository(testPool)),
		quota.NewTracker(repository.NewQuotaRepository(testPool)),
		repository.NewOrderRepository(testPool),
	)
}

func seedCoupon(t *testing.T, tenantID uuid.UUID, code string, usageLimit *int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	now := time.Now()
	_, err := testPool.Exec(context.Background(),
		`INSERT INTO coupons (id, tenant_id, code, kind, value, valid_from, valid_until, usage_limit, usage_count, active)
		 VALUES ($1, $2, $3, $4, 10, $5, $6, $7, 0, TRUE)`,
		id, tenantID, code, string(model.KindPercentage),
		now.Add(-time.Hour), now.Add(24*time.Hour), usageLimit)
	if err != nil {
		t.Fatalf("Failed to seed coupon: %v", err)
	}
	return id
}

func seedQuota(t *testing.T, tenantID uuid.UUID, planLimitOrders *int) {
	t.Helper()
	_, err := testPool.Exec(context.Background(),
		`INSERT INTO subscription_quotas (tenant_id, plan_limit_orders, used_orders, used_products)
		 VALUES ($1, $2, 0, 0)`,
		tenantID, planLimitOrders)
	if err != nil {
		t.Fatalf("Failed to seed quota: %v", err)
	}
}

func couponUsage(t *testing.T, couponID uuid.UUID) int {
	t.Helper()
	var usage int
	err := testPool.QueryRow(context.Background(),
		"SELECT usage_count FROM coupons WHERE id = $1", couponID).Scan(&usage)
	if err != nil {
		t.Fatalf("Failed to read coupon usage: %v", err)
	}
	return usage
}

func usedOrders(t *testing.T, tenantID uuid.UUID) int {
	t.Helper()
	var used int
	err := testPool.QueryRow(context.Background(),
		"SELECT used_orders FROM subscription_quotas WHERE tenant_id = $1", tenantID).Scan(&used)
	if err != nil {
		t.Fatalf("Failed to read used orders: %v", err)
	}
	return used
}

func countOrdersByStatus(t *testing.T, tenantID uuid.UUID, status model.OrderStatus) int {
	t.Helper()
	var count int
	err := testPool.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM orders WHERE tenant_id = $1 AND status = $2", tenantID, string(status)).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count orders: %v", err)
	}
	return count
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intPtr(v int) *int { return &v }
