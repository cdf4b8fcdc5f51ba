// Package inmem provides in-memory implementations of the ledger, quota,
// and order stores. They enforce the exact compare-and-swap contract of the
// Postgres repositories under a mutex, so concurrency tests exercise real
// races deterministically without a database.
package inmem

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/savorly/commerce-engine/internal/ledger"
	"github.com/savorly/commerce-engine/internal/model"
	"github.com/savorly/commerce-engine/internal/quota"
)

type codeKey struct {
	tenantID uuid.UUID
	code     string
}

// CouponStore is an in-memory ledger.CouponStore.
type CouponStore struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*model.Coupon
	byCode map[codeKey]uuid.UUID
}

// NewCouponStore creates an empty CouponStore.
func NewCouponStore() *CouponStore {
	return &CouponStore{
		byID:   make(map[uuid.UUID]*model.Coupon),
		byCode: make(map[codeKey]uuid.UUID),
	}
}

// Put inserts or replaces a coupon. The code is normalized on the way in.
func (s *CouponStore) Put(c model.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Code = model.NormalizeCode(c.Code)
	cp := c
	s.byID[c.ID] = &cp
	s.byCode[codeKey{c.TenantID, c.Code}] = c.ID
}

// Get returns a copy of the coupon, or nil if absent.
func (s *CouponStore) Get(id uuid.UUID) *model.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// FindByCode implements ledger.CouponStore.
func (s *CouponStore) FindByCode(ctx context.Context, tenantID uuid.UUID, code string) (*model.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[codeKey{tenantID, code}]
	if !ok {
		return nil, nil
	}
	cp := *s.byID[id]
	return &cp, nil
}

// IncrementUsage implements ledger.CouponStore with the same guard as the
// Postgres conditional UPDATE: the increment applies only while the stored
// count equals expectedUsageCount and stays under the limit.
func (s *CouponStore) IncrementUsage(ctx context.Context, tenantID, couponID uuid.UUID, expectedUsageCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[couponID]
	if !ok || c.TenantID != tenantID {
		return ledger.ErrUsageExhausted
	}
	if c.UsageCount != expectedUsageCount {
		return ledger.ErrUsageExhausted
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return ledger.ErrUsageExhausted
	}
	c.UsageCount++
	return nil
}

// DecrementUsage implements ledger.CouponStore, flooring at zero.
func (s *CouponStore) DecrementUsage(ctx context.Context, tenantID, couponID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[couponID]
	if ok && c.TenantID == tenantID && c.UsageCount > 0 {
		c.UsageCount--
	}
	return nil
}

// QuotaStore is an in-memory quota.QuotaStore.
type QuotaStore struct {
	mu     sync.Mutex
	quotas map[uuid.UUID]*model.SubscriptionQuota
}

// NewQuotaStore creates an empty QuotaStore.
func NewQuotaStore() *QuotaStore {
	return &QuotaStore{quotas: make(map[uuid.UUID]*model.SubscriptionQuota)}
}

// Put inserts or replaces a tenant's quota record.
func (s *QuotaStore) Put(q model.SubscriptionQuota) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := q
	s.quotas[q.TenantID] = &cp
}

// Get implements quota.QuotaStore, returning a copy or nil if absent.
func (s *QuotaStore) Get(ctx context.Context, tenantID uuid.UUID) (*model.SubscriptionQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotas[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *q
	return &cp, nil
}

// IncrementUsedOrders implements quota.QuotaStore with the compare-and-swap
// guard of the Postgres conditional UPDATE.
func (s *QuotaStore) IncrementUsedOrders(ctx context.Context, tenantID uuid.UUID, expectedUsedOrders int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotas[tenantID]
	if !ok {
		return quota.ErrOrderLimitReached
	}
	if q.UsedOrders != expectedUsedOrders {
		return quota.ErrOrderLimitReached
	}
	if q.PlanLimitOrders != nil && q.UsedOrders >= *q.PlanLimitOrders {
		return quota.ErrOrderLimitReached
	}
	q.UsedOrders++
	return nil
}

// OrderStore is an in-memory checkout.OrderCreator with idempotency-key
// deduplication.
type OrderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*model.Order
	byKey  map[uuid.UUID]uuid.UUID
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders: make(map[uuid.UUID]*model.Order),
		byKey:  make(map[uuid.UUID]uuid.UUID),
	}
}

// CreateOrder implements checkout.OrderCreator. A reused idempotency key
// returns the already-created order's id.
func (s *OrderStore) CreateOrder(ctx context.Context, order model.NewOrder) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[order.IdempotencyKey]; ok {
		return id, nil
	}

	id := uuid.New()
	s.orders[id] = &model.Order{
		ID:             id,
		TenantID:       order.TenantID,
		IdempotencyKey: order.IdempotencyKey,
		Items:          order.Items,
		Subtotal:       order.Subtotal,
		Discount:       order.Discount,
		Total:          order.Total,
		CouponCode:     order.CouponCode,
		Status:         model.StatusConfirmed,
	}
	s.byKey[order.IdempotencyKey] = id
	return id, nil
}

// CancelOrder implements checkout.OrderCreator.
func (s *OrderStore) CancelOrder(ctx context.Context, tenantID, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.orders[orderID]; ok && o.TenantID == tenantID {
		o.Status = model.StatusCancelled
	}
	return nil
}

// Get returns a copy of an order, or nil if absent.
func (s *OrderStore) Get(orderID uuid.UUID) *model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

// Confirmed returns the number of orders currently in confirmed status.
func (s *OrderStore) Confirmed() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, o := range s.orders {
		if o.Status == model.StatusConfirmed {
			n++
		}
	}
	return n
}
