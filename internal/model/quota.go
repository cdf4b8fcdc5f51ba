package model

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionQuota holds a tenant's plan ceilings and current usage.
// UsedOrders resets on billing-period rollover (handled by the billing
// collaborator, not this engine). UsedProducts mirrors the tenant's current
// active product count and is not monotonic.
type SubscriptionQuota struct {
	TenantID          uuid.UUID
	PlanLimitOrders   *int // nil = unlimited
	PlanLimitProducts *int // nil = unlimited
	UsedOrders        int
	UsedProducts      int
	UpdatedAt         time.Time
}

// QuotaResponse is the API representation of a tenant's quota usage,
// including derived percent-used values for warning thresholds.
type QuotaResponse struct {
	TenantID            uuid.UUID `json:"tenant_id"`
	PlanLimitOrders     *int      `json:"plan_limit_orders,omitempty"`
	PlanLimitProducts   *int      `json:"plan_limit_products,omitempty"`
	UsedOrders          int       `json:"used_orders"`
	UsedProducts        int       `json:"used_products"`
	OrdersPercentUsed   float64   `json:"orders_percent_used"`
	ProductsPercentUsed float64   `json:"products_percent_used"`
	ApproachingLimit    bool      `json:"approaching_limit"`
}

// UpsertQuotaRequest is the DTO for the admin quota-upsert endpoint, used
// when a tenant's plan changes.
type UpsertQuotaRequest struct {
	PlanLimitOrders   *int `json:"plan_limit_orders" validate:"omitempty,gte=0"`
	PlanLimitProducts *int `json:"plan_limit_products" validate:"omitempty,gte=0"`
}
