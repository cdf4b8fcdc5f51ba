package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the order states this engine participates in.
// The wider order lifecycle (preparing, delivered, ...) belongs to the
// order collaborator.
type OrderStatus string

const (
	// StatusConfirmed marks an order whose totals are final.
	StatusConfirmed OrderStatus = "confirmed"
	// StatusCancelled marks an order compensated after a failed checkout commit.
	StatusCancelled OrderStatus = "cancelled"
)

// CartItem is one line item of a cart snapshot. The catalog collaborator
// has already validated prices and quantities.
type CartItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// NewOrder carries everything the order store needs to persist a confirmed
// order. IdempotencyKey deduplicates retries after an indeterminate commit.
type NewOrder struct {
	TenantID       uuid.UUID
	IdempotencyKey uuid.UUID
	Items          []CartItem
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	CouponCode     string // normalized; empty when no coupon applied
}

// Order is a persisted order row.
type Order struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	IdempotencyKey uuid.UUID       `json:"idempotency_key"`
	Items          []CartItem      `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	CouponCode     string          `json:"coupon_code,omitempty"`
	Status         OrderStatus     `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CheckoutRequest is the DTO for the checkout endpoint.
type CheckoutRequest struct {
	CartSubtotal   decimal.Decimal `json:"cart_subtotal"`
	Items          []CartItem      `json:"items"`
	CouponCode     string          `json:"coupon_code" validate:"omitempty,max=64"`
	CouponOptional bool            `json:"coupon_optional"`
	IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,uuid"`
}

// PreviewRequest is the DTO for the read-only coupon preview endpoint.
type PreviewRequest struct {
	CouponCode   string          `json:"coupon_code" validate:"required,notblank,max=64"`
	CartSubtotal decimal.Decimal `json:"cart_subtotal"`
}
