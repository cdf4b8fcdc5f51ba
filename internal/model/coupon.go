package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CouponKind enumerates the supported discount strategies.
type CouponKind string

const (
	// KindPercentage discounts a percentage of the cart subtotal.
	KindPercentage CouponKind = "percentage"
	// KindFixedAmount discounts a fixed monetary amount, capped at the subtotal.
	KindFixedAmount CouponKind = "fixed_amount"
)

// Valid reports whether k is one of the known coupon kinds.
func (k CouponKind) Valid() bool {
	return k == KindPercentage || k == KindFixedAmount
}

// Coupon is a tenant-scoped discount code. Code is stored normalized
// (lower-cased, trimmed) and is unique per (TenantID, Code).
//
// UsageCount has exactly one writer: the ledger's redemption commit.
// Admin edits touch every other field but never UsageCount.
type Coupon struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	Code             string
	Kind             CouponKind
	Value            decimal.Decimal
	MinimumCartTotal *decimal.Decimal
	ValidFrom        time.Time
	ValidUntil       time.Time
	UsageLimit       *int // nil = unlimited
	UsageCount       int
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NormalizeCode lower-cases and trims a coupon code. All lookups and
// uniqueness checks operate on the normalized form, making code matching
// case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// CreateCouponRequest is the DTO for the admin coupon-create endpoint.
type CreateCouponRequest struct {
	Code             string           `json:"code" validate:"required,notblank,max=64"`
	Kind             string           `json:"kind" validate:"required,oneof=percentage fixed_amount"`
	Value            decimal.Decimal  `json:"value"`
	MinimumCartTotal *decimal.Decimal `json:"minimum_cart_total"`
	ValidFrom        time.Time        `json:"valid_from" validate:"required"`
	ValidUntil       time.Time        `json:"valid_until" validate:"required"`
	UsageLimit       *int             `json:"usage_limit" validate:"omitempty,gte=1"`
}

// UpdateCouponRequest is the DTO for the admin coupon-update endpoint.
// It carries every mutable field except the usage count.
type UpdateCouponRequest struct {
	Code             string           `json:"code" validate:"required,notblank,max=64"`
	Kind             string           `json:"kind" validate:"required,oneof=percentage fixed_amount"`
	Value            decimal.Decimal  `json:"value"`
	MinimumCartTotal *decimal.Decimal `json:"minimum_cart_total"`
	ValidFrom        time.Time        `json:"valid_from" validate:"required"`
	ValidUntil       time.Time        `json:"valid_until" validate:"required"`
	UsageLimit       *int             `json:"usage_limit" validate:"omitempty,gte=1"`
	Active           bool             `json:"active"`
}

// CouponResponse is the API representation of a coupon.
type CouponResponse struct {
	ID               uuid.UUID        `json:"id"`
	Code             string           `json:"code"`
	Kind             CouponKind       `json:"kind"`
	Value            decimal.Decimal  `json:"value"`
	MinimumCartTotal *decimal.Decimal `json:"minimum_cart_total,omitempty"`
	ValidFrom        time.Time        `json:"valid_from"`
	ValidUntil       time.Time        `json:"valid_until"`
	UsageLimit       *int             `json:"usage_limit,omitempty"`
	UsageCount       int              `json:"usage_count"`
	Active           bool             `json:"active"`
}

// NewCouponResponse maps a coupon record to its API representation.
func NewCouponResponse(c *Coupon) *CouponResponse {
	return &CouponResponse{
		ID:               c.ID,
		Code:             c.Code,
		Kind:             c.Kind,
		Value:            c.Value,
		MinimumCartTotal: c.MinimumCartTotal,
		ValidFrom:        c.ValidFrom,
		ValidUntil:       c.ValidUntil,
		UsageLimit:       c.UsageLimit,
		UsageCount:       c.UsageCount,
		Active:           c.Active,
	}
}
