package handler

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/savorly/commerce-engine/internal/ledger"
	"github.com/savorly/commerce-engine/internal/model"
	"github.com/savorly/commerce-engine/internal/pricing"
)

// CouponAdminInterface defines the repository surface the admin CRUD
// endpoints need.
type CouponAdminInterface interface {
	Insert(ctx context.Context, c *model.Coupon) error
	Update(ctx context.Context, c *model.Coupon) error
	Deactivate(ctx context.Context, tenantID, couponID uuid.UUID) error
	FindByID(ctx context.Context, tenantID, couponID uuid.UUID) (*model.Coupon, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Coupon, error)
}

// CouponPreviewInterface defines the read-only validation surface backing
// the preview endpoint.
type CouponPreviewInterface interface {
	Validate(ctx context.Context, tenantID uuid.UUID, code string, cartSubtotal decimal.Decimal, now time.Time) (*ledger.Validated, error)
}

// CouponHandler handles HTTP requests for coupon administration and preview.
type CouponHandler struct {
	repo      CouponAdminInterface
	preview   CouponPreviewInterface
	validator *validator.Validate
}

// NewCouponHandler creates a new CouponHandler.
func NewCouponHandler(repo CouponAdminInterface, preview CouponPreviewInterface, v *validator.Validate) *CouponHandler {
	return &CouponHandler{repo: repo, preview: preview, validator: v}
}

// Preview handles POST /api/coupons/preview requests. It runs the same
// validation as checkout but commits nothing, so carts can show the
// discount before the buyer confirms.
func (h *CouponHandler) Preview(c *fiber.Ctx) error {
	tenantID, err := tenantFromHeader(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var req model.PreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}
	if req.CartSubtotal.IsNegative() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: cart_subtotal must not be negative"})
	}

	validated, err := h.preview.Validate(c.Context(), tenantID, req.CouponCode, req.CartSubtotal, time.Now())
	if err != nil {
		if ledger.IsValidationError(err) {
			return couponError(c, err)
		}
		log.Error().Err(err).Stringer("tenant_id", tenantID).Msg("coupon preview failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(fiber.Map{
		"code":        validated.Coupon.Code,
		"kind":        validated.Coupon.Kind,
		"discount":    validated.Discount,
		"final_total": pricing.FinalTotal(req.CartSubtotal, validated.Discount),
	})
}

// CreateCoupon handles POST /api/coupons requests.
func (h *CouponHandler) CreateCoupon(c *fiber.Ctx) error {
	tenantID, err := tenantFromHeader(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var req model.CreateCouponRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}
	if msg := checkCouponValues(model.CouponKind(req.Kind), req.Value, req.MinimumCartTotal, req.ValidFrom, req.ValidUntil); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	now := time.Now()
	coupon := &model.Coupon{
		ID:               uuid.New(),
		TenantID:         tenantID,
		Code:             model.NormalizeCode(req.Code),
		Kind:             model.CouponKind(req.Kind),
		Value:            req.Value,
		MinimumCartTotal: req.MinimumCartTotal,
		ValidFrom:        req.ValidFrom,
		ValidUntil:       req.ValidUntil,
		UsageLimit:       req.UsageLimit,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.repo.Insert(c.Context(), coupon); err != nil {
		if errors.Is(err, ledger.ErrCodeTaken) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "coupon code already exists"})
		}
		log.Error().Err(err).Stringer("tenant_id", tenantID).Msg("failed to create coupon")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.Status(fiber.StatusCreated).JSON(model.NewCouponResponse(coupon))
}

// UpdateCoupon handles PUT /api/coupons/:id requests. The usage count is
// never writable through this endpoint.
func (h *CouponHandler) UpdateCoupon(c *fiber.Ctx) error {
	tenantID, err := tenantFromHeader(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	couponID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid coupon id"})
	}

	var req model.UpdateCouponRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}
	if msg := checkCouponValues(model.CouponKind(req.Kind), req.Value, req.MinimumCartTotal, req.ValidFrom, req.ValidUntil); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	coupon := &model.Coupon{
		ID:               couponID,
		TenantID:         tenantID,
		Code:             model.NormalizeCode(req.Code),
		Kind:             model.CouponKind(req.Kind),
		Value:            req.Value,
		MinimumCartTotal: req.MinimumCartTotal,
		ValidFrom:        req.ValidFrom,
		ValidUntil:       req.ValidUntil,
		UsageLimit:       req.UsageLimit,
		Active:           req.Active,
		UpdatedAt:        time.Now(),
	}

	if err := h.repo.Update(c.Context(), coupon); err != nil {
		switch {
		case errors.Is(err, ledger.ErrCouponNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "coupon not found"})
		case errors.Is(err, ledger.ErrCodeTaken):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "coupon code already exists"})
		}
		log.Error().Err(err).Stringer("tenant_id", tenantID).Msg("failed to update coupon")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	updated, err := h.repo.FindByID(c.Context(), tenantID, couponID)
	if err != nil || updated == nil {
		log.Error().Err(err).Stringer("coupon_id", couponID).Msg("failed to reload coupon after update")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.JSON(model.NewCouponResponse(updated))
}

// DeactivateCoupon handles DELETE /api/coupons/:id requests. Deactivation
// is soft so historical orders keep a resolvable coupon reference.
func (h *CouponHandler) DeactivateCoupon(c *fiber.Ctx) error {
	tenantID, err := tenantFromHeader(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	couponID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid coupon id"})
	}

	if err := h.repo.Deactivate(c.Context(), tenantID, couponID); err != nil {
		if errors.Is(err, ledger.ErrCouponNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "coupon not found"})
		}
		log.Error().Err(err).Stringer("tenant_id", tenantID).Msg("failed to deactivate coupon")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ListCoupons handles GET /api/coupons requests.
func (h *CouponHandler) ListCoupons(c *fiber.Ctx) error {
	tenantID, err := tenantFromHeader(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	coupons, err := h.repo.ListByTenant(c.Context(), tenantID)
	if err != nil {
		log.Error().Err(err).Stringer("tenant_id", tenantID).Msg("failed to list coupons")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	out := make([]*model.CouponResponse, 0, len(coupons))
	for i := range coupons {
		out = append(out, model.NewCouponResponse(&coupons[i]))
	}
	return c.JSON(fiber.Map{"coupons": out})
}

// checkCouponValues enforces the value rules the struct tags cannot
// express. Percentage coupons must sit in (0, 100]; fixed coupons just
// need a positive amount.
func checkCouponValues(kind model.CouponKind, value decimal.Decimal, minimum *decimal.Decimal, validFrom, validUntil time.Time) string {
	if !value.IsPositive() {
		return "invalid request: value must be greater than zero"
	}
	if kind == model.KindPercentage && value.GreaterThan(decimal.NewFromInt(100)) {
		return "invalid request: percentage value must not exceed 100"
	}
	if minimum != nil && minimum.IsNegative() {
		return "invalid request: minimum_cart_total must not be negative"
	}
	if validFrom.After(validUntil) {
		return "invalid request: valid_from must not be after valid_until"
	}
	return ""
}

// formatValidationError converts validator errors into actionable messages
// keyed by the JSON field names clients actually send.
func formatValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			field := fieldJSONName(fe.Field())
			tag := fe.Tag()

			switch tag {
			case "required":
				return "invalid request: " + field + " is required"
			case "notblank":
				return "invalid request: " + field + " cannot be whitespace only"
			case "max":
				return "invalid request: " + field + " exceeds maximum length of " + fe.Param()
			case "oneof":
				return "invalid request: " + field + " must be one of: " + fe.Param()
			case "gte":
				return "invalid request: " + field + " must be at least " + fe.Param()
			case "uuid":
				return "invalid request: " + field + " must be a valid UUID"
			}
			return "invalid request: " + field + " is invalid"
		}
	}
	return "invalid request"
}

// fieldJSONName maps request struct field names to their wire names.
func fieldJSONName(field string) string {
	switch field {
	case "Code":
		return "code"
	case "Kind":
		return "kind"
	case "Value":
		return "value"
	case "MinimumCartTotal":
		return "minimum_cart_total"
	case "ValidFrom":
		return "valid_from"
	case "ValidUntil":
		return "valid_until"
	case "UsageLimit":
		return "usage_limit"
	case "CouponCode":
		return "coupon_code"
	case "CartSubtotal":
		return "cart_subtotal"
	case "IdempotencyKey":
		return "idempotency_key"
	case "PlanLimitOrders":
		return "plan_limit_orders"
	case "PlanLimitProducts":
		return "plan_limit_products"
	}
	return field
}
