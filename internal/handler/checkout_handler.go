package handler

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/savorly/commerce-engine/internal/checkout"
	"github.com/savorly/commerce-engine/internal/ledger"
	"github.com/savorly/commerce-engine/internal/model"
	"github.com/savorly/commerce-engine/internal/quota"
	"github.com/savorly/commerce-engine/internal/repository"
)

// tenantHeader carries the tenant id resolved by the auth layer in front of
// this service. The engine trusts it.
const tenantHeader = "X-Tenant-ID"

// CheckoutServiceInterface defines the interface for checkout orchestration.
type CheckoutServiceInterface interface {
	Checkout(ctx context.Context, att checkout.Attempt) (*checkout.Result, error)
}

// OrderLookupInterface lets callers reconcile an indeterminate checkout.
type OrderLookupInterface interface {
	FindByIdempotencyKey(ctx context.Context, tenantID, key uuid.UUID) (*model.Order, error)
}

// CheckoutHandler handles HTTP requests for the checkout flow.
type CheckoutHandler struct {
	service   CheckoutServiceInterface
	orders    OrderLookupInterface
	validator *validator.Validate
	timeout   time.Duration
}

// NewCheckoutHandler creates a new CheckoutHandler. timeout bounds one
// checkout attempt end to end.
func NewCheckoutHandler(svc CheckoutServiceInterface, orders OrderLookupInterface, v *validator.Validate, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{service: svc, orders: orders, validator: v, timeout: timeout}
}

func tenantFromHeader(c *fiber.Ctx) (uuid.UUID, error) {
	raw := c.Get(tenantHeader)
	if raw == "" {
		return uuid.Nil, errors.New("missing " + tenantHeader + " header")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid " + tenantHeader + " header")
	}
	return id, nil
}

// Checkout handles POST /api/checkout requests.
func (h *CheckoutHandler) Checkout(c *fiber.Ctx) error {
	tenantID, err := tenantFromHeader(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var req model.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}
	if req.CartSubtotal.IsNegative() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: cart_subtotal must not be negative"})
	}

	idemKey := uuid.New()
	if req.IdempotencyKey != "" {
		// Already shape-checked by the validator.
		idemKey = uuid.MustParse(req.IdempotencyKey)
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.timeout)
	defer cancel()

	res, err := h.service.Checkout(ctx, checkout.Attempt{
		TenantID:       tenantID,
		CartSubtotal:   req.CartSubtotal,
		Items:          req.Items,
		CouponCode:     req.CouponCode,
		CouponOptional: req.CouponOptional,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		return h.checkoutError(c, tenantID, idemKey, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order_id":        res.OrderID,
		"discount":        res.Discount,
		"final_total":     res.FinalTotal,
		"applied_coupon":  res.AppliedCoupon,
		"idempotency_key": res.IdempotencyKey,
		"state":           res.State.String(),
	})
}

// checkoutError maps the engine's error taxonomy onto HTTP responses.
// Validation errors carry actionable messages; race escalations and
// indeterminate outcomes are kept distinct from plain coupon errors so the
// UI can render "please retry" instead of "coupon invalid".
func (h *CheckoutHandler) checkoutError(c *fiber.Ctx, tenantID, idemKey uuid.UUID, err error) error {
	switch {
	case errors.Is(err, checkout.ErrIndeterminate):
		// The order may or may not exist; the caller should look it up by
		// idempotency key before retrying to avoid a duplicate.
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
			"error":           "order status unknown, look up the order before retrying",
			"idempotency_key": idemKey,
		})
	case errors.Is(err, checkout.ErrCouponChanged):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "applying your coupon failed, please retry",
		})
	case errors.Is(err, checkout.ErrCartInvalid):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid cart snapshot"})
	case errors.Is(err, quota.ErrOrderLimitReached):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "plan order limit reached"})
	case errors.Is(err, quota.ErrQuotaNotFound):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "no active subscription"})
	case ledger.IsValidationError(err):
		return couponError(c, err)
	}

	log.Error().
		Err(err).
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Stringer("tenant_id", tenantID).
		Msg("checkout failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}

// GetOrderByKey handles GET /api/orders/:key requests, the reconciliation
// path after an indeterminate checkout.
func (h *CheckoutHandler) GetOrderByKey(c *fiber.Ctx) error {
	tenantID, err := tenantFromHeader(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	key, err := uuid.Parse(c.Params("key"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid idempotency key"})
	}

	order, err := h.orders.FindByIdempotencyKey(c.Context(), tenantID, key)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order not found"})
		}
		log.Error().Err(err).Stringer("tenant_id", tenantID).Msg("failed to look up order")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(order)
}

// couponError maps ledger validation errors onto responses shared by the
// checkout and preview endpoints.
func couponError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ledger.ErrCouponNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "coupon not found"})
	case errors.Is(err, ledger.ErrOutOfWindow):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "coupon not valid at this time"})
	case errors.Is(err, ledger.ErrUsageExhausted):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "coupon usage limit reached"})
	case errors.Is(err, ledger.ErrBelowMinimum):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cart total below coupon minimum"})
	}
	log.Error().Err(err).Msg("unexpected coupon error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}
