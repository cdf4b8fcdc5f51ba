package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/savorly/commerce-engine/internal/model"
	"github.com/savorly/commerce-engine/internal/quota"
)

// QuotaServiceInterface defines the tracker surface the usage endpoints
// need.
type QuotaServiceInterface interface {
	Usage(ctx context.Context, tenantID uuid.UUID) (*model.QuotaResponse, error)
	CheckProductQuota(ctx context.Context, tenantID uuid.UUID) (*quota.Snapshot, error)
}

// QuotaAdminInterface defines the repository surface for plan changes.
type QuotaAdminInterface interface {
	Upsert(ctx context.Context, tenantID uuid.UUID, planLimitOrders, planLimitProducts *int) error
}

// QuotaHandler handles HTTP requests for subscription quota usage and
// administration.
type QuotaHandler struct {
	tracker   QuotaServiceInterface
	repo      QuotaAdminInterface
	validator *validator.Validate
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(tracker QuotaServiceInterface, repo QuotaAdminInterface, v *validator.Validate) *QuotaHandler {
	return &QuotaHandler{tracker: tracker, repo: repo, validator: v}
}

// GetUsage handles GET /api/quota requests, the dashboard usage report.
func (h *QuotaHandler) GetUsage(c *fiber.Ctx) error {
	tenantID, err := tenantFromHeader(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	usage, err := h.tracker.Usage(c.Context(), tenantID)
	if err != nil {
		if errors.Is(err, quota.ErrQuotaNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no subscription record for tenant"})
		}
		log.Error().Err(err).Stringer("tenant_id", tenantID).Msg("failed to load quota usage")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(usage)
}

// CheckProductQuota handles GET /api/quota/products/check requests. The
// product-catalog service calls this before allowing a new product.
func (h *QuotaHandler) CheckProductQuota(c *fiber.Ctx) error {
	tenantID, err := tenantFromHeader(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if _, err := h.tracker.CheckProductQuota(c.Context(), tenantID); err != nil {
		switch {
		case errors.Is(err, quota.ErrProductLimitReached):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "plan product limit reached"})
		case errors.Is(err, quota.ErrQuotaNotFound):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "no active subscription"})
		}
		log.Error().Err(err).Stringer("tenant_id", tenantID).Msg("failed to check product quota")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(fiber.Map{"allowed": true})
}

// UpsertQuota handles PUT /api/quota requests, applied on plan changes.
// Usage counters are preserved across plan changes.
func (h *QuotaHandler) UpsertQuota(c *fiber.Ctx) error {
	tenantID, err := tenantFromHeader(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var req model.UpsertQuotaRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	if err := h.repo.Upsert(c.Context(), tenantID, req.PlanLimitOrders, req.PlanLimitProducts); err != nil {
		log.Error().Err(err).Stringer("tenant_id", tenantID).Msg("failed to upsert quota")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.SendStatus(fiber.StatusNoContent)
}
