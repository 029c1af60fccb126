package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/property-service/internal/api/dto"
	"github.com/spec-kit/property-service/internal/domain"
	"github.com/spec-kit/property-service/internal/service"
	apperrors "github.com/spec-kit/property-service/pkg/util/errorutil"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 255
)

// BulkHandler serves POST /tickets/bulk/:operation.
type BulkHandler struct {
	service   *service.BulkService
	maxItems  int
	resultKey string
}

// NewBulkHandler constructs handler. The result is also stored under
// resultKey for the status-shaping middleware.
func NewBulkHandler(bulkService *service.BulkService, maxItems int, resultKey string) *BulkHandler {
	return &BulkHandler{service: bulkService, maxItems: maxItems, resultKey: resultKey}
}

// Execute applies the operation to every listed ticket.
func (h *BulkHandler) Execute(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	op, ok := domain.ParseBulkOperation(c.Params("operation"))
	if !ok {
		return apperrors.NewNotFound("bulk operation", map[string]any{"operation": c.Params("operation")})
	}
	key := strings.TrimSpace(c.Get(idempotencyHeader))
	if len(key) > maxIdempotencyKey {
		return apperrors.NewValidationError("invalid idempotency key", map[string]any{
			idempotencyHeader: "must be at most 255 characters",
		})
	}

	var req dto.BulkRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := req.Validate(op, h.maxItems).Err(); err != nil {
		return err
	}

	outcome, err := h.service.Execute(c.UserContext(), actor, service.BulkCommand{
		Operation:      op,
		TicketIDs:      req.TicketIDs,
		Params:         req.Params(),
		IdempotencyKey: key,
	})
	if err != nil {
		return err
	}
	if outcome.Replayed {
		c.Set(replayedHeader, "true")
	}
	c.Locals(h.resultKey, outcome.Result)
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusOK).Send(outcome.Body)
}
