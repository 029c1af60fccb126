package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/property-service/internal/domain"
)

// BulkResultKey is the fiber local a bulk handler stores its result under.
const BulkResultKey = "bulk_result"

// StatusFor picks the status code for a bulk result: 207 when any item failed,
// 200 otherwise.
func StatusFor(result domain.BulkResult) int {
	if result.HasFailures() {
		return fiber.StatusMultiStatus
	}
	return fiber.StatusOK
}

// MultiStatus rewrites the status of successful bulk responses. Only a
// domain.BulkResult stored under BulkResultKey is considered; the body is
// left untouched.
func MultiStatus() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := c.Next(); err != nil {
			return err
		}
		if c.Response().StatusCode() != fiber.StatusOK {
			return nil
		}
		switch result := c.Locals(BulkResultKey).(type) {
		case domain.BulkResult:
			c.Status(StatusFor(result))
		case *domain.BulkResult:
			if result != nil {
				c.Status(StatusFor(*result))
			}
		}
		return nil
	}
}
