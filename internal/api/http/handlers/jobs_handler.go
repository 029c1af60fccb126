package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/property-service/internal/service"
)

// JobsHandler exposes the read-only job inspector.
type JobsHandler struct {
	inspector *service.JobInspector
}

// NewJobsHandler constructs handler.
func NewJobsHandler(inspector *service.JobInspector) *JobsHandler {
	return &JobsHandler{inspector: inspector}
}

// ListJobs GET /jobs.
func (h *JobsHandler) ListJobs(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.inspector.ListJobs(c.UserContext())})
}

// GetJob GET /jobs/:id. An unknown job is {"data": null}, not an error.
func (h *JobsHandler) GetJob(c *fiber.Ctx) error {
	job := h.inspector.GetJob(c.UserContext(), c.Params("id"))
	if job == nil {
		return c.JSON(fiber.Map{"data": nil})
	}
	return c.JSON(fiber.Map{"data": job})
}
