package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/property-service/internal/api/http/handlers"
	"github.com/spec-kit/property-service/internal/auth"
	"github.com/spec-kit/property-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Bulk           *handlers.BulkHandler
	Jobs           *handlers.JobsHandler
	Events         fiber.Handler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("/bulk/:operation", MultiStatus(), cfg.Bulk.Execute)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.SearchTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id/status", cfg.Tickets.UpdateStatus)

	jobs := app.Group("/jobs", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleOps))
	jobs.Get("/", cfg.Jobs.ListJobs)
	jobs.Get("/:id", cfg.Jobs.GetJob)

	if cfg.Events != nil {
		app.Get("/events", cfg.AuthMiddleware.Handle, cfg.Events)
	}
}
