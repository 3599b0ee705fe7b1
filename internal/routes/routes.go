package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(
	app *fiber.App,
	health *handlers.HealthHandler,
	endpoints *handlers.EndpointsHandler,
	deliveries *handlers.DeliveriesHandler,
	stats *handlers.StatsHandler,
) {
	app.Get("/health", health.HealthCheck)

	api := app.Group("/api/v1")

	api.Post("/endpoints", endpoints.Register)
	api.Get("/endpoints", endpoints.List)
	api.Get("/endpoints/:id", endpoints.Get)
	api.Patch("/endpoints/:id", endpoints.Update)
	api.Delete("/endpoints/:id", endpoints.Delete)
	api.Put("/endpoints/:id/secrets/:name", endpoints.SetSecret)
	api.Delete("/endpoints/:id/secrets/:name", endpoints.DeleteSecret)

	api.Post("/publish", deliveries.Publish)
	api.Post("/deliveries/process", deliveries.ProcessDue)
	api.Post("/deliveries/cleanup", deliveries.Cleanup)
	api.Post("/deliveries/:id/retry", deliveries.Retry)

	api.Get("/stats", stats.Overview)
	api.Get("/stats/backlog", stats.Backlog)
	api.Get("/stats/failed", stats.FailedDeliveries)
	api.Get("/stats/endpoints/:id", stats.EndpointStats)
}
