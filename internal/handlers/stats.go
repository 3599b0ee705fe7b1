package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/monitor"
)

// StatsHandler exposes the read-only monitoring views.
type StatsHandler struct {
	Monitor *monitor.Monitor
	Logger  *zap.Logger
}

func NewStatsHandler(mon *monitor.Monitor, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{Monitor: mon, Logger: logger}
}

// Overview handles GET /stats
func (h *StatsHandler) Overview(c *fiber.Ctx) error {
	overview, err := h.Monitor.Overview(c.Context())
	if err != nil {
		h.Logger.Error("Failed to compute stats overview", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to compute stats",
		})
	}
	return c.JSON(fiber.Map{"endpoints": overview})
}

// EndpointStats handles GET /stats/endpoints/:id
func (h *StatsHandler) EndpointStats(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid endpoint id",
		})
	}

	stats, err := h.Monitor.Stats(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "endpoint not found",
		})
	}
	return c.JSON(stats)
}

// Backlog handles GET /stats/backlog
func (h *StatsHandler) Backlog(c *fiber.Ctx) error {
	backlog, err := h.Monitor.QueueBacklog(c.Context())
	if err != nil {
		h.Logger.Error("Failed to compute backlog", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to compute backlog",
		})
	}
	return c.JSON(backlog)
}

// FailedDeliveries handles GET /stats/failed
func (h *StatsHandler) FailedDeliveries(c *fiber.Ctx) error {
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsed
	}

	failed, err := h.Monitor.FailedDeliveries(c.Context(), limit)
	if err != nil {
		h.Logger.Error("Failed to list failed deliveries", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list failed deliveries",
		})
	}
	return c.JSON(fiber.Map{"deliveries": failed})
}
