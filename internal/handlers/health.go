package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/database"
)

// PoolHealth reports liveness of the stream connection pool.
type PoolHealth interface {
	Healthy() bool
}

// HealthHandler probes the database and, when configured, the stream pool.
type HealthHandler struct {
	DB   *gorm.DB
	Pool PoolHealth
}

func NewHealthHandler(db *gorm.DB, pool PoolHealth) *HealthHandler {
	return &HealthHandler{DB: db, Pool: pool}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck handles GET /health
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	status := "healthy"

	if err := database.HealthCheck(ctx, h.DB); err != nil {
		services["database"] = "unhealthy: " + err.Error()
		status = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	if h.Pool != nil {
		if h.Pool.Healthy() {
			services["stream"] = "healthy"
		} else {
			services["stream"] = "unhealthy: no live connections"
			status = "unhealthy"
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	if status == "unhealthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}
	return c.JSON(response)
}
