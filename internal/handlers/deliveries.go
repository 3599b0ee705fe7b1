package handlers

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/publisher"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/registry"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/scheduler"
)

// DeliveriesHandler exposes publish, retry and the scheduler triggers.
type DeliveriesHandler struct {
	Publisher *publisher.Publisher
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
}

func NewDeliveriesHandler(pub *publisher.Publisher, sched *scheduler.Scheduler, logger *zap.Logger) *DeliveriesHandler {
	return &DeliveriesHandler{Publisher: pub, Scheduler: sched, Logger: logger}
}

type publishRequest struct {
	EndpointID string          `json:"endpoint_id"`
	Payload    json.RawMessage `json:"payload"`
	Subject    string          `json:"subject"`
}

// Publish handles POST /publish
func (h *DeliveriesHandler) Publish(c *fiber.Ctx) error {
	var req publishRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	endpointID, err := uuid.Parse(req.EndpointID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid endpoint id",
		})
	}
	if len(req.Payload) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "payload is required",
		})
	}

	var opts *publisher.Options
	if req.Subject != "" {
		opts = &publisher.Options{Subject: req.Subject}
	}

	result, err := h.Publisher.Publish(c.Context(), endpointID, req.Payload, opts)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrEndpointNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "endpoint not found",
			})
		case errors.Is(err, publisher.ErrEndpointDisabled):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "endpoint disabled",
			})
		case errors.Is(err, publisher.ErrNoSubjectConfigured):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "no stream subject configured",
			})
		case publisher.IsPoolExhausted(err), errors.Is(err, publisher.ErrStreamUnavailable):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":  "stream transport unavailable",
				"result": result,
			})
		default:
			h.Logger.Error("Failed to publish", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to publish",
			})
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(result)
}

// Retry handles POST /deliveries/:id/retry
func (h *DeliveriesHandler) Retry(c *fiber.Ctx) error {
	callID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid delivery id",
		})
	}

	retried, err := h.Scheduler.Retry(c.Context(), callID)
	if err != nil {
		h.Logger.Error("Failed to retry delivery",
			zap.String("call_id", callID.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to retry delivery",
		})
	}

	return c.JSON(fiber.Map{"retried": retried})
}

// ProcessDue handles POST /deliveries/process — an external trigger for the
// scheduler, useful for cron-style deployments alongside the built-in runner.
func (h *DeliveriesHandler) ProcessDue(c *fiber.Ctx) error {
	pending, err := h.Scheduler.ProcessPending(c.Context())
	if err != nil {
		h.Logger.Error("Failed to process pending attempts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to process pending attempts",
		})
	}

	retries, err := h.Scheduler.ProcessDueRetries(c.Context())
	if err != nil {
		h.Logger.Error("Failed to process due retries", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to process due retries",
		})
	}

	return c.JSON(fiber.Map{
		"pending_processed": pending,
		"retries_processed": retries,
	})
}

type cleanupRequest struct {
	OlderThanHours int  `json:"older_than_hours"`
	OnlyTerminal   bool `json:"only_terminal"`
}

// Cleanup handles POST /deliveries/cleanup
func (h *DeliveriesHandler) Cleanup(c *fiber.Ctx) error {
	req := cleanupRequest{OlderThanHours: 720, OnlyTerminal: true}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}
	if req.OlderThanHours <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "older_than_hours must be positive",
		})
	}

	olderThan := time.Now().UTC().Add(-time.Duration(req.OlderThanHours) * time.Hour)
	deleted, err := h.Scheduler.CleanupOldAttempts(c.Context(), olderThan, req.OnlyTerminal)
	if err != nil {
		h.Logger.Error("Failed to clean up old attempts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to clean up old attempts",
		})
	}

	return c.JSON(fiber.Map{"deleted": deleted})
}
