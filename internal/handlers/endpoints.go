package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/models"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/registry"
)

// EndpointsHandler exposes endpoint and secret administration.
type EndpointsHandler struct {
	Registry *registry.Registry
	Logger   *zap.Logger
}

func NewEndpointsHandler(reg *registry.Registry, logger *zap.Logger) *EndpointsHandler {
	return &EndpointsHandler{Registry: reg, Logger: logger}
}

type registerEndpointRequest struct {
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	Method        string            `json:"method"`
	Headers       map[string]string `json:"headers"`
	Description   string            `json:"description"`
	TimeoutMs     *int              `json:"timeout_ms"`
	MaxRetryCount *int              `json:"max_retries"`
	TransportMode string            `json:"transport_mode"`
	StreamSubject string            `json:"stream_subject"`
}

// Register handles POST /endpoints
func (h *EndpointsHandler) Register(c *fiber.Ctx) error {
	var req registerEndpointRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	endpoint, err := h.Registry.Register(c.Context(), registry.RegisterInput{
		Name:          req.Name,
		URL:           req.URL,
		Method:        req.Method,
		Headers:       req.Headers,
		Description:   req.Description,
		TimeoutMs:     req.TimeoutMs,
		MaxRetryCount: req.MaxRetryCount,
		TransportMode: models.TransportMode(req.TransportMode),
		StreamSubject: req.StreamSubject,
	})
	if err != nil {
		if errors.Is(err, registry.ErrInvalidConfiguration) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		h.Logger.Error("Failed to register endpoint", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to register endpoint",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(endpoint)
}

type updateEndpointRequest struct {
	URL           *string           `json:"url"`
	Method        *string           `json:"method"`
	Headers       map[string]string `json:"headers"`
	Description   *string           `json:"description"`
	TimeoutMs     *int              `json:"timeout_ms"`
	MaxRetryCount *int              `json:"max_retries"`
	Enabled       *bool             `json:"enabled"`
	TransportMode *string           `json:"transport_mode"`
	StreamSubject *string           `json:"stream_subject"`
}

// Update handles PATCH /endpoints/:id
func (h *EndpointsHandler) Update(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid endpoint id",
		})
	}

	var req updateEndpointRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	input := registry.UpdateInput{
		URL:           req.URL,
		Method:        req.Method,
		Headers:       req.Headers,
		Description:   req.Description,
		TimeoutMs:     req.TimeoutMs,
		MaxRetryCount: req.MaxRetryCount,
		Enabled:       req.Enabled,
		StreamSubject: req.StreamSubject,
	}
	if req.TransportMode != nil {
		mode := models.TransportMode(*req.TransportMode)
		input.TransportMode = &mode
	}

	updated, err := h.Registry.Update(c.Context(), id, input)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidConfiguration) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		h.Logger.Error("Failed to update endpoint",
			zap.String("endpoint_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to update endpoint",
		})
	}
	if !updated {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "endpoint not found",
		})
	}

	return c.JSON(fiber.Map{"updated": true})
}

// Delete handles DELETE /endpoints/:id
func (h *EndpointsHandler) Delete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid endpoint id",
		})
	}

	deleted, err := h.Registry.Delete(c.Context(), id)
	if err != nil {
		h.Logger.Error("Failed to delete endpoint",
			zap.String("endpoint_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete endpoint",
		})
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "endpoint not found",
		})
	}

	return c.JSON(fiber.Map{"deleted": true})
}

// Get handles GET /endpoints/:id
func (h *EndpointsHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid endpoint id",
		})
	}

	endpoint, err := h.Registry.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrEndpointNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "endpoint not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load endpoint",
		})
	}

	return c.JSON(endpoint)
}

// List handles GET /endpoints
func (h *EndpointsHandler) List(c *fiber.Ctx) error {
	endpoints, err := h.Registry.List(c.Context())
	if err != nil {
		h.Logger.Error("Failed to list endpoints", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list endpoints",
		})
	}
	return c.JSON(fiber.Map{"endpoints": endpoints})
}

type setSecretRequest struct {
	Value string `json:"value"`
}

// SetSecret handles PUT /endpoints/:id/secrets/:name
func (h *EndpointsHandler) SetSecret(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid endpoint id",
		})
	}

	var req setSecretRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	err = h.Registry.SetSecret(c.Context(), id, c.Params("name"), req.Value)
	if err != nil {
		if errors.Is(err, registry.ErrEndpointNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "endpoint not found",
			})
		}
		if errors.Is(err, registry.ErrInvalidConfiguration) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to set secret",
		})
	}

	return c.JSON(fiber.Map{"updated": true})
}

// DeleteSecret handles DELETE /endpoints/:id/secrets/:name
func (h *EndpointsHandler) DeleteSecret(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid endpoint id",
		})
	}

	deleted, err := h.Registry.DeleteSecret(c.Context(), id, c.Params("name"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete secret",
		})
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "secret not found",
		})
	}

	return c.JSON(fiber.Map{"deleted": true})
}
