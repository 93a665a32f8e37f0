package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/clipstudio/api/internal/model"
	"github.com/clipstudio/api/internal/service"
	"github.com/clipstudio/api/pkg/response"
)

type PipelineHandler struct {
	service   *service.PipelineService
	validator *validator.Validate
}

func NewPipelineHandler(svc *service.PipelineService, v *validator.Validate) *PipelineHandler {
	return &PipelineHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/projects/:projectId/pipeline/start
func (h *PipelineHandler) Start(c *fiber.Ctx) error {
	projectID := projectIDParam(c)
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	var req model.PipelineStartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	result, err := h.service.StartPipeline(c.Context(), projectID, &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// Abort handles POST /api/projects/:projectId/pipeline/abort
func (h *PipelineHandler) Abort(c *fiber.Ctx) error {
	projectID := projectIDParam(c)
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	result, err := h.service.AbortPipeline(c.Context(), projectID)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// SelectImage handles POST /api/projects/:projectId/pipeline/select-image
func (h *PipelineHandler) SelectImage(c *fiber.Ctx) error {
	projectID := projectIDParam(c)
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	var req model.SelectImageRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.SelectImage(c.Context(), projectID, &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// Status handles GET /api/projects/:projectId/pipeline/status
func (h *PipelineHandler) Status(c *fiber.Ctx) error {
	projectID := projectIDParam(c)
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	result, err := h.service.Status(c.Context(), projectID)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}
