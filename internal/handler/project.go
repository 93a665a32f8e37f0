package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/clipstudio/api/internal/model"
	"github.com/clipstudio/api/internal/pipeline"
	"github.com/clipstudio/api/internal/service"
	"github.com/clipstudio/api/pkg/response"
)

type ProjectHandler struct {
	service   *service.PipelineService
	validator *validator.Validate
}

func NewProjectHandler(svc *service.PipelineService, v *validator.Validate) *ProjectHandler {
	return &ProjectHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/projects
func (h *ProjectHandler) Create(c *fiber.Ctx) error {
	var req model.CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	project, err := h.service.CreateProject(c.Context(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, project)
}

// Get handles GET /api/projects/:projectId
func (h *ProjectHandler) Get(c *fiber.Ctx) error {
	projectID := projectIDParam(c)
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	project, err := h.service.GetProject(c.Context(), projectID)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, project)
}

// List handles GET /api/projects
func (h *ProjectHandler) List(c *fiber.Ctx) error {
	projects, err := h.service.ListProjects(c.Context())
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, fiber.Map{"projects": projects})
}

// Delete handles DELETE /api/projects/:projectId
func (h *ProjectHandler) Delete(c *fiber.Ctx) error {
	projectID := projectIDParam(c)
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	if err := h.service.DeleteProject(c.Context(), projectID); err != nil {
		return serviceError(c, err)
	}

	return response.NoContent(c)
}

// projectIDParam copies the route param so the ID may outlive the request
func projectIDParam(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("projectId"))
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Namespace()] = e.Tag()
		}
		return errors
	}
	return nil
}

// serviceError maps service and pipeline errors onto the response envelope
func serviceError(c *fiber.Ctx, err error) error {
	var validationErr *service.ValidationError

	switch {
	case errors.As(err, &validationErr):
		return response.ValidationError(c, validationErr.Message, fiber.Map{
			"clipIndexes": validationErr.ClipIndexes,
		})
	case errors.Is(err, service.ErrProjectNotFound):
		return response.NotFound(c, "Project not found")
	case errors.Is(err, service.ErrNoPipeline):
		return response.NotFound(c, "No pipeline is running for this project")
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		return response.Conflict(c, "Pipeline already running")
	case errors.Is(err, pipeline.ErrNotAwaitingReview), errors.Is(err, pipeline.ErrInvalidImageIndex):
		return response.ValidationError(c, err.Error(), nil)
	default:
		return response.ServiceError(c, err.Error())
	}
}
