package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/paigeant/paigeant/common/persistence"
)

// WorkflowHandler serves read-only views over the workflow repository.
type WorkflowHandler struct {
	repo persistence.Repository
}

// NewWorkflowHandler creates a workflow handler.
func NewWorkflowHandler(repo persistence.Repository) *WorkflowHandler {
	return &WorkflowHandler{repo: repo}
}

// ListWorkflows returns all persisted workflows without step history.
// GET /api/v1/workflows
func (h *WorkflowHandler) ListWorkflows(c echo.Context) error {
	workflows, err := h.repo.ListWorkflows(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if workflows == nil {
		workflows = []*persistence.WorkflowInstance{}
	}
	return c.JSON(http.StatusOK, map[string]any{"workflows": workflows})
}

// GetWorkflow returns one workflow with its ordered step history.
// GET /api/v1/workflows/:correlation_id
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	correlationID := c.Param("correlation_id")

	wf, err := h.repo.GetWorkflow(c.Request().Context(), correlationID)
	if errors.Is(err, persistence.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, wf)
}
