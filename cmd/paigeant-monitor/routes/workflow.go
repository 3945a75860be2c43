package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/paigeant/paigeant/cmd/paigeant-monitor/handlers"
	"github.com/paigeant/paigeant/common/persistence"
)

// RegisterWorkflowRoutes registers the workflow query routes.
func RegisterWorkflowRoutes(e *echo.Echo, repo persistence.Repository) {
	h := handlers.NewWorkflowHandler(repo)

	wf := e.Group("/api/v1/workflows")
	{
		wf.GET("", h.ListWorkflows)                   // GET /api/v1/workflows
		wf.GET("/:correlation_id", h.GetWorkflow)     // GET /api/v1/workflows/<uuid>
	}
}
