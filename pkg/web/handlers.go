package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/caravel-hq/caravel/pkg/engine"
	"github.com/caravel-hq/caravel/pkg/graph"
	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/persistence"
	"github.com/caravel-hq/caravel/pkg/registry"
	"github.com/caravel-hq/caravel/pkg/services"
	"github.com/caravel-hq/caravel/pkg/template"
)

// APIHandlers bundles the HTTP handlers for the governance API.
type APIHandlers struct {
	workflows *services.Workflow
	graphs    *graph.Service
	templates *template.Service
	engine    *engine.Engine
	registry  *registry.Registry
	validator *validator.Validate
}

// NewAPIHandlers creates the handler set over the given services.
func NewAPIHandlers(
	workflows *services.Workflow,
	graphs *graph.Service,
	templates *template.Service,
	eng *engine.Engine,
	reg *registry.Registry,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflows: workflows,
		graphs:    graphs,
		templates: templates,
		engine:    eng,
		registry:  reg,
		validator: validate,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflows.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Caravel API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Caravel API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func parseListWorkflowsRequest(c fiber.Ctx) (services.ListWorkflowsRequest, error) {
	req := services.ListWorkflowsRequest{}

	if limit := c.Query("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil {
			return req, err
		}

		req.Limit = parsed
	}

	if offset := c.Query("offset"); offset != "" {
		parsed, err := strconv.Atoi(offset)
		if err != nil {
			return req, err
		}

		req.Offset = parsed
	}

	if status := c.Query("status"); status != "" {
		workflowStatus := models.WorkflowStatus(status)
		req.Status = &workflowStatus
	}

	req.ProjectID = c.Query("project_id")

	return req, nil
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid pagination parameters")
	}

	result, err := h.workflows.List(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Workflows,
		"has_next_page": result.HasNextPage,
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflows.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflows.Create(c.Context(), services.CreateWorkflowRequest{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Tags:        req.Tags,
		ProjectID:   req.ProjectID,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflows.Update(c.Context(), id, services.UpdateWorkflowRequest{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Tags:        req.Tags,
		UpdatedBy:   req.UpdatedBy,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	err := h.workflows.Delete(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SetWorkflowStatus(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req SetStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflows.SetStatus(c.Context(), id, models.WorkflowStatus(req.Status), req.UpdatedBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) GetWorkflowGraph(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	nodes, edges, err := h.graphs.Read(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(GraphResponse{Nodes: nodes, Edges: edges})
}

func (h *APIHandlers) ReplaceWorkflowNodes(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req ReplaceNodesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	validate := c.Query("validate") == "true"

	err := h.graphs.ReplaceNodes(c.Context(), id, req.Nodes, validate)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ReplaceWorkflowEdges(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req ReplaceEdgesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	validate := c.Query("validate") == "true"

	err := h.graphs.ReplaceEdges(c.Context(), id, req.Edges, validate)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	result, err := h.graphs.Validate(c.Context(), id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req ExecuteWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	execution, err := h.engine.StartExecution(c.Context(), id, req.Input, req.TriggeredBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req CancelExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	execution, err := h.engine.Cancel(c.Context(), id, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CompleteTask(c fiber.Ctx) error {
	id := c.Params("id")
	nodeID := c.Params("nodeId")

	if id == "" || nodeID == "" {
		return badRequest(c, "Execution ID and node ID are required")
	}

	var req CompleteTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	execution, err := h.engine.CompleteTask(c.Context(), id, nodeID, req.Output)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	executions, err := h.workflows.Executions(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	logs, err := h.workflows.ExecutionLogs(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"logs": logs})
}

func (h *APIHandlers) GetStats(c fiber.Ctx) error {
	stats, err := h.workflows.Stats(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) ApplyTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var doc template.Document
	if err := c.Bind().JSON(&doc); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	err := h.templates.Apply(c.Context(), id, &doc)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GenerateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req GenerateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	doc, err := h.templates.GenerateFromDescription(c.Context(), id, req.Description)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(doc)
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"node_types": h.registry.AvailableTypes()})
}
