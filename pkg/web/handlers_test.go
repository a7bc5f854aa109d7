package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caravel-hq/caravel/pkg/conditions"
	"github.com/caravel-hq/caravel/pkg/engine"
	"github.com/caravel-hq/caravel/pkg/graph"
	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/persistence/file"
	"github.com/caravel-hq/caravel/pkg/protocol"
	"github.com/caravel-hq/caravel/pkg/registry"
	"github.com/caravel-hq/caravel/pkg/services"
	"github.com/caravel-hq/caravel/pkg/template"
	"github.com/caravel-hq/caravel/pkg/web"
)

type echoFactory struct{}

func (echoFactory) Create(_ context.Context, _ *models.Node) (protocol.Handler, error) {
	return echoHandler{}, nil
}

func (echoFactory) ID() string { return string(models.NodeTypeTaskAutomation) }

func (echoFactory) Schema() map[string]any { return nil }

type echoHandler struct{}

func (echoHandler) Execute(_ context.Context, nodeCtx protocol.NodeContext, _ *slog.Logger) (*protocol.HandlerResult, error) {
	return &protocol.HandlerResult{Output: map[string]any{nodeCtx.Node.ID + "_done": true}}, nil
}

func setupTestApp(t *testing.T) (*fiber.App, *file.Persistence) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.NewRegistry(logger)
	reg.Register(echoFactory{})

	graphService := graph.NewService(persist.GraphRepository(), logger)
	workflowService := services.NewWorkflow(persist, graphService, logger)
	templateService := template.NewService(graphService, nil, logger)
	eng := engine.New(persist, reg, conditions.NewEvaluator(), logger)
	validate := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(workflowService, graphService, templateService, eng, reg, validate)

	app := fiber.New()

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Put("/:id/status", handlers.SetWorkflowStatus)
	w.Get("/:id/graph", handlers.GetWorkflowGraph)
	w.Put("/:id/nodes", handlers.ReplaceWorkflowNodes)
	w.Put("/:id/edges", handlers.ReplaceWorkflowEdges)
	w.Post("/:id/validate", handlers.ValidateWorkflow)
	w.Post("/:id/execute", handlers.ExecuteWorkflow)
	w.Get("/:id/executions", handlers.GetWorkflowExecutions)
	w.Post("/:id/template", handlers.ApplyTemplate)

	e := app.Group("/executions")
	e.Post("/:id/cancel", handlers.CancelExecution)
	e.Post("/:id/nodes/:nodeId/complete", handlers.CompleteTask)
	e.Get("/:id/logs", handlers.GetExecutionLogs)

	app.Get("/stats", handlers.GetStats)
	app.Get("/node-types", handlers.GetNodeTypes)
	app.Get("/health", handlers.HealthCheck)

	return app, persist
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func createTestWorkflow(t *testing.T, app *fiber.App) string {
	t.Helper()

	resp := doJSON(t, app, http.MethodPost, "/workflows", web.CreateWorkflowRequest{
		Name:      "Invoice Approval",
		CreatedBy: "tester",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Workflow

	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)

	return created.ID
}

func seedLinearGraph(t *testing.T, app *fiber.App, workflowID string) {
	t.Helper()

	nodes := []*models.Node{
		{ID: "begin", Label: "begin", Type: models.NodeTypeStart},
		{ID: "work", Label: "work", Type: models.NodeTypeTaskAutomation, Data: map[string]any{"target": "https://internal/run"}},
		{ID: "finish", Label: "finish", Type: models.NodeTypeEnd},
	}
	edges := []*models.Edge{
		{ID: "e1", SourceID: "begin", TargetID: "work"},
		{ID: "e2", SourceID: "work", TargetID: "finish"},
	}

	resp := doJSON(t, app, http.MethodPut, "/workflows/"+workflowID+"/nodes", web.ReplaceNodesRequest{Nodes: nodes})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPut, "/workflows/"+workflowID+"/edges", web.ReplaceEdgesRequest{Edges: edges})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func activateWorkflow(t *testing.T, app *fiber.App, workflowID string) {
	t.Helper()

	resp := doJSON(t, app, http.MethodPut, "/workflows/"+workflowID+"/status", web.SetStatusRequest{
		Status:    string(models.WorkflowStatusActive),
		UpdatedBy: "tester",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateWorkflowReturnsDraft(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/workflows", web.CreateWorkflowRequest{
		Name:      "Purchase Orders",
		CreatedBy: "tester",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Workflow

	decodeBody(t, resp, &created)
	assert.Equal(t, models.WorkflowStatusDraft, created.Status)
	assert.False(t, created.IsActive)
}

func TestCreateWorkflowRejectsShortName(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/workflows", web.CreateWorkflowRequest{Name: "ab"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetWorkflowNotFound(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/workflows/wf-missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateWorkflowChangesName(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	id := createTestWorkflow(t, app)

	name := "Invoice Approval v2"
	resp := doJSON(t, app, http.MethodPatch, "/workflows/"+id, web.UpdateWorkflowRequest{Name: &name})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.Workflow

	decodeBody(t, resp, &updated)
	assert.Equal(t, name, updated.Name)
}

func TestActivationRejectsInvalidGraph(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	id := createTestWorkflow(t, app)

	resp := doJSON(t, app, http.MethodPut, "/workflows/"+id+"/status", web.SetStatusRequest{
		Status:    string(models.WorkflowStatusActive),
		UpdatedBy: "tester",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestValidateReportsViolations(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	id := createTestWorkflow(t, app)

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+id+"/validate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		IsValid bool     `json:"is_valid"`
		Errors  []string `json:"errors"`
	}

	decodeBody(t, resp, &result)
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.Errors)
}

func TestExecuteWorkflowRunsToCompletion(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	id := createTestWorkflow(t, app)
	seedLinearGraph(t, app, id)
	activateWorkflow(t, app, id)

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+id+"/execute", web.ExecuteWorkflowRequest{
		Input:       map[string]any{"amount": 120},
		TriggeredBy: "tester",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var execution models.WorkflowExecution

	decodeBody(t, resp, &execution)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	logsResp := doJSON(t, app, http.MethodGet, "/executions/"+execution.ID+"/logs", nil)
	require.Equal(t, http.StatusOK, logsResp.StatusCode)

	var logs struct {
		Logs []*models.NodeExecutionLog `json:"logs"`
	}

	decodeBody(t, logsResp, &logs)
	assert.Len(t, logs.Logs, 2)
}

func TestExecuteDraftWorkflowConflicts(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	id := createTestWorkflow(t, app)
	seedLinearGraph(t, app, id)

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+id+"/execute", web.ExecuteWorkflowRequest{
		TriggeredBy: "tester",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCompleteHumanTaskOverHTTP(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	id := createTestWorkflow(t, app)

	nodes := []*models.Node{
		{ID: "begin", Label: "begin", Type: models.NodeTypeStart},
		{ID: "review", Label: "review", Type: models.NodeTypeTaskHuman, Data: map[string]any{"assignee": "approver"}},
		{ID: "finish", Label: "finish", Type: models.NodeTypeEnd},
	}
	edges := []*models.Edge{
		{ID: "e1", SourceID: "begin", TargetID: "review"},
		{ID: "e2", SourceID: "review", TargetID: "finish"},
	}

	resp := doJSON(t, app, http.MethodPut, "/workflows/"+id+"/nodes", web.ReplaceNodesRequest{Nodes: nodes})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = doJSON(t, app, http.MethodPut, "/workflows/"+id+"/edges", web.ReplaceEdgesRequest{Edges: edges})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	activateWorkflow(t, app, id)

	resp = doJSON(t, app, http.MethodPost, "/workflows/"+id+"/execute", web.ExecuteWorkflowRequest{TriggeredBy: "tester"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var execution models.WorkflowExecution

	decodeBody(t, resp, &execution)
	require.Equal(t, models.ExecutionStatusPaused, execution.Status)

	resp = doJSON(t, app, http.MethodPost, "/executions/"+execution.ID+"/nodes/review/complete", web.CompleteTaskRequest{
		Output:      map[string]any{"approved": true},
		CompletedBy: "approver",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decodeBody(t, resp, &execution)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	// Completing again conflicts with the terminal state.
	resp = doJSON(t, app, http.MethodPost, "/executions/"+execution.ID+"/nodes/review/complete", web.CompleteTaskRequest{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelExecutionNotFound(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/executions/exec-missing/cancel", web.CancelExecutionRequest{Reason: "stale"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApplyTemplateReplacesGraph(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	id := createTestWorkflow(t, app)

	doc := template.Document{
		Name: "Onboarding",
		Nodes: []*models.Node{
			{Label: "begin", Type: models.NodeTypeStart},
			{Label: "finish", Type: models.NodeTypeEnd},
		},
		Edges: []*models.Edge{},
	}

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+id+"/template", doc)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	graphResp := doJSON(t, app, http.MethodGet, "/workflows/"+id+"/graph", nil)
	require.Equal(t, http.StatusOK, graphResp.StatusCode)

	var body web.GraphResponse

	decodeBody(t, graphResp, &body)
	assert.Len(t, body.Nodes, 2)
}

func TestApplyTemplateRejectsNodeWithoutType(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	id := createTestWorkflow(t, app)

	doc := template.Document{
		Nodes: []*models.Node{{Label: "untyped"}},
	}

	resp := doJSON(t, app, http.MethodPost, "/workflows/"+id+"/template", doc)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListWorkflowsPagination(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	for range 3 {
		createTestWorkflow(t, app)
	}

	resp := doJSON(t, app, http.MethodGet, "/workflows?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Workflows   []*models.Workflow `json:"workflows"`
		HasNextPage bool               `json:"has_next_page"`
	}

	decodeBody(t, resp, &body)
	assert.Len(t, body.Workflows, 2)
	assert.True(t, body.HasNextPage)
}

func TestListWorkflowsRejectsBadLimit(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/workflows?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetNodeTypes(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/node-types", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		NodeTypes []string `json:"node_types"`
	}

	decodeBody(t, resp, &body)
	assert.Contains(t, body.NodeTypes, string(models.NodeTypeTaskAutomation))
}

func TestHealthCheckHealthy(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsCountWorkflows(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	createTestWorkflow(t, app)

	resp := doJSON(t, app, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats services.Stats

	decodeBody(t, resp, &stats)
	assert.Equal(t, 1, stats.TotalWorkflows)
	assert.Equal(t, 1, stats.DraftWorkflows)
}

func TestDeleteWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	id := createTestWorkflow(t, app)

	resp := doJSON(t, app, http.MethodDelete, "/workflows/"+id, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/workflows/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
