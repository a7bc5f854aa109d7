package services_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caravel-hq/caravel/pkg/graph"
	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/persistence"
	"github.com/caravel-hq/caravel/pkg/persistence/file"
	"github.com/caravel-hq/caravel/pkg/services"
)

func newTestService(t *testing.T) (*services.Workflow, *file.Persistence) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	graphs := graph.NewService(persist.GraphRepository(), logger)

	return services.NewWorkflow(persist, graphs, logger), persist
}

func validGraph() ([]*models.Node, []*models.Edge) {
	nodes := []*models.Node{
		{ID: "begin", Label: "Start", Type: models.NodeTypeStart},
		{ID: "finish", Label: "End", Type: models.NodeTypeEnd},
	}
	edges := []*models.Edge{
		{ID: "e1", SourceID: "begin", TargetID: "finish"},
	}

	return nodes, edges
}

func TestCreateWorkflow(t *testing.T) {
	svc, _ := newTestService(t)

	workflow, err := svc.Create(t.Context(), services.CreateWorkflowRequest{
		Name:      "Invoice Approval",
		Category:  "finance",
		CreatedBy: "ops",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, workflow.ID)
	assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)
	assert.Equal(t, "1", workflow.Version)
	assert.False(t, workflow.IsActive)

	loaded, err := svc.Get(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice Approval", loaded.Name)
}

func TestCreateWorkflowRequiresName(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(t.Context(), services.CreateWorkflowRequest{})
	require.ErrorIs(t, err, services.ErrWorkflowNameRequired)
	assert.True(t, services.IsValidationError(err))
}

func TestListWorkflowsPagination(t *testing.T) {
	svc, _ := newTestService(t)

	for i := range 5 {
		_, err := svc.Create(t.Context(), services.CreateWorkflowRequest{
			Name: "Workflow " + string(rune('A'+i)),
		})
		require.NoError(t, err)
	}

	page, err := svc.List(t.Context(), services.ListWorkflowsRequest{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Workflows, 3)
	assert.True(t, page.HasNextPage)

	rest, err := svc.List(t.Context(), services.ListWorkflowsRequest{Limit: 3, Offset: 3})
	require.NoError(t, err)
	assert.Len(t, rest.Workflows, 2)
	assert.False(t, rest.HasNextPage)
}

func TestListWorkflowsRejectsUnknownStatus(t *testing.T) {
	svc, _ := newTestService(t)

	bogus := models.WorkflowStatus("bogus")

	_, err := svc.List(t.Context(), services.ListWorkflowsRequest{Status: &bogus})
	require.ErrorIs(t, err, services.ErrInvalidStatus)
}

func TestUpdateWorkflow(t *testing.T) {
	svc, _ := newTestService(t)

	workflow, err := svc.Create(t.Context(), services.CreateWorkflowRequest{Name: "Before"})
	require.NoError(t, err)

	name := "After Rename"
	description := "now with a description"

	updated, err := svc.Update(t.Context(), workflow.ID, services.UpdateWorkflowRequest{
		Name:        &name,
		Description: &description,
		UpdatedBy:   "ops",
	})
	require.NoError(t, err)
	assert.Equal(t, "After Rename", updated.Name)
	assert.Equal(t, "now with a description", updated.Description)
	assert.Equal(t, "ops", updated.UpdatedBy)
}

func TestUpdateRejectsTerminalWorkflow(t *testing.T) {
	svc, persist := newTestService(t)

	workflow := &models.Workflow{
		ID:        "wf-archived",
		Name:      "Old",
		Status:    models.WorkflowStatusArchived,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, persist.WorkflowRepository().Save(t.Context(), workflow))

	name := "New Name"

	_, err := svc.Update(t.Context(), "wf-archived", services.UpdateWorkflowRequest{Name: &name})
	require.ErrorIs(t, err, services.ErrWorkflowTerminal)
	assert.True(t, services.IsConflictError(err))
}

func TestActivationRequiresValidGraph(t *testing.T) {
	svc, persist := newTestService(t)

	workflow, err := svc.Create(t.Context(), services.CreateWorkflowRequest{Name: "Needs Graph"})
	require.NoError(t, err)

	// Empty graph: no start node, activation must fail.
	_, err = svc.SetStatus(t.Context(), workflow.ID, models.WorkflowStatusActive, "ops")

	var invalid *graph.ValidationError

	require.ErrorAs(t, err, &invalid)
	assert.False(t, invalid.Result.IsValid)

	nodes, edges := validGraph()
	require.NoError(t, persist.GraphRepository().WriteNodes(t.Context(), workflow.ID, nodes))
	require.NoError(t, persist.GraphRepository().WriteEdges(t.Context(), workflow.ID, edges))

	activated, err := svc.SetStatus(t.Context(), workflow.ID, models.WorkflowStatusActive, "ops")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)
	assert.True(t, activated.IsActive)
}

func TestSetStatusRejectsTerminalWorkflow(t *testing.T) {
	svc, _ := newTestService(t)

	workflow, err := svc.Create(t.Context(), services.CreateWorkflowRequest{Name: "Short Lived"})
	require.NoError(t, err)

	_, err = svc.SetStatus(t.Context(), workflow.ID, models.WorkflowStatusArchived, "ops")
	require.NoError(t, err)

	_, err = svc.SetStatus(t.Context(), workflow.ID, models.WorkflowStatusDraft, "ops")
	require.ErrorIs(t, err, services.ErrWorkflowTerminal)
}

func TestDeleteWorkflow(t *testing.T) {
	svc, _ := newTestService(t)

	workflow, err := svc.Create(t.Context(), services.CreateWorkflowRequest{Name: "Disposable"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(t.Context(), workflow.ID))

	_, err = svc.Get(t.Context(), workflow.ID)
	require.ErrorIs(t, err, services.ErrWorkflowNotFound)
}

func TestExecutionsRequireExistingWorkflow(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Executions(t.Context(), "missing")
	require.ErrorIs(t, err, services.ErrWorkflowNotFound)
}

func TestExecutionLogsRequireExistingExecution(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ExecutionLogs(t.Context(), "missing")
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestStats(t *testing.T) {
	svc, persist := newTestService(t)

	for _, status := range []models.WorkflowStatus{
		models.WorkflowStatusDraft,
		models.WorkflowStatusActive,
		models.WorkflowStatusActive,
	} {
		workflow, err := svc.Create(t.Context(), services.CreateWorkflowRequest{Name: "Counted " + string(status)})
		require.NoError(t, err)

		if status != models.WorkflowStatusDraft {
			nodes, edges := validGraph()
			require.NoError(t, persist.GraphRepository().WriteNodes(t.Context(), workflow.ID, nodes))
			require.NoError(t, persist.GraphRepository().WriteEdges(t.Context(), workflow.ID, edges))

			_, err = svc.SetStatus(t.Context(), workflow.ID, status, "ops")
			require.NoError(t, err)
		}
	}

	executions := []*models.WorkflowExecution{
		{ID: "exec-1", WorkflowID: "wf-x", Status: models.ExecutionStatusCompleted, CreatedAt: time.Now().UTC()},
		{ID: "exec-2", WorkflowID: "wf-x", Status: models.ExecutionStatusFailed, CreatedAt: time.Now().UTC()},
		{ID: "exec-3", WorkflowID: "wf-x", Status: models.ExecutionStatusRunning, CreatedAt: time.Now().UTC()},
	}
	for _, execution := range executions {
		require.NoError(t, persist.ExecutionRepository().Save(t.Context(), execution))
	}

	stats, err := svc.Stats(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalWorkflows)
	assert.Equal(t, 2, stats.ActiveWorkflows)
	assert.Equal(t, 1, stats.DraftWorkflows)
	assert.Equal(t, 3, stats.RecentExecutions)
	assert.Equal(t, 1, stats.CompletedExecutions)
	assert.Equal(t, 1, stats.FailedExecutions)
	assert.Equal(t, 1, stats.RunningExecutions)
}
