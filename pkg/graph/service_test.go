package graph

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/persistence"
	"github.com/caravel-hq/caravel/pkg/persistence/file"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	repo := file.NewWorkflowRepository(t.TempDir())
	service := NewService(repo, slog.Default())

	require.NoError(t, repo.Save(t.Context(), &models.Workflow{
		ID:        "wf-1",
		Name:      "Test Workflow",
		Status:    models.WorkflowStatusDraft,
		CreatedAt: time.Now().UTC(),
	}))

	return service
}

func validNodesAndEdges() ([]*models.Node, []*models.Edge) {
	nodes := []*models.Node{
		{ID: "start-1", Type: models.NodeTypeStart},
		{ID: "task-1", Type: models.NodeTypeTaskAutomation, Data: map[string]any{"target": "billing"}},
		{ID: "end-1", Type: models.NodeTypeEnd},
	}
	edges := []*models.Edge{
		{ID: "e1", SourceID: "start-1", TargetID: "task-1"},
		{ID: "e2", SourceID: "task-1", TargetID: "end-1"},
	}

	return nodes, edges
}

func TestService_Read_FreshWorkflow(t *testing.T) {
	service := newTestService(t)

	nodes, edges, err := service.Read(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Empty(t, edges)
}

func TestService_Read_NotFound(t *testing.T) {
	service := newTestService(t)

	_, _, err := service.Read(t.Context(), "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestService_ReplaceNodesAndEdges(t *testing.T) {
	service := newTestService(t)

	nodes, edges := validNodesAndEdges()

	require.NoError(t, service.ReplaceNodes(t.Context(), "wf-1", nodes, false))
	require.NoError(t, service.ReplaceEdges(t.Context(), "wf-1", edges, false))

	gotNodes, gotEdges, err := service.Read(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Len(t, gotNodes, 3)
	assert.Len(t, gotEdges, 2)
}

func TestService_ReplaceNodes_NotFound(t *testing.T) {
	service := newTestService(t)

	nodes, _ := validNodesAndEdges()

	err := service.ReplaceNodes(t.Context(), "missing", nodes, false)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestService_ReplaceEdges_WithValidation(t *testing.T) {
	service := newTestService(t)

	nodes, edges := validNodesAndEdges()
	require.NoError(t, service.ReplaceNodes(t.Context(), "wf-1", nodes, false))

	// Valid edge set passes.
	require.NoError(t, service.ReplaceEdges(t.Context(), "wf-1", edges, true))

	// Edge set leaving task-1 orphaned is rejected and nothing is written.
	badEdges := []*models.Edge{
		{ID: "e1", SourceID: "start-1", TargetID: "end-1"},
	}

	err := service.ReplaceEdges(t.Context(), "wf-1", badEdges, true)
	require.Error(t, err)

	var validationErr *ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.NotEmpty(t, validationErr.Result.Errors)

	_, gotEdges, readErr := service.Read(t.Context(), "wf-1")
	require.NoError(t, readErr)
	assert.Len(t, gotEdges, 2)
}

func TestService_ReplaceNodes_WithValidation(t *testing.T) {
	service := newTestService(t)

	nodes, edges := validNodesAndEdges()
	require.NoError(t, service.ReplaceNodes(t.Context(), "wf-1", nodes, false))
	require.NoError(t, service.ReplaceEdges(t.Context(), "wf-1", edges, false))

	// Dropping the end node breaks the graph against the current edges.
	badNodes := nodes[:2]

	err := service.ReplaceNodes(t.Context(), "wf-1", badNodes, true)

	var validationErr *ValidationError

	require.ErrorAs(t, err, &validationErr)
}

func TestService_Validate(t *testing.T) {
	service := newTestService(t)

	nodes, edges := validNodesAndEdges()
	require.NoError(t, service.ReplaceNodes(t.Context(), "wf-1", nodes, false))
	require.NoError(t, service.ReplaceEdges(t.Context(), "wf-1", edges, false))

	result, err := service.Validate(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, 3, result.NodeCount)
}
