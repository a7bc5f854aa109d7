package file

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/persistence"
)

func testWorkflow(id string, createdAt time.Time) *models.Workflow {
	return &models.Workflow{
		ID:          id,
		Name:        "Test Workflow " + id,
		Description: "Test workflow description",
		Status:      models.WorkflowStatusDraft,
		ProjectID:   "project-1",
		Nodes: []*models.Node{
			{ID: "start-1", Type: models.NodeTypeStart, Label: "Start"},
			{ID: "end-1", Type: models.NodeTypeEnd, Label: "End"},
		},
		Edges: []*models.Edge{
			{ID: "edge-1", SourceID: "start-1", TargetID: "end-1"},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestWorkflowRepository_SaveAndGetByID(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	workflow := testWorkflow("wf-1", time.Now().UTC())
	require.NoError(t, repo.Save(t.Context(), workflow))

	assert.FileExists(t, filepath.Join(repo.root, "workflows", "wf-1.json"))

	loaded, err := repo.GetByID(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, loaded.Name)
	assert.Len(t, loaded.Nodes, 2)
	assert.Len(t, loaded.Edges, 1)
}

func TestWorkflowRepository_GetByID_NotFound(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	_, err := repo.GetByID(t.Context(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_List(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"wf-a", "wf-b", "wf-c"} {
		require.NoError(t, repo.Save(t.Context(), testWorkflow(id, base.Add(time.Duration(i)*time.Hour))))
	}

	workflows, err := repo.List(t.Context(), persistence.ListWorkflowsOptions{})
	require.NoError(t, err)
	require.Len(t, workflows, 3)

	// Newest first
	assert.Equal(t, "wf-c", workflows[0].ID)
	assert.Equal(t, "wf-a", workflows[2].ID)
}

func TestWorkflowRepository_List_Filters(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	active := testWorkflow("wf-active", time.Now().UTC())
	active.Status = models.WorkflowStatusActive
	require.NoError(t, repo.Save(t.Context(), active))

	other := testWorkflow("wf-other", time.Now().UTC())
	other.ProjectID = "project-2"
	require.NoError(t, repo.Save(t.Context(), other))

	status := models.WorkflowStatusActive
	workflows, err := repo.List(t.Context(), persistence.ListWorkflowsOptions{Status: &status})
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "wf-active", workflows[0].ID)

	workflows, err = repo.List(t.Context(), persistence.ListWorkflowsOptions{ProjectID: "project-2"})
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "wf-other", workflows[0].ID)
}

func TestWorkflowRepository_List_Pagination(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		id := string(rune('a' + i))
		require.NoError(t, repo.Save(t.Context(), testWorkflow("wf-"+id, base.Add(time.Duration(i)*time.Hour))))
	}

	workflows, err := repo.List(t.Context(), persistence.ListWorkflowsOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.Equal(t, "wf-c", workflows[0].ID)
	assert.Equal(t, "wf-b", workflows[1].ID)

	workflows, err = repo.List(t.Context(), persistence.ListWorkflowsOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestWorkflowRepository_Delete(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	require.NoError(t, repo.Save(t.Context(), testWorkflow("wf-del", time.Now().UTC())))
	require.NoError(t, repo.Delete(t.Context(), "wf-del"))

	_, err := repo.GetByID(t.Context(), "wf-del")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = repo.Delete(t.Context(), "wf-del")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_ReadGraph_Empty(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	workflow := testWorkflow("wf-bare", time.Now().UTC())
	workflow.Nodes = nil
	workflow.Edges = nil
	require.NoError(t, repo.Save(t.Context(), workflow))

	nodes, edges, err := repo.ReadGraph(t.Context(), "wf-bare")
	require.NoError(t, err)
	assert.NotNil(t, nodes)
	assert.NotNil(t, edges)
	assert.Empty(t, nodes)
	assert.Empty(t, edges)
}

func TestWorkflowRepository_WriteNodesAndEdges(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	require.NoError(t, repo.Save(t.Context(), testWorkflow("wf-graph", time.Now().UTC())))

	nodes := []*models.Node{
		{ID: "start-1", Type: models.NodeTypeStart},
		{ID: "task-1", Type: models.NodeTypeTaskAutomation, Data: map[string]any{"target": "billing"}},
		{ID: "end-1", Type: models.NodeTypeEnd},
	}
	require.NoError(t, repo.WriteNodes(t.Context(), "wf-graph", nodes))

	edges := []*models.Edge{
		{ID: "e1", SourceID: "start-1", TargetID: "task-1"},
		{ID: "e2", SourceID: "task-1", TargetID: "end-1"},
	}
	require.NoError(t, repo.WriteEdges(t.Context(), "wf-graph", edges))

	gotNodes, gotEdges, err := repo.ReadGraph(t.Context(), "wf-graph")
	require.NoError(t, err)
	assert.Len(t, gotNodes, 3)
	assert.Len(t, gotEdges, 2)
	assert.Equal(t, "billing", gotNodes[1].Data["target"])
}

func TestWorkflowRepository_WriteNodes_WorkflowNotFound(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	err := repo.WriteNodes(t.Context(), "missing", []*models.Node{})
	assert.True(t, persistence.IsWorkflowNotFound(err))
}
