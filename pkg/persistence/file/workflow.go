package file

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/persistence"
)

// WorkflowRepository stores one JSON document per workflow under
// <root>/workflows. The graph (nodes and edges) lives inside the workflow
// document, so this repository also implements persistence.GraphRepository.
type WorkflowRepository struct {
	root string
	mu   sync.RWMutex
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

func (wr *WorkflowRepository) dir() string {
	return filepath.Join(wr.root, "workflows")
}

func (wr *WorkflowRepository) path(id string) string {
	return filepath.Join(wr.dir(), id+".json")
}

// List returns workflows filtered and paginated in memory, newest first.
func (wr *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	entries, err := fs.Glob(os.DirFS(wr.dir()), "*.json")
	if err != nil {
		return nil, persistence.NewStorageError("List", "", err)
	}

	workflows := make([]*models.Workflow, 0, len(entries))

	for _, entry := range entries {
		workflow, err := wr.read(entry[:len(entry)-len(".json")])
		if err != nil {
			return nil, err
		}

		if opts.ProjectID != "" && workflow.ProjectID != opts.ProjectID {
			continue
		}

		if opts.Status != nil && workflow.Status != *opts.Status {
			continue
		}

		workflows = append(workflows, workflow)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	if opts.Offset >= len(workflows) {
		return []*models.Workflow{}, nil
	}

	end := opts.Offset + opts.Limit
	if end > len(workflows) {
		end = len(workflows)
	}

	return workflows[opts.Offset:end], nil
}

// GetByID loads a single workflow document.
func (wr *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	return wr.read(id)
}

func (wr *WorkflowRepository) read(id string) (*models.Workflow, error) {
	data, err := os.ReadFile(wr.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, persistence.NewStorageError("GetByID", id, err)
	}

	var workflow models.Workflow
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, persistence.NewStorageError("GetByID", id, err)
	}

	return &workflow, nil
}

// Save writes the workflow document, creating the directory on first use.
func (wr *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	return wr.write(workflow)
}

func (wr *WorkflowRepository) write(workflow *models.Workflow) error {
	if err := os.MkdirAll(wr.dir(), 0o755); err != nil {
		return persistence.NewStorageError("Save", workflow.ID, err)
	}

	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return persistence.NewStorageError("Save", workflow.ID, err)
	}

	if err := os.WriteFile(wr.path(workflow.ID), data, 0o644); err != nil {
		return persistence.NewStorageError("Save", workflow.ID, err)
	}

	return nil
}

// Delete removes the workflow document.
func (wr *WorkflowRepository) Delete(ctx context.Context, id string) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	if err := os.Remove(wr.path(id)); err != nil {
		if os.IsNotExist(err) {
			return persistence.ErrWorkflowNotFound
		}

		return persistence.NewStorageError("Delete", id, err)
	}

	return nil
}

// ReadGraph returns the current node and edge sets. Empty slices for a fresh
// workflow, never nil.
func (wr *WorkflowRepository) ReadGraph(ctx context.Context, workflowID string) ([]*models.Node, []*models.Edge, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	workflow, err := wr.read(workflowID)
	if err != nil {
		return nil, nil, err
	}

	nodes := workflow.Nodes
	if nodes == nil {
		nodes = []*models.Node{}
	}

	edges := workflow.Edges
	if edges == nil {
		edges = []*models.Edge{}
	}

	return nodes, edges, nil
}

// WriteNodes atomically replaces the workflow's node set.
func (wr *WorkflowRepository) WriteNodes(ctx context.Context, workflowID string, nodes []*models.Node) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	workflow, err := wr.read(workflowID)
	if err != nil {
		return err
	}

	workflow.Nodes = nodes

	return wr.write(workflow)
}

// WriteEdges atomically replaces the workflow's edge set.
func (wr *WorkflowRepository) WriteEdges(ctx context.Context, workflowID string, edges []*models.Edge) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	workflow, err := wr.read(workflowID)
	if err != nil {
		return err
	}

	workflow.Edges = edges

	return wr.write(workflow)
}
