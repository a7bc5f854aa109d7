// Package persistence provides the data storage abstraction for workflows,
// graphs, executions and node execution logs. The core treats the store as a
// synchronous request/response dependency; every failure surfaces as a
// StorageError that callers can unwrap.
package persistence

import (
	"context"

	"github.com/caravel-hq/caravel/pkg/models"
)

// Persistence bundles the repositories a deployment provides.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	GraphRepository() GraphRepository
	ExecutionRepository() ExecutionRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters and paginates workflow listings.
type ListWorkflowsOptions struct {
	Limit     int
	Offset    int
	ProjectID string
	Status    *models.WorkflowStatus
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	List(ctx context.Context, opts ListWorkflowsOptions) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// GraphRepository stores the node and edge sets of a workflow. Writes are
// full replacements; the editing surface always submits complete sets.
type GraphRepository interface {
	ReadGraph(ctx context.Context, workflowID string) ([]*models.Node, []*models.Edge, error)
	WriteNodes(ctx context.Context, workflowID string, nodes []*models.Node) error
	WriteEdges(ctx context.Context, workflowID string, edges []*models.Edge) error
}

// ExecutionRepository stores workflow executions and their ordered node logs.
type ExecutionRepository interface {
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)
	ListRecent(ctx context.Context, limit int) ([]*models.WorkflowExecution, error)
	Save(ctx context.Context, execution *models.WorkflowExecution) error
	UpdateStatus(ctx context.Context, id string, status models.ExecutionStatus, errorMessage string) error
	AppendNodeLog(ctx context.Context, log *models.NodeExecutionLog) error
	UpdateNodeLog(ctx context.Context, log *models.NodeExecutionLog) error
	NodeLogs(ctx context.Context, executionID string) ([]*models.NodeExecutionLog, error)
}
