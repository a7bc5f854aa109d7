// Package web exposes the workflow governance API over HTTP.
package web

import "github.com/caravel-hq/caravel/pkg/models"

// CreateWorkflowRequest is the body for creating a new draft workflow.
type CreateWorkflowRequest struct {
	Name        string   `json:"name"        validate:"required,min=3"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	ProjectID   string   `json:"project_id"`
	CreatedBy   string   `json:"created_by"`
}

// UpdateWorkflowRequest is the body for partially updating a workflow.
// Absent fields are left unchanged.
type UpdateWorkflowRequest struct {
	Name        *string  `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string  `json:"description,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	UpdatedBy   string   `json:"updated_by"`
}

// SetStatusRequest is the body for moving a workflow through its lifecycle.
type SetStatusRequest struct {
	Status    string `json:"status"     validate:"required"`
	UpdatedBy string `json:"updated_by"`
}

// ReplaceNodesRequest is the body for atomically replacing a workflow's
// node set.
type ReplaceNodesRequest struct {
	Nodes []*models.Node `json:"nodes" validate:"required"`
}

// ReplaceEdgesRequest is the body for atomically replacing a workflow's
// edge set.
type ReplaceEdgesRequest struct {
	Edges []*models.Edge `json:"edges" validate:"required"`
}

// GraphResponse carries a workflow's full node and edge set.
type GraphResponse struct {
	Nodes []*models.Node `json:"nodes"`
	Edges []*models.Edge `json:"edges"`
}

// ExecuteWorkflowRequest is the body for triggering a new execution.
type ExecuteWorkflowRequest struct {
	Input       map[string]any `json:"input"`
	TriggeredBy string         `json:"triggered_by"`
}

// CancelExecutionRequest is the body for cancelling a running execution.
type CancelExecutionRequest struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
}

// CompleteTaskRequest is the body for completing a waiting human task.
type CompleteTaskRequest struct {
	Output      map[string]any `json:"output"`
	CompletedBy string         `json:"completed_by"`
}

// GenerateWorkflowRequest is the body for drafting a workflow graph from a
// natural language description.
type GenerateWorkflowRequest struct {
	Description string `json:"description" validate:"required,min=10"`
}
