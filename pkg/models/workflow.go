// Package models defines the core domain models for workflow governance:
// the workflow graph, its executions and the per-node audit log.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft      WorkflowStatus = "draft"      // Editable, not executable
	WorkflowStatusActive     WorkflowStatus = "active"     // Validated, executable
	WorkflowStatusPaused     WorkflowStatus = "paused"     // Temporarily not executable
	WorkflowStatusArchived   WorkflowStatus = "archived"   // Terminal, no new executions
	WorkflowStatusDeprecated WorkflowStatus = "deprecated" // Terminal, no new executions
)

// Workflow represents a named, versioned automation definition. The graph
// itself (nodes and edges) is stored alongside and replaced atomically by the
// editing surface.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Version     string         `json:"version"`
	IsActive    bool           `json:"is_active"`
	IsTemplate  bool           `json:"is_template"`
	Category    string         `json:"category,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Status      WorkflowStatus `json:"status"      validate:"required"`
	ProjectID   string         `json:"project_id"`
	Nodes       []*Node        `json:"nodes"`
	Edges       []*Edge        `json:"edges"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedBy   string         `json:"created_by"`
	UpdatedBy   string         `json:"updated_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// CanStartExecution reports whether new executions may be triggered for the
// workflow. Archived and deprecated workflows are terminal for execution
// purposes; drafts and paused workflows are merely not yet (or not currently)
// runnable.
func (w *Workflow) CanStartExecution() bool {
	return w.Status == WorkflowStatusActive
}

// IsTerminalStatus reports whether the workflow lifecycle can no longer move
// back to an executable state.
func (w *Workflow) IsTerminalStatus() bool {
	return w.Status == WorkflowStatusArchived || w.Status == WorkflowStatusDeprecated
}

// ValidWorkflowStatuses lists every accepted lifecycle status.
var ValidWorkflowStatuses = []WorkflowStatus{
	WorkflowStatusDraft,
	WorkflowStatusActive,
	WorkflowStatusPaused,
	WorkflowStatusArchived,
	WorkflowStatusDeprecated,
}

// IsValidWorkflowStatus reports whether s is a known lifecycle status.
func IsValidWorkflowStatus(s WorkflowStatus) bool {
	for _, valid := range ValidWorkflowStatuses {
		if s == valid {
			return true
		}
	}

	return false
}
