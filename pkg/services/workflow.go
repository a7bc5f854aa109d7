package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/caravel-hq/caravel/pkg/graph"
	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/persistence"
)

const maxListLimit = 100

// Workflow handles workflow-related business operations.
type Workflow struct {
	persistence persistence.Persistence
	graphs      *graph.Service
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service. The graph service is used to
// gate activation on a passing validation.
func NewWorkflow(persist persistence.Persistence, graphs *graph.Service, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persist,
		graphs:      graphs,
		logger:      logger.With("module", "workflows"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateWorkflowRequest contains the fields of a new workflow. Workflows are
// always created in draft status; activation is a separate, validated step.
type CreateWorkflowRequest struct {
	Name        string `validate:"required,min=3"`
	Description string
	Category    string
	Tags        []string
	ProjectID   string
	CreatedBy   string
}

// Create creates a new draft workflow with an empty graph.
func (w *Workflow) Create(ctx context.Context, req CreateWorkflowRequest) (*models.Workflow, error) {
	if req.Name == "" {
		return nil, NewValidationError("Create", "NAME_REQUIRED", "workflow name is required", ErrWorkflowNameRequired)
	}

	now := time.Now().UTC()
	workflow := &models.Workflow{
		ID:          "wf-" + uuid.New().String()[:8],
		Name:        req.Name,
		Description: req.Description,
		Version:     "1",
		Status:      models.WorkflowStatusDraft,
		Category:    req.Category,
		Tags:        req.Tags,
		ProjectID:   req.ProjectID,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Created workflow", "workflow_id", workflow.ID, "name", workflow.Name)

	return workflow, nil
}

// Get loads one workflow by id.
func (w *Workflow) Get(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowRepository().GetByID(ctx, id)
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	Limit     int `validate:"min=0,max=100"`
	Offset    int `validate:"min=0"`
	ProjectID string
	Status    *models.WorkflowStatus
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	HasNextPage bool               `json:"has_next_page"`
}

// List retrieves workflows with filtering and pagination, newest first.
func (w *Workflow) List(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > maxListLimit {
		req.Limit = maxListLimit
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.Status != nil && !models.IsValidWorkflowStatus(*req.Status) {
		return nil, NewValidationError("List", "INVALID_STATUS",
			fmt.Sprintf("invalid workflow status %q", *req.Status), ErrInvalidStatus)
	}

	// Fetch one extra record to detect a next page without a count query.
	opts := persistence.ListWorkflowsOptions{
		Limit:     req.Limit + 1,
		Offset:    req.Offset,
		ProjectID: req.ProjectID,
		Status:    req.Status,
	}

	workflows, err := w.persistence.WorkflowRepository().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	hasNext := len(workflows) > req.Limit
	if hasNext {
		workflows = workflows[:req.Limit]
	}

	return &ListWorkflowsResponse{Workflows: workflows, HasNextPage: hasNext}, nil
}

// UpdateWorkflowRequest contains the mutable workflow fields. Nil means
// "leave unchanged".
type UpdateWorkflowRequest struct {
	Name        *string `validate:"omitempty,min=3"`
	Description *string
	Category    *string
	Tags        []string
	UpdatedBy   string
}

// Update modifies a workflow's descriptive fields. Archived and deprecated
// workflows are immutable.
func (w *Workflow) Update(ctx context.Context, id string, req UpdateWorkflowRequest) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow.IsTerminalStatus() {
		return nil, &ServiceError{Op: "Update", Code: "WORKFLOW_TERMINAL",
			Message: "workflow " + id + " is " + string(workflow.Status), Err: ErrWorkflowTerminal}
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, NewValidationError("Update", "NAME_REQUIRED", "workflow name is required", ErrWorkflowNameRequired)
		}

		workflow.Name = *req.Name
	}

	if req.Description != nil {
		workflow.Description = *req.Description
	}

	if req.Category != nil {
		workflow.Category = *req.Category
	}

	if req.Tags != nil {
		workflow.Tags = req.Tags
	}

	workflow.UpdatedBy = req.UpdatedBy
	workflow.UpdatedAt = time.Now().UTC()

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// Delete soft-deletes a workflow.
func (w *Workflow) Delete(ctx context.Context, id string) error {
	if err := w.persistence.WorkflowRepository().Delete(ctx, id); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Deleted workflow", "workflow_id", id)

	return nil
}

// SetStatus transitions a workflow's lifecycle status. Activation requires
// the graph to pass validation; a failing graph comes back as a
// graph.ValidationError carrying every violation. Archived and deprecated
// workflows accept no further transitions.
func (w *Workflow) SetStatus(ctx context.Context, id string, status models.WorkflowStatus, updatedBy string) (*models.Workflow, error) {
	if !models.IsValidWorkflowStatus(status) {
		return nil, NewValidationError("SetStatus", "INVALID_STATUS",
			fmt.Sprintf("invalid workflow status %q", status), ErrInvalidStatus)
	}

	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow.IsTerminalStatus() {
		return nil, &ServiceError{Op: "SetStatus", Code: "WORKFLOW_TERMINAL",
			Message: "workflow " + id + " is " + string(workflow.Status), Err: ErrWorkflowTerminal}
	}

	if status == models.WorkflowStatusActive {
		result, err := w.graphs.Validate(ctx, id)
		if err != nil {
			return nil, err
		}

		if !result.IsValid {
			return nil, &graph.ValidationError{Result: result}
		}
	}

	workflow.Status = status
	workflow.IsActive = status == models.WorkflowStatusActive
	workflow.UpdatedBy = updatedBy
	workflow.UpdatedAt = time.Now().UTC()

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow status: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow status changed",
		"workflow_id", id, "status", status, "updated_by", updatedBy)

	return workflow, nil
}

// Executions returns the workflow's execution history, newest first.
func (w *Workflow) Executions(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	if _, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	return w.persistence.ExecutionRepository().ListByWorkflow(ctx, workflowID)
}

// ExecutionLogs returns the ordered node logs of one execution.
func (w *Workflow) ExecutionLogs(ctx context.Context, executionID string) ([]*models.NodeExecutionLog, error) {
	if _, err := w.persistence.ExecutionRepository().GetByID(ctx, executionID); err != nil {
		return nil, err
	}

	return w.persistence.ExecutionRepository().NodeLogs(ctx, executionID)
}

// Stats summarises workflow and recent execution counts for the dashboard.
type Stats struct {
	TotalWorkflows      int `json:"total_workflows"`
	ActiveWorkflows     int `json:"active_workflows"`
	DraftWorkflows      int `json:"draft_workflows"`
	RecentExecutions    int `json:"recent_executions"`
	RunningExecutions   int `json:"running_executions"`
	CompletedExecutions int `json:"completed_executions"`
	FailedExecutions    int `json:"failed_executions"`
}

const statsExecutionSample = 500

// Stats computes dashboard counters. Execution counters cover the most
// recent executions only, not all of history.
func (w *Workflow) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	offset := 0

	for {
		page, err := w.persistence.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{
			Limit:  maxListLimit,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list workflows: %w", err)
		}

		for _, workflow := range page {
			stats.TotalWorkflows++

			switch workflow.Status {
			case models.WorkflowStatusActive:
				stats.ActiveWorkflows++
			case models.WorkflowStatusDraft:
				stats.DraftWorkflows++
			}
		}

		if len(page) < maxListLimit {
			break
		}

		offset += maxListLimit
	}

	executions, err := w.persistence.ExecutionRepository().ListRecent(ctx, statsExecutionSample)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	stats.RecentExecutions = len(executions)

	for _, execution := range executions {
		switch execution.Status {
		case models.ExecutionStatusRunning, models.ExecutionStatusPaused:
			stats.RunningExecutions++
		case models.ExecutionStatusCompleted:
			stats.CompletedExecutions++
		case models.ExecutionStatusFailed:
			stats.FailedExecutions++
		}
	}

	return stats, nil
}
