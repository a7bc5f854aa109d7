// Package scheduler triggers executions of active workflows on the cron
// expression carried in their metadata.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/persistence"
)

// MetadataKey is the workflow metadata key carrying the cron expression.
const MetadataKey = "schedule"

const reloadPageSize = 100

// Starter triggers new workflow executions. Satisfied by the engine.
type Starter interface {
	StartExecution(ctx context.Context, workflowID string, input map[string]any, triggeredBy string) (*models.WorkflowExecution, error)
}

// Scheduler runs cron jobs for every active workflow that declares a
// schedule. Reload reconciles the job set against the store; workflows that
// lost their schedule or their active status are dropped.
type Scheduler struct {
	workflows persistence.WorkflowRepository
	starter   Starter
	logger    *slog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a scheduler over the given workflow store and starter.
func New(workflows persistence.WorkflowRepository, starter Starter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		workflows: workflows,
		starter:   starter,
		logger:    logger.With("module", "scheduler"),
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads the current schedules and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.Reload(ctx); err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload reconciles the cron jobs against the workflow store and returns the
// number of scheduled workflows. A workflow with an invalid cron expression
// is skipped, not fatal; the remaining schedules still run.
func (s *Scheduler) Reload(ctx context.Context) (int, error) {
	scheduled := make(map[string]string)

	offset := 0

	for {
		page, err := s.workflows.List(ctx, persistence.ListWorkflowsOptions{
			Limit:  reloadPageSize,
			Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to list workflows: %w", err)
		}

		for _, workflow := range page {
			expr, ok := scheduleExpr(workflow)
			if !ok {
				continue
			}

			if _, err := cron.ParseStandard(expr); err != nil {
				s.logger.ErrorContext(ctx, "Skipping workflow with invalid cron expression",
					"workflow_id", workflow.ID, "cron", expr, "error", err)

				continue
			}

			scheduled[workflow.ID] = expr
		}

		if len(page) < reloadPageSize {
			break
		}

		offset += reloadPageSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for workflowID, entryID := range s.entries {
		if _, ok := scheduled[workflowID]; !ok {
			s.cron.Remove(entryID)
			delete(s.entries, workflowID)
		}
	}

	for workflowID, expr := range scheduled {
		if entryID, ok := s.entries[workflowID]; ok {
			s.cron.Remove(entryID)
		}

		id := workflowID

		entryID, err := s.cron.AddFunc(expr, func() { s.trigger(id) })
		if err != nil {
			return 0, fmt.Errorf("failed to schedule workflow %s: %w", workflowID, err)
		}

		s.entries[workflowID] = entryID

		s.logger.InfoContext(ctx, "Scheduled workflow", "workflow_id", workflowID, "cron", expr)
	}

	return len(s.entries), nil
}

func (s *Scheduler) trigger(workflowID string) {
	ctx := context.Background()

	execution, err := s.starter.StartExecution(ctx, workflowID, nil, "schedule")
	if err != nil {
		s.logger.ErrorContext(ctx, "Scheduled execution failed to start",
			"workflow_id", workflowID, "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Scheduled execution started",
		"workflow_id", workflowID, "execution_id", execution.ID, "status", execution.Status)
}

func scheduleExpr(workflow *models.Workflow) (string, bool) {
	if !workflow.CanStartExecution() || workflow.Metadata == nil {
		return "", false
	}

	expr, ok := workflow.Metadata[MetadataKey].(string)
	if !ok || expr == "" {
		return "", false
	}

	return expr, true
}
