package file

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/persistence"
)

// ExecutionRepository stores executions under <root>/executions and the
// ordered node logs of each execution in a sidecar document.
type ExecutionRepository struct {
	root string
	mu   sync.RWMutex
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

func (er *ExecutionRepository) path(id string) string {
	return filepath.Join(er.dir(), id+".json")
}

func (er *ExecutionRepository) logsPath(executionID string) string {
	return filepath.Join(er.dir(), executionID+".logs.json")
}

// GetByID loads one execution document.
func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	return er.read(id)
}

func (er *ExecutionRepository) read(id string) (*models.WorkflowExecution, error) {
	data, err := os.ReadFile(er.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewStorageError("GetByID", id, err)
	}

	var execution models.WorkflowExecution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, persistence.NewStorageError("GetByID", id, err)
	}

	return &execution, nil
}

// ListByWorkflow returns the workflow's executions, newest first.
func (er *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	executions, err := er.listAll()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowExecution, 0, len(executions))

	for _, execution := range executions {
		if execution.WorkflowID == workflowID {
			filtered = append(filtered, execution)
		}
	}

	return filtered, nil
}

// ListRecent returns the most recently created executions across workflows.
func (er *ExecutionRepository) ListRecent(ctx context.Context, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 10
	}

	executions, err := er.listAll()
	if err != nil {
		return nil, err
	}

	if len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

func (er *ExecutionRepository) listAll() ([]*models.WorkflowExecution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	entries, err := fs.Glob(os.DirFS(er.dir()), "*.json")
	if err != nil {
		return nil, persistence.NewStorageError("List", "", err)
	}

	executions := make([]*models.WorkflowExecution, 0, len(entries))

	for _, entry := range entries {
		id := entry[:len(entry)-len(".json")]
		if filepath.Ext(id) == ".logs" {
			continue
		}

		execution, err := er.read(id)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	return executions, nil
}

// Save writes the execution document.
func (er *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	return er.write(execution)
}

func (er *ExecutionRepository) write(execution *models.WorkflowExecution) error {
	if err := os.MkdirAll(er.dir(), 0o755); err != nil {
		return persistence.NewStorageError("Save", execution.ID, err)
	}

	execution.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return persistence.NewStorageError("Save", execution.ID, err)
	}

	if err := os.WriteFile(er.path(execution.ID), data, 0o644); err != nil {
		return persistence.NewStorageError("Save", execution.ID, err)
	}

	return nil
}

// UpdateStatus updates only the status and error message of an execution.
func (er *ExecutionRepository) UpdateStatus(ctx context.Context, id string, status models.ExecutionStatus, errorMessage string) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	execution, err := er.read(id)
	if err != nil {
		return err
	}

	execution.Status = status
	execution.ErrorMessage = errorMessage

	if status.IsTerminal() && execution.CompletedAt == nil {
		now := time.Now().UTC()
		execution.CompletedAt = &now
	}

	return er.write(execution)
}

// AppendNodeLog appends one log row to the execution's ordered log.
func (er *ExecutionRepository) AppendNodeLog(ctx context.Context, log *models.NodeExecutionLog) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	logs, err := er.readLogs(log.ExecutionID)
	if err != nil {
		return err
	}

	logs = append(logs, log)

	if err := os.MkdirAll(er.dir(), 0o755); err != nil {
		return persistence.NewStorageError("AppendNodeLog", log.ExecutionID, err)
	}

	data, err := json.MarshalIndent(logs, "", "  ")
	if err != nil {
		return persistence.NewStorageError("AppendNodeLog", log.ExecutionID, err)
	}

	if err := os.WriteFile(er.logsPath(log.ExecutionID), data, 0o644); err != nil {
		return persistence.NewStorageError("AppendNodeLog", log.ExecutionID, err)
	}

	return nil
}

// UpdateNodeLog rewrites an existing log row in place, identified by its ID.
func (er *ExecutionRepository) UpdateNodeLog(ctx context.Context, log *models.NodeExecutionLog) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	logs, err := er.readLogs(log.ExecutionID)
	if err != nil {
		return err
	}

	found := false

	for i, existing := range logs {
		if existing.ID == log.ID {
			logs[i] = log
			found = true

			break
		}
	}

	if !found {
		return persistence.ErrNodeLogNotFound
	}

	data, err := json.MarshalIndent(logs, "", "  ")
	if err != nil {
		return persistence.NewStorageError("UpdateNodeLog", log.ExecutionID, err)
	}

	if err := os.WriteFile(er.logsPath(log.ExecutionID), data, 0o644); err != nil {
		return persistence.NewStorageError("UpdateNodeLog", log.ExecutionID, err)
	}

	return nil
}

// NodeLogs returns every log row of the execution in append order.
func (er *ExecutionRepository) NodeLogs(ctx context.Context, executionID string) ([]*models.NodeExecutionLog, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	return er.readLogs(executionID)
}

func (er *ExecutionRepository) readLogs(executionID string) ([]*models.NodeExecutionLog, error) {
	data, err := os.ReadFile(er.logsPath(executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.NodeExecutionLog{}, nil
		}

		return nil, persistence.NewStorageError("NodeLogs", executionID, err)
	}

	var logs []*models.NodeExecutionLog
	if err := json.Unmarshal(data, &logs); err != nil {
		return nil, persistence.NewStorageError("NodeLogs", executionID, err)
	}

	return logs, nil
}
