package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/persistence"
)

// ExecutionRepository handles workflow execution and node log database
// operations. Node logs are append-only; insertion order is preserved by a
// sequence column.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , workflow_id
  , name
  , status
  , positions
  , progress_percentage
  , input_data
  , output_data
  , snapshot
  , started_at
  , completed_at
  , triggered_by
  , result_summary
  , error_message
  , parent_execution_id
  , parent_node_id
  , created_at
  , updated_at
`

// GetByID returns an execution by id, or ErrExecutionNotFound.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStorageError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewStorageError("GetByID", id, err)
	}

	return execution, nil
}

// ListByWorkflow returns every execution of a workflow, newest first.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE workflow_id = $1 ORDER BY created_at DESC`

	return r.queryExecutions(ctx, "ListByWorkflow", query, workflowID)
}

// ListRecent returns the most recently created executions across workflows.
func (r *ExecutionRepository) ListRecent(ctx context.Context, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `SELECT ` + executionColumns + ` FROM workflow_executions ORDER BY created_at DESC LIMIT $1`

	return r.queryExecutions(ctx, "ListRecent", query, limit)
}

// Save upserts the full execution record.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	execution.UpdatedAt = time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = execution.UpdatedAt
	}

	positions, err := marshalJSON(execution.Positions)
	if err != nil {
		return persistence.NewStorageError("Save", execution.ID, err)
	}

	inputData, err := marshalJSON(execution.InputData)
	if err != nil {
		return persistence.NewStorageError("Save", execution.ID, err)
	}

	outputData, err := marshalJSON(execution.OutputData)
	if err != nil {
		return persistence.NewStorageError("Save", execution.ID, err)
	}

	var snapshot []byte
	if execution.Snapshot != nil {
		snapshot, err = marshalJSON(execution.Snapshot)
		if err != nil {
			return persistence.NewStorageError("Save", execution.ID, err)
		}
	}

	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, name, status, positions, progress_percentage,
			input_data, output_data, snapshot, started_at, completed_at,
			triggered_by, result_summary, error_message,
			parent_execution_id, parent_node_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			positions = EXCLUDED.positions,
			progress_percentage = EXCLUDED.progress_percentage,
			input_data = EXCLUDED.input_data,
			output_data = EXCLUDED.output_data,
			snapshot = EXCLUDED.snapshot,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			result_summary = EXCLUDED.result_summary,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.Name,
		string(execution.Status),
		positions,
		execution.ProgressPercentage,
		inputData,
		outputData,
		snapshot,
		execution.StartedAt,
		execution.CompletedAt,
		nullString(execution.TriggeredBy),
		execution.ResultSummary,
		execution.ErrorMessage,
		nullString(execution.ParentExecutionID),
		nullString(execution.ParentNodeID),
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStorageError("Save", execution.ID, err)
	}

	return nil
}

// UpdateStatus transitions the execution status, stamping completed_at when
// the new status is terminal.
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, id string, status models.ExecutionStatus, errorMessage string) error {
	query := `
		UPDATE workflow_executions
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1
	`
	if status.IsTerminal() {
		query = `
			UPDATE workflow_executions
			SET status = $2, error_message = $3, updated_at = NOW(), completed_at = NOW()
			WHERE id = $1
		`
	}

	result, err := r.db.ExecContext(ctx, query, id, string(status), errorMessage)
	if err != nil {
		return persistence.NewStorageError("UpdateStatus", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStorageError("UpdateStatus", id, err)
	}

	if affected == 0 {
		return persistence.NewStorageError("UpdateStatus", id, persistence.ErrExecutionNotFound)
	}

	return nil
}

// AppendNodeLog inserts a node execution log row.
func (r *ExecutionRepository) AppendNodeLog(ctx context.Context, log *models.NodeExecutionLog) error {
	inputData, err := marshalJSON(log.InputData)
	if err != nil {
		return persistence.NewStorageError("AppendNodeLog", log.ID, err)
	}

	outputData, err := marshalJSON(log.OutputData)
	if err != nil {
		return persistence.NewStorageError("AppendNodeLog", log.ID, err)
	}

	query := `
		INSERT INTO node_execution_logs (
			id, execution_id, node_id, status, input_data, output_data,
			started_at, ended_at, duration_ms, result_message, error_message, retry_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		log.ID,
		log.ExecutionID,
		log.NodeID,
		string(log.Status),
		inputData,
		outputData,
		log.StartedAt,
		log.EndedAt,
		log.DurationMs,
		log.ResultMessage,
		log.ErrorMessage,
		log.RetryCount,
	)
	if err != nil {
		return persistence.NewStorageError("AppendNodeLog", log.ID, err)
	}

	return nil
}

// UpdateNodeLog rewrites an existing log row in place, identified by its ID.
func (r *ExecutionRepository) UpdateNodeLog(ctx context.Context, log *models.NodeExecutionLog) error {
	inputData, err := marshalJSON(log.InputData)
	if err != nil {
		return persistence.NewStorageError("UpdateNodeLog", log.ID, err)
	}

	outputData, err := marshalJSON(log.OutputData)
	if err != nil {
		return persistence.NewStorageError("UpdateNodeLog", log.ID, err)
	}

	query := `
		UPDATE node_execution_logs
		SET status = $2, input_data = $3, output_data = $4, started_at = $5,
		    ended_at = $6, duration_ms = $7, result_message = $8,
		    error_message = $9, retry_count = $10
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		log.ID,
		string(log.Status),
		inputData,
		outputData,
		log.StartedAt,
		log.EndedAt,
		log.DurationMs,
		log.ResultMessage,
		log.ErrorMessage,
		log.RetryCount,
	)
	if err != nil {
		return persistence.NewStorageError("UpdateNodeLog", log.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStorageError("UpdateNodeLog", log.ID, err)
	}

	if affected == 0 {
		return persistence.ErrNodeLogNotFound
	}

	return nil
}

// NodeLogs returns every log row of an execution in append order.
func (r *ExecutionRepository) NodeLogs(ctx context.Context, executionID string) ([]*models.NodeExecutionLog, error) {
	query := `
		SELECT id, execution_id, node_id, status, input_data, output_data,
		       started_at, ended_at, duration_ms, result_message, error_message, retry_count
		FROM node_execution_logs
		WHERE execution_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, persistence.NewStorageError("NodeLogs", executionID, err)
	}
	defer r.closeRows(ctx, rows)

	logs := make([]*models.NodeExecutionLog, 0)

	for rows.Next() {
		var (
			log        models.NodeExecutionLog
			status     string
			inputData  []byte
			outputData []byte
		)

		err := rows.Scan(&log.ID, &log.ExecutionID, &log.NodeID, &status, &inputData, &outputData,
			&log.StartedAt, &log.EndedAt, &log.DurationMs, &log.ResultMessage, &log.ErrorMessage, &log.RetryCount)
		if err != nil {
			return nil, persistence.NewStorageError("NodeLogs", executionID, err)
		}

		log.Status = models.LogStatus(status)

		err = unmarshalJSON(inputData, &log.InputData)
		if err != nil {
			return nil, persistence.NewStorageError("NodeLogs", executionID, err)
		}

		err = unmarshalJSON(outputData, &log.OutputData)
		if err != nil {
			return nil, persistence.NewStorageError("NodeLogs", executionID, err)
		}

		logs = append(logs, &log)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStorageError("NodeLogs", executionID, err)
	}

	return logs, nil
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, op, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStorageError(op, "", err)
	}
	defer r.closeRows(ctx, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, persistence.NewStorageError(op, "", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStorageError(op, "", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution   models.WorkflowExecution
		status      string
		positions   []byte
		inputData   []byte
		outputData  []byte
		snapshot    []byte
		triggeredBy sql.NullString
		parentExec  sql.NullString
		parentNode  sql.NullString
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.Name,
		&status,
		&positions,
		&execution.ProgressPercentage,
		&inputData,
		&outputData,
		&snapshot,
		&execution.StartedAt,
		&execution.CompletedAt,
		&triggeredBy,
		&execution.ResultSummary,
		&execution.ErrorMessage,
		&parentExec,
		&parentNode,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)
	execution.TriggeredBy = triggeredBy.String
	execution.ParentExecutionID = parentExec.String
	execution.ParentNodeID = parentNode.String

	err = unmarshalJSON(positions, &execution.Positions)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution positions: %w", err)
	}

	err = unmarshalJSON(inputData, &execution.InputData)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution input: %w", err)
	}

	err = unmarshalJSON(outputData, &execution.OutputData)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution output: %w", err)
	}

	if len(snapshot) > 0 {
		execution.Snapshot = &models.GraphSnapshot{}

		err = unmarshalJSON(snapshot, execution.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution snapshot: %w", err)
		}
	}

	return &execution, nil
}

func (r *ExecutionRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
