package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/persistence"
)

// WorkflowRepository handles workflow and graph database operations. Nodes and
// edges live in their own tables; graph writes are full replacements inside a
// transaction.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
	id
  , name
  , description
  , version
  , is_active
  , is_template
  , category
  , tags
  , status
  , project_id
  , metadata
  , created_by
  , updated_by
  , created_at
  , updated_at
  , deleted_at
`

// List returns workflows filtered and paginated, newest first.
func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE deleted_at IS NULL`
	args := make([]any, 0, 4)

	if opts.ProjectID != "" {
		args = append(args, opts.ProjectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	args = append(args, opts.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	args = append(args, opts.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStorageError("List", "", err)
	}
	defer r.closeRows(ctx, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, persistence.NewStorageError("List", "", err)
		}

		workflow.Nodes, workflow.Edges, err = r.ReadGraph(ctx, workflow.ID)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStorageError("List", "", err)
	}

	return workflows, nil
}

// GetByID returns a workflow with its full graph, or ErrWorkflowNotFound.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1 AND deleted_at IS NULL`

	row := r.db.QueryRowContext(ctx, query, id)

	workflow, err := r.scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStorageError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewStorageError("GetByID", id, err)
	}

	workflow.Nodes, workflow.Edges, err = r.ReadGraph(ctx, id)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// Save upserts the workflow row and replaces its graph in one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	workflow.UpdatedAt = time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = workflow.UpdatedAt
	}

	tags, err := marshalJSON(workflow.Tags)
	if err != nil {
		return persistence.NewStorageError("Save", workflow.ID, err)
	}

	metadata, err := marshalJSON(workflow.Metadata)
	if err != nil {
		return persistence.NewStorageError("Save", workflow.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewStorageError("Save", workflow.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO workflows (
			id, name, description, version, is_active, is_template, category,
			tags, status, project_id, metadata, created_by, updated_by,
			created_at, updated_at, deleted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			version = EXCLUDED.version,
			is_active = EXCLUDED.is_active,
			is_template = EXCLUDED.is_template,
			category = EXCLUDED.category,
			tags = EXCLUDED.tags,
			status = EXCLUDED.status,
			project_id = EXCLUDED.project_id,
			metadata = EXCLUDED.metadata,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = tx.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.Version,
		workflow.IsActive,
		workflow.IsTemplate,
		nullString(workflow.Category),
		tags,
		string(workflow.Status),
		nullString(workflow.ProjectID),
		metadata,
		nullString(workflow.CreatedBy),
		nullString(workflow.UpdatedBy),
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.DeletedAt,
	)
	if err != nil {
		return persistence.NewStorageError("Save", workflow.ID, err)
	}

	err = r.replaceNodes(ctx, tx, workflow.ID, workflow.Nodes)
	if err != nil {
		return persistence.NewStorageError("Save", workflow.ID, err)
	}

	err = r.replaceEdges(ctx, tx, workflow.ID, workflow.Edges)
	if err != nil {
		return persistence.NewStorageError("Save", workflow.ID, err)
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewStorageError("Save", workflow.ID, err)
	}

	return nil
}

// Delete soft deletes a workflow by setting its deleted_at timestamp.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflows SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return persistence.NewStorageError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStorageError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewStorageError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// ReadGraph returns the node and edge sets of a workflow.
func (r *WorkflowRepository) ReadGraph(ctx context.Context, workflowID string) ([]*models.Node, []*models.Edge, error) {
	nodes, err := r.readNodes(ctx, workflowID)
	if err != nil {
		return nil, nil, persistence.NewStorageError("ReadGraph", workflowID, err)
	}

	edges, err := r.readEdges(ctx, workflowID)
	if err != nil {
		return nil, nil, persistence.NewStorageError("ReadGraph", workflowID, err)
	}

	return nodes, edges, nil
}

// WriteNodes replaces the full node set of a workflow.
func (r *WorkflowRepository) WriteNodes(ctx context.Context, workflowID string, nodes []*models.Node) error {
	return r.writeGraph(ctx, "WriteNodes", workflowID, func(tx *sql.Tx) error {
		return r.replaceNodes(ctx, tx, workflowID, nodes)
	})
}

// WriteEdges replaces the full edge set of a workflow.
func (r *WorkflowRepository) WriteEdges(ctx context.Context, workflowID string, edges []*models.Edge) error {
	return r.writeGraph(ctx, "WriteEdges", workflowID, func(tx *sql.Tx) error {
		return r.replaceEdges(ctx, tx, workflowID, edges)
	})
}

func (r *WorkflowRepository) writeGraph(ctx context.Context, op, workflowID string, write func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewStorageError(op, workflowID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool

	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM workflows WHERE id = $1 AND deleted_at IS NULL)", workflowID).Scan(&exists)
	if err != nil {
		return persistence.NewStorageError(op, workflowID, err)
	}

	if !exists {
		return persistence.NewStorageError(op, workflowID, persistence.ErrWorkflowNotFound)
	}

	err = write(tx)
	if err != nil {
		return persistence.NewStorageError(op, workflowID, err)
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewStorageError(op, workflowID, err)
	}

	// Mark updated_at outside the graph tables so listings reflect edits.
	_, err = r.db.ExecContext(ctx, "UPDATE workflows SET updated_at = NOW() WHERE id = $1", workflowID)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to touch workflow after graph write", "workflow_id", workflowID, "error", err)
	}

	return nil
}

func (r *WorkflowRepository) replaceNodes(ctx context.Context, tx *sql.Tx, workflowID string, nodes []*models.Node) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE workflow_id = $1", workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow nodes: %w", err)
	}

	query := `
		INSERT INTO workflow_nodes (
			workflow_id, id, label, node_type, position_x, position_y,
			data, execution_order, is_valid
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	for _, node := range nodes {
		data, err := marshalJSON(node.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal node %s data: %w", node.ID, err)
		}

		_, err = tx.ExecContext(ctx, query,
			workflowID,
			node.ID,
			node.Label,
			string(node.Type),
			node.PositionX,
			node.PositionY,
			data,
			node.ExecutionOrder,
			node.IsValid,
		)
		if err != nil {
			return fmt.Errorf("failed to insert node %s: %w", node.ID, err)
		}
	}

	return nil
}

func (r *WorkflowRepository) replaceEdges(ctx context.Context, tx *sql.Tx, workflowID string, edges []*models.Edge) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM workflow_edges WHERE workflow_id = $1", workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow edges: %w", err)
	}

	query := `
		INSERT INTO workflow_edges (
			workflow_id, id, source_id, target_id, label, condition, condition_kind
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for _, edge := range edges {
		_, err = tx.ExecContext(ctx, query,
			workflowID,
			edge.ID,
			edge.SourceID,
			edge.TargetID,
			edge.Label,
			edge.Condition,
			string(edge.ConditionKind),
		)
		if err != nil {
			return fmt.Errorf("failed to insert edge %s: %w", edge.ID, err)
		}
	}

	return nil
}

func (r *WorkflowRepository) readNodes(ctx context.Context, workflowID string) ([]*models.Node, error) {
	query := `
		SELECT id, label, node_type, position_x, position_y, data, execution_order, is_valid
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow nodes: %w", err)
	}
	defer r.closeRows(ctx, rows)

	nodes := make([]*models.Node, 0)

	for rows.Next() {
		var (
			node     models.Node
			nodeType string
			data     []byte
		)

		err := rows.Scan(&node.ID, &node.Label, &nodeType, &node.PositionX, &node.PositionY,
			&data, &node.ExecutionOrder, &node.IsValid)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}

		node.Type = models.NodeType(nodeType)

		err = unmarshalJSON(data, &node.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal node %s data: %w", node.ID, err)
		}

		nodes = append(nodes, &node)
	}

	return nodes, rows.Err()
}

func (r *WorkflowRepository) readEdges(ctx context.Context, workflowID string) ([]*models.Edge, error) {
	query := `
		SELECT id, source_id, target_id, label, condition, condition_kind
		FROM workflow_edges
		WHERE workflow_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow edges: %w", err)
	}
	defer r.closeRows(ctx, rows)

	edges := make([]*models.Edge, 0)

	for rows.Next() {
		var (
			edge models.Edge
			kind string
		)

		err := rows.Scan(&edge.ID, &edge.SourceID, &edge.TargetID, &edge.Label, &edge.Condition, &kind)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}

		edge.ConditionKind = models.ConditionKind(kind)

		edges = append(edges, &edge)
	}

	return edges, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow  models.Workflow
		status    string
		category  sql.NullString
		projectID sql.NullString
		createdBy sql.NullString
		updatedBy sql.NullString
		tags      []byte
		metadata  []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Version,
		&workflow.IsActive,
		&workflow.IsTemplate,
		&category,
		&tags,
		&status,
		&projectID,
		&metadata,
		&createdBy,
		&updatedBy,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&workflow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.Status = models.WorkflowStatus(status)
	workflow.Category = category.String
	workflow.ProjectID = projectID.String
	workflow.CreatedBy = createdBy.String
	workflow.UpdatedBy = updatedBy.String

	err = unmarshalJSON(tags, &workflow.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow tags: %w", err)
	}

	err = unmarshalJSON(metadata, &workflow.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow metadata: %w", err)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return data, nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}

	return json.Unmarshal(data, v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
