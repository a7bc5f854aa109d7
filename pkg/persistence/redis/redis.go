// Package redis provides a Redis-backed persistence implementation. Workflow
// and execution documents are stored as JSON strings; node logs as a Redis
// list so append order is preserved by the store itself.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/persistence"
)

const (
	workflowPrefix  = "caravel:workflow:"
	executionPrefix = "caravel:execution:"
	logsSuffix      = ":logs"

	workflowIndexKey  = "caravel:workflows"
	executionIndexKey = "caravel:executions"
)

// Persistence implements persistence.Persistence on a Redis server.
type Persistence struct {
	client *redis.Client
}

// NewPersistence connects to the Redis server at the given URL
// ("redis://host:port/db") and verifies the connection.
func NewPersistence(ctx context.Context, url string) (*Persistence, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, persistence.NewStorageError("Connect", url, err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, persistence.NewStorageError("Connect", url, err)
	}

	return &Persistence{client: client}, nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return &workflowRepository{client: p.client}
}

func (p *Persistence) GraphRepository() persistence.GraphRepository {
	return &workflowRepository{client: p.client}
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return &executionRepository{client: p.client}
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

func setJSON(ctx context.Context, client *redis.Client, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return persistence.NewStorageError("Save", key, err)
	}

	if err := client.Set(ctx, key, data, 0).Err(); err != nil {
		return persistence.NewStorageError("Save", key, err)
	}

	return nil
}

func getJSON[T any](ctx context.Context, client *redis.Client, key string, notFound error) (*T, error) {
	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound
	} else if err != nil {
		return nil, persistence.NewStorageError("Get", key, err)
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, persistence.NewStorageError("Get", key, err)
	}

	return &value, nil
}

type workflowRepository struct {
	client *redis.Client
}

func (wr *workflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	ids, err := wr.client.SMembers(ctx, workflowIndexKey).Result()
	if err != nil {
		return nil, persistence.NewStorageError("List", workflowIndexKey, err)
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := getJSON[models.Workflow](ctx, wr.client, workflowPrefix+id, persistence.ErrWorkflowNotFound)
		if persistence.IsWorkflowNotFound(err) {
			continue // index entry for a deleted workflow
		} else if err != nil {
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

func (wr *workflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	return getJSON[models.Workflow](ctx, wr.client, workflowPrefix+id, persistence.ErrWorkflowNotFound)
}

func (wr *workflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	if err := setJSON(ctx, wr.client, workflowPrefix+workflow.ID, workflow); err != nil {
		return err
	}

	if err := wr.client.SAdd(ctx, workflowIndexKey, workflow.ID).Err(); err != nil {
		return persistence.NewStorageError("Save", workflow.ID, err)
	}

	return nil
}

func (wr *workflowRepository) Delete(ctx context.Context, id string) error {
	deleted, err := wr.client.Del(ctx, workflowPrefix+id).Result()
	if err != nil {
		return persistence.NewStorageError("Delete", id, err)
	}

	if deleted == 0 {
		return persistence.ErrWorkflowNotFound
	}

	if err := wr.client.SRem(ctx, workflowIndexKey, id).Err(); err != nil {
		return persistence.NewStorageError("Delete", id, err)
	}

	return nil
}

func (wr *workflowRepository) ReadGraph(ctx context.Context, workflowID string) ([]*models.Node, []*models.Edge, error) {
	workflow, err := wr.GetByID(ctx, workflowID)
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

func (wr *workflowRepository) WriteNodes(ctx context.Context, workflowID string, nodes []*models.Node) error {
	workflow, err := wr.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	workflow.Nodes = nodes

	return wr.Save(ctx, workflow)
}

func (wr *workflowRepository) WriteEdges(ctx context.Context, workflowID string, edges []*models.Edge) error {
	workflow, err := wr.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	workflow.Edges = edges

	return wr.Save(ctx, workflow)
}

type executionRepository struct {
	client *redis.Client
}

func (er *executionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return getJSON[models.WorkflowExecution](ctx, er.client, executionPrefix+id, persistence.ErrExecutionNotFound)
}

func (er *executionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	executions, err := er.listAll(ctx)
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

func (er *executionRepository) ListRecent(ctx context.Context, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 10
	}

	executions, err := er.listAll(ctx)
	if err != nil {
		return nil, err
	}

	if len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

func (er *executionRepository) listAll(ctx context.Context) ([]*models.WorkflowExecution, error) {
	ids, err := er.client.SMembers(ctx, executionIndexKey).Result()
	if err != nil {
		return nil, persistence.NewStorageError("List", executionIndexKey, err)
	}

	executions := make([]*models.WorkflowExecution, 0, len(ids))

	for _, id := range ids {
		execution, err := getJSON[models.WorkflowExecution](ctx, er.client, executionPrefix+id, persistence.ErrExecutionNotFound)
		if persistence.IsExecutionNotFound(err) {
			continue
		} else if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	return executions, nil
}

func (er *executionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	execution.UpdatedAt = time.Now().UTC()

	if err := setJSON(ctx, er.client, executionPrefix+execution.ID, execution); err != nil {
		return err
	}

	if err := er.client.SAdd(ctx, executionIndexKey, execution.ID).Err(); err != nil {
		return persistence.NewStorageError("Save", execution.ID, err)
	}

	return nil
}

func (er *executionRepository) UpdateStatus(ctx context.Context, id string, status models.ExecutionStatus, errorMessage string) error {
	execution, err := er.GetByID(ctx, id)
	if err != nil {
		return err
	}

	execution.Status = status
	execution.ErrorMessage = errorMessage

	if status.IsTerminal() && execution.CompletedAt == nil {
		now := time.Now().UTC()
		execution.CompletedAt = &now
	}

	return er.Save(ctx, execution)
}

func (er *executionRepository) AppendNodeLog(ctx context.Context, log *models.NodeExecutionLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return persistence.NewStorageError("AppendNodeLog", log.ExecutionID, err)
	}

	key := executionPrefix + log.ExecutionID + logsSuffix
	if err := er.client.RPush(ctx, key, data).Err(); err != nil {
		return persistence.NewStorageError("AppendNodeLog", log.ExecutionID, err)
	}

	return nil
}

func (er *executionRepository) UpdateNodeLog(ctx context.Context, log *models.NodeExecutionLog) error {
	key := executionPrefix + log.ExecutionID + logsSuffix

	rows, err := er.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return persistence.NewStorageError("UpdateNodeLog", log.ExecutionID, err)
	}

	for i, row := range rows {
		var existing models.NodeExecutionLog
		if err := json.Unmarshal([]byte(row), &existing); err != nil {
			return persistence.NewStorageError("UpdateNodeLog", log.ExecutionID, err)
		}

		if existing.ID != log.ID {
			continue
		}

		data, err := json.Marshal(log)
		if err != nil {
			return persistence.NewStorageError("UpdateNodeLog", log.ExecutionID, err)
		}

		if err := er.client.LSet(ctx, key, int64(i), data).Err(); err != nil {
			return persistence.NewStorageError("UpdateNodeLog", log.ExecutionID, err)
		}

		return nil
	}

	return persistence.ErrNodeLogNotFound
}

func (er *executionRepository) NodeLogs(ctx context.Context, executionID string) ([]*models.NodeExecutionLog, error) {
	key := executionPrefix + executionID + logsSuffix

	rows, err := er.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, persistence.NewStorageError("NodeLogs", executionID, err)
	}

	logs := make([]*models.NodeExecutionLog, 0, len(rows))

	for _, row := range rows {
		var log models.NodeExecutionLog
		if err := json.Unmarshal([]byte(row), &log); err != nil {
			return nil, persistence.NewStorageError("NodeLogs", executionID, err)
		}

		logs = append(logs, &log)
	}

	return logs, nil
}

