// Package engine drives workflow executions: it freezes the graph at trigger
// time, advances an explicit frontier of positions through the snapshot, and
// records every node attempt in the execution's ordered log. All state lives
// in the execution record; the engine itself only holds per-execution locks
// and pending delay timers.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/caravel-hq/caravel/pkg/conditions"
	"github.com/caravel-hq/caravel/pkg/eventbus"
	"github.com/caravel-hq/caravel/pkg/events"
	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/otelhelper"
	"github.com/caravel-hq/caravel/pkg/persistence"
	"github.com/caravel-hq/caravel/pkg/registry"
)

// Engine advances workflow executions through their graph snapshots.
type Engine struct {
	workflows  persistence.WorkflowRepository
	graphs     persistence.GraphRepository
	executions persistence.ExecutionRepository
	registry   *registry.Registry
	conditions *conditions.Evaluator
	bus        eventbus.EventPublisher
	tracer     trace.Tracer
	logger     *slog.Logger
	clock      Clock
	maxRetries int

	mu    sync.Mutex
	locks map[string]*executionLock
}

// executionLock is a refcounted per-execution mutex. The map entry is removed
// once the last interested goroutine releases it, so finished executions do
// not pin memory for the lifetime of the process.
type executionLock struct {
	sync.Mutex

	refs int
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithEventBus publishes execution lifecycle events on the given bus.
func WithEventBus(bus eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithTracer wraps execution start and node dispatch in spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithClock replaces the wall clock, for delay node tests.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithMaxRetries sets how many times a failed node attempt is retried before
// the execution fails. Zero means a single attempt.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		e.maxRetries = n
	}
}

// New creates an engine over the given store, handler registry and condition
// evaluator.
func New(
	persist persistence.Persistence,
	reg *registry.Registry,
	evaluator *conditions.Evaluator,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		workflows:  persist.WorkflowRepository(),
		graphs:     persist.GraphRepository(),
		executions: persist.ExecutionRepository(),
		registry:   reg,
		conditions: evaluator,
		logger:     logger.With("module", "engine"),
		clock:      realClock{},
		locks:      make(map[string]*executionLock),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// lockFor returns the mutex serialising advances of one execution. Every call
// takes a reference that the caller must drop with releaseLock after
// unlocking.
func (e *Engine) lockFor(executionID string) *executionLock {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[executionID]
	if !ok {
		lock = &executionLock{}
		e.locks[executionID] = lock
	}

	lock.refs++

	return lock
}

// releaseLock drops the reference taken by lockFor. Call only after the mutex
// is unlocked.
func (e *Engine) releaseLock(executionID string, lock *executionLock) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(e.locks, executionID)
	}
}

// StartExecution triggers a new execution of the workflow. The node and edge
// set is frozen into the execution; concurrent edits to the workflow never
// affect a run already in flight. The call advances the execution as far as
// it can go synchronously and returns it in whatever state it settled.
func (e *Engine) StartExecution(
	ctx context.Context,
	workflowID string,
	input map[string]any,
	triggeredBy string,
) (*models.WorkflowExecution, error) {
	execution, err := e.startExecution(ctx, workflowID, input, triggeredBy, "", "")
	if err != nil {
		return nil, err
	}

	return execution, nil
}

func (e *Engine) startExecution(
	ctx context.Context,
	workflowID string,
	input map[string]any,
	triggeredBy string,
	parentExecutionID string,
	parentNodeID string,
) (*models.WorkflowExecution, error) {
	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.CanStartExecution() {
		return nil, ErrWorkflowNotExecutable
	}

	nodes, edges, err := e.graphs.ReadGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	snapshot := &models.GraphSnapshot{Nodes: nodes, Edges: edges}

	start := snapshot.StartNode()
	if start == nil {
		return nil, ErrNoStartNode
	}

	now := e.clock.Now()
	execution := &models.WorkflowExecution{
		ID:                "exec-" + uuid.New().String()[:8],
		WorkflowID:        workflowID,
		Name:              workflow.Name,
		Status:            models.ExecutionStatusPending,
		InputData:         input,
		Snapshot:          snapshot,
		TriggeredBy:       triggeredBy,
		ParentExecutionID: parentExecutionID,
		ParentNodeID:      parentNodeID,
		CreatedAt:         now,
	}

	if err := e.executions.Save(ctx, execution); err != nil {
		return nil, err
	}

	logger := e.logger.With("workflow_id", workflowID, "execution_id", execution.ID)
	logger.InfoContext(ctx, "Starting execution", "triggered_by", triggeredBy)

	if e.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "engine.execution start",
			attribute.String(otelhelper.WorkflowIDKey, workflowID),
			attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		)
		defer span.End()
	}

	lock := e.lockFor(execution.ID)
	defer e.releaseLock(execution.ID, lock)

	lock.Lock()

	execution.Status = models.ExecutionStatusRunning
	execution.StartedAt = &now
	execution.Positions = []*models.Position{{
		NodeID:    start.ID,
		State:     models.PositionStateReady,
		Input:     input,
		EnteredAt: now,
	}}

	startLog := e.newNodeLog(execution.ID, start.ID)
	if err := e.executions.AppendNodeLog(ctx, startLog); err != nil {
		lock.Unlock()

		return nil, err
	}

	if err := e.executions.Save(ctx, execution); err != nil {
		lock.Unlock()

		return nil, err
	}

	e.publish(ctx, execution, events.ExecutionStarted{
		BaseEvent:    events.NewBaseEvent(events.ExecutionStartedEvent, workflowID, execution.ID),
		WorkflowName: workflow.Name,
		TriggeredBy:  triggeredBy,
		Input:        input,
	})

	err = e.advance(ctx, execution)
	lock.Unlock()

	if err != nil {
		return nil, err
	}

	return execution, nil
}

// CompleteTask is the single external mid-execution transition: it resolves a
// waiting human task with the actor's output and resumes the execution. Any
// other target, a node not waiting on a human or an execution already
// terminal, is an InvalidStateError.
func (e *Engine) CompleteTask(
	ctx context.Context,
	executionID string,
	nodeID string,
	output map[string]any,
) (*models.WorkflowExecution, error) {
	lock := e.lockFor(executionID)
	lock.Lock()

	execution, err := e.completeTaskLocked(ctx, executionID, nodeID, output)
	lock.Unlock()
	e.releaseLock(executionID, lock)

	if err != nil {
		return nil, err
	}

	e.notifyParent(ctx, execution)

	return execution, nil
}

func (e *Engine) completeTaskLocked(
	ctx context.Context,
	executionID string,
	nodeID string,
	output map[string]any,
) (*models.WorkflowExecution, error) {
	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status.IsTerminal() {
		return nil, &InvalidStateError{
			ExecutionID: executionID,
			NodeID:      nodeID,
			Reason:      "execution is " + string(execution.Status),
		}
	}

	position := execution.PositionAt(nodeID)
	if position == nil || position.State != models.PositionStateWaitingHuman {
		return nil, &InvalidStateError{
			ExecutionID: executionID,
			NodeID:      nodeID,
			Reason:      "node is not waiting for human completion",
		}
	}

	node := execution.Snapshot.NodeByID(nodeID)
	if node == nil {
		return nil, &InvalidStateError{
			ExecutionID: executionID,
			NodeID:      nodeID,
			Reason:      "node is not part of the execution snapshot",
		}
	}

	e.logger.InfoContext(ctx, "Completing human task",
		"execution_id", executionID, "node_id", nodeID)

	if err := e.settleLatestLog(ctx, execution, nodeID, models.LogStatusCompleted, output, "", 0); err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatusRunning
	execution.RemovePosition(nodeID)

	e.publish(ctx, execution, events.ExecutionResumed{
		BaseEvent: events.NewBaseEvent(events.ExecutionResumedEvent, execution.WorkflowID, execution.ID),
		NodeID:    nodeID,
	})

	if err := e.followEdges(ctx, execution, node, mergeData(position.Input, output)); err != nil {
		return nil, err
	}

	if err := e.advance(ctx, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

// Cancel transitions a non-terminal execution to cancelled. Results of work
// already in flight (a pending delay, a running subprocess) are still logged
// when they arrive, but the final status never changes again.
func (e *Engine) Cancel(ctx context.Context, executionID, reason string) (*models.WorkflowExecution, error) {
	lock := e.lockFor(executionID)
	lock.Lock()

	execution, err := e.cancelLocked(ctx, executionID, reason)
	lock.Unlock()
	e.releaseLock(executionID, lock)

	if err != nil {
		return nil, err
	}

	e.notifyParent(ctx, execution)

	return execution, nil
}

func (e *Engine) cancelLocked(ctx context.Context, executionID, reason string) (*models.WorkflowExecution, error) {
	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status.IsTerminal() {
		return nil, &InvalidStateError{
			ExecutionID: executionID,
			Reason:      "execution is already " + string(execution.Status),
		}
	}

	now := e.clock.Now()
	execution.Status = models.ExecutionStatusCancelled
	execution.CompletedAt = &now
	execution.ResultSummary = reason

	if err := e.executions.Save(ctx, execution); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Execution cancelled",
		"execution_id", executionID, "reason", reason)

	e.publish(ctx, execution, events.ExecutionCancelled{
		BaseEvent:  events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID, execution.ID),
		Reason:     reason,
		DurationMs: e.executionDuration(execution),
	})

	return execution, nil
}

// notifyParent propagates a terminal child execution to the subprocess
// position waiting on it. Called without the child's lock held; acquires the
// parent's.
func (e *Engine) notifyParent(ctx context.Context, child *models.WorkflowExecution) {
	if child.ParentExecutionID == "" || !child.Status.IsTerminal() {
		return
	}

	lock := e.lockFor(child.ParentExecutionID)
	lock.Lock()

	parent, err := e.childFinishedLocked(ctx, child)
	lock.Unlock()
	e.releaseLock(child.ParentExecutionID, lock)

	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to propagate subprocess result",
			"execution_id", child.ParentExecutionID, "child_execution_id", child.ID, "error", err)

		return
	}

	if parent != nil {
		e.notifyParent(ctx, parent)
	}
}

func (e *Engine) childFinishedLocked(ctx context.Context, child *models.WorkflowExecution) (*models.WorkflowExecution, error) {
	parent, err := e.executions.GetByID(ctx, child.ParentExecutionID)
	if err != nil {
		return nil, err
	}

	if parent.Status.IsTerminal() {
		e.logger.InfoContext(ctx, "Subprocess finished after parent reached terminal state",
			"execution_id", parent.ID, "child_execution_id", child.ID, "child_status", child.Status)

		return nil, nil
	}

	position := parent.PositionAt(child.ParentNodeID)
	if position == nil || position.State != models.PositionStateWaitingChild || position.ChildExecutionID != child.ID {
		return nil, nil
	}

	node := parent.Snapshot.NodeByID(child.ParentNodeID)

	if child.Status != models.ExecutionStatusCompleted {
		reason := child.ErrorMessage
		if reason == "" {
			reason = "subprocess " + child.ID + " " + string(child.Status)
		}

		failure := &HandlerError{ExecutionID: parent.ID, NodeID: child.ParentNodeID, Err: errors.New(reason)}

		if err := e.settleLatestLog(ctx, parent, child.ParentNodeID, models.LogStatusFailed, nil, reason, 0); err != nil {
			return nil, err
		}

		e.publishNodeFailed(ctx, parent, node, reason, 0)

		if err := e.failExecution(ctx, parent, child.ParentNodeID, failure); err != nil {
			return nil, err
		}

		return parent, nil
	}

	if err := e.settleLatestLog(ctx, parent, child.ParentNodeID, models.LogStatusCompleted, child.OutputData, "", 0); err != nil {
		return nil, err
	}

	e.publishNodeFinished(ctx, parent, node, child.OutputData)

	parent.RemovePosition(child.ParentNodeID)

	if err := e.followEdges(ctx, parent, node, mergeData(position.Input, child.OutputData)); err != nil {
		return nil, err
	}

	if err := e.advance(ctx, parent); err != nil {
		return nil, err
	}

	return parent, nil
}

func (e *Engine) publish(ctx context.Context, execution *models.WorkflowExecution, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, execution.WorkflowID, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"execution_id", execution.ID, "event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) publishNodeFinished(ctx context.Context, execution *models.WorkflowExecution, node *models.Node, output map[string]any) {
	if node == nil {
		return
	}

	e.publish(ctx, execution, events.NodeFinished{
		BaseEvent: events.NewBaseEvent(events.NodeFinishedEvent, execution.WorkflowID, execution.ID),
		NodeID:    node.ID,
		NodeType:  string(node.Type),
		Output:    output,
	})
}

func (e *Engine) publishNodeFailed(ctx context.Context, execution *models.WorkflowExecution, node *models.Node, errMsg string, attempt int) {
	if node == nil {
		return
	}

	e.publish(ctx, execution, events.NodeFailed{
		BaseEvent: events.NewBaseEvent(events.NodeFailedEvent, execution.WorkflowID, execution.ID),
		NodeID:    node.ID,
		NodeType:  string(node.Type),
		Error:     errMsg,
		Attempt:   attempt,
	})
}

func (e *Engine) executionDuration(execution *models.WorkflowExecution) int64 {
	if execution.StartedAt == nil {
		return 0
	}

	end := e.clock.Now()
	if execution.CompletedAt != nil {
		end = *execution.CompletedAt
	}

	return end.Sub(*execution.StartedAt).Milliseconds()
}

func (e *Engine) newNodeLog(executionID, nodeID string) *models.NodeExecutionLog {
	return &models.NodeExecutionLog{
		ID:          "log-" + uuid.New().String()[:8],
		ExecutionID: executionID,
		NodeID:      nodeID,
		Status:      models.LogStatusPending,
	}
}

func mergeData(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))

	for k, v := range base {
		merged[k] = v
	}

	for k, v := range overlay {
		merged[k] = v
	}

	return merged
}
