package engine

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/caravel-hq/caravel/pkg/events"
	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/otelhelper"
	"github.com/caravel-hq/caravel/pkg/persistence"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

// advance dispatches ready positions until the execution reaches a terminal
// state, pauses, or every remaining position is waiting on something
// external. A waiting delay blocks the whole execution: no other position
// advances until the timer elapses. Callers hold the execution's lock.
func (e *Engine) advance(ctx context.Context, execution *models.WorkflowExecution) error {
	for execution.Status == models.ExecutionStatusRunning {
		if countPositions(execution, models.PositionStateWaitingDelay) > 0 {
			break
		}

		position := firstReady(execution)
		if position == nil {
			break
		}

		if err := e.dispatch(ctx, execution, position); err != nil {
			return err
		}

		if err := e.executions.Save(ctx, execution); err != nil {
			return err
		}
	}

	return e.settleIdle(ctx, execution)
}

// settleIdle resolves what an execution with no dispatchable position
// becomes: completed when the frontier is empty, paused when every remaining
// position waits on a human, otherwise it stays running.
func (e *Engine) settleIdle(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.Status != models.ExecutionStatusRunning {
		return nil
	}

	if err := e.updateProgress(ctx, execution); err != nil {
		return err
	}

	if len(execution.Positions) == 0 {
		return e.completeExecution(ctx, execution)
	}

	waitingHuman := countPositions(execution, models.PositionStateWaitingHuman)
	waitingOther := countPositions(execution, models.PositionStateWaitingDelay) +
		countPositions(execution, models.PositionStateWaitingChild)

	if waitingHuman > 0 && waitingOther == 0 && firstReady(execution) == nil {
		execution.Status = models.ExecutionStatusPaused
		pausedAt := firstWithState(execution, models.PositionStateWaitingHuman)

		e.logger.InfoContext(ctx, "Execution paused on human task",
			"execution_id", execution.ID, "node_id", pausedAt.NodeID)

		e.publish(ctx, execution, events.ExecutionPaused{
			BaseEvent: events.NewBaseEvent(events.ExecutionPausedEvent, execution.WorkflowID, execution.ID),
			NodeID:    pausedAt.NodeID,
			Reason:    "waiting for human task",
		})
	}

	return e.executions.Save(ctx, execution)
}

func (e *Engine) dispatch(ctx context.Context, execution *models.WorkflowExecution, position *models.Position) (err error) {
	node := execution.Snapshot.NodeByID(position.NodeID)
	if node == nil {
		return e.failExecution(ctx, execution, position.NodeID,
			errors.New("position references node "+position.NodeID+" missing from snapshot"))
	}

	if e.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "engine.node dispatch",
			attribute.String(otelhelper.ExecutionIDKey, execution.ID),
			attribute.String(otelhelper.NodeIDKey, node.ID),
			attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
		)

		defer func() {
			if err != nil {
				otelhelper.SetError(span, err)
			}

			span.End()
		}()
	}

	e.logger.DebugContext(ctx, "Dispatching node",
		"execution_id", execution.ID, "node_id", node.ID, "node_type", node.Type)

	switch node.Type {
	case models.NodeTypeStart:
		return e.dispatchStart(ctx, execution, node, position)
	case models.NodeTypeEnd:
		return e.dispatchEnd(ctx, execution, node, position)
	case models.NodeTypeGateway:
		return e.dispatchGateway(ctx, execution, node, position)
	case models.NodeTypeTaskHuman:
		return e.dispatchHumanTask(ctx, execution, node, position)
	case models.NodeTypeDelay:
		return e.dispatchDelay(ctx, execution, node, position)
	case models.NodeTypeSubprocess:
		return e.dispatchSubprocess(ctx, execution, node, position)
	default:
		return e.dispatchHandler(ctx, execution, node, position)
	}
}

// dispatchStart settles the pending log row created at trigger time and moves
// on. The start node does no work of its own.
func (e *Engine) dispatchStart(ctx context.Context, execution *models.WorkflowExecution, node *models.Node, position *models.Position) error {
	if err := e.settleLatestLog(ctx, execution, node.ID, models.LogStatusCompleted, nil, "", 0); err != nil {
		return err
	}

	e.publishNodeFinished(ctx, execution, node, nil)
	execution.RemovePosition(node.ID)

	return e.followEdges(ctx, execution, node, position.Input)
}

// dispatchEnd terminates one branch. The branch data of the last end node
// reached becomes the execution output. End nodes do no work, so they leave
// no log row; completion is recorded on the execution itself.
func (e *Engine) dispatchEnd(ctx context.Context, execution *models.WorkflowExecution, node *models.Node, position *models.Position) error {
	e.publishNodeFinished(ctx, execution, node, position.Input)

	execution.OutputData = position.Input
	execution.RemovePosition(node.ID)

	return nil
}

// dispatchGateway routes exactly one branch: outgoing conditions evaluate in
// edge order and the first true condition wins; the catch-all edge matches
// only when every condition was false. No match at all fails the execution.
func (e *Engine) dispatchGateway(ctx context.Context, execution *models.WorkflowExecution, node *models.Node, position *models.Position) error {
	row := e.runningNodeLog(execution, node, position)
	if err := e.executions.AppendNodeLog(ctx, row); err != nil {
		return err
	}

	var matched, catchAll *models.Edge

	for _, edge := range execution.Snapshot.OutgoingEdges(node.ID) {
		if edge.IsCatchAll() {
			if catchAll == nil {
				catchAll = edge
			}

			continue
		}

		ok, err := e.conditions.EvaluateEdge(ctx, edge, position.Input)
		if err != nil {
			if settleErr := e.settleLatestLog(ctx, execution, node.ID, models.LogStatusFailed, nil, err.Error(), 0); settleErr != nil {
				return settleErr
			}

			e.publishNodeFailed(ctx, execution, node, err.Error(), 0)

			return e.failExecution(ctx, execution, node.ID, err)
		}

		if ok {
			matched = edge

			break
		}
	}

	if matched == nil {
		matched = catchAll
	}

	if matched == nil {
		unmatched := &UnmatchedGatewayError{ExecutionID: execution.ID, NodeID: node.ID}

		if err := e.settleLatestLog(ctx, execution, node.ID, models.LogStatusFailed, nil, unmatched.Error(), 0); err != nil {
			return err
		}

		e.publishNodeFailed(ctx, execution, node, unmatched.Error(), 0)

		return e.failExecution(ctx, execution, node.ID, unmatched)
	}

	if err := e.settleLatestLog(ctx, execution, node.ID, models.LogStatusCompleted, nil, "", 0); err != nil {
		return err
	}

	e.publishNodeFinished(ctx, execution, node, nil)
	execution.RemovePosition(node.ID)
	e.addPosition(execution, matched.TargetID, position.Input)

	return nil
}

// dispatchHumanTask parks the position until CompleteTask arrives for this
// exact node.
func (e *Engine) dispatchHumanTask(ctx context.Context, execution *models.WorkflowExecution, node *models.Node, position *models.Position) error {
	if _, err := models.ParseNodePayload(node); err != nil {
		return e.failNode(ctx, execution, node, err)
	}

	row := e.runningNodeLog(execution, node, position)
	if err := e.executions.AppendNodeLog(ctx, row); err != nil {
		return err
	}

	position.State = models.PositionStateWaitingHuman

	return nil
}

// dispatchDelay parks the position and schedules its resume on the engine
// clock.
func (e *Engine) dispatchDelay(ctx context.Context, execution *models.WorkflowExecution, node *models.Node, position *models.Position) error {
	payload, err := models.ParseNodePayload(node)
	if err != nil {
		return e.failNode(ctx, execution, node, err)
	}

	delay := payload.(models.DelayPayload)

	row := e.runningNodeLog(execution, node, position)
	if err := e.executions.AppendNodeLog(ctx, row); err != nil {
		return err
	}

	resumeAt := e.clock.Now().Add(delay.Duration)
	position.State = models.PositionStateWaitingDelay
	position.ResumeAt = &resumeAt

	if err := e.executions.Save(ctx, execution); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Execution waiting on delay",
		"execution_id", execution.ID, "node_id", node.ID, "resume_at", resumeAt)

	executionID := execution.ID
	nodeID := node.ID

	e.clock.AfterFunc(delay.Duration, func() {
		e.delayElapsed(context.WithoutCancel(ctx), executionID, nodeID)
	})

	return nil
}

// delayElapsed resumes an execution whose delay timer fired. A timer firing
// after the execution reached a terminal state still settles the node's log
// row but never changes the outcome.
func (e *Engine) delayElapsed(ctx context.Context, executionID, nodeID string) {
	lock := e.lockFor(executionID)
	lock.Lock()

	execution, err := e.delayElapsedLocked(ctx, executionID, nodeID)
	lock.Unlock()
	e.releaseLock(executionID, lock)

	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to resume delayed execution",
			"execution_id", executionID, "node_id", nodeID, "error", err)

		return
	}

	if execution != nil {
		e.notifyParent(ctx, execution)
	}
}

func (e *Engine) delayElapsedLocked(ctx context.Context, executionID, nodeID string) (*models.WorkflowExecution, error) {
	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status.IsTerminal() {
		e.logger.InfoContext(ctx, "Delay elapsed after execution reached terminal state",
			"execution_id", executionID, "node_id", nodeID, "status", execution.Status)

		if err := e.settleLatestLog(ctx, execution, nodeID, models.LogStatusSkipped, nil, "", 0); err != nil && !errors.Is(err, persistence.ErrNodeLogNotFound) {
			return nil, err
		}

		return nil, nil
	}

	position := execution.PositionAt(nodeID)
	if position == nil || position.State != models.PositionStateWaitingDelay {
		return nil, nil
	}

	node := execution.Snapshot.NodeByID(nodeID)

	if err := e.settleLatestLog(ctx, execution, nodeID, models.LogStatusCompleted, nil, "", 0); err != nil {
		return nil, err
	}

	e.publishNodeFinished(ctx, execution, node, nil)
	execution.RemovePosition(nodeID)

	if err := e.followEdges(ctx, execution, node, position.Input); err != nil {
		return nil, err
	}

	if err := e.advance(ctx, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

// dispatchSubprocess runs the referenced workflow as a child execution. A
// child that settles synchronously is resolved inline; one that parks (a
// human task or delay of its own) leaves the parent position waiting and the
// child's terminal transition propagates back later.
func (e *Engine) dispatchSubprocess(ctx context.Context, execution *models.WorkflowExecution, node *models.Node, position *models.Position) error {
	payload, err := models.ParseNodePayload(node)
	if err != nil {
		return e.failNode(ctx, execution, node, err)
	}

	subprocess := payload.(models.SubprocessPayload)

	row := e.runningNodeLog(execution, node, position)
	if err := e.executions.AppendNodeLog(ctx, row); err != nil {
		return err
	}

	position.State = models.PositionStateWaitingChild

	child, err := e.startExecution(ctx, subprocess.WorkflowID, position.Input,
		"subprocess:"+execution.ID, execution.ID, node.ID)
	if err != nil {
		if settleErr := e.settleLatestLog(ctx, execution, node.ID, models.LogStatusFailed, nil, err.Error(), 0); settleErr != nil {
			return settleErr
		}

		e.publishNodeFailed(ctx, execution, node, err.Error(), 0)

		return e.failExecution(ctx, execution, node.ID,
			&HandlerError{ExecutionID: execution.ID, NodeID: node.ID, Err: err})
	}

	position.ChildExecutionID = child.ID

	switch child.Status {
	case models.ExecutionStatusCompleted:
		if err := e.settleLatestLog(ctx, execution, node.ID, models.LogStatusCompleted, child.OutputData, "", 0); err != nil {
			return err
		}

		e.publishNodeFinished(ctx, execution, node, child.OutputData)
		execution.RemovePosition(node.ID)

		return e.followEdges(ctx, execution, node, mergeData(position.Input, child.OutputData))

	case models.ExecutionStatusFailed, models.ExecutionStatusCancelled:
		reason := child.ErrorMessage
		if reason == "" {
			reason = "subprocess " + child.ID + " " + string(child.Status)
		}

		if err := e.settleLatestLog(ctx, execution, node.ID, models.LogStatusFailed, nil, reason, 0); err != nil {
			return err
		}

		e.publishNodeFailed(ctx, execution, node, reason, 0)

		return e.failExecution(ctx, execution, node.ID,
			&HandlerError{ExecutionID: execution.ID, NodeID: node.ID, Err: errors.New(reason)})

	default:
		return nil
	}
}

// dispatchHandler runs a registry handler with bounded retries. Every attempt
// gets its own log row; the final failure carries the handler's error
// verbatim into the execution record.
func (e *Engine) dispatchHandler(ctx context.Context, execution *models.WorkflowExecution, node *models.Node, position *models.Position) error {
	logger := e.logger.With("execution_id", execution.ID, "node_id", node.ID)

	for attempt := 0; ; attempt++ {
		row := e.runningNodeLog(execution, node, position)
		row.RetryCount = attempt

		if err := e.executions.AppendNodeLog(ctx, row); err != nil {
			return err
		}

		result, execErr := e.runHandler(ctx, execution, node, position, logger)
		if execErr == nil {
			if err := e.settleLatestLog(ctx, execution, node.ID, models.LogStatusCompleted, result.Output, "", attempt); err != nil {
				return err
			}

			e.publishNodeFinished(ctx, execution, node, result.Output)
			execution.RemovePosition(node.ID)

			return e.followEdges(ctx, execution, node, mergeData(position.Input, result.Output))
		}

		if err := e.settleLatestLog(ctx, execution, node.ID, models.LogStatusFailed, nil, execErr.Error(), attempt); err != nil {
			return err
		}

		e.publishNodeFailed(ctx, execution, node, execErr.Error(), attempt)

		if attempt >= e.maxRetries {
			return e.failExecution(ctx, execution, node.ID,
				&HandlerError{ExecutionID: execution.ID, NodeID: node.ID, Err: execErr})
		}

		logger.WarnContext(ctx, "Node attempt failed, retrying",
			"attempt", attempt, "max_retries", e.maxRetries, "error", execErr)
	}
}

func (e *Engine) runHandler(
	ctx context.Context,
	execution *models.WorkflowExecution,
	node *models.Node,
	position *models.Position,
	logger *slog.Logger,
) (*protocol.HandlerResult, error) {
	handler, err := e.registry.CreateHandler(ctx, node)
	if err != nil {
		return nil, err
	}

	result, err := handler.Execute(ctx, protocol.NodeContext{
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		Node:        node,
		Input:       position.Input,
	}, logger)
	if err != nil {
		return nil, err
	}

	if result == nil {
		result = &protocol.HandlerResult{}
	}

	return result, nil
}

// failNode records a non-retryable node failure (bad payload, unknown
// reference) and fails the execution.
func (e *Engine) failNode(ctx context.Context, execution *models.WorkflowExecution, node *models.Node, cause error) error {
	row := e.newNodeLog(execution.ID, node.ID)
	now := e.clock.Now()
	row.Status = models.LogStatusFailed
	row.StartedAt = &now
	row.EndedAt = &now
	row.ErrorMessage = cause.Error()

	if err := e.executions.AppendNodeLog(ctx, row); err != nil {
		return err
	}

	e.publishNodeFailed(ctx, execution, node, cause.Error(), 0)

	return e.failExecution(ctx, execution, node.ID, cause)
}

// followEdges fans the branch out to every outgoing edge whose condition
// holds. Non-gateway nodes may activate several successors at once; a branch
// whose conditions all evaluate false simply ends.
func (e *Engine) followEdges(ctx context.Context, execution *models.WorkflowExecution, node *models.Node, data map[string]any) error {
	if node == nil {
		return nil
	}

	for _, edge := range execution.Snapshot.OutgoingEdges(node.ID) {
		if edge.IsCatchAll() {
			continue
		}

		ok, err := e.conditions.EvaluateEdge(ctx, edge, data)
		if err != nil {
			return e.failExecution(ctx, execution, node.ID, err)
		}

		if ok {
			e.addPosition(execution, edge.TargetID, data)
		}
	}

	return nil
}

func (e *Engine) addPosition(execution *models.WorkflowExecution, nodeID string, input map[string]any) {
	if existing := execution.PositionAt(nodeID); existing != nil {
		existing.Input = mergeData(existing.Input, input)

		return
	}

	execution.Positions = append(execution.Positions, &models.Position{
		NodeID:    nodeID,
		State:     models.PositionStateReady,
		Input:     input,
		EnteredAt: e.clock.Now(),
	})
}

func (e *Engine) failExecution(ctx context.Context, execution *models.WorkflowExecution, nodeID string, cause error) error {
	now := e.clock.Now()
	execution.Status = models.ExecutionStatusFailed
	execution.ErrorMessage = cause.Error()
	execution.CompletedAt = &now

	if err := e.executions.Save(ctx, execution); err != nil {
		return err
	}

	e.logger.ErrorContext(ctx, "Execution failed",
		"execution_id", execution.ID, "node_id", nodeID, "error", cause)

	e.publish(ctx, execution, events.ExecutionFailed{
		BaseEvent:  events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID, execution.ID),
		NodeID:     nodeID,
		Error:      cause.Error(),
		DurationMs: e.executionDuration(execution),
	})

	return nil
}

func (e *Engine) completeExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	now := e.clock.Now()
	execution.Status = models.ExecutionStatusCompleted
	execution.ProgressPercentage = 100
	execution.CompletedAt = &now

	if err := e.executions.Save(ctx, execution); err != nil {
		return err
	}

	executed, err := e.countExecutedNodes(ctx, execution)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Execution completed",
		"execution_id", execution.ID, "nodes_executed", executed)

	e.publish(ctx, execution, events.ExecutionCompleted{
		BaseEvent:     events.NewBaseEvent(events.ExecutionCompletedEvent, execution.WorkflowID, execution.ID),
		DurationMs:    e.executionDuration(execution),
		NodesExecuted: executed,
		Output:        execution.OutputData,
	})

	return nil
}

// updateProgress recomputes the executed share of snapshot nodes. Progress
// stays below 100 until the execution actually completes.
func (e *Engine) updateProgress(ctx context.Context, execution *models.WorkflowExecution) error {
	total := len(execution.Snapshot.Nodes)
	if total == 0 {
		return nil
	}

	executed, err := e.countExecutedNodes(ctx, execution)
	if err != nil {
		return err
	}

	progress := executed * 100 / total
	if progress > 99 {
		progress = 99
	}

	execution.ProgressPercentage = progress

	return nil
}

func (e *Engine) countExecutedNodes(ctx context.Context, execution *models.WorkflowExecution) (int, error) {
	logs, err := e.executions.NodeLogs(ctx, execution.ID)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{})

	for _, row := range logs {
		if row.Status == models.LogStatusCompleted {
			seen[row.NodeID] = struct{}{}
		}
	}

	return len(seen), nil
}

// settleLatestLog finalises the most recent log row of a node: stamps the end
// time, the duration and the outcome. The latest row is the authoritative one
// when retries produced several.
func (e *Engine) settleLatestLog(
	ctx context.Context,
	execution *models.WorkflowExecution,
	nodeID string,
	status models.LogStatus,
	output map[string]any,
	errorMessage string,
	retryCount int,
) error {
	logs, err := e.executions.NodeLogs(ctx, execution.ID)
	if err != nil {
		return err
	}

	var row *models.NodeExecutionLog

	for i := len(logs) - 1; i >= 0; i-- {
		if logs[i].NodeID == nodeID {
			row = logs[i]

			break
		}
	}

	if row == nil {
		return persistence.ErrNodeLogNotFound
	}

	now := e.clock.Now()
	if row.StartedAt == nil {
		row.StartedAt = &now
	}

	row.EndedAt = &now
	row.DurationMs = now.Sub(*row.StartedAt).Milliseconds()
	row.Status = status
	row.ErrorMessage = errorMessage

	if output != nil {
		row.OutputData = output
	}

	if retryCount > 0 {
		row.RetryCount = retryCount
	}

	return e.executions.UpdateNodeLog(ctx, row)
}

func (e *Engine) runningNodeLog(execution *models.WorkflowExecution, node *models.Node, position *models.Position) *models.NodeExecutionLog {
	row := e.newNodeLog(execution.ID, node.ID)
	now := e.clock.Now()
	row.Status = models.LogStatusRunning
	row.StartedAt = &now
	row.InputData = position.Input

	return row
}

func firstReady(execution *models.WorkflowExecution) *models.Position {
	return firstWithState(execution, models.PositionStateReady)
}

func firstWithState(execution *models.WorkflowExecution, state models.PositionState) *models.Position {
	for _, position := range execution.Positions {
		if position.State == state {
			return position
		}
	}

	return nil
}

func countPositions(execution *models.WorkflowExecution, state models.PositionState) int {
	count := 0

	for _, position := range execution.Positions {
		if position.State == state {
			count++
		}
	}

	return count
}
