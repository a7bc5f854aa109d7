// Package events defines event types and structures for execution lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every execution lifecycle event.
const Topic = "caravel.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	// Per-node events.
	NodeFinishedEvent EventType = "execution.node.finished"
	NodeFailedEvent   EventType = "execution.node.failed"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	WorkerID    string         `json:"worker_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type ExecutionStarted struct {
	BaseEvent

	WorkflowName string         `json:"workflow_name"`
	TriggeredBy  string         `json:"triggered_by"`
	Input        map[string]any `json:"input,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionPaused struct {
	BaseEvent

	NodeID string `json:"node_id"`
	Reason string `json:"reason"`
}

func (e ExecutionPaused) GetType() EventType {
	return ExecutionPausedEvent
}

type ExecutionResumed struct {
	BaseEvent

	NodeID      string `json:"node_id"`
	CompletedBy string `json:"completed_by,omitempty"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	DurationMs    int64          `json:"duration_ms"`
	NodesExecuted int            `json:"nodes_executed"`
	Output        map[string]any `json:"output,omitempty"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	NodeID     string `json:"node_id,omitempty"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	Reason      string `json:"reason,omitempty"`
	CancelledBy string `json:"cancelled_by,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type NodeFinished struct {
	BaseEvent

	NodeID     string         `json:"node_id"`
	NodeType   string         `json:"node_type"`
	Output     map[string]any `json:"output,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (e NodeFinished) GetType() EventType {
	return NodeFinishedEvent
}

type NodeFailed struct {
	BaseEvent

	NodeID     string `json:"node_id"`
	NodeType   string `json:"node_type"`
	Error      string `json:"error"`
	Attempt    int    `json:"attempt"`
	DurationMs int64  `json:"duration_ms"`
}

func (e NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

func NewBaseEvent(eventType EventType, workflowID, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Metadata:    make(map[string]any),
	}
}
