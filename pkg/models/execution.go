package models

import "time"

// ExecutionStatus represents the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// PositionState describes what a frontier position is currently doing.
type PositionState string

const (
	PositionStateReady        PositionState = "ready"         // Eligible for dispatch
	PositionStateWaitingHuman PositionState = "waiting_human" // Blocked on CompleteTask
	PositionStateWaitingDelay PositionState = "waiting_delay" // Blocked on a timer
	PositionStateWaitingChild PositionState = "waiting_child" // Blocked on a subprocess execution
)

// Position is one entry of the execution frontier: a node currently active
// within a running execution, plus the per-branch context it carries. The
// frontier is an explicit mutable overlay over the immutable graph snapshot,
// never recursive call-stack state, so pause/resume and persistence stay
// straightforward.
type Position struct {
	NodeID           string         `json:"node_id"`
	State            PositionState  `json:"state"`
	Input            map[string]any `json:"input,omitempty"`
	ResumeAt         *time.Time     `json:"resume_at,omitempty"`
	ChildExecutionID string         `json:"child_execution_id,omitempty"`
	EnteredAt        time.Time      `json:"entered_at"`
}

// GraphSnapshot is the node/edge set frozen at trigger time. Edits to the
// workflow while an execution is in flight affect only future executions.
type GraphSnapshot struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// NodeByID returns the snapshot node with the given id, or nil.
func (g *GraphSnapshot) NodeByID(id string) *Node {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// OutgoingEdges returns the edges leaving the given node, in snapshot order.
func (g *GraphSnapshot) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge

	for _, edge := range g.Edges {
		if edge.SourceID == nodeID {
			out = append(out, edge)
		}
	}

	return out
}

// IncomingEdges returns the edges entering the given node, in snapshot order.
func (g *GraphSnapshot) IncomingEdges(nodeID string) []*Edge {
	var in []*Edge

	for _, edge := range g.Edges {
		if edge.TargetID == nodeID {
			in = append(in, edge)
		}
	}

	return in
}

// StartNode returns the snapshot's start node, or nil when absent.
func (g *GraphSnapshot) StartNode() *Node {
	for _, node := range g.Nodes {
		if node.Type == NodeTypeStart {
			return node
		}
	}

	return nil
}

// WorkflowExecution is one timed, stateful run of a workflow version.
type WorkflowExecution struct {
	ID                 string          `json:"id"`
	WorkflowID         string          `json:"workflow_id"`
	Name               string          `json:"name"`
	Status             ExecutionStatus `json:"status"`
	Positions          []*Position     `json:"positions,omitempty"`
	ProgressPercentage int             `json:"progress_percentage"`
	InputData          map[string]any  `json:"input_data,omitempty"`
	OutputData         map[string]any  `json:"output_data,omitempty"`
	Snapshot           *GraphSnapshot  `json:"snapshot,omitempty"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	TriggeredBy        string          `json:"triggered_by"`
	ResultSummary      string          `json:"result_summary,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	ParentExecutionID  string          `json:"parent_execution_id,omitempty"`
	ParentNodeID       string          `json:"parent_node_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// CurrentNodeIDs returns the node ids of every frontier position.
func (e *WorkflowExecution) CurrentNodeIDs() []string {
	ids := make([]string, 0, len(e.Positions))
	for _, pos := range e.Positions {
		ids = append(ids, pos.NodeID)
	}

	return ids
}

// PositionAt returns the frontier position for the given node, or nil.
func (e *WorkflowExecution) PositionAt(nodeID string) *Position {
	for _, pos := range e.Positions {
		if pos.NodeID == nodeID {
			return pos
		}
	}

	return nil
}

// RemovePosition drops the frontier position for the given node.
func (e *WorkflowExecution) RemovePosition(nodeID string) {
	kept := e.Positions[:0]

	for _, pos := range e.Positions {
		if pos.NodeID != nodeID {
			kept = append(kept, pos)
		}
	}

	e.Positions = kept
}

// LogStatus represents the outcome of one attempt to execute one node.
type LogStatus string

const (
	LogStatusPending   LogStatus = "pending"
	LogStatusRunning   LogStatus = "running"
	LogStatusCompleted LogStatus = "completed"
	LogStatusFailed    LogStatus = "failed"
	LogStatusSkipped   LogStatus = "skipped"
)

// NodeExecutionLog is the audit record of one node attempt within one
// execution. Multiple rows for the same (execution, node) pair exist only when
// retries occurred; the latest row is authoritative.
type NodeExecutionLog struct {
	ID            string         `json:"id"`
	ExecutionID   string         `json:"execution_id"`
	NodeID        string         `json:"node_id"`
	Status        LogStatus      `json:"status"`
	InputData     map[string]any `json:"input_data,omitempty"`
	OutputData    map[string]any `json:"output_data,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	ResultMessage string         `json:"result_message,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	RetryCount    int            `json:"retry_count"`
}
