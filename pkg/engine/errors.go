package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for execution preconditions.
var (
	// ErrNoStartNode indicates the workflow graph has no start node to
	// create the initial position from.
	ErrNoStartNode = errors.New("workflow has no start node")

	// ErrWorkflowNotExecutable indicates the workflow lifecycle status does
	// not admit new executions.
	ErrWorkflowNotExecutable = errors.New("workflow is not executable")
)

// HandlerError wraps a node handler failure with the execution and node it
// occurred in. The engine retries these up to the configured maximum before
// failing the execution.
type HandlerError struct {
	ExecutionID string
	NodeID      string
	Err         error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("execution %s node %s: %v", e.ExecutionID, e.NodeID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// InvalidStateError indicates an external signal arrived for an execution or
// node that is not in a state able to receive it.
type InvalidStateError struct {
	ExecutionID string
	NodeID      string
	Reason      string
}

func (e *InvalidStateError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("execution %s node %s: %s", e.ExecutionID, e.NodeID, e.Reason)
	}

	return fmt.Sprintf("execution %s: %s", e.ExecutionID, e.Reason)
}

// UnmatchedGatewayError indicates a gateway evaluated every outgoing
// condition to false and carries no catch-all edge. This is a hard execution
// failure, never a silent skip.
type UnmatchedGatewayError struct {
	ExecutionID string
	NodeID      string
}

func (e *UnmatchedGatewayError) Error() string {
	return fmt.Sprintf("execution %s: gateway %s matched no outgoing condition and has no catch-all edge", e.ExecutionID, e.NodeID)
}
