// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Sentinel errors every implementation returns for missing records.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates a workflow execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrNodeNotFound indicates a node was not found by the given identifier.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNodeLogNotFound indicates a node execution log row was not found.
	ErrNodeLogNotFound = errors.New("node execution log not found")
)

// StorageError wraps a collaborator I/O failure with the operation and the
// record it targeted. The engine treats these as non-retryable.
type StorageError struct {
	Op  string // Operation being performed, e.g. "ReadGraph", "AppendNodeLog"
	Key string // Record identifier if applicable
	Err error  // Underlying error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Key, e.Err)
	}

	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStorageError creates a storage error with operation context.
func NewStorageError(op, key string, err error) *StorageError {
	return &StorageError{Op: op, Key: key, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a missing workflow.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates a missing execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsNotFound checks if an error indicates any missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrNodeNotFound)
}
