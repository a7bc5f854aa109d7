// Package services implements the workflow management operations behind the
// API surface: CRUD, lifecycle transitions, execution history and stats.
package services

import (
	"errors"
	"fmt"

	"github.com/caravel-hq/caravel/pkg/persistence"
)

// ErrWorkflowNotFound is re-exported so API callers need not import the
// persistence package.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

// Business logic errors. Validation errors map to 400 responses, conflicts
// to 409.
var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidStatus        = errors.New("invalid workflow status")
	ErrWorkflowNameRequired = errors.New("workflow name is required")

	ErrWorkflowTerminal = errors.New("workflow is archived or deprecated")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should
// return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrWorkflowNameRequired)
}

// IsConflictError checks if an error is a business logic conflict that
// should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowTerminal)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
