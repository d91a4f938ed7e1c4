package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/taskdeps/internal/domain"
	"github.com/phrazzld/taskdeps/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// These errors represent common conditions that callers may want to check for with errors.Is().
//
// Error handling principles:
// 1. Service methods return sentinel errors for expected error conditions
// 2. Rule violations come back as *domain.ValidationError or *domain.CycleError
// 3. Unexpected errors are wrapped in DependencyServiceError
// 4. Callers use errors.Is/errors.As to check for specific error conditions
var (
	// ErrDependencyNotFound indicates that the dependency edge does not exist.
	ErrDependencyNotFound = errors.New("dependency not found")

	// ErrTaskNotFound indicates that the task being queried does not exist.
	// A missing endpoint during create or update is a validation error instead.
	ErrTaskNotFound = errors.New("task not found")
)

// DependencyServiceError wraps persistence failures from the dependency
// engine with the operation that hit them.
type DependencyServiceError struct {
	// Operation is the operation that failed (e.g., "create_dependency", "process_pending_tasks")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for DependencyServiceError.
func (e *DependencyServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dependency service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("dependency service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *DependencyServiceError) Unwrap() error {
	return e.Err
}

// NewDependencyServiceError creates a new DependencyServiceError.
// Not-found conditions are returned as the service sentinels, and rule
// violations (validation, cycle, invariant) are returned unchanged.
func NewDependencyServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrDependencyNotFound) || errors.Is(err, store.ErrDependencyNotFound) {
		return ErrDependencyNotFound
	}
	if errors.Is(err, ErrTaskNotFound) || errors.Is(err, store.ErrTaskNotFound) {
		return ErrTaskNotFound
	}

	if errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrCycle) ||
		errors.Is(err, domain.ErrInvariantViolation) {
		return err
	}

	return &DependencyServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// IsRetryable reports whether err is a persistence failure that may succeed
// on a later attempt. Validation, cycle, not-found and invariant errors are
// never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrInvariantViolation) {
		return false
	}
	return store.IsStoreError(err) || errors.Is(err, store.ErrTransactionFailed)
}
