// Package domain defines the core business entities and errors.
package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrCycle is returned when a proposed dependency would close a loop in
	// the dependency graph.
	ErrCycle = errors.New("dependency would create a cycle")

	// ErrInvariantViolation marks a structural-integrity failure: persisted
	// data contradicts an invariant the engine enforces on write (for
	// example, a cycle observed during traversal). It is never retried and
	// must reach an operator.
	ErrInvariantViolation = errors.New("graph invariant violated")

	// ErrSelfDependency is returned when a task is made to depend on itself.
	ErrSelfDependency = errors.New("a task cannot depend on itself")

	// ErrDuplicateDependency is returned when the same predecessor/successor
	// pair already exists.
	ErrDuplicateDependency = errors.New("dependency already exists")

	// ErrInvalidDependencyType is returned for an unknown dependency type.
	ErrInvalidDependencyType = errors.New("invalid dependency type")

	// ErrInvalidTaskStatus is returned for an unknown task status.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrTaskNotFound is wrapped into a ValidationError when a dependency
	// references a task that does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidID is returned when an ID is malformed or empty.
	ErrInvalidID = errors.New("invalid ID")
)

// ValidationError describes a single violated rule on a named field.
// It always matches ErrValidation with errors.Is, and also matches the
// specific sentinel it wraps (ErrSelfDependency, ErrDuplicateDependency, ...).
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: err}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation.Error(), e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Field, e.Message)
}

// Unwrap returns both the generic and the specific cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// CycleError reports a rejected edge together with the loop it would close.
// Path starts and ends with PredecessorID: p -> s -> ... -> p.
type CycleError struct {
	PredecessorID uuid.UUID
	SuccessorID   uuid.UUID
	Path          []uuid.UUID
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("%s: %s -> %s", ErrCycle.Error(), e.PredecessorID, e.SuccessorID)
	}
	ids := make([]string, len(e.Path))
	for i, id := range e.Path {
		ids[i] = id.String()
	}
	return fmt.Sprintf("%s: %s", ErrCycle.Error(), strings.Join(ids, " -> "))
}

// Is lets errors.Is(err, ErrCycle) match any CycleError.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}
