package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
)

// TaskStore is the slice of the task collaborator the dependency engine
// consumes: lookups and a guarded status write.
type TaskStore interface {
	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListByStatus returns every task in the given status, oldest first.
	// Returns an empty slice if no task matches.
	ListByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error)

	// UpdateStatusIf moves a task from one status to another only if it is
	// still in the expected status. It reports whether the row changed.
	// A task that does not exist yields (false, nil).
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to domain.TaskStatus) (bool, error)
}
