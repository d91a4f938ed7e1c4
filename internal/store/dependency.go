package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
)

// GraphFn is a unit of work executed while the graph mutation lock is held.
// The store passed in is bound to that unit of work.
type GraphFn func(ctx context.Context, s DependencyStore) error

// DependencyStore defines the interface for dependency edge persistence.
type DependencyStore interface {
	// Create saves a new edge.
	// Returns ErrDependencyExists if the predecessor/successor pair is already stored.
	// Returns ErrInvalidEntity if the edge violates a storage constraint.
	Create(ctx context.Context, edge *domain.DependencyEdge) error

	// GetByID retrieves an edge by its unique ID.
	// Returns ErrDependencyNotFound if the edge does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DependencyEdge, error)

	// ListBySuccessor returns every edge whose successor is taskID, i.e. the
	// task's predecessors. Returns an empty slice when there are none.
	ListBySuccessor(ctx context.Context, taskID uuid.UUID) ([]*domain.DependencyEdge, error)

	// ListByPredecessor returns every edge whose predecessor is taskID, i.e. the
	// tasks it blocks. Returns an empty slice when there are none.
	ListByPredecessor(ctx context.Context, taskID uuid.UUID) ([]*domain.DependencyEdge, error)

	// ListAll returns the full edge set ordered by creation time.
	ListAll(ctx context.Context) ([]*domain.DependencyEdge, error)

	// Exists reports whether an edge predecessorID -> successorID is stored.
	Exists(ctx context.Context, predecessorID, successorID uuid.UUID) (bool, error)

	// Update saves type, lag and endpoint changes of an existing edge.
	// Returns ErrDependencyNotFound if the edge does not exist.
	Update(ctx context.Context, edge *domain.DependencyEdge) error

	// Delete removes an edge.
	// Returns ErrDependencyNotFound if the edge does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteByTask removes every edge in which taskID takes part and returns
	// how many were removed.
	DeleteByTask(ctx context.Context, taskID uuid.UUID) (int, error)

	// Statistics aggregates the edge set. BlockedTasks is left at zero; it
	// depends on task state, which the dependency store does not own.
	Statistics(ctx context.Context) (*domain.DependencyStatistics, error)

	// WithinGraphLock runs fn while holding the graph-wide mutation lock, with
	// a store bound to a single unit of work. If fn returns an error, its
	// writes are discarded where the backend supports it.
	WithinGraphLock(ctx context.Context, fn GraphFn) error
}
