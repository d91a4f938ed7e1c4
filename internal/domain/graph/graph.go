// Package graph implements the traversals the dependency engine needs over
// the edge set: the pre-insert cycle check and the transitive predecessor
// walk used for dependency chains.
//
// Traversals read the graph through small source interfaces on every call.
// Nothing is cached between calls, since the edge set may change between
// them. All walks use an explicit stack and a visited set, so corrupted
// data can neither recurse without bound nor loop forever.
package graph

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
)

// SuccessorSource lists the edges leaving a task (the tasks it blocks).
type SuccessorSource interface {
	ListByPredecessor(ctx context.Context, taskID uuid.UUID) ([]*domain.DependencyEdge, error)
}

// PredecessorSource lists the edges entering a task (its predecessors).
type PredecessorSource interface {
	ListBySuccessor(ctx context.Context, taskID uuid.UUID) ([]*domain.DependencyEdge, error)
}

// SuccessorFunc adapts a plain function to SuccessorSource.
type SuccessorFunc func(ctx context.Context, taskID uuid.UUID) ([]*domain.DependencyEdge, error)

// ListByPredecessor calls f.
func (f SuccessorFunc) ListByPredecessor(
	ctx context.Context,
	taskID uuid.UUID,
) ([]*domain.DependencyEdge, error) {
	return f(ctx, taskID)
}

// ExcludeEdge hides one edge from src. Updates use it to evaluate the graph
// as it would look once the edge has moved to its new endpoints.
func ExcludeEdge(src SuccessorSource, edgeID uuid.UUID) SuccessorSource {
	return SuccessorFunc(func(ctx context.Context, taskID uuid.UUID) ([]*domain.DependencyEdge, error) {
		edges, err := src.ListByPredecessor(ctx, taskID)
		if err != nil {
			return nil, err
		}
		filtered := edges[:0:0]
		for _, e := range edges {
			if e.ID != edgeID {
				filtered = append(filtered, e)
			}
		}
		return filtered, nil
	})
}
