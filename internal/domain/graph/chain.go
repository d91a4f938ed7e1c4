package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
)

// Visit is one transitive predecessor reached by WalkPredecessors.
type Visit struct {
	TaskID uuid.UUID
	// Level is the depth at which the task was first reached; 1 means a
	// direct predecessor of the root.
	Level int
	// Edge is the edge through which the task was first reached.
	Edge *domain.DependencyEdge
}

type frame struct {
	level int
	edges []*domain.DependencyEdge
	next  int
	task  uuid.UUID
}

// WalkPredecessors returns every transitive predecessor of root in
// depth-first preorder. Each task appears once, at the level where it was
// first reached.
//
// Reaching a task that is still on the current path means the stored graph
// contains a cycle. The walk stops and returns the visits collected so far
// together with an error wrapping domain.ErrInvariantViolation.
func WalkPredecessors(ctx context.Context, src PredecessorSource, root uuid.UUID) ([]Visit, error) {
	rootEdges, err := src.ListBySuccessor(ctx, root)
	if err != nil {
		return nil, err
	}

	visits := make([]Visit, 0, len(rootEdges))
	visited := map[uuid.UUID]struct{}{root: {}}
	onPath := map[uuid.UUID]struct{}{root: {}}
	stack := []frame{{level: 0, edges: rootEdges, task: root}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.edges) {
			delete(onPath, top.task)
			stack = stack[:len(stack)-1]
			continue
		}

		edge := top.edges[top.next]
		top.next++
		pred := edge.PredecessorTaskID
		level := top.level + 1

		if _, cyclic := onPath[pred]; cyclic {
			return visits, fmt.Errorf("%w: task %s is its own transitive predecessor",
				domain.ErrInvariantViolation, pred)
		}
		if _, seen := visited[pred]; seen {
			continue
		}
		visited[pred] = struct{}{}
		visits = append(visits, Visit{TaskID: pred, Level: level, Edge: edge})

		predEdges, err := src.ListBySuccessor(ctx, pred)
		if err != nil {
			return visits, err
		}
		onPath[pred] = struct{}{}
		stack = append(stack, frame{level: level, edges: predEdges, task: pred})
	}

	return visits, nil
}
