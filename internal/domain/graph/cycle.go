package graph

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
)

// WouldCreateCycle reports whether adding the edge predecessorID -> successorID
// would close a loop. That happens exactly when a path successorID -> ... ->
// predecessorID already exists.
//
// The search is a depth-first walk from successorID along outgoing edges and
// stops as soon as predecessorID is reached. A self-loop is reported without
// touching src. When a cycle is found, the returned path starts and ends at
// predecessorID and includes the proposed edge.
func WouldCreateCycle(
	ctx context.Context,
	src SuccessorSource,
	predecessorID, successorID uuid.UUID,
) (bool, []uuid.UUID, error) {
	if predecessorID == successorID {
		return true, []uuid.UUID{predecessorID, successorID}, nil
	}

	parent := make(map[uuid.UUID]uuid.UUID)
	visited := map[uuid.UUID]struct{}{successorID: {}}
	stack := []uuid.UUID{successorID}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		edges, err := src.ListByPredecessor(ctx, current)
		if err != nil {
			return false, nil, err
		}

		for _, edge := range edges {
			next := edge.SuccessorTaskID
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			parent[next] = current

			if next == predecessorID {
				return true, cyclePath(parent, predecessorID, successorID), nil
			}
			stack = append(stack, next)
		}
	}

	return false, nil, nil
}

// CheckEdge is WouldCreateCycle shaped for callers that only need an error:
// it returns a *domain.CycleError when the edge would close a loop.
func CheckEdge(ctx context.Context, src SuccessorSource, predecessorID, successorID uuid.UUID) error {
	cycle, path, err := WouldCreateCycle(ctx, src, predecessorID, successorID)
	if err != nil {
		return err
	}
	if cycle {
		return &domain.CycleError{
			PredecessorID: predecessorID,
			SuccessorID:   successorID,
			Path:          path,
		}
	}
	return nil
}

// cyclePath rebuilds predecessorID -> successorID -> ... -> predecessorID from
// the parent links recorded during the search.
func cyclePath(parent map[uuid.UUID]uuid.UUID, predecessorID, successorID uuid.UUID) []uuid.UUID {
	// back holds predecessorID, ..., successorID (walking parents backwards)
	back := []uuid.UUID{predecessorID}
	for node := predecessorID; node != successorID; {
		node = parent[node]
		back = append(back, node)
	}

	path := make([]uuid.UUID, 0, len(back)+1)
	path = append(path, predecessorID)
	for i := len(back) - 1; i >= 0; i-- {
		path = append(path, back[i])
	}
	return path
}
