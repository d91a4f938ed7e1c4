package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/store"
)

// dependenciesSatisfied reports whether every edge entering taskID is
// satisfied by its predecessor's current status. An edge whose predecessor
// no longer exists is unsatisfied, so a task never becomes ready on the
// strength of a task nobody can see.
func dependenciesSatisfied(
	ctx context.Context,
	deps store.DependencyStore,
	tasks store.TaskStore,
	log *slog.Logger,
	taskID uuid.UUID,
) (bool, error) {
	edges, err := deps.ListBySuccessor(ctx, taskID)
	if err != nil {
		return false, err
	}

	for _, edge := range edges {
		pred, err := tasks.GetByID(ctx, edge.PredecessorTaskID)
		if err != nil {
			if errors.Is(err, store.ErrTaskNotFound) {
				log.Warn("dependency references a missing predecessor",
					"task_id", taskID,
					"predecessor_task_id", edge.PredecessorTaskID,
					"dependency_id", edge.ID)
				return false, nil
			}
			return false, err
		}
		if !edge.Type.IsSatisfiedBy(pred.Status) {
			return false, nil
		}
	}
	return true, nil
}
