package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
	"github.com/phrazzld/taskdeps/internal/events"
	"github.com/phrazzld/taskdeps/internal/platform/logger"
	"github.com/phrazzld/taskdeps/internal/platform/metrics"
	"github.com/phrazzld/taskdeps/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// sweepKey is the single-flight key shared by all ProcessPendingTasks calls.
const sweepKey = "sweep"

// StatusService moves tasks forward once their dependencies allow it.
type StatusService interface {
	// CheckAndUpdateTaskStatus promotes a pending task to in_progress when all
	// of its dependencies are satisfied. It reports whether this call made the
	// transition; failures are logged and reported as false.
	CheckAndUpdateTaskStatus(ctx context.Context, taskID uuid.UUID) bool

	// CanTaskBeCompleted reports whether the task's dependencies allow it to
	// be completed.
	CanTaskBeCompleted(ctx context.Context, taskID uuid.UUID) (bool, error)

	// GetTasksReadyToStart returns the pending tasks whose dependencies are
	// all satisfied, oldest first.
	GetTasksReadyToStart(ctx context.Context) ([]*domain.Task, error)

	// ProcessPendingTasks runs CheckAndUpdateTaskStatus over every pending
	// task and returns how many were promoted. Concurrent calls share the
	// sweep already in flight and its result.
	ProcessPendingTasks(ctx context.Context) (int, error)
}

// statusServiceImpl implements the StatusService interface
type statusServiceImpl struct {
	deps         store.DependencyStore
	tasks        store.TaskStore
	eventEmitter events.EventEmitter
	metrics      *metrics.Metrics
	sweeps       singleflight.Group
	logger       *slog.Logger
}

// NewStatusService creates a new StatusService.
// It returns an error if any of the required dependencies are nil. m may be nil.
func NewStatusService(
	deps store.DependencyStore,
	tasks store.TaskStore,
	eventEmitter events.EventEmitter,
	m *metrics.Metrics,
	logger *slog.Logger,
) (StatusService, error) {
	if deps == nil {
		return nil, &DependencyServiceError{
			Operation: "create_service",
			Message:   "dependency store cannot be nil",
		}
	}
	if tasks == nil {
		return nil, &DependencyServiceError{
			Operation: "create_service",
			Message:   "task store cannot be nil",
		}
	}
	if eventEmitter == nil {
		return nil, &DependencyServiceError{
			Operation: "create_service",
			Message:   "eventEmitter cannot be nil",
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &statusServiceImpl{
		deps:         deps,
		tasks:        tasks,
		eventEmitter: eventEmitter,
		metrics:      m,
		logger:       logger.With("component", "status_service"),
	}, nil
}

// CheckAndUpdateTaskStatus implements StatusService.CheckAndUpdateTaskStatus
func (s *statusServiceImpl) CheckAndUpdateTaskStatus(ctx context.Context, taskID uuid.UUID) bool {
	log := logger.FromContextOrDefault(ctx, s.logger).With("task_id", taskID)

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			log.Warn("cannot update status of missing task")
		} else {
			log.Error("failed to load task for status update", "error", err)
		}
		return false
	}
	if task.Status != domain.TaskStatusPending {
		return false
	}

	ready, err := dependenciesSatisfied(ctx, s.deps, s.tasks, log, taskID)
	if err != nil {
		log.Error("failed to evaluate task dependencies", "error", err)
		return false
	}
	if !ready {
		return false
	}

	changed, err := s.tasks.UpdateStatusIf(ctx, taskID, domain.TaskStatusPending, domain.TaskStatusInProgress)
	if err != nil {
		log.Error("failed to promote task", "error", err)
		return false
	}
	if !changed {
		// Another writer moved the task first.
		log.Debug("task status changed concurrently; skipping promotion")
		return false
	}

	s.metrics.ObservePromotion()
	log.Info("task promoted",
		"old_status", domain.TaskStatusPending,
		"new_status", domain.TaskStatusInProgress,
		"reason", events.ReasonDependenciesCompleted)

	event, err := events.NewStatusChangedEvent(taskID,
		domain.TaskStatusPending, domain.TaskStatusInProgress, events.ReasonDependenciesCompleted)
	if err != nil {
		log.Error("failed to create status changed event", "error", err)
		return true
	}
	if err := s.eventEmitter.EmitEvent(ctx, event); err != nil {
		log.Error("failed to emit status changed event", "error", err, "event_id", event.ID)
	}
	return true
}

// CanTaskBeCompleted implements StatusService.CanTaskBeCompleted
// Completion is currently gated by the same rule as starting.
func (s *statusServiceImpl) CanTaskBeCompleted(ctx context.Context, taskID uuid.UUID) (bool, error) {
	ok, err := dependenciesSatisfied(ctx, s.deps, s.tasks, logger.FromContextOrDefault(ctx, s.logger), taskID)
	if err != nil {
		return false, NewDependencyServiceError("can_task_be_completed", "failed to evaluate dependencies", err)
	}
	return ok, nil
}

// GetTasksReadyToStart implements StatusService.GetTasksReadyToStart
func (s *statusServiceImpl) GetTasksReadyToStart(ctx context.Context) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	pending, err := s.tasks.ListByStatus(ctx, domain.TaskStatusPending)
	if err != nil {
		return nil, NewDependencyServiceError("get_tasks_ready_to_start", "failed to list pending tasks", err)
	}

	ready := make([]*domain.Task, 0, len(pending))
	for _, task := range pending {
		ok, err := dependenciesSatisfied(ctx, s.deps, s.tasks, log, task.ID)
		if err != nil {
			return nil, NewDependencyServiceError("get_tasks_ready_to_start", "failed to evaluate dependencies", err)
		}
		if ok {
			ready = append(ready, task)
		}
	}
	return ready, nil
}

// ProcessPendingTasks implements StatusService.ProcessPendingTasks
// Callers that join a sweep in flight get its result, which was computed
// under the first caller's context.
func (s *statusServiceImpl) ProcessPendingTasks(ctx context.Context) (int, error) {
	v, err, shared := s.sweeps.Do(sweepKey, func() (interface{}, error) {
		return s.processPendingTasks(ctx)
	})
	if shared {
		logger.FromContextOrDefault(ctx, s.logger).Debug("joined sweep already in flight")
	}
	promoted, _ := v.(int)
	return promoted, err
}

func (s *statusServiceImpl) processPendingTasks(ctx context.Context) (_ int, err error) {
	ctx, span := tracer.Start(ctx, "StatusService.ProcessPendingTasks")
	defer func() { finishSpan(span, err) }()

	log := logger.FromContextOrDefault(ctx, s.logger)
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start), err) }()

	pending, err := s.tasks.ListByStatus(ctx, domain.TaskStatusPending)
	if err != nil {
		log.Error("failed to list pending tasks", "error", err)
		return 0, NewDependencyServiceError("process_pending_tasks", "failed to list pending tasks", err)
	}

	promoted := 0
	for _, task := range pending {
		if err := ctx.Err(); err != nil {
			log.Warn("sweep interrupted", "error", err, "promoted", promoted)
			return promoted, err
		}
		if s.CheckAndUpdateTaskStatus(ctx, task.ID) {
			promoted++
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.examined", len(pending)),
		attribute.Int("sweep.promoted", promoted),
	)
	log.Info("processed pending tasks",
		"examined", len(pending),
		"promoted", promoted,
		"duration_ms", time.Since(start).Milliseconds())
	return promoted, nil
}
