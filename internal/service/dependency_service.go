package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
	"github.com/phrazzld/taskdeps/internal/domain/graph"
	"github.com/phrazzld/taskdeps/internal/events"
	"github.com/phrazzld/taskdeps/internal/platform/logger"
	"github.com/phrazzld/taskdeps/internal/platform/metrics"
	"github.com/phrazzld/taskdeps/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/phrazzld/taskdeps/internal/service")

// Metric operation labels for graph writes.
const (
	opCreate     = "create"
	opUpdate     = "update"
	opDelete     = "delete"
	opRemoveTask = "remove_task"
)

// DependencyInput describes a dependency to create or validate.
// An empty Type defaults to finish_to_start.
type DependencyInput struct {
	PredecessorTaskID uuid.UUID             `json:"predecessor_task_id" validate:"required"`
	SuccessorTaskID   uuid.UUID             `json:"successor_task_id"   validate:"required"`
	Type              domain.DependencyType `json:"dependency_type"     validate:"omitempty,oneof=finish_to_start start_to_start finish_to_finish start_to_finish"`
	LagDays           int                   `json:"lag_days"`
}

// DependencyPatch holds the fields to change on an existing dependency.
// Nil fields are left as they are.
type DependencyPatch struct {
	PredecessorTaskID *uuid.UUID
	SuccessorTaskID   *uuid.UUID
	Type              *domain.DependencyType
	LagDays           *int
}

// ValidationResult is the outcome of ValidateDependency.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// DependencyService manages dependency edges between tasks and answers
// readiness questions about them.
type DependencyService interface {
	// CreateDependency validates and stores a new edge. Validation, the cycle
	// check and the insert happen atomically with respect to other graph writes.
	// Returns a *domain.ValidationError or *domain.CycleError when the edge is rejected.
	CreateDependency(ctx context.Context, in DependencyInput) (*domain.DependencyEdge, error)

	// UpdateDependency applies patch to an edge. Moving either endpoint
	// revalidates the edge against the graph as it would look after the move.
	UpdateDependency(ctx context.Context, id uuid.UUID, patch DependencyPatch) (*domain.DependencyEdge, error)

	// DeleteDependency removes an edge.
	DeleteDependency(ctx context.Context, id uuid.UUID) error

	// CanTaskStart reports whether every predecessor of the task satisfies
	// its edge. A task with no predecessors can start.
	CanTaskStart(ctx context.Context, taskID uuid.UUID) (bool, error)

	// GetBlockedTasks returns the edges leaving the task, i.e. the tasks it blocks.
	GetBlockedTasks(ctx context.Context, taskID uuid.UUID) ([]*domain.DependencyEdge, error)

	// GetDependencyChain returns every transitive predecessor of the task,
	// each once, annotated with its distance from the task.
	GetDependencyChain(ctx context.Context, taskID uuid.UUID) ([]domain.ChainEntry, error)

	// GetDependencyStatistics summarizes the whole graph.
	GetDependencyStatistics(ctx context.Context) (*domain.DependencyStatistics, error)

	// ValidateDependency runs the checks of CreateDependency without writing.
	// The error return is reserved for failures to run the checks.
	ValidateDependency(ctx context.Context, in DependencyInput) (*ValidationResult, error)

	// RemoveTaskDependencies deletes every edge the task takes part in. The
	// task owner calls it when a task is deleted.
	RemoveTaskDependencies(ctx context.Context, taskID uuid.UUID) (int, error)
}

// dependencyServiceImpl implements the DependencyService interface
type dependencyServiceImpl struct {
	deps         store.DependencyStore
	tasks        store.TaskStore
	eventEmitter events.EventEmitter
	metrics      *metrics.Metrics
	validate     *validator.Validate
	logger       *slog.Logger
}

// NewDependencyService creates a new DependencyService.
// It returns an error if any of the required dependencies are nil. m may be nil.
func NewDependencyService(
	deps store.DependencyStore,
	tasks store.TaskStore,
	eventEmitter events.EventEmitter,
	m *metrics.Metrics,
	logger *slog.Logger,
) (DependencyService, error) {
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

	return &dependencyServiceImpl{
		deps:         deps,
		tasks:        tasks,
		eventEmitter: eventEmitter,
		metrics:      m,
		validate:     newInputValidator(),
		logger:       logger.With("component", "dependency_service"),
	}, nil
}

// CreateDependency implements DependencyService.CreateDependency
func (s *dependencyServiceImpl) CreateDependency(
	ctx context.Context,
	in DependencyInput,
) (_ *domain.DependencyEdge, err error) {
	ctx, span := tracer.Start(ctx, "DependencyService.CreateDependency",
		trace.WithAttributes(
			attribute.String("dependency.predecessor_task_id", in.PredecessorTaskID.String()),
			attribute.String("dependency.successor_task_id", in.SuccessorTaskID.String()),
		),
	)
	defer func() {
		s.observe(opCreate, err)
		finishSpan(span, err)
	}()
	log := logger.FromContextOrDefault(ctx, s.logger)

	if violations := s.inputViolations(in); len(violations) > 0 {
		log.Debug("dependency input rejected", "error", violations[0])
		return nil, violations[0]
	}

	edge, err := domain.NewDependencyEdge(in.PredecessorTaskID, in.SuccessorTaskID, in.Type, in.LagDays)
	if err != nil {
		return nil, err
	}

	err = s.deps.WithinGraphLock(ctx, func(ctx context.Context, tx store.DependencyStore) error {
		violations, err := s.graphViolations(ctx, tx, tx, edge.PredecessorTaskID, edge.SuccessorTaskID, false)
		if err != nil {
			return err
		}
		if len(violations) > 0 {
			return violations[0]
		}
		if err := tx.Create(ctx, edge); err != nil {
			if errors.Is(err, store.ErrDependencyExists) {
				return duplicateError(edge.PredecessorTaskID, edge.SuccessorTaskID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrCycle) {
			log.Info("dependency rejected: would create a cycle",
				"predecessor_task_id", edge.PredecessorTaskID,
				"successor_task_id", edge.SuccessorTaskID,
				"error", err)
		} else if !errors.Is(err, domain.ErrValidation) {
			log.Error("failed to create dependency",
				"error", err,
				"predecessor_task_id", edge.PredecessorTaskID,
				"successor_task_id", edge.SuccessorTaskID)
		}
		return nil, NewDependencyServiceError("create_dependency", "failed to create dependency", err)
	}

	log.Info("dependency created",
		"dependency_id", edge.ID,
		"predecessor_task_id", edge.PredecessorTaskID,
		"successor_task_id", edge.SuccessorTaskID,
		"dependency_type", edge.Type,
		"lag_days", edge.LagDays)

	s.emitDependencyChanged(ctx, edge.ID, events.ActionCreated, edge.PredecessorTaskID, edge.SuccessorTaskID)
	return edge, nil
}

// UpdateDependency implements DependencyService.UpdateDependency
func (s *dependencyServiceImpl) UpdateDependency(
	ctx context.Context,
	id uuid.UUID,
	patch DependencyPatch,
) (_ *domain.DependencyEdge, err error) {
	ctx, span := tracer.Start(ctx, "DependencyService.UpdateDependency",
		trace.WithAttributes(attribute.String("dependency.id", id.String())))
	defer func() {
		s.observe(opUpdate, err)
		finishSpan(span, err)
	}()
	log := logger.FromContextOrDefault(ctx, s.logger)

	var previous, updated *domain.DependencyEdge
	err = s.deps.WithinGraphLock(ctx, func(ctx context.Context, tx store.DependencyStore) error {
		current, err := tx.GetByID(ctx, id)
		if err != nil {
			return err
		}

		next := *current
		if patch.PredecessorTaskID != nil {
			next.PredecessorTaskID = *patch.PredecessorTaskID
		}
		if patch.SuccessorTaskID != nil {
			next.SuccessorTaskID = *patch.SuccessorTaskID
		}
		if patch.Type != nil {
			next.Type = *patch.Type
		}
		if patch.LagDays != nil {
			next.LagDays = *patch.LagDays
		}
		next.UpdatedAt = time.Now().UTC()

		if err := next.Validate(); err != nil {
			return err
		}

		if current.EndpointsDiffer(next.PredecessorTaskID, next.SuccessorTaskID) {
			// The edge being moved must not count as part of the graph it moves into.
			violations, err := s.graphViolations(ctx, tx, graph.ExcludeEdge(tx, id),
				next.PredecessorTaskID, next.SuccessorTaskID, false)
			if err != nil {
				return err
			}
			if len(violations) > 0 {
				return violations[0]
			}
		}

		if err := tx.Update(ctx, &next); err != nil {
			if errors.Is(err, store.ErrDependencyExists) {
				return duplicateError(next.PredecessorTaskID, next.SuccessorTaskID)
			}
			return err
		}
		previous, updated = current, &next
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrCycle) &&
			!errors.Is(err, store.ErrDependencyNotFound) {
			log.Error("failed to update dependency", "error", err, "dependency_id", id)
		}
		return nil, NewDependencyServiceError("update_dependency", "failed to update dependency", err)
	}

	log.Info("dependency updated",
		"dependency_id", id,
		"predecessor_task_id", updated.PredecessorTaskID,
		"successor_task_id", updated.SuccessorTaskID,
		"dependency_type", updated.Type,
		"lag_days", updated.LagDays)

	s.emitDependencyChanged(ctx, id, events.ActionUpdated,
		previous.PredecessorTaskID, previous.SuccessorTaskID,
		updated.PredecessorTaskID, updated.SuccessorTaskID)
	return updated, nil
}

// DeleteDependency implements DependencyService.DeleteDependency
func (s *dependencyServiceImpl) DeleteDependency(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := tracer.Start(ctx, "DependencyService.DeleteDependency",
		trace.WithAttributes(attribute.String("dependency.id", id.String())))
	defer func() {
		s.observe(opDelete, err)
		finishSpan(span, err)
	}()
	log := logger.FromContextOrDefault(ctx, s.logger)

	edge, err := s.deps.GetByID(ctx, id)
	if err != nil {
		return NewDependencyServiceError("delete_dependency", "failed to load dependency", err)
	}
	if err := s.deps.Delete(ctx, id); err != nil {
		if !errors.Is(err, store.ErrDependencyNotFound) {
			log.Error("failed to delete dependency", "error", err, "dependency_id", id)
		}
		return NewDependencyServiceError("delete_dependency", "failed to delete dependency", err)
	}

	log.Info("dependency deleted",
		"dependency_id", id,
		"predecessor_task_id", edge.PredecessorTaskID,
		"successor_task_id", edge.SuccessorTaskID)

	s.emitDependencyChanged(ctx, id, events.ActionDeleted, edge.PredecessorTaskID, edge.SuccessorTaskID)
	return nil
}

// CanTaskStart implements DependencyService.CanTaskStart
func (s *dependencyServiceImpl) CanTaskStart(ctx context.Context, taskID uuid.UUID) (bool, error) {
	ok, err := dependenciesSatisfied(ctx, s.deps, s.tasks, logger.FromContextOrDefault(ctx, s.logger), taskID)
	if err != nil {
		return false, NewDependencyServiceError("can_task_start", "failed to evaluate dependencies", err)
	}
	return ok, nil
}

// GetBlockedTasks implements DependencyService.GetBlockedTasks
func (s *dependencyServiceImpl) GetBlockedTasks(ctx context.Context, taskID uuid.UUID) ([]*domain.DependencyEdge, error) {
	edges, err := s.deps.ListByPredecessor(ctx, taskID)
	if err != nil {
		return nil, NewDependencyServiceError("get_blocked_tasks", "failed to list blocked tasks", err)
	}
	return edges, nil
}

// GetDependencyChain implements DependencyService.GetDependencyChain
func (s *dependencyServiceImpl) GetDependencyChain(
	ctx context.Context,
	taskID uuid.UUID,
) (_ []domain.ChainEntry, err error) {
	ctx, span := tracer.Start(ctx, "DependencyService.GetDependencyChain",
		trace.WithAttributes(attribute.String("task.id", taskID.String())))
	defer func() { finishSpan(span, err) }()
	log := logger.FromContextOrDefault(ctx, s.logger)

	visits, err := graph.WalkPredecessors(ctx, s.deps, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) {
			log.Error("dependency graph invariant violated",
				"error", err,
				"task_id", taskID,
				"visited", len(visits))
		}
		return nil, NewDependencyServiceError("get_dependency_chain", "failed to walk dependency chain", err)
	}

	chain := make([]domain.ChainEntry, 0, len(visits))
	for _, v := range visits {
		entry := domain.ChainEntry{
			TaskID:         v.TaskID,
			Level:          v.Level,
			DependencyType: v.Edge.Type,
			LagDays:        v.Edge.LagDays,
		}
		task, err := s.tasks.GetByID(ctx, v.TaskID)
		switch {
		case err == nil:
			entry.Title = task.Title
			entry.Status = task.Status
		case errors.Is(err, store.ErrTaskNotFound):
			log.Warn("dependency references a missing task",
				"task_id", v.TaskID,
				"dependency_id", v.Edge.ID)
		default:
			return nil, NewDependencyServiceError("get_dependency_chain", "failed to load task", err)
		}
		chain = append(chain, entry)
	}

	span.SetAttributes(attribute.Int("chain.length", len(chain)))
	return chain, nil
}

// GetDependencyStatistics implements DependencyService.GetDependencyStatistics
// A successor counts as blocked while any of its predecessors is not
// completed; a predecessor that no longer exists counts as not completed.
func (s *dependencyServiceImpl) GetDependencyStatistics(ctx context.Context) (*domain.DependencyStatistics, error) {
	stats, err := s.deps.Statistics(ctx)
	if err != nil {
		return nil, NewDependencyServiceError("get_dependency_statistics", "failed to aggregate dependencies", err)
	}

	edges, err := s.deps.ListAll(ctx)
	if err != nil {
		return nil, NewDependencyServiceError("get_dependency_statistics", "failed to list dependencies", err)
	}

	completed := make(map[uuid.UUID]bool)
	blocked := make(map[uuid.UUID]struct{})
	for _, e := range edges {
		if _, ok := blocked[e.SuccessorTaskID]; ok {
			continue
		}
		done, seen := completed[e.PredecessorTaskID]
		if !seen {
			task, err := s.tasks.GetByID(ctx, e.PredecessorTaskID)
			switch {
			case err == nil:
				done = task.Status == domain.TaskStatusCompleted
			case errors.Is(err, store.ErrTaskNotFound):
				done = false
			default:
				return nil, NewDependencyServiceError("get_dependency_statistics", "failed to load task", err)
			}
			completed[e.PredecessorTaskID] = done
		}
		if !done {
			blocked[e.SuccessorTaskID] = struct{}{}
		}
	}
	stats.BlockedTasks = len(blocked)
	return stats, nil
}

// ValidateDependency implements DependencyService.ValidateDependency
func (s *dependencyServiceImpl) ValidateDependency(ctx context.Context, in DependencyInput) (*ValidationResult, error) {
	result := &ValidationResult{Errors: []string{}, Warnings: []string{}}

	violations := s.inputViolations(in)
	selfLoop := false
	for _, v := range violations {
		if errors.Is(v, domain.ErrSelfDependency) {
			selfLoop = true
		}
	}

	if in.PredecessorTaskID != uuid.Nil && in.SuccessorTaskID != uuid.Nil && !selfLoop {
		more, err := s.graphViolations(ctx, s.deps, s.deps, in.PredecessorTaskID, in.SuccessorTaskID, true)
		if err != nil {
			return nil, NewDependencyServiceError("validate_dependency", "failed to check dependency", err)
		}
		violations = append(violations, more...)
	}

	for _, v := range violations {
		result.Errors = append(result.Errors, v.Error())
	}
	if in.LagDays < 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("negative lag of %d days schedules the successor before the predecessor", in.LagDays))
	}
	result.IsValid = len(result.Errors) == 0
	return result, nil
}

// RemoveTaskDependencies implements DependencyService.RemoveTaskDependencies
func (s *dependencyServiceImpl) RemoveTaskDependencies(ctx context.Context, taskID uuid.UUID) (_ int, err error) {
	ctx, span := tracer.Start(ctx, "DependencyService.RemoveTaskDependencies",
		trace.WithAttributes(attribute.String("task.id", taskID.String())))
	defer func() {
		s.observe(opRemoveTask, err)
		finishSpan(span, err)
	}()
	log := logger.FromContextOrDefault(ctx, s.logger)

	var removed []*domain.DependencyEdge
	var count int
	err = s.deps.WithinGraphLock(ctx, func(ctx context.Context, tx store.DependencyStore) error {
		incoming, err := tx.ListBySuccessor(ctx, taskID)
		if err != nil {
			return err
		}
		outgoing, err := tx.ListByPredecessor(ctx, taskID)
		if err != nil {
			return err
		}
		if count, err = tx.DeleteByTask(ctx, taskID); err != nil {
			return err
		}
		removed = append(incoming, outgoing...)
		return nil
	})
	if err != nil {
		log.Error("failed to remove task dependencies", "error", err, "task_id", taskID)
		return 0, NewDependencyServiceError("remove_task_dependencies", "failed to remove dependencies", err)
	}

	log.Info("task dependencies removed", "task_id", taskID, "removed", count)

	for _, e := range removed {
		other := e.PredecessorTaskID
		if other == taskID {
			other = e.SuccessorTaskID
		}
		s.emitDependencyChanged(ctx, e.ID, events.ActionDeleted, other)
	}
	return count, nil
}

// inputViolations checks the shape of in: required endpoints, a known type
// and distinct endpoints.
func (s *dependencyServiceImpl) inputViolations(in DependencyInput) []error {
	var out []error

	if err := s.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return []error{domain.NewValidationError("", err.Error(), nil)}
		}
		for _, fe := range fieldErrs {
			switch fe.Tag() {
			case "required":
				out = append(out, domain.NewValidationError(fe.Field(), "is required", domain.ErrInvalidID))
			case "oneof":
				out = append(out, domain.NewValidationError(fe.Field(),
					fmt.Sprintf("unknown dependency type %v", fe.Value()), domain.ErrInvalidDependencyType))
			default:
				out = append(out, domain.NewValidationError(fe.Field(),
					fmt.Sprintf("failed %s validation", fe.Tag()), nil))
			}
		}
	}

	if in.PredecessorTaskID != uuid.Nil && in.PredecessorTaskID == in.SuccessorTaskID {
		out = append(out, domain.NewValidationError("successor_task_id",
			"a task cannot depend on itself", domain.ErrSelfDependency))
	}
	return out
}

// graphViolations checks predecessorID -> successorID against the stored
// graph: both tasks exist, the pair is new, and the edge closes no loop.
// Cycle search walks src so updates can hide the edge being moved. Unless
// all is set it stops at the first violation. A non-nil error means a check
// could not run.
func (s *dependencyServiceImpl) graphViolations(
	ctx context.Context,
	deps store.DependencyStore,
	src graph.SuccessorSource,
	predecessorID, successorID uuid.UUID,
	all bool,
) ([]error, error) {
	var out []error

	endpoints := []struct {
		field string
		role  string
		id    uuid.UUID
	}{
		{"predecessor_task_id", "predecessor", predecessorID},
		{"successor_task_id", "successor", successorID},
	}
	for _, end := range endpoints {
		if _, err := s.tasks.GetByID(ctx, end.id); err != nil {
			if !errors.Is(err, store.ErrTaskNotFound) {
				return nil, err
			}
			out = append(out, domain.NewValidationError(end.field,
				fmt.Sprintf("%s task %s not found", end.role, end.id), domain.ErrTaskNotFound))
			if !all {
				return out, nil
			}
		}
	}

	exists, err := deps.Exists(ctx, predecessorID, successorID)
	if err != nil {
		return nil, err
	}
	if exists {
		out = append(out, duplicateError(predecessorID, successorID))
		if !all {
			return out, nil
		}
	}

	if err := graph.CheckEdge(ctx, src, predecessorID, successorID); err != nil {
		var cycleErr *domain.CycleError
		if !errors.As(err, &cycleErr) {
			return nil, err
		}
		out = append(out, cycleErr)
	}
	return out, nil
}

func (s *dependencyServiceImpl) emitDependencyChanged(
	ctx context.Context,
	dependencyID uuid.UUID,
	action string,
	taskIDs ...uuid.UUID,
) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	seen := make(map[uuid.UUID]struct{}, len(taskIDs))
	for _, taskID := range taskIDs {
		if _, dup := seen[taskID]; dup {
			continue
		}
		seen[taskID] = struct{}{}

		event, err := events.NewDependencyChangedEvent(taskID, dependencyID, action)
		if err != nil {
			log.Error("failed to create dependency changed event", "error", err, "task_id", taskID)
			continue
		}
		// The write is already committed; a failing listener must not undo it.
		if err := s.eventEmitter.EmitEvent(ctx, event); err != nil {
			log.Error("failed to emit dependency changed event",
				"error", err,
				"task_id", taskID,
				"event_id", event.ID)
		}
	}
}

func (s *dependencyServiceImpl) observe(operation string, err error) {
	switch {
	case err == nil:
		s.metrics.ObserveDependencyMutation(operation, metrics.OutcomeSuccess)
	case errors.Is(err, domain.ErrCycle):
		s.metrics.ObserveCycleRejection()
		s.metrics.ObserveDependencyMutation(operation, metrics.OutcomeRejected)
	case errors.Is(err, domain.ErrValidation), errors.Is(err, ErrDependencyNotFound):
		s.metrics.ObserveDependencyMutation(operation, metrics.OutcomeRejected)
	default:
		s.metrics.ObserveDependencyMutation(operation, metrics.OutcomeError)
	}
}

func duplicateError(predecessorID, successorID uuid.UUID) error {
	return domain.NewValidationError("successor_task_id",
		fmt.Sprintf("dependency %s -> %s already exists", predecessorID, successorID),
		domain.ErrDuplicateDependency)
}

func newInputValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
