package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
	"github.com/phrazzld/taskdeps/internal/events"
	"github.com/phrazzld/taskdeps/internal/platform/logger"
	"github.com/phrazzld/taskdeps/internal/platform/memory"
	"github.com/phrazzld/taskdeps/internal/platform/metrics"
	"github.com/phrazzld/taskdeps/internal/store"
	"github.com/stretchr/testify/require"
)

// eventRecorder collects every event published on the emitter.
type eventRecorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *eventRecorder) HandleEvent(_ context.Context, event *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) ofType(eventType string) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	deps     *memory.DependencyStore
	tasks    *memory.TaskStore
	recorder *eventRecorder
	metrics  *metrics.Metrics
	logs     *logger.TestLogBuffer

	dependencies DependencyService
	status       StatusService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.NewDependencyStore(nil))
}

func newFixtureWithStore(t *testing.T, deps store.DependencyStore) *fixture {
	t.Helper()

	log, logs := logger.NewTestLogger(t)
	emitter := events.NewInMemoryEventEmitter(log)
	recorder := &eventRecorder{}
	emitter.RegisterHandler(recorder)

	f := &fixture{
		tasks:    memory.NewTaskStore(),
		recorder: recorder,
		metrics:  metrics.New(),
		logs:     logs,
	}
	if m, ok := deps.(*memory.DependencyStore); ok {
		f.deps = m
	}

	var err error
	f.dependencies, err = NewDependencyService(deps, f.tasks, emitter, f.metrics, log)
	require.NoError(t, err)
	f.status, err = NewStatusService(deps, f.tasks, emitter, f.metrics, log)
	require.NoError(t, err)
	return f
}

func (f *fixture) task(t *testing.T, title string) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(title)
	require.NoError(t, err)
	require.NoError(t, f.tasks.Create(context.Background(), task))
	return task
}

func (f *fixture) link(t *testing.T, pred, succ uuid.UUID) *domain.DependencyEdge {
	t.Helper()
	edge, err := f.dependencies.CreateDependency(context.Background(), DependencyInput{
		PredecessorTaskID: pred,
		SuccessorTaskID:   succ,
	})
	require.NoError(t, err)
	return edge
}

func (f *fixture) setStatus(t *testing.T, id uuid.UUID, status domain.TaskStatus) {
	t.Helper()
	require.NoError(t, f.tasks.SetStatus(context.Background(), id, status))
}

func (f *fixture) statusOf(t *testing.T, id uuid.UUID) domain.TaskStatus {
	t.Helper()
	task, err := f.tasks.GetByID(context.Background(), id)
	require.NoError(t, err)
	return task.Status
}

// failingDependencyStore wraps the memory store and fails the operations
// named in failOn with a persistence error.
type failingDependencyStore struct {
	*memory.DependencyStore
	failOn map[string]bool
}

func (s *failingDependencyStore) fail(op string) error {
	if s.failOn[op] {
		return store.NewStoreError("dependency", op, "database operation failed", context.DeadlineExceeded)
	}
	return nil
}

func (s *failingDependencyStore) Create(ctx context.Context, edge *domain.DependencyEdge) error {
	if err := s.fail("create"); err != nil {
		return err
	}
	return s.DependencyStore.Create(ctx, edge)
}

func (s *failingDependencyStore) ListBySuccessor(ctx context.Context, taskID uuid.UUID) ([]*domain.DependencyEdge, error) {
	if err := s.fail("list_by_successor"); err != nil {
		return nil, err
	}
	return s.DependencyStore.ListBySuccessor(ctx, taskID)
}

func (s *failingDependencyStore) WithinGraphLock(ctx context.Context, fn store.GraphFn) error {
	return s.DependencyStore.WithinGraphLock(ctx, func(ctx context.Context, _ store.DependencyStore) error {
		return fn(ctx, s)
	})
}
