package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
	"github.com/phrazzld/taskdeps/internal/events"
	"github.com/phrazzld/taskdeps/internal/platform/memory"
	"github.com/phrazzld/taskdeps/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusService_EndToEndPromotion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	t1, _, t3 := f.task(t, "1"), f.task(t, "2"), f.task(t, "3")
	f.link(t, t1.ID, t3.ID)

	ok, err := f.dependencies.CanTaskStart(ctx, t3.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, f.status.CheckAndUpdateTaskStatus(ctx, t3.ID))
	assert.Equal(t, domain.TaskStatusPending, f.statusOf(t, t3.ID))

	f.setStatus(t, t1.ID, domain.TaskStatusCompleted)

	assert.True(t, f.status.CheckAndUpdateTaskStatus(ctx, t3.ID))
	assert.Equal(t, domain.TaskStatusInProgress, f.statusOf(t, t3.ID))

	changed := f.recorder.ofType(events.TypeTaskStatusChanged)
	require.Len(t, changed, 1)
	var payload events.StatusChangedPayload
	require.NoError(t, changed[0].UnmarshalPayload(&payload))
	assert.Equal(t, events.StatusChangedPayload{
		TaskID:    t3.ID,
		OldStatus: domain.TaskStatusPending,
		NewStatus: domain.TaskStatusInProgress,
		Reason:    events.ReasonDependenciesCompleted,
	}, payload)
}

func TestCheckAndUpdateTaskStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("second call is a no-op", func(t *testing.T) {
		f := newFixture(t)
		task := f.task(t, "solo")

		assert.True(t, f.status.CheckAndUpdateTaskStatus(ctx, task.ID))
		assert.False(t, f.status.CheckAndUpdateTaskStatus(ctx, task.ID))
		assert.Len(t, f.recorder.ofType(events.TypeTaskStatusChanged), 1)
	})

	t.Run("concurrent callers promote once", func(t *testing.T) {
		f := newFixture(t)
		task := f.task(t, "contended")

		var promoted int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if f.status.CheckAndUpdateTaskStatus(ctx, task.ID) {
					atomic.AddInt32(&promoted, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), promoted)
		assert.Len(t, f.recorder.ofType(events.TypeTaskStatusChanged), 1)
	})

	t.Run("non-pending tasks are left alone", func(t *testing.T) {
		f := newFixture(t)
		for _, status := range []domain.TaskStatus{
			domain.TaskStatusInProgress, domain.TaskStatusCompleted, domain.TaskStatusCancelled,
		} {
			task := f.task(t, string(status))
			f.setStatus(t, task.ID, status)

			assert.False(t, f.status.CheckAndUpdateTaskStatus(ctx, task.ID))
			assert.Equal(t, status, f.statusOf(t, task.ID))
		}
	})

	t.Run("missing task", func(t *testing.T) {
		f := newFixture(t)
		assert.False(t, f.status.CheckAndUpdateTaskStatus(ctx, uuid.New()))
	})

	t.Run("persistence failure reports false", func(t *testing.T) {
		f := newFixture(t)
		task := f.task(t, "doomed")
		f.tasks.FailUpdates(errors.New("disk full"))

		assert.False(t, f.status.CheckAndUpdateTaskStatus(ctx, task.ID))
		assert.Equal(t, domain.TaskStatusPending, f.statusOf(t, task.ID))
		assert.NotEmpty(t, f.logs.EntriesWithMessage(t, "failed to promote task"))
		assert.Empty(t, f.recorder.ofType(events.TypeTaskStatusChanged))
	})

	t.Run("dependency lookup failure reports false", func(t *testing.T) {
		failing := &failingDependencyStore{
			DependencyStore: memory.NewDependencyStore(nil),
			failOn:          map[string]bool{"list_by_successor": true},
		}
		f := newFixtureWithStore(t, failing)
		task := f.task(t, "unknown deps")

		assert.False(t, f.status.CheckAndUpdateTaskStatus(ctx, task.ID))
		assert.Equal(t, domain.TaskStatusPending, f.statusOf(t, task.ID))
	})
}

func TestCanTaskBeCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.task(t, "a"), f.task(t, "b")
	f.link(t, a.ID, b.ID)

	ok, err := f.status.CanTaskBeCompleted(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	f.setStatus(t, a.ID, domain.TaskStatusCompleted)
	ok, err = f.status.CanTaskBeCompleted(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	canStart, err := f.dependencies.CanTaskStart(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, canStart, ok)
}

func TestGetTasksReadyToStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b, c := f.task(t, "a"), f.task(t, "b"), f.task(t, "c")
	f.link(t, a.ID, b.ID)
	f.link(t, b.ID, c.ID)

	ready, err := f.status.GetTasksReadyToStart(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, a.ID, ready[0].ID)

	f.setStatus(t, a.ID, domain.TaskStatusCompleted)
	ready, err = f.status.GetTasksReadyToStart(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, b.ID, ready[0].ID)
}

func TestProcessPendingTasks(t *testing.T) {
	ctx := context.Background()

	t.Run("promotes every ready task", func(t *testing.T) {
		f := newFixture(t)
		a, b, c := f.task(t, "a"), f.task(t, "b"), f.task(t, "c")
		d := f.task(t, "d")
		f.link(t, a.ID, b.ID)
		f.link(t, a.ID, c.ID)
		f.setStatus(t, a.ID, domain.TaskStatusCompleted)

		promoted, err := f.status.ProcessPendingTasks(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, promoted) // b, c and the unconstrained d
		for _, id := range []uuid.UUID{b.ID, c.ID, d.ID} {
			assert.Equal(t, domain.TaskStatusInProgress, f.statusOf(t, id))
		}

		promoted, err = f.status.ProcessPendingTasks(ctx)
		require.NoError(t, err)
		assert.Zero(t, promoted)
	})

	t.Run("per-task failures are absorbed", func(t *testing.T) {
		f := newFixture(t)
		f.task(t, "x")
		f.task(t, "y")
		f.tasks.FailUpdates(errors.New("read-only replica"))

		promoted, err := f.status.ProcessPendingTasks(ctx)
		require.NoError(t, err)
		assert.Zero(t, promoted)
	})

	t.Run("canceled context stops the sweep", func(t *testing.T) {
		f := newFixture(t)
		f.task(t, "x")
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := f.status.ProcessPendingTasks(canceled)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("concurrent sweeps share one run", func(t *testing.T) {
		gate := &gatedTaskStore{TaskStore: memory.NewTaskStore(), release: make(chan struct{})}
		deps := memory.NewDependencyStore(nil)
		svc, err := NewStatusService(deps, gate, events.NewInMemoryEventEmitter(nil), nil, nil)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			task, err := domain.NewTask("t")
			require.NoError(t, err)
			require.NoError(t, gate.Create(ctx, task))
		}

		results := make(chan int, 2)
		for i := 0; i < 2; i++ {
			go func() {
				n, err := svc.ProcessPendingTasks(ctx)
				assert.NoError(t, err)
				results <- n
			}()
		}

		// Let both callers reach the single-flight group before the sweep
		// is allowed to list tasks.
		require.Eventually(t, func() bool { return atomic.LoadInt32(&gate.listCalls) == 1 },
			time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		close(gate.release)

		assert.Equal(t, 3, <-results)
		assert.Equal(t, 3, <-results)
		assert.Equal(t, int32(1), atomic.LoadInt32(&gate.listCalls))
	})
}

// gatedTaskStore blocks ListByStatus until release is closed.
type gatedTaskStore struct {
	*memory.TaskStore
	release   chan struct{}
	listCalls int32
}

func (s *gatedTaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	atomic.AddInt32(&s.listCalls, 1)
	<-s.release
	return s.TaskStore.ListByStatus(ctx, status)
}

var _ store.TaskStore = (*gatedTaskStore)(nil)
