package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
	"github.com/phrazzld/taskdeps/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEdge(t *testing.T, p, s uuid.UUID, depType domain.DependencyType) *domain.DependencyEdge {
	t.Helper()
	e, err := domain.NewDependencyEdge(p, s, depType, 0)
	require.NoError(t, err)
	return e
}

func TestDependencyStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewDependencyStore(nil)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	ab := mustEdge(t, a, b, domain.DependencyFinishToStart)
	require.NoError(t, s.Create(ctx, ab))

	t.Run("duplicate pair rejected", func(t *testing.T) {
		err := s.Create(ctx, mustEdge(t, a, b, domain.DependencyStartToStart))
		assert.ErrorIs(t, err, store.ErrDependencyExists)
	})

	t.Run("invalid edge rejected", func(t *testing.T) {
		err := s.Create(ctx, &domain.DependencyEdge{ID: uuid.New(), PredecessorTaskID: a, SuccessorTaskID: a, Type: domain.DependencyFinishToStart})
		assert.ErrorIs(t, err, domain.ErrSelfDependency)
	})

	t.Run("lookups", func(t *testing.T) {
		got, err := s.GetByID(ctx, ab.ID)
		require.NoError(t, err)
		assert.Equal(t, *ab, *got)

		_, err = s.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrDependencyNotFound)

		exists, err := s.Exists(ctx, a, b)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = s.Exists(ctx, b, a)
		require.NoError(t, err)
		assert.False(t, exists, "existence is directional")

		preds, err := s.ListBySuccessor(ctx, b)
		require.NoError(t, err)
		require.Len(t, preds, 1)
		assert.Equal(t, a, preds[0].PredecessorTaskID)

		blocked, err := s.ListByPredecessor(ctx, c)
		require.NoError(t, err)
		assert.NotNil(t, blocked)
		assert.Empty(t, blocked)
	})

	t.Run("returned edges are copies", func(t *testing.T) {
		got, err := s.GetByID(ctx, ab.ID)
		require.NoError(t, err)
		got.LagDays = 99

		again, err := s.GetByID(ctx, ab.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, again.LagDays)
	})

	t.Run("update", func(t *testing.T) {
		bc := mustEdge(t, b, c, domain.DependencyFinishToStart)
		require.NoError(t, s.Create(ctx, bc))

		moved := *bc
		moved.PredecessorTaskID = a
		moved.SuccessorTaskID = b
		assert.ErrorIs(t, s.Update(ctx, &moved), store.ErrDependencyExists)

		bc.LagDays = 3
		require.NoError(t, s.Update(ctx, bc))
		got, err := s.GetByID(ctx, bc.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.LagDays)

		missing := mustEdge(t, c, a, domain.DependencyFinishToStart)
		assert.ErrorIs(t, s.Update(ctx, missing), store.ErrDependencyNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		assert.ErrorIs(t, s.Delete(ctx, uuid.New()), store.ErrDependencyNotFound)

		removed, err := s.DeleteByTask(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestDependencyStoreStatistics(t *testing.T) {
	ctx := context.Background()
	s := NewDependencyStore(nil)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalDependencies)
	assert.Zero(t, stats.AverageDependenciesPerTask)

	require.NoError(t, s.Create(ctx, mustEdge(t, a, c, domain.DependencyFinishToStart)))
	require.NoError(t, s.Create(ctx, mustEdge(t, b, c, domain.DependencyStartToStart)))
	require.NoError(t, s.Create(ctx, mustEdge(t, a, b, domain.DependencyFinishToStart)))

	stats, err = s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDependencies)
	assert.Equal(t, 2, stats.ByType[domain.DependencyFinishToStart])
	assert.Equal(t, 1, stats.ByType[domain.DependencyStartToStart])
	assert.Equal(t, 2, stats.TasksWithDependencies)
	assert.Equal(t, 1.5, stats.AverageDependenciesPerTask)
}

func TestDependencyStoreWithinGraphLockSerializes(t *testing.T) {
	s := NewDependencyStore(nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = s.WithinGraphLock(context.Background(), func(ctx context.Context, _ store.DependencyStore) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	go func() {
		_ = s.WithinGraphLock(context.Background(), func(ctx context.Context, _ store.DependencyStore) error {
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
		t.Fatal("second unit of work ran while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	// Reads do not wait for the lock.
	_, err := s.ListAll(context.Background())
	require.NoError(t, err)

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second unit of work never ran")
	}
}

func TestTaskStore(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore()

	task, err := domain.NewTask("draft outline")
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, task))

	t.Run("conditional update", func(t *testing.T) {
		changed, err := s.UpdateStatusIf(ctx, task.ID, domain.TaskStatusCompleted, domain.TaskStatusInProgress)
		require.NoError(t, err)
		assert.False(t, changed, "status did not match")

		changed, err = s.UpdateStatusIf(ctx, task.ID, domain.TaskStatusPending, domain.TaskStatusInProgress)
		require.NoError(t, err)
		assert.True(t, changed)

		got, err := s.GetByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusInProgress, got.Status)

		changed, err = s.UpdateStatusIf(ctx, uuid.New(), domain.TaskStatusPending, domain.TaskStatusInProgress)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("list by status", func(t *testing.T) {
		pending, err := s.ListByStatus(ctx, domain.TaskStatusPending)
		require.NoError(t, err)
		assert.Empty(t, pending)

		inProgress, err := s.ListByStatus(ctx, domain.TaskStatusInProgress)
		require.NoError(t, err)
		require.Len(t, inProgress, 1)
		assert.Equal(t, task.ID, inProgress[0].ID)
	})

	t.Run("injected failure", func(t *testing.T) {
		boom := errors.New("disk full")
		s.FailUpdates(boom)
		defer s.FailUpdates(nil)

		_, err := s.UpdateStatusIf(ctx, task.ID, domain.TaskStatusInProgress, domain.TaskStatusCompleted)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("set status and delete", func(t *testing.T) {
		require.NoError(t, s.SetStatus(ctx, task.ID, domain.TaskStatusCompleted))
		assert.ErrorIs(t, s.SetStatus(ctx, task.ID, "done"), domain.ErrValidation)
		assert.ErrorIs(t, s.SetStatus(ctx, uuid.New(), domain.TaskStatusCompleted), store.ErrTaskNotFound)

		require.NoError(t, s.Delete(ctx, task.ID))
		_, err := s.GetByID(ctx, task.ID)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}
