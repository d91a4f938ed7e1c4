package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
	"github.com/phrazzld/taskdeps/internal/store"
)

// TaskStore is an in-memory stand-in for the task collaborator.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]domain.Task
	// failUpdates, when set, is returned by UpdateStatusIf.
	failUpdates error
}

// NewTaskStore creates an empty task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[uuid.UUID]domain.Task)}
}

// Ensure TaskStore implements store.TaskStore interface
var _ store.TaskStore = (*TaskStore)(nil)

// Create adds a task, replacing any task with the same ID.
func (s *TaskStore) Create(_ context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = *task
	return nil
}

// Delete removes a task. Edges that still reference it are left alone.
func (s *TaskStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return store.ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

// SetStatus unconditionally changes a task's status, as the task
// collaborator does when a user completes or cancels a task.
func (s *TaskStore) SetStatus(_ context.Context, id uuid.UUID, status domain.TaskStatus) error {
	if !status.IsValid() {
		return domain.NewValidationError("status", "unknown status "+string(status), domain.ErrInvalidTaskStatus)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	s.tasks[id] = t
	return nil
}

// FailUpdates makes every later UpdateStatusIf call return err (nil clears it).
func (s *TaskStore) FailUpdates(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpdates = err
}

// GetByID implements store.TaskStore.GetByID
func (s *TaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return &t, nil
}

// ListByStatus implements store.TaskStore.ListByStatus
func (s *TaskStore) ListByStatus(_ context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Task, 0)
	for _, t := range s.tasks {
		t := t
		if t.Status == status {
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateStatusIf implements store.TaskStore.UpdateStatusIf
func (s *TaskStore) UpdateStatusIf(_ context.Context, id uuid.UUID, from, to domain.TaskStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failUpdates != nil {
		return false, s.failUpdates
	}
	t, ok := s.tasks[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	s.tasks[id] = t
	return true, nil
}
