// Package memory provides in-process implementations of the store
// interfaces. They back the engine in tests and in single-process
// embeddings where no database is available.
package memory

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
	"github.com/phrazzld/taskdeps/internal/platform/logger"
	"github.com/phrazzld/taskdeps/internal/store"
)

// DependencyStore keeps edges in a map guarded by a RWMutex. A second mutex
// serializes graph mutations run through WithinGraphLock; plain reads never
// take it.
type DependencyStore struct {
	mu     sync.RWMutex
	edges  map[uuid.UUID]domain.DependencyEdge
	lock   sync.Mutex
	logger *slog.Logger
}

// NewDependencyStore creates an empty store.
func NewDependencyStore(logger *slog.Logger) *DependencyStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DependencyStore{
		edges:  make(map[uuid.UUID]domain.DependencyEdge),
		logger: logger.With(slog.String("component", "memory_dependency_store")),
	}
}

// Ensure DependencyStore implements store.DependencyStore interface
var _ store.DependencyStore = (*DependencyStore)(nil)

// Create implements store.DependencyStore.Create
func (s *DependencyStore) Create(ctx context.Context, edge *domain.DependencyEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.edges[edge.ID]; ok {
		return store.ErrDependencyExists
	}
	for _, e := range s.edges {
		if e.PredecessorTaskID == edge.PredecessorTaskID && e.SuccessorTaskID == edge.SuccessorTaskID {
			return store.ErrDependencyExists
		}
	}
	s.edges[edge.ID] = *edge

	logger.FromContextOrDefault(ctx, s.logger).Debug("dependency stored",
		slog.String("dependency_id", edge.ID.String()))
	return nil
}

// GetByID implements store.DependencyStore.GetByID
func (s *DependencyStore) GetByID(_ context.Context, id uuid.UUID) (*domain.DependencyEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.edges[id]
	if !ok {
		return nil, store.ErrDependencyNotFound
	}
	return &e, nil
}

// ListBySuccessor implements store.DependencyStore.ListBySuccessor
func (s *DependencyStore) ListBySuccessor(_ context.Context, taskID uuid.UUID) ([]*domain.DependencyEdge, error) {
	return s.filter(func(e *domain.DependencyEdge) bool { return e.SuccessorTaskID == taskID }), nil
}

// ListByPredecessor implements store.DependencyStore.ListByPredecessor
func (s *DependencyStore) ListByPredecessor(_ context.Context, taskID uuid.UUID) ([]*domain.DependencyEdge, error) {
	return s.filter(func(e *domain.DependencyEdge) bool { return e.PredecessorTaskID == taskID }), nil
}

// ListAll implements store.DependencyStore.ListAll
func (s *DependencyStore) ListAll(_ context.Context) ([]*domain.DependencyEdge, error) {
	return s.filter(func(*domain.DependencyEdge) bool { return true }), nil
}

// Exists implements store.DependencyStore.Exists
func (s *DependencyStore) Exists(_ context.Context, predecessorID, successorID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.edges {
		if e.PredecessorTaskID == predecessorID && e.SuccessorTaskID == successorID {
			return true, nil
		}
	}
	return false, nil
}

// Update implements store.DependencyStore.Update
func (s *DependencyStore) Update(_ context.Context, edge *domain.DependencyEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.edges[edge.ID]; !ok {
		return store.ErrDependencyNotFound
	}
	for id, e := range s.edges {
		if id != edge.ID &&
			e.PredecessorTaskID == edge.PredecessorTaskID &&
			e.SuccessorTaskID == edge.SuccessorTaskID {
			return store.ErrDependencyExists
		}
	}
	s.edges[edge.ID] = *edge
	return nil
}

// Delete implements store.DependencyStore.Delete
func (s *DependencyStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.edges[id]; !ok {
		return store.ErrDependencyNotFound
	}
	delete(s.edges, id)
	return nil
}

// DeleteByTask implements store.DependencyStore.DeleteByTask
func (s *DependencyStore) DeleteByTask(_ context.Context, taskID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.edges {
		if e.PredecessorTaskID == taskID || e.SuccessorTaskID == taskID {
			delete(s.edges, id)
			removed++
		}
	}
	return removed, nil
}

// Statistics implements store.DependencyStore.Statistics
func (s *DependencyStore) Statistics(_ context.Context) (*domain.DependencyStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.DependencyStatistics{ByType: make(map[domain.DependencyType]int)}
	successors := make(map[uuid.UUID]struct{})
	for _, e := range s.edges {
		stats.TotalDependencies++
		stats.ByType[e.Type]++
		successors[e.SuccessorTaskID] = struct{}{}
	}
	stats.TasksWithDependencies = len(successors)
	if stats.TasksWithDependencies > 0 {
		avg := float64(stats.TotalDependencies) / float64(stats.TasksWithDependencies)
		stats.AverageDependenciesPerTask = math.Round(avg*100) / 100
	}
	return stats, nil
}

// WithinGraphLock implements store.DependencyStore.WithinGraphLock. Writes
// made by fn are applied immediately; there is no rollback, so fn should
// validate before it writes.
func (s *DependencyStore) WithinGraphLock(ctx context.Context, fn store.GraphFn) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return fn(ctx, s)
}

// filter returns copies of the matching edges ordered by creation time.
func (s *DependencyStore) filter(keep func(*domain.DependencyEdge) bool) []*domain.DependencyEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.DependencyEdge, 0)
	for _, e := range s.edges {
		e := e
		if keep(&e) {
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
