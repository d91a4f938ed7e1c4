package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
	"github.com/phrazzld/taskdeps/internal/platform/logger"
	"github.com/phrazzld/taskdeps/internal/redact"
	"github.com/phrazzld/taskdeps/internal/store"
)

// graphLockKey is the advisory lock key that serializes dependency graph
// mutations across all processes sharing the database.
const graphLockKey int64 = 0x7461736b64657073

const dependencyColumns = `id, predecessor_task_id, successor_task_id, dependency_type, lag_days, created_at, updated_at`

// PostgresDependencyStore implements the store.DependencyStore interface
// using a PostgreSQL database as the storage backend.
type PostgresDependencyStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresDependencyStore creates a new PostgreSQL implementation of the DependencyStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresDependencyStore(db store.DBTX, logger *slog.Logger) *PostgresDependencyStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresDependencyStore{
		db:     db,
		logger: logger.With(slog.String("component", "dependency_store")),
	}
}

// Ensure PostgresDependencyStore implements store.DependencyStore interface
var _ store.DependencyStore = (*PostgresDependencyStore)(nil)

// WithTx returns a store that runs every query inside tx.
func (s *PostgresDependencyStore) WithTx(tx *sql.Tx) *PostgresDependencyStore {
	return &PostgresDependencyStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.DependencyStore.Create
// Returns store.ErrDependencyExists if the pair is already stored.
func (s *PostgresDependencyStore) Create(ctx context.Context, edge *domain.DependencyEdge) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := edge.Validate(); err != nil {
		log.Warn("dependency validation failed during create",
			slog.String("error", redact.Error(err)),
			slog.String("dependency_id", edge.ID.String()))
		return err
	}

	query := `
		INSERT INTO task_dependencies (` + dependencyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		edge.ID,
		edge.PredecessorTaskID,
		edge.SuccessorTaskID,
		string(edge.Type),
		edge.LagDays,
		edge.CreatedAt,
		edge.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Debug("dependency pair already exists",
				slog.String("predecessor_task_id", edge.PredecessorTaskID.String()),
				slog.String("successor_task_id", edge.SuccessorTaskID.String()))
			return store.ErrDependencyExists
		}
		log.Error("failed to create dependency",
			slog.String("error", redact.Error(err)),
			slog.String("dependency_id", edge.ID.String()))
		return MapError("dependency", "create", err)
	}

	log.Info("dependency created successfully",
		slog.String("dependency_id", edge.ID.String()),
		slog.String("predecessor_task_id", edge.PredecessorTaskID.String()),
		slog.String("successor_task_id", edge.SuccessorTaskID.String()),
		slog.String("dependency_type", string(edge.Type)))
	return nil
}

// GetByID implements store.DependencyStore.GetByID
// Returns store.ErrDependencyNotFound if the edge does not exist.
func (s *PostgresDependencyStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.DependencyEdge, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + dependencyColumns + ` FROM task_dependencies WHERE id = $1`

	edge, err := scanDependency(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("dependency not found", slog.String("dependency_id", id.String()))
			return nil, store.ErrDependencyNotFound
		}
		log.Error("failed to get dependency by ID",
			slog.String("error", redact.Error(err)),
			slog.String("dependency_id", id.String()))
		return nil, MapError("dependency", "get", err)
	}
	return edge, nil
}

// ListBySuccessor implements store.DependencyStore.ListBySuccessor
func (s *PostgresDependencyStore) ListBySuccessor(ctx context.Context, taskID uuid.UUID) ([]*domain.DependencyEdge, error) {
	return s.list(ctx, "list_by_successor",
		`SELECT `+dependencyColumns+` FROM task_dependencies
		WHERE successor_task_id = $1
		ORDER BY created_at, id`, taskID)
}

// ListByPredecessor implements store.DependencyStore.ListByPredecessor
func (s *PostgresDependencyStore) ListByPredecessor(ctx context.Context, taskID uuid.UUID) ([]*domain.DependencyEdge, error) {
	return s.list(ctx, "list_by_predecessor",
		`SELECT `+dependencyColumns+` FROM task_dependencies
		WHERE predecessor_task_id = $1
		ORDER BY created_at, id`, taskID)
}

// ListAll implements store.DependencyStore.ListAll
func (s *PostgresDependencyStore) ListAll(ctx context.Context) ([]*domain.DependencyEdge, error) {
	return s.list(ctx, "list_all",
		`SELECT `+dependencyColumns+` FROM task_dependencies ORDER BY created_at, id`)
}

// Exists implements store.DependencyStore.Exists
func (s *PostgresDependencyStore) Exists(ctx context.Context, predecessorID, successorID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM task_dependencies
			WHERE predecessor_task_id = $1 AND successor_task_id = $2
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, predecessorID, successorID).Scan(&exists); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to check dependency existence",
			slog.String("error", redact.Error(err)),
			slog.String("predecessor_task_id", predecessorID.String()),
			slog.String("successor_task_id", successorID.String()))
		return false, MapError("dependency", "exists", err)
	}
	return exists, nil
}

// Update implements store.DependencyStore.Update
// Returns store.ErrDependencyNotFound if the edge does not exist.
func (s *PostgresDependencyStore) Update(ctx context.Context, edge *domain.DependencyEdge) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := edge.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE task_dependencies
		SET predecessor_task_id = $1, successor_task_id = $2, dependency_type = $3,
			lag_days = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := s.db.ExecContext(ctx, query,
		edge.PredecessorTaskID,
		edge.SuccessorTaskID,
		string(edge.Type),
		edge.LagDays,
		edge.UpdatedAt,
		edge.ID,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return store.ErrDependencyExists
		}
		log.Error("failed to update dependency",
			slog.String("error", redact.Error(err)),
			slog.String("dependency_id", edge.ID.String()))
		return MapError("dependency", "update", err)
	}

	if err := CheckRowsAffected(result, store.ErrDependencyNotFound); err != nil {
		log.Debug("dependency not found for update", slog.String("dependency_id", edge.ID.String()))
		return err
	}

	log.Info("dependency updated successfully", slog.String("dependency_id", edge.ID.String()))
	return nil
}

// Delete implements store.DependencyStore.Delete
// Returns store.ErrDependencyNotFound if the edge does not exist.
func (s *PostgresDependencyStore) Delete(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `DELETE FROM task_dependencies WHERE id = $1`, id)
	if err != nil {
		log.Error("failed to delete dependency",
			slog.String("error", redact.Error(err)),
			slog.String("dependency_id", id.String()))
		return MapError("dependency", "delete", err)
	}

	if err := CheckRowsAffected(result, store.ErrDependencyNotFound); err != nil {
		return err
	}

	log.Info("dependency deleted successfully", slog.String("dependency_id", id.String()))
	return nil
}

// DeleteByTask implements store.DependencyStore.DeleteByTask
func (s *PostgresDependencyStore) DeleteByTask(ctx context.Context, taskID uuid.UUID) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM task_dependencies WHERE predecessor_task_id = $1 OR successor_task_id = $1`,
		taskID)
	if err != nil {
		log.Error("failed to delete dependencies for task",
			slog.String("error", redact.Error(err)),
			slog.String("task_id", taskID.String()))
		return 0, MapError("dependency", "delete_by_task", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, MapError("dependency", "delete_by_task", err)
	}

	log.Info("dependencies removed for task",
		slog.String("task_id", taskID.String()),
		slog.Int64("removed", n))
	return int(n), nil
}

// Statistics implements store.DependencyStore.Statistics
func (s *PostgresDependencyStore) Statistics(ctx context.Context) (*domain.DependencyStatistics, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, `
		SELECT dependency_type, COUNT(*)
		FROM task_dependencies
		GROUP BY dependency_type
	`)
	if err != nil {
		log.Error("failed to count dependencies by type", slog.String("error", redact.Error(err)))
		return nil, MapError("dependency", "statistics", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &domain.DependencyStatistics{ByType: make(map[domain.DependencyType]int)}
	for rows.Next() {
		var depType string
		var count int
		if err := rows.Scan(&depType, &count); err != nil {
			return nil, MapError("dependency", "statistics", err)
		}
		stats.ByType[domain.DependencyType(depType)] = count
		stats.TotalDependencies += count
	}
	if err := rows.Err(); err != nil {
		return nil, MapError("dependency", "statistics", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT successor_task_id) FROM task_dependencies`,
	).Scan(&stats.TasksWithDependencies)
	if err != nil {
		log.Error("failed to count tasks with dependencies", slog.String("error", redact.Error(err)))
		return nil, MapError("dependency", "statistics", err)
	}

	if stats.TasksWithDependencies > 0 {
		avg := float64(stats.TotalDependencies) / float64(stats.TasksWithDependencies)
		stats.AverageDependenciesPerTask = math.Round(avg*100) / 100
	}
	return stats, nil
}

// WithinGraphLock implements store.DependencyStore.WithinGraphLock.
// On a pooled connection it opens a transaction; on a store already bound to
// a transaction it joins it. Either way the transaction takes the graph
// advisory lock first, which Postgres releases at commit or rollback.
func (s *PostgresDependencyStore) WithinGraphLock(ctx context.Context, fn store.GraphFn) error {
	switch db := s.db.(type) {
	case *sql.Tx:
		if err := s.lockGraph(ctx, db); err != nil {
			return err
		}
		return fn(ctx, s)
	case *sql.DB:
		return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			if err := s.lockGraph(ctx, tx); err != nil {
				return err
			}
			return fn(ctx, s.WithTx(tx))
		})
	default:
		return store.NewStoreError("dependency", "lock",
			"graph lock requires a *sql.DB or *sql.Tx", nil)
	}
}

func (s *PostgresDependencyStore) lockGraph(ctx context.Context, tx store.DBTX) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, graphLockKey); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to acquire graph lock",
			slog.String("error", redact.Error(err)))
		return MapError("dependency", "lock", err)
	}
	return nil
}

func (s *PostgresDependencyStore) list(
	ctx context.Context,
	operation, query string,
	args ...any,
) ([]*domain.DependencyEdge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to query dependencies",
			slog.String("error", redact.Error(err)),
			slog.String("operation", operation))
		return nil, MapError("dependency", operation, err)
	}
	defer func() { _ = rows.Close() }()

	edges := make([]*domain.DependencyEdge, 0)
	for rows.Next() {
		edge, err := scanDependency(rows)
		if err != nil {
			return nil, MapError("dependency", operation, err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError("dependency", operation, err)
	}
	return edges, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDependency(row rowScanner) (*domain.DependencyEdge, error) {
	var edge domain.DependencyEdge
	var depType string
	err := row.Scan(
		&edge.ID,
		&edge.PredecessorTaskID,
		&edge.SuccessorTaskID,
		&depType,
		&edge.LagDays,
		&edge.CreatedAt,
		&edge.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	edge.Type = domain.DependencyType(depType)
	return &edge, nil
}
