package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
	"github.com/phrazzld/taskdeps/internal/platform/logger"
	"github.com/phrazzld/taskdeps/internal/redact"
	"github.com/phrazzld/taskdeps/internal/store"
)

const taskColumns = `id, title, status, deadline, created_at, updated_at`

// PostgresTaskStore implements store.TaskStore over the tasks table.
// Create, SetStatus and Delete are there for the task collaborator and for
// tests; the dependency engine only reads and performs guarded status writes.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx returns a store that runs every query inside tx.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) *PostgresTaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create inserts a task.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	var deadline sql.NullTime
	if task.Deadline != nil {
		deadline = sql.NullTime{Time: *task.Deadline, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Title,
		string(task.Status),
		deadline,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create task",
			slog.String("error", redact.Error(err)),
			slog.String("task_id", task.ID.String()))
		return MapError("task", "create", err)
	}

	log.Debug("task created", slog.String("task_id", task.ID.String()))
	return nil
}

// GetByID implements store.TaskStore.GetByID
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get task by ID",
			slog.String("error", redact.Error(err)),
			slog.String("task_id", id.String()))
		return nil, MapError("task", "get", err)
	}
	return task, nil
}

// ListByStatus implements store.TaskStore.ListByStatus
func (s *PostgresTaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = $1
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		log.Error("failed to query tasks by status",
			slog.String("error", redact.Error(err)),
			slog.String("status", string(status)))
		return nil, MapError("task", "list_by_status", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, MapError("task", "list_by_status", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError("task", "list_by_status", err)
	}
	return tasks, nil
}

// UpdateStatusIf implements store.TaskStore.UpdateStatusIf
// The status predicate in the WHERE clause makes the write a compare-and-set,
// so concurrent callers promote a task at most once.
func (s *PostgresTaskStore) UpdateStatusIf(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.TaskStatus,
) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	result, err := s.db.ExecContext(ctx, query, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		log.Error("failed to update task status",
			slog.String("error", redact.Error(err)),
			slog.String("task_id", id.String()),
			slog.String("from", string(from)),
			slog.String("to", string(to)))
		return false, MapError("task", "update_status", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, MapError("task", "update_status", err)
	}
	return n > 0, nil
}

// SetStatus unconditionally changes a task's status.
func (s *PostgresTaskStore) SetStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus) error {
	if !status.IsValid() {
		return domain.NewValidationError("status", "unknown status "+string(status), domain.ErrInvalidTaskStatus)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return MapError("task", "set_status", err)
	}
	return CheckRowsAffected(result, store.ErrTaskNotFound)
}

// Delete removes a task row. Dependency edges are not touched; callers that
// want them gone use the dependency service's RemoveTaskDependencies.
func (s *PostgresTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return MapError("task", "delete", err)
	}
	return CheckRowsAffected(result, store.ErrTaskNotFound)
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var status string
	var deadline sql.NullTime
	err := row.Scan(
		&task.ID,
		&task.Title,
		&status,
		&deadline,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Status = domain.TaskStatus(status)
	if deadline.Valid {
		d := deadline.Time
		task.Deadline = &d
	}
	return &task, nil
}
