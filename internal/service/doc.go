// Package service contains the dependency engine's use cases. It
// orchestrates the dependency store, the task collaborator and the graph
// algorithms in internal/domain/graph.
//
// Key components:
//
// 1. DependencyService:
//   - Creates, updates and deletes edges. Every graph mutation runs inside
//     store.DependencyStore.WithinGraphLock, so validation, the cycle check
//     and the write are atomic with respect to other mutations.
//   - Answers readiness questions (CanTaskStart) and reports chains,
//     blocked tasks and statistics.
//
// 2. StatusService:
//   - Promotes pending tasks to in_progress once their dependencies are
//     satisfied, using a conditional status write so a task is promoted at
//     most once.
//   - Sweeps all pending tasks on demand; concurrent sweeps are collapsed.
//
// 3. Error Handling:
//   - Rule violations are *domain.ValidationError or *domain.CycleError.
//   - Missing entities map to ErrDependencyNotFound / ErrTaskNotFound.
//   - Persistence failures are wrapped in *DependencyServiceError; see IsRetryable.
//
// Services depend on the store interfaces only, never on a specific backend.
package service
