// Package postgres provides the PostgreSQL implementations of the store
// interfaces: dependency edges in task_dependencies and the task collaborator
// view over tasks. Graph mutations are serialized with a transaction-scoped
// advisory lock. The schema ships as embedded goose migrations (see Migrate).
package postgres
