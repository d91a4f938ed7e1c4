// Package store defines the persistence interfaces the dependency engine
// depends on: the dependency edge store it owns and the narrow task
// lookup/status-write capability it borrows from the task collaborator.
//
// It also holds the shared error vocabulary (sentinels plus StoreError) and
// the transaction helper used by SQL-backed implementations. Concrete
// implementations live under internal/platform.
package store
