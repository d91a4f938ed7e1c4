package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdeps/internal/domain"
)

// Event types emitted by the dependency engine.
const (
	// TypeTaskStatusChanged is emitted after the engine promotes a task.
	TypeTaskStatusChanged = "task_status_changed"

	// TypeDependencyChanged is emitted once per affected task after an edge
	// is created, updated or deleted.
	TypeDependencyChanged = "dependency_changed"
)

// ReasonDependenciesCompleted is the reason recorded when a task is promoted
// because all of its predecessors are satisfied.
const ReasonDependenciesCompleted = "dependencies_completed"

// Dependency change actions carried in DependencyChangedPayload.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// Event is a notification published by the engine for cache invalidation
// and notification listeners.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the Type* constants
	Type string `json:"type"`

	// TaskID is the task the event concerns
	TaskID uuid.UUID `json:"task_id"`

	// Payload contains the type-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// StatusChangedPayload is the payload of TypeTaskStatusChanged.
type StatusChangedPayload struct {
	TaskID    uuid.UUID         `json:"task_id"`
	OldStatus domain.TaskStatus `json:"old_status"`
	NewStatus domain.TaskStatus `json:"new_status"`
	Reason    string            `json:"reason"`
}

// DependencyChangedPayload is the payload of TypeDependencyChanged.
type DependencyChangedPayload struct {
	Event        string    `json:"event"`
	TaskID       uuid.UUID `json:"task_id"`
	DependencyID uuid.UUID `json:"dependency_id"`
	Action       string    `json:"action"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// NewEvent creates a new Event of the given type for taskID.
func NewEvent(eventType string, taskID uuid.UUID, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		TaskID:    taskID,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NewStatusChangedEvent builds the event emitted after a promotion.
func NewStatusChangedEvent(taskID uuid.UUID, oldStatus, newStatus domain.TaskStatus, reason string) (*Event, error) {
	return NewEvent(TypeTaskStatusChanged, taskID, StatusChangedPayload{
		TaskID:    taskID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Reason:    reason,
	})
}

// NewDependencyChangedEvent builds the event emitted for one endpoint of a
// changed edge.
func NewDependencyChangedEvent(taskID, dependencyID uuid.UUID, action string) (*Event, error) {
	return NewEvent(TypeDependencyChanged, taskID, DependencyChangedPayload{
		Event:        TypeDependencyChanged,
		TaskID:       taskID,
		DependencyID: dependencyID,
		Action:       action,
	})
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts an ordinary function to EventHandler.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *Event) error
}
