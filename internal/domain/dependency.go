package domain

import (
	"time"

	"github.com/google/uuid"
)

// DependencyType selects how a predecessor constrains its successor.
type DependencyType string

// Supported dependency types
const (
	DependencyFinishToStart  DependencyType = "finish_to_start"
	DependencyStartToStart   DependencyType = "start_to_start"
	DependencyFinishToFinish DependencyType = "finish_to_finish"
	DependencyStartToFinish  DependencyType = "start_to_finish"
)

// DependencyTypes lists every supported type in a stable order.
var DependencyTypes = []DependencyType{
	DependencyFinishToStart,
	DependencyStartToStart,
	DependencyFinishToFinish,
	DependencyStartToFinish,
}

// IsValid reports whether t is a supported dependency type.
func (t DependencyType) IsValid() bool {
	switch t {
	case DependencyFinishToStart, DependencyStartToStart,
		DependencyFinishToFinish, DependencyStartToFinish:
		return true
	}
	return false
}

func (t DependencyType) String() string {
	return string(t)
}

// IsSatisfiedBy reports whether an edge of this type no longer blocks its
// successor, given the predecessor's current status.
//
// Only finish_to_start is evaluated. The remaining types are accepted and
// stored but do not gate anything yet; each has its own branch so adding
// real semantics touches exactly one case.
func (t DependencyType) IsSatisfiedBy(predecessor TaskStatus) bool {
	switch t {
	case DependencyFinishToStart:
		return predecessor == TaskStatusCompleted
	case DependencyStartToStart:
		// not yet evaluated: always satisfied
		return true
	case DependencyFinishToFinish:
		// not yet evaluated: always satisfied
		return true
	case DependencyStartToFinish:
		// not yet evaluated: always satisfied
		return true
	}
	// Unknown types never reach the store; treat them as blocking.
	return false
}

// DependencyEdge is a directed precedence relation between two tasks. It is
// owned by neither task.
type DependencyEdge struct {
	ID                uuid.UUID      `json:"id"`
	PredecessorTaskID uuid.UUID      `json:"predecessor_task_id"`
	SuccessorTaskID   uuid.UUID      `json:"successor_task_id"`
	Type              DependencyType `json:"dependency_type"`
	LagDays           int            `json:"lag_days"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// NewDependencyEdge builds a validated edge with a fresh ID and timestamps.
// An empty depType defaults to finish_to_start.
func NewDependencyEdge(
	predecessorID, successorID uuid.UUID,
	depType DependencyType,
	lagDays int,
) (*DependencyEdge, error) {
	if depType == "" {
		depType = DependencyFinishToStart
	}

	now := time.Now().UTC()
	edge := &DependencyEdge{
		ID:                uuid.New(),
		PredecessorTaskID: predecessorID,
		SuccessorTaskID:   successorID,
		Type:              depType,
		LagDays:           lagDays,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := edge.Validate(); err != nil {
		return nil, err
	}
	return edge, nil
}

// Validate checks the edge's local shape. Graph-level rules (duplicates,
// cycles, task existence) need the store and live in the service layer.
func (e *DependencyEdge) Validate() error {
	if e.ID == uuid.Nil {
		return NewValidationError("id", "dependency ID cannot be empty", ErrInvalidID)
	}
	if e.PredecessorTaskID == uuid.Nil {
		return NewValidationError("predecessor_task_id", "predecessor task is required", ErrInvalidID)
	}
	if e.SuccessorTaskID == uuid.Nil {
		return NewValidationError("successor_task_id", "successor task is required", ErrInvalidID)
	}
	if e.PredecessorTaskID == e.SuccessorTaskID {
		return NewValidationError("successor_task_id", "a task cannot depend on itself", ErrSelfDependency)
	}
	if !e.Type.IsValid() {
		return NewValidationError(
			"dependency_type",
			"unknown dependency type "+string(e.Type),
			ErrInvalidDependencyType,
		)
	}
	return nil
}

// EndpointsDiffer reports whether the given pair differs from the edge's endpoints.
func (e *DependencyEdge) EndpointsDiffer(predecessorID, successorID uuid.UUID) bool {
	return e.PredecessorTaskID != predecessorID || e.SuccessorTaskID != successorID
}

// DependencyStatistics summarizes the whole edge set.
type DependencyStatistics struct {
	TotalDependencies          int                    `json:"total_dependencies"`
	ByType                     map[DependencyType]int `json:"by_type"`
	TasksWithDependencies      int                    `json:"tasks_with_dependencies"`
	AverageDependenciesPerTask float64                `json:"average_dependencies_per_task"`
	BlockedTasks               int                    `json:"blocked_tasks"`
}

// ChainEntry is one transitive predecessor in a dependency chain. Level 1
// is a direct predecessor of the chain's root.
type ChainEntry struct {
	TaskID         uuid.UUID      `json:"task_id"`
	Title          string         `json:"title"`
	Status         TaskStatus     `json:"status"`
	Level          int            `json:"level"`
	DependencyType DependencyType `json:"dependency_type"`
	LagDays        int            `json:"lag_days"`
}
