package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting for its dependencies and an agent.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusAssigned indicates an agent has been reserved for the task.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusRunning indicates the task is executing on its agent.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task finished with an error.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before completing.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusAssigned, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal transition.
// The machine is queued -> assigned -> running -> completed|failed, with
// cancelled reachable from any pre-terminal state and running -> queued
// allowed for retries.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == TaskStatusCancelled {
		return true
	}
	switch s {
	case TaskStatusQueued:
		return next == TaskStatusAssigned
	case TaskStatusAssigned:
		return next == TaskStatusRunning
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed || next == TaskStatusQueued
	default:
		return false
	}
}

// Task represents a unit of work in the system.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// BatchID is the ID of the batch that owns this task.
	BatchID string `json:"batch_id"`
	// Payload is the opaque command or parameters handed to the connector.
	Payload string `json:"payload"`
	// Capability is the connector capability required to run this task.
	Capability string `json:"capability"`
	// Priority orders frontier tasks; higher runs first.
	Priority int `json:"priority"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// AssignedTo is the ID of the agent working on this task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// Attempt is the current attempt number, starting at 1.
	Attempt int `json:"attempt"`
	// Timeout overrides the batch task timeout when non-zero.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Result is the terminal outcome of the task, if any.
	Result *ResultEnvelope `json:"result,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task began running, if it has.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// FinishedAt is when the task reached a terminal state, if it has.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Transition moves the task to the given status, stamping start/finish times.
// Returns false without mutating the task if the transition is illegal.
func (t *Task) Transition(next TaskStatus) bool {
	if !t.Status.CanTransition(next) {
		return false
	}
	now := time.Now()
	switch next {
	case TaskStatusRunning:
		t.StartedAt = &now
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		t.FinishedAt = &now
	case TaskStatusQueued:
		// Retry path: clear the agent reservation, keep dependency state.
		t.AssignedTo = ""
		t.StartedAt = nil
	}
	t.Status = next
	return true
}
