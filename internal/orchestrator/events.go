// Package orchestrator drives batches: it schedules frontier tasks onto
// agents, feeds the durable queue, applies failure policies, and settles
// batch status from task outcomes.
package orchestrator

import (
	"time"

	"github.com/orchestra-core/orchestra/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskQueued indicates a task entered the batch in the queued state.
	EventTaskQueued EventType = "task_queued"
	// EventTaskAssigned indicates an agent was reserved for a task.
	EventTaskAssigned EventType = "task_assigned"
	// EventTaskStarted indicates a task began executing on its agent.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task reached the failed state.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates a task was cancelled before completing.
	EventTaskCancelled EventType = "task_cancelled"
	// EventTaskRetried indicates a failed attempt was re-queued for retry.
	EventTaskRetried EventType = "task_retried"
	// EventBatchDone indicates every task in the batch reached a terminal
	// state and the batch status was derived.
	EventBatchDone EventType = "batch_done"
)

// Event represents a state change emitted by a batch executor.
// Subscribers (CLI status streams, logging) receive these on the pool's
// aggregated event channel.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// BatchID is the batch the event belongs to.
	BatchID string
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// AgentID is the ID of the related agent, if applicable.
	AgentID string
	// Attempt is the attempt number for task-level events.
	Attempt int
	// BatchStatus carries the derived status for batch_done events.
	BatchStatus models.BatchStatus
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
