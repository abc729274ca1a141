package models

import "time"

// BatchStatus represents the derived state of a batch.
type BatchStatus string

const (
	// BatchStatusPending indicates the batch still has non-terminal tasks.
	BatchStatusPending BatchStatus = "pending"
	// BatchStatusCompleted indicates every task in the batch completed.
	BatchStatusCompleted BatchStatus = "completed"
	// BatchStatusFailed indicates fail-fast triggered or every branch failed.
	BatchStatusFailed BatchStatus = "failed"
	// BatchStatusPartiallyFailed indicates a best-effort run finished with a
	// mix of completed and failed or cancelled tasks.
	BatchStatusPartiallyFailed BatchStatus = "partially_failed"
)

// Valid returns true if the status is a known value.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusPending, BatchStatusCompleted, BatchStatusFailed, BatchStatusPartiallyFailed:
		return true
	default:
		return false
	}
}

// FailurePolicy governs how a task failure cascades through the batch.
type FailurePolicy string

const (
	// FailFast cancels all not-yet-started tasks on the first failure.
	FailFast FailurePolicy = "fail_fast"
	// BestEffort cancels only the dependents of a failed task and keeps
	// independent branches running.
	BestEffort FailurePolicy = "best_effort"
)

// Valid returns true if the policy is a known value.
func (p FailurePolicy) Valid() bool {
	return p == FailFast || p == BestEffort
}

// Batch represents a submitted group of dependency-related tasks.
type Batch struct {
	// ID is the unique identifier for this batch.
	ID string `json:"id"`
	// TaskIDs lists the tasks owned by this batch, in submission order.
	TaskIDs []string `json:"task_ids"`
	// Status is the derived state of the batch.
	Status BatchStatus `json:"status"`
	// Concurrency is the maximum number of tasks running at once.
	Concurrency int `json:"concurrency"`
	// FailurePolicy selects fail-fast or best-effort cascading.
	FailurePolicy FailurePolicy `json:"failure_policy"`
	// MaxRetries is the number of automatic retries per task before failing it.
	MaxRetries int `json:"max_retries"`
	// TaskTimeout is the default per-task execution timeout.
	TaskTimeout time.Duration `json:"task_timeout"`
	// SessionID references the execution session that submitted this batch.
	SessionID string `json:"session_id,omitempty"`
	// CreatedAt is when the batch was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// DeriveStatus computes the batch status from its member tasks.
// failFastTriggered must be true if the fail-fast policy stopped scheduling.
func DeriveStatus(tasks []*Task, failFastTriggered bool) BatchStatus {
	if len(tasks) == 0 {
		return BatchStatusCompleted
	}

	allTerminal := true
	completed := 0
	for _, t := range tasks {
		if !t.Status.Terminal() {
			allTerminal = false
			continue
		}
		if t.Status == TaskStatusCompleted {
			completed++
		}
	}

	if !allTerminal {
		return BatchStatusPending
	}
	if completed == len(tasks) {
		return BatchStatusCompleted
	}
	if failFastTriggered || completed == 0 {
		return BatchStatusFailed
	}
	return BatchStatusPartiallyFailed
}
