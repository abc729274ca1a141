package models

import "time"

// Outcome classifies how a task execution ended.
type Outcome string

const (
	// OutcomeCompleted indicates the agent ran the task and it succeeded.
	OutcomeCompleted Outcome = "completed"
	// OutcomeBusinessFailure indicates the agent ran the task and reported a
	// domain-level failure.
	OutcomeBusinessFailure Outcome = "business_failure"
	// OutcomeTimeout indicates the task exceeded its execution timeout.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeConnectorError indicates the agent was unreachable or the
	// connector failed before a domain result was produced.
	OutcomeConnectorError Outcome = "connector_error"
	// OutcomeCancelled indicates the task was cancelled cooperatively.
	OutcomeCancelled Outcome = "cancelled"
)

// Valid returns true if the outcome is a known value.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeBusinessFailure, OutcomeTimeout, OutcomeConnectorError, OutcomeCancelled:
		return true
	default:
		return false
	}
}

// ResultEnvelope is the normalized outcome of one executed task.
type ResultEnvelope struct {
	// TaskID is the task this result belongs to.
	TaskID string `json:"task_id"`
	// BatchID is the batch that owns the task.
	BatchID string `json:"batch_id"`
	// Outcome classifies the execution result.
	Outcome Outcome `json:"outcome"`
	// Output is the connector's output payload, if any.
	Output string `json:"output,omitempty"`
	// ErrorDetail carries structured error information for failures.
	ErrorDetail string `json:"error_detail,omitempty"`
	// Attempt is the attempt number that produced this result.
	Attempt int `json:"attempt"`
	// CompletedAt is when execution finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Succeeded returns true if the task ran and completed without error.
func (r *ResultEnvelope) Succeeded() bool {
	return r.Outcome == OutcomeCompleted
}

// TaskStatus maps the outcome to the terminal task status it implies.
func (r *ResultEnvelope) TaskStatus() TaskStatus {
	switch r.Outcome {
	case OutcomeCompleted:
		return TaskStatusCompleted
	case OutcomeCancelled:
		return TaskStatusCancelled
	default:
		return TaskStatusFailed
	}
}
