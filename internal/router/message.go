// Package router correlates completed jobs back to the live sessions that
// submitted them. Every delivery requires a resolved target; the broadcast
// fallback is an explicit, logged, and marked code path so a result can
// never silently go to the wrong client.
package router

import (
	"time"

	"github.com/orchestra-core/orchestra/pkg/models"
)

// Message is the push-delivery payload for task and batch progress.
type Message struct {
	// BatchID is the batch the task belongs to.
	BatchID string `json:"batch_id"`
	// TaskID is the task this message reports on; empty for batch-level messages.
	TaskID string `json:"task_id,omitempty"`
	// Status is the task status after this update.
	Status models.TaskStatus `json:"status,omitempty"`
	// BatchStatus is set on batch-level messages.
	BatchStatus models.BatchStatus `json:"batch_status,omitempty"`
	// Output carries the result payload for terminal task messages.
	Output string `json:"output,omitempty"`
	// Error carries structured error detail for failures.
	Error string `json:"error,omitempty"`
	// Outcome is the result classification for terminal task messages.
	Outcome models.Outcome `json:"outcome,omitempty"`
	// Fallback marks messages delivered via the broadcast fallback path.
	// Consumers must never treat a fallback message as targeted delivery.
	Fallback bool `json:"fallback,omitempty"`
	// Timestamp is when the message was produced.
	Timestamp time.Time `json:"timestamp"`
}

// SessionBound registers an execution session with the transport before a
// batch is submitted on its behalf.
type SessionBound struct {
	// SessionID identifies the live client connection.
	SessionID string `json:"session_id"`
	// Timestamp is when the session came up.
	Timestamp time.Time `json:"timestamp"`
}
