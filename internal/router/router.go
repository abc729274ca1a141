package router

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/orchestra-core/orchestra/internal/metrics"
	"github.com/orchestra-core/orchestra/pkg/models"
)

// Router delivers result envelopes to the sessions that submitted them.
// Target resolution always happens before any send; "no target resolved" is
// its own logged code path that marks the message as a fallback.
type Router struct {
	sessions  *SessionTable
	transport Transport
	metrics   *metrics.Metrics
}

// New creates a Router over the given session table and transport.
func New(sessions *SessionTable, transport Transport, m *metrics.Metrics) *Router {
	return &Router{
		sessions:  sessions,
		transport: transport,
		metrics:   m,
	}
}

// Sessions returns the router's session table.
func (r *Router) Sessions() *SessionTable {
	return r.sessions
}

// Deliver routes a terminal result envelope. If any session is resolvable
// for the envelope's batch, the message goes to exactly those sessions;
// otherwise it goes out on the fallback broadcast channel, marked as such.
func (r *Router) Deliver(ctx context.Context, envelope *models.ResultEnvelope) error {
	msg := &Message{
		BatchID:   envelope.BatchID,
		TaskID:    envelope.TaskID,
		Status:    envelope.TaskStatus(),
		Output:    envelope.Output,
		Error:     envelope.ErrorDetail,
		Outcome:   envelope.Outcome,
		Timestamp: time.Now(),
	}
	return r.dispatch(ctx, envelope.BatchID, msg)
}

// DeliverProgress routes a non-terminal status update for a task.
func (r *Router) DeliverProgress(ctx context.Context, batchID, taskID string, status models.TaskStatus) error {
	msg := &Message{
		BatchID:   batchID,
		TaskID:    taskID,
		Status:    status,
		Timestamp: time.Now(),
	}
	return r.dispatch(ctx, batchID, msg)
}

// DeliverBatchStatus routes a batch-level status change.
func (r *Router) DeliverBatchStatus(ctx context.Context, batchID string, status models.BatchStatus) error {
	msg := &Message{
		BatchID:     batchID,
		BatchStatus: status,
		Timestamp:   time.Now(),
	}
	return r.dispatch(ctx, batchID, msg)
}

func (r *Router) dispatch(ctx context.Context, batchID string, msg *Message) error {
	targets := r.sessions.Resolve(batchID)

	if len(targets) == 0 {
		// Explicit fallback path: no live session for this batch. The
		// message is marked so consumers can never mistake it for a
		// targeted delivery.
		msg.Fallback = true
		log.Printf("[router] no session resolvable for batch %s, using broadcast fallback (task=%s)", batchID, msg.TaskID)
		if r.metrics != nil {
			r.metrics.FallbackDeliveries.Inc()
		}
		if err := r.transport.Broadcast(ctx, msg); err != nil {
			return fmt.Errorf("fallback broadcast for batch %s: %w", batchID, err)
		}
		return nil
	}

	for _, sessionID := range targets {
		if err := r.transport.Send(ctx, sessionID, msg); err != nil {
			return fmt.Errorf("deliver to session %s: %w", sessionID, err)
		}
	}
	return nil
}
