package engine

import (
	"context"
	"errors"
	"time"

	"github.com/orchestra-core/orchestra/internal/metrics"
	"github.com/orchestra-core/orchestra/pkg/models"
)

// DefaultTaskTimeout applies when neither the task nor the engine config
// sets one.
const DefaultTaskTimeout = 10 * time.Minute

// heartbeatInterval is how often a running execution emits a progress signal.
const heartbeatInterval = 5 * time.Second

// Config contains configuration for an Engine.
type Config struct {
	// Registry resolves connectors by capability. Required.
	Registry *Registry
	// DefaultTimeout is the per-task timeout when the task sets none.
	DefaultTimeout time.Duration
	// Metrics receives progress and outcome signals. Optional.
	Metrics *metrics.Metrics
}

// Engine executes one task at a time against its agent's connector.
// It is stateless and restart-safe: it persists nothing and performs no
// retries, so the caller can invoke it again for the same attempt.
type Engine struct {
	registry       *Registry
	defaultTimeout time.Duration
	metrics        *metrics.Metrics
}

// New creates an Engine from the given config.
func New(cfg Config) *Engine {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{
		registry:       registry,
		defaultTimeout: timeout,
		metrics:        cfg.Metrics,
	}
}

// Registry returns the engine's connector registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Execute runs the task on the agent's connector and maps the outcome to a
// result envelope. Business outcomes are carried in the envelope, never as a
// Go error: connector success -> completed, agent-reported error ->
// business_failure, deadline -> timeout, ctx cancel -> cancelled, anything
// else -> connector_error.
func (e *Engine) Execute(ctx context.Context, task *models.Task, agent *models.Agent) *models.ResultEnvelope {
	envelope := &models.ResultEnvelope{
		TaskID:  task.ID,
		BatchID: task.BatchID,
		Attempt: task.Attempt,
	}

	connector, err := e.registry.Resolve(task.Capability)
	if err != nil {
		envelope.Outcome = models.OutcomeConnectorError
		envelope.ErrorDetail = err.Error()
		envelope.CompletedAt = time.Now()
		e.observe(task, envelope, 0)
		return envelope
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stopHeartbeat := e.startHeartbeat(runCtx)
	started := time.Now()
	output, invokeErr := connector.Invoke(runCtx, task)
	elapsed := time.Since(started)
	stopHeartbeat()

	envelope.CompletedAt = time.Now()
	envelope.Output = output

	switch {
	case invokeErr == nil:
		envelope.Outcome = models.OutcomeCompleted
	default:
		var bizErr *BusinessError
		switch {
		case errors.As(invokeErr, &bizErr):
			envelope.Outcome = models.OutcomeBusinessFailure
			envelope.ErrorDetail = bizErr.Detail
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			envelope.Outcome = models.OutcomeTimeout
			envelope.ErrorDetail = "task exceeded timeout of " + timeout.String()
		case errors.Is(ctx.Err(), context.Canceled):
			envelope.Outcome = models.OutcomeCancelled
			envelope.ErrorDetail = invokeErr.Error()
		default:
			envelope.Outcome = models.OutcomeConnectorError
			envelope.ErrorDetail = invokeErr.Error()
		}
	}

	e.observe(task, envelope, elapsed)
	return envelope
}

// startHeartbeat emits periodic progress signals while a task runs.
// The returned func stops the ticker.
func (e *Engine) startHeartbeat(ctx context.Context) func() {
	if e.metrics == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.metrics.Heartbeats.Inc()
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func (e *Engine) observe(task *models.Task, envelope *models.ResultEnvelope, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.TasksTotal.WithLabelValues(string(envelope.Outcome)).Inc()
	if elapsed > 0 {
		e.metrics.TaskDuration.WithLabelValues(task.Capability).Observe(elapsed.Seconds())
	}
}
