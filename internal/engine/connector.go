// Package engine executes single tasks through capability-keyed connectors.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/orchestra-core/orchestra/pkg/models"
)

// Connector invokes a task on the concrete agent backend for one capability.
// Implementations must honor ctx cancellation and deadlines; the engine
// classifies their outcome, it never retries.
type Connector interface {
	// Invoke forwards the task payload and returns its output. A returned
	// *BusinessError means the backend ran the task and reported a
	// domain-level failure; any other error is a connector failure.
	Invoke(ctx context.Context, task *models.Task) (string, error)
}

// BusinessError signals that the agent ran the task and the task itself
// failed. It is never conflated with connector or timeout errors so the UI
// can distinguish "your command failed" from "the system could not run it".
type BusinessError struct {
	Detail string
}

// Error implements the error interface.
func (e *BusinessError) Error() string {
	return e.Detail
}

// FuncConnector adapts a function to the Connector interface.
type FuncConnector func(ctx context.Context, task *models.Task) (string, error)

// Invoke implements Connector.
func (f FuncConnector) Invoke(ctx context.Context, task *models.Task) (string, error) {
	return f(ctx, task)
}

// EchoConnector returns the task payload unchanged. Useful for smoke tests
// and for wiring checks on a fresh deployment.
type EchoConnector struct{}

// Invoke implements Connector.
func (EchoConnector) Invoke(ctx context.Context, task *models.Task) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return task.Payload, nil
}

// Registry maps capability tags to connector implementations.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
	}
}

// Register binds a connector to a capability tag, replacing any previous one.
func (r *Registry) Register(capability string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[capability] = c
}

// Resolve returns the connector for a capability.
func (r *Registry) Resolve(capability string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[capability]
	if !ok {
		return nil, fmt.Errorf("no connector registered for capability %q", capability)
	}
	return c, nil
}

// Capabilities returns the registered capability tags.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.connectors))
	for tag := range r.connectors {
		out = append(out, tag)
	}
	return out
}
