package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/orchestra-core/orchestra/internal/graph"
	"github.com/orchestra-core/orchestra/internal/metrics"
	"github.com/orchestra-core/orchestra/internal/queue"
	"github.com/orchestra-core/orchestra/internal/router"
	"github.com/orchestra-core/orchestra/internal/scheduler"
	"github.com/orchestra-core/orchestra/internal/state"
	"github.com/orchestra-core/orchestra/pkg/models"
)

// PoolConfig contains configuration options for the executor pool.
type PoolConfig struct {
	Scheduler *scheduler.Scheduler
	Queue     queue.Queue
	Store     *state.DB
	Router    *router.Router
	Metrics   *metrics.Metrics

	// AssignBackoff, AssignTimeout and CancelGrace tune every executor the
	// pool starts; zero values use the executor defaults.
	AssignBackoff time.Duration
	AssignTimeout time.Duration
	CancelGrace   time.Duration
}

// Pool manages the executors of all in-flight batches. It is the bridge
// between the worker pool and the per-batch executors: dequeued attempts are
// resolved here, and worker feedback is routed to the owning executor.
type Pool struct {
	cfg PoolConfig

	mu        sync.RWMutex
	executors map[string]*Executor // by batch ID
	// cancels holds the context cancel funcs of in-flight attempts, by task
	// ID, so batch cancellation can reach into running connectors.
	cancels map[string]context.CancelFunc

	emitter *EventEmitter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates an empty executor pool.
func NewPool(cfg PoolConfig) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		cfg:       cfg,
		executors: make(map[string]*Executor),
		cancels:   make(map[string]context.CancelFunc),
		emitter:   NewEventEmitter(100),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// StartBatch creates and runs an executor for the batch. The tasks must be
// the set the graph was built from, already persisted in the queued state.
func (p *Pool) StartBatch(batch *models.Batch, tasks []*models.Task, g *graph.Graph) error {
	exec := NewExecutor(ExecutorConfig{
		Batch:         batch,
		Tasks:         tasks,
		Graph:         g,
		Scheduler:     p.cfg.Scheduler,
		Queue:         p.cfg.Queue,
		Store:         p.cfg.Store,
		Router:        p.cfg.Router,
		Emitter:       p.emitter,
		Canceller:     p,
		Metrics:       p.cfg.Metrics,
		AssignBackoff: p.cfg.AssignBackoff,
		AssignTimeout: p.cfg.AssignTimeout,
		CancelGrace:   p.cfg.CancelGrace,
	})

	p.mu.Lock()
	if _, exists := p.executors[batch.ID]; exists {
		p.mu.Unlock()
		return fmt.Errorf("batch %s already running", batch.ID)
	}
	p.executors[batch.ID] = exec
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := exec.Run(p.ctx); err != nil {
			log.Printf("[pool] batch %s executor failed: %v", batch.ID, err)
		}

		p.mu.Lock()
		delete(p.executors, batch.ID)
		p.mu.Unlock()
	}()

	return nil
}

// CancelBatch requests cancellation of a running batch.
func (p *Pool) CancelBatch(batchID string) error {
	p.mu.RLock()
	exec, ok := p.executors[batchID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("batch %s is not running", batchID)
	}
	exec.Cancel()
	return nil
}

// Snapshot returns the live batch and task state for a running batch, or
// ok=false when the batch is not in flight (finished or unknown).
func (p *Pool) Snapshot(batchID string) (*models.Batch, []*models.Task, bool) {
	p.mu.RLock()
	exec, ok := p.executors[batchID]
	p.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	batch, tasks := exec.Snapshot()
	return batch, tasks, true
}

// ResolveAttempt maps a dequeued attempt to its task and agent snapshots.
// Attempts for finished batches, settled tasks, or superseded attempt
// numbers resolve to ok=false and should be acknowledged without execution.
func (p *Pool) ResolveAttempt(attempt *queue.Attempt) (*models.Task, *models.Agent, bool) {
	p.mu.RLock()
	exec, ok := p.executors[attempt.BatchID]
	p.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	return exec.resolveAttempt(attempt)
}

// AttemptStarted records that a worker began executing an attempt and keeps
// its cancel func so the batch executor can stop it.
func (p *Pool) AttemptStarted(attempt *queue.Attempt, cancel context.CancelFunc) {
	p.mu.Lock()
	p.cancels[attempt.TaskID] = cancel
	p.mu.Unlock()

	p.mu.RLock()
	exec, ok := p.executors[attempt.BatchID]
	p.mu.RUnlock()
	if ok {
		exec.signalStarted(attempt)
	}
}

// AttemptFinished routes a worker's result envelope to the owning executor.
func (p *Pool) AttemptFinished(env *models.ResultEnvelope) {
	p.mu.Lock()
	if cancel, ok := p.cancels[env.TaskID]; ok {
		cancel()
		delete(p.cancels, env.TaskID)
	}
	exec, ok := p.executors[env.BatchID]
	p.mu.Unlock()
	if ok {
		exec.signalResult(env)
	}
}

// CancelAttempt cancels the in-flight execution of a task attempt.
// Implements AttemptCanceller for the executors.
func (p *Pool) CancelAttempt(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cancel, ok := p.cancels[taskID]
	if !ok {
		return false
	}
	cancel()
	delete(p.cancels, taskID)
	return true
}

// Events returns the channel of aggregated events from all executors.
func (p *Pool) Events() <-chan Event {
	return p.emitter.Events()
}

// Stop cancels all running batches and waits for their executors to settle.
func (p *Pool) Stop() {
	p.mu.RLock()
	for _, exec := range p.executors {
		exec.Cancel()
	}
	p.mu.RUnlock()

	p.wg.Wait()
	p.cancel()
	p.emitter.Close()
}

// Count returns the number of batches currently in flight.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.executors)
}
