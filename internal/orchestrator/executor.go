package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
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

const (
	// DefaultAssignBackoff is the wait between assignment attempts when no
	// agent is available for a frontier task.
	DefaultAssignBackoff = 250 * time.Millisecond
	// DefaultAssignTimeout is how long a frontier task may wait for an agent
	// before it is given up on and cancelled.
	DefaultAssignTimeout = 10 * time.Minute
	// DefaultCancelGrace is how long a cancelled batch waits for in-flight
	// tasks to stop cooperatively before force-failing them.
	DefaultCancelGrace = 30 * time.Second
)

// AttemptCanceller cancels the in-flight execution of a task attempt.
// The worker pool implements this; the executor uses it to propagate batch
// cancellation into running connectors.
type AttemptCanceller interface {
	CancelAttempt(taskID string) bool
}

// attemptSignal carries worker feedback into the executor loop. Exactly one
// field is set.
type attemptSignal struct {
	started  *queue.Attempt
	envelope *models.ResultEnvelope
}

// ExecutorConfig contains the collaborators and tuning for one batch executor.
type ExecutorConfig struct {
	Batch     *models.Batch
	Tasks     []*models.Task
	Graph     *graph.Graph
	Scheduler *scheduler.Scheduler
	Queue     queue.Queue
	Store     *state.DB
	Router    *router.Router
	Emitter   *EventEmitter
	Canceller AttemptCanceller
	Metrics   *metrics.Metrics

	AssignBackoff time.Duration
	AssignTimeout time.Duration
	CancelGrace   time.Duration
}

// Executor drives one batch from submission to a terminal batch status.
// It owns the authoritative in-memory task records for its batch: every
// status transition happens under its lock and is persisted as it happens,
// so a status query mid-run sees a consistent snapshot.
type Executor struct {
	batch     *models.Batch
	graph     *graph.Graph
	sched     *scheduler.Scheduler
	queue     queue.Queue
	store     *state.DB
	router    *router.Router
	emitter   *EventEmitter
	canceller AttemptCanceller
	metrics   *metrics.Metrics

	assignBackoff time.Duration
	assignTimeout time.Duration
	cancelGrace   time.Duration

	mu    sync.Mutex
	tasks map[string]*models.Task
	// firstTried records when a frontier task first found no agent, so the
	// assignment timeout is measured from the first miss.
	firstTried        map[string]time.Time
	failFastTriggered bool
	cancelling        bool

	signals         chan attemptSignal
	done            chan struct{}
	cancelOnce      sync.Once
	cancelRequested chan struct{}
}

// NewExecutor creates an executor for the given batch. The task list must be
// the same set the graph was built from.
func NewExecutor(cfg ExecutorConfig) *Executor {
	tasks := make(map[string]*models.Task, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		tasks[t.ID] = t
	}

	if cfg.Batch.Concurrency <= 0 {
		cfg.Batch.Concurrency = 1
	}
	if cfg.AssignBackoff <= 0 {
		cfg.AssignBackoff = DefaultAssignBackoff
	}
	if cfg.AssignTimeout <= 0 {
		cfg.AssignTimeout = DefaultAssignTimeout
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = DefaultCancelGrace
	}

	return &Executor{
		batch:           cfg.Batch,
		graph:           cfg.Graph,
		sched:           cfg.Scheduler,
		queue:           cfg.Queue,
		store:           cfg.Store,
		router:          cfg.Router,
		emitter:         cfg.Emitter,
		canceller:       cfg.Canceller,
		metrics:         cfg.Metrics,
		assignBackoff:   cfg.AssignBackoff,
		assignTimeout:   cfg.AssignTimeout,
		cancelGrace:     cfg.CancelGrace,
		tasks:           tasks,
		firstTried:      make(map[string]time.Time),
		signals:         make(chan attemptSignal, 2*len(tasks)+16),
		done:            make(chan struct{}),
		cancelRequested: make(chan struct{}),
	}
}

// Cancel requests cancellation of the whole batch. Safe to call more than
// once and from any goroutine.
func (e *Executor) Cancel() {
	e.cancelOnce.Do(func() { close(e.cancelRequested) })
}

// Run drives the batch until every task is terminal, then derives and
// persists the batch status. Blocks; run it in its own goroutine.
func (e *Executor) Run(ctx context.Context) error {
	defer close(e.done)

	e.mu.Lock()
	for _, id := range e.graph.Order() {
		task := e.tasks[id]
		e.emit(Event{
			Type:      EventTaskQueued,
			BatchID:   e.batch.ID,
			TaskID:    task.ID,
			Attempt:   task.Attempt,
			Timestamp: time.Now(),
		})
	}
	e.mu.Unlock()

	for {
		e.mu.Lock()
		allDone := e.allTerminalLocked()
		e.mu.Unlock()
		if allDone {
			return e.finish(ctx)
		}

		e.scheduleFrontier(ctx)

		select {
		case sig := <-e.signals:
			e.handleSignal(ctx, sig)
		case <-time.After(e.assignBackoff):
			// Assignment retry tick.
		case <-e.cancelRequested:
			return e.cancelAll()
		case <-ctx.Done():
			return e.cancelAll()
		}
	}
}

// scheduleFrontier assigns agents to as many eligible tasks as the batch
// concurrency allows and enqueues their attempts. Eligible means queued with
// every dependency completed. Ordering is priority (higher first), then
// topological position, then task ID.
func (e *Executor) scheduleFrontier(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelling || e.failFastTriggered {
		return
	}

	inFlight := 0
	for _, t := range e.tasks {
		if t.Status == models.TaskStatusAssigned || t.Status == models.TaskStatusRunning {
			inFlight++
		}
	}

	for _, task := range e.frontierLocked() {
		if inFlight >= e.batch.Concurrency {
			return
		}

		agent, err := e.sched.Assign(task)
		if errors.Is(err, scheduler.ErrNoAgentAvailable) {
			if e.metrics != nil {
				e.metrics.AssignmentRetries.Inc()
			}
			first, seen := e.firstTried[task.ID]
			if !seen {
				e.firstTried[task.ID] = time.Now()
				continue
			}
			if time.Since(first) >= e.assignTimeout {
				log.Printf("[executor] batch %s: no agent for task %s (capability %s) within %s, giving up",
					e.batch.ID, task.ID, task.Capability, e.assignTimeout)
				e.settleLocked(ctx, task, e.syntheticEnvelope(task, models.OutcomeCancelled,
					fmt.Sprintf("no agent available for capability %q within %s", task.Capability, e.assignTimeout)))
			}
			continue
		}
		if err != nil {
			e.settleLocked(ctx, task, e.syntheticEnvelope(task, models.OutcomeCancelled, err.Error()))
			continue
		}

		delete(e.firstTried, task.ID)
		task.Transition(models.TaskStatusAssigned)
		task.AssignedTo = agent.ID
		e.persistTask(task)
		e.emit(Event{
			Type:      EventTaskAssigned,
			BatchID:   e.batch.ID,
			TaskID:    task.ID,
			AgentID:   agent.ID,
			Attempt:   task.Attempt,
			Timestamp: time.Now(),
		})

		attempt := &queue.Attempt{
			TaskID:     task.ID,
			BatchID:    e.batch.ID,
			Attempt:    task.Attempt,
			EnqueuedAt: time.Now(),
		}
		if _, err := e.queue.Enqueue(ctx, attempt); err != nil {
			log.Printf("[executor] batch %s: enqueue task %s attempt %d: %v", e.batch.ID, task.ID, task.Attempt, err)
			e.sched.Release(agent.ID)
			task.AssignedTo = ""
			e.settleLocked(ctx, task, e.syntheticEnvelope(task, models.OutcomeCancelled,
				fmt.Sprintf("enqueue attempt: %v", err)))
			continue
		}
		e.observeQueueDepth(ctx)
		inFlight++
	}
}

// frontierLocked returns the queued tasks whose dependencies have all
// completed, in scheduling order.
func (e *Executor) frontierLocked() []*models.Task {
	var frontier []*models.Task
	for _, task := range e.tasks {
		if task.Status != models.TaskStatusQueued {
			continue
		}
		ready := true
		for _, depID := range e.graph.Dependencies(task.ID) {
			if e.tasks[depID].Status != models.TaskStatusCompleted {
				ready = false
				break
			}
		}
		if ready {
			frontier = append(frontier, task)
		}
	}

	sort.Slice(frontier, func(i, j int) bool {
		a, b := frontier[i], frontier[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		ai, bi := e.graph.TopoIndex(a.ID), e.graph.TopoIndex(b.ID)
		if ai != bi {
			return ai < bi
		}
		return a.ID < b.ID
	})
	return frontier
}

func (e *Executor) handleSignal(ctx context.Context, sig attemptSignal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case sig.started != nil:
		e.handleStartedLocked(ctx, sig.started)
	case sig.envelope != nil:
		e.handleEnvelopeLocked(ctx, sig.envelope)
	}
}

func (e *Executor) handleStartedLocked(ctx context.Context, attempt *queue.Attempt) {
	task, ok := e.tasks[attempt.TaskID]
	if !ok || task.Attempt != attempt.Attempt || task.Status != models.TaskStatusAssigned {
		return
	}

	task.Transition(models.TaskStatusRunning)
	e.persistTask(task)
	e.emit(Event{
		Type:      EventTaskStarted,
		BatchID:   e.batch.ID,
		TaskID:    task.ID,
		AgentID:   task.AssignedTo,
		Attempt:   task.Attempt,
		Timestamp: time.Now(),
	})
	if err := e.router.DeliverProgress(ctx, e.batch.ID, task.ID, models.TaskStatusRunning); err != nil {
		log.Printf("[executor] batch %s: progress delivery for task %s: %v", e.batch.ID, task.ID, err)
	}
}

func (e *Executor) handleEnvelopeLocked(ctx context.Context, env *models.ResultEnvelope) {
	task, ok := e.tasks[env.TaskID]
	if !ok {
		return
	}
	if task.Status.Terminal() || env.Attempt != task.Attempt {
		// Re-delivered attempt that already settled. The queue is
		// at-least-once, so this is expected, not an error.
		log.Printf("[executor] batch %s: ignoring duplicate result for task %s attempt %d", e.batch.ID, env.TaskID, env.Attempt)
		return
	}

	retryable := env.Outcome == models.OutcomeBusinessFailure ||
		env.Outcome == models.OutcomeTimeout ||
		env.Outcome == models.OutcomeConnectorError
	if retryable && !e.cancelling && task.Attempt <= e.batch.MaxRetries {
		agentID := task.AssignedTo
		if task.Transition(models.TaskStatusQueued) {
			task.Attempt++
			e.persistTask(task)
			e.sched.Release(agentID)
			e.emit(Event{
				Type:      EventTaskRetried,
				BatchID:   e.batch.ID,
				TaskID:    task.ID,
				Attempt:   task.Attempt,
				Message:   env.ErrorDetail,
				Timestamp: time.Now(),
			})
			log.Printf("[executor] batch %s: task %s failed (%s), retrying as attempt %d", e.batch.ID, task.ID, env.Outcome, task.Attempt)
			return
		}
	}

	e.settleLocked(ctx, task, env)
}

// settleLocked moves a task to the terminal status implied by the envelope,
// persists the transition and the result, releases the agent slot, routes
// the result, and applies the batch's failure policy.
func (e *Executor) settleLocked(ctx context.Context, task *models.Task, env *models.ResultEnvelope) {
	agentID := task.AssignedTo
	status := env.TaskStatus()
	if !task.Transition(status) {
		log.Printf("[executor] batch %s: illegal transition %s -> %s for task %s", e.batch.ID, task.Status, status, task.ID)
		return
	}

	task.Result = env
	if agentID != "" {
		e.sched.Release(agentID)
	}
	e.persistTask(task)
	if err := e.store.SaveResult(env); err != nil {
		log.Printf("[executor] batch %s: persist result for task %s: %v", e.batch.ID, task.ID, err)
	}

	event := Event{
		BatchID:   e.batch.ID,
		TaskID:    task.ID,
		AgentID:   agentID,
		Attempt:   env.Attempt,
		Timestamp: time.Now(),
	}
	switch status {
	case models.TaskStatusCompleted:
		event.Type = EventTaskCompleted
	case models.TaskStatusCancelled:
		event.Type = EventTaskCancelled
		event.Message = env.ErrorDetail
	default:
		event.Type = EventTaskFailed
		event.Error = fmt.Errorf("%s: %s", env.Outcome, env.ErrorDetail)
	}
	e.emit(event)

	if err := e.router.Deliver(ctx, env); err != nil {
		log.Printf("[executor] batch %s: result delivery for task %s: %v", e.batch.ID, task.ID, err)
	}

	e.cascadeLocked(ctx, task)
}

// cascadeLocked applies the failure policy after a task settled in a
// non-completed terminal state. Dependents of a task that will never
// complete can never become eligible, so they are cancelled either way; the
// policy decides whether unrelated branches keep running.
func (e *Executor) cascadeLocked(ctx context.Context, task *models.Task) {
	switch task.Status {
	case models.TaskStatusFailed:
		if e.batch.FailurePolicy == models.FailFast {
			e.failFastTriggered = true
			reason := fmt.Sprintf("fail-fast: task %s failed", task.ID)
			for _, id := range e.graph.Order() {
				t := e.tasks[id]
				if t.Status == models.TaskStatusQueued || t.Status == models.TaskStatusAssigned {
					e.settleLocked(ctx, t, e.syntheticEnvelope(t, models.OutcomeCancelled, reason))
				}
			}
			return
		}
		e.cancelDependentsLocked(ctx, task, fmt.Sprintf("dependency %s failed", task.ID))
	case models.TaskStatusCancelled:
		e.cancelDependentsLocked(ctx, task, fmt.Sprintf("dependency %s cancelled", task.ID))
	}
}

func (e *Executor) cancelDependentsLocked(ctx context.Context, task *models.Task, reason string) {
	for _, id := range e.graph.TransitiveDependents(task.ID) {
		t := e.tasks[id]
		if t.Status.Terminal() || t.Status == models.TaskStatusRunning {
			continue
		}
		e.settleLocked(ctx, t, e.syntheticEnvelope(t, models.OutcomeCancelled, reason))
	}
}

// cancelAll settles the whole batch after a cancellation request: tasks that
// have not started are cancelled immediately, in-flight tasks get the grace
// period to stop cooperatively, and anything still running after that is
// force-failed.
func (e *Executor) cancelAll() error {
	// Deliveries during teardown use a fresh context; the run context may
	// already be cancelled.
	ctx := context.Background()

	e.mu.Lock()
	e.cancelling = true
	var inFlight []string
	for _, id := range e.graph.Order() {
		task := e.tasks[id]
		switch task.Status {
		case models.TaskStatusQueued, models.TaskStatusAssigned:
			e.settleLocked(ctx, task, e.syntheticEnvelope(task, models.OutcomeCancelled, "batch cancelled"))
		case models.TaskStatusRunning:
			inFlight = append(inFlight, id)
		}
	}
	e.mu.Unlock()

	if e.canceller != nil {
		for _, id := range inFlight {
			e.canceller.CancelAttempt(id)
		}
	}

	grace := time.NewTimer(e.cancelGrace)
	defer grace.Stop()
	for {
		e.mu.Lock()
		allDone := e.allTerminalLocked()
		e.mu.Unlock()
		if allDone {
			break
		}

		select {
		case sig := <-e.signals:
			e.handleSignal(ctx, sig)
		case <-grace.C:
			e.mu.Lock()
			for _, id := range e.graph.Order() {
				task := e.tasks[id]
				if !task.Status.Terminal() {
					log.Printf("[executor] batch %s: task %s did not stop within cancellation grace %s", e.batch.ID, task.ID, e.cancelGrace)
					e.settleLocked(ctx, task, e.syntheticEnvelope(task, models.OutcomeTimeout,
						fmt.Sprintf("task did not stop within cancellation grace period %s", e.cancelGrace)))
				}
			}
			e.mu.Unlock()
		}
	}

	return e.finish(ctx)
}

// finish derives the batch status, persists it, and announces it.
func (e *Executor) finish(ctx context.Context) error {
	e.mu.Lock()
	tasks := make([]*models.Task, 0, len(e.tasks))
	for _, id := range e.graph.Order() {
		tasks = append(tasks, e.tasks[id])
	}
	status := models.DeriveStatus(tasks, e.failFastTriggered)
	e.batch.Status = status
	e.mu.Unlock()

	if err := e.store.UpdateBatchStatus(e.batch.ID, status); err != nil {
		log.Printf("[executor] batch %s: persist status: %v", e.batch.ID, err)
	}
	if err := e.router.DeliverBatchStatus(ctx, e.batch.ID, status); err != nil {
		log.Printf("[executor] batch %s: status delivery: %v", e.batch.ID, err)
	}
	e.emit(Event{
		Type:        EventBatchDone,
		BatchID:     e.batch.ID,
		BatchStatus: status,
		Timestamp:   time.Now(),
	})
	log.Printf("[executor] batch %s done: %s", e.batch.ID, status)
	return nil
}

// resolveAttempt returns a snapshot of the task and its assigned agent for a
// dequeued attempt, or ok=false if the attempt is stale (task already
// terminal, retried under a newer attempt number, or unknown).
func (e *Executor) resolveAttempt(attempt *queue.Attempt) (*models.Task, *models.Agent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[attempt.TaskID]
	if !ok || task.Status.Terminal() || task.Attempt != attempt.Attempt {
		return nil, nil, false
	}
	if task.Status != models.TaskStatusAssigned && task.Status != models.TaskStatusRunning {
		return nil, nil, false
	}

	snapshot := *task
	return &snapshot, &models.Agent{ID: task.AssignedTo}, true
}

// signalStarted reports that a worker began executing an attempt.
func (e *Executor) signalStarted(attempt *queue.Attempt) {
	select {
	case e.signals <- attemptSignal{started: attempt}:
	case <-e.done:
	}
}

// signalResult reports a worker's result envelope for an attempt.
func (e *Executor) signalResult(env *models.ResultEnvelope) {
	select {
	case e.signals <- attemptSignal{envelope: env}:
	case <-e.done:
	}
}

// Snapshot returns copies of the batch and its tasks in topological order.
func (e *Executor) Snapshot() (*models.Batch, []*models.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()

	batch := *e.batch
	tasks := make([]*models.Task, 0, len(e.tasks))
	for _, id := range e.graph.Order() {
		snapshot := *e.tasks[id]
		tasks = append(tasks, &snapshot)
	}
	return &batch, tasks
}

func (e *Executor) allTerminalLocked() bool {
	for _, task := range e.tasks {
		if !task.Status.Terminal() {
			return false
		}
	}
	return true
}

func (e *Executor) syntheticEnvelope(task *models.Task, outcome models.Outcome, detail string) *models.ResultEnvelope {
	return &models.ResultEnvelope{
		TaskID:      task.ID,
		BatchID:     e.batch.ID,
		Outcome:     outcome,
		ErrorDetail: detail,
		Attempt:     task.Attempt,
		CompletedAt: time.Now(),
	}
}

func (e *Executor) persistTask(task *models.Task) {
	if err := e.store.SaveTask(task); err != nil {
		log.Printf("[executor] batch %s: persist task %s: %v", e.batch.ID, task.ID, err)
	}
}

func (e *Executor) emit(event Event) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
}

func (e *Executor) observeQueueDepth(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	if depth, err := e.queue.Depth(ctx); err == nil {
		e.metrics.QueueDepth.Set(float64(depth))
	}
}
