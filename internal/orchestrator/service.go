package orchestrator

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/orchestra-core/orchestra/internal/graph"
	"github.com/orchestra-core/orchestra/internal/router"
	"github.com/orchestra-core/orchestra/internal/scheduler"
	"github.com/orchestra-core/orchestra/internal/state"
	"github.com/orchestra-core/orchestra/pkg/models"
)

// Defaults are the batch-level settings applied when a submission leaves
// them unset.
type Defaults struct {
	Concurrency   int
	FailurePolicy models.FailurePolicy
	MaxRetries    int
	TaskTimeout   time.Duration
}

// Service is the submission API: it validates batch definitions, builds
// their dependency graphs, persists them, and hands them to the pool.
// Validation failures surface before anything is persisted or enqueued.
type Service struct {
	store    *state.DB
	sched    *scheduler.Scheduler
	router   *router.Router
	pool     *Pool
	defaults Defaults
}

// NewService creates a Service over the given collaborators.
func NewService(store *state.DB, sched *scheduler.Scheduler, r *router.Router, pool *Pool, defaults Defaults) *Service {
	if defaults.Concurrency <= 0 {
		defaults.Concurrency = 1
	}
	if defaults.FailurePolicy == "" {
		defaults.FailurePolicy = models.BestEffort
	}
	return &Service{
		store:    store,
		sched:    sched,
		router:   r,
		pool:     pool,
		defaults: defaults,
	}
}

// BatchSnapshot is the full state of a batch for status queries: the batch
// record, its tasks, and the result envelopes of terminal tasks.
type BatchSnapshot struct {
	Batch   *models.Batch
	Tasks   []*models.Task
	Results map[string]*models.ResultEnvelope
}

// Submit validates a batch definition, builds its dependency graph, persists
// the batch, binds it to the submitting session, and starts its executor.
// Returns the persisted batch. A cycle or unknown dependency reference fails
// the whole submission before any task is persisted or enqueued.
func (s *Service) Submit(def *models.BatchDefinition, sessionID string) (*models.Batch, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch: %w", err)
	}

	batchID := uuid.New().String()[:8]

	batch := &models.Batch{
		ID:            batchID,
		Status:        models.BatchStatusPending,
		Concurrency:   def.Concurrency,
		FailurePolicy: def.FailurePolicy,
		MaxRetries:    def.MaxRetries,
		TaskTimeout:   def.TaskTimeout,
		SessionID:     sessionID,
		CreatedAt:     time.Now(),
	}
	if batch.Concurrency <= 0 {
		batch.Concurrency = s.defaults.Concurrency
	}
	if batch.FailurePolicy == "" {
		batch.FailurePolicy = s.defaults.FailurePolicy
	}
	if batch.MaxRetries <= 0 {
		batch.MaxRetries = s.defaults.MaxRetries
	}
	if batch.TaskTimeout <= 0 {
		batch.TaskTimeout = s.defaults.TaskTimeout
	}

	// Task IDs are namespaced by batch so submitter-chosen IDs from
	// different batches never collide in storage.
	tasks := make([]*models.Task, 0, len(def.Tasks))
	for _, td := range def.Tasks {
		depends := make([]string, 0, len(td.DependsOn))
		for _, dep := range td.DependsOn {
			depends = append(depends, TaskID(batchID, dep))
		}
		timeout := td.Timeout
		if timeout <= 0 {
			timeout = batch.TaskTimeout
		}
		task := &models.Task{
			ID:         TaskID(batchID, td.ID),
			BatchID:    batchID,
			Payload:    td.Payload,
			Capability: td.Capability,
			Priority:   td.Priority,
			Status:     models.TaskStatusQueued,
			DependsOn:  depends,
			Attempt:    1,
			Timeout:    timeout,
			CreatedAt:  time.Now(),
		}
		tasks = append(tasks, task)
		batch.TaskIDs = append(batch.TaskIDs, task.ID)
	}

	g, err := graph.Build(tasks)
	if err != nil {
		return nil, fmt.Errorf("invalid batch: %w", err)
	}

	if err := s.store.SaveBatch(batch); err != nil {
		return nil, err
	}
	for _, task := range tasks {
		if err := s.store.SaveTask(task); err != nil {
			return nil, err
		}
	}

	if sessionID != "" {
		s.router.Sessions().Bind(batchID, sessionID)
	}

	if err := s.pool.StartBatch(batch, tasks, g); err != nil {
		return nil, err
	}

	log.Printf("[service] batch %s submitted: %d tasks, concurrency %d, policy %s",
		batchID, len(tasks), batch.Concurrency, batch.FailurePolicy)
	return batch, nil
}

// BatchStatus returns the current state of a batch. In-flight batches are
// read from their executor; finished batches come from storage.
func (s *Service) BatchStatus(batchID string) (*BatchSnapshot, error) {
	batch, tasks, live := s.pool.Snapshot(batchID)
	if !live {
		var err error
		batch, err = s.store.LoadBatch(batchID)
		if err != nil {
			return nil, err
		}
		tasks, err = s.store.TasksForBatch(batchID)
		if err != nil {
			return nil, err
		}
	}

	results := make(map[string]*models.ResultEnvelope)
	for _, task := range tasks {
		if !task.Status.Terminal() {
			continue
		}
		if task.Result != nil {
			results[task.ID] = task.Result
			continue
		}
		if env, err := s.store.LoadResult(task.ID); err == nil {
			results[task.ID] = env
		}
	}

	return &BatchSnapshot{Batch: batch, Tasks: tasks, Results: results}, nil
}

// TaskResult returns the stored result envelope for a terminal task.
func (s *Service) TaskResult(taskID string) (*models.ResultEnvelope, error) {
	return s.store.LoadResult(taskID)
}

// CancelBatch requests cancellation of a running batch.
func (s *Service) CancelBatch(batchID string) error {
	return s.pool.CancelBatch(batchID)
}

// Agents returns snapshots of the registered agents.
func (s *Service) Agents() []*models.Agent {
	return s.sched.List()
}

// TaskID builds the storage-level task ID from a batch ID and the
// submitter-chosen task ID.
func TaskID(batchID, taskID string) string {
	return batchID + ":" + taskID
}
