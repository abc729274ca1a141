package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-core/orchestra/internal/engine"
	"github.com/orchestra-core/orchestra/internal/queue"
	"github.com/orchestra-core/orchestra/internal/state"
	"github.com/orchestra-core/orchestra/pkg/models"
)

// fakeSource resolves every attempt to a fixed task and records feedback.
type fakeSource struct {
	mu      sync.Mutex
	task    *models.Task
	stale   bool
	started int
	results []*models.ResultEnvelope
}

func (s *fakeSource) ResolveAttempt(attempt *queue.Attempt) (*models.Task, *models.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale {
		return nil, nil, false
	}
	snapshot := *s.task
	snapshot.Attempt = attempt.Attempt
	return &snapshot, &models.Agent{ID: "agent-1"}, true
}

func (s *fakeSource) AttemptStarted(attempt *queue.Attempt, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
}

func (s *fakeSource) AttemptFinished(env *models.ResultEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, env)
}

func (s *fakeSource) snapshot() (int, []*models.ResultEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ResultEnvelope, len(s.results))
	copy(out, s.results)
	return s.started, out
}

func newTestQueue(t *testing.T) *queue.SQLiteQueue {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return queue.NewSQLiteQueue(db, time.Minute)
}

func waitForDepth(t *testing.T, q queue.Queue, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if depth, err := q.Depth(context.Background()); err == nil && depth == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("queue depth never reached %d", want)
}

func TestWorkerExecutesAttempt(t *testing.T) {
	q := newTestQueue(t)

	registry := engine.NewRegistry()
	registry.Register("echo", engine.FuncConnector(func(ctx context.Context, task *models.Task) (string, error) {
		return task.Payload, nil
	}))
	eng := engine.New(engine.Config{Registry: registry})

	source := &fakeSource{task: &models.Task{
		ID:         "t1",
		BatchID:    "b1",
		Payload:    "hello",
		Capability: "echo",
		Status:     models.TaskStatusAssigned,
	}}

	pool := New(Config{Queue: q, Engine: eng, Source: source, Size: 1, PollInterval: 5 * time.Millisecond})
	pool.Start()
	defer pool.Stop()

	if _, err := q.Enqueue(context.Background(), &queue.Attempt{TaskID: "t1", BatchID: "b1", Attempt: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitForDepth(t, q, 0)

	started, results := source.snapshot()
	if started != 1 {
		t.Errorf("expected 1 started signal, got %d", started)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	env := results[0]
	if env.Outcome != models.OutcomeCompleted || env.Output != "hello" {
		t.Errorf("unexpected envelope: %+v", env)
	}
	if env.Attempt != 1 {
		t.Errorf("envelope attempt = %d, want 1", env.Attempt)
	}
}

func TestWorkerAcksStaleAttemptWithoutExecuting(t *testing.T) {
	q := newTestQueue(t)
	eng := engine.New(engine.Config{Registry: engine.NewRegistry()})
	source := &fakeSource{stale: true}

	pool := New(Config{Queue: q, Engine: eng, Source: source, Size: 1, PollInterval: 5 * time.Millisecond})
	pool.Start()
	defer pool.Stop()

	if _, err := q.Enqueue(context.Background(), &queue.Attempt{TaskID: "gone", BatchID: "b1", Attempt: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// The stale attempt must be consumed from the queue without feedback.
	waitForDepth(t, q, 0)

	started, results := source.snapshot()
	if started != 0 || len(results) != 0 {
		t.Errorf("stale attempt produced feedback: started=%d results=%d", started, len(results))
	}
}

func TestWorkerStopCancelsInFlight(t *testing.T) {
	q := newTestQueue(t)

	registry := engine.NewRegistry()
	running := make(chan struct{}, 1)
	registry.Register("block", engine.FuncConnector(func(ctx context.Context, task *models.Task) (string, error) {
		select {
		case running <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return "", ctx.Err()
	}))
	eng := engine.New(engine.Config{Registry: registry})

	source := &fakeSource{task: &models.Task{
		ID:         "t1",
		BatchID:    "b1",
		Payload:    "p",
		Capability: "block",
		Status:     models.TaskStatusAssigned,
	}}

	pool := New(Config{Queue: q, Engine: eng, Source: source, Size: 1, PollInterval: 5 * time.Millisecond})
	pool.Start()

	if _, err := q.Enqueue(context.Background(), &queue.Attempt{TaskID: "t1", BatchID: "b1", Attempt: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-running:
	case <-time.After(5 * time.Second):
		t.Fatal("task never started")
	}

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after cancelling in-flight work")
	}

	_, results := source.snapshot()
	if len(results) != 1 || results[0].Outcome != models.OutcomeCancelled {
		t.Errorf("expected cancelled envelope on shutdown, got %+v", results)
	}
}
