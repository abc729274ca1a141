package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/orchestra-core/orchestra/pkg/models"
)

func newTestEngine(capability string, fn FuncConnector) *Engine {
	registry := NewRegistry()
	registry.Register(capability, fn)
	return New(Config{Registry: registry, DefaultTimeout: time.Second})
}

func testTask() *models.Task {
	return &models.Task{
		ID:         "t1",
		BatchID:    "b1",
		Payload:    "do the thing",
		Capability: "test",
		Attempt:    1,
		Status:     models.TaskStatusRunning,
	}
}

func TestExecuteCompleted(t *testing.T) {
	e := newTestEngine("test", func(ctx context.Context, task *models.Task) (string, error) {
		return "ok", nil
	})

	env := e.Execute(context.Background(), testTask(), &models.Agent{ID: "a1"})
	if env.Outcome != models.OutcomeCompleted {
		t.Fatalf("expected completed, got %s (%s)", env.Outcome, env.ErrorDetail)
	}
	if env.Output != "ok" {
		t.Errorf("expected output %q, got %q", "ok", env.Output)
	}
	if env.TaskID != "t1" || env.BatchID != "b1" || env.Attempt != 1 {
		t.Errorf("envelope not correlated to task: %+v", env)
	}
}

func TestExecuteBusinessFailure(t *testing.T) {
	e := newTestEngine("test", func(ctx context.Context, task *models.Task) (string, error) {
		return "partial", &BusinessError{Detail: "exit code 2"}
	})

	env := e.Execute(context.Background(), testTask(), &models.Agent{ID: "a1"})
	if env.Outcome != models.OutcomeBusinessFailure {
		t.Fatalf("expected business_failure, got %s", env.Outcome)
	}
	if env.ErrorDetail != "exit code 2" {
		t.Errorf("expected structured detail, got %q", env.ErrorDetail)
	}
}

func TestExecuteConnectorError(t *testing.T) {
	e := newTestEngine("test", func(ctx context.Context, task *models.Task) (string, error) {
		return "", errors.New("connection refused")
	})

	env := e.Execute(context.Background(), testTask(), &models.Agent{ID: "a1"})
	if env.Outcome != models.OutcomeConnectorError {
		t.Fatalf("expected connector_error, got %s", env.Outcome)
	}
}

func TestExecuteTimeoutDistinctFromBusinessFailure(t *testing.T) {
	registry := NewRegistry()
	registry.Register("test", FuncConnector(func(ctx context.Context, task *models.Task) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))
	e := New(Config{Registry: registry, DefaultTimeout: 20 * time.Millisecond})

	env := e.Execute(context.Background(), testTask(), &models.Agent{ID: "a1"})
	if env.Outcome != models.OutcomeTimeout {
		t.Fatalf("expected timeout, got %s", env.Outcome)
	}
}

func TestExecuteTaskTimeoutOverride(t *testing.T) {
	e := newTestEngine("test", func(ctx context.Context, task *models.Task) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	task := testTask()
	task.Timeout = 20 * time.Millisecond

	start := time.Now()
	env := e.Execute(context.Background(), task, &models.Agent{ID: "a1"})
	if env.Outcome != models.OutcomeTimeout {
		t.Fatalf("expected timeout, got %s", env.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("task timeout override not honored, took %v", elapsed)
	}
}

func TestExecuteCancellation(t *testing.T) {
	e := newTestEngine("test", func(ctx context.Context, task *models.Task) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	env := e.Execute(ctx, testTask(), &models.Agent{ID: "a1"})
	if env.Outcome != models.OutcomeCancelled {
		t.Fatalf("expected cancelled, got %s", env.Outcome)
	}
}

func TestExecuteUnknownCapability(t *testing.T) {
	e := New(Config{Registry: NewRegistry()})

	env := e.Execute(context.Background(), testTask(), &models.Agent{ID: "a1"})
	if env.Outcome != models.OutcomeConnectorError {
		t.Fatalf("expected connector_error for missing connector, got %s", env.Outcome)
	}
}

func TestShellConnectorSuccess(t *testing.T) {
	c := NewShellConnector("")
	task := &models.Task{ID: "t1", Payload: "echo hello"}

	out, err := c.Invoke(context.Background(), task)
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if out != "hello" {
		t.Errorf("expected %q, got %q", "hello", out)
	}
}

func TestShellConnectorExitCodeIsBusinessFailure(t *testing.T) {
	c := NewShellConnector("")
	task := &models.Task{ID: "t1", Payload: "exit 3"}

	_, err := c.Invoke(context.Background(), task)
	var bizErr *BusinessError
	if !errors.As(err, &bizErr) {
		t.Fatalf("expected *BusinessError for non-zero exit, got %v", err)
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register("shell", NewShellConnector(""))

	if _, err := r.Resolve("shell"); err != nil {
		t.Errorf("expected shell connector, got %v", err)
	}
	if _, err := r.Resolve("llm"); err == nil {
		t.Error("expected error for unregistered capability")
	}
}
