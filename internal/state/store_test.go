package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/orchestra-core/orchestra/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "orchestra.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestSaveAndLoadBatch(t *testing.T) {
	db := openTestDB(t)

	batch := &models.Batch{
		ID:            "b1",
		Status:        models.BatchStatusPending,
		Concurrency:   2,
		FailurePolicy: models.BestEffort,
		MaxRetries:    1,
		TaskTimeout:   time.Minute,
		SessionID:     "s1",
		CreatedAt:     time.Now(),
	}
	if err := db.SaveBatch(batch); err != nil {
		t.Fatalf("save batch: %v", err)
	}

	task := &models.Task{
		ID: "t1", BatchID: "b1", Payload: "echo hi", Capability: "shell",
		Status: models.TaskStatusQueued, Attempt: 1, CreatedAt: time.Now(),
	}
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}

	got, err := db.LoadBatch("b1")
	if err != nil {
		t.Fatalf("load batch: %v", err)
	}
	if got.Concurrency != 2 || got.FailurePolicy != models.BestEffort || got.SessionID != "s1" {
		t.Errorf("batch round-trip mismatch: %+v", got)
	}
	if got.TaskTimeout != time.Minute {
		t.Errorf("expected timeout 1m, got %v", got.TaskTimeout)
	}
	if len(got.TaskIDs) != 1 || got.TaskIDs[0] != "t1" {
		t.Errorf("expected task ids [t1], got %v", got.TaskIDs)
	}
}

func TestLoadBatchNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.LoadBatch("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	db := openTestDB(t)

	started := time.Now()
	task := &models.Task{
		ID:         "t1",
		BatchID:    "b1",
		Payload:    "echo hi",
		Capability: "shell",
		Priority:   3,
		Status:     models.TaskStatusRunning,
		DependsOn:  []string{"t0"},
		AssignedTo: "agent-1",
		Attempt:    2,
		Timeout:    30 * time.Second,
		CreatedAt:  time.Now(),
		StartedAt:  &started,
	}
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}

	got, err := db.LoadTask("t1")
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	if got.Status != models.TaskStatusRunning || got.Attempt != 2 || got.Priority != 3 {
		t.Errorf("task round-trip mismatch: %+v", got)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "t0" {
		t.Errorf("depends_on round-trip mismatch: %v", got.DependsOn)
	}
	if got.StartedAt == nil {
		t.Error("expected started_at to round-trip")
	}
}

func TestSaveTaskUpsertsStatus(t *testing.T) {
	db := openTestDB(t)

	task := &models.Task{
		ID: "t1", BatchID: "b1", Payload: "x", Capability: "shell",
		Status: models.TaskStatusQueued, Attempt: 1, CreatedAt: time.Now(),
	}
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}

	task.Status = models.TaskStatusCompleted
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("update task: %v", err)
	}

	got, err := db.LoadTask("t1")
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("expected completed after upsert, got %s", got.Status)
	}
}

func TestResultRoundTrip(t *testing.T) {
	db := openTestDB(t)

	result := &models.ResultEnvelope{
		TaskID:      "t1",
		BatchID:     "b1",
		Outcome:     models.OutcomeTimeout,
		ErrorDetail: "task exceeded timeout of 1m0s",
		Attempt:     1,
		CompletedAt: time.Now(),
	}
	if err := db.SaveResult(result); err != nil {
		t.Fatalf("save result: %v", err)
	}

	got, err := db.LoadResult("t1")
	if err != nil {
		t.Fatalf("load result: %v", err)
	}
	if got.Outcome != models.OutcomeTimeout || got.ErrorDetail == "" {
		t.Errorf("result round-trip mismatch: %+v", got)
	}

	if _, err := db.LoadResult("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
