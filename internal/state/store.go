package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orchestra-core/orchestra/pkg/models"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// SaveBatch inserts or updates a batch record.
func (db *DB) SaveBatch(b *models.Batch) error {
	_, err := db.Exec(`
		INSERT INTO batches (id, status, concurrency, failure_policy, max_retries, task_timeout_ms, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			concurrency = excluded.concurrency,
			failure_policy = excluded.failure_policy,
			max_retries = excluded.max_retries,
			task_timeout_ms = excluded.task_timeout_ms,
			session_id = excluded.session_id
	`, b.ID, string(b.Status), b.Concurrency, string(b.FailurePolicy), b.MaxRetries,
		b.TaskTimeout.Milliseconds(), b.SessionID, formatTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("save batch %s: %w", b.ID, err)
	}
	return nil
}

// UpdateBatchStatus updates only the derived status of a batch.
func (db *DB) UpdateBatchStatus(batchID string, status models.BatchStatus) error {
	res, err := db.Exec("UPDATE batches SET status = ? WHERE id = ?", string(status), batchID)
	if err != nil {
		return fmt.Errorf("update batch %s status: %w", batchID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	return nil
}

// LoadBatch fetches a batch with its task ID list populated from the tasks
// table in submission (creation) order.
func (db *DB) LoadBatch(batchID string) (*models.Batch, error) {
	row := db.QueryRow(`
		SELECT id, status, concurrency, failure_policy, max_retries, task_timeout_ms, session_id, created_at
		FROM batches WHERE id = ?
	`, batchID)

	var b models.Batch
	var status, policy, createdAt string
	var sessionID sql.NullString
	var timeoutMs int64
	err := row.Scan(&b.ID, &status, &b.Concurrency, &policy, &b.MaxRetries, &timeoutMs, &sessionID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", batchID, err)
	}

	b.Status = models.BatchStatus(status)
	b.FailurePolicy = models.FailurePolicy(policy)
	b.TaskTimeout = time.Duration(timeoutMs) * time.Millisecond
	b.SessionID = sessionID.String
	if t, err := parseTime(createdAt); err == nil {
		b.CreatedAt = t
	}

	rows, err := db.Query("SELECT id FROM tasks WHERE batch_id = ? ORDER BY rowid", batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch %s tasks: %w", batchID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan task id: %w", err)
		}
		b.TaskIDs = append(b.TaskIDs, id)
	}
	return &b, rows.Err()
}

// SaveTask inserts or updates a task record.
func (db *DB) SaveTask(t *models.Task) error {
	depends, err := json.Marshal(t.DependsOn)
	if err != nil {
		return fmt.Errorf("encode depends_on: %w", err)
	}

	var startedAt, finishedAt any
	if t.StartedAt != nil {
		startedAt = formatTime(*t.StartedAt)
	}
	if t.FinishedAt != nil {
		finishedAt = formatTime(*t.FinishedAt)
	}

	_, err = db.Exec(`
		INSERT INTO tasks (id, batch_id, payload, capability, priority, status, depends_on, assigned_to, attempt, timeout_ms, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			assigned_to = excluded.assigned_to,
			attempt = excluded.attempt,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, t.ID, t.BatchID, t.Payload, t.Capability, t.Priority, string(t.Status), string(depends),
		t.AssignedTo, t.Attempt, t.Timeout.Milliseconds(), formatTime(t.CreatedAt), startedAt, finishedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// LoadTask fetches one task by ID.
func (db *DB) LoadTask(taskID string) (*models.Task, error) {
	row := db.QueryRow(`
		SELECT id, batch_id, payload, capability, priority, status, depends_on, assigned_to, attempt, timeout_ms, created_at, started_at, finished_at
		FROM tasks WHERE id = ?
	`, taskID)

	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return t, err
}

// TasksForBatch fetches all tasks owned by a batch in submission order.
func (db *DB) TasksForBatch(batchID string) ([]*models.Task, error) {
	rows, err := db.Query(`
		SELECT id, batch_id, payload, capability, priority, status, depends_on, assigned_to, attempt, timeout_ms, created_at, started_at, finished_at
		FROM tasks WHERE batch_id = ? ORDER BY rowid
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("load tasks for batch %s: %w", batchID, err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(scan func(dest ...any) error) (*models.Task, error) {
	var t models.Task
	var status, depends, createdAt string
	var assignedTo, startedAt, finishedAt sql.NullString
	var timeoutMs int64

	err := scan(&t.ID, &t.BatchID, &t.Payload, &t.Capability, &t.Priority, &status, &depends,
		&assignedTo, &t.Attempt, &timeoutMs, &createdAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	t.Status = models.TaskStatus(status)
	if err := json.Unmarshal([]byte(depends), &t.DependsOn); err != nil {
		return nil, fmt.Errorf("decode depends_on for task %s: %w", t.ID, err)
	}
	t.AssignedTo = assignedTo.String
	t.Timeout = time.Duration(timeoutMs) * time.Millisecond
	if ts, err := parseTime(createdAt); err == nil {
		t.CreatedAt = ts
	}
	t.StartedAt = parseNullableTime(startedAt)
	t.FinishedAt = parseNullableTime(finishedAt)
	return &t, nil
}

// SaveResult stores the terminal envelope for a task. The last write wins,
// which keeps re-delivered attempts idempotent at the storage layer.
func (db *DB) SaveResult(r *models.ResultEnvelope) error {
	_, err := db.Exec(`
		INSERT INTO results (task_id, batch_id, outcome, output, error_detail, attempt, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			outcome = excluded.outcome,
			output = excluded.output,
			error_detail = excluded.error_detail,
			attempt = excluded.attempt,
			completed_at = excluded.completed_at
	`, r.TaskID, r.BatchID, string(r.Outcome), r.Output, r.ErrorDetail, r.Attempt, formatTime(r.CompletedAt))
	if err != nil {
		return fmt.Errorf("save result for task %s: %w", r.TaskID, err)
	}
	return nil
}

// LoadResult fetches the stored envelope for a task.
func (db *DB) LoadResult(taskID string) (*models.ResultEnvelope, error) {
	row := db.QueryRow(`
		SELECT task_id, batch_id, outcome, output, error_detail, attempt, completed_at
		FROM results WHERE task_id = ?
	`, taskID)

	var r models.ResultEnvelope
	var outcome, completedAt string
	var output, errorDetail sql.NullString
	err := row.Scan(&r.TaskID, &r.BatchID, &outcome, &output, &errorDetail, &r.Attempt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result for task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load result for task %s: %w", taskID, err)
	}

	r.Outcome = models.Outcome(outcome)
	r.Output = output.String
	r.ErrorDetail = errorDetail.String
	if t, err := parseTime(completedAt); err == nil {
		r.CompletedAt = t
	}
	return &r, nil
}
