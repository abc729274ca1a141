package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/orchestra-core/orchestra/internal/state"
)

// DefaultVisibilityTimeout is how long a claimed attempt stays invisible
// before it is redelivered to another worker.
const DefaultVisibilityTimeout = 5 * time.Minute

// SQLiteQueue is a durable queue backed by the orchestra state database.
// Claims survive process restarts; an attempt claimed by a crashed worker
// becomes visible again once its visibility timeout lapses.
type SQLiteQueue struct {
	db         *state.DB
	visibility time.Duration
}

// NewSQLiteQueue creates a queue on the given database. The database must
// already be migrated.
func NewSQLiteQueue(db *state.DB, visibility time.Duration) *SQLiteQueue {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &SQLiteQueue{db: db, visibility: visibility}
}

// Enqueue implements Queue. The UNIQUE(task_id, attempt) constraint makes
// duplicate enqueues of the same attempt a no-op.
func (q *SQLiteQueue) Enqueue(ctx context.Context, attempt *Attempt) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	enqueuedAt := attempt.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}

	_, err := q.db.Exec(`
		INSERT INTO queue (task_id, batch_id, attempt, enqueued_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id, attempt) DO NOTHING
	`, attempt.TaskID, attempt.BatchID, attempt.Attempt, enqueuedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("enqueue task %s attempt %d: %w", attempt.TaskID, attempt.Attempt, err)
	}

	var id int64
	row := q.db.QueryRow("SELECT id FROM queue WHERE task_id = ? AND attempt = ?", attempt.TaskID, attempt.Attempt)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Already dequeued and acked; treat the enqueue as consumed.
			return 0, nil
		}
		return 0, fmt.Errorf("lookup enqueued attempt: %w", err)
	}
	return Handle(id), nil
}

// Dequeue implements Queue. It claims the oldest attempt that is either
// unclaimed or whose claim has expired.
func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Attempt, Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	now := time.Now()
	expiry := now.Add(-q.visibility).UTC().Format(time.RFC3339Nano)

	var attempt Attempt
	var id int64
	err := q.db.Transaction(func(tx *sql.Tx) error {
		row := tx.QueryRow(`
			SELECT id, task_id, batch_id, attempt, enqueued_at FROM queue
			WHERE claimed_at IS NULL OR claimed_at < ?
			ORDER BY id LIMIT 1
		`, expiry)

		var enqueuedAt string
		if err := row.Scan(&id, &attempt.TaskID, &attempt.BatchID, &attempt.Attempt, &enqueuedAt); err != nil {
			return err
		}
		if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			attempt.EnqueuedAt = t
		}

		_, err := tx.Exec("UPDATE queue SET claimed_at = ? WHERE id = ?",
			now.UTC().Format(time.RFC3339Nano), id)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrEmpty
	}
	if err != nil {
		return nil, 0, fmt.Errorf("dequeue: %w", err)
	}

	return &attempt, Handle(id), nil
}

// Ack implements Queue.
func (q *SQLiteQueue) Ack(ctx context.Context, handle Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := q.db.Exec("DELETE FROM queue WHERE id = ?", int64(handle)); err != nil {
		return fmt.Errorf("ack attempt %d: %w", handle, err)
	}
	return nil
}

// Depth implements Queue.
func (q *SQLiteQueue) Depth(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	if err := q.db.QueryRow("SELECT COUNT(*) FROM queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// Verify SQLiteQueue implements Queue at compile time.
var _ Queue = (*SQLiteQueue)(nil)
