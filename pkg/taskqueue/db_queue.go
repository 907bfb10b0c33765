// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	dbsql "github.com/LeeDigitalWorks/zapmap/pkg/metadata/db/sql"
)

const (
	// maxDeadlockRetries is the maximum number of retry attempts for deadlock errors
	maxDeadlockRetries = 3
	// baseDeadlockBackoff is the base backoff duration for deadlock retries
	baseDeadlockBackoff = 10 * time.Millisecond
)

const taskColumns = `id, type, status, priority, payload, scheduled_at, started_at,
	completed_at, attempts, max_retries, retry_after, last_error,
	created_at, updated_at, worker_id`

// DBQueue is a Queue stored in the metadata database. Queries are written
// with $N placeholders and rewritten by the store's dialect, so the same
// code serves PostgreSQL/CockroachDB and MySQL/Vitess. Concurrent workers
// are supported via FOR UPDATE SKIP LOCKED.
type DBQueue struct {
	store             *dbsql.Store
	tableName         string
	visibilityTimeout time.Duration // How long a task can be "running" before being reclaimed
	now               func() time.Time
}

var _ Queue = (*DBQueue)(nil)

// DBQueueConfig configures the database queue.
type DBQueueConfig struct {
	Store             *dbsql.Store
	TableName         string        // Defaults to "tasks"
	VisibilityTimeout time.Duration // How long before a running task is considered abandoned (default: 5m)
}

// NewDBQueue creates a new database-backed queue. The tasks table is
// created by the metadata migrations.
func NewDBQueue(cfg DBQueueConfig) (*DBQueue, error) {
	if cfg.Store == nil {
		return nil, errors.New("database store is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = "tasks"
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}

	return &DBQueue{
		store:             cfg.Store,
		tableName:         cfg.TableName,
		visibilityTimeout: cfg.VisibilityTimeout,
		now:               time.Now,
	}, nil
}

func (q *DBQueue) Enqueue(ctx context.Context, task *Task) error {
	now := q.now()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	_, err := q.store.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, type, status, priority, payload, scheduled_at,
			attempts, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, q.tableName),
		task.ID, string(task.Type), string(task.Status), int(task.Priority), string(task.Payload),
		task.ScheduledAt.UnixNano(), task.Attempts, task.MaxRetries,
		task.CreatedAt.UnixNano(), task.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	TasksEnqueuedTotal.WithLabelValues(string(task.Type)).Inc()
	return nil
}

// deadlockMarkers match driver errors that lost their type while wrapped
var deadlockMarkers = []string{"Error 1213", "Deadlock", "40P01", "deadlock detected"}

// isDeadlockError reports whether err is a MySQL (1213) or PostgreSQL
// (40P01) deadlock
func isDeadlockError(err error) bool {
	if err == nil {
		return false
	}
	var (
		myErr *mysql.MySQLError
		pgErr *pgconn.PgError
	)
	switch {
	case errors.As(err, &myErr):
		return myErr.Number == 1213
	case errors.As(err, &pgErr):
		return pgErr.Code == "40P01"
	}
	msg := err.Error()
	return slices.ContainsFunc(deadlockMarkers, func(m string) bool {
		return strings.Contains(msg, m)
	})
}

// retryDeadlock runs fn up to maxDeadlockRetries times while it deadlocks.
// The wait doubles from baseDeadlockBackoff and is jittered upward.
func retryDeadlock(ctx context.Context, fn func() error) error {
	wait := baseDeadlockBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if !isDeadlockError(err) || attempt == maxDeadlockRetries {
			return err
		}
		DeadlockRetries.Inc()
		timer := time.NewTimer(wait + rand.N(wait))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}
}

func (q *DBQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	var task *Task
	err := retryDeadlock(ctx, func() error {
		var err error
		task, err = q.dequeueOnce(ctx, workerID, taskTypes...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (q *DBQueue) dequeueOnce(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	var task *Task

	err := q.store.RunInTx(ctx, func(tx *dbsql.TxStore) error {
		now := q.now()
		staleThreshold := now.Add(-q.visibilityTimeout)

		args := []any{now.UnixNano(), now.UnixNano(), staleThreshold.UnixNano()}
		typeFilter := ""
		if len(taskTypes) > 0 {
			typeFilter = " AND type IN (" + dbsql.Placeholders(len(args)+1, len(taskTypes)) + ")"
			for _, t := range taskTypes {
				args = append(args, string(t))
			}
		}

		// Highest priority, oldest first. Running tasks whose heartbeat is
		// older than the visibility timeout belong to a dead worker.
		row := tx.QueryRow(ctx, fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE (
				(status = 'pending' AND scheduled_at <= $1 AND (retry_after IS NULL OR retry_after <= $2))
				OR
				(status = 'running' AND heartbeat_at < $3)
			)
			%s
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`, taskColumns, q.tableName, typeFilter), args...)

		t, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		// Reclaiming a stale task counts as an attempt
		if t.Status == StatusRunning {
			t.Attempts++
		}

		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET status = 'running', started_at = $1, heartbeat_at = $2,
				worker_id = $3, attempts = $4, updated_at = $5
			WHERE id = $6
		`, q.tableName), now.UnixNano(), now.UnixNano(), workerID, t.Attempts, now.UnixNano(), t.ID)
		if err != nil {
			return err
		}

		t.Status = StatusRunning
		t.StartedAt = &now
		t.WorkerID = workerID
		t.UpdatedAt = now
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (q *DBQueue) Complete(ctx context.Context, taskID string) error {
	now := q.now().UnixNano()
	return q.updateOne(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'completed', completed_at = $1, updated_at = $2
		WHERE id = $3
	`, q.tableName), now, now, taskID)
}

func (q *DBQueue) Fail(ctx context.Context, taskID string, taskErr error) error {
	task, err := q.Get(ctx, taskID)
	if err != nil {
		return err
	}

	now := q.now()
	applyFailure(task, taskErr, now)

	var retryAfter any
	if !task.RetryAfter.IsZero() {
		retryAfter = task.RetryAfter.UnixNano()
	}
	_, err = q.store.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = $1, attempts = $2, last_error = $3,
			retry_after = $4, completed_at = $5, worker_id = NULL, updated_at = $6
		WHERE id = $7
	`, q.tableName),
		string(task.Status), task.Attempts, task.LastError,
		retryAfter, toNanos(task.CompletedAt), now.UnixNano(), taskID,
	)
	return err
}

func (q *DBQueue) Cancel(ctx context.Context, taskID string) error {
	now := q.now().UnixNano()
	return q.updateOne(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'cancelled', completed_at = $1, updated_at = $2
		WHERE id = $3
	`, q.tableName), now, now, taskID)
}

// Heartbeat extends the visibility timeout for a running task.
// Workers should call this periodically to prevent the task from being reclaimed.
func (q *DBQueue) Heartbeat(ctx context.Context, taskID string, workerID string) error {
	return retryDeadlock(ctx, func() error {
		now := q.now().UnixNano()
		return q.updateOne(ctx, fmt.Sprintf(`
			UPDATE %s SET heartbeat_at = $1, updated_at = $2
			WHERE id = $3 AND worker_id = $4 AND status = 'running'
		`, q.tableName), now, now, taskID, workerID)
	})
}

func (q *DBQueue) updateOne(ctx context.Context, query string, args ...any) error {
	result, err := q.store.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (q *DBQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	row := q.store.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, taskColumns, q.tableName), taskID)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

func (q *DBQueue) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	var (
		where []string
		args  []any
	)
	for _, f := range [...]struct{ col, val string }{
		{"type", string(filter.Type)},
		{"status", string(filter.Status)},
	} {
		if f.val != "" {
			where = append(where, f.col)
			args = append(args, f.val)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", taskColumns, q.tableName)
	for i, col := range where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = $%d", col, i+1)
	}
	b.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", filter.Offset)
	}

	rows, err := q.store.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// countBy runs a "SELECT key, COUNT(*) ... GROUP BY key" query
func (q *DBQueue) countBy(ctx context.Context, query string, add func(key string, n int64)) error {
	rows, err := q.store.Query(ctx, fmt.Sprintf(query, q.tableName))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		add(key, n)
	}
	return rows.Err()
}

func (q *DBQueue) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{ByType: map[TaskType]int64{}}

	err := q.countBy(ctx, `SELECT status, COUNT(*) FROM %s GROUP BY status`, func(status string, n int64) {
		stats.count(TaskStatus(status), n)
	})
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	err = q.countBy(ctx, `SELECT type, COUNT(*) FROM %s WHERE status = 'pending' GROUP BY type`, func(kind string, n int64) {
		stats.ByType[TaskType(kind)] = n
	})
	if err != nil {
		return nil, fmt.Errorf("count pending tasks by type: %w", err)
	}

	var oldest sql.NullInt64
	row := q.store.QueryRow(ctx, fmt.Sprintf(`SELECT MIN(scheduled_at) FROM %s WHERE status = 'pending'`, q.tableName))
	if err := row.Scan(&oldest); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	stats.OldestPending = fromNanos(oldest)
	return stats, nil
}

func (q *DBQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := q.now().Add(-olderThan)

	result, err := q.store.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s
		WHERE status IN ('completed', 'cancelled', 'dead_letter')
		AND completed_at < $1
	`, q.tableName), cutoff.UnixNano())
	if err != nil {
		return 0, err
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// ReclaimStale returns running tasks whose heartbeat is older than the
// visibility timeout to pending, or dead-letters them once they are out of
// attempts. It returns how many tasks changed.
func (q *DBQueue) ReclaimStale(ctx context.Context) (int, error) {
	now := q.now().UnixNano()
	stale := q.now().Add(-q.visibilityTimeout).UnixNano()

	var changed int64
	err := q.store.RunInTx(ctx, func(tx *dbsql.TxStore) error {
		for _, stmt := range []struct {
			query string
			args  []any
		}{
			{`UPDATE %s SET status = 'pending', worker_id = NULL, attempts = attempts + 1,
				last_error = 'reclaimed: worker timeout', updated_at = $1
			WHERE status = 'running' AND heartbeat_at < $2 AND attempts < max_retries`, []any{now, stale}},
			{`UPDATE %s SET status = 'dead_letter', worker_id = NULL, completed_at = $1,
				last_error = 'reclaimed: max retries exceeded', updated_at = $2
			WHERE status = 'running' AND heartbeat_at < $3 AND attempts >= max_retries`, []any{now, now, stale}},
		} {
			res, err := tx.Exec(ctx, fmt.Sprintf(stmt.query, q.tableName), stmt.args...)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			changed += n
		}
		return nil
	})
	return int(changed), err
}

// VisibilityTimeout returns the configured visibility timeout.
func (q *DBQueue) VisibilityTimeout() time.Duration {
	return q.visibilityTimeout
}

// Close is a no-op; the store is owned by the caller.
func (q *DBQueue) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task                               Task
		payload                            []byte
		scheduledAt, createdAt, updatedAt  int64
		startedAt, completedAt, retryAfter sql.NullInt64
		lastError, workerID                sql.NullString
		taskType, status                   string
		priority                           int
	)

	err := row.Scan(
		&task.ID, &taskType, &status, &priority, &payload, &scheduledAt,
		&startedAt, &completedAt, &task.Attempts, &task.MaxRetries,
		&retryAfter, &lastError, &createdAt, &updatedAt, &workerID,
	)
	if err != nil {
		return nil, err
	}

	task.Type = TaskType(taskType)
	task.Status = TaskStatus(status)
	task.Priority = TaskPriority(priority)
	task.Payload = payload
	task.ScheduledAt = time.Unix(0, scheduledAt)
	task.CreatedAt = time.Unix(0, createdAt)
	task.UpdatedAt = time.Unix(0, updatedAt)
	task.StartedAt = fromNanos(startedAt)
	task.CompletedAt = fromNanos(completedAt)
	if t := fromNanos(retryAfter); t != nil {
		task.RetryAfter = *t
	}
	task.LastError = lastError.String
	task.WorkerID = workerID.String

	return &task, nil
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

func toNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
