// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDeadlockError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "regular error",
			err:      errors.New("some random error"),
			expected: false,
		},
		{
			name:     "mysql deadlock error code 1213",
			err:      errors.New("Error 1213 (40001): Deadlock found when trying to get lock; try restarting transaction"),
			expected: true,
		},
		{
			name:     "deadlock in error message",
			err:      errors.New("Deadlock detected"),
			expected: true,
		},
		{
			name:     "wrapped deadlock error",
			err:      errors.New("database error: Error 1213 (40001): Deadlock found"),
			expected: true,
		},
		{
			name:     "connection error",
			err:      errors.New("connection refused"),
			expected: false,
		},
		{
			name:     "lock timeout (not deadlock)",
			err:      errors.New("Error 1205 (HY000): Lock wait timeout exceeded"),
			expected: false,
		},
		{
			name:     "partial match Error 1213 (contains substring)",
			err:      errors.New("Error 12130"),
			expected: true, // Contains "Error 1213" substring - acceptable false positive
		},
		{
			name:     "typed mysql deadlock",
			err:      fmt.Errorf("dequeue: %w", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}),
			expected: true,
		},
		{
			name:     "typed mysql lock wait timeout",
			err:      &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"},
			expected: false,
		},
		{
			name:     "typed postgres deadlock",
			err:      fmt.Errorf("dequeue: %w", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}),
			expected: true,
		},
		{
			name:     "typed postgres serialization failure",
			err:      &pgconn.PgError{Code: "40001", Message: "could not serialize access"},
			expected: false,
		},
		{
			name:     "case sensitivity - lowercase deadlock",
			err:      errors.New("deadlock found"),
			expected: false, // case sensitive check
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := isDeadlockError(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDeadlockRetryConstants(t *testing.T) {
	t.Parallel()

	// Verify constants are set to reasonable values
	assert.Equal(t, 3, maxDeadlockRetries, "should retry up to 3 times")
	assert.LessOrEqual(t, baseDeadlockBackoff.Milliseconds(), int64(50),
		"base backoff should be <= 50ms to avoid slow tests")
}

func TestNewDBQueue_RequiresStore(t *testing.T) {
	t.Parallel()

	_, err := NewDBQueue(DBQueueConfig{})
	require.Error(t, err)
}

func TestApplyFailure(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	task := &Task{MaxRetries: 3, WorkerID: "w1", Status: StatusRunning}

	applyFailure(task, errors.New("boom"), now)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, now.Add(2*time.Second), task.RetryAfter)
	assert.Empty(t, task.WorkerID)

	applyFailure(task, errors.New("boom"), now)
	assert.Equal(t, now.Add(4*time.Second), task.RetryAfter)

	applyFailure(task, errors.New("boom"), now)
	assert.Equal(t, StatusDeadLetter, task.Status)
	assert.True(t, task.RetryAfter.IsZero())
	assert.Equal(t, 3, task.Attempts)
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, now, *task.CompletedAt)
}

func TestRetryBackoff(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2*time.Second, retryBackoff(1))
	assert.Equal(t, 8*time.Second, retryBackoff(3))
	assert.Equal(t, retryBackoff(16), retryBackoff(100), "capped")
}

func TestTaskStatus_Finished(t *testing.T) {
	t.Parallel()

	for status, want := range map[TaskStatus]bool{
		StatusPending:    false,
		StatusRunning:    false,
		StatusFailed:     false,
		StatusCompleted:  true,
		StatusCancelled:  true,
		StatusDeadLetter: true,
	} {
		assert.Equal(t, want, status.Finished(), status)
	}
}

func TestTask_ReadyAndOutranks(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	task := &Task{Status: StatusPending, ScheduledAt: now}
	assert.True(t, task.ready(now))

	task.RetryAfter = now.Add(time.Second)
	assert.False(t, task.ready(now))
	assert.True(t, task.ready(now.Add(time.Second)))

	task.Status = StatusRunning
	assert.False(t, task.ready(now.Add(time.Hour)))

	older := &Task{Priority: PriorityNormal, ScheduledAt: now}
	newer := &Task{Priority: PriorityNormal, ScheduledAt: now.Add(time.Second)}
	urgent := &Task{Priority: PriorityUrgent, ScheduledAt: now.Add(time.Hour)}
	assert.True(t, older.outranks(newer))
	assert.False(t, newer.outranks(older))
	assert.True(t, urgent.outranks(older))
}
