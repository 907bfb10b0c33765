// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrQueueClosed  = errors.New("task queue is closed")
	// ErrInvalidPayload makes the worker cancel the task instead of retrying
	ErrInvalidPayload = errors.New("invalid task payload")
)

// Queue is a leased work queue. A dequeued task belongs to its worker until
// it is completed, failed or cancelled, or until the worker stops
// heartbeating for longer than the visibility timeout.
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	// Dequeue leases the best ready task of the given types (any type when
	// none are given). It returns nil, nil when nothing is ready.
	Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error)
	Complete(ctx context.Context, taskID string) error
	// Fail requeues the task with backoff, or dead-letters it once its
	// retries are used up.
	Fail(ctx context.Context, taskID string, err error) error
	Cancel(ctx context.Context, taskID string) error
	Heartbeat(ctx context.Context, taskID string, workerID string) error
	Get(ctx context.Context, taskID string) (*Task, error)
	// List returns matching tasks, newest first
	List(ctx context.Context, filter TaskFilter) ([]*Task, error)
	Stats(ctx context.Context) (*QueueStats, error)
	// Cleanup deletes finished tasks older than olderThan
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
	Close() error
}

// Handler runs the tasks of one type
type Handler interface {
	Type() TaskType
	Handle(ctx context.Context, task *Task) error
}

// retryBackoff is 2s after the first failure, doubling from there
func retryBackoff(attempts int) time.Duration {
	return time.Second << min(attempts, 16)
}

// applyFailure records a failed attempt: back to pending after a backoff,
// or dead-lettered once MaxRetries attempts failed.
func applyFailure(task *Task, err error, now time.Time) {
	task.Attempts++
	task.LastError = err.Error()
	task.UpdatedAt = now
	task.WorkerID = ""

	if task.Attempts < task.MaxRetries {
		task.Status = StatusPending
		task.RetryAfter = now.Add(retryBackoff(task.Attempts))
		return
	}
	task.Status = StatusDeadLetter
	task.RetryAfter = time.Time{}
	task.CompletedAt = &now
}

func (s *QueueStats) count(status TaskStatus, n int64) {
	var c *int64
	switch status {
	case StatusPending:
		c = &s.Pending
	case StatusRunning:
		c = &s.Running
	case StatusCompleted:
		c = &s.Completed
	case StatusFailed:
		c = &s.Failed
	case StatusDeadLetter:
		c = &s.DeadLetter
	case StatusCancelled:
		c = &s.Cancelled
	default:
		return
	}
	*c += n
}
