// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue keeps tasks in a map. Callers only ever see copies.
type MemoryQueue struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	leases map[string]time.Time // task id -> last heartbeat
	closed bool

	visibility time.Duration
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		tasks:      make(map[string]*Task),
		leases:     make(map[string]time.Time),
		visibility: DefaultVisibilityTimeout,
	}
}

func clone(t *Task) *Task {
	cp := *t
	return &cp
}

// find runs fn on the stored task under the lock
func (q *MemoryQueue) find(id string, fn func(*Task, time.Time)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	fn(task, time.Now())
	return nil
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	now := time.Now()
	if task.ID == "" {
		task.ID = uuid.NewString()
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

	q.tasks[task.ID] = clone(task)
	TasksEnqueuedTotal.WithLabelValues(string(task.Type)).Inc()
	return nil
}

// expired reports a running task whose worker went quiet
func (q *MemoryQueue) expired(t *Task, now time.Time) bool {
	return t.Status == StatusRunning && now.Sub(q.leases[t.ID]) > q.visibility
}

func (q *MemoryQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	now := time.Now()
	var pick *Task
	for _, t := range q.tasks {
		if len(taskTypes) > 0 && !slices.Contains(taskTypes, t.Type) {
			continue
		}
		if !t.ready(now) && !q.expired(t, now) {
			continue
		}
		if pick == nil || t.outranks(pick) {
			pick = t
		}
	}
	if pick == nil {
		return nil, nil
	}

	// a reclaimed lease counts as a failed attempt
	if pick.Status == StatusRunning {
		pick.Attempts++
	}
	started := now
	pick.Status = StatusRunning
	pick.WorkerID = workerID
	pick.StartedAt = &started
	pick.UpdatedAt = now
	q.leases[pick.ID] = now
	return clone(pick), nil
}

func (q *MemoryQueue) finish(id string, status TaskStatus) error {
	return q.find(id, func(t *Task, now time.Time) {
		t.Status = status
		t.CompletedAt = &now
		t.UpdatedAt = now
		delete(q.leases, id)
	})
}

func (q *MemoryQueue) Complete(ctx context.Context, taskID string) error {
	return q.finish(taskID, StatusCompleted)
}

func (q *MemoryQueue) Cancel(ctx context.Context, taskID string) error {
	return q.finish(taskID, StatusCancelled)
}

func (q *MemoryQueue) Fail(ctx context.Context, taskID string, err error) error {
	return q.find(taskID, func(t *Task, now time.Time) {
		applyFailure(t, err, now)
		delete(q.leases, taskID)
	})
}

func (q *MemoryQueue) Heartbeat(ctx context.Context, taskID string, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok || t.Status != StatusRunning || t.WorkerID != workerID {
		return ErrTaskNotFound
	}
	now := time.Now()
	t.UpdatedAt = now
	q.leases[taskID] = now
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	var out *Task
	err := q.find(taskID, func(t *Task, _ time.Time) { out = clone(t) })
	return out, err
}

func (q *MemoryQueue) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	q.mu.Lock()
	var out []*Task
	for _, t := range q.tasks {
		if filter.matches(t) {
			out = append(out, clone(t))
		}
	}
	q.mu.Unlock()

	slices.SortFunc(out, func(a, b *Task) int { return b.CreatedAt.Compare(a.CreatedAt) })

	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &QueueStats{ByType: make(map[TaskType]int64)}
	for _, t := range q.tasks {
		stats.count(t.Status, 1)
		if t.Status != StatusPending {
			continue
		}
		stats.ByType[t.Type]++
		if stats.OldestPending == nil || t.ScheduledAt.Before(*stats.OldestPending) {
			at := t.ScheduledAt
			stats.OldestPending = &at
		}
	}
	return stats, nil
}

func (q *MemoryQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	n := 0
	for id, t := range q.tasks {
		if t.Status.Finished() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(q.tasks, id)
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}
