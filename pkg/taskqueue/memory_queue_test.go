// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue_test

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/zapmap/pkg/taskqueue"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

func newBuildTask(t *testing.T, ids ...types.ChunkID) *taskqueue.Task {
	t.Helper()
	task, err := taskqueue.NewMapBuildTask(ids)
	require.NoError(t, err)
	return task
}

func TestNewMapBuildTask(t *testing.T) {
	t.Parallel()

	task := newBuildTask(t, "c1", "c2")
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, taskqueue.TaskTypeMapBuild, task.Type)
	assert.Equal(t, taskqueue.DefaultMaxRetries, task.MaxRetries)

	payload, err := taskqueue.UnmarshalPayload[taskqueue.MapBuildPayload](task.Payload)
	require.NoError(t, err)
	assert.Equal(t, []types.ChunkID{"c1", "c2"}, payload.ChunkIDs)
}

func TestMemoryQueue_Enqueue(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()

	task := &taskqueue.Task{Type: taskqueue.TaskTypeMapBuild, Payload: []byte(`{}`), MaxRetries: 3}
	require.NoError(t, q.Enqueue(context.Background(), task))

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, taskqueue.StatusPending, task.Status)
	assert.False(t, task.CreatedAt.IsZero())
	assert.False(t, task.ScheduledAt.IsZero())

	preserved := &taskqueue.Task{ID: "custom-id", Type: taskqueue.TaskTypeMapBuild, Payload: []byte(`{}`)}
	require.NoError(t, q.Enqueue(context.Background(), preserved))
	assert.Equal(t, "custom-id", preserved.ID)

	q.Close()
	err := q.Enqueue(context.Background(), &taskqueue.Task{Type: taskqueue.TaskTypeMapBuild})
	assert.ErrorIs(t, err, taskqueue.ErrQueueClosed)
}

func TestMemoryQueue_DequeueOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := taskqueue.NewMemoryQueue()
		ctx := context.Background()

		enqueue := func(id string, typ taskqueue.TaskType, prio taskqueue.TaskPriority) {
			require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: id, Type: typ, Priority: prio, Payload: []byte(`{}`)}))
			time.Sleep(time.Millisecond)
		}
		enqueue("old-normal", taskqueue.TaskTypeMapBuild, taskqueue.PriorityNormal)
		enqueue("new-normal", taskqueue.TaskTypeMapBuild, taskqueue.PriorityNormal)
		enqueue("urgent", taskqueue.TaskTypeMapBuild, taskqueue.PriorityUrgent)
		enqueue("event", taskqueue.TaskTypeBuildEvent, taskqueue.PriorityHigh)

		var got []string
		for {
			task, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeMapBuild)
			require.NoError(t, err)
			if task == nil {
				break
			}
			assert.Equal(t, taskqueue.StatusRunning, task.Status)
			assert.Equal(t, "w1", task.WorkerID)
			require.NotNil(t, task.StartedAt)
			got = append(got, task.ID)
		}
		assert.Equal(t, []string{"urgent", "old-normal", "new-normal"}, got)

		event, err := q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, "event", event.ID)
	})
}

func TestMemoryQueue_ScheduledInFuture(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := taskqueue.NewMemoryQueue()
		ctx := context.Background()

		task := &taskqueue.Task{Type: taskqueue.TaskTypeMapBuild, Payload: []byte(`{}`), ScheduledAt: time.Now().Add(time.Minute)}
		require.NoError(t, q.Enqueue(ctx, task))

		got, err := q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		assert.Nil(t, got)

		time.Sleep(time.Minute)
		got, err = q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, task.ID, got.ID)
	})
}

func TestMemoryQueue_FailRetriesWithBackoff(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := taskqueue.NewMemoryQueue()
		ctx := context.Background()

		task := newBuildTask(t, "c1")
		task.MaxRetries = 2
		require.NoError(t, q.Enqueue(ctx, task))

		got, err := q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NoError(t, q.Fail(ctx, task.ID, errors.New("replication failed")))

		stored, err := q.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, taskqueue.StatusPending, stored.Status)
		assert.Equal(t, 1, stored.Attempts)
		assert.Equal(t, "replication failed", stored.LastError)
		assert.Empty(t, stored.WorkerID)

		// Backoff after the first failure is 2s
		got, err = q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		assert.Nil(t, got)

		time.Sleep(2 * time.Second)
		got, err = q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, got)

		require.NoError(t, q.Fail(ctx, task.ID, errors.New("still failing")))
		stored, err = q.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, taskqueue.StatusDeadLetter, stored.Status)
		assert.Equal(t, 2, stored.Attempts)
		require.NotNil(t, stored.CompletedAt, "dead letters count as finished")
	})
}

func TestMemoryQueue_ReclaimsAbandonedTasks(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := taskqueue.NewMemoryQueue()
		ctx := context.Background()

		task := newBuildTask(t, "c1")
		require.NoError(t, q.Enqueue(ctx, task))

		_, err := q.Dequeue(ctx, "w1")
		require.NoError(t, err)

		// Heartbeats keep the task leased
		time.Sleep(taskqueue.DefaultVisibilityTimeout - time.Second)
		require.NoError(t, q.Heartbeat(ctx, task.ID, "w1"))
		time.Sleep(taskqueue.DefaultVisibilityTimeout - time.Second)

		got, err := q.Dequeue(ctx, "w2")
		require.NoError(t, err)
		assert.Nil(t, got)

		// Silence past the visibility timeout hands it to another worker
		time.Sleep(2 * time.Second)
		got, err = q.Dequeue(ctx, "w2")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "w2", got.WorkerID)
		assert.Equal(t, 1, got.Attempts)

		assert.ErrorIs(t, q.Heartbeat(ctx, task.ID, "w1"), taskqueue.ErrTaskNotFound)
	})
}

func TestMemoryQueue_CompleteCancelNotFound(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()

	assert.ErrorIs(t, q.Complete(ctx, "missing"), taskqueue.ErrTaskNotFound)
	assert.ErrorIs(t, q.Fail(ctx, "missing", errors.New("x")), taskqueue.ErrTaskNotFound)
	assert.ErrorIs(t, q.Cancel(ctx, "missing"), taskqueue.ErrTaskNotFound)
	_, err := q.Get(ctx, "missing")
	assert.ErrorIs(t, err, taskqueue.ErrTaskNotFound)
}

func TestMemoryQueue_ListStatsCleanup(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := taskqueue.NewMemoryQueue()
		ctx := context.Background()

		done := newBuildTask(t, "c1")
		pending := newBuildTask(t, "c2")
		cancelled := &taskqueue.Task{Type: taskqueue.TaskTypeBuildEvent, Payload: []byte(`{}`)}
		for _, task := range []*taskqueue.Task{done, pending, cancelled} {
			require.NoError(t, q.Enqueue(ctx, task))
			time.Sleep(time.Millisecond)
		}

		_, err := q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, done.ID))
		require.NoError(t, q.Cancel(ctx, cancelled.ID))

		builds, err := q.List(ctx, taskqueue.TaskFilter{Type: taskqueue.TaskTypeMapBuild})
		require.NoError(t, err)
		require.Len(t, builds, 2)
		assert.Equal(t, pending.ID, builds[0].ID, "newest first")

		limited, err := q.List(ctx, taskqueue.TaskFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, pending.ID, limited[0].ID)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Pending)
		assert.Equal(t, int64(1), stats.Completed)
		assert.Equal(t, int64(1), stats.ByType[taskqueue.TaskTypeMapBuild])
		require.NotNil(t, stats.OldestPending)

		time.Sleep(time.Hour)
		removed, err := q.Cleanup(ctx, 30*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 2, removed, "completed and cancelled tasks are finished")

		_, err = q.Get(ctx, done.ID)
		assert.ErrorIs(t, err, taskqueue.ErrTaskNotFound)
		_, err = q.Get(ctx, pending.ID)
		assert.NoError(t, err)
	})
}
