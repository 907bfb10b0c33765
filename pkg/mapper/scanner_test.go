// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package mapper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db/memory"
	"github.com/LeeDigitalWorks/zapmap/pkg/taskqueue"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

// flakyQueue fails the next Enqueue when failNext is set
type flakyQueue struct {
	*taskqueue.MemoryQueue
	failNext bool
}

func (q *flakyQueue) Enqueue(ctx context.Context, task *taskqueue.Task) error {
	if q.failNext {
		q.failNext = false
		return errors.New("queue unavailable")
	}
	return q.MemoryQueue.Enqueue(ctx, task)
}

func scannerFixture(t *testing.T) (*memory.DB, *flakyQueue, *Scanner) {
	t.Helper()

	now := time.Now()
	at := func(d time.Duration) *time.Time {
		v := now.Add(-d)
		return &v
	}

	store := memory.New()
	require.NoError(t, store.InsertChunks(context.Background(), []*types.Chunk{
		{ID: "never", Bucket: "photos"},
		{ID: "fresh", Bucket: "photos", LastBuild: at(time.Minute)},
		{ID: "old", Bucket: "photos", LastBuild: at(2 * time.Hour)},
		{ID: "stale-building", Bucket: "photos", Building: at(time.Hour)},
		{ID: "building", Bucket: "photos", Building: at(time.Minute)},
	}))

	queue := &flakyQueue{MemoryQueue: taskqueue.NewMemoryQueue()}
	scanner := NewScanner(store, queue, ScannerConfig{
		RebuildInterval:    time.Hour,
		StaleBuildingAfter: 10 * time.Minute,
		BatchSize:          2,
	})
	t.Cleanup(scanner.Stop)
	return store, queue, scanner
}

func queuedChunks(t *testing.T, q taskqueue.Queue) (tasks int, ids []types.ChunkID) {
	t.Helper()
	list, err := q.List(context.Background(), taskqueue.TaskFilter{Type: taskqueue.TaskTypeMapBuild})
	require.NoError(t, err)
	for _, task := range list {
		payload, err := taskqueue.UnmarshalPayload[taskqueue.MapBuildPayload](task.Payload)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(payload.ChunkIDs), 2)
		ids = append(ids, payload.ChunkIDs...)
	}
	return len(list), ids
}

func TestScanner_ScanOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, queue, scanner := scannerFixture(t)

	n, err := scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	tasks, ids := queuedChunks(t, queue)
	assert.Equal(t, 2, tasks)
	assert.ElementsMatch(t, []types.ChunkID{"never", "old", "stale-building"}, ids)

	// Enqueued chunks are not picked up again while their task is pending
	n, err = scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	tasks, _ = queuedChunks(t, queue)
	assert.Equal(t, 2, tasks)
}

func TestScanner_RetriesAfterEnqueueFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, queue, scanner := scannerFixture(t)
	queue.failNext = true

	n, err := scanner.ScanOnce(ctx)
	require.Error(t, err)
	assert.Zero(t, n)

	n, err = scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestScanner_BuildOnce(t *testing.T) {
	t.Parallel()

	store := memory.New()
	built := time.Now().Add(-24 * time.Hour)
	require.NoError(t, store.InsertChunks(context.Background(), []*types.Chunk{
		{ID: "never", Bucket: "photos"},
		{ID: "built", Bucket: "photos", LastBuild: &built},
	}))

	queue := taskqueue.NewMemoryQueue()
	scanner := NewScanner(store, queue, ScannerConfig{})
	defer scanner.Stop()

	n, err := scanner.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "without a rebuild interval only unbuilt chunks are due")
}

func TestScanner_RunStopsWithContext(t *testing.T) {
	t.Parallel()

	_, queue, scanner := scannerFixture(t)
	scanner.cfg.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scanner.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		list, err := queue.List(context.Background(), taskqueue.TaskFilter{Type: taskqueue.TaskTypeMapBuild})
		return err == nil && len(list) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
