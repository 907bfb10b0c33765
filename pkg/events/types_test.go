// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/zapmap/pkg/mapper"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testReport() *mapper.Report {
	cause := errors.New("target refused")
	return &mapper.Report{
		Requested:     3,
		Built:         []types.ChunkID{"a", "c"},
		Failed:        []types.ChunkID{"b"},
		NewBlocks:     2,
		DeletedBlocks: 1,
		Duration:      1500 * time.Millisecond,
		Buckets: map[types.ChunkID]types.BucketID{
			"a": "photos",
			"b": "photos",
			"c": "logs",
		},
		Err: &mapper.BuildError{
			Failed: []types.ChunkID{"b"},
			Errors: multierror.Append(nil, &mapper.ChunkError{Chunk: "b", Err: cause}),
		},
	}
}

func TestBuildEvents(t *testing.T) {
	t.Parallel()

	evs := BuildEvents(testReport(), testTime)
	require.Len(t, evs, 3)

	assert.Equal(t, EventBuildCompleted, evs[0].EventName)
	assert.Equal(t, types.ChunkID("a"), evs[0].Chunk)
	assert.Equal(t, types.BucketID("photos"), evs[0].Bucket)
	assert.Empty(t, evs[0].Errors)
	assert.Equal(t, 3, evs[0].BatchSize)
	assert.Equal(t, 2, evs[0].NewBlocks)
	assert.Equal(t, 1, evs[0].DeletedBlocks)
	assert.Equal(t, int64(1500), evs[0].DurationMs)
	assert.Equal(t, testTime, evs[0].EventTime)

	assert.Equal(t, EventBuildCompleted, evs[1].EventName)
	assert.Equal(t, types.ChunkID("c"), evs[1].Chunk)

	assert.Equal(t, EventBuildFailed, evs[2].EventName)
	assert.Equal(t, types.ChunkID("b"), evs[2].Chunk)
	assert.Equal(t, []string{"target refused"}, evs[2].Errors)
}

func TestBuildEvents_FailedEventFields(t *testing.T) {
	t.Parallel()

	evs := BuildEvents(testReport(), testTime)
	require.Len(t, evs, 3)

	want := &BuildEvent{
		EventName:     EventBuildFailed,
		EventTime:     testTime,
		Chunk:         "b",
		Bucket:        "photos",
		Errors:        []string{"target refused"},
		BatchSize:     3,
		NewBlocks:     2,
		DeletedBlocks: 1,
		DurationMs:    1500,
	}
	require.Empty(t, cmp.Diff(want, evs[2]))
}

func TestBuildEvents_Empty(t *testing.T) {
	t.Parallel()

	assert.Nil(t, BuildEvents(nil, testTime))
	assert.Empty(t, BuildEvents(&mapper.Report{Requested: 2}, testTime))
}

func TestBuildEvent_PartitionKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   BuildEvent
		want string
	}{
		{"bucket", BuildEvent{Chunk: "c1", Bucket: "photos"}, "photos"},
		{"no bucket", BuildEvent{Chunk: "c1"}, "c1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ev.PartitionKey())
		})
	}
}
