// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"errors"
	"time"

	"github.com/LeeDigitalWorks/zapmap/pkg/mapper"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

// EventType names a build outcome.
type EventType string

const (
	EventBuildCompleted EventType = "chunk.build.completed"
	EventBuildFailed    EventType = "chunk.build.failed"
)

// BuildEvent is the message published for one chunk of a finished batch.
type BuildEvent struct {
	EventName EventType      `json:"eventName"`
	EventTime time.Time      `json:"eventTime"`
	Sequencer string         `json:"sequencer"`
	Chunk     types.ChunkID  `json:"chunk"`
	Bucket    types.BucketID `json:"bucket"`
	// Errors lists the causes of a failed build
	Errors []string `json:"errors,omitempty"`

	// Batch-level figures, repeated on every event of the batch
	BatchSize     int   `json:"batchSize"`
	NewBlocks     int   `json:"newBlocks"`
	DeletedBlocks int   `json:"deletedBlocks"`
	DurationMs    int64 `json:"durationMs"`
}

// BuildEvents expands a report into one event per built or failed chunk.
// Sequencer is left for the emitter to fill.
func BuildEvents(report *mapper.Report, at time.Time) []*BuildEvent {
	if report == nil {
		return nil
	}

	var buildErr *mapper.BuildError
	errors.As(report.Err, &buildErr)

	newEvent := func(name EventType, id types.ChunkID) *BuildEvent {
		return &BuildEvent{
			EventName:     name,
			EventTime:     at.UTC(),
			Chunk:         id,
			Bucket:        report.Buckets[id],
			BatchSize:     report.Requested,
			NewBlocks:     report.NewBlocks,
			DeletedBlocks: report.DeletedBlocks,
			DurationMs:    report.Duration.Milliseconds(),
		}
	}

	out := make([]*BuildEvent, 0, len(report.Built)+len(report.Failed))
	for _, id := range report.Built {
		out = append(out, newEvent(EventBuildCompleted, id))
	}
	for _, id := range report.Failed {
		ev := newEvent(EventBuildFailed, id)
		if buildErr != nil {
			for _, err := range buildErr.ChunkErrors(id) {
				ev.Errors = append(ev.Errors, err.Error())
			}
		}
		out = append(out, ev)
	}
	return out
}

// PartitionKey groups the events of one bucket on the same Kafka partition
// and Redis channel. Chunks without a bucket fall back to their own id.
func (e *BuildEvent) PartitionKey() string {
	if e.Bucket != "" {
		return string(e.Bucket)
	}
	return e.Chunk.String()
}
