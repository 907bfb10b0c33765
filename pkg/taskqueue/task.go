// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskqueue runs the builder's background work. A map_build task
// carries a batch of chunk ids; a build_event task carries one build
// outcome for the external publishers.
//
// DBQueue keeps tasks in the metadata database so several builders can
// share them. MemoryQueue serves tests and single-process runs.
package taskqueue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

const (
	DefaultPollInterval      = time.Second
	DefaultConcurrency       = 5
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultMaxRetries        = 3
)

type TaskType string

const (
	TaskTypeMapBuild   TaskType = "map_build"
	TaskTypeBuildEvent TaskType = "build_event"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusRunning    TaskStatus = "running"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusDeadLetter TaskStatus = "dead_letter"
	StatusCancelled  TaskStatus = "cancelled"
)

// Finished reports whether no worker will pick the task up again
func (s TaskStatus) Finished() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusDeadLetter:
		return true
	}
	return false
}

// TaskPriority orders dequeues; higher runs first
type TaskPriority int

const (
	PriorityLow    TaskPriority = 0
	PriorityNormal TaskPriority = 5
	PriorityHigh   TaskPriority = 10
	PriorityUrgent TaskPriority = 20
)

type Task struct {
	ID       string          `json:"id"`
	Type     TaskType        `json:"type"`
	Status   TaskStatus      `json:"status"`
	Priority TaskPriority    `json:"priority"`
	Payload  json.RawMessage `json:"payload"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	// CompletedAt is set once the task is finished, whatever the outcome
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"max_retries"`
	RetryAfter time.Time `json:"retry_after,omitempty"`
	LastError  string    `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	WorkerID  string    `json:"worker_id,omitempty"`
}

// ready reports whether a pending task may be dequeued at now
func (t *Task) ready(now time.Time) bool {
	if t.Status != StatusPending || t.ScheduledAt.After(now) {
		return false
	}
	return !t.RetryAfter.After(now)
}

// outranks orders dequeues: priority first, then the earlier schedule
func (t *Task) outranks(o *Task) bool {
	if t.Priority != o.Priority {
		return t.Priority > o.Priority
	}
	return t.ScheduledAt.Before(o.ScheduledAt)
}

type TaskFilter struct {
	Type   TaskType   `json:"type,omitempty"`
	Status TaskStatus `json:"status,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

func (f TaskFilter) matches(t *Task) bool {
	return (f.Type == "" || t.Type == f.Type) && (f.Status == "" || t.Status == f.Status)
}

// QueueStats counts tasks per status. ByType and OldestPending only
// consider pending tasks.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Running    int64 `json:"running"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	DeadLetter int64 `json:"dead_letter"`
	Cancelled  int64 `json:"cancelled"`

	ByType        map[TaskType]int64 `json:"by_type"`
	OldestPending *time.Time         `json:"oldest_pending,omitempty"`
}

func MarshalPayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

func UnmarshalPayload[T any](payload json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(payload, &v)
	return v, err
}

type MapBuildPayload struct {
	ChunkIDs []types.ChunkID `json:"chunk_ids"`
}

func NewMapBuildTask(ids []types.ChunkID) (*Task, error) {
	payload, err := MarshalPayload(MapBuildPayload{ChunkIDs: ids})
	if err != nil {
		return nil, err
	}
	return &Task{
		ID:         uuid.NewString(),
		Type:       TaskTypeMapBuild,
		Priority:   PriorityNormal,
		Payload:    payload,
		MaxRetries: DefaultMaxRetries,
	}, nil
}
