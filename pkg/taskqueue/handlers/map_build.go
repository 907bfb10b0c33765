// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers holds the taskqueue handlers that need packages the
// queue itself must not import.
package handlers

import (
	"context"
	"fmt"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/mapper"
	"github.com/LeeDigitalWorks/zapmap/pkg/taskqueue"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

// Runner builds one batch of chunk maps. *mapper.Builder implements it.
type Runner interface {
	Run(ctx context.Context, ids []types.ChunkID) (*mapper.Report, error)
}

// MapBuildHandler processes map_build tasks.
type MapBuildHandler struct {
	runner Runner
}

var _ taskqueue.Handler = (*MapBuildHandler)(nil)

// NewMapBuildHandler creates a new map build handler.
func NewMapBuildHandler(runner Runner) *MapBuildHandler {
	return &MapBuildHandler{runner: runner}
}

// Type returns the task type this handler processes.
func (h *MapBuildHandler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeMapBuild
}

// Handle runs one batch. A partially failed batch is returned as an error
// so the queue retries it; chunks that were already built are left alone
// on the next run.
func (h *MapBuildHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	payload, err := taskqueue.UnmarshalPayload[taskqueue.MapBuildPayload](task.Payload)
	if err != nil {
		return fmt.Errorf("%w: %w", taskqueue.ErrInvalidPayload, err)
	}
	if len(payload.ChunkIDs) == 0 {
		logger.Ctx(ctx).Debug().Str("task_id", task.ID).Msg("taskqueue: empty map build batch")
		return nil
	}

	report, err := h.runner.Run(ctx, payload.ChunkIDs)
	if err != nil {
		ev := logger.Ctx(ctx).Warn().
			Err(err).
			Str("task_id", task.ID).
			Int("chunks", len(payload.ChunkIDs)).
			Int("attempt", task.Attempts+1)
		if report != nil {
			ev = ev.Int("built", len(report.Built)).Int("failed", len(report.Failed))
		}
		ev.Msg("taskqueue: map build incomplete")
		return err
	}

	logger.Ctx(ctx).Debug().
		Str("task_id", task.ID).
		Int("built", len(report.Built)).
		Int("new_blocks", report.NewBlocks).
		Int("deleted_blocks", report.DeletedBlocks).
		Dur("duration", report.Duration).
		Msg("taskqueue: map build done")
	return nil
}
