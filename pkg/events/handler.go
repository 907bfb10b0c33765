// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/taskqueue"
)

// DeliveryHandler processes build_event tasks by handing them to every
// publisher. A task is retried while any publisher fails, so subscribers
// must tolerate duplicates.
type DeliveryHandler struct {
	publishers []Publisher
}

var _ taskqueue.Handler = (*DeliveryHandler)(nil)

func NewDeliveryHandler(publishers []Publisher) *DeliveryHandler {
	return &DeliveryHandler{publishers: publishers}
}

// Type returns the task type this handler processes.
func (h *DeliveryHandler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeBuildEvent
}

// Handle delivers one event.
func (h *DeliveryHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	ev, err := taskqueue.UnmarshalPayload[BuildEvent](task.Payload)
	if err != nil {
		return fmt.Errorf("%w: %w", taskqueue.ErrInvalidPayload, err)
	}
	if ev.EventName == "" || ev.Chunk == "" {
		return fmt.Errorf("%w: event without name or chunk", taskqueue.ErrInvalidPayload)
	}

	if len(h.publishers) == 0 {
		droppedTotal.Inc()
		return nil
	}

	// Republish the payload as stored so every attempt sends the same bytes
	data := json.RawMessage(task.Payload)
	key := ev.PartitionKey()

	var errs []error
	for _, pub := range h.publishers {
		start := time.Now()
		err := pub.Publish(ctx, key, data)
		observeDelivery(pub.Name(), start, err)
		if err != nil {
			logger.Ctx(ctx).Warn().
				Err(err).
				Str("publisher", pub.Name()).
				Str("event", string(ev.EventName)).
				Str("chunk_id", ev.Chunk.String()).
				Msg("failed to publish build event")
			errs = append(errs, fmt.Errorf("%s: %w", pub.Name(), err))
		}
	}
	return errors.Join(errs...)
}
