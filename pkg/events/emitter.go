// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/mapper"
	"github.com/LeeDigitalWorks/zapmap/pkg/taskqueue"
)

// Emitter queues build events for async delivery via the taskqueue.
// Enqueue failures are logged and counted, never returned: a build is not
// undone because its notification could not be queued.
type Emitter struct {
	queue   taskqueue.Queue
	enabled bool
	now     func() time.Time

	sequencer atomic.Uint64
}

var _ mapper.Notifier = (*Emitter)(nil)

// EmitterConfig configures the event emitter.
type EmitterConfig struct {
	// Queue persists events. If nil, events are dropped.
	Queue   taskqueue.Queue
	Enabled bool
}

// NewEmitter creates an event emitter.
func NewEmitter(cfg EmitterConfig) *Emitter {
	return &Emitter{
		queue:   cfg.Queue,
		enabled: cfg.Enabled && cfg.Queue != nil,
		now:     time.Now,
	}
}

// NoopEmitter returns an emitter that drops all events.
func NoopEmitter() *Emitter {
	return &Emitter{enabled: false, now: time.Now}
}

// IsEnabled reports whether events are being queued
func (e *Emitter) IsEnabled() bool {
	return e.enabled
}

// BuildFinished queues one event per chunk of the report.
func (e *Emitter) BuildFinished(ctx context.Context, report *mapper.Report) {
	for _, ev := range BuildEvents(report, e.now()) {
		e.Emit(ctx, ev)
	}
}

// Emit queues ev as a low priority build_event task. Missing sequencer
// and event time are filled in.
func (e *Emitter) Emit(ctx context.Context, ev *BuildEvent) {
	if !e.enabled {
		droppedTotal.Inc()
		return
	}
	if ev.Sequencer == "" {
		ev.Sequencer = e.nextSequencer()
	}
	if ev.EventTime.IsZero() {
		ev.EventTime = e.now().UTC()
	}
	log := logger.Ctx(ctx).With().
		Str("event", string(ev.EventName)).
		Str("chunk_id", ev.Chunk.String()).
		Logger()

	payload, err := taskqueue.MarshalPayload(ev)
	if err != nil {
		emitErrorsTotal.WithLabelValues("marshal").Inc()
		log.Warn().Err(err).Msg("build event not serializable")
		return
	}
	task := &taskqueue.Task{
		ID:         uuid.NewString(),
		Type:       taskqueue.TaskTypeBuildEvent,
		Status:     taskqueue.StatusPending,
		Priority:   taskqueue.PriorityLow,
		Payload:    payload,
		MaxRetries: taskqueue.DefaultMaxRetries,
	}
	if err := e.queue.Enqueue(ctx, task); err != nil {
		emitErrorsTotal.WithLabelValues("enqueue").Inc()
		log.Warn().Err(err).Msg("failed to queue build event")
		return
	}
	emittedTotal.WithLabelValues(string(ev.EventName)).Inc()
	log.Debug().Str("task_id", task.ID).Msg("queued build event")
}

// nextSequencer returns 6 bytes of unix millis, a 2 byte counter and 4
// random bytes, hex encoded, so values from one process sort in emission
// order.
func (e *Emitter) nextSequencer() string {
	var b [12]byte
	binary.BigEndian.PutUint64(b[:8], uint64(e.now().UnixMilli())<<16|e.sequencer.Add(1)&0xffff)
	_, _ = rand.Read(b[8:])
	return hex.EncodeToString(b[:])
}
