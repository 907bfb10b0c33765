// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/utils"
)

var errNoHandler = errors.New("no handler registered")

// Worker runs registered handlers against tasks dequeued from a Queue
type Worker struct {
	id       string
	queue    Queue
	handlers map[TaskType]Handler
	cfg      WorkerConfig

	// stop ends the poll loops; handlers keep the context given to Start
	stop context.CancelFunc
	wg   sync.WaitGroup
}

type WorkerConfig struct {
	ID           string
	Queue        Queue
	PollInterval time.Duration
	Concurrency  int

	// HeartbeatInterval is how often a running task's lease is extended.
	// Defaults to a third of DefaultVisibilityTimeout.
	HeartbeatInterval time.Duration
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultVisibilityTimeout / 3
	}
	return &Worker{
		id:       cfg.ID,
		queue:    cfg.Queue,
		handlers: map[TaskType]Handler{},
		cfg:      cfg,
		stop:     func() {},
	}
}

// RegisterHandler adds h for its task type, replacing any earlier one.
// Call it before Start.
func (w *Worker) RegisterHandler(h Handler) {
	if h == nil {
		return
	}
	w.handlers[h.Type()] = h
	logger.Debug().Str("type", string(h.Type())).Msg("taskqueue: registered handler")
}

// HandlerTypes returns the registered task types in sorted order
func (w *Worker) HandlerTypes() []TaskType {
	return slices.Sorted(maps.Keys(w.handlers))
}

// Queue returns the queue the worker drains
func (w *Worker) Queue() Queue {
	return w.queue
}

// Start launches Concurrency poll loops. A worker without handlers does
// nothing.
func (w *Worker) Start(ctx context.Context) {
	kinds := w.HandlerTypes()
	if len(kinds) == 0 {
		logger.Warn().Str("worker_id", w.id).Msg("taskqueue: no handlers registered, worker idle")
		return
	}

	loopCtx, stop := context.WithCancel(ctx)
	w.stop = stop
	for range w.cfg.Concurrency {
		w.wg.Go(func() {
			WorkerActive.Inc()
			defer WorkerActive.Dec()
			w.poll(loopCtx, ctx, kinds)
		})
	}
	logger.Info().
		Str("worker_id", w.id).
		Int("concurrency", w.cfg.Concurrency).
		Int("handlers", len(kinds)).
		Msg("taskqueue: worker started")
}

// Stop ends polling and waits for in-flight tasks to finish
func (w *Worker) Stop() {
	w.stop()
	w.wg.Wait()
	logger.Info().Str("worker_id", w.id).Msg("taskqueue: worker stopped")
}

// poll drains the queue on every tick until loopCtx ends. Tasks run with
// taskCtx so Stop does not abort them.
func (w *Worker) poll(loopCtx, taskCtx context.Context, kinds []TaskType) {
	for range utils.JitteredTicker(loopCtx, w.cfg.PollInterval, 0.1) {
		for loopCtx.Err() == nil && w.processOne(taskCtx, kinds) {
		}
	}
}

// processOne runs at most one task and reports whether one was dequeued
func (w *Worker) processOne(ctx context.Context, kinds []TaskType) bool {
	task, err := w.queue.Dequeue(ctx, w.id, kinds...)
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case err != nil:
		DequeueErrors.Inc()
		logger.Error().Err(err).Str("worker_id", w.id).Msg("taskqueue: dequeue failed")
		return false
	case task == nil:
		return false
	}

	log := logger.With().
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Int("attempt", task.Attempts).
		Logger()

	err = errNoHandler
	if h, ok := w.handlers[task.Type]; ok {
		log.Debug().Msg("taskqueue: running task")
		start := time.Now()
		err = w.runLeased(logger.WithLogger(ctx, &log), task, h)
		TaskProcessingDuration.WithLabelValues(string(task.Type)).Observe(time.Since(start).Seconds())
	}
	if err := w.settle(ctx, &log, task, err); err != nil {
		log.Error().Err(err).Msg("taskqueue: failed to record task outcome")
	}
	return true
}

// settle moves task to the state matching the handler result
func (w *Worker) settle(ctx context.Context, log *zerolog.Logger, task *Task, result error) error {
	kind := string(task.Type)
	switch {
	case result == nil:
		TasksProcessedTotal.WithLabelValues(kind, "completed").Inc()
		log.Debug().Msg("taskqueue: task completed")
		return w.queue.Complete(ctx, task.ID)
	case errors.Is(result, ErrInvalidPayload):
		TasksProcessedTotal.WithLabelValues(kind, "invalid").Inc()
		log.Error().Err(result).Msg("taskqueue: cancelling task with invalid payload")
		return w.queue.Cancel(ctx, task.ID)
	case errors.Is(result, errNoHandler):
		TasksProcessedTotal.WithLabelValues(kind, "no_handler").Inc()
		log.Error().Msg("taskqueue: no handler for task type")
	default:
		TasksProcessedTotal.WithLabelValues(kind, "failed").Inc()
		log.Warn().Err(result).Msg("taskqueue: task failed")
		if task.Attempts+1 < task.MaxRetries {
			TaskRetries.WithLabelValues(kind).Inc()
		}
	}
	return w.queue.Fail(ctx, task.ID, result)
}

// runLeased runs h while a sidecar goroutine keeps the task's lease alive
func (w *Worker) runLeased(ctx context.Context, task *Task, h Handler) error {
	leaseCtx, release := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer release()

	wg.Go(func() {
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
				if err := w.queue.Heartbeat(leaseCtx, task.ID, w.id); err != nil {
					logger.Ctx(ctx).Warn().Err(err).Msg("taskqueue: heartbeat failed")
				}
			}
		}
	})
	return h.Handle(ctx, task)
}
