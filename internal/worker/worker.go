// Package worker pulls tasks off a queue and feeds them to a handler.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ascoderu/lokole-relay/internal/queue"
)

// Handler processes one dequeued task. A nil return deletes the task, any
// error leaves it on the queue for redelivery.
type Handler func(ctx context.Context, task queue.Task) error

// Settings tunes a consumer's poll loop. Zero values fall back to the
// defaults.
type Settings struct {
	BatchSize    int
	Visibility   time.Duration
	PollInterval time.Duration
}

const (
	defaultBatchSize    = 10
	defaultVisibility   = time.Minute
	defaultPollInterval = time.Second
)

// Consumer polls a queue on an interval and dispatches each message to its
// handler. Handler panics are contained so one bad task cannot take the
// poll loop down.
type Consumer struct {
	name       string
	queue      queue.Queue
	handler    Handler
	batchSize  int
	visibility time.Duration
	interval   time.Duration
	logger     *slog.Logger
}

func NewConsumer(name string, q queue.Queue, handler Handler, settings Settings, logger *slog.Logger) *Consumer {
	if settings.BatchSize <= 0 {
		settings.BatchSize = defaultBatchSize
	}
	if settings.Visibility <= 0 {
		settings.Visibility = defaultVisibility
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = defaultPollInterval
	}
	return &Consumer{
		name:       name,
		queue:      q,
		handler:    handler,
		batchSize:  settings.BatchSize,
		visibility: settings.Visibility,
		interval:   settings.PollInterval,
		logger:     logger,
	}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("worker started", "worker", c.name)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("worker stopped", "worker", c.name)
			return
		case <-ticker.C:
		}
		if _, err := c.RunOnce(ctx); err != nil {
			c.logger.Error("worker poll failed", "worker", c.name, "error", err)
		}
	}
}

// RunOnce dequeues one batch and reports how many tasks completed.
func (c *Consumer) RunOnce(ctx context.Context) (int, error) {
	msgs, err := c.queue.Dequeue(ctx, c.batchSize, c.visibility)
	if err != nil {
		return 0, fmt.Errorf("dequeue: %w", err)
	}

	completed := 0
	for _, msg := range msgs {
		if err := c.handle(ctx, msg.Task); err != nil {
			c.logger.Error("task failed", "worker", c.name, "message_id", msg.ID, "deliveries", msg.Deliveries, "error", err)
			continue
		}
		if err := c.queue.Delete(ctx, msg); err != nil {
			c.logger.Error("delete completed task", "worker", c.name, "message_id", msg.ID, "error", err)
			continue
		}
		completed++
	}
	return completed, nil
}

func (c *Consumer) handle(ctx context.Context, task queue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, task)
}
