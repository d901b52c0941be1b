package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ascoderu/lokole-relay/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnceDeletesCompletedTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := queue.NewMemory("test", testLogger())
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, queue.Task{ResourceID: id}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	var handled []string
	consumer := NewConsumer("test", q, func(_ context.Context, task queue.Task) error {
		handled = append(handled, task.ResourceID)
		return nil
	}, Settings{}, testLogger())

	n, err := consumer.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if n != 3 || len(handled) != 3 {
		t.Fatalf("RunOnce() completed %d handled %d, want 3", n, len(handled))
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d after success, want 0", q.Len())
	}
}

func TestRunOnceLeavesFailedTasksForRedelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := queue.NewMemory("test", testLogger())
	if err := q.Enqueue(ctx, queue.Task{ResourceID: "bad"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := q.Enqueue(ctx, queue.Task{ResourceID: "good"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	consumer := NewConsumer("test", q, func(_ context.Context, task queue.Task) error {
		if task.ResourceID == "bad" {
			return errors.New("boom")
		}
		return nil
	}, Settings{}, testLogger())

	n, err := consumer.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("RunOnce() completed = %d, want 1", n)
	}
	if q.Len() != 1 {
		t.Errorf("queue length = %d, want the failed task kept", q.Len())
	}
}

func TestRunOnceHonorsBatchSize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := queue.NewMemory("test", testLogger())
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, queue.Task{ResourceID: id}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	consumer := NewConsumer("test", q, func(context.Context, queue.Task) error {
		return nil
	}, Settings{BatchSize: 2}, testLogger())

	n, err := consumer.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("RunOnce() completed = %d, want batch of 2", n)
	}
	if q.Len() != 1 {
		t.Errorf("queue length = %d, want 1 left for the next poll", q.Len())
	}
}

func TestRunOnceContainsHandlerPanics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := queue.NewMemory("test", testLogger())
	if err := q.Enqueue(ctx, queue.Task{ResourceID: "explosive"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	consumer := NewConsumer("test", q, func(context.Context, queue.Task) error {
		panic("kaboom")
	}, Settings{}, testLogger())

	n, err := consumer.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v, want panic contained", err)
	}
	if n != 0 {
		t.Errorf("RunOnce() completed = %d, want 0", n)
	}
	if q.Len() != 1 {
		t.Errorf("queue length = %d, want panicking task kept", q.Len())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	q := queue.NewMemory("test", testLogger())
	var polls atomic.Int32
	consumer := NewConsumer("test", q, func(context.Context, queue.Task) error {
		polls.Add(1)
		return nil
	}, Settings{PollInterval: time.Millisecond}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}
