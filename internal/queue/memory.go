package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Memory is an in-process Queue with the same delivery semantics as the
// sqlite implementation, used by the memory storage driver and by tests.
type Memory struct {
	name   string
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	nextID int64
	items  []*memoryItem
	dead   []*memoryItem
}

type memoryItem struct {
	id         int64
	payload    []byte
	visibleAt  time.Time
	deliveries int
}

func NewMemory(name string, logger *slog.Logger) *Memory {
	return &Memory{name: name, logger: logger, now: time.Now}
}

func (q *Memory) Enqueue(_ context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	q.enqueuePayload(payload)
	return nil
}

// EnqueueRaw persists an arbitrary payload, the way an external producer
// writing straight to the backing queue would.
func (q *Memory) EnqueueRaw(payload []byte) {
	q.enqueuePayload(payload)
}

func (q *Memory) enqueuePayload(payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.items = append(q.items, &memoryItem{
		id:        q.nextID,
		payload:   payload,
		visibleAt: q.now(),
	})
}

func (q *Memory) Dequeue(_ context.Context, batch int, visibility time.Duration) ([]Message, error) {
	if batch <= 0 {
		batch = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()

	var messages []Message
	kept := q.items[:0]
	for _, item := range q.items {
		if len(messages) >= batch || item.visibleAt.After(now) {
			kept = append(kept, item)
			continue
		}

		var task Task
		if err := json.Unmarshal(item.payload, &task); err != nil {
			q.logger.Warn("dropping unparseable queue message",
				"queue", q.name, "id", item.id, "error", err)
			continue
		}

		if item.deliveries+1 > MaxDeliveries {
			q.logger.Warn("dead-lettering queue message",
				"queue", q.name, "id", item.id, "deliveries", item.deliveries)
			q.dead = append(q.dead, item)
			continue
		}

		item.deliveries++
		item.visibleAt = now.Add(visibility)
		kept = append(kept, item)
		messages = append(messages, Message{ID: item.id, Task: task, Deliveries: item.deliveries})
	}
	q.items = kept
	return messages, nil
}

func (q *Memory) Delete(_ context.Context, message Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.id == message.ID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	return nil
}

// DeadLettered reports how many messages were moved aside after exhausting
// their deliveries.
func (q *Memory) DeadLettered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dead)
}

// Len reports how many messages are queued, visible or not.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
