// Package queue provides the at-least-once work queues decoupling the
// relay's pipeline stages.
package queue

import (
	"context"
	"time"
)

// Names of the relay's work queues.
const (
	InboundQueue = "inbound"
	WrittenQueue = "written"
	SendQueue    = "send"
)

// MaxDeliveries bounds redelivery of a failing message. Once a message has
// been handed out this many times without being deleted it is moved to the
// dead letter store instead of being redelivered.
const MaxDeliveries = 5

// Task is the payload of a queue message. Consumers tolerate the optional
// routing metadata being absent.
type Task struct {
	ResourceID    string `json:"resource_id"`
	ContainerName string `json:"container_name,omitempty"`
	Type          string `json:"_type,omitempty"`
	Version       string `json:"_version,omitempty"`
}

// Message is a dequeued task. It stays invisible to other consumers until
// its visibility timeout elapses; the consumer deletes it on success.
type Message struct {
	ID         int64
	Task       Task
	Deliveries int
}

// Queue durably hands tasks from producers to consumers at least once.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context, batch int, visibility time.Duration) ([]Message, error)
	Delete(ctx context.Context, message Message) error
}
