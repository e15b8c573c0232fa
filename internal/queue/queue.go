package queue

import (
	"context"
	"time"
)

// Publisher defines the interface for publishing tasks to the queue.
// Implementation: NATS JetStream.
type Publisher interface {
	// PublishInvalidation queues a pool invalidation task.
	PublishInvalidation(ctx context.Context, task InvalidationTask) error

	// Close closes the publisher connection.
	Close() error
}

// Consumer defines the interface for consuming tasks from the queue.
type Consumer interface {
	// Start begins consuming messages and processing them with the handler.
	Start(ctx context.Context) error

	// Stop gracefully stops the consumer.
	Stop(ctx context.Context) error
}

// InvalidationTask asks the connector to drop the pooled resource for a
// tenant's backend, typically after the tenant's config changed or the
// tenant was deleted.
type InvalidationTask struct {
	TaskID    string    `json:"task_id"`
	TenantID  string    `json:"tenant_id"`
	TargetKey string    `json:"target_key,omitempty"` // resolved from the tenant record when empty
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// InvalidationHandler processes invalidation tasks.
type InvalidationHandler func(ctx context.Context, task InvalidationTask) error
