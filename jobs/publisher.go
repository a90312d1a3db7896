package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/economato/stock-ledger/internal/outbox"
)

// QueuePublisher forwards outbox events onto the audit queue. Implements
// outbox.Publisher.
type QueuePublisher struct {
	client *asynq.Client
}

// NewQueuePublisher constructs a publisher over an Asynq client.
func NewQueuePublisher(redisOpts asynq.RedisClientOpt) *QueuePublisher {
	return &QueuePublisher{client: asynq.NewClient(redisOpts)}
}

// Publish enqueues one event.
func (p *QueuePublisher) Publish(ctx context.Context, evt outbox.Event) error {
	task, err := NewAuditDeliverTask(evt)
	if err != nil {
		return err
	}
	_, err = p.client.EnqueueContext(ctx, task, asynq.Queue(QueueAudit))
	return err
}

// Close releases client resources.
func (p *QueuePublisher) Close() error {
	return p.client.Close()
}
