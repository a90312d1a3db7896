package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/economato/stock-ledger/internal/outbox"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries forwarded audit events.
	QueueAudit = "audit"

	// TaskVerifyAllChains triggers a full integrity sweep.
	TaskVerifyAllChains = "ledger:verify_all"
	// TaskDeliverAuditEvent carries one audit event off the outbox.
	TaskDeliverAuditEvent = "audit:deliver"
)

// AuditEventPayload wraps an outbox event for queue transport.
type AuditEventPayload struct {
	Topic   string          `json:"topic"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// NewVerifyAllTask constructs the integrity sweep task.
func NewVerifyAllTask() *asynq.Task {
	return asynq.NewTask(TaskVerifyAllChains, nil)
}

// NewAuditDeliverTask constructs a delivery task for one audit event.
func NewAuditDeliverTask(evt outbox.Event) (*asynq.Task, error) {
	data, err := json.Marshal(AuditEventPayload{
		Topic:   evt.Topic,
		Key:     evt.Key,
		Payload: evt.Payload,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeliverAuditEvent, data), nil
}

// AuditDeliveryHandler is the terminal consumer on the audit queue. Downstream
// systems subscribe here; the default handler records the delivery.
type AuditDeliveryHandler struct {
	logger *slog.Logger
}

// NewAuditDeliveryHandler constructs the handler.
func NewAuditDeliveryHandler(logger *slog.Logger) *AuditDeliveryHandler {
	return &AuditDeliveryHandler{logger: logger}
}

// HandleTask processes TaskDeliverAuditEvent tasks.
func (h *AuditDeliveryHandler) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload AuditEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	h.logger.Info("audit event delivered",
		slog.String("topic", payload.Topic),
		slog.String("key", payload.Key))
	return nil
}
