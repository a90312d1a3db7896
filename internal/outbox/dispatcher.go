package outbox

import (
	"context"
	"log/slog"
	"time"
)

// Source lists and removes pending events. Implemented by Store.
type Source interface {
	ListOldest(ctx context.Context, limit int) ([]Event, error)
	Delete(ctx context.Context, id int64) error
}

// Publisher forwards one event to the message queue.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Dispatcher polls the outbox and forwards events oldest-first, deleting each
// row only after the publisher accepted it. Failed events stay in the table
// and are retried on the next pass.
type Dispatcher struct {
	source    Source
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(source Source, publisher Publisher, logger *slog.Logger, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Dispatcher{
		source:    source,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: 100,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.Drain(ctx); err != nil {
				d.logger.Error("outbox drain", slog.Any("error", err))
			}
		}
	}
}

// Drain forwards one batch of pending events and reports how many were
// delivered. A publish failure stops the pass so ordering is preserved.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	events, err := d.source.ListOldest(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, evt := range events {
		if err := d.publisher.Publish(ctx, evt); err != nil {
			d.logger.Warn("outbox publish failed",
				slog.Int64("id", evt.ID),
				slog.String("topic", evt.Topic),
				slog.Any("error", err))
			return delivered, err
		}
		if err := d.source.Delete(ctx, evt.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
	if delivered > 0 {
		d.logger.Debug("outbox drained", slog.Int("delivered", delivered))
	}
	return delivered, nil
}
