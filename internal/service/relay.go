package service

import (
	"context"

	"github.com/richardliu001/pix-acquirer/internal/model"
	"go.uber.org/zap"
)

// OutboxStore is the slice of the repository the relay needs.
type OutboxStore interface {
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	MarkOutboxProcessed(ctx context.Context, id uint64) error
}

// Relay forwards committed outbox rows to Kafka. Delivery is at least once.
type Relay struct {
	store OutboxStore
	batch int
	log   *zap.SugaredLogger
}

func NewRelay(store OutboxStore, batch int, logger *zap.SugaredLogger) *Relay {
	if batch <= 0 {
		batch = 100
	}
	return &Relay{store: store, batch: batch, log: logger}
}

// Flush publishes one batch and returns how many events were marked processed.
// An event that fails to publish stays unprocessed for the next flush.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.PollOutbox(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range events {
		if err := r.store.PublishEvent(ctx, evt); err != nil {
			r.log.Errorw("publish outbox event", "id", evt.ID, "type", evt.EventType, "error", err)
			continue
		}
		if err := r.store.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			r.log.Errorw("mark outbox processed", "id", evt.ID, "error", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		r.log.Debugw("outbox flushed", "sent", sent, "polled", len(events))
	}
	return sent, nil
}
