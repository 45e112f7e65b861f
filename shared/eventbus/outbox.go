package eventbus

import (
	"context"
	"log/slog"

	"cutfab-backend/shared/events"
	"cutfab-backend/shared/logx"
	"cutfab-backend/shared/metricsx"
)

// OutboxStore persists an envelope durably, typically in the same database
// that holds the state change that produced it. The relay worker drains the
// store to the broker.
type OutboxStore interface {
	SaveEnvelope(ctx context.Context, envelope events.Envelope, topic string) error
}

// OutboxBus is the at-least-once variant of the broker-backed adapter:
// Publish writes the envelope to the outbox table and returns; the relay
// worker carries it to Kafka, and the consumer binary dispatches it to
// subscribers. Like KafkaBus, subscriptions registered on this bus never fire
// in the publishing process.
type OutboxBus struct {
	store      OutboxStore
	dispatcher *dispatcher
	logger     logx.Logger
	retry      RetryPolicy
}

func NewOutbox(store OutboxStore, logger logx.Logger, retry RetryPolicy) *OutboxBus {
	return &OutboxBus{
		store:      store,
		dispatcher: newDispatcher(),
		logger:     logger,
		retry:      retry,
	}
}

func (b *OutboxBus) Publish(ctx context.Context, envelope events.Envelope) error {
	if err := b.store.SaveEnvelope(ctx, envelope, events.TopicFor(envelope.EventType)); err != nil {
		return err
	}
	metricsx.IncEventPublished(envelope.EventType)
	return nil
}

func (b *OutboxBus) Subscribe(eventType string, handler Handler) {
	b.dispatcher.subscribe(eventType, handler)
}

func (b *OutboxBus) Unsubscribe(eventType string) {
	b.dispatcher.unsubscribe(eventType)
}

// Dispatch delivers an envelope fetched from the broker to local
// subscribers, with the same retry and dead-letter treatment as the other
// adapters.
func (b *OutboxBus) Dispatch(ctx context.Context, envelope events.Envelope) {
	for _, handler := range b.dispatcher.handlersFor(envelope.EventType) {
		err := invokeWithRetry(ctx, handler, envelope, b.retry)
		if err == nil {
			metricsx.IncEventHandled(envelope.EventType)
			continue
		}
		metricsx.IncEventDeadLettered(envelope.EventType)
		b.logger.Error(ctx, "event_handler_dead_letter", "event handler failed after retries",
			slog.String("event_type", envelope.EventType),
			slog.String("event_id", envelope.EventID.String()),
			slog.String("error", err.Error()),
		)
	}
}
