package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"cutfab-backend/shared/events"
	"cutfab-backend/shared/logx"
	"cutfab-backend/shared/metricsx"
	"cutfab-backend/shared/mqx"
)

// KafkaBus enqueues envelopes on the topic derived from their event type and
// returns as soon as the write is acknowledged. Delivery to subscribers
// happens out of process: the consumer binary fetches envelopes and feeds
// them back through Dispatch.
type KafkaBus struct {
	producer   *mqx.Producer
	dispatcher *dispatcher
	logger     logx.Logger
	retry      RetryPolicy
}

func NewKafka(producer *mqx.Producer, logger logx.Logger, retry RetryPolicy) *KafkaBus {
	return &KafkaBus{
		producer:   producer,
		dispatcher: newDispatcher(),
		logger:     logger,
		retry:      retry,
	}
}

func (b *KafkaBus) Publish(ctx context.Context, envelope events.Envelope) error {
	value, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	headers := map[string]string{"event_type": envelope.EventType}
	if envelope.CorrelationID != "" {
		headers["correlation_id"] = envelope.CorrelationID
	}
	if err := b.producer.Publish(ctx, events.TopicFor(envelope.EventType), []byte(envelope.AggregateID.String()), value, headers); err != nil {
		return err
	}
	metricsx.IncEventPublished(envelope.EventType)
	return nil
}

func (b *KafkaBus) Subscribe(eventType string, handler Handler) {
	b.dispatcher.subscribe(eventType, handler)
}

func (b *KafkaBus) Unsubscribe(eventType string) {
	b.dispatcher.unsubscribe(eventType)
}

// Dispatch delivers a fetched envelope to the local subscribers. Failures
// follow the same retry-then-dead-letter policy as the in-process adapter;
// the returned commit decision is always to proceed, so a poisonous envelope
// cannot wedge the consumer group.
func (b *KafkaBus) Dispatch(ctx context.Context, envelope events.Envelope) {
	handlers := b.dispatcher.handlersFor(envelope.EventType)
	if len(handlers) == 0 {
		return
	}
	for _, handler := range handlers {
		if err := invokeWithRetry(ctx, handler, envelope, b.retry); err != nil {
			metricsx.IncEventDeadLettered(envelope.EventType)
			b.logger.Error(ctx, "event_handler_dead_letter", "event handler failed after retries",
				slog.String("event_type", envelope.EventType),
				slog.String("event_id", envelope.EventID.String()),
				slog.String("correlation_id", envelope.CorrelationID),
				slog.String("error", err.Error()),
			)
			continue
		}
		metricsx.IncEventHandled(envelope.EventType)
	}
}
