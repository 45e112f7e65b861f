package eventbus

import (
	"context"
	"fmt"
	"log/slog"

	"cutfab-backend/shared/events"
	"cutfab-backend/shared/logx"
	"cutfab-backend/shared/metricsx"
)

// InProcBus invokes every subscribed handler synchronously, in subscription
// order, on the publisher's goroutine. Publish returns only after all
// handlers for the event type have been attempted; a slow handler blocks the
// publisher. Handler failures and panics are logged, counted and swallowed.
type InProcBus struct {
	dispatcher *dispatcher
	logger     logx.Logger
	retry      RetryPolicy
}

func NewInProc(logger logx.Logger, retry RetryPolicy) *InProcBus {
	return &InProcBus{
		dispatcher: newDispatcher(),
		logger:     logger,
		retry:      retry,
	}
}

func (b *InProcBus) Publish(ctx context.Context, envelope events.Envelope) error {
	metricsx.IncEventPublished(envelope.EventType)
	for _, handler := range b.dispatcher.handlersFor(envelope.EventType) {
		b.deliver(ctx, handler, envelope)
	}
	return nil
}

func (b *InProcBus) Subscribe(eventType string, handler Handler) {
	b.dispatcher.subscribe(eventType, handler)
}

func (b *InProcBus) Unsubscribe(eventType string) {
	b.dispatcher.unsubscribe(eventType)
}

// deliver runs one handler under the retry policy, recovering panics so a
// misbehaving subscriber cannot unwind the publisher's stack.
func (b *InProcBus) deliver(ctx context.Context, handler Handler, envelope events.Envelope) {
	err := invokeWithRetry(ctx, handler, envelope, b.retry)
	if err == nil {
		metricsx.IncEventHandled(envelope.EventType)
		return
	}
	metricsx.IncEventDeadLettered(envelope.EventType)
	b.logger.Error(ctx, "event_handler_dead_letter", "event handler failed after retries",
		slog.String("event_type", envelope.EventType),
		slog.String("event_id", envelope.EventID.String()),
		slog.String("correlation_id", envelope.CorrelationID),
		slog.String("error", err.Error()),
	)
}

func invokeOnce(ctx context.Context, handler Handler, envelope events.Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(ctx, envelope)
}
