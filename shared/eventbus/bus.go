// Package eventbus carries domain events between modules. Publishers and
// subscribers see one Bus interface; the adapter behind it (in-process
// synchronous fan-out or Kafka) is chosen once at boot and never leaks.
package eventbus

import (
	"context"

	"cutfab-backend/shared/events"
)

// Handler reacts to one envelope. A handler error is logged and counted by
// the adapter but never reaches the publisher.
type Handler func(ctx context.Context, envelope events.Envelope) error

// Bus is the pub/sub contract shared by both adapters.
//
// Subscribe registrations accumulate: subscribing twice for the same event
// type keeps both handlers, invoked in subscription order. Unsubscribe drops
// every handler for the type. Both are expected to run only during module
// install at boot; the subscriber map is not guarded for concurrent mutation
// after that.
type Bus interface {
	Publish(ctx context.Context, envelope events.Envelope) error
	Subscribe(eventType string, handler Handler)
	Unsubscribe(eventType string)
}

// dispatcher holds the subscription table shared by both adapters. The
// in-process adapter dispatches on publish; the Kafka adapter dispatches when
// the consumer binary hands it a fetched envelope.
type dispatcher struct {
	handlers map[string][]Handler
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[string][]Handler)}
}

func (d *dispatcher) subscribe(eventType string, handler Handler) {
	if handler == nil {
		return
	}
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

func (d *dispatcher) unsubscribe(eventType string) {
	delete(d.handlers, eventType)
}

func (d *dispatcher) handlersFor(eventType string) []Handler {
	return d.handlers[eventType]
}
