package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"cutfab-backend/shared/events"
	"cutfab-backend/shared/logx"
)

func newTestBus(retry RetryPolicy) *InProcBus {
	return NewInProc(logx.NewNop(), retry)
}

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse("00000000-0000-0000-0000-000000000001")
	if err != nil {
		t.Fatalf("parse uuid: %v", err)
	}
	return id
}

func envelope(t *testing.T, eventType string) events.Envelope {
	t.Helper()
	env, err := events.New(eventType, "order", mustUUID(t), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	return env
}

func TestPublishInvokesHandlersInSubscriptionOrder(t *testing.T) {
	bus := newTestBus(RetryPolicy{MaxAttempts: 1})
	var calls []string
	bus.Subscribe("order.created", func(ctx context.Context, env events.Envelope) error {
		calls = append(calls, "first")
		return nil
	})
	bus.Subscribe("order.created", func(ctx context.Context, env events.Envelope) error {
		calls = append(calls, "second")
		return nil
	})

	if err := bus.Publish(context.Background(), envelope(t, "order.created")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("expected ordered fan-out, got %v", calls)
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := newTestBus(RetryPolicy{MaxAttempts: 1})
	if err := bus.Publish(context.Background(), envelope(t, "order.created")); err != nil {
		t.Fatalf("publish with no subscribers: %v", err)
	}
}

func TestHandlerFailureDoesNotReachPublisher(t *testing.T) {
	bus := newTestBus(RetryPolicy{MaxAttempts: 1})
	var secondCalled bool
	bus.Subscribe("order.created", func(ctx context.Context, env events.Envelope) error {
		return errors.New("boom")
	})
	bus.Subscribe("order.created", func(ctx context.Context, env events.Envelope) error {
		secondCalled = true
		return nil
	})

	if err := bus.Publish(context.Background(), envelope(t, "order.created")); err != nil {
		t.Fatalf("publish must swallow handler errors, got %v", err)
	}
	if !secondCalled {
		t.Fatalf("failing handler must not block later subscribers")
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	bus := newTestBus(RetryPolicy{MaxAttempts: 1})
	var secondCalled bool
	bus.Subscribe("order.created", func(ctx context.Context, env events.Envelope) error {
		panic("handler exploded")
	})
	bus.Subscribe("order.created", func(ctx context.Context, env events.Envelope) error {
		secondCalled = true
		return nil
	})

	if err := bus.Publish(context.Background(), envelope(t, "order.created")); err != nil {
		t.Fatalf("publish must recover handler panics, got %v", err)
	}
	if !secondCalled {
		t.Fatalf("panicking handler must not block later subscribers")
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	bus := newTestBus(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	attempts := 0
	bus.Subscribe("order.created", func(ctx context.Context, env events.Envelope) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err := bus.Publish(context.Background(), envelope(t, "order.created")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	bus := newTestBus(RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond})
	attempts := 0
	bus.Subscribe("order.created", func(ctx context.Context, env events.Envelope) error {
		attempts++
		return errors.New("permanent")
	})

	if err := bus.Publish(context.Background(), envelope(t, "order.created")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestUnsubscribeDropsAllHandlers(t *testing.T) {
	bus := newTestBus(RetryPolicy{MaxAttempts: 1})
	calls := 0
	handler := func(ctx context.Context, env events.Envelope) error {
		calls++
		return nil
	}
	bus.Subscribe("order.created", handler)
	bus.Subscribe("order.created", handler)
	bus.Unsubscribe("order.created")

	if err := bus.Publish(context.Background(), envelope(t, "order.created")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no calls after unsubscribe, got %d", calls)
	}
}

func TestOnlyMatchingEventTypeIsDelivered(t *testing.T) {
	bus := newTestBus(RetryPolicy{MaxAttempts: 1})
	var got []string
	bus.Subscribe("order.created", func(ctx context.Context, env events.Envelope) error {
		got = append(got, env.EventType)
		return nil
	})

	if err := bus.Publish(context.Background(), envelope(t, "order.status-updated")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(context.Background(), envelope(t, "order.created")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 || got[0] != "order.created" {
		t.Fatalf("expected only order.created delivery, got %v", got)
	}
}

func TestRetryDelayBackoffIsCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond}
	if d := p.delay(1); d != 10*time.Millisecond {
		t.Fatalf("attempt 1 delay = %v", d)
	}
	if d := p.delay(2); d != 20*time.Millisecond {
		t.Fatalf("attempt 2 delay = %v", d)
	}
	if d := p.delay(4); d != 25*time.Millisecond {
		t.Fatalf("attempt 4 delay must cap at MaxDelay, got %v", d)
	}
}

func TestZeroPolicyStillAttemptsOnce(t *testing.T) {
	bus := newTestBus(RetryPolicy{})
	attempts := 0
	bus.Subscribe("order.created", func(ctx context.Context, env events.Envelope) error {
		attempts++
		return errors.New("fail")
	})
	if err := bus.Publish(context.Background(), envelope(t, "order.created")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt, got %d", attempts)
	}
}
