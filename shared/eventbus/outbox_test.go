package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cutfab-backend/shared/events"
	"cutfab-backend/shared/logx"
)

type fakeOutboxStore struct {
	saved  []string
	topics []string
	err    error
}

func (s *fakeOutboxStore) SaveEnvelope(ctx context.Context, envelope events.Envelope, topic string) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, envelope.EventType)
	s.topics = append(s.topics, topic)
	return nil
}

func TestOutboxPublishPersistsInsteadOfDispatching(t *testing.T) {
	store := &fakeOutboxStore{}
	bus := NewOutbox(store, logx.NewNop(), RetryPolicy{MaxAttempts: 1})
	handled := 0
	bus.Subscribe("order.created", func(ctx context.Context, env events.Envelope) error {
		handled++
		return nil
	})

	env, err := events.New("order.created", "order", mustUUID(t), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := bus.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if handled != 0 {
		t.Fatalf("publish must not invoke local handlers, got %d calls", handled)
	}
	if len(store.saved) != 1 || store.saved[0] != "order.created" {
		t.Fatalf("expected one persisted envelope, got %v", store.saved)
	}
	if store.topics[0] != events.TopicFor("order.created") {
		t.Fatalf("unexpected topic: %s", store.topics[0])
	}
}

func TestOutboxPublishPropagatesStoreError(t *testing.T) {
	store := &fakeOutboxStore{err: errors.New("db down")}
	bus := NewOutbox(store, logx.NewNop(), RetryPolicy{MaxAttempts: 1})

	env, err := events.New("order.created", "order", mustUUID(t), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := bus.Publish(context.Background(), env); err == nil {
		t.Fatalf("expected publish to fail when the store fails")
	}
}

func TestOutboxDispatchInvokesSubscribers(t *testing.T) {
	store := &fakeOutboxStore{}
	bus := NewOutbox(store, logx.NewNop(), RetryPolicy{MaxAttempts: 1})
	var got []string
	bus.Subscribe("order.created", func(ctx context.Context, env events.Envelope) error {
		got = append(got, env.EventType)
		return nil
	})

	env, err := events.New("order.created", "order", mustUUID(t), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	bus.Dispatch(context.Background(), env)
	if len(got) != 1 {
		t.Fatalf("expected one dispatch delivery, got %v", got)
	}
	if len(store.saved) != 0 {
		t.Fatalf("dispatch must not write to the store")
	}
}
