package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the immutable record broadcast after a state change. It is the
// same shape in memory, in the outbox table and on the Kafka wire.
type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	TenantID      uuid.UUID       `json:"tenant_id,omitempty"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// Event type catalog. Closed set: modules publish and subscribe by these
// names only.
const (
	TypeOrderCreated         = "order.created"
	TypeOrderStatusUpdated   = "order.status-updated"
	TypeOrderStatusRequested = "order.status-update-requested"
	TypeCuttingJobCreated    = "cutting-job.created"
	TypeCuttingJobCompleted  = "cutting-job.completed"
	TypeOptimizationDone     = "optimization.completed"
	TypeProductionCompleted  = "production.completed"
)

const (
	AggregateOrder      = "order"
	AggregateCuttingJob = "cutting-job"
	AggregateProduction = "production"
)

const (
	TopicOrderEvents      = "order.events"
	TopicCuttingJobEvents = "cutting-job.events"
	TopicProductionEvents = "production.events"
)

// TopicFor maps an event type to the Kafka topic the broker-backed adapter
// writes it to. Unknown types land on the cutting-job topic so nothing is
// silently dropped.
func TopicFor(eventType string) string {
	switch eventType {
	case TypeOrderCreated, TypeOrderStatusUpdated, TypeOrderStatusRequested:
		return TopicOrderEvents
	case TypeProductionCompleted:
		return TopicProductionEvents
	default:
		return TopicCuttingJobEvents
	}
}

// AllTopics lists every topic the consumer binary reads.
func AllTopics() []string {
	return []string{TopicOrderEvents, TopicCuttingJobEvents, TopicProductionEvents}
}

// New builds an envelope with a fresh event id and timestamp. The payload is
// marshalled immediately so later mutation of the source value cannot leak
// into an already published event.
func New(eventType string, aggregateType string, aggregateID uuid.UUID, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.New(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    time.Now().UTC(),
		Payload:       raw,
	}, nil
}

// WithCorrelation returns a copy carrying the correlation id.
func (e Envelope) WithCorrelation(correlationID string) Envelope {
	e.CorrelationID = correlationID
	return e
}

// WithTenant returns a copy scoped to a tenant.
func (e Envelope) WithTenant(tenantID uuid.UUID) Envelope {
	e.TenantID = tenantID
	return e
}

// DecodePayload unmarshals the payload into dest.
func (e Envelope) DecodePayload(dest any) error {
	return json.Unmarshal(e.Payload, dest)
}
