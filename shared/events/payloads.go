package events

import "github.com/google/uuid"

// Typed payloads for the event catalog. Subscribers decode into these with
// Envelope.DecodePayload; extra fields from older producers are ignored.

type OrderCreatedPayload struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Status      string    `json:"status"`
	ItemCount   int       `json:"item_count"`
}

type OrderStatusUpdatedPayload struct {
	OrderID    uuid.UUID `json:"order_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
}

// OrderStatusRequestedPayload asks the order module to apply a transition.
// Fire-and-forget: the requester never learns whether it was applied.
type OrderStatusRequestedPayload struct {
	OrderID  uuid.UUID `json:"order_id"`
	ToStatus string    `json:"to_status"`
	Reason   string    `json:"reason,omitempty"`
}

type CuttingJobCreatedPayload struct {
	JobID     uuid.UUID `json:"job_id"`
	JobNumber string    `json:"job_number"`
	ItemCount int       `json:"item_count"`
}

type CuttingJobCompletedPayload struct {
	JobID         uuid.UUID `json:"job_id"`
	JobNumber     string    `json:"job_number"`
	ScenarioCount int       `json:"scenario_count"`
}

type OptimizationCompletedPayload struct {
	JobID         uuid.UUID `json:"job_id"`
	ScenarioCount int       `json:"scenario_count"`
	WastePercent  float64   `json:"waste_percent,omitempty"`
}

type ProductionCompletedPayload struct {
	JobID      uuid.UUID `json:"job_id"`
	JobNumber  string    `json:"job_number"`
	OperatorID string    `json:"operator_id,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}
