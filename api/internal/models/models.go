package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Tenant struct {
	TenantID  uuid.UUID
	Slug      string
	Name      string
	CreatedAt time.Time
}

// CuttingJob groups order-item quantities sharing one material type and
// thickness through the optimization/production lifecycle. Items exist only
// while the job is PENDING mutable; afterwards only Status may change.
type CuttingJob struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	JobNumber      string
	MaterialTypeID uuid.UUID
	Thickness      float64
	Status         string
	ScenarioCount  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CuttingJobItem is owned by exactly one job at a time. Quantity is always
// positive; merge and split reassign ownership while conserving quantity.
type CuttingJobItem struct {
	ID          uuid.UUID
	JobID       uuid.UUID
	OrderItemID uuid.UUID
	Quantity    int
	CreatedAt   time.Time
}

type Order struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	OrderNumber string
	CustomerID  uuid.UUID
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderItem carries the material pair used as the auto-generate grouping key.
// AssignedQuantity tracks how much of it already belongs to cutting jobs.
type OrderItem struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	MaterialTypeID   uuid.UUID
	Thickness        float64
	Quantity         int
	AssignedQuantity int
	CreatedAt        time.Time
}

// Remaining is the quantity not yet assigned to any cutting job.
func (i OrderItem) Remaining() int {
	return i.Quantity - i.AssignedQuantity
}

type OutboxEvent struct {
	EventID       uuid.UUID
	TenantID      uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	Topic         string
	Payload       json.RawMessage
	Status        string
	Attempts      int
	NextRetryAt   *time.Time
	LockedAt      *time.Time
	LockedBy      *string
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PublishedAt   *time.Time
}

type AuditLog struct {
	AuditID      uuid.UUID
	OccurredAt   time.Time
	TenantID     uuid.UUID
	ActorSubject string
	Action       string
	ResourceType *string
	ResourceID   *string
	RequestID    string
	Method       string
	Path         string
	StatusCode   int
	DurationMS   int64
	ClientIP     string
	Details      []byte
}
