package workflow

import "strings"

// Cutting job lifecycle. Forward-only except the rework edges back to
// PENDING; COMPLETED is terminal.
const (
	JobStatusPending      = "PENDING"
	JobStatusOptimizing   = "OPTIMIZING"
	JobStatusOptimized    = "OPTIMIZED"
	JobStatusInProduction = "IN_PRODUCTION"
	JobStatusCompleted    = "COMPLETED"
)

var jobTransitions = map[string][]string{
	JobStatusPending:      {JobStatusOptimizing},
	JobStatusOptimizing:   {JobStatusOptimized, JobStatusPending},
	JobStatusOptimized:    {JobStatusInProduction, JobStatusPending},
	JobStatusInProduction: {JobStatusCompleted},
	JobStatusCompleted:    {},
}

// Order lifecycle mirrored by the order module.
const (
	OrderStatusDraft        = "DRAFT"
	OrderStatusConfirmed    = "CONFIRMED"
	OrderStatusInProduction = "IN_PRODUCTION"
	OrderStatusCompleted    = "COMPLETED"
	OrderStatusCancelled    = "CANCELLED"
)

var orderTransitions = map[string][]string{
	OrderStatusDraft:        {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:    {OrderStatusInProduction, OrderStatusCancelled},
	OrderStatusInProduction: {OrderStatusCompleted},
	OrderStatusCompleted:    {},
	OrderStatusCancelled:    {},
}

func NormalizeStatus(status string) string {
	return strings.ToUpper(strings.TrimSpace(status))
}

func IsJobStatus(status string) bool {
	_, ok := jobTransitions[NormalizeStatus(status)]
	return ok
}

// CanTransitionJob reports whether the job transition is in the fixed table.
// Same-status "transitions" are not allowed; the table is exhaustive.
func CanTransitionJob(fromStatus string, toStatus string) bool {
	return contains(jobTransitions[NormalizeStatus(fromStatus)], NormalizeStatus(toStatus))
}

func IsOrderStatus(status string) bool {
	_, ok := orderTransitions[NormalizeStatus(status)]
	return ok
}

func CanTransitionOrder(fromStatus string, toStatus string) bool {
	return contains(orderTransitions[NormalizeStatus(fromStatus)], NormalizeStatus(toStatus))
}

func AllJobStatuses() []string {
	return []string{
		JobStatusPending,
		JobStatusOptimizing,
		JobStatusOptimized,
		JobStatusInProduction,
		JobStatusCompleted,
	}
}

func AllOrderStatuses() []string {
	return []string{
		OrderStatusDraft,
		OrderStatusConfirmed,
		OrderStatusInProduction,
		OrderStatusCompleted,
		OrderStatusCancelled,
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
