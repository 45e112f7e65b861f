package order

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"cutfab-backend/api/internal/repos"
	"cutfab-backend/shared/eventbus"
	"cutfab-backend/shared/events"
	"cutfab-backend/shared/workflow"
)

func (s *Service) SubscribeEvents(bus eventbus.Bus) {
	bus.Subscribe(events.TypeOrderStatusRequested, s.HandleStatusRequested)
	bus.Subscribe(events.TypeCuttingJobCompleted, s.HandleCuttingJobCompleted)
	bus.Subscribe(events.TypeProductionCompleted, s.HandleProductionCompleted)
}

// HandleStatusRequested applies a transition another module asked for over
// the bus. The requester never learns the outcome; an impossible transition
// is logged and dropped rather than retried, since re-delivery cannot make
// it legal.
func (s *Service) HandleStatusRequested(ctx context.Context, envelope events.Envelope) error {
	var payload events.OrderStatusRequestedPayload
	if err := envelope.DecodePayload(&payload); err != nil {
		return err
	}
	if !workflow.IsOrderStatus(payload.ToStatus) {
		s.logger.Warn(ctx, "order_status_request_invalid", "requested status does not exist",
			slog.String("order_id", payload.OrderID.String()),
			slog.String("to_status", payload.ToStatus))
		return nil
	}
	return s.applyTransition(ctx, payload.OrderID, workflow.NormalizeStatus(payload.ToStatus), payload.Reason)
}

// HandleCuttingJobCompleted moves the orders behind a finished cutting job
// into production. Orders already past CONFIRMED are left alone.
func (s *Service) HandleCuttingJobCompleted(ctx context.Context, envelope events.Envelope) error {
	var payload events.CuttingJobCompletedPayload
	if err := envelope.DecodePayload(&payload); err != nil {
		return err
	}
	return s.rippleJobUpdate(ctx, payload.JobID, workflow.OrderStatusInProduction, "cutting job "+payload.JobNumber+" completed")
}

// HandleProductionCompleted closes out orders once their parts left the shop
// floor. Best effort per order; a remaining open job for the same order will
// simply fail the transition later and be dropped.
func (s *Service) HandleProductionCompleted(ctx context.Context, envelope events.Envelope) error {
	var payload events.ProductionCompletedPayload
	if err := envelope.DecodePayload(&payload); err != nil {
		return err
	}
	return s.rippleJobUpdate(ctx, payload.JobID, workflow.OrderStatusCompleted, "production for job "+payload.JobNumber+" completed")
}

func (s *Service) rippleJobUpdate(ctx context.Context, jobID uuid.UUID, toStatus string, reason string) error {
	orderIDs, err := s.store.OrderIDsForJobItems(ctx, jobID)
	if err != nil {
		return err
	}
	for _, orderID := range orderIDs {
		if err := s.applyTransition(ctx, orderID, toStatus, reason); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyTransition(ctx context.Context, orderID uuid.UUID, toStatus string, reason string) error {
	before, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, repos.ErrNotFound) {
		s.logger.Warn(ctx, "order_transition_orphaned", "transition requested for unknown order",
			slog.String("order_id", orderID.String()))
		return nil
	}
	if err != nil {
		return err
	}
	if before.Status == toStatus {
		return nil
	}

	order, err := s.store.UpdateOrderStatus(ctx, orderID, toStatus)
	if errors.Is(err, repos.ErrInvalidOrderTransition) {
		s.logger.Debug(ctx, "order_transition_dropped", "event-driven transition not legal from current status",
			slog.String("order_id", orderID.String()),
			slog.String("from", before.Status),
			slog.String("to", toStatus),
			slog.String("reason", reason))
		return nil
	}
	if err != nil {
		return err
	}

	s.invalidate(ctx, orderID)
	s.publish(ctx, events.TypeOrderStatusUpdated, order.ID, events.OrderStatusUpdatedPayload{
		OrderID:    order.ID,
		FromStatus: before.Status,
		ToStatus:   order.Status,
	})
	return nil
}
