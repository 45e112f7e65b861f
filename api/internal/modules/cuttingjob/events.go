package cuttingjob

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cutfab-backend/api/internal/models"
	"cutfab-backend/api/internal/repos"
	"cutfab-backend/shared/clients/optimizer"
	"cutfab-backend/shared/eventbus"
	"cutfab-backend/shared/events"
	"cutfab-backend/shared/httpx"
	"cutfab-backend/shared/workflow"
)

// SubscribeEvents wires the module's event handlers. Called once at install.
func (s *Service) SubscribeEvents(bus eventbus.Bus) {
	bus.Subscribe(events.TypeOptimizationDone, s.HandleOptimizationCompleted)
}

// HandleOptimizationCompleted records the optimization result and moves the
// job OPTIMIZING -> OPTIMIZED. A duplicate delivery finds the job already
// OPTIMIZED and is dropped instead of retried.
func (s *Service) HandleOptimizationCompleted(ctx context.Context, envelope events.Envelope) error {
	var payload events.OptimizationCompletedPayload
	if err := envelope.DecodePayload(&payload); err != nil {
		return err
	}

	if err := s.store.SetScenarioCount(ctx, payload.JobID, payload.ScenarioCount); err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			s.logger.Warn(ctx, "optimization_result_orphaned", "optimization result for unknown job",
				slog.String("job_id", payload.JobID.String()))
			return nil
		}
		return err
	}

	_, err := s.store.UpdateJobStatus(ctx, payload.JobID, workflow.JobStatusOptimized)
	if errors.Is(err, repos.ErrInvalidJobTransition) {
		s.logger.Debug(ctx, "optimization_result_duplicate", "job already past OPTIMIZING",
			slog.String("job_id", payload.JobID.String()))
		return nil
	}
	return err
}

// startOptimization fires the external optimization run without holding the
// caller's request. The transition to OPTIMIZING is already committed; a
// failed run leaves the job there for an operator to retry or send back to
// PENDING.
func (s *Service) startOptimization(ctx context.Context, job models.CuttingJob) {
	if s.optimizer == nil {
		return
	}
	correlationID := httpx.CorrelationIDFromContext(ctx)
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.runOptimization(runCtx, job, correlationID)
	}()
}

func (s *Service) runOptimization(ctx context.Context, job models.CuttingJob, correlationID string) {
	items, err := s.store.ListItems(ctx, job.ID)
	if err != nil {
		s.logger.Error(ctx, "optimization_load_failed", "could not load job items for optimization",
			slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))
		return
	}

	req := optimizer.OptimizeRequest{
		JobID:          job.ID.String(),
		MaterialTypeID: job.MaterialTypeID.String(),
		Thickness:      job.Thickness,
		Items:          make([]optimizer.OptimizeItem, 0, len(items)),
	}
	for _, item := range items {
		req.Items = append(req.Items, optimizer.OptimizeItem{
			OrderItemID: item.OrderItemID.String(),
			Quantity:    item.Quantity,
		})
	}

	resp, err := s.optimizer.Optimize(ctx, req)
	if err != nil {
		s.logger.Error(ctx, "optimization_failed", "optimizer run failed, job stays OPTIMIZING",
			slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))
		return
	}

	envelope, err := events.New(events.TypeOptimizationDone, events.AggregateCuttingJob, job.ID,
		events.OptimizationCompletedPayload{
			JobID:         job.ID,
			ScenarioCount: resp.ScenarioCount,
			WastePercent:  resp.WastePercent,
		})
	if err != nil {
		s.logger.Error(ctx, "event_build_failed", "could not build optimization event",
			slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))
		return
	}
	envelope = envelope.WithCorrelation(correlationID).WithTenant(job.TenantID)
	if err := s.bus.Publish(ctx, envelope); err != nil {
		s.logger.Error(ctx, "event_publish_failed", "bus rejected optimization event",
			slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))
	}
}
