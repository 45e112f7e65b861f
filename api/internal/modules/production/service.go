// Package production tracks shop-floor execution of cutting jobs. It owns no
// tables of its own: the cutting-job module is its source of truth, reached
// only through the Service Registry, and everything downstream learns about
// finished runs from production.completed events.
package production

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"cutfab-backend/shared/eventbus"
	"cutfab-backend/shared/events"
	"cutfab-backend/shared/httpx"
	"cutfab-backend/shared/influxx"
	"cutfab-backend/shared/logx"
	"cutfab-backend/shared/metricsx"
	"cutfab-backend/shared/registry"
	"cutfab-backend/shared/workflow"
)

const ModuleName = "production"

// jobView is this module's private projection of a cutting job. It decodes
// whatever the cutting-job module returns without importing its types.
type jobView struct {
	JobID     string `json:"job_id"`
	JobNumber string `json:"job_number"`
	Status    string `json:"status"`
}

type CompleteInput struct {
	OperatorID string `json:"operator_id,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

type Service struct {
	registry *registry.Registry
	bus      eventbus.Bus
	influx   *influxx.Client // nil disables telemetry
	logger   logx.Logger
}

func NewService(reg *registry.Registry, bus eventbus.Bus, influx *influxx.Client, logger logx.Logger) *Service {
	return &Service{
		registry: reg,
		bus:      bus,
		influx:   influx,
		logger:   logger.With(slog.String("module", ModuleName)),
	}
}

// JobStatus reports the production-relevant view of a job.
func (s *Service) JobStatus(ctx context.Context, rawJobID string) registry.Result {
	job, res := s.fetchJob(ctx, rawJobID)
	if !res.Success {
		return res
	}
	return registry.OK(job)
}

// StartProduction moves an OPTIMIZED job onto the floor. The transition rules
// live with the cutting-job module; a rejection comes back unchanged.
func (s *Service) StartProduction(ctx context.Context, rawJobID string) registry.Result {
	jobID := strings.TrimSpace(rawJobID)
	if _, err := uuid.Parse(jobID); err != nil {
		return registry.Fail(registry.CodeInvalidRequest, "job id must be a UUID")
	}

	res := s.transitionJob(ctx, jobID, workflow.JobStatusInProduction)
	if !res.Success {
		return res
	}
	var job jobView
	if err := registry.Decode(res, &job); err != nil {
		return registry.Internal(registry.CodeProductionError, err)
	}
	s.writeTelemetry(ctx, "production_started", job, 0)
	return registry.OK(job)
}

// CompleteProduction finishes a run: the job transitions to COMPLETED through
// the cutting-job module, then production.completed is published for the
// modules that follow shop-floor progress.
func (s *Service) CompleteProduction(ctx context.Context, rawJobID string, in CompleteInput) registry.Result {
	job, res := s.fetchJob(ctx, rawJobID)
	if !res.Success {
		return res
	}
	if job.Status != workflow.JobStatusInProduction {
		return registry.FailWith(registry.CodeInvalidTransition, "job is not in production",
			map[string]any{"status": job.Status})
	}

	res = s.transitionJob(ctx, job.JobID, workflow.JobStatusCompleted)
	if !res.Success {
		return res
	}
	if err := registry.Decode(res, &job); err != nil {
		return registry.Internal(registry.CodeProductionError, err)
	}

	s.publishCompleted(ctx, job, in)
	s.writeTelemetry(ctx, "production_completed", job, in.DurationMS)
	return registry.OK(job)
}

func (s *Service) fetchJob(ctx context.Context, rawJobID string) (jobView, registry.Result) {
	jobID := strings.TrimSpace(rawJobID)
	if _, err := uuid.Parse(jobID); err != nil {
		return jobView{}, registry.Fail(registry.CodeInvalidRequest, "job id must be a UUID")
	}
	res := s.registry.Get(ctx, "cutting-job", "/cutting-jobs/"+jobID)
	if !res.Success {
		return jobView{}, res
	}
	var job jobView
	if err := registry.Decode(res, &job); err != nil {
		return jobView{}, registry.Internal(registry.CodeProductionError, err)
	}
	return job, registry.OK(nil)
}

func (s *Service) transitionJob(ctx context.Context, jobID string, toStatus string) registry.Result {
	body, _ := json.Marshal(map[string]string{"status": toStatus})
	return s.registry.Call(ctx, "cutting-job", registry.Request{
		Method: "PUT",
		Path:   "/cutting-jobs/" + jobID + "/status",
		Data:   body,
	})
}

func (s *Service) publishCompleted(ctx context.Context, job jobView, in CompleteInput) {
	jobID, err := uuid.Parse(job.JobID)
	if err != nil {
		s.logger.Error(ctx, "event_build_failed", "job id from cutting-job module is not a UUID",
			slog.String("job_id", job.JobID))
		return
	}
	envelope, err := events.New(events.TypeProductionCompleted, events.AggregateProduction, jobID,
		events.ProductionCompletedPayload{
			JobID:      jobID,
			JobNumber:  job.JobNumber,
			OperatorID: in.OperatorID,
			DurationMS: in.DurationMS,
		})
	if err != nil {
		s.logger.Error(ctx, "event_build_failed", "could not build production event",
			slog.String("job_id", job.JobID), slog.String("error", err.Error()))
		return
	}
	envelope = envelope.WithCorrelation(httpx.CorrelationIDFromContext(ctx))
	if err := s.bus.Publish(ctx, envelope); err != nil {
		s.logger.Error(ctx, "event_publish_failed", "bus rejected production event",
			slog.String("job_id", job.JobID), slog.String("error", err.Error()))
	}
}

// writeTelemetry records the run in the time-series store. Telemetry loss is
// never an operation failure.
func (s *Service) writeTelemetry(ctx context.Context, measurement string, job jobView, durationMS int64) {
	if s.influx == nil {
		return
	}
	fields := map[string]any{"count": 1}
	if durationMS > 0 {
		fields["duration_ms"] = durationMS
	}
	err := s.influx.WritePoint(ctx, measurement,
		map[string]string{"job_number": job.JobNumber},
		fields, time.Now().UTC())
	if err != nil {
		metricsx.IncInfluxWriteFailure()
		s.logger.Warn(ctx, "telemetry_write_failed", "could not write production telemetry",
			slog.String("measurement", measurement), slog.String("error", err.Error()))
	}
}
