// Package cuttingjob owns the cutting-job aggregate: grouping order-item
// quantities that share a material type and thickness, walking them through
// the optimization and production lifecycle, and the merge/split/auto-generate
// planning operations. Other modules reach it only through the Service
// Registry or by reacting to its events.
package cuttingjob

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"cutfab-backend/api/internal/models"
	"cutfab-backend/api/internal/repos"
	"cutfab-backend/shared/clients/optimizer"
	"cutfab-backend/shared/eventbus"
	"cutfab-backend/shared/events"
	"cutfab-backend/shared/httpx"
	"cutfab-backend/shared/logx"
	"cutfab-backend/shared/metricsx"
	"cutfab-backend/shared/registry"
	"cutfab-backend/shared/tenantx"
	"cutfab-backend/shared/workflow"
)

// ModuleName is the registry name other modules call this module by.
const ModuleName = "cutting-job"

// Store is the persistence surface the service needs. *repos.CuttingJobsRepo
// satisfies it; tests plug a fake.
type Store interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (models.CuttingJob, error)
	ListJobs(ctx context.Context, status string, limit int, offset int) ([]models.CuttingJob, error)
	ListItems(ctx context.Context, jobID uuid.UUID) ([]models.CuttingJobItem, error)
	FindPendingJobByMaterial(ctx context.Context, materialTypeID uuid.UUID, thickness float64) (models.CuttingJob, bool, error)
	CreateJob(ctx context.Context, job models.CuttingJob, items []models.CuttingJobItem) (models.CuttingJob, error)
	UpdateJobStatus(ctx context.Context, jobID uuid.UUID, toStatus string) (models.CuttingJob, error)
	SetScenarioCount(ctx context.Context, jobID uuid.UUID, count int) error
	AddItem(ctx context.Context, jobID uuid.UUID, orderItemID uuid.UUID, quantity int) (models.CuttingJobItem, error)
	RemoveItem(ctx context.Context, jobID uuid.UUID, itemID uuid.UUID) error
	DeleteJob(ctx context.Context, jobID uuid.UUID) error
	MergeInto(ctx context.Context, targetID uuid.UUID, sourceIDs []uuid.UUID) (models.CuttingJob, error)
	Split(ctx context.Context, sourceJobID uuid.UUID, newJob models.CuttingJob, entries []repos.SplitEntry) (models.CuttingJob, error)
}

// OrderItemSource is the read-only view of order items auto-generate consumes.
// *repos.OrdersRepo satisfies it.
type OrderItemSource interface {
	ListUnassignedItems(ctx context.Context, confirmedOnly bool) ([]models.OrderItem, error)
}

type Service struct {
	store     Store
	orders    OrderItemSource
	bus       eventbus.Bus
	optimizer *optimizer.Client // nil when the external service is disabled
	logger    logx.Logger
}

func NewService(store Store, orders OrderItemSource, bus eventbus.Bus, opt *optimizer.Client, logger logx.Logger) *Service {
	return &Service{
		store:     store,
		orders:    orders,
		bus:       bus,
		optimizer: opt,
		logger:    logger.With(slog.String("module", ModuleName)),
	}
}

// JobDTO is the wire shape of a cutting job across the registry boundary.
type JobDTO struct {
	JobID          string  `json:"job_id"`
	JobNumber      string  `json:"job_number"`
	MaterialTypeID string  `json:"material_type_id"`
	Thickness      float64 `json:"thickness"`
	Status         string  `json:"status"`
	ScenarioCount  int     `json:"scenario_count"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

type ItemDTO struct {
	ItemID      string `json:"item_id"`
	JobID       string `json:"job_id"`
	OrderItemID string `json:"order_item_id"`
	Quantity    int    `json:"quantity"`
}

type JobWithItemsDTO struct {
	JobDTO
	Items []ItemDTO `json:"items"`
}

type ItemInput struct {
	OrderItemID string `json:"order_item_id"`
	Quantity    int    `json:"quantity"`
}

type CreateJobInput struct {
	MaterialTypeID string      `json:"material_type_id"`
	Thickness      float64     `json:"thickness"`
	Items          []ItemInput `json:"items,omitempty"`
}

type MergeInput struct {
	SourceJobIDs []string `json:"source_job_ids"`
	TargetJobID  string   `json:"target_job_id,omitempty"`
}

type SplitEntryInput struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type SplitInput struct {
	SourceJobID string            `json:"source_job_id"`
	Entries     []SplitEntryInput `json:"entries"`
}

// GenerateInput scopes one auto-generate pass. ConfirmedOnly defaults to
// true; sending false plans draft orders too.
type GenerateInput struct {
	ConfirmedOnly *bool `json:"confirmed_only,omitempty"`
}

// SkippedGroup names a material group that could not be planned this pass.
// Re-running is safe because planning only ever consumes unassigned
// remainder.
type SkippedGroup struct {
	MaterialTypeID string  `json:"materialTypeId"`
	Thickness      float64 `json:"thickness"`
	Reason         string  `json:"reason"`
}

// GenerateSummary reports what one auto-generate pass did.
type GenerateSummary struct {
	CreatedJobs   []JobDTO       `json:"created_jobs"`
	UpdatedJobs   []JobDTO       `json:"updated_jobs"`
	SkippedGroups []SkippedGroup `json:"skipped_groups"`
}

func (s *Service) GetJob(ctx context.Context, rawID string) registry.Result {
	return s.op(ctx, "get", func() registry.Result {
		jobID, res := parseJobID(rawID)
		if !res.Success {
			return res
		}
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return s.jobFailure(err)
		}
		return registry.OK(toJobDTO(job))
	})
}

func (s *Service) GetJobWithItems(ctx context.Context, rawID string) registry.Result {
	return s.op(ctx, "get_with_items", func() registry.Result {
		jobID, res := parseJobID(rawID)
		if !res.Success {
			return res
		}
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return s.jobFailure(err)
		}
		items, err := s.store.ListItems(ctx, jobID)
		if err != nil {
			return registry.Internal(registry.CodeJobError, err)
		}
		return registry.OK(toJobWithItemsDTO(job, items))
	})
}

func (s *Service) ListJobs(ctx context.Context, status string, limit int, offset int) registry.Result {
	return s.op(ctx, "list", func() registry.Result {
		status = workflow.NormalizeStatus(status)
		if status != "" && !workflow.IsJobStatus(status) {
			return registry.FailWith(registry.CodeInvalidStatus, "unknown job status "+status,
				map[string]any{"allowed": workflow.AllJobStatuses()})
		}
		jobs, err := s.store.ListJobs(ctx, status, limit, offset)
		if err != nil {
			return registry.Internal(registry.CodeJobError, err)
		}
		return registry.OK(toJobDTOs(jobs))
	})
}

func (s *Service) ListPending(ctx context.Context) registry.Result {
	return s.ListJobs(ctx, workflow.JobStatusPending, 0, 0)
}

func (s *Service) CreateJob(ctx context.Context, in CreateJobInput) registry.Result {
	return s.op(ctx, "create", func() registry.Result {
		materialTypeID, err := uuid.Parse(strings.TrimSpace(in.MaterialTypeID))
		if err != nil {
			return registry.Fail(registry.CodeInvalidRequest, "material_type_id must be a UUID")
		}
		if in.Thickness <= 0 {
			return registry.Fail(registry.CodeInvalidRequest, "thickness must be positive")
		}

		items := make([]models.CuttingJobItem, 0, len(in.Items))
		for _, item := range in.Items {
			orderItemID, err := uuid.Parse(strings.TrimSpace(item.OrderItemID))
			if err != nil {
				return registry.Fail(registry.CodeInvalidRequest, "order_item_id must be a UUID")
			}
			if item.Quantity <= 0 {
				return registry.Fail(registry.CodeInvalidQuantity, "item quantity must be positive")
			}
			items = append(items, models.CuttingJobItem{OrderItemID: orderItemID, Quantity: item.Quantity})
		}

		job := models.CuttingJob{
			TenantID:       tenantIDFrom(ctx),
			JobNumber:      newJobNumber(),
			MaterialTypeID: materialTypeID,
			Thickness:      in.Thickness,
			Status:         workflow.JobStatusPending,
		}
		created, err := s.store.CreateJob(ctx, job, items)
		if err != nil {
			if errors.Is(err, repos.ErrInsufficientRemaining) {
				return registry.Fail(registry.CodeInvalidQuantity, "order item has insufficient unassigned quantity")
			}
			return registry.Internal(registry.CodeJobError, err)
		}

		s.publish(ctx, events.TypeCuttingJobCreated, created.ID, events.CuttingJobCreatedPayload{
			JobID:     created.ID,
			JobNumber: created.JobNumber,
			ItemCount: len(items),
		})
		return registry.OK(toJobDTO(created))
	})
}

// UpdateJobStatus applies one lifecycle transition. Reaching COMPLETED
// publishes cutting-job.completed; entering OPTIMIZING kicks off the external
// optimization run when the client is configured.
func (s *Service) UpdateJobStatus(ctx context.Context, rawID string, toStatus string) registry.Result {
	return s.op(ctx, "update_status", func() registry.Result {
		jobID, res := parseJobID(rawID)
		if !res.Success {
			return res
		}
		toStatus = workflow.NormalizeStatus(toStatus)
		if !workflow.IsJobStatus(toStatus) {
			return registry.FailWith(registry.CodeInvalidStatus, "unknown job status "+toStatus,
				map[string]any{"allowed": workflow.AllJobStatuses()})
		}

		job, err := s.store.UpdateJobStatus(ctx, jobID, toStatus)
		if err != nil {
			if errors.Is(err, repos.ErrInvalidJobTransition) {
				return s.transitionFailure(ctx, jobID, toStatus)
			}
			return s.jobFailure(err)
		}

		switch job.Status {
		case workflow.JobStatusCompleted:
			s.publish(ctx, events.TypeCuttingJobCompleted, job.ID, events.CuttingJobCompletedPayload{
				JobID:         job.ID,
				JobNumber:     job.JobNumber,
				ScenarioCount: job.ScenarioCount,
			})
		case workflow.JobStatusOptimizing:
			s.startOptimization(ctx, job)
		}
		return registry.OK(toJobDTO(job))
	})
}

func (s *Service) AddItem(ctx context.Context, rawJobID string, in ItemInput) registry.Result {
	return s.op(ctx, "add_item", func() registry.Result {
		jobID, res := parseJobID(rawJobID)
		if !res.Success {
			return res
		}
		orderItemID, err := uuid.Parse(strings.TrimSpace(in.OrderItemID))
		if err != nil {
			return registry.Fail(registry.CodeInvalidRequest, "order_item_id must be a UUID")
		}
		if in.Quantity <= 0 {
			return registry.Fail(registry.CodeInvalidQuantity, "item quantity must be positive")
		}
		if res := s.requirePending(ctx, jobID, registry.CodeJobNotPending); !res.Success {
			return res
		}

		item, err := s.store.AddItem(ctx, jobID, orderItemID, in.Quantity)
		if err != nil {
			if errors.Is(err, repos.ErrInsufficientRemaining) {
				return registry.Fail(registry.CodeInvalidQuantity, "order item has insufficient unassigned quantity")
			}
			return s.jobFailure(err)
		}
		return registry.OK(toItemDTO(item))
	})
}

func (s *Service) RemoveItem(ctx context.Context, rawJobID string, rawItemID string) registry.Result {
	return s.op(ctx, "remove_item", func() registry.Result {
		jobID, res := parseJobID(rawJobID)
		if !res.Success {
			return res
		}
		itemID, err := uuid.Parse(strings.TrimSpace(rawItemID))
		if err != nil {
			return registry.Fail(registry.CodeInvalidRequest, "item id must be a UUID")
		}
		if res := s.requirePending(ctx, jobID, registry.CodeJobNotPending); !res.Success {
			return res
		}

		if err := s.store.RemoveItem(ctx, jobID, itemID); err != nil {
			if errors.Is(err, repos.ErrNotFound) {
				return registry.Fail(registry.CodeItemNotFound, "item not found on job")
			}
			return registry.Internal(registry.CodeJobError, err)
		}
		return registry.OK(map[string]any{"removed": true})
	})
}

// DeleteJob only removes PENDING jobs; anything further along the lifecycle
// has optimization or production state hanging off it.
func (s *Service) DeleteJob(ctx context.Context, rawID string) registry.Result {
	return s.op(ctx, "delete", func() registry.Result {
		jobID, res := parseJobID(rawID)
		if !res.Success {
			return res
		}
		if res := s.requirePending(ctx, jobID, registry.CodeCannotDelete); !res.Success {
			return res
		}
		if err := s.store.DeleteJob(ctx, jobID); err != nil {
			return s.jobFailure(err)
		}
		return registry.OK(map[string]any{"deleted": true})
	})
}

// MergeJobs folds two or more PENDING jobs sharing one material pair into a
// single job. The target defaults to the first source and must itself be one
// of the sources; total item quantity is conserved.
func (s *Service) MergeJobs(ctx context.Context, in MergeInput) registry.Result {
	return s.op(ctx, "merge", func() registry.Result {
		if len(in.SourceJobIDs) < 2 {
			return registry.Fail(registry.CodeInvalidMerge, "merge needs at least two source jobs")
		}

		sourceIDs := make([]uuid.UUID, 0, len(in.SourceJobIDs))
		seen := make(map[uuid.UUID]bool, len(in.SourceJobIDs))
		for _, raw := range in.SourceJobIDs {
			id, err := uuid.Parse(strings.TrimSpace(raw))
			if err != nil {
				return registry.Fail(registry.CodeInvalidRequest, "source job id must be a UUID")
			}
			if seen[id] {
				return registry.Fail(registry.CodeInvalidMerge, "duplicate source job "+id.String())
			}
			seen[id] = true
			sourceIDs = append(sourceIDs, id)
		}

		targetID := sourceIDs[0]
		if strings.TrimSpace(in.TargetJobID) != "" {
			id, err := uuid.Parse(strings.TrimSpace(in.TargetJobID))
			if err != nil {
				return registry.Fail(registry.CodeInvalidRequest, "target job id must be a UUID")
			}
			if !seen[id] {
				return registry.Fail(registry.CodeTargetNotFound, "target job is not among the sources")
			}
			targetID = id
		}

		jobs := make([]models.CuttingJob, 0, len(sourceIDs))
		for _, id := range sourceIDs {
			job, err := s.store.GetJob(ctx, id)
			if err != nil {
				if errors.Is(err, repos.ErrNotFound) {
					return registry.FailWith(registry.CodeJobNotFound, "cutting job not found",
						map[string]any{"job_id": id.String()})
				}
				return registry.Internal(registry.CodeJobError, err)
			}
			jobs = append(jobs, job)
		}

		first := jobs[0]
		for _, job := range jobs {
			if job.Status != workflow.JobStatusPending {
				return registry.FailWith(registry.CodeInvalidStatus, "only PENDING jobs can be merged",
					map[string]any{"job_id": job.ID.String(), "status": job.Status})
			}
			if job.MaterialTypeID != first.MaterialTypeID {
				return registry.FailWith(registry.CodeMaterialMismatch, "jobs use different material types",
					map[string]any{"job_id": job.ID.String()})
			}
			if job.Thickness != first.Thickness {
				return registry.FailWith(registry.CodeThicknessMismatch, "jobs use different thicknesses",
					map[string]any{"job_id": job.ID.String()})
			}
		}

		absorbed := make([]uuid.UUID, 0, len(sourceIDs)-1)
		for _, id := range sourceIDs {
			if id != targetID {
				absorbed = append(absorbed, id)
			}
		}

		merged, err := s.store.MergeInto(ctx, targetID, absorbed)
		if err != nil {
			return s.jobFailure(err)
		}
		items, err := s.store.ListItems(ctx, merged.ID)
		if err != nil {
			return registry.Internal(registry.CodeJobError, err)
		}
		return registry.OK(toJobWithItemsDTO(merged, items))
	})
}

// SplitJob carves the listed quantities off a PENDING source job into a new
// PENDING job with the same material pair. Moving an item's full quantity
// removes the item from the source; draining every item leaves the source an
// empty PENDING job.
func (s *Service) SplitJob(ctx context.Context, in SplitInput) registry.Result {
	return s.op(ctx, "split", func() registry.Result {
		if len(in.Entries) == 0 {
			return registry.Fail(registry.CodeInvalidSplit, "split needs at least one entry")
		}
		sourceID, err := uuid.Parse(strings.TrimSpace(in.SourceJobID))
		if err != nil {
			return registry.Fail(registry.CodeInvalidRequest, "source job id must be a UUID")
		}

		source, err := s.store.GetJob(ctx, sourceID)
		if err != nil {
			return s.jobFailure(err)
		}
		if source.Status != workflow.JobStatusPending {
			return registry.FailWith(registry.CodeInvalidStatus, "only PENDING jobs can be split",
				map[string]any{"status": source.Status})
		}

		items, err := s.store.ListItems(ctx, sourceID)
		if err != nil {
			return registry.Internal(registry.CodeJobError, err)
		}
		byID := make(map[uuid.UUID]models.CuttingJobItem, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}

		entries := make([]repos.SplitEntry, 0, len(in.Entries))
		claimed := make(map[uuid.UUID]bool, len(in.Entries))
		for _, entry := range in.Entries {
			itemID, err := uuid.Parse(strings.TrimSpace(entry.ItemID))
			if err != nil {
				return registry.Fail(registry.CodeInvalidRequest, "item id must be a UUID")
			}
			if claimed[itemID] {
				return registry.Fail(registry.CodeInvalidSplit, "duplicate split entry for item "+itemID.String())
			}
			claimed[itemID] = true

			item, ok := byID[itemID]
			if !ok {
				return registry.FailWith(registry.CodeItemNotFound, "item not found on source job",
					map[string]any{"item_id": itemID.String()})
			}
			if entry.Quantity <= 0 {
				return registry.Fail(registry.CodeInvalidQuantity, "split quantity must be positive")
			}
			if entry.Quantity > item.Quantity {
				return registry.FailWith(registry.CodeInvalidQuantity, "split quantity exceeds item quantity",
					map[string]any{"item_id": itemID.String(), "available": item.Quantity})
			}
			entries = append(entries, repos.SplitEntry{ItemID: itemID, Quantity: entry.Quantity})
		}

		newJob := models.CuttingJob{
			TenantID:       source.TenantID,
			JobNumber:      newJobNumber(),
			MaterialTypeID: source.MaterialTypeID,
			Thickness:      source.Thickness,
			Status:         workflow.JobStatusPending,
		}
		created, err := s.store.Split(ctx, sourceID, newJob, entries)
		if err != nil {
			return s.jobFailure(err)
		}

		s.publish(ctx, events.TypeCuttingJobCreated, created.ID, events.CuttingJobCreatedPayload{
			JobID:     created.ID,
			JobNumber: created.JobNumber,
			ItemCount: len(entries),
		})

		createdItems, err := s.store.ListItems(ctx, created.ID)
		if err != nil {
			return registry.Internal(registry.CodeJobError, err)
		}
		return registry.OK(toJobWithItemsDTO(created, createdItems))
	})
}

type materialKey struct {
	materialTypeID uuid.UUID
	thickness      float64
}

// AutoGenerateFromOrders plans cutting jobs for every order item with
// unassigned remainder (confirmed orders only unless the input says
// otherwise), grouping by exact (material type, thickness) equality. A group
// with an open PENDING job appends to it; otherwise a new job is created.
// Running it again immediately is a no-op: the remainder it consumes is
// claimed transactionally.
func (s *Service) AutoGenerateFromOrders(ctx context.Context, in GenerateInput) registry.Result {
	return s.op(ctx, "auto_generate", func() registry.Result {
		confirmedOnly := true
		if in.ConfirmedOnly != nil {
			confirmedOnly = *in.ConfirmedOnly
		}
		unassigned, err := s.orders.ListUnassignedItems(ctx, confirmedOnly)
		if err != nil {
			return registry.Internal(registry.CodeJobError, err)
		}

		groups := make(map[materialKey][]models.OrderItem)
		var order []materialKey
		for _, item := range unassigned {
			if item.Remaining() <= 0 {
				continue
			}
			key := materialKey{materialTypeID: item.MaterialTypeID, thickness: item.Thickness}
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], item)
		}

		summary := GenerateSummary{CreatedJobs: []JobDTO{}, UpdatedJobs: []JobDTO{}, SkippedGroups: []SkippedGroup{}}
		for _, key := range order {
			job, updated, err := s.planGroup(ctx, key, groups[key])
			if err != nil {
				s.logger.Warn(ctx, "auto_generate_group_skipped", "material group left for next pass",
					slog.String("material_type_id", key.materialTypeID.String()),
					slog.Float64("thickness", key.thickness),
					slog.String("error", err.Error()))
				summary.SkippedGroups = append(summary.SkippedGroups, SkippedGroup{
					MaterialTypeID: key.materialTypeID.String(),
					Thickness:      key.thickness,
					Reason:         err.Error(),
				})
				continue
			}
			if updated {
				summary.UpdatedJobs = append(summary.UpdatedJobs, toJobDTO(job))
			} else {
				summary.CreatedJobs = append(summary.CreatedJobs, toJobDTO(job))
			}
		}
		return registry.OK(summary)
	})
}

// planGroup funnels one material group into an existing open job when there
// is one, otherwise creates a job seeded with the group. Returns updated=true
// when it appended to an existing job.
func (s *Service) planGroup(ctx context.Context, key materialKey, group []models.OrderItem) (models.CuttingJob, bool, error) {
	existing, found, err := s.store.FindPendingJobByMaterial(ctx, key.materialTypeID, key.thickness)
	if err != nil {
		return models.CuttingJob{}, false, err
	}

	if found {
		for _, item := range group {
			if _, err := s.store.AddItem(ctx, existing.ID, item.ID, item.Remaining()); err != nil {
				// A concurrent claim shrank the remainder; the rest of the
				// group stays unassigned for the next pass.
				if errors.Is(err, repos.ErrInsufficientRemaining) {
					continue
				}
				return models.CuttingJob{}, false, err
			}
		}
		return existing, true, nil
	}

	seed := make([]models.CuttingJobItem, 0, len(group))
	for _, item := range group {
		seed = append(seed, models.CuttingJobItem{OrderItemID: item.ID, Quantity: item.Remaining()})
	}
	job := models.CuttingJob{
		TenantID:       tenantIDFrom(ctx),
		JobNumber:      newJobNumber(),
		MaterialTypeID: key.materialTypeID,
		Thickness:      key.thickness,
		Status:         workflow.JobStatusPending,
	}
	created, err := s.store.CreateJob(ctx, job, seed)
	if err != nil {
		return models.CuttingJob{}, false, err
	}
	s.publish(ctx, events.TypeCuttingJobCreated, created.ID, events.CuttingJobCreatedPayload{
		JobID:     created.ID,
		JobNumber: created.JobNumber,
		ItemCount: len(seed),
	})
	return created, false, nil
}

// requirePending loads the job and fails with failCode unless it is PENDING.
func (s *Service) requirePending(ctx context.Context, jobID uuid.UUID, failCode string) registry.Result {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return s.jobFailure(err)
	}
	if job.Status != workflow.JobStatusPending {
		return registry.FailWith(failCode, "cutting job is not PENDING",
			map[string]any{"status": job.Status})
	}
	return registry.OK(nil)
}

func (s *Service) transitionFailure(ctx context.Context, jobID uuid.UUID, toStatus string) registry.Result {
	details := map[string]any{"to": toStatus}
	if job, err := s.store.GetJob(ctx, jobID); err == nil {
		details["from"] = job.Status
	}
	return registry.FailWith(registry.CodeInvalidTransition, "status transition not allowed", details)
}

func (s *Service) jobFailure(err error) registry.Result {
	switch {
	case errors.Is(err, repos.ErrNotFound):
		return registry.Fail(registry.CodeJobNotFound, "cutting job not found")
	case errors.Is(err, repos.ErrInvalidJobTransition):
		return registry.Fail(registry.CodeInvalidTransition, "status transition not allowed")
	default:
		return registry.Internal(registry.CodeJobError, err)
	}
}

// op wraps an operation with the per-operation success/failure counter.
func (s *Service) op(ctx context.Context, name string, fn func() registry.Result) registry.Result {
	res := fn()
	metricsx.IncJobOperation(name, res.Success)
	if !res.Success && res.Err != nil && res.Err.Code == registry.CodeJobError {
		s.logger.Error(ctx, "job_operation_failed", "cutting-job operation hit an internal error",
			slog.String("operation", name),
			slog.Any("details", res.Err.Details))
	}
	return res
}

func (s *Service) publish(ctx context.Context, eventType string, aggregateID uuid.UUID, payload any) {
	envelope, err := events.New(eventType, events.AggregateCuttingJob, aggregateID, payload)
	if err != nil {
		s.logger.Error(ctx, "event_build_failed", "could not build event envelope",
			slog.String("event_type", eventType), slog.String("error", err.Error()))
		return
	}
	envelope = envelope.WithCorrelation(httpx.CorrelationIDFromContext(ctx))
	if tid := tenantIDFrom(ctx); tid != uuid.Nil {
		envelope = envelope.WithTenant(tid)
	}
	// Publish failures never surface to the caller; the state change is
	// already committed.
	if err := s.bus.Publish(ctx, envelope); err != nil {
		s.logger.Error(ctx, "event_publish_failed", "bus rejected event",
			slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
}

func parseJobID(raw string) (uuid.UUID, registry.Result) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, registry.Fail(registry.CodeInvalidRequest, "job id must be a UUID")
	}
	return id, registry.OK(nil)
}

func tenantIDFrom(ctx context.Context) uuid.UUID {
	return tenantx.UUIDFromContext(ctx)
}

func newJobNumber() string {
	return "CJ-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func toJobDTO(job models.CuttingJob) JobDTO {
	return JobDTO{
		JobID:          job.ID.String(),
		JobNumber:      job.JobNumber,
		MaterialTypeID: job.MaterialTypeID.String(),
		Thickness:      job.Thickness,
		Status:         job.Status,
		ScenarioCount:  job.ScenarioCount,
		CreatedAt:      job.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt:      job.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func toJobDTOs(jobs []models.CuttingJob) []JobDTO {
	out := make([]JobDTO, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toJobDTO(job))
	}
	return out
}

func toItemDTO(item models.CuttingJobItem) ItemDTO {
	return ItemDTO{
		ItemID:      item.ID.String(),
		JobID:       item.JobID.String(),
		OrderItemID: item.OrderItemID.String(),
		Quantity:    item.Quantity,
	}
}

func toJobWithItemsDTO(job models.CuttingJob, items []models.CuttingJobItem) JobWithItemsDTO {
	dto := JobWithItemsDTO{JobDTO: toJobDTO(job), Items: make([]ItemDTO, 0, len(items))}
	for _, item := range items {
		dto.Items = append(dto.Items, toItemDTO(item))
	}
	return dto
}
