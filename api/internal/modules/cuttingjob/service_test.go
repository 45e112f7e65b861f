package cuttingjob

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/uuid"

	"cutfab-backend/api/internal/models"
	"cutfab-backend/api/internal/repos"
	"cutfab-backend/shared/eventbus"
	"cutfab-backend/shared/events"
	"cutfab-backend/shared/logx"
	"cutfab-backend/shared/registry"
	"cutfab-backend/shared/workflow"
)

// fakeStore is an in-memory Store and OrderItemSource mirroring the repo's
// transactional semantics: claims against order items, transition checks,
// quantity conservation.
type fakeStore struct {
	seq        int
	jobs       map[uuid.UUID]models.CuttingJob
	jobOrder   map[uuid.UUID]int
	items      map[uuid.UUID]models.CuttingJobItem
	orderItems map[uuid.UUID]*models.OrderItem
	draftItems map[uuid.UUID]bool

	// failMaterial makes pending-job lookups for that material error out.
	failMaterial uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:       make(map[uuid.UUID]models.CuttingJob),
		jobOrder:   make(map[uuid.UUID]int),
		items:      make(map[uuid.UUID]models.CuttingJobItem),
		orderItems: make(map[uuid.UUID]*models.OrderItem),
	}
}

func (f *fakeStore) addOrderItem(materialTypeID uuid.UUID, thickness float64, quantity int) uuid.UUID {
	id := uuid.New()
	f.orderItems[id] = &models.OrderItem{
		ID:             id,
		OrderID:        uuid.New(),
		MaterialTypeID: materialTypeID,
		Thickness:      thickness,
		Quantity:       quantity,
	}
	return id
}

// addDraftOrderItem adds an item whose order is not yet confirmed; it only
// surfaces when listing with confirmedOnly=false.
func (f *fakeStore) addDraftOrderItem(materialTypeID uuid.UUID, thickness float64, quantity int) uuid.UUID {
	id := f.addOrderItem(materialTypeID, thickness, quantity)
	if f.draftItems == nil {
		f.draftItems = make(map[uuid.UUID]bool)
	}
	f.draftItems[id] = true
	return id
}

func (f *fakeStore) claim(orderItemID uuid.UUID, quantity int) error {
	item, ok := f.orderItems[orderItemID]
	if !ok || item.Remaining() < quantity {
		return repos.ErrInsufficientRemaining
	}
	item.AssignedQuantity += quantity
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, jobID uuid.UUID) (models.CuttingJob, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return models.CuttingJob{}, repos.ErrNotFound
	}
	return job, nil
}

func (f *fakeStore) ListJobs(_ context.Context, status string, _ int, _ int) ([]models.CuttingJob, error) {
	var out []models.CuttingJob
	for _, job := range f.jobs {
		if status == "" || job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return f.jobOrder[out[i].ID] < f.jobOrder[out[j].ID] })
	return out, nil
}

func (f *fakeStore) ListItems(_ context.Context, jobID uuid.UUID) ([]models.CuttingJobItem, error) {
	var out []models.CuttingJobItem
	for _, item := range f.items {
		if item.JobID == jobID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (f *fakeStore) FindPendingJobByMaterial(_ context.Context, materialTypeID uuid.UUID, thickness float64) (models.CuttingJob, bool, error) {
	if f.failMaterial == materialTypeID {
		return models.CuttingJob{}, false, errors.New("lookup timed out")
	}
	best := models.CuttingJob{}
	found := false
	for _, job := range f.jobs {
		if job.Status != workflow.JobStatusPending || job.MaterialTypeID != materialTypeID || job.Thickness != thickness {
			continue
		}
		if !found || f.jobOrder[job.ID] < f.jobOrder[best.ID] {
			best = job
			found = true
		}
	}
	return best, found, nil
}

func (f *fakeStore) CreateJob(_ context.Context, job models.CuttingJob, items []models.CuttingJobItem) (models.CuttingJob, error) {
	for _, item := range items {
		if err := f.claim(item.OrderItemID, item.Quantity); err != nil {
			return models.CuttingJob{}, err
		}
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	f.seq++
	f.jobs[job.ID] = job
	f.jobOrder[job.ID] = f.seq
	for _, item := range items {
		item.ID = uuid.New()
		item.JobID = job.ID
		f.items[item.ID] = item
	}
	return job, nil
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, jobID uuid.UUID, toStatus string) (models.CuttingJob, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return models.CuttingJob{}, repos.ErrNotFound
	}
	if !workflow.CanTransitionJob(job.Status, toStatus) {
		return models.CuttingJob{}, repos.ErrInvalidJobTransition
	}
	job.Status = toStatus
	f.jobs[jobID] = job
	return job, nil
}

func (f *fakeStore) SetScenarioCount(_ context.Context, jobID uuid.UUID, count int) error {
	job, ok := f.jobs[jobID]
	if !ok {
		return repos.ErrNotFound
	}
	job.ScenarioCount = count
	f.jobs[jobID] = job
	return nil
}

func (f *fakeStore) AddItem(_ context.Context, jobID uuid.UUID, orderItemID uuid.UUID, quantity int) (models.CuttingJobItem, error) {
	if _, ok := f.jobs[jobID]; !ok {
		return models.CuttingJobItem{}, repos.ErrNotFound
	}
	if err := f.claim(orderItemID, quantity); err != nil {
		return models.CuttingJobItem{}, err
	}
	item := models.CuttingJobItem{ID: uuid.New(), JobID: jobID, OrderItemID: orderItemID, Quantity: quantity}
	f.items[item.ID] = item
	return item, nil
}

func (f *fakeStore) RemoveItem(_ context.Context, jobID uuid.UUID, itemID uuid.UUID) error {
	item, ok := f.items[itemID]
	if !ok || item.JobID != jobID {
		return repos.ErrNotFound
	}
	if oi, ok := f.orderItems[item.OrderItemID]; ok {
		oi.AssignedQuantity -= item.Quantity
	}
	delete(f.items, itemID)
	return nil
}

func (f *fakeStore) DeleteJob(_ context.Context, jobID uuid.UUID) error {
	if _, ok := f.jobs[jobID]; !ok {
		return repos.ErrNotFound
	}
	for id, item := range f.items {
		if item.JobID == jobID {
			if oi, ok := f.orderItems[item.OrderItemID]; ok {
				oi.AssignedQuantity -= item.Quantity
			}
			delete(f.items, id)
		}
	}
	delete(f.jobs, jobID)
	delete(f.jobOrder, jobID)
	return nil
}

func (f *fakeStore) MergeInto(_ context.Context, targetID uuid.UUID, sourceIDs []uuid.UUID) (models.CuttingJob, error) {
	for id, item := range f.items {
		for _, src := range sourceIDs {
			if item.JobID == src {
				item.JobID = targetID
				f.items[id] = item
			}
		}
	}
	for _, src := range sourceIDs {
		delete(f.jobs, src)
		delete(f.jobOrder, src)
	}
	return f.jobs[targetID], nil
}

func (f *fakeStore) Split(_ context.Context, sourceJobID uuid.UUID, newJob models.CuttingJob, entries []repos.SplitEntry) (models.CuttingJob, error) {
	if newJob.ID == uuid.Nil {
		newJob.ID = uuid.New()
	}
	f.seq++
	f.jobs[newJob.ID] = newJob
	f.jobOrder[newJob.ID] = f.seq
	for _, entry := range entries {
		item, ok := f.items[entry.ItemID]
		if !ok || item.JobID != sourceJobID {
			return models.CuttingJob{}, repos.ErrNotFound
		}
		if entry.Quantity > item.Quantity {
			return models.CuttingJob{}, repos.ErrInsufficientRemaining
		}
		if entry.Quantity == item.Quantity {
			delete(f.items, entry.ItemID)
		} else {
			item.Quantity -= entry.Quantity
			f.items[entry.ItemID] = item
		}
		moved := models.CuttingJobItem{ID: uuid.New(), JobID: newJob.ID, OrderItemID: item.OrderItemID, Quantity: entry.Quantity}
		f.items[moved.ID] = moved
	}
	return newJob, nil
}

func (f *fakeStore) ListUnassignedItems(_ context.Context, confirmedOnly bool) ([]models.OrderItem, error) {
	var out []models.OrderItem
	for _, item := range f.orderItems {
		if confirmedOnly && f.draftItems[item.ID] {
			continue
		}
		if item.Remaining() > 0 {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

type fixture struct {
	store    *fakeStore
	svc      *Service
	bus      eventbus.Bus
	recorded *[]events.Envelope
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newFakeStore()
	bus := eventbus.NewInProc(logx.NewNop(), eventbus.RetryPolicy{MaxAttempts: 1})
	recorded := &[]events.Envelope{}
	for _, eventType := range []string{events.TypeCuttingJobCreated, events.TypeCuttingJobCompleted} {
		bus.Subscribe(eventType, func(_ context.Context, envelope events.Envelope) error {
			*recorded = append(*recorded, envelope)
			return nil
		})
	}
	svc := NewService(store, store, bus, nil, logx.NewNop())
	return &fixture{store: store, svc: svc, bus: bus, recorded: recorded}
}

func (fx *fixture) mustCreateJob(t *testing.T, materialTypeID uuid.UUID, thickness float64, quantities ...int) JobDTO {
	t.Helper()
	in := CreateJobInput{MaterialTypeID: materialTypeID.String(), Thickness: thickness}
	for _, qty := range quantities {
		orderItemID := fx.store.addOrderItem(materialTypeID, thickness, qty)
		in.Items = append(in.Items, ItemInput{OrderItemID: orderItemID.String(), Quantity: qty})
	}
	res := fx.svc.CreateJob(context.Background(), in)
	if !res.Success {
		t.Fatalf("CreateJob failed: %+v", res.Err)
	}
	var dto JobDTO
	if err := registry.Decode(res, &dto); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return dto
}

func (fx *fixture) mustTransition(t *testing.T, jobID string, toStatus string) {
	t.Helper()
	res := fx.svc.UpdateJobStatus(context.Background(), jobID, toStatus)
	if !res.Success {
		t.Fatalf("transition to %s failed: %+v", toStatus, res.Err)
	}
}

func (fx *fixture) eventsOfType(eventType string) []events.Envelope {
	var out []events.Envelope
	for _, envelope := range *fx.recorded {
		if envelope.EventType == eventType {
			out = append(out, envelope)
		}
	}
	return out
}

func failCode(t *testing.T, res registry.Result) string {
	t.Helper()
	if res.Success {
		t.Fatalf("expected failure, got success with %+v", res.Data)
	}
	if res.Err == nil {
		t.Fatalf("failed result carries no error")
	}
	return res.Err.Code
}

func TestCreateJobValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if code := failCode(t, fx.svc.CreateJob(ctx, CreateJobInput{MaterialTypeID: "nope", Thickness: 3})); code != registry.CodeInvalidRequest {
		t.Errorf("bad material id: got %s", code)
	}
	if code := failCode(t, fx.svc.CreateJob(ctx, CreateJobInput{MaterialTypeID: uuid.NewString(), Thickness: 0})); code != registry.CodeInvalidRequest {
		t.Errorf("zero thickness: got %s", code)
	}
	in := CreateJobInput{
		MaterialTypeID: uuid.NewString(),
		Thickness:      3,
		Items:          []ItemInput{{OrderItemID: uuid.NewString(), Quantity: 0}},
	}
	if code := failCode(t, fx.svc.CreateJob(ctx, in)); code != registry.CodeInvalidQuantity {
		t.Errorf("zero quantity: got %s", code)
	}
}

func TestCreateJobClaimsOrderItems(t *testing.T) {
	fx := newFixture(t)
	material := uuid.New()
	orderItemID := fx.store.addOrderItem(material, 2.5, 10)

	res := fx.svc.CreateJob(context.Background(), CreateJobInput{
		MaterialTypeID: material.String(),
		Thickness:      2.5,
		Items:          []ItemInput{{OrderItemID: orderItemID.String(), Quantity: 4}},
	})
	if !res.Success {
		t.Fatalf("CreateJob failed: %+v", res.Err)
	}
	if got := fx.store.orderItems[orderItemID].AssignedQuantity; got != 4 {
		t.Errorf("assigned quantity = %d, want 4", got)
	}

	// Claiming more than the remainder is rejected.
	over := fx.svc.CreateJob(context.Background(), CreateJobInput{
		MaterialTypeID: material.String(),
		Thickness:      2.5,
		Items:          []ItemInput{{OrderItemID: orderItemID.String(), Quantity: 7}},
	})
	if code := failCode(t, over); code != registry.CodeInvalidQuantity {
		t.Errorf("over-claim: got %s", code)
	}

	created := fx.eventsOfType(events.TypeCuttingJobCreated)
	if len(created) != 1 {
		t.Fatalf("cutting-job.created published %d times, want 1", len(created))
	}
}

func TestJobLifecycle(t *testing.T) {
	fx := newFixture(t)
	job := fx.mustCreateJob(t, uuid.New(), 3.0, 5)

	fx.mustTransition(t, job.JobID, workflow.JobStatusOptimizing)
	fx.mustTransition(t, job.JobID, workflow.JobStatusOptimized)
	fx.mustTransition(t, job.JobID, workflow.JobStatusInProduction)
	fx.mustTransition(t, job.JobID, workflow.JobStatusCompleted)

	completed := fx.eventsOfType(events.TypeCuttingJobCompleted)
	if len(completed) != 1 {
		t.Fatalf("cutting-job.completed published %d times, want 1", len(completed))
	}
	var payload events.CuttingJobCompletedPayload
	if err := completed[0].DecodePayload(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.JobNumber != job.JobNumber {
		t.Errorf("payload job number = %s, want %s", payload.JobNumber, job.JobNumber)
	}

	// COMPLETED is terminal.
	res := fx.svc.UpdateJobStatus(context.Background(), job.JobID, workflow.JobStatusPending)
	if code := failCode(t, res); code != registry.CodeInvalidTransition {
		t.Errorf("transition out of COMPLETED: got %s", code)
	}
}

func TestJobLifecycleReworkEdges(t *testing.T) {
	fx := newFixture(t)
	job := fx.mustCreateJob(t, uuid.New(), 3.0, 5)

	// OPTIMIZING -> PENDING.
	fx.mustTransition(t, job.JobID, workflow.JobStatusOptimizing)
	fx.mustTransition(t, job.JobID, workflow.JobStatusPending)

	// OPTIMIZED -> PENDING.
	fx.mustTransition(t, job.JobID, workflow.JobStatusOptimizing)
	fx.mustTransition(t, job.JobID, workflow.JobStatusOptimized)
	fx.mustTransition(t, job.JobID, workflow.JobStatusPending)
}

func TestUpdateJobStatusRejectsSkips(t *testing.T) {
	fx := newFixture(t)
	job := fx.mustCreateJob(t, uuid.New(), 3.0, 5)
	ctx := context.Background()

	for _, toStatus := range []string{workflow.JobStatusOptimized, workflow.JobStatusInProduction, workflow.JobStatusCompleted} {
		res := fx.svc.UpdateJobStatus(ctx, job.JobID, toStatus)
		if code := failCode(t, res); code != registry.CodeInvalidTransition {
			t.Errorf("PENDING -> %s: got %s, want %s", toStatus, code, registry.CodeInvalidTransition)
		}
	}

	if code := failCode(t, fx.svc.UpdateJobStatus(ctx, job.JobID, "SHIPPED")); code != registry.CodeInvalidStatus {
		t.Errorf("unknown status: got %s", code)
	}
	if code := failCode(t, fx.svc.UpdateJobStatus(ctx, uuid.NewString(), workflow.JobStatusOptimizing)); code != registry.CodeJobNotFound {
		t.Errorf("missing job: got %s", code)
	}
}

func TestMergeValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	material := uuid.New()
	jobA := fx.mustCreateJob(t, material, 3.0, 5)
	jobB := fx.mustCreateJob(t, material, 3.0, 7)

	if code := failCode(t, fx.svc.MergeJobs(ctx, MergeInput{SourceJobIDs: []string{jobA.JobID}})); code != registry.CodeInvalidMerge {
		t.Errorf("single source: got %s", code)
	}

	missing := uuid.NewString()
	if code := failCode(t, fx.svc.MergeJobs(ctx, MergeInput{SourceJobIDs: []string{jobA.JobID, missing}})); code != registry.CodeJobNotFound {
		t.Errorf("missing source: got %s", code)
	}

	otherMaterial := fx.mustCreateJob(t, uuid.New(), 3.0, 2)
	if code := failCode(t, fx.svc.MergeJobs(ctx, MergeInput{SourceJobIDs: []string{jobA.JobID, otherMaterial.JobID}})); code != registry.CodeMaterialMismatch {
		t.Errorf("material mismatch: got %s", code)
	}

	otherThickness := fx.mustCreateJob(t, material, 5.0, 2)
	if code := failCode(t, fx.svc.MergeJobs(ctx, MergeInput{SourceJobIDs: []string{jobA.JobID, otherThickness.JobID}})); code != registry.CodeThicknessMismatch {
		t.Errorf("thickness mismatch: got %s", code)
	}

	outsider := fx.mustCreateJob(t, material, 3.0, 1)
	in := MergeInput{SourceJobIDs: []string{jobA.JobID, jobB.JobID}, TargetJobID: outsider.JobID}
	if code := failCode(t, fx.svc.MergeJobs(ctx, in)); code != registry.CodeTargetNotFound {
		t.Errorf("target outside sources: got %s", code)
	}

	fx.mustTransition(t, jobB.JobID, workflow.JobStatusOptimizing)
	if code := failCode(t, fx.svc.MergeJobs(ctx, MergeInput{SourceJobIDs: []string{jobA.JobID, jobB.JobID}})); code != registry.CodeInvalidStatus {
		t.Errorf("non-pending source: got %s", code)
	}

	// Every rejection above happened before any mutation: both original jobs
	// still exist and hold their original quantities.
	for _, src := range []struct {
		jobID string
		want  int
	}{{jobA.JobID, 5}, {jobB.JobID, 7}} {
		items, err := fx.store.ListItems(ctx, uuid.MustParse(src.jobID))
		if err != nil {
			t.Fatalf("source job %s gone after failed merges: %v", src.jobID, err)
		}
		total := 0
		for _, item := range items {
			total += item.Quantity
		}
		if total != src.want {
			t.Errorf("source job %s quantity = %d after failed merges, want %d", src.jobID, total, src.want)
		}
	}
}

func TestMergeConservesQuantity(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	material := uuid.New()
	jobA := fx.mustCreateJob(t, material, 3.0, 5, 3)
	jobB := fx.mustCreateJob(t, material, 3.0, 7)

	res := fx.svc.MergeJobs(ctx, MergeInput{SourceJobIDs: []string{jobA.JobID, jobB.JobID}})
	if !res.Success {
		t.Fatalf("merge failed: %+v", res.Err)
	}
	var merged JobWithItemsDTO
	if err := registry.Decode(res, &merged); err != nil {
		t.Fatalf("decode merged: %v", err)
	}
	if merged.JobID != jobA.JobID {
		t.Errorf("target = %s, want first source %s", merged.JobID, jobA.JobID)
	}
	total := 0
	for _, item := range merged.Items {
		total += item.Quantity
	}
	if total != 15 {
		t.Errorf("merged quantity = %d, want 15", total)
	}

	if code := failCode(t, fx.svc.GetJob(ctx, jobB.JobID)); code != registry.CodeJobNotFound {
		t.Errorf("absorbed source still resolvable: got %s", code)
	}
}

func TestSplitValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	job := fx.mustCreateJob(t, uuid.New(), 3.0, 10)
	items, _ := fx.store.ListItems(ctx, uuid.MustParse(job.JobID))
	itemID := items[0].ID.String()

	if code := failCode(t, fx.svc.SplitJob(ctx, SplitInput{SourceJobID: job.JobID})); code != registry.CodeInvalidSplit {
		t.Errorf("empty entries: got %s", code)
	}
	in := SplitInput{SourceJobID: job.JobID, Entries: []SplitEntryInput{{ItemID: uuid.NewString(), Quantity: 1}}}
	if code := failCode(t, fx.svc.SplitJob(ctx, in)); code != registry.CodeItemNotFound {
		t.Errorf("unknown item: got %s", code)
	}
	in = SplitInput{SourceJobID: job.JobID, Entries: []SplitEntryInput{{ItemID: itemID, Quantity: 0}}}
	if code := failCode(t, fx.svc.SplitJob(ctx, in)); code != registry.CodeInvalidQuantity {
		t.Errorf("zero quantity: got %s", code)
	}
	in = SplitInput{SourceJobID: job.JobID, Entries: []SplitEntryInput{{ItemID: itemID, Quantity: 11}}}
	if code := failCode(t, fx.svc.SplitJob(ctx, in)); code != registry.CodeInvalidQuantity {
		t.Errorf("over quantity: got %s", code)
	}

	fx.mustTransition(t, job.JobID, workflow.JobStatusOptimizing)
	in = SplitInput{SourceJobID: job.JobID, Entries: []SplitEntryInput{{ItemID: itemID, Quantity: 2}}}
	if code := failCode(t, fx.svc.SplitJob(ctx, in)); code != registry.CodeInvalidStatus {
		t.Errorf("non-pending source: got %s", code)
	}
}

func TestSplitConservesQuantity(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	material := uuid.New()
	job := fx.mustCreateJob(t, material, 3.0, 10)
	items, _ := fx.store.ListItems(ctx, uuid.MustParse(job.JobID))

	res := fx.svc.SplitJob(ctx, SplitInput{
		SourceJobID: job.JobID,
		Entries:     []SplitEntryInput{{ItemID: items[0].ID.String(), Quantity: 4}},
	})
	if !res.Success {
		t.Fatalf("split failed: %+v", res.Err)
	}
	var created JobWithItemsDTO
	if err := registry.Decode(res, &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.Status != workflow.JobStatusPending {
		t.Errorf("new job status = %s, want PENDING", created.Status)
	}
	if created.MaterialTypeID != material.String() || created.Thickness != 3.0 {
		t.Errorf("new job material pair = (%s, %v), want source pair", created.MaterialTypeID, created.Thickness)
	}
	if len(created.Items) != 1 || created.Items[0].Quantity != 4 {
		t.Fatalf("new job items = %+v, want one item of 4", created.Items)
	}

	remaining, _ := fx.store.ListItems(ctx, uuid.MustParse(job.JobID))
	if len(remaining) != 1 || remaining[0].Quantity != 6 {
		t.Fatalf("source items = %+v, want one item of 6", remaining)
	}
}

func TestSplitCanDrainSource(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	material := uuid.New()
	job := fx.mustCreateJob(t, material, 3.0, 10)
	items, _ := fx.store.ListItems(ctx, uuid.MustParse(job.JobID))

	// Moving an item's full quantity is valid; the source keeps its status
	// with no items left.
	res := fx.svc.SplitJob(ctx, SplitInput{
		SourceJobID: job.JobID,
		Entries:     []SplitEntryInput{{ItemID: items[0].ID.String(), Quantity: 10}},
	})
	if !res.Success {
		t.Fatalf("full-quantity split failed: %+v", res.Err)
	}
	var created JobWithItemsDTO
	if err := registry.Decode(res, &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if len(created.Items) != 1 || created.Items[0].Quantity != 10 {
		t.Fatalf("new job items = %+v, want one item of 10", created.Items)
	}

	remaining, _ := fx.store.ListItems(ctx, uuid.MustParse(job.JobID))
	if len(remaining) != 0 {
		t.Fatalf("source items = %+v, want none", remaining)
	}
	source, err := fx.store.GetJob(ctx, uuid.MustParse(job.JobID))
	if err != nil {
		t.Fatalf("drained source must still exist: %v", err)
	}
	if source.Status != workflow.JobStatusPending {
		t.Errorf("drained source status = %s, want PENDING", source.Status)
	}
}

func TestAutoGenerateGroupsByMaterial(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	steel := uuid.New()
	alu := uuid.New()
	fx.store.addOrderItem(steel, 3.0, 5)
	fx.store.addOrderItem(steel, 3.0, 2)
	fx.store.addOrderItem(steel, 5.0, 4) // same material, different thickness
	fx.store.addOrderItem(alu, 3.0, 6)

	res := fx.svc.AutoGenerateFromOrders(ctx, GenerateInput{})
	if !res.Success {
		t.Fatalf("auto-generate failed: %+v", res.Err)
	}
	var summary GenerateSummary
	if err := registry.Decode(res, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary.CreatedJobs) != 3 {
		t.Fatalf("created %d jobs, want 3 (one per material pair)", len(summary.CreatedJobs))
	}
	if len(summary.UpdatedJobs) != 0 || len(summary.SkippedGroups) != 0 {
		t.Errorf("unexpected updates %d or skips %d", len(summary.UpdatedJobs), len(summary.SkippedGroups))
	}

	// Second pass finds nothing unassigned.
	res = fx.svc.AutoGenerateFromOrders(ctx, GenerateInput{})
	if !res.Success {
		t.Fatalf("second pass failed: %+v", res.Err)
	}
	if err := registry.Decode(res, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary.CreatedJobs) != 0 || len(summary.UpdatedJobs) != 0 {
		t.Errorf("second pass created %d / updated %d jobs, want none", len(summary.CreatedJobs), len(summary.UpdatedJobs))
	}
}

func TestAutoGenerateAppendsToOpenJob(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	steel := uuid.New()
	existing := fx.mustCreateJob(t, steel, 3.0, 5)
	fx.store.addOrderItem(steel, 3.0, 8)

	res := fx.svc.AutoGenerateFromOrders(ctx, GenerateInput{})
	if !res.Success {
		t.Fatalf("auto-generate failed: %+v", res.Err)
	}
	var summary GenerateSummary
	if err := registry.Decode(res, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary.UpdatedJobs) != 1 || summary.UpdatedJobs[0].JobID != existing.JobID {
		t.Fatalf("updated jobs = %+v, want the open PENDING job", summary.UpdatedJobs)
	}
	items, _ := fx.store.ListItems(ctx, uuid.MustParse(existing.JobID))
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	if total != 13 {
		t.Errorf("open job quantity = %d, want 13", total)
	}
}

func TestAutoGenerateConfirmedOnly(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	steel := uuid.New()
	fx.store.addOrderItem(steel, 3.0, 5)
	fx.store.addDraftOrderItem(steel, 8.0, 4)

	// Default pass plans confirmed orders only.
	res := fx.svc.AutoGenerateFromOrders(ctx, GenerateInput{})
	if !res.Success {
		t.Fatalf("auto-generate failed: %+v", res.Err)
	}
	var summary GenerateSummary
	if err := registry.Decode(res, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary.CreatedJobs) != 1 {
		t.Fatalf("created %d jobs, want 1 (draft order excluded)", len(summary.CreatedJobs))
	}

	// confirmed_only=false picks up the draft order's group too.
	confirmedOnly := false
	res = fx.svc.AutoGenerateFromOrders(ctx, GenerateInput{ConfirmedOnly: &confirmedOnly})
	if !res.Success {
		t.Fatalf("unrestricted pass failed: %+v", res.Err)
	}
	if err := registry.Decode(res, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary.CreatedJobs) != 1 {
		t.Fatalf("unrestricted pass created %d jobs, want 1", len(summary.CreatedJobs))
	}
	if got := summary.CreatedJobs[0].Thickness; got != 8.0 {
		t.Errorf("unrestricted pass planned thickness %v, want the draft group 8.0", got)
	}
}

func TestAutoGenerateReportsSkippedGroups(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	steel := uuid.New()
	aluminum := uuid.New()
	fx.store.addOrderItem(steel, 3.0, 5)
	fx.store.addOrderItem(aluminum, 2.0, 4)
	fx.store.failMaterial = aluminum

	res := fx.svc.AutoGenerateFromOrders(ctx, GenerateInput{})
	if !res.Success {
		t.Fatalf("auto-generate failed: %+v", res.Err)
	}
	var summary GenerateSummary
	if err := registry.Decode(res, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary.CreatedJobs) != 1 {
		t.Fatalf("created %d jobs, want the healthy group planned", len(summary.CreatedJobs))
	}
	if len(summary.SkippedGroups) != 1 {
		t.Fatalf("skipped groups = %+v, want one entry", summary.SkippedGroups)
	}
	skipped := summary.SkippedGroups[0]
	if skipped.MaterialTypeID != aluminum.String() || skipped.Thickness != 2.0 {
		t.Errorf("skipped group names %s/%v, want %s/2", skipped.MaterialTypeID, skipped.Thickness, aluminum)
	}
	if skipped.Reason != "lookup timed out" {
		t.Errorf("skipped reason = %q", skipped.Reason)
	}
}

func TestItemMutationsRequirePending(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	material := uuid.New()
	job := fx.mustCreateJob(t, material, 3.0, 5)
	items, _ := fx.store.ListItems(ctx, uuid.MustParse(job.JobID))
	fx.mustTransition(t, job.JobID, workflow.JobStatusOptimizing)

	orderItemID := fx.store.addOrderItem(material, 3.0, 2)
	add := fx.svc.AddItem(ctx, job.JobID, ItemInput{OrderItemID: orderItemID.String(), Quantity: 2})
	if code := failCode(t, add); code != registry.CodeJobNotPending {
		t.Errorf("add item on OPTIMIZING job: got %s", code)
	}
	remove := fx.svc.RemoveItem(ctx, job.JobID, items[0].ID.String())
	if code := failCode(t, remove); code != registry.CodeJobNotPending {
		t.Errorf("remove item on OPTIMIZING job: got %s", code)
	}
}

func TestDeleteJobRequiresPending(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	job := fx.mustCreateJob(t, uuid.New(), 3.0, 5)
	fx.mustTransition(t, job.JobID, workflow.JobStatusOptimizing)

	if code := failCode(t, fx.svc.DeleteJob(ctx, job.JobID)); code != registry.CodeCannotDelete {
		t.Errorf("delete OPTIMIZING job: got %s", code)
	}

	fx.mustTransition(t, job.JobID, workflow.JobStatusPending)
	res := fx.svc.DeleteJob(ctx, job.JobID)
	if !res.Success {
		t.Fatalf("delete PENDING job failed: %+v", res.Err)
	}
	// Deleting releases the claimed order-item quantity.
	for _, item := range fx.store.orderItems {
		if item.AssignedQuantity != 0 {
			t.Errorf("order item %s still has %d assigned", item.ID, item.AssignedQuantity)
		}
	}
}

func TestHandleOptimizationCompleted(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	job := fx.mustCreateJob(t, uuid.New(), 3.0, 5)
	fx.mustTransition(t, job.JobID, workflow.JobStatusOptimizing)

	jobID := uuid.MustParse(job.JobID)
	envelope, err := events.New(events.TypeOptimizationDone, events.AggregateCuttingJob, jobID,
		events.OptimizationCompletedPayload{JobID: jobID, ScenarioCount: 3})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}

	if err := fx.svc.HandleOptimizationCompleted(ctx, envelope); err != nil {
		t.Fatalf("handle optimization: %v", err)
	}
	got, _ := fx.store.GetJob(ctx, jobID)
	if got.Status != workflow.JobStatusOptimized || got.ScenarioCount != 3 {
		t.Errorf("job after optimization = (%s, %d), want (OPTIMIZED, 3)", got.Status, got.ScenarioCount)
	}

	// A redelivered result is dropped, not retried.
	if err := fx.svc.HandleOptimizationCompleted(ctx, envelope); err != nil {
		t.Fatalf("duplicate delivery should be a no-op, got %v", err)
	}
}
