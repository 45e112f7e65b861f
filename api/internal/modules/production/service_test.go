package production

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"cutfab-backend/shared/eventbus"
	"cutfab-backend/shared/events"
	"cutfab-backend/shared/logx"
	"cutfab-backend/shared/registry"
	"cutfab-backend/shared/workflow"
)

// fakeCuttingJob stands in for the cutting-job module behind the registry,
// enforcing the same transition table.
type fakeCuttingJob struct {
	jobs map[string]map[string]string // jobID -> {job_number, status}
}

func newFakeCuttingJob() *fakeCuttingJob {
	return &fakeCuttingJob{jobs: make(map[string]map[string]string)}
}

func (f *fakeCuttingJob) add(status string) string {
	jobID := uuid.NewString()
	f.jobs[jobID] = map[string]string{"job_id": jobID, "job_number": "CJ-FAKE", "status": status}
	return jobID
}

func (f *fakeCuttingJob) Handle(_ context.Context, req registry.Request) registry.Result {
	rt := registry.NewRouter()
	rt.Get("/cutting-jobs/:id", func(_ context.Context, _ registry.Request, params map[string]string) registry.Result {
		job, ok := f.jobs[params["id"]]
		if !ok {
			return registry.Fail(registry.CodeJobNotFound, "cutting job not found")
		}
		return registry.OK(job)
	})
	rt.Put("/cutting-jobs/:id/status", func(_ context.Context, req registry.Request, params map[string]string) registry.Result {
		job, ok := f.jobs[params["id"]]
		if !ok {
			return registry.Fail(registry.CodeJobNotFound, "cutting job not found")
		}
		var in struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(req.Data, &in); err != nil {
			return registry.Fail(registry.CodeInvalidRequest, "malformed request body")
		}
		if !workflow.CanTransitionJob(job["status"], in.Status) {
			return registry.Fail(registry.CodeInvalidTransition, "status transition not allowed")
		}
		job["status"] = in.Status
		return registry.OK(job)
	})
	return rt.Handle(context.Background(), req)
}

type fixture struct {
	jobs     *fakeCuttingJob
	svc      *Service
	recorded *[]events.Envelope
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	jobs := newFakeCuttingJob()
	reg.Register("cutting-job", jobs)

	bus := eventbus.NewInProc(logx.NewNop(), eventbus.RetryPolicy{MaxAttempts: 1})
	recorded := &[]events.Envelope{}
	bus.Subscribe(events.TypeProductionCompleted, func(_ context.Context, envelope events.Envelope) error {
		*recorded = append(*recorded, envelope)
		return nil
	})

	svc := NewService(reg, bus, nil, logx.NewNop())
	return &fixture{jobs: jobs, svc: svc, recorded: recorded}
}

func TestStartProduction(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	jobID := fx.jobs.add(workflow.JobStatusOptimized)

	res := fx.svc.StartProduction(ctx, jobID)
	if !res.Success {
		t.Fatalf("start failed: %+v", res.Err)
	}
	if got := fx.jobs.jobs[jobID]["status"]; got != workflow.JobStatusInProduction {
		t.Errorf("job status = %s, want IN_PRODUCTION", got)
	}
}

func TestStartProductionPassesThroughRejection(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	jobID := fx.jobs.add(workflow.JobStatusPending)

	res := fx.svc.StartProduction(ctx, jobID)
	if res.Success || res.Err.Code != registry.CodeInvalidTransition {
		t.Fatalf("PENDING job start: got %+v, want %s", res.Err, registry.CodeInvalidTransition)
	}

	res = fx.svc.StartProduction(ctx, uuid.NewString())
	if res.Success || res.Err.Code != registry.CodeJobNotFound {
		t.Fatalf("missing job: got %+v, want %s", res.Err, registry.CodeJobNotFound)
	}

	res = fx.svc.StartProduction(ctx, "not-a-uuid")
	if res.Success || res.Err.Code != registry.CodeInvalidRequest {
		t.Fatalf("bad id: got %+v, want %s", res.Err, registry.CodeInvalidRequest)
	}
}

func TestCompleteProduction(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	jobID := fx.jobs.add(workflow.JobStatusInProduction)

	res := fx.svc.CompleteProduction(ctx, jobID, CompleteInput{OperatorID: "op-7", DurationMS: 1500})
	if !res.Success {
		t.Fatalf("complete failed: %+v", res.Err)
	}
	if got := fx.jobs.jobs[jobID]["status"]; got != workflow.JobStatusCompleted {
		t.Errorf("job status = %s, want COMPLETED", got)
	}

	if len(*fx.recorded) != 1 {
		t.Fatalf("production.completed published %d times, want 1", len(*fx.recorded))
	}
	var payload events.ProductionCompletedPayload
	if err := (*fx.recorded)[0].DecodePayload(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.OperatorID != "op-7" || payload.DurationMS != 1500 {
		t.Errorf("payload = %+v, want operator and duration carried through", payload)
	}
}

func TestCompleteProductionRequiresInProduction(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	jobID := fx.jobs.add(workflow.JobStatusOptimized)

	res := fx.svc.CompleteProduction(ctx, jobID, CompleteInput{})
	if res.Success || res.Err.Code != registry.CodeInvalidTransition {
		t.Fatalf("OPTIMIZED job complete: got %+v, want %s", res.Err, registry.CodeInvalidTransition)
	}
	if len(*fx.recorded) != 0 {
		t.Errorf("no event expected for a rejected completion")
	}
}

func TestProductionFailsWithoutCuttingJobModule(t *testing.T) {
	reg := registry.New()
	bus := eventbus.NewInProc(logx.NewNop(), eventbus.RetryPolicy{MaxAttempts: 1})
	svc := NewService(reg, bus, nil, logx.NewNop())

	res := svc.StartProduction(context.Background(), uuid.NewString())
	if res.Success || res.Err.Code != registry.CodeModuleNotFound {
		t.Fatalf("missing module: got %+v, want %s", res.Err, registry.CodeModuleNotFound)
	}
}
