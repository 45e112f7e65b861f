package cuttingjob

import (
	"context"
	"encoding/json"

	"cutfab-backend/shared/registry"
)

// Router builds the module's route table. The same routes serve in-process
// registry calls and, through the HTTP bridge, external clients.
func (s *Service) Router() *registry.Router {
	rt := registry.NewRouter()

	rt.Get("/cutting-jobs", func(ctx context.Context, req registry.Request, _ map[string]string) registry.Result {
		var in listInput
		if res := decodeOptional(req.Data, &in); !res.Success {
			return res
		}
		return s.ListJobs(ctx, in.Status, in.Limit, in.Offset)
	})

	rt.Get("/cutting-jobs/pending", func(ctx context.Context, _ registry.Request, _ map[string]string) registry.Result {
		return s.ListPending(ctx)
	})

	rt.Get("/cutting-jobs/:id", func(ctx context.Context, _ registry.Request, params map[string]string) registry.Result {
		return s.GetJob(ctx, params["id"])
	})

	rt.Get("/cutting-jobs/:id/with-items", func(ctx context.Context, _ registry.Request, params map[string]string) registry.Result {
		return s.GetJobWithItems(ctx, params["id"])
	})

	rt.Post("/cutting-jobs", func(ctx context.Context, req registry.Request, _ map[string]string) registry.Result {
		var in CreateJobInput
		if res := decodeBody(req.Data, &in); !res.Success {
			return res
		}
		return s.CreateJob(ctx, in)
	})

	rt.Put("/cutting-jobs/:id/status", func(ctx context.Context, req registry.Request, params map[string]string) registry.Result {
		var in statusInput
		if res := decodeBody(req.Data, &in); !res.Success {
			return res
		}
		return s.UpdateJobStatus(ctx, params["id"], in.Status)
	})

	rt.Post("/cutting-jobs/:id/items", func(ctx context.Context, req registry.Request, params map[string]string) registry.Result {
		var in ItemInput
		if res := decodeBody(req.Data, &in); !res.Success {
			return res
		}
		return s.AddItem(ctx, params["id"], in)
	})

	rt.Delete("/cutting-jobs/:id/items/:itemId", func(ctx context.Context, _ registry.Request, params map[string]string) registry.Result {
		return s.RemoveItem(ctx, params["id"], params["itemId"])
	})

	rt.Delete("/cutting-jobs/:id", func(ctx context.Context, _ registry.Request, params map[string]string) registry.Result {
		return s.DeleteJob(ctx, params["id"])
	})

	rt.Post("/cutting-jobs/merge", func(ctx context.Context, req registry.Request, _ map[string]string) registry.Result {
		var in MergeInput
		if res := decodeBody(req.Data, &in); !res.Success {
			return res
		}
		return s.MergeJobs(ctx, in)
	})

	rt.Post("/cutting-jobs/split", func(ctx context.Context, req registry.Request, _ map[string]string) registry.Result {
		var in SplitInput
		if res := decodeBody(req.Data, &in); !res.Success {
			return res
		}
		return s.SplitJob(ctx, in)
	})

	rt.Post("/cutting-jobs/auto-generate", func(ctx context.Context, req registry.Request, _ map[string]string) registry.Result {
		var in GenerateInput
		if res := decodeOptional(req.Data, &in); !res.Success {
			return res
		}
		return s.AutoGenerateFromOrders(ctx, in)
	})

	return rt
}

type listInput struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

type statusInput struct {
	Status string `json:"status"`
}

func decodeBody(raw json.RawMessage, dest any) registry.Result {
	if len(raw) == 0 {
		return registry.Fail(registry.CodeInvalidRequest, "request body is required")
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return registry.Fail(registry.CodeInvalidRequest, "malformed request body")
	}
	return registry.OK(nil)
}

func decodeOptional(raw json.RawMessage, dest any) registry.Result {
	if len(raw) == 0 {
		return registry.OK(nil)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return registry.Fail(registry.CodeInvalidRequest, "malformed request body")
	}
	return registry.OK(nil)
}
