package production

import (
	"context"
	"encoding/json"

	"cutfab-backend/shared/registry"
)

func (s *Service) Router() *registry.Router {
	rt := registry.NewRouter()

	rt.Get("/production/:jobId", func(ctx context.Context, _ registry.Request, params map[string]string) registry.Result {
		return s.JobStatus(ctx, params["jobId"])
	})

	rt.Post("/production/:jobId/start", func(ctx context.Context, _ registry.Request, params map[string]string) registry.Result {
		return s.StartProduction(ctx, params["jobId"])
	})

	rt.Post("/production/:jobId/complete", func(ctx context.Context, req registry.Request, params map[string]string) registry.Result {
		var in CompleteInput
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &in); err != nil {
				return registry.Fail(registry.CodeInvalidRequest, "malformed request body")
			}
		}
		return s.CompleteProduction(ctx, params["jobId"], in)
	})

	return rt
}
