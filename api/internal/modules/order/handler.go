package order

import (
	"context"
	"encoding/json"

	"cutfab-backend/shared/registry"
)

func (s *Service) Router() *registry.Router {
	rt := registry.NewRouter()

	rt.Get("/orders", func(ctx context.Context, req registry.Request, _ map[string]string) registry.Result {
		var in listInput
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &in); err != nil {
				return registry.Fail(registry.CodeInvalidRequest, "malformed request body")
			}
		}
		return s.ListOrders(ctx, in.Status, in.Limit, in.Offset)
	})

	rt.Get("/orders/confirmed", func(ctx context.Context, _ registry.Request, _ map[string]string) registry.Result {
		return s.ListConfirmed(ctx)
	})

	rt.Get("/orders/:id", func(ctx context.Context, _ registry.Request, params map[string]string) registry.Result {
		return s.GetOrder(ctx, params["id"])
	})

	rt.Get("/orders/:id/items", func(ctx context.Context, _ registry.Request, params map[string]string) registry.Result {
		return s.ListOrderItems(ctx, params["id"])
	})

	rt.Post("/orders", func(ctx context.Context, req registry.Request, _ map[string]string) registry.Result {
		var in CreateOrderInput
		if err := json.Unmarshal(req.Data, &in); err != nil || len(req.Data) == 0 {
			return registry.Fail(registry.CodeInvalidRequest, "malformed request body")
		}
		return s.CreateOrder(ctx, in)
	})

	rt.Put("/orders/:id/status", func(ctx context.Context, req registry.Request, params map[string]string) registry.Result {
		var in statusInput
		if err := json.Unmarshal(req.Data, &in); err != nil || len(req.Data) == 0 {
			return registry.Fail(registry.CodeInvalidRequest, "malformed request body")
		}
		return s.UpdateOrderStatus(ctx, params["id"], in.Status)
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
