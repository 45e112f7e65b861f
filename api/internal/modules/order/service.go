// Package order owns customer orders and their items. It feeds the
// cutting-job module's auto-generation (through that module's read interface)
// and follows job progress by reacting to lifecycle events; it never calls
// the cutting-job module synchronously.
package order

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"cutfab-backend/api/internal/models"
	"cutfab-backend/api/internal/repos"
	"cutfab-backend/shared/cachex"
	"cutfab-backend/shared/eventbus"
	"cutfab-backend/shared/events"
	"cutfab-backend/shared/httpx"
	"cutfab-backend/shared/logx"
	"cutfab-backend/shared/registry"
	"cutfab-backend/shared/tenantx"
	"cutfab-backend/shared/workflow"
)

const ModuleName = "order"

// Store is the persistence surface the service needs; *repos.OrdersRepo
// satisfies it.
type Store interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (models.Order, error)
	ListOrders(ctx context.Context, status string, limit int, offset int) ([]models.Order, error)
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	CreateOrder(ctx context.Context, order models.Order, items []models.OrderItem) (models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, toStatus string) (models.Order, error)
	OrderIDsForJobItems(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error)
}

type Service struct {
	store  Store
	bus    eventbus.Bus
	cache  *cachex.Client // nil disables read-through caching
	logger logx.Logger
}

func NewService(store Store, bus eventbus.Bus, cache *cachex.Client, logger logx.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		cache:  cache,
		logger: logger.With(slog.String("module", ModuleName)),
	}
}

type OrderDTO struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	CustomerID  string `json:"customer_id"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type OrderItemDTO struct {
	OrderItemID      string  `json:"order_item_id"`
	OrderID          string  `json:"order_id"`
	MaterialTypeID   string  `json:"material_type_id"`
	Thickness        float64 `json:"thickness"`
	Quantity         int     `json:"quantity"`
	AssignedQuantity int     `json:"assigned_quantity"`
}

type CreateItemInput struct {
	MaterialTypeID string  `json:"material_type_id"`
	Thickness      float64 `json:"thickness"`
	Quantity       int     `json:"quantity"`
}

type CreateOrderInput struct {
	OrderNumber string            `json:"order_number,omitempty"`
	CustomerID  string            `json:"customer_id"`
	Items       []CreateItemInput `json:"items"`
}

func (s *Service) GetOrder(ctx context.Context, rawID string) registry.Result {
	orderID, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return registry.Fail(registry.CodeInvalidRequest, "order id must be a UUID")
	}

	if s.cache != nil {
		var cached OrderDTO
		if hit, err := s.cache.GetJSON(ctx, cacheKey(orderID), &cached); err == nil && hit {
			return registry.OK(cached)
		}
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return s.orderFailure(err)
	}
	dto := toOrderDTO(order)
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey(orderID), dto, s.cache.DefaultTTL()); err != nil {
			s.logger.Warn(ctx, "order_cache_write_failed", "could not cache order",
				slog.String("order_id", orderID.String()), slog.String("error", err.Error()))
		}
	}
	return registry.OK(dto)
}

func (s *Service) ListOrders(ctx context.Context, status string, limit int, offset int) registry.Result {
	status = workflow.NormalizeStatus(status)
	if status != "" && !workflow.IsOrderStatus(status) {
		return registry.FailWith(registry.CodeInvalidStatus, "unknown order status "+status,
			map[string]any{"allowed": workflow.AllOrderStatuses()})
	}
	orders, err := s.store.ListOrders(ctx, status, limit, offset)
	if err != nil {
		return registry.Internal(registry.CodeOrderError, err)
	}
	return registry.OK(toOrderDTOs(orders))
}

// ListConfirmed is the view the cutting-job planner reads over the registry.
func (s *Service) ListConfirmed(ctx context.Context) registry.Result {
	return s.ListOrders(ctx, workflow.OrderStatusConfirmed, 0, 0)
}

func (s *Service) ListOrderItems(ctx context.Context, rawID string) registry.Result {
	orderID, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return registry.Fail(registry.CodeInvalidRequest, "order id must be a UUID")
	}
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return s.orderFailure(err)
	}
	items, err := s.store.ListOrderItems(ctx, orderID)
	if err != nil {
		return registry.Internal(registry.CodeOrderError, err)
	}
	return registry.OK(toOrderItemDTOs(items))
}

func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) registry.Result {
	customerID, err := uuid.Parse(strings.TrimSpace(in.CustomerID))
	if err != nil {
		return registry.Fail(registry.CodeInvalidRequest, "customer_id must be a UUID")
	}
	if len(in.Items) == 0 {
		return registry.Fail(registry.CodeInvalidRequest, "an order needs at least one item")
	}

	items := make([]models.OrderItem, 0, len(in.Items))
	for _, item := range in.Items {
		materialTypeID, err := uuid.Parse(strings.TrimSpace(item.MaterialTypeID))
		if err != nil {
			return registry.Fail(registry.CodeInvalidRequest, "material_type_id must be a UUID")
		}
		if item.Thickness <= 0 {
			return registry.Fail(registry.CodeInvalidRequest, "thickness must be positive")
		}
		if item.Quantity <= 0 {
			return registry.Fail(registry.CodeInvalidQuantity, "item quantity must be positive")
		}
		items = append(items, models.OrderItem{
			MaterialTypeID: materialTypeID,
			Thickness:      item.Thickness,
			Quantity:       item.Quantity,
		})
	}

	orderNumber := strings.TrimSpace(in.OrderNumber)
	if orderNumber == "" {
		orderNumber = newOrderNumber()
	}
	order := models.Order{
		TenantID:    tenantIDFrom(ctx),
		OrderNumber: orderNumber,
		CustomerID:  customerID,
		Status:      workflow.OrderStatusDraft,
	}
	created, err := s.store.CreateOrder(ctx, order, items)
	if err != nil {
		return registry.Internal(registry.CodeOrderError, err)
	}

	s.publish(ctx, events.TypeOrderCreated, created.ID, events.OrderCreatedPayload{
		OrderID:     created.ID,
		OrderNumber: created.OrderNumber,
		Status:      created.Status,
		ItemCount:   len(items),
	})
	return registry.OK(toOrderDTO(created))
}

func (s *Service) UpdateOrderStatus(ctx context.Context, rawID string, toStatus string) registry.Result {
	orderID, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return registry.Fail(registry.CodeInvalidRequest, "order id must be a UUID")
	}
	toStatus = workflow.NormalizeStatus(toStatus)
	if !workflow.IsOrderStatus(toStatus) {
		return registry.FailWith(registry.CodeInvalidStatus, "unknown order status "+toStatus,
			map[string]any{"allowed": workflow.AllOrderStatuses()})
	}

	before, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return s.orderFailure(err)
	}
	order, err := s.store.UpdateOrderStatus(ctx, orderID, toStatus)
	if err != nil {
		if errors.Is(err, repos.ErrInvalidOrderTransition) {
			return registry.FailWith(registry.CodeInvalidTransition, "status transition not allowed",
				map[string]any{"from": before.Status, "to": toStatus})
		}
		return s.orderFailure(err)
	}

	s.invalidate(ctx, orderID)
	s.publish(ctx, events.TypeOrderStatusUpdated, order.ID, events.OrderStatusUpdatedPayload{
		OrderID:    order.ID,
		FromStatus: before.Status,
		ToStatus:   order.Status,
	})
	return registry.OK(toOrderDTO(order))
}

func (s *Service) invalidate(ctx context.Context, orderID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(orderID)); err != nil {
		s.logger.Warn(ctx, "order_cache_invalidate_failed", "could not drop cached order",
			slog.String("order_id", orderID.String()), slog.String("error", err.Error()))
	}
}

func (s *Service) orderFailure(err error) registry.Result {
	if errors.Is(err, repos.ErrNotFound) {
		return registry.Fail(registry.CodeOrderNotFound, "order not found")
	}
	return registry.Internal(registry.CodeOrderError, err)
}

func (s *Service) publish(ctx context.Context, eventType string, aggregateID uuid.UUID, payload any) {
	envelope, err := events.New(eventType, events.AggregateOrder, aggregateID, payload)
	if err != nil {
		s.logger.Error(ctx, "event_build_failed", "could not build event envelope",
			slog.String("event_type", eventType), slog.String("error", err.Error()))
		return
	}
	envelope = envelope.WithCorrelation(httpx.CorrelationIDFromContext(ctx))
	if tid := tenantIDFrom(ctx); tid != uuid.Nil {
		envelope = envelope.WithTenant(tid)
	}
	if err := s.bus.Publish(ctx, envelope); err != nil {
		s.logger.Error(ctx, "event_publish_failed", "bus rejected event",
			slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
}

func cacheKey(orderID uuid.UUID) string {
	return "order:" + orderID.String()
}

func tenantIDFrom(ctx context.Context) uuid.UUID {
	return tenantx.UUIDFromContext(ctx)
}

func newOrderNumber() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func toOrderDTO(order models.Order) OrderDTO {
	return OrderDTO{
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID.String(),
		Status:      order.Status,
		CreatedAt:   order.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt:   order.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func toOrderDTOs(orders []models.Order) []OrderDTO {
	out := make([]OrderDTO, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderDTO(order))
	}
	return out
}

func toOrderItemDTOs(items []models.OrderItem) []OrderItemDTO {
	out := make([]OrderItemDTO, 0, len(items))
	for _, item := range items {
		out = append(out, OrderItemDTO{
			OrderItemID:      item.ID.String(),
			OrderID:          item.OrderID.String(),
			MaterialTypeID:   item.MaterialTypeID.String(),
			Thickness:        item.Thickness,
			Quantity:         item.Quantity,
			AssignedQuantity: item.AssignedQuantity,
		})
	}
	return out
}
