package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cutfab-backend/api/internal/models"
	"cutfab-backend/shared/workflow"
)

var ErrInvalidOrderTransition = errors.New("invalid order status transition")

const orderColumns = `order_id, tenant_id, order_number, customer_id, status, created_at, updated_at`

type OrdersRepo struct {
	pool *pgxpool.Pool
}

func NewOrdersRepo(pool *pgxpool.Pool) *OrdersRepo {
	return &OrdersRepo{pool: pool}
}

func (r *OrdersRepo) GetOrder(ctx context.Context, orderID uuid.UUID) (models.Order, error) {
	var order models.Order
	err := r.pool.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE order_id = $1
	`, orderID).Scan(orderFields(&order)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, ErrNotFound
	}
	return order, err
}

func (r *OrdersRepo) ListOrders(ctx context.Context, status string, limit int, offset int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(orderFields(&order)...); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (r *OrdersRepo) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT order_item_id, order_id, material_type_id, thickness, quantity, assigned_quantity, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderItems(rows)
}

// ListUnassignedItems returns order items with remaining unassigned quantity,
// optionally restricted to CONFIRMED orders. Auto-generate groups these by
// (material_type_id, thickness).
func (r *OrdersRepo) ListUnassignedItems(ctx context.Context, confirmedOnly bool) ([]models.OrderItem, error) {
	status := ""
	if confirmedOnly {
		status = workflow.OrderStatusConfirmed
	}
	rows, err := r.pool.Query(ctx, `
		SELECT i.order_item_id, i.order_id, i.material_type_id, i.thickness, i.quantity, i.assigned_quantity, i.created_at
		FROM order_items i
		JOIN orders o ON o.order_id = i.order_id
		WHERE i.quantity > i.assigned_quantity
		  AND ($1 = '' OR o.status = $1)
		ORDER BY i.created_at ASC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderItems(rows)
}

func (r *OrdersRepo) CreateOrder(ctx context.Context, order models.Order, items []models.OrderItem) (models.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (order_id, tenant_id, order_number, customer_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+orderColumns+`
	`, order.ID, order.TenantID, order.OrderNumber, order.CustomerID, order.Status, now).
		Scan(orderFields(&order)...)
	if err != nil {
		return models.Order{}, err
	}

	for _, item := range items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_item_id, order_id, material_type_id, thickness, quantity, assigned_quantity, created_at)
			VALUES ($1, $2, $3, $4, $5, 0, $6)
		`, item.ID, order.ID, item.MaterialTypeID, item.Thickness, item.Quantity, now)
		if err != nil {
			return models.Order{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Order{}, err
	}
	return order, nil
}

// UpdateOrderStatus applies one transition under FOR UPDATE against the
// order transition table.
func (r *OrdersRepo) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, toStatus string) (models.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var order models.Order
	err = tx.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE order_id = $1 FOR UPDATE
	`, orderID).Scan(orderFields(&order)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, err
	}
	if !workflow.CanTransitionOrder(order.Status, toStatus) {
		return models.Order{}, ErrInvalidOrderTransition
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = $3 WHERE order_id = $1
	`, orderID, toStatus, now)
	if err != nil {
		return models.Order{}, err
	}
	order.Status = toStatus
	order.UpdatedAt = now

	if err := tx.Commit(ctx); err != nil {
		return models.Order{}, err
	}
	return order, nil
}

// OrderIDsForJobItems resolves which orders the given cutting-job items came
// from, so job completion can ripple order status updates.
func (r *OrdersRepo) OrderIDsForJobItems(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT i.order_id
		FROM order_items i
		JOIN cutting_job_items ji ON ji.order_item_id = i.order_item_id
		WHERE ji.job_id = $1
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func orderFields(order *models.Order) []any {
	return []any{&order.ID, &order.TenantID, &order.OrderNumber, &order.CustomerID, &order.Status, &order.CreatedAt, &order.UpdatedAt}
}

func scanOrderItems(rows pgx.Rows) ([]models.OrderItem, error) {
	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MaterialTypeID, &item.Thickness, &item.Quantity, &item.AssignedQuantity, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
