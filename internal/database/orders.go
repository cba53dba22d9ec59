package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, customer_id, address, city, postal_code, total_price,
	status, payment_status, payment_intent_id, created_at, updated_at`

// CreateOrderParams holds the fields for inserting an order.
type CreateOrderParams struct {
	CustomerID      uuid.UUID
	Address         string
	City            string
	PostalCode      string
	TotalPrice      pgtype.Numeric
	Status          string
	PaymentStatus   string
	PaymentIntentID string
}

// CreateOrder inserts a new order and returns it.
// The UNIQUE constraint on payment_intent_id rejects a second order binding
// the same intent (pg error 23505).
func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO orders (customer_id, address, city, postal_code, total_price,
			status, payment_status, payment_intent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+orderColumns,
		arg.CustomerID, arg.Address, arg.City, arg.PostalCode, arg.TotalPrice,
		arg.Status, arg.PaymentStatus, arg.PaymentIntentID,
	)
	return scanOrder(row)
}

// CreateOrderItemParams holds the fields for inserting an order item.
type CreateOrderItemParams struct {
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Name      string
	UnitPrice pgtype.Numeric
	Quantity  int32
	Position  int32
}

// CreateOrderItem inserts one order line.
func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO order_items (order_id, product_id, name, unit_price, quantity, position)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, order_id, product_id, name, unit_price, quantity, position`,
		arg.OrderID, arg.ProductID, arg.Name, arg.UnitPrice, arg.Quantity, arg.Position,
	)
	var it OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.UnitPrice, &it.Quantity, &it.Position)
	return it, err
}

// GetOrder fetches an order by primary key.
func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1`,
		id,
	)
	return scanOrder(row)
}

// ListOrders returns all orders, newest first. Admin dashboard view.
func (q *Queries) ListOrders(ctx context.Context) ([]Order, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListOrdersByCustomer returns one customer's orders, newest first.
func (q *Queries) ListOrdersByCustomer(ctx context.Context, customerID uuid.UUID) ([]Order, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE customer_id = $1 ORDER BY created_at DESC`,
		customerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListOrderItemsByOrder returns the lines of one order in cart order.
func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, order_id, product_id, name, unit_price, quantity, position
		FROM order_items WHERE order_id = $1 ORDER BY position`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.UnitPrice, &it.Quantity, &it.Position); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateOrderStatusParams identifies the order and the edge to apply.
type UpdateOrderStatusParams struct {
	ID         uuid.UUID
	Status     string
	FromStatus string
}

// UpdateOrderStatus applies a status transition as an atomic conditional
// write: the row is only updated if it is still in FromStatus. Returns
// pgx.ErrNoRows when another writer advanced the order first.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING `+orderColumns,
		arg.ID, arg.Status, arg.FromStatus,
	)
	return scanOrder(row)
}

// MarkPaymentIntentPaid is the webhook reconciliation write: a single
// match-and-set that flips payment_status to paid only while it is still
// pending. Replayed webhooks and client-confirmed orders match nothing, so
// the update degrades to a no-op (pgx.ErrNoRows) instead of clobbering
// state that already progressed.
func (q *Queries) MarkPaymentIntentPaid(ctx context.Context, paymentIntentID string) (Order, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE orders SET payment_status = 'paid', status = 'pending', updated_at = now()
		WHERE payment_intent_id = $1 AND payment_status = 'pending'
		RETURNING `+orderColumns,
		paymentIntentID,
	)
	return scanOrder(row)
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Address, &o.City, &o.PostalCode, &o.TotalPrice,
		&o.Status, &o.PaymentStatus, &o.PaymentIntentID, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.ID, &o.CustomerID, &o.Address, &o.City, &o.PostalCode, &o.TotalPrice,
			&o.Status, &o.PaymentStatus, &o.PaymentIntentID, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
