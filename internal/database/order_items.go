package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderItemColumns = `id, order_id, name, quantity, unit_price, subtotal, tax_amount, discount_amount, is_void, created_at`

func scanOrderItem(row interface{ Scan(...any) error }) (OrderItem, error) {
	var i OrderItem
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.Name,
		&i.Quantity,
		&i.UnitPrice,
		&i.Subtotal,
		&i.TaxAmount,
		&i.DiscountAmount,
		&i.IsVoid,
		&i.CreatedAt,
	)
	return i, err
}

const createOrderItem = `
INSERT INTO order_items (order_id, name, quantity, unit_price, subtotal, tax_amount, discount_amount)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + orderItemColumns

type CreateOrderItemParams struct {
	OrderID        uuid.UUID
	Name           string
	Quantity       int32
	UnitPrice      pgtype.Numeric
	Subtotal       pgtype.Numeric
	TaxAmount      pgtype.Numeric
	DiscountAmount pgtype.Numeric
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID,
		arg.Name,
		arg.Quantity,
		arg.UnitPrice,
		arg.Subtotal,
		arg.TaxAmount,
		arg.DiscountAmount,
	)
	return scanOrderItem(row)
}

const listOrderItemsByOrder = `
SELECT ` + orderItemColumns + ` FROM order_items
WHERE order_id = $1
ORDER BY created_at`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItemsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		i, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// ListActiveOrderItemsByOrder excludes voided items; totals are computed
// only over this set.
const listActiveOrderItemsByOrder = `
SELECT ` + orderItemColumns + ` FROM order_items
WHERE order_id = $1 AND NOT is_void
ORDER BY created_at`

func (q *Queries) ListActiveOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listActiveOrderItemsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		i, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const voidOrderItem = `
UPDATE order_items
SET is_void = TRUE
WHERE id = $1 AND order_id = $2 AND NOT is_void
RETURNING ` + orderItemColumns

type VoidOrderItemParams struct {
	ID      uuid.UUID
	OrderID uuid.UUID
}

func (q *Queries) VoidOrderItem(ctx context.Context, arg VoidOrderItemParams) (OrderItem, error) {
	return scanOrderItem(q.db.QueryRow(ctx, voidOrderItem, arg.ID, arg.OrderID))
}
