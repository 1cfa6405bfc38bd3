package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, outlet_id, order_number, status, subtotal, discount_amount, tax_amount, total, notes, created_by, created_at, updated_at, closed_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.OutletID,
		&o.OrderNumber,
		&o.Status,
		&o.Subtotal,
		&o.DiscountAmount,
		&o.TaxAmount,
		&o.Total,
		&o.Notes,
		&o.CreatedBy,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.ClosedAt,
	)
	return o, err
}

const createOrder = `
INSERT INTO orders (outlet_id, order_number, status, subtotal, discount_amount, tax_amount, total, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	OutletID       uuid.UUID
	OrderNumber    string
	Status         string
	Subtotal       pgtype.Numeric
	DiscountAmount pgtype.Numeric
	TaxAmount      pgtype.Numeric
	Total          pgtype.Numeric
	Notes          pgtype.Text
	CreatedBy      uuid.UUID
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.OutletID,
		arg.OrderNumber,
		arg.Status,
		arg.Subtotal,
		arg.DiscountAmount,
		arg.TaxAmount,
		arg.Total,
		arg.Notes,
		arg.CreatedBy,
	)
	return scanOrder(row)
}

const getOrder = `
SELECT ` + orderColumns + ` FROM orders
WHERE id = $1 AND outlet_id = $2`

type GetOrderParams struct {
	ID       uuid.UUID
	OutletID uuid.UUID
}

func (q *Queries) GetOrder(ctx context.Context, arg GetOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, arg.ID, arg.OutletID))
}

// GetOrderForUpdate locks the order row (FOR NO KEY UPDATE) for the rest of
// the surrounding transaction. Every balance check-and-write goes through
// this lock so concurrent payments serialize instead of racing on the
// remaining balance.
const getOrderForUpdate = `
SELECT ` + orderColumns + ` FROM orders
WHERE id = $1 AND outlet_id = $2
FOR NO KEY UPDATE`

type GetOrderForUpdateParams struct {
	ID       uuid.UUID
	OutletID uuid.UUID
}

func (q *Queries) GetOrderForUpdate(ctx context.Context, arg GetOrderForUpdateParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, arg.ID, arg.OutletID))
}

const listOrders = `
SELECT ` + orderColumns + ` FROM orders
WHERE outlet_id = $1
  AND ($4::text IS NULL OR status = $4)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

type ListOrdersParams struct {
	OutletID uuid.UUID
	Limit    int32
	Offset   int32
	Status   pgtype.Text
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrders, arg.OutletID, arg.Limit, arg.Offset, arg.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

const getNextOrderNumber = `
SELECT COALESCE(MAX(CAST(SUBSTRING(order_number FROM 4) AS INTEGER)), 0) + 1
FROM orders
WHERE outlet_id = $1 AND created_at::date = CURRENT_DATE`

func (q *Queries) GetNextOrderNumber(ctx context.Context, outletID uuid.UUID) (int32, error) {
	var n int32
	err := q.db.QueryRow(ctx, getNextOrderNumber, outletID).Scan(&n)
	return n, err
}

const updateOrderTotals = `
UPDATE orders
SET subtotal = $2, tax_amount = $3, discount_amount = $4, total = $5, updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

type UpdateOrderTotalsParams struct {
	ID             uuid.UUID
	Subtotal       pgtype.Numeric
	TaxAmount      pgtype.Numeric
	DiscountAmount pgtype.Numeric
	Total          pgtype.Numeric
}

func (q *Queries) UpdateOrderTotals(ctx context.Context, arg UpdateOrderTotalsParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderTotals, arg.ID, arg.Subtotal, arg.TaxAmount, arg.DiscountAmount, arg.Total)
	return scanOrder(row)
}

const completeOrder = `
UPDATE orders
SET status = 'COMPLETED', closed_at = now(), updated_at = now()
WHERE id = $1 AND status IN ('OPEN', 'IN_PROGRESS')
RETURNING ` + orderColumns

func (q *Queries) CompleteOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, completeOrder, id))
}

// CancelOrder enforces the precondition in SQL: only OPEN or IN_PROGRESS
// orders can be cancelled, atomically.
const cancelOrder = `
UPDATE orders
SET status = 'CANCELLED', closed_at = now(), updated_at = now()
WHERE id = $1 AND outlet_id = $2 AND status IN ('OPEN', 'IN_PROGRESS')
RETURNING ` + orderColumns

type CancelOrderParams struct {
	ID       uuid.UUID
	OutletID uuid.UUID
}

func (q *Queries) CancelOrder(ctx context.Context, arg CancelOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, cancelOrder, arg.ID, arg.OutletID))
}

const updateOrderDiscount = `
UPDATE orders
SET discount_amount = $2, updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

type UpdateOrderDiscountParams struct {
	ID             uuid.UUID
	DiscountAmount pgtype.Numeric
}

func (q *Queries) UpdateOrderDiscount(ctx context.Context, arg UpdateOrderDiscountParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, updateOrderDiscount, arg.ID, arg.DiscountAmount))
}
