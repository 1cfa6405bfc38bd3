package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const splitColumns = `id, order_id, label, split_type, amount, tax_amount, total, paid_amount, status, metadata, created_at`

func scanSplit(row interface{ Scan(...any) error }) (OrderSplit, error) {
	var s OrderSplit
	err := row.Scan(
		&s.ID,
		&s.OrderID,
		&s.Label,
		&s.SplitType,
		&s.Amount,
		&s.TaxAmount,
		&s.Total,
		&s.PaidAmount,
		&s.Status,
		&s.Metadata,
		&s.CreatedAt,
	)
	return s, err
}

const createOrderSplit = `
INSERT INTO order_splits (order_id, label, split_type, amount, tax_amount, total, status, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + splitColumns

type CreateOrderSplitParams struct {
	OrderID   uuid.UUID
	Label     string
	SplitType string
	Amount    pgtype.Numeric
	TaxAmount pgtype.Numeric
	Total     pgtype.Numeric
	Status    string
	Metadata  []byte
}

func (q *Queries) CreateOrderSplit(ctx context.Context, arg CreateOrderSplitParams) (OrderSplit, error) {
	row := q.db.QueryRow(ctx, createOrderSplit,
		arg.OrderID,
		arg.Label,
		arg.SplitType,
		arg.Amount,
		arg.TaxAmount,
		arg.Total,
		arg.Status,
		arg.Metadata,
	)
	return scanSplit(row)
}

const listSplitsByOrder = `
SELECT ` + splitColumns + ` FROM order_splits
WHERE order_id = $1
ORDER BY created_at, label`

func (q *Queries) ListSplitsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderSplit, error) {
	rows, err := q.db.Query(ctx, listSplitsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var splits []OrderSplit
	for rows.Next() {
		s, err := scanSplit(rows)
		if err != nil {
			return nil, err
		}
		splits = append(splits, s)
	}
	return splits, rows.Err()
}

// GetSplitForUpdate locks the split row for the surrounding transaction,
// serializing concurrent payments against the same split.
const getSplitForUpdate = `
SELECT ` + splitColumns + ` FROM order_splits
WHERE id = $1 AND order_id = $2
FOR NO KEY UPDATE`

type GetSplitForUpdateParams struct {
	ID      uuid.UUID
	OrderID uuid.UUID
}

func (q *Queries) GetSplitForUpdate(ctx context.Context, arg GetSplitForUpdateParams) (OrderSplit, error) {
	return scanSplit(q.db.QueryRow(ctx, getSplitForUpdate, arg.ID, arg.OrderID))
}

const updateSplitPayment = `
UPDATE order_splits
SET paid_amount = $2, status = $3
WHERE id = $1
RETURNING ` + splitColumns

type UpdateSplitPaymentParams struct {
	ID         uuid.UUID
	PaidAmount pgtype.Numeric
	Status     string
}

func (q *Queries) UpdateSplitPayment(ctx context.Context, arg UpdateSplitPaymentParams) (OrderSplit, error) {
	return scanSplit(q.db.QueryRow(ctx, updateSplitPayment, arg.ID, arg.PaidAmount, arg.Status))
}

const countSplitsByOrder = `
SELECT COUNT(*)
FROM order_splits
WHERE order_id = $1`

func (q *Queries) CountSplitsByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countSplitsByOrder, orderID).Scan(&n)
	return n, err
}

const deleteSplitsByOrder = `
DELETE FROM order_splits
WHERE order_id = $1`

func (q *Queries) DeleteSplitsByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteSplitsByOrder, orderID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
