package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const paymentColumns = `id, order_id, split_id, method, amount, cash_received, change_given, reference, processed_by, created_at`

func scanPayment(row interface{ Scan(...any) error }) (Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.SplitID,
		&p.Method,
		&p.Amount,
		&p.CashReceived,
		&p.ChangeGiven,
		&p.Reference,
		&p.ProcessedBy,
		&p.CreatedAt,
	)
	return p, err
}

const createPayment = `
INSERT INTO payments (order_id, split_id, method, amount, cash_received, change_given, reference, processed_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + paymentColumns

type CreatePaymentParams struct {
	OrderID      uuid.UUID
	SplitID      pgtype.UUID
	Method       string
	Amount       pgtype.Numeric
	CashReceived pgtype.Numeric
	ChangeGiven  pgtype.Numeric
	Reference    pgtype.Text
	ProcessedBy  uuid.UUID
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	row := q.db.QueryRow(ctx, createPayment,
		arg.OrderID,
		arg.SplitID,
		arg.Method,
		arg.Amount,
		arg.CashReceived,
		arg.ChangeGiven,
		arg.Reference,
		arg.ProcessedBy,
	)
	return scanPayment(row)
}

const listPaymentsByOrder = `
SELECT ` + paymentColumns + ` FROM payments
WHERE order_id = $1
ORDER BY created_at`

func (q *Queries) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]Payment, error) {
	rows, err := q.db.Query(ctx, listPaymentsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// SumPaymentsByOrder covers every payment tied to the order, direct and
// split alike. The combined sum is what the order's remaining balance is
// measured against.
const sumPaymentsByOrder = `
SELECT COALESCE(SUM(amount), 0)
FROM payments
WHERE order_id = $1`

func (q *Queries) SumPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	err := q.db.QueryRow(ctx, sumPaymentsByOrder, orderID).Scan(&n)
	return n, err
}

const countSplitPaymentsByOrder = `
SELECT COUNT(*)
FROM payments
WHERE order_id = $1 AND split_id IS NOT NULL`

func (q *Queries) CountSplitPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countSplitPaymentsByOrder, orderID).Scan(&n)
	return n, err
}
