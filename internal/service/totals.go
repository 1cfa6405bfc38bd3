package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/tabwise-pos/api/internal/database"
	"github.com/tabwise-pos/api/internal/enum"
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TotalsStore defines the DB methods needed to recompute order totals.
// Satisfied by *database.Queries (and its WithTx variant).
type TotalsStore interface {
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	ListActiveOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	UpdateOrderTotals(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error)
}

// NewTotalsStore creates a TotalsStore from a DBTX (pool or tx).
type NewTotalsStore func(db database.DBTX) TotalsStore

// TotalsService derives order totals from line items. The stored total is
// never authoritative on its own; it is recomputed from non-void items after
// every item insert, void, or discount change.
type TotalsService struct {
	pool     TxBeginner
	newStore NewTotalsStore
}

func NewTotalsService(pool TxBeginner, newStore NewTotalsStore) *TotalsService {
	return &TotalsService{pool: pool, newStore: newStore}
}

// Recompute re-derives subtotal, tax, and total for the order and persists
// them. Idempotent: with no intervening item or discount change, repeated
// calls write identical values.
func (s *TotalsService) Recompute(ctx context.Context, outletID, orderID uuid.UUID) (database.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, database.GetOrderForUpdateParams{
		ID:       orderID,
		OutletID: outletID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}

	if order.Status == enum.OrderStatusCompleted || order.Status == enum.OrderStatusCancelled {
		return database.Order{}, fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}

	updated, err := recomputeTotals(ctx, store, order)
	if err != nil {
		return database.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}
	return updated, nil
}

// recomputeTotals sums non-void items and persists the derived totals for an
// order already locked in the caller's transaction:
//
//	total = subtotal - discount + tax, clamped >= 0
func recomputeTotals(ctx context.Context, store TotalsStore, order database.Order) (database.Order, error) {
	items, err := store.ListActiveOrderItemsByOrder(ctx, order.ID)
	if err != nil {
		return database.Order{}, fmt.Errorf("list items: %w", err)
	}

	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(numericToDecimal(item.Subtotal))
		tax = tax.Add(numericToDecimal(item.TaxAmount))
	}

	discount := numericToDecimal(order.DiscountAmount)
	total := clampZero(subtotal.Sub(discount).Add(tax))

	updated, err := store.UpdateOrderTotals(ctx, database.UpdateOrderTotalsParams{
		ID:             order.ID,
		Subtotal:       decimalToNumeric(subtotal),
		TaxAmount:      decimalToNumeric(tax),
		DiscountAmount: decimalToNumeric(discount),
		Total:          decimalToNumeric(total),
	})
	if err != nil {
		return database.Order{}, fmt.Errorf("update totals: %w", err)
	}
	return updated, nil
}
