package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/tabwise-pos/api/internal/database"
	"github.com/tabwise-pos/api/internal/enum"
)

// mockTotalsStore implements TotalsStore with configurable behavior.
type mockTotalsStore struct {
	getOrderForUpdateFn func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	listActiveItemsFn   func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	updateOrderTotalsFn func(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error)
}

func (m *mockTotalsStore) GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
	return m.getOrderForUpdateFn(ctx, arg)
}
func (m *mockTotalsStore) ListActiveOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
	return m.listActiveItemsFn(ctx, orderID)
}
func (m *mockTotalsStore) UpdateOrderTotals(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error) {
	return m.updateOrderTotalsFn(ctx, arg)
}

func newTestTotalsService(store *mockTotalsStore) *TotalsService {
	pool := &mockTxBeginner{tx: &mockTx{}}
	return NewTotalsService(pool, func(db database.DBTX) TotalsStore { return store })
}

func TestRecompute_Idempotent(t *testing.T) {
	outletID := uuid.New()
	order := openOrder(outletID, "50.00", "0.00", "5.00", "55.00")

	var writes []database.UpdateOrderTotalsParams
	store := &mockTotalsStore{
		getOrderForUpdateFn: func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
			return order, nil
		},
		listActiveItemsFn: func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
			return []database.OrderItem{
				{Subtotal: makeNumeric("50.00"), TaxAmount: makeNumeric("5.00")},
			}, nil
		},
		updateOrderTotalsFn: func(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error) {
			writes = append(writes, arg)
			updated := order
			updated.Total = arg.Total
			return updated, nil
		},
	}
	svc := newTestTotalsService(store)

	for i := 0; i < 2; i++ {
		if _, err := svc.Recompute(context.Background(), outletID, order.ID); err != nil {
			t.Fatalf("recompute %d: %v", i, err)
		}
	}

	if len(writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(writes))
	}
	for i, w := range writes {
		if !numericEquals(w.Subtotal, "50.00") || !numericEquals(w.TaxAmount, "5.00") || !numericEquals(w.Total, "55.00") {
			t.Errorf("write %d: got %s/%s/%s, want 50.00/5.00/55.00",
				i, numericToDecimal(w.Subtotal), numericToDecimal(w.TaxAmount), numericToDecimal(w.Total))
		}
	}
}

func TestRecompute_DiscountClampsToZero(t *testing.T) {
	outletID := uuid.New()
	order := openOrder(outletID, "10.00", "50.00", "1.00", "0.00")

	var captured database.UpdateOrderTotalsParams
	store := &mockTotalsStore{
		getOrderForUpdateFn: func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
			return order, nil
		},
		listActiveItemsFn: func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
			return []database.OrderItem{
				{Subtotal: makeNumeric("10.00"), TaxAmount: makeNumeric("1.00")},
			}, nil
		},
		updateOrderTotalsFn: func(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error) {
			captured = arg
			return order, nil
		},
	}
	svc := newTestTotalsService(store)

	if _, err := svc.Recompute(context.Background(), outletID, order.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !numericEquals(captured.Total, "0.00") {
		t.Errorf("total = %s, want 0.00", numericToDecimal(captured.Total))
	}
}

func TestRecompute_EmptyOrderZeroesTotals(t *testing.T) {
	outletID := uuid.New()
	order := openOrder(outletID, "50.00", "0.00", "5.00", "55.00")

	var captured database.UpdateOrderTotalsParams
	store := &mockTotalsStore{
		getOrderForUpdateFn: func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
			return order, nil
		},
		listActiveItemsFn: func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
			return nil, nil
		},
		updateOrderTotalsFn: func(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error) {
			captured = arg
			return order, nil
		},
	}
	svc := newTestTotalsService(store)

	if _, err := svc.Recompute(context.Background(), outletID, order.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !numericEquals(captured.Subtotal, "0.00") || !numericEquals(captured.Total, "0.00") {
		t.Errorf("got %s/%s, want 0.00/0.00",
			numericToDecimal(captured.Subtotal), numericToDecimal(captured.Total))
	}
}

func TestRecompute_RejectsClosedOrder(t *testing.T) {
	outletID := uuid.New()
	order := openOrder(outletID, "50.00", "0.00", "5.00", "55.00")
	order.Status = enum.OrderStatusCancelled

	store := &mockTotalsStore{
		getOrderForUpdateFn: func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
			return order, nil
		},
	}
	svc := newTestTotalsService(store)

	_, err := svc.Recompute(context.Background(), outletID, order.ID)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got: %v", err)
	}
}
