package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tabwise-pos/api/internal/database"
	"github.com/tabwise-pos/api/internal/enum"
)

// mockOrderStore implements OrderStore with configurable behavior.
type mockOrderStore struct {
	getOrderForUpdateFn  func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	listActiveItemsFn    func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	updateOrderTotalsFn  func(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error)
	getNextOrderNumberFn func(ctx context.Context, outletID uuid.UUID) (int32, error)
	countSplitsFn        func(ctx context.Context, orderID uuid.UUID) (int64, error)
	createOrderFn        func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	createOrderItemFn    func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	voidOrderItemFn      func(ctx context.Context, arg database.VoidOrderItemParams) (database.OrderItem, error)
	updateDiscountFn     func(ctx context.Context, arg database.UpdateOrderDiscountParams) (database.Order, error)
}

func (m *mockOrderStore) GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
	return m.getOrderForUpdateFn(ctx, arg)
}
func (m *mockOrderStore) ListActiveOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
	return m.listActiveItemsFn(ctx, orderID)
}
func (m *mockOrderStore) UpdateOrderTotals(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error) {
	return m.updateOrderTotalsFn(ctx, arg)
}
func (m *mockOrderStore) GetNextOrderNumber(ctx context.Context, outletID uuid.UUID) (int32, error) {
	return m.getNextOrderNumberFn(ctx, outletID)
}
func (m *mockOrderStore) CountSplitsByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	if m.countSplitsFn == nil {
		return 0, nil
	}
	return m.countSplitsFn(ctx, orderID)
}
func (m *mockOrderStore) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	return m.createOrderFn(ctx, arg)
}
func (m *mockOrderStore) CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
	return m.createOrderItemFn(ctx, arg)
}
func (m *mockOrderStore) VoidOrderItem(ctx context.Context, arg database.VoidOrderItemParams) (database.OrderItem, error) {
	return m.voidOrderItemFn(ctx, arg)
}
func (m *mockOrderStore) UpdateOrderDiscount(ctx context.Context, arg database.UpdateOrderDiscountParams) (database.Order, error) {
	return m.updateDiscountFn(ctx, arg)
}

// newTestOrderService creates an OrderService with mocked dependencies and a
// 10% tax rate.
func newTestOrderService(store *mockOrderStore) (*OrderService, *mockTx) {
	tx := &mockTx{}
	pool := &mockTxBeginner{tx: tx}
	newStore := func(db database.DBTX) OrderStore { return store }
	return NewOrderService(pool, newStore, dec("0.10")), tx
}

// defaultOrderStore returns a mockOrderStore with sensible defaults.
// Individual tests override the functions they care about.
func defaultOrderStore() *mockOrderStore {
	return &mockOrderStore{
		getNextOrderNumberFn: func(ctx context.Context, oid uuid.UUID) (int32, error) {
			return 1, nil
		},
		createOrderFn: func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
			return database.Order{
				ID:             uuid.New(),
				OutletID:       arg.OutletID,
				OrderNumber:    arg.OrderNumber,
				Status:         arg.Status,
				Subtotal:       arg.Subtotal,
				DiscountAmount: arg.DiscountAmount,
				TaxAmount:      arg.TaxAmount,
				Total:          arg.Total,
				Notes:          arg.Notes,
				CreatedBy:      arg.CreatedBy,
			}, nil
		},
		createOrderItemFn: func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
			return database.OrderItem{
				ID:             uuid.New(),
				OrderID:        arg.OrderID,
				Name:           arg.Name,
				Quantity:       arg.Quantity,
				UnitPrice:      arg.UnitPrice,
				Subtotal:       arg.Subtotal,
				TaxAmount:      arg.TaxAmount,
				DiscountAmount: arg.DiscountAmount,
			}, nil
		},
	}
}

func basicReq(outletID uuid.UUID) CreateOrderRequest {
	return CreateOrderRequest{
		OutletID:  outletID,
		CreatedBy: uuid.New(),
		Items: []CreateOrderItemRequest{
			{Name: "Nasi Goreng", Quantity: 2, UnitPrice: "25.00"},
		},
	}
}

// =====================
// Validation tests
// =====================

func TestCreateOrder_EmptyItems(t *testing.T) {
	svc, _ := newTestOrderService(defaultOrderStore())

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		OutletID:  uuid.New(),
		CreatedBy: uuid.New(),
		Items:     nil,
	})
	if !errors.Is(err, ErrEmptyItems) {
		t.Fatalf("expected ErrEmptyItems, got: %v", err)
	}
}

func TestCreateOrder_ZeroQuantity(t *testing.T) {
	svc, _ := newTestOrderService(defaultOrderStore())

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		OutletID:  uuid.New(),
		CreatedBy: uuid.New(),
		Items: []CreateOrderItemRequest{
			{Name: "Es Teh", Quantity: 0, UnitPrice: "5.00"},
		},
	})
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got: %v", err)
	}
}

func TestCreateOrder_NegativePrice(t *testing.T) {
	svc, _ := newTestOrderService(defaultOrderStore())

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		OutletID:  uuid.New(),
		CreatedBy: uuid.New(),
		Items: []CreateOrderItemRequest{
			{Name: "Es Teh", Quantity: 1, UnitPrice: "-5.00"},
		},
	})
	if !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got: %v", err)
	}
}

func TestCreateOrder_NegativeDiscount(t *testing.T) {
	svc, _ := newTestOrderService(defaultOrderStore())

	req := basicReq(uuid.New())
	req.DiscountAmount = "-1.00"
	_, err := svc.CreateOrder(context.Background(), req)
	if !errors.Is(err, ErrInvalidDiscount) {
		t.Fatalf("expected ErrInvalidDiscount, got: %v", err)
	}
}

// =====================
// Totals derivation
// =====================

func TestCreateOrder_ComputesTotals(t *testing.T) {
	store := defaultOrderStore()
	var captured database.CreateOrderParams
	createFn := store.createOrderFn
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		captured = arg
		return createFn(ctx, arg)
	}
	svc, _ := newTestOrderService(store)

	// 2 x 25.00 = 50.00 subtotal, 10% tax = 5.00, total 55.00
	result, err := svc.CreateOrder(context.Background(), basicReq(uuid.New()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !numericEquals(captured.Subtotal, "50.00") {
		t.Errorf("subtotal = %s, want 50.00", numericToDecimal(captured.Subtotal))
	}
	if !numericEquals(captured.TaxAmount, "5.00") {
		t.Errorf("tax = %s, want 5.00", numericToDecimal(captured.TaxAmount))
	}
	if !numericEquals(captured.Total, "55.00") {
		t.Errorf("total = %s, want 55.00", numericToDecimal(captured.Total))
	}
	if result.Order.OrderNumber != "TW-001" {
		t.Errorf("order number = %s, want TW-001", result.Order.OrderNumber)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(result.Items))
	}
}

func TestCreateOrder_DiscountClampsTotal(t *testing.T) {
	store := defaultOrderStore()
	var captured database.CreateOrderParams
	createFn := store.createOrderFn
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		captured = arg
		return createFn(ctx, arg)
	}
	svc, _ := newTestOrderService(store)

	req := basicReq(uuid.New())
	req.DiscountAmount = "100.00" // exceeds subtotal + tax
	if _, err := svc.CreateOrder(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !numericEquals(captured.Total, "0.00") {
		t.Errorf("total = %s, want 0.00", numericToDecimal(captured.Total))
	}
}

func TestCreateOrder_ItemDiscountReducesTax(t *testing.T) {
	store := defaultOrderStore()
	var captured database.CreateOrderItemParams
	itemFn := store.createOrderItemFn
	store.createOrderItemFn = func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
		captured = arg
		return itemFn(ctx, arg)
	}
	svc, _ := newTestOrderService(store)

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		OutletID:  uuid.New(),
		CreatedBy: uuid.New(),
		Items: []CreateOrderItemRequest{
			// 3 x 10.00 - 5.00 = 25.00, tax 2.50
			{Name: "Sate", Quantity: 3, UnitPrice: "10.00", DiscountAmount: "5.00"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !numericEquals(captured.Subtotal, "25.00") {
		t.Errorf("item subtotal = %s, want 25.00", numericToDecimal(captured.Subtotal))
	}
	if !numericEquals(captured.TaxAmount, "2.50") {
		t.Errorf("item tax = %s, want 2.50", numericToDecimal(captured.TaxAmount))
	}
}

// =====================
// Order number retry
// =====================

func TestCreateOrder_RetriesOnNumberConflict(t *testing.T) {
	store := defaultOrderStore()
	attempts := 0
	createFn := store.createOrderFn
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		attempts++
		if attempts == 1 {
			return database.Order{}, &pgconn.PgError{
				Code:           "23505",
				ConstraintName: "orders_outlet_id_order_number_key",
			}
		}
		return createFn(ctx, arg)
	}
	svc, _ := newTestOrderService(store)

	if _, err := svc.CreateOrder(context.Background(), basicReq(uuid.New())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestCreateOrder_GivesUpAfterMaxRetries(t *testing.T) {
	store := defaultOrderStore()
	attempts := 0
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		attempts++
		return database.Order{}, &pgconn.PgError{
			Code:           "23505",
			ConstraintName: "orders_outlet_id_order_number_key",
		}
	}
	svc, _ := newTestOrderService(store)

	_, err := svc.CreateOrder(context.Background(), basicReq(uuid.New()))
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != maxOrderNumberRetries {
		t.Errorf("expected %d attempts, got %d", maxOrderNumberRetries, attempts)
	}
}

func TestCreateOrder_NoRetryOnOtherError(t *testing.T) {
	store := defaultOrderStore()
	attempts := 0
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		attempts++
		return database.Order{}, errors.New("connection reset")
	}
	svc, _ := newTestOrderService(store)

	if _, err := svc.CreateOrder(context.Background(), basicReq(uuid.New())); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

// =====================
// Item mutations
// =====================

func TestAddItem_RecomputesTotals(t *testing.T) {
	outletID := uuid.New()
	order := openOrder(outletID, "50.00", "0.00", "5.00", "55.00")

	store := defaultOrderStore()
	store.getOrderForUpdateFn = func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
		return order, nil
	}
	store.listActiveItemsFn = func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
		return []database.OrderItem{
			{Subtotal: makeNumeric("50.00"), TaxAmount: makeNumeric("5.00")},
			{Subtotal: makeNumeric("10.00"), TaxAmount: makeNumeric("1.00")},
		}, nil
	}
	var captured database.UpdateOrderTotalsParams
	store.updateOrderTotalsFn = func(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error) {
		captured = arg
		updated := order
		updated.Subtotal = arg.Subtotal
		updated.TaxAmount = arg.TaxAmount
		updated.Total = arg.Total
		return updated, nil
	}
	svc, _ := newTestOrderService(store)

	_, updated, err := svc.AddItem(context.Background(), AddItemRequest{
		OutletID:  outletID,
		OrderID:   order.ID,
		Name:      "Es Jeruk",
		Quantity:  1,
		UnitPrice: "10.00",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !numericEquals(captured.Subtotal, "60.00") {
		t.Errorf("subtotal = %s, want 60.00", numericToDecimal(captured.Subtotal))
	}
	if !numericEquals(updated.Total, "66.00") {
		t.Errorf("total = %s, want 66.00", numericToDecimal(updated.Total))
	}
}

func TestAddItem_RejectsSettledOrder(t *testing.T) {
	outletID := uuid.New()
	order := openOrder(outletID, "50.00", "0.00", "5.00", "55.00")
	order.Status = enum.OrderStatusCompleted

	store := defaultOrderStore()
	store.getOrderForUpdateFn = func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
		return order, nil
	}
	svc, _ := newTestOrderService(store)

	_, _, err := svc.AddItem(context.Background(), AddItemRequest{
		OutletID:  outletID,
		OrderID:   order.ID,
		Name:      "Es Jeruk",
		Quantity:  1,
		UnitPrice: "10.00",
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got: %v", err)
	}
}

// A split set is derived from the order total, so item and discount
// mutations are frozen until removeSplits clears it.
func TestAddItem_RejectsSplitOrder(t *testing.T) {
	outletID := uuid.New()
	order := openOrder(outletID, "50.00", "0.00", "5.00", "55.00")

	store := defaultOrderStore()
	store.getOrderForUpdateFn = func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
		return order, nil
	}
	store.countSplitsFn = func(ctx context.Context, orderID uuid.UUID) (int64, error) {
		return 3, nil
	}
	svc, _ := newTestOrderService(store)

	_, _, err := svc.AddItem(context.Background(), AddItemRequest{
		OutletID:  outletID,
		OrderID:   order.ID,
		Name:      "Es Jeruk",
		Quantity:  1,
		UnitPrice: "10.00",
	})
	if !errors.Is(err, ErrHasSplits) {
		t.Fatalf("expected ErrHasSplits, got: %v", err)
	}
}

func TestVoidItem_RejectsSplitOrder(t *testing.T) {
	outletID := uuid.New()
	order := openOrder(outletID, "50.00", "0.00", "5.00", "55.00")

	store := defaultOrderStore()
	store.getOrderForUpdateFn = func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
		return order, nil
	}
	store.countSplitsFn = func(ctx context.Context, orderID uuid.UUID) (int64, error) {
		return 2, nil
	}
	svc, _ := newTestOrderService(store)

	_, err := svc.VoidItem(context.Background(), outletID, order.ID, uuid.New())
	if !errors.Is(err, ErrHasSplits) {
		t.Fatalf("expected ErrHasSplits, got: %v", err)
	}
}

func TestSetDiscount_RejectsSplitOrder(t *testing.T) {
	outletID := uuid.New()
	order := openOrder(outletID, "50.00", "0.00", "5.00", "55.00")

	store := defaultOrderStore()
	store.getOrderForUpdateFn = func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
		return order, nil
	}
	store.countSplitsFn = func(ctx context.Context, orderID uuid.UUID) (int64, error) {
		return 2, nil
	}
	svc, _ := newTestOrderService(store)

	_, err := svc.SetDiscount(context.Background(), outletID, order.ID, "5.00")
	if !errors.Is(err, ErrHasSplits) {
		t.Fatalf("expected ErrHasSplits, got: %v", err)
	}
}

func TestVoidItem_NotFound(t *testing.T) {
	outletID := uuid.New()
	order := openOrder(outletID, "50.00", "0.00", "5.00", "55.00")

	store := defaultOrderStore()
	store.getOrderForUpdateFn = func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
		return order, nil
	}
	store.voidOrderItemFn = func(ctx context.Context, arg database.VoidOrderItemParams) (database.OrderItem, error) {
		return database.OrderItem{}, pgx.ErrNoRows
	}
	svc, _ := newTestOrderService(store)

	_, err := svc.VoidItem(context.Background(), outletID, order.ID, uuid.New())
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got: %v", err)
	}
}

func TestVoidItem_ExcludesVoidedFromTotals(t *testing.T) {
	outletID := uuid.New()
	order := openOrder(outletID, "60.00", "0.00", "6.00", "66.00")

	store := defaultOrderStore()
	store.getOrderForUpdateFn = func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
		return order, nil
	}
	store.voidOrderItemFn = func(ctx context.Context, arg database.VoidOrderItemParams) (database.OrderItem, error) {
		return database.OrderItem{ID: arg.ID, OrderID: arg.OrderID, IsVoid: true}, nil
	}
	// The voided item is already gone from the active item listing.
	store.listActiveItemsFn = func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
		return []database.OrderItem{
			{Subtotal: makeNumeric("50.00"), TaxAmount: makeNumeric("5.00")},
		}, nil
	}
	var captured database.UpdateOrderTotalsParams
	store.updateOrderTotalsFn = func(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error) {
		captured = arg
		updated := order
		updated.Total = arg.Total
		return updated, nil
	}
	svc, _ := newTestOrderService(store)

	if _, err := svc.VoidItem(context.Background(), outletID, order.ID, uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !numericEquals(captured.Total, "55.00") {
		t.Errorf("total = %s, want 55.00", numericToDecimal(captured.Total))
	}
}

func TestSetDiscount_Negative(t *testing.T) {
	svc, _ := newTestOrderService(defaultOrderStore())

	_, err := svc.SetDiscount(context.Background(), uuid.New(), uuid.New(), "-3.00")
	if !errors.Is(err, ErrInvalidDiscount) {
		t.Fatalf("expected ErrInvalidDiscount, got: %v", err)
	}
}

func TestSetDiscount_OrderNotFound(t *testing.T) {
	store := defaultOrderStore()
	store.getOrderForUpdateFn = func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
		return database.Order{}, pgx.ErrNoRows
	}
	svc, _ := newTestOrderService(store)

	_, err := svc.SetDiscount(context.Background(), uuid.New(), uuid.New(), "3.00")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got: %v", err)
	}
}
