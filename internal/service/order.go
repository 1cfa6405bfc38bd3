package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/tabwise-pos/api/internal/database"
	"github.com/tabwise-pos/api/internal/enum"
)

const maxOrderNumberRetries = 3

// OrderStore defines the DB methods needed to create and mutate orders.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	TotalsStore
	GetNextOrderNumber(ctx context.Context, outletID uuid.UUID) (int32, error)
	CountSplitsByOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	VoidOrderItem(ctx context.Context, arg database.VoidOrderItemParams) (database.OrderItem, error)
	UpdateOrderDiscount(ctx context.Context, arg database.UpdateOrderDiscountParams) (database.Order, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
type NewOrderStore func(db database.DBTX) OrderStore

// CreateOrderRequest is the validated input for creating an order.
type CreateOrderRequest struct {
	OutletID       uuid.UUID
	CreatedBy      uuid.UUID
	Notes          string
	DiscountAmount string
	Items          []CreateOrderItemRequest
}

// CreateOrderItemRequest is a single line item in the order.
type CreateOrderItemRequest struct {
	Name           string
	Quantity       int32
	UnitPrice      string
	DiscountAmount string
}

// CreateOrderResult is the full created order with items.
type CreateOrderResult struct {
	Order database.Order
	Items []database.OrderItem
}

// AddItemRequest adds one line item to an existing open order.
type AddItemRequest struct {
	OutletID       uuid.UUID
	OrderID        uuid.UUID
	Name           string
	Quantity       int32
	UnitPrice      string
	DiscountAmount string
}

// OrderService handles order lifecycle: creation, item changes, discount
// changes. Every item or discount mutation reruns the totals derivation in
// the same transaction.
type OrderService struct {
	pool     TxBeginner
	newStore NewOrderStore
	taxRate  decimal.Decimal
}

// NewOrderService creates a new OrderService. taxRate is a decimal fraction
// (e.g. 0.10) applied to each item's net subtotal.
func NewOrderService(pool TxBeginner, newStore NewOrderStore, taxRate decimal.Decimal) *OrderService {
	return &OrderService{pool: pool, newStore: newStore, taxRate: taxRate}
}

// processedItem holds prepared insert params for one line item.
type processedItem struct {
	params database.CreateOrderItemParams
}

// CreateOrder validates, calculates totals, and creates an order atomically.
// Retries up to maxOrderNumberRetries times on order_number unique constraint
// violations (race condition where concurrent transactions get the same MAX).
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	items := make([]processedItem, 0, len(req.Items))
	for i, item := range req.Items {
		pi, err := s.prepareItem(item)
		if err != nil {
			return nil, fmt.Errorf("item[%d]: %w", i, err)
		}
		items = append(items, pi)
	}

	discount := decimal.Zero
	if req.DiscountAmount != "" {
		d, err := decimal.NewFromString(req.DiscountAmount)
		if err != nil || d.IsNegative() {
			return nil, ErrInvalidDiscount
		}
		discount = d
	}

	// Retry loop: handles order_number unique constraint race condition.
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		result, err := s.createOrderTx(ctx, req, items, discount)
		if err == nil {
			return result, nil
		}
		if isOrderNumberConflict(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// isOrderNumberConflict checks if the error is a unique constraint violation
// on the order number (pgconn error code 23505).
func isOrderNumberConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_outlet_id_order_number_key"
	}
	return false
}

// prepareItem validates one item request and computes its monetary columns:
//
//	subtotal = unit_price * quantity - discount, clamped >= 0
//	tax      = subtotal * taxRate, rounded to 2dp
func (s *OrderService) prepareItem(item CreateOrderItemRequest) (processedItem, error) {
	if item.Quantity <= 0 {
		return processedItem{}, ErrInvalidQuantity
	}
	unitPrice, err := decimal.NewFromString(item.UnitPrice)
	if err != nil || unitPrice.IsNegative() {
		return processedItem{}, ErrInvalidPrice
	}

	itemDiscount := decimal.Zero
	if item.DiscountAmount != "" {
		d, err := decimal.NewFromString(item.DiscountAmount)
		if err != nil || d.IsNegative() {
			return processedItem{}, ErrInvalidDiscount
		}
		itemDiscount = d
	}

	subtotal := clampZero(unitPrice.Mul(decimal.NewFromInt32(item.Quantity)).Sub(itemDiscount))
	tax := subtotal.Mul(s.taxRate).Round(2)

	return processedItem{
		params: database.CreateOrderItemParams{
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPrice:      decimalToNumeric(unitPrice),
			Subtotal:       decimalToNumeric(subtotal),
			TaxAmount:      decimalToNumeric(tax),
			DiscountAmount: decimalToNumeric(itemDiscount),
		},
	}, nil
}

// createOrderTx executes the full order creation in a single transaction.
func (s *OrderService) createOrderTx(ctx context.Context, req CreateOrderRequest, items []processedItem, discount decimal.Decimal) (*CreateOrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	nextNum, err := store.GetNextOrderNumber(ctx, req.OutletID)
	if err != nil {
		return nil, fmt.Errorf("get next order number: %w", err)
	}
	orderNumber := fmt.Sprintf("TW-%03d", nextNum)

	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, pi := range items {
		subtotal = subtotal.Add(numericToDecimal(pi.params.Subtotal))
		tax = tax.Add(numericToDecimal(pi.params.TaxAmount))
	}
	total := clampZero(subtotal.Sub(discount).Add(tax))

	notes := pgtype.Text{}
	if req.Notes != "" {
		notes = pgtype.Text{String: req.Notes, Valid: true}
	}

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		OutletID:       req.OutletID,
		OrderNumber:    orderNumber,
		Status:         enum.OrderStatusOpen,
		Subtotal:       decimalToNumeric(subtotal),
		DiscountAmount: decimalToNumeric(discount),
		TaxAmount:      decimalToNumeric(tax),
		Total:          decimalToNumeric(total),
		Notes:          notes,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	var created []database.OrderItem
	for _, pi := range items {
		pi.params.OrderID = order.ID
		item, err := store.CreateOrderItem(ctx, pi.params)
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		created = append(created, item)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &CreateOrderResult{Order: order, Items: created}, nil
}

// AddItem inserts a line item into an open order and re-derives the totals
// in the same transaction.
func (s *OrderService) AddItem(ctx context.Context, req AddItemRequest) (database.OrderItem, database.Order, error) {
	pi, err := s.prepareItem(CreateOrderItemRequest{
		Name:           req.Name,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		DiscountAmount: req.DiscountAmount,
	})
	if err != nil {
		return database.OrderItem{}, database.Order{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.OrderItem{}, database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := s.lockOpenOrder(ctx, store, req.OutletID, req.OrderID)
	if err != nil {
		return database.OrderItem{}, database.Order{}, err
	}

	pi.params.OrderID = order.ID
	item, err := store.CreateOrderItem(ctx, pi.params)
	if err != nil {
		return database.OrderItem{}, database.Order{}, fmt.Errorf("create order item: %w", err)
	}

	updated, err := recomputeTotals(ctx, store, order)
	if err != nil {
		return database.OrderItem{}, database.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return database.OrderItem{}, database.Order{}, fmt.Errorf("commit tx: %w", err)
	}
	return item, updated, nil
}

// VoidItem marks an item void and re-derives the totals in the same
// transaction. Voided items no longer count toward any total.
func (s *OrderService) VoidItem(ctx context.Context, outletID, orderID, itemID uuid.UUID) (database.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := s.lockOpenOrder(ctx, store, outletID, orderID)
	if err != nil {
		return database.Order{}, err
	}

	if _, err := store.VoidOrderItem(ctx, database.VoidOrderItemParams{ID: itemID, OrderID: orderID}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrItemNotFound
		}
		return database.Order{}, fmt.Errorf("void order item: %w", err)
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

// SetDiscount replaces the order-level discount and re-derives the totals.
func (s *OrderService) SetDiscount(ctx context.Context, outletID, orderID uuid.UUID, amount string) (database.Order, error) {
	discount, err := decimal.NewFromString(amount)
	if err != nil || discount.IsNegative() {
		return database.Order{}, ErrInvalidDiscount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := s.lockOpenOrder(ctx, store, outletID, orderID)
	if err != nil {
		return database.Order{}, err
	}

	order, err = store.UpdateOrderDiscount(ctx, database.UpdateOrderDiscountParams{
		ID:             order.ID,
		DiscountAmount: decimalToNumeric(discount),
	})
	if err != nil {
		return database.Order{}, fmt.Errorf("update discount: %w", err)
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

// lockOpenOrder locks the order row and verifies it still accepts mutations.
// An order with a split set is frozen: its splits were derived from the
// current total, so items and discount cannot change until removeSplits.
func (s *OrderService) lockOpenOrder(ctx context.Context, store OrderStore, outletID, orderID uuid.UUID) (database.Order, error) {
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
	if order.Status != enum.OrderStatusOpen && order.Status != enum.OrderStatusInProgress {
		return database.Order{}, fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}

	splitCount, err := store.CountSplitsByOrder(ctx, order.ID)
	if err != nil {
		return database.Order{}, fmt.Errorf("count splits: %w", err)
	}
	if splitCount > 0 {
		return database.Order{}, ErrHasSplits
	}
	return order, nil
}
