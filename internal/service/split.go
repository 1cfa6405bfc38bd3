package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/tabwise-pos/api/internal/database"
	"github.com/tabwise-pos/api/internal/enum"
)

// SplitStore defines the DB methods needed to allocate and remove splits.
// Satisfied by *database.Queries (and its WithTx variant).
type SplitStore interface {
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	ListActiveOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	ListSplitsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderSplit, error)
	CountSplitPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
	DeleteSplitsByOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
	CreateOrderSplit(ctx context.Context, arg database.CreateOrderSplitParams) (database.OrderSplit, error)
}

// NewSplitStore creates a SplitStore from a DBTX (pool or tx).
type NewSplitStore func(db database.DBTX) SplitStore

// SplitEqualRequest divides the bill evenly among NumberOfGuests parties.
type SplitEqualRequest struct {
	OutletID       uuid.UUID
	OrderID        uuid.UUID
	NumberOfGuests int
	GuestNames     []string
}

// SplitAssignment maps one guest to the order items they are paying for.
type SplitAssignment struct {
	GuestIndex int
	ItemIDs    []uuid.UUID
}

// SplitByItemsRequest divides the bill by item assignment; unassigned items
// form a shared pool divided evenly across all guests.
type SplitByItemsRequest struct {
	OutletID       uuid.UUID
	OrderID        uuid.UUID
	NumberOfGuests int
	GuestNames     []string
	Assignments    []SplitAssignment
}

// CustomGuest is one party's self-declared share of the bill.
type CustomGuest struct {
	Name   string
	Amount string
}

// SplitCustomRequest divides the bill into caller-supplied amounts.
type SplitCustomRequest struct {
	OutletID uuid.UUID
	OrderID  uuid.UUID
	Guests   []CustomGuest
}

// SplitListResult is the read model for an order's split set.
type SplitListResult struct {
	OrderTotal decimal.Decimal
	SplitCount int
	AllPaid    bool
	Splits     []database.OrderSplit
}

// SplitService creates, lists, and removes an order's split set. A split set
// is written atomically and fully replaces any prior set; once any split has
// a recorded payment the set is frozen until the order settles.
type SplitService struct {
	pool     TxBeginner
	store    SplitStore
	newStore NewSplitStore
	events   EventPublisher
}

// NewSplitService creates a new SplitService. store runs reads on the pool;
// newStore builds tx-scoped stores for the allocator transactions.
func NewSplitService(pool TxBeginner, store SplitStore, newStore NewSplitStore, events EventPublisher) *SplitService {
	return &SplitService{pool: pool, store: store, newStore: newStore, events: events}
}

// splitShare is one computed allocation before insertion.
type splitShare struct {
	label    string
	amount   decimal.Decimal // pre-tax
	tax      decimal.Decimal
	total    decimal.Decimal
	metadata any
}

// SplitEqual allocates the pre-tax amount and the tax component
// independently with the remainder-to-last rule: guests 0..n-2 receive the
// floored even share and the last guest absorbs the residual cents. Each
// split's total is its amount plus its tax, so the totals also sum exactly
// to the order total.
func (s *SplitService) SplitEqual(ctx context.Context, req SplitEqualRequest) ([]database.OrderSplit, error) {
	n := req.NumberOfGuests
	if n < 2 {
		return nil, ErrInvalidGuestCount
	}

	return s.replaceSplits(ctx, req.OutletID, req.OrderID, func(order database.Order, _ []database.OrderItem) ([]splitShare, error) {
		total := numericToDecimal(order.Total)
		tax := numericToDecimal(order.TaxAmount)

		amounts := allocateEven(total.Sub(tax), n)
		taxes := allocateEven(tax, n)

		shares := make([]splitShare, n)
		for i := 0; i < n; i++ {
			shares[i] = splitShare{
				label:    guestLabel(req.GuestNames, i),
				amount:   amounts[i],
				tax:      taxes[i],
				total:    amounts[i].Add(taxes[i]),
				metadata: map[string]any{"number_of_guests": n},
			}
		}
		return shares, nil
	}, enum.SplitTypeEqual)
}

// SplitByItems allocates each guest the items assigned to them; whatever is
// not assigned (including the order-level discount's effect) forms a shared
// pool divided evenly across all guests, residual cents to the last guest.
func (s *SplitService) SplitByItems(ctx context.Context, req SplitByItemsRequest) ([]database.OrderSplit, error) {
	n := req.NumberOfGuests
	if n < 2 {
		return nil, ErrInvalidGuestCount
	}
	for _, a := range req.Assignments {
		if a.GuestIndex < 0 || a.GuestIndex >= n {
			return nil, fmt.Errorf("%w: guest %d of %d", ErrInvalidGuestIndex, a.GuestIndex, n)
		}
	}

	return s.replaceSplits(ctx, req.OutletID, req.OrderID, func(order database.Order, items []database.OrderItem) ([]splitShare, error) {
		byID := make(map[uuid.UUID]database.OrderItem, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}

		assignedTotals := make([]decimal.Decimal, n)
		itemIDs := make([][]uuid.UUID, n)
		for i := range assignedTotals {
			assignedTotals[i] = decimal.Zero
		}

		seen := make(map[uuid.UUID]bool)
		assignedSum := decimal.Zero
		for _, a := range req.Assignments {
			for _, id := range a.ItemIDs {
				item, ok := byID[id]
				if !ok {
					return nil, fmt.Errorf("%w: %s", ErrUnknownItem, id)
				}
				if seen[id] {
					return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, id)
				}
				seen[id] = true

				line := numericToDecimal(item.Subtotal).Add(numericToDecimal(item.TaxAmount))
				assignedTotals[a.GuestIndex] = assignedTotals[a.GuestIndex].Add(line)
				itemIDs[a.GuestIndex] = append(itemIDs[a.GuestIndex], id)
				assignedSum = assignedSum.Add(line)
			}
		}

		orderTotal := numericToDecimal(order.Total)
		orderTax := numericToDecimal(order.TaxAmount)
		pool := orderTotal.Sub(assignedSum)
		poolShares := allocateEvenRounded(pool, n)

		shares := make([]splitShare, n)
		for i := 0; i < n; i++ {
			guestTotal := assignedTotals[i].Add(poolShares[i])
			tax := proportionalTax(guestTotal, orderTax, orderTotal)
			shares[i] = splitShare{
				label:  guestLabel(req.GuestNames, i),
				amount: guestTotal.Sub(tax),
				tax:    tax,
				total:  guestTotal,
				metadata: map[string]any{
					"guest_index":   i,
					"item_ids":      itemIDs[i],
					"shared_amount": poolShares[i].StringFixed(2),
				},
			}
		}
		return shares, nil
	}, enum.SplitTypeByItems)
}

// SplitCustom accepts caller-supplied totals per guest. The amounts must sum
// to the order total within two cents; each guest's tax is back-computed
// from the order-wide tax ratio.
func (s *SplitService) SplitCustom(ctx context.Context, req SplitCustomRequest) ([]database.OrderSplit, error) {
	if len(req.Guests) < 2 {
		return nil, ErrInvalidGuestCount
	}

	amounts := make([]decimal.Decimal, len(req.Guests))
	sum := decimal.Zero
	for i, g := range req.Guests {
		d, err := decimal.NewFromString(g.Amount)
		if err != nil || d.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("guests[%d]: %w", i, ErrInvalidAmount)
		}
		amounts[i] = d
		sum = sum.Add(d)
	}

	return s.replaceSplits(ctx, req.OutletID, req.OrderID, func(order database.Order, _ []database.OrderItem) ([]splitShare, error) {
		orderTotal := numericToDecimal(order.Total)
		orderTax := numericToDecimal(order.TaxAmount)

		if diff := sum.Sub(orderTotal); diff.Abs().GreaterThan(customSplitTolerance) {
			return nil, fmt.Errorf("%w: guest amounts sum to %s, order total is %s (delta %s)",
				ErrCustomSplitMismatch, sum.StringFixed(2), orderTotal.StringFixed(2), diff.StringFixed(2))
		}

		shares := make([]splitShare, len(req.Guests))
		for i, g := range req.Guests {
			tax := proportionalTax(amounts[i], orderTax, orderTotal)
			label := g.Name
			if label == "" {
				label = fmt.Sprintf("Guest %d", i+1)
			}
			shares[i] = splitShare{
				label:    label,
				amount:   amounts[i].Sub(tax),
				tax:      tax,
				total:    amounts[i],
				metadata: map[string]any{"declared_amount": amounts[i].StringFixed(2)},
			}
		}
		return shares, nil
	}, enum.SplitTypeCustomAmount)
}

// replaceSplits runs the shared allocator transaction: lock the order, check
// preconditions, drop any prior (unpaid) split set, compute the shares, and
// insert the new set as one atomic batch.
func (s *SplitService) replaceSplits(
	ctx context.Context,
	outletID, orderID uuid.UUID,
	compute func(order database.Order, items []database.OrderItem) ([]splitShare, error),
	splitType string,
) ([]database.OrderSplit, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, database.GetOrderForUpdateParams{
		ID:       orderID,
		OutletID: outletID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if order.Status != enum.OrderStatusOpen && order.Status != enum.OrderStatusInProgress {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}
	if !numericToDecimal(order.Total).IsPositive() {
		return nil, ErrZeroTotal
	}

	// A split set with any recorded payment is frozen; it can never be
	// partially replaced or mixed with a new set.
	paidCount, err := store.CountSplitPaymentsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("count split payments: %w", err)
	}
	if paidCount > 0 {
		return nil, fmt.Errorf("%w: %d payment(s) recorded", ErrHasPaidSplits, paidCount)
	}

	if _, err := store.DeleteSplitsByOrder(ctx, orderID); err != nil {
		return nil, fmt.Errorf("delete splits: %w", err)
	}

	items, err := store.ListActiveOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	shares, err := compute(order, items)
	if err != nil {
		return nil, err
	}

	splits := make([]database.OrderSplit, 0, len(shares))
	for _, share := range shares {
		metadata, err := json.Marshal(share.metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		split, err := store.CreateOrderSplit(ctx, database.CreateOrderSplitParams{
			OrderID:   orderID,
			Label:     share.label,
			SplitType: splitType,
			Amount:    decimalToNumeric(share.amount),
			TaxAmount: decimalToNumeric(share.tax),
			Total:     decimalToNumeric(share.total),
			Status:    enum.SplitStatusPending,
			Metadata:  metadata,
		})
		if err != nil {
			return nil, fmt.Errorf("create split: %w", err)
		}
		splits = append(splits, split)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	if s.events != nil {
		s.events.Publish(outletID, EventOrderSplit, map[string]any{
			"order_id":    orderID,
			"split_type":  splitType,
			"split_count": len(splits),
		})
	}
	return splits, nil
}

// ListSplits returns the order's split set and whether every split is paid.
func (s *SplitService) ListSplits(ctx context.Context, outletID, orderID uuid.UUID) (*SplitListResult, error) {
	order, err := s.store.GetOrder(ctx, database.GetOrderParams{ID: orderID, OutletID: outletID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	splits, err := s.store.ListSplitsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list splits: %w", err)
	}

	allPaid := len(splits) > 0
	for _, sp := range splits {
		if sp.Status != enum.SplitStatusPaid {
			allPaid = false
			break
		}
	}

	return &SplitListResult{
		OrderTotal: numericToDecimal(order.Total),
		SplitCount: len(splits),
		AllPaid:    allPaid,
		Splits:     splits,
	}, nil
}

// RemoveSplits deletes the whole split set. It refuses with ErrHasPaidSplits
// as soon as any split has one recorded payment; this is the only path to
// re-run an allocator with different parameters on the same order.
func (s *SplitService) RemoveSplits(ctx context.Context, outletID, orderID uuid.UUID) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	if _, err := store.GetOrderForUpdate(ctx, database.GetOrderForUpdateParams{
		ID:       orderID,
		OutletID: outletID,
	}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrOrderNotFound
		}
		return 0, fmt.Errorf("get order: %w", err)
	}

	paidCount, err := store.CountSplitPaymentsByOrder(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("count split payments: %w", err)
	}
	if paidCount > 0 {
		return 0, fmt.Errorf("%w: %d payment(s) recorded", ErrHasPaidSplits, paidCount)
	}

	removed, err := store.DeleteSplitsByOrder(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("delete splits: %w", err)
	}
	if removed == 0 {
		return 0, ErrNoSplits
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	if s.events != nil {
		s.events.Publish(outletID, EventSplitsRemoved, map[string]any{
			"order_id":      orderID,
			"removed_count": removed,
		})
	}
	return removed, nil
}

func guestLabel(names []string, i int) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("Guest %d", i+1)
}
