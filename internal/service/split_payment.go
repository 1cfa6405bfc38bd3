package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/tabwise-pos/api/internal/database"
	"github.com/tabwise-pos/api/internal/enum"
)

// SplitPaymentStore defines the DB methods needed to record a payment
// against one split. Satisfied by *database.Queries.
type SplitPaymentStore interface {
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	GetSplitForUpdate(ctx context.Context, arg database.GetSplitForUpdateParams) (database.OrderSplit, error)
	ListSplitsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderSplit, error)
	UpdateSplitPayment(ctx context.Context, arg database.UpdateSplitPaymentParams) (database.OrderSplit, error)
	CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error)
	CompleteOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
}

// NewSplitPaymentStore creates a SplitPaymentStore from a DBTX (pool or tx).
type NewSplitPaymentStore func(db database.DBTX) SplitPaymentStore

// PaySplitRequest records one payment against one split.
type PaySplitRequest struct {
	OutletID     uuid.UUID
	OrderID      uuid.UUID
	SplitID      uuid.UUID
	ProcessedBy  uuid.UUID
	Method       string
	Amount       string
	CashReceived string
	Reference    string
}

// PaySplitResult reports the split and order state after the payment.
type PaySplitResult struct {
	Payment        database.Payment
	Split          database.OrderSplit
	OrderStatus    string
	SplitRemaining decimal.Decimal
	Change         decimal.Decimal
	OrderSettled   bool
}

// SplitPaymentService records payments against individual splits. Lock order
// is always order row first, then split row, so split payments and direct
// payments against the same order serialize without deadlock.
type SplitPaymentService struct {
	pool     TxBeginner
	newStore NewSplitPaymentStore
	events   EventPublisher
	identity IdentityLookup
}

func NewSplitPaymentService(pool TxBeginner, newStore NewSplitPaymentStore, events EventPublisher, identity IdentityLookup) *SplitPaymentService {
	return &SplitPaymentService{pool: pool, newStore: newStore, events: events, identity: identity}
}

// PaySplit validates and records a payment against one split. A payment may
// cover the split partially; overpayment beyond one cent is rejected with
// the split's remaining balance in the error. When the last split reaches
// PAID the order completes in the same transaction.
func (s *SplitPaymentService) PaySplit(ctx context.Context, req PaySplitRequest) (*PaySplitResult, error) {
	amount, cashReceived, change, err := validatePayment(req.Method, req.Amount, req.CashReceived)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, database.GetOrderForUpdateParams{
		ID:       req.OrderID,
		OutletID: req.OutletID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	switch order.Status {
	case enum.OrderStatusCompleted:
		return nil, ErrAlreadySettled
	case enum.OrderStatusCancelled:
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}

	split, err := store.GetSplitForUpdate(ctx, database.GetSplitForUpdateParams{
		ID:      req.SplitID,
		OrderID: req.OrderID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSplitNotFound
		}
		return nil, fmt.Errorf("get split: %w", err)
	}

	if split.Status == enum.SplitStatusPaid {
		return nil, ErrAlreadySettled
	}

	splitTotal := numericToDecimal(split.Total)
	splitPaid := numericToDecimal(split.PaidAmount)
	remaining := splitTotal.Sub(splitPaid)

	if amount.GreaterThan(remaining.Add(paymentTolerance)) {
		return nil, fmt.Errorf("%w: amount %s exceeds split remaining %s",
			ErrOverpayment, amount.StringFixed(2), remaining.StringFixed(2))
	}

	payment, err := store.CreatePayment(ctx, database.CreatePaymentParams{
		OrderID:      req.OrderID,
		SplitID:      pgtype.UUID{Bytes: req.SplitID, Valid: true},
		Method:       req.Method,
		Amount:       decimalToNumeric(amount),
		CashReceived: optionalNumeric(cashReceived),
		ChangeGiven:  optionalNumeric(change),
		Reference:    optionalText(req.Reference),
		ProcessedBy:  req.ProcessedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	// The split ledger is capped at its total; the payment row keeps the
	// actual tendered amount.
	newPaid := splitPaid.Add(amount)
	if newPaid.GreaterThan(splitTotal) {
		newPaid = splitTotal
	}
	status := enum.SplitStatusPartial
	if newPaid.GreaterThanOrEqual(splitTotal.Sub(paymentTolerance)) {
		newPaid = splitTotal
		status = enum.SplitStatusPaid
	}

	split, err = store.UpdateSplitPayment(ctx, database.UpdateSplitPaymentParams{
		ID:         split.ID,
		PaidAmount: decimalToNumeric(newPaid),
		Status:     status,
	})
	if err != nil {
		return nil, fmt.Errorf("update split: %w", err)
	}

	orderStatus := order.Status
	settled := false
	if status == enum.SplitStatusPaid {
		settled, err = allSplitsPaid(ctx, store, req.OrderID)
		if err != nil {
			return nil, err
		}
		if settled {
			completed, err := store.CompleteOrder(ctx, req.OrderID)
			if err != nil {
				return nil, fmt.Errorf("complete order: %w", err)
			}
			orderStatus = completed.Status
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.publishSplitPayment(ctx, req.OutletID, payment, split, settled)

	return &PaySplitResult{
		Payment:        payment,
		Split:          split,
		OrderStatus:    orderStatus,
		SplitRemaining: splitTotal.Sub(newPaid),
		Change:         change,
		OrderSettled:   settled,
	}, nil
}

func allSplitsPaid(ctx context.Context, store SplitPaymentStore, orderID uuid.UUID) (bool, error) {
	splits, err := store.ListSplitsByOrder(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("list splits: %w", err)
	}
	for _, sp := range splits {
		if sp.Status != enum.SplitStatusPaid {
			return false, nil
		}
	}
	return len(splits) > 0, nil
}

// publishSplitPayment emits post-commit events. Failures are logged and
// swallowed; the payment is already durable.
func (s *SplitPaymentService) publishSplitPayment(ctx context.Context, outletID uuid.UUID, payment database.Payment, split database.OrderSplit, settled bool) {
	if s.events == nil {
		return
	}

	processedBy := ""
	if s.identity != nil {
		name, err := s.identity.DisplayName(ctx, payment.ProcessedBy)
		if err != nil {
			log.Printf("ERROR: lookup payment processor name: %v", err)
		} else {
			processedBy = name
		}
	}

	s.events.Publish(outletID, EventSplitPaid, map[string]any{
		"order_id":          payment.OrderID,
		"split_id":          split.ID,
		"split_label":       split.Label,
		"split_status":      split.Status,
		"amount":            numericToDecimal(payment.Amount).StringFixed(2),
		"method":            payment.Method,
		"processed_by_name": processedBy,
	})
	if settled {
		s.events.Publish(outletID, EventOrderCompleted, map[string]any{
			"order_id": payment.OrderID,
		})
	}
}
