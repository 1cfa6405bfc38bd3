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

// PaymentStore defines the DB methods needed to settle direct payments.
// Satisfied by *database.Queries (and its WithTx variant).
type PaymentStore interface {
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	SumPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error)
	CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error)
	CompleteOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
}

// NewPaymentStore creates a PaymentStore from a DBTX (pool or tx).
type NewPaymentStore func(db database.DBTX) PaymentStore

// PayRequest is the validated input for a direct (order-level) payment.
type PayRequest struct {
	OutletID     uuid.UUID
	OrderID      uuid.UUID
	ProcessedBy  uuid.UUID
	Method       string
	Amount       string
	CashReceived string
	Reference    string
}

// PayResult reports the payment and the order's settlement position after it.
type PayResult struct {
	Payment     database.Payment
	OrderStatus string
	TotalPaid   decimal.Decimal
	Remaining   decimal.Decimal
	Change      decimal.Decimal
}

// PaymentService applies direct payments against an order and detects full
// settlement. The whole read-check-write sequence runs under the order's row
// lock so two concurrent payments cannot both pass the balance check.
type PaymentService struct {
	pool     TxBeginner
	newStore NewPaymentStore
	events   EventPublisher
	identity IdentityLookup
}

func NewPaymentService(pool TxBeginner, newStore NewPaymentStore, events EventPublisher, identity IdentityLookup) *PaymentService {
	return &PaymentService{pool: pool, newStore: newStore, events: events, identity: identity}
}

// Pay records a direct payment. Fails with ErrAlreadySettled on a COMPLETED
// order and ErrOverpayment when the amount exceeds the remaining balance by
// more than one cent. The remaining balance counts every payment on the
// order, split payments included, so a partially split-paid order cannot
// also be direct-paid in full. When cumulative payments reach the total the
// order is completed and closed in the same transaction.
func (s *PaymentService) Pay(ctx context.Context, req PayRequest) (*PayResult, error) {
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

	// Lock the order row for the rest of the transaction. The balance check
	// below is only sound while this lock is held.
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
		return nil, fmt.Errorf("%w: order is fully paid", ErrAlreadySettled)
	case enum.OrderStatusCancelled:
		return nil, fmt.Errorf("%w: order is cancelled", ErrInvalidState)
	}

	paidNumeric, err := store.SumPaymentsByOrder(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("sum payments: %w", err)
	}
	paid := numericToDecimal(paidNumeric)
	total := numericToDecimal(order.Total)
	remaining := total.Sub(paid)

	if amount.GreaterThan(remaining.Add(paymentTolerance)) {
		return nil, fmt.Errorf("%w: remaining balance is %s", ErrOverpayment, remaining.StringFixed(2))
	}

	payment, err := store.CreatePayment(ctx, database.CreatePaymentParams{
		OrderID:      req.OrderID,
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

	newPaid := paid.Add(amount)
	status := order.Status
	completed := false
	if newPaid.GreaterThanOrEqual(total.Sub(paymentTolerance)) {
		updated, err := store.CompleteOrder(ctx, req.OrderID)
		if err != nil {
			return nil, fmt.Errorf("complete order: %w", err)
		}
		status = updated.Status
		completed = true
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.publishPayment(ctx, req.OutletID, payment, completed)

	return &PayResult{
		Payment:     payment,
		OrderStatus: status,
		TotalPaid:   newPaid,
		Remaining:   clampZero(total.Sub(newPaid)),
		Change:      change,
	}, nil
}

// publishPayment emits the post-commit events. Best-effort: failures are
// logged and swallowed, never returned to the caller.
func (s *PaymentService) publishPayment(ctx context.Context, outletID uuid.UUID, payment database.Payment, completed bool) {
	if s.events == nil {
		return
	}

	processedBy := ""
	if s.identity != nil {
		name, err := s.identity.DisplayName(ctx, payment.ProcessedBy)
		if err != nil {
			log.Printf("WARN: resolve payer name: %v", err)
		} else {
			processedBy = name
		}
	}

	s.events.Publish(outletID, EventPaymentAdded, map[string]any{
		"order_id":          payment.OrderID,
		"payment_id":        payment.ID,
		"method":            payment.Method,
		"amount":            numericToDecimal(payment.Amount).StringFixed(2),
		"processed_by_name": processedBy,
	})
	if completed {
		s.events.Publish(outletID, EventOrderCompleted, map[string]any{
			"order_id": payment.OrderID,
		})
	}
}

// validatePayment parses and checks the common payment fields. For CASH,
// cash_received is required and must cover the amount; change is the excess.
func validatePayment(method, amountStr, cashReceivedStr string) (amount, cashReceived, change decimal.Decimal, err error) {
	if !isValidPaymentMethod(method) {
		return decimal.Zero, decimal.Zero, decimal.Zero, ErrInvalidMethod
	}

	amount, err = decimal.NewFromString(amountStr)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, decimal.Zero, ErrInvalidAmount
	}

	if method == enum.PaymentMethodCash {
		if cashReceivedStr == "" {
			return decimal.Zero, decimal.Zero, decimal.Zero, ErrCashRequired
		}
		cashReceived, err = decimal.NewFromString(cashReceivedStr)
		if err != nil {
			return decimal.Zero, decimal.Zero, decimal.Zero, ErrInvalidAmount
		}
		if cashReceived.LessThan(amount) {
			return decimal.Zero, decimal.Zero, decimal.Zero, ErrCashTooLow
		}
		change = cashReceived.Sub(amount)
	}
	return amount, cashReceived, change, nil
}

func isValidPaymentMethod(m string) bool {
	switch m {
	case enum.PaymentMethodCash,
		enum.PaymentMethodCard,
		enum.PaymentMethodQRIS,
		enum.PaymentMethodTransfer:
		return true
	}
	return false
}

// optionalNumeric maps a zero decimal to SQL NULL.
func optionalNumeric(d decimal.Decimal) pgtype.Numeric {
	if d.IsZero() {
		return pgtype.Numeric{}
	}
	return decimalToNumeric(d)
}

func optionalText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
