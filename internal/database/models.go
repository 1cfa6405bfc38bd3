package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Order monetary columns are numeric(12,2); total is always derived as
// subtotal - discount_amount + tax_amount and never written independently.
type Order struct {
	ID             uuid.UUID
	OutletID       uuid.UUID
	OrderNumber    string
	Status         string
	Subtotal       pgtype.Numeric
	DiscountAmount pgtype.Numeric
	TaxAmount      pgtype.Numeric
	Total          pgtype.Numeric
	Notes          pgtype.Text
	CreatedBy      uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClosedAt       pgtype.Timestamptz
}

type OrderItem struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	Name           string
	Quantity       int32
	UnitPrice      pgtype.Numeric
	Subtotal       pgtype.Numeric
	TaxAmount      pgtype.Numeric
	DiscountAmount pgtype.Numeric
	IsVoid         bool
	CreatedAt      time.Time
}

// Payment rows with a null SplitID are order-level (direct) payments;
// rows referencing a split settle that split only.
type Payment struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	SplitID      pgtype.UUID
	Method       string
	Amount       pgtype.Numeric
	CashReceived pgtype.Numeric
	ChangeGiven  pgtype.Numeric
	Reference    pgtype.Text
	ProcessedBy  uuid.UUID
	CreatedAt    time.Time
}

// OrderSplit invariants: amount + tax_amount = total, paid_amount <= total,
// and the totals of one order's split set sum exactly to the order total.
type OrderSplit struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	Label      string
	SplitType  string
	Amount     pgtype.Numeric
	TaxAmount  pgtype.Numeric
	Total      pgtype.Numeric
	PaidAmount pgtype.Numeric
	Status     string
	Metadata   []byte
	CreatedAt  time.Time
}

type User struct {
	ID           uuid.UUID
	OutletID     uuid.UUID
	Email        string
	PasswordHash string
	Name         string
	Role         string
	CreatedAt    time.Time
}
