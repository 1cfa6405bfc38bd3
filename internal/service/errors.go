package service

import "errors"

// Errors returned by the settlement services. Handlers map these to HTTP
// status codes; callers get enough context (remaining balance, mismatch
// delta) appended via wrapping to retry with corrected input.
var (
	ErrOrderNotFound = errors.New("order not found")
	ErrSplitNotFound = errors.New("split not found")
	ErrItemNotFound  = errors.New("item not found or already void")

	// ErrInvalidState covers mutations attempted on a CANCELLED order or an
	// order otherwise outside the states the operation allows.
	ErrInvalidState = errors.New("order state does not allow this operation")

	// ErrAlreadySettled is returned for payments against a COMPLETED order
	// or an already PAID split.
	ErrAlreadySettled = errors.New("already settled")

	ErrOverpayment         = errors.New("amount exceeds remaining balance")
	ErrCustomSplitMismatch = errors.New("guest amounts do not sum to order total")
	ErrDuplicateItem       = errors.New("item assigned to more than one guest")
	ErrUnknownItem         = errors.New("item does not belong to order or is void")
	ErrHasPaidSplits       = errors.New("order has splits with recorded payments")
	ErrNoSplits            = errors.New("order has no splits")

	// ErrHasSplits guards item and discount mutations while a split set
	// exists. Splits are derived from the order total, so the set must be
	// removed and re-allocated before the total can change.
	ErrHasSplits = errors.New("order has splits; remove them before changing items or discount")

	ErrZeroTotal         = errors.New("order total must be greater than zero")
	ErrInvalidGuestCount = errors.New("at least 2 guests are required")
	ErrInvalidGuestIndex = errors.New("guest index out of range")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidMethod     = errors.New("invalid payment method")
	ErrCashRequired      = errors.New("cash_received is required for CASH payments")
	ErrCashTooLow        = errors.New("cash_received must be >= amount")
	ErrEmptyItems        = errors.New("items are required")
	ErrInvalidQuantity   = errors.New("quantity must be > 0")
	ErrInvalidPrice      = errors.New("unit_price must be >= 0")
	ErrInvalidDiscount   = errors.New("discount_amount must be >= 0")
)
