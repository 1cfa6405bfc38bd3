// Package enum defines the string constants stored in status and type
// columns. The database enforces the same sets with CHECK constraints.
package enum

const (
	OrderStatusOpen       = "OPEN"
	OrderStatusInProgress = "IN_PROGRESS"
	OrderStatusCompleted  = "COMPLETED"
	OrderStatusCancelled  = "CANCELLED"
)

const (
	SplitStatusPending = "PENDING"
	SplitStatusPartial = "PARTIAL"
	SplitStatusPaid    = "PAID"
)

const (
	SplitTypeEqual        = "EQUAL"
	SplitTypeByItems      = "BY_ITEMS"
	SplitTypeCustomAmount = "CUSTOM_AMOUNT"
)

const (
	UserRoleOwner   = "OWNER"
	UserRoleManager = "MANAGER"
	UserRoleCashier = "CASHIER"
)

// Payment methods are not CHECK constrained; new tender types can be added
// without a migration.
const (
	PaymentMethodCash     = "CASH"
	PaymentMethodCard     = "CARD"
	PaymentMethodQRIS     = "QRIS"
	PaymentMethodTransfer = "TRANSFER"
)
