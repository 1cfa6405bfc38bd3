package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/tabwise-pos/api/internal/database"
)

// Event names published by the settlement services.
const (
	EventPaymentAdded   = "payment.added"
	EventOrderCompleted = "order.completed"
	EventOrderSplit     = "order.split"
	EventSplitPaid      = "split.paid"
	EventSplitsRemoved  = "splits.removed"
)

// EventPublisher delivers state-change notifications to downstream
// observers. Implementations must be best-effort and non-blocking: services
// publish after commit, and a failed or dropped publish never affects the
// operation's outcome.
type EventPublisher interface {
	Publish(outletID uuid.UUID, event string, payload any)
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(uuid.UUID, string, any) {}

// IdentityLookup resolves a user id to a display name. Used only for
// descriptive text in event payloads and responses, never for logic.
type IdentityLookup interface {
	DisplayName(ctx context.Context, userID uuid.UUID) (string, error)
}

// UserDirectory is the database-backed IdentityLookup.
type UserDirectory struct {
	q *database.Queries
}

func NewUserDirectory(q *database.Queries) *UserDirectory {
	return &UserDirectory{q: q}
}

func (d *UserDirectory) DisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	return d.q.GetUserDisplayName(ctx, userID)
}
