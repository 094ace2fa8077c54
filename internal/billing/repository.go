package billing

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists one subscription row per user. Lookups return (nil, nil) when nothing matches.
type Repository interface {
	GetByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	GetByBillingSubscriptionID(ctx context.Context, subscriptionID string) (*Subscription, error)
	// Upsert writes the update as one atomic operation keyed by userID. Repeating the same update is a no-op.
	Upsert(ctx context.Context, userID uuid.UUID, update Update) (Subscription, error)
}
