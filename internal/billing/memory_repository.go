package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository stores subscriptions in process memory.
type InMemoryRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID]Subscription
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{data: make(map[uuid.UUID]Subscription)}
}

// GetByUser returns the user's subscription or nil.
func (r *InMemoryRepository) GetByUser(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.data[userID]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

// GetByBillingSubscriptionID finds the row linked to a provider subscription.
func (r *InMemoryRepository) GetByBillingSubscriptionID(_ context.Context, subscriptionID string) (*Subscription, error) {
	if subscriptionID == "" {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sub := range r.data {
		if sub.SubscriptionID == subscriptionID {
			found := sub
			return &found, nil
		}
	}
	return nil, nil
}

// Upsert merges update into the user's row, creating it when missing.
func (r *InMemoryRepository) Upsert(_ context.Context, userID uuid.UUID, update Update) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if update.SubscriptionID != "" {
		for owner, sub := range r.data {
			if owner != userID && sub.SubscriptionID == update.SubscriptionID {
				return Subscription{}, ErrSubscriptionConflict
			}
		}
	}

	now := time.Now().UTC()
	sub, exists := r.data[userID]
	if !exists {
		sub = Subscription{UserID: userID, Tier: TierFree, CreatedAt: now, UpdatedAt: now}
	}

	if update.apply(&sub) || !exists {
		sub.UpdatedAt = now
		r.data[userID] = sub
	}
	return sub, nil
}
