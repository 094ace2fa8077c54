package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const subscriptionColumns = `user_id, billing_customer_id, billing_subscription_id, subscribed, tier, period_end, created_at, updated_at`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByUser returns the user's subscription or nil.
func (r *PostgresRepository) GetByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return r.get(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
}

// GetByBillingSubscriptionID finds the row linked to a provider subscription.
func (r *PostgresRepository) GetByBillingSubscriptionID(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	return r.get(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE billing_subscription_id = $1`, subscriptionID)
}

func (r *PostgresRepository) get(ctx context.Context, query string, arg interface{}) (*Subscription, error) {
	var row subscriptionRow
	if err := r.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toSubscription(), nil
}

// Upsert writes the snapshot in a single statement. When the stored row already matches,
// the WHERE clause suppresses the update so updated_at is left alone.
func (r *PostgresRepository) Upsert(ctx context.Context, userID uuid.UUID, update Update) (Subscription, error) {
	const query = `
		INSERT INTO subscriptions (user_id, billing_customer_id, billing_subscription_id, subscribed, tier, period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			billing_customer_id = COALESCE(NULLIF(EXCLUDED.billing_customer_id, ''), subscriptions.billing_customer_id),
			billing_subscription_id = COALESCE(NULLIF(EXCLUDED.billing_subscription_id, ''), subscriptions.billing_subscription_id),
			subscribed = EXCLUDED.subscribed,
			tier = EXCLUDED.tier,
			period_end = EXCLUDED.period_end,
			updated_at = EXCLUDED.updated_at
		WHERE (
			subscriptions.billing_customer_id,
			subscriptions.billing_subscription_id,
			subscriptions.subscribed,
			subscriptions.tier,
			subscriptions.period_end
		) IS DISTINCT FROM (
			COALESCE(NULLIF(EXCLUDED.billing_customer_id, ''), subscriptions.billing_customer_id),
			COALESCE(NULLIF(EXCLUDED.billing_subscription_id, ''), subscriptions.billing_subscription_id),
			EXCLUDED.subscribed,
			EXCLUDED.tier,
			EXCLUDED.period_end
		)
		RETURNING ` + subscriptionColumns

	tier := update.Tier
	if tier == "" {
		tier = TierFree
	}

	var periodEnd sql.NullTime
	if update.PeriodEnd != nil {
		periodEnd = sql.NullTime{Time: update.PeriodEnd.UTC(), Valid: true}
	}

	var row subscriptionRow
	err := r.db.GetContext(ctx, &row, query,
		userID,
		update.CustomerID,
		update.SubscriptionID,
		update.Subscribed,
		tier,
		periodEnd,
		time.Now().UTC(),
	)
	if err == nil {
		return *row.toSubscription(), nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		// Nothing changed; return the stored row.
		existing, getErr := r.GetByUser(ctx, userID)
		if getErr != nil {
			return Subscription{}, getErr
		}
		if existing == nil {
			return Subscription{}, fmt.Errorf("subscription for %s vanished during upsert", userID)
		}
		return *existing, nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return Subscription{}, ErrSubscriptionConflict
		case "23503":
			return Subscription{}, ErrUnknownUser
		}
	}
	return Subscription{}, err
}

type subscriptionRow struct {
	UserID         uuid.UUID    `db:"user_id"`
	CustomerID     string       `db:"billing_customer_id"`
	SubscriptionID string       `db:"billing_subscription_id"`
	Subscribed     bool         `db:"subscribed"`
	Tier           string       `db:"tier"`
	PeriodEnd      sql.NullTime `db:"period_end"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

func (r *subscriptionRow) toSubscription() *Subscription {
	sub := &Subscription{
		UserID:         r.UserID,
		CustomerID:     r.CustomerID,
		SubscriptionID: r.SubscriptionID,
		Subscribed:     r.Subscribed,
		Tier:           r.Tier,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.PeriodEnd.Valid {
		end := r.PeriodEnd.Time.UTC()
		sub.PeriodEnd = &end
	}
	return sub
}
