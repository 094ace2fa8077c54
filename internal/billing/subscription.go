package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	TierFree    = "free"
	TierPremium = "premium"
)

var (
	// ErrNotFound indicates the provider does not know the checkout session or subscription.
	ErrNotFound = errors.New("billing object not found")
	// ErrEntitlementMismatch indicates a checkout session belongs to a different user.
	ErrEntitlementMismatch = errors.New("checkout session belongs to another user")
	// ErrWebhookSignature indicates the webhook payload failed signature verification.
	ErrWebhookSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent indicates a signed webhook whose object could not be decoded.
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrProviderUnavailable indicates the billing provider could not be reached in time.
	ErrProviderUnavailable = errors.New("billing provider unavailable")
	// ErrMisconfiguredProvider indicates billing is not configured for this deployment.
	ErrMisconfiguredProvider = errors.New("billing provider not configured")
	// ErrCheckoutNotPaid indicates the checkout session has not been paid.
	ErrCheckoutNotPaid = errors.New("checkout session not paid")
	// ErrMissingCheckoutID indicates the request did not name a checkout session.
	ErrMissingCheckoutID = errors.New("checkout session id is required")
	// ErrNoBillingAccount indicates the user has no billing customer yet.
	ErrNoBillingAccount = errors.New("no billing account for user")
	// ErrSubscriptionConflict indicates the provider subscription is already linked to another user.
	ErrSubscriptionConflict = errors.New("billing subscription linked to another user")
	// ErrUnknownUser indicates the subscription references a user that does not exist locally.
	ErrUnknownUser = errors.New("subscription references unknown user")
)

// Subscription is the locally stored entitlement snapshot for one user.
type Subscription struct {
	UserID         uuid.UUID
	CustomerID     string
	SubscriptionID string
	Subscribed     bool
	Tier           string
	PeriodEnd      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether the subscription grants paid features at now.
func (s Subscription) Active(now time.Time) bool {
	return s.Subscribed && (s.PeriodEnd == nil || s.PeriodEnd.After(now))
}

// Update is a whole entitlement snapshot to write. Empty provider ids keep the stored ones;
// Subscribed, Tier and PeriodEnd always replace the stored values.
type Update struct {
	CustomerID     string
	SubscriptionID string
	Subscribed     bool
	Tier           string
	PeriodEnd      *time.Time
}

// apply merges the update into s and reports whether anything changed.
func (u Update) apply(s *Subscription) bool {
	next := *s
	if u.CustomerID != "" {
		next.CustomerID = u.CustomerID
	}
	if u.SubscriptionID != "" {
		next.SubscriptionID = u.SubscriptionID
	}
	next.Subscribed = u.Subscribed
	next.Tier = u.Tier
	if next.Tier == "" {
		next.Tier = TierFree
	}
	next.PeriodEnd = copyTime(u.PeriodEnd)

	changed := next.CustomerID != s.CustomerID ||
		next.SubscriptionID != s.SubscriptionID ||
		next.Subscribed != s.Subscribed ||
		next.Tier != s.Tier ||
		!sameTime(next.PeriodEnd, s.PeriodEnd)
	*s = next
	return changed
}

// Snapshot is the client-facing entitlement view.
type Snapshot struct {
	Subscribed bool       `json:"subscribed"`
	Active     bool       `json:"active"`
	Tier       string     `json:"tier"`
	PeriodEnd  *time.Time `json:"periodEnd"`
}

// SnapshotOf renders sub at now. A nil subscription is the free tier.
func SnapshotOf(sub *Subscription, now time.Time) Snapshot {
	if sub == nil {
		return Snapshot{Tier: TierFree}
	}
	return Snapshot{
		Subscribed: sub.Subscribed,
		Active:     sub.Active(now),
		Tier:       sub.Tier,
		PeriodEnd:  copyTime(sub.PeriodEnd),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
