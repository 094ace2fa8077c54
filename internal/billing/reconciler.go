package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// checkoutGrace is the entitlement window granted by a paid checkout that carries no subscription.
const checkoutGrace = 30 * 24 * time.Hour

// Outcomes reported for webhook events.
const (
	OutcomeApplied = "applied"
	OutcomeIgnored = "ignored"
)

// RedirectURLs are the app pages the provider sends the browser back to.
type RedirectURLs struct {
	Success      string
	Cancel       string
	PortalReturn string
}

// WebhookResult describes what a verified webhook did.
type WebhookResult struct {
	EventID string
	Type    EventType
	Outcome string
	UserID  uuid.UUID
}

// Reconciler keeps local subscriptions in line with the billing provider. Webhooks (push) and
// client-triggered checkout verification (pull) derive state through the same functions, so
// applying both for one checkout converges on the same row.
type Reconciler struct {
	repo     Repository
	provider Provider
	urls     RedirectURLs
	logger   *slog.Logger
	now      func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(repo Repository, provider Provider, urls RedirectURLs, logger *slog.Logger) *Reconciler {
	if provider == nil {
		provider = DisabledProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{repo: repo, provider: provider, urls: urls, logger: logger, now: time.Now}
}

// CreateCheckout opens a checkout scoped to the user and returns its URL.
func (r *Reconciler) CreateCheckout(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	existing, err := r.repo.GetByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load subscription: %w", err)
	}

	req := CheckoutRequest{
		UserRef:    userID.String(),
		Email:      email,
		SuccessURL: r.urls.Success,
		CancelURL:  r.urls.Cancel,
	}
	if existing != nil {
		req.CustomerID = existing.CustomerID
	}

	session, err := r.provider.CreateCheckout(ctx, req)
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// VerifyCheckout confirms a checkout with the provider and activates the caller's subscription.
// A session created for another user fails with ErrEntitlementMismatch and changes nothing.
func (r *Reconciler) VerifyCheckout(ctx context.Context, userID uuid.UUID, sessionID string) (Subscription, error) {
	if sessionID == "" {
		return Subscription{}, ErrMissingCheckoutID
	}

	checkout, err := r.provider.GetCheckout(ctx, sessionID)
	if err != nil {
		return Subscription{}, err
	}

	if checkout.UserRef != userID.String() {
		r.logger.Warn("checkout verification user mismatch",
			slog.String("checkout_session", checkout.ID),
			slog.String("user_id", userID.String()),
			slog.String("checkout_user_ref", checkout.UserRef),
		)
		return Subscription{}, ErrEntitlementMismatch
	}
	if !checkout.Paid {
		return Subscription{}, ErrCheckoutNotPaid
	}

	update, err := r.checkoutUpdate(ctx, checkout)
	if err != nil {
		return Subscription{}, err
	}
	sub, err := r.repo.Upsert(ctx, userID, update)
	if err != nil {
		return Subscription{}, fmt.Errorf("store subscription: %w", err)
	}
	return sub, nil
}

// HandleWebhook verifies and applies a provider webhook. Unknown events and events for
// unknown subscriptions are acknowledged without changes.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	event, err := r.provider.ParseWebhook(payload, signature)
	if err != nil {
		return WebhookResult{}, err
	}

	result := WebhookResult{EventID: event.ID, Type: event.Type, Outcome: OutcomeIgnored}

	var userID uuid.UUID
	var applied bool
	switch event.Type {
	case EventCheckoutCompleted:
		userID, applied, err = r.applyCheckoutEvent(ctx, event)
	case EventSubscriptionUpdated:
		userID, applied, err = r.applySubscriptionEvent(ctx, event, r.refreshedUpdate)
	case EventSubscriptionDeleted, EventInvoicePaymentFailed:
		userID, applied, err = r.applySubscriptionEvent(ctx, event, func(context.Context, *Event) (Update, error) {
			return Update{Subscribed: false, Tier: TierFree}, nil
		})
	case EventInvoicePaymentSucceeded:
		userID, applied, err = r.applySubscriptionEvent(ctx, event, r.paidInvoiceUpdate)
	default:
		r.logger.Debug("unhandled billing event", slog.String("type", string(event.Type)))
	}
	if err != nil {
		return result, err
	}

	if applied {
		result.Outcome = OutcomeApplied
		result.UserID = userID
	}
	return result, nil
}

func (r *Reconciler) applyCheckoutEvent(ctx context.Context, event *Event) (uuid.UUID, bool, error) {
	checkout, err := r.provider.GetCheckout(ctx, event.CheckoutSessionID)
	if errors.Is(err, ErrNotFound) {
		r.logger.Warn("checkout event for unknown checkout session",
			slog.String("event_id", event.ID),
			slog.String("checkout_session", event.CheckoutSessionID),
		)
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}

	userID, err := uuid.Parse(checkout.UserRef)
	if err != nil {
		r.logger.Warn("checkout event without a valid user reference",
			slog.String("event_id", event.ID),
			slog.String("checkout_session", checkout.ID),
		)
		return uuid.Nil, false, nil
	}
	if !checkout.Paid {
		return userID, false, nil
	}

	update, err := r.checkoutUpdate(ctx, checkout)
	if err != nil {
		return userID, false, err
	}
	if _, err := r.repo.Upsert(ctx, userID, update); err != nil {
		if errors.Is(err, ErrUnknownUser) {
			r.logger.Warn("checkout event for unknown user",
				slog.String("event_id", event.ID),
				slog.String("checkout_session", checkout.ID),
				slog.String("user_id", userID.String()),
			)
			return uuid.Nil, false, nil
		}
		return userID, false, fmt.Errorf("store subscription: %w", err)
	}
	return userID, true, nil
}

type updateFunc func(ctx context.Context, event *Event) (Update, error)

func (r *Reconciler) applySubscriptionEvent(ctx context.Context, event *Event, derive updateFunc) (uuid.UUID, bool, error) {
	local, err := r.repo.GetByBillingSubscriptionID(ctx, event.SubscriptionID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("load subscription: %w", err)
	}
	if local == nil {
		r.logger.Info("billing event for unknown subscription",
			slog.String("event_id", event.ID),
			slog.String("type", string(event.Type)),
			slog.String("subscription_id", event.SubscriptionID),
		)
		return uuid.Nil, false, nil
	}

	update, err := derive(ctx, event)
	if err != nil {
		return local.UserID, false, err
	}
	if update.SubscriptionID == "" {
		update.SubscriptionID = event.SubscriptionID
	}

	if _, err := r.repo.Upsert(ctx, local.UserID, update); err != nil {
		return local.UserID, false, fmt.Errorf("store subscription: %w", err)
	}
	return local.UserID, true, nil
}

// refreshedUpdate re-reads the subscription so out-of-order events settle on the provider's current state.
func (r *Reconciler) refreshedUpdate(ctx context.Context, event *Event) (Update, error) {
	remote, err := r.provider.GetSubscription(ctx, event.SubscriptionID)
	if err != nil {
		return Update{}, err
	}
	return subscriptionUpdate(remote), nil
}

func (r *Reconciler) paidInvoiceUpdate(ctx context.Context, event *Event) (Update, error) {
	periodEnd := event.PeriodEnd
	remote, err := r.provider.GetSubscription(ctx, event.SubscriptionID)
	if err != nil {
		return Update{}, err
	}
	if !remote.CurrentPeriodEnd.IsZero() {
		periodEnd = remote.CurrentPeriodEnd
	}
	update := Update{CustomerID: remote.CustomerID, SubscriptionID: remote.ID, Subscribed: true, Tier: TierPremium}
	if !periodEnd.IsZero() {
		update.PeriodEnd = &periodEnd
	}
	return update, nil
}

// Check returns the user's entitlement snapshot. With refresh, a linked subscription is
// re-read from the provider and stored first.
func (r *Reconciler) Check(ctx context.Context, userID uuid.UUID, refresh bool) (Snapshot, error) {
	sub, err := r.repo.GetByUser(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load subscription: %w", err)
	}

	if refresh && sub != nil && sub.SubscriptionID != "" {
		remote, err := r.provider.GetSubscription(ctx, sub.SubscriptionID)
		if err != nil {
			return Snapshot{}, err
		}
		updated, err := r.repo.Upsert(ctx, userID, subscriptionUpdate(remote))
		if err != nil {
			return Snapshot{}, fmt.Errorf("store subscription: %w", err)
		}
		sub = &updated
	}

	return SnapshotOf(sub, r.now()), nil
}

// Snapshot renders sub with the reconciler's clock.
func (r *Reconciler) Snapshot(sub Subscription) Snapshot {
	return SnapshotOf(&sub, r.now())
}

// Entitled reports whether the user currently has paid features.
func (r *Reconciler) Entitled(ctx context.Context, userID uuid.UUID) (bool, error) {
	sub, err := r.repo.GetByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load subscription: %w", err)
	}
	return sub != nil && sub.Active(r.now()), nil
}

// CustomerPortal returns a billing portal URL for users that already have a billing customer.
func (r *Reconciler) CustomerPortal(ctx context.Context, userID uuid.UUID) (string, error) {
	sub, err := r.repo.GetByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil || sub.CustomerID == "" {
		return "", ErrNoBillingAccount
	}
	return r.provider.CreatePortal(ctx, sub.CustomerID, r.urls.PortalReturn)
}

// checkoutUpdate derives the entitlement a paid checkout grants from the provider's current
// subscription state. Both the webhook and the verification path use it. Only a checkout
// without any subscription falls back to the grace window.
func (r *Reconciler) checkoutUpdate(ctx context.Context, checkout *CheckoutSession) (Update, error) {
	remote := checkout.Subscription
	if remote == nil && checkout.SubscriptionID != "" {
		fetched, err := r.provider.GetSubscription(ctx, checkout.SubscriptionID)
		if err != nil {
			return Update{}, err
		}
		remote = fetched
	}

	if remote == nil {
		periodEnd := checkout.CreatedAt.Add(checkoutGrace)
		return Update{
			CustomerID:     checkout.CustomerID,
			SubscriptionID: checkout.SubscriptionID,
			Subscribed:     true,
			Tier:           TierPremium,
			PeriodEnd:      &periodEnd,
		}, nil
	}

	update := subscriptionUpdate(remote)
	if update.CustomerID == "" {
		update.CustomerID = checkout.CustomerID
	}
	if update.SubscriptionID == "" {
		update.SubscriptionID = checkout.SubscriptionID
	}
	if update.Subscribed && update.PeriodEnd == nil {
		periodEnd := checkout.CreatedAt.Add(checkoutGrace)
		update.PeriodEnd = &periodEnd
	}
	return update, nil
}

func subscriptionUpdate(remote *RemoteSubscription) Update {
	update := Update{CustomerID: remote.CustomerID, SubscriptionID: remote.ID, Tier: TierFree}
	if remote.Entitled() {
		update.Subscribed = true
		update.Tier = TierPremium
		if !remote.CurrentPeriodEnd.IsZero() {
			end := remote.CurrentPeriodEnd
			update.PeriodEnd = &end
		}
	}
	return update
}

