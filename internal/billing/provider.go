package billing

import (
	"context"
	"time"
)

// EventType names the provider webhook events the reconciler acts on.
type EventType string

const (
	EventCheckoutCompleted       EventType = "checkout.session.completed"
	EventSubscriptionUpdated     EventType = "customer.subscription.updated"
	EventSubscriptionDeleted     EventType = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventType = "invoice.payment_failed"
)

// CheckoutRequest describes a hosted checkout to open for a user.
type CheckoutRequest struct {
	UserRef    string
	Email      string
	CustomerID string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the provider's view of a checkout.
type CheckoutSession struct {
	ID             string
	URL            string
	UserRef        string
	CustomerID     string
	SubscriptionID string
	Paid           bool
	CreatedAt      time.Time
	// Subscription is set when the provider returned the expanded subscription.
	Subscription *RemoteSubscription
}

// RemoteSubscription is the provider's current view of a subscription.
type RemoteSubscription struct {
	ID               string
	CustomerID       string
	Status           string
	CurrentPeriodEnd time.Time
}

// Entitled reports whether the provider status grants paid features.
func (s RemoteSubscription) Entitled() bool {
	return s.Status == "active" || s.Status == "trialing"
}

// Event is a verified webhook event reduced to the identifiers the reconciler needs.
type Event struct {
	ID                string
	Type              EventType
	CheckoutSessionID string
	SubscriptionID    string
	CustomerID        string
	PeriodEnd         time.Time
}

// Provider is the billing backend. Implementations bound every call with a timeout and
// report transport failures as ErrProviderUnavailable.
type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetCheckout(ctx context.Context, sessionID string) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error)
	CreatePortal(ctx context.Context, customerID, returnURL string) (string, error)
	// ParseWebhook verifies the signature header and decodes the event. Failures wrap ErrWebhookSignature.
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

// DisabledProvider stands in when billing is not configured.
type DisabledProvider struct{}

func (DisabledProvider) CreateCheckout(context.Context, CheckoutRequest) (*CheckoutSession, error) {
	return nil, ErrMisconfiguredProvider
}

func (DisabledProvider) GetCheckout(context.Context, string) (*CheckoutSession, error) {
	return nil, ErrMisconfiguredProvider
}

func (DisabledProvider) GetSubscription(context.Context, string) (*RemoteSubscription, error) {
	return nil, ErrMisconfiguredProvider
}

func (DisabledProvider) CreatePortal(context.Context, string, string) (string, error) {
	return "", ErrMisconfiguredProvider
}

func (DisabledProvider) ParseWebhook([]byte, string) (*Event, error) {
	return nil, ErrMisconfiguredProvider
}
