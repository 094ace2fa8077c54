package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeConfig configures StripeProvider.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	// APIURL overrides the Stripe API base URL, e.g. for stripe-mock.
	APIURL     string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	priceID       string
	timeout       time.Duration
}

// NewStripeProvider builds a Stripe client with bounded timeouts and no automatic retries.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" || cfg.WebhookSecret == "" || cfg.PriceID == "" {
		return nil, fmt.Errorf("%w: stripe secret key, webhook secret and price id are required", ErrMisconfiguredProvider)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     stripeLogger{logger: logger},
	}
	if cfg.APIURL != "" {
		backendConfig.URL = stripe.String(cfg.APIURL)
	}

	return &StripeProvider{
		api:           client.New(cfg.SecretKey, stripe.NewBackendsWithConfig(backendConfig)),
		webhookSecret: cfg.WebhookSecret,
		priceID:       cfg.PriceID,
		timeout:       cfg.Timeout,
	}, nil
}

// CreateCheckout opens a subscription checkout tagged with the user reference.
func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserRef),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.priceID), Quantity: stripe.Int64(1)},
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata("user_id", req.UserRef)

	cs, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classifyStripeError("create checkout", err)
	}
	return toCheckoutSession(cs), nil
}

// GetCheckout retrieves a checkout session with its subscription expanded.
func (p *StripeProvider) GetCheckout(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")

	cs, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, classifyStripeError("get checkout", err)
	}
	return toCheckoutSession(cs), nil
}

// GetSubscription retrieves the current state of a subscription.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, classifyStripeError("get subscription", err)
	}
	remote := toRemoteSubscription(sub)
	return &remote, nil
}

// CreatePortal opens a billing portal session for the customer.
func (p *StripeProvider) CreatePortal(ctx context.Context, customerID, returnURL string) (string, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	session, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", classifyStripeError("create portal", err)
	}
	return session.URL, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the handled event objects.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	out := &Event{ID: event.ID, Type: EventType(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.CheckoutSessionID = cs.ID
		if cs.Customer != nil {
			out.CustomerID = cs.Customer.ID
		}
		if cs.Subscription != nil {
			out.SubscriptionID = cs.Subscription.ID
		}
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.SubscriptionID = sub.ID
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
		out.PeriodEnd = unixTime(sub.CurrentPeriodEnd)
	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if inv.Subscription != nil {
			out.SubscriptionID = inv.Subscription.ID
		}
		if inv.Customer != nil {
			out.CustomerID = inv.Customer.ID
		}
		out.PeriodEnd = unixTime(inv.PeriodEnd)
	}
	return out, nil
}

func (p *StripeProvider) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func toCheckoutSession(cs *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:        cs.ID,
		URL:       cs.URL,
		UserRef:   cs.Metadata["user_id"],
		Paid:      cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid || cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired,
		CreatedAt: unixTime(cs.Created),
	}
	if out.UserRef == "" {
		out.UserRef = cs.ClientReferenceID
	}
	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
	}
	if cs.Subscription != nil {
		out.SubscriptionID = cs.Subscription.ID
		// An unexpanded subscription only carries its id.
		if cs.Subscription.Status != "" {
			remote := toRemoteSubscription(cs.Subscription)
			out.Subscription = &remote
		}
	}
	return out
}

func toRemoteSubscription(sub *stripe.Subscription) RemoteSubscription {
	remote := RemoteSubscription{
		ID:               sub.ID,
		Status:           string(sub.Status),
		CurrentPeriodEnd: unixTime(sub.CurrentPeriodEnd),
	}
	if sub.Customer != nil {
		remote.CustomerID = sub.Customer.ID
	}
	return remote
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// classifyStripeError maps Stripe API failures onto billing sentinels.
func classifyStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound:
			return fmt.Errorf("%s: %w: %s", op, ErrNotFound, stripeErr.Msg)
		case stripeErr.HTTPStatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%s: %w: %s", op, ErrMisconfiguredProvider, stripeErr.Msg)
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%s: %w: %s", op, ErrProviderUnavailable, stripeErr.Msg)
		default:
			return fmt.Errorf("%s: stripe rejected request: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, ErrProviderUnavailable, err)
}

// stripeLogger routes stripe-go's internal logging through slog.
type stripeLogger struct {
	logger *slog.Logger
}

func (l stripeLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l stripeLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l stripeLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l stripeLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...), "component", "stripe")
}
