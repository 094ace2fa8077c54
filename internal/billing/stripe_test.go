package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func newTestStripeProvider(t *testing.T, handler http.HandlerFunc) *StripeProvider {
	t.Helper()
	apiURL := "http://127.0.0.1:1"
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		apiURL = server.URL
	}
	provider, err := NewStripeProvider(StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		PriceID:       "price_123",
		APIURL:        apiURL,
		Timeout:       5 * time.Second,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewStripeProvider returned error: %v", err)
	}
	return provider
}

func signedPayload(payload string, secret string) *webhook.SignedPayload {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})
}

func TestNewStripeProviderRequiresCredentials(t *testing.T) {
	_, err := NewStripeProvider(StripeConfig{SecretKey: "sk_test_123"})
	if !errors.Is(err, ErrMisconfiguredProvider) {
		t.Fatalf("expected ErrMisconfiguredProvider, got %v", err)
	}
}

func TestStripeParseWebhookSubscriptionDeleted(t *testing.T) {
	provider := newTestStripeProvider(t, nil)
	payload := `{
		"id": "evt_1",
		"object": "event",
		"type": "customer.subscription.deleted",
		"data": {"object": {
			"id": "sub_1",
			"object": "subscription",
			"customer": "cus_1",
			"status": "canceled",
			"current_period_end": 1767225600
		}}
	}`
	signed := signedPayload(payload, testWebhookSecret)

	event, err := provider.ParseWebhook(signed.Payload, signed.Header)
	if err != nil {
		t.Fatalf("ParseWebhook returned error: %v", err)
	}
	if event.ID != "evt_1" || event.Type != EventSubscriptionDeleted {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.SubscriptionID != "sub_1" || event.CustomerID != "cus_1" {
		t.Fatalf("unexpected ids %+v", event)
	}
	if !event.PeriodEnd.Equal(time.Unix(1767225600, 0)) {
		t.Fatalf("unexpected period end %s", event.PeriodEnd)
	}
}

func TestStripeParseWebhookCheckoutCompleted(t *testing.T) {
	provider := newTestStripeProvider(t, nil)
	payload := `{
		"id": "evt_2",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"object": "checkout.session",
			"customer": "cus_1",
			"subscription": "sub_1",
			"payment_status": "paid"
		}}
	}`
	signed := signedPayload(payload, testWebhookSecret)

	event, err := provider.ParseWebhook(signed.Payload, signed.Header)
	if err != nil {
		t.Fatalf("ParseWebhook returned error: %v", err)
	}
	if event.CheckoutSessionID != "cs_1" || event.SubscriptionID != "sub_1" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestStripeParseWebhookRejectsTampering(t *testing.T) {
	provider := newTestStripeProvider(t, nil)
	payload := `{"id":"evt_3","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_1","object":"invoice","subscription":"sub_1"}}}`

	signed := signedPayload(payload, testWebhookSecret)
	tampered := []byte(`{"id":"evt_3","object":"event","type":"invoice.payment_succeeded","data":{"object":{"id":"in_1","object":"invoice","subscription":"sub_1"}}}`)
	if _, err := provider.ParseWebhook(tampered, signed.Header); !errors.Is(err, ErrWebhookSignature) {
		t.Fatalf("expected ErrWebhookSignature for tampered payload, got %v", err)
	}

	forged := signedPayload(payload, "whsec_other")
	if _, err := provider.ParseWebhook(forged.Payload, forged.Header); !errors.Is(err, ErrWebhookSignature) {
		t.Fatalf("expected ErrWebhookSignature for wrong secret, got %v", err)
	}

	if _, err := provider.ParseWebhook([]byte(payload), ""); !errors.Is(err, ErrWebhookSignature) {
		t.Fatalf("expected ErrWebhookSignature without header, got %v", err)
	}
}

func TestStripeGetCheckout(t *testing.T) {
	provider := newTestStripeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/checkout/sessions/cs_1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
			t.Errorf("unexpected authorization header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "cs_1",
			"object": "checkout.session",
			"payment_status": "paid",
			"client_reference_id": "ref-fallback",
			"metadata": {"user_id": "user-123"},
			"customer": "cus_1",
			"created": 1767225600,
			"subscription": {
				"id": "sub_1",
				"object": "subscription",
				"customer": "cus_1",
				"status": "active",
				"current_period_end": 1769904000
			}
		}`)
	})

	checkout, err := provider.GetCheckout(context.Background(), "cs_1")
	if err != nil {
		t.Fatalf("GetCheckout returned error: %v", err)
	}
	if checkout.ID != "cs_1" || checkout.UserRef != "user-123" || !checkout.Paid {
		t.Fatalf("unexpected checkout %+v", checkout)
	}
	if checkout.CustomerID != "cus_1" || checkout.SubscriptionID != "sub_1" {
		t.Fatalf("unexpected ids %+v", checkout)
	}
	if checkout.Subscription == nil || !checkout.Subscription.Entitled() {
		t.Fatalf("expected expanded active subscription, got %+v", checkout.Subscription)
	}
	if !checkout.Subscription.CurrentPeriodEnd.Equal(time.Unix(1769904000, 0)) {
		t.Fatalf("unexpected period end %s", checkout.Subscription.CurrentPeriodEnd)
	}
}

func TestStripeGetCheckoutFallsBackToClientReference(t *testing.T) {
	provider := newTestStripeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"cs_2","object":"checkout.session","payment_status":"unpaid","client_reference_id":"user-456"}`)
	})

	checkout, err := provider.GetCheckout(context.Background(), "cs_2")
	if err != nil {
		t.Fatalf("GetCheckout returned error: %v", err)
	}
	if checkout.UserRef != "user-456" || checkout.Paid || checkout.Subscription != nil {
		t.Fatalf("unexpected checkout %+v", checkout)
	}
}

func TestStripeErrorsAreClassified(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{name: "not found", status: http.StatusNotFound, want: ErrNotFound},
		{name: "bad key", status: http.StatusUnauthorized, want: ErrMisconfiguredProvider},
		{name: "rate limited", status: http.StatusTooManyRequests, want: ErrProviderUnavailable},
		{name: "server error", status: http.StatusInternalServerError, want: ErrProviderUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := newTestStripeProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"boom"}}`)
			})

			_, err := provider.GetSubscription(context.Background(), "sub_1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestStripeUnreachableIsUnavailable(t *testing.T) {
	provider := newTestStripeProvider(t, nil)

	_, err := provider.GetCheckout(context.Background(), "cs_1")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestStripeCreateCheckout(t *testing.T) {
	provider := newTestStripeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("mode"); got != "subscription" {
			t.Errorf("expected subscription mode, got %q", got)
		}
		if got := r.PostForm.Get("metadata[user_id]"); got != "user-123" {
			t.Errorf("expected user metadata, got %q", got)
		}
		if got := r.PostForm.Get("customer_email"); got != "user@example.com" {
			t.Errorf("expected customer email, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"cs_new","object":"checkout.session","url":"https://checkout.stripe.test/cs_new","metadata":{"user_id":"user-123"}}`)
	})

	checkout, err := provider.CreateCheckout(context.Background(), CheckoutRequest{
		UserRef:    "user-123",
		Email:      "user@example.com",
		SuccessURL: "http://app.test/?success=true",
		CancelURL:  "http://app.test/?canceled=true",
	})
	if err != nil {
		t.Fatalf("CreateCheckout returned error: %v", err)
	}
	if checkout.URL != "https://checkout.stripe.test/cs_new" {
		t.Fatalf("unexpected checkout url %q", checkout.URL)
	}
}
