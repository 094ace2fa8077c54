package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"reelscript/internal/auth"
	"reelscript/internal/billing"
	"reelscript/internal/config"
	"reelscript/internal/script"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type authRepoStub struct {
	findUserByID      func(ctx context.Context, id uuid.UUID) (*auth.User, error)
	findSessionByHash func(ctx context.Context, tokenHash string) (*auth.Session, error)
	deleteSession     func(ctx context.Context, id uuid.UUID) error
}

func (r *authRepoStub) FindUserByID(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	if r.findUserByID != nil {
		return r.findUserByID(ctx, id)
	}
	return nil, nil
}

func (r *authRepoStub) FindUserByEmail(context.Context, string) (*auth.User, error) {
	return nil, nil
}

func (r *authRepoStub) FindUserBySubject(context.Context, string) (*auth.User, error) {
	return nil, nil
}

func (r *authRepoStub) CreateUser(_ context.Context, user auth.User) (auth.User, error) {
	return user, nil
}

func (r *authRepoStub) UpdateUser(context.Context, uuid.UUID, auth.UserUpdate) (*auth.User, error) {
	return nil, nil
}

func (r *authRepoStub) CreateSession(context.Context, auth.Session, string) error {
	return nil
}

func (r *authRepoStub) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	if r.findSessionByHash != nil {
		return r.findSessionByHash(ctx, tokenHash)
	}
	return nil, nil
}

func (r *authRepoStub) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if r.deleteSession != nil {
		return r.deleteSession(ctx, id)
	}
	return nil
}

func (r *authRepoStub) DeleteExpiredSessions(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeAuthenticator struct {
	kind         auth.ProviderKind
	lastState    string
	lastVerifier string
	gotCode      string
	gotVerifier  string
	gotToken     string
	identity     *auth.Identity
	err          error
}

func (f *fakeAuthenticator) Kind() auth.ProviderKind {
	if f.kind == "" {
		return auth.ProviderGoogle
	}
	return f.kind
}

func (f *fakeAuthenticator) AuthURL(state, verifier string) string {
	f.lastState = state
	f.lastVerifier = verifier
	return "https://idp.test/authorize?state=" + state
}

func (f *fakeAuthenticator) Exchange(_ context.Context, code, verifier string) (*auth.Identity, error) {
	f.gotCode = code
	f.gotVerifier = verifier
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

func (f *fakeAuthenticator) Introspect(_ context.Context, token string) (*auth.Identity, error) {
	f.gotToken = token
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

// fakeBillingProvider accepts webhooks whose signature header equals "valid" and decodes
// the payload straight into a billing.Event.
type fakeBillingProvider struct {
	mu            sync.Mutex
	checkouts     map[string]*billing.CheckoutSession
	subscriptions map[string]*billing.RemoteSubscription
	created       []billing.CheckoutRequest
	unavailable   bool
}

func newFakeBillingProvider() *fakeBillingProvider {
	return &fakeBillingProvider{
		checkouts:     make(map[string]*billing.CheckoutSession),
		subscriptions: make(map[string]*billing.RemoteSubscription),
	}
}

func (f *fakeBillingProvider) CreateCheckout(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, billing.ErrProviderUnavailable
	}
	f.created = append(f.created, req)
	id := fmt.Sprintf("cs_%d", len(f.created))
	return &billing.CheckoutSession{ID: id, URL: "https://checkout.test/" + id, UserRef: req.UserRef}, nil
}

func (f *fakeBillingProvider) GetCheckout(_ context.Context, id string) (*billing.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, billing.ErrProviderUnavailable
	}
	cs, ok := f.checkouts[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return cs, nil
}

func (f *fakeBillingProvider) GetSubscription(_ context.Context, id string) (*billing.RemoteSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, billing.ErrProviderUnavailable
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return sub, nil
}

func (f *fakeBillingProvider) CreatePortal(_ context.Context, customerID, _ string) (string, error) {
	return "https://portal.test/" + customerID, nil
}

func (f *fakeBillingProvider) ParseWebhook(payload []byte, signature string) (*billing.Event, error) {
	if signature != "valid" {
		return nil, billing.ErrWebhookSignature
	}
	var event billing.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, billing.ErrMalformedEvent
	}
	return &event, nil
}

// setStatus changes the provider-side status of a subscription, as a cancellation would.
func (f *fakeBillingProvider) setStatus(subscriptionID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[subscriptionID].Status = status
}

// completePayment simulates the customer paying for a checkout created for userID.
func (f *fakeBillingProvider) completePayment(checkoutID string, userID uuid.UUID, periodEnd time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	remote := &billing.RemoteSubscription{ID: "sub_" + checkoutID, CustomerID: "cus_" + checkoutID, Status: "active", CurrentPeriodEnd: periodEnd}
	f.subscriptions[remote.ID] = remote
	f.checkouts[checkoutID] = &billing.CheckoutSession{
		ID:             checkoutID,
		UserRef:        userID.String(),
		CustomerID:     remote.CustomerID,
		SubscriptionID: remote.ID,
		Paid:           true,
		CreatedAt:      time.Now(),
		Subscription:   remote,
	}
}

type fakeGenerator struct {
	mu          sync.Mutex
	calls       int
	lastPremium bool
	result      script.Result
	err         error
}

func (f *fakeGenerator) Generate(_ context.Context, form script.Form, premium bool) (script.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastPremium = premium
	if err := form.Validate(); err != nil {
		return script.Result{}, err
	}
	if form.UsesStyleMimicry() && !premium {
		return script.Result{}, script.ErrPremiumRequired
	}
	if f.err != nil {
		return script.Result{}, f.err
	}
	return f.result, nil
}

type testEnv struct {
	mu            sync.Mutex
	clock         time.Time
	authRepo      *auth.InMemoryRepository
	authService   *auth.Service
	subscriptions *billing.InMemoryRepository
	provider      *fakeBillingProvider
	reconciler    *billing.Reconciler
	authenticator *fakeAuthenticator
	generator     *fakeGenerator
	handler       http.Handler
}

func newTestEnv(t *testing.T, configure ...func(*Dependencies)) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:         time.Now(),
		authRepo:      auth.NewInMemoryRepository(),
		subscriptions: billing.NewInMemoryRepository(),
		provider:      newFakeBillingProvider(),
		authenticator: &fakeAuthenticator{},
		generator:     &fakeGenerator{result: script.Result{Script: "Hook: hi", Model: "test-model"}},
	}
	env.authService = auth.NewService(env.authRepo, auth.DefaultSessionTTL, auth.WithClock(env.now))
	env.reconciler = billing.NewReconciler(env.subscriptions, env.provider, billing.RedirectURLs{
		Success:      "http://frontend.test/?success=true",
		Cancel:       "http://frontend.test/?canceled=true",
		PortalReturn: "http://frontend.test/",
	}, discardLogger())

	deps := Dependencies{
		Config:        env.routerConfig(),
		Auth:          env.authService,
		Authenticator: env.authenticator,
		Billing:       env.reconciler,
		Generator:     env.generator,
		Logger:        discardLogger(),
	}
	for _, fn := range configure {
		fn(&deps)
	}
	env.handler = NewRouter(deps)
	return env
}

func (e *testEnv) routerConfig() config.Config {
	return config.Config{
		Environment:       "development",
		AllowedOrigins:    []string{"http://frontend.test"},
		FrontendURL:       "http://frontend.test",
		GenerationTimeout: 5 * time.Second,
	}
}

func (e *testEnv) now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = e.clock.Add(d)
}

// signIn creates a user and a live session and returns the session cookie.
func (e *testEnv) signIn(t *testing.T, subject, email string) (*auth.User, *http.Cookie) {
	t.Helper()
	ctx := context.Background()
	user, err := e.authService.SignIn(ctx, &auth.Identity{Provider: auth.ProviderGoogle, Subject: subject, Email: email, EmailVerified: true, Name: "Test User"})
	if err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}
	token, _, err := e.authService.CreateSession(ctx, user.ID, "test-agent", "127.0.0.1")
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	return user, &http.Cookie{Name: sessionCookieName, Value: token}
}

func (e *testEnv) do(t *testing.T, method, path, body string, cookie *http.Cookie, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func expectErrorKind(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	body := decodeBody[errorBody](t, rec)
	if body.Kind != kind {
		t.Fatalf("expected kind %q, got %q (%s)", kind, body.Kind, body.Error)
	}
}
