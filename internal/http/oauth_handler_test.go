package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"reelscript/internal/auth"
)

func TestIsValidRedirectPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/studio", true},
		{"/studio?tab=history", true},
		{"", false},
		{"studio", false},
		{"//evil.com", false},
		{"/%2f%2fevil.com", false},
		{"/\\evil.com", false},
		{"https://evil.com/", false},
		{"%zz", false},
	}
	for _, tt := range tests {
		if got := isValidRedirectPath(tt.path); got != tt.want {
			t.Errorf("isValidRedirectPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

// startRedirect runs the provider redirect and returns the state and PKCE cookies plus the encoded state.
func startRedirect(t *testing.T, env *testEnv, query string) (*http.Cookie, *http.Cookie, string) {
	t.Helper()
	rec := env.do(t, http.MethodGet, "/auth/provider-redirect"+query, "", nil)
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get("Location"), "https://idp.test/authorize") {
		t.Fatalf("unexpected location %q", rec.Header().Get("Location"))
	}
	state := findCookie(rec, oauthStateCookieName)
	pkce := findCookie(rec, oauthPKCECookieName)
	if state == nil || pkce == nil {
		t.Fatal("expected state and pkce cookies")
	}
	if !state.HttpOnly || state.Path != oauthCookiePath {
		t.Fatalf("unexpected state cookie %+v", state)
	}
	if pkce.Value != env.authenticator.lastVerifier {
		t.Fatal("pkce cookie should carry the verifier handed to the provider")
	}
	return state, pkce, env.authenticator.lastState
}

func callback(t *testing.T, env *testEnv, query string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+query, nil)
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func TestProviderRedirectEncodesRedirectTarget(t *testing.T) {
	env := newTestEnv(t)
	state, _, encoded := startRedirect(t, env, "?redirectTo=/studio")

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	var payload oauthStatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if payload.State != state.Value || payload.RedirectTo != "/studio" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestProviderRedirectDropsUnsafeTarget(t *testing.T) {
	env := newTestEnv(t)
	_, _, encoded := startRedirect(t, env, "?redirectTo="+url.QueryEscape("//evil.com"))

	payload, ok := decodeOAuthState(encoded)
	if !ok {
		t.Fatal("expected decodable state")
	}
	if payload.RedirectTo != "" {
		t.Fatalf("unsafe redirect kept: %q", payload.RedirectTo)
	}
}

func TestProviderRedirectWithoutAuthenticator(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) { d.Authenticator = nil })
	rec := env.do(t, http.MethodGet, "/auth/provider-redirect", "", nil)
	expectErrorKind(t, rec, http.StatusServiceUnavailable, kindMisconfiguredProvider)
}

func TestCallbackCreatesSession(t *testing.T) {
	env := newTestEnv(t)
	env.authenticator.identity = &auth.Identity{Provider: auth.ProviderGoogle, Subject: "google-1", Email: "ada@example.com", EmailVerified: true, Name: "Ada"}
	state, pkce, encoded := startRedirect(t, env, "?redirectTo=/studio")

	rec := callback(t, env, "code=abc&state="+encoded, state, pkce)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "http://frontend.test/studio" {
		t.Fatalf("unexpected location %q", got)
	}
	if env.authenticator.gotCode != "abc" || env.authenticator.gotVerifier != pkce.Value {
		t.Fatalf("exchange got code=%q verifier=%q", env.authenticator.gotCode, env.authenticator.gotVerifier)
	}
	session := findCookie(rec, sessionCookieName)
	if session == nil || session.Value == "" || !session.HttpOnly {
		t.Fatalf("expected session cookie, got %+v", session)
	}
	if cleared := findCookie(rec, oauthStateCookieName); cleared == nil || cleared.MaxAge >= 0 {
		t.Fatal("expected state cookie to be cleared")
	}

	me := env.do(t, http.MethodGet, "/auth/me", "", session)
	if me.Code != http.StatusOK {
		t.Fatalf("expected /auth/me to succeed, got %d", me.Code)
	}
}

func TestCallbackRejectsStateMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.authenticator.identity = &auth.Identity{Provider: auth.ProviderGoogle, Subject: "google-1", Email: "ada@example.com", EmailVerified: true}
	_, pkce, encoded := startRedirect(t, env, "")

	rec := callback(t, env, "code=abc&state="+encoded, &http.Cookie{Name: oauthStateCookieName, Value: "other"}, pkce)

	if !strings.Contains(rec.Header().Get("Location"), "/login?error=invalid_request") {
		t.Fatalf("unexpected location %q", rec.Header().Get("Location"))
	}
	if env.authenticator.gotCode != "" {
		t.Fatal("exchange must not run on a state mismatch")
	}
	if findCookie(rec, sessionCookieName) != nil {
		t.Fatal("no session cookie expected")
	}
}

func TestCallbackRequiresPKCECookie(t *testing.T) {
	env := newTestEnv(t)
	state, _, encoded := startRedirect(t, env, "")

	rec := callback(t, env, "code=abc&state="+encoded, state)

	if !strings.Contains(rec.Header().Get("Location"), "error=invalid_request") {
		t.Fatalf("unexpected location %q", rec.Header().Get("Location"))
	}
}

func TestCallbackExchangeFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "rejected", err: auth.ErrInvalidCredential, want: "error=" + kindInvalidCredential},
		{name: "unavailable", err: auth.ErrProviderUnavailable, want: "error=" + kindProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.authenticator.err = tt.err
			state, pkce, encoded := startRedirect(t, env, "")

			rec := callback(t, env, "code=abc&state="+encoded, state, pkce)

			if !strings.Contains(rec.Header().Get("Location"), tt.want) {
				t.Fatalf("expected %q in location %q", tt.want, rec.Header().Get("Location"))
			}
		})
	}
}

func TestCallbackRejectsUnverifiedGoogleEmail(t *testing.T) {
	env := newTestEnv(t)
	env.authenticator.identity = &auth.Identity{Provider: auth.ProviderGoogle, Subject: "google-1", Email: "ada@example.com"}
	state, pkce, encoded := startRedirect(t, env, "")

	rec := callback(t, env, "code=abc&state="+encoded, state, pkce)

	if !strings.Contains(rec.Header().Get("Location"), "error=email_not_verified") {
		t.Fatalf("unexpected location %q", rec.Header().Get("Location"))
	}
	if findCookie(rec, sessionCookieName) != nil {
		t.Fatal("no session cookie expected")
	}
}

func TestCallbackProviderErrorParam(t *testing.T) {
	env := newTestEnv(t)
	state, pkce, encoded := startRedirect(t, env, "")

	rec := callback(t, env, "error=access_denied&state="+encoded, state, pkce)

	if !strings.Contains(rec.Header().Get("Location"), "error=access_denied") {
		t.Fatalf("unexpected location %q", rec.Header().Get("Location"))
	}
}

func TestSessionExchangesAccessToken(t *testing.T) {
	env := newTestEnv(t)
	env.authenticator.kind = auth.ProviderBroker
	env.authenticator.identity = &auth.Identity{Provider: auth.ProviderBroker, Subject: "broker-1", Email: "grace@example.com", Name: "Grace"}

	rec := env.do(t, http.MethodPost, "/auth/session", `{"access_token":"tok"}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.authenticator.gotToken != "tok" {
		t.Fatalf("introspected %q", env.authenticator.gotToken)
	}
	body := decodeBody[struct {
		User userResponse `json:"user"`
	}](t, rec)
	if body.User.Email != "grace@example.com" {
		t.Fatalf("unexpected user %+v", body.User)
	}
	if findCookie(rec, sessionCookieName) == nil {
		t.Fatal("expected session cookie")
	}
}

func TestSessionValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/session", `{"access_token":"  "}`, nil)
	expectErrorKind(t, rec, http.StatusBadRequest, kindInvalidRequest)

	rec = env.do(t, http.MethodPost, "/auth/session", `{"token":"x"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown field to be rejected, got %d", rec.Code)
	}

	env.authenticator.err = auth.ErrInvalidCredential
	rec = env.do(t, http.MethodPost, "/auth/session", `{"access_token":"bad"}`, nil)
	expectErrorKind(t, rec, http.StatusUnauthorized, kindInvalidCredential)
}

func TestSessionRejectsUnverifiedGoogleEmail(t *testing.T) {
	env := newTestEnv(t)
	env.authenticator.identity = &auth.Identity{Provider: auth.ProviderGoogle, Subject: "google-3", Email: "mallory@example.com"}

	rec := env.do(t, http.MethodPost, "/auth/session", `{"access_token":"tok"}`, nil)

	expectErrorKind(t, rec, http.StatusForbidden, kindEmailNotVerified)
	if findCookie(rec, sessionCookieName) != nil {
		t.Fatal("no session cookie expected")
	}
	if user, _ := env.authRepo.FindUserBySubject(context.Background(), "google-3"); user != nil {
		t.Fatal("no user should be created")
	}
}

func TestSessionRespectsAllowList(t *testing.T) {
	env := newTestEnv(t)
	env.authService = auth.NewService(env.authRepo, auth.DefaultSessionTTL, auth.WithAllowList(auth.NewAllowList([]string{"example.com"}, nil)))
	env.handler = NewRouter(Dependencies{
		Config:        env.routerConfig(),
		Auth:          env.authService,
		Authenticator: env.authenticator,
		Billing:       env.reconciler,
		Logger:        discardLogger(),
	})
	env.authenticator.identity = &auth.Identity{Provider: auth.ProviderGoogle, Subject: "g-2", Email: "eve@elsewhere.org", EmailVerified: true}

	rec := env.do(t, http.MethodPost, "/auth/session", `{"access_token":"tok"}`, nil)

	expectErrorKind(t, rec, http.StatusForbidden, kindEmailNotAllowed)
}
