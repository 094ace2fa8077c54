package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ProviderKind selects the identity backend.
type ProviderKind string

const (
	// ProviderGoogle signs users in directly against Google with OAuth 2.0 and OIDC.
	ProviderGoogle ProviderKind = "google"
	// ProviderBroker delegates sign-in to a managed identity broker that issues signed access tokens.
	ProviderBroker ProviderKind = "broker"
)

// ParseProviderKind maps a configuration value onto a ProviderKind.
func ParseProviderKind(value string) (ProviderKind, error) {
	switch ProviderKind(strings.ToLower(strings.TrimSpace(value))) {
	case ProviderGoogle:
		return ProviderGoogle, nil
	case ProviderBroker:
		return ProviderBroker, nil
	default:
		return "", fmt.Errorf("%w: unknown provider %q", ErrMisconfiguredProvider, value)
	}
}

// Authenticator turns provider credentials into a verified Identity. Implementations do not persist anything.
type Authenticator interface {
	Kind() ProviderKind
	// AuthURL builds the consent URL. verifier is the PKCE code verifier kept by the caller.
	AuthURL(state, verifier string) string
	// Exchange trades an authorization code for a verified identity.
	Exchange(ctx context.Context, code, verifier string) (*Identity, error)
	// Introspect verifies a token issued by the provider and returns its identity.
	Introspect(ctx context.Context, token string) (*Identity, error)
}

// ProviderSettings carries everything NewAuthenticator needs.
type ProviderSettings struct {
	Kind         ProviderKind
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Broker only.
	BrokerURL  string
	JWTSecret  string
	Audience   string
	Connection string

	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewAuthenticator constructs the configured backend. Missing client settings fail with ErrMisconfiguredProvider.
func NewAuthenticator(ctx context.Context, settings ProviderSettings) (Authenticator, error) {
	switch settings.Kind {
	case ProviderGoogle:
		if settings.ClientID == "" || settings.ClientSecret == "" {
			return nil, fmt.Errorf("%w: google client id and secret are required", ErrMisconfiguredProvider)
		}
		return NewGoogleAuthenticator(ctx, settings)
	case ProviderBroker:
		if settings.BrokerURL == "" || settings.ClientID == "" || settings.JWTSecret == "" {
			return nil, fmt.Errorf("%w: broker url, client id and jwt secret are required", ErrMisconfiguredProvider)
		}
		return NewBrokerAuthenticator(settings)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrMisconfiguredProvider, settings.Kind)
	}
}

// GenerateState generates a cryptographically secure random state string.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// GenerateVerifier returns a fresh PKCE code verifier.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// withHTTPClient makes oauth2 and oidc use the injected client.
func withHTTPClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyExchangeError separates provider rejections from transport failures.
func classifyExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: token endpoint returned %d", ErrProviderUnavailable, retrieveErr.Response.StatusCode)
		}
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	// Anything else is transport: timeouts, refused connections, malformed responses.
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
