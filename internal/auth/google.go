package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const googleIssuer = "https://accounts.google.com"

// GoogleAuthenticator handles Google OAuth 2.0 / OIDC authentication.
type GoogleAuthenticator struct {
	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier
	settings ProviderSettings
}

// NewGoogleAuthenticator discovers Google's OIDC configuration and creates a GoogleAuthenticator.
func NewGoogleAuthenticator(ctx context.Context, settings ProviderSettings) (*GoogleAuthenticator, error) {
	// The provider keeps this context for fetching signing keys, so it must outlive the call.
	provider, err := oidc.NewProvider(withHTTPClient(ctx, settings.HTTPClient), googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("%w: oidc provider: %v", ErrProviderUnavailable, err)
	}

	config := &oauth2.Config{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		RedirectURL:  settings.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}

	return newGoogleAuthenticator(config, provider.Verifier(&oidc.Config{ClientID: settings.ClientID}), settings), nil
}

func newGoogleAuthenticator(config *oauth2.Config, verifier *oidc.IDTokenVerifier, settings ProviderSettings) *GoogleAuthenticator {
	return &GoogleAuthenticator{config: config, verifier: verifier, settings: settings}
}

// Kind identifies the direct OAuth backend.
func (g *GoogleAuthenticator) Kind() ProviderKind {
	return ProviderGoogle
}

// AuthURL generates the Google OAuth consent URL with the given state and PKCE verifier.
func (g *GoogleAuthenticator) AuthURL(state, verifier string) string {
	return g.config.AuthCodeURL(
		state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// Exchange exchanges the authorization code for tokens and returns the verified identity.
func (g *GoogleAuthenticator) Exchange(ctx context.Context, code, verifier string) (*Identity, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrInvalidCredential)
	}

	ctx, cancel := withTimeout(withHTTPClient(ctx, g.settings.HTTPClient), g.settings.Timeout)
	defer cancel()

	token, err := g.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: no id_token in response", ErrInvalidCredential)
	}

	return g.verify(ctx, rawIDToken)
}

// Introspect verifies a Google ID token obtained by the client directly.
func (g *GoogleAuthenticator) Introspect(ctx context.Context, token string) (*Identity, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: missing token", ErrInvalidCredential)
	}

	ctx, cancel := withTimeout(withHTTPClient(ctx, g.settings.HTTPClient), g.settings.Timeout)
	defer cancel()

	return g.verify(ctx, token)
}

func (g *GoogleAuthenticator) verify(ctx context.Context, rawIDToken string) (*Identity, error) {
	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: verify id_token: %v", ErrProviderUnavailable, err)
		}
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, fmt.Errorf("%w: id_token expired at %s", ErrInvalidCredential, expired.Expiry.Format(time.RFC3339))
		}
		return nil, fmt.Errorf("%w: verify id_token: %v", ErrInvalidCredential, err)
	}

	var claims googleClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: parse claims: %v", ErrInvalidCredential, err)
	}
	if claims.Sub == "" || claims.Email == "" {
		return nil, fmt.Errorf("%w: id_token lacks subject or email", ErrInvalidCredential)
	}

	return &Identity{
		Provider:      ProviderGoogle,
		Subject:       claims.Sub,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		AvatarURL:     claims.Picture,
	}, nil
}
