package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// BrokerAuthenticator signs users in through a managed identity broker. The broker runs the upstream
// OAuth dance and issues HS256 access tokens that are verified locally with the shared JWT secret.
type BrokerAuthenticator struct {
	config   *oauth2.Config
	issuer   string
	audience string
	secret   []byte
	upstream string
	settings ProviderSettings
}

type brokerClaims struct {
	jwt.RegisteredClaims
	Email        string `json:"email"`
	UserMetadata struct {
		FullName      string `json:"full_name"`
		Name          string `json:"name"`
		AvatarURL     string `json:"avatar_url"`
		Picture       string `json:"picture"`
		EmailVerified bool   `json:"email_verified"`
	} `json:"user_metadata"`
}

// NewBrokerAuthenticator creates a BrokerAuthenticator. BrokerURL doubles as the token issuer.
func NewBrokerAuthenticator(settings ProviderSettings) (*BrokerAuthenticator, error) {
	issuer := strings.TrimSuffix(strings.TrimSpace(settings.BrokerURL), "/")
	if issuer == "" || settings.JWTSecret == "" {
		return nil, fmt.Errorf("%w: broker url and jwt secret are required", ErrMisconfiguredProvider)
	}

	audience := settings.Audience
	if audience == "" {
		audience = "authenticated"
	}

	return &BrokerAuthenticator{
		config: &oauth2.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			RedirectURL:  settings.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   issuer + "/authorize",
				TokenURL:  issuer + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{"openid", "email", "profile"},
		},
		issuer:   issuer,
		audience: audience,
		secret:   []byte(settings.JWTSecret),
		upstream: settings.Connection,
		settings: settings,
	}, nil
}

// Kind identifies the managed broker backend.
func (b *BrokerAuthenticator) Kind() ProviderKind {
	return ProviderBroker
}

// AuthURL returns the broker's authorize URL, naming the upstream connection when configured.
func (b *BrokerAuthenticator) AuthURL(state, verifier string) string {
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if b.upstream != "" {
		opts = append(opts, oauth2.SetAuthURLParam("provider", b.upstream))
	}
	return b.config.AuthCodeURL(state, opts...)
}

// Exchange trades the code for a broker access token and verifies it.
func (b *BrokerAuthenticator) Exchange(ctx context.Context, code, verifier string) (*Identity, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrInvalidCredential)
	}

	ctx, cancel := withTimeout(withHTTPClient(ctx, b.settings.HTTPClient), b.settings.Timeout)
	defer cancel()

	token, err := b.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	return b.verify(token.AccessToken)
}

// Introspect verifies an access token the client obtained from the broker.
func (b *BrokerAuthenticator) Introspect(_ context.Context, token string) (*Identity, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: missing token", ErrInvalidCredential)
	}
	return b.verify(token)
}

func (b *BrokerAuthenticator) verify(raw string) (*Identity, error) {
	var claims brokerClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		return b.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(b.audience),
		jwt.WithIssuer(b.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: access token expired", ErrInvalidCredential)
		}
		return nil, fmt.Errorf("%w: verify access token: %v", ErrInvalidCredential, err)
	}

	if claims.Subject == "" || claims.Email == "" {
		return nil, fmt.Errorf("%w: access token lacks subject or email", ErrInvalidCredential)
	}

	name := claims.UserMetadata.FullName
	if name == "" {
		name = claims.UserMetadata.Name
	}
	avatar := claims.UserMetadata.AvatarURL
	if avatar == "" {
		avatar = claims.UserMetadata.Picture
	}

	return &Identity{
		Provider:      ProviderBroker,
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.UserMetadata.EmailVerified,
		Name:          name,
		AvatarURL:     avatar,
	}, nil
}
