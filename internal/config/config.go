package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config aggregates runtime configuration for the reelscript services.
type Config struct {
	Environment    string   `env:"APP_ENV,default=development"`
	HTTPPort       int      `env:"PORT,default=8080"`
	DatabaseURL    string   `env:"DATABASE_URL"`
	DataStore      string   `env:"DATA_STORE,default=memory"`
	LogLevel       string   `env:"LOG_LEVEL,default=info"`
	LogFormat      string   `env:"LOG_FORMAT"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:5173,http://localhost:8080"`
	AppBaseURL     string   `env:"APP_BASE_URL,default=http://localhost:8080"`
	FrontendURL    string   `env:"FRONTEND_URL,default=http://localhost:5173"`

	SessionTTL           time.Duration `env:"SESSION_TTL,default=720h"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL,default=1h"`

	IdentityProvider       string   `env:"IDENTITY_PROVIDER,default=google"`
	GoogleClientID         string   `env:"AUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret     string   `env:"AUTH_GOOGLE_CLIENT_SECRET"`
	GoogleAllowedDomains   []string `env:"AUTH_GOOGLE_ALLOWED_DOMAINS"`
	GoogleAllowedEmails    []string `env:"AUTH_GOOGLE_ALLOWED_EMAILS"`
	BrokerURL              string   `env:"AUTH_BROKER_URL"`
	BrokerClientID         string   `env:"AUTH_BROKER_CLIENT_ID"`
	BrokerClientSecret     string   `env:"AUTH_BROKER_CLIENT_SECRET"`
	BrokerJWTSecret        string   `env:"AUTH_BROKER_JWT_SECRET"`
	BrokerAudience         string   `env:"AUTH_BROKER_AUDIENCE,default=authenticated"`
	BrokerUpstreamProvider string   `env:"AUTH_BROKER_CONNECTION,default=google"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	StripePriceID       string `env:"STRIPE_PRICE_ID"`
	StripeAPIURL        string `env:"STRIPE_API_URL"`

	LLMAPIKey  string `env:"LLM_API_KEY"`
	LLMBaseURL string `env:"LLM_BASE_URL,default=https://openrouter.ai/api/v1"`
	LLMModel   string `env:"LLM_MODEL,default=deepseek/deepseek-r1-0528:free"`

	ProviderTimeout   time.Duration `env:"PROVIDER_TIMEOUT,default=10s"`
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT,default=60s"`

	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsEnabled bool   `env:"METRICS_ENABLED,default=true"`
}

// secretKeys are looked up in <KEY>_FILE or the default docker secret path when unset.
var secretKeys = map[string]string{
	"DATABASE_URL":              "/run/secrets/reelscript_database_url",
	"AUTH_GOOGLE_CLIENT_SECRET": "/run/secrets/reelscript_google_client_secret",
	"AUTH_BROKER_CLIENT_SECRET": "/run/secrets/reelscript_broker_client_secret",
	"AUTH_BROKER_JWT_SECRET":    "/run/secrets/reelscript_broker_jwt_secret",
	"STRIPE_SECRET_KEY":         "/run/secrets/reelscript_stripe_secret_key",
	"STRIPE_WEBHOOK_SECRET":     "/run/secrets/reelscript_stripe_webhook_secret",
	"LLM_API_KEY":               "/run/secrets/reelscript_llm_api_key",
}

// Load reads configuration from environment variables with sensible defaults for local development.
func Load(ctx context.Context) (Config, error) {
	lookuper := &secretLookuper{}

	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if lookuper.err != nil {
		return Config{}, lookuper.err
	}

	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.DataStore = strings.ToLower(strings.TrimSpace(cfg.DataStore))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.IdentityProvider = strings.ToLower(strings.TrimSpace(cfg.IdentityProvider))
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	cfg.GoogleAllowedDomains = trimAll(cfg.GoogleAllowedDomains)
	cfg.GoogleAllowedEmails = trimAll(cfg.GoogleAllowedEmails)
	cfg.AppBaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.AppBaseURL), "/")
	cfg.FrontendURL = strings.TrimSuffix(strings.TrimSpace(cfg.FrontendURL), "/")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.DataStore {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATA_STORE is postgres but DATABASE_URL is not set")
		}
	default:
		return fmt.Errorf("unsupported DATA_STORE %q", c.DataStore)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	switch c.IdentityProvider {
	case "google":
		if !c.IsDevelopment() {
			if c.GoogleClientID == "" {
				return fmt.Errorf("AUTH_GOOGLE_CLIENT_ID is required outside development")
			}
			if c.GoogleClientSecret == "" {
				return fmt.Errorf("AUTH_GOOGLE_CLIENT_SECRET is required outside development")
			}
		}
	case "broker":
		if !c.IsDevelopment() || c.BrokerURL != "" {
			if c.BrokerURL == "" {
				return fmt.Errorf("AUTH_BROKER_URL is required outside development")
			}
			if c.BrokerClientID == "" {
				return fmt.Errorf("AUTH_BROKER_CLIENT_ID is required when AUTH_BROKER_URL is set")
			}
			if c.BrokerJWTSecret == "" {
				return fmt.Errorf("AUTH_BROKER_JWT_SECRET is required when AUTH_BROKER_URL is set")
			}
		}
	default:
		return fmt.Errorf("unsupported IDENTITY_PROVIDER %q", c.IdentityProvider)
	}

	if c.StripeSecretKey != "" || !c.IsDevelopment() {
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required outside development")
		}
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when billing is enabled")
		}
		if c.StripePriceID == "" {
			return fmt.Errorf("STRIPE_PRICE_ID is required when billing is enabled")
		}
	}

	if !c.IsDevelopment() {
		if c.LLMAPIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required outside development")
		}
		for _, origin := range c.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf("wildcard ALLOWED_ORIGINS is not permitted outside development")
			}
		}
	}

	return nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// UseInMemoryStore returns true if the in-memory repositories should be used.
func (c Config) UseInMemoryStore() bool {
	return c.DataStore == "memory"
}

// IsDevelopment reports whether the service runs with development defaults.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// OAuthEnabled reports whether the selected identity provider has client credentials.
func (c Config) OAuthEnabled() bool {
	switch c.IdentityProvider {
	case "broker":
		return c.BrokerURL != "" && c.BrokerClientID != "" && c.BrokerJWTSecret != ""
	default:
		return c.GoogleClientID != "" && c.GoogleClientSecret != ""
	}
}

// BillingEnabled reports whether Stripe credentials are configured.
func (c Config) BillingEnabled() bool {
	return c.StripeSecretKey != "" && c.StripeWebhookSecret != "" && c.StripePriceID != ""
}

// GenerationEnabled reports whether an LLM key is configured.
func (c Config) GenerationEnabled() bool {
	return c.LLMAPIKey != ""
}

// OAuthCallbackURL is the redirect URI registered with the identity provider.
func (c Config) OAuthCallbackURL() string {
	return c.AppBaseURL + "/auth/callback"
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// secretLookuper resolves plain environment variables and falls back to secret files
// for credentials. Empty values count as unset.
type secretLookuper struct {
	err error
}

func (l *secretLookuper) Lookup(key string) (string, bool) {
	if value := os.Getenv(key); value != "" {
		return value, true
	}

	defaultPath, isSecret := secretKeys[key]
	if !isSecret {
		return "", false
	}

	fileKey := key + "_FILE"
	path := defaultPath
	name := key
	if p := os.Getenv(fileKey); p != "" {
		path = p
		name = fileKey
	}

	value, err := readSecret(path, name)
	if err != nil {
		if l.err == nil {
			l.err = err
		}
		return "", false
	}
	if value == "" {
		return "", false
	}
	return value, true
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
