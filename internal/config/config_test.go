package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setProductionEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATA_STORE", "memory")
	t.Setenv("PORT", "8080")
	t.Setenv("IDENTITY_PROVIDER", "google")
	t.Setenv("AUTH_GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("AUTH_GOOGLE_CLIENT_SECRET", "client-secret")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("STRIPE_PRICE_ID", "price_123")
	t.Setenv("LLM_API_KEY", "llm-key")
	t.Setenv("ALLOWED_ORIGINS", "https://example.com")
	t.Setenv("DATABASE_URL", "")
}

func TestLoadDefaultsInDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATA_STORE", "")
	t.Setenv("AUTH_GOOGLE_CLIENT_ID", "")
	t.Setenv("AUTH_GOOGLE_CLIENT_SECRET", "")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("SESSION_TTL", "")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if !cfg.UseInMemoryStore() {
		t.Fatalf("expected memory store by default, got %q", cfg.DataStore)
	}
	if cfg.SessionTTL != 30*24*time.Hour {
		t.Fatalf("expected 30 day session TTL, got %s", cfg.SessionTTL)
	}
	if cfg.OAuthEnabled() {
		t.Fatal("expected OAuth to be disabled without credentials")
	}
	if cfg.BillingEnabled() {
		t.Fatal("expected billing to be disabled without credentials")
	}
}

func TestLoadRequiresOAuthOutsideDevelopment(t *testing.T) {
	setProductionEnv(t)
	t.Setenv("AUTH_GOOGLE_CLIENT_ID", "")

	_, err := Load(context.Background())
	if err == nil {
		t.Fatal("expected error when OAuth config missing outside development")
	}
	if !strings.Contains(err.Error(), "AUTH_GOOGLE_CLIENT_ID is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRequiresWebhookSecretWhenBillingEnabled(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET_FILE", filepath.Join(t.TempDir(), "missing"))
	t.Setenv("STRIPE_PRICE_ID", "price_123")

	_, err := Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "STRIPE_WEBHOOK_SECRET is required") {
		t.Fatalf("expected webhook secret error, got %v", err)
	}
}

func TestLoadAcceptsProductionConfig(t *testing.T) {
	setProductionEnv(t)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if !cfg.OAuthEnabled() || !cfg.BillingEnabled() || !cfg.GenerationEnabled() {
		t.Fatalf("expected all providers enabled, got %+v", cfg)
	}
	if cfg.HTTPAddress() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.HTTPAddress())
	}
}

func TestLoadRejectsWildcardOriginsOutsideDevelopment(t *testing.T) {
	setProductionEnv(t)
	t.Setenv("ALLOWED_ORIGINS", "https://example.com,*")

	_, err := Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "wildcard") {
		t.Fatalf("expected wildcard origin error, got %v", err)
	}
}

func TestLoadRejectsUnknownIdentityProvider(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("IDENTITY_PROVIDER", "saml")

	_, err := Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "IDENTITY_PROVIDER") {
		t.Fatalf("expected identity provider error, got %v", err)
	}
}

func TestLoadBrokerRequiresJWTSecret(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("IDENTITY_PROVIDER", "broker")
	t.Setenv("AUTH_BROKER_URL", "https://auth.example.com")
	t.Setenv("AUTH_BROKER_CLIENT_ID", "client")
	t.Setenv("AUTH_BROKER_JWT_SECRET", "")
	t.Setenv("AUTH_BROKER_JWT_SECRET_FILE", filepath.Join(t.TempDir(), "missing"))

	_, err := Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "AUTH_BROKER_JWT_SECRET") {
		t.Fatalf("expected broker secret error, got %v", err)
	}
}

func TestLoadReadsSecretFromFile(t *testing.T) {
	setProductionEnv(t)
	path := filepath.Join(t.TempDir(), "stripe_key")
	if err := os.WriteFile(path, []byte("sk_from_file\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_SECRET_KEY_FILE", path)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.StripeSecretKey != "sk_from_file" {
		t.Fatalf("expected secret from file, got %q", cfg.StripeSecretKey)
	}
}

func TestLoadRejectsEmptySecretFile(t *testing.T) {
	setProductionEnv(t)
	path := filepath.Join(t.TempDir(), "llm_key")
	if err := os.WriteFile(path, []byte("   \n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("LLM_API_KEY_FILE", path)

	_, err := Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "is empty") {
		t.Fatalf("expected empty secret error, got %v", err)
	}
}

func TestLoadPostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATA_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_URL_FILE", filepath.Join(t.TempDir(), "missing"))

	_, err := Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected database url error, got %v", err)
	}
}
