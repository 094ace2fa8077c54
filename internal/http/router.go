package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"reelscript/internal/auth"
	"reelscript/internal/billing"
	"reelscript/internal/config"
	"reelscript/internal/metrics"
	"reelscript/internal/platform/telemetry"
)

// Dependencies are the services the router exposes. Optional fields may be nil.
type Dependencies struct {
	Config        config.Config
	Auth          *auth.Service
	Authenticator auth.Authenticator
	Billing       *billing.Reconciler
	Generator     ScriptGenerator
	Quota         *GenerationQuota
	Metrics       metrics.Recorder
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	Telemetry      *telemetry.Provider
	Logger         *slog.Logger
}

// NewRouter wires application routes and middleware using chi.
func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	secureCookies := !cfg.IsDevelopment()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(newSlogMiddleware(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		identity := "disabled"
		if deps.Authenticator != nil {
			identity = string(deps.Authenticator.Kind())
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
			"providers": map[string]any{
				"identity":   identity,
				"billing":    cfg.BillingEnabled(),
				"generation": deps.Generator != nil,
			},
		})
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	oauthHandler := NewOAuthHandler(deps.Authenticator, deps.Auth, recorder, cfg.FrontendURL, secureCookies, logger)
	authHandler := NewAuthHandler(deps.Auth, deps.Billing, secureCookies, logger)
	subscriptionHandler := NewSubscriptionHandler(deps.Billing, recorder, logger)
	webhookHandler := NewWebhookHandler(deps.Billing, recorder, logger)
	generateHandler := NewGenerateHandler(deps.Generator, deps.Billing, deps.Quota, recorder, logger)
	gate := newSessionGate(deps.Auth, cookieFactory{secure: secureCookies}, logger)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(httprate.LimitByIP(30, time.Minute))
				r.Get("/provider-redirect", oauthHandler.ProviderRedirect)
				r.Get("/callback", oauthHandler.Callback)
				r.Post("/session", oauthHandler.Session)
			})

			r.Group(func(r chi.Router) {
				r.Use(gate)
				r.Post("/logout", authHandler.Logout)
				r.Get("/me", authHandler.Me)
			})
		})

		r.Route("/subscription", func(r chi.Router) {
			r.Use(gate)
			r.Post("/create-checkout", subscriptionHandler.CreateCheckout)
			r.Post("/verify-session", subscriptionHandler.VerifySession)
			r.Post("/check", subscriptionHandler.Check)
			r.Post("/customer-portal", subscriptionHandler.CustomerPortal)
		})

		r.With(httprate.LimitByIP(120, time.Minute)).Post("/webhook/billing", webhookHandler.Billing)
	})

	r.Group(func(r chi.Router) {
		timeout := cfg.GenerationTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		r.Use(middleware.Timeout(timeout + 5*time.Second))
		r.Use(gate)
		r.Post("/generate", generateHandler.Generate)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, kindNotFound, "not found")
	})

	if deps.Telemetry != nil && deps.Telemetry.Enabled() {
		return deps.Telemetry.Middleware(r)
	}
	return r
}
