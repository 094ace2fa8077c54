package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"reelscript/internal/auth"
	"reelscript/internal/billing"
	"reelscript/internal/config"
	transporthttp "reelscript/internal/http"
	"reelscript/internal/metrics"
	"reelscript/internal/platform/database"
	"reelscript/internal/platform/logging"
	"reelscript/internal/platform/migrate"
	"reelscript/internal/platform/telemetry"
	"reelscript/internal/script"
)

const serviceName = "reelscript-api"

type stores struct {
	auth          auth.Repository
	subscriptions billing.Repository
	db            *sqlx.DB
}

func (s stores) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func loadConfig(ctx context.Context) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.New(cfg.LogLevel, logging.DefaultFormat(cfg.LogFormat, cfg.IsDevelopment()))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func buildStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	if cfg.UseInMemoryStore() {
		logger.Info("using in-memory repositories")
		return stores{auth: auth.NewInMemoryRepository(), subscriptions: billing.NewInMemoryRepository()}, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return stores{}, err
	}
	if err := migrate.Apply(ctx, db, logger); err != nil {
		_ = db.Close()
		return stores{}, err
	}

	logger.Info("connected to postgres")
	return stores{
		auth:          auth.NewPostgresRepository(db),
		subscriptions: billing.NewPostgresRepository(db),
		db:            db,
	}, nil
}

func runServe(ctx context.Context) error {
	cfg, logger, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	tel, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	st, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize repositories: %w", err)
	}
	defer st.Close()

	outbound := &http.Client{Timeout: cfg.ProviderTimeout, Transport: tel.Transport(nil)}

	authService := auth.NewService(st.auth, cfg.SessionTTL,
		auth.WithAllowList(auth.NewAllowList(cfg.GoogleAllowedDomains, cfg.GoogleAllowedEmails)))

	var authenticator auth.Authenticator
	if cfg.OAuthEnabled() {
		authenticator, err = buildAuthenticator(ctx, cfg, outbound)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("identity provider not configured; sign-in disabled")
	}

	var provider billing.Provider
	if cfg.BillingEnabled() {
		stripeProvider, err := billing.NewStripeProvider(billing.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			PriceID:       cfg.StripePriceID,
			APIURL:        cfg.StripeAPIURL,
			HTTPClient:    outbound,
			Timeout:       cfg.ProviderTimeout,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		provider = stripeProvider
	} else {
		logger.Warn("billing not configured; subscription endpoints answer 503")
	}

	frontend := strings.TrimSuffix(cfg.FrontendURL, "/")
	reconciler := billing.NewReconciler(st.subscriptions, provider, billing.RedirectURLs{
		Success:      frontend + "/?success=true&session_id={CHECKOUT_SESSION_ID}",
		Cancel:       frontend + "/?canceled=true",
		PortalReturn: frontend + "/",
	}, logger)

	var generator transporthttp.ScriptGenerator
	if cfg.GenerationEnabled() {
		gen, err := script.NewGenerator(script.GeneratorConfig{
			APIKey:     cfg.LLMAPIKey,
			BaseURL:    cfg.LLMBaseURL,
			Model:      cfg.LLMModel,
			AppURL:     cfg.FrontendURL,
			AppTitle:   "Reel Script Generator",
			HTTPClient: &http.Client{Transport: tel.Transport(nil)},
			Timeout:    cfg.GenerationTimeout,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		generator = gen
	} else {
		logger.Warn("LLM not configured; /generate answers 503")
	}

	var recorder metrics.Recorder = metrics.Nop{}
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder = metrics.NewCollector(registry)
		metricsHandler = metrics.Handler(registry)
	}

	quota := transporthttp.NewGenerationQuota(transporthttp.DefaultQuotaConfig(), logger)
	defer quota.Stop()

	sweeper := auth.NewSweeper(authService, cfg.SessionSweepInterval, logger, recorder.RecordSessionsSwept)
	go sweeper.Run(ctx)

	router := transporthttp.NewRouter(transporthttp.Dependencies{
		Config:         cfg,
		Auth:           authService,
		Authenticator:  authenticator,
		Billing:        reconciler,
		Generator:      generator,
		Quota:          quota,
		Metrics:        recorder,
		MetricsHandler: metricsHandler,
		Telemetry:      tel,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Generation can take up to the LLM timeout.
		WriteTimeout:   cfg.GenerationTimeout + 15*time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: http.DefaultMaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("reelscript API listening",
			"addr", srv.Addr,
			"store", cfg.DataStore,
			"identity_provider", cfg.IdentityProvider,
			"billing", cfg.BillingEnabled(),
			"generation", cfg.GenerationEnabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	return nil
}

func buildAuthenticator(ctx context.Context, cfg config.Config, client *http.Client) (auth.Authenticator, error) {
	kind, err := auth.ParseProviderKind(cfg.IdentityProvider)
	if err != nil {
		return nil, err
	}
	settings := auth.ProviderSettings{
		Kind:        kind,
		RedirectURL: cfg.OAuthCallbackURL(),
		HTTPClient:  client,
		Timeout:     cfg.ProviderTimeout,
	}
	switch kind {
	case auth.ProviderBroker:
		settings.ClientID = cfg.BrokerClientID
		settings.ClientSecret = cfg.BrokerClientSecret
		settings.BrokerURL = cfg.BrokerURL
		settings.JWTSecret = cfg.BrokerJWTSecret
		settings.Audience = cfg.BrokerAudience
		settings.Connection = cfg.BrokerUpstreamProvider
	default:
		settings.ClientID = cfg.GoogleClientID
		settings.ClientSecret = cfg.GoogleClientSecret
	}
	return auth.NewAuthenticator(ctx, settings)
}

func runMigrate(ctx context.Context, statusOnly bool) error {
	cfg, logger, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.UseInMemoryStore() {
		return errors.New("migrate requires DATA_STORE=postgres")
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if !statusOnly {
		if err := migrate.Apply(ctx, db, logger); err != nil {
			return err
		}
	}
	version, err := migrate.Version(ctx, db, logger)
	if err != nil {
		return err
	}
	logger.Info("schema version", "version", version)
	return nil
}

func runPruneSessions(ctx context.Context) error {
	cfg, logger, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.UseInMemoryStore() {
		return errors.New("sessions prune requires DATA_STORE=postgres")
	}

	st, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	service := auth.NewService(st.auth, cfg.SessionTTL)
	removed, err := service.CleanupExpiredSessions(ctx)
	if err != nil {
		return err
	}
	logger.Info("expired sessions pruned", "count", removed)
	return nil
}
