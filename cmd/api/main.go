package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/storefront/internal/documents"
	"github.com/hanko-field/storefront/internal/handlers"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/config"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/platform/idempotency"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/platform/secrets"
)

const serviceName = "storefront-api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	resolver, err := newSecretResolver(ctx)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	loadOpts := []config.Option{}
	if resolver != nil {
		defer func() {
			if err := resolver.Close(); err != nil {
				logger.Warn("secret resolver close error", zap.Error(err))
			}
		}()
		loadOpts = append(loadOpts, config.WithSecretResolver(resolver))
	}

	cfg, err := config.Load(ctx, loadOpts...)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if err := cfg.ValidateAPI(); err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	store := documents.NewAllowlist(documents.NewFirestoreStore(firestoreProvider))

	paymentManager, err := newPaymentManager(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise payment providers", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Service:   serviceName,
			Version:   buildVersion(),
			StartedAt: startedAt,
		}),
		handlers.WithReadinessCheck("firestore", firestoreProvider.Ping),
	)

	serviceVerifier, err := newServiceVerifier(cfg.ServiceAuth)
	if err != nil {
		logger.Fatal("failed to initialise service authentication", zap.Error(err))
	}
	requireService := auth.RequireService(serviceVerifier)

	documentHandlers := handlers.NewDocumentHandlers(store)
	paymentHandlers := handlers.NewPaymentHandlers(paymentManager,
		handlers.WithDefaultCurrency(cfg.Gateway.Currency),
		handlers.WithCreateOrderMiddleware(idempotencyMiddleware),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
			handlers.RateLimitByIP(float64(cfg.RateLimits.FacadePerSecond), cfg.RateLimits.FacadeBurst),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithRoutes("/api/firebase", documentHandlers.Routes, requireService),
		handlers.WithRoutes("/api/payment", paymentHandlers.Routes, requireService),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening", zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newServiceVerifier selects how internal callers of the facade prove who they are.
func newServiceVerifier(cfg config.ServiceAuthConfig) (auth.RequestVerifier, error) {
	switch cfg.Mode {
	case config.ServiceAuthHMAC:
		return auth.NewHMACVerifier(cfg.HMACSecret, auth.NewMemoryNonceStore())
	case config.ServiceAuthOIDC:
		return auth.NewOIDCVerifier(auth.NewJWKSCache(cfg.JWKSURL), cfg.Audience, cfg.Issuers, cfg.AllowedEmails)
	default:
		return nil, fmt.Errorf("unsupported service auth mode %q", cfg.Mode)
	}
}

// newPaymentManager registers the hosted gateway as the default provider and routes
// configured currencies to Stripe when a key is present.
func newPaymentManager(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	events := observability.NewEventLogger(logger.Named("payments"))

	gateway, err := payments.NewGatewayProvider(payments.GatewayConfig{
		BaseURL:   cfg.Gateway.BaseURL,
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
		Timeout:   cfg.Gateway.Timeout,
		Logger:    events,
	})
	if err != nil {
		return nil, err
	}
	providers := map[string]payments.Provider{cfg.Gateway.Name: gateway}

	routes := map[string]string{}
	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.Stripe.APIKey,
			Logger: payments.StripeLogger(events),
		})
		if err != nil {
			return nil, err
		}
		providers["stripe"] = stripeProvider
		for _, currency := range cfg.Stripe.Currencies {
			routes[currency] = "stripe"
		}
	} else if len(cfg.Stripe.Currencies) > 0 {
		logger.Warn("stripe currencies configured without an api key; routing them to the gateway",
			zap.Strings("currencies", cfg.Stripe.Currencies))
	}

	return payments.NewManager(providers,
		payments.WithDefaultProvider(cfg.Gateway.Name),
		payments.WithCurrencyRoutes(routes),
	)
}

// newSecretResolver dials Secret Manager when a project is known. Without one, secret
// references in the environment fail config loading.
func newSecretResolver(ctx context.Context) (*secrets.Resolver, error) {
	project := strings.TrimSpace(os.Getenv("STOREFRONT_SECRET_PROJECT_ID"))
	if project == "" {
		project = strings.TrimSpace(os.Getenv("STOREFRONT_FIREBASE_PROJECT_ID"))
	}
	if project == "" {
		return nil, nil
	}
	var opts []option.ClientOption
	if file := strings.TrimSpace(os.Getenv("STOREFRONT_FIREBASE_CREDENTIALS_FILE")); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	return secrets.NewResolver(ctx, project, opts...)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func buildVersion() string {
	if v := strings.TrimSpace(os.Getenv("STOREFRONT_BUILD_VERSION")); v != "" {
		return v
	}
	return "dev"
}
