package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/catalog"
	"github.com/hanko-field/storefront/internal/checkout"
	"github.com/hanko-field/storefront/internal/facade"
	"github.com/hanko-field/storefront/internal/handlers"
	"github.com/hanko-field/storefront/internal/orders"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/platform/secrets"
	"github.com/hanko-field/storefront/internal/session"
)

const (
	serviceName        = "storefront"
	widgetCheckTimeout = 5 * time.Second
)

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

	logger := baseLogger.Named("storefront")
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
	if err := cfg.ValidateStorefront(); err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	events := observability.NewEventLogger(logger)

	facadeAuth, err := newFacadeAuthorizer(ctx, cfg.ServiceAuth)
	if err != nil {
		logger.Fatal("failed to initialise facade credentials", zap.Error(err))
	}

	breakerLogger := logger.Named("facade")
	facadeClient, err := facade.NewClient(cfg.Facade.BaseURL,
		facade.WithAuthorizer(facadeAuth),
		facade.WithTimeout(cfg.Facade.Timeout),
		facade.WithBreaker(cfg.Facade.BreakerFailures, cfg.Facade.BreakerCooldown),
		facade.WithBreakerStateHook(func(from, to string) {
			breakerLogger.Warn("facade breaker state changed", zap.String("from", from), zap.String("to", to))
		}),
	)
	if err != nil {
		logger.Fatal("failed to initialise facade client", zap.Error(err))
	}

	publisher, closePublisher, err := newOrderPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	defer closePublisher()

	catalogService, err := catalog.NewService(catalog.Deps{
		Documents: facadeClient,
		Logger:    events,
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	cartStore := cart.NewStore()
	cartService, err := cart.NewService(cart.Deps{
		Store:    cartStore,
		Products: catalogService,
		Logger:   events,
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	orderService, err := orders.NewService(orders.Deps{
		Documents: facadeClient,
		Events:    publisher,
		Logger:    events,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	widget := checkout.NewWidgetLoader(checkout.WidgetScript{
		ID:  cfg.Checkout.WidgetScriptID,
		URL: cfg.Checkout.WidgetScriptURL,
	}, checkout.HTTPScriptCheck(&http.Client{Timeout: widgetCheckTimeout}))
	bridge := checkout.NewBridge()
	checkoutService, err := checkout.NewService(checkout.Deps{
		Carts:          cartStore,
		Widget:         widget,
		Payments:       facadeClient,
		Collector:      bridge,
		Orders:         facadeClient,
		Events:         publisher,
		KeyID:          cfg.Gateway.KeyID,
		MerchantName:   cfg.Checkout.MerchantName,
		Currency:       cfg.Gateway.Currency,
		CallTimeout:    cfg.Facade.Timeout,
		CollectTimeout: cfg.Checkout.CollectTimeout,
		Logger:         events,
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	runCtx, runCancel := context.WithCancel(observability.WithLogger(context.Background(), logger.Named("checkout")))
	defer runCancel()
	runner := checkout.NewRunner(runCtx, checkoutService)

	sessions, err := session.NewManager(session.Config{
		CookieName:   cfg.Session.CookieName,
		HashKey:      []byte(cfg.Session.HashKey),
		BlockKey:     []byte(cfg.Session.BlockKey),
		CookieSecure: cfg.Session.CookieSecure,
		IdleTimeout:  cfg.Session.IdleTimeout,
		Lifetime:     cfg.Session.Lifetime,
	})
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)
	profiles := session.NewProfileLoader(facadeClient, session.WithProfileLogger(events))

	front := handlers.Storefront{
		Sessions: sessions,
		Session:  handlers.NewSessionHandlers(authenticator, profiles, cartStore),
		Catalog:  handlers.NewCatalogHandlers(catalogService),
		Cart:     handlers.NewCartHandlers(cartService, cfg.Gateway.Currency),
		Checkout: handlers.NewCheckoutHandlers(runner, bridge,
			handlers.WithCheckoutRateLimit(cfg.RateLimits.CheckoutPerMinute),
		),
		Orders: handlers.NewOrderHandlers(orderService),
		Admin:  handlers.NewAdminHandlers(catalogService, orderService, firebaseVerifier, profiles),
	}

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Service:   serviceName,
			Version:   buildVersion(),
			StartedAt: startedAt,
		}),
		handlers.WithReadinessCheck("facade", func(ctx context.Context) error {
			var products []map[string]any
			return facadeClient.ListDocuments(ctx, "products", url.Values{"limit": {"1"}}, &products)
		}),
		handlers.WithReadinessCheck("checkoutWidget", widget.Ensure),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.TraceMiddleware(cfg.Firebase.ProjectID),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(health),
	}
	router := handlers.NewRouter(append(opts, front.Options()...)...)

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
		serverLogger.Info("storefront listening", zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	// Pending checkouts are abandoned once requests have drained.
	runCancel()
}

// newFacadeAuthorizer picks the credential the facade expects from this service.
func newFacadeAuthorizer(ctx context.Context, cfg config.ServiceAuthConfig) (facade.Authorizer, error) {
	switch cfg.Mode {
	case config.ServiceAuthHMAC:
		return auth.NewHMACSigner(cfg.HMACSecret)
	case config.ServiceAuthOIDC:
		return auth.NewIDTokenAuthorizer(ctx, cfg.Audience)
	default:
		return nil, fmt.Errorf("unsupported service auth mode %q", cfg.Mode)
	}
}

// newOrderPublisher returns a Pub/Sub publisher when an orders topic is configured and a
// no-op publisher otherwise. The returned func flushes and closes the client.
func newOrderPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (orders.Publisher, func(), error) {
	topicName := strings.TrimSpace(cfg.Events.OrdersTopic)
	if topicName == "" {
		logger.Info("order events disabled; no topic configured")
		return orders.NopPublisher{}, func() {}, nil
	}
	var opts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	publisher, err := orders.NewPubSubPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closeFn := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return publisher, closeFn, nil
}

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

func buildVersion() string {
	if v := strings.TrimSpace(os.Getenv("STOREFRONT_BUILD_VERSION")); v != "" {
		return v
	}
	return "dev"
}
