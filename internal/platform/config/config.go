package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 75 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultShutdownTimeout    = 20 * time.Second
	defaultGatewayName        = "razorpay"
	defaultGatewayBaseURL     = "https://api.razorpay.com/v1"
	defaultCurrency           = "INR"
	defaultRemoteTimeout      = 8 * time.Second
	defaultBreakerFailures    = 5
	defaultBreakerCooldown    = 30 * time.Second
	defaultSessionCookie      = "storefront_session"
	defaultSessionIdle        = 2 * time.Hour
	defaultSessionLifetime    = 7 * 24 * time.Hour
	defaultWidgetScriptID     = "razorpay-checkout-js"
	defaultWidgetScriptURL    = "https://checkout.razorpay.com/v1/checkout.js"
	defaultCollectTimeout     = 15 * time.Minute
	defaultMerchantName       = "ElectroMart"
	defaultCheckoutPerMinute  = 6
	defaultFacadePerSecond    = 20
	defaultFacadeBurst        = 40
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultIdempotencyCleanup = time.Hour
	defaultIdempotencyBatch   = 200
	defaultEnvironment        = "local"
	defaultServiceAuthMode    = ServiceAuthOIDC
	defaultServiceJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
	minServiceHMACSecret      = 32
)

// Service-to-service authentication modes between the storefront and the facade.
const (
	ServiceAuthOIDC = "oidc"
	ServiceAuthHMAC = "hmac"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Gateway     GatewayConfig
	Stripe      StripeConfig
	Events      EventsConfig
	Facade      FacadeConfig
	Session     SessionConfig
	Checkout    CheckoutConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
	ServiceAuth ServiceAuthConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// GatewayConfig configures the hosted payment gateway (orders + signature verification).
type GatewayConfig struct {
	Name      string
	BaseURL   string
	KeyID     string
	KeySecret string
	Currency  string
	Timeout   time.Duration
}

// StripeConfig enables the card PSP for currencies routed to Stripe.
type StripeConfig struct {
	APIKey     string
	Currencies []string
}

// EventsConfig controls Pub/Sub publication of order events.
type EventsConfig struct {
	ProjectID   string
	OrdersTopic string
}

// FacadeConfig points the storefront at the document/payment facade.
type FacadeConfig struct {
	BaseURL         string
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// SessionConfig controls the signed session cookie.
type SessionConfig struct {
	CookieName   string
	HashKey      string
	BlockKey     string
	CookieSecure bool
	IdleTimeout  time.Duration
	Lifetime     time.Duration
}

// CheckoutConfig holds hosted widget and pipeline parameters.
type CheckoutConfig struct {
	WidgetScriptID  string
	WidgetScriptURL string
	CollectTimeout  time.Duration
	MerchantName    string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	CheckoutPerMinute int
	FacadePerSecond   int
	FacadeBurst       int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ServiceAuthConfig controls how the storefront proves itself to the facade. In oidc
// mode the storefront presents a Google-signed ID token for Audience and the facade
// accepts only AllowedEmails; in hmac mode both share HMACSecret.
type ServiceAuthConfig struct {
	Mode          string
	Audience      string
	Issuers       []string
	AllowedEmails []string
	JWKSURL       string
	HMACSecret    string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles configuration from defaults, .env overrides, environment variables,
// and optional secret manager lookups. Only fields shared by both binaries are validated
// here; ValidateAPI and ValidateStorefront cover the rest.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "STOREFRONT_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "STOREFRONT_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "STOREFRONT_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "STOREFRONT_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "STOREFRONT_FIRESTORE_EMULATOR_HOST", ""),
		},
		Gateway: GatewayConfig{
			Name:      strings.ToLower(stringWithDefault(lookup, "STOREFRONT_GATEWAY_NAME", defaultGatewayName)),
			BaseURL:   stringWithDefault(lookup, "STOREFRONT_GATEWAY_BASE_URL", defaultGatewayBaseURL),
			KeyID:     stringWithDefault(lookup, "STOREFRONT_GATEWAY_KEY_ID", ""),
			KeySecret: stringWithDefault(lookup, "STOREFRONT_GATEWAY_KEY_SECRET", ""),
			Currency:  strings.ToUpper(stringWithDefault(lookup, "STOREFRONT_GATEWAY_CURRENCY", defaultCurrency)),
			Timeout:   durationWithDefault(lookup, "STOREFRONT_GATEWAY_TIMEOUT", defaultRemoteTimeout),
		},
		Stripe: StripeConfig{
			APIKey:     stringWithDefault(lookup, "STOREFRONT_STRIPE_API_KEY", ""),
			Currencies: csvWithDefault(lookup, "STOREFRONT_STRIPE_CURRENCIES"),
		},
		Events: EventsConfig{
			ProjectID:   stringWithDefault(lookup, "STOREFRONT_EVENTS_PROJECT_ID", ""),
			OrdersTopic: stringWithDefault(lookup, "STOREFRONT_EVENTS_ORDERS_TOPIC", ""),
		},
		Facade: FacadeConfig{
			BaseURL:         strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_FACADE_BASE_URL", ""), "/"),
			Timeout:         durationWithDefault(lookup, "STOREFRONT_FACADE_TIMEOUT", defaultRemoteTimeout),
			BreakerFailures: intWithDefault(lookup, "STOREFRONT_FACADE_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerCooldown: durationWithDefault(lookup, "STOREFRONT_FACADE_BREAKER_COOLDOWN", defaultBreakerCooldown),
		},
		Session: SessionConfig{
			CookieName:   stringWithDefault(lookup, "STOREFRONT_SESSION_COOKIE", defaultSessionCookie),
			HashKey:      stringWithDefault(lookup, "STOREFRONT_SESSION_HASH_KEY", ""),
			BlockKey:     stringWithDefault(lookup, "STOREFRONT_SESSION_BLOCK_KEY", ""),
			CookieSecure: boolWithDefault(lookup, "STOREFRONT_SESSION_SECURE", true),
			IdleTimeout:  durationWithDefault(lookup, "STOREFRONT_SESSION_IDLE_TIMEOUT", defaultSessionIdle),
			Lifetime:     durationWithDefault(lookup, "STOREFRONT_SESSION_LIFETIME", defaultSessionLifetime),
		},
		Checkout: CheckoutConfig{
			WidgetScriptID:  stringWithDefault(lookup, "STOREFRONT_CHECKOUT_WIDGET_ID", defaultWidgetScriptID),
			WidgetScriptURL: stringWithDefault(lookup, "STOREFRONT_CHECKOUT_WIDGET_URL", defaultWidgetScriptURL),
			CollectTimeout:  durationWithDefault(lookup, "STOREFRONT_CHECKOUT_COLLECT_TIMEOUT", defaultCollectTimeout),
			MerchantName:    stringWithDefault(lookup, "STOREFRONT_CHECKOUT_MERCHANT_NAME", defaultMerchantName),
		},
		RateLimits: RateLimitConfig{
			CheckoutPerMinute: intWithDefault(lookup, "STOREFRONT_RATELIMIT_CHECKOUT_PER_MIN", defaultCheckoutPerMinute),
			FacadePerSecond:   intWithDefault(lookup, "STOREFRONT_RATELIMIT_FACADE_PER_SEC", defaultFacadePerSecond),
			FacadeBurst:       intWithDefault(lookup, "STOREFRONT_RATELIMIT_FACADE_BURST", defaultFacadeBurst),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyCleanup),
			CleanupBatchSize: intWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
		ServiceAuth: ServiceAuthConfig{
			Mode:          strings.ToLower(stringWithDefault(lookup, "STOREFRONT_SERVICE_AUTH_MODE", defaultServiceAuthMode)),
			Audience:      stringWithDefault(lookup, "STOREFRONT_SERVICE_AUTH_AUDIENCE", ""),
			Issuers:       csvWithDefault(lookup, "STOREFRONT_SERVICE_AUTH_ISSUERS"),
			AllowedEmails: csvWithDefault(lookup, "STOREFRONT_SERVICE_AUTH_ALLOWED_EMAILS"),
			JWKSURL:       stringWithDefault(lookup, "STOREFRONT_SERVICE_AUTH_JWKS_URL", defaultServiceJWKSURL),
			HMACSecret:    stringWithDefault(lookup, "STOREFRONT_SERVICE_AUTH_HMAC_SECRET", ""),
		},
	}
	if len(cfg.ServiceAuth.Issuers) == 0 {
		cfg.ServiceAuth.Issuers = []string{"accounts.google.com", "https://accounts.google.com"}
	}

	// Firestore and Pub/Sub default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firebase.ProjectID
	}

	secretFields := []*string{
		&cfg.Gateway.KeySecret,
		&cfg.Stripe.APIKey,
		&cfg.Session.HashKey,
		&cfg.Session.BlockKey,
		&cfg.ServiceAuth.HMACSecret,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	var missing []string
	if strings.TrimSpace(cfg.Server.Port) == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		missing = append(missing, "Server.ShutdownTimeout")
	}
	if len(missing) > 0 {
		return Config{}, &ValidationError{fields: missing}
	}
	return cfg, nil
}

// ValidateAPI checks the fields required by the facade binary.
func (c Config) ValidateAPI() error {
	var missing []string
	if c.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if c.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if c.Gateway.KeyID == "" {
		missing = append(missing, "Gateway.KeyID")
	}
	if c.Gateway.KeySecret == "" {
		missing = append(missing, "Gateway.KeySecret")
	}
	if strings.TrimSpace(c.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if c.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if c.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	missing = append(missing, c.ServiceAuth.missing(true)...)
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

// ValidateStorefront checks the fields required by the storefront binary.
func (c Config) ValidateStorefront() error {
	var missing []string
	if c.Facade.BaseURL == "" {
		missing = append(missing, "Facade.BaseURL")
	}
	if c.Facade.Timeout <= 0 {
		missing = append(missing, "Facade.Timeout")
	}
	if c.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if len(c.Session.HashKey) < 32 {
		missing = append(missing, "Session.HashKey")
	}
	if n := len(c.Session.BlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		missing = append(missing, "Session.BlockKey")
	}
	if c.Gateway.KeyID == "" {
		missing = append(missing, "Gateway.KeyID")
	}
	if c.Checkout.CollectTimeout <= 0 {
		missing = append(missing, "Checkout.CollectTimeout")
	}
	missing = append(missing, c.ServiceAuth.missing(false)...)
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

// missing lists the service auth fields a binary needs. The facade additionally needs
// the caller allowlist in oidc mode.
func (c ServiceAuthConfig) missing(verifier bool) []string {
	var fields []string
	switch c.Mode {
	case ServiceAuthOIDC:
		if c.Audience == "" {
			fields = append(fields, "ServiceAuth.Audience")
		}
		if verifier && len(c.AllowedEmails) == 0 {
			fields = append(fields, "ServiceAuth.AllowedEmails")
		}
		if verifier && c.JWKSURL == "" {
			fields = append(fields, "ServiceAuth.JWKSURL")
		}
	case ServiceAuthHMAC:
		if len(c.HMACSecret) < minServiceHMACSecret {
			fields = append(fields, "ServiceAuth.HMACSecret")
		}
	default:
		fields = append(fields, "ServiceAuth.Mode")
	}
	return fields
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
