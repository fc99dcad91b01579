package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"

	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

var (
	// ErrServiceUnauthenticated signals a missing or rejected internal caller credential.
	ErrServiceUnauthenticated = errors.New("auth: service caller not authenticated")
	// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the JWKS document.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing JWKS.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const (
	defaultJWKSRefreshInterval = 15 * time.Minute
	defaultJWKSRefreshTimeout  = 5 * time.Second
)

// ServiceIdentity describes the internal caller that passed verification.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
	Method  string
}

type serviceIdentityKey struct{}

// WithServiceIdentity stores identity on ctx.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityKey{}, identity)
}

// ServiceIdentityFromContext returns the caller stored by RequireService.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// RequestVerifier authenticates an internal caller from its request.
type RequestVerifier interface {
	VerifyRequest(r *http.Request) (*ServiceIdentity, error)
}

// RequireService rejects requests whose caller credential does not verify. Rejected
// callers get 401; a verifier that cannot reach its key material yields 503.
func RequireService(verifier RequestVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if verifier == nil {
				httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "service authentication not configured", http.StatusServiceUnavailable))
				return
			}
			identity, err := verifier.VerifyRequest(r)
			if err != nil {
				requestctx.Logger(ctx).Warn("service caller rejected", zap.Error(err))
				if errors.Is(err, ErrJWKSFetchFailed) || errors.Is(err, ErrVerificationUnavailable) {
					httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "service credential cannot be checked", http.StatusServiceUnavailable))
					return
				}
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "service credential missing or invalid", http.StatusUnauthorized))
				return
			}
			requestctx.Annotate(ctx, "caller", identity.Email)
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

// JWKSCache fetches and caches the JSON Web Keys that sign service ID tokens.
type JWKSCache struct {
	url      string
	client   *http.Client
	now      func() time.Time
	interval time.Duration

	mu     sync.RWMutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time

	refreshMu sync.Mutex
}

// JWKSOption customises JWKSCache behaviour.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient overrides the HTTP client used to fetch the key set.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSClock injects a time source.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWKSCache constructs a cache for the key set at url.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:      strings.TrimSpace(url),
		client:   &http.Client{Timeout: defaultJWKSRefreshTimeout},
		now:      time.Now,
		interval: defaultJWKSRefreshInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Key resolves the public key for kid. An unknown kid forces one refresh so rotated
// keys are picked up before their cache entry expires.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if c.stale() {
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
	}
	if key, ok := c.cached(kid); ok {
		return key, nil
	}
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.cached(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

func (c *JWKSCache) cached(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	jwk, ok := c.keys[kid]
	if !ok {
		return nil, false
	}
	return jwk.Key, true
}

func (c *JWKSCache) stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys) == 0 || !c.now().Before(c.expiry)
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultJWKSRefreshTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID == "" || !jwk.Valid() {
			continue
		}
		keys[jwk.KeyID] = jwk
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := c.interval
	if maxAge := maxAgeFrom(resp.Header.Get("Cache-Control")); maxAge > 0 {
		validity = maxAge
	}
	c.mu.Lock()
	c.keys = keys
	c.expiry = c.now().Add(validity)
	c.mu.Unlock()
	return nil
}

func maxAgeFrom(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if value, ok := strings.CutPrefix(part, "max-age="); ok {
			if d, err := time.ParseDuration(value + "s"); err == nil && d > 0 {
				return d
			}
		}
	}
	return 0
}

// OIDCVerifier accepts Google-signed ID tokens minted for the facade audience by an
// allowlisted service account.
type OIDCVerifier struct {
	cache    *JWKSCache
	audience string
	issuers  map[string]struct{}
	emails   map[string]struct{}
}

// NewOIDCVerifier constructs an OIDCVerifier. Issuers and emails are matched exactly;
// an empty email allowlist rejects every caller.
func NewOIDCVerifier(cache *JWKSCache, audience string, issuers, allowedEmails []string) (*OIDCVerifier, error) {
	if cache == nil {
		return nil, errors.New("auth: jwks cache is required")
	}
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return nil, errors.New("auth: oidc audience is required")
	}
	return &OIDCVerifier{
		cache:    cache,
		audience: audience,
		issuers:  toSet(issuers, false),
		emails:   toSet(allowedEmails, true),
	}, nil
}

// VerifyRequest implements RequestVerifier using the Authorization bearer token.
func (v *OIDCVerifier) VerifyRequest(r *http.Request) (*ServiceIdentity, error) {
	token, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, fmt.Errorf("%w: bearer token missing", ErrServiceUnauthenticated)
	}
	return v.Verify(r.Context(), token)
}

// Verify checks signature, expiry, issuer, audience and caller email of raw.
func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (*ServiceIdentity, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, v.cache.keyfunc(ctx)); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceUnauthenticated, err)
	}

	issuer, _ := claims["iss"].(string)
	if _, ok := v.issuers[issuer]; len(v.issuers) > 0 && !ok {
		return nil, fmt.Errorf("%w: issuer %q not accepted", ErrServiceUnauthenticated, issuer)
	}
	if !claims.VerifyAudience(v.audience, true) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrServiceUnauthenticated)
	}
	email, _ := claims["email"].(string)
	email = strings.ToLower(strings.TrimSpace(email))
	if verified, present := claims["email_verified"].(bool); present && !verified {
		return nil, fmt.Errorf("%w: email not verified", ErrServiceUnauthenticated)
	}
	if _, ok := v.emails[email]; !ok {
		return nil, fmt.Errorf("%w: caller %q not allowed", ErrServiceUnauthenticated, email)
	}
	subject, _ := claims["sub"].(string)
	return &ServiceIdentity{Subject: subject, Email: email, Issuer: issuer, Method: "oidc"}, nil
}

func toSet(values []string, fold bool) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if fold {
			value = strings.ToLower(value)
		}
		if value != "" {
			out[value] = struct{}{}
		}
	}
	return out
}

// IDTokenAuthorizer attaches a Google-signed ID token for audience to outbound requests.
type IDTokenAuthorizer struct {
	source oauth2.TokenSource
}

// NewIDTokenAuthorizer mints ID tokens from the ambient service account credentials.
func NewIDTokenAuthorizer(ctx context.Context, audience string) (*IDTokenAuthorizer, error) {
	source, err := idtoken.NewTokenSource(ctx, strings.TrimSpace(audience))
	if err != nil {
		return nil, fmt.Errorf("auth: id token source: %w", err)
	}
	return NewTokenSourceAuthorizer(source), nil
}

// NewTokenSourceAuthorizer wraps an existing token source.
func NewTokenSourceAuthorizer(source oauth2.TokenSource) *IDTokenAuthorizer {
	return &IDTokenAuthorizer{source: oauth2.ReuseTokenSource(nil, source)}
}

// Authorize sets the Authorization header on req.
func (a *IDTokenAuthorizer) Authorize(req *http.Request, _ []byte) error {
	token, err := a.source.Token()
	if err != nil {
		return fmt.Errorf("auth: mint id token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	return nil
}
