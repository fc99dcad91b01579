package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
)

const (
	testAudience = "https://facade.example.com"
	testCaller   = "storefront@project.iam.gserviceaccount.com"
)

type jwksFixture struct {
	key      *rsa.PrivateKey
	mu       sync.Mutex
	requests int
	status   int
}

func newJWKSFixture(t *testing.T) (*jwksFixture, *httptest.Server) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	fx := &jwksFixture{key: key, status: http.StatusOK}
	jwk := jose.JSONWebKey{
		Key:       &key.PublicKey,
		KeyID:     "key1",
		Algorithm: jwt.SigningMethodRS256.Alg(),
		Use:       "sig",
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fx.mu.Lock()
		fx.requests++
		status := fx.status
		fx.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if err := json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}); err != nil {
			t.Errorf("encode jwks: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return fx, server
}

func (fx *jwksFixture) sign(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()

	claims := jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            testAudience,
		"sub":            "1234567890",
		"email":          testCaller,
		"email_verified": true,
		"iat":            time.Now().Add(-time.Minute).Unix(),
		"exp":            time.Now().Add(time.Hour).Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "key1"
	signed, err := token.SignedString(fx.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestOIDCVerifier(t *testing.T, url string) *OIDCVerifier {
	t.Helper()

	verifier, err := NewOIDCVerifier(NewJWKSCache(url), testAudience,
		[]string{"accounts.google.com", "https://accounts.google.com"},
		[]string{"Storefront@project.iam.gserviceaccount.com"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return verifier
}

func TestJWKSCacheKeyCachesKeys(t *testing.T) {
	fx, server := newJWKSFixture(t)
	cache := NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return time.Unix(1_000_000, 0) }))

	ctx := context.Background()
	got, err := cache.Key(ctx, "key1")
	if err != nil {
		t.Fatalf("cache.Key: %v", err)
	}
	if _, ok := got.(*rsa.PublicKey); !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", got)
	}
	if _, err := cache.Key(ctx, "key1"); err != nil {
		t.Fatalf("cache.Key second call: %v", err)
	}
	if _, err := cache.Key(ctx, "rotated"); !errors.Is(err, ErrJWKSKeyNotFound) {
		t.Fatalf("expected ErrJWKSKeyNotFound, got %v", err)
	}

	fx.mu.Lock()
	defer fx.mu.Unlock()
	if fx.requests != 2 {
		t.Fatalf("expected one fetch plus one refresh for the unknown kid, got %d", fx.requests)
	}
}

func TestRequireServiceAcceptsAllowedCaller(t *testing.T) {
	fx, server := newJWKSFixture(t)
	verifier := newTestOIDCVerifier(t, server.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/firebase/products", nil)
	req.Header.Set("Authorization", "Bearer "+fx.sign(t, nil))
	rr := httptest.NewRecorder()

	RequireService(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := ServiceIdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected service identity in context")
		}
		if identity.Email != testCaller || identity.Method != "oidc" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRequireServiceRejectsBadTokens(t *testing.T) {
	fx, server := newJWKSFixture(t)
	verifier := newTestOIDCVerifier(t, server.URL)

	cases := map[string]string{
		"missing":        "",
		"wrong audience": fx.sign(t, func(c jwt.MapClaims) { c["aud"] = "https://other.example.com" }),
		"wrong issuer":   fx.sign(t, func(c jwt.MapClaims) { c["iss"] = "https://issuer.example.com" }),
		"other caller":   fx.sign(t, func(c jwt.MapClaims) { c["email"] = "intruder@example.com" }),
		"unverified":     fx.sign(t, func(c jwt.MapClaims) { c["email_verified"] = false }),
		"expired":        fx.sign(t, func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }),
		"garbage":        "not-a-jwt",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/payment/create-order", nil)
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			rr := httptest.NewRecorder()
			RequireService(verifier)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not run")
			})).ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			var body struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error != "unauthenticated" {
				t.Fatalf("unexpected error code %q", body.Error)
			}
		})
	}
}

func TestRequireServiceReportsUnavailableKeys(t *testing.T) {
	fx, server := newJWKSFixture(t)
	token := fx.sign(t, nil)
	fx.mu.Lock()
	fx.status = http.StatusBadGateway
	fx.mu.Unlock()
	verifier := newTestOIDCVerifier(t, server.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/firebase/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	RequireService(verifier)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestIDTokenAuthorizerSetsBearer(t *testing.T) {
	authorizer := NewTokenSourceAuthorizer(oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: "id-token",
		Expiry:      time.Now().Add(time.Hour),
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/firebase/products", nil)
	if err := authorizer.Authorize(req, nil); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer id-token" {
		t.Fatalf("unexpected authorization header %q", got)
	}
}
