package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/storefront/internal/platform/httpx"
)

const (
	SignatureHeader          = "X-Signature"
	SignatureTimestampHeader = "X-Signature-Timestamp"
	SignatureNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew     = 5 * time.Minute
	defaultNonceTTL      = 5 * time.Minute
	defaultSignedBodyMax = 1 << 20
	serviceNonceScope    = "facade"
)

// ErrVerificationUnavailable signals that a verifier could not reach the state it needs.
var ErrVerificationUnavailable = errors.New("auth: verification unavailable")

// NonceStore tracks unique nonces for replay prevention.
type NonceStore interface {
	// UseNonce records the nonce if it has not been seen before within the scope. The boolean
	// reports whether the nonce was stored.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// MemoryNonceStore keeps nonces in process memory. Replays are only caught by the
// instance that saw the first request.
type MemoryNonceStore struct {
	mu     sync.Mutex
	now    func() time.Time
	nonces map[string]time.Time
}

// NewMemoryNonceStore constructs the store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{now: time.Now, nonces: make(map[string]time.Time)}
}

// UseNonce records the nonce until expiry, rejecting replays until then.
func (s *MemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	key := scope + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.nonces {
		if exp.Before(now) {
			delete(s.nonces, k)
		}
	}
	if existing, ok := s.nonces[key]; ok && existing.After(now) {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// HMACSigner signs outbound facade requests with a shared secret.
type HMACSigner struct {
	secret []byte
	now    func() time.Time
	nonce  func() string
}

// NewHMACSigner constructs a signer for secret.
func NewHMACSigner(secret string) (*HMACSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: hmac secret is required")
	}
	return &HMACSigner{
		secret: []byte(secret),
		now:    time.Now,
		nonce:  func() string { return ulid.MustNew(ulid.Now(), rand.Reader).String() },
	}, nil
}

// Authorize sets the signature headers on req. body must be the exact bytes req will send.
func (s *HMACSigner) Authorize(req *http.Request, body []byte) error {
	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	nonce := s.nonce()
	signature := computeHMAC(s.secret, buildCanonicalString(req, body, timestamp, nonce))
	req.Header.Set(SignatureHeader, base64.StdEncoding.EncodeToString(signature))
	req.Header.Set(SignatureTimestampHeader, timestamp)
	req.Header.Set(SignatureNonceHeader, nonce)
	return nil
}

// HMACVerifier checks requests signed by HMACSigner.
type HMACVerifier struct {
	secret    []byte
	nonces    NonceStore
	now       func() time.Time
	clockSkew time.Duration
	nonceTTL  time.Duration
	bodyLimit int64
}

// HMACOption customises the verifier.
type HMACOption func(*HMACVerifier)

// WithHMACClock injects a time source.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACClockSkew adjusts the accepted timestamp skew.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACVerifier) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// NewHMACVerifier constructs a verifier for secret backed by nonces.
func NewHMACVerifier(secret string, nonces NonceStore, opts ...HMACOption) (*HMACVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: hmac secret is required")
	}
	if nonces == nil {
		return nil, errors.New("auth: nonce store is required")
	}
	v := &HMACVerifier{
		secret:    []byte(secret),
		nonces:    nonces,
		now:       time.Now,
		clockSkew: defaultClockSkew,
		nonceTTL:  defaultNonceTTL,
		bodyLimit: defaultSignedBodyMax,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// VerifyRequest implements RequestVerifier. The request body is restored for the handler.
func (v *HMACVerifier) VerifyRequest(r *http.Request) (*ServiceIdentity, error) {
	signatureValue := strings.TrimSpace(r.Header.Get(SignatureHeader))
	timestampValue := strings.TrimSpace(r.Header.Get(SignatureTimestampHeader))
	nonce := strings.TrimSpace(r.Header.Get(SignatureNonceHeader))
	if signatureValue == "" || timestampValue == "" || nonce == "" {
		return nil, fmt.Errorf("%w: signature headers missing", ErrServiceUnauthenticated)
	}

	timestamp, err := parseSignatureTimestamp(timestampValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnauthenticated, err)
	}
	now := v.now()
	if skew := now.Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return nil, fmt.Errorf("%w: signature timestamp outside allowed window", ErrServiceUnauthenticated)
	}

	body, err := httpx.ReadLimitedBody(r, v.bodyLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnauthenticated, err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	signature, err := decodeSignature(signatureValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnauthenticated, err)
	}
	if !hmac.Equal(signature, computeHMAC(v.secret, buildCanonicalString(r, body, timestampValue, nonce))) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrServiceUnauthenticated)
	}

	expiry := timestamp.Add(v.clockSkew + v.nonceTTL)
	stored, err := v.nonces.UseNonce(r.Context(), serviceNonceScope, nonce, expiry)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce store: %v", ErrVerificationUnavailable, err)
	}
	if !stored {
		return nil, fmt.Errorf("%w: duplicate signature nonce", ErrServiceUnauthenticated)
	}
	return &ServiceIdentity{Subject: "hmac", Method: "hmac"}, nil
}

func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

func buildCanonicalString(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	hash := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(r.Method),
		path,
		r.URL.RawQuery,
		timestamp,
		nonce,
		hex.EncodeToString(hash[:]),
	}, "\n"))
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
