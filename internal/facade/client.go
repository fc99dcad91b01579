package facade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hanko-field/storefront/internal/platform/observability"
)

const (
	defaultTimeout      = 8 * time.Second
	defaultBreakerTrips = 5
	defaultCooldown     = 30 * time.Second
	idempotencyHeader   = "Idempotency-Key"
	maxResponseBytes    = 4 << 20
)

// Client calls the document and payment facade over HTTP. Every call is bounded by
// its own timeout and guarded by a circuit breaker; nothing is retried.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[response]
	auth    Authorizer
}

// Authorizer attaches the caller credential to an outbound request. body holds the
// exact bytes the request will send.
type Authorizer interface {
	Authorize(req *http.Request, body []byte) error
}

// Option customises the Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient      *http.Client
	timeout         time.Duration
	breakerFailures int
	breakerCooldown time.Duration
	onStateChange   func(from, to string)
	authorizer      Authorizer
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithBreaker configures how many consecutive remote failures open the breaker and
// how long it stays open.
func WithBreaker(failures int, cooldown time.Duration) Option {
	return func(o *clientOptions) {
		if failures > 0 {
			o.breakerFailures = failures
		}
		if cooldown > 0 {
			o.breakerCooldown = cooldown
		}
	}
}

// WithBreakerStateHook observes breaker transitions.
func WithBreakerStateHook(fn func(from, to string)) Option {
	return func(o *clientOptions) {
		o.onStateChange = fn
	}
}

// WithAuthorizer signs every request with a.
func WithAuthorizer(a Authorizer) Option {
	return func(o *clientOptions) {
		o.authorizer = a
	}
}

// NewClient constructs a facade client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("facade: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("facade: invalid base url: %w", err)
	}

	options := clientOptions{
		timeout:         defaultTimeout,
		breakerFailures: defaultBreakerTrips,
		breakerCooldown: defaultCooldown,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.httpClient == nil {
		options.httpClient = &http.Client{}
	}

	failures := uint32(options.breakerFailures)
	settings := gobreaker.Settings{
		Name:    "facade",
		Timeout: options.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return !breakerFailure(err)
		},
	}
	if options.onStateChange != nil {
		hook := options.onStateChange
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			hook(from.String(), to.String())
		}
	}

	return &Client{
		baseURL: baseURL,
		http:    options.httpClient,
		timeout: options.timeout,
		breaker: gobreaker.NewCircuitBreaker[response](settings),
		auth:    options.authorizer,
	}, nil
}

type response struct {
	status int
	body   []byte
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// call performs one request and decodes the envelope's data into dst.
func (c *Client) call(ctx context.Context, method, op string, body any, headers map[string]string, dst any, segments ...string) error {
	endpoint, err := url.JoinPath(c.baseURL, segments...)
	if err != nil {
		return fmt.Errorf("facade: build url: %w", err)
	}
	return c.callURL(ctx, method, op, endpoint, body, headers, dst)
}

func (c *Client) callURL(ctx context.Context, method, op, endpoint string, body any, headers map[string]string, dst any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("facade: encode %s: %w", op, err)
		}
		payload = encoded
	}

	resp, err := c.breaker.Execute(func() (response, error) {
		return c.do(ctx, method, op, endpoint, payload, headers)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %s: %v", ErrRemoteFetchFailed, op, err)
		}
		return err
	}

	var env envelope
	if len(bytes.TrimSpace(resp.body)) > 0 {
		if err := json.Unmarshal(resp.body, &env); err != nil {
			return fmt.Errorf("%w: %s: decode response: %v", ErrRemoteFetchFailed, op, err)
		}
	}
	if env.Success != nil && !*env.Success {
		return &Error{Status: resp.status, Code: defaultString(env.Error, "request_failed"), Message: env.Message}
	}
	if dst == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: %s: decode data: %v", ErrRemoteFetchFailed, op, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, op, endpoint string, payload []byte, headers map[string]string) (response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return response{}, fmt.Errorf("facade: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		if value != "" {
			req.Header.Set(key, value)
		}
	}
	if c.auth != nil {
		if err := c.auth.Authorize(req, payload); err != nil {
			return response{}, transportError(op, err)
		}
	}

	req, span := observability.StartClientSpan(req, "facade."+op)
	defer span.End()

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return response{}, transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		span.RecordError(err)
		return response{}, transportError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return response{}, decodeError(resp.StatusCode, body)
	}
	return response{status: resp.StatusCode, body: body}, nil
}

func decodeError(status int, body []byte) error {
	var env envelope
	_ = json.Unmarshal(body, &env)
	code := env.Error
	if code == "" {
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	message := env.Message
	if message == "" && env.Error == "" {
		message = strings.TrimSpace(string(truncate(body, 256)))
	}
	return &Error{Status: status, Code: code, Message: message}
}

func truncate(b []byte, limit int) []byte {
	if len(b) <= limit {
		return b
	}
	return b[:limit]
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return strings.TrimSpace(val)
}
