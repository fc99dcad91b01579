package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusCreated indicates the order exists but no payment was attempted.
	StatusCreated Status = "created"
	// StatusPending indicates the payment awaits customer action or provider confirmation.
	StatusPending Status = "pending"
	// StatusPaid indicates the provider captured the payment.
	StatusPaid Status = "paid"
	// StatusFailed indicates the provider reports a failure.
	StatusFailed Status = "failed"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidRequest indicates the request is missing required values.
	ErrInvalidRequest = errors.New("payments: invalid request")
	// ErrNotFound indicates the provider does not know the id.
	ErrNotFound = errors.New("payments: not found")
)

// OrderRequest asks a provider for a payment order. Amount is minor units.
type OrderRequest struct {
	Amount         int64
	Currency       string
	Receipt        string
	Notes          map[string]string
	IdempotencyKey string
}

// Order is the provider-side payment order the shopper pays against.
type Order struct {
	ID           string         `json:"orderId"`
	Provider     string         `json:"provider"`
	Amount       int64          `json:"amount"`
	Currency     string         `json:"currency"`
	Receipt      string         `json:"receipt,omitempty"`
	Status       Status         `json:"status"`
	ClientSecret string         `json:"clientSecret,omitempty"`
	Raw          map[string]any `json:"raw,omitempty"`
}

// VerifyRequest carries the values the checkout widget returns on completion.
type VerifyRequest struct {
	OrderID   string
	PaymentID string
	Signature string
}

// PaymentDetails normalises provider specific payment fields.
type PaymentDetails struct {
	Provider  string         `json:"provider"`
	PaymentID string         `json:"paymentId"`
	OrderID   string         `json:"orderId,omitempty"`
	Status    Status         `json:"status"`
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency"`
	Method    string         `json:"method,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// Provider is implemented by each payment adapter.
type Provider interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	// Verify reports whether the completion values are authentic and the payment captured.
	Verify(ctx context.Context, req VerifyRequest) (bool, error)
	FetchOrder(ctx context.Context, id string) (Order, error)
	FetchPayment(ctx context.Context, id string) (PaymentDetails, error)
	// Owns reports whether an order or payment id was issued by this provider.
	Owns(id string) bool
}

// Manager coordinates provider selection.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when no route matches.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{
		providers:      registered,
		currencyRoutes: map[string]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// CreateOrder routes by currency, then the default provider.
func (m *Manager) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if req.Amount <= 0 {
		return Order{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	key, provider, err := m.forCurrency(req.Currency)
	if err != nil {
		return Order{}, err
	}
	order, err := provider.CreateOrder(ctx, req)
	if err != nil {
		return Order{}, err
	}
	order.Provider = key
	return order, nil
}

// Verify routes by the order id.
func (m *Manager) Verify(ctx context.Context, req VerifyRequest) (bool, error) {
	if strings.TrimSpace(req.OrderID) == "" || strings.TrimSpace(req.PaymentID) == "" {
		return false, fmt.Errorf("%w: order and payment ids are required", ErrInvalidRequest)
	}
	_, provider, err := m.forID(req.OrderID)
	if err != nil {
		return false, err
	}
	return provider.Verify(ctx, req)
}

// FetchOrder routes by id.
func (m *Manager) FetchOrder(ctx context.Context, id string) (Order, error) {
	key, provider, err := m.forID(id)
	if err != nil {
		return Order{}, err
	}
	order, err := provider.FetchOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	order.Provider = key
	return order, nil
}

// FetchPayment routes by id.
func (m *Manager) FetchPayment(ctx context.Context, id string) (PaymentDetails, error) {
	key, provider, err := m.forID(id)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.FetchPayment(ctx, id)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}

func (m *Manager) forCurrency(currency string) (string, Provider, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if key, ok := m.currencyRoutes[currency]; ok {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
	}
	return m.fallback()
}

func (m *Manager) forID(id string) (string, Provider, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", nil, fmt.Errorf("%w: id is required", ErrInvalidRequest)
	}
	for key, p := range m.providers {
		if p.Owns(id) {
			return key, p, nil
		}
	}
	return m.fallback()
}

func (m *Manager) fallback() (string, Provider, error) {
	if p, ok := m.providers[m.defaultProvider]; ok {
		return m.defaultProvider, p, nil
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}
