package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGatewayTimeout = 8 * time.Second
	gatewayOrderPrefix    = "order_"
	gatewayPaymentPrefix  = "pay_"
)

// GatewayConfig configures the hosted gateway adapter.
type GatewayConfig struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// GatewayProvider talks to the hosted gateway's Orders and Payments REST API using
// basic auth, and verifies completion signatures locally.
type GatewayProvider struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
	logger    func(context.Context, string, map[string]any)
}

// NewGatewayProvider constructs the gateway adapter.
func NewGatewayProvider(cfg GatewayConfig) (*GatewayProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway: base url is required")
	}
	if strings.TrimSpace(cfg.KeyID) == "" || strings.TrimSpace(cfg.KeySecret) == "" {
		return nil, errors.New("gateway: key id and key secret are required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultGatewayTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &GatewayProvider{
		baseURL:   baseURL,
		keyID:     strings.TrimSpace(cfg.KeyID),
		keySecret: strings.TrimSpace(cfg.KeySecret),
		http:      client,
		logger:    logger,
	}, nil
}

// CreateOrder implements Provider.
func (p *GatewayProvider) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	body := map[string]any{
		"amount":   req.Amount,
		"currency": strings.ToUpper(strings.TrimSpace(req.Currency)),
	}
	if req.Receipt != "" {
		body["receipt"] = req.Receipt
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var payload gatewayOrder
	if err := p.do(ctx, http.MethodPost, &payload, body, "orders"); err != nil {
		return Order{}, fmt.Errorf("gateway: create order: %w", err)
	}
	p.logger(ctx, "payments.gateway.order.created", map[string]any{
		"orderId":  payload.ID,
		"amount":   payload.Amount,
		"currency": payload.Currency,
	})
	return payload.toOrder(), nil
}

// Verify checks the HMAC-SHA256 signature over "orderId|paymentId".
func (p *GatewayProvider) Verify(ctx context.Context, req VerifyRequest) (bool, error) {
	if req.Signature == "" {
		return false, nil
	}
	expected := Sign(p.keySecret, req.OrderID, req.PaymentID)
	ok := hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(req.Signature))))
	p.logger(ctx, "payments.gateway.signature.checked", map[string]any{
		"orderId":   req.OrderID,
		"paymentId": req.PaymentID,
		"verified":  ok,
	})
	return ok, nil
}

// FetchOrder implements Provider.
func (p *GatewayProvider) FetchOrder(ctx context.Context, id string) (Order, error) {
	var payload gatewayOrder
	if err := p.do(ctx, http.MethodGet, &payload, nil, "orders", id); err != nil {
		return Order{}, fmt.Errorf("gateway: fetch order: %w", err)
	}
	return payload.toOrder(), nil
}

// FetchPayment implements Provider.
func (p *GatewayProvider) FetchPayment(ctx context.Context, id string) (PaymentDetails, error) {
	var payload gatewayPayment
	if err := p.do(ctx, http.MethodGet, &payload, nil, "payments", id); err != nil {
		return PaymentDetails{}, fmt.Errorf("gateway: fetch payment: %w", err)
	}
	return payload.toDetails(), nil
}

// Owns implements Provider.
func (p *GatewayProvider) Owns(id string) bool {
	return strings.HasPrefix(id, gatewayOrderPrefix) || strings.HasPrefix(id, gatewayPaymentPrefix)
}

// Sign computes the completion signature the gateway issues for an order/payment pair.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *GatewayProvider) do(ctx context.Context, method string, dst any, body any, segments ...string) error {
	endpoint, err := url.JoinPath(p.baseURL, segments...)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.keyID, p.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		var gwErr struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &gwErr)
		if gwErr.Error.Description != "" {
			return fmt.Errorf("status %d: %s: %s", resp.StatusCode, gwErr.Error.Code, gwErr.Error.Description)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if carrier, ok := dst.(rawCarrier); ok {
		carrier.setRaw(raw)
	}
	return nil
}

type rawCarrier interface {
	setRaw([]byte)
}

type gatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
	raw      map[string]any
}

func (o *gatewayOrder) setRaw(b []byte) {
	_ = json.Unmarshal(b, &o.raw)
}

func (o gatewayOrder) toOrder() Order {
	status := StatusCreated
	switch o.Status {
	case "attempted":
		status = StatusPending
	case "paid":
		status = StatusPaid
	}
	return Order{
		ID:       o.ID,
		Amount:   o.Amount,
		Currency: strings.ToUpper(o.Currency),
		Receipt:  o.Receipt,
		Status:   status,
		Raw:      o.raw,
	}
}

type gatewayPayment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
	raw      map[string]any
}

func (p *gatewayPayment) setRaw(b []byte) {
	_ = json.Unmarshal(b, &p.raw)
}

func (p gatewayPayment) toDetails() PaymentDetails {
	status := StatusPending
	switch p.Status {
	case "captured":
		status = StatusPaid
	case "failed", "refunded":
		status = StatusFailed
	}
	return PaymentDetails{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Status:    status,
		Amount:    p.Amount,
		Currency:  strings.ToUpper(p.Currency),
		Method:    p.Method,
		Raw:       p.raw,
	}
}
