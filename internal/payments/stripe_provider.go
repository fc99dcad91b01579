package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const stripeIntentPrefix = "pi_"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	intents   stripePaymentIntentAPI
}

// StripeProvider maps payment orders onto Stripe Payment Intents. The intent id is the
// order id, and its client secret is handed to the browser widget.
type StripeProvider struct {
	intents stripePaymentIntentAPI
	account string
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	intents := cfg.intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeProvider{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// CreateOrder creates a Payment Intent for the amount.
func (p *StripeProvider) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Receipt != "" || len(req.Notes) > 0 {
		params.Metadata = make(map[string]string, len(req.Notes)+1)
		for k, v := range req.Notes {
			params.Metadata[k] = v
		}
		if req.Receipt != "" {
			params.Metadata["receipt"] = req.Receipt
		}
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return Order{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})
	order := stripeOrder(intent)
	order.Receipt = req.Receipt
	return order, nil
}

// Verify reports whether the intent named by the order id has succeeded. Stripe has no
// client-side signature, so the signature field is ignored.
func (p *StripeProvider) Verify(ctx context.Context, req VerifyRequest) (bool, error) {
	intent, err := p.get(ctx, req.OrderID)
	if err != nil {
		return false, err
	}
	ok := intent.Status == stripe.PaymentIntentStatusSucceeded
	if ok && req.PaymentID != intent.ID && intent.LatestCharge != nil && req.PaymentID != intent.LatestCharge.ID {
		ok = false
	}
	p.logger(ctx, "payments.stripe.intent.checked", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
		"verified":      ok,
	})
	return ok, nil
}

// FetchOrder implements Provider.
func (p *StripeProvider) FetchOrder(ctx context.Context, id string) (Order, error) {
	intent, err := p.get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	return stripeOrder(intent), nil
}

// FetchPayment implements Provider.
func (p *StripeProvider) FetchPayment(ctx context.Context, id string) (PaymentDetails, error) {
	intent, err := p.get(ctx, id)
	if err != nil {
		return PaymentDetails{}, err
	}
	details := PaymentDetails{
		PaymentID: intent.ID,
		OrderID:   intent.ID,
		Status:    stripeStatus(intent.Status),
		Amount:    intent.Amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
		Raw:       rawJSON(intent),
	}
	if intent.PaymentMethod != nil {
		details.Method = string(intent.PaymentMethod.Type)
	}
	return details, nil
}

// Owns implements Provider.
func (p *StripeProvider) Owns(id string) bool {
	return strings.HasPrefix(id, stripeIntentPrefix)
}

func (p *StripeProvider) get(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.intents.Get(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return nil, fmt.Errorf("stripe: lookup payment intent: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	return intent, nil
}

func stripeOrder(intent *stripe.PaymentIntent) Order {
	return Order{
		ID:           intent.ID,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		Status:       stripeStatus(intent.Status),
		ClientSecret: intent.ClientSecret,
		Raw:          rawJSON(intent),
	}
}

func stripeStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusPaid
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return StatusCreated
	default:
		return StatusPending
	}
}

func rawJSON(v any) map[string]any {
	raw := map[string]any{}
	if data, err := json.Marshal(v); err == nil {
		_ = json.Unmarshal(data, &raw)
	}
	return raw
}
