package facade

import (
	"context"
	"net/http"
)

const paymentsRoot = "api/payment"

// PaymentOrderRequest asks the gateway for a payment intent. Amount is minor units.
type PaymentOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
}

// PaymentIntent is the gateway order returned by create-order.
type PaymentIntent struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// VerifyRequest carries the three values the widget hands back on completion.
type VerifyRequest struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

// CreatePaymentOrder creates a gateway order. idempotencyKey lets the facade replay
// the first response when the same attempt is submitted twice.
func (c *Client) CreatePaymentOrder(ctx context.Context, req PaymentOrderRequest, idempotencyKey string) (PaymentIntent, error) {
	var intent PaymentIntent
	headers := map[string]string{idempotencyHeader: idempotencyKey}
	if err := c.call(ctx, http.MethodPost, "create_payment_order", req, headers, &intent, paymentsRoot, "create-order"); err != nil {
		return PaymentIntent{}, err
	}
	return intent, nil
}

// VerifyPayment returns nil only when the facade reports success=true.
func (c *Client) VerifyPayment(ctx context.Context, req VerifyRequest) error {
	return c.call(ctx, http.MethodPost, "verify_payment", req, nil, nil, paymentsRoot, "verify-payment")
}

// PaymentOrder fetches gateway details for a payment order.
func (c *Client) PaymentOrder(ctx context.Context, id string) (map[string]any, error) {
	var details map[string]any
	err := c.call(ctx, http.MethodGet, "fetch_payment_order", nil, nil, &details, paymentsRoot, "order", id)
	return details, err
}

// Payment fetches gateway details for a captured payment.
func (c *Client) Payment(ctx context.Context, id string) (map[string]any, error) {
	var details map[string]any
	err := c.call(ctx, http.MethodGet, "fetch_payment", nil, nil, &details, paymentsRoot, "payment", id)
	return details, err
}
