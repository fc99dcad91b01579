package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

const maxPaymentRequestBody = 8 * 1024

// PaymentGateway is the payment surface served by the facade. *payments.Manager satisfies it.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req payments.OrderRequest) (payments.Order, error)
	Verify(ctx context.Context, req payments.VerifyRequest) (bool, error)
	FetchOrder(ctx context.Context, id string) (payments.Order, error)
	FetchPayment(ctx context.Context, id string) (payments.PaymentDetails, error)
}

// PaymentHandlers exposes gateway order creation and signature verification.
type PaymentHandlers struct {
	gateway         PaymentGateway
	defaultCurrency string
	createMW        []func(http.Handler) http.Handler
}

// PaymentOption customises PaymentHandlers.
type PaymentOption func(*PaymentHandlers)

// WithDefaultCurrency sets the currency used when create-order omits one.
func WithDefaultCurrency(currency string) PaymentOption {
	return func(h *PaymentHandlers) {
		if c := strings.ToUpper(strings.TrimSpace(currency)); c != "" {
			h.defaultCurrency = c
		}
	}
}

// WithCreateOrderMiddleware wraps only the create-order endpoint, typically with idempotency.
func WithCreateOrderMiddleware(mw ...func(http.Handler) http.Handler) PaymentOption {
	return func(h *PaymentHandlers) {
		h.createMW = append(h.createMW, mw...)
	}
}

// NewPaymentHandlers constructs the payment facade handlers.
func NewPaymentHandlers(gateway PaymentGateway, opts ...PaymentOption) *PaymentHandlers {
	h := &PaymentHandlers{gateway: gateway, defaultCurrency: "INR"}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the payment endpoints under the provided router.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(h.createMW...).Post("/create-order", h.createOrder)
	r.Post("/verify-payment", h.verifyPayment)
	r.Get("/order/{id}", h.fetchOrder)
	r.Get("/payment/{id}", h.fetchPayment)
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

// verifyPaymentRequest accepts both the neutral field names and the legacy
// razorpay_* names older clients send.
type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`

	LegacyOrderID   string `json:"razorpay_order_id"`
	LegacyPaymentID string `json:"razorpay_payment_id"`
	LegacySignature string `json:"razorpay_signature"`
}

func (v verifyPaymentRequest) normalise() payments.VerifyRequest {
	pick := func(primary, legacy string) string {
		if s := strings.TrimSpace(primary); s != "" {
			return s
		}
		return strings.TrimSpace(legacy)
	}
	return payments.VerifyRequest{
		OrderID:   pick(v.GatewayOrderID, v.LegacyOrderID),
		PaymentID: pick(v.GatewayPaymentID, v.LegacyPaymentID),
		Signature: pick(v.Signature, v.LegacySignature),
	}
}

func (h *PaymentHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, maxPaymentRequestBody, &req); err != nil {
		httpx.WriteBadRequest(w, r, err)
		return
	}
	if req.Amount <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_amount", "amount must be a positive integer in minor units", http.StatusUnprocessableEntity))
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = h.defaultCurrency
	}

	order, err := h.gateway.CreateOrder(ctx, payments.OrderRequest{
		Amount:         req.Amount,
		Currency:       currency,
		Receipt:        strings.TrimSpace(req.Receipt),
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writePaymentError(ctx, w, "create_order", err)
		return
	}
	order.Raw = nil
	httpx.WriteData(w, http.StatusOK, order)
}

func (h *PaymentHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body verifyPaymentRequest
	if err := httpx.DecodeJSON(r, maxPaymentRequestBody, &body); err != nil {
		httpx.WriteBadRequest(w, r, err)
		return
	}
	req := body.normalise()
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id, payment id and signature are required", http.StatusBadRequest))
		return
	}

	ok, err := h.gateway.Verify(ctx, req)
	if err != nil {
		writePaymentError(ctx, w, "verify_payment", err)
		return
	}
	if !ok {
		requestctx.Logger(ctx).Warn("payment verification rejected", zap.String("gatewayOrderId", req.OrderID))
		httpx.WriteError(ctx, w, httpx.NewError("verification_failed", "payment signature did not verify", http.StatusBadRequest))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "payment verified"})
}

func (h *PaymentHandlers) fetchOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.gateway.FetchOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writePaymentError(r.Context(), w, "fetch_order", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, order)
}

func (h *PaymentHandlers) fetchPayment(w http.ResponseWriter, r *http.Request) {
	details, err := h.gateway.FetchPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writePaymentError(r.Context(), w, "fetch_payment", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, details)
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, payments.ErrInvalidRequest):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, payments.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment record not found", http.StatusNotFound))
	case errors.Is(err, payments.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_currency", "no payment provider for request", http.StatusUnprocessableEntity))
	default:
		requestctx.Logger(ctx).Error("payment gateway failure", zap.String("op", op), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("gateway_error", "payment gateway request failed", http.StatusBadGateway))
	}
}
