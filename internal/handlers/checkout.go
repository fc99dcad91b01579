package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/checkout"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/session"
)

const (
	maxCheckoutRequestBody = 16 * 1024
	maxCheckoutWait        = 55 * time.Second
)

// CheckoutRunner drives background checkout runs. *checkout.Runner satisfies it.
type CheckoutRunner interface {
	Start(ctx context.Context, req checkout.Request) (checkout.Intent, error)
	Status(sessionID, orderID string) (checkout.RunStatus, error)
	Wait(ctx context.Context, sessionID, orderID string) (checkout.RunStatus, error)
	Owns(sessionID, orderID string) bool
}

// PaymentOutcomes receives what the widget reported. *checkout.Bridge satisfies it.
type PaymentOutcomes interface {
	Complete(orderID string, completion checkout.Completion) error
	Dismiss(orderID string) error
	Fail(orderID, description string) error
}

// CheckoutHandlers exposes the checkout flow. The browser starts a run, opens the
// widget with the returned intent and reports the widget outcome back.
type CheckoutHandlers struct {
	runner   CheckoutRunner
	outcomes PaymentOutcomes
	limiter  rateLimiter
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutRateLimit caps checkout starts per session per minute.
func WithCheckoutRateLimit(perMinute int) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newPerMinuteLimiter(perMinute, nil)
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(runner CheckoutRunner, outcomes PaymentOutcomes, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{runner: runner, outcomes: outcomes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/checkout", h.start)
	r.Get("/checkout/{orderId}", h.status)
	r.Post("/checkout/{orderId}/complete", h.complete)
	r.Post("/checkout/{orderId}/dismiss", h.dismiss)
	r.Post("/checkout/{orderId}/fail", h.fail)
}

type startCheckoutRequest struct {
	DeliveryAddress domain.DeliveryAddress `json:"deliveryAddress"`
	CustomerInfo    domain.CustomerInfo    `json:"customerInfo"`
}

type checkoutStatusResponse struct {
	GatewayOrderID string            `json:"gatewayOrderId"`
	State          checkout.RunState `json:"state"`
	Intent         checkout.Intent   `json:"intent"`
	Order          *domain.Order     `json:"order,omitempty"`
	Error          string            `json:"error,omitempty"`
	Message        string            `json:"message,omitempty"`
}

func (h *CheckoutHandlers) start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := session.CurrentUser(ctx)
	if user == nil {
		writeServiceError(ctx, w, domain.ErrNotAuthenticated)
		return
	}
	sid := sessionID(r)
	if h.limiter != nil && !h.limiter.Allow(sid) {
		writeRateLimited(w, r)
		return
	}

	var req startCheckoutRequest
	if err := httpx.DecodeJSON(r, maxCheckoutRequestBody, &req); err != nil {
		httpx.WriteBadRequest(w, r, err)
		return
	}
	customer := req.CustomerInfo
	if strings.TrimSpace(customer.Email) == "" {
		customer.Email = user.Email
	}
	if strings.TrimSpace(customer.Name) == "" {
		customer.Name = user.Name
	}

	intent, err := h.runner.Start(ctx, checkout.Request{
		SessionID:       sid,
		UserID:          user.UID,
		DeliveryAddress: req.DeliveryAddress,
		Customer:        customer,
	})
	if err != nil {
		requestctx.Logger(ctx).Warn("checkout start failed", zap.Error(err))
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusAccepted, intent)
}

func (h *CheckoutHandlers) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderId")

	var (
		status checkout.RunStatus
		err    error
	)
	if strings.EqualFold(r.URL.Query().Get("wait"), "true") {
		waitCtx, cancel := context.WithTimeout(ctx, maxCheckoutWait)
		defer cancel()
		status, err = h.runner.Wait(waitCtx, sessionID(r), orderID)
		if errors.Is(err, context.DeadlineExceeded) {
			status, err = h.runner.Status(sessionID(r), orderID)
		}
	} else {
		status, err = h.runner.Status(sessionID(r), orderID)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := checkoutStatusResponse{
		GatewayOrderID: status.OrderID,
		State:          status.State,
		Intent:         status.Intent,
		Order:          status.Order,
	}
	if status.Err != nil {
		resp.Error = checkoutErrorCode(status.Err)
		resp.Message = status.Err.Error()
	}
	httpx.WriteData(w, http.StatusOK, resp)
}

func (h *CheckoutHandlers) complete(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	var completion checkout.Completion
	if err := httpx.DecodeJSON(r, maxCheckoutRequestBody, &completion); err != nil {
		httpx.WriteBadRequest(w, r, err)
		return
	}
	if err := h.outcomes.Complete(orderID, completion); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, httpx.Envelope{Success: true, Message: "payment submitted"})
}

func (h *CheckoutHandlers) dismiss(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	if err := h.outcomes.Dismiss(orderID); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, httpx.Envelope{Success: true, Message: "payment dismissed"})
}

type failRequest struct {
	Description string `json:"description"`
}

func (h *CheckoutHandlers) fail(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	var req failRequest
	if err := httpx.DecodeJSON(r, maxCheckoutRequestBody, &req); err != nil {
		httpx.WriteBadRequest(w, r, err)
		return
	}
	if err := h.outcomes.Fail(orderID, strings.TrimSpace(req.Description)); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, httpx.Envelope{Success: true, Message: "payment failure recorded"})
}

func (h *CheckoutHandlers) ownedOrder(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" || !h.runner.Owns(sessionID(r), orderID) {
		writeServiceError(r.Context(), w, checkout.ErrRunNotFound)
		return "", false
	}
	return orderID, true
}

func checkoutErrorCode(err error) string {
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			return m.code
		}
	}
	return "checkout_failed"
}
