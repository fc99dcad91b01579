package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/catalog"
	"github.com/hanko-field/storefront/internal/checkout"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/facade"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

type errorMapping struct {
	target error
	code   string
	status int
}

// domainErrors maps the storefront sentinels to HTTP responses. Order matters:
// the first match wins.
var domainErrors = []errorMapping{
	{domain.ErrNotAuthenticated, "unauthenticated", http.StatusUnauthorized},
	{domain.ErrNotAuthorized, "forbidden", http.StatusForbidden},
	{domain.ErrInvalidAmount, "invalid_amount", http.StatusUnprocessableEntity},
	{domain.ErrInvalidTransition, "invalid_transition", http.StatusUnprocessableEntity},
	{domain.ErrMalformedGatewayResponse, "malformed_gateway_response", http.StatusBadGateway},
	{domain.ErrPaymentIntentCreationFailed, "payment_intent_creation_failed", http.StatusBadGateway},
	{domain.ErrPaymentVerificationFailed, "payment_verification_failed", http.StatusPaymentRequired},
	{domain.ErrPaymentFailed, "payment_failed", http.StatusPaymentRequired},
	{domain.ErrPaymentCancelled, "payment_cancelled", http.StatusConflict},
	{domain.ErrDocumentNotFound, "not_found", http.StatusNotFound},
	{domain.ErrWidgetUnavailable, "widget_unavailable", http.StatusBadGateway},
	{domain.ErrRemoteFetchFailed, "remote_fetch_failed", http.StatusBadGateway},
	{checkout.ErrCheckoutInProgress, "checkout_in_progress", http.StatusConflict},
	{checkout.ErrEmptyCart, "cart_empty", http.StatusUnprocessableEntity},
	{checkout.ErrRunNotFound, "checkout_not_found", http.StatusNotFound},
	{checkout.ErrUnknownPayment, "payment_not_pending", http.StatusNotFound},
	{catalog.ErrInvalidProduct, "invalid_product", http.StatusBadRequest},
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			httpx.WriteError(ctx, w, httpx.NewError(m.code, err.Error(), m.status))
			return
		}
	}
	var remote *facade.Error
	if errors.As(err, &remote) {
		writeFacadeError(ctx, w, remote)
		return
	}
	requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
}

// writeFacadeError forwards client errors the facade rejected the request with. Any
// other facade failure, including success=false on a 2xx and rejected service
// credentials, is a remote fetch failure.
func writeFacadeError(ctx context.Context, w http.ResponseWriter, remote *facade.Error) {
	switch {
	case remote.Status >= http.StatusBadRequest && remote.Status < http.StatusInternalServerError &&
		remote.Status != http.StatusUnauthorized && remote.Status != http.StatusForbidden:
		httpx.WriteError(ctx, w, httpx.NewError(remote.Code, remote.Message, remote.Status))
	default:
		requestctx.Logger(ctx).Warn("facade request failed",
			zap.Int("facade_status", remote.Status),
			zap.String("facade_code", remote.Code),
		)
		httpx.WriteError(ctx, w, httpx.NewError("remote_fetch_failed", remote.Error(), http.StatusBadGateway))
	}
}
