package domain

import "errors"

// Sentinel errors shared by the storefront services. Callers wrap them with
// fmt.Errorf("%w: ...") and handlers match them with errors.Is.
var (
	ErrNotAuthenticated            = errors.New("not authenticated")
	ErrNotAuthorized               = errors.New("not authorized")
	ErrInvalidAmount               = errors.New("invalid amount")
	ErrPaymentIntentCreationFailed = errors.New("payment intent creation failed")
	ErrMalformedGatewayResponse    = errors.New("malformed gateway response")
	ErrPaymentVerificationFailed   = errors.New("payment verification failed")
	ErrPaymentCancelled            = errors.New("payment cancelled")
	ErrPaymentFailed               = errors.New("payment failed")
	ErrRemoteFetchFailed           = errors.New("remote fetch failed")
	ErrDocumentNotFound            = errors.New("document not found")
	ErrInvalidTransition           = errors.New("invalid status transition")
	ErrWidgetUnavailable           = errors.New("payment widget unavailable")
)
