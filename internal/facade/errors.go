package facade

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hanko-field/storefront/internal/domain"
)

var (
	// ErrDocumentNotFound matches facade 404 responses.
	ErrDocumentNotFound = domain.ErrDocumentNotFound
	// ErrRemoteFetchFailed matches transport failures, timeouts, 5xx responses and an open breaker.
	ErrRemoteFetchFailed = domain.ErrRemoteFetchFailed
)

// Error is a non-2xx (or success=false) facade response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("facade: status %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("facade: status %d %s: %s", e.Status, e.Code, e.Message)
}

// Is lets errors.Is match the sentinels a status implies.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrDocumentNotFound:
		return e.Status == http.StatusNotFound
	case ErrRemoteFetchFailed:
		return e.Status >= http.StatusInternalServerError
	}
	return false
}

// IsNotFound reports whether err is a facade 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDocumentNotFound)
}

func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrRemoteFetchFailed, op, err)
}

// breakerFailure reports whether err should count against the circuit breaker.
func breakerFailure(err error) bool {
	return err != nil && errors.Is(err, ErrRemoteFetchFailed)
}
