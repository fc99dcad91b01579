package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TestRequestLoggerReportsInnerAnnotations(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestctx.WithSessionID(r.Context(), "0123456789abcdef")
		requestctx.Annotate(ctx, "user_id", "shopper-uid")
		w.WriteHeader(http.StatusTeapot)
	})
	h := chain(inner, InjectLoggerMiddleware(logger), RequestLoggerMiddleware())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cart", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 4xx, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("unexpected status field %v", fields["status"])
	}
	if fields["session_id"] != "01234567" {
		t.Fatalf("expected shortened session id, got %v", fields["session_id"])
	}
	if fields["user_id"] != "shopper-uid" {
		t.Fatalf("expected user id annotation, got %v", fields["user_id"])
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	h := chain(boom, InjectLoggerMiddleware(logger), RequestLoggerMiddleware(), RecoveryMiddleware(nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_error") {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 || completed[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected one error-level completion entry, got %+v", completed)
	}
}

func TestAnnotateWithoutRequestLoggerIsNoop(t *testing.T) {
	ctx := requestctx.WithSessionID(context.Background(), "abc")
	requestctx.Annotate(ctx, "user_id", "u1")
	if got := requestctx.SessionID(ctx); got != "abc" {
		t.Fatalf("expected session id to be stored, got %q", got)
	}
}

func TestCleanStripsControlCharacters(t *testing.T) {
	if got := clean("GET\r\n/x", maxRouteLen); got != "GET/x" {
		t.Fatalf("unexpected cleaned value %q", got)
	}
	if got := clean(strings.Repeat("a", 20), 5); got != "aaaaa" {
		t.Fatalf("expected truncation, got %q", got)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.DebugLevel)
	requestCore, requestLogs := observer.New(zapcore.DebugLevel)

	events := NewEventLogger(zap.New(fallbackCore))
	events(context.Background(), "cart.item.added", map[string]any{"productId": "p1"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	events(ctx, "cart.item.added", map[string]any{"productId": "p2"})

	if fallbackLogs.Len() != 1 || requestLogs.Len() != 1 {
		t.Fatalf("expected one entry per logger, got fallback=%d request=%d", fallbackLogs.Len(), requestLogs.Len())
	}
}
