// Package requestctx carries request-scoped values shared by middleware, handlers
// and services: the logger, trace metadata, the storefront session id and the
// completion annotations reported by the request logger.
package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type key int

const (
	loggerKey key = iota
	traceKey
	sessionKey
	annotationsKey
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// WithLogger stores the logger in context. A nil logger stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(orBackground(ctx), loggerKey, logger)
}

// Logger retrieves the zap logger from context or returns the no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
			return logger
		}
	}
	return noopLogger
}

// NoopLogger exposes the shared no-op logger so callers can detect a missing logger.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(orBackground(ctx), traceKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithSessionID records the storefront session id and annotates the request with it.
func WithSessionID(ctx context.Context, id string) context.Context {
	ctx = orBackground(ctx)
	Annotate(ctx, "session_id", shorten(id, 8))
	return context.WithValue(ctx, sessionKey, id)
}

// SessionID returns the storefront session id, if any.
func SessionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// Annotations collects fields discovered by inner handlers, such as the session or
// the signed-in user, so the outer request logger can report them on completion.
type Annotations struct {
	mu     sync.Mutex
	order  []string
	values map[string]string
}

// WithAnnotations installs an empty annotation set on ctx.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	a := &Annotations{values: make(map[string]string)}
	return context.WithValue(orBackground(ctx), annotationsKey, a), a
}

// Annotate sets key on the request's annotation set. Without one it is a no-op.
// Empty values are ignored; a later value for the same key wins.
func Annotate(ctx context.Context, key, value string) {
	if ctx == nil || key == "" || value == "" {
		return
	}
	a, ok := ctx.Value(annotationsKey).(*Annotations)
	if !ok || a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.values[key]; !seen {
		a.order = append(a.order, key)
	}
	a.values[key] = value
}

// Fields returns the annotations as zap fields in first-set order.
func (a *Annotations) Fields() []zap.Field {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	fields := make([]zap.Field, 0, len(a.order))
	for _, k := range a.order {
		fields = append(fields, zap.String(k, a.values[k]))
	}
	return fields
}

func shorten(value string, n int) string {
	if len(value) > n {
		return value[:n]
	}
	return value
}
