package session

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

type contextKey struct{}

// WithContext stores the session context on ctx.
func WithContext(ctx context.Context, sc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, sc)
}

// FromContext returns the session context attached by Middleware.
func FromContext(ctx context.Context) (*Context, bool) {
	sc, ok := ctx.Value(contextKey{}).(*Context)
	return sc, ok && sc != nil
}

// CurrentUser returns the signed-in user for the request, or nil.
func CurrentUser(ctx context.Context) *User {
	sc, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return sc.User()
}

// Middleware loads the cookie session for every request and persists it whenever
// the signed-in user changes.
func Middleware(manager *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := requestctx.Logger(r.Context())
			data, fresh, err := manager.Load(r)
			if err != nil && !errors.Is(err, ErrExpired) {
				logger.Warn("session load failed", zap.Error(err))
			}

			sc := NewContext(data.ID, data.User)
			if data.User != nil {
				requestctx.Annotate(r.Context(), "user_id", data.User.UID)
			}
			unsubscribe := sc.Subscribe(func(user *User) {
				data.User = user
				if user != nil {
					requestctx.Annotate(r.Context(), "user_id", user.UID)
				}
				if err := manager.Save(w, data); err != nil {
					logger.Error("session save failed", zap.Error(err))
				}
			})
			defer unsubscribe()

			if fresh {
				if err := manager.Save(w, data); err != nil {
					logger.Error("session save failed", zap.Error(err))
				}
			}

			ctx := WithContext(r.Context(), sc)
			ctx = requestctx.WithSessionID(ctx, sc.ID())
			ctx = requestctx.WithLogger(ctx, logger.With(zap.String("session_id", shortID(sc.ID()))))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
