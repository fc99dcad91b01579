package navigation

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/session"
)

// Middleware guards a route group. Browsers are redirected with 303 See Other;
// JSON clients receive 401 when anonymous and 403 when signed in with another role.
func Middleware(required Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := session.CurrentUser(r.Context())
			decision := Gate(user, required)
			if decision.Kind == Allow {
				next.ServeHTTP(w, r)
				return
			}

			requestctx.Logger(r.Context()).Info("navigation denied",
				zap.String("path", r.URL.Path),
				zap.String("required", string(required)),
				zap.Stringer("decision", decision.Kind),
			)

			if wantsJSON(r) {
				switch {
				case decision.Kind == RedirectLogin && (user == nil || user.UID == ""):
					httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "sign in required", http.StatusUnauthorized).
						WithDetails(map[string]any{"location": decision.Location}))
				default:
					httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "role not permitted", http.StatusForbidden).
						WithDetails(map[string]any{"location": decision.Location}))
				}
				return
			}
			http.Redirect(w, r, decision.Location, http.StatusSeeOther)
		})
	}
}

func wantsJSON(r *http.Request) bool {
	accept := strings.ToLower(r.Header.Get("Accept"))
	if strings.Contains(accept, "application/json") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json")
}
