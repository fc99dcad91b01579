package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/session"
)

const maxSessionRequestBody = 16 * 1024

// Identifier verifies a Firebase ID token. *auth.Authenticator satisfies it.
type Identifier interface {
	Identify(ctx context.Context, idToken string) (*auth.Identity, error)
}

// ProfileResolver resolves the stored profile of a verified principal.
type ProfileResolver interface {
	Load(ctx context.Context, uid, email, name string) *session.User
}

// CartDropper discards the cart of a session that signs out.
type CartDropper interface {
	Drop(sessionID string)
}

// SessionHandlers signs shoppers in and out of the cookie session.
type SessionHandlers struct {
	authn    Identifier
	profiles ProfileResolver
	carts    CartDropper
}

// NewSessionHandlers constructs session handlers.
func NewSessionHandlers(authn Identifier, profiles ProfileResolver, carts CartDropper) *SessionHandlers {
	return &SessionHandlers{authn: authn, profiles: profiles, carts: carts}
}

// Routes registers the session endpoints.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/session", h.current)
	r.Post("/session", h.signIn)
	r.Delete("/session", h.signOut)
}

type signInRequest struct {
	IDToken string `json:"idToken"`
}

func (h *SessionHandlers) current(w http.ResponseWriter, r *http.Request) {
	httpx.WriteData(w, http.StatusOK, map[string]any{"user": session.CurrentUser(r.Context())})
}

func (h *SessionHandlers) signIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sc, ok := session.FromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "session middleware not installed", http.StatusInternalServerError))
		return
	}

	var req signInRequest
	if err := httpx.DecodeJSON(r, maxSessionRequestBody, &req); err != nil {
		httpx.WriteBadRequest(w, r, err)
		return
	}
	token := strings.TrimSpace(req.IDToken)
	if token == "" {
		token, _ = auth.BearerToken(r.Header.Get("Authorization"))
	}

	identity, err := h.authn.Identify(ctx, token)
	if err != nil {
		reason := "token_invalid"
		switch {
		case errors.Is(err, auth.ErrTokenMissing):
			reason = "missing_token"
		case errors.Is(err, auth.ErrTokenExpired):
			reason = "token_expired"
		}
		requestctx.Logger(ctx).Info("sign-in rejected", zap.String("reason", reason), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError(reason, "sign in failed", http.StatusUnauthorized))
		return
	}

	user := h.profiles.Load(ctx, identity.UID, identity.Email, identity.Name)
	sc.SetUser(user)
	requestctx.Logger(ctx).Info("signed in", zap.String("uid", user.UID), zap.String("role", user.Role.String()))
	httpx.WriteData(w, http.StatusOK, map[string]any{"user": user})
}

func (h *SessionHandlers) signOut(w http.ResponseWriter, r *http.Request) {
	if sc, ok := session.FromContext(r.Context()); ok {
		sc.Clear()
		if h.carts != nil {
			h.carts.Drop(sc.ID())
		}
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "signed out"})
}

// sessionID returns the session id the cart is keyed by.
func sessionID(r *http.Request) string {
	if sc, ok := session.FromContext(r.Context()); ok {
		return sc.ID()
	}
	return requestctx.SessionID(r.Context())
}
