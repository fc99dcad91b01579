package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/catalog"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/orders"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/session"
)

const maxAdminRequestBody = 128 * 1024

// ProductAdmin maintains the catalogue. *catalog.Service satisfies it.
type ProductAdmin interface {
	Create(ctx context.Context, input catalog.ProductInput) (string, error)
	Update(ctx context.Context, id string, input catalog.ProductInput) error
	Delete(ctx context.Context, id string) error
}

// Reports computes dashboard figures. *orders.Service satisfies it.
type Reports interface {
	Analytics(ctx context.Context) orders.Report
	Customers(ctx context.Context) []orders.CustomerStats
}

// AccountCreator provisions Firebase accounts. *auth.FirebaseVerifier satisfies it.
type AccountCreator interface {
	CreateUser(ctx context.Context, account auth.NewAccount) (string, error)
}

// ProfileWriter stores a profile document for a new account.
type ProfileWriter interface {
	CreateProfile(ctx context.Context, user session.User) error
}

// AdminHandlers exposes catalogue maintenance, dashboards and staff provisioning.
type AdminHandlers struct {
	products ProductAdmin
	reports  Reports
	accounts AccountCreator
	profiles ProfileWriter
}

// NewAdminHandlers constructs admin handlers. accounts may be nil when the
// Firebase Admin SDK is not configured; delivery-user creation then answers 503.
func NewAdminHandlers(products ProductAdmin, reports Reports, accounts AccountCreator, profiles ProfileWriter) *AdminHandlers {
	return &AdminHandlers{products: products, reports: reports, accounts: accounts, profiles: profiles}
}

// Routes registers admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/products", h.createProduct)
	r.Put("/products/{productId}", h.updateProduct)
	r.Delete("/products/{productId}", h.deleteProduct)
	r.Get("/analytics", h.analytics)
	r.Get("/customers", h.customers)
	r.Post("/delivery-users", h.createDeliveryUser)
}

func (h *AdminHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	var input catalog.ProductInput
	if err := httpx.DecodeJSON(r, maxAdminRequestBody, &input); err != nil {
		httpx.WriteBadRequest(w, r, err)
		return
	}
	id, err := h.products.Create(r.Context(), input)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *AdminHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	var input catalog.ProductInput
	if err := httpx.DecodeJSON(r, maxAdminRequestBody, &input); err != nil {
		httpx.WriteBadRequest(w, r, err)
		return
	}
	id := chi.URLParam(r, "productId")
	if err := h.products.Update(r.Context(), id, input); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]string{"id": id})
}

func (h *AdminHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.products.Delete(r.Context(), chi.URLParam(r, "productId")); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "product deleted"})
}

func (h *AdminHandlers) analytics(w http.ResponseWriter, r *http.Request) {
	httpx.WriteData(w, http.StatusOK, h.reports.Analytics(r.Context()))
}

func (h *AdminHandlers) customers(w http.ResponseWriter, r *http.Request) {
	stats := h.reports.Customers(r.Context())
	if stats == nil {
		stats = []orders.CustomerStats{}
	}
	httpx.WriteData(w, http.StatusOK, stats)
}

type deliveryUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

func (h *AdminHandlers) createDeliveryUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil || h.profiles == nil {
		httpx.WriteError(ctx, w, httpx.NewError("accounts_unavailable", "account provisioning is not configured", http.StatusServiceUnavailable))
		return
	}
	var req deliveryUserRequest
	if err := httpx.DecodeJSON(r, maxAdminRequestBody, &req); err != nil {
		httpx.WriteBadRequest(w, r, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || len(req.Password) < 6 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "email and a password of at least 6 characters are required", http.StatusBadRequest))
		return
	}

	uid, err := h.accounts.CreateUser(ctx, auth.NewAccount{
		Email:       email,
		Password:    req.Password,
		DisplayName: strings.TrimSpace(req.Name),
		Phone:       strings.TrimSpace(req.Phone),
	})
	if err != nil {
		requestctx.Logger(ctx).Warn("delivery account creation failed", zap.Error(err))
		switch {
		case errors.Is(err, auth.ErrAccountExists):
			httpx.WriteError(ctx, w, httpx.NewError("account_exists", "an account with this email already exists", http.StatusConflict))
		case errors.Is(err, auth.ErrInvalidAccount):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_account", err.Error(), http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("account_creation_failed", "account could not be created", http.StatusBadGateway))
		}
		return
	}

	user := session.User{UID: uid, Email: email, Name: strings.TrimSpace(req.Name), Role: domain.RoleDelivery}
	if err := h.profiles.CreateProfile(ctx, user); err != nil {
		requestctx.Logger(ctx).Error("delivery profile write failed", zap.String("uid", uid), zap.Error(err))
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.Logger(ctx).Info("delivery account created", zap.String("uid", uid))
	httpx.WriteData(w, http.StatusCreated, user)
}
