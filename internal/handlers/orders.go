package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/orders"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/session"
)

const maxStatusRequestBody = 4 * 1024

// OrderService is the order surface behind the shopper, delivery and admin endpoints.
// *orders.Service satisfies it.
type OrderService interface {
	Get(ctx context.Context, viewer orders.Viewer, id string) (domain.Order, error)
	ListForUser(ctx context.Context, uid string) []domain.Order
	ListForDelivery(ctx context.Context) []domain.Order
	ListAll(ctx context.Context) []domain.Order
	UpdateStatus(ctx context.Context, viewer orders.Viewer, id string, status domain.OrderStatus) (domain.Order, error)
}

// OrderHandlers exposes order history and status updates. The same handlers back
// the shopper, delivery and admin route groups; each group is guarded by navigation.
type OrderHandlers struct {
	orders OrderService
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(orders OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers shopper order endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listMine)
	r.Get("/orders/{orderId}", h.get)
}

// DeliveryRoutes registers the delivery dashboard endpoints.
func (h *OrderHandlers) DeliveryRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listDelivery)
	r.Get("/orders/{orderId}", h.get)
	r.Patch("/orders/{orderId}/status", h.updateStatus)
}

// AdminRoutes registers the admin order endpoints.
func (h *OrderHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listAll)
	r.Get("/orders/{orderId}", h.get)
	r.Patch("/orders/{orderId}/status", h.updateStatus)
}

func viewerFrom(r *http.Request) (orders.Viewer, bool) {
	user := session.CurrentUser(r.Context())
	if user == nil || user.UID == "" {
		return orders.Viewer{}, false
	}
	return orders.Viewer{UID: user.UID, Role: user.Role}, true
}

func (h *OrderHandlers) listMine(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerFrom(r)
	if !ok {
		writeServiceError(r.Context(), w, domain.ErrNotAuthenticated)
		return
	}
	httpx.WriteData(w, http.StatusOK, nonNilOrders(h.orders.ListForUser(r.Context(), viewer.UID)))
}

func (h *OrderHandlers) listDelivery(w http.ResponseWriter, r *http.Request) {
	httpx.WriteData(w, http.StatusOK, nonNilOrders(h.orders.ListForDelivery(r.Context())))
}

func (h *OrderHandlers) listAll(w http.ResponseWriter, r *http.Request) {
	httpx.WriteData(w, http.StatusOK, nonNilOrders(h.orders.ListAll(r.Context())))
}

func (h *OrderHandlers) get(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerFrom(r)
	if !ok {
		writeServiceError(r.Context(), w, domain.ErrNotAuthenticated)
		return
	}
	order, err := h.orders.Get(r.Context(), viewer, chi.URLParam(r, "orderId"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, order)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerFrom(r)
	if !ok {
		writeServiceError(r.Context(), w, domain.ErrNotAuthenticated)
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, maxStatusRequestBody, &req); err != nil {
		httpx.WriteBadRequest(w, r, err)
		return
	}
	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	order, err := h.orders.UpdateStatus(r.Context(), viewer, chi.URLParam(r, "orderId"), status)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"order":        order,
		"nextStatuses": orders.NextStatuses(order.CurrentStatus(), viewer.Role),
	})
}

func nonNilOrders(list []domain.Order) []domain.Order {
	if list == nil {
		return []domain.Order{}
	}
	return list
}
