package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/platform/httpx"
)

const maxCartRequestBody = 8 * 1024

// CartService is the reducer surface the cart endpoints drive. *cart.Service satisfies it.
type CartService interface {
	Get(sessionID string) cart.State
	Add(ctx context.Context, sessionID string, req cart.AddRequest) (cart.State, error)
	Remove(sessionID, productID string) cart.State
	UpdateQuantity(sessionID, productID string, quantity int) cart.State
	Clear(sessionID string) cart.State
}

// CartHandlers exposes the session cart.
type CartHandlers struct {
	carts    CartService
	currency string
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(carts CartService, currency string) *CartHandlers {
	if strings.TrimSpace(currency) == "" {
		currency = "INR"
	}
	return &CartHandlers{carts: carts, currency: strings.ToUpper(currency)}
}

// Routes registers the cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/cart", h.get)
	r.Post("/cart/items", h.addItem)
	r.Patch("/cart/items/{productId}", h.updateQuantity)
	r.Delete("/cart/items/{productId}", h.removeItem)
	r.Delete("/cart", h.clear)
}

// cartView is the cart as the browser renders it. Amounts are minor units.
type cartView struct {
	cart.State
	ShippingTotal int64  `json:"shippingTotal"`
	FinalTotal    int64  `json:"finalTotal"`
	Currency      string `json:"currency"`
}

func (h *CartHandlers) view(state cart.State) cartView {
	if state.Items == nil {
		state.Items = []cart.Item{}
	}
	return cartView{
		State:         state,
		ShippingTotal: cart.ShippingTotal(state),
		FinalTotal:    cart.FinalTotal(state),
		Currency:      h.currency,
	}
}

func (h *CartHandlers) get(w http.ResponseWriter, r *http.Request) {
	httpx.WriteData(w, http.StatusOK, h.view(h.carts.Get(sessionID(r))))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	var req cart.AddRequest
	if err := httpx.DecodeJSON(r, maxCartRequestBody, &req); err != nil {
		httpx.WriteBadRequest(w, r, err)
		return
	}
	state, err := h.carts.Add(r.Context(), sessionID(r), req)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_item", err.Error(), http.StatusBadRequest))
		return
	}
	httpx.WriteData(w, http.StatusOK, h.view(state))
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandlers) updateQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := httpx.DecodeJSON(r, maxCartRequestBody, &req); err != nil {
		httpx.WriteBadRequest(w, r, err)
		return
	}
	state := h.carts.UpdateQuantity(sessionID(r), chi.URLParam(r, "productId"), req.Quantity)
	httpx.WriteData(w, http.StatusOK, h.view(state))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	state := h.carts.Remove(sessionID(r), chi.URLParam(r, "productId"))
	httpx.WriteData(w, http.StatusOK, h.view(state))
}

func (h *CartHandlers) clear(w http.ResponseWriter, r *http.Request) {
	httpx.WriteData(w, http.StatusOK, h.view(h.carts.Clear(sessionID(r))))
}
