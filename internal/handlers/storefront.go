package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/navigation"
	"github.com/hanko-field/storefront/internal/session"
)

// Storefront groups the browser-facing handlers behind the session cookie.
type Storefront struct {
	Sessions *session.Manager
	Session  *SessionHandlers
	Catalog  *CatalogHandlers
	Cart     *CartHandlers
	Checkout *CheckoutHandlers
	Orders   *OrderHandlers
	Admin    *AdminHandlers
}

// Options returns the router options that mount every storefront group with its
// navigation guard.
func (s Storefront) Options() []Option {
	opts := []Option{WithMiddlewares(session.Middleware(s.Sessions))}

	public := func(r chi.Router) {
		if s.Session != nil {
			s.Session.Routes(r)
		}
		if s.Catalog != nil {
			s.Catalog.Routes(r)
		}
		if s.Cart != nil {
			s.Cart.Routes(r)
		}
	}
	opts = append(opts, WithRoutes("/", public, navigation.Middleware(navigation.RequireAny)))

	shopper := func(r chi.Router) {
		if s.Checkout != nil {
			s.Checkout.Routes(r)
		}
		if s.Orders != nil {
			s.Orders.Routes(r)
		}
	}
	opts = append(opts, WithRoutes("/", shopper, navigation.Middleware(navigation.RequireUser)))

	admin := func(r chi.Router) {
		if s.Admin != nil {
			s.Admin.Routes(r)
		}
		if s.Orders != nil {
			s.Orders.AdminRoutes(r)
		}
	}
	opts = append(opts, WithRoutes("/admin", admin, navigation.Middleware(navigation.RequireAdmin)))

	if s.Orders != nil {
		opts = append(opts, WithRoutes("/delivery", s.Orders.DeliveryRoutes, navigation.Middleware(navigation.RequireDelivery)))
	}
	return opts
}
