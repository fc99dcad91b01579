package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/catalog"
	"github.com/hanko-field/storefront/internal/platform/httpx"
)

// CatalogReader serves the public catalogue. *catalog.Service satisfies it.
type CatalogReader interface {
	List(ctx context.Context, filter catalog.Filter) []catalog.Listing
	Categories(ctx context.Context) []string
	Listing(ctx context.Context, id string) (catalog.Listing, error)
}

// CatalogHandlers exposes product browsing.
type CatalogHandlers struct {
	catalog CatalogReader
}

// NewCatalogHandlers constructs catalogue handlers.
func NewCatalogHandlers(catalog CatalogReader) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes registers the catalogue endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.list)
	r.Get("/products/{productId}", h.get)
	r.Get("/categories", h.categories)
}

func (h *CatalogHandlers) list(w http.ResponseWriter, r *http.Request) {
	listings := h.catalog.List(r.Context(), catalog.ParseFilter(r.URL.Query()))
	httpx.WriteData(w, http.StatusOK, listings)
}

func (h *CatalogHandlers) get(w http.ResponseWriter, r *http.Request) {
	listing, err := h.catalog.Listing(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, listing)
}

func (h *CatalogHandlers) categories(w http.ResponseWriter, r *http.Request) {
	categories := h.catalog.Categories(r.Context())
	if categories == nil {
		categories = []string{}
	}
	httpx.WriteData(w, http.StatusOK, categories)
}
