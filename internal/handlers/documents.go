package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/documents"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

const maxDocumentBody = 256 * 1024

// DocumentHandlers exposes generic collection CRUD over a documents.Store.
type DocumentHandlers struct {
	store documents.Store
}

// NewDocumentHandlers constructs the document facade handlers.
func NewDocumentHandlers(store documents.Store) *DocumentHandlers {
	return &DocumentHandlers{store: store}
}

// Routes registers the document endpoints under the provided router.
func (h *DocumentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{collection}", h.list)
	r.Post("/{collection}", h.create)
	r.Get("/{collection}/{id}", h.get)
	r.Put("/{collection}/{id}", h.update)
	r.Delete("/{collection}/{id}", h.delete)
}

func (h *DocumentHandlers) get(w http.ResponseWriter, r *http.Request) {
	collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "id")
	doc, err := h.store.Get(r.Context(), collection, id)
	if err != nil {
		writeDocumentError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, doc)
}

func (h *DocumentHandlers) list(w http.ResponseWriter, r *http.Request) {
	query, err := documents.ParseQuery(r.URL.Query())
	if err != nil {
		writeDocumentError(w, r, err)
		return
	}
	docs, err := h.store.List(r.Context(), chi.URLParam(r, "collection"), query)
	if err != nil {
		writeDocumentError(w, r, err)
		return
	}
	if docs == nil {
		docs = []documents.Document{}
	}
	httpx.WriteData(w, http.StatusOK, docs)
}

func (h *DocumentHandlers) create(w http.ResponseWriter, r *http.Request) {
	var body documents.Document
	if err := httpx.DecodeJSON(r, maxDocumentBody, &body); err != nil {
		httpx.WriteBadRequest(w, r, err)
		return
	}
	if len(body) == 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "document body is required", http.StatusBadRequest))
		return
	}
	if id, ok := body["id"].(string); ok {
		body["id"] = strings.TrimSpace(id)
	}
	created, err := h.store.Create(r.Context(), chi.URLParam(r, "collection"), body)
	if err != nil {
		writeDocumentError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, created)
}

func (h *DocumentHandlers) update(w http.ResponseWriter, r *http.Request) {
	var body documents.Document
	if err := httpx.DecodeJSON(r, maxDocumentBody, &body); err != nil {
		httpx.WriteBadRequest(w, r, err)
		return
	}
	collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "id")
	updated, err := h.store.Update(r.Context(), collection, id, body)
	if err != nil {
		writeDocumentError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, updated)
}

func (h *DocumentHandlers) delete(w http.ResponseWriter, r *http.Request) {
	collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), collection, id); err != nil {
		writeDocumentError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "deleted"})
}

func writeDocumentError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, documents.ErrNotFound), errors.Is(err, documents.ErrCollectionNotAllowed):
		httpx.WriteError(ctx, w, httpx.NewError("document_not_found", "document not found", http.StatusNotFound))
	case errors.Is(err, documents.ErrInvalidQuery):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_query", err.Error(), http.StatusBadRequest))
	case errors.Is(err, documents.ErrAlreadyExists):
		httpx.WriteError(ctx, w, httpx.NewError("document_exists", "document already exists", http.StatusConflict))
	default:
		requestctx.Logger(ctx).Error("document store failure", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "document store unavailable", http.StatusBadGateway))
	}
}
