package facade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hanko-field/storefront/internal/documents"
)

// LocalDocuments serves the document half of the facade contract from a
// documents.Store in process. Values round-trip through JSON so callers observe the
// same shapes the HTTP client returns.
type LocalDocuments struct {
	store documents.Store
}

// NewLocalDocuments wraps store.
func NewLocalDocuments(store documents.Store) *LocalDocuments {
	return &LocalDocuments{store: store}
}

// GetDocument implements the facade document contract.
func (l *LocalDocuments) GetDocument(ctx context.Context, collection, id string, dst any) error {
	doc, err := l.store.Get(ctx, collection, id)
	if err != nil {
		return localError(err)
	}
	return roundTrip(doc, dst)
}

// ListDocuments implements the facade document contract.
func (l *LocalDocuments) ListDocuments(ctx context.Context, collection string, filters url.Values, dst any) error {
	query, err := documents.ParseQuery(filters)
	if err != nil {
		return &Error{Status: http.StatusBadRequest, Code: "invalid_query", Message: err.Error()}
	}
	docs, err := l.store.List(ctx, collection, query)
	if err != nil {
		return localError(err)
	}
	return roundTrip(docs, dst)
}

// CreateDocument implements the facade document contract.
func (l *LocalDocuments) CreateDocument(ctx context.Context, collection string, doc any) (string, error) {
	var data documents.Document
	if err := roundTrip(doc, &data); err != nil {
		return "", err
	}
	created, err := l.store.Create(ctx, collection, data)
	if err != nil {
		return "", localError(err)
	}
	return created.ID(), nil
}

// UpdateDocument implements the facade document contract.
func (l *LocalDocuments) UpdateDocument(ctx context.Context, collection, id string, fields any) error {
	var data documents.Document
	if err := roundTrip(fields, &data); err != nil {
		return err
	}
	if _, err := l.store.Update(ctx, collection, id, data); err != nil {
		return localError(err)
	}
	return nil
}

// DeleteDocument implements the facade document contract.
func (l *LocalDocuments) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := l.store.Delete(ctx, collection, id); err != nil {
		return localError(err)
	}
	return nil
}

func localError(err error) error {
	switch {
	case errors.Is(err, documents.ErrNotFound), errors.Is(err, documents.ErrCollectionNotAllowed):
		return &Error{Status: http.StatusNotFound, Code: "document_not_found", Message: err.Error()}
	case errors.Is(err, documents.ErrInvalidQuery):
		return &Error{Status: http.StatusBadRequest, Code: "invalid_query", Message: err.Error()}
	case errors.Is(err, documents.ErrAlreadyExists):
		return &Error{Status: http.StatusConflict, Code: "document_exists", Message: err.Error()}
	default:
		return fmt.Errorf("%w: %v", ErrRemoteFetchFailed, err)
	}
}

func roundTrip(src, dst any) error {
	if dst == nil {
		return nil
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("facade: encode: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("facade: decode: %w", err)
	}
	return nil
}
