package facade

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const documentsRoot = "api/firebase"

// GetDocument loads collection/id into dst.
func (c *Client) GetDocument(ctx context.Context, collection, id string, dst any) error {
	return c.call(ctx, http.MethodGet, "get_document", nil, nil, dst, documentsRoot, collection, id)
}

// ListDocuments loads the documents matching filters into dst, which must point to a slice.
func (c *Client) ListDocuments(ctx context.Context, collection string, filters url.Values, dst any) error {
	endpoint, err := url.JoinPath(c.baseURL, documentsRoot, collection)
	if err != nil {
		return err
	}
	if len(filters) > 0 {
		endpoint += "?" + filters.Encode()
	}
	return c.callURL(ctx, http.MethodGet, "list_documents", endpoint, nil, nil, dst)
}

// CreateDocument stores doc and returns the generated id.
func (c *Client) CreateDocument(ctx context.Context, collection string, doc any) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "create_document", doc, nil, &created, documentsRoot, collection); err != nil {
		return "", err
	}
	return strings.TrimSpace(created.ID), nil
}

// UpdateDocument merges fields into collection/id.
func (c *Client) UpdateDocument(ctx context.Context, collection, id string, fields any) error {
	return c.call(ctx, http.MethodPut, "update_document", fields, nil, nil, documentsRoot, collection, id)
}

// DeleteDocument removes collection/id.
func (c *Client) DeleteDocument(ctx context.Context, collection, id string) error {
	return c.call(ctx, http.MethodDelete, "delete_document", nil, nil, nil, documentsRoot, collection, id)
}
