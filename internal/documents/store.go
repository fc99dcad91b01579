// Package documents exposes schemaless collection access used by the HTTP facade.
package documents

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("documents: not found")
	// ErrCollectionNotAllowed indicates the collection is not served by the facade.
	ErrCollectionNotAllowed = errors.New("documents: collection not allowed")
	// ErrInvalidQuery indicates malformed query parameters.
	ErrInvalidQuery = errors.New("documents: invalid query")
	// ErrAlreadyExists indicates a create named an id that is taken.
	ErrAlreadyExists = errors.New("documents: already exists")
)

// Collections served by the facade.
const (
	CollectionProducts = "products"
	CollectionOrders   = "orders"
	CollectionUsers    = "users"
)

// DefaultCollections lists the collections the facade exposes.
var DefaultCollections = []string{CollectionProducts, CollectionOrders, CollectionUsers}

// Document is a decoded document body. The "id" key is always populated on reads.
type Document map[string]any

// ID returns the document identifier.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query narrows a collection listing.
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Store abstracts collection CRUD so the facade can run on Firestore or in memory.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	List(ctx context.Context, collection string, q Query) ([]Document, error)
	// Create stores data under data.ID() when set, otherwise under a generated id.
	Create(ctx context.Context, collection string, data Document) (Document, error)
	Update(ctx context.Context, collection, id string, data Document) (Document, error)
	Delete(ctx context.Context, collection, id string) error
}

// Allowlist guards a Store so only known collections are reachable.
type Allowlist struct {
	next    Store
	allowed map[string]struct{}
}

// NewAllowlist wraps next and restricts it to the given collections.
func NewAllowlist(next Store, collections ...string) *Allowlist {
	if len(collections) == 0 {
		collections = DefaultCollections
	}
	allowed := make(map[string]struct{}, len(collections))
	for _, c := range collections {
		if c = strings.TrimSpace(c); c != "" {
			allowed[c] = struct{}{}
		}
	}
	return &Allowlist{next: next, allowed: allowed}
}

func (a *Allowlist) check(collection string) error {
	if _, ok := a.allowed[collection]; !ok {
		return ErrCollectionNotAllowed
	}
	return nil
}

// Get implements Store.
func (a *Allowlist) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := a.check(collection); err != nil {
		return nil, err
	}
	return a.next.Get(ctx, collection, id)
}

// List implements Store.
func (a *Allowlist) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := a.check(collection); err != nil {
		return nil, err
	}
	return a.next.List(ctx, collection, q)
}

// Create implements Store.
func (a *Allowlist) Create(ctx context.Context, collection string, data Document) (Document, error) {
	if err := a.check(collection); err != nil {
		return nil, err
	}
	return a.next.Create(ctx, collection, data)
}

// Update implements Store.
func (a *Allowlist) Update(ctx context.Context, collection, id string, data Document) (Document, error) {
	if err := a.check(collection); err != nil {
		return nil, err
	}
	return a.next.Update(ctx, collection, id, data)
}

// Delete implements Store.
func (a *Allowlist) Delete(ctx context.Context, collection, id string) error {
	if err := a.check(collection); err != nil {
		return err
	}
	return a.next.Delete(ctx, collection, id)
}

// withoutID strips the synthetic id key before persisting.
func withoutID(data Document) Document {
	out := make(Document, len(data))
	for k, v := range data {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

func sortDocuments(docs []Document, field string, desc bool) {
	if field == "" {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		cmp := compareValues(docs[i][field], docs[j][field])
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case int64:
		if bv, ok := b.(int64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	}
	switch {
	case a == nil && b != nil:
		return -1
	case a != nil && b == nil:
		return 1
	}
	return 0
}
