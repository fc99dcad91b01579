package documents

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// MemoryStore keeps documents in process. It backs local development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
	newID       func() string
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Document),
		newID:       func() string { return ulid.Make().String() },
	}
}

// Seed inserts a document with a fixed id, overwriting any existing one.
func (s *MemoryStore) Seed(collection, id string, data Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(collection)[id] = clone(withoutID(data))
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return withID(doc, id), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, collection string, q Query) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.collections[collection]))
	for id, doc := range s.collections[collection] {
		if matches(doc, q.Filters) {
			out = append(out, withID(doc, id))
		}
	}
	field := q.OrderBy
	if field == "" {
		field = "id"
	}
	sortDocuments(out, field, q.Descending)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, collection string, data Document) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.TrimSpace(data.ID())
	if id == "" {
		id = s.newID()
	} else if _, taken := s.bucket(collection)[id]; taken {
		return nil, ErrAlreadyExists
	}
	doc := clone(withoutID(data))
	s.bucket(collection)[id] = doc
	return withID(doc, id), nil
}

// Update implements Store. Top-level keys are merged into the existing document.
func (s *MemoryStore) Update(_ context.Context, collection, id string, data Document) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	for k, v := range withoutID(data) {
		doc[k] = v
	}
	return withID(doc, id), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection][id]; !ok {
		return ErrNotFound
	}
	delete(s.collections[collection], id)
	return nil
}

func (s *MemoryStore) bucket(collection string) map[string]Document {
	b, ok := s.collections[collection]
	if !ok {
		b = make(map[string]Document)
		s.collections[collection] = b
	}
	return b
}

func matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !reflect.DeepEqual(lookup(doc, f.Field), f.Value) {
			return false
		}
	}
	return true
}

// lookup resolves dotted field paths through nested maps, as Firestore does.
func lookup(doc Document, field string) any {
	var current any = map[string]any(doc)
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func withID(doc Document, id string) Document {
	out := clone(doc)
	out["id"] = id
	return out
}

func clone(doc Document) Document {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	return out
}
