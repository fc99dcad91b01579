package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
)

// FirestoreStore serves collections straight from Firestore.
type FirestoreStore struct {
	provider *pfirestore.Provider
}

// NewFirestoreStore binds a Store to the shared Firestore provider.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{provider: provider}
}

// Get implements Store.
func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (Document, error) {
	ref, err := s.doc(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return nil, s.wrap(collection, "get", err)
	}
	return fromSnapshot(snap), nil
}

// List implements Store.
func (s *FirestoreStore) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(collection).Query
	for _, f := range q.Filters {
		query = query.Where(f.Field, "==", f.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Descending {
			dir = firestore.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, s.wrap(collection, "query", err)
		}
		docs = append(docs, fromSnapshot(snap))
	}
	return docs, nil
}

// Create implements Store.
func (s *FirestoreStore) Create(ctx context.Context, collection string, data Document) (Document, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	ref := client.Collection(collection).NewDoc()
	if id := strings.TrimSpace(data.ID()); id != "" {
		if ref, err = s.doc(ctx, collection, id); err != nil {
			return nil, err
		}
	}
	payload := withoutID(data)
	if _, err := ref.Create(ctx, map[string]any(payload)); err != nil {
		return nil, s.wrap(collection, "create", err)
	}
	return withID(payload, ref.ID), nil
}

// Update implements Store. Only the supplied top-level fields change; a missing document
// yields ErrNotFound rather than an upsert.
func (s *FirestoreStore) Update(ctx context.Context, collection, id string, data Document) (Document, error) {
	ref, err := s.doc(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	payload := withoutID(data)
	if len(payload) == 0 {
		return s.Get(ctx, collection, id)
	}
	updates := make([]firestore.Update, 0, len(payload))
	for k, v := range payload {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	if _, err := ref.Update(ctx, updates); err != nil {
		return nil, s.wrap(collection, "update", err)
	}
	return s.Get(ctx, collection, id)
}

// Delete implements Store.
func (s *FirestoreStore) Delete(ctx context.Context, collection, id string) error {
	ref, err := s.doc(ctx, collection, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return s.wrap(collection, "delete", err)
	}
	return nil
}

func (s *FirestoreStore) doc(ctx context.Context, collection, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		return nil, fmt.Errorf("%w: invalid document id", ErrInvalidQuery)
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(collection).Doc(id), nil
}

func (s *FirestoreStore) wrap(collection, action string, err error) error {
	wrapped := pfirestore.WrapError(collection+"."+action, err)
	if pfirestore.IsNotFound(wrapped) {
		return fmt.Errorf("%w: %v", ErrNotFound, wrapped)
	}
	if action == "create" && pfirestore.IsConflict(wrapped) {
		return fmt.Errorf("%w: %v", ErrAlreadyExists, wrapped)
	}
	return wrapped
}

func fromSnapshot(snap *firestore.DocumentSnapshot) Document {
	data := snap.Data()
	doc := make(Document, len(data)+1)
	for k, v := range data {
		doc[k] = v
	}
	doc["id"] = snap.Ref.ID
	return doc
}
