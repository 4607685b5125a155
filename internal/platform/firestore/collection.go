package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot together with its server timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// WriteResult reports the server time a mutation was applied.
type WriteResult struct {
	UpdateTime time.Time
}

// Collection gives typed access to one top-level collection. T must be a
// struct carrying firestore tags.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a collection name to the provider's client.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Set overwrites the document with id.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) (WriteResult, error) {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return WriteResult{}, err
	}
	res, err := ref.Set(ctx, value)
	return c.result(res, "set", err)
}

// Create writes a new document and fails with a conflict when id exists.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) (WriteResult, error) {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return WriteResult{}, err
	}
	res, err := ref.Create(ctx, value)
	return c.result(res, "create", err)
}

// Update applies field updates; a missing document yields a not-found error.
func (c *Collection[T]) Update(ctx context.Context, id string, updates []firestore.Update, preconds ...firestore.Precondition) (WriteResult, error) {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return WriteResult{}, err
	}
	res, err := ref.Update(ctx, updates, preconds...)
	return c.result(res, "update", err)
}

// Delete removes the document. Pass firestore.Exists to fail when it is absent.
func (c *Collection[T]) Delete(ctx context.Context, id string, preconds ...firestore.Precondition) (WriteResult, error) {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return WriteResult{}, err
	}
	res, err := ref.Delete(ctx, preconds...)
	return c.result(res, "delete", err)
}

// Get loads a single document.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.name+".get", err)
	}
	return c.decode(snap)
}

// Query runs the query produced by build against the collection.
func (c *Collection[T]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]Document[T], error) {
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, WrapError(c.name+".query", err)
	}
	q := client.Collection(c.name).Query
	if build != nil {
		q = build(q)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()
	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(c.name+".query", err)
		}
		doc, err := c.decode(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

func (c *Collection[T]) doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if c == nil || c.provider == nil {
		return nil, errors.New("firestore: collection not initialised")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("firestore: document id is required")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, WrapError(c.name, err)
	}
	return client.Collection(c.name).Doc(id), nil
}

func (c *Collection[T]) decode(snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, WrapError(c.name+".decode", err)
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       data,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}

func (c *Collection[T]) result(res *firestore.WriteResult, action string, err error) (WriteResult, error) {
	if err != nil {
		return WriteResult{}, WrapError(c.name+"."+action, err)
	}
	if res == nil {
		return WriteResult{}, nil
	}
	return WriteResult{UpdateTime: res.UpdateTime}, nil
}
