// Package docstore defines the keyed document store the queue engine is
// built on: per-key point operations, an atomic multi-document batch,
// and ordered snapshot subscriptions. The engine never assumes anything
// about the backing implementation beyond this contract.
package docstore

import (
	"context"
	"errors"
)

// Document is a stored document with its key and field map.
type Document struct {
	Key    string
	Fields map[string]interface{}
}

// OrderBy is a strict-weak ordering over documents used by Subscribe to
// produce consistently ordered snapshots.
type OrderBy func(a, b Document) bool

// OpKind discriminates batch operations.
type OpKind string

const (
	OpPut    OpKind = "put"
	OpDelete OpKind = "delete"
)

// Op is a single operation inside an atomic batch.
type Op struct {
	Kind       OpKind
	Collection string
	Key        string
	Fields     map[string]interface{}
}

// Store is the durable document store collaborator. Writes are keyed
// per document so concurrent writers on different keys never contend.
type Store interface {
	// Put creates or replaces the document at (collection, key).
	Put(ctx context.Context, collection, key string, fields map[string]interface{}) error

	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, key string) (Document, error)

	// Delete removes the document; deleting an absent key is a no-op.
	Delete(ctx context.Context, collection, key string) error

	// List returns every document in the collection in unspecified order.
	List(ctx context.Context, collection string) ([]Document, error)

	// Subscribe streams ordered snapshots of the collection. The first
	// snapshot is delivered promptly; a new one follows every mutation.
	// The returned cancel func releases the subscription; the channel is
	// closed on cancel or when ctx is done.
	Subscribe(ctx context.Context, collection string, less OrderBy) (<-chan []Document, func(), error)

	// ApplyBatch applies all operations atomically: either every op is
	// visible afterwards or none is.
	ApplyBatch(ctx context.Context, ops []Op) error
}

// ErrNotFound is returned by Get for absent documents.
var ErrNotFound = errors.New("docstore: document not found")
