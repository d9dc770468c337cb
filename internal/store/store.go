// Package store defines the seam to the target document store. The store
// itself is an external collaborator (an Elasticsearch-style search
// service); the pipeline only depends on this interface. The embedded
// subpackage provides a self-contained implementation for local runs and
// tests.
package store

import (
	"context"

	"github.com/stackoff/stackoff/internal/dump"
)

// Document is the body written for one record. It aliases dump.Record so
// the typed field accessors work on both sides of the store boundary.
type Document = dump.Record

// Hit is one document returned from a lookup or query.
type Hit struct {
	ID     int64
	Source Document
}

// TermQuery matches documents whose field holds any of the given values.
// Text fields match on stemmed terms; integer and keyword fields match
// exactly.
type TermQuery struct {
	Field  string
	Values []string
}

// Store is the target document store.
//
// PutDocument must reject a negative or non-numeric id (ErrInvalidID) and
// an unknown kind (ErrUnknownKind). GetDocumentsByIds and ExistsBatch are
// realtime; Query only observes documents made visible by Refresh.
type Store interface {
	CreateCollection(ctx context.Context, name string, kind dump.RecordKind) error
	DropCollection(ctx context.Context, name string) error
	PutDocument(ctx context.Context, collection string, kind dump.RecordKind, id int64, body Document) error
	GetDocumentsByIds(ctx context.Context, collection string, kind dump.RecordKind, ids []int64) ([]Hit, error)
	ExistsBatch(ctx context.Context, collection string, kind dump.RecordKind, ids []int64) (map[int64]bool, error)
	Query(ctx context.Context, collection string, q TermQuery) ([]Hit, error)
	Refresh(ctx context.Context, collection string) error
}
