// Package embedded is a self-contained implementation of the store seam:
// per-collection document maps with a field-aware inverted index,
// Elasticsearch-style refresh semantics (lookups are realtime, queries see
// only refreshed documents), and per-collection disk snapshots so a staged
// pipeline can resume across process runs.
package embedded

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/stackoff/stackoff/internal/dump"
	"github.com/stackoff/stackoff/internal/store"
	apperrors "github.com/stackoff/stackoff/pkg/errors"
)

type collection struct {
	kind    dump.RecordKind
	schema  dump.Schema
	mu      sync.RWMutex
	staged  map[int64]store.Document
	visible map[int64]store.Document
	index   *fieldIndex
}

func newCollection(kind dump.RecordKind) *collection {
	return &collection{
		kind:    kind,
		schema:  dump.SchemaFor(kind),
		staged:  make(map[int64]store.Document),
		visible: make(map[int64]store.Document),
		index:   newFieldIndex(),
	}
}

// Engine implements store.Store in process. When dataDir is non-empty,
// every Refresh also snapshots the collection to disk and Open reloads
// snapshots found there.
type Engine struct {
	mu          sync.RWMutex
	dataDir     string
	collections map[string]*collection
	logger      *slog.Logger
}

// Open creates an Engine. A non-empty dataDir enables snapshot persistence
// and loads any snapshots already present.
func Open(dataDir string) (*Engine, error) {
	e := &Engine{
		dataDir:     dataDir,
		collections: make(map[string]*collection),
		logger:      slog.Default().With("component", "embedded-store"),
	}
	if dataDir != "" {
		if err := e.loadSnapshots(); err != nil {
			return nil, fmt.Errorf("loading snapshots: %w", err)
		}
	}
	return e, nil
}

func (e *Engine) CreateCollection(ctx context.Context, name string, kind dump.RecordKind) error {
	if dump.SchemaFor(kind) == nil {
		return apperrors.Newf(apperrors.ErrUnknownKind, "create collection %s: kind %d", name, int(kind))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.collections[name]; exists {
		return apperrors.Newf(apperrors.ErrCollectionExists, "%s", name)
	}
	e.collections[name] = newCollection(kind)
	e.logger.Debug("collection created", "collection", name, "kind", kind.String())
	return nil
}

func (e *Engine) DropCollection(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.collections[name]; !exists {
		return apperrors.Newf(apperrors.ErrCollectionNotFound, "%s", name)
	}
	delete(e.collections, name)
	if e.dataDir != "" {
		e.dropSnapshot(name)
	}
	e.logger.Debug("collection dropped", "collection", name)
	return nil
}

func (e *Engine) PutDocument(ctx context.Context, collectionName string, kind dump.RecordKind, id int64, body store.Document) error {
	if id == dump.NotANumber || id < 0 {
		return apperrors.Newf(apperrors.ErrInvalidID, "Invalid Id %d for %s", id, collectionName)
	}
	c, err := e.collection(collectionName)
	if err != nil {
		return err
	}
	if kind != c.kind {
		return apperrors.Newf(apperrors.ErrUnknownKind,
			"kind %s does not match collection %s (%s)", kind.String(), collectionName, c.kind.String())
	}
	doc := make(store.Document, len(body))
	for field, value := range body {
		doc[field] = value
	}
	c.mu.Lock()
	c.staged[id] = doc
	c.mu.Unlock()
	return nil
}

func (e *Engine) GetDocumentsByIds(ctx context.Context, collectionName string, kind dump.RecordKind, ids []int64) ([]store.Hit, error) {
	c, err := e.collection(collectionName)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	hits := make([]store.Hit, 0, len(ids))
	for _, id := range ids {
		if doc := c.get(id); doc != nil {
			hits = append(hits, store.Hit{ID: id, Source: doc})
		}
	}
	return hits, nil
}

func (e *Engine) ExistsBatch(ctx context.Context, collectionName string, kind dump.RecordKind, ids []int64) (map[int64]bool, error) {
	c, err := e.collection(collectionName)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	found := make(map[int64]bool, len(ids))
	for _, id := range ids {
		found[id] = c.get(id) != nil
	}
	return found, nil
}

func (e *Engine) Query(ctx context.Context, collectionName string, q store.TermQuery) ([]store.Hit, error) {
	c, err := e.collection(collectionName)
	if err != nil {
		return nil, err
	}
	ft, declared := c.schema[q.Field]
	if !declared {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.index.lookup(q.Field, ft, q.Values)
	hits := make([]store.Hit, 0, len(ids))
	for _, id := range ids {
		if doc, ok := c.visible[id]; ok {
			hits = append(hits, store.Hit{ID: id, Source: doc})
		}
	}
	return hits, nil
}

// Refresh makes staged documents visible to Query, reindexes them, and
// snapshots the collection when persistence is enabled.
func (e *Engine) Refresh(ctx context.Context, collectionName string) error {
	c, err := e.collection(collectionName)
	if err != nil {
		return err
	}
	c.mu.Lock()
	staged := c.staged
	c.staged = make(map[int64]store.Document)
	for id, doc := range staged {
		if _, overwrite := c.visible[id]; overwrite {
			c.index.remove(id)
		}
		c.visible[id] = doc
		c.index.add(id, doc, c.schema)
	}
	made := len(staged)
	total := len(c.visible)
	c.mu.Unlock()

	if e.dataDir != "" {
		if err := e.writeSnapshot(collectionName, c); err != nil {
			return fmt.Errorf("snapshotting %s: %w", collectionName, err)
		}
	}
	e.logger.Debug("collection refreshed",
		"collection", collectionName,
		"made_visible", made,
		"total_docs", total,
	)
	return nil
}

// CollectionNames lists existing collections, sorted.
func (e *Engine) CollectionNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.collections))
	for name := range e.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) collection(name string) (*collection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.collections[name]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCollectionNotFound, "%s", name)
	}
	return c, nil
}

// get returns the document for id regardless of refresh state. Callers
// hold c.mu.
func (c *collection) get(id int64) store.Document {
	if doc, ok := c.staged[id]; ok {
		return doc
	}
	if doc, ok := c.visible[id]; ok {
		return doc
	}
	return nil
}
