package embedded

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stackoff/stackoff/internal/dump"
	"github.com/stackoff/stackoff/internal/store"
)

var _ store.Store = (*Engine)(nil)

const snapshotSuffix = ".coll.json"

// snapshotFile is the on-disk form of one collection: every visible
// document, keyed by id. Staged (unrefreshed) documents are deliberately
// not persisted; a crash before Refresh re-runs the pass.
type snapshotFile struct {
	Kind string                    `json:"kind"`
	Docs map[string]store.Document `json:"docs"`
}

func (e *Engine) snapshotPath(name string) string {
	return filepath.Join(e.dataDir, name+snapshotSuffix)
}

// writeSnapshot persists a collection's visible documents atomically
// (write to a temp file, then rename).
func (e *Engine) writeSnapshot(name string, c *collection) error {
	if err := os.MkdirAll(e.dataDir, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	c.mu.RLock()
	snap := snapshotFile{
		Kind: c.kind.String(),
		Docs: make(map[string]store.Document, len(c.visible)),
	}
	for id, doc := range c.visible {
		snap.Docs[strconv.FormatInt(id, 10)] = doc
	}
	c.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	tmp := e.snapshotPath(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, e.snapshotPath(name)); err != nil {
		return fmt.Errorf("renaming snapshot: %w", err)
	}
	return nil
}

func (e *Engine) dropSnapshot(name string) {
	if err := os.Remove(e.snapshotPath(name)); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("failed to remove snapshot", "collection", name, "error", err)
	}
}

// loadSnapshots restores every collection persisted under dataDir,
// rebuilding the inverted index as documents become visible again.
func (e *Engine) loadSnapshots() error {
	entries, err := os.ReadDir(e.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading snapshot directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotSuffix) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), snapshotSuffix)
		if err := e.loadSnapshot(name); err != nil {
			e.logger.Error("failed to load snapshot, skipping",
				"collection", name,
				"error", err,
			)
			continue
		}
	}
	e.logger.Info("snapshot recovery complete", "collections", len(e.collections))
	return nil
}

func (e *Engine) loadSnapshot(name string) error {
	data, err := os.ReadFile(e.snapshotPath(name))
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	kind, err := dump.ParseKind(snap.Kind)
	if err != nil {
		return err
	}
	c := newCollection(kind)
	for key, doc := range snap.Docs {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("bad document id %q: %w", key, err)
		}
		restoreNumbers(doc, c.schema)
		c.visible[id] = doc
		c.index.add(id, doc, c.schema)
	}
	e.collections[name] = c
	e.logger.Debug("snapshot loaded", "collection", name, "docs", len(c.visible))
	return nil
}

// restoreNumbers undoes JSON's float64 decoding for declared integer
// fields so reloaded documents look identical to freshly written ones.
func restoreNumbers(doc store.Document, schema dump.Schema) {
	for field, value := range doc {
		ft, declared := schema[field]
		if !declared || ft != dump.FieldInteger {
			continue
		}
		if f, ok := value.(float64); ok {
			doc[field] = int64(f)
		}
	}
}
