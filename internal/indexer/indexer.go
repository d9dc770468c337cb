// Package indexer drives the line reader over each record-kind file,
// applies the kind-specific inclusion predicate backed by the derived
// id-set artifacts and the existence consolidator, augments accepted
// records with derived fields, and writes them to the target store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/stackoff/stackoff/internal/dump"
	"github.com/stackoff/stackoff/internal/exists"
	"github.com/stackoff/stackoff/internal/pipeline"
	"github.com/stackoff/stackoff/internal/store"
	apperrors "github.com/stackoff/stackoff/pkg/errors"
	"github.com/stackoff/stackoff/pkg/kafka"
	"github.com/stackoff/stackoff/pkg/metrics"
	"github.com/stackoff/stackoff/pkg/resilience"
)

// Indexer writes the selected subset of a dump into the target store,
// one collection per record kind.
type Indexer struct {
	Store        store.Store
	Exists       *exists.Consolidator
	Reader       *dump.Reader
	Dir          string
	Prefix       string
	WriteTimeout time.Duration
	Metrics      *metrics.Metrics
	Producer     *kafka.Producer
	OnProgress   pipeline.ProgressFunc

	logger *slog.Logger
}

// New creates an Indexer over the dump directory and store.
func New(st store.Store, cons *exists.Consolidator, reader *dump.Reader, dir, prefix string, writeTimeout time.Duration) *Indexer {
	return &Indexer{
		Store:        st,
		Exists:       cons,
		Reader:       reader,
		Dir:          dir,
		Prefix:       prefix,
		WriteTimeout: writeTimeout,
		logger:       slog.Default().With("component", "indexer"),
	}
}

// IndexAll indexes every store-bound kind in dependency order: users must
// come after posts and comments because the user predicate queries those
// collections.
func (ix *Indexer) IndexAll(ctx context.Context) error {
	for _, kind := range dump.IndexedKinds() {
		if err := ix.IndexKind(ctx, kind); err != nil {
			return fmt.Errorf("indexing %s: %w", kind.String(), err)
		}
	}
	return nil
}

// IndexKind rebuilds the collection for one kind: the collection is
// dropped and recreated, the kind's file is streamed through the
// inclusion predicate, accepted records are augmented and written, any
// outstanding consolidator batch is flushed at end of file, and the
// collection is refreshed so queries observe the new documents.
func (ix *Indexer) IndexKind(ctx context.Context, kind dump.RecordKind) error {
	collection := ix.Prefix + kind.String()

	if err := ix.Store.DropCollection(ctx, collection); err != nil {
		if !errors.Is(err, apperrors.ErrCollectionNotFound) {
			return fmt.Errorf("dropping %s: %w", collection, err)
		}
	}
	if err := ix.Store.CreateCollection(ctx, collection, kind); err != nil {
		return fmt.Errorf("creating %s: %w", collection, err)
	}
	ix.Exists.Invalidate(ctx, ix.Prefix, kind)

	pass, err := ix.newPass(kind)
	if err != nil {
		return err
	}

	var hits hitCounter
	var linesRead int64
	var linesMu sync.Mutex

	progress := func(pr dump.Progress) {
		linesMu.Lock()
		linesRead = pr.LinesRead
		linesMu.Unlock()
		if ix.OnProgress != nil {
			var percent float64
			if pr.FileSize > 0 {
				percent = float64(pr.BytesRead) / float64(pr.FileSize) * 100
			}
			ix.OnProgress(pr.LinesRead, hits.get(), percent, "indexing "+kind.String())
		}
	}

	err = ix.Reader.Stream(ctx, filepath.Join(ix.Dir, kind.FileName()), kind, dump.Callbacks{
		OnRecord: func(ctx context.Context, rec dump.Record) error {
			include, err := pass.include(ctx, rec)
			if err != nil {
				return err
			}
			if !include {
				if ix.Metrics != nil {
					ix.Metrics.RecordsSkippedTotal.WithLabelValues(kind.String()).Inc()
				}
				return nil
			}
			if ix.Metrics != nil {
				ix.Metrics.RecordsAcceptedTotal.WithLabelValues(kind.String()).Inc()
			}
			pass.augment(rec)
			if err := ix.writeDocument(ctx, collection, kind, rec); err != nil {
				return err
			}
			hits.inc()
			return nil
		},
		OnProgress: progress,
		OnComplete: func(ctx context.Context) error {
			if pass.checkKind != nil {
				return ix.Exists.Flush(ctx, ix.Prefix, *pass.checkKind)
			}
			return nil
		},
	})
	if err != nil {
		return err
	}

	if err := ix.Store.Refresh(ctx, collection); err != nil {
		return fmt.Errorf("refreshing %s: %w", collection, err)
	}

	accepted := hits.get()
	linesMu.Lock()
	lines := linesRead
	linesMu.Unlock()
	ix.logger.Info("collection indexed",
		"collection", collection,
		"lines_read", lines,
		"accepted", accepted,
	)
	if ix.Producer != nil {
		event := kafka.CollectionIndexed{
			Collection: collection,
			Kind:       kind.String(),
			LinesRead:  lines,
			Accepted:   accepted,
			FinishedAt: time.Now().UTC(),
		}
		if err := ix.Producer.PublishCollectionIndexed(ctx, event); err != nil {
			ix.logger.Error("failed to publish completion event", "error", err)
		}
	}
	return nil
}

// writeDocument writes one accepted record, skipping silently on an
// invalid id and tolerating (logging) any other write failure.
func (ix *Indexer) writeDocument(ctx context.Context, collection string, kind dump.RecordKind, rec dump.Record) error {
	if !rec.HasValidID() {
		// Ids like -1 (the Community user) are rejected without noise.
		ix.logger.Debug("skipping row with invalid id", "collection", collection, "id", rec.ID())
		return nil
	}
	err := resilience.Retry(ctx, "put document", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		return resilience.WithTimeout(ctx, ix.WriteTimeout, "put document", func(ctx context.Context) error {
			return ix.Store.PutDocument(ctx, collection, kind, rec.ID(), store.Document(rec))
		})
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidID) {
			return nil
		}
		return err
	}
	if ix.Metrics != nil {
		ix.Metrics.DocsIndexedTotal.WithLabelValues(kind.String()).Inc()
	}
	return nil
}

type hitCounter struct {
	mu sync.Mutex
	n  int64
}

func (h *hitCounter) inc() {
	h.mu.Lock()
	h.n++
	h.mu.Unlock()
}

func (h *hitCounter) get() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}
