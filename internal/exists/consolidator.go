// Package exists coalesces "does this id exist in the target collection"
// checks. The downstream store penalizes many small concurrent lookups, so
// checks are deduplicated and batched per collection+kind, flushing on a
// size threshold or a timer, whichever fires first.
package exists

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stackoff/stackoff/internal/dump"
	"github.com/stackoff/stackoff/internal/store"
	"github.com/stackoff/stackoff/pkg/metrics"
	pkgredis "github.com/stackoff/stackoff/pkg/redis"
)

const (
	defaultBatchSize = 64
	defaultTimeout   = time.Second
)

type result struct {
	found bool
	err   error
}

type waiter struct {
	id int64
	ch chan result
}

// pendingBatch accumulates not-yet-flushed checks for one collection+kind.
// At most one exists per key: a flush takes the whole batch out of the map
// before any store round trip, so the racing trigger (timer vs. size)
// observes an empty slot and does nothing.
type pendingBatch struct {
	waiters []waiter
	timer   *time.Timer
}

// Options configures a Consolidator. BatchSize is normally derived from
// the line reader's high-water mark (one quarter of it) so that pausing
// the reader can never starve a batch below its flush threshold.
type Options struct {
	BatchSize int
	Timeout   time.Duration
	Cache     *pkgredis.Client
	CacheTTL  time.Duration
	Metrics   *metrics.Metrics
}

// Consolidator batches existence checks against a store. Construct one per
// pipeline run; it holds no package-level state.
type Consolidator struct {
	store    store.Store
	cache    *pkgredis.Client
	cacheTTL time.Duration
	met      *metrics.Metrics

	batchSize int
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingBatch
}

// New creates a Consolidator over the given store.
func New(st store.Store, opts Options) *Consolidator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Consolidator{
		store:     st,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		met:       opts.Metrics,
		batchSize: opts.BatchSize,
		timeout:   opts.Timeout,
		logger:    slog.Default().With("component", "exists-consolidator"),
		pending:   make(map[string]*pendingBatch),
	}
}

// BatchSizeForHighWater derives the flush threshold from the line reader's
// high-water mark.
func BatchSizeForHighWater(highWater int) int {
	if highWater <= 0 {
		return defaultBatchSize
	}
	size := highWater / 4
	if size < 1 {
		size = 1
	}
	return size
}

// Needed reports whether id exists in the collection <prefix><kind>. The
// call blocks until its batch is flushed — by the size threshold, the
// timer, or an explicit Flush — and every call is eventually resolved: a
// failed batch request resolves all of its callers with the batch error.
func (c *Consolidator) Needed(ctx context.Context, prefix string, kind dump.RecordKind, id int64) (bool, error) {
	if c.cache != nil {
		if found, ok := c.cachedResult(ctx, prefix, kind, id); ok {
			if c.met != nil {
				c.met.ExistsCacheHitsTotal.Inc()
			}
			return found, nil
		}
	}

	w := waiter{id: id, ch: make(chan result, 1)}
	key := batchKey(prefix, kind)

	c.mu.Lock()
	b, ok := c.pending[key]
	if !ok {
		b = &pendingBatch{}
		b.timer = time.AfterFunc(c.timeout, func() {
			c.flushKey(context.Background(), prefix, kind, "timer")
		})
		c.pending[key] = b
	}
	b.waiters = append(b.waiters, w)
	full := len(b.waiters) >= c.batchSize
	c.mu.Unlock()

	if full {
		// Best effort; the error also reaches us through the channel.
		c.flushKey(ctx, prefix, kind, "size")
	}

	select {
	case res := <-w.ch:
		return res.found, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Flush issues whatever has accumulated for the collection+kind. Callers
// use it as an end-of-file hook so no batch outlives the pass that
// produced its inputs. Flushing an empty or absent key is a no-op.
func (c *Consolidator) Flush(ctx context.Context, prefix string, kind dump.RecordKind) error {
	return c.flushKey(ctx, prefix, kind, "explicit")
}

// flushKey takes ownership of the pending batch for the key, clearing the
// map slot before the store round trip. A second flush trigger for an
// already-taken key returns immediately.
func (c *Consolidator) flushKey(ctx context.Context, prefix string, kind dump.RecordKind, trigger string) error {
	key := batchKey(prefix, kind)
	c.mu.Lock()
	b, ok := c.pending[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.pending, key)
	c.mu.Unlock()
	b.timer.Stop()

	err := c.issue(ctx, prefix, kind, b.waiters)
	if c.met != nil {
		c.met.ExistsBatchesTotal.WithLabelValues(trigger).Inc()
		c.met.ExistsBatchSize.Observe(float64(len(b.waiters)))
	}
	if err != nil {
		c.logger.Error("batch existence request failed",
			"collection", prefix+kind.String(),
			"trigger", trigger,
			"waiters", len(b.waiters),
			"error", err,
		)
		return fmt.Errorf("flushing existence batch for %s: %w", key, err)
	}
	return nil
}

// issue performs the batched request and resolves every waiter. Duplicate
// ids within the batch resolve to the same boolean.
func (c *Consolidator) issue(ctx context.Context, prefix string, kind dump.RecordKind, waiters []waiter) error {
	seen := make(map[int64]struct{}, len(waiters))
	ids := make([]int64, 0, len(waiters))
	for _, w := range waiters {
		if _, dup := seen[w.id]; dup {
			continue
		}
		seen[w.id] = struct{}{}
		ids = append(ids, w.id)
	}

	var found map[int64]bool
	var err error
	if kind == dump.KindUser {
		found, err = c.findReferencedUsers(ctx, prefix, ids)
	} else {
		found, err = c.store.ExistsBatch(ctx, prefix+kind.String(), kind, ids)
	}
	if err != nil {
		for _, w := range waiters {
			w.ch <- result{err: err}
		}
		return err
	}

	for _, w := range waiters {
		w.ch <- result{found: found[w.id]}
	}
	if c.cache != nil {
		c.storeCachedResults(ctx, prefix, kind, found)
	}
	return nil
}

// findReferencedUsers answers the user-kind batch. Users are not directly
// queryable in the post/comment collections, so two term queries run in
// parallel — posts by OwnerUserId and comments by UserId — and the found
// sets are unioned.
func (c *Consolidator) findReferencedUsers(ctx context.Context, prefix string, ids []int64) (map[int64]bool, error) {
	values := make([]string, len(ids))
	for i, id := range ids {
		values[i] = strconv.FormatInt(id, 10)
	}

	var postOwners, commentAuthors []store.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := c.store.Query(gctx, prefix+dump.KindPost.String(), store.TermQuery{
			Field:  "OwnerUserId",
			Values: values,
		})
		postOwners = hits
		return err
	})
	g.Go(func() error {
		hits, err := c.store.Query(gctx, prefix+dump.KindComment.String(), store.TermQuery{
			Field:  "UserId",
			Values: values,
		})
		commentAuthors = hits
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	found := make(map[int64]bool, len(ids))
	for _, hit := range postOwners {
		if owner := hit.Source.Int("OwnerUserId"); owner != dump.NotANumber {
			found[owner] = true
		}
	}
	for _, hit := range commentAuthors {
		if author := hit.Source.Int("UserId"); author != dump.NotANumber {
			found[author] = true
		}
	}
	return found, nil
}

// Invalidate drops every cached existence answer for the collection.
// Called when the collection is rebuilt, since prior answers no longer
// reflect its contents.
func (c *Consolidator) Invalidate(ctx context.Context, prefix string, kind dump.RecordKind) {
	if c.cache == nil {
		return
	}
	pattern := fmt.Sprintf("exists:%s%s:*", prefix, kind.String())
	deleted, err := c.cache.FlushByPattern(ctx, pattern)
	if err != nil {
		c.logger.Warn("existence cache invalidation failed", "pattern", pattern, "error", err)
		return
	}
	c.logger.Debug("existence cache invalidated", "pattern", pattern, "keys", deleted)
}

func (c *Consolidator) cachedResult(ctx context.Context, prefix string, kind dump.RecordKind, id int64) (bool, bool) {
	val, err := c.cache.Get(ctx, cacheKey(prefix, kind, id))
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Warn("existence cache read failed", "error", err)
		}
		return false, false
	}
	return val == "1", true
}

func (c *Consolidator) storeCachedResults(ctx context.Context, prefix string, kind dump.RecordKind, found map[int64]bool) {
	for id, ok := range found {
		val := "0"
		if ok {
			val = "1"
		}
		if err := c.cache.Set(ctx, cacheKey(prefix, kind, id), val, c.cacheTTL); err != nil {
			c.logger.Warn("existence cache write failed", "error", err)
			return
		}
	}
}

func batchKey(prefix string, kind dump.RecordKind) string {
	return prefix + kind.String()
}

func cacheKey(prefix string, kind dump.RecordKind, id int64) string {
	return fmt.Sprintf("exists:%s%s:%d", prefix, kind.String(), id)
}
