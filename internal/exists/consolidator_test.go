package exists

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stackoff/stackoff/internal/dump"
	"github.com/stackoff/stackoff/internal/store"
)

// fakeStore implements store.Store with pluggable existence and query
// behavior; the unused operations panic so a test that strays is loud.
type fakeStore struct {
	mu          sync.Mutex
	batches     [][]int64
	existsBatch func(ids []int64) (map[int64]bool, error)
	query       func(collection string, q store.TermQuery) ([]store.Hit, error)
}

func (f *fakeStore) ExistsBatch(ctx context.Context, collection string, kind dump.RecordKind, ids []int64) (map[int64]bool, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]int64(nil), ids...))
	f.mu.Unlock()
	return f.existsBatch(ids)
}

func (f *fakeStore) Query(ctx context.Context, collection string, q store.TermQuery) ([]store.Hit, error) {
	return f.query(collection, q)
}

func (f *fakeStore) CreateCollection(context.Context, string, dump.RecordKind) error {
	panic("unexpected CreateCollection")
}
func (f *fakeStore) DropCollection(context.Context, string) error {
	panic("unexpected DropCollection")
}
func (f *fakeStore) PutDocument(context.Context, string, dump.RecordKind, int64, store.Document) error {
	panic("unexpected PutDocument")
}
func (f *fakeStore) GetDocumentsByIds(context.Context, string, dump.RecordKind, []int64) ([]store.Hit, error) {
	panic("unexpected GetDocumentsByIds")
}
func (f *fakeStore) Refresh(context.Context, string) error {
	panic("unexpected Refresh")
}

func (f *fakeStore) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestNeededFlushesOnBatchSize(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{
		existsBatch: func(ids []int64) (map[int64]bool, error) {
			found := make(map[int64]bool)
			for _, id := range ids {
				found[id] = id%2 == 0
			}
			return found, nil
		},
	}
	c := New(fs, Options{BatchSize: 4, Timeout: time.Minute})

	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			found, err := c.Needed(ctx, "t_", dump.KindPost, int64(i+1))
			if err != nil {
				t.Errorf("Needed(%d): %v", i+1, err)
				return
			}
			results[i] = found
		}(i)
	}
	wg.Wait()

	if n := fs.batchCount(); n != 1 {
		t.Fatalf("store saw %d batches, want exactly 1", n)
	}
	if len(fs.batches[0]) != 4 {
		t.Errorf("batch carried %d ids, want 4", len(fs.batches[0]))
	}
	for i, found := range results {
		want := int64(i+1)%2 == 0
		if found != want {
			t.Errorf("Needed(%d) = %v, want %v", i+1, found, want)
		}
	}
}

func TestNeededFlushesOnTimer(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{
		existsBatch: func(ids []int64) (map[int64]bool, error) {
			return map[int64]bool{7: true}, nil
		},
	}
	c := New(fs, Options{BatchSize: 100, Timeout: 20 * time.Millisecond})

	start := time.Now()
	found, err := c.Needed(ctx, "t_", dump.KindPost, 7)
	if err != nil {
		t.Fatalf("Needed: %v", err)
	}
	if !found {
		t.Error("Needed = false, want true")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timer flush took %v", elapsed)
	}
	if n := fs.batchCount(); n != 1 {
		t.Errorf("store saw %d batches, want 1", n)
	}
}

func TestExplicitFlushReleasesWaiters(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{
		existsBatch: func(ids []int64) (map[int64]bool, error) {
			return map[int64]bool{3: true}, nil
		},
	}
	c := New(fs, Options{BatchSize: 100, Timeout: time.Minute})

	done := make(chan bool, 1)
	go func() {
		found, err := c.Needed(ctx, "t_", dump.KindPost, 3)
		if err != nil {
			t.Errorf("Needed: %v", err)
		}
		done <- found
	}()

	// Give the waiter time to enqueue before flushing.
	deadline := time.After(5 * time.Second)
	for fs.batchCount() == 0 {
		if err := c.Flush(ctx, "t_", dump.KindPost); err != nil {
			t.Fatalf("Flush: %v", err)
		}
		select {
		case <-deadline:
			t.Fatal("waiter never released")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if found := <-done; !found {
		t.Error("Needed = false, want true")
	}
}

func TestFlushWithNothingPendingIsNoOp(t *testing.T) {
	fs := &fakeStore{
		existsBatch: func(ids []int64) (map[int64]bool, error) {
			t.Error("store called for an empty flush")
			return nil, nil
		},
	}
	c := New(fs, Options{BatchSize: 4, Timeout: time.Minute})
	if err := c.Flush(context.Background(), "t_", dump.KindPost); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestDuplicateIdsCollapseWithinBatch(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{
		existsBatch: func(ids []int64) (map[int64]bool, error) {
			return map[int64]bool{9: true}, nil
		},
	}
	c := New(fs, Options{BatchSize: 2, Timeout: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			found, err := c.Needed(ctx, "t_", dump.KindPost, 9)
			if err != nil {
				t.Errorf("Needed: %v", err)
			}
			if !found {
				t.Error("Needed = false, want true")
			}
		}()
	}
	wg.Wait()

	if n := fs.batchCount(); n != 1 {
		t.Fatalf("store saw %d batches, want 1", n)
	}
	if len(fs.batches[0]) != 1 {
		t.Errorf("batch carried %d ids, want the duplicate collapsed to 1", len(fs.batches[0]))
	}
}

func TestFailedBatchRejectsEveryWaiter(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("store is down")
	fs := &fakeStore{
		existsBatch: func(ids []int64) (map[int64]bool, error) {
			return nil, boom
		},
	}
	c := New(fs, Options{BatchSize: 3, Timeout: time.Minute})

	var failures atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := c.Needed(ctx, "t_", dump.KindPost, id)
			if errors.Is(err, boom) {
				failures.Add(1)
			} else {
				t.Errorf("Needed(%d): err = %v, want the batch error", id, err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	if n := failures.Load(); n != 3 {
		t.Errorf("%d waiters saw the batch error, want all 3", n)
	}
}

func TestUserExistenceUnionsPostsAndComments(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{
		query: func(collection string, q store.TermQuery) ([]store.Hit, error) {
			switch collection {
			case "t_sepost":
				if q.Field != "OwnerUserId" {
					t.Errorf("post query field = %q, want OwnerUserId", q.Field)
				}
				return []store.Hit{
					{ID: 1, Source: store.Document{"OwnerUserId": int64(10)}},
					{ID: 2, Source: store.Document{"OwnerUserId": int64(11)}},
				}, nil
			case "t_secomment":
				if q.Field != "UserId" {
					t.Errorf("comment query field = %q, want UserId", q.Field)
				}
				return []store.Hit{
					{ID: 100, Source: store.Document{"UserId": int64(14)}},
				}, nil
			default:
				t.Errorf("unexpected query collection %q", collection)
				return nil, nil
			}
		},
	}
	c := New(fs, Options{BatchSize: 3, Timeout: time.Minute})

	want := map[int64]bool{10: true, 14: true, 99: false}
	var wg sync.WaitGroup
	for id, wantFound := range want {
		wg.Add(1)
		go func(id int64, wantFound bool) {
			defer wg.Done()
			found, err := c.Needed(ctx, "t_", dump.KindUser, id)
			if err != nil {
				t.Errorf("Needed(user %d): %v", id, err)
				return
			}
			if found != wantFound {
				t.Errorf("Needed(user %d) = %v, want %v", id, found, wantFound)
			}
		}(id, wantFound)
	}
	wg.Wait()
}

func TestBatchSizeForHighWater(t *testing.T) {
	if got := BatchSizeForHighWater(256); got != 64 {
		t.Errorf("BatchSizeForHighWater(256) = %d, want 64", got)
	}
	if got := BatchSizeForHighWater(2); got != 1 {
		t.Errorf("BatchSizeForHighWater(2) = %d, want 1", got)
	}
	if got := BatchSizeForHighWater(0); got <= 0 {
		t.Errorf("BatchSizeForHighWater(0) = %d, want a positive default", got)
	}
}
