package embedded

import (
	"sort"
	"strconv"
	"sync"

	"github.com/stackoff/stackoff/internal/dump"
	"github.com/stackoff/stackoff/internal/store"
)

// fieldIndex is a per-collection inverted index keyed by field then term.
// Text fields are tokenized and stemmed; integer, keyword, and date fields
// are indexed as single exact terms.
type fieldIndex struct {
	mu    sync.RWMutex
	index map[string]map[string]map[int64]int
}

func newFieldIndex() *fieldIndex {
	return &fieldIndex{
		index: make(map[string]map[string]map[int64]int),
	}
}

// add indexes one document's declared fields.
func (fi *fieldIndex) add(id int64, doc store.Document, schema dump.Schema) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	for field, value := range doc {
		ft, declared := schema[field]
		if !declared {
			continue
		}
		for _, term := range fieldTerms(ft, value) {
			byTerm, ok := fi.index[field]
			if !ok {
				byTerm = make(map[string]map[int64]int)
				fi.index[field] = byTerm
			}
			docs, ok := byTerm[term]
			if !ok {
				docs = make(map[int64]int)
				byTerm[term] = docs
			}
			docs[id]++
		}
	}
}

// remove drops a document from every posting. Used when a put overwrites
// an already-visible document.
func (fi *fieldIndex) remove(id int64) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	for _, byTerm := range fi.index {
		for term, docs := range byTerm {
			delete(docs, id)
			if len(docs) == 0 {
				delete(byTerm, term)
			}
		}
	}
}

// lookup returns the sorted ids of documents matching any of the query
// values on the field.
func (fi *fieldIndex) lookup(field string, ft dump.FieldType, values []string) []int64 {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	byTerm := fi.index[field]
	if byTerm == nil {
		return nil
	}
	found := make(map[int64]struct{})
	for _, value := range values {
		for _, term := range queryTerms(ft, value) {
			for id := range byTerm[term] {
				found[id] = struct{}{}
			}
		}
	}
	ids := make([]int64, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// fieldTerms converts a stored value into its index terms.
func fieldTerms(ft dump.FieldType, value any) []string {
	switch ft {
	case dump.FieldText:
		if s, ok := value.(string); ok {
			return tokenize(s)
		}
		return nil
	case dump.FieldInteger:
		if n, ok := value.(int64); ok && n != dump.NotANumber {
			return []string{strconv.FormatInt(n, 10)}
		}
		return nil
	default:
		if s, ok := value.(string); ok && s != "" {
			return []string{s}
		}
		return nil
	}
}

// queryTerms converts one query value into lookup terms, mirroring
// fieldTerms so queries and documents normalize identically.
func queryTerms(ft dump.FieldType, value string) []string {
	if ft == dump.FieldText {
		return tokenize(value)
	}
	return []string{value}
}
