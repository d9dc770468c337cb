// Package pipeline derives the set of post ids worth indexing from a raw
// dump: tag/keyword selection over questions, one-hop expansion across
// post links, answer expansion with question-summary capture, and vote
// aggregation. Each stage persists its output as a JSON artifact in the
// dump directory, so any stage can re-run without repeating earlier scans.
package pipeline

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/stackoff/stackoff/internal/dump"
	"github.com/stackoff/stackoff/internal/match"
)

// ProgressFunc receives operator-facing progress for a stage pass.
type ProgressFunc func(linesRead, hits int64, percentDone float64, description string)

// Pipeline runs the derivation stages over one dump directory.
type Pipeline struct {
	Dir        string
	Reader     *dump.Reader
	Include    *match.Matcher
	Exclude    *match.Matcher
	OnProgress ProgressFunc

	// Raw term lists, recorded in the Questions.json artifact.
	TagsToInclude string
	TagsToExclude string

	logger *slog.Logger
}

// New creates a Pipeline over the dump directory using the given term
// lists and reader.
func New(dir string, reader *dump.Reader, tagsToInclude, tagsToExclude string) *Pipeline {
	return &Pipeline{
		Dir:           dir,
		Reader:        reader,
		Include:       match.New(tagsToInclude),
		Exclude:       match.New(tagsToExclude),
		TagsToInclude: tagsToInclude,
		TagsToExclude: tagsToExclude,
		logger:        slog.Default().With("component", "pipeline"),
	}
}

func (p *Pipeline) filePath(kind dump.RecordKind) string {
	return filepath.Join(p.Dir, kind.FileName())
}

// progressCallback adapts the reader's byte-level progress to the
// operator-facing ProgressFunc, adding a hit counter shared with the
// record handler.
func (p *Pipeline) progressCallback(description string, hits *hitCounter) func(dump.Progress) {
	if p.OnProgress == nil {
		return nil
	}
	return func(pr dump.Progress) {
		var percent float64
		if pr.FileSize > 0 {
			percent = float64(pr.BytesRead) / float64(pr.FileSize) * 100
		}
		p.OnProgress(pr.LinesRead, hits.get(), percent, description)
	}
}

// hitCounter counts predicate hits across concurrent record handlers.
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
