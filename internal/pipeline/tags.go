package pipeline

import (
	"context"
	"sync"

	"github.com/stackoff/stackoff/internal/dump"
)

// SelectQuestions scans Posts.xml and returns the ids of questions whose
// title or tags match the include list and do not match the exclude list.
// The selection, together with both term lists, is persisted as
// Questions.json.
func (p *Pipeline) SelectQuestions(ctx context.Context) (IdSet, error) {
	selected := make(IdSet)
	var mu sync.Mutex
	var hits hitCounter

	err := p.Reader.Stream(ctx, p.filePath(dump.KindPost), dump.KindPost, dump.Callbacks{
		OnRecord: func(ctx context.Context, rec dump.Record) error {
			if rec.Int("PostTypeId") != dump.PostTypeQuestion {
				return nil
			}
			title := rec.Str("Title")
			tags := rec.Str("Tags")
			if !p.Include.Matches(title, tags, "") {
				return nil
			}
			if p.Exclude.Matches(title, tags, "") {
				return nil
			}
			if !rec.HasValidID() {
				return nil
			}
			mu.Lock()
			selected.Add(rec.ID())
			mu.Unlock()
			hits.inc()
			return nil
		},
		OnProgress: p.progressCallback("select questions", &hits),
	})
	if err != nil {
		return nil, err
	}

	artifact := QuestionSelection{
		TagsToInclude: p.TagsToInclude,
		TagsToExclude: p.TagsToExclude,
		PostIds:       selected.Slice(),
	}
	if err := writeArtifact(p.Dir, QuestionsFile, artifact); err != nil {
		return nil, err
	}
	p.logger.Info("question selection complete", "questions", selected.Len())
	return selected, nil
}
