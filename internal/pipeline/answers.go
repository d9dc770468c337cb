package pipeline

import (
	"context"
	"sync"

	"github.com/stackoff/stackoff/internal/dump"
)

// ExpandAnswers scans Posts.xml once more: for every question in the
// working set it captures a QuestionSummary (Tags, ViewCount, Title), and
// every answer whose parent is in the set — and which does not match the
// exclude list against title, tags, and body — joins the extended post-id
// set. Returns the extended set and the summaries.
func (p *Pipeline) ExpandAnswers(ctx context.Context, questionIds IdSet) (IdSet, map[int64]QuestionSummary, error) {
	answers := make(IdSet)
	summaries := make(map[int64]QuestionSummary)
	var mu sync.Mutex
	var hits hitCounter

	err := p.Reader.Stream(ctx, p.filePath(dump.KindPost), dump.KindPost, dump.Callbacks{
		OnRecord: func(ctx context.Context, rec dump.Record) error {
			switch rec.Int("PostTypeId") {
			case dump.PostTypeQuestion:
				id := rec.ID()
				if !questionIds.Has(id) {
					return nil
				}
				mu.Lock()
				summaries[id] = QuestionSummary{
					Tags:      rec.Str("Tags"),
					ViewCount: rec.Int("ViewCount"),
					Title:     rec.Str("Title"),
				}
				mu.Unlock()
			case dump.PostTypeAnswer:
				if !questionIds.Has(rec.Int("ParentId")) {
					return nil
				}
				if p.Exclude.Matches(rec.Str("Title"), rec.Str("Tags"), rec.Str("Body")) {
					return nil
				}
				if !rec.HasValidID() {
					return nil
				}
				mu.Lock()
				answers.Add(rec.ID())
				mu.Unlock()
				hits.inc()
			}
			return nil
		},
		OnProgress: p.progressCallback("expand answers", &hits),
	})
	if err != nil {
		return nil, nil, err
	}

	extended := questionIds.Union(answers)
	p.logger.Info("answer expansion complete",
		"questions", questionIds.Len(),
		"answers", answers.Len(),
		"extended_posts", extended.Len(),
	)
	return extended, summaries, nil
}

// ExpandPosts is the stage wrapper around link and answer expansion: it
// loads Questions.json, produces the extended post-id set, and persists
// PostIds.json, ExtendedQuestionIds.json and QuestionSummaries.json.
func (p *Pipeline) ExpandPosts(ctx context.Context) (IdSet, error) {
	sel, err := LoadQuestionSelection(p.Dir)
	if err != nil {
		return nil, err
	}
	questionIds := NewIdSet(sel.PostIds...)

	expandedQuestions, err := p.ExpandLinks(ctx, questionIds)
	if err != nil {
		return nil, err
	}
	postIds, summaries, err := p.ExpandAnswers(ctx, expandedQuestions)
	if err != nil {
		return nil, err
	}

	if err := writeArtifact(p.Dir, PostIdsFile, postIds.Slice()); err != nil {
		return nil, err
	}
	if err := writeArtifact(p.Dir, ExtendedQuestionIdsFile, expandedQuestions.Slice()); err != nil {
		return nil, err
	}
	if err := writeArtifact(p.Dir, QuestionSummariesFile, summaries); err != nil {
		return nil, err
	}
	return postIds, nil
}
