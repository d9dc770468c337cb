package indexer

import (
	"context"
	"fmt"

	"github.com/stackoff/stackoff/internal/dump"
	"github.com/stackoff/stackoff/internal/pipeline"
)

// kindPass bundles the inclusion predicate and augmentation for one
// indexing pass. checkKind, when set, names the collection kind the pass
// probes through the consolidator so the final partial batch can be
// flushed at end of file.
type kindPass struct {
	include   func(ctx context.Context, rec dump.Record) (bool, error)
	augment   func(rec dump.Record)
	checkKind *dump.RecordKind
}

func noAugment(dump.Record) {}

// newPass loads the artifacts the kind needs and builds its pass. Posts
// and links require the derived id set on disk; comments fall back to
// store existence checks when the set artifact is absent; users always
// go through the consolidator.
func (ix *Indexer) newPass(kind dump.RecordKind) (*kindPass, error) {
	switch kind {
	case dump.KindPost:
		return ix.newPostPass()
	case dump.KindComment:
		return ix.newCommentPass()
	case dump.KindUser:
		return ix.newUserPass()
	case dump.KindPostLink:
		return ix.newLinkPass()
	default:
		return nil, fmt.Errorf("kind %s is not indexed", kind.String())
	}
}

func (ix *Indexer) newPostPass() (*kindPass, error) {
	postIds, err := pipeline.LoadPostIds(ix.Dir)
	if err != nil {
		return nil, err
	}
	summaries, err := pipeline.LoadQuestionSummaries(ix.Dir)
	if err != nil {
		return nil, err
	}
	votes, err := pipeline.LoadVoteCounts(ix.Dir)
	if err != nil {
		ix.logger.Warn("vote counts unavailable, indexing posts without tallies", "error", err)
		votes = map[int64]int64{}
	}
	return &kindPass{
		include: func(_ context.Context, rec dump.Record) (bool, error) {
			return postIds.Has(rec.ID()), nil
		},
		augment: func(rec dump.Record) {
			id := rec.ID()
			if count, ok := votes[id]; ok {
				rec["VoteCount"] = count
			}
			if rec.Int("PostTypeId") != dump.PostTypeAnswer {
				return
			}
			// Answers inherit searchable context from their question so
			// a tag or title query surfaces them too.
			if summary, ok := summaries[rec.Int("ParentId")]; ok {
				rec["Tags"] = summary.Tags
				rec["ViewCount"] = summary.ViewCount
				rec["QuestionTitle"] = summary.Title
			}
		},
	}, nil
}

func (ix *Indexer) newCommentPass() (*kindPass, error) {
	postIds, err := pipeline.LoadPostIds(ix.Dir)
	if err == nil {
		return &kindPass{
			include: func(_ context.Context, rec dump.Record) (bool, error) {
				return postIds.Has(rec.Int("PostId")), nil
			},
			augment: noAugment,
		}, nil
	}
	ix.logger.Warn("post id artifact unavailable, checking comment parents against the store", "error", err)
	check := dump.KindPost
	return &kindPass{
		include: func(ctx context.Context, rec dump.Record) (bool, error) {
			postID := rec.Int("PostId")
			if postID == dump.NotANumber {
				return false, nil
			}
			return ix.Exists.Needed(ctx, ix.Prefix, check, postID)
		},
		augment:   noAugment,
		checkKind: &check,
	}, nil
}

func (ix *Indexer) newUserPass() (*kindPass, error) {
	check := dump.KindUser
	return &kindPass{
		include: func(ctx context.Context, rec dump.Record) (bool, error) {
			if !rec.HasValidID() {
				return false, nil
			}
			return ix.Exists.Needed(ctx, ix.Prefix, check, rec.ID())
		},
		augment:   noAugment,
		checkKind: &check,
	}, nil
}

func (ix *Indexer) newLinkPass() (*kindPass, error) {
	postIds, err := pipeline.LoadPostIds(ix.Dir)
	if err != nil {
		return nil, err
	}
	return &kindPass{
		include: func(_ context.Context, rec dump.Record) (bool, error) {
			return postIds.Has(rec.Int("PostId")) || postIds.Has(rec.Int("RelatedPostId")), nil
		},
		augment: noAugment,
	}, nil
}
