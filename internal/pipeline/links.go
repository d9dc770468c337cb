package pipeline

import (
	"context"
	"sync"

	"github.com/stackoff/stackoff/internal/dump"
)

// ExpandLinks scans PostLinks.xml and widens the question set across the
// link relation: when either endpoint of a link is in the input set, the
// other endpoint joins the result. The expansion is one hop by policy —
// membership is tested against the input set only, never against ids
// added during the same pass — so the result covers exactly the links
// present in the relation, not a transitive closure.
func (p *Pipeline) ExpandLinks(ctx context.Context, questionIds IdSet) (IdSet, error) {
	added := make(IdSet)
	var mu sync.Mutex
	var hits hitCounter

	err := p.Reader.Stream(ctx, p.filePath(dump.KindPostLink), dump.KindPostLink, dump.Callbacks{
		OnRecord: func(ctx context.Context, rec dump.Record) error {
			postID := rec.Int("PostId")
			relatedID := rec.Int("RelatedPostId")
			if postID == dump.NotANumber || relatedID == dump.NotANumber {
				return nil
			}
			var other int64
			switch {
			case questionIds.Has(postID):
				other = relatedID
			case questionIds.Has(relatedID):
				other = postID
			default:
				return nil
			}
			if questionIds.Has(other) {
				return nil
			}
			mu.Lock()
			added.Add(other)
			mu.Unlock()
			hits.inc()
			return nil
		},
		OnProgress: p.progressCallback("expand links", &hits),
	})
	if err != nil {
		return nil, err
	}

	expanded := questionIds.Union(added)
	p.logger.Info("link expansion complete",
		"input_questions", questionIds.Len(),
		"added", added.Len(),
	)
	return expanded, nil
}
