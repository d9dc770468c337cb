package pipeline

import (
	"context"
	"sync"

	"github.com/stackoff/stackoff/internal/dump"
)

// TotalVotes scans a votes file and sums a signed tally per post id:
// +1 for an upvote, -1 for a downvote, other vote codes ignored. Only
// posts present in ids are tallied.
func (p *Pipeline) TotalVotes(ctx context.Context, votesPath string, ids IdSet) (map[int64]int64, error) {
	totals := make(map[int64]int64)
	var mu sync.Mutex
	var hits hitCounter

	err := p.Reader.Stream(ctx, votesPath, dump.KindVote, dump.Callbacks{
		OnRecord: func(ctx context.Context, rec dump.Record) error {
			postID := rec.Int("PostId")
			if postID == dump.NotANumber || !ids.Has(postID) {
				return nil
			}
			var delta int64
			switch rec.Int("VoteTypeId") {
			case dump.VoteTypeUp:
				delta = 1
			case dump.VoteTypeDown:
				delta = -1
			default:
				return nil
			}
			mu.Lock()
			totals[postID] += delta
			mu.Unlock()
			hits.inc()
			return nil
		},
		OnProgress: p.progressCallback("sum votes", &hits),
	})
	if err != nil {
		return nil, err
	}
	return totals, nil
}

// AggregateVotes is the stage wrapper: it loads PostIds.json, tallies
// Votes.xml restricted to that set, and persists VoteCounts.json.
func (p *Pipeline) AggregateVotes(ctx context.Context) (map[int64]int64, error) {
	postIds, err := LoadPostIds(p.Dir)
	if err != nil {
		return nil, err
	}
	totals, err := p.TotalVotes(ctx, p.filePath(dump.KindVote), postIds)
	if err != nil {
		return nil, err
	}
	if err := writeArtifact(p.Dir, VoteCountsFile, totals); err != nil {
		return nil, err
	}
	p.logger.Info("vote aggregation complete", "posts_with_votes", len(totals))
	return totals, nil
}
