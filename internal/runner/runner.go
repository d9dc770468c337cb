// Package runner sequences the derivation and indexing stages, recording
// each stage's outcome in the PostgreSQL ledger and its duration in
// Prometheus.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stackoff/stackoff/internal/indexer"
	"github.com/stackoff/stackoff/internal/pipeline"
	"github.com/stackoff/stackoff/pkg/metrics"
	"github.com/stackoff/stackoff/pkg/postgres"
)

// Stage names accepted by RunStage and recorded in the ledger.
const (
	StageSelectQuestions = "select-questions"
	StageExpandPosts     = "expand-posts"
	StageAggregateVotes  = "aggregate-votes"
	StageIndex           = "index"
)

// Stages lists the stage names in execution order.
func Stages() []string {
	return []string{StageSelectQuestions, StageExpandPosts, StageAggregateVotes, StageIndex}
}

// Runner executes pipeline stages in order.
type Runner struct {
	Pipeline *pipeline.Pipeline
	Indexer  *indexer.Indexer
	Ledger   *postgres.Ledger
	Metrics  *metrics.Metrics

	logger *slog.Logger
}

// New creates a Runner. Ledger and Metrics may be nil.
func New(p *pipeline.Pipeline, ix *indexer.Indexer, ledger *postgres.Ledger, met *metrics.Metrics) *Runner {
	return &Runner{
		Pipeline: p,
		Indexer:  ix,
		Ledger:   ledger,
		Metrics:  met,
		logger:   slog.Default().With("component", "runner"),
	}
}

// RunAll executes every stage in order, stopping at the first failure.
func (r *Runner) RunAll(ctx context.Context) error {
	for _, stage := range Stages() {
		if err := r.RunStage(ctx, stage); err != nil {
			return err
		}
	}
	return nil
}

// RunStage executes one named stage. Stages read their inputs from the
// artifacts of earlier stages, so an individual stage can be re-run on
// its own as long as its predecessors have run at least once.
func (r *Runner) RunStage(ctx context.Context, stage string) error {
	var run func(context.Context) error
	switch stage {
	case StageSelectQuestions:
		run = func(ctx context.Context) error {
			_, err := r.Pipeline.SelectQuestions(ctx)
			return err
		}
	case StageExpandPosts:
		run = func(ctx context.Context) error {
			_, err := r.Pipeline.ExpandPosts(ctx)
			return err
		}
	case StageAggregateVotes:
		run = func(ctx context.Context) error {
			_, err := r.Pipeline.AggregateVotes(ctx)
			return err
		}
	case StageIndex:
		run = r.Indexer.IndexAll
	default:
		return fmt.Errorf("unknown stage %q (valid: %v)", stage, Stages())
	}

	r.logger.Info("stage starting", "stage", stage)
	r.Ledger.StageStarted(ctx, stage)

	rec := r.recordProgress(stage)
	start := time.Now()
	err := run(ctx)
	elapsed := time.Since(start)
	rec.restore()

	if r.Metrics != nil {
		r.Metrics.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
	if err != nil {
		r.Ledger.StageFailed(ctx, stage, err)
		r.logger.Error("stage failed", "stage", stage, "elapsed", elapsed, "error", err)
		return fmt.Errorf("stage %s: %w", stage, err)
	}
	r.Ledger.StageCompleted(ctx, stage, rec.lines(), rec.hits())
	r.logger.Info("stage completed",
		"stage", stage,
		"elapsed", elapsed,
		"lines_read", rec.lines(),
		"hits", rec.hits(),
	)
	return nil
}

// progressRecorder wraps the pipeline's and indexer's progress callbacks
// for the duration of a stage so the runner can report final counters to
// the ledger without the stages knowing about it.
type progressRecorder struct {
	runner        *Runner
	prevPipeline  pipeline.ProgressFunc
	prevIndexer   pipeline.ProgressFunc
	lastLines     int64
	lastHits      int64
	totalLines    int64
	totalHits     int64
	lastStageDesc string
}

func (r *Runner) recordProgress(stage string) *progressRecorder {
	rec := &progressRecorder{
		runner:       r,
		prevPipeline: r.Pipeline.OnProgress,
		prevIndexer:  r.Indexer.OnProgress,
	}
	wrap := func(prev pipeline.ProgressFunc) pipeline.ProgressFunc {
		return func(linesRead, hits int64, percentDone float64, description string) {
			rec.observe(linesRead, hits, description)
			if prev != nil {
				prev(linesRead, hits, percentDone, description)
			}
		}
	}
	r.Pipeline.OnProgress = wrap(rec.prevPipeline)
	r.Indexer.OnProgress = wrap(rec.prevIndexer)
	return rec
}

// observe accumulates counters across the passes a stage makes. A stage
// like indexing streams several files in sequence, and each file's
// counters restart from zero.
func (p *progressRecorder) observe(linesRead, hits int64, description string) {
	if description != p.lastStageDesc {
		p.totalLines += p.lastLines
		p.totalHits += p.lastHits
		p.lastStageDesc = description
	}
	p.lastLines = linesRead
	p.lastHits = hits
}

func (p *progressRecorder) lines() int64 { return p.totalLines + p.lastLines }
func (p *progressRecorder) hits() int64  { return p.totalHits + p.lastHits }

func (p *progressRecorder) restore() {
	p.runner.Pipeline.OnProgress = p.prevPipeline
	p.runner.Indexer.OnProgress = p.prevIndexer
}
