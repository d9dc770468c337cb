package postgres

import (
	"context"
	"fmt"
	"log/slog"
)

// Ledger records pipeline stage progress in PostgreSQL so an operator can
// see which stages of a long dump run have completed and resume from there.
// A nil Ledger is valid and skips every recording call.
type Ledger struct {
	client *Client
	logger *slog.Logger
}

// NewLedger creates the backing table if needed and returns a Ledger.
func NewLedger(ctx context.Context, client *Client) (*Ledger, error) {
	l := &Ledger{
		client: client,
		logger: slog.Default().With("component", "ledger"),
	}
	_, err := client.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_stages (
			stage        TEXT PRIMARY KEY,
			status       TEXT NOT NULL,
			lines_read   BIGINT NOT NULL DEFAULT 0,
			accepted     BIGINT NOT NULL DEFAULT 0,
			started_at   TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline_stages table: %w", err)
	}
	return l, nil
}

// StageStarted marks a stage RUNNING. Errors are logged, never fatal; the
// ledger is an observability aid, not a dependency of the run.
func (l *Ledger) StageStarted(ctx context.Context, stage string) {
	if l == nil {
		return
	}
	_, err := l.client.DB.ExecContext(ctx, `
		INSERT INTO pipeline_stages (stage, status, started_at)
		VALUES ($1, 'RUNNING', NOW())
		ON CONFLICT (stage) DO UPDATE
		SET status = 'RUNNING', started_at = NOW(), completed_at = NULL`,
		stage,
	)
	if err != nil {
		l.logger.Error("failed to record stage start", "stage", stage, "error", err)
	}
}

// StageCompleted marks a stage DONE with its final counters.
func (l *Ledger) StageCompleted(ctx context.Context, stage string, linesRead, accepted int64) {
	if l == nil {
		return
	}
	_, err := l.client.DB.ExecContext(ctx, `
		UPDATE pipeline_stages
		SET status = 'DONE', lines_read = $2, accepted = $3, completed_at = NOW()
		WHERE stage = $1`,
		stage, linesRead, accepted,
	)
	if err != nil {
		l.logger.Error("failed to record stage completion", "stage", stage, "error", err)
	}
}

// StageFailed marks a stage FAILED.
func (l *Ledger) StageFailed(ctx context.Context, stage string, cause error) {
	if l == nil {
		return
	}
	_, err := l.client.DB.ExecContext(ctx, `
		UPDATE pipeline_stages
		SET status = 'FAILED', completed_at = NOW()
		WHERE stage = $1`,
		stage,
	)
	if err != nil {
		l.logger.Error("failed to record stage failure",
			"stage", stage,
			"cause", cause,
			"error", err,
		)
	}
}
