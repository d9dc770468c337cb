// makeindex derives the searchable subset of a Stack Exchange data dump
// and loads it into the document store. Stages can be run individually
// with -stage, or end to end by default.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/stackoff/stackoff/internal/dump"
	"github.com/stackoff/stackoff/internal/exists"
	"github.com/stackoff/stackoff/internal/indexer"
	"github.com/stackoff/stackoff/internal/pipeline"
	"github.com/stackoff/stackoff/internal/runner"
	"github.com/stackoff/stackoff/internal/store/embedded"
	"github.com/stackoff/stackoff/pkg/config"
	"github.com/stackoff/stackoff/pkg/kafka"
	"github.com/stackoff/stackoff/pkg/logger"
	"github.com/stackoff/stackoff/pkg/metrics"
	"github.com/stackoff/stackoff/pkg/postgres"
	"github.com/stackoff/stackoff/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	dir := flag.String("dir", "", "dump directory (overrides config xmlFilePath)")
	stage := flag.String("stage", "", fmt.Sprintf("run a single stage (%s); all stages when empty", strings.Join(runner.Stages(), ", ")))
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if *dir != "" {
		cfg.Pipeline.XMLFilePath = *dir
	}
	if cfg.Pipeline.XMLFilePath == "" {
		fmt.Fprintln(os.Stderr, "error: no dump directory; pass -dir, set pipeline.xmlFilePath, or STACKOFF_XML_FILE_PATH")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *stage); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, stage string) error {
	var met *metrics.Metrics
	if cfg.Metrics.Enabled {
		met = metrics.New()
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", "error", err)
			}
		}()
	}

	engine, err := embedded.Open(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer cache.Close()
	}

	var ledger *postgres.Ledger
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pg.Close()
		ledger, err = postgres.NewLedger(ctx, pg)
		if err != nil {
			return fmt.Errorf("initializing stage ledger: %w", err)
		}
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
	}

	reader := dump.NewReader(cfg.Pipeline.HighWaterMark)
	reader.Metrics = met

	cons := exists.New(engine, exists.Options{
		BatchSize: exists.BatchSizeForHighWater(cfg.Pipeline.HighWaterMark),
		Timeout:   cfg.Pipeline.BatchTimeout,
		Cache:     cache,
		CacheTTL:  cfg.Redis.CacheTTL,
		Metrics:   met,
	})

	p := pipeline.New(cfg.Pipeline.XMLFilePath, reader, cfg.Pipeline.TagsToInclude, cfg.Pipeline.TagsToExclude)
	p.OnProgress = printProgress

	ix := indexer.New(engine, cons, reader, cfg.Pipeline.XMLFilePath, cfg.Pipeline.IndexPrefix, cfg.Pipeline.IndexTimeout)
	ix.Metrics = met
	ix.Producer = producer
	ix.OnProgress = printProgress

	r := runner.New(p, ix, ledger, met)
	if stage != "" {
		err = r.RunStage(ctx, stage)
	} else {
		err = r.RunAll(ctx)
	}
	fmt.Fprintln(os.Stderr)
	return err
}

// printProgress keeps a single status line updated on stderr, the way a
// long-running import is usually watched.
func printProgress(linesRead, hits int64, percentDone float64, description string) {
	fmt.Fprintf(os.Stderr, "\r%s Read:%d Hits:%d completed: %.0f%%   ", description, linesRead, hits, percentDone)
}
