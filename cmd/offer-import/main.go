// Command offer-import bulk loads special offers from gzip-compressed JSON
// Lines files. A code that appears in more than one file is ambiguous and is
// not imported.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		cfg         importConfig
	)
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing offers*.jsonl.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&cfg.batchSize, "batch-size", 500, "offers per upsert batch")
	flag.UintVar(&cfg.expected, "expected", 1_000_000, "expected offers per file, sizes the bloom filters")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, dataDir, databaseURL, cfg); err != nil {
		lg.Fatal("Offer import failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, dataDir, databaseURL string, cfg importConfig) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "offers*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "list offer files")
	}
	if len(files) == 0 {
		return errors.Errorf("no offers*.jsonl.gz files in %s", dataDir)
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL, postgres.PoolOptions{})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	stats, err := importOffers(ctx, lg, postgres.NewOfferRepository(pool), files, cfg)
	if err != nil {
		return err
	}
	lg.Info("Offer import completed",
		zap.Int64("lines", stats.lines),
		zap.Int64("invalid", stats.invalid),
		zap.Int64("duplicates", stats.duplicates),
		zap.Int64("written", stats.written),
	)
	return nil
}
