// Package main seeds the emotion reference namespace from a labelled CSV.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/silverstream/sentiment-checker/internal/backend"
	"github.com/silverstream/sentiment-checker/internal/config"
	"github.com/silverstream/sentiment-checker/internal/seed"
	"github.com/silverstream/sentiment-checker/pkg/models"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("Seeding failed")
	}
}

func run() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		configPath  string
		csvPath     string
		namespace   string
		batchSize   int
		concurrency int
		limit       int
		dryRun      bool
	)
	flagSet := pflag.NewFlagSet("seed-emotions", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv("SENTIMENT_CONFIG"), "path to the YAML settings file")
	flagSet.StringVarP(&csvPath, "file", "f", "", "GoEmotions style CSV with a text column and one 0/1 column per label")
	flagSet.StringVar(&namespace, "namespace", "", "target namespace (default: the configured emotions namespace)")
	flagSet.IntVar(&batchSize, "batch-size", seed.DefaultBatchConfig().BatchSize, "references per upsert")
	flagSet.IntVar(&concurrency, "concurrency", seed.DefaultBatchConfig().Concurrency, "parallel embedding calls")
	flagSet.IntVar(&limit, "limit", 0, "seed at most this many references (0 = all)")
	flagSet.BoolVar(&dryRun, "dry-run", false, "parse the CSV and report counts without writing")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if csvPath == "" {
		return errors.New("--file is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if namespace == "" {
		namespace = cfg.EmotionsNamespace
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", csvPath, err)
	}
	defer f.Close()

	refs, stats, err := seed.ReadCSV(f, models.DefaultTaxonomy())
	if err != nil {
		return fmt.Errorf("parse %s: %w", csvPath, err)
	}
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	log.Info().
		Int("rows", stats.Rows).
		Int("references", len(refs)).
		Int("skipped", stats.Empty+stats.Unlabelled+stats.Duplicates).
		Str("namespace", namespace).
		Msg("Loaded references")
	if dryRun {
		return nil
	}

	store, err := backend.OpenStore(cfg)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer store.Close()

	embedder, err := backend.OpenEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	seeder := seed.NewSeeder(store, embedder, namespace, seed.BatchConfig{BatchSize: batchSize, Concurrency: concurrency})
	seeded, failed := seeder.Seed(ctx, refs)

	total, err := seeder.Count(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count stored references")
	}
	log.Info().
		Int("seeded", seeded).
		Int("failed", failed).
		Int("stored", total).
		Dur("elapsed", time.Since(start)).
		Msg("Seeding complete")
	if failed > 0 {
		return fmt.Errorf("%d references failed", failed)
	}
	return ctx.Err()
}
