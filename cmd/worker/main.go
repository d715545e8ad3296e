// Package main provides the entry point for the worker service.
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
	"github.com/silverstream/sentiment-checker/internal/sentiment"
	"github.com/silverstream/sentiment-checker/internal/vector"
	"github.com/silverstream/sentiment-checker/internal/worker"
	"github.com/silverstream/sentiment-checker/pkg/models"
)

var Version = "dev"

// populateTimeout bounds the cold-start rebuild of one tenant.
const populateTimeout = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("Worker failed")
	}
}

func run() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var configPath string
	var populate []string
	flagSet := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv("SENTIMENT_CONFIG"), "path to the YAML settings file")
	flagSet.StringSliceVar(&populate, "populate", nil, "tenant subdomains whose ticket cache is rebuilt before serving")
	showVersion := flagSet.Bool("version", false, "print the version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(Version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, using info")
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("version", Version).
		Str("vector_backend", cfg.VectorBackend).
		Msg("Starting sentiment-checker worker")

	// Startup work stops on SIGINT/SIGTERM.
	ctx, stopStartup := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopStartup()

	store, err := backend.OpenStore(cfg)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer store.Close()

	embedder, err := backend.OpenEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}

	cacheBackend, cacheCloser, err := backend.OpenCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect cache: %w", err)
	}
	if cacheCloser != nil {
		defer cacheCloser.Close()
	}

	core := sentiment.NewService(store, embedder, cacheBackend, nil, backend.ServiceConfig(cfg))

	if err := checkReferences(ctx, store, cfg.EmotionsNamespace, cfg.CallTimeout); err != nil {
		log.Warn().Err(err).Msg("Emotion reference set missing; every comment will score 0 until it is seeded")
	}

	coldStart(ctx, core, populate, populateTimeout)
	if ctx.Err() != nil {
		return nil
	}
	stopStartup()

	var warmer *sentiment.Warmer
	if cfg.WarmInterval > 0 && core.CacheEnabled() {
		warmer = sentiment.NewWarmer(core, cfg.WarmInterval, log.Logger)
	}

	svc, err := worker.NewService(Version, cfg, core, warmer)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}

	log.Info().Msg("Worker shutdown complete")
	return nil
}

// checkReferences reports an error when the emotions namespace is empty or
// the store does not answer within timeout.
func checkReferences(ctx context.Context, store vector.Store, namespace string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stats, err := store.DescribeIndexStats(ctx)
	if err != nil {
		return fmt.Errorf("describe index: %w", err)
	}
	if stats.Namespaces[namespace].VectorCount == 0 {
		return fmt.Errorf("namespace %q is empty", namespace)
	}
	return nil
}

type populater interface {
	PopulateAll(ctx context.Context, tenant string, statuses map[string]models.TicketStatus) (int, error)
}

// coldStart rebuilds the ticket cache of each tenant, giving each one at most
// timeout. It returns the number of tenants that completed.
func coldStart(ctx context.Context, core populater, tenants []string, timeout time.Duration) int {
	done := 0
	for _, tenant := range tenants {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("Cold-start populate interrupted")
			break
		}
		tctx, cancel := context.WithTimeout(ctx, timeout)
		n, err := core.PopulateAll(tctx, tenant, nil)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("tenant", tenant).Msg("Cold-start populate failed")
			continue
		}
		done++
		log.Info().Str("tenant", tenant).Int("tickets", n).Msg("Cold-start populate complete")
	}
	return done
}
