// Package backend opens the concrete vector store, cache and embedder
// selected by the configuration.
package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/silverstream/sentiment-checker/internal/cache"
	"github.com/silverstream/sentiment-checker/internal/cache/redis"
	"github.com/silverstream/sentiment-checker/internal/config"
	"github.com/silverstream/sentiment-checker/internal/embedding"
	"github.com/silverstream/sentiment-checker/internal/scoring"
	"github.com/silverstream/sentiment-checker/internal/sentiment"
	"github.com/silverstream/sentiment-checker/internal/vector"
	"github.com/silverstream/sentiment-checker/internal/vector/pgvector"
	"github.com/silverstream/sentiment-checker/internal/vector/sqlitevec"
)

// Store is a vector store that owns a connection.
type Store interface {
	vector.Store
	io.Closer
}

// OpenStore connects the configured vector backend.
func OpenStore(cfg *config.Config) (Store, error) {
	switch cfg.VectorBackend {
	case config.BackendPGVector:
		level := logger.Silent
		if cfg.LogLevel == "debug" || cfg.LogLevel == "trace" {
			level = logger.Info
		}
		client, err := pgvector.NewClient(pgvector.Config{
			DSN:        cfg.DatabaseURL,
			MaxConns:   cfg.DBMaxConns,
			Dimensions: cfg.EmbeddingDimensions,
			LogLevel:   level,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.BackendSQLite:
		client, err := sqlitevec.NewClient(sqlitevec.Config{
			Path:       cfg.SQLitePath,
			Dimensions: cfg.EmbeddingDimensions,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
}

// OpenCache connects Redis when configured. It returns a nil cache and a nil
// closer when Redis is not configured, which disables the tenant cache.
func OpenCache(ctx context.Context, cfg *config.Config) (cache.Cache, io.Closer, error) {
	if !cfg.RedisConfigured() {
		log.Info().Msg("Redis not configured, ticket cache disabled")
		return nil, nil, nil
	}
	client, err := redis.New(ctx, redis.Config{
		URL:      cfg.RedisURL,
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		SSL:      cfg.RedisSSL,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, client, nil
}

// OpenEmbedder builds the OpenAI-compatible embedder.
func OpenEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	emb, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	})
	if err != nil {
		return nil, err
	}
	return emb, nil
}

// ServiceConfig maps the file configuration onto the pipeline settings.
func ServiceConfig(cfg *config.Config) sentiment.Config {
	return sentiment.Config{
		Scorer: scoring.ScorerConfig{
			Namespace:       cfg.EmotionsNamespace,
			TopK:            cfg.TopK,
			PruneDuplicates: cfg.PruneDuplicates,
		},
		Aggregator: scoring.AggregatorConfig{
			DecayLambda: cfg.DecayLambda,
			Scale:       cfg.ScoreScale,
			MaxVectors:  cfg.MaxTicketVectors,
		},
		Concurrency: cfg.Concurrency,
		CallTimeout: cfg.CallTimeout,
		CacheTTL:    cfg.CacheTTL,
	}
}
