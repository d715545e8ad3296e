package sentiment

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type serviceMetrics struct {
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
}

func newServiceMetrics() serviceMetrics {
	meter := otel.Meter("github.com/silverstream/sentiment-checker/internal/sentiment")
	hits, err := meter.Int64Counter("sentiment.cache.hits", metric.WithDescription("Ticket scores served from cache"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create cache hit counter")
	}
	misses, err := meter.Int64Counter("sentiment.cache.misses", metric.WithDescription("Ticket scores recomputed on a cache miss"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create cache miss counter")
	}
	return serviceMetrics{cacheHits: hits, cacheMisses: misses}
}

func add(ctx context.Context, c metric.Int64Counter, tenant string) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", tenant)))
}
