package scoring

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/silverstream/sentiment-checker/internal/scoring"

// memoMetrics counts memoizer outcomes on the global meter provider.
type memoMetrics struct {
	hits     metric.Int64Counter
	computed metric.Int64Counter
	skipped  metric.Int64Counter
	failures metric.Int64Counter
}

func newMemoMetrics() memoMetrics {
	meter := otel.Meter(meterName)
	return memoMetrics{
		hits:     counter(meter, "sentiment.memo.hits", "Comments served from a stored score"),
		computed: counter(meter, "sentiment.comments.scored", "Comments scored and persisted"),
		skipped:  counter(meter, "sentiment.comments.skipped", "Comments skipped for empty text"),
		failures: counter(meter, "sentiment.comments.failures", "Comments that could not be scored or persisted"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to create counter")
	}
	return c
}

func add(ctx context.Context, c metric.Int64Counter, namespace string) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", namespace)))
}
