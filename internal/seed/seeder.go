package seed

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/silverstream/sentiment-checker/internal/embedding"
	"github.com/silverstream/sentiment-checker/internal/vector"
)

// BatchConfig configures batch seeding behavior.
type BatchConfig struct {
	BatchSize       int // References per upsert (default: 50)
	Concurrency     int // Parallel embedding calls within a batch (default: 4)
	ProgressLogFreq int // Log progress every N references (default: 500)
}

// DefaultBatchConfig returns sensible defaults for seeding.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:       50,
		Concurrency:     4,
		ProgressLogFreq: 500,
	}
}

// Seeder embeds references and writes them to one namespace.
type Seeder struct {
	refs     *vector.Scoped
	embedder embedding.Embedder
	cfg      BatchConfig
}

// NewSeeder creates a seeder for the given namespace.
func NewSeeder(store vector.Store, embedder embedding.Embedder, namespace string, cfg BatchConfig) *Seeder {
	def := DefaultBatchConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.ProgressLogFreq <= 0 {
		cfg.ProgressLogFreq = def.ProgressLogFreq
	}
	return &Seeder{refs: vector.Scope(store, namespace), embedder: embedder, cfg: cfg}
}

// Seed writes refs in batches. A failed batch counts its references as failed
// and seeding moves on; cancellation stops between batches.
func (s *Seeder) Seed(ctx context.Context, refs []Reference) (seeded int, failed int) {
	if len(refs) == 0 {
		return 0, 0
	}
	log.Info().Str("namespace", s.refs.Namespace()).Int("references", len(refs)).Msg("Seeding references")

	done := 0
	for i := 0; i < len(refs); i += s.cfg.BatchSize {
		select {
		case <-ctx.Done():
			log.Warn().Int("seeded", seeded).Int("remaining", len(refs)-i).Msg("Seeding cancelled")
			return seeded, failed
		default:
		}

		end := min(i+s.cfg.BatchSize, len(refs))
		batch := refs[i:end]

		n, err := s.seedBatch(ctx, batch)
		if err != nil {
			log.Warn().Err(err).Int("batchStart", i).Int("batchSize", len(batch)).Msg("Failed to seed reference batch")
			failed += len(batch)
		} else {
			seeded += n
			failed += len(batch) - n
		}

		prev := done
		done = end
		if done/s.cfg.ProgressLogFreq != prev/s.cfg.ProgressLogFreq || done == len(refs) {
			log.Info().Int("done", done).Int("total", len(refs)).Int("failed", failed).Msg("Seeding progress")
		}
	}
	return seeded, failed
}

func (s *Seeder) seedBatch(ctx context.Context, batch []Reference) (int, error) {
	records := make([]vector.Record, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, ref := range batch {
		g.Go(func() error {
			values, err := s.embedder.Embed(gctx, ref.Text)
			if err != nil {
				return fmt.Errorf("embed reference %s: %w", ref.ID, err)
			}
			records[i] = vector.Record{ID: ref.ID, Values: values, Metadata: ref.Metadata()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	res, err := s.refs.Upsert(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("upsert references: %w", err)
	}
	return res.UpsertedCount, nil
}

// Count returns the number of references stored in the namespace.
func (s *Seeder) Count(ctx context.Context) (int, error) {
	ids, err := s.refs.ListAll(ctx, "", 0)
	if err != nil {
		return 0, fmt.Errorf("list references: %w", err)
	}
	return len(ids), nil
}
