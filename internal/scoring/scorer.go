// Package scoring turns comment text into emotion scores and folds comment
// scores into recency-weighted ticket scores.
package scoring

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/silverstream/sentiment-checker/internal/embedding"
	"github.com/silverstream/sentiment-checker/internal/vector"
	"github.com/silverstream/sentiment-checker/pkg/models"
)

// Scorer defaults.
const (
	DefaultEmotionsNamespace = "emotions"
	DefaultTopK              = 100
)

// ScorerConfig tunes the reference-set query.
type ScorerConfig struct {
	// Namespace holding the emotion reference vectors.
	Namespace string
	// TopK is the number of reference matches considered per comment.
	TopK int
	// PruneDuplicates collapses reference matches that share the same text
	// and label set, keeping the most similar one.
	PruneDuplicates bool
}

// DefaultScorerConfig returns the default scorer configuration.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{Namespace: DefaultEmotionsNamespace, TopK: DefaultTopK}
}

// Scored is the outcome of scoring one text.
type Scored struct {
	Score float64
	// Embedding is the text's vector, reused when persisting the comment.
	Embedding []float32
	// Matched counts the (label, reference) pairs that contributed.
	Matched int
}

// Scorer computes the emotion score of a text by nearest-neighbour
// matching against the emotion reference set.
type Scorer struct {
	embedder embedding.Embedder
	store    vector.Store
	taxonomy *models.Taxonomy
	config   ScorerConfig
}

// NewScorer creates a scorer. A nil taxonomy uses models.DefaultTaxonomy.
func NewScorer(embedder embedding.Embedder, store vector.Store, taxonomy *models.Taxonomy, config ScorerConfig) *Scorer {
	if taxonomy == nil {
		taxonomy = models.DefaultTaxonomy()
	}
	if config.Namespace == "" {
		config.Namespace = DefaultEmotionsNamespace
	}
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.TopK > vector.MaxTopK {
		config.TopK = vector.MaxTopK
	}
	return &Scorer{embedder: embedder, store: store, taxonomy: taxonomy, config: config}
}

// Config returns the scorer configuration.
func (s *Scorer) Config() ScorerConfig { return s.config }

// Score returns the emotion score of text in [-10, 10].
func (s *Scorer) Score(ctx context.Context, text string) (float64, error) {
	res, err := s.ScoreText(ctx, text)
	if err != nil {
		return 0, err
	}
	return res.Score, nil
}

// ScoreText embeds text, queries the reference set and averages the
// weighted similarities of every present, known label across all matches.
func (s *Scorer) ScoreText(ctx context.Context, text string) (Scored, error) {
	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return Scored{}, fmt.Errorf("embed comment: %w", err)
	}

	matches, err := s.store.Query(ctx, s.config.Namespace, vector.QueryRequest{
		Vector:          emb,
		TopK:            s.config.TopK,
		IncludeMetadata: true,
	})
	if err != nil {
		return Scored{}, fmt.Errorf("query emotion references: %w", err)
	}

	refs := s.parseMatches(matches)
	if s.config.PruneDuplicates {
		refs = PruneDuplicates(refs)
	}

	score, matched := WeightedMean(refs, s.taxonomy)
	return Scored{Score: score, Embedding: emb, Matched: matched}, nil
}

// Reference is one reference-set match with its parsed emotion flags.
type Reference struct {
	ID         string
	Similarity float64
	Flags      models.EmotionFlags
}

func (s *Scorer) parseMatches(matches []vector.Match) []Reference {
	refs := make([]Reference, 0, len(matches))
	for _, m := range matches {
		flags := s.taxonomy.ParseEmotionFlags(m.Metadata)
		if len(flags.Unknown) > 0 {
			log.Debug().
				Str("reference", m.ID).
				Strs("labels", flags.Unknown).
				Msg("Ignoring unknown emotion labels")
		}
		refs = append(refs, Reference{ID: m.ID, Similarity: m.Score, Flags: flags})
	}
	return refs
}

// WeightedMean averages weight*similarity over every present, known label of
// every reference. No contributing label yields 0. The result is clamped to
// the taxonomy range.
func WeightedMean(refs []Reference, taxonomy *models.Taxonomy) (float64, int) {
	var sum float64
	matched := 0
	for _, ref := range refs {
		for _, label := range ref.Flags.Present() {
			w, ok := taxonomy.Weight(string(label))
			if !ok {
				continue
			}
			sum += w * ref.Similarity
			matched++
		}
	}
	if matched == 0 {
		return 0, 0
	}
	return clamp(sum/float64(matched), -models.MaxEmotionWeight, models.MaxEmotionWeight), matched
}

// PruneDuplicates keeps one reference per (text, present label set), the one
// with the highest similarity. Order of first appearance is preserved.
func PruneDuplicates(refs []Reference) []Reference {
	best := make(map[string]int, len(refs))
	out := make([]Reference, 0, len(refs))
	for _, ref := range refs {
		key := dedupKey(ref)
		if i, ok := best[key]; ok {
			if ref.Similarity > out[i].Similarity {
				out[i] = ref
			}
			continue
		}
		best[key] = len(out)
		out = append(out, ref)
	}
	return out
}

func dedupKey(ref Reference) string {
	labels := ref.Flags.Present()
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = string(l)
	}
	sort.Strings(names)
	return ref.Flags.Text + "\x00" + strings.Join(names, ",")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
