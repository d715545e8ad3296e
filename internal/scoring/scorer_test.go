package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silverstream/sentiment-checker/internal/vector"
	"github.com/silverstream/sentiment-checker/pkg/models"
)

func newTestScorer(matches []vector.Match, cfg ScorerConfig) (*Scorer, *fakeStore, *fakeEmbedder) {
	store := newFakeStore()
	store.matches[DefaultEmotionsNamespace] = matches
	emb := &fakeEmbedder{}
	return NewScorer(emb, store, nil, cfg), store, emb
}

func TestScorer_SingleLoveMatch(t *testing.T) {
	s, _, _ := newTestScorer([]vector.Match{
		{ID: "ref-1", Score: 0.9, Metadata: map[string]any{"text": "I love it", "love": true}},
	}, DefaultScorerConfig())

	score, err := s.Score(context.Background(), "I love this!!")
	require.NoError(t, err)
	assert.InDelta(t, 9.0, score, 1e-9)
}

func TestScorer_AveragesAcrossLabelsAndMatches(t *testing.T) {
	s, _, _ := newTestScorer([]vector.Match{
		{ID: "a", Score: 0.8, Metadata: map[string]any{"joy": true, "anger": false}},
		{ID: "b", Score: 0.5, Metadata: map[string]any{"anger": true, "joy": true}},
	}, DefaultScorerConfig())

	res, err := s.ScoreText(context.Background(), "mixed")
	require.NoError(t, err)

	joy, _ := models.DefaultTaxonomy().Weight("joy")
	anger, _ := models.DefaultTaxonomy().Weight("anger")
	want := (joy*0.8 + anger*0.5 + joy*0.5) / 3
	assert.InDelta(t, want, res.Score, 1e-9)
	assert.Equal(t, 3, res.Matched)
	assert.Len(t, res.Embedding, 3)
}

func TestScorer_NoMatchesScoresZero(t *testing.T) {
	s, _, _ := newTestScorer(nil, DefaultScorerConfig())

	score, err := s.Score(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestScorer_OnlyUnknownOrFalseLabelsScoresZero(t *testing.T) {
	s, _, _ := newTestScorer([]vector.Match{
		{ID: "a", Score: 0.99, Metadata: map[string]any{"schadenfreude": true, "joy": false, "text": "x"}},
		{ID: "b", Score: 0.7, Metadata: map[string]any{"love": "yes"}},
	}, DefaultScorerConfig())

	score, err := s.Score(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestScorer_ResultStaysInRange(t *testing.T) {
	var matches []vector.Match
	for range 50 {
		matches = append(matches, vector.Match{ID: "x", Score: 1, Metadata: map[string]any{"love": true, "gratitude": true}})
	}
	s, _, _ := newTestScorer(matches, DefaultScorerConfig())

	score, err := s.Score(context.Background(), "thanks")
	require.NoError(t, err)
	assert.LessOrEqual(t, score, models.MaxEmotionWeight)
	assert.GreaterOrEqual(t, score, -models.MaxEmotionWeight)
}

func TestScorer_TopKLimitsMatches(t *testing.T) {
	s, _, _ := newTestScorer([]vector.Match{
		{ID: "a", Score: 1, Metadata: map[string]any{"love": true}},
		{ID: "b", Score: 1, Metadata: map[string]any{"anger": true}},
	}, ScorerConfig{TopK: 1})

	score, err := s.Score(context.Background(), "x")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, score, 1e-9)
}

func TestScorer_EmbedErrorPropagates(t *testing.T) {
	s, store, emb := newTestScorer(nil, DefaultScorerConfig())
	emb.err = errors.New("rate limited")

	_, err := s.Score(context.Background(), "x")
	require.Error(t, err)
	assert.Zero(t, store.queries.Load())
}

func TestPruneDuplicates(t *testing.T) {
	tax := models.DefaultTaxonomy()
	refs := []Reference{
		{ID: "a", Similarity: 0.5, Flags: tax.ParseEmotionFlags(map[string]any{"text": "great", "joy": true})},
		{ID: "b", Similarity: 0.9, Flags: tax.ParseEmotionFlags(map[string]any{"text": "great", "joy": true})},
		{ID: "c", Similarity: 0.7, Flags: tax.ParseEmotionFlags(map[string]any{"text": "great", "love": true})},
	}

	out := PruneDuplicates(refs)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, "c", out[1].ID)
}

func TestScorer_PruneDuplicatesOption(t *testing.T) {
	matches := []vector.Match{
		{ID: "a", Score: 0.2, Metadata: map[string]any{"text": "t", "love": true}},
		{ID: "b", Score: 0.8, Metadata: map[string]any{"text": "t", "love": true}},
	}

	plain, _, _ := newTestScorer(matches, DefaultScorerConfig())
	pruned, _, _ := newTestScorer(matches, ScorerConfig{PruneDuplicates: true})

	a, err := plain.Score(context.Background(), "x")
	require.NoError(t, err)
	b, err := pruned.Score(context.Background(), "x")
	require.NoError(t, err)

	assert.InDelta(t, 5.0, a, 1e-9)
	assert.InDelta(t, 8.0, b, 1e-9)
}
