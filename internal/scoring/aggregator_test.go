package scoring

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silverstream/sentiment-checker/internal/vector"
	"github.com/silverstream/sentiment-checker/pkg/models"
)

const hour = int64(3600)

func samplesFrom(scores []float64, start, step int64) []Sample {
	out := make([]Sample, len(scores))
	for i, s := range scores {
		out[i] = Sample{VectorID: fmt.Sprintf("t#%d", i), Score: s, Timestamp: start - int64(i)*step}
	}
	return out
}

// =============================================================================
// PURE FUNCTIONS
// =============================================================================

func TestFold_Empty(t *testing.T) {
	f := Fold(nil, 1)
	assert.Zero(t, f.Base)
	assert.Zero(t, f.WeightSum)
}

func TestFold_NewestHasFullWeight(t *testing.T) {
	samples := samplesFrom([]float64{4, -2}, 1_700_000_000, 86400)
	f := Fold(samples, 1)

	want := (4 + -2*math.Exp(-1)) / (1 + math.Exp(-1))
	assert.InDelta(t, want, f.Base, 1e-12)
	assert.Equal(t, 4.0, f.Recent)
	assert.Equal(t, int64(1_700_000_000), f.Newest)
	assert.Equal(t, []float64{4, -2}, f.Raw)
}

func TestFold_DecayIsMonotonic(t *testing.T) {
	// Moving an old comment further into the past reduces its influence.
	near := Fold(samplesFrom([]float64{0, 10}, 1_700_000_000, 86400), 1)
	far := Fold(samplesFrom([]float64{0, 10}, 1_700_000_000, 5*86400), 1)
	assert.Greater(t, near.Base, far.Base)
	assert.Greater(t, far.Base, 0.0)
}

func TestCorrectOutlier(t *testing.T) {
	raw := []float64{8, 1, 1, 1}
	assert.Equal(t, 8.0, CorrectOutlier(2.75, 8, raw))
	assert.Equal(t, 6.0, CorrectOutlier(6, 8, raw))
}

func TestStdDev(t *testing.T) {
	assert.Zero(t, StdDev(nil))
	assert.Zero(t, StdDev([]float64{3}))
	assert.InDelta(t, 2.0, StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-12)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, 0.5, Normalize(5, 10))
	assert.Equal(t, 1.0, Normalize(25, 10))
	assert.Equal(t, -1.0, Normalize(-25, 10))
	assert.Equal(t, 0.5, Normalize(5, 0))
}

func TestWeightedScore_SingleComment(t *testing.T) {
	for _, s := range []float64{-10, -3.3, 0, 7.25, 10} {
		got := WeightedScore([]Sample{{Score: s, Timestamp: 1}}, DefaultAggregatorConfig())
		assert.Equal(t, Normalize(s, 10), got, "score %v", s)
	}
}

func TestWeightedScore_OutlierOverride(t *testing.T) {
	samples := samplesFrom([]float64{8, 1, 1, 1}, 1_700_000_000, hour)
	assert.InDelta(t, 0.8, WeightedScore(samples, DefaultAggregatorConfig()), 1e-12)
}

func TestWeightedScore_Bounded(t *testing.T) {
	samples := samplesFrom([]float64{10, 10, -10, 10, -10}, 1_700_000_000, 7*hour)
	got := WeightedScore(samples, DefaultAggregatorConfig())
	assert.LessOrEqual(t, got, 1.0)
	assert.GreaterOrEqual(t, got, -1.0)
}

func TestSortSamples(t *testing.T) {
	samples := []Sample{
		{VectorID: "t#b", Timestamp: 5},
		{VectorID: "t#c", Timestamp: 9},
		{VectorID: "t#a", Timestamp: 5},
	}
	SortSamples(samples)
	assert.Equal(t, "t#c", samples[0].VectorID)
	assert.Equal(t, "t#a", samples[1].VectorID)
	assert.Equal(t, "t#b", samples[2].VectorID)
}

// =============================================================================
// AGGREGATOR OVER A STORE
// =============================================================================

func seedComment(store *fakeStore, ns, ticket, comment string, score float64, ts int64) {
	store.put(ns, vector.Record{
		ID:     models.VectorID(ticket, comment),
		Values: []float32{1, 0, 0},
		Metadata: map[string]any{
			models.MetaEmotionScore: score,
			models.MetaTimestamp:    ts,
			models.MetaText:         "c" + comment,
		},
	})
}

func TestAggregator_NoVectorsScoresZero(t *testing.T) {
	a := NewAggregator(newFakeStore(), DefaultAggregatorConfig())

	agg, err := a.Aggregate(context.Background(), "acme", "404")
	require.NoError(t, err)
	assert.Equal(t, "404", agg.TicketID)
	assert.Zero(t, agg.WeightedScore)
	assert.Zero(t, agg.CommentCount)
}

func TestAggregator_OnlyReadsOwnTicket(t *testing.T) {
	store := newFakeStore()
	seedComment(store, "acme", "1", "a", 5, 100)
	seedComment(store, "acme", "10", "a", -9, 200)
	seedComment(store, "globex", "1", "b", -9, 300)

	a := NewAggregator(store, DefaultAggregatorConfig())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	agg, err := a.Aggregate(context.Background(), "acme", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.CommentCount)
	assert.InDelta(t, 0.5, agg.WeightedScore, 1e-12)
	assert.Equal(t, int64(100), agg.LastCommentAt)
	assert.Equal(t, now, agg.UpdatedAt)
}

func TestAggregator_ListTicketVectorsSortedNewestFirst(t *testing.T) {
	store := newFakeStore()
	seedComment(store, "acme", "7", "1", 1, 100)
	seedComment(store, "acme", "7", "2", 2, 300)
	seedComment(store, "acme", "7", "3", 3, 200)
	store.put("acme", vector.Record{ID: "7#bad", Metadata: map[string]any{"text": "no score"}})

	samples, err := NewAggregator(store, DefaultAggregatorConfig()).ListTicketVectors(context.Background(), "acme", "7")
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, []int64{300, 200, 100}, []int64{samples[0].Timestamp, samples[1].Timestamp, samples[2].Timestamp})
	assert.Equal(t, "c2", samples[0].Text)
}

func TestAggregator_CapsVectorsPerTicket(t *testing.T) {
	store := newFakeStore()
	for i := range 5000 {
		seedComment(store, "acme", "big", fmt.Sprintf("%05d", i), 1, int64(i))
	}

	a := NewAggregator(store, DefaultAggregatorConfig())
	samples, err := a.ListTicketVectors(context.Background(), "acme", "big")
	require.NoError(t, err)
	assert.Len(t, samples, DefaultMaxTicketVectors)

	agg, err := a.Aggregate(context.Background(), "acme", "big")
	require.NoError(t, err)
	assert.LessOrEqual(t, agg.CommentCount, DefaultMaxTicketVectors)
}
