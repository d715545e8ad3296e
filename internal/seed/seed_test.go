package seed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silverstream/sentiment-checker/internal/vector"
	"github.com/silverstream/sentiment-checker/internal/vector/sqlitevec"
	"github.com/silverstream/sentiment-checker/pkg/models"
)

const sampleCSV = "\ufefftext,id,author,subreddit,admiration,anger,love,neutral,not_an_emotion\n" +
	"I love it,a1,u1,r,0,0,1,0,1\n" +
	"This is outrageous,a2,u2,r,0,1,0,0,0\n" +
	"   ,a3,u3,r,0,0,0,1,0\n" +
	"Nothing flagged,a4,u4,r,0,0,0,0,1\n" +
	"I love it,a5,u5,r,0,0,1,0,0\n" +
	"\"Great work, truly\",a6,u6,r,1,0,1,0,0\n"

type stubEmbedder struct {
	fail string
}

func (e stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail != "" && strings.Contains(text, e.fail) {
		return nil, errors.New("embedder down")
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (stubEmbedder) Dimensions() int { return 3 }
func (stubEmbedder) Version() string { return "stub" }

func newStore(t *testing.T) *sqlitevec.Client {
	t.Helper()
	c, err := sqlitevec.NewClient(sqlitevec.Config{Path: ":memory:", Dimensions: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestReadCSV(t *testing.T) {
	refs, stats, err := ReadCSV(strings.NewReader(sampleCSV), models.DefaultTaxonomy())
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Rows)
	assert.Equal(t, 1, stats.Empty)
	assert.Equal(t, 1, stats.Unlabelled)
	assert.Equal(t, 1, stats.Duplicates)
	require.Len(t, refs, 3)

	assert.Equal(t, "I love it", refs[0].Text)
	assert.Equal(t, []models.EmotionLabel{models.EmotionLove}, refs[0].Labels)
	assert.Equal(t, []models.EmotionLabel{models.EmotionAnger}, refs[1].Labels)
	assert.Equal(t, "Great work, truly", refs[2].Text)
	assert.Equal(t, []models.EmotionLabel{models.EmotionAdmiration, models.EmotionLove}, refs[2].Labels)

	meta := refs[2].Metadata()
	assert.Equal(t, "Great work, truly", meta["text"])
	assert.Equal(t, true, meta["admiration"])
	assert.Equal(t, true, meta["love"])
	assert.NotContains(t, meta, "anger")
	assert.NotContains(t, meta, "not_an_emotion")
}

func TestReadCSVRejectsBadHeaders(t *testing.T) {
	tax := models.DefaultTaxonomy()

	_, _, err := ReadCSV(strings.NewReader(""), tax)
	assert.Error(t, err)

	_, _, err = ReadCSV(strings.NewReader("body,love\nhi,1\n"), tax)
	assert.ErrorContains(t, err, "text column")

	_, _, err = ReadCSV(strings.NewReader("text,foo\nhi,1\n"), tax)
	assert.ErrorContains(t, err, "label columns")
}

func TestReferenceIDIsStable(t *testing.T) {
	a := ReferenceID("hello", []models.EmotionLabel{models.EmotionJoy, models.EmotionLove})
	b := ReferenceID("hello", []models.EmotionLabel{models.EmotionLove, models.EmotionJoy})
	c := ReferenceID("hello", []models.EmotionLabel{models.EmotionJoy})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}

func TestSeedWritesReferencesInBatches(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	refs, _, err := ReadCSV(strings.NewReader(sampleCSV), models.DefaultTaxonomy())
	require.NoError(t, err)

	s := NewSeeder(store, stubEmbedder{}, "emotions", BatchConfig{BatchSize: 2})
	seeded, failed := s.Seed(ctx, refs)
	assert.Equal(t, 3, seeded)
	assert.Equal(t, 0, failed)

	got := store.Fetch(ctx, "emotions", refs[0].ID)
	require.Equal(t, vector.FetchFound, got.Status)
	assert.Equal(t, true, got.Record.Metadata["love"])
	assert.Equal(t, "I love it", got.Record.Metadata["text"])

	// Reseeding overwrites in place.
	_, _ = s.Seed(ctx, refs)
	stats, err := store.DescribeIndexStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Namespaces["emotions"].VectorCount)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSeedCountsFailedBatches(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	refs, _, err := ReadCSV(strings.NewReader(sampleCSV), models.DefaultTaxonomy())
	require.NoError(t, err)

	s := NewSeeder(store, stubEmbedder{fail: "outrageous"}, "emotions", BatchConfig{BatchSize: 2})
	seeded, failed := s.Seed(ctx, refs)
	assert.Equal(t, 1, seeded)
	assert.Equal(t, 2, failed)
}

func TestSeedStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSeeder(newStore(t), stubEmbedder{}, "emotions", DefaultBatchConfig())
	seeded, failed := s.Seed(ctx, []Reference{{ID: "x", Text: "hi", Labels: []models.EmotionLabel{models.EmotionJoy}}})
	assert.Zero(t, seeded)
	assert.Zero(t, failed)
}
