package sqlitevec

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silverstream/sentiment-checker/internal/vector"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(Config{Path: ":memory:", Dimensions: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func rec(id string, v []float32, meta map[string]any) vector.Record {
	return vector.Record{ID: id, Values: v, Metadata: meta}
}

func TestNewClient_RequiresPath(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestUpsertAndFetch(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	res, err := c.Upsert(ctx, "acme", []vector.Record{
		rec("1#a", []float32{1, 0, 0}, map[string]any{"text": "hi", "emotion_score": 4.5, "timestamp": int64(1700000000)}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpsertedCount)

	got := c.Fetch(ctx, "acme", "1#a")
	require.Equal(t, vector.FetchFound, got.Status)
	assert.Equal(t, []float32{1, 0, 0}, got.Record.Values)
	assert.Equal(t, "hi", got.Record.Metadata["text"])
	score, ok := vector.AsFloat(got.Record.Metadata["emotion_score"])
	require.True(t, ok)
	assert.InDelta(t, 4.5, score, 1e-12)
	ts, ok := vector.AsInt64(got.Record.Metadata["timestamp"])
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), ts)

	assert.Equal(t, vector.FetchNotFound, c.Fetch(ctx, "acme", "1#zzz").Status)
	assert.Equal(t, vector.FetchNotFound, c.Fetch(ctx, "globex", "1#a").Status)
}

func TestUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.Upsert(ctx, "acme", []vector.Record{rec("x", []float32{1, 0, 0}, map[string]any{"v": 1})})
	require.NoError(t, err)
	_, err = c.Upsert(ctx, "acme", []vector.Record{rec("x", []float32{0, 1, 0}, map[string]any{"v": 2})})
	require.NoError(t, err)

	got := c.Fetch(ctx, "acme", "x")
	require.Equal(t, vector.FetchFound, got.Status)
	assert.Equal(t, []float32{0, 1, 0}, got.Record.Values)
	assert.EqualValues(t, 2, got.Record.Metadata["v"])
}

func TestUpsertRejectsWrongDimensions(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Upsert(context.Background(), "acme", []vector.Record{rec("x", []float32{1, 0}, nil)})
	assert.Error(t, err)
}

func TestEmptyNamespaceRejected(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.Upsert(ctx, "", []vector.Record{rec("x", []float32{1, 0, 0}, nil)})
	assert.ErrorIs(t, err, vector.ErrEmptyNamespace)

	got := c.Fetch(ctx, "", "x")
	assert.Equal(t, vector.FetchTransientError, got.Status)
	assert.ErrorIs(t, got.Err, vector.ErrEmptyNamespace)
}

func TestFetchMany(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	var records []vector.Record
	for i := range 5 {
		records = append(records, rec(fmt.Sprintf("t#%d", i), []float32{1, 0, 0}, map[string]any{"i": i}))
	}
	_, err := c.Upsert(ctx, "acme", records)
	require.NoError(t, err)

	got, err := c.FetchMany(ctx, "acme", []string{"t#0", "t#3", "t#missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "t#0")
	assert.Contains(t, got, "t#3")
}

func TestQueryRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.Upsert(ctx, "emotions", []vector.Record{
		rec("love", []float32{1, 0, 0}, map[string]any{"love": true}),
		rec("anger", []float32{0, 1, 0}, map[string]any{"anger": true}),
		rec("mixed", []float32{1, 1, 0}, map[string]any{"love": true, "anger": true}),
	})
	require.NoError(t, err)

	matches, err := c.Query(ctx, "emotions", vector.QueryRequest{Vector: []float32{1, 0, 0}, TopK: 2, IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "love", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, "mixed", matches[1].ID)
	assert.Equal(t, true, matches[0].Metadata["love"])

	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, 0.0)
		assert.LessOrEqual(t, m.Score, 1.0)
	}
}

func TestQueryFilterAndNoMetadata(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.Upsert(ctx, "emotions", []vector.Record{
		rec("a", []float32{1, 0, 0}, map[string]any{"love": true}),
		rec("b", []float32{1, 0, 0}, map[string]any{"love": false}),
	})
	require.NoError(t, err)

	matches, err := c.Query(ctx, "emotions", vector.QueryRequest{
		Vector: []float32{1, 0, 0},
		TopK:   10,
		Filter: map[string]any{"love": true},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)
	assert.Nil(t, matches[0].Metadata)
}

func TestListByPrefixPaginates(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	var records []vector.Record
	for i := range 25 {
		records = append(records, rec(fmt.Sprintf("42#%03d", i), []float32{1, 0, 0}, nil))
	}
	records = append(records, rec("420#000", []float32{1, 0, 0}, nil), rec("4#000", []float32{1, 0, 0}, nil))
	_, err := c.Upsert(ctx, "acme", records)
	require.NoError(t, err)

	page, err := c.ListByPrefix(ctx, "acme", vector.ListRequest{Prefix: "42#", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.IDs, 10)
	assert.Equal(t, "42#000", page.IDs[0])
	assert.Equal(t, "42#009", page.NextToken)

	all, err := vector.ListAll(ctx, c, "acme", "42#", 0)
	require.NoError(t, err)
	assert.Len(t, all, 25)

	capped, err := vector.ListAll(ctx, c, "acme", "42#", 7)
	require.NoError(t, err)
	assert.Len(t, capped, 7)

	everything, err := vector.ListAll(ctx, c, "acme", "", 0)
	require.NoError(t, err)
	assert.Len(t, everything, 27)
}

func TestListByPrefixIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.Upsert(ctx, "acme", []vector.Record{
		rec("AB#1", []float32{1, 0, 0}, nil),
		rec("ab#1", []float32{1, 0, 0}, nil),
	})
	require.NoError(t, err)

	page, err := c.ListByPrefix(ctx, "acme", vector.ListRequest{Prefix: "ab#"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ab#1"}, page.IDs)
	assert.Empty(t, page.NextToken)
}

func TestDeleteAndStats(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.Upsert(ctx, "acme", []vector.Record{
		rec("1#a", []float32{1, 0, 0}, nil),
		rec("1#b", []float32{1, 0, 0}, nil),
	})
	require.NoError(t, err)
	_, err = c.Upsert(ctx, "globex", []vector.Record{rec("9#a", []float32{1, 0, 0}, nil)})
	require.NoError(t, err)

	stats, err := c.DescribeIndexStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Dimension)
	assert.EqualValues(t, 2, stats.Namespaces["acme"].VectorCount)
	assert.EqualValues(t, 1, stats.Namespaces["globex"].VectorCount)

	require.NoError(t, c.Delete(ctx, "acme", []string{"1#a"}))
	stats, err = c.DescribeIndexStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Namespaces["acme"].VectorCount)
}

func TestFileDatabasePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	c, err := NewClient(Config{Path: path, Dimensions: 3})
	require.NoError(t, err)
	_, err = c.Upsert(ctx, "acme", []vector.Record{rec("1#a", []float32{0.5, 0.25, 0}, nil)})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = NewClient(Config{Path: path, Dimensions: 3})
	require.NoError(t, err)
	defer c.Close()

	got := c.Fetch(ctx, "acme", "1#a")
	require.Equal(t, vector.FetchFound, got.Status)
	assert.Equal(t, []float32{0.5, 0.25, 0}, got.Record.Values)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.Ready)
}
