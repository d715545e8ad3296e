package scoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/silverstream/sentiment-checker/internal/vector"
	"github.com/silverstream/sentiment-checker/pkg/models"
)

type MemoizerSuite struct {
	suite.Suite
	ctx   context.Context
	store *fakeStore
	emb   *fakeEmbedder
	memo  *Memoizer
	now   time.Time
}

func (s *MemoizerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = newFakeStore()
	s.store.matches[DefaultEmotionsNamespace] = []vector.Match{
		{ID: "ref", Score: 0.9, Metadata: map[string]any{"text": "I love it", "love": true}},
	}
	s.emb = &fakeEmbedder{}
	s.memo = NewMemoizer(s.store, NewScorer(s.emb, s.store, nil, DefaultScorerConfig()))
	s.now = time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	s.memo.now = func() time.Time { return s.now }
}

func TestMemoizerSuite(t *testing.T) {
	suite.Run(t, new(MemoizerSuite))
}

func comment(id, body string) models.Comment {
	return models.Comment{ID: models.ID(id), Body: body}
}

// =============================================================================
// GOOD SCENARIOS
// =============================================================================

func (s *MemoizerSuite) TestFreshCommentIsScoredAndPersisted() {
	res, err := s.memo.GetOrCompute(s.ctx, "acme", "42", comment("1", "<p>I love this!! </p>"))
	s.Require().NoError(err)
	s.Require().NotNil(res)
	s.Equal("1", res.CommentID)
	s.InDelta(9.0, res.EmotionScore, 1e-9)
	s.Equal(1, res.UpsertedCount)

	rec := s.store.Fetch(s.ctx, "acme", "42#1")
	s.Require().Equal(vector.FetchFound, rec.Status)
	s.Equal("I love this!!", rec.Record.Metadata[models.MetaText])
	s.Equal(s.now.Unix(), rec.Record.Metadata[models.MetaTimestamp])
	s.Equal([]float32{13, 1, 0}, rec.Record.Values)
	s.EqualValues(1, s.emb.calls.Load())
}

func (s *MemoizerSuite) TestStoredTextIsRedacted() {
	_, err := s.memo.GetOrCompute(s.ctx, "acme", "42", comment("1", "I love it, card 4111 1111 1111 1111"))
	s.Require().NoError(err)

	rec := s.store.Fetch(s.ctx, "acme", "42#1")
	s.Require().Equal(vector.FetchFound, rec.Status)
	s.Equal("I love it, card [REDACTED]", rec.Record.Metadata[models.MetaText])
}

func (s *MemoizerSuite) TestSecondCallIsMemoized() {
	first, err := s.memo.GetOrCompute(s.ctx, "acme", "42", comment("1", "I love this"))
	s.Require().NoError(err)

	second, err := s.memo.GetOrCompute(s.ctx, "acme", "42", comment("1", "I love this"))
	s.Require().NoError(err)

	s.Equal(first.EmotionScore, second.EmotionScore)
	s.Equal(0, second.UpsertedCount)
	s.EqualValues(1, s.emb.calls.Load())
	s.EqualValues(1, s.store.queries.Load())
}

func (s *MemoizerSuite) TestStoredScoreIsNeverRecomputed() {
	s.store.put("acme", vector.Record{
		ID:       "42#1",
		Values:   []float32{0, 0, 1},
		Metadata: map[string]any{models.MetaEmotionScore: -3.5, models.MetaText: "old"},
	})

	res, err := s.memo.GetOrCompute(s.ctx, "acme", "42", comment("1", "I love this"))
	s.Require().NoError(err)
	s.InDelta(-3.5, res.EmotionScore, 1e-9)
	s.Zero(s.emb.calls.Load())
}

func (s *MemoizerSuite) TestCreatedAtBecomesTimestamp() {
	c := comment("1", "hello")
	ts := time.Date(2024, 12, 24, 8, 0, 0, 0, time.UTC)
	c.CreatedAt = models.FlexTime{Time: ts, Valid: true}

	_, err := s.memo.GetOrCompute(s.ctx, "acme", "42", c)
	s.Require().NoError(err)

	rec := s.store.Fetch(s.ctx, "acme", "42#1")
	s.Equal(ts.Unix(), rec.Record.Metadata[models.MetaTimestamp])
}

func (s *MemoizerSuite) TestNamespacesAreIndependent() {
	_, err := s.memo.GetOrCompute(s.ctx, "acme", "42", comment("1", "hello"))
	s.Require().NoError(err)

	res, err := s.memo.GetOrCompute(s.ctx, "globex", "42", comment("1", "hello"))
	s.Require().NoError(err)
	s.Equal(1, res.UpsertedCount)
	s.EqualValues(2, s.emb.calls.Load())
}

func (s *MemoizerSuite) TestConcurrentDuplicatesShareOneComputation() {
	var wg sync.WaitGroup
	results := make([]*models.CommentResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.memo.GetOrCompute(s.ctx, "acme", "42", comment("1", "I love this"))
			s.NoError(err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		s.Require().NotNil(r)
		s.InDelta(9.0, r.EmotionScore, 1e-9)
	}
	// Either coalesced or served from the stored vector; never re-embedded
	// after the first write landed.
	s.LessOrEqual(s.emb.calls.Load(), int32(len(results)))
	s.GreaterOrEqual(s.emb.calls.Load(), int32(1))
}

func (s *MemoizerSuite) TestCancelledCallerDoesNotFailSharedComputation() {
	s.emb.gate = make(chan struct{})

	firstCtx, cancelFirst := context.WithCancel(s.ctx)
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.memo.GetOrCompute(firstCtx, "acme", "42", comment("1", "I love this"))
		firstErr <- err
	}()
	s.Require().Eventually(func() bool { return s.emb.calls.Load() == 1 }, time.Second, time.Millisecond)

	type outcome struct {
		res *models.CommentResult
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := s.memo.GetOrCompute(s.ctx, "acme", "42", comment("1", "I love this"))
		second <- outcome{res, err}
	}()

	cancelFirst()
	s.ErrorIs(<-firstErr, context.Canceled)

	close(s.emb.gate)
	got := <-second
	s.Require().NoError(got.err)
	s.Require().NotNil(got.res)
	s.InDelta(9.0, got.res.EmotionScore, 1e-9)
	s.Equal(vector.FetchFound, s.store.Fetch(s.ctx, "acme", "42#1").Status)
}

// =============================================================================
// EDGE AND BAD SCENARIOS
// =============================================================================

func (s *MemoizerSuite) TestEmptyBodyIsSkipped() {
	for _, body := range []string{"", "   ", "<p> </p>", "<script>x()</script>"} {
		res, err := s.memo.GetOrCompute(s.ctx, "acme", "42", comment("9", body))
		s.NoError(err, body)
		s.Nil(res, body)
	}
	s.Equal(vector.FetchNotFound, s.store.Fetch(s.ctx, "acme", "42#9").Status)
	s.Zero(s.emb.calls.Load())
}

func (s *MemoizerSuite) TestTransientFetchFallsThroughToCompute() {
	s.store.fetchErr = errors.New("timeout")

	res, err := s.memo.GetOrCompute(s.ctx, "acme", "42", comment("1", "I love this"))
	s.Require().NoError(err)
	s.Equal(1, res.UpsertedCount)
}

func (s *MemoizerSuite) TestZeroUpsertCountIsAnError() {
	s.store.dropWrite = true

	res, err := s.memo.GetOrCompute(s.ctx, "acme", "42", comment("1", "I love this"))
	s.Nil(res)
	s.ErrorIs(err, ErrNotPersisted)
}

func (s *MemoizerSuite) TestScoringErrorIsReturned() {
	s.emb.err = errors.New("embedder down")

	_, err := s.memo.GetOrCompute(s.ctx, "acme", "42", comment("1", "I love this"))
	s.Error(err)
	s.Zero(s.store.upserts.Load())
}

func TestMemoizer_RequiresNamespace(t *testing.T) {
	m := NewMemoizer(newFakeStore(), NewScorer(&fakeEmbedder{}, newFakeStore(), nil, DefaultScorerConfig()))

	_, err := m.GetOrCompute(context.Background(), "", "1", comment("1", "x"))
	require.ErrorIs(t, err, vector.ErrEmptyNamespace)
	assert.NotNil(t, err)
}
