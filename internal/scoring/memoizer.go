package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/silverstream/sentiment-checker/internal/privacy"
	"github.com/silverstream/sentiment-checker/internal/textnorm"
	"github.com/silverstream/sentiment-checker/internal/vector"
	"github.com/silverstream/sentiment-checker/pkg/models"
)

// ErrNotPersisted is returned when the store accepted none of a comment's vectors.
var ErrNotPersisted = errors.New("scoring: comment vector was not persisted")

// TextScorer scores a normalized comment text.
type TextScorer interface {
	ScoreText(ctx context.Context, text string) (Scored, error)
}

// Memoizer resolves comment scores, computing and persisting each comment at
// most once per namespace. A stored score is never recomputed.
type Memoizer struct {
	store   vector.Store
	scorer  TextScorer
	group   singleflight.Group
	now     func() time.Time
	metrics memoMetrics
}

// NewMemoizer creates a memoizer over store.
func NewMemoizer(store vector.Store, scorer TextScorer) *Memoizer {
	return &Memoizer{
		store:   store,
		scorer:  scorer,
		now:     time.Now,
		metrics: newMemoMetrics(),
	}
}

// GetOrCompute returns the score of a comment. A nil result with a nil error
// means the comment has no text and was skipped.
//
// Concurrent calls for the same comment in one process share a single
// computation.
func (m *Memoizer) GetOrCompute(ctx context.Context, namespace, ticketID string, comment models.Comment) (*models.CommentResult, error) {
	if namespace == "" {
		return nil, vector.ErrEmptyNamespace
	}
	vectorID := models.VectorID(ticketID, comment.ID.String())

	// The shared computation outlives any single caller's cancellation.
	ch := m.group.DoChan(namespace+"\x00"+vectorID, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedTimeout(ctx))
		defer cancel()
		return m.resolve(sctx, namespace, vectorID, comment)
	})
	var (
		v   any
		err error
	)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		v, err = r.Val, r.Err
	}
	if err != nil {
		add(ctx, m.metrics.failures, namespace)
		return nil, err
	}
	res, _ := v.(*models.CommentResult)
	if res == nil {
		return nil, nil
	}
	out := *res
	return &out, nil
}

// defaultSharedTimeout bounds a shared computation whose caller set no deadline.
const defaultSharedTimeout = 30 * time.Second

// sharedTimeout carries the caller's remaining deadline over to the detached
// computation.
func sharedTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			return left
		}
	}
	return defaultSharedTimeout
}

func (m *Memoizer) resolve(ctx context.Context, namespace, vectorID string, comment models.Comment) (*models.CommentResult, error) {
	fetched := m.store.Fetch(ctx, namespace, vectorID)
	switch fetched.Status {
	case vector.FetchFound:
		if score, ok := vector.AsFloat(fetched.Record.Metadata[models.MetaEmotionScore]); ok {
			add(ctx, m.metrics.hits, namespace)
			return &models.CommentResult{CommentID: comment.ID.String(), EmotionScore: score}, nil
		}
		log.Warn().Str("namespace", namespace).Str("vector", vectorID).Msg("Stored comment has no emotion score, recomputing")
	case vector.FetchTransientError:
		log.Warn().Err(fetched.Err).Str("namespace", namespace).Str("vector", vectorID).Msg("Fetch failed, recomputing comment")
	}

	text := textnorm.Normalize(comment.Body)
	if text == "" {
		add(ctx, m.metrics.skipped, namespace)
		return nil, nil
	}

	scored, err := m.scorer.ScoreText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", vectorID, err)
	}

	sv := models.ScoredVector{
		ID:           vectorID,
		Text:         privacy.Redact(text),
		Timestamp:    comment.CreatedAt.Or(m.now()).Unix(),
		EmotionScore: scored.Score,
		Values:       scored.Embedding,
	}
	up, err := m.store.Upsert(ctx, namespace, []vector.Record{{
		ID:       sv.ID,
		Values:   sv.Values,
		Metadata: sv.Metadata(),
	}})
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", vectorID, err)
	}
	if up.UpsertedCount == 0 {
		return nil, fmt.Errorf("upsert %s: %w", vectorID, ErrNotPersisted)
	}

	add(ctx, m.metrics.computed, namespace)
	log.Debug().
		Str("namespace", namespace).
		Str("vector", vectorID).
		Float64("score", scored.Score).
		Int("matched", scored.Matched).
		Msg("Scored comment")

	return &models.CommentResult{
		CommentID:     comment.ID.String(),
		EmotionScore:  scored.Score,
		UpsertedCount: up.UpsertedCount,
	}, nil
}
