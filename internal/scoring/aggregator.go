package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/silverstream/sentiment-checker/internal/vector"
	"github.com/silverstream/sentiment-checker/pkg/models"
)

// Aggregator defaults.
const (
	DefaultDecayLambda      = 1.0
	DefaultScoreScale       = 10.0
	DefaultMaxTicketVectors = 1000
	secondsPerDay           = 86400.0
)

// AggregatorConfig tunes ticket aggregation.
type AggregatorConfig struct {
	// DecayLambda is the per-day exponential decay rate of comment weights.
	DecayLambda float64
	// Scale maps comment scores onto [-1, 1].
	Scale float64
	// MaxVectors caps the comments read per ticket.
	MaxVectors int
}

// DefaultAggregatorConfig returns the default aggregator configuration.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		DecayLambda: DefaultDecayLambda,
		Scale:       DefaultScoreScale,
		MaxVectors:  DefaultMaxTicketVectors,
	}
}

// Sample is one stored comment score.
type Sample struct {
	VectorID  string  `json:"id"`
	Text      string  `json:"text"`
	Score     float64 `json:"emotion_score"`
	Timestamp int64   `json:"timestamp"`
}

// FoldResult is the decayed weighted average of a ticket's samples.
type FoldResult struct {
	WeightedSum float64
	WeightSum   float64
	Base        float64
	// Recent is the score of the newest sample.
	Recent float64
	// Newest is the timestamp of the newest sample.
	Newest int64
	Raw    []float64
}

// SortSamples orders samples newest first; ties keep vector ID order.
func SortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		if samples[i].Timestamp != samples[j].Timestamp {
			return samples[i].Timestamp > samples[j].Timestamp
		}
		return samples[i].VectorID < samples[j].VectorID
	})
}

// Fold computes the exponentially decayed average of samples relative to
// the newest one. samples must be sorted newest first.
func Fold(samples []Sample, lambda float64) FoldResult {
	if len(samples) == 0 {
		return FoldResult{}
	}
	res := FoldResult{
		Recent: samples[0].Score,
		Newest: samples[0].Timestamp,
		Raw:    make([]float64, 0, len(samples)),
	}
	for _, s := range samples {
		ageDays := float64(res.Newest-s.Timestamp) / secondsPerDay
		if ageDays < 0 {
			ageDays = 0
		}
		w := math.Exp(-lambda * ageDays)
		res.WeightedSum += s.Score * w
		res.WeightSum += w
		res.Raw = append(res.Raw, s.Score)
	}
	if res.WeightSum > 0 {
		res.Base = res.WeightedSum / res.WeightSum
	}
	return res
}

// CorrectOutlier returns recent when it diverges from base by more than the
// population standard deviation of raw, otherwise base.
func CorrectOutlier(base, recent float64, raw []float64) float64 {
	if math.Abs(recent-base) > StdDev(raw) {
		return recent
	}
	return base
}

// StdDev is the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// Normalize divides v by scale and clamps the result to [-1, 1].
func Normalize(v, scale float64) float64 {
	if scale <= 0 {
		scale = DefaultScoreScale
	}
	return clamp(v/scale, -1, 1)
}

// WeightedScore folds sorted samples into a ticket score in [-1, 1].
// No samples yield 0.
func WeightedScore(samples []Sample, cfg AggregatorConfig) float64 {
	if len(samples) == 0 {
		return 0
	}
	f := Fold(samples, cfg.DecayLambda)
	return Normalize(CorrectOutlier(f.Base, f.Recent, f.Raw), cfg.Scale)
}

// Aggregator computes ticket scores from memoized comment vectors.
type Aggregator struct {
	store  vector.Store
	config AggregatorConfig
	now    func() time.Time
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store vector.Store, config AggregatorConfig) *Aggregator {
	if config.DecayLambda < 0 {
		config.DecayLambda = DefaultDecayLambda
	}
	if config.Scale <= 0 {
		config.Scale = DefaultScoreScale
	}
	if config.MaxVectors <= 0 {
		config.MaxVectors = DefaultMaxTicketVectors
	}
	return &Aggregator{store: store, config: config, now: time.Now}
}

// Config returns the aggregator configuration.
func (a *Aggregator) Config() AggregatorConfig { return a.config }

// ListTicketVectors returns the ticket's stored samples, newest first, capped
// at MaxVectors.
func (a *Aggregator) ListTicketVectors(ctx context.Context, namespace, ticketID string) ([]Sample, error) {
	ids, err := vector.ListAll(ctx, a.store, namespace, models.TicketPrefix(ticketID), a.config.MaxVectors)
	if err != nil {
		return nil, fmt.Errorf("list vectors of ticket %s: %w", ticketID, err)
	}
	if len(ids) == 0 {
		return []Sample{}, nil
	}

	records, err := a.store.FetchMany(ctx, namespace, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch vectors of ticket %s: %w", ticketID, err)
	}

	samples := make([]Sample, 0, len(records))
	for _, id := range ids {
		rec, ok := records[id]
		if !ok {
			continue
		}
		s, ok := SampleFromMetadata(id, rec.Metadata)
		if !ok {
			log.Warn().Str("namespace", namespace).Str("vector", id).Msg("Skipping vector without emotion score")
			continue
		}
		samples = append(samples, s)
	}
	SortSamples(samples)
	return samples, nil
}

// Aggregate computes the ticket's weighted score. Status and creation time
// are left for the caller to fill in.
func (a *Aggregator) Aggregate(ctx context.Context, namespace, ticketID string) (*models.TicketAggregate, error) {
	samples, err := a.ListTicketVectors(ctx, namespace, ticketID)
	if err != nil {
		return nil, err
	}
	agg := &models.TicketAggregate{
		TicketID:      ticketID,
		WeightedScore: WeightedScore(samples, a.config),
		CommentCount:  len(samples),
		UpdatedAt:     a.now().UTC(),
	}
	if len(samples) > 0 {
		agg.LastCommentAt = samples[0].Timestamp
	}
	return agg, nil
}

// SampleFromMetadata reads a stored comment's score and timestamp.
func SampleFromMetadata(id string, meta map[string]any) (Sample, bool) {
	score, ok := vector.AsFloat(meta[models.MetaEmotionScore])
	if !ok {
		return Sample{}, false
	}
	ts, _ := vector.AsInt64(meta[models.MetaTimestamp])
	text, _ := meta[models.MetaText].(string)
	return Sample{VectorID: id, Text: text, Score: score, Timestamp: ts}, true
}
