// Package sentiment runs the comment-to-score pipeline for a tenant and
// serves ticket scores through the tenant cache.
package sentiment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/silverstream/sentiment-checker/internal/cache"
	"github.com/silverstream/sentiment-checker/internal/embedding"
	"github.com/silverstream/sentiment-checker/internal/scoring"
	"github.com/silverstream/sentiment-checker/internal/vector"
	"github.com/silverstream/sentiment-checker/pkg/models"
)

// Input errors.
var (
	ErrMissingTenant   = errors.New("tenant subdomain is required")
	ErrReservedTenant  = errors.New("tenant subdomain is reserved")
	ErrMissingTicketID = errors.New("ticket id is required")
)

// Service defaults.
const (
	DefaultConcurrency = 4
	DefaultCallTimeout = 15 * time.Second
)

// Config tunes the pipeline.
type Config struct {
	Scorer     scoring.ScorerConfig
	Aggregator scoring.AggregatorConfig
	// Concurrency bounds the tickets processed in parallel per request.
	Concurrency int
	// CallTimeout bounds every embedder, store and cache call.
	CallTimeout time.Duration
	// CacheTTL is the lifetime of cached ticket aggregates.
	CacheTTL time.Duration
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Scorer:      scoring.DefaultScorerConfig(),
		Aggregator:  scoring.DefaultAggregatorConfig(),
		Concurrency: DefaultConcurrency,
		CallTimeout: DefaultCallTimeout,
		CacheTTL:    cache.DefaultTTL,
	}
}

// Service is the tenant-facing sentiment pipeline.
type Service struct {
	store      vector.Store
	memo       *scoring.Memoizer
	aggregator *scoring.Aggregator
	cache      *cache.TenantCache
	config     Config
	metrics    serviceMetrics
}

// NewService wires the pipeline. A nil backend disables the tenant cache;
// a nil taxonomy uses the default weights.
func NewService(store vector.Store, embedder embedding.Embedder, backend cache.Cache, taxonomy *models.Taxonomy, config Config) *Service {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	scorer := scoring.NewScorer(embedder, store, taxonomy, config.Scorer)
	config.Scorer = scorer.Config()
	aggregator := scoring.NewAggregator(store, config.Aggregator)
	config.Aggregator = aggregator.Config()

	return &Service{
		store:      store,
		memo:       scoring.NewMemoizer(store, scorer),
		aggregator: aggregator,
		cache:      cache.New(backend, config.CacheTTL),
		config:     config,
		metrics:    newServiceMetrics(),
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.config }

// CacheEnabled reports whether a cache backend is configured.
func (s *Service) CacheEnabled() bool { return s.cache.Enabled() }

func (s *Service) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.CallTimeout)
}

func (s *Service) checkTenant(tenant string) error {
	if strings.TrimSpace(tenant) == "" {
		return ErrMissingTenant
	}
	if tenant == s.config.Scorer.Namespace {
		return fmt.Errorf("%w: %s", ErrReservedTenant, tenant)
	}
	return nil
}

func checkTicketIDs(ids []string) error {
	if len(ids) == 0 {
		return ErrMissingTicketID
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return ErrMissingTicketID
		}
	}
	return nil
}

// Failure records one comment or ticket that could not be processed.
type Failure struct {
	TicketID  string `json:"ticket_id"`
	CommentID string `json:"comment_id,omitempty"`
	Error     string `json:"error"`
}

// TicketResult is the outcome of analyzing one ticket.
type TicketResult struct {
	TicketID      string                 `json:"ticket_id"`
	Status        models.TicketStatus    `json:"status,omitempty"`
	WeightedScore float64                `json:"weighted_score"`
	CommentCount  int                    `json:"comment_count"`
	Skipped       int                    `json:"skipped"`
	Comments      []models.CommentResult `json:"comments"`
	// Available is false when the ticket score could not be aggregated.
	Available bool `json:"available"`
}

// AnalyzeResult is the outcome of a batch analysis.
type AnalyzeResult struct {
	ResultsCount  int            `json:"results_count"`
	WeightedScore float64        `json:"weighted_score"`
	Results       []TicketResult `json:"results"`
	Failures      []Failure      `json:"failures"`
}

type failureLog struct {
	mu    sync.Mutex
	items []Failure
}

func (f *failureLog) add(ticketID, commentID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, Failure{TicketID: ticketID, CommentID: commentID, Error: err.Error()})
}

func (f *failureLog) sorted() []Failure {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]Failure{}, f.items...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TicketID != out[j].TicketID {
			return out[i].TicketID < out[j].TicketID
		}
		return out[i].CommentID < out[j].CommentID
	})
	return out
}

// AnalyzeComments memoizes every comment of every ticket, aggregates each
// ticket and stores the result in the tenant cache. Per-comment and
// per-ticket failures are reported in the result, never returned as errors.
func (s *Service) AnalyzeComments(ctx context.Context, tenant string, tickets []models.Ticket) (*AnalyzeResult, error) {
	if err := s.checkTenant(tenant); err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, ErrMissingTicketID
	}
	for _, t := range tickets {
		if strings.TrimSpace(t.ID.String()) == "" {
			return nil, ErrMissingTicketID
		}
	}

	results := make([]TicketResult, len(tickets))
	failures := &failureLog{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for i, ticket := range tickets {
		g.Go(func() error {
			results[i] = s.analyzeTicket(gctx, tenant, ticket, failures)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &AnalyzeResult{Results: results, Failures: failures.sorted()}
	var sum float64
	var available int
	for _, r := range results {
		out.ResultsCount += len(r.Comments)
		if r.Available {
			sum += r.WeightedScore
			available++
		}
	}
	if available > 0 {
		out.WeightedScore = sum / float64(available)
	}

	log.Info().
		Str("tenant", tenant).
		Int("tickets", len(tickets)).
		Int("results", out.ResultsCount).
		Int("failures", len(out.Failures)).
		Msg("Analyzed comments")
	return out, nil
}

func (s *Service) analyzeTicket(ctx context.Context, tenant string, ticket models.Ticket, failures *failureLog) TicketResult {
	ticketID := ticket.ID.String()
	res := TicketResult{TicketID: ticketID, Status: ticket.Status, Comments: []models.CommentResult{}}

	for _, c := range ticket.Comments {
		if ctx.Err() != nil {
			failures.add(ticketID, c.ID.String(), ctx.Err())
			continue
		}
		if strings.TrimSpace(c.ID.String()) == "" {
			failures.add(ticketID, "", errors.New("comment id is required"))
			continue
		}
		callCtx, cancel := s.call(ctx)
		cr, err := s.memo.GetOrCompute(callCtx, tenant, ticketID, c)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("tenant", tenant).Str("ticket", ticketID).Str("comment", c.ID.String()).Msg("Failed to score comment")
			failures.add(ticketID, c.ID.String(), err)
			continue
		}
		if cr == nil {
			res.Skipped++
			continue
		}
		res.Comments = append(res.Comments, *cr)
	}

	agg, err := s.aggregate(ctx, tenant, ticketID)
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenant).Str("ticket", ticketID).Msg("Failed to aggregate ticket")
		failures.add(ticketID, "", err)
		return res
	}
	prev, _ := s.cachedTicket(ctx, tenant, ticketID)
	agg.Status = ResolveStatus(ticket.Status, prev)
	agg.CreatedAt = ticket.CreatedAt.Time
	res.WeightedScore = agg.WeightedScore
	res.CommentCount = agg.CommentCount
	res.Available = true

	s.putCache(ctx, tenant, agg)
	return res
}

func (s *Service) aggregate(ctx context.Context, tenant, ticketID string) (*models.TicketAggregate, error) {
	callCtx, cancel := s.call(ctx)
	defer cancel()
	return s.aggregator.Aggregate(callCtx, tenant, ticketID)
}

func (s *Service) putCache(ctx context.Context, tenant string, agg *models.TicketAggregate) {
	if !s.cache.Enabled() {
		return
	}
	callCtx, cancel := s.call(ctx)
	defer cancel()
	if err := s.cache.PutTicket(callCtx, tenant, agg, s.config.CacheTTL); err != nil {
		log.Warn().Err(err).Str("tenant", tenant).Str("ticket", agg.TicketID).Msg("Failed to cache ticket score")
	}
}

func (s *Service) cachedTicket(ctx context.Context, tenant, ticketID string) (*models.TicketAggregate, bool) {
	if !s.cache.Enabled() {
		return nil, false
	}
	callCtx, cancel := s.call(ctx)
	defer cancel()
	agg, ok, err := s.cache.GetTicket(callCtx, tenant, ticketID)
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenant).Str("ticket", ticketID).Msg("Cache read failed")
		return nil, false
	}
	return agg, ok
}

// ticketScore serves a ticket score from the cache, recomputing and
// backfilling it on a miss.
func (s *Service) ticketScore(ctx context.Context, tenant, ticketID string) (float64, bool) {
	if agg, ok := s.cachedTicket(ctx, tenant, ticketID); ok {
		add(ctx, s.metrics.cacheHits, tenant)
		return agg.WeightedScore, true
	}
	add(ctx, s.metrics.cacheMisses, tenant)

	agg, err := s.aggregate(ctx, tenant, ticketID)
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenant).Str("ticket", ticketID).Msg("Ticket score unavailable")
		return 0, false
	}
	// A miss means no prior entry to inherit a status from.
	agg.Status = ResolveStatus("", nil)
	s.putCache(ctx, tenant, agg)
	return agg.WeightedScore, true
}

// GetScores returns the weighted score of each ticket. Tickets whose score
// cannot be computed are omitted.
func (s *Service) GetScores(ctx context.Context, tenant string, ticketIDs []string) (map[string]float64, error) {
	if err := s.checkTenant(tenant); err != nil {
		return nil, err
	}
	if err := checkTicketIDs(ticketIDs); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	scores := make(map[string]float64, len(ticketIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, id := range dedupe(ticketIDs) {
		g.Go(func() error {
			score, ok := s.ticketScore(gctx, tenant, id)
			if ok {
				mu.Lock()
				scores[id] = score
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return scores, nil
}

// GetScore returns the mean weighted score of the given tickets, 0 when
// none is available.
func (s *Service) GetScore(ctx context.Context, tenant string, ticketIDs []string) (float64, error) {
	scores, err := s.GetScores(ctx, tenant, ticketIDs)
	if err != nil {
		return 0, err
	}
	if len(scores) == 0 {
		return 0, nil
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return sum / float64(len(scores)), nil
}

// TicketVectors is the stored comment history of one ticket.
type TicketVectors struct {
	TicketID      string           `json:"ticket_id"`
	WeightedScore float64          `json:"weighted_score"`
	Vectors       []scoring.Sample `json:"vectors"`
}

// GetTicketVectors returns the stored comment scores of each ticket, newest
// first. Tickets that cannot be read are omitted.
func (s *Service) GetTicketVectors(ctx context.Context, tenant string, ticketIDs []string) (map[string]*TicketVectors, error) {
	if err := s.checkTenant(tenant); err != nil {
		return nil, err
	}
	if err := checkTicketIDs(ticketIDs); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make(map[string]*TicketVectors, len(ticketIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, id := range dedupe(ticketIDs) {
		g.Go(func() error {
			callCtx, cancel := s.call(gctx)
			samples, err := s.aggregator.ListTicketVectors(callCtx, tenant, id)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("tenant", tenant).Str("ticket", id).Msg("Failed to list ticket vectors")
				return nil
			}
			tv := &TicketVectors{
				TicketID:      id,
				WeightedScore: scoring.WeightedScore(samples, s.config.Aggregator),
				Vectors:       samples,
			}
			mu.Lock()
			out[id] = tv
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UnsolvedPage is one page of the unsolved-ticket view.
type UnsolvedPage struct {
	Tickets      []models.TicketAggregate `json:"tickets"`
	Total        int                      `json:"total"`
	Page         int                      `json:"page"`
	PerPage      int                      `json:"per_page"`
	CacheEnabled bool                     `json:"cache_enabled"`
}

// GetUnsolvedTickets lists cached unsolved tickets, newest first. Without a
// cache the page is empty.
func (s *Service) GetUnsolvedTickets(ctx context.Context, tenant string, page, perPage int) (*UnsolvedPage, error) {
	if err := s.checkTenant(tenant); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = cache.DefaultPerPage
	}
	if perPage > cache.MaxPerPage {
		perPage = cache.MaxPerPage
	}

	out := &UnsolvedPage{Tickets: []models.TicketAggregate{}, Page: page, PerPage: perPage, CacheEnabled: s.cache.Enabled()}
	if !out.CacheEnabled {
		return out, nil
	}

	callCtx, cancel := s.call(ctx)
	defer cancel()
	tickets, total, err := s.cache.ListUnsolved(callCtx, tenant, page, perPage)
	if err != nil {
		return nil, fmt.Errorf("list unsolved tickets: %w", err)
	}
	out.Tickets = tickets
	out.Total = total
	return out, nil
}

// RemoveTicketFromCache drops cached scores for the tickets. With
// purgeVectors the stored comment vectors are deleted too, so the next
// analysis recomputes them.
func (s *Service) RemoveTicketFromCache(ctx context.Context, tenant string, ticketIDs []string, purgeVectors bool) error {
	if err := s.checkTenant(tenant); err != nil {
		return err
	}
	if err := checkTicketIDs(ticketIDs); err != nil {
		return err
	}

	var errs []error
	for _, id := range dedupe(ticketIDs) {
		if purgeVectors {
			if err := s.purgeTicket(ctx, tenant, id); err != nil {
				errs = append(errs, err)
			}
		}
		callCtx, cancel := s.call(ctx)
		err := s.cache.InvalidateTicket(callCtx, tenant, id)
		cancel()
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) purgeTicket(ctx context.Context, tenant, ticketID string) error {
	callCtx, cancel := s.call(ctx)
	defer cancel()
	ids, err := vector.ListAll(callCtx, s.store, tenant, models.TicketPrefix(ticketID), 0)
	if err != nil {
		return fmt.Errorf("list vectors of ticket %s: %w", ticketID, err)
	}
	for start := 0; start < len(ids); start += vector.MaxFetchBatch {
		end := min(start+vector.MaxFetchBatch, len(ids))
		if err := s.store.Delete(callCtx, tenant, ids[start:end]); err != nil {
			return fmt.Errorf("delete vectors of ticket %s: %w", ticketID, err)
		}
	}
	log.Info().Str("tenant", tenant).Str("ticket", ticketID).Int("vectors", len(ids)).Msg("Purged ticket vectors")
	return nil
}

// CheckNamespaceExists reports whether the tenant has any stored vectors.
func (s *Service) CheckNamespaceExists(ctx context.Context, tenant string) (bool, error) {
	if err := s.checkTenant(tenant); err != nil {
		return false, err
	}
	callCtx, cancel := s.call(ctx)
	defer cancel()
	stats, err := s.store.DescribeIndexStats(callCtx)
	if err != nil {
		return false, fmt.Errorf("describe index: %w", err)
	}
	return stats.Namespaces[tenant].VectorCount > 0, nil
}

// PopulateAll recomputes and caches the score of every ticket stored for the
// tenant. Status comes from statuses, then the previously cached entry, then
// unknown. It returns the number of tickets cached.
func (s *Service) PopulateAll(ctx context.Context, tenant string, statuses map[string]models.TicketStatus) (int, error) {
	if err := s.checkTenant(tenant); err != nil {
		return 0, err
	}
	if !s.cache.Enabled() {
		return 0, cache.ErrDisabled
	}

	ids, err := vector.ListAll(ctx, s.store, tenant, "", 0)
	if err != nil {
		return 0, fmt.Errorf("list tenant vectors: %w", err)
	}
	tickets := TicketIDs(ids)

	var mu sync.Mutex
	populated := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, id := range tickets {
		g.Go(func() error {
			agg, err := s.aggregate(gctx, tenant, id)
			if err != nil {
				log.Warn().Err(err).Str("tenant", tenant).Str("ticket", id).Msg("Skipping ticket during populate")
				return nil
			}
			prev, _ := s.cachedTicket(gctx, tenant, id)
			agg.Status = ResolveStatus(statuses[id], prev)
			if prev != nil {
				agg.CreatedAt = prev.CreatedAt
			}
			s.putCache(gctx, tenant, agg)
			mu.Lock()
			populated++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return populated, err
	}

	log.Info().Str("tenant", tenant).Int("tickets", populated).Msg("Populated ticket cache")
	return populated, nil
}

// ResolveStatus picks the caller-supplied status, then the previously cached
// one, then unknown.
func ResolveStatus(given models.TicketStatus, prev *models.TicketAggregate) models.TicketStatus {
	if given != "" {
		return given
	}
	if prev != nil && prev.Status != "" {
		return prev.Status
	}
	return models.StatusUnknown
}

// Health checks the vector store and, when configured, the cache.
func (s *Service) Health(ctx context.Context) error {
	callCtx, cancel := s.call(ctx)
	defer cancel()
	st, err := s.store.Health(callCtx)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	if !st.Ready {
		return errors.New("vector store: not ready")
	}
	if s.cache.Enabled() {
		if err := s.cache.Ping(callCtx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	return nil
}

// TicketIDs returns the distinct ticket IDs of vector keys, sorted.
func TicketIDs(vectorIDs []string) []string {
	seen := make(map[string]struct{}, len(vectorIDs))
	var out []string
	for _, vid := range vectorIDs {
		ticket, _, ok := models.SplitVectorID(vid)
		if !ok || ticket == "" {
			continue
		}
		if _, dup := seen[ticket]; dup {
			continue
		}
		seen[ticket] = struct{}{}
		out = append(out, ticket)
	}
	sort.Strings(out)
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
