package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/silverstream/sentiment-checker/internal/config"
	"github.com/silverstream/sentiment-checker/internal/sentiment"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout bounds every request, including batch analysis.
	DefaultHTTPTimeout = 120 * time.Second

	// RoutePrefix is the mount point of the sentiment API.
	RoutePrefix = "/sentiment-checker"
)

// Service is the HTTP worker in front of the sentiment pipeline.
type Service struct {
	version string
	config  *config.Config

	core    *sentiment.Service
	warmer  *sentiment.Warmer
	auth    *Authenticator
	limiter *TenantRateLimiter

	router    *chi.Mux
	server    *http.Server
	startTime time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ready atomic.Bool
}

// NewService builds the router. warmer may be nil.
func NewService(version string, cfg *config.Config, core *sentiment.Service, warmer *sentiment.Warmer) (*Service, error) {
	if core == nil {
		return nil, errors.New("worker: sentiment service is required")
	}
	auth, err := NewAuthenticator(cfg.AuthEnabled, cfg.AuthPublicKey, cfg.AuthAudience)
	if err != nil {
		return nil, err
	}
	if !cfg.AuthEnabled {
		log.Warn().Msg("Token authentication is disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		version:   version,
		config:    cfg,
		core:      core,
		warmer:    warmer,
		auth:      auth,
		limiter:   NewTenantRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		router:    chi.NewRouter(),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	svc.setupMiddleware()
	svc.setupRoutes()
	return svc, nil
}

// Handler exposes the router, mainly for tests.
func (s *Service) Handler() http.Handler { return s.router }

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(SecurityHeaders)
	s.router.Use(MaxBodySize(s.config.MaxBodyBytes))
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/version", s.handleVersion)
	s.router.Get("/api/ready", s.handleReady)

	s.router.Route(RoutePrefix, func(r chi.Router) {
		r.Use(s.requireReady)
		r.Use(s.auth.Middleware)
		r.Use(ResolveTenant)
		r.Use(s.limiter.Middleware)
		r.Use(RequireJSONContentType)

		r.Post("/analyze-comments", s.handleAnalyzeComments)
		r.Post("/get-score", s.handleGetScore)
		r.Post("/get-scores", s.handleGetScores)
		r.Post("/get-ticket-vectors", s.handleGetTicketVectors)
		r.Get("/unsolved-tickets", s.handleUnsolvedTickets)
		r.Post("/remove-from-cache", s.handleRemoveFromCache)
		r.Post("/populate-cache", s.handlePopulateCache)
		r.Get("/namespace-exists", s.handleNamespaceExists)
	})
}

// Start starts the HTTP server and, when configured, the cache warmer.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.warmer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.warmer.Start(s.ctx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
			s.ready.Store(false)
		}
	}()

	s.ready.Store(true)
	log.Info().
		Int("port", s.config.Port).
		Str("version", s.version).
		Bool("cache", s.core.CacheEnabled()).
		Bool("auth", s.auth.IsEnabled()).
		Msg("Worker HTTP server started")
	return nil
}

// MarkReady flips readiness without starting the listener.
func (s *Service) MarkReady() { s.ready.Store(true) }

// Shutdown stops accepting requests, stops the warmer and waits for
// in-flight work.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.cancel()

	if s.warmer != nil {
		s.warmer.Stop()
	}

	var shutdownErr error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
			shutdownErr = err
		}
	}

	s.wg.Wait()

	log.Info().Msg("Worker service shutdown complete")
	return shutdownErr
}
