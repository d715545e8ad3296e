package sentiment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Warmer periodically repopulates the ticket cache of every tenant found in
// the vector store, so expired entries reappear in the unsolved view.
type Warmer struct {
	log      zerolog.Logger
	svc      *Service
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	interval time.Duration
	mu       sync.Mutex
	running  bool
	lastRun  time.Time
	lastN    int
}

// NewWarmer creates a background cache warmer.
func NewWarmer(svc *Service, interval time.Duration, log zerolog.Logger) *Warmer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Warmer{
		svc:      svc,
		log:      log.With().Str("component", "warmer").Logger(),
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the warm loop until ctx is cancelled or Stop is called.
// This should be called in a goroutine.
func (w *Warmer) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("warmer shutting down due to context cancellation")
			return
		case <-w.stopCh:
			w.log.Info().Msg("warmer stopping")
			return
		case <-ticker.C:
			w.warm(ctx)
		}
	}
}

// Stop stops the warm loop and waits for it to exit. It is safe to call
// more than once and from several goroutines.
func (w *Warmer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

// WarmNow runs one pass immediately and returns the number of tickets cached.
func (w *Warmer) WarmNow(ctx context.Context) int {
	return w.warm(ctx)
}

func (w *Warmer) warm(ctx context.Context) int {
	start := time.Now()
	tenants, err := w.tenants(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to list tenants")
		return 0
	}

	total := 0
	for _, tenant := range tenants {
		if ctx.Err() != nil {
			break
		}
		n, err := w.svc.PopulateAll(ctx, tenant, nil)
		if err != nil {
			w.log.Warn().Err(err).Str("tenant", tenant).Msg("failed to warm tenant")
			continue
		}
		total += n
	}

	w.mu.Lock()
	w.lastRun = start
	w.lastN = total
	w.mu.Unlock()

	w.log.Info().
		Int("tenants", len(tenants)).
		Int("tickets", total).
		Dur("elapsed", time.Since(start)).
		Msg("warmed ticket cache")
	return total
}

func (w *Warmer) tenants(ctx context.Context) ([]string, error) {
	callCtx, cancel := w.svc.call(ctx)
	defer cancel()
	stats, err := w.svc.store.DescribeIndexStats(callCtx)
	if err != nil {
		return nil, err
	}
	reserved := w.svc.config.Scorer.Namespace
	out := make([]string, 0, len(stats.Namespaces))
	for ns, st := range stats.Namespaces {
		if ns == reserved || st.VectorCount == 0 {
			continue
		}
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

// WarmerStats describes the warmer state.
type WarmerStats struct {
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval"`
	LastRun  time.Time     `json:"last_run"`
	Tickets  int           `json:"last_tickets"`
}

// Stats returns the current warmer state.
func (w *Warmer) Stats() WarmerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WarmerStats{Running: w.running, Interval: w.interval, LastRun: w.lastRun, Tickets: w.lastN}
}
