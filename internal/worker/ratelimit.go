package worker

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter.
type RateLimiter struct {
	lastUpdate time.Time
	rate       float64
	burst      int
	tokens     float64
	requests   int64
	rejected   int64
	mu         sync.Mutex
}

// NewRateLimiter creates a limiter that allows rate requests per second with
// bursts of up to burst requests.
func NewRateLimiter(rate float64, burst int, now time.Time) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: now,
	}
}

// allowAt refills the bucket up to now and takes one token if available.
func (rl *RateLimiter) allowAt(now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.requests++

	if elapsed := now.Sub(rl.lastUpdate).Seconds(); elapsed > 0 {
		rl.tokens += elapsed * rl.rate
		if rl.tokens > float64(rl.burst) {
			rl.tokens = float64(rl.burst)
		}
		rl.lastUpdate = now
	}

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}

	rl.rejected++
	return false
}

func (rl *RateLimiter) idleSince(now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return now.Sub(rl.lastUpdate)
}

// RateLimitStats summarizes a TenantRateLimiter.
type RateLimitStats struct {
	Rate          float64 `json:"rate"`
	Burst         int     `json:"burst"`
	ActiveTenants int     `json:"active_tenants"`
	TotalRequests int64   `json:"total_requests"`
	TotalRejected int64   `json:"total_rejected"`
}

// TenantRateLimiter keeps one token bucket per tenant, so one busy helpdesk
// account cannot starve the others. Idle buckets are dropped periodically.
type TenantRateLimiter struct {
	lastCleanup     time.Time
	now             func() time.Time
	tenants         map[string]*RateLimiter
	rate            float64
	burst           int
	cleanupInterval time.Duration
	maxIdleTime     time.Duration
	mu              sync.Mutex
}

// NewTenantRateLimiter creates a per-tenant limiter. A non-positive rate
// disables limiting.
func NewTenantRateLimiter(rate float64, burst int) *TenantRateLimiter {
	if burst <= 0 {
		burst = max(1, int(rate))
	}
	return &TenantRateLimiter{
		rate:            rate,
		burst:           burst,
		now:             time.Now,
		tenants:         make(map[string]*RateLimiter),
		cleanupInterval: 5 * time.Minute,
		maxIdleTime:     10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

// Enabled reports whether requests are limited at all.
func (l *TenantRateLimiter) Enabled() bool { return l != nil && l.rate > 0 }

func (l *TenantRateLimiter) limiter(key string, now time.Time) *RateLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) > l.cleanupInterval {
		for k, rl := range l.tenants {
			if rl.idleSince(now) > l.maxIdleTime {
				delete(l.tenants, k)
			}
		}
		l.lastCleanup = now
	}

	rl, ok := l.tenants[key]
	if !ok {
		rl = NewRateLimiter(l.rate, l.burst, now)
		l.tenants[key] = rl
	}
	return rl
}

// Allow reports whether a request for the tenant may proceed.
func (l *TenantRateLimiter) Allow(tenant string) bool {
	if !l.Enabled() {
		return true
	}
	now := l.now()
	return l.limiter(tenant, now).allowAt(now)
}

// Stats returns aggregate statistics.
func (l *TenantRateLimiter) Stats() RateLimitStats {
	l.mu.Lock()
	stats := RateLimitStats{Rate: l.rate, Burst: l.burst, ActiveTenants: len(l.tenants)}
	limiters := make([]*RateLimiter, 0, len(l.tenants))
	for _, rl := range l.tenants {
		limiters = append(limiters, rl)
	}
	l.mu.Unlock()

	for _, rl := range limiters {
		rl.mu.Lock()
		stats.TotalRequests += rl.requests
		stats.TotalRejected += rl.rejected
		rl.mu.Unlock()
	}
	return stats
}

// Middleware limits requests per tenant. It must run after the tenant is
// resolved; requests without a tenant are keyed by client address.
func (l *TenantRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if tc, ok := TenantFromContext(r.Context()); ok {
			key = "tenant:" + tc.Tenant
		}
		if !l.Allow(key) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
