// Package cache provides the per-tenant ticket score cache and the
// unsolved-ticket index kept alongside it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/silverstream/sentiment-checker/pkg/models"
)

// Defaults for TenantCache.
const (
	DefaultTTL     = 24 * time.Hour
	DefaultPerPage = 20
	MaxPerPage     = 100
	keyPrefix      = "sentiment"
)

// ErrDisabled is reported by Ping on a TenantCache built without a backend.
var ErrDisabled = errors.New("cache: disabled")

// Cache is the key-value and set store behind TenantCache.
type Cache interface {
	// Get returns the value for key; ok is false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// GetMany returns one slot per key; missing keys yield nil.
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Ping(ctx context.Context) error
}

// TenantCache stores TicketAggregates per tenant and maintains the
// unsolved-ticket index in the same call that writes an entry.
// A TenantCache without a backend is disabled: reads miss, writes are no-ops.
type TenantCache struct {
	backend Cache
	ttl     time.Duration
}

// New builds a TenantCache. A nil backend yields a disabled cache.
func New(backend Cache, ttl time.Duration) *TenantCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TenantCache{backend: backend, ttl: ttl}
}

// Enabled reports whether a backend is configured.
func (c *TenantCache) Enabled() bool {
	return c != nil && c.backend != nil
}

// TTL returns the default entry lifetime.
func (c *TenantCache) TTL() time.Duration { return c.ttl }

// Ping checks backend connectivity.
func (c *TenantCache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	return c.backend.Ping(ctx)
}

func ticketKey(tenant, ticketID string) string {
	return keyPrefix + ":" + tenant + ":ticket:" + ticketID
}

func unsolvedKey(tenant string) string {
	return keyPrefix + ":" + tenant + ":unsolved"
}

// GetTicket returns the cached aggregate for a ticket.
func (c *TenantCache) GetTicket(ctx context.Context, tenant, ticketID string) (*models.TicketAggregate, bool, error) {
	if !c.Enabled() {
		return nil, false, nil
	}
	raw, ok, err := c.backend.Get(ctx, ticketKey(tenant, ticketID))
	if err != nil {
		return nil, false, fmt.Errorf("get ticket %s: %w", ticketID, err)
	}
	if !ok {
		return nil, false, nil
	}
	var agg models.TicketAggregate
	if err := json.Unmarshal(raw, &agg); err != nil {
		// A corrupt entry is treated as a miss and recomputed by the caller.
		log.Warn().Err(err).Str("tenant", tenant).Str("ticket", ticketID).Msg("Discarding undecodable cache entry")
		return nil, false, nil
	}
	return &agg, true, nil
}

// PutTicket writes the aggregate and updates the unsolved index.
// Unsolved tickets are written before being indexed; solved-like tickets are
// removed from the index before being written. A partial failure therefore
// never leaves a solved ticket listed as unsolved. Any status other than
// new, open or pending, including unknown, removes the ticket from the index.
func (c *TenantCache) PutTicket(ctx context.Context, tenant string, agg *models.TicketAggregate, ttl time.Duration) error {
	if !c.Enabled() || agg == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	raw, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshal ticket %s: %w", agg.TicketID, err)
	}
	key := ticketKey(tenant, agg.TicketID)
	index := unsolvedKey(tenant)

	if agg.Status.IsUnsolved() {
		if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
			return fmt.Errorf("set ticket %s: %w", agg.TicketID, err)
		}
		if err := c.backend.SAdd(ctx, index, agg.TicketID); err != nil {
			return fmt.Errorf("index ticket %s: %w", agg.TicketID, err)
		}
		return nil
	}

	if err := c.backend.SRem(ctx, index, agg.TicketID); err != nil {
		return fmt.Errorf("unindex ticket %s: %w", agg.TicketID, err)
	}
	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("set ticket %s: %w", agg.TicketID, err)
	}
	return nil
}

// InvalidateTicket removes the entry and its index membership.
func (c *TenantCache) InvalidateTicket(ctx context.Context, tenant, ticketID string) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.backend.SRem(ctx, unsolvedKey(tenant), ticketID); err != nil {
		return fmt.Errorf("unindex ticket %s: %w", ticketID, err)
	}
	if err := c.backend.Delete(ctx, ticketKey(tenant, ticketID)); err != nil {
		return fmt.Errorf("delete ticket %s: %w", ticketID, err)
	}
	return nil
}

// ListUnsolved returns one page of unsolved ticket aggregates, newest ticket
// IDs first. Index members whose entry has expired are omitted from the page;
// total is the index cardinality.
func (c *TenantCache) ListUnsolved(ctx context.Context, tenant string, page, perPage int) ([]models.TicketAggregate, int, error) {
	if !c.Enabled() {
		return []models.TicketAggregate{}, 0, nil
	}
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	members, err := c.backend.SMembers(ctx, unsolvedKey(tenant))
	if err != nil {
		return nil, 0, fmt.Errorf("list unsolved: %w", err)
	}
	total := len(members)
	SortTicketIDsDesc(members)

	start := (page - 1) * perPage
	if start >= total {
		return []models.TicketAggregate{}, total, nil
	}
	end := min(start+perPage, total)
	slice := members[start:end]

	keys := make([]string, len(slice))
	for i, id := range slice {
		keys[i] = ticketKey(tenant, id)
	}
	values, err := c.backend.GetMany(ctx, keys)
	if err != nil {
		return nil, 0, fmt.Errorf("get unsolved entries: %w", err)
	}

	out := make([]models.TicketAggregate, 0, len(values))
	for i, raw := range values {
		if raw == nil {
			continue
		}
		var agg models.TicketAggregate
		if err := json.Unmarshal(raw, &agg); err != nil {
			log.Warn().Err(err).Str("tenant", tenant).Str("ticket", slice[i]).Msg("Skipping undecodable cache entry")
			continue
		}
		out = append(out, agg)
	}
	return out, total, nil
}

// SortTicketIDsDesc orders ticket IDs newest first: numeric IDs compare by
// value and sort before non-numeric ones, which compare lexically.
func SortTicketIDsDesc(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, aErr := strconv.ParseInt(ids[i], 10, 64)
		b, bErr := strconv.ParseInt(ids[j], 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			return a > b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		}
		return ids[i] > ids[j]
	})
}
