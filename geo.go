package sentinel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// DefaultGeoCacheTTL bounds how long a resolved record is trusted.
	DefaultGeoCacheTTL = time.Hour

	// DefaultPrimaryBudget matches ip-api.com's free tier.
	DefaultPrimaryBudget = 45
	// DefaultSecondaryBudget is ipinfo.io's anonymous per-minute share of its
	// monthly quota; a token raises it server-side, not here.
	DefaultSecondaryBudget = 90

	geoAttemptTimeout = 5 * time.Second
)

var errOverBudget = errors.New("provider request budget exhausted")

// ProviderBudget pairs a remote provider with its per-minute request budget.
// A provider over budget counts as failed for that call and the fallback
// chain advances.
type ProviderBudget struct {
	Provider  GeoProvider
	PerMinute int
}

type providerSlot struct {
	provider GeoProvider
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[*GeoRecord]
}

type cacheEntry struct {
	record GeoRecord
	stored time.Time
}

// GeoEnricher resolves source IPs to GeoRecords. Lookup never fails outward:
// private addresses resolve to the Local record, cache hits short-circuit,
// providers are tried in order under budget and breaker control, and total
// failure yields a cached Unknown record.
type GeoEnricher struct {
	clock   Clock
	logger  zerolog.Logger
	metrics *Metrics
	ttl     time.Duration
	slots   []providerSlot

	group singleflight.Group
	cache *ttlCache
}

// NewGeoEnricher builds an enricher over an ordered provider chain. A zero
// ttl falls back to DefaultGeoCacheTTL; a budget <= 0 falls back to the
// primary default.
func NewGeoEnricher(providers []ProviderBudget, ttl time.Duration, clock Clock, logger zerolog.Logger, metrics *Metrics) *GeoEnricher {
	if clock == nil {
		clock = SystemClock()
	}
	if ttl <= 0 {
		ttl = DefaultGeoCacheTTL
	}
	e := &GeoEnricher{
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		ttl:     ttl,
		cache:   newTTLCache(ttl, clock),
	}
	for _, pb := range providers {
		budget := pb.PerMinute
		if budget <= 0 {
			budget = DefaultPrimaryBudget
		}
		e.slots = append(e.slots, providerSlot{
			provider: pb.Provider,
			limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(budget)), budget),
			breaker: gobreaker.NewCircuitBreaker[*GeoRecord](gobreaker.Settings{
				Name:    pb.Provider.Name(),
				Timeout: 30 * time.Second,
			}),
		})
	}
	return e
}

// Lookup resolves ip to a GeoRecord, degrading gracefully. Concurrent
// lookups for the same uncached IP are collapsed into one remote call.
func (e *GeoEnricher) Lookup(ctx context.Context, ip string) GeoRecord {
	if isPrivateIP(ip) {
		return LocalGeoRecord()
	}
	if rec, ok := e.cache.get(ip); ok {
		e.metrics.GeoCacheHit()
		return rec
	}

	v, _, _ := e.group.Do(ip, func() (any, error) {
		// A sibling caller may have populated the cache while we queued.
		if rec, ok := e.cache.get(ip); ok {
			e.metrics.GeoCacheHit()
			return rec, nil
		}
		return e.resolve(ctx, ip), nil
	})
	return v.(GeoRecord)
}

// resolve walks the provider chain; the first success short-circuits the
// rest. Both outcomes are cached: successes for reuse, total failure so a
// dead provider is not hammered for the same IP within the TTL.
func (e *GeoEnricher) resolve(ctx context.Context, ip string) GeoRecord {
	for i := range e.slots {
		slot := &e.slots[i]
		rec, err := e.attempt(ctx, slot, ip)
		if err != nil {
			e.metrics.GeoLookup(slot.provider.Name(), "failure")
			e.logger.Debug().
				Str("provider", slot.provider.Name()).
				Str("ip", ip).
				Err(err).
				Msg("geo lookup attempt failed")
			continue
		}
		e.metrics.GeoLookup(slot.provider.Name(), "success")
		e.cache.set(ip, *rec)
		return *rec
	}

	unknown := UnknownGeoRecord()
	e.cache.set(ip, unknown)
	return unknown
}

func (e *GeoEnricher) attempt(ctx context.Context, slot *providerSlot, ip string) (*GeoRecord, error) {
	if !slot.limiter.Allow() {
		return nil, errOverBudget
	}
	cctx, cancel := context.WithTimeout(ctx, geoAttemptTimeout)
	defer cancel()

	rec, err := slot.breaker.Execute(func() (*GeoRecord, error) {
		return slot.provider.Lookup(cctx, ip)
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("provider %s returned no record", slot.provider.Name())
	}
	return rec, nil
}

// CacheLen returns the number of live cache entries.
func (e *GeoEnricher) CacheLen() int { return e.cache.len() }

// ttlCache is a per-IP record cache with access-time expiry. Entries older
// than the TTL are treated as absent and replaced on the next store, never
// reused. Population is small (distinct IPs seen by one site), so there is
// no capacity bound. Distinct IPs enrich concurrently within a cycle, hence
// the lock.
type ttlCache struct {
	mu      sync.RWMutex
	clock   Clock
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newTTLCache(ttl time.Duration, clock Clock) *ttlCache {
	return &ttlCache{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *ttlCache) get(ip string) (GeoRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[ip]
	if !ok {
		return GeoRecord{}, false
	}
	if c.clock.Now().Sub(entry.stored) >= c.ttl {
		return GeoRecord{}, false
	}
	return entry.record, true
}

func (c *ttlCache) set(ip string, rec GeoRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ip] = cacheEntry{record: rec, stored: c.clock.Now()}
}

func (c *ttlCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.clock.Now()
	live := 0
	for _, entry := range c.entries {
		if now.Sub(entry.stored) < c.ttl {
			live++
		}
	}
	return live
}
