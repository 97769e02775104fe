// Package live caches the upstream real-time feed and resolves it against the schedule.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jusunglee/train-schedules/internal/feed"
	"github.com/jusunglee/train-schedules/internal/logger"
	"github.com/jusunglee/train-schedules/internal/models"
)

const (
	// DefaultTTL is how long a successful fetch is served
	DefaultTTL = 120 * time.Second
	// DefaultCooldown is how long an upstream 429 suppresses fetching
	DefaultCooldown = 60 * time.Second
)

// Refresh outcomes reported to Metrics
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

// Fetcher retrieves the raw upstream visits
type Fetcher interface {
	Fetch(ctx context.Context) ([]feed.MonitoredStopVisit, error)
}

// Publisher receives every successfully refreshed list
type Publisher interface {
	PublishLive(ctx context.Context, stops []models.LiveStop) error
}

type Metrics interface {
	CacheHit()
	CacheMiss()
	RefreshObserve(outcome string, d time.Duration, stops int)
}

// Cache holds the single process-wide live status slot.
//
// Reads take the shared lock. A reader that finds the slot stale takes the
// exclusive lock, checks again, and only then calls upstream, so at most one
// fetch is in flight and every reader queued behind it sees its result.
// Queued readers wait at most as long as the fetcher's own timeout.
type Cache struct {
	fetcher   Fetcher
	merger    *Merger
	log       logger.Logger
	ttl       time.Duration
	cooldown  time.Duration
	now       func() time.Time
	metrics   Metrics
	publisher Publisher

	mu        sync.RWMutex
	value     []models.LiveStop
	expiresAt time.Time
	updated   time.Time
	lastErr   error

	// attempts counts finished fetches; callers read it before taking the
	// lock so a caller that arrives mid-fetch counts as waiting on it
	attempts atomic.Uint64
}

// Option configures a Cache
type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

func WithCooldown(d time.Duration) Option {
	return func(c *Cache) { c.cooldown = d }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithMetrics(m Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithPublisher(p Publisher) Option {
	return func(c *Cache) { c.publisher = p }
}

// NewCache creates an empty cache
func NewCache(fetcher Fetcher, merger *Merger, log logger.Logger, opts ...Option) *Cache {
	c := &Cache{
		fetcher:  fetcher,
		merger:   merger,
		log:      log,
		ttl:      DefaultTTL,
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) fresh(now time.Time) bool {
	return !c.expiresAt.IsZero() && now.Before(c.expiresAt)
}

// Get returns the cached list while it is fresh.
// The returned slice is shared and must not be modified.
func (c *Cache) Get(now time.Time) ([]models.LiveStop, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.fresh(now) {
		return nil, false
	}
	return c.value, true
}

// Live returns the cached list, refreshing it first when stale
func (c *Cache) Live(ctx context.Context) ([]models.LiveStop, error) {
	seen := c.attempts.Load()

	c.mu.RLock()
	if c.fresh(c.now()) {
		v := c.value
		c.mu.RUnlock()
		c.hit()
		return v, nil
	}
	c.mu.RUnlock()

	c.miss()
	return c.refresh(ctx, seen)
}

// Refresh fetches from upstream unless another caller already refreshed the slot.
func (c *Cache) Refresh(ctx context.Context) ([]models.LiveStop, error) {
	return c.refresh(ctx, c.attempts.Load())
}

// Updated returns when the slot was last filled, zero if never
func (c *Cache) Updated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}

func (c *Cache) refresh(ctx context.Context, seen uint64) ([]models.LiveStop, error) {
	c.mu.Lock()

	if c.fresh(c.now()) {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	// an attempt finished while we waited and failed: share its error
	if c.attempts.Load() != seen && c.lastErr != nil {
		err := c.lastErr
		c.mu.Unlock()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	start := time.Now()
	visits, err := c.fetcher.Fetch(ctx)
	c.attempts.Add(1)

	var (
		stops   []models.LiveStop
		outcome string
	)
	switch {
	case err == nil:
		stops = c.merger.Merge(visits)
		c.store(stops, c.ttl)
		outcome = OutcomeOK
	case errors.Is(err, feed.ErrRateLimited):
		stops = []models.LiveStop{}
		c.store(stops, c.cooldown)
		outcome = OutcomeRateLimited
	default:
		err = fmt.Errorf("refreshing live status: %w", err)
		c.lastErr = err
		outcome = OutcomeError
	}
	c.mu.Unlock()

	elapsed := time.Since(start)
	if c.metrics != nil {
		c.metrics.RefreshObserve(outcome, elapsed, len(stops))
	}

	switch outcome {
	case OutcomeError:
		c.log.Warn("Live status refresh failed", "error", err, "duration", elapsed.String())
		return nil, err
	case OutcomeRateLimited:
		c.log.Warn("Live feed rate limited, serving schedule only", "cooldown", c.cooldown.String())
		return stops, nil
	}

	c.log.Debug("Live status refreshed", "stops", len(stops), "visits", len(visits), "duration", elapsed.String())
	if c.publisher != nil {
		if err := c.publisher.PublishLive(ctx, stops); err != nil {
			c.log.Warn("Publishing live status failed", "error", err)
		}
	}
	return stops, nil
}

// store must be called with mu held
func (c *Cache) store(stops []models.LiveStop, ttl time.Duration) {
	now := c.now()
	c.value = stops
	c.updated = now
	c.expiresAt = now.Add(ttl)
	c.lastErr = nil
}

func (c *Cache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHit()
	}
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMiss()
	}
}
