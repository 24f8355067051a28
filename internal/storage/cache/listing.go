// Package cache keeps recently served listing pages in Redis. The cache is an
// optimisation only: every backend fault degrades to a direct store read.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/resilience"
)

const keyPrefix = "conversations:list:"

// Backend is the subset of the Redis client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

var _ Backend = (*pkgredis.Client)(nil)

// ListingCache caches listing pages keyed by (limit, offset).
type ListingCache struct {
	backend   Backend
	ttl       time.Duration
	opTimeout time.Duration
	breaker   *resilience.CircuitBreaker
	metrics   *metrics.Metrics
	group     singleflight.Group
	logger    *slog.Logger
	hits      atomic.Int64
	misses    atomic.Int64
	// generation advances on every Invalidate. A page computed across an
	// advance is served but not cached.
	generation atomic.Uint64
}

// Option configures a ListingCache.
type Option func(*ListingCache)

// WithMetrics records hits, misses and breaker state.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *ListingCache) { c.metrics = m }
}

// WithOpTimeout bounds each backend call. Zero disables the bound.
func WithOpTimeout(d time.Duration) Option {
	return func(c *ListingCache) { c.opTimeout = d }
}

// WithBreaker overrides the circuit breaker settings.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *ListingCache) { c.breaker = c.newBreaker(cfg) }
}

// New creates a cache over backend with entries living for ttl.
func New(backend Backend, ttl time.Duration, opts ...Option) *ListingCache {
	c := &ListingCache{
		backend:   backend,
		ttl:       ttl,
		opTimeout: 200 * time.Millisecond,
		logger:    slog.Default().With("component", "listing-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = c.newBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		})
	}
	return c
}

func (c *ListingCache) newBreaker(cfg resilience.CircuitBreakerConfig) *resilience.CircuitBreaker {
	cfg.OnStateChange = func(name string, to resilience.State) {
		if c.metrics != nil {
			c.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return resilience.NewCircuitBreaker("listing-cache", cfg)
}

// Get returns a cached page, reporting whether it was found.
func (c *ListingCache) Get(ctx context.Context, limit, offset int) ([]conversation.Record, bool) {
	key := buildKey(limit, offset)
	var data string
	miss := false
	err := c.call(ctx, "cache get", func(ctx context.Context) error {
		var err error
		data, err = c.backend.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			miss = true
			return nil
		}
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	if miss {
		c.recordMiss()
		return nil, false
	}
	var records []conversation.Record
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.ListCacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return records, true
}

// Set stores a page. Failures are logged and otherwise ignored.
func (c *ListingCache) Set(ctx context.Context, limit, offset int, records []conversation.Record) {
	key := buildKey(limit, offset)
	data, err := json.Marshal(records)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.call(ctx, "cache set", func(ctx context.Context) error {
		return c.backend.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached page or computes, caches and returns it.
// Concurrent misses for the same page share one compute call. The boolean
// reports a cache hit.
func (c *ListingCache) GetOrCompute(
	ctx context.Context,
	limit, offset int,
	computeFn func(ctx context.Context) ([]conversation.Record, error),
) ([]conversation.Record, bool, error) {
	if records, ok := c.Get(ctx, limit, offset); ok {
		return records, true, nil
	}
	gen := c.generation.Load()
	key := buildKey(limit, offset)
	val, err, _ := c.group.Do(fmt.Sprintf("%s@%d", key, gen), func() (any, error) {
		records, err := computeFn(ctx)
		if err != nil {
			return nil, err
		}
		if c.generation.Load() != gen {
			c.logger.Debug("page invalidated during compute, not cached", "key", key)
			return records, nil
		}
		c.Set(ctx, limit, offset, records)
		return records, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]conversation.Record), false, nil
}

// Invalidate drops every cached page. It never fails the caller.
func (c *ListingCache) Invalidate(ctx context.Context) {
	c.generation.Add(1)
	var deleted int64
	err := c.call(ctx, "cache invalidate", func(ctx context.Context) error {
		var err error
		deleted, err = c.backend.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		c.logger.Warn("cache invalidate failed", "error", err)
		return
	}
	c.logger.Debug("cache invalidated", "keys_deleted", deleted)
}

// Stats returns hit and miss counts since creation.
func (c *ListingCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// call runs fn through the breaker with the per-operation timeout.
func (c *ListingCache) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, c.opTimeout, name, fn)
	})
}

func (c *ListingCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.ListCacheMissesTotal.Inc()
	}
}

func buildKey(limit, offset int) string {
	return fmt.Sprintf("%s%d:%d", keyPrefix, limit, offset)
}

var _ ingestion.ConversationStore = (*Store)(nil)

// Store decorates a ConversationStore so List is served through the cache.
// Writes that change a listed record drop the cached pages.
type Store struct {
	ingestion.ConversationStore
	cache *ListingCache
}

// Wrap returns store with cached listings.
func Wrap(store ingestion.ConversationStore, cache *ListingCache) *Store {
	return &Store{ConversationStore: store, cache: cache}
}

// List serves the page from cache when possible.
func (s *Store) List(ctx context.Context, limit, offset int) ([]conversation.Record, error) {
	records, _, err := s.cache.GetOrCompute(ctx, limit, offset, func(ctx context.Context) ([]conversation.Record, error) {
		return s.ConversationStore.List(ctx, limit, offset)
	})
	return records, err
}

// IncrementViews bumps the view count and drops cached pages, which carry it.
func (s *Store) IncrementViews(ctx context.Context, id string) (*conversation.Record, error) {
	rec, err := s.ConversationStore.IncrementViews(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx)
	return rec, nil
}
