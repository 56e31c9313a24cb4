// Package dedup suppresses duplicate events. Two layers back the check: a
// process-local TTL cache for the hot path and the durable processed_events
// collection for cross-restart and cross-replica coverage. A hit in either
// layer marks the event duplicate.
package dedup

import (
	"context"
	"sync"
	"time"

	"switchyard.dev/common"
	"switchyard.dev/config"
	"switchyard.dev/model"
	"switchyard.dev/store"
)

// Cache is the in-memory fingerprint window. Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]time.Time // fingerprint → first seen
	window     time.Duration
	maxEntries int
	now        func() time.Time
}

// NewCache builds the in-memory layer from config, filling zero values with
// the standard window (5m) and ceiling (10000).
func NewCache(cfg config.DedupConfig) *Cache {
	window := cfg.Window
	if window <= 0 {
		window = 5 * time.Minute
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Cache{
		entries:    make(map[string]time.Time),
		window:     window,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Seen reports whether fingerprint was recorded within the window.
func (c *Cache) Seen(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	firstSeen, ok := c.entries[fingerprint]
	if !ok {
		return false
	}
	if c.now().Sub(firstSeen) >= c.window {
		delete(c.entries, fingerprint)
		return false
	}
	return true
}

// Mark records fingerprint as seen now. When the cache is at its ceiling,
// stale entries are evicted first; if everything is fresh the oldest entry
// goes, keeping the map bounded.
func (c *Cache) Mark(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[fingerprint]; !ok && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[fingerprint] = c.now()
}

// Len reports the current entry count, for tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictLocked() {
	now := c.now()
	var oldestKey string
	var oldestAt time.Time

	for key, firstSeen := range c.entries {
		if now.Sub(firstSeen) >= c.window {
			delete(c.entries, key)
			continue
		}
		if oldestKey == "" || firstSeen.Before(oldestAt) {
			oldestKey, oldestAt = key, firstSeen
		}
	}

	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Checker combines the in-memory cache with the durable record set.
type Checker struct {
	cache      *Cache
	store      *store.Store
	durableTTL time.Duration
	logger     *common.ContextLogger
}

// NewChecker wires both dedup layers.
func NewChecker(cache *Cache, s *store.Store, cfg config.DedupConfig) *Checker {
	ttl := cfg.DurableTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Checker{
		cache:      cache,
		store:      s,
		durableTTL: ttl,
		logger:     common.ServiceLogger("dedup"),
	}
}

// IsDuplicate consults memory first, then the durable record. A durable read
// failure counts as not-duplicate: at-least-once delivery prefers a rare
// double send over dropping an event on a store hiccup.
func (c *Checker) IsDuplicate(ctx context.Context, fingerprint string) bool {
	if c.cache.Seen(fingerprint) {
		return true
	}

	seen, err := c.store.CheckProcessed(ctx, fingerprint, time.Now())
	if err != nil {
		c.logger.WithError(err).Warn("durable dedup check failed, treating as fresh")
		return false
	}
	if seen {
		// Backfill memory so replica-local repeats skip the store read.
		c.cache.Mark(fingerprint)
	}
	return seen
}

// MarkProcessed records the fingerprint in both layers. The durable write is
// best-effort; memory alone still covers the common duplicate window.
func (c *Checker) MarkProcessed(ctx context.Context, fingerprint, eventID, tenantID string) {
	c.cache.Mark(fingerprint)

	now := time.Now()
	rec := &model.ProcessedEvent{
		Fingerprint: fingerprint,
		EventID:     eventID,
		TenantID:    tenantID,
		FirstSeenAt: now,
		ExpiresAt:   now.Add(c.durableTTL),
	}
	if err := c.store.MarkProcessed(ctx, rec); err != nil {
		c.logger.WithError(err).WithField("fingerprint", fingerprint).Warn("durable dedup write failed")
	}
}
