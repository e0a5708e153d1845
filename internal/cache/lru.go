// Package cache provides caching implementations for Watchpost.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/watchpost/internal/domain"
)

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the Community tier cache and as L1 in two-phase caching.
type LRUCache struct {
	mu        sync.RWMutex
	maxSize   int
	items     map[string]*list.Element
	order     *list.List
	sightings map[string]map[string]time.Time // home -> track -> last seen
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:   maxSize,
		items:     make(map[string]*list.Element),
		order:     list.New(),
		sightings: make(map[string]map[string]time.Time),
	}
}

// Get retrieves a value from cache.
func (c *LRUCache) Get(ctx context.Context, homeID string, key string) ([]byte, error) {
	if homeID == "" {
		return nil, fmt.Errorf("homeID is required")
	}

	fullKey := c.makeKey(homeID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[fullKey]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	// Move to front (most recently used)
	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value in cache with TTL.
func (c *LRUCache) Set(ctx context.Context, homeID string, key string, value []byte, ttl time.Duration) error {
	if homeID == "" {
		return fmt.Errorf("homeID is required")
	}

	fullKey := c.makeKey(homeID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Update existing entry
	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		return nil
	}

	// Add new entry
	entry := &cacheEntry{
		key:       fullKey,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	elem := c.order.PushFront(entry)
	c.items[fullKey] = elem

	// Evict if over capacity
	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}

	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, homeID string, key string) error {
	if homeID == "" {
		return fmt.Errorf("homeID is required")
	}

	fullKey := c.makeKey(homeID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.removeElement(elem)
	}
	return nil
}

// GetLatestAssessment retrieves the cached latest assessment for a track.
func (c *LRUCache) GetLatestAssessment(ctx context.Context, homeID string, track string) (*domain.Assessment, error) {
	return getLatest(ctx, c, homeID, track)
}

// SetLatestAssessment caches the latest assessment for a track.
func (c *LRUCache) SetLatestAssessment(ctx context.Context, homeID string, track string, a *domain.Assessment, ttl time.Duration) error {
	return setLatest(ctx, c, homeID, track, a, ttl)
}

// RecordSighting keeps the last sighting time per track and counts the
// tracks whose last sighting falls inside window.
func (c *LRUCache) RecordSighting(ctx context.Context, homeID string, track string, window time.Duration) (int64, error) {
	if homeID == "" {
		return 0, fmt.Errorf("homeID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	seen, ok := c.sightings[homeID]
	if !ok {
		seen = make(map[string]time.Time)
		c.sightings[homeID] = seen
	}
	seen[track] = now

	cutoff := now.Add(-window)
	for t, at := range seen {
		if at.Before(cutoff) {
			delete(seen, t)
		}
	}
	return int64(len(seen)), nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.sightings = make(map[string]map[string]time.Time)
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) makeKey(homeID, key string) string {
	return homeID + ":" + key
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}

func (c *LRUCache) removeOldest() {
	elem := c.order.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}
