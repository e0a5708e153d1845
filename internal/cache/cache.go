package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/watchpost/internal/domain"
)

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching and persistence
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, homeID string, key string) ([]byte, error) {
	// Check L1 first
	val, err := c.local.Get(ctx, homeID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	// Check L2
	val, err = c.remote.Get(ctx, homeID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		// Populate L1 for future reads
		_ = c.local.Set(ctx, homeID, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, homeID string, key string, value []byte, ttl time.Duration) error {
	// Write to L1 with shorter TTL
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, homeID, key, value, l1TTL); err != nil {
		return err
	}

	// Write to L2 with full TTL
	return c.remote.Set(ctx, homeID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, homeID string, key string) error {
	if err := c.local.Delete(ctx, homeID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, homeID, key)
}

// GetLatestAssessment reads through Get, so L1 is populated on an L2 hit.
func (c *TwoPhaseCache) GetLatestAssessment(ctx context.Context, homeID string, track string) (*domain.Assessment, error) {
	return getLatest(ctx, c, homeID, track)
}

// SetLatestAssessment writes through Set to both levels.
func (c *TwoPhaseCache) SetLatestAssessment(ctx context.Context, homeID string, track string, a *domain.Assessment, ttl time.Duration) error {
	return setLatest(ctx, c, homeID, track, a, ttl)
}

// RecordSighting goes straight to Redis so every node sees the same tracks.
func (c *TwoPhaseCache) RecordSighting(ctx context.Context, homeID string, track string, window time.Duration) (int64, error) {
	return c.remote.RecordSighting(ctx, homeID, track, window)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

// byteStore is the raw key/value part of domain.Cache.
type byteStore interface {
	Get(ctx context.Context, homeID string, key string) ([]byte, error)
	Set(ctx context.Context, homeID string, key string, value []byte, ttl time.Duration) error
}

func latestKey(track string) string {
	return "latest:" + track
}

func getLatest(ctx context.Context, store byteStore, homeID, track string) (*domain.Assessment, error) {
	data, err := store.Get(ctx, homeID, latestKey(track))
	if err != nil || data == nil {
		return nil, err
	}
	var a domain.Assessment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode cached assessment: %w", err)
	}
	return &a, nil
}

func setLatest(ctx context.Context, store byteStore, homeID, track string, a *domain.Assessment, ttl time.Duration) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode assessment: %w", err)
	}
	return store.Set(ctx, homeID, latestKey(track), data, ttl)
}
