package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/watchpost/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache using Redis.
// Used as the Pro tier cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, homeID string, key string) ([]byte, error) {
	if homeID == "" {
		return nil, fmt.Errorf("homeID is required")
	}

	fullKey := c.makeKey(homeID, key)
	val, err := c.client.Get(ctx, fullKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, homeID string, key string, value []byte, ttl time.Duration) error {
	if homeID == "" {
		return fmt.Errorf("homeID is required")
	}

	fullKey := c.makeKey(homeID, key)
	return c.client.Set(ctx, fullKey, value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, homeID string, key string) error {
	if homeID == "" {
		return fmt.Errorf("homeID is required")
	}

	fullKey := c.makeKey(homeID, key)
	return c.client.Del(ctx, fullKey).Err()
}

// GetLatestAssessment retrieves the cached latest assessment for a track.
func (c *RedisCache) GetLatestAssessment(ctx context.Context, homeID string, track string) (*domain.Assessment, error) {
	return getLatest(ctx, c, homeID, track)
}

// SetLatestAssessment caches the latest assessment for a track.
func (c *RedisCache) SetLatestAssessment(ctx context.Context, homeID string, track string, a *domain.Assessment, ttl time.Duration) error {
	return setLatest(ctx, c, homeID, track, a, ttl)
}

// RecordSighting keeps a sorted set of tracks scored by last sighting time.
// The set expires with the window so idle homes leave nothing behind.
func (c *RedisCache) RecordSighting(ctx context.Context, homeID string, track string, window time.Duration) (int64, error) {
	if homeID == "" {
		return 0, fmt.Errorf("homeID is required")
	}

	key := c.makeKey(homeID, "sightings")
	now := time.Now().UnixMilli()
	cutoff := now - window.Milliseconds()

	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: track})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to record sighting: %w", err)
	}
	return card.Val(), nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(homeID, key string) string {
	return "watchpost:" + homeID + ":" + key
}
