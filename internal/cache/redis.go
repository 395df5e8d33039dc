package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/geobank/branches-backend/internal/config"
	"github.com/geobank/branches-backend/internal/metrics"
)

// Number of keys fetched per SCAN page during pattern eviction
const scanBatchSize = 500

// RedisClient is the subset of the go-redis API used by the
// distributed tier. Narrow so tests can substitute an in-memory fake.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// NewRedisClient dials Redis using the service configuration.
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.Password = cfg.Password
	opt.DB = cfg.DB
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.ConnMaxIdleTime = 30 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	return redis.NewClient(opt), nil
}

// RedisCache is the distributed tier. All keys are namespaced with
// KeyPrefix so several services can share one Redis instance.
type RedisCache struct {
	client RedisClient
	logger *logrus.Entry
}

// NewRedisCache wraps a Redis client as the distributed tier.
func NewRedisCache(client RedisClient, logger *logrus.Entry) *RedisCache {
	return &RedisCache{
		client: client,
		logger: logger,
	}
}

// Get fetches a value. Absent keys return found=false without error.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	data, err := r.client.Get(ctx, KeyPrefix+key).Bytes()
	metrics.RedisOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())

	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("get").Inc()
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, true, nil
}

// Set stores a value with the given TTL.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := r.client.Set(ctx, KeyPrefix+key, value, ttl).Err()
	metrics.RedisOperationDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Del removes one key.
func (r *RedisCache) Del(ctx context.Context, key string) error {
	err := r.client.Del(ctx, KeyPrefix+key).Err()
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("del").Inc()
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// DeleteByPattern removes every key matching the pattern, walking the
// keyspace with SCAN and deleting in batches so large namespaces do
// not block the server the way KEYS would.
func (r *RedisCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	start := time.Now()
	deleted := 0
	var cursor uint64

	for {
		keys, next, err := r.client.Scan(ctx, cursor, KeyPrefix+pattern, scanBatchSize).Result()
		if err != nil {
			metrics.RedisOperationErrors.WithLabelValues("scan").Inc()
			return deleted, fmt.Errorf("redis scan %s: %w", pattern, err)
		}

		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				metrics.RedisOperationErrors.WithLabelValues("del").Inc()
				return deleted, fmt.Errorf("redis del batch: %w", err)
			}
			deleted += int(n)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	metrics.RedisOperationDuration.WithLabelValues("delete_pattern").Observe(time.Since(start).Seconds())
	r.logger.WithFields(logrus.Fields{
		"pattern": pattern,
		"deleted": deleted,
	}).Debug("Evicted distributed cache keys by pattern")

	return deleted, nil
}

// Ping checks connectivity to the distributed tier.
func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
