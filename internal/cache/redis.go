package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"surveillance_service/internal/metrics"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisCache shares validation parameters between service instances.
// First writer wins: concurrent computations of the same key all return the value that was stored.
type RedisCache struct {
	client *redis.Client
	group  singleflight.Group
}

func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return &RedisCache{client: client}, nil
}

func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) Get(ctx context.Context, key Key) (*float64, error) {
	raw, err := c.client.Get(ctx, key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt cache value at %s: %w", key, err)
	}
	return &v, nil
}

func (c *RedisCache) Put(ctx context.Context, key Key, value float64) error {
	if err := c.client.Set(ctx, key.String(), formatValue(value), 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) (*float64, error) {
	v, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if v != nil {
		metrics.CacheLookups.WithLabelValues(string(key.Parameter), "hit").Inc()
		return v, nil
	}
	metrics.CacheLookups.WithLabelValues(string(key.Parameter), "miss").Inc()

	out, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		v, err := compute(ctx)
		if err != nil || v == nil {
			return v, err
		}
		stored, err := c.client.SetNX(ctx, key.String(), formatValue(*v), 0).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", key, err)
		}
		if stored {
			return v, nil
		}
		return c.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return copyValue(out.(*float64)), nil
}

func (c *RedisCache) Invalidate(ctx context.Context, diseaseGroupID int) error {
	pattern := fmt.Sprintf("validation:*:%d:*", diseaseGroupID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
