package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"

	"github.com/okian/tradevalue/internal/domain/model"
	"github.com/okian/tradevalue/pkg/metrics"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Prefix   string        `koanf:"prefix"`
	Timeout  time.Duration `koanf:"timeout"`
}

// RedisCache implements Cache on Redis behind a circuit breaker. While the
// breaker is open every lookup is a miss and writes are dropped.
type RedisCache struct {
	client  redis.Cmdable
	prefix  string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewRedisClient opens a client and pings it.
func NewRedisClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdb, nil
}

// NewRedisCache wraps a client.
func NewRedisCache(client redis.Cmdable, cfg Config) *RedisCache {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &RedisCache{
		client:  client,
		prefix:  cfg.Prefix,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "analysis-cache",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

// State returns the breaker state, for health output.
func (r *RedisCache) State() string {
	return r.breaker.State().String()
}

// Get implements Cache.
func (r *RedisCache) Get(ctx context.Context, key string) (model.TradeAnalysis, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	v, err := r.breaker.Execute(func() (interface{}, error) {
		b, err := r.client.Get(ctx, r.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		metrics.RecordCacheError()
		return model.TradeAnalysis{}, false, fmt.Errorf("redis get: %w", err)
	}
	b, _ := v.([]byte)
	if b == nil {
		metrics.RecordCacheMiss()
		return model.TradeAnalysis{}, false, nil
	}

	var a model.TradeAnalysis
	if err := json.Unmarshal(b, &a); err != nil {
		metrics.RecordCacheError()
		return model.TradeAnalysis{}, false, fmt.Errorf("decode cached analysis: %w", err)
	}
	metrics.RecordCacheHit()
	return a, true, nil
}

// Set implements Cache.
func (r *RedisCache) Set(ctx context.Context, key string, a model.TradeAnalysis, ttl time.Duration) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err = r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Set(ctx, r.prefix+key, b, ttl).Err()
	})
	if err != nil {
		metrics.RecordCacheError()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
