package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/innogeotech/forest-gateway/pkg/core"

	"github.com/redis/rueidis"
)

// RedisCache implements the core.Cache interface using Redis via rueidis.
// It is the production backend for login state and token lifecycle entries.
type RedisCache struct {
	client rueidis.Client
}

// NewRedisCache creates a new instance of RedisCache with the provided rueidis client.
func NewRedisCache(client rueidis.Client) *RedisCache {
	return &RedisCache{
		client: client,
	}
}

// RedisOptions contains configuration for Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCacheFromOptions creates a new RedisCache with simplified options.
func NewRedisCacheFromOptions(opts RedisOptions) (*RedisCache, error) {
	clientOpts := rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	}
	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisCache(client), nil
}

// NewRedisCacheFromClientOption creates a new RedisCache with full rueidis client options.
func NewRedisCacheFromClientOption(opts rueidis.ClientOption) (*RedisCache, error) {
	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisCache(client), nil
}

// Close closes the Redis client connection.
func (r *RedisCache) Close() {
	r.client.Close()
}

// Get returns the value stored under key.
// It returns core.ErrKeyNotFound if the key does not exist or has expired.
func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	cmd := r.client.B().Get().Key(key).Build()
	result, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", core.ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get key from redis: %w", err)
	}
	return result, nil
}

// Set writes key=value. A ttl <= 0 stores the key without an expiry.
func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	var cmd rueidis.Completed
	if ttl > 0 {
		cmd = r.client.B().Set().Key(key).Value(value).ExSeconds(int64(ttl.Seconds())).Build()
	} else {
		cmd = r.client.B().Set().Key(key).Value(value).Build()
	}
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set key in redis: %w", err)
	}
	return nil
}

// Delete removes key from Redis.
// It returns core.ErrKeyNotFound if the key does not exist.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	cmd := r.client.B().Del().Key(key).Build()
	result, err := r.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to delete key from redis: %w", err)
	}
	if result == 0 {
		return core.ErrKeyNotFound
	}
	return nil
}

// Exists reports whether key is present in Redis.
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	cmd := r.client.B().Exists().Key(key).Build()
	result, err := r.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to check key existence in redis: %w", err)
	}
	return result > 0, nil
}

// TTL returns the remaining lifetime of key in seconds. The Redis sentinels
// pass through untranslated: core.TTLMissing (-2) for absent keys,
// core.TTLPersistent (-1) for keys without expiry.
func (r *RedisCache) TTL(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}

	cmd := r.client.B().Ttl().Key(key).Build()
	result, err := r.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to query key ttl from redis: %w", err)
	}
	return result, nil
}
