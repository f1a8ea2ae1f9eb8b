// Package cache provides the key-value backends behind the SSO token
// lifecycle: Redis for deployments, an in-memory map for development and
// tests, and a factory to pick between them from configuration.
package cache

import (
	"fmt"
	"strings"

	"github.com/innogeotech/forest-gateway/pkg/core"
)

// Type represents the type of cache backend.
type Type string

const (
	// TypeMemory represents in-memory storage.
	TypeMemory Type = "memory"
	// TypeRedis represents Redis storage.
	TypeRedis Type = "redis"
)

// Config contains configuration for creating a cache.
type Config struct {
	// Type specifies the cache type (memory or redis).
	Type Type
	// Redis contains Redis-specific configuration.
	Redis RedisOptions
}

// Factory creates cache instances based on configuration.
type Factory struct {
	config Config
}

// NewFactory creates a new cache factory with the provided configuration.
func NewFactory(config Config) *Factory {
	return &Factory{
		config: config,
	}
}

// Create creates and returns a new cache instance based on the factory configuration.
// Returns an error if the cache type is invalid or if cache creation fails.
func (f *Factory) Create() (core.Cache, error) {
	switch f.config.Type {
	case TypeMemory:
		return NewMemoryCache(), nil
	case TypeRedis:
		return NewRedisCacheFromOptions(f.config.Redis)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", f.config.Type)
	}
}

// New is a convenience function that creates a cache directly from configuration.
// It's equivalent to NewFactory(config).Create().
func New(config Config) (core.Cache, error) {
	factory := NewFactory(config)
	return factory.Create()
}

// ParseType parses a string into a Type.
// Returns TypeMemory for invalid inputs.
func ParseType(s string) Type {
	switch strings.ToLower(s) {
	case "memory":
		return TypeMemory
	case "redis":
		return TypeRedis
	default:
		return TypeMemory
	}
}

// String returns the string representation of a Type.
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the Type is valid.
func (t Type) IsValid() bool {
	switch t {
	case TypeMemory, TypeRedis:
		return true
	default:
		return false
	}
}

// MemoryConfig creates a memory cache configuration.
func MemoryConfig() Config {
	return Config{
		Type: TypeMemory,
	}
}

// RedisConfig creates a Redis cache configuration with the provided options.
func RedisConfig(redisOpts RedisOptions) Config {
	return Config{
		Type:  TypeRedis,
		Redis: redisOpts,
	}
}
