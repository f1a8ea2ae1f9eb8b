package core

import (
	"context"
	"errors"
	"time"
)

// TTL sentinel values, matching the Redis TTL command contract. They are
// distinct signals and must never be conflated: a missing key is an error
// to callers that expected the key, a persistent key simply never expires.
const (
	// TTLMissing is reported for keys that do not exist.
	TTLMissing int64 = -2
	// TTLPersistent is reported for keys that exist without an expiry.
	TTLPersistent int64 = -1
)

// ErrKeyNotFound is returned when a cache key does not exist or has expired.
var ErrKeyNotFound = errors.New("cache key not found")

// Cache is the key-value contract the gateway needs from its backing store.
// Implementations must apply each single-key operation atomically; the
// gateway never requires multi-key transactions.
type Cache interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes key=value. A ttl <= 0 stores the key without an expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key returns ErrKeyNotFound.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// TTL returns the remaining lifetime of key in seconds, TTLPersistent
	// for keys without expiry, or TTLMissing for absent keys.
	TTL(ctx context.Context, key string) (int64, error)
}
