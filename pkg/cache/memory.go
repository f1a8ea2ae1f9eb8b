package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/innogeotech/forest-gateway/pkg/core"
)

// ErrEmptyKey is returned when the cache key string is empty.
var ErrEmptyKey = errors.New("cache key cannot be empty")

type entry struct {
	value string
	// expiresAt is zero for persistent entries.
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryCache implements the core.Cache interface using an in-memory map.
// It provides thread-safe storage with per-key expiry, used in development
// and tests in place of Redis.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemoryCache creates a new instance of MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
	}
}

// Get returns the value stored under key.
// It returns core.ErrKeyNotFound if the key does not exist or has expired.
func (m *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	m.mu.RLock()
	e, exists := m.entries[key]
	m.mu.RUnlock()

	if !exists || e.expired(time.Now()) {
		return "", core.ErrKeyNotFound
	}
	return e.value, nil
}

// Set writes key=value. A ttl <= 0 stores the key without an expiry.
func (m *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = e
	return nil
}

// Delete removes key from the cache.
// It returns core.ErrKeyNotFound if the key does not exist.
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[key]
	if !exists || e.expired(time.Now()) {
		delete(m.entries, key)
		return core.ErrKeyNotFound
	}

	delete(m.entries, key)
	return nil
}

// Exists reports whether key is present and not expired.
func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	m.mu.RLock()
	e, exists := m.entries[key]
	m.mu.RUnlock()

	return exists && !e.expired(time.Now()), nil
}

// TTL returns the remaining lifetime of key in seconds, core.TTLPersistent
// for keys without expiry, or core.TTLMissing for absent/expired keys.
func (m *MemoryCache) TTL(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}

	m.mu.RLock()
	e, exists := m.entries[key]
	m.mu.RUnlock()

	now := time.Now()
	switch {
	case !exists || e.expired(now):
		return core.TTLMissing, nil
	case e.expiresAt.IsZero():
		return core.TTLPersistent, nil
	default:
		// Round up so a freshly written ttl reads back whole.
		remaining := e.expiresAt.Sub(now)
		secs := int64(remaining / time.Second)
		if remaining%time.Second != 0 {
			secs++
		}
		return secs, nil
	}
}
